package ceremony

import (
	"context"
	"database/sql"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	// Import postgres driver for database/sql package
	_ "github.com/lib/pq"
)

// ErrNotRunning is returned when a terminal-state guard rejects an update:
// only RUNNING contributions may be completed or invalidated.
var ErrNotRunning = errors.New("contribution is not in RUNNING status")

// PostgresStore implements Store and EventLog on PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// SaveCeremony inserts or replaces a ceremony record.
func (s *PostgresStore) SaveCeremony(ctx context.Context, c *Ceremony) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ceremonies (id, title, state, start_time, completed_at, completed, hash, current_index, last_queue_index)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 0)
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			state = EXCLUDED.state,
			start_time = EXCLUDED.start_time,
			completed_at = EXCLUDED.completed_at,
			completed = EXCLUDED.completed,
			hash = EXCLUDED.hash,
			current_index = EXCLUDED.current_index`,
		c.ID, c.Title, string(c.State), c.StartTime, c.CompletedAt, c.Completed, c.Hash, c.CurrentIndex)
	if err != nil {
		return errors.Wrap(err, "failed to save ceremony")
	}
	return nil
}

// GetCeremony loads one ceremony. A record with an unknown state fails fast
// as a parse error; only the completion timestamp is legitimately optional.
func (s *PostgresStore) GetCeremony(ctx context.Context, id string) (*Ceremony, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, title, state, start_time, completed_at, completed, hash, current_index, last_queue_index
		FROM ceremonies WHERE id = $1`, id)

	c, err := scanCeremony(row)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get ceremony %s", id)
	}
	return c, nil
}

// ListCeremonies lists ceremonies matching the filter, ordered by start time.
func (s *PostgresStore) ListCeremonies(ctx context.Context, filter *Filter) ([]*Ceremony, error) {
	query := `
		SELECT id, title, state, start_time, completed_at, completed, hash, current_index, last_queue_index
		FROM ceremonies WHERE 1=1`
	args := []interface{}{}

	if filter != nil {
		if filter.State != "" {
			args = append(args, string(filter.State))
			query += ` AND state = $` + strconv.Itoa(len(args))
		}
		if filter.StartBefore != nil {
			args = append(args, time.Unix(*filter.StartBefore, 0))
			query += ` AND start_time <= $` + strconv.Itoa(len(args))
		}
	}
	query += ` ORDER BY start_time ASC`
	if filter != nil && filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += ` LIMIT $` + strconv.Itoa(len(args))
		if filter.Offset > 0 {
			args = append(args, filter.Offset)
			query += ` OFFSET $` + strconv.Itoa(len(args))
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list ceremonies")
	}
	defer rows.Close()

	var out []*Ceremony
	for rows.Next() {
		c, err := scanCeremony(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan ceremony")
		}
		out = append(out, c)
	}
	return out, errors.Wrap(rows.Err(), "failed to iterate ceremonies")
}

func (s *PostgresStore) SetCeremonyState(ctx context.Context, id string, state State) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE ceremonies SET state = $2 WHERE id = $1`, id, string(state))
	return errors.Wrapf(err, "failed to set ceremony %s state", id)
}

func (s *PostgresStore) MarkCeremonyComplete(ctx context.Context, id string, hash string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE ceremonies
		SET state = $2, completed = TRUE, completed_at = NOW(), hash = $3
		WHERE id = $1`, id, string(StateComplete), hash)
	return errors.Wrapf(err, "failed to mark ceremony %s complete", id)
}

// SaveParticipant inserts or updates a participant record. Participants are
// never deleted.
func (s *PostgresStore) SaveParticipant(ctx context.Context, p *Participant) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO participants (uid, auth_id, state, online, compute_progress, added_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (uid) DO UPDATE SET
			auth_id = EXCLUDED.auth_id,
			state = EXCLUDED.state,
			online = EXCLUDED.online,
			compute_progress = EXCLUDED.compute_progress`,
		p.UID, p.AuthID, string(p.State), p.Online, p.ComputeProgress, p.AddedAt)
	return errors.Wrap(err, "failed to save participant")
}

func (s *PostgresStore) GetParticipant(ctx context.Context, uid string) (*Participant, error) {
	var p Participant
	var state string
	err := s.db.QueryRowContext(ctx, `
		SELECT uid, auth_id, state, online, compute_progress, added_at
		FROM participants WHERE uid = $1`, uid).
		Scan(&p.UID, &p.AuthID, &state, &p.Online, &p.ComputeProgress, &p.AddedAt)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get participant %s", uid)
	}
	p.State = ParticipantState(state)
	return &p, nil
}

func (s *PostgresStore) CountContributions(ctx context.Context, participantID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM contributions
		WHERE participant_id = $1 AND status = $2`,
		participantID, string(ContributionComplete)).Scan(&count)
	return count, errors.Wrap(err, "failed to count contributions")
}

// JoinQueue assigns the participant the next turn number for the ceremony.
// Joining is idempotent: a participant who already holds an assignment gets
// the same queueIndex back, never a second slot. The assigned queueIndex is
// unique per ceremony; priorIndex is the last COMPLETE turn at join time,
// or 0 when no turn has completed yet.
func (s *PostgresStore) JoinQueue(ctx context.Context, ceremonyID, participantID string) (*Contribution, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to begin join transaction")
	}
	defer tx.Rollback()

	var queueIndex int
	err = tx.QueryRowContext(ctx, `
		SELECT queue_index FROM queue_assignments
		WHERE ceremony_id = $1 AND participant_id = $2`,
		ceremonyID, participantID).Scan(&queueIndex)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		err = tx.QueryRowContext(ctx, `
			UPDATE ceremonies SET last_queue_index = last_queue_index + 1
			WHERE id = $1
			RETURNING last_queue_index`, ceremonyID).Scan(&queueIndex)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to assign queue index for ceremony %s", ceremonyID)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO queue_assignments (ceremony_id, participant_id, queue_index, assigned_at)
			VALUES ($1, $2, $3, NOW())`,
			ceremonyID, participantID, queueIndex); err != nil {
			return nil, errors.Wrap(err, "failed to record queue assignment")
		}
	case err != nil:
		return nil, errors.Wrap(err, "failed to look up queue assignment")
	}

	var priorIndex int
	err = tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(queue_index), 0) FROM contributions
		WHERE ceremony_id = $1 AND status = $2`,
		ceremonyID, string(ContributionComplete)).Scan(&priorIndex)
	if err != nil {
		return nil, errors.Wrap(err, "failed to resolve prior index")
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "failed to commit join transaction")
	}

	return &Contribution{
		ParticipantID: participantID,
		CeremonyID:    ceremonyID,
		QueueIndex:    queueIndex,
		PriorIndex:    priorIndex,
	}, nil
}

// StartContribution writes the RUNNING record for a turn.
func (s *PostgresStore) StartContribution(ctx context.Context, c *Contribution) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO contributions (ceremony_id, participant_id, queue_index, prior_index, status, start_time, last_seen)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		ON CONFLICT (ceremony_id, participant_id) DO UPDATE SET
			status = EXCLUDED.status,
			last_seen = EXCLUDED.last_seen`,
		c.CeremonyID, c.ParticipantID, c.QueueIndex, c.PriorIndex,
		string(ContributionRunning), c.StartTime)
	return errors.Wrap(err, "failed to start contribution")
}

func (s *PostgresStore) GetContribution(ctx context.Context, ceremonyID, participantID string) (*Contribution, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT ceremony_id, participant_id, queue_index, prior_index, status, start_time, last_seen, hash, params_file, duration
		FROM contributions WHERE ceremony_id = $1 AND participant_id = $2`,
		ceremonyID, participantID)

	c, err := scanContribution(row)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get contribution")
	}
	return c, nil
}

// LastValidIndex returns the queue index of the newest COMPLETE contribution
// for a ceremony, or 0 when none has completed.
func (s *PostgresStore) LastValidIndex(ctx context.Context, ceremonyID string) (int, error) {
	var index int
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(queue_index), 0) FROM contributions
		WHERE ceremony_id = $1 AND status = $2`,
		ceremonyID, string(ContributionComplete)).Scan(&index)
	return index, errors.Wrap(err, "failed to resolve last valid index")
}

// ListRunningContributions returns all RUNNING contributions across all
// ceremonies. This is the watchdog's sweep query.
func (s *PostgresStore) ListRunningContributions(ctx context.Context) ([]*Contribution, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ceremony_id, participant_id, queue_index, prior_index, status, start_time, last_seen, hash, params_file, duration
		FROM contributions WHERE status = $1`,
		string(ContributionRunning))
	if err != nil {
		return nil, errors.Wrap(err, "failed to list running contributions")
	}
	defer rows.Close()

	var out []*Contribution
	for rows.Next() {
		c, err := scanContribution(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan contribution")
		}
		out = append(out, c)
	}
	return out, errors.Wrap(rows.Err(), "failed to iterate contributions")
}

// CompleteContribution transitions RUNNING -> COMPLETE and advances the
// ceremony's currentIndex in the same transaction.
func (s *PostgresStore) CompleteContribution(ctx context.Context, c *Contribution) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, errors.Wrap(err, "failed to begin complete transaction")
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE contributions
		SET status = $3, hash = $4, params_file = $5, duration = $6, last_seen = NOW()
		WHERE ceremony_id = $1 AND participant_id = $2 AND status = $7`,
		c.CeremonyID, c.ParticipantID, string(ContributionComplete),
		c.Hash, c.ParamsFile, c.Duration, string(ContributionRunning))
	if err != nil {
		return 0, errors.Wrap(err, "failed to complete contribution")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return 0, ErrNotRunning
	}

	// Record the latest accepted hash on the ceremony.
	if _, err := tx.ExecContext(ctx,
		`UPDATE ceremonies SET hash = $2 WHERE id = $1`, c.CeremonyID, c.Hash); err != nil {
		return 0, errors.Wrap(err, "failed to record ceremony hash")
	}

	newIndex, err := advanceCurrentIndex(ctx, tx, c.CeremonyID)
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, errors.Wrap(err, "failed to commit complete transaction")
	}
	return newIndex, nil
}

// InvalidateContribution transitions RUNNING -> INVALIDATED and advances the
// ceremony's currentIndex. The watchdog is restricted to this transition.
func (s *PostgresStore) InvalidateContribution(ctx context.Context, ceremonyID, participantID string) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, errors.Wrap(err, "failed to begin invalidate transaction")
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE contributions
		SET status = $3, last_seen = NOW()
		WHERE ceremony_id = $1 AND participant_id = $2 AND status = $4`,
		ceremonyID, participantID,
		string(ContributionInvalidated), string(ContributionRunning))
	if err != nil {
		return 0, errors.Wrap(err, "failed to invalidate contribution")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return 0, ErrNotRunning
	}

	newIndex, err := advanceCurrentIndex(ctx, tx, ceremonyID)
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, errors.Wrap(err, "failed to commit invalidate transaction")
	}
	return newIndex, nil
}

// Append writes one audit event. Events are append-only.
func (s *PostgresStore) Append(ctx context.Context, e *Event) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ceremony_events (id, ceremony_id, sender, "index", event_type, message, timestamp, acknowledged)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.ID, e.CeremonyID, e.Sender, e.Index, e.EventType, e.Message, e.Timestamp, e.Acknowledged)
	return errors.Wrap(err, "failed to append event")
}

// Latest returns the newest event for a ceremony, or nil when none exist.
func (s *PostgresStore) Latest(ctx context.Context, ceremonyID string) (*Event, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, ceremony_id, sender, "index", event_type, message, timestamp, acknowledged
		FROM ceremony_events WHERE ceremony_id = $1
		ORDER BY timestamp DESC LIMIT 1`, ceremonyID)

	e, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get latest event")
	}
	return e, nil
}

func (s *PostgresStore) List(ctx context.Context, ceremonyID string, limit int) ([]*Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, ceremony_id, sender, "index", event_type, message, timestamp, acknowledged
		FROM ceremony_events WHERE ceremony_id = $1
		ORDER BY timestamp DESC LIMIT $2`, ceremonyID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list events")
	}
	defer rows.Close()

	var out []*Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan event")
		}
		out = append(out, e)
	}
	return out, errors.Wrap(rows.Err(), "failed to iterate events")
}

func (s *PostgresStore) Acknowledge(ctx context.Context, eventID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE ceremony_events SET acknowledged = TRUE WHERE id = $1`, eventID)
	if err != nil {
		return errors.Wrapf(err, "failed to acknowledge event %s", eventID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to read affected rows")
	}
	if n == 0 {
		return errors.Wrapf(sql.ErrNoRows, "event %s not found", eventID)
	}
	return nil
}

func advanceCurrentIndex(ctx context.Context, tx *sql.Tx, ceremonyID string) (int, error) {
	var newIndex int
	err := tx.QueryRowContext(ctx, `
		UPDATE ceremonies SET current_index = current_index + 1
		WHERE id = $1
		RETURNING current_index`, ceremonyID).Scan(&newIndex)
	return newIndex, errors.Wrapf(err, "failed to advance current index for ceremony %s", ceremonyID)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCeremony(row rowScanner) (*Ceremony, error) {
	var c Ceremony
	var state string
	var completedAt sql.NullTime
	if err := row.Scan(&c.ID, &c.Title, &state, &c.StartTime, &completedAt,
		&c.Completed, &c.Hash, &c.CurrentIndex, &c.LastQueueIndex); err != nil {
		return nil, err
	}

	switch State(state) {
	case StatePreselection, StateRunning, StateComplete:
		c.State = State(state)
	default:
		return nil, errors.Errorf("malformed ceremony record: unknown state %q", state)
	}

	if completedAt.Valid {
		c.CompletedAt = &completedAt.Time
	}
	return &c, nil
}

func scanContribution(row rowScanner) (*Contribution, error) {
	var c Contribution
	var status string
	var hash, paramsFile sql.NullString
	var duration sql.NullFloat64
	if err := row.Scan(&c.CeremonyID, &c.ParticipantID, &c.QueueIndex, &c.PriorIndex,
		&status, &c.StartTime, &c.LastSeen, &hash, &paramsFile, &duration); err != nil {
		return nil, err
	}

	switch ContributionStatus(status) {
	case ContributionRunning, ContributionComplete, ContributionInvalidated:
		c.Status = ContributionStatus(status)
	default:
		return nil, errors.Errorf("malformed contribution record: unknown status %q", status)
	}

	c.Hash = hash.String
	c.ParamsFile = paramsFile.String
	c.Duration = duration.Float64
	return &c, nil
}

func scanEvent(row rowScanner) (*Event, error) {
	var e Event
	var index sql.NullInt64
	if err := row.Scan(&e.ID, &e.CeremonyID, &e.Sender, &index, &e.EventType,
		&e.Message, &e.Timestamp, &e.Acknowledged); err != nil {
		return nil, err
	}
	if index.Valid {
		i := int(index.Int64)
		e.Index = &i
	}
	return &e, nil
}

