// Package watchdog evicts stalled contributors so the queue cannot
// deadlock. Liveness is inferred from ceremony-wide event recency, not
// per-contribution recency: any event on the ceremony, from any sender,
// resets the effective timer for every RUNNING contribution on that
// ceremony. This can under-evict when unrelated activity keeps a ceremony
// noisy and over-evict when events are sparse; the behavior is kept as a
// documented limitation.
package watchdog

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/dropbox/godropbox/time2"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/clrfund/setup-mpc-ui/internal/ceremony"
	"github.com/clrfund/setup-mpc-ui/internal/metrics"
	"github.com/clrfund/setup-mpc-ui/internal/queue"
)

// DefaultStaleAfter is the liveness threshold: a RUNNING contribution whose
// ceremony's newest event is older than this gets invalidated.
const DefaultStaleAfter = 300 * time.Second

// DefaultInterval is how often the sweep is scheduled.
const DefaultInterval = 10 * time.Minute

type Service struct {
	store      ceremony.Store
	events     ceremony.EventLog
	publisher  queue.Publisher
	clock      time2.Clock
	metrics    *metrics.Service
	staleAfter time.Duration
}

func NewService(
	store ceremony.Store,
	events ceremony.EventLog,
	publisher queue.Publisher,
	clock time2.Clock,
	m *metrics.Service,
	staleAfter time.Duration,
) *Service {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	return &Service{
		store:      store,
		events:     events,
		publisher:  publisher,
		clock:      clock,
		metrics:    m,
		staleAfter: staleAfter,
	}
}

// Sweep finds contributions stuck in RUNNING past the liveness threshold and
// invalidates them, unblocking the queue. Per-contribution failures are
// logged and do not stop the sweep.
func (s *Service) Sweep(ctx context.Context) error {
	running, err := s.store.ListRunningContributions(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to list running contributions")
	}

	now := s.clock.Now()
	for _, contribution := range running {
		if err := s.check(ctx, contribution, now); err != nil {
			log.Warn().Err(err).
				Str("ceremony_id", contribution.CeremonyID).
				Int("queue_index", contribution.QueueIndex).
				Msg("Watchdog check failed")
		}
	}
	return nil
}

func (s *Service) check(ctx context.Context, contribution *ceremony.Contribution, now time.Time) error {
	latest, err := s.events.Latest(ctx, contribution.CeremonyID)
	if err != nil {
		return errors.Wrap(err, "failed to load latest event")
	}

	// No events at all counts as maximally stale.
	var lastSeen time.Time
	if latest != nil {
		lastSeen = latest.Timestamp
	}
	age := now.Sub(lastSeen)

	if age <= s.staleAfter {
		return nil
	}

	newIndex, err := s.store.InvalidateContribution(ctx, contribution.CeremonyID, contribution.ParticipantID)
	if errors.Is(err, ceremony.ErrNotRunning) {
		// Lost the race with the contributor finishing; nothing to do.
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "failed to invalidate contribution")
	}

	index := contribution.QueueIndex
	event := &ceremony.Event{
		CeremonyID: contribution.CeremonyID,
		Sender:     ceremony.SenderWatchdog,
		Index:      &index,
		EventType:  ceremony.EventInvalidated,
		Message:    fmt.Sprintf("No activity detected for %s seconds", strconv.FormatFloat(age.Seconds(), 'f', -1, 64)),
		Timestamp:  now,
	}
	if err := s.events.Append(ctx, event); err != nil {
		return errors.Wrap(err, "failed to append invalidation event")
	}

	if err := s.publisher.PublishIndex(ctx, contribution.CeremonyID, newIndex); err != nil {
		log.Warn().Err(err).Str("ceremony_id", contribution.CeremonyID).Msg("Failed to publish queue advance")
	}
	if s.metrics != nil {
		s.metrics.WatchdogEvictions.Inc()
	}

	log.Info().
		Str("ceremony_id", contribution.CeremonyID).
		Int("queue_index", contribution.QueueIndex).
		Dur("age", age).
		Msg("Expired contribution invalidated")
	return nil
}
