package ceremony

import "time"

// State is the lifecycle state of a ceremony.
type State string

const (
	StatePreselection State = "PRESELECTION"
	StateRunning      State = "RUNNING"
	StateComplete     State = "COMPLETE"
)

// Ceremony is one circuit's setup round. Created during series setup,
// promoted PRESELECTION -> RUNNING by the scheduler, marked complete when
// its final contribution uploads.
type Ceremony struct {
	ID           string
	Title        string
	State        State
	StartTime    time.Time
	CompletedAt  *time.Time
	Completed    bool
	Hash         string
	CurrentIndex int

	// LastQueueIndex is the highest turn number handed out so far; the
	// queue is drained once currentIndex moves past it.
	LastQueueIndex int
}

// ParticipantState tracks where a contributor identity is in the series.
type ParticipantState string

const (
	ParticipantWaiting ParticipantState = "WAITING"
	ParticipantActive  ParticipantState = "ACTIVE"
	ParticipantDone    ParticipantState = "DONE"
)

// Participant is a contributor identity. Created on first login, never
// deleted.
type Participant struct {
	UID             string
	AuthID          string
	State           ParticipantState
	Online          bool
	ComputeProgress float64
	AddedAt         time.Time
}

// ContributionStatus is the server-visible status of one turn.
type ContributionStatus string

const (
	ContributionRunning     ContributionStatus = "RUNNING"
	ContributionComplete    ContributionStatus = "COMPLETE"
	ContributionInvalidated ContributionStatus = "INVALIDATED"
)

// Terminal reports whether a status admits no further transition.
func (s ContributionStatus) Terminal() bool {
	return s == ContributionComplete || s == ContributionInvalidated
}

// Contribution is one participant's turn on one ceremony. QueueIndex values
// are unique per ceremony and define total turn order; at most one
// contribution per ceremony holds RUNNING at any instant.
type Contribution struct {
	ParticipantID string
	CeremonyID    string
	QueueIndex    int
	PriorIndex    int
	Status        ContributionStatus
	StartTime     time.Time
	LastSeen      time.Time
	Hash          string
	ParamsFile    string
	Duration      float64
}

// Event senders.
const (
	SenderParticipant = "PARTICIPANT"
	SenderWatchdog    = "WATCHDOG"
)

// Event types appended during a turn and by the background services.
const (
	EventStartContribution   = "START_CONTRIBUTION"
	EventParamsDownloaded    = "PARAMS_DOWNLOADED"
	EventComputeContribution = "COMPUTE_CONTRIBUTION"
	EventParamsUploaded      = "PARAMS_UPLOADED"
	EventAborted             = "ABORTED"
	EventInvalidated         = "INVALIDATED"
	EventSetRunning          = "SET_RUNNING"
)

// Event is an immutable audit record for a ceremony. Events are append-only
// and totally ordered by timestamp per ceremony; the watchdog consumes the
// newest one as its liveness signal.
type Event struct {
	ID           string
	CeremonyID   string
	Sender       string
	Index        *int
	EventType    string
	Message      string
	Timestamp    time.Time
	Acknowledged bool
}

// NewEvent builds a participant-sent event for a ceremony, in the shape the
// audit log expects. Index may be nil for events not tied to a turn.
func NewEvent(ceremonyID, eventType, message string, index *int, now time.Time) *Event {
	return &Event{
		CeremonyID:   ceremonyID,
		Sender:       SenderParticipant,
		Index:        index,
		EventType:    eventType,
		Message:      message,
		Timestamp:    now,
		Acknowledged: false,
	}
}

// NewParticipant builds the default record written on first login.
func NewParticipant(uid, authID string, now time.Time) *Participant {
	return &Participant{
		UID:             uid,
		AuthID:          authID,
		State:           ParticipantWaiting,
		Online:          true,
		ComputeProgress: 0,
		AddedAt:         now,
	}
}
