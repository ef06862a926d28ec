package ceremony

import (
	"context"
)

// Filter narrows ceremony listings.
type Filter struct {
	State       State
	StartBefore *int64 // unix seconds; matches StartTime <= StartBefore
	Limit       int
	Offset      int
}

// Store is the persistent document store for ceremonies, participants and
// contributions. Contribution writes never require cross-participant
// locking: the queueIndex == currentIndex gate already serializes turns.
//
// CompleteContribution and InvalidateContribution are the only operations
// allowed to advance a ceremony's currentIndex, and both refuse to touch a
// contribution that has already reached a terminal status.
type Store interface {
	// Ceremony operations
	SaveCeremony(ctx context.Context, c *Ceremony) error
	GetCeremony(ctx context.Context, id string) (*Ceremony, error)
	ListCeremonies(ctx context.Context, filter *Filter) ([]*Ceremony, error)
	SetCeremonyState(ctx context.Context, id string, state State) error
	MarkCeremonyComplete(ctx context.Context, id string, hash string) error

	// Participant operations
	SaveParticipant(ctx context.Context, p *Participant) error
	GetParticipant(ctx context.Context, uid string) (*Participant, error)
	CountContributions(ctx context.Context, participantID string) (int, error)

	// Contribution operations
	JoinQueue(ctx context.Context, ceremonyID, participantID string) (*Contribution, error)
	StartContribution(ctx context.Context, c *Contribution) error
	GetContribution(ctx context.Context, ceremonyID, participantID string) (*Contribution, error)
	ListRunningContributions(ctx context.Context) ([]*Contribution, error)

	// LastValidIndex returns the queue index of the newest COMPLETE
	// contribution for a ceremony, or 0 when none has completed. This is
	// the chain head a starting turn must download from.
	LastValidIndex(ctx context.Context, ceremonyID string) (int, error)

	// CompleteContribution marks a RUNNING contribution COMPLETE, records
	// hash, params file and duration, and advances the ceremony's
	// currentIndex. Returns the new currentIndex.
	CompleteContribution(ctx context.Context, c *Contribution) (int, error)

	// InvalidateContribution marks a RUNNING contribution INVALIDATED and
	// advances the ceremony's currentIndex. Returns the new currentIndex.
	InvalidateContribution(ctx context.Context, ceremonyID, participantID string) (int, error)
}

// EventLog is the append-only, per-ceremony ordered audit log. Events are
// never mutated after creation except for the acknowledged flag.
type EventLog interface {
	Append(ctx context.Context, e *Event) error

	// Latest returns the single most recent event for a ceremony by
	// timestamp descending, or nil when the ceremony has no events.
	Latest(ctx context.Context, ceremonyID string) (*Event, error)

	List(ctx context.Context, ceremonyID string, limit int) ([]*Event, error)
	Acknowledge(ctx context.Context, eventID string) error
}
