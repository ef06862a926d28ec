package types

import (
	"github.com/go-openapi/strfmt"
)

// PublicHTTPErrorTypeGeneric is the catch-all public error type.
const PublicHTTPErrorTypeGeneric = "generic"

// CeremonyResponse is the public view of one circuit's setup round.
type CeremonyResponse struct {
	ID           *string         `json:"id"`
	Title        *string         `json:"title"`
	State        *string         `json:"state"`
	StartTime    strfmt.DateTime `json:"startTime"`
	CompletedAt  *strfmt.DateTime `json:"completedAt,omitempty"`
	Completed    bool            `json:"completed"`
	Hash         string          `json:"hash,omitempty"`
	CurrentIndex *int64          `json:"currentIndex"`
}

// CeremonyListResponse wraps a ceremony listing.
type CeremonyListResponse struct {
	Ceremonies []*CeremonyResponse `json:"ceremonies"`
}

// JoinCeremonyResponse is the turn assignment returned to a participant.
type JoinCeremonyResponse struct {
	CeremonyID   *string `json:"ceremonyId"`
	QueueIndex   *int64  `json:"queueIndex"`
	PriorIndex   *int64  `json:"priorIndex"`
	CurrentIndex *int64  `json:"currentIndex"`
}

// QueueStatusResponse reports a participant's place in the queue.
type QueueStatusResponse struct {
	CeremonyID   *string `json:"ceremonyId"`
	QueueIndex   *int64  `json:"queueIndex"`
	CurrentIndex *int64  `json:"currentIndex"`
	Position     *int64  `json:"position"`
	Status       string  `json:"status,omitempty"`
}

// EventResponse is one audit log entry.
type EventResponse struct {
	ID           *string         `json:"id"`
	Sender       *string         `json:"sender"`
	Index        *int64          `json:"index,omitempty"`
	EventType    *string         `json:"eventType"`
	Message      string          `json:"message"`
	Timestamp    strfmt.DateTime `json:"timestamp"`
	Acknowledged bool            `json:"acknowledged"`
}

// EventListResponse wraps an event listing.
type EventListResponse struct {
	Events []*EventResponse `json:"events"`
}

// PostParticipantResponse echoes the stored participant record.
type PostParticipantResponse struct {
	UID    *string `json:"uid"`
	AuthID *string `json:"authId"`
	State  *string `json:"state"`
	Online bool    `json:"online"`
}
