package types

import (
	"github.com/go-openapi/strfmt"
	"github.com/pkg/errors"
)

// PostParticipantPayload upserts the caller's participant record.
type PostParticipantPayload struct {
	Online *bool `json:"online"`
}

func (p *PostParticipantPayload) Validate(formats strfmt.Registry) error {
	if p.Online == nil {
		return errors.New("online is required")
	}
	return nil
}

// PostEventPayload appends a participant-sent audit event to a ceremony.
type PostEventPayload struct {
	EventType *string `json:"eventType"`
	Message   string  `json:"message"`
	Index     *int64  `json:"index,omitempty"`
}

func (p *PostEventPayload) Validate(formats strfmt.Registry) error {
	if p.EventType == nil || *p.EventType == "" {
		return errors.New("eventType is required")
	}
	return nil
}
