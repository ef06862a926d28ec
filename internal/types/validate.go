package types

import (
	"github.com/go-openapi/strfmt"
	"github.com/pkg/errors"
)

func requireString(name string, v *string) error {
	if v == nil {
		return errors.Errorf("%s is required", name)
	}
	return nil
}

func requireInt64(name string, v *int64) error {
	if v == nil {
		return errors.Errorf("%s is required", name)
	}
	return nil
}

func (r *CeremonyResponse) Validate(formats strfmt.Registry) error {
	if err := requireString("id", r.ID); err != nil {
		return err
	}
	if err := requireString("title", r.Title); err != nil {
		return err
	}
	if err := requireString("state", r.State); err != nil {
		return err
	}
	return requireInt64("currentIndex", r.CurrentIndex)
}

func (r *CeremonyListResponse) Validate(formats strfmt.Registry) error {
	for _, c := range r.Ceremonies {
		if err := c.Validate(formats); err != nil {
			return err
		}
	}
	return nil
}

func (r *JoinCeremonyResponse) Validate(formats strfmt.Registry) error {
	if err := requireString("ceremonyId", r.CeremonyID); err != nil {
		return err
	}
	if err := requireInt64("queueIndex", r.QueueIndex); err != nil {
		return err
	}
	if err := requireInt64("priorIndex", r.PriorIndex); err != nil {
		return err
	}
	return requireInt64("currentIndex", r.CurrentIndex)
}

func (r *QueueStatusResponse) Validate(formats strfmt.Registry) error {
	if err := requireString("ceremonyId", r.CeremonyID); err != nil {
		return err
	}
	if err := requireInt64("queueIndex", r.QueueIndex); err != nil {
		return err
	}
	if err := requireInt64("currentIndex", r.CurrentIndex); err != nil {
		return err
	}
	return requireInt64("position", r.Position)
}

func (r *EventResponse) Validate(formats strfmt.Registry) error {
	if err := requireString("id", r.ID); err != nil {
		return err
	}
	if err := requireString("sender", r.Sender); err != nil {
		return err
	}
	return requireString("eventType", r.EventType)
}

func (r *EventListResponse) Validate(formats strfmt.Registry) error {
	for _, e := range r.Events {
		if err := e.Validate(formats); err != nil {
			return err
		}
	}
	return nil
}

func (r *PostParticipantResponse) Validate(formats strfmt.Registry) error {
	if err := requireString("uid", r.UID); err != nil {
		return err
	}
	if err := requireString("authId", r.AuthID); err != nil {
		return err
	}
	return requireString("state", r.State)
}
