package auth

import (
	"time"
)

// Result is a validated participant identity.
type Result struct {
	ParticipantID string
	AuthID        string
	Provider      string
	ValidUntil    time.Time
}
