package model

import (
	"time"
)

// Session is one paired (or pairing) device. PIN is only populated while the
// session is pending verification.
type Session struct {
	ID           string        `json:"session_id"`
	DeviceName   string        `json:"device_name"`
	Fingerprint  string        `json:"-"`
	Status       SessionStatus `json:"status"`
	PIN          string        `json:"pin,omitempty"`
	PINExpiresAt time.Time     `json:"pin_expires_at"`
	CreatedAt    time.Time     `json:"created_at"`
	LastSeenAt   time.Time     `json:"last_seen_at"`
}

func (s *Session) IsPending() bool {
	return s.Status == SessionStatusPendingVerification
}

func (s *Session) IsAuthenticated() bool {
	return s.Status == SessionStatusAuthenticated
}

// WithoutPIN returns a copy safe to hand to a non-host caller.
func (s Session) WithoutPIN() Session {
	s.PIN = ""
	return s
}

type CreateSessionParams struct {
	DeviceName  string
	Fingerprint string
}

type BlockedDevice struct {
	Fingerprint string    `db:"fingerprint" json:"fingerprint"`
	DeviceName  string    `db:"device_name" json:"device_name"`
	BlockedAt   time.Time `db:"blocked_at" json:"blocked_at"`
}
