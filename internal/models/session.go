package models

import (
	"time"

	"github.com/google/uuid"
)

// SessionStatus is the session lifecycle state. Transitions are linear:
// created -> waiting -> active -> ended. Ended is terminal.
type SessionStatus string

const (
	StatusCreated SessionStatus = "created"
	StatusWaiting SessionStatus = "waiting"
	StatusActive  SessionStatus = "active"
	StatusEnded   SessionStatus = "ended"
)

// Session represents one hosted live study session with its token set.
type Session struct {
	ID               uuid.UUID     `json:"id"`
	Title            string        `json:"title"`
	Status           SessionStatus `json:"status"`
	HostToken        string        `json:"host_token"`
	UserToken        string        `json:"user_token"`
	MaxParticipants  int           `json:"max_participants"`
	PeakParticipants int           `json:"peak_participants"`
	CreatedAt        time.Time     `json:"created_at"`
	ExpiresAt        time.Time     `json:"expires_at"`
	StartedAt        *time.Time    `json:"started_at,omitempty"`
	EndedAt          *time.Time    `json:"ended_at,omitempty"`
}

// Role distinguishes the two token types for a session.
const (
	RoleHost        = "host"
	RoleParticipant = "participant"
)
