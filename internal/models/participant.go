package models

import (
	"time"

	"github.com/google/uuid"
)

// Participant is a session-scoped identity. The ID is assigned at first
// registration and reused across reconnects via the registration hint; it is
// never regenerated for the same person within a session run.
type Participant struct {
	ID        uuid.UUID `json:"id"`
	SessionID uuid.UUID `json:"session_id"`
	Name      string    `json:"name"`
	Locale    string    `json:"locale"`
	CreatedAt time.Time `json:"created_at"`
}
