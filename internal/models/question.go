package models

import (
	"time"

	"github.com/google/uuid"
)

// QuestionStatus is the question lifecycle state. Pending is the only
// non-terminal status.
type QuestionStatus string

const (
	QuestionPending   QuestionStatus = "pending"
	QuestionAnswered  QuestionStatus = "answered"
	QuestionDismissed QuestionStatus = "dismissed"
)

// Question is an audience question in a session. VoteCount is derived from
// the current vote rows, never incremented independently of them.
type Question struct {
	ID        uuid.UUID      `json:"id"`
	SessionID uuid.UUID      `json:"session_id"`
	AuthorID  uuid.UUID      `json:"author_id"`
	Text      string         `json:"text"`
	VoteCount int            `json:"vote_count"`
	Status    QuestionStatus `json:"status"`
	CreatedAt time.Time      `json:"created_at"`
}

// Vote is a participant's current vote on a question, unique per
// (question, voter). A later vote by the same voter replaces this row.
type Vote struct {
	QuestionID uuid.UUID `json:"question_id"`
	VoterID    uuid.UUID `json:"voter_id"`
	Value      int       `json:"value"` // +1 or -1
}
