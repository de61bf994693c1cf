// Package qa holds the question queue and vote tallies for a session. The
// vote count is always recomputed from the current vote rows, so retried or
// replaced votes can never inflate the aggregate.
package qa

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noor-live/backend/internal/dispatch"
	"github.com/noor-live/backend/internal/models"
	"github.com/noor-live/backend/pkg/errs"
	"github.com/noor-live/backend/pkg/keyedmutex"
)

// ErrQuestionNotFound is returned for unknown question ids.
var ErrQuestionNotFound = errors.New("question not found")

// Store persists questions and votes.
type Store interface {
	CreateQuestion(ctx context.Context, q *models.Question) error
	// GetQuestion returns (nil, nil) when absent.
	GetQuestion(ctx context.Context, id uuid.UUID) (*models.Question, error)
	ListBySession(ctx context.Context, sessionID uuid.UUID) ([]models.Question, error)
	// UpsertVote replaces any prior vote by the same voter on the question.
	UpsertVote(ctx context.Context, v models.Vote) error
	SumVotes(ctx context.Context, questionID uuid.UUID) (int, error)
	SetVoteCount(ctx context.Context, questionID uuid.UUID, count int) error
	// SetStatusFromPending applies the status only if the question is still
	// pending, reporting whether the swap happened.
	SetStatusFromPending(ctx context.Context, questionID uuid.UUID, to models.QuestionStatus) (bool, error)
}

// SessionChecker gates submissions on session liveness. Implemented by the
// sessions service.
type SessionChecker interface {
	IsActive(ctx context.Context, sessionID uuid.UUID) (bool, error)
}

// Publisher is the dispatcher slice the aggregator needs.
type Publisher interface {
	Publish(sessionID uuid.UUID, event string, payload interface{})
}

// Aggregator is the Q&A service.
type Aggregator struct {
	store    Store
	sessions SessionChecker
	pub      Publisher
	locks    *keyedmutex.Map
	logger   *zap.Logger
}

// NewAggregator creates a Q&A aggregator.
func NewAggregator(store Store, sessions SessionChecker, pub Publisher, logger *zap.Logger) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{
		store:    store,
		sessions: sessions,
		pub:      pub,
		locks:    keyedmutex.New(),
		logger:   logger,
	}
}

// Submit creates a pending question with zero votes.
func (a *Aggregator) Submit(ctx context.Context, sessionID, authorID uuid.UUID, text string) (*models.Question, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errs.ErrEmptyQuestion
	}
	active, err := a.sessions.IsActive(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("check session: %w", err)
	}
	if !active {
		return nil, errs.ErrSessionNotActive
	}

	q := &models.Question{
		ID:        uuid.New(),
		SessionID: sessionID,
		AuthorID:  authorID,
		Text:      text,
		Status:    models.QuestionPending,
	}
	if err := a.store.CreateQuestion(ctx, q); err != nil {
		return nil, fmt.Errorf("create question: %w", err)
	}
	if a.pub != nil {
		a.pub.Publish(sessionID, dispatch.EventQuestionReceived, map[string]interface{}{
			"question": q,
		})
	}
	return q, nil
}

// Vote upserts the voter's current vote on a question and recomputes the
// tally from the vote rows. A second vote by the same voter replaces the
// first rather than adding to it.
func (a *Aggregator) Vote(ctx context.Context, questionID, voterID uuid.UUID, value int) (int, error) {
	if value != 1 && value != -1 {
		return 0, fmt.Errorf("vote value %d: %w", value, errs.ErrMalformedPayload)
	}
	q, err := a.getQuestion(ctx, questionID)
	if err != nil {
		return 0, err
	}

	unlock := a.locks.Lock(q.SessionID.String())
	defer unlock()

	if err := a.store.UpsertVote(ctx, models.Vote{QuestionID: questionID, VoterID: voterID, Value: value}); err != nil {
		return 0, fmt.Errorf("upsert vote: %w", err)
	}
	count, err := a.store.SumVotes(ctx, questionID)
	if err != nil {
		return 0, fmt.Errorf("sum votes: %w", err)
	}
	if err := a.store.SetVoteCount(ctx, questionID, count); err != nil {
		return 0, fmt.Errorf("store vote count: %w", err)
	}
	if a.pub != nil {
		a.pub.Publish(q.SessionID, dispatch.EventQuestionVotes, map[string]interface{}{
			"question_id": questionID,
			"vote_count":  count,
		})
	}
	return count, nil
}

// SetStatus moves a pending question to answered or dismissed. Terminal
// statuses reject further transitions.
func (a *Aggregator) SetStatus(ctx context.Context, questionID uuid.UUID, to models.QuestionStatus) (*models.Question, error) {
	if to != models.QuestionAnswered && to != models.QuestionDismissed {
		return nil, fmt.Errorf("status %q: %w", to, errs.ErrMalformedPayload)
	}
	q, err := a.getQuestion(ctx, questionID)
	if err != nil {
		return nil, err
	}

	unlock := a.locks.Lock(q.SessionID.String())
	defer unlock()

	ok, err := a.store.SetStatusFromPending(ctx, questionID, to)
	if err != nil {
		return nil, fmt.Errorf("set status: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("question is not pending: %w", errs.ErrInvalidTransition)
	}
	q.Status = to
	a.logger.Info("question status changed",
		zap.String("question_id", questionID.String()),
		zap.String("status", string(to)))
	return q, nil
}

// List returns a session's questions ordered by vote count descending,
// creation time ascending on ties. The order is stable and reproducible from
// the same input set regardless of call order.
func (a *Aggregator) List(ctx context.Context, sessionID uuid.UUID) ([]models.Question, error) {
	list, err := a.store.ListBySession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].VoteCount != list[j].VoteCount {
			return list[i].VoteCount > list[j].VoteCount
		}
		if !list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].CreatedAt.Before(list[j].CreatedAt)
		}
		return list[i].ID.String() < list[j].ID.String()
	})
	return list, nil
}

func (a *Aggregator) getQuestion(ctx context.Context, id uuid.UUID) (*models.Question, error) {
	q, err := a.store.GetQuestion(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get question: %w", err)
	}
	if q == nil {
		return nil, ErrQuestionNotFound
	}
	return q, nil
}
