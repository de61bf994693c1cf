// Package presence maps live connections to session-scoped participant
// identities. Identity is resolved from an explicit registration hint so a
// reconnect or a second browser tab reuses the original ParticipantId instead
// of minting a ghost; join/leave events fire on a participant's zero-to-one
// and one-to-zero connection transitions, not per connection.
package presence

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noor-live/backend/internal/dispatch"
	"github.com/noor-live/backend/internal/models"
)

// ErrUnknownParticipant is returned when a connection references an identity
// that was never registered for the session.
var ErrUnknownParticipant = errors.New("unknown participant")

// ParticipantStore persists participant identities.
type ParticipantStore interface {
	Create(ctx context.Context, p *models.Participant) error
	// GetByID returns (nil, nil) when absent.
	GetByID(ctx context.Context, id uuid.UUID) (*models.Participant, error)
	ListBySession(ctx context.Context, sessionID uuid.UUID) ([]models.Participant, error)
	DeleteBySession(ctx context.Context, sessionID uuid.UUID) (int, error)
	UpdatePeak(ctx context.Context, sessionID uuid.UUID, peak int) error
}

// Publisher is the dispatcher slice presence needs for join/leave events.
type Publisher interface {
	Publish(sessionID uuid.UUID, event string, payload interface{})
}

// Subscriptions is connection-level fan-out membership, driven by
// Connect/Disconnect.
type Subscriptions interface {
	Subscribe(sessionID uuid.UUID, conn dispatch.Conn)
	Unsubscribe(sessionID uuid.UUID, connID string)
}

type binding struct {
	sessionID     uuid.UUID
	participantID uuid.UUID
}

// Registry tracks live presence for all sessions. Presence records are
// transient by design: they live only in memory and are rebuilt from zero
// after a restart.
type Registry struct {
	store  ParticipantStore
	pub    Publisher
	subs   Subscriptions
	logger *zap.Logger

	mu     sync.Mutex
	conns  map[string]binding
	active map[uuid.UUID]map[uuid.UUID]int // session -> participant -> live connections
	peaks  map[uuid.UUID]int
}

// NewRegistry creates a presence registry.
func NewRegistry(store ParticipantStore, pub Publisher, subs Subscriptions, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		store:  store,
		pub:    pub,
		subs:   subs,
		logger: logger,
		conns:  make(map[string]binding),
		active: make(map[uuid.UUID]map[uuid.UUID]int),
		peaks:  make(map[uuid.UUID]int),
	}
}

// Register resolves or creates a participant identity. A hint that resolves
// to an existing participant of this session reuses it; anything else (empty,
// malformed, foreign session) creates a fresh identity.
func (r *Registry) Register(ctx context.Context, sessionID uuid.UUID, hint, name, locale string) (*models.Participant, error) {
	if hint != "" {
		if id, err := uuid.Parse(hint); err == nil {
			p, err := r.store.GetByID(ctx, id)
			if err != nil {
				return nil, fmt.Errorf("resolve hint: %w", err)
			}
			if p != nil && p.SessionID == sessionID {
				return p, nil
			}
		}
	}

	if locale == "" {
		locale = "en"
	}
	p := &models.Participant{
		ID:        uuid.New(),
		SessionID: sessionID,
		Name:      name,
		Locale:    locale,
	}
	if err := r.store.Create(ctx, p); err != nil {
		return nil, fmt.Errorf("create participant: %w", err)
	}
	r.logger.Info("participant registered",
		zap.String("session_id", sessionID.String()),
		zap.String("participant_id", p.ID.String()))
	return p, nil
}

// Connect binds a live connection to a participant, subscribes it to the
// session's event stream, and announces the participant once when their first
// connection appears.
func (r *Registry) Connect(ctx context.Context, sessionID, participantID uuid.UUID, conn dispatch.Conn) error {
	p, err := r.store.GetByID(ctx, participantID)
	if err != nil {
		return fmt.Errorf("load participant: %w", err)
	}
	if p == nil || p.SessionID != sessionID {
		return ErrUnknownParticipant
	}

	r.subs.Subscribe(sessionID, conn)

	r.mu.Lock()
	r.conns[conn.ID()] = binding{sessionID: sessionID, participantID: participantID}
	if r.active[sessionID] == nil {
		r.active[sessionID] = make(map[uuid.UUID]int)
	}
	r.active[sessionID][participantID]++
	first := r.active[sessionID][participantID] == 1
	count := len(r.active[sessionID])
	peak := r.peaks[sessionID]
	if count > peak {
		r.peaks[sessionID] = count
		peak = count
	}
	r.mu.Unlock()

	if first {
		r.pub.Publish(sessionID, dispatch.EventParticipantJoined, map[string]interface{}{
			"participant_id": participantID,
			"name":           p.Name,
			"count":          count,
		})
		// Best effort; peak is advisory and recomputed next connect.
		_ = r.store.UpdatePeak(ctx, sessionID, peak)
	}
	return nil
}

// Disconnect drops a connection binding and announces the participant's
// departure when their last connection is gone. Unknown handles are ignored.
func (r *Registry) Disconnect(ctx context.Context, connID string) {
	r.mu.Lock()
	b, ok := r.conns[connID]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.conns, connID)
	var last bool
	var count int
	if m := r.active[b.sessionID]; m != nil {
		m[b.participantID]--
		if m[b.participantID] <= 0 {
			delete(m, b.participantID)
			last = true
		}
		count = len(m)
		if count == 0 {
			delete(r.active, b.sessionID)
		}
	}
	r.mu.Unlock()

	r.subs.Unsubscribe(b.sessionID, connID)

	if last {
		r.pub.Publish(b.sessionID, dispatch.EventParticipantLeft, map[string]interface{}{
			"participant_id": b.participantID,
			"count":          count,
		})
	}
}

// Purge removes all participant and presence state for a session. Idempotent:
// purging an already-empty session returns zero, never an error.
func (r *Registry) Purge(ctx context.Context, sessionID uuid.UUID) (int, error) {
	removed, err := r.store.DeleteBySession(ctx, sessionID)
	if err != nil {
		return 0, fmt.Errorf("delete participants: %w", err)
	}

	r.mu.Lock()
	var stale []string
	for connID, b := range r.conns {
		if b.sessionID == sessionID {
			stale = append(stale, connID)
			delete(r.conns, connID)
		}
	}
	delete(r.active, sessionID)
	delete(r.peaks, sessionID)
	r.mu.Unlock()

	for _, connID := range stale {
		r.subs.Unsubscribe(sessionID, connID)
	}
	return removed + len(stale), nil
}

// Count returns the number of distinct participants with at least one live
// connection.
func (r *Registry) Count(sessionID uuid.UUID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active[sessionID])
}

// Peak returns the highest concurrent participant count seen this run.
func (r *Registry) Peak(sessionID uuid.UUID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.peaks[sessionID]
}

// List returns all registered participants for a session.
func (r *Registry) List(ctx context.Context, sessionID uuid.UUID) ([]models.Participant, error) {
	return r.store.ListBySession(ctx, sessionID)
}
