// Package sessions owns the session lifecycle state machine and the tokens
// that prove host or participant identity for a session.
package sessions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noor-live/backend/internal/auth"
	"github.com/noor-live/backend/internal/dispatch"
	"github.com/noor-live/backend/internal/models"
	"github.com/noor-live/backend/pkg/errs"
	"github.com/noor-live/backend/pkg/keyedmutex"
)

// ErrNotFound is returned for unknown session ids.
var ErrNotFound = errors.New("session not found")

const tokenAttempts = 8

// Store persists sessions and their tokens.
type Store interface {
	Create(ctx context.Context, s *models.Session, hostAuthHash string) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Session, error)
	// GetByToken returns (nil, nil) when no session carries the token.
	GetByToken(ctx context.Context, token string) (*models.Session, error)
	TokenInUse(ctx context.Context, token string) (bool, error)
	// CompareAndSwapStatus applies from->to only if the stored status is
	// still from, reporting whether the swap happened.
	CompareAndSwapStatus(ctx context.Context, id uuid.UUID, from, to models.SessionStatus) (bool, error)
	HostAuth(ctx context.Context, id uuid.UUID) (hash string, redeemed bool, err error)
	// RedeemHostAuth flips the one-time credential to redeemed, reporting
	// whether this call performed the flip.
	RedeemHostAuth(ctx context.Context, id uuid.UUID) (bool, error)
}

// Purger removes a session's participant and presence state. Implemented by
// the presence registry; wired after construction because presence also
// publishes through the dispatcher.
type Purger interface {
	Purge(ctx context.Context, sessionID uuid.UUID) (int, error)
}

// Publisher is the slice of the dispatcher the state machine needs.
type Publisher interface {
	Publish(sessionID uuid.UUID, event string, payload interface{})
	CloseSession(sessionID uuid.UUID)
}

// Config holds lifecycle defaults.
type Config struct {
	ExpireHours     int
	MaxParticipants int
}

// Service is the token and session state machine.
type Service struct {
	store  Store
	jwt    *auth.JWTService
	pub    Publisher
	purger Purger
	locks  *keyedmutex.Map
	cfg    Config
	logger *zap.Logger
}

// NewService creates the session state machine.
func NewService(store Store, jwtService *auth.JWTService, pub Publisher, cfg Config, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ExpireHours <= 0 {
		cfg.ExpireHours = 24
	}
	if cfg.MaxParticipants <= 0 {
		cfg.MaxParticipants = 100
	}
	return &Service{
		store:  store,
		jwt:    jwtService,
		pub:    pub,
		locks:  keyedmutex.New(),
		cfg:    cfg,
		logger: logger,
	}
}

// SetPurger wires the presence cleanup hook used by Open.
func (s *Service) SetPurger(p Purger) {
	s.purger = p
}

// Create provisions a session in the created state with a host token, a
// participant token and a one-time host upgrade credential. The credential is
// returned once and stored only as a bcrypt hash.
func (s *Service) Create(ctx context.Context, title string, maxParticipants int) (*models.Session, string, error) {
	hostToken, err := s.uniqueToken(ctx, "")
	if err != nil {
		return nil, "", err
	}
	userToken, err := s.uniqueToken(ctx, hostToken)
	if err != nil {
		return nil, "", err
	}

	hostAuth := uuid.New().String()
	hash, err := bcrypt.GenerateFromPassword([]byte(hostAuth), bcrypt.DefaultCost)
	if err != nil {
		return nil, "", fmt.Errorf("hash host credential: %w", err)
	}

	if maxParticipants <= 0 {
		maxParticipants = s.cfg.MaxParticipants
	}
	now := time.Now().UTC()
	sess := &models.Session{
		ID:              uuid.New(),
		Title:           title,
		Status:          models.StatusCreated,
		HostToken:       hostToken,
		UserToken:       userToken,
		MaxParticipants: maxParticipants,
		CreatedAt:       now,
		ExpiresAt:       now.Add(time.Duration(s.cfg.ExpireHours) * time.Hour),
	}
	if err := s.store.Create(ctx, sess, string(hash)); err != nil {
		return nil, "", fmt.Errorf("create session: %w", err)
	}
	s.logger.Info("session created",
		zap.String("session_id", sess.ID.String()),
		zap.Time("expires_at", sess.ExpiresAt))
	return sess, hostAuth, nil
}

// uniqueToken draws tokens until one is free of collisions with active tokens
// (and with avoid, the sibling token generated in the same call).
func (s *Service) uniqueToken(ctx context.Context, avoid string) (string, error) {
	for i := 0; i < tokenAttempts; i++ {
		t, err := newToken()
		if err != nil {
			return "", err
		}
		if t == avoid {
			continue
		}
		used, err := s.store.TokenInUse(ctx, t)
		if err != nil {
			return "", fmt.Errorf("token collision check: %w", err)
		}
		if !used {
			return t, nil
		}
	}
	return "", fmt.Errorf("token space exhausted after %d attempts", tokenAttempts)
}

// Open transitions created -> waiting and purges any participant state left
// from a prior open of the same tokens. Opening an already-waiting session is
// idempotent: it purges again (reporting zero rows the second time) without
// re-transitioning.
func (s *Service) Open(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	unlock := s.locks.Lock(id.String())
	defer unlock()

	sess, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}

	switch sess.Status {
	case models.StatusCreated:
		if err := s.purge(ctx, id); err != nil {
			return nil, err
		}
		if err := s.swap(ctx, id, models.StatusCreated, models.StatusWaiting); err != nil {
			return nil, err
		}
		sess.Status = models.StatusWaiting
		s.publishStatus(sess)
		return sess, nil
	case models.StatusWaiting:
		if err := s.purge(ctx, id); err != nil {
			return nil, err
		}
		return sess, nil
	default:
		return nil, fmt.Errorf("open from %s: %w", sess.Status, errs.ErrInvalidTransition)
	}
}

// Start transitions waiting -> active.
func (s *Service) Start(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	return s.transition(ctx, id, models.StatusWaiting, models.StatusActive)
}

// End transitions waiting or active -> ended. Ended is terminal; the
// session's event stream is closed after the final status event.
func (s *Service) End(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	unlock := s.locks.Lock(id.String())
	defer unlock()

	sess, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.Status != models.StatusWaiting && sess.Status != models.StatusActive {
		return nil, fmt.Errorf("end from %s: %w", sess.Status, errs.ErrInvalidTransition)
	}
	if err := s.swap(ctx, id, sess.Status, models.StatusEnded); err != nil {
		return nil, err
	}
	sess.Status = models.StatusEnded
	s.publishStatus(sess)
	if s.pub != nil {
		s.pub.CloseSession(id)
	}
	return sess, nil
}

func (s *Service) transition(ctx context.Context, id uuid.UUID, from, to models.SessionStatus) (*models.Session, error) {
	unlock := s.locks.Lock(id.String())
	defer unlock()

	sess, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.Status != from {
		return nil, fmt.Errorf("%s -> %s with status %s: %w", from, to, sess.Status, errs.ErrInvalidTransition)
	}
	if err := s.swap(ctx, id, from, to); err != nil {
		return nil, err
	}
	sess.Status = to
	s.publishStatus(sess)
	return sess, nil
}

// swap runs the store CAS; a miss means the status moved between read and
// swap (another process or host device), surfaced as a retryable stale
// transition rather than applied blindly.
func (s *Service) swap(ctx context.Context, id uuid.UUID, from, to models.SessionStatus) error {
	ok, err := s.store.CompareAndSwapStatus(ctx, id, from, to)
	if err != nil {
		return fmt.Errorf("swap status: %w", err)
	}
	if !ok {
		return fmt.Errorf("%s -> %s: %w", from, to, errs.ErrStaleTransition)
	}
	s.logger.Info("session status changed",
		zap.String("session_id", id.String()),
		zap.String("from", string(from)),
		zap.String("to", string(to)))
	return nil
}

func (s *Service) purge(ctx context.Context, id uuid.UUID) error {
	if s.purger == nil {
		return nil
	}
	n, err := s.purger.Purge(ctx, id)
	if err != nil {
		return fmt.Errorf("purge presence: %w", err)
	}
	s.logger.Info("presence purged",
		zap.String("session_id", id.String()),
		zap.Int("removed", n))
	return nil
}

func (s *Service) publishStatus(sess *models.Session) {
	if s.pub == nil {
		return
	}
	s.pub.Publish(sess.ID, dispatch.EventSessionStatus, map[string]interface{}{
		"session_id": sess.ID,
		"status":     sess.Status,
	})
}

// ValidateToken resolves an 8-character join token to its (session, role)
// pair. A token resolves to at most one pair for its whole lifetime.
func (s *Service) ValidateToken(ctx context.Context, token string) (uuid.UUID, string, error) {
	tok := normalizeToken(token)
	if !wellFormedToken(tok) {
		return uuid.Nil, "", errs.ErrTokenNotFound
	}
	sess, err := s.store.GetByToken(ctx, tok)
	if err != nil {
		return uuid.Nil, "", fmt.Errorf("lookup token: %w", err)
	}
	if sess == nil {
		return uuid.Nil, "", errs.ErrTokenNotFound
	}
	if sess.Status == models.StatusEnded || time.Now().After(sess.ExpiresAt) {
		return uuid.Nil, "", errs.ErrTokenExpired
	}
	role := models.RoleParticipant
	if sess.HostToken == tok {
		role = models.RoleHost
	}
	return sess.ID, role, nil
}

// RedeemHostAuth exchanges the one-time 36-character upgrade credential for a
// signed host JWT. Any failure mode (unknown, mismatched, already redeemed)
// reads the same to the caller.
func (s *Service) RedeemHostAuth(ctx context.Context, sessionID uuid.UUID, credential string) (string, error) {
	if _, err := uuid.Parse(credential); err != nil {
		return "", errs.ErrTokenNotFound
	}
	hash, redeemed, err := s.store.HostAuth(ctx, sessionID)
	if err != nil {
		return "", fmt.Errorf("load host credential: %w", err)
	}
	if redeemed {
		return "", errs.ErrTokenNotFound
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(credential)) != nil {
		return "", errs.ErrTokenNotFound
	}
	ok, err := s.store.RedeemHostAuth(ctx, sessionID)
	if err != nil {
		return "", fmt.Errorf("redeem host credential: %w", err)
	}
	if !ok {
		return "", errs.ErrTokenNotFound
	}
	return s.jwt.Generate(sessionID, models.RoleHost)
}

// Get returns a session by id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	return s.get(ctx, id)
}

// IsActive reports whether the session is currently live.
func (s *Service) IsActive(ctx context.Context, id uuid.UUID) (bool, error) {
	sess, err := s.get(ctx, id)
	if err != nil {
		return false, err
	}
	return sess.Status == models.StatusActive, nil
}

func (s *Service) get(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	sess, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if sess == nil {
		return nil, ErrNotFound
	}
	return sess, nil
}
