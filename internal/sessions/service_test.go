package sessions

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/noor-live/backend/internal/auth"
	"github.com/noor-live/backend/internal/models"
	"github.com/noor-live/backend/pkg/errs"
)

type hostAuthRow struct {
	hash     string
	redeemed bool
}

type fakeStore struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*models.Session
	auth     map[uuid.UUID]*hostAuthRow
	casFail  bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		sessions: make(map[uuid.UUID]*models.Session),
		auth:     make(map[uuid.UUID]*hostAuthRow),
	}
}

func (f *fakeStore) Create(_ context.Context, s *models.Session, hostAuthHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *s
	f.sessions[s.ID] = &cp
	f.auth[s.ID] = &hostAuthRow{hash: hostAuthHash}
	return nil
}

func (f *fakeStore) GetByID(_ context.Context, id uuid.UUID) (*models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (f *fakeStore) GetByToken(_ context.Context, token string) (*models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.sessions {
		if s.HostToken == token || s.UserToken == token {
			cp := *s
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) TokenInUse(_ context.Context, token string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.sessions {
		if s.Status != models.StatusEnded && (s.HostToken == token || s.UserToken == token) {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) CompareAndSwapStatus(_ context.Context, id uuid.UUID, from, to models.SessionStatus) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.casFail {
		return false, nil
	}
	s, ok := f.sessions[id]
	if !ok || s.Status != from {
		return false, nil
	}
	s.Status = to
	return true, nil
}

func (f *fakeStore) HostAuth(_ context.Context, id uuid.UUID) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.auth[id]
	if !ok {
		return "", false, ErrNotFound
	}
	return row.hash, row.redeemed, nil
}

func (f *fakeStore) RedeemHostAuth(_ context.Context, id uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.auth[id]
	if !ok || row.redeemed {
		return false, nil
	}
	row.redeemed = true
	return true, nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []string
	closed []uuid.UUID
}

func (f *fakePublisher) Publish(_ uuid.UUID, event string, _ interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
}

func (f *fakePublisher) CloseSession(id uuid.UUID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = append(f.closed, id)
}

type fakePurger struct {
	mu    sync.Mutex
	calls int
}

func (f *fakePurger) Purge(_ context.Context, _ uuid.UUID) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return 0, nil
}

func newTestService(store Store) (*Service, *fakePublisher, *fakePurger) {
	pub := &fakePublisher{}
	purger := &fakePurger{}
	svc := NewService(store, auth.NewJWTService("test-secret", 1), pub, Config{}, nil)
	svc.SetPurger(purger)
	return svc, pub, purger
}

func TestCreateIssuesDistinctWellFormedTokens(t *testing.T) {
	svc, _, _ := newTestService(newFakeStore())
	sess, hostAuth, err := svc.Create(context.Background(), "tafsir circle", 0)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if sess.Status != models.StatusCreated {
		t.Fatalf("new session status = %s, want created", sess.Status)
	}
	if sess.HostToken == sess.UserToken {
		t.Fatal("host and participant tokens must differ")
	}
	for _, tok := range []string{sess.HostToken, sess.UserToken} {
		if len(tok) != TokenLength {
			t.Fatalf("token %q has length %d", tok, len(tok))
		}
		for _, r := range tok {
			if !strings.ContainsRune(tokenCharset, r) {
				t.Fatalf("token %q contains %q outside the alphabet", tok, r)
			}
		}
	}
	if _, err := uuid.Parse(hostAuth); err != nil {
		t.Fatalf("host credential %q is not a uuid: %v", hostAuth, err)
	}
	if until := time.Until(sess.ExpiresAt); until < 23*time.Hour || until > 25*time.Hour {
		t.Fatalf("expiry window off: %v", until)
	}
}

func TestLifecycleHappyPath(t *testing.T) {
	svc, pub, _ := newTestService(newFakeStore())
	ctx := context.Background()
	sess, _, err := svc.Create(ctx, "t", 0)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if s, err := svc.Open(ctx, sess.ID); err != nil || s.Status != models.StatusWaiting {
		t.Fatalf("open: %v status=%v", err, s)
	}
	if s, err := svc.Start(ctx, sess.ID); err != nil || s.Status != models.StatusActive {
		t.Fatalf("start: %v status=%v", err, s)
	}
	if s, err := svc.End(ctx, sess.ID); err != nil || s.Status != models.StatusEnded {
		t.Fatalf("end: %v status=%v", err, s)
	}

	pub.mu.Lock()
	defer pub.mu.Unlock()
	if len(pub.events) != 3 {
		t.Fatalf("published %d status events, want 3", len(pub.events))
	}
	if len(pub.closed) != 1 || pub.closed[0] != sess.ID {
		t.Fatalf("event stream not closed on end: %v", pub.closed)
	}
}

func TestIllegalTransitionsRejected(t *testing.T) {
	svc, _, _ := newTestService(newFakeStore())
	ctx := context.Background()
	sess, _, _ := svc.Create(ctx, "t", 0)

	// created -> active skips waiting.
	if _, err := svc.Start(ctx, sess.ID); !errors.Is(err, errs.ErrInvalidTransition) {
		t.Fatalf("start from created: %v, want ErrInvalidTransition", err)
	}
	// created -> ended skips the open.
	if _, err := svc.End(ctx, sess.ID); !errors.Is(err, errs.ErrInvalidTransition) {
		t.Fatalf("end from created: %v, want ErrInvalidTransition", err)
	}

	if _, err := svc.Open(ctx, sess.ID); err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := svc.Start(ctx, sess.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	// active -> waiting does not exist.
	if _, err := svc.Open(ctx, sess.ID); !errors.Is(err, errs.ErrInvalidTransition) {
		t.Fatalf("open from active: %v, want ErrInvalidTransition", err)
	}
	if _, err := svc.End(ctx, sess.ID); err != nil {
		t.Fatalf("end: %v", err)
	}
	// ended is terminal.
	if _, err := svc.End(ctx, sess.ID); !errors.Is(err, errs.ErrInvalidTransition) {
		t.Fatalf("end from ended: %v, want ErrInvalidTransition", err)
	}
}

func TestOpenIsIdempotentAndPurges(t *testing.T) {
	svc, pub, purger := newTestService(newFakeStore())
	ctx := context.Background()
	sess, _, _ := svc.Create(ctx, "t", 0)

	if _, err := svc.Open(ctx, sess.ID); err != nil {
		t.Fatalf("first open: %v", err)
	}
	s, err := svc.Open(ctx, sess.ID)
	if err != nil {
		t.Fatalf("second open: %v", err)
	}
	if s.Status != models.StatusWaiting {
		t.Fatalf("second open status = %s, want waiting", s.Status)
	}

	purger.mu.Lock()
	calls := purger.calls
	purger.mu.Unlock()
	if calls != 2 {
		t.Fatalf("purge called %d times, want 2", calls)
	}
	pub.mu.Lock()
	events := len(pub.events)
	pub.mu.Unlock()
	if events != 1 {
		t.Fatalf("published %d status events, want 1 (second open must not re-announce)", events)
	}
}

func TestConcurrentStatusChangeIsStale(t *testing.T) {
	store := newFakeStore()
	svc, _, _ := newTestService(store)
	ctx := context.Background()
	sess, _, _ := svc.Create(ctx, "t", 0)
	if _, err := svc.Open(ctx, sess.ID); err != nil {
		t.Fatalf("open: %v", err)
	}

	// Another process moves the status between our read and our swap.
	store.mu.Lock()
	store.casFail = true
	store.mu.Unlock()

	_, err := svc.Start(ctx, sess.ID)
	if !errors.Is(err, errs.ErrStaleTransition) {
		t.Fatalf("start with concurrent change: %v, want ErrStaleTransition", err)
	}
	if !errs.Retryable(err) {
		t.Fatal("stale transition must be retryable")
	}
}

func TestValidateTokenResolvesRoleAndNormalizes(t *testing.T) {
	svc, _, _ := newTestService(newFakeStore())
	ctx := context.Background()
	sess, _, _ := svc.Create(ctx, "t", 0)

	id, role, err := svc.ValidateToken(ctx, sess.HostToken)
	if err != nil || id != sess.ID || role != models.RoleHost {
		t.Fatalf("host token: id=%v role=%q err=%v", id, role, err)
	}
	// Lowercase with whitespace still resolves.
	id, role, err = svc.ValidateToken(ctx, "  "+strings.ToLower(sess.UserToken)+" ")
	if err != nil || id != sess.ID || role != models.RoleParticipant {
		t.Fatalf("participant token: id=%v role=%q err=%v", id, role, err)
	}
}

func TestValidateTokenFailures(t *testing.T) {
	store := newFakeStore()
	svc, _, _ := newTestService(store)
	ctx := context.Background()
	sess, _, _ := svc.Create(ctx, "t", 0)

	if _, _, err := svc.ValidateToken(ctx, "ABCD2345"); !errors.Is(err, errs.ErrTokenNotFound) {
		t.Fatalf("unknown token: %v, want ErrTokenNotFound", err)
	}
	if _, _, err := svc.ValidateToken(ctx, "O0O0O0O0"); !errors.Is(err, errs.ErrTokenNotFound) {
		t.Fatalf("malformed token: %v, want ErrTokenNotFound", err)
	}

	store.mu.Lock()
	store.sessions[sess.ID].ExpiresAt = time.Now().Add(-time.Minute)
	store.mu.Unlock()
	if _, _, err := svc.ValidateToken(ctx, sess.HostToken); !errors.Is(err, errs.ErrTokenExpired) {
		t.Fatalf("expired session: %v, want ErrTokenExpired", err)
	}

	store.mu.Lock()
	store.sessions[sess.ID].ExpiresAt = time.Now().Add(time.Hour)
	store.sessions[sess.ID].Status = models.StatusEnded
	store.mu.Unlock()
	if _, _, err := svc.ValidateToken(ctx, sess.HostToken); !errors.Is(err, errs.ErrTokenExpired) {
		t.Fatalf("ended session: %v, want ErrTokenExpired", err)
	}
}

func TestHostAuthRedeemsExactlyOnce(t *testing.T) {
	svc, _, _ := newTestService(newFakeStore())
	ctx := context.Background()
	sess, credential, _ := svc.Create(ctx, "t", 0)

	token, err := svc.RedeemHostAuth(ctx, sess.ID, credential)
	if err != nil {
		t.Fatalf("first redeem: %v", err)
	}
	claims, err := auth.NewJWTService("test-secret", 1).Validate(token)
	if err != nil {
		t.Fatalf("validate issued jwt: %v", err)
	}
	if claims.SessionID != sess.ID || claims.Role != models.RoleHost {
		t.Fatalf("claims = %+v, want session %s role host", claims, sess.ID)
	}

	if _, err := svc.RedeemHostAuth(ctx, sess.ID, credential); !errors.Is(err, errs.ErrTokenNotFound) {
		t.Fatalf("second redeem: %v, want ErrTokenNotFound", err)
	}
}

func TestHostAuthRejectsWrongCredential(t *testing.T) {
	svc, _, _ := newTestService(newFakeStore())
	ctx := context.Background()
	sess, _, _ := svc.Create(ctx, "t", 0)

	if _, err := svc.RedeemHostAuth(ctx, sess.ID, uuid.New().String()); !errors.Is(err, errs.ErrTokenNotFound) {
		t.Fatalf("wrong credential: %v, want ErrTokenNotFound", err)
	}
	if _, err := svc.RedeemHostAuth(ctx, sess.ID, "not-a-uuid"); !errors.Is(err, errs.ErrTokenNotFound) {
		t.Fatalf("malformed credential: %v, want ErrTokenNotFound", err)
	}
}
