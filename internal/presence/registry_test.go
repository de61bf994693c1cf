package presence

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/noor-live/backend/internal/dispatch"
	"github.com/noor-live/backend/internal/models"
)

type fakeParticipantStore struct {
	mu           sync.Mutex
	participants map[uuid.UUID]*models.Participant
	peaks        map[uuid.UUID]int
}

func newFakeParticipantStore() *fakeParticipantStore {
	return &fakeParticipantStore{
		participants: make(map[uuid.UUID]*models.Participant),
		peaks:        make(map[uuid.UUID]int),
	}
}

func (f *fakeParticipantStore) Create(_ context.Context, p *models.Participant) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *p
	f.participants[p.ID] = &cp
	return nil
}

func (f *fakeParticipantStore) GetByID(_ context.Context, id uuid.UUID) (*models.Participant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.participants[id]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (f *fakeParticipantStore) ListBySession(_ context.Context, sessionID uuid.UUID) ([]models.Participant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Participant
	for _, p := range f.participants {
		if p.SessionID == sessionID {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (f *fakeParticipantStore) DeleteBySession(_ context.Context, sessionID uuid.UUID) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for id, p := range f.participants {
		if p.SessionID == sessionID {
			delete(f.participants, id)
			n++
		}
	}
	return n, nil
}

func (f *fakeParticipantStore) UpdatePeak(_ context.Context, sessionID uuid.UUID, peak int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if peak > f.peaks[sessionID] {
		f.peaks[sessionID] = peak
	}
	return nil
}

type publishedEvent struct {
	sessionID uuid.UUID
	event     string
	payload   map[string]interface{}
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (r *recordingPublisher) Publish(sessionID uuid.UUID, event string, payload interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, _ := payload.(map[string]interface{})
	r.events = append(r.events, publishedEvent{sessionID: sessionID, event: event, payload: m})
}

func (r *recordingPublisher) byEvent(event string) []publishedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []publishedEvent
	for _, e := range r.events {
		if e.event == event {
			out = append(out, e)
		}
	}
	return out
}

type recordingSubs struct {
	mu           sync.Mutex
	subscribed   []string
	unsubscribed []string
}

func (r *recordingSubs) Subscribe(_ uuid.UUID, conn dispatch.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subscribed = append(r.subscribed, conn.ID())
}

func (r *recordingSubs) Unsubscribe(_ uuid.UUID, connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unsubscribed = append(r.unsubscribed, connID)
}

type stubConn struct{ id string }

func (c *stubConn) ID() string                  { return c.id }
func (c *stubConn) Send(dispatch.Envelope) bool { return true }

func newTestRegistry() (*Registry, *fakeParticipantStore, *recordingPublisher, *recordingSubs) {
	store := newFakeParticipantStore()
	pub := &recordingPublisher{}
	subs := &recordingSubs{}
	return NewRegistry(store, pub, subs, nil), store, pub, subs
}

func TestRegisterReusesIdentityFromHint(t *testing.T) {
	reg, _, _, _ := newTestRegistry()
	ctx := context.Background()
	sessionID := uuid.New()

	p, err := reg.Register(ctx, sessionID, "", "Amina", "")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if p.Locale != "en" {
		t.Fatalf("default locale = %q, want en", p.Locale)
	}

	again, err := reg.Register(ctx, sessionID, p.ID.String(), "Amina", "en")
	if err != nil {
		t.Fatalf("re-register: %v", err)
	}
	if again.ID != p.ID {
		t.Fatalf("hint minted new identity %s, want %s", again.ID, p.ID)
	}
}

func TestRegisterIgnoresForeignOrMalformedHint(t *testing.T) {
	reg, _, _, _ := newTestRegistry()
	ctx := context.Background()
	sessionA, sessionB := uuid.New(), uuid.New()

	a, _ := reg.Register(ctx, sessionA, "", "Amina", "en")

	crossed, err := reg.Register(ctx, sessionB, a.ID.String(), "Amina", "en")
	if err != nil {
		t.Fatalf("register with foreign hint: %v", err)
	}
	if crossed.ID == a.ID {
		t.Fatal("hint from another session must not be honored")
	}

	garbled, err := reg.Register(ctx, sessionA, "definitely-not-a-uuid", "Bilal", "en")
	if err != nil {
		t.Fatalf("register with malformed hint: %v", err)
	}
	if garbled.ID == a.ID {
		t.Fatal("malformed hint must mint a fresh identity")
	}
}

func TestJoinAnnouncedOncePerParticipant(t *testing.T) {
	reg, _, pub, _ := newTestRegistry()
	ctx := context.Background()
	sessionID := uuid.New()
	p, _ := reg.Register(ctx, sessionID, "", "Amina", "en")

	// Two tabs, one participant.
	if err := reg.Connect(ctx, sessionID, p.ID, &stubConn{id: "tab1"}); err != nil {
		t.Fatalf("connect tab1: %v", err)
	}
	if err := reg.Connect(ctx, sessionID, p.ID, &stubConn{id: "tab2"}); err != nil {
		t.Fatalf("connect tab2: %v", err)
	}

	joins := pub.byEvent(dispatch.EventParticipantJoined)
	if len(joins) != 1 {
		t.Fatalf("published %d join events, want 1", len(joins))
	}
	if got := reg.Count(sessionID); got != 1 {
		t.Fatalf("count = %d, want 1 distinct participant", got)
	}
}

func TestLeaveAnnouncedOnLastDisconnect(t *testing.T) {
	reg, _, pub, subs := newTestRegistry()
	ctx := context.Background()
	sessionID := uuid.New()
	p, _ := reg.Register(ctx, sessionID, "", "Amina", "en")

	_ = reg.Connect(ctx, sessionID, p.ID, &stubConn{id: "tab1"})
	_ = reg.Connect(ctx, sessionID, p.ID, &stubConn{id: "tab2"})

	reg.Disconnect(ctx, "tab1")
	if left := pub.byEvent(dispatch.EventParticipantLeft); len(left) != 0 {
		t.Fatalf("left announced with a connection still up: %d events", len(left))
	}

	reg.Disconnect(ctx, "tab2")
	left := pub.byEvent(dispatch.EventParticipantLeft)
	if len(left) != 1 {
		t.Fatalf("published %d left events, want 1", len(left))
	}
	if got := reg.Count(sessionID); got != 0 {
		t.Fatalf("count = %d after full disconnect, want 0", got)
	}

	subs.mu.Lock()
	defer subs.mu.Unlock()
	if len(subs.unsubscribed) != 2 {
		t.Fatalf("unsubscribed %d connections, want 2", len(subs.unsubscribed))
	}
}

func TestDisconnectUnknownHandleIsNoop(t *testing.T) {
	reg, _, pub, _ := newTestRegistry()
	reg.Disconnect(context.Background(), "never-seen")
	if len(pub.byEvent(dispatch.EventParticipantLeft)) != 0 {
		t.Fatal("unknown disconnect must not announce anything")
	}
}

func TestConnectRejectsUnknownOrForeignParticipant(t *testing.T) {
	reg, _, _, _ := newTestRegistry()
	ctx := context.Background()
	sessionA, sessionB := uuid.New(), uuid.New()
	p, _ := reg.Register(ctx, sessionA, "", "Amina", "en")

	if err := reg.Connect(ctx, sessionA, uuid.New(), &stubConn{id: "c1"}); !errors.Is(err, ErrUnknownParticipant) {
		t.Fatalf("unknown participant: %v, want ErrUnknownParticipant", err)
	}
	if err := reg.Connect(ctx, sessionB, p.ID, &stubConn{id: "c2"}); !errors.Is(err, ErrUnknownParticipant) {
		t.Fatalf("foreign participant: %v, want ErrUnknownParticipant", err)
	}
}

func TestPeakTracksHighWaterMark(t *testing.T) {
	reg, store, _, _ := newTestRegistry()
	ctx := context.Background()
	sessionID := uuid.New()

	a, _ := reg.Register(ctx, sessionID, "", "Amina", "en")
	b, _ := reg.Register(ctx, sessionID, "", "Bilal", "en")
	_ = reg.Connect(ctx, sessionID, a.ID, &stubConn{id: "ca"})
	_ = reg.Connect(ctx, sessionID, b.ID, &stubConn{id: "cb"})
	reg.Disconnect(ctx, "cb")

	if got := reg.Peak(sessionID); got != 2 {
		t.Fatalf("peak = %d, want 2", got)
	}
	store.mu.Lock()
	stored := store.peaks[sessionID]
	store.mu.Unlock()
	if stored != 2 {
		t.Fatalf("stored peak = %d, want 2", stored)
	}
}

func TestPurgeIsIdempotent(t *testing.T) {
	reg, _, _, subs := newTestRegistry()
	ctx := context.Background()
	sessionID := uuid.New()

	p, _ := reg.Register(ctx, sessionID, "", "Amina", "en")
	_ = reg.Connect(ctx, sessionID, p.ID, &stubConn{id: "c1"})

	n, err := reg.Purge(ctx, sessionID)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if n != 2 { // one stored participant + one live connection
		t.Fatalf("purge removed %d, want 2", n)
	}
	if got := reg.Count(sessionID); got != 0 {
		t.Fatalf("count after purge = %d, want 0", got)
	}

	again, err := reg.Purge(ctx, sessionID)
	if err != nil {
		t.Fatalf("second purge: %v", err)
	}
	if again != 0 {
		t.Fatalf("second purge removed %d, want 0", again)
	}

	subs.mu.Lock()
	defer subs.mu.Unlock()
	if len(subs.unsubscribed) != 1 {
		t.Fatalf("purge unsubscribed %d connections, want 1", len(subs.unsubscribed))
	}

	// Identity from before the purge is gone; the old hint mints fresh.
	fresh, err := reg.Register(ctx, sessionID, p.ID.String(), "Amina", "en")
	if err != nil {
		t.Fatalf("register after purge: %v", err)
	}
	if fresh.ID == p.ID {
		t.Fatal("purged identity must not be resurrected by its hint")
	}
}
