// Package dispatch fans session-scoped events out to every connection
// registered for that session. Each session has one sequential delivery
// worker, so any two simultaneously connected clients observe the same event
// order. Delivery is best effort: an unreachable connection is skipped for
// that event and recovers via an explicit resync read, never a replayed
// backlog.
package dispatch

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Event kinds carried on the stream.
const (
	EventSessionStatus     = "session_status"
	EventParticipantJoined = "participant_joined"
	EventParticipantLeft   = "participant_left"
	EventAssetShared       = "asset_shared"
	EventQuestionReceived  = "question_received"
	EventQuestionVotes     = "question_votes"
)

// Envelope is the wire form of one event. Seq is a per-session monotonic
// sequence number so clients can drop duplicates from an at-least-once
// transport.
type Envelope struct {
	Seq   uint64          `json:"seq"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Conn is a delivery target. Send must not block; it returns false when the
// connection cannot accept the event right now (buffer full or closed).
type Conn interface {
	ID() string
	Send(Envelope) bool
}

// Dispatcher owns per-session ordered fan-out.
type Dispatcher struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*stream
	logger   *zap.Logger
	closed   bool
}

// stream is one session's outbound queue, worker and subscriber set. The
// queue is unbounded so Publish never blocks the mutation that produced the
// event; order is fixed at append time under the stream lock.
type stream struct {
	mu      sync.Mutex
	seq     uint64
	pending []Envelope
	conns   map[string]subscriber
	wake    chan struct{}
	done    chan struct{}
}

// subscriber pins the sequence at subscribe time: events queued before the
// connection joined are never delivered to it, even if the worker has not
// drained them yet.
type subscriber struct {
	conn  Conn
	after uint64
}

// New creates a Dispatcher.
func New(logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		sessions: make(map[uuid.UUID]*stream),
		logger:   logger,
	}
}

func (d *Dispatcher) stream(sessionID uuid.UUID, create bool) *stream {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	s := d.sessions[sessionID]
	if s == nil && create {
		s = &stream{
			conns: make(map[string]subscriber),
			wake:  make(chan struct{}, 1),
			done:  make(chan struct{}),
		}
		d.sessions[sessionID] = s
		go d.run(sessionID, s)
	}
	return s
}

// Publish appends an event to the session's ordered queue. The payload is
// marshaled at publish time so later mutations of the source value cannot
// change what subscribers see.
func (d *Dispatcher) Publish(sessionID uuid.UUID, event string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		d.logger.Warn("drop unmarshalable event", zap.String("event", event), zap.Error(err))
		return
	}
	s := d.stream(sessionID, true)
	if s == nil {
		return
	}
	s.mu.Lock()
	s.seq++
	s.pending = append(s.pending, Envelope{Seq: s.seq, Event: event, Data: data})
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Subscribe adds a connection to the session's fan-out set. The connection
// receives only events published after this call; earlier state is read via
// resync.
func (d *Dispatcher) Subscribe(sessionID uuid.UUID, conn Conn) {
	s := d.stream(sessionID, true)
	if s == nil {
		return
	}
	s.mu.Lock()
	s.conns[conn.ID()] = subscriber{conn: conn, after: s.seq}
	s.mu.Unlock()
}

// Unsubscribe removes a connection from the session's fan-out set.
func (d *Dispatcher) Unsubscribe(sessionID uuid.UUID, connID string) {
	s := d.stream(sessionID, false)
	if s == nil {
		return
	}
	s.mu.Lock()
	delete(s.conns, connID)
	s.mu.Unlock()
}

// CloseSession stops the session's worker and drops its subscriber set.
// Called when a session ends; safe to call for unknown sessions.
func (d *Dispatcher) CloseSession(sessionID uuid.UUID) {
	d.mu.Lock()
	s := d.sessions[sessionID]
	delete(d.sessions, sessionID)
	d.mu.Unlock()
	if s != nil {
		close(s.done)
	}
}

// Shutdown stops all session workers.
func (d *Dispatcher) Shutdown() {
	d.mu.Lock()
	streams := d.sessions
	d.sessions = make(map[uuid.UUID]*stream)
	d.closed = true
	d.mu.Unlock()
	for _, s := range streams {
		close(s.done)
	}
}

// run drains one session's queue in order, delivering each event to the
// connections that were subscribed before it was published. On close the
// queue is drained once more so a final lifecycle event still reaches
// subscribers.
func (d *Dispatcher) run(sessionID uuid.UUID, s *stream) {
	for {
		select {
		case <-s.done:
			d.drain(sessionID, s)
			return
		case <-s.wake:
			d.drain(sessionID, s)
		}
	}
}

func (d *Dispatcher) drain(sessionID uuid.UUID, s *stream) {
	for {
		s.mu.Lock()
		if len(s.pending) == 0 {
			s.mu.Unlock()
			return
		}
		env := s.pending[0]
		s.pending = s.pending[1:]
		targets := make([]Conn, 0, len(s.conns))
		for _, sub := range s.conns {
			if env.Seq > sub.after {
				targets = append(targets, sub.conn)
			}
		}
		s.mu.Unlock()

		for _, c := range targets {
			if !c.Send(env) {
				d.logger.Debug("skip unreachable connection",
					zap.String("session_id", sessionID.String()),
					zap.String("conn_id", c.ID()),
					zap.Uint64("seq", env.Seq))
			}
		}
	}
}
