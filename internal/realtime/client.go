// Package realtime carries the session event stream over WebSocket. A client
// connection is a delivery target only; all mutations go through the REST
// surface, and a connection that falls behind catches up via resync rather
// than a replayed backlog.
package realtime

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/noor-live/backend/internal/dispatch"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = 54 * time.Second
	sendBuffer   = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // allow all origins in dev; restrict in production
	},
}

// TokenValidator resolves an opaque join token to its session and role.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (uuid.UUID, string, error)
}

// Presence binds connections to participant identities.
type Presence interface {
	Connect(ctx context.Context, sessionID, participantID uuid.UUID, conn dispatch.Conn) error
	Disconnect(ctx context.Context, connID string)
}

// Client is a single WebSocket connection in a session.
type Client struct {
	id            string
	sessionID     uuid.UUID
	participantID uuid.UUID
	role          string
	conn          *websocket.Conn
	send          chan dispatch.Envelope
	done          chan struct{}
	logger        *zap.Logger
}

// ID implements dispatch.Conn.
func (c *Client) ID() string { return c.id }

// Send implements dispatch.Conn. It never blocks the dispatcher: a full
// buffer drops the event for this connection and reports false.
func (c *Client) Send(env dispatch.Envelope) bool {
	select {
	case c.send <- env:
		return true
	default:
		return false
	}
}

// ServeWs handles the WebSocket upgrade and runs the client loop. The join
// token and registered participant id arrive as query parameters because
// browsers cannot set headers on WebSocket dials.
func ServeWs(validator TokenValidator, presence Presence, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Query("token")
		participantStr := c.Query("participant_id")
		if token == "" || participantStr == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "token and participant_id required"})
			return
		}
		sessionID, role, err := validator.ValidateToken(c.Request.Context(), token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		participantID, err := uuid.Parse(participantStr)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid participant_id"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}

		client := &Client{
			id:            uuid.New().String(),
			sessionID:     sessionID,
			participantID: participantID,
			role:          role,
			conn:          conn,
			send:          make(chan dispatch.Envelope, sendBuffer),
			done:          make(chan struct{}),
			logger:        logger,
		}
		if err := presence.Connect(c.Request.Context(), sessionID, participantID, client); err != nil {
			logger.Warn("websocket connect rejected",
				zap.String("session_id", sessionID.String()),
				zap.Error(err))
			_ = conn.Close()
			return
		}

		go client.writePump()
		client.readPump(presence)
	}
}

// readPump keeps the read side alive for pong frames and tears the connection
// down when the peer goes away. Inbound frames carry no commands; anything
// the client sends is discarded.
func (c *Client) readPump(presence Presence) {
	defer func() {
		close(c.done)
		presence.Disconnect(context.Background(), c.id)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(65536)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case env := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(env); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
