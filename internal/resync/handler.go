// Package resync serves the one-shot state read a client performs after
// connecting or reconnecting. Missed events are never replayed; everything a
// client needs to catch up is in this snapshot.
package resync

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/noor-live/backend/internal/assets"
	"github.com/noor-live/backend/internal/middleware"
	"github.com/noor-live/backend/internal/presence"
	"github.com/noor-live/backend/internal/qa"
	"github.com/noor-live/backend/internal/sessions"
	"github.com/noor-live/backend/pkg/response"
)

// Handler assembles the session snapshot from the live services.
type Handler struct {
	sessions *sessions.Service
	registry *presence.Registry
	engine   *assets.Engine
	qa       *qa.Aggregator
}

// NewHandler creates a resync handler.
func NewHandler(s *sessions.Service, r *presence.Registry, e *assets.Engine, q *qa.Aggregator) *Handler {
	return &Handler{sessions: s, registry: r, engine: e, qa: q}
}

// Snapshot handles GET /sessions/:id/resync.
func (h *Handler) Snapshot(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	if middleware.SessionFromContext(c) != id {
		response.Forbidden(c, "token does not belong to this session")
		return
	}

	ctx := c.Request.Context()
	sess, err := h.sessions.Get(ctx, id)
	if err != nil {
		if errors.Is(err, sessions.ErrNotFound) {
			response.NotFound(c, "session not found")
			return
		}
		response.Error(c, err)
		return
	}
	participants, err := h.registry.List(ctx, id)
	if err != nil {
		response.Error(c, err)
		return
	}
	questions, err := h.qa.List(ctx, id)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, gin.H{
		"session":      sess,
		"participants": participants,
		"online":       h.registry.Count(id),
		"peak":         h.registry.Peak(id),
		"assets":       h.engine.List(id),
		"questions":    questions,
	})
}
