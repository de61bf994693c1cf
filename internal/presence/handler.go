package presence

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/noor-live/backend/internal/middleware"
	"github.com/noor-live/backend/pkg/response"
)

// RegisterRequest is the body for POST /sessions/:id/participants/register.
type RegisterRequest struct {
	ParticipantHint string `json:"participant_hint"`
	Name            string `json:"name" binding:"required"`
	Locale          string `json:"locale"`
}

// Handler handles presence HTTP endpoints.
type Handler struct {
	registry *Registry
}

// NewHandler creates a presence handler.
func NewHandler(registry *Registry) *Handler {
	return &Handler{registry: registry}
}

// Register handles POST /sessions/:id/participants/register. The returned
// participant id doubles as the hint for the next reconnect.
func (h *Handler) Register(c *gin.Context) {
	sessionID, ok := h.sessionFromPath(c)
	if !ok {
		return
	}
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	p, err := h.registry.Register(c.Request.Context(), sessionID, req.ParticipantHint, req.Name, req.Locale)
	if err != nil {
		response.Internal(c, "failed to register participant")
		return
	}
	response.OK(c, gin.H{
		"participant":      p,
		"participant_hint": p.ID,
	})
}

// List handles GET /sessions/:id/participants (host only).
func (h *Handler) List(c *gin.Context) {
	sessionID, ok := h.sessionFromPath(c)
	if !ok {
		return
	}
	list, err := h.registry.List(c.Request.Context(), sessionID)
	if err != nil {
		response.Internal(c, "failed to list participants")
		return
	}
	response.OK(c, gin.H{
		"participants": list,
		"online":       h.registry.Count(sessionID),
		"peak":         h.registry.Peak(sessionID),
	})
}

func (h *Handler) sessionFromPath(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return uuid.Nil, false
	}
	if middleware.SessionFromContext(c) != id {
		response.Forbidden(c, "token does not belong to this session")
		return uuid.Nil, false
	}
	return id, true
}
