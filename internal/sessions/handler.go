package sessions

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/noor-live/backend/internal/middleware"
	"github.com/noor-live/backend/pkg/response"
)

// CreateRequest is the body for POST /sessions.
type CreateRequest struct {
	Title           string `json:"title" binding:"required"`
	MaxParticipants int    `json:"max_participants"`
}

// HostAuthRequest is the body for POST /sessions/:id/hostauth.
type HostAuthRequest struct {
	Token string `json:"token" binding:"required"`
}

// Handler handles session lifecycle HTTP endpoints.
type Handler struct {
	svc *Service
}

// NewHandler creates a sessions handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// Create handles POST /sessions (provisioning). The one-time host upgrade
// credential is returned only here.
func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	sess, hostAuth, err := h.svc.Create(c.Request.Context(), req.Title, req.MaxParticipants)
	if err != nil {
		response.Internal(c, "failed to create session")
		return
	}
	response.Created(c, gin.H{
		"session":         sess,
		"host_auth_token": hostAuth,
	})
}

// Open handles POST /sessions/:id/open (host only).
func (h *Handler) Open(c *gin.Context) {
	id, ok := h.ownSession(c)
	if !ok {
		return
	}
	sess, err := h.svc.Open(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.OK(c, sess)
}

// Start handles POST /sessions/:id/start (host only).
func (h *Handler) Start(c *gin.Context) {
	id, ok := h.ownSession(c)
	if !ok {
		return
	}
	sess, err := h.svc.Start(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.OK(c, sess)
}

// End handles POST /sessions/:id/end (host only).
func (h *Handler) End(c *gin.Context) {
	id, ok := h.ownSession(c)
	if !ok {
		return
	}
	sess, err := h.svc.End(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.OK(c, sess)
}

// ValidateToken handles GET /tokens/:token/validate (public).
func (h *Handler) ValidateToken(c *gin.Context) {
	sessionID, role, err := h.svc.ValidateToken(c.Request.Context(), c.Param("token"))
	if err != nil {
		h.fail(c, err)
		return
	}
	sess, err := h.svc.Get(c.Request.Context(), sessionID)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.OK(c, gin.H{
		"session_id": sessionID,
		"role":       role,
		"status":     sess.Status,
		"title":      sess.Title,
	})
}

// RedeemHostAuth handles POST /sessions/:id/hostauth (public, one-time).
func (h *Handler) RedeemHostAuth(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	var req HostAuthRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	token, err := h.svc.RedeemHostAuth(c.Request.Context(), id, req.Token)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.OK(c, gin.H{"jwt": token})
}

// ownSession parses the path id and rejects requests whose credential belongs
// to a different session.
func (h *Handler) ownSession(c *gin.Context) (uuid.UUID, bool) {
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

func (h *Handler) fail(c *gin.Context, err error) {
	if errors.Is(err, ErrNotFound) {
		response.NotFound(c, "session not found")
		return
	}
	response.Error(c, err)
}
