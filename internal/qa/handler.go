package qa

import (
	"encoding/json"
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/noor-live/backend/internal/middleware"
	"github.com/noor-live/backend/internal/models"
	"github.com/noor-live/backend/pkg/errs"
	"github.com/noor-live/backend/pkg/response"
)

// SubmitRequest is the body for POST /sessions/:id/questions.
type SubmitRequest struct {
	ParticipantID string `json:"participant_id" binding:"required"`
	Text          string `json:"text"`
}

// StatusRequest is the body for PATCH /sessions/:id/questions/:questionId.
type StatusRequest struct {
	Status string `json:"status" binding:"required"`
}

// Handler handles Q&A HTTP endpoints.
type Handler struct {
	agg *Aggregator
}

// NewHandler creates a Q&A handler.
func NewHandler(agg *Aggregator) *Handler {
	return &Handler{agg: agg}
}

// Submit handles POST /sessions/:id/questions.
func (h *Handler) Submit(c *gin.Context) {
	sessionID, ok := h.sessionFromPath(c)
	if !ok {
		return
	}
	var req SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	authorID, err := uuid.Parse(req.ParticipantID)
	if err != nil {
		response.BadRequest(c, "invalid participant id")
		return
	}
	q, err := h.agg.Submit(c.Request.Context(), sessionID, authorID, req.Text)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, gin.H{"question": q})
}

// Vote handles POST /sessions/:id/questions/:questionId/vote. The body is
// decoded field by field so a stringly-typed value fails closed instead of
// being cast.
func (h *Handler) Vote(c *gin.Context) {
	if _, ok := h.sessionFromPath(c); !ok {
		return
	}
	questionID, err := uuid.Parse(c.Param("questionId"))
	if err != nil {
		response.BadRequest(c, "invalid question id")
		return
	}

	dec := json.NewDecoder(c.Request.Body)
	dec.UseNumber()
	var raw map[string]interface{}
	if err := dec.Decode(&raw); err != nil {
		response.Error(c, errs.ErrMalformedPayload)
		return
	}
	voterRaw, err := coerceString(raw["participant_id"])
	if err != nil {
		response.Error(c, err)
		return
	}
	voterID, err := uuid.Parse(voterRaw)
	if err != nil {
		response.BadRequest(c, "invalid participant id")
		return
	}
	value, err := coerceInt(raw["value"])
	if err != nil {
		response.Error(c, err)
		return
	}

	count, err := h.agg.Vote(c.Request.Context(), questionID, voterID, value)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.OK(c, gin.H{"question_id": questionID, "vote_count": count})
}

// SetStatus handles PATCH /sessions/:id/questions/:questionId (host only).
func (h *Handler) SetStatus(c *gin.Context) {
	if _, ok := h.sessionFromPath(c); !ok {
		return
	}
	questionID, err := uuid.Parse(c.Param("questionId"))
	if err != nil {
		response.BadRequest(c, "invalid question id")
		return
	}
	var req StatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	q, err := h.agg.SetStatus(c.Request.Context(), questionID, models.QuestionStatus(req.Status))
	if err != nil {
		h.fail(c, err)
		return
	}
	response.OK(c, gin.H{"question": q})
}

// List handles GET /sessions/:id/questions.
func (h *Handler) List(c *gin.Context) {
	sessionID, ok := h.sessionFromPath(c)
	if !ok {
		return
	}
	list, err := h.agg.List(c.Request.Context(), sessionID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"questions": list})
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

func (h *Handler) fail(c *gin.Context, err error) {
	if errors.Is(err, ErrQuestionNotFound) {
		response.NotFound(c, "question not found")
		return
	}
	response.Error(c, err)
}
