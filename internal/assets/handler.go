package assets

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/noor-live/backend/internal/middleware"
	"github.com/noor-live/backend/internal/models"
	"github.com/noor-live/backend/pkg/response"
)

// ScanRequest is the body for POST /sessions/:id/assets/scan.
type ScanRequest struct {
	HTML string `json:"html" binding:"required"`
}

// Handler handles asset HTTP endpoints.
type Handler struct {
	engine *Engine
}

// NewHandler creates an assets handler.
func NewHandler(engine *Engine) *Handler {
	return &Handler{engine: engine}
}

// Scan handles POST /sessions/:id/assets/scan (host only).
func (h *Handler) Scan(c *gin.Context) {
	sessionID, ok := h.sessionFromPath(c)
	if !ok {
		return
	}
	var req ScanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	tagged, found, err := h.engine.Scan(sessionID, req.HTML)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{
		"html":   tagged,
		"assets": stripPayloads(found),
	})
}

// Share handles POST /sessions/:id/assets/:shareId/share (host only).
func (h *Handler) Share(c *gin.Context) {
	sessionID, ok := h.sessionFromPath(c)
	if !ok {
		return
	}
	asset, err := h.engine.Share(c.Request.Context(), sessionID, c.Param("shareId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"share_id": asset.ShareID, "asset_type": asset.Type})
}

// List handles GET /sessions/:id/assets.
func (h *Handler) List(c *gin.Context) {
	sessionID, ok := h.sessionFromPath(c)
	if !ok {
		return
	}
	response.OK(c, gin.H{"assets": h.engine.List(sessionID)})
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

// stripPayloads drops block HTML from scan responses; the payload travels
// only on the asset_shared broadcast.
func stripPayloads(in []models.ShareableAsset) []models.ShareableAsset {
	out := make([]models.ShareableAsset, len(in))
	for i, a := range in {
		a.Payload = ""
		out[i] = a
	}
	return out
}
