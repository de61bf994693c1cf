package response

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noor-live/backend/pkg/errs"
)

// Body is the standard API response envelope.
type Body struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// OK sends a 200 JSON response with data.
func OK(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Body{Success: true, Data: data})
}

// Created sends a 201 JSON response with data.
func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, Body{Success: true, Data: data})
}

// BadRequest sends 400 with error message.
func BadRequest(c *gin.Context, err string) {
	c.JSON(http.StatusBadRequest, Body{Success: false, Error: err})
}

// Unauthorized sends 401.
func Unauthorized(c *gin.Context, err string) {
	c.JSON(http.StatusUnauthorized, Body{Success: false, Error: err})
}

// Forbidden sends 403.
func Forbidden(c *gin.Context, err string) {
	c.JSON(http.StatusForbidden, Body{Success: false, Error: err})
}

// NotFound sends 404.
func NotFound(c *gin.Context, err string) {
	c.JSON(http.StatusNotFound, Body{Success: false, Error: err})
}

// Conflict sends 409 with error message.
func Conflict(c *gin.Context, err string) {
	c.JSON(http.StatusConflict, Body{Success: false, Error: err})
}

// Internal sends 500.
func Internal(c *gin.Context, err string) {
	c.JSON(http.StatusInternalServerError, Body{Success: false, Error: err})
}

// Error maps a core error kind to its HTTP status. Unknown errors become 500
// with a generic message so internals never leak to clients.
func Error(c *gin.Context, err error) {
	switch {
	case errors.Is(err, errs.ErrTokenNotFound), errors.Is(err, errs.ErrAssetNotFound):
		NotFound(c, err.Error())
	case errors.Is(err, errs.ErrTokenExpired):
		Unauthorized(c, err.Error())
	case errors.Is(err, errs.ErrInvalidTransition),
		errors.Is(err, errs.ErrStaleTransition),
		errors.Is(err, errs.ErrShareInProgress),
		errors.Is(err, errs.ErrSessionNotActive):
		Conflict(c, err.Error())
	case errors.Is(err, errs.ErrEmptyQuestion),
		errors.Is(err, errs.ErrContentParse),
		errors.Is(err, errs.ErrMalformedPayload):
		BadRequest(c, err.Error())
	default:
		Internal(c, "internal error")
	}
}
