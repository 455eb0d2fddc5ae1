package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nfa-labs/autopilot/pkg/store"
)

// ErrorResponse is the structured error body for every non-2xx response.
type ErrorResponse struct {
	Error   string            `json:"error"`
	Code    string            `json:"code"`
	Details map[string]string `json:"details,omitempty"`
}

// Error codes used in ErrorResponse.Code.
const (
	codeBadRequest   = "BAD_REQUEST"
	codeValidation   = "VALIDATION_ERROR"
	codeNotFound     = "NOT_FOUND"
	codeConflict     = "CONFLICT"
	codeUnauthorized = "UNAUTHORIZED"
	codeInternal     = "INTERNAL_ERROR"
)

// writeError maps store and scheduler errors to HTTP error responses.
func writeError(c *gin.Context, err error) {
	var validErr *store.ValidationError
	if errors.As(err, &validErr) {
		c.JSON(http.StatusBadRequest, &ErrorResponse{
			Error:   validErr.Message,
			Code:    codeValidation,
			Details: map[string]string{"field": validErr.Field},
		})
		return
	}
	if errors.Is(err, store.ErrInvalidInput) {
		c.JSON(http.StatusBadRequest, &ErrorResponse{Error: err.Error(), Code: codeValidation})
		return
	}
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, &ErrorResponse{Error: "resource not found", Code: codeNotFound})
		return
	}
	if errors.Is(err, store.ErrAlreadyExists) {
		c.JSON(http.StatusConflict, &ErrorResponse{Error: "resource already exists", Code: codeConflict})
		return
	}

	// Unexpected error: log the cause, hide it from the client.
	slog.Error("Unexpected control-plane error",
		"method", c.Request.Method, "path", c.Request.URL.Path, "error", err)
	c.JSON(http.StatusInternalServerError, &ErrorResponse{Error: "internal server error", Code: codeInternal})
}

// badRequest rejects a malformed request body or query parameter.
func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, &ErrorResponse{Error: msg, Code: codeBadRequest})
}
