// Package http provides the HTTP API surface for the Tessera service.
package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	terrors "github.com/arkilian/tessera/internal/errors"
)

// requestIDKey is the gin context key for the request ID.
const requestIDKey = "request_id"

// ErrorResponse is the JSON error envelope.
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code,omitempty"`
	Category  string `json:"category,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// RequestIDMiddleware assigns each request a request_id, honoring a
// caller-supplied X-Request-ID header.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Set(requestIDKey, requestID)
		c.Header("X-Request-ID", requestID)
		c.Next()
	}
}

// requestID retrieves the request ID from the gin context.
func requestID(c *gin.Context) string {
	if id, ok := c.Get(requestIDKey); ok {
		if s, ok := id.(string); ok {
			return s
		}
	}
	return ""
}

// renderError writes the JSON error envelope for an error, mapping the
// structured error taxonomy to HTTP status codes.
func renderError(c *gin.Context, err error) {
	resp := ErrorResponse{
		Error:     err.Error(),
		RequestID: requestID(c),
	}

	status := http.StatusInternalServerError
	if cat := terrors.GetCategory(err); cat != "" {
		resp.Category = string(cat)
		resp.Code = terrors.GetCode(err)
		resp.Retryable = terrors.IsRetryable(err)
		status = statusFor(resp.Code)
	}

	c.AbortWithStatusJSON(status, resp)
}

// renderBadRequest writes a 400 for malformed request payloads.
func renderBadRequest(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{
		Error:     message,
		RequestID: requestID(c),
	})
}

// statusFor maps an error code to an HTTP status.
func statusFor(code string) int {
	switch code {
	case terrors.CodeOutOfRange, terrors.CodeRoutingFailed:
		return http.StatusUnprocessableEntity
	case terrors.CodeInvalidBoundary, terrors.CodeInvalidScheme, terrors.CodeInvalidCommand:
		return http.StatusBadRequest
	case terrors.CodeStaleVersion, terrors.CodeBoundaryConflict:
		return http.StatusConflict
	case terrors.CodeRowNotFound, terrors.CodeVersionMissing, terrors.CodeObjectNotFound:
		return http.StatusNotFound
	case terrors.CodeStoreClosed:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
