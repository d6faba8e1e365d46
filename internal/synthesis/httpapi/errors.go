package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/neurobridge-synthesis/internal/synthesis/content"
	"github.com/yungbote/neurobridge-synthesis/internal/synthesis/engine"
)

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
	Param   string `json:"param,omitempty"`
}

func writeError(c *gin.Context, status int, message, code, param string) {
	msg := strings.TrimSpace(message)
	if msg == "" {
		msg = http.StatusText(status)
	}
	c.AbortWithStatusJSON(status, errorEnvelope{
		Error: errorBody{
			Message: msg,
			Code:    strings.TrimSpace(code),
			Param:   strings.TrimSpace(param),
		},
	})
}

// classify maps an engine error onto an HTTP status and error code.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, content.ErrInvalidSpec):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, engine.ErrClientUnavailable):
		return http.StatusServiceUnavailable, "client_unavailable"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusRequestTimeout, "request_canceled"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func errorFor(err error) *errorBody {
	_, code := classify(err)
	return &errorBody{Message: err.Error(), Code: code}
}
