// Package httpx renders JSON responses and the API error envelope.
package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/tripdesk/api/internal/platform/requestctx"
)

const (
	maxCodeLen    = 80
	maxMessageLen = 512
)

// Error is an API failure with its HTTP status. The zero Status renders as 500.
type Error struct {
	Code    string
	Message string
	Status  int
}

func NewError(code, message string, status int) Error {
	return Error{Code: code, Message: message, Status: status}
}

func (e Error) Error() string {
	return e.Code + ": " + e.Message
}

type envelope struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	Status    int    `json:"status"`
	RequestID string `json:"request_id,omitempty"`
	TraceID   string `json:"trace_id,omitempty"`
}

// WriteError renders err together with the request and trace identifiers found on ctx.
func WriteError(ctx context.Context, w http.ResponseWriter, err Error) {
	status := err.Status
	if status == 0 {
		status = http.StatusInternalServerError
	}
	WriteJSON(w, status, envelope{
		Error:     singleLine(err.Code, maxCodeLen),
		Message:   singleLine(err.Message, maxMessageLen),
		Status:    status,
		RequestID: singleLine(middleware.GetReqID(ctx), maxCodeLen),
		TraceID:   requestctx.TraceID(ctx),
	})
}

func WriteJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func singleLine(value string, limit int) string {
	value = strings.TrimSpace(strings.NewReplacer("\n", " ", "\r", " ").Replace(value))
	if len(value) > limit {
		value = value[:limit]
	}
	return value
}
