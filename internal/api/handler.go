package api

import (
	"encoding/json"
	"net/http"
	"time"
)

const (
	// HealthyStatus is the Status value reported by the health endpoint.
	HealthyStatus = "Healthy"
	// TimestampLayout is RFC 3339 in UTC with millisecond precision.
	TimestampLayout = "2006-01-02T15:04:05.000Z07:00"
)

// Handler serves the JSON endpoints.
type Handler struct {
	clock func() time.Time
}

// HandlerOption configures Handler behaviour.
type HandlerOption func(*Handler)

// WithClock overrides the time source, primarily for tests.
func WithClock(clock func() time.Time) HandlerOption {
	return func(h *Handler) {
		h.clock = clock
	}
}

// NewHandler constructs a Handler.
func NewHandler(opts ...HandlerOption) *Handler {
	h := &Handler{
		clock: time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{
		Status:    HealthyStatus,
		Timestamp: h.clock().UTC().Format(TimestampLayout),
	}
	writeJSON(w, http.StatusOK, resp)
}

type healthResponse struct {
	Status    string `json:"Status"`
	Timestamp string `json:"Timestamp"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if status != 0 {
		w.WriteHeader(status)
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message, details string) {
	writeJSON(w, status, errorResponse{
		Error:   message,
		Details: details,
	})
}
