package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/mklimuk/frontdesk/pkg/automation"
	"github.com/mklimuk/frontdesk/pkg/contacts"
	"github.com/mklimuk/frontdesk/pkg/courier"
	"github.com/mklimuk/frontdesk/pkg/incident"
	"github.com/mklimuk/frontdesk/pkg/passon"
	"github.com/mklimuk/frontdesk/pkg/pipeline"
	"github.com/mklimuk/frontdesk/pkg/sendup"
	"github.com/mklimuk/frontdesk/pkg/shift"
)

// Handler holds dependencies for API handlers
type Handler struct {
	Notes     *passon.Board
	Shift     *shift.Board
	Courier   *courier.Tracker
	SendUp    *sendup.Board
	Incidents *incident.Log
	Contacts  []contacts.Contact
	// Jobs and Hub are optional.
	Jobs   *automation.Service
	Hub    *Hub
	Logger *zap.Logger
	Now    func() time.Time
}

func (h *Handler) now() time.Time {
	if h.Now == nil {
		return time.Now()
	}
	return h.Now()
}

func (h *Handler) logger() *zap.Logger {
	if h.Logger == nil {
		return zap.NewNop()
	}
	return h.Logger
}

type errorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

// writeError maps domain errors to status codes. Validation errors carry the
// offending field.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *pipeline.ValidationError
	status := http.StatusInternalServerError
	resp := errorResponse{Error: err.Error()}
	switch {
	case errors.As(err, &verr):
		status = http.StatusBadRequest
		resp = errorResponse{Error: verr.Message, Field: verr.Field}
	case errors.Is(err, passon.ErrNoteNotFound), errors.Is(err, automation.ErrUnknownJob):
		status = http.StatusNotFound
	case errors.Is(err, courier.ErrNothingToArchive),
		errors.Is(err, courier.ErrArchiveIncomplete),
		errors.Is(err, courier.ErrNoPendingArchive),
		errors.Is(err, automation.ErrJobRunning):
		status = http.StatusConflict
	case errors.Is(err, incident.ErrSuggestionUnavailable), errors.Is(err, pipeline.ErrClosed):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		h.logger().Error("request failed", zap.String("method", r.Method), zap.String("path", r.URL.Path), zap.Error(err))
	}
	writeJSON(w, status, resp)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Invalid request body"})
		return false
	}
	return true
}

func pathInt(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	v, err := strconv.Atoi(r.PathValue(name))
	if err != nil || v < 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid " + name, Field: name})
		return 0, false
	}
	return v, true
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
