package handlers

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/matiasleandrokruk/nerve/internal/domain/orch"
)

const wsWriteTimeout = 10 * time.Second

// OrchestratorHandler exposes an orch.Client over HTTP. Task events are
// pushed over a websocket, one JSON text frame per event.
type OrchestratorHandler struct {
	backend  orch.Client
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

func NewOrchestratorHandler(backend orch.Client, logger *slog.Logger) *OrchestratorHandler {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &OrchestratorHandler{
		backend: backend,
		logger:  logger,
		upgrader: websocket.Upgrader{
			// Callers authenticate with a bearer token, not cookies.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Capabilities handles GET /v1/capabilities.
func (h *OrchestratorHandler) Capabilities(w http.ResponseWriter, r *http.Request) {
	snap, err := h.backend.Capabilities(r.Context())
	if err != nil {
		writeServerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// Enqueue handles POST /v1/tasks.
//
// Response codes:
//   - 202 Accepted: task queued, body is the TaskAccepted
//   - 400 Bad Request: invalid JSON, missing model or unknown model
func (h *OrchestratorHandler) Enqueue(w http.ResponseWriter, r *http.Request) {
	var req orch.TaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, orch.CodeBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Model) == "" {
		writeError(w, http.StatusBadRequest, orch.CodeBadRequest, "model is required")
		return
	}

	accepted, err := h.backend.Enqueue(r.Context(), req)
	if err != nil {
		writeServerError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, accepted)
}

// Cancel handles POST /v1/tasks/{id}/cancel.
func (h *OrchestratorHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id := orch.TaskID(chi.URLParam(r, "id"))
	res, err := h.backend.Cancel(r.Context(), id)
	if err != nil {
		writeServerError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, res)
}

// Events handles GET /v1/tasks/{id}/events. The stream is opened before the
// upgrade so contract errors (unknown task, already streamed) reach the
// caller as a plain HTTP error envelope.
func (h *OrchestratorHandler) Events(w http.ResponseWriter, r *http.Request) {
	id := orch.TaskID(chi.URLParam(r, "id"))
	stream, err := h.backend.Stream(r.Context(), id)
	if err != nil {
		writeServerError(w, err)
		return
	}
	defer stream.Close() //nolint:errcheck

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "task_id", id, "error", err)
		return
	}
	defer conn.Close() //nolint:errcheck

	sent := 0
	for {
		evt, ok := stream.Next()
		if !ok {
			break
		}
		conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)) //nolint:errcheck
		if err := conn.WriteJSON(evt); err != nil {
			h.logger.Debug("event write failed", "task_id", id, "error", err)
			return
		}
		sent++
		if evt.Kind == orch.EventEnd || evt.Kind == orch.EventError {
			break
		}
	}

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteTimeout)) //nolint:errcheck
	h.logger.Debug("event stream closed", "task_id", id, "events", sent)
}
