package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/aigoflow/designgen-service/internal/generr"
	"github.com/aigoflow/designgen-service/internal/models"
	"github.com/aigoflow/designgen-service/internal/queue"
	"github.com/aigoflow/designgen-service/internal/services"
)

// HealthReporter is satisfied by services.HealthService.
type HealthReporter interface {
	Status() services.HealthStatus
}

type GenerationHandler struct {
	generation *services.GenerationService
	health     HealthReporter
}

func NewGenerationHandler(generation *services.GenerationService, health HealthReporter) *GenerationHandler {
	return &GenerationHandler{
		generation: generation,
		health:     health,
	}
}

func (h *GenerationHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/generations", h.handleSubmit)
	mux.HandleFunc("DELETE /v1/generations/completed", h.handleClearCompleted)
	mux.HandleFunc("GET /v1/generations/{id}", h.handleGet)
	mux.HandleFunc("GET /v1/generations/{id}/events", h.handleEvents)
	mux.HandleFunc("POST /v1/generations/{id}/cancel", h.handleCancel)
	mux.HandleFunc("GET /v1/queue", h.handleQueue)
	mux.HandleFunc("GET /logs", h.handleLogs)
	mux.HandleFunc("GET /healthz", h.handleHealth)
}

type errorResponse struct {
	Error   string   `json:"error"`
	Kind    string   `json:"kind,omitempty"`
	Details []string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	resp := errorResponse{Error: err.Error()}
	var ge *generr.Error
	if errors.As(err, &ge) {
		resp.Error = ge.Message
		resp.Kind = string(ge.Kind)
		resp.Details = ge.Details
	}
	writeJSON(w, status, resp)
}

// maxSubmitBytes caps a submit body; descriptions are short briefs.
const maxSubmitBytes = 64 << 10

func (h *GenerationHandler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxSubmitBytes)

	var input models.DesignInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, generr.Wrap(generr.KindValidation, err,
				fmt.Sprintf("request body exceeds %d bytes", maxSubmitBytes)))
			return
		}
		writeError(w, http.StatusBadRequest, generr.Wrap(generr.KindValidation, err, "invalid JSON"))
		return
	}

	id, err := h.generation.Submit(input, "http")
	switch {
	case err == nil:
	case generr.Is(err, generr.KindValidation):
		writeError(w, http.StatusBadRequest, err)
		return
	case errors.Is(err, queue.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, err)
		return
	default:
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	w.Header().Set("Location", "/v1/generations/"+id)
	writeJSON(w, http.StatusAccepted, map[string]string{
		"id":     id,
		"status": string(models.StatusPending),
	})
}

func (h *GenerationHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	req, ok, err := h.generation.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, queue.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (h *GenerationHandler) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	switch err := h.generation.Cancel(id); {
	case errors.Is(err, queue.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, queue.ErrTerminal):
		writeError(w, http.StatusConflict, err)
	case err != nil:
		writeError(w, http.StatusInternalServerError, err)
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

// handleEvents streams progress as server-sent events until the request is
// terminal or the client goes away.
func (h *GenerationHandler) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	id := r.PathValue("id")

	// At most one event per stage, plus the final one.
	events := make(chan models.GenerationProgress, 16)
	unsubscribe := h.generation.Subscribe(id, func(ev models.GenerationProgress) {
		select {
		case events <- ev:
		default:
			slog.Warn("Dropping progress event for slow client", "req_id", ev.RequestID, "stage", ev.Stage)
		}
	})
	defer unsubscribe()

	// Read after subscribing so a transition in between is not missed.
	req, found, err := h.generation.Get(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, queue.ErrNotFound)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if req.Status.Terminal() {
		writeEvent(w, "result", req)
		flusher.Flush()
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case ev := <-events:
			writeEvent(w, "progress", ev)
			if ev.Stage != models.StageCompleted {
				flusher.Flush()
				continue
			}
			if final, ok, _ := h.generation.Get(r.Context(), id); ok {
				writeEvent(w, "result", final)
			}
			flusher.Flush()
			return
		}
	}
}

func writeEvent(w http.ResponseWriter, event string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
}

func (h *GenerationHandler) handleQueue(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         h.generation.Status(),
		"circuit_state":  h.generation.CircuitState(),
		"max_concurrent": h.generation.Queue().MaxConcurrent(),
		"requests":       h.generation.Queue().List(),
	})
}

func (h *GenerationHandler) handleClearCompleted(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]int{"removed": h.generation.ClearCompleted()})
}

func (h *GenerationHandler) handleLogs(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if s := r.URL.Query().Get("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			limit = n
		}
	}

	logs, err := h.generation.GetGenerationLogs(r.Context(), limit)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to get logs: %v", err), http.StatusInternalServerError)
		return
	}
	if logs == nil {
		logs = []*models.GenerationLog{}
	}
	writeJSON(w, http.StatusOK, logs)
}

func (h *GenerationHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if h.health == nil {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
		return
	}
	writeJSON(w, http.StatusOK, h.health.Status())
}
