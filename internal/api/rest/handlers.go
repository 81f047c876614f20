package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/clintrovert/wfsync/internal/store"
	"github.com/clintrovert/wfsync/internal/synchronizer"
)

const maxCycles = 100

// Syncer is the part of the orchestrator the API exposes
type Syncer interface {
	Status() synchronizer.Status
	Trigger() bool
}

// CycleHistory lists recorded sync cycles
type CycleHistory interface {
	RecentCycles(ctx context.Context, limit int) ([]store.Cycle, error)
}

// Handler handles REST API requests
type Handler struct {
	syncer  Syncer
	history CycleHistory
	logger  *zap.Logger
}

// NewHandler creates a new REST handler
func NewHandler(syncer Syncer, history CycleHistory, logger *zap.Logger) *Handler {
	return &Handler{
		syncer:  syncer,
		history: history,
		logger:  logger,
	}
}

// TriggerSyncResponse represents the response to a sync request
type TriggerSyncResponse struct {
	Status string `json:"status"`
}

// CycleResponse is one recorded sync cycle
type CycleResponse struct {
	ID         string `json:"id"`
	StartedAt  string `json:"started_at"`
	FinishedAt string `json:"finished_at"`
	Projects   int    `json:"projects"`
	Requests   int    `json:"requests"`
	Error      string `json:"error,omitempty"`
}

// GetStatus handles GET /status
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.syncer.Status())
}

// TriggerSync handles POST /sync
func (h *Handler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	resp := TriggerSyncResponse{Status: "queued"}
	if !h.syncer.Trigger() {
		resp.Status = "already_queued"
	}

	h.logger.Info("sync requested over rest", zap.String("status", resp.Status))
	writeJSON(w, http.StatusAccepted, resp)
}

// ListCycles handles GET /cycles
func (h *Handler) ListCycles(w http.ResponseWriter, r *http.Request) {
	limit := 10
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > maxCycles {
			http.Error(w, "limit must be between 1 and 100", http.StatusBadRequest)
			return
		}
		limit = n
	}

	cycles, err := h.history.RecentCycles(r.Context(), limit)
	if err != nil {
		h.logger.Error("failed to list cycles", zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	resp := make([]CycleResponse, 0, len(cycles))
	for _, c := range cycles {
		resp = append(resp, CycleResponse{
			ID:         c.ID,
			StartedAt:  c.StartedAt.UTC().Format(time.RFC3339),
			FinishedAt: c.FinishedAt.UTC().Format(time.RFC3339),
			Projects:   c.Projects,
			Requests:   c.Requests,
			Error:      c.Error,
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

// RegisterRoutes registers REST API routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/status", h.GetStatus)
	r.Post("/sync", h.TriggerSync)
	r.Get("/cycles", h.ListCycles)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
