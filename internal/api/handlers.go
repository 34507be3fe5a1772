package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/yegors/clipgremlin/internal/activity"
	"github.com/yegors/clipgremlin/internal/pipeline"
	"github.com/yegors/clipgremlin/internal/storage/sqlite"
	"github.com/yegors/clipgremlin/pkg/logger"
)

const maxPromptLimit = 500

// Pipeline is the slice of the orchestrator the API reads and controls
type Pipeline interface {
	Health() pipeline.Health
	Status() pipeline.Status
	Stats() activity.Stats
	SetMuted(muted bool)
	Muted() bool
}

// PromptStore serves the prompt audit log
type PromptStore interface {
	Recent(ctx context.Context, limit int) ([]sqlite.PromptEntry, error)
}

// Handler contains the API handlers
type Handler struct {
	pipeline Pipeline
	prompts  PromptStore
	version  string
	logger   *logger.Logger
}

// NewHandler creates a new API handler. prompts may be nil.
func NewHandler(p Pipeline, prompts PromptStore, version string, log *logger.Logger) *Handler {
	return &Handler{
		pipeline: p,
		prompts:  prompts,
		version:  version,
		logger:   log.Named("api-handler"),
	}
}

type healthResponse struct {
	Status string `json:"status"`
	pipeline.Health
	Version string `json:"version"`
}

// GetHealth reports liveness; 503 unless the pipeline is running
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	health := h.pipeline.Health()
	resp := healthResponse{Status: "ok", Health: health, Version: h.version}
	status := http.StatusOK
	if !health.Running {
		resp.Status = "unavailable"
		status = http.StatusServiceUnavailable
	}
	WriteJSON(w, status, resp)
}

// GetStatus returns health plus mute, rate and transcript state
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, h.pipeline.Status())
}

// GetStats returns the chat activity statistics
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, h.pipeline.Stats())
}

// GetPrompts returns recent prompt audit rows
func (h *Handler) GetPrompts(w http.ResponseWriter, r *http.Request) {
	if h.prompts == nil {
		http.Error(w, "prompt log disabled", http.StatusNotFound)
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = min(n, maxPromptLimit)
	}

	entries, err := h.prompts.Recent(r.Context(), limit)
	if err != nil {
		h.logger.Error("Failed to read prompt log", Error(err))
		http.Error(w, "failed to read prompt log", http.StatusInternalServerError)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"prompts": entries,
		"count":   len(entries),
	})
}

type muteRequest struct {
	Muted *bool `json:"muted"`
}

// PutMute sets the operator mute flag
func (h *Handler) PutMute(w http.ResponseWriter, r *http.Request) {
	var req muteRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1024)).Decode(&req); err != nil || req.Muted == nil {
		http.Error(w, `body must be {"muted": true|false}`, http.StatusBadRequest)
		return
	}

	h.pipeline.SetMuted(*req.Muted)
	h.logger.Info("Mute changed via API", Bool("muted", *req.Muted), String("remote_addr", r.RemoteAddr))
	WriteJSON(w, http.StatusOK, map[string]bool{"muted": h.pipeline.Muted()})
}

// WriteJSON writes a JSON response
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

var (
	String = logger.String
	Bool   = logger.Bool
	Error  = logger.Error
)
