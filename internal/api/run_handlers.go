package api

import (
	"net/http"

	"github.com/JakeFAU/pdfcrawler/internal/coordinator"
	"github.com/JakeFAU/pdfcrawler/internal/crawler"
)

// RunStatus is the read-only view of a run the status endpoints expose.
type RunStatus interface {
	RunContext() coordinator.RunContext
	State() coordinator.State
	Stats() crawler.StatsSnapshot
}

// RunHandler serves the run status endpoints.
type RunHandler struct {
	run RunStatus
}

// NewRunHandler wires the run status source.
func NewRunHandler(run RunStatus) *RunHandler {
	return &RunHandler{run: run}
}

// GetRun handles GET /v1/run. It returns the run identity, lifecycle state
// and counters, or 503 when no run is attached.
func (h *RunHandler) GetRun(w http.ResponseWriter, _ *http.Request) {
	if h.run == nil {
		writeError(w, http.StatusServiceUnavailable, "run unavailable")
		return
	}
	rc := h.run.RunContext()
	writeJSON(w, http.StatusOK, runDTO{
		RunID:        rc.RunID,
		State:        string(h.run.State()),
		OutputDir:    rc.OutputDir,
		MetadataPath: rc.MetadataPath,
		Seeds:        rc.Seeds,
		Stats:        h.run.Stats(),
	})
}

// GetStats handles GET /v1/run/stats.
func (h *RunHandler) GetStats(w http.ResponseWriter, _ *http.Request) {
	if h.run == nil {
		writeError(w, http.StatusServiceUnavailable, "run unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stats": h.run.Stats()})
}

func isActive(state coordinator.State) bool {
	switch state {
	case coordinator.StateSeeding, coordinator.StateRunning, coordinator.StateDraining:
		return true
	default:
		return false
	}
}

type runDTO struct {
	RunID        string                `json:"run_id"`
	State        string                `json:"state"`
	OutputDir    string                `json:"output_dir"`
	MetadataPath string                `json:"metadata_path"`
	Seeds        []string              `json:"seeds"`
	Stats        crawler.StatsSnapshot `json:"stats"`
}
