package server

import (
	"net/http"

	"go.uber.org/zap"
)

// StatsHandler serves aggregate engine statistics
type StatsHandler struct {
	downloads Downloads
	logger    *zap.Logger
}

// NewStatsHandler creates a new StatsHandler
func NewStatsHandler(downloads Downloads, logger *zap.Logger) *StatsHandler {
	return &StatsHandler{
		downloads: downloads,
		logger:    logger,
	}
}

type statsResponse struct {
	Total                int              `json:"total"`
	ByStatus             map[string]int   `json:"by_status"`
	CompletedBytes       int64            `json:"completed_bytes"`
	DownloadedBytesTotal int64            `json:"downloaded_bytes_total"`
	ActiveJobs           int              `json:"active_jobs"`
	ActiveWorkers        int64            `json:"active_workers"`
	Speed                float64          `json:"speed"`
	Events               map[string]int64 `json:"events,omitempty"`
}

// HandleStats handles statistics requests
func (h *StatsHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.downloads.GetStats(r.Context())
	if err != nil {
		h.logger.Error("failed to get stats", zap.Error(err))
		http.Error(w, "Failed to get stats", http.StatusInternalServerError)
		return
	}

	resp := statsResponse{
		ByStatus:      make(map[string]int),
		ActiveJobs:    stats.ActiveJobs,
		ActiveWorkers: stats.ActiveWorkers,
		Speed:         stats.Speed,
		Events:        stats.Events,
	}
	if stats.Jobs != nil {
		resp.Total = stats.Jobs.Total
		resp.CompletedBytes = stats.Jobs.CompletedBytes
		resp.DownloadedBytesTotal = stats.Jobs.DownloadedBytesTotal
		for st, n := range stats.Jobs.ByStatus {
			resp.ByStatus[string(st)] = n
		}
	}

	writeJSON(w, http.StatusOK, resp)
}
