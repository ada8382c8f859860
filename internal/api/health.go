package api

import (
	"net/http"
	"runtime"
	"time"
)

// Version is reported by the health endpoint.
var Version = "dev"

// HealthResponse represents the health check response
type HealthResponse struct {
	Status     string       `json:"status"`
	Timestamp  time.Time    `json:"timestamp"`
	Version    string       `json:"version,omitempty"`
	Uptime     string       `json:"uptime,omitempty"`
	EventCount int64        `json:"event_count"`
	Memory     *MemoryStats `json:"memory,omitempty"`
}

// MemoryStats represents memory usage statistics
type MemoryStats struct {
	AllocMB      uint64 `json:"alloc_mb"`
	TotalAllocMB uint64 `json:"total_alloc_mb"`
	SysMB        uint64 `json:"sys_mb"`
	NumGC        uint32 `json:"num_gc"`
}

var startTime = time.Now()

// HandleHealth returns the health status of the application.
// Storage failures report "degraded" with a 503.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	response := HealthResponse{
		Status:    "ok",
		Timestamp: time.Now(),
		Version:   Version,
		Uptime:    time.Since(startTime).String(),
		Memory: &MemoryStats{
			AllocMB:      m.Alloc / 1024 / 1024,
			TotalAllocMB: m.TotalAlloc / 1024 / 1024,
			SysMB:        m.Sys / 1024 / 1024,
			NumGC:        m.NumGC,
		},
	}

	status := http.StatusOK
	count, err := s.store.CountEvents(r.Context())
	if err != nil {
		s.logger.Warn("health check could not reach storage", "error", err)
		response.Status = "degraded"
		status = http.StatusServiceUnavailable
	}
	response.EventCount = count

	s.respondJSON(w, status, response)
}
