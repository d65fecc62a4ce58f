package supervisor

import (
	"net/http"

	"github.com/wisbric/orchestra/internal/httpserver"
)

// queueHealthResponse is the JSON shape of GET /api/production/queue/heartbeat
// and /health/queue (spec §6).
type queueHealthResponse struct {
	Driver        string `json:"driver"`
	Durable       bool   `json:"durable"`
	Backlog       int64  `json:"backlog"`
	LastHeartbeat string `json:"lastHeartbeat"`
}

// HandleQueueHealth serves GET /health/queue and
// GET /api/production/queue/heartbeat.
func (s *Supervisor) HandleQueueHealth(w http.ResponseWriter, r *http.Request) {
	health, err := s.QueueHealth(r.Context())
	if err != nil {
		httpserver.RespondError(w, http.StatusServiceUnavailable, "unavailable", "queue health check failed")
		return
	}
	httpserver.Respond(w, http.StatusOK, queueHealthResponse{
		Driver:        health.Driver,
		Durable:       health.Durable,
		Backlog:       health.Backlog,
		LastHeartbeat: health.LastHeartbeat.Format(timeFormat),
	})
}

// readyResponse is the JSON shape of GET /api/production/ready.
type readyResponse struct {
	Ready       bool     `json:"ready"`
	StaleWorker []string `json:"staleWorkers,omitempty"`
}

// HandleReady serves GET /api/production/ready: 200 once every known
// worker has heartbeat within 2x its tick period, 503 otherwise (spec §4.9).
func (s *Supervisor) HandleReady(w http.ResponseWriter, _ *http.Request) {
	ready, stale := s.Ready()
	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	httpserver.Respond(w, status, readyResponse{Ready: ready, StaleWorker: stale})
}

const timeFormat = "2006-01-02T15:04:05.000Z07:00"
