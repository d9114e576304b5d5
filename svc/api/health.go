package api

import (
	"context"
	"net/http"
	"time"

	"pastelink/metrics"
	"pastelink/svc/util"
)

type HealthResponse struct {
	Status string `json:"status"`
}
type HealthzResponse struct {
	OK         bool   `json:"ok"`
	Status     string `json:"status"`
	Storage    string `json:"storage"`
	Backend    string `json:"backend"`
	Configured bool   `json:"configured"`
	Timestamp  string `json:"timestamp"`
}

func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// Healthz probes the backend. Configured reports whether a durable store
// is set up; the in-memory fallback answers but loses data on restart.
func (s *Server) Healthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	resp := HealthzResponse{
		OK:         true,
		Status:     "ok",
		Storage:    "available",
		Backend:    "memory",
		Configured: s.cfg.RedisURL != "",
		Timestamp:  time.Now().UTC().Format(isoMillis),
	}
	if resp.Configured {
		resp.Backend = "redis"
	}
	status := http.StatusOK
	if err := s.paste.Ping(ctx); err != nil {
		util.Error().Err(err).Str("backend", resp.Backend).Msg("storage health check failed")
		resp.OK = false
		resp.Status = "error"
		resp.Storage = "unavailable"
		status = http.StatusServiceUnavailable
		metrics.BackendUp.Set(0)
	} else {
		metrics.BackendUp.Set(1)
	}
	writeJSON(w, status, resp)
}
