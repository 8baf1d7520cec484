package api

import (
	"net/http"

	"github.com/nerrad567/storcube-bridge/internal/bridges/storcube"
)

// handleHealth reports the bridge health.
// Starting and degraded bridges answer 503 so orchestrators can gate on it.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	msg := s.health.Health()
	if msg.Version == "" {
		msg.Version = s.version
	}

	status := http.StatusOK
	if msg.Status != storcube.HealthHealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, msg)
}
