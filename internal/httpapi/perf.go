package httpapi

import "net/http"

func (s *Server) handlePerfLatency(w http.ResponseWriter, _ *http.Request) {
	// SnapshotTurns tolerates a nil Metrics.
	respondJSON(w, http.StatusOK, s.metrics.SnapshotTurns())
}
