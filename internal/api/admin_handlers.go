package api

import (
	"net/http"

	"github.com/gorilla/mux"
)

// getCircuitBreakersHandler reports the state of every outbound circuit breaker
func (s *Server) getCircuitBreakersHandler(w http.ResponseWriter, r *http.Request) {
	metrics := make(map[string]interface{}, len(s.breakers))
	for name, cb := range s.breakers {
		metrics[name] = cb.GetMetrics()
	}

	s.respondWithJSON(w, http.StatusOK, ApiResponse{Success: true, Data: metrics})
}

// resetCircuitBreakerHandler forces a breaker back to closed
func (s *Server) resetCircuitBreakerHandler(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	cb, ok := s.breakers[name]
	if !ok {
		s.respondWithError(w, http.StatusNotFound, "unknown circuit breaker: "+name)
		return
	}

	cb.Reset()
	s.logger.Info("Circuit breaker reset", "name", name, "requestedBy", caller(r).UserID)

	s.respondWithJSON(w, http.StatusOK, ApiResponse{Success: true, Data: cb.GetMetrics()})
}

// getJobEventsHandler reports the events seen by the audit consumer
func (s *Server) getJobEventsHandler(w http.ResponseWriter, r *http.Request) {
	if s.jobEvents == nil {
		s.respondWithError(w, http.StatusNotFound, "event consumer is not running")
		return
	}

	counts, skipped := s.jobEvents.Stats()
	s.respondWithJSON(w, http.StatusOK, ApiResponse{
		Success: true,
		Data: map[string]interface{}{
			"events":  counts,
			"skipped": skipped,
		},
	})
}
