package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/nakliyeci/carrier-jobs/internal/auth"
	"github.com/nakliyeci/carrier-jobs/pkg/apperrors"
	"github.com/nakliyeci/carrier-jobs/pkg/middleware"
)

// ApiResponse is the envelope of every response
type ApiResponse struct {
	Success bool                   `json:"success"`
	Data    interface{}            `json:"data,omitempty"`
	Error   string                 `json:"error,omitempty"`
	Code    string                 `json:"code,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// Health represents the health check response
type Health struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	Timestamp string `json:"timestamp"`
	Storage   string `json:"storage"`
	Kafka     bool   `json:"kafka"`
}

// healthCheckHandler handles the health check endpoint
func (s *Server) healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	health := Health{
		Status:    "ok",
		Version:   "0.1.0",
		Timestamp: time.Now().Format(time.RFC3339),
		Storage:   s.config.StorageDriver,
		Kafka:     s.config.Kafka.Enabled,
	}

	status := http.StatusOK
	if s.db != nil {
		if err := s.db.Ping(r.Context()); err != nil {
			s.logger.Warn("Health check database ping failed", "error", err)
			health.Status = "degraded"
			status = http.StatusServiceUnavailable
		}
	}

	s.respondWithJSON(w, status, ApiResponse{
		Success: status == http.StatusOK,
		Data:    health,
	})
}

// caller returns the identity set by the auth middleware
func caller(r *http.Request) *auth.Identity {
	id, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		return &auth.Identity{}
	}
	return id
}

// decodeJSON reads the request body into dst. An empty body leaves dst untouched.
func decodeJSON(r *http.Request, dst interface{}) error {
	defer r.Body.Close()

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return apperrors.NewInvalidInputError("invalid request payload").WithContext("reason", err.Error())
	}
	return nil
}

// respondWithAppError maps err to its status and machine code. Errors that
// are not *AppError are logged and reported as internal.
func (s *Server) respondWithAppError(w http.ResponseWriter, r *http.Request, err error) {
	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) {
		s.logger.Error("Unhandled error",
			"error", err,
			"path", r.URL.Path,
			"requestID", middleware.RequestIDFromContext(r.Context()))
		appErr = apperrors.NewInternalError("internal server error")
	}

	response := ApiResponse{
		Success: false,
		Error:   appErr.Error(),
		Code:    appErr.Code,
	}
	if len(appErr.Context) > 0 {
		response.Details = appErr.Context
	}

	status := appErr.StatusCode
	if status == 0 {
		status = http.StatusInternalServerError
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("Request failed", "error", err, "path", r.URL.Path, "status", status)
	}

	s.respondWithJSON(w, status, response)
}

// respondWithError sends a JSON response with an error message
func (s *Server) respondWithError(w http.ResponseWriter, code int, message string) {
	s.respondWithJSON(w, code, ApiResponse{
		Success: false,
		Error:   message,
	})
}

// respondWithJSON sends a JSON response
func (s *Server) respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("Failed to marshal response", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}
