package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/cuemby/paddock/pkg/log"
	"github.com/cuemby/paddock/pkg/metrics"
)

// Server exposes the boundary operations over HTTP for server mode
type Server struct {
	service *Service
	mux     *http.ServeMux
	server  *http.Server
}

// NewServer creates the HTTP server around a boundary service
func NewServer(service *Service) *Server {
	mux := http.NewServeMux()
	s := &Server{
		service: service,
		mux:     mux,
	}

	// Register endpoints
	mux.HandleFunc("/healthz", s.healthHandler)
	mux.HandleFunc("/api/v1/", s.operationHandler)
	mux.Handle("/metrics", metrics.Handler())

	return s
}

// Start starts the HTTP server, blocking until it stops
func (s *Server) Start(addr string) error {
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	log.WithComponent("api").Info().
		Str("addr", addr).
		Msg("server listening")
	err := s.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests and stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// HealthResponse represents the liveness check response
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// healthHandler implements the /healthz endpoint
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(response)
}

// operationHandler dispatches POST /api/v1/<operation> to the boundary
// service
func (s *Server) operationHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	operation := strings.TrimPrefix(r.URL.Path, "/api/v1/")
	if operation == "" || strings.Contains(operation, "/") {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}

	var in Input
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			http.Error(w, "malformed input envelope: "+err.Error(), http.StatusBadRequest)
			return
		}
	}

	out := s.service.Run(r.Context(), operation, &in)
	w.Header().Set("Content-Type", "application/json")
	if out.Error != "" {
		w.WriteHeader(statusCodeFor(out.Metadata.ErrorType))
	} else {
		w.WriteHeader(http.StatusOK)
	}
	_ = json.NewEncoder(w).Encode(out)
}

// statusCodeFor maps envelope error tags onto HTTP status codes
func statusCodeFor(errorType string) int {
	switch errorType {
	case "ValidationError", "RequestValidationError", "InvalidRequestStateError", "InvalidMachineStateError":
		return http.StatusBadRequest
	case "TemplateNotFoundError", "RequestNotFoundError", "MachineNotFoundError", "ResourceNotFoundError":
		return http.StatusNotFound
	case "RateLimitExceeded":
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
