// Package api provides the operational HTTP server for propledger.
// It exposes the reconciliation run, review and stats operations as JSON.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/propledger/propledger/internal/app/reconcile"
	"github.com/propledger/propledger/internal/domain"
)

// Version is reported by /api/version.
const Version = "0.1.0"

// Service is the slice of the reconciliation engine the API exposes.
// *reconcile.Engine satisfies it.
type Service interface {
	Run(ctx context.Context, opts reconcile.Options) (*reconcile.Result, error)
	ReconciliationStats(ctx context.Context, companyID string) (*reconcile.Stats, error)
	TransactionsForManualReview(ctx context.Context, companyID string) ([]reconcile.ReviewItem, error)
	Runs(ctx context.Context, companyID string, limit int) ([]domain.RunRecord, error)
	ManualReconciliation(ctx context.Context, transactionID, paymentID, userID string) error
	ReverseManualMatch(ctx context.Context, transactionID, userID string) error
	DiscardTransaction(ctx context.Context, transactionID, reason, userID string) error
	Audit(ctx context.Context, transactionID string) ([]domain.AuditEntry, error)
}

// Server is the propledger HTTP API server.
type Server struct {
	svc            Service
	metricsEnabled bool
	timeout        time.Duration
}

// NewServer creates a new API server.
func NewServer(svc Service) *Server {
	return &Server{svc: svc, timeout: 2 * time.Minute}
}

// EnableMetrics enables the /metrics Prometheus endpoint.
func (s *Server) EnableMetrics() { s.metricsEnabled = true }

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(s.timeout))
	r.Use(corsMiddleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"status": "ok",
		})
	})

	r.Get("/api/version", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"version": Version,
		})
	})

	r.Route("/api/reconciliation", func(r chi.Router) {
		r.Post("/runs", s.handleRun)
		r.Route("/companies/{companyID}", func(r chi.Router) {
			r.Get("/stats", s.handleStats)
			r.Get("/review", s.handleReview)
			r.Get("/runs", s.handleRuns)
		})
		r.Route("/transactions/{transactionID}", func(r chi.Router) {
			r.Post("/match", s.handleMatch)
			r.Post("/unmatch", s.handleUnmatch)
			r.Post("/discard", s.handleDiscard)
			r.Get("/audit", s.handleAudit)
		})
	})

	if s.metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	return r
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]interface{}{
			"message": msg,
			"type":    errorType(status),
		},
	})
}

// writeDomainError maps engine errors onto HTTP status codes.
func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		log.Printf("[api] %s %s: %v", r.Method, r.URL.Path, err)
	}
	writeError(w, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case domain.IsSetupError(err):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func errorType(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "invalid_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	default:
		return "error"
	}
}

// corsMiddleware adds CORS headers for local tooling.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
