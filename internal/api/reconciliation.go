package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/propledger/propledger/internal/app/reconcile"
)

// ─── Reconciliation API ─────────────────────────────────────────────────────
//
// POST /api/reconciliation/runs                                  start a run
// GET  /api/reconciliation/companies/{companyID}/stats           counts
// GET  /api/reconciliation/companies/{companyID}/review          review queue
// GET  /api/reconciliation/companies/{companyID}/runs            run journal
// POST /api/reconciliation/transactions/{transactionID}/match    manual match
// POST /api/reconciliation/transactions/{transactionID}/unmatch  reverse a manual match
// POST /api/reconciliation/transactions/{transactionID}/discard  not rent
// GET  /api/reconciliation/transactions/{transactionID}/audit    manual-action trail

const maxRunsLimit = 200

// matchRequest is the body of POST .../match.
type matchRequest struct {
	PaymentID string `json:"payment_id"`
	UserID    string `json:"user_id"`
}

// actorRequest is the body of POST .../unmatch and .../discard.
type actorRequest struct {
	UserID string `json:"user_id"`
	Reason string `json:"reason,omitempty"`
}

// handleRun executes one run. The outcome list is only returned for dry runs;
// live runs report counts and failures.
// POST /api/reconciliation/runs
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	var opts reconcile.Options
	if !decodeBody(w, r, &opts) {
		return
	}

	res, err := s.svc.Run(r.Context(), opts)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if !res.DryRun {
		res.Outcomes = nil
	}
	writeJSON(w, http.StatusOK, res)
}

// handleStats returns the company rollup.
// GET /api/reconciliation/companies/{companyID}/stats
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.svc.ReconciliationStats(r.Context(), chi.URLParam(r, "companyID"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// handleReview returns every unmatched transaction with its best suggestion.
// GET /api/reconciliation/companies/{companyID}/review
func (s *Server) handleReview(w http.ResponseWriter, r *http.Request) {
	items, err := s.svc.TransactionsForManualReview(r.Context(), chi.URLParam(r, "companyID"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"items": items,
		"count": len(items),
	})
}

// handleRuns returns the run journal, newest first.
// GET /api/reconciliation/companies/{companyID}/runs?limit=N
func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid limit %q", v))
			return
		}
		limit = min(n, maxRunsLimit)
	}

	runs, err := s.svc.Runs(r.Context(), chi.URLParam(r, "companyID"), limit)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"runs": runs,
	})
}

// handleMatch links the transaction to a payment.
// POST /api/reconciliation/transactions/{transactionID}/match
func (s *Server) handleMatch(w http.ResponseWriter, r *http.Request) {
	var req matchRequest
	if !decodeBody(w, r, &req) {
		return
	}
	txID := chi.URLParam(r, "transactionID")
	if err := s.svc.ManualReconciliation(r.Context(), txID, req.PaymentID, req.UserID); err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":        true,
		"transaction_id": txID,
		"payment_id":     req.PaymentID,
	})
}

// handleUnmatch reverses a manual match.
// POST /api/reconciliation/transactions/{transactionID}/unmatch
func (s *Server) handleUnmatch(w http.ResponseWriter, r *http.Request) {
	var req actorRequest
	if !decodeBody(w, r, &req) {
		return
	}
	txID := chi.URLParam(r, "transactionID")
	if err := s.svc.ReverseManualMatch(r.Context(), txID, req.UserID); err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":        true,
		"transaction_id": txID,
	})
}

// handleDiscard marks the transaction as not rent.
// POST /api/reconciliation/transactions/{transactionID}/discard
func (s *Server) handleDiscard(w http.ResponseWriter, r *http.Request) {
	var req actorRequest
	if !decodeBody(w, r, &req) {
		return
	}
	txID := chi.URLParam(r, "transactionID")
	if err := s.svc.DiscardTransaction(r.Context(), txID, req.Reason, req.UserID); err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":        true,
		"transaction_id": txID,
	})
}

// handleAudit returns the manual-action trail, oldest first.
// GET /api/reconciliation/transactions/{transactionID}/audit
func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	entries, err := s.svc.Audit(r.Context(), chi.URLParam(r, "transactionID"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"entries": entries,
	})
}

// decodeBody reads a JSON body into v, writing a 400 on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}
