package reconcile

import (
	"context"

	"github.com/propledger/propledger/internal/domain"
)

// ─── Stats ──────────────────────────────────────────────────────────────────

// Stats is a point-in-time rollup of a company's reconciliation state.
type Stats struct {
	domain.Counts
	// UnmatchedNoSuggestion is the part of Unmatched for which no outstanding
	// payment scores above zero.
	UnmatchedNoSuggestion int `json:"unmatched_no_suggestion"`
}

// ReconciliationStats reads committed state; nothing is cached. The counts
// and the suggestions come from the same read transaction.
func (e *Engine) ReconciliationStats(ctx context.Context, companyID string) (*Stats, error) {
	snap, err := e.snapshot(ctx, companyID)
	if err != nil {
		return nil, err
	}

	s := &Stats{Counts: snap.Counts}
	for _, it := range e.reviewItems(snap) {
		if it.BestCandidatePayment == nil {
			s.UnmatchedNoSuggestion++
		}
	}
	return s, nil
}
