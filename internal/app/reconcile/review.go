package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"

	"github.com/propledger/propledger/internal/domain"
	"github.com/propledger/propledger/internal/infra/observability"
)

// ─── Manual Review ──────────────────────────────────────────────────────────

// ReviewItem is one UNMATCHED transaction with its highest-ranked candidate
// payment. BestCandidatePayment, BestScore and Breakdown are nil when nothing
// scores above zero.
type ReviewItem struct {
	Transaction          domain.BankTransaction `json:"transaction"`
	BestCandidatePayment *domain.Payment        `json:"best_candidate_payment,omitempty"`
	BestScore            *int                   `json:"best_score,omitempty"`
	Breakdown            *Breakdown             `json:"breakdown,omitempty"`
	// Assignable reports whether a run would give this payment to this
	// transaction. It is false when a stronger pair competes for the payment.
	Assignable bool `json:"assignable"`
}

// TransactionsForManualReview pairs every UNMATCHED transaction of the
// company with its best candidate, with no date window. Each transaction is
// ranked on its own, so a payment contested by several transactions shows up
// on all of them. It writes nothing.
func (e *Engine) TransactionsForManualReview(ctx context.Context, companyID string) ([]ReviewItem, error) {
	snap, err := e.snapshot(ctx, companyID)
	if err != nil {
		return nil, err
	}
	return e.reviewItems(snap), nil
}

func (e *Engine) snapshot(ctx context.Context, companyID string) (*domain.Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.ReadTimeout)
	defer cancel()

	if err := e.store.ValidateScope(ctx, companyID, ""); err != nil {
		return nil, err
	}
	snap, err := e.store.Snapshot(ctx, companyID)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	return snap, nil
}

// reviewItems returns one item per UNMATCHED transaction, in ID order.
func (e *Engine) reviewItems(snap *domain.Snapshot) []ReviewItem {
	txs := snap.Unmatched
	scored := e.score(txs, snap.Outstanding)

	best := make(map[string]Scored, len(txs))
	for _, s := range scored {
		if s.Breakdown.Total <= 0 {
			continue
		}
		if cur, ok := best[s.Transaction.ID]; !ok || rankBefore(s, cur) {
			best[s.Transaction.ID] = s
		}
	}

	assigned := make(map[string]string, len(txs))
	for _, o := range Resolve(scored, pointers(txs), e.cfg.Policy.AutoApproveThreshold) {
		if o.Payment != nil {
			assigned[o.Transaction.ID] = o.Payment.ID
		}
	}

	items := make([]ReviewItem, 0, len(txs))
	for i := range txs {
		it := ReviewItem{Transaction: txs[i]}
		if s, ok := best[txs[i].ID]; ok {
			b := s.Breakdown
			score := b.Total
			it.BestCandidatePayment = s.Payment
			it.BestScore = &score
			it.Breakdown = &b
			it.Assignable = assigned[txs[i].ID] == s.Payment.ID
		}
		items = append(items, it)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Transaction.ID < items[j].Transaction.ID })
	return items
}

// ManualReconciliation links a transaction to a payment on a reviewer's
// decision. ErrConflict means either side was resolved meanwhile; the caller
// must re-fetch before retrying.
func (e *Engine) ManualReconciliation(ctx context.Context, transactionID, paymentID, userID string) error {
	if transactionID == "" || paymentID == "" || userID == "" {
		return fmt.Errorf("transaction, payment and user are required: %w", domain.ErrInvalidOptions)
	}
	return e.manual(ctx, "match", transactionID, func(ctx context.Context) error {
		return e.store.CommitManualMatch(ctx, transactionID, paymentID, userID, e.now().UTC())
	})
}

// DiscardTransaction marks a transaction as not rent. Discarded transactions
// never return to candidate generation.
func (e *Engine) DiscardTransaction(ctx context.Context, transactionID, reason, userID string) error {
	if transactionID == "" || userID == "" {
		return fmt.Errorf("transaction and user are required: %w", domain.ErrInvalidOptions)
	}
	return e.manual(ctx, "discard", transactionID, func(ctx context.Context) error {
		return e.store.Discard(ctx, transactionID, reason, userID, e.now().UTC())
	})
}

// ReverseManualMatch undoes a MANUAL match: the transaction returns to
// UNMATCHED and the payment to PENDING or OVERDUE. Auto matches are not
// reversible this way.
func (e *Engine) ReverseManualMatch(ctx context.Context, transactionID, userID string) error {
	if transactionID == "" || userID == "" {
		return fmt.Errorf("transaction and user are required: %w", domain.ErrInvalidOptions)
	}
	return e.manual(ctx, "unmatch", transactionID, func(ctx context.Context) error {
		return e.store.ReverseManualMatch(ctx, transactionID, userID, e.now().UTC())
	})
}

func (e *Engine) manual(ctx context.Context, action, transactionID string, fn func(context.Context) error) error {
	ctx, span := e.tracer.StartSpan(ctx, "reconcile.manual."+action, map[string]string{"transaction": transactionID})
	ctx, cancel := context.WithTimeout(ctx, e.cfg.ManualTimeout)
	defer cancel()

	err := fn(ctx)
	e.tracer.EndSpan(span, err)

	result := "ok"
	switch {
	case err == nil:
		log.Printf("[review] %s %s", action, transactionID)
	case errors.Is(err, domain.ErrConflict):
		result = "conflict"
		observability.CommitConflicts.WithLabelValues("manual").Inc()
		log.Printf("[review] %s %s: %v", action, transactionID, err)
	default:
		result = "error"
		if errors.Is(err, domain.ErrPersistence) {
			observability.CommitFailures.WithLabelValues("manual").Inc()
		}
		log.Printf("[review] %s %s failed: %v", action, transactionID, err)
	}
	observability.ManualActions.WithLabelValues(action, result).Inc()
	return err
}

// Audit returns the manual-action trail of a transaction, oldest first.
func (e *Engine) Audit(ctx context.Context, transactionID string) ([]domain.AuditEntry, error) {
	if _, err := e.store.GetTransaction(ctx, transactionID); err != nil {
		return nil, err
	}
	return e.store.ListAudit(ctx, transactionID)
}
