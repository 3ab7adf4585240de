package reconcile

import (
	"sort"

	"github.com/propledger/propledger/internal/domain"
)

// ─── Assignment Resolver ────────────────────────────────────────────────────

// OutcomeKind is the decision for one scanned transaction.
type OutcomeKind string

const (
	OutcomeAutoMatch   OutcomeKind = "AUTO_MATCH"
	OutcomeReview      OutcomeKind = "REVIEW"
	OutcomeNoCandidate OutcomeKind = "NO_CANDIDATE"
)

// Scored is a candidate pair with its score.
type Scored struct {
	Candidate
	Breakdown Breakdown
}

// Outcome is the resolver's decision for one transaction. Payment and
// Breakdown are nil for NO_CANDIDATE.
type Outcome struct {
	Kind        OutcomeKind             `json:"kind"`
	Transaction *domain.BankTransaction `json:"transaction"`
	Payment     *domain.Payment         `json:"payment,omitempty"`
	Breakdown   *Breakdown              `json:"breakdown,omitempty"`
}

// Score is the assigned candidate's total, or 0 without one.
func (o Outcome) Score() int {
	if o.Breakdown == nil {
		return 0
	}
	return o.Breakdown.Total
}

// Resolve assigns each payment to at most one transaction and each
// transaction to at most one payment.
//
// Pairs are taken greedily in a total order: score desc, amount diff asc,
// |day distance| asc, transaction ID asc, payment ID asc. Greedy is not a
// maximum-weight matching, but it is deterministic and never hands a payment
// to a weaker pair while a stronger one competes for it.
//
// txs is the scanned set; every transaction in it gets exactly one outcome,
// returned in transaction ID order.
func Resolve(scored []Scored, txs []*domain.BankTransaction, threshold int) []Outcome {
	pairs := make([]Scored, 0, len(scored))
	for _, s := range scored {
		if s.Breakdown.Total > 0 {
			pairs = append(pairs, s)
		}
	}
	sort.Slice(pairs, func(i, j int) bool { return rankBefore(pairs[i], pairs[j]) })

	assigned := make(map[string]Scored, len(txs))
	usedPayment := make(map[string]bool)
	for _, s := range pairs {
		if _, ok := assigned[s.Transaction.ID]; ok || usedPayment[s.Payment.ID] {
			continue
		}
		assigned[s.Transaction.ID] = s
		usedPayment[s.Payment.ID] = true
	}

	ordered := make([]*domain.BankTransaction, len(txs))
	copy(ordered, txs)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].ID < ordered[j].ID })

	out := make([]Outcome, 0, len(ordered))
	for _, tx := range ordered {
		s, ok := assigned[tx.ID]
		if !ok {
			out = append(out, Outcome{Kind: OutcomeNoCandidate, Transaction: tx})
			continue
		}
		b := s.Breakdown
		kind := OutcomeReview
		if b.Total >= threshold {
			kind = OutcomeAutoMatch
		}
		out = append(out, Outcome{Kind: kind, Transaction: tx, Payment: s.Payment, Breakdown: &b})
	}
	return out
}

func rankBefore(a, b Scored) bool {
	if a.Breakdown.Total != b.Breakdown.Total {
		return a.Breakdown.Total > b.Breakdown.Total
	}
	if c := a.Breakdown.AmountDiff.Cmp(b.Breakdown.AmountDiff); c != 0 {
		return c < 0
	}
	if da, db := absInt(a.Breakdown.DayDistance), absInt(b.Breakdown.DayDistance); da != db {
		return da < db
	}
	if a.Transaction.ID != b.Transaction.ID {
		return a.Transaction.ID < b.Transaction.ID
	}
	return a.Payment.ID < b.Payment.ID
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
