package reconcile

import (
	"github.com/shopspring/decimal"

	"github.com/propledger/propledger/internal/domain"
)

// ─── Match Scorer ───────────────────────────────────────────────────────────

// Breakdown is the per-signal contribution to one pair's score.
// Total is the sum of the components clamped to [0,100].
type Breakdown struct {
	Amount         int          `json:"amount"`
	Date           int          `json:"date"`
	Name           int          `json:"name"`
	Total          int          `json:"total"`
	AmountDiff     domain.Money `json:"amount_diff"`
	DayDistance    int          `json:"day_distance"` // posted - due, signed
	NameSimilarity float64      `json:"name_similarity"`
	NameSignal     bool         `json:"name_signal"` // false: no usable name on either side
}

// Scorer turns a (transaction, payment) pair into a confidence.
// It is a pure function of its inputs and the policy.
type Scorer struct {
	policy Policy
}

// NewScorer creates a scorer for the given policy.
func NewScorer(p Policy) *Scorer {
	return &Scorer{policy: p}
}

// Score rates how likely tx settles p.
func (s *Scorer) Score(tx domain.BankTransaction, p domain.Payment) Breakdown {
	var b Breakdown
	b.AmountDiff = tx.Amount.Sub(p.AmountDue).Abs()
	b.DayDistance = domain.DaysBetween(p.DueDate, tx.PostedDate)

	b.Amount = s.amountPoints(tx.Amount, p.AmountDue)
	b.Date = s.datePoints(b.DayDistance)

	if tx.CounterpartyName != "" {
		b.NameSimilarity, b.NameSignal = nameSimilarity(tx.CounterpartyName, p.PayerName)
	} else {
		b.NameSimilarity, b.NameSignal = descriptionSimilarity(tx.Description, p.PayerName)
	}
	if b.NameSignal {
		b.Name = s.namePoints(b.NameSimilarity)
	}

	b.Total = clamp(b.Amount+b.Date+b.Name, 0, 100)
	return b
}

// amountPoints: full weight on an exact match, linear to zero at the band edge.
func (s *Scorer) amountPoints(amount, due domain.Money) int {
	w := s.policy.Weights.Amount
	if !amount.IsPositive() {
		return 0
	}
	diff := amount.Sub(due).Abs().Decimal()
	if diff.IsZero() {
		return w
	}
	tol := s.policy.Tolerance(due)
	if tol.IsZero() || diff.GreaterThanOrEqual(tol) {
		return 0
	}
	frac := decimal.NewFromInt(1).Sub(diff.Div(tol))
	return int(decimal.NewFromInt(int64(w)).Mul(frac).Floor().IntPart())
}

// datePoints: full weight inside the grace window, linear to zero at DecayDays.
func (s *Scorer) datePoints(d int) int {
	p := s.policy
	w := p.Weights.Date
	switch {
	case d >= -p.GraceBeforeDays && d <= p.GraceAfterDays:
		return w
	case d > p.GraceAfterDays:
		return decay(w, d, p.GraceAfterDays, p.DecayDays)
	default:
		return decay(w, -d, p.GraceBeforeDays, p.DecayDays)
	}
}

// decay interpolates w at dist between edge (full) and limit (zero).
func decay(w, dist, edge, limit int) int {
	if dist >= limit || limit <= edge {
		return 0
	}
	return w * (limit - dist) / (limit - edge)
}

func (s *Scorer) namePoints(sim float64) int {
	p := s.policy
	w := p.Weights.Name
	switch {
	case sim >= p.NameFullSimilarity:
		return w
	case sim <= p.NameZeroSimilarity:
		return 0
	}
	return int(float64(w) * (sim - p.NameZeroSimilarity) / (p.NameFullSimilarity - p.NameZeroSimilarity))
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
