// Package reconcile matches bank transactions against outstanding payments.
//
// A run flows through four stages, each a plain function of its inputs:
//  1. Generator pairs transactions with payments inside the amount band
//  2. Scorer assigns each pair an integer confidence in [0,100]
//  3. Resolver picks a conflict-free one-to-one assignment, greedily by score
//  4. Executor commits the AUTO_MATCH outcomes behind optimistic guards
//
// The review queue and the stats rollup re-run stages 1–3 over current state,
// so a reviewer sees the same candidate and score the engine would use.
package reconcile

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/propledger/propledger/internal/domain"
)

// Weights split the 100 confidence points across the three signals.
type Weights struct {
	Amount int `toml:"amount" json:"amount"`
	Date   int `toml:"date" json:"date"`
	Name   int `toml:"name" json:"name"`
}

// Policy is the tunable matching configuration. Values are per deployment;
// none of them is a business rule.
type Policy struct {
	Weights Weights

	// Amount band: max(AmountTolerancePct × amountDue, AmountToleranceAbs).
	AmountTolerancePct decimal.Decimal
	AmountToleranceAbs domain.Money

	// Full date points inside [due - GraceBeforeDays, due + GraceAfterDays],
	// decaying linearly to zero at DecayDays from the due date.
	GraceBeforeDays int
	GraceAfterDays  int
	DecayDays       int

	// Name points are full at or above NameFullSimilarity and zero at or
	// below NameZeroSimilarity.
	NameFullSimilarity float64
	NameZeroSimilarity float64

	AutoApproveThreshold int
	DaysBack             int
}

// DefaultPolicy returns the reference tuning: 50/30/20 weights, 1% or 1.00
// amount band, 5/10 day grace, 30 day decay, threshold 85, 30 days back.
func DefaultPolicy() Policy {
	return Policy{
		Weights:              Weights{Amount: 50, Date: 30, Name: 20},
		AmountTolerancePct:   decimal.RequireFromString("0.01"),
		AmountToleranceAbs:   domain.MustMoney("1.00"),
		GraceBeforeDays:      5,
		GraceAfterDays:       10,
		DecayDays:            30,
		NameFullSimilarity:   0.9,
		NameZeroSimilarity:   0.3,
		AutoApproveThreshold: 85,
		DaysBack:             30,
	}
}

// Validate rejects inconsistent tuning.
func (p Policy) Validate() error {
	w := p.Weights
	if w.Amount < 0 || w.Date < 0 || w.Name < 0 || w.Amount+w.Date+w.Name != 100 {
		return fmt.Errorf("weights %d/%d/%d must be non-negative and sum to 100: %w",
			w.Amount, w.Date, w.Name, domain.ErrInvalidOptions)
	}
	if p.AmountTolerancePct.IsNegative() || p.AmountTolerancePct.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("amount tolerance pct %s must be in [0,1): %w", p.AmountTolerancePct, domain.ErrInvalidOptions)
	}
	if p.AmountToleranceAbs.Decimal().IsNegative() {
		return fmt.Errorf("amount tolerance abs must not be negative: %w", domain.ErrInvalidOptions)
	}
	if p.GraceBeforeDays < 0 || p.GraceAfterDays < 0 || p.DecayDays < 0 {
		return fmt.Errorf("date windows must not be negative: %w", domain.ErrInvalidOptions)
	}
	if p.NameZeroSimilarity < 0 || p.NameFullSimilarity > 1 || p.NameZeroSimilarity >= p.NameFullSimilarity {
		return fmt.Errorf("name similarity bounds %.2f..%.2f invalid: %w",
			p.NameZeroSimilarity, p.NameFullSimilarity, domain.ErrInvalidOptions)
	}
	if err := validThreshold(p.AutoApproveThreshold); err != nil {
		return err
	}
	if p.DaysBack <= 0 {
		return fmt.Errorf("days back must be positive: %w", domain.ErrInvalidOptions)
	}
	return nil
}

// Tolerance returns the half-width of the amount band around amountDue.
func (p Policy) Tolerance(amountDue domain.Money) decimal.Decimal {
	pct := amountDue.Decimal().Abs().Mul(p.AmountTolerancePct)
	abs := p.AmountToleranceAbs.Decimal()
	if pct.GreaterThan(abs) {
		return pct
	}
	return abs
}

// InBand reports whether an inbound amount is a plausible settlement of amountDue.
func (p Policy) InBand(amount, amountDue domain.Money) bool {
	if !amount.IsPositive() {
		return false
	}
	diff := amount.Sub(amountDue).Abs().Decimal()
	return diff.LessThanOrEqual(p.Tolerance(amountDue))
}

func validThreshold(t int) error {
	if t < 0 || t > 100 {
		return fmt.Errorf("auto-approve threshold %d outside [0,100]: %w", t, domain.ErrInvalidOptions)
	}
	return nil
}
