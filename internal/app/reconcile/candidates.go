package reconcile

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/propledger/propledger/internal/domain"
)

// ─── Candidate Generator ────────────────────────────────────────────────────

// Candidate is a plausible (transaction, payment) pair.
type Candidate struct {
	Transaction *domain.BankTransaction
	Payment     *domain.Payment
}

// Generator produces candidate pairs. Only UNMATCHED inbound transactions and
// outstanding payments take part, and a pair must fall inside the amount band.
type Generator struct {
	policy Policy
}

// NewGenerator creates a generator for the given policy.
func NewGenerator(p Policy) *Generator {
	return &Generator{policy: p}
}

var oneCent = decimal.RequireFromString("0.01")

// Generate returns every in-band pair, ordered by transaction ID then payment
// amount and ID. Payments are indexed by amount so each transaction only
// visits its band instead of the whole payment set.
func (g *Generator) Generate(txs []domain.BankTransaction, payments []domain.Payment) []Candidate {
	pays := make([]*domain.Payment, 0, len(payments))
	for i := range payments {
		if payments[i].Status.Outstanding() {
			pays = append(pays, &payments[i])
		}
	}
	sort.Slice(pays, func(i, j int) bool {
		if c := pays[i].AmountDue.Cmp(pays[j].AmountDue); c != 0 {
			return c < 0
		}
		return pays[i].ID < pays[j].ID
	})

	eligible := make([]*domain.BankTransaction, 0, len(txs))
	for i := range txs {
		if txs[i].Status == domain.TxUnmatched && txs[i].IsInbound() {
			eligible = append(eligible, &txs[i])
		}
	}
	sort.Slice(eligible, func(i, j int) bool { return eligible[i].ID < eligible[j].ID })

	var out []Candidate
	for _, tx := range eligible {
		lo, hi := g.searchBounds(tx.Amount.Decimal())
		start := sort.Search(len(pays), func(i int) bool {
			return pays[i].AmountDue.Decimal().GreaterThanOrEqual(lo)
		})
		for i := start; i < len(pays) && pays[i].AmountDue.Decimal().LessThanOrEqual(hi); i++ {
			if g.policy.InBand(tx.Amount, pays[i].AmountDue) {
				out = append(out, Candidate{Transaction: tx, Payment: pays[i]})
			}
		}
	}
	return out
}

// searchBounds returns an amountDue range that contains every payment whose
// band can include amount a. The range is a superset; InBand decides.
//
//	|a-p| <= pct*p  =>  a/(1+pct) <= p <= a/(1-pct)
//	|a-p| <= abs    =>  a-abs     <= p <= a+abs
func (g *Generator) searchBounds(a decimal.Decimal) (lo, hi decimal.Decimal) {
	one := decimal.NewFromInt(1)
	pct := g.policy.AmountTolerancePct
	abs := g.policy.AmountToleranceAbs.Decimal()

	lo = decimal.Min(a.Div(one.Add(pct)), a.Sub(abs)).Sub(oneCent)
	hi = decimal.Max(a.Div(one.Sub(pct)), a.Add(abs)).Add(oneCent)
	return lo, hi
}
