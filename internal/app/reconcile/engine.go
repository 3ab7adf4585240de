package reconcile

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/propledger/propledger/internal/app/executor"
	"github.com/propledger/propledger/internal/domain"
	"github.com/propledger/propledger/internal/infra/observability"
)

// ─── Engine ─────────────────────────────────────────────────────────────────

// Config controls the engine.
type Config struct {
	Policy        Policy
	ReadTimeout   time.Duration // bound on the candidate-store scan (default 30s)
	ManualTimeout time.Duration // bound on one manual action (default 10s)
}

// DefaultConfig returns engine defaults around DefaultPolicy.
func DefaultConfig() Config {
	return Config{
		Policy:        DefaultPolicy(),
		ReadTimeout:   30 * time.Second,
		ManualTimeout: 10 * time.Second,
	}
}

// Engine runs reconciliation for one store. Runs share no mutable state
// beyond the database, so runs for different companies may overlap freely.
type Engine struct {
	store  domain.Store
	exec   *executor.Executor
	tracer *observability.Tracer
	cfg    Config
	scorer *Scorer
	gen    *Generator
	now    func() time.Time
}

// New creates an engine. exec commits AUTO_MATCH outcomes; tracer may be nil.
func New(store domain.Store, exec *executor.Executor, tracer *observability.Tracer, cfg Config) (*Engine, error) {
	if err := cfg.Policy.Validate(); err != nil {
		return nil, fmt.Errorf("policy: %w", err)
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = DefaultConfig().ReadTimeout
	}
	if cfg.ManualTimeout <= 0 {
		cfg.ManualTimeout = DefaultConfig().ManualTimeout
	}
	return &Engine{
		store:  store,
		exec:   exec,
		tracer: tracer,
		cfg:    cfg,
		scorer: NewScorer(cfg.Policy),
		gen:    NewGenerator(cfg.Policy),
		now:    time.Now,
	}, nil
}

// SetClock overrides "today" for the engine and its executor. For tests.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
	e.exec.SetClock(now)
}

// Policy returns the active policy.
func (e *Engine) Policy() Policy { return e.cfg.Policy }

// Scorer exposes the engine's scorer.
func (e *Engine) Scorer() *Scorer { return e.scorer }

// ─── Run ────────────────────────────────────────────────────────────────────

// Options scope one run. Zero DaysBack and nil AutoApproveThreshold take
// the policy defaults.
type Options struct {
	CompanyID            string `json:"company_id"`
	BankConnectionID     string `json:"bank_connection_id,omitempty"`
	DaysBack             int    `json:"days_back,omitempty"`
	DryRun               bool   `json:"dry_run"`
	AutoApproveThreshold *int   `json:"auto_approve_threshold,omitempty"`
}

// ItemFailure is a transaction whose AUTO_MATCH could not be persisted.
type ItemFailure struct {
	TransactionID string `json:"transaction_id"`
	PaymentID     string `json:"payment_id"`
	Error         string `json:"error"`
}

// Result summarizes a run. Success is false when any item failed to persist.
type Result struct {
	Success              bool          `json:"success"`
	RunID                string        `json:"run_id,omitempty"` // empty for dry runs
	DryRun               bool          `json:"dry_run"`
	WindowFrom           time.Time     `json:"window_from"`
	WindowTo             time.Time     `json:"window_to"`
	AutoApproveThreshold int           `json:"auto_approve_threshold"`
	TransactionsScanned  int           `json:"transactions_scanned"`
	PaymentsReconciled   int           `json:"payments_reconciled"`
	ManualReviewRequired int           `json:"manual_review_required"`
	NoCandidate          int           `json:"no_candidate"`
	Conflicts            int           `json:"conflicts"`
	DiscardedSkipped     int           `json:"discarded_skipped"`
	Failures             []ItemFailure `json:"failures,omitempty"`
	Outcomes             []Outcome     `json:"outcomes,omitempty"`
}

// Run reconciles one company (or one bank connection) over the trailing
// window. Scope and option errors abort before any read or write; per-item
// errors are collected in the result.
func (e *Engine) Run(ctx context.Context, opts Options) (*Result, error) {
	mode := "live"
	if opts.DryRun {
		mode = "dry"
	}
	start := time.Now()

	ctx, span := e.tracer.StartSpan(ctx, "reconcile.run", map[string]string{
		"company": opts.CompanyID, "connection": opts.BankConnectionID, "mode": mode,
	})
	res, err := e.run(ctx, opts)
	e.tracer.EndSpan(span, err)

	observability.RunDuration.WithLabelValues(mode).Observe(time.Since(start).Seconds())
	switch {
	case err != nil && domain.IsSetupError(err):
		observability.RunsTotal.WithLabelValues(mode, "rejected").Inc()
	case err != nil || !res.Success:
		observability.RunsTotal.WithLabelValues(mode, "failed").Inc()
	default:
		observability.RunsTotal.WithLabelValues(mode, "ok").Inc()
	}
	return res, err
}

func (e *Engine) run(ctx context.Context, opts Options) (*Result, error) {
	daysBack, threshold, err := e.resolveOptions(opts)
	if err != nil {
		return nil, err
	}

	startedAt := e.now().UTC()
	today := domain.DateOnly(startedAt)
	from := today.AddDate(0, 0, -daysBack)
	log.Printf("[reconcile] start company=%s connection=%s window=%s..%s dry_run=%v threshold=%d",
		opts.CompanyID, opts.BankConnectionID, from.Format("2006-01-02"), today.Format("2006-01-02"), opts.DryRun, threshold)

	txs, payments, discarded, err := e.scan(ctx, opts, from, today)
	if err != nil {
		return nil, err
	}

	res := &Result{
		Success:              true,
		DryRun:               opts.DryRun,
		WindowFrom:           from,
		WindowTo:             today,
		AutoApproveThreshold: threshold,
		TransactionsScanned:  len(txs),
		DiscardedSkipped:     discarded,
	}
	res.Outcomes = e.derive(txs, payments, threshold)

	if opts.DryRun {
		e.tally(res)
		log.Printf("[reconcile] dry run company=%s scanned=%d would_reconcile=%d review=%d discarded_skipped=%d",
			opts.CompanyID, res.TransactionsScanned, res.PaymentsReconciled, res.ManualReviewRequired, res.DiscardedSkipped)
		return res, nil
	}

	e.commit(ctx, res)
	e.tally(res)
	res.Success = len(res.Failures) == 0

	res.RunID = uuid.NewString()
	rec := domain.RunRecord{
		ID:                   res.RunID,
		CompanyID:            opts.CompanyID,
		BankConnectionID:     opts.BankConnectionID,
		WindowFrom:           from,
		WindowTo:             today,
		AutoApproveThreshold: threshold,
		TransactionsScanned:  res.TransactionsScanned,
		PaymentsReconciled:   res.PaymentsReconciled,
		ManualReviewRequired: res.ManualReviewRequired,
		DiscardedSkipped:     res.DiscardedSkipped,
		Failures:             len(res.Failures),
		StartedAt:            startedAt,
		FinishedAt:           e.now().UTC(),
	}
	if err := e.store.RecordRun(context.WithoutCancel(ctx), rec); err != nil {
		// The matches are committed; a missing journal row is not a run failure.
		log.Printf("[reconcile] run %s: journal write failed: %v", res.RunID, err)
	}

	log.Printf("[reconcile] run %s company=%s scanned=%d reconciled=%d review=%d conflicts=%d failures=%d discarded_skipped=%d",
		res.RunID, opts.CompanyID, res.TransactionsScanned, res.PaymentsReconciled,
		res.ManualReviewRequired, res.Conflicts, len(res.Failures), res.DiscardedSkipped)
	return res, nil
}

func (e *Engine) resolveOptions(opts Options) (daysBack, threshold int, err error) {
	daysBack = opts.DaysBack
	if daysBack == 0 {
		daysBack = e.cfg.Policy.DaysBack
	}
	if daysBack < 0 {
		return 0, 0, fmt.Errorf("days back %d: %w", opts.DaysBack, domain.ErrInvalidOptions)
	}
	threshold = e.cfg.Policy.AutoApproveThreshold
	if opts.AutoApproveThreshold != nil {
		threshold = *opts.AutoApproveThreshold
	}
	if err := validThreshold(threshold); err != nil {
		return 0, 0, err
	}
	return daysBack, threshold, nil
}

// scan reads everything the run needs under one read deadline.
func (e *Engine) scan(ctx context.Context, opts Options, from, to time.Time) (
	txs []domain.BankTransaction, payments []domain.Payment, discarded int, err error,
) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.ReadTimeout)
	defer cancel()

	if err := e.store.ValidateScope(ctx, opts.CompanyID, opts.BankConnectionID); err != nil {
		return nil, nil, 0, err
	}

	q := domain.TransactionQuery{
		CompanyID:        opts.CompanyID,
		BankConnectionID: opts.BankConnectionID,
		Status:           domain.TxUnmatched,
		PostedFrom:       from,
		PostedTo:         to,
	}
	if txs, err = e.store.ListTransactions(ctx, q); err != nil {
		return nil, nil, 0, fmt.Errorf("list transactions: %w", err)
	}
	q.Status = domain.TxDiscarded
	if discarded, err = e.store.CountTransactions(ctx, q); err != nil {
		return nil, nil, 0, fmt.Errorf("count discarded: %w", err)
	}
	if payments, err = e.store.ListOutstandingPayments(ctx, opts.CompanyID); err != nil {
		return nil, nil, 0, fmt.Errorf("list payments: %w", err)
	}
	return txs, payments, discarded, nil
}

// derive runs generate → score → resolve. It reads nothing but its inputs,
// so the same snapshot always yields the same outcomes.
func (e *Engine) derive(txs []domain.BankTransaction, payments []domain.Payment, threshold int) []Outcome {
	return Resolve(e.score(txs, payments), pointers(txs), threshold)
}

// score generates and scores every candidate pair of the snapshot.
func (e *Engine) score(txs []domain.BankTransaction, payments []domain.Payment) []Scored {
	cands := e.gen.Generate(txs, payments)
	scored := make([]Scored, len(cands))
	for i, c := range cands {
		scored[i] = Scored{Candidate: c, Breakdown: e.scorer.Score(*c.Transaction, *c.Payment)}
	}
	return scored
}

func pointers(txs []domain.BankTransaction) []*domain.BankTransaction {
	out := make([]*domain.BankTransaction, len(txs))
	for i := range txs {
		out[i] = &txs[i]
	}
	return out
}

// commit applies AUTO_MATCH outcomes. Conflicts become REVIEW in place.
func (e *Engine) commit(ctx context.Context, res *Result) {
	var (
		items []executor.Item
		index []int
	)
	for i, o := range res.Outcomes {
		if o.Kind == OutcomeAutoMatch {
			items = append(items, executor.Item{
				TransactionID: o.Transaction.ID,
				PaymentID:     o.Payment.ID,
				Score:         o.Score(),
			})
			index = append(index, i)
		}
	}
	if len(items) == 0 {
		return
	}

	for k, r := range e.exec.Apply(ctx, items) {
		o := &res.Outcomes[index[k]]
		switch r.Status {
		case executor.StatusCommitted:
		case executor.StatusConflict:
			o.Kind = OutcomeReview
			res.Conflicts++
			observability.CommitConflicts.WithLabelValues("auto").Inc()
		default:
			res.Failures = append(res.Failures, ItemFailure{
				TransactionID: r.TransactionID,
				PaymentID:     r.PaymentID,
				Error:         r.Err.Error(),
			})
			observability.CommitFailures.WithLabelValues("auto").Inc()
		}
	}
}

// tally fills the counters from the final outcomes. A failed AUTO_MATCH is
// neither reconciled nor queued for review; it is reported in Failures.
func (e *Engine) tally(res *Result) {
	failed := make(map[string]bool, len(res.Failures))
	for _, f := range res.Failures {
		failed[f.TransactionID] = true
	}
	for _, o := range res.Outcomes {
		observability.Outcomes.WithLabelValues(string(o.Kind)).Inc()
		if o.Breakdown != nil {
			observability.MatchScores.Observe(float64(o.Score()))
		}
		switch o.Kind {
		case OutcomeAutoMatch:
			if !failed[o.Transaction.ID] {
				res.PaymentsReconciled++
			}
		case OutcomeReview:
			res.ManualReviewRequired++
		case OutcomeNoCandidate:
			res.ManualReviewRequired++
			res.NoCandidate++
		}
	}
	observability.TransactionsScanned.Add(float64(res.TransactionsScanned))
}

// Runs lists the journal of live runs for a company, newest first.
func (e *Engine) Runs(ctx context.Context, companyID string, limit int) ([]domain.RunRecord, error) {
	if err := e.store.ValidateScope(ctx, companyID, ""); err != nil {
		return nil, err
	}
	return e.store.ListRuns(ctx, companyID, limit)
}
