package daemon

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/propledger/propledger/internal/app/reconcile"
	"github.com/propledger/propledger/internal/domain"
)

// ─── Scheduler ──────────────────────────────────────────────────────────────

// Runner executes one reconciliation run. *reconcile.Engine satisfies it.
type Runner interface {
	Run(ctx context.Context, opts reconcile.Options) (*reconcile.Result, error)
}

// CompanyLister enumerates the companies to reconcile.
type CompanyLister interface {
	ListCompanies(ctx context.Context) ([]domain.Company, error)
}

// CompanyRun is the outcome of one company's run within a pass.
type CompanyRun struct {
	CompanyID string
	Result    *reconcile.Result
	Err       error
}

// Scheduler triggers live runs for every company at a fixed interval.
// Companies run in parallel up to MaxParallel; they share nothing but the
// database, so one company's failure never touches another.
type Scheduler struct {
	companies   CompanyLister
	runner      Runner
	interval    time.Duration
	maxParallel int

	mu     sync.Mutex
	passes int
}

// NewScheduler creates a scheduler.
func NewScheduler(companies CompanyLister, runner Runner, interval time.Duration, maxParallel int) *Scheduler {
	if maxParallel <= 0 {
		maxParallel = 1
	}
	return &Scheduler{
		companies:   companies,
		runner:      runner,
		interval:    interval,
		maxParallel: maxParallel,
	}
}

// RunOnce reconciles every company once and returns per-company outcomes in
// company order. Only a failure to list companies is returned as an error.
func (s *Scheduler) RunOnce(ctx context.Context) ([]CompanyRun, error) {
	companies, err := s.companies.ListCompanies(ctx)
	if err != nil {
		return nil, fmt.Errorf("list companies: %w", err)
	}

	runs := make([]CompanyRun, len(companies))
	var g errgroup.Group
	g.SetLimit(s.maxParallel)

	for i, c := range companies {
		i, c := i, c
		runs[i].CompanyID = c.ID
		g.Go(func() error {
			res, err := s.runner.Run(ctx, reconcile.Options{CompanyID: c.ID})
			runs[i].Result, runs[i].Err = res, err
			switch {
			case err != nil:
				log.Printf("[scheduler] company %s: run failed: %v", c.ID, err)
			case !res.Success:
				log.Printf("[scheduler] company %s: %d item failures", c.ID, len(res.Failures))
			}
			return nil // never cancel sibling companies
		})
	}
	g.Wait()

	s.mu.Lock()
	s.passes++
	s.mu.Unlock()
	return runs, nil
}

// Start runs a pass immediately and then every interval until ctx is done.
func (s *Scheduler) Start(ctx context.Context) error {
	log.Printf("[scheduler] started, interval %s, max parallel %d", s.interval, s.maxParallel)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if _, err := s.RunOnce(ctx); err != nil {
			log.Printf("[scheduler] pass failed: %v", err)
		}
		select {
		case <-ctx.Done():
			log.Printf("[scheduler] stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Passes returns how many passes have completed.
func (s *Scheduler) Passes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.passes
}
