// Package executor commits auto-match decisions with bounded concurrency.
//
// The executor:
//  1. Takes a batch of (transaction, payment, score) commits
//  2. Runs each under its own timeout, at most MaxConcurrent at a time
//  3. Classifies each result: committed, conflict, or failed
//  4. Returns results in input order, whatever order they finished in
//
// One item's failure never aborts the others.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/propledger/propledger/internal/domain"
)

// Committer persists one auto-match behind an optimistic guard.
// domain.MatchWriter satisfies it.
type Committer interface {
	CommitAutoMatch(ctx context.Context, transactionID, paymentID string, score int, at time.Time) error
}

// Config controls executor behavior.
type Config struct {
	MaxConcurrent int           // Maximum concurrent commits (default: 4)
	CommitTimeout time.Duration // Per-item commit timeout (default: 10s)
}

// DefaultConfig returns safe executor defaults.
func DefaultConfig() Config {
	return Config{
		MaxConcurrent: 4,
		CommitTimeout: 10 * time.Second,
	}
}

// Item is one auto-match to commit.
type Item struct {
	TransactionID string
	PaymentID     string
	Score         int
}

// Status classifies a commit result.
type Status string

const (
	StatusCommitted Status = "COMMITTED"
	StatusConflict  Status = "CONFLICT" // guard failed, state changed under us
	StatusFailed    Status = "FAILED"   // persistence error or cancellation
)

// Result is the outcome of committing one Item.
type Result struct {
	Item
	Status Status
	Err    error
}

// Executor runs commit batches.
type Executor struct {
	mu        sync.RWMutex
	config    Config
	committer Committer
	now       func() time.Time
	sem       chan struct{} // Concurrency semaphore
	active    int
	committed int64
	conflicts int64
	failed    int64
}

// New creates an executor writing through committer.
func New(cfg Config, committer Committer) *Executor {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultConfig().MaxConcurrent
	}
	if cfg.CommitTimeout <= 0 {
		cfg.CommitTimeout = DefaultConfig().CommitTimeout
	}
	return &Executor{
		config:    cfg,
		committer: committer,
		now:       time.Now,
		sem:       make(chan struct{}, cfg.MaxConcurrent),
	}
}

// SetClock overrides the match timestamp source. For tests.
func (e *Executor) SetClock(now func() time.Time) {
	e.mu.Lock()
	e.now = now
	e.mu.Unlock()
}

// Apply commits every item and blocks until all have finished.
// results[i] always describes items[i].
func (e *Executor) Apply(ctx context.Context, items []Item) []Result {
	results := make([]Result, len(items))
	var wg sync.WaitGroup

	for i, it := range items {
		// Wait for a slot, unless the caller gives up first.
		select {
		case e.sem <- struct{}{}:
		case <-ctx.Done():
			results[i] = e.classify(it, fmt.Errorf("commit %s: %w: %v", it.TransactionID, domain.ErrPersistence, ctx.Err()))
			continue
		}

		wg.Add(1)
		go func(i int, it Item) {
			defer wg.Done()
			defer func() { <-e.sem }() // Release concurrency slot
			results[i] = e.commit(ctx, it)
		}(i, it)
	}

	wg.Wait()
	return results
}

func (e *Executor) commit(ctx context.Context, it Item) Result {
	e.mu.Lock()
	e.active++
	now := e.now
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.active--
		e.mu.Unlock()
	}()

	if err := ctx.Err(); err != nil {
		return e.classify(it, fmt.Errorf("commit %s: %w: %v", it.TransactionID, domain.ErrPersistence, err))
	}

	execCtx, cancel := context.WithTimeout(ctx, e.config.CommitTimeout)
	defer cancel()

	err := e.committer.CommitAutoMatch(execCtx, it.TransactionID, it.PaymentID, it.Score, now().UTC())
	return e.classify(it, err)
}

func (e *Executor) classify(it Item, err error) Result {
	r := Result{Item: it, Err: err}

	e.mu.Lock()
	defer e.mu.Unlock()

	switch {
	case err == nil:
		r.Status = StatusCommitted
		e.committed++
	case errors.Is(err, domain.ErrConflict):
		r.Status = StatusConflict
		e.conflicts++
		log.Printf("[executor] tx %s → payment %s lost the race: %v", it.TransactionID, it.PaymentID, err)
	default:
		if !errors.Is(err, domain.ErrPersistence) {
			r.Err = fmt.Errorf("commit %s: %w: %v", it.TransactionID, domain.ErrPersistence, err)
		}
		r.Status = StatusFailed
		e.failed++
		log.Printf("[executor] tx %s → payment %s failed: %v", it.TransactionID, it.PaymentID, err)
	}
	return r
}

// Stats holds executor counters.
type Stats struct {
	Active    int   `json:"active"`
	Committed int64 `json:"committed"`
	Conflicts int64 `json:"conflicts"`
	Failed    int64 `json:"failed"`
	MaxSlots  int   `json:"max_slots"`
	FreeSlots int   `json:"free_slots"`
}

// Stats returns current executor statistics.
func (e *Executor) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return Stats{
		Active:    e.active,
		Committed: e.committed,
		Conflicts: e.conflicts,
		Failed:    e.failed,
		MaxSlots:  e.config.MaxConcurrent,
		FreeSlots: e.config.MaxConcurrent - e.active,
	}
}

// ActiveCount returns the number of commits in flight.
func (e *Executor) ActiveCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.active
}
