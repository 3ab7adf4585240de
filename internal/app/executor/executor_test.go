package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/propledger/propledger/internal/domain"
)

// mockCommitter implements Committer for testing.
type mockCommitter struct {
	mu       sync.Mutex
	errs     map[string]error // by transaction ID
	delay    time.Duration
	calls    []string
	inFlight int32
	peak     int32
}

func (m *mockCommitter) CommitAutoMatch(ctx context.Context, txID, paymentID string, score int, at time.Time) error {
	n := atomic.AddInt32(&m.inFlight, 1)
	defer atomic.AddInt32(&m.inFlight, -1)
	for {
		p := atomic.LoadInt32(&m.peak)
		if n <= p || atomic.CompareAndSwapInt32(&m.peak, p, n) {
			break
		}
	}

	if m.delay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(m.delay):
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, txID)
	return m.errs[txID]
}

func newTestExecutor(t *testing.T, c Committer) *Executor {
	t.Helper()
	cfg := DefaultConfig()
	cfg.MaxConcurrent = 2
	cfg.CommitTimeout = 2 * time.Second
	return New(cfg, c)
}

func items(n int) []Item {
	out := make([]Item, n)
	for i := range out {
		out[i] = Item{TransactionID: fmt.Sprintf("t%d", i), PaymentID: fmt.Sprintf("p%d", i), Score: 90}
	}
	return out
}

// ─── Config Tests ───────────────────────────────────────────────────────────

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.MaxConcurrent != 4 {
		t.Errorf("MaxConcurrent = %d, want 4", cfg.MaxConcurrent)
	}
	if cfg.CommitTimeout != 10*time.Second {
		t.Errorf("CommitTimeout = %v, want 10s", cfg.CommitTimeout)
	}
}

func TestNew_FillsZeroConfig(t *testing.T) {
	e := New(Config{}, &mockCommitter{})
	if e.config.MaxConcurrent != 4 || e.config.CommitTimeout != 10*time.Second {
		t.Errorf("config = %+v, want defaults", e.config)
	}
}

// ─── Apply Tests ────────────────────────────────────────────────────────────

func TestApply_AllCommitted(t *testing.T) {
	c := &mockCommitter{}
	e := newTestExecutor(t, c)

	res := e.Apply(context.Background(), items(5))
	if len(res) != 5 {
		t.Fatalf("len(results) = %d, want 5", len(res))
	}
	for i, r := range res {
		if r.Status != StatusCommitted || r.Err != nil {
			t.Errorf("results[%d] = %s / %v, want COMMITTED", i, r.Status, r.Err)
		}
		if r.TransactionID != fmt.Sprintf("t%d", i) {
			t.Errorf("results[%d] is for %s, order not preserved", i, r.TransactionID)
		}
	}
	if s := e.Stats(); s.Committed != 5 {
		t.Errorf("Committed = %d, want 5", s.Committed)
	}
}

func TestApply_ClassifiesErrors(t *testing.T) {
	c := &mockCommitter{errs: map[string]error{
		"t1": fmt.Errorf("guard: %w", domain.ErrConflict),
		"t2": errors.New("disk I/O error"),
	}}
	e := newTestExecutor(t, c)

	res := e.Apply(context.Background(), items(4))

	want := []Status{StatusCommitted, StatusConflict, StatusFailed, StatusCommitted}
	for i, r := range res {
		if r.Status != want[i] {
			t.Errorf("results[%d].Status = %s, want %s", i, r.Status, want[i])
		}
	}
	if !errors.Is(res[2].Err, domain.ErrPersistence) {
		t.Errorf("failed item error = %v, want ErrPersistence", res[2].Err)
	}

	s := e.Stats()
	if s.Committed != 2 || s.Conflicts != 1 || s.Failed != 1 {
		t.Errorf("stats = %+v, want 2 committed / 1 conflict / 1 failed", s)
	}
	if len(c.calls) != 4 {
		t.Errorf("committer called %d times, want 4 (failure must not stop the batch)", len(c.calls))
	}
}

func TestApply_RespectsConcurrencyLimit(t *testing.T) {
	c := &mockCommitter{delay: 30 * time.Millisecond}
	e := newTestExecutor(t, c) // MaxConcurrent = 2

	e.Apply(context.Background(), items(8))

	if peak := atomic.LoadInt32(&c.peak); peak > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", peak)
	}
	if e.ActiveCount() != 0 {
		t.Errorf("ActiveCount after Apply = %d, want 0", e.ActiveCount())
	}
}

func TestApply_CommitTimeout(t *testing.T) {
	c := &mockCommitter{delay: time.Second}
	e := New(Config{MaxConcurrent: 1, CommitTimeout: 20 * time.Millisecond}, c)

	res := e.Apply(context.Background(), items(1))
	if res[0].Status != StatusFailed {
		t.Fatalf("Status = %s, want FAILED on timeout", res[0].Status)
	}
	if !errors.Is(res[0].Err, domain.ErrPersistence) {
		t.Errorf("Err = %v, want ErrPersistence", res[0].Err)
	}
}

func TestApply_CancelledContext(t *testing.T) {
	e := newTestExecutor(t, &mockCommitter{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := e.Apply(ctx, items(3))
	for i, r := range res {
		if r.Status == StatusCommitted {
			t.Errorf("results[%d] committed after cancellation", i)
		}
	}
}

func TestApply_UsesClock(t *testing.T) {
	fixed := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	var got time.Time
	c := committerFunc(func(_ context.Context, _, _ string, _ int, at time.Time) error {
		got = at
		return nil
	})
	e := newTestExecutor(t, c)
	e.SetClock(func() time.Time { return fixed })

	e.Apply(context.Background(), items(1))
	if !got.Equal(fixed) {
		t.Errorf("commit time = %v, want %v", got, fixed)
	}
}

func TestStats(t *testing.T) {
	e := newTestExecutor(t, &mockCommitter{})
	stats := e.Stats()

	if stats.MaxSlots != 2 {
		t.Errorf("MaxSlots = %d, want 2", stats.MaxSlots)
	}
	if stats.FreeSlots != 2 {
		t.Errorf("FreeSlots = %d, want 2", stats.FreeSlots)
	}
	if stats.Active != 0 {
		t.Errorf("Active = %d, want 0", stats.Active)
	}
}

type committerFunc func(ctx context.Context, txID, paymentID string, score int, at time.Time) error

func (f committerFunc) CommitAutoMatch(ctx context.Context, txID, paymentID string, score int, at time.Time) error {
	return f(ctx, txID, paymentID, score, at)
}
