// Package observability provides run tracing and Prometheus metrics for
// the reconciliation engine.
//
// This provides:
//   - Trace spans for runs and manual actions (run → generate → resolve → commit)
//   - Trace ID propagation through context
//   - Prometheus counters and histograms for outcomes, conflicts and latency
package observability

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ═══════════════════════════════════════════════════════════════════════════
// Trace Spans
// ═══════════════════════════════════════════════════════════════════════════

// Span represents one traced unit of work.
type Span struct {
	TraceID   string            `json:"trace_id"`
	SpanID    string            `json:"span_id"`
	ParentID  string            `json:"parent_id,omitempty"`
	Operation string            `json:"operation"`
	StartTime time.Time         `json:"start_time"`
	EndTime   time.Time         `json:"end_time,omitempty"`
	Duration  time.Duration     `json:"duration,omitempty"`
	Status    SpanStatus        `json:"status"`
	Attrs     map[string]string `json:"attrs,omitempty"`
}

// SpanStatus indicates success/failure.
type SpanStatus int

const (
	SpanOK SpanStatus = iota
	SpanError
)

// ─── Tracer ─────────────────────────────────────────────────────────────────

// Tracer keeps the most recent spans in memory for inspection.
type Tracer struct {
	mu       sync.Mutex
	spans    []Span
	maxSpans int
	enabled  bool
}

// TracerConfig configures the tracer.
type TracerConfig struct {
	Enabled  bool
	MaxSpans int // ring buffer size (default 1_000)
}

// DefaultTracerConfig returns production defaults.
func DefaultTracerConfig() TracerConfig {
	return TracerConfig{
		Enabled:  true,
		MaxSpans: 1_000,
	}
}

// NewTracer creates a new tracer.
func NewTracer(cfg TracerConfig) *Tracer {
	if cfg.MaxSpans <= 0 {
		cfg.MaxSpans = DefaultTracerConfig().MaxSpans
	}
	return &Tracer{
		spans:    make([]Span, 0, cfg.MaxSpans),
		maxSpans: cfg.MaxSpans,
		enabled:  cfg.Enabled,
	}
}

// StartSpan begins a span and returns a context carrying its IDs, so spans
// started from that context become children.
func (t *Tracer) StartSpan(ctx context.Context, operation string, attrs map[string]string) (context.Context, *Span) {
	if t == nil || !t.enabled {
		return ctx, &Span{Operation: operation}
	}

	span := &Span{
		TraceID:   traceIDFromContext(ctx),
		SpanID:    uuid.NewString(),
		ParentID:  spanIDFromContext(ctx),
		Operation: operation,
		StartTime: time.Now(),
		Status:    SpanOK,
		Attrs:     attrs,
	}
	ctx = WithTraceID(ctx, span.TraceID)
	ctx = context.WithValue(ctx, spanIDKey, span.SpanID)
	return ctx, span
}

// EndSpan completes a span and records it.
func (t *Tracer) EndSpan(span *Span, err error) {
	if t == nil || !t.enabled || span == nil {
		return
	}

	span.EndTime = time.Now()
	span.Duration = span.EndTime.Sub(span.StartTime)
	if err != nil {
		span.Status = SpanError
		if span.Attrs == nil {
			span.Attrs = make(map[string]string)
		}
		span.Attrs["error"] = err.Error()
		TraceErrors.Inc()
	}
	TracesRecorded.Inc()

	t.mu.Lock()
	defer t.mu.Unlock()

	// Ring buffer: overwrite oldest if at capacity
	if len(t.spans) >= t.maxSpans {
		t.spans = t.spans[1:]
	}
	t.spans = append(t.spans, *span)
}

// Spans returns a copy of the most recent spans.
func (t *Tracer) Spans(limit int) []Span {
	t.mu.Lock()
	defer t.mu.Unlock()

	if limit <= 0 || limit > len(t.spans) {
		limit = len(t.spans)
	}

	start := len(t.spans) - limit
	out := make([]Span, limit)
	copy(out, t.spans[start:])
	return out
}

// SpanCount returns the number of recorded spans.
func (t *Tracer) SpanCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.spans)
}

// ─── Context Helpers ────────────────────────────────────────────────────────

type contextKey string

const (
	traceIDKey contextKey = "propledger-trace-id"
	spanIDKey  contextKey = "propledger-span-id"
)

// WithTraceID returns a context with the given trace ID.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// TraceIDFromContext returns the trace ID carried by ctx, or "".
func TraceIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(traceIDKey).(string)
	return v
}

func traceIDFromContext(ctx context.Context) string {
	if v := TraceIDFromContext(ctx); v != "" {
		return v
	}
	return uuid.NewString()
}

func spanIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(spanIDKey).(string)
	return v
}

// ═══════════════════════════════════════════════════════════════════════════
// Prometheus Metrics
// ═══════════════════════════════════════════════════════════════════════════

// ─── Run Metrics ────────────────────────────────────────────────────────────

// RunsTotal counts runs by mode (live, dry) and result (ok, failed, rejected).
var RunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "propledger",
	Subsystem: "reconcile",
	Name:      "runs_total",
	Help:      "Total reconciliation runs by mode and result.",
}, []string{"mode", "result"})

// RunDuration tracks wall time of a run.
var RunDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "propledger",
	Subsystem: "reconcile",
	Name:      "run_duration_seconds",
	Help:      "Reconciliation run duration in seconds.",
	Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
}, []string{"mode"})

// TransactionsScanned counts transactions examined by runs.
var TransactionsScanned = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "propledger",
	Subsystem: "reconcile",
	Name:      "transactions_scanned_total",
	Help:      "Total bank transactions examined by reconciliation runs.",
})

// Outcomes counts per-transaction decisions by kind.
var Outcomes = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "propledger",
	Subsystem: "reconcile",
	Name:      "outcomes_total",
	Help:      "Total per-transaction outcomes by kind (AUTO_MATCH, REVIEW, NO_CANDIDATE).",
}, []string{"kind"})

// MatchScores tracks the distribution of assigned candidate scores.
var MatchScores = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "propledger",
	Subsystem: "reconcile",
	Name:      "match_score",
	Help:      "Confidence score of assigned candidates.",
	Buckets:   prometheus.LinearBuckets(10, 10, 10),
})

// ─── Commit Metrics ─────────────────────────────────────────────────────────

// CommitConflicts counts guarded writes that lost a race.
var CommitConflicts = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "propledger",
	Subsystem: "commit",
	Name:      "conflicts_total",
	Help:      "Total commits rejected because state changed concurrently.",
}, []string{"source"})

// CommitFailures counts persistence failures.
var CommitFailures = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "propledger",
	Subsystem: "commit",
	Name:      "failures_total",
	Help:      "Total commits that failed with a persistence error.",
}, []string{"source"})

// ManualActions counts operator actions by action and result.
var ManualActions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "propledger",
	Subsystem: "manual",
	Name:      "actions_total",
	Help:      "Total manual actions by action and result.",
}, []string{"action", "result"})

// ─── Trace Metrics ──────────────────────────────────────────────────────────

// TracesRecorded tracks total spans recorded.
var TracesRecorded = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "propledger",
	Subsystem: "traces",
	Name:      "spans_recorded_total",
	Help:      "Total trace spans recorded.",
})

// TraceErrors tracks error spans.
var TraceErrors = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "propledger",
	Subsystem: "traces",
	Name:      "error_spans_total",
	Help:      "Total trace spans with error status.",
})
