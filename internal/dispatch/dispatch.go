// Package dispatch runs reasoning-backend queries concurrently with the live
// voice conversation.
//
// A [Dispatcher] owns the at-most-one-in-flight rule: while a query is
// running, further complex utterances are dropped rather than queued, because
// by the time a queued answer would arrive the conversation has moved on.
// Results stream back through a [Sink] so the relay can forward them to the
// client without the dispatcher knowing about wire formats.
package dispatch

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tandemvoice/tandem/internal/observe"
	"github.com/tandemvoice/tandem/internal/resilience"
	"github.com/tandemvoice/tandem/internal/router"
	"github.com/tandemvoice/tandem/pkg/provider/reasoning"
)

// Sink receives the lifecycle of one dispatched query. Implementations must
// be safe for concurrent use; all methods for a single query are called from
// one goroutine, but queries from different sessions may overlap.
type Sink interface {
	// Thinking signals that the reasoning backend has accepted the query.
	Thinking(query string, decision router.Decision)

	// Partial delivers one streamed token or fragment.
	Partial(text string)

	// Final delivers the complete answer and the time the query took.
	Final(text string, elapsed time.Duration)

	// Failed signals that the query could not be answered. The conversation
	// continues on the speech backend; this is never fatal to the session.
	Failed(err error)
}

// Option is a functional option for configuring a Dispatcher.
type Option func(*Dispatcher)

// WithVerifier sets the verifier consulted for Uncertain decisions before
// dispatching. Without one, Uncertain utterances stay on the speech backend.
func WithVerifier(v *router.Verifier) Option {
	return func(d *Dispatcher) { d.verifier = v }
}

// WithCircuitBreaker guards backend calls with the given breaker.
func WithCircuitBreaker(cb *resilience.CircuitBreaker) Option {
	return func(d *Dispatcher) { d.breaker = cb }
}

// WithMetrics sets the metrics instance. Defaults to observe.DefaultMetrics.
func WithMetrics(m *observe.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithLogger sets the logger. Defaults to slog.Default.
func WithLogger(log *slog.Logger) Option {
	return func(d *Dispatcher) { d.log = log }
}

// WithSystemPrompt sets the system instruction sent with every query.
func WithSystemPrompt(prompt string) Option {
	return func(d *Dispatcher) { d.systemPrompt = prompt }
}

// Dispatcher sends complex utterances to a reasoning backend, one at a time.
// It is safe for concurrent use.
type Dispatcher struct {
	backend      reasoning.Provider
	verifier     *router.Verifier
	breaker      *resilience.CircuitBreaker
	metrics      *observe.Metrics
	log          *slog.Logger
	systemPrompt string

	pending atomic.Bool
	wg      sync.WaitGroup
}

// New creates a Dispatcher for the given backend with the options applied.
func New(backend reasoning.Provider, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		backend: backend,
		metrics: observe.DefaultMetrics(),
		log:     slog.Default(),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Pending reports whether a query is currently in flight.
func (d *Dispatcher) Pending() bool {
	return d.pending.Load()
}

// Dispatch starts answering text asynchronously, delivering results to sink,
// and returns true. When a query is already in flight it records a drop and
// returns false without blocking. Uncertain decisions are verified first,
// inside the background goroutine; if verification settles on Simple, the
// slot is released and the sink never hears about the query.
//
// The goroutine stops when ctx is cancelled; use [Dispatcher.Wait] during
// session teardown.
func (d *Dispatcher) Dispatch(ctx context.Context, text string, decision router.Decision, sink Sink) bool {
	if !d.pending.CompareAndSwap(false, true) {
		d.log.Debug("dispatch dropped, query already in flight", "text_len", len(text))
		d.metrics.RecordDrop(ctx, "dispatch_pending")
		return false
	}

	d.wg.Add(1)
	d.metrics.DispatchesInFlight.Add(ctx, 1)
	go func() {
		defer d.wg.Done()
		defer d.metrics.DispatchesInFlight.Add(ctx, -1)
		defer d.pending.Store(false)
		d.run(ctx, text, decision, sink)
	}()
	return true
}

// Wait blocks until the in-flight query (if any) has finished. Cancel the
// dispatch context first or Wait may block for the full generation.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// run executes one query end to end. It owns the pending slot for its whole
// lifetime, including the verification pass.
func (d *Dispatcher) run(ctx context.Context, text string, decision router.Decision, sink Sink) {
	if decision.Complexity == router.Uncertain {
		if d.verifier == nil {
			return
		}
		start := time.Now()
		decision = d.verifier.Verify(ctx, text, decision)
		d.metrics.VerifyDuration.Record(ctx, time.Since(start).Seconds())
		if decision.Complexity != router.Complex {
			return
		}
	}

	ctx, span := observe.StartSpan(ctx, "dispatch.query")
	defer span.End()

	sink.Thinking(text, decision)

	start := time.Now()
	answer, err := d.query(ctx, text, sink)
	elapsed := time.Since(start)
	d.metrics.DispatchDuration.Record(ctx, elapsed.Seconds())

	if err != nil {
		if ctx.Err() != nil {
			// Session is going away; nobody is listening anymore.
			return
		}
		d.metrics.RecordSecondaryError(ctx, d.backend.Name())
		d.log.Warn("reasoning dispatch failed",
			"backend", d.backend.Name(), "elapsed", elapsed, "error", err)
		sink.Failed(err)
		return
	}

	d.log.Info("reasoning dispatch complete",
		"backend", d.backend.Name(), "elapsed", elapsed, "answer_len", len(answer))
	sink.Final(answer, elapsed)
}

// query streams the generation, forwarding fragments to the sink and
// accumulating the full answer. The initial stream start runs under the
// circuit breaker when one is configured.
func (d *Dispatcher) query(ctx context.Context, text string, sink Sink) (string, error) {
	req := reasoning.Request{
		Prompt: text,
		System: d.systemPrompt,
	}

	var ch <-chan reasoning.Chunk
	open := func() error {
		var err error
		ch, err = d.backend.StreamGenerate(ctx, req)
		return err
	}

	var err error
	if d.breaker != nil {
		err = d.breaker.Execute(open)
	} else {
		err = open()
	}
	if err != nil {
		return "", err
	}

	var full strings.Builder
	for chunk := range ch {
		if chunk.FinishReason == "error" {
			return "", &streamError{msg: chunk.Text}
		}
		if chunk.Text != "" {
			full.WriteString(chunk.Text)
			sink.Partial(chunk.Text)
		}
	}
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	return full.String(), nil
}

// streamError wraps a mid-stream failure reported by the backend.
type streamError struct {
	msg string
}

func (e *streamError) Error() string {
	return "dispatch: stream failed: " + e.msg
}
