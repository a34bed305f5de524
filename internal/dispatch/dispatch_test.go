package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/tandemvoice/tandem/internal/resilience"
	"github.com/tandemvoice/tandem/internal/router"
	"github.com/tandemvoice/tandem/pkg/provider/reasoning"
	"github.com/tandemvoice/tandem/pkg/provider/reasoning/mock"
)

var complexDecision = router.Decision{
	Complexity: router.Complex,
	Confidence: 0.8,
	Reason:     "matched complex pattern",
	Target:     router.BackendSecondary,
}

// recordSink collects sink callbacks and closes done after Final or Failed.
type recordSink struct {
	mu       sync.Mutex
	thinking []string
	partials []string
	final    string
	elapsed  time.Duration
	failures []error
	done     chan struct{}
}

func newRecordSink() *recordSink {
	return &recordSink{done: make(chan struct{})}
}

func (s *recordSink) Thinking(query string, _ router.Decision) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.thinking = append(s.thinking, query)
}

func (s *recordSink) Partial(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.partials = append(s.partials, text)
}

func (s *recordSink) Final(text string, elapsed time.Duration) {
	s.mu.Lock()
	s.final = text
	s.elapsed = elapsed
	s.mu.Unlock()
	close(s.done)
}

func (s *recordSink) Failed(err error) {
	s.mu.Lock()
	s.failures = append(s.failures, err)
	s.mu.Unlock()
	close(s.done)
}

func (s *recordSink) await(t *testing.T) {
	t.Helper()
	select {
	case <-s.done:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for sink completion")
	}
}

func TestDispatchStreamsAndCompletes(t *testing.T) {
	backend := &mock.Provider{
		StreamChunks: []reasoning.Chunk{
			{Text: "Neural networks "},
			{Text: "learn by backprop."},
			{FinishReason: "stop"},
		},
	}
	d := New(backend)
	sink := newRecordSink()

	if !d.Dispatch(context.Background(), "explain neural networks", complexDecision, sink) {
		t.Fatal("Dispatch refused with no query in flight")
	}
	sink.await(t)

	if len(sink.thinking) != 1 || sink.thinking[0] != "explain neural networks" {
		t.Errorf("thinking = %v", sink.thinking)
	}
	if len(sink.partials) != 2 {
		t.Errorf("partials = %v, want 2 fragments", sink.partials)
	}
	if sink.final != "Neural networks learn by backprop." {
		t.Errorf("final = %q", sink.final)
	}
	if sink.elapsed <= 0 {
		t.Error("elapsed not recorded")
	}
	if d.Pending() {
		t.Error("Pending still true after completion")
	}
}

func TestDispatchDropsWhileInFlight(t *testing.T) {
	release := make(chan struct{})
	backend := &mock.Provider{
		StreamChunks: []reasoning.Chunk{{Text: "slow"}, {FinishReason: "stop"}},
		StreamDelay:  release,
	}
	d := New(backend)
	first := newRecordSink()
	second := newRecordSink()

	if !d.Dispatch(context.Background(), "first query", complexDecision, first) {
		t.Fatal("first Dispatch refused")
	}

	// The first stream is held open; the second query must be dropped.
	deadline := time.After(3 * time.Second)
	for !d.Pending() {
		select {
		case <-deadline:
			t.Fatal("first dispatch never became pending")
		default:
			time.Sleep(time.Millisecond)
		}
	}
	if d.Dispatch(context.Background(), "second query", complexDecision, second) {
		t.Error("second Dispatch accepted while first is in flight")
	}

	close(release)
	first.await(t)

	if len(second.thinking) != 0 {
		t.Error("dropped query reached the sink")
	}
	if backend.StreamCallCount() != 1 {
		t.Errorf("backend streams = %d, want 1", backend.StreamCallCount())
	}

	// The slot frees up once the first query completes.
	d.Wait()
	third := newRecordSink()
	if !d.Dispatch(context.Background(), "third query", complexDecision, third) {
		t.Error("Dispatch refused after the slot was released")
	}
	third.await(t)
}

func TestDispatchFailureIsNonFatalAndReleasesSlot(t *testing.T) {
	backend := &mock.Provider{
		StreamErr: errors.New("backend exploded"),
	}
	d := New(backend)
	sink := newRecordSink()

	if !d.Dispatch(context.Background(), "explain this", complexDecision, sink) {
		t.Fatal("Dispatch refused")
	}
	sink.await(t)

	if len(sink.failures) != 1 {
		t.Fatalf("failures = %v, want exactly one", sink.failures)
	}
	if sink.final != "" {
		t.Errorf("final = %q after failure", sink.final)
	}

	d.Wait()
	if d.Pending() {
		t.Error("slot still held after failure")
	}
}

func TestDispatchMidStreamErrorReported(t *testing.T) {
	backend := &mock.Provider{
		StreamChunks: []reasoning.Chunk{
			{Text: "partial answer "},
			{Text: "model crashed", FinishReason: "error"},
		},
	}
	d := New(backend)
	sink := newRecordSink()

	d.Dispatch(context.Background(), "explain this", complexDecision, sink)
	sink.await(t)

	if len(sink.failures) != 1 {
		t.Fatalf("failures = %v, want exactly one", sink.failures)
	}
	if got := sink.failures[0].Error(); got != "dispatch: stream failed: model crashed" {
		t.Errorf("failure = %q", got)
	}
}

func TestUncertainWithoutVerifierReleasesSilently(t *testing.T) {
	backend := &mock.Provider{}
	d := New(backend)
	sink := newRecordSink()

	uncertain := router.Decision{Complexity: router.Uncertain, Target: router.BackendPrimary}
	if !d.Dispatch(context.Background(), "write it down", uncertain, sink) {
		t.Fatal("Dispatch refused")
	}
	d.Wait()

	if len(sink.thinking) != 0 || len(sink.failures) != 0 {
		t.Error("sink was touched for an unverifiable uncertain utterance")
	}
	if backend.StreamCallCount() != 0 {
		t.Error("backend was queried for an unverifiable uncertain utterance")
	}
	if d.Pending() {
		t.Error("slot still held")
	}
}

func TestUncertainEscalatesAfterVerification(t *testing.T) {
	backend := &mock.Provider{
		GenerateResponse: &reasoning.Response{Content: "COMPLEX"},
		StreamChunks: []reasoning.Chunk{
			{Text: "deep answer"},
			{FinishReason: "stop"},
		},
	}
	d := New(backend, WithVerifier(router.NewVerifier(backend)))
	sink := newRecordSink()

	uncertain := router.Decision{Complexity: router.Uncertain, Target: router.BackendPrimary}
	d.Dispatch(context.Background(), "write it down", uncertain, sink)
	sink.await(t)

	if sink.final != "deep answer" {
		t.Errorf("final = %q, want the escalated answer", sink.final)
	}
	if backend.GenerateCallCount() != 1 {
		t.Errorf("verification calls = %d, want 1", backend.GenerateCallCount())
	}
}

func TestUncertainVerifiedSimpleStaysQuiet(t *testing.T) {
	backend := &mock.Provider{
		GenerateResponse: &reasoning.Response{Content: "SIMPLE"},
	}
	d := New(backend, WithVerifier(router.NewVerifier(backend)))
	sink := newRecordSink()

	uncertain := router.Decision{Complexity: router.Uncertain, Target: router.BackendPrimary}
	d.Dispatch(context.Background(), "write it down", uncertain, sink)
	d.Wait()

	if len(sink.thinking) != 0 {
		t.Error("sink heard about a verified-simple utterance")
	}
	if backend.StreamCallCount() != 0 {
		t.Error("backend was streamed for a verified-simple utterance")
	}
}

func TestDispatchWithOpenBreakerFails(t *testing.T) {
	backend := &mock.Provider{
		StreamErr: errors.New("down"),
	}
	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:         "secondary",
		MaxFailures:  1,
		ResetTimeout: time.Hour,
	})
	d := New(backend, WithCircuitBreaker(cb))

	// Trip the breaker.
	first := newRecordSink()
	d.Dispatch(context.Background(), "q1", complexDecision, first)
	first.await(t)
	d.Wait()

	// Now the breaker rejects without touching the backend.
	calls := backend.StreamCallCount()
	second := newRecordSink()
	d.Dispatch(context.Background(), "q2", complexDecision, second)
	second.await(t)

	if len(second.failures) != 1 || !errors.Is(second.failures[0], resilience.ErrCircuitOpen) {
		t.Errorf("failures = %v, want ErrCircuitOpen", second.failures)
	}
	if backend.StreamCallCount() != calls {
		t.Error("backend was called while the breaker is open")
	}
}
