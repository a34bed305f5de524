package resilience

import (
	"context"

	"github.com/tandemvoice/tandem/pkg/provider/reasoning"
)

// ReasoningFallback implements [reasoning.Provider] with automatic failover
// across multiple reasoning backends. Each backend has its own circuit
// breaker; when the primary fails or its breaker is open, the next healthy
// fallback is tried.
type ReasoningFallback struct {
	group *FallbackGroup[reasoning.Provider]
}

// Compile-time interface assertion.
var _ reasoning.Provider = (*ReasoningFallback)(nil)

// NewReasoningFallback creates a [ReasoningFallback] with primary as the
// preferred backend.
func NewReasoningFallback(primary reasoning.Provider, primaryName string, cfg FallbackConfig) *ReasoningFallback {
	return &ReasoningFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional reasoning backend as a fallback.
func (f *ReasoningFallback) AddFallback(name string, provider reasoning.Provider) {
	f.group.AddFallback(name, provider)
}

// Name returns the name of the first registered backend (the primary). The
// active backend for a given call may differ when failover kicks in.
func (f *ReasoningFallback) Name() string {
	if len(f.group.entries) > 0 {
		return f.group.entries[0].name
	}
	return "fallback"
}

// StreamGenerate sends the request to the first healthy backend and returns
// its token channel. Only the initial connection attempt is covered by
// failover; once a stream is established, mid-stream errors are the caller's
// responsibility.
func (f *ReasoningFallback) StreamGenerate(ctx context.Context, req reasoning.Request) (<-chan reasoning.Chunk, error) {
	return ExecuteWithResult(f.group, func(p reasoning.Provider) (<-chan reasoning.Chunk, error) {
		return p.StreamGenerate(ctx, req)
	})
}

// Generate sends the request to the first healthy backend and returns its
// full response. If the primary fails, subsequent fallbacks are tried.
func (f *ReasoningFallback) Generate(ctx context.Context, req reasoning.Request) (*reasoning.Response, error) {
	return ExecuteWithResult(f.group, func(p reasoning.Provider) (*reasoning.Response, error) {
		return p.Generate(ctx, req)
	})
}

// Alive reports healthy when at least one backend answers its probe.
func (f *ReasoningFallback) Alive(ctx context.Context) error {
	return f.group.Execute(func(p reasoning.Provider) error {
		return p.Alive(ctx)
	})
}
