// Package mock provides a test double for the reasoning.Provider interface.
//
// Use Provider in unit tests to verify that the dispatcher sends the right
// prompts and to feed controlled token streams without a live backend. All
// fields are safe to set before calling any method; mutating them during a
// concurrent call is the caller's responsibility.
//
// Example:
//
//	p := &mock.Provider{
//	    StreamChunks: []reasoning.Chunk{{Text: "Hi"}, {FinishReason: "stop"}},
//	}
package mock

import (
	"context"
	"sync"

	"github.com/tandemvoice/tandem/pkg/provider/reasoning"
)

// StreamCall records a single invocation of StreamGenerate.
type StreamCall struct {
	// Ctx is the context passed to StreamGenerate.
	Ctx context.Context
	// Req is the Request passed to StreamGenerate.
	Req reasoning.Request
}

// GenerateCall records a single invocation of Generate.
type GenerateCall struct {
	// Ctx is the context passed to Generate.
	Ctx context.Context
	// Req is the Request passed to Generate.
	Req reasoning.Request
}

// Provider is a mock implementation of reasoning.Provider.
// Zero values for response fields cause methods to return zero values and nil
// errors. Set Err fields to inject errors.
type Provider struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// ProviderName is returned by Name. Defaults to "mock".
	ProviderName string

	// StreamChunks is the sequence of Chunk values emitted on the channel
	// returned by StreamGenerate. All chunks are sent before the channel is
	// closed.
	StreamChunks []reasoning.Chunk

	// StreamErr, if non-nil, is returned as the error from StreamGenerate
	// instead of starting a channel.
	StreamErr error

	// StreamDelay, if non-nil, is received from before each chunk is
	// emitted. Lets tests hold a stream open to exercise in-flight states.
	StreamDelay <-chan struct{}

	// GenerateResponse is returned by Generate. May be nil (returns nil, nil).
	GenerateResponse *reasoning.Response

	// GenerateErr, if non-nil, is returned as the error from Generate.
	GenerateErr error

	// AliveErr is returned by Alive.
	AliveErr error

	// --- Call records (read after test) ---

	// StreamCalls records every invocation of StreamGenerate in order.
	StreamCalls []StreamCall

	// GenerateCalls records every invocation of Generate in order.
	GenerateCalls []GenerateCall

	// AliveCallCount is the number of times Alive was called.
	AliveCallCount int
}

var _ reasoning.Provider = (*Provider)(nil)

// Name returns ProviderName, defaulting to "mock".
func (p *Provider) Name() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ProviderName == "" {
		return "mock"
	}
	return p.ProviderName
}

// StreamGenerate records the call and returns a channel that emits
// StreamChunks. If StreamErr is set, it returns nil, StreamErr without
// opening a channel.
func (p *Provider) StreamGenerate(ctx context.Context, req reasoning.Request) (<-chan reasoning.Chunk, error) {
	p.mu.Lock()
	p.StreamCalls = append(p.StreamCalls, StreamCall{Ctx: ctx, Req: req})
	if p.StreamErr != nil {
		err := p.StreamErr
		p.mu.Unlock()
		return nil, err
	}
	chunks := make([]reasoning.Chunk, len(p.StreamChunks))
	copy(chunks, p.StreamChunks)
	delay := p.StreamDelay
	p.mu.Unlock()

	ch := make(chan reasoning.Chunk, len(chunks))
	go func() {
		defer close(ch)
		for _, c := range chunks {
			if delay != nil {
				select {
				case <-delay:
				case <-ctx.Done():
					return
				}
			}
			select {
			case ch <- c:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

// Generate records the call and returns GenerateResponse, GenerateErr.
func (p *Provider) Generate(ctx context.Context, req reasoning.Request) (*reasoning.Response, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.GenerateCalls = append(p.GenerateCalls, GenerateCall{Ctx: ctx, Req: req})
	if p.GenerateErr != nil {
		return nil, p.GenerateErr
	}
	return p.GenerateResponse, nil
}

// Alive records the call and returns AliveErr.
func (p *Provider) Alive(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.AliveCallCount++
	return p.AliveErr
}

// StreamCallCount returns the number of recorded StreamGenerate calls.
// Thread-safe.
func (p *Provider) StreamCallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.StreamCalls)
}

// GenerateCallCount returns the number of recorded Generate calls.
// Thread-safe.
func (p *Provider) GenerateCallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.GenerateCalls)
}
