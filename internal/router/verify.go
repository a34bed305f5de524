package router

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tandemvoice/tandem/pkg/provider/reasoning"
)

// defaultVerifyTimeout bounds the verification round-trip. An utterance that
// cannot be verified in time keeps its fast decision.
const defaultVerifyTimeout = 2 * time.Second

// verifyPrompt asks the model for a one-word answer. The utterance is
// interpolated in quotes.
const verifyPrompt = `Classify this query as SIMPLE or COMPLEX.
SIMPLE = casual chat, greetings, quick questions, yes/no answers
COMPLEX = needs reasoning, explanation, code, math, research, detailed response

Query: %q

Respond with only one word: SIMPLE or COMPLEX`

func formatVerifyPrompt(text string) string {
	return fmt.Sprintf(verifyPrompt, text)
}

// Verifier confirms Uncertain classifications by asking a small model. It
// never touches Simple or Complex decisions and degrades to the fast decision
// on any error, so it can only upgrade quality, not block routing.
type Verifier struct {
	backend reasoning.Provider
	timeout time.Duration
	log     *slog.Logger
}

// VerifierOption is a functional option for configuring a Verifier.
type VerifierOption func(*Verifier)

// WithVerifyTimeout overrides the verification deadline.
func WithVerifyTimeout(d time.Duration) VerifierOption {
	return func(v *Verifier) { v.timeout = d }
}

// WithVerifierLogger sets the logger used for degraded verifications.
func WithVerifierLogger(log *slog.Logger) VerifierOption {
	return func(v *Verifier) { v.log = log }
}

// NewVerifier creates a Verifier that consults backend for uncertain
// utterances.
func NewVerifier(backend reasoning.Provider, opts ...VerifierOption) *Verifier {
	v := &Verifier{
		backend: backend,
		timeout: defaultVerifyTimeout,
		log:     slog.Default(),
	}
	for _, o := range opts {
		o(v)
	}
	return v
}

// Verify refines fast for the given utterance. Non-Uncertain decisions pass
// through untouched. For Uncertain ones the backend is asked for a one-word
// classification under the verification deadline; a reply containing
// "COMPLEX" escalates, anything else settles on Simple. Errors and timeouts
// return fast unchanged.
func (v *Verifier) Verify(ctx context.Context, text string, fast Decision) Decision {
	if fast.Complexity != Uncertain {
		return fast
	}

	verifyCtx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	resp, err := v.backend.Generate(verifyCtx, reasoning.Request{
		Prompt:    formatVerifyPrompt(text),
		MaxTokens: 10,
	})
	if err != nil {
		v.log.Debug("verification failed, keeping fast decision",
			"backend", v.backend.Name(), "error", err)
		return fast
	}

	if strings.Contains(strings.ToUpper(resp.Content), "COMPLEX") {
		return Decision{
			Complexity: Complex,
			Confidence: 0.75,
			Reason:     "verified as complex",
			Target:     BackendSecondary,
		}
	}
	return Decision{
		Complexity: Simple,
		Confidence: 0.75,
		Reason:     "verified as simple",
		Target:     BackendPrimary,
	}
}
