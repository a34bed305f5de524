// Package ollama implements the reasoning.Provider interface against the
// native Ollama HTTP API.
//
// Streaming uses POST /api/generate with its newline-delimited JSON response;
// liveness probes hit GET /api/tags, which also confirms the daemon can list
// its models. The zero-config default targets http://localhost:11434.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tandemvoice/tandem/pkg/provider/reasoning"
)

var _ reasoning.Provider = (*Provider)(nil)

const (
	defaultBaseURL = "http://localhost:11434"
	defaultModel   = "qwen2.5:7b"

	// probeTimeout bounds the /api/tags liveness check.
	probeTimeout = 3 * time.Second
)

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithBaseURL overrides the Ollama daemon address.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = url }
}

// WithModel overrides the model name passed to /api/generate.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithHTTPClient overrides the HTTP client, e.g. to set transport limits.
func WithHTTPClient(client *http.Client) Option {
	return func(p *Provider) { p.client = client }
}

// ── Provider ───────────────────────────────────────────────────────────────────

// Provider implements reasoning.Provider for a local or remote Ollama daemon.
type Provider struct {
	baseURL string
	model   string
	client  *http.Client
}

// New creates an Ollama provider with the given options applied over the
// defaults.
func New(opts ...Option) *Provider {
	p := &Provider{
		baseURL: defaultBaseURL,
		model:   defaultModel,
		client:  &http.Client{},
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Name implements reasoning.Provider.
func (p *Provider) Name() string { return "ollama" }

// generateRequest is the wire format of POST /api/generate.
type generateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	System  string          `json:"system,omitempty"`
	Stream  bool            `json:"stream"`
	Options *generateOption `json:"options,omitempty"`
}

type generateOption struct {
	Temperature float64 `json:"temperature,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

// generateChunk is one NDJSON line of a streaming /api/generate response.
// The final line has Done set and carries the token counts.
type generateChunk struct {
	Response        string `json:"response"`
	Done            bool   `json:"done"`
	DoneReason      string `json:"done_reason"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
	Error           string `json:"error"`
}

func (p *Provider) newGenerate(ctx context.Context, req reasoning.Request, stream bool) (*http.Request, error) {
	body := generateRequest{
		Model:  p.model,
		Prompt: req.Prompt,
		System: req.System,
		Stream: stream,
	}
	if req.Temperature != 0 || req.MaxTokens > 0 {
		body.Options = &generateOption{
			Temperature: req.Temperature,
			NumPredict:  req.MaxTokens,
		}
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("ollama: marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/generate", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("ollama: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	return httpReq, nil
}

// StreamGenerate implements reasoning.Provider. Each NDJSON line of the
// daemon's response becomes one Chunk.
func (p *Provider) StreamGenerate(ctx context.Context, req reasoning.Request) (<-chan reasoning.Chunk, error) {
	if req.Prompt == "" {
		return nil, errors.New("ollama: empty prompt")
	}
	httpReq, err := p.newGenerate(ctx, req, true)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("ollama: generate: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, fmt.Errorf("ollama: generate: %s", readError(resp))
	}

	ch := make(chan reasoning.Chunk, 32)
	go func() {
		defer close(ch)
		defer resp.Body.Close()

		dec := json.NewDecoder(resp.Body)
		for {
			var line generateChunk
			if err := dec.Decode(&line); err != nil {
				if errors.Is(err, io.EOF) || ctx.Err() != nil {
					return
				}
				emit(ctx, ch, reasoning.Chunk{Text: err.Error(), FinishReason: "error"})
				return
			}
			if line.Error != "" {
				emit(ctx, ch, reasoning.Chunk{Text: line.Error, FinishReason: "error"})
				return
			}

			out := reasoning.Chunk{Text: line.Response}
			if line.Done {
				out.FinishReason = finishReason(line.DoneReason)
			}
			if !emit(ctx, ch, out) || line.Done {
				return
			}
		}
	}()

	return ch, nil
}

// Generate implements reasoning.Provider using a non-streaming request.
func (p *Provider) Generate(ctx context.Context, req reasoning.Request) (*reasoning.Response, error) {
	if req.Prompt == "" {
		return nil, errors.New("ollama: empty prompt")
	}
	httpReq, err := p.newGenerate(ctx, req, false)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("ollama: generate: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ollama: generate: %s", readError(resp))
	}

	var out generateChunk
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("ollama: decode response: %w", err)
	}
	if out.Error != "" {
		return nil, fmt.Errorf("ollama: generate: %s", out.Error)
	}
	return &reasoning.Response{
		Content: out.Response,
		Usage: reasoning.Usage{
			PromptTokens:     out.PromptEvalCount,
			CompletionTokens: out.EvalCount,
		},
	}, nil
}

// Alive implements reasoning.Provider by listing the daemon's models.
func (p *Provider) Alive(ctx context.Context) error {
	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(probeCtx, http.MethodGet, p.baseURL+"/api/tags", nil)
	if err != nil {
		return fmt.Errorf("ollama: build probe: %w", err)
	}
	resp, err := p.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("ollama: probe: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama: probe: unexpected status %d", resp.StatusCode)
	}
	return nil
}

func emit(ctx context.Context, ch chan<- reasoning.Chunk, c reasoning.Chunk) bool {
	select {
	case ch <- c:
		return true
	case <-ctx.Done():
		return false
	}
}

// finishReason maps Ollama's done_reason onto the provider-neutral values.
func finishReason(doneReason string) string {
	switch doneReason {
	case "length":
		return "length"
	default:
		return "stop"
	}
}

// readError extracts a usable message from a non-200 response body.
func readError(resp *http.Response) string {
	var apiErr struct {
		Error string `json:"error"`
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
		return fmt.Sprintf("status %d: %s", resp.StatusCode, apiErr.Error)
	}
	return fmt.Sprintf("unexpected status %d", resp.StatusCode)
}
