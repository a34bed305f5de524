package ollama

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/tandemvoice/tandem/pkg/provider/reasoning"
)

func newTestProvider(t *testing.T, handler http.HandlerFunc) *Provider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(WithBaseURL(srv.URL), WithModel("test-model"))
}

func collect(t *testing.T, ch <-chan reasoning.Chunk) []reasoning.Chunk {
	t.Helper()
	var out []reasoning.Chunk
	timeout := time.After(3 * time.Second)
	for {
		select {
		case c, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, c)
		case <-timeout:
			t.Fatal("timed out draining chunk channel")
		}
	}
}

func TestStreamGenerateEmitsTokens(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			t.Errorf("path = %q, want /api/generate", r.URL.Path)
		}
		var req generateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Model != "test-model" || !req.Stream {
			t.Errorf("request = %+v, want streaming test-model", req)
		}

		w.Header().Set("Content-Type", "application/x-ndjson")
		for _, tok := range []string{"The", " capital", " is", " Paris."} {
			fmt.Fprintf(w, `{"response":%q,"done":false}`+"\n", tok)
		}
		fmt.Fprintln(w, `{"response":"","done":true,"done_reason":"stop","prompt_eval_count":12,"eval_count":4}`)
	})

	ch, err := p.StreamGenerate(context.Background(), reasoning.Request{Prompt: "capital of France?"})
	if err != nil {
		t.Fatalf("StreamGenerate: %v", err)
	}

	chunks := collect(t, ch)
	var text strings.Builder
	for _, c := range chunks {
		text.WriteString(c.Text)
	}
	if got := text.String(); got != "The capital is Paris." {
		t.Errorf("streamed text = %q", got)
	}
	last := chunks[len(chunks)-1]
	if last.FinishReason != "stop" {
		t.Errorf("final FinishReason = %q, want stop", last.FinishReason)
	}
}

func TestStreamGenerateSurfacesMidStreamError(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"response":"part","done":false}`)
		fmt.Fprintln(w, `{"error":"model crashed"}`)
	})

	ch, err := p.StreamGenerate(context.Background(), reasoning.Request{Prompt: "hi"})
	if err != nil {
		t.Fatalf("StreamGenerate: %v", err)
	}

	chunks := collect(t, ch)
	last := chunks[len(chunks)-1]
	if last.FinishReason != "error" {
		t.Fatalf("final FinishReason = %q, want error", last.FinishReason)
	}
	if !strings.Contains(last.Text, "model crashed") {
		t.Errorf("error chunk text = %q", last.Text)
	}
}

func TestStreamGenerateRejectsEmptyPrompt(t *testing.T) {
	p := New()
	if _, err := p.StreamGenerate(context.Background(), reasoning.Request{}); err == nil {
		t.Error("StreamGenerate accepted an empty prompt")
	}
}

func TestGenerateReturnsFullResponse(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		var req generateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Stream {
			t.Error("Generate sent a streaming request")
		}
		fmt.Fprintln(w, `{"response":"YES","done":true,"done_reason":"stop","prompt_eval_count":8,"eval_count":1}`)
	})

	resp, err := p.Generate(context.Background(), reasoning.Request{Prompt: "Is this complex? Answer YES or NO."})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if resp.Content != "YES" {
		t.Errorf("Content = %q, want YES", resp.Content)
	}
	if resp.Usage.PromptTokens != 8 || resp.Usage.CompletionTokens != 1 {
		t.Errorf("Usage = %+v", resp.Usage)
	}
}

func TestGenerateReportsAPIError(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprintln(w, `{"error":"model \"missing\" not found"}`)
	})

	_, err := p.Generate(context.Background(), reasoning.Request{Prompt: "hi"})
	if err == nil {
		t.Fatal("Generate succeeded against a 404")
	}
	if !strings.Contains(err.Error(), "not found") {
		t.Errorf("error = %v, want the backend message included", err)
	}
}

func TestAlive(t *testing.T) {
	var probed bool
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			t.Errorf("path = %q, want /api/tags", r.URL.Path)
		}
		probed = true
		fmt.Fprintln(w, `{"models":[{"name":"test-model"}]}`)
	})

	if err := p.Alive(context.Background()); err != nil {
		t.Fatalf("Alive: %v", err)
	}
	if !probed {
		t.Error("probe never reached the server")
	}
}

func TestAliveFailsWhenUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	p := New(WithBaseURL(url))
	if err := p.Alive(context.Background()); err == nil {
		t.Error("Alive succeeded against a closed server")
	}
}
