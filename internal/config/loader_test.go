package config_test

import (
	"slices"
	"strings"
	"testing"

	"github.com/tandemvoice/tandem/internal/config"
)

func TestValidate_MultipleErrors(t *testing.T) {
	yaml := `
server:
  log_level: loud
vad:
  speech_threshold: -1
router:
  verify: true
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	msg := err.Error()
	for _, want := range []string{"log_level", "speech_threshold", "primary.name", "router.verify"} {
		if !strings.Contains(msg, want) {
			t.Errorf("joined error should mention %q, got: %v", want, err)
		}
	}
}

func TestValidate_NegativeDurationsRejected(t *testing.T) {
	yaml := `
primary:
  name: moshi
secondary:
  name: ollama
  breaker:
    reset_timeout: -5s
vad:
  silence_hold: -1s
router:
  verify_timeout: -1s
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for negative durations, got nil")
	}
	msg := err.Error()
	for _, want := range []string{"reset_timeout", "silence_hold", "verify_timeout"} {
		if !strings.Contains(msg, want) {
			t.Errorf("joined error should mention %q, got: %v", want, err)
		}
	}
}

func TestValidate_UnknownProviderNameIsNotFatal(t *testing.T) {
	// Unknown names only warn; a third-party provider may be registered at
	// runtime.
	yaml := `
primary:
  name: moshi
secondary:
  name: my-custom-llm
`
	if _, err := config.LoadFromReader(strings.NewReader(yaml)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_NoSecondaryIsValid(t *testing.T) {
	yaml := `
primary:
  name: moshi
`
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Secondary.Name != "" {
		t.Errorf("secondary.name: got %q, want empty", cfg.Secondary.Name)
	}
}

func TestValidProviderNames(t *testing.T) {
	for _, kind := range []string{"primary", "secondary", "vad"} {
		if len(config.ValidProviderNames[kind]) == 0 {
			t.Errorf("ValidProviderNames[%q] is empty", kind)
		}
	}
	if !slices.Contains(config.ValidProviderNames["secondary"], "ollama") {
		t.Error("secondary providers should include ollama")
	}
}
