package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"primary":   {"moshi"},
	"secondary": {"ollama", "openai", "anthropic", "gemini", "deepseek", "mistral", "groq", "llamacpp"},
	"vad":       {"energy"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	// Client audio
	if cfg.Client.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("client.sample_rate %d must not be negative", cfg.Client.SampleRate))
	}

	// Provider name validation — warn for unknown provider names.
	validateProviderName("primary", cfg.Primary.Name)
	validateProviderName("secondary", cfg.Secondary.Name)
	validateProviderName("vad", cfg.VAD.Name)

	if cfg.Primary.Name == "" {
		errs = append(errs, errors.New("primary.name is required; the relay cannot run without a speech backend"))
	}

	// Secondary + fallbacks
	if cfg.Secondary.Name == "" {
		if len(cfg.Secondary.Fallbacks) > 0 {
			errs = append(errs, errors.New("secondary.fallbacks is set but secondary.name is empty"))
		}
		slog.Warn("no secondary reasoning backend configured; complex utterances stay on the speech backend")
	}
	fallbackSeen := make(map[string]int, len(cfg.Secondary.Fallbacks))
	for i, fb := range cfg.Secondary.Fallbacks {
		prefix := fmt.Sprintf("secondary.fallbacks[%d]", i)
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
			continue
		}
		validateProviderName("secondary", fb.Name)
		if prev, ok := fallbackSeen[fb.Name]; ok {
			errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of secondary.fallbacks[%d]", prefix, fb.Name, prev))
		}
		fallbackSeen[fb.Name] = i
	}
	if cfg.Secondary.Breaker.MaxFailures < 0 {
		errs = append(errs, fmt.Errorf("secondary.breaker.max_failures %d must not be negative", cfg.Secondary.Breaker.MaxFailures))
	}
	if cfg.Secondary.Breaker.ResetTimeout < 0 {
		errs = append(errs, errors.New("secondary.breaker.reset_timeout must not be negative"))
	}

	// VAD
	if cfg.VAD.SpeechThreshold < 0 || cfg.VAD.SpeechThreshold > 1 {
		errs = append(errs, fmt.Errorf("vad.speech_threshold %.3f is out of range [0, 1]", cfg.VAD.SpeechThreshold))
	}
	if cfg.VAD.SilenceHold < 0 {
		errs = append(errs, errors.New("vad.silence_hold must not be negative"))
	}

	// Router
	if cfg.Router.Verify && cfg.Secondary.Name == "" {
		errs = append(errs, errors.New("router.verify requires a secondary backend"))
	}
	if cfg.Router.VerifyTimeout < 0 {
		errs = append(errs, errors.New("router.verify_timeout must not be negative"))
	}
	if cfg.Router.StateInterval < 0 {
		errs = append(errs, errors.New("router.state_interval must not be negative"))
	}
	if cfg.Router.AssistantHold < 0 {
		errs = append(errs, errors.New("router.assistant_hold must not be negative"))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
