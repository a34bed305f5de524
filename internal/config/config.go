// Package config provides the configuration schema, loader, and provider
// registry for the tandem voice router.
package config

import "time"

// LogLevel controls log verbosity for the tandem server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure for tandem.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Client    ClientConfig    `yaml:"client"`
	Primary   ProviderEntry   `yaml:"primary"`
	Secondary SecondaryConfig `yaml:"secondary"`
	VAD       VADConfig       `yaml:"vad"`
	Router    RouterConfig    `yaml:"router"`
}

// ServerConfig holds network and logging settings for the tandem server.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// ClientConfig holds audio parameters for the client side of the relay.
type ClientConfig struct {
	// SampleRate is the PCM rate the client app records and plays at.
	// Defaults to 16000 when unset.
	SampleRate int `yaml:"sample_rate"`
}

// ProviderEntry is the common configuration block shared by all provider
// types. The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "moshi",
	// "ollama", "openai").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "qwen2.5:7b",
	// "gpt-4o").
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above. Values may be strings, numbers, booleans, or
	// nested maps.
	Options map[string]any `yaml:"options"`
}

// SecondaryConfig configures the reasoning backend that answers complex
// utterances, plus its resilience settings.
type SecondaryConfig struct {
	ProviderEntry `yaml:",inline"`

	// Fallbacks lists backends tried in order when the main backend (or its
	// circuit breaker) fails. May be empty.
	Fallbacks []ProviderEntry `yaml:"fallbacks"`

	// Breaker tunes the circuit breaker guarding dispatches.
	Breaker BreakerConfig `yaml:"breaker"`
}

// BreakerConfig holds circuit breaker tuning knobs. Zero values take the
// breaker's built-in defaults.
type BreakerConfig struct {
	// MaxFailures is the number of consecutive failures before the breaker
	// opens.
	MaxFailures int `yaml:"max_failures"`

	// ResetTimeout is how long the breaker stays open before probing again.
	ResetTimeout time.Duration `yaml:"reset_timeout"`

	// HalfOpenMax is the number of probe calls allowed while half-open.
	HalfOpenMax int `yaml:"half_open_max"`
}

// VADConfig tunes voice activity detection on the inbound client stream.
type VADConfig struct {
	// Name selects the registered VAD engine. Defaults to "energy".
	Name string `yaml:"name"`

	// SpeechThreshold is the RMS amplitude above which a frame counts as
	// speech, in the range (0, 1).
	SpeechThreshold float64 `yaml:"speech_threshold"`

	// SilenceHold is how long energy must stay below the threshold before
	// speech is considered ended.
	SilenceHold time.Duration `yaml:"silence_hold"`
}

// RouterConfig tunes utterance classification and dispatch behaviour.
type RouterConfig struct {
	// Verify enables LLM verification of borderline classifications. The
	// verification query goes to the secondary backend.
	Verify bool `yaml:"verify"`

	// VerifyTimeout bounds a single verification call. Defaults to 2s.
	VerifyTimeout time.Duration `yaml:"verify_timeout"`

	// StateInterval throttles user_speaking state events. Defaults to 500ms.
	StateInterval time.Duration `yaml:"state_interval"`

	// AssistantHold is the audio gap after which the assistant counts as done
	// speaking. Defaults to 300ms.
	AssistantHold time.Duration `yaml:"assistant_hold"`

	// SystemPrompt overrides the system prompt sent with dispatched queries.
	SystemPrompt string `yaml:"system_prompt"`
}
