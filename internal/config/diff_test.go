package config_test

import (
	"testing"
	"time"

	"github.com/tandemvoice/tandem/internal/config"
)

func baseConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			ListenAddr: ":8080",
			LogLevel:   config.LogInfo,
		},
		Client: config.ClientConfig{SampleRate: 16000},
		Primary: config.ProviderEntry{
			Name:    "moshi",
			BaseURL: "ws://localhost:8998/api/chat",
		},
		Secondary: config.SecondaryConfig{
			ProviderEntry: config.ProviderEntry{
				Name:  "ollama",
				Model: "qwen2.5:7b",
			},
		},
		VAD: config.VADConfig{
			Name:            "energy",
			SpeechThreshold: 0.02,
			SilenceHold:     800 * time.Millisecond,
		},
		Router: config.RouterConfig{
			Verify:        true,
			VerifyTimeout: 2 * time.Second,
		},
	}
}

func TestDiff_NoChanges(t *testing.T) {
	old := baseConfig()
	new := baseConfig()

	d := config.Diff(old, new)
	if !d.Empty() {
		t.Errorf("expected empty diff, got %+v", d)
	}
}

func TestDiff_LogLevelChanged(t *testing.T) {
	old := baseConfig()
	new := baseConfig()
	new.Server.LogLevel = config.LogDebug

	d := config.Diff(old, new)
	if !d.LogLevelChanged {
		t.Error("LogLevelChanged: got false, want true")
	}
	if d.NewLogLevel != config.LogDebug {
		t.Errorf("NewLogLevel: got %q, want %q", d.NewLogLevel, config.LogDebug)
	}
	if d.RestartRequired {
		t.Error("log level change should not require restart")
	}
}

func TestDiff_VADTuningChanged(t *testing.T) {
	old := baseConfig()
	new := baseConfig()
	new.VAD.SpeechThreshold = 0.05

	d := config.Diff(old, new)
	if !d.VADChanged {
		t.Error("VADChanged: got false, want true")
	}
	if d.RestartRequired {
		t.Error("VAD tuning change should not require restart")
	}
}

func TestDiff_RouterTuningChanged(t *testing.T) {
	old := baseConfig()
	new := baseConfig()
	new.Router.VerifyTimeout = 5 * time.Second

	d := config.Diff(old, new)
	if !d.RouterChanged {
		t.Error("RouterChanged: got false, want true")
	}
	if d.RestartRequired {
		t.Error("router tuning change should not require restart")
	}
}

func TestDiff_PrimaryChangeRequiresRestart(t *testing.T) {
	old := baseConfig()
	new := baseConfig()
	new.Primary.BaseURL = "ws://other-host:8998/api/chat"

	d := config.Diff(old, new)
	if !d.RestartRequired {
		t.Error("RestartRequired: got false, want true")
	}
}

func TestDiff_SecondaryModelChangeRequiresRestart(t *testing.T) {
	old := baseConfig()
	new := baseConfig()
	new.Secondary.Model = "llama3:70b"

	d := config.Diff(old, new)
	if !d.RestartRequired {
		t.Error("RestartRequired: got false, want true")
	}
}

func TestDiff_FallbackAddedRequiresRestart(t *testing.T) {
	old := baseConfig()
	new := baseConfig()
	new.Secondary.Fallbacks = []config.ProviderEntry{{Name: "openai"}}

	d := config.Diff(old, new)
	if !d.RestartRequired {
		t.Error("RestartRequired: got false, want true")
	}
}

func TestDiff_OptionsChangeDetected(t *testing.T) {
	old := baseConfig()
	new := baseConfig()
	old.Secondary.Options = map[string]any{"num_ctx": 4096}
	new.Secondary.Options = map[string]any{"num_ctx": 8192}

	d := config.Diff(old, new)
	if !d.RestartRequired {
		t.Error("RestartRequired: got false, want true")
	}
}

func TestDiff_TLSToggledRequiresRestart(t *testing.T) {
	old := baseConfig()
	new := baseConfig()
	new.Server.TLS = &config.TLSConfig{CertFile: "cert.pem", KeyFile: "key.pem"}

	d := config.Diff(old, new)
	if !d.RestartRequired {
		t.Error("RestartRequired: got false, want true")
	}
}

func TestDiff_MultipleChanges(t *testing.T) {
	old := baseConfig()
	new := baseConfig()
	new.Server.LogLevel = config.LogWarn
	new.VAD.SilenceHold = time.Second
	new.Router.Verify = false

	d := config.Diff(old, new)
	if !d.LogLevelChanged || !d.VADChanged || !d.RouterChanged {
		t.Errorf("expected all hot-reload flags set, got %+v", d)
	}
	if d.RestartRequired {
		t.Error("tuning-only changes should not require restart")
	}
}
