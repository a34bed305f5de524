// Command tandem is the main entry point for the tandem voice router: a
// WebSocket proxy that relays duplex audio between clients and a speech
// backend while routing complex utterances to a reasoning backend.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/tandemvoice/tandem/internal/config"
	"github.com/tandemvoice/tandem/internal/observe"
	"github.com/tandemvoice/tandem/internal/relay"
	"github.com/tandemvoice/tandem/internal/resilience"
	"github.com/tandemvoice/tandem/internal/router"
	"github.com/tandemvoice/tandem/internal/server"
	"github.com/tandemvoice/tandem/pkg/provider/reasoning"
	"github.com/tandemvoice/tandem/pkg/provider/reasoning/anyllm"
	ollamallm "github.com/tandemvoice/tandem/pkg/provider/reasoning/ollama"
	oaillm "github.com/tandemvoice/tandem/pkg/provider/reasoning/openai"
	"github.com/tandemvoice/tandem/pkg/provider/speech"
	"github.com/tandemvoice/tandem/pkg/provider/speech/moshi"
	"github.com/tandemvoice/tandem/pkg/provider/vad"
	"github.com/tandemvoice/tandem/pkg/provider/vad/energy"
)

const defaultListenAddr = ":8080"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "tandem: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "tandem: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(slogLevel(cfg.Server.LogLevel))
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	slog.Info("tandem starting",
		"config", *configPath,
		"listen_addr", listenAddr(cfg),
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName: "tandem",
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	speechProv, err := reg.CreateSpeech(cfg.Primary)
	if err != nil {
		slog.Error("failed to create speech provider", "name", cfg.Primary.Name, "err", err)
		return 1
	}
	slog.Info("provider created", "kind", "speech", "name", cfg.Primary.Name)

	secondary, err := buildSecondary(cfg, reg)
	if err != nil {
		slog.Error("failed to create reasoning backend", "err", err)
		return 1
	}

	vadEngine, err := buildVAD(cfg, reg)
	if err != nil {
		slog.Error("failed to create vad engine", "name", cfg.VAD.Name, "err", err)
		return 1
	}

	// ── Relay ─────────────────────────────────────────────────────────────────
	rly := relay.New(speechProv, secondary, relayOptions(cfg, secondary, vadEngine)...)

	// ── HTTP server ───────────────────────────────────────────────────────────
	srvOpts := []server.Option{}
	if secondary != nil {
		srvOpts = append(srvOpts, server.WithChecker(server.Checker{
			Name:  "reasoning",
			Check: secondary.Alive,
		}))
	}
	if cfg.Server.TLS != nil {
		srvOpts = append(srvOpts, server.WithTLS(cfg.Server.TLS.CertFile, cfg.Server.TLS.KeyFile))
	}
	srv := server.New(listenAddr(cfg), rly, srvOpts...)

	// ── Config hot reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config, diff config.ConfigDiff) {
		if diff.LogLevelChanged {
			level.Set(slogLevel(diff.NewLogLevel))
			slog.Info("log level changed", "level", diff.NewLogLevel)
		}
		if diff.RestartRequired {
			slog.Warn("config change requires restart to take effect")
		}
	})
	if err != nil {
		slog.Warn("config hot reload disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	printStartupSummary(cfg)
	slog.Info("server ready — press Ctrl+C to shut down")

	if err := srv.Run(ctx); err != nil {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

func listenAddr(cfg *config.Config) string {
	if cfg.Server.ListenAddr != "" {
		return cfg.Server.ListenAddr
	}
	return defaultListenAddr
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// anyllmProviders are reasoning backends served through the any-llm gateway
// client. They share a pattern: optional APIKey + optional BaseURL.
var anyllmProviders = []string{
	"anthropic", "gemini", "deepseek", "mistral", "groq", "llamacpp",
}

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the appropriate
// provider from the real implementation packages.
func registerBuiltinProviders(reg *config.Registry) {
	// ── Speech ────────────────────────────────────────────────────────────────

	reg.RegisterSpeech("moshi", func(entry config.ProviderEntry) (speech.Provider, error) {
		var opts []moshi.Option
		if entry.BaseURL != "" {
			opts = append(opts, moshi.WithURL(entry.BaseURL))
		}
		if rate := optInt(entry.Options, "sample_rate"); rate > 0 {
			opts = append(opts, moshi.WithSampleRate(rate))
		}
		if frame := optInt(entry.Options, "frame_size"); frame > 0 {
			opts = append(opts, moshi.WithFrameSize(frame))
		}
		return moshi.New(opts...), nil
	})

	// ── Reasoning ─────────────────────────────────────────────────────────────

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterReasoning("ollama", func(entry config.ProviderEntry) (reasoning.Provider, error) {
		var opts []ollamallm.Option
		if entry.BaseURL != "" {
			opts = append(opts, ollamallm.WithBaseURL(entry.BaseURL))
		}
		if entry.Model != "" {
			opts = append(opts, ollamallm.WithModel(entry.Model))
		}
		return ollamallm.New(opts...), nil
	})

	reg.RegisterReasoning("openai", func(entry config.ProviderEntry) (reasoning.Provider, error) {
		var opts []oaillm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaillm.WithBaseURL(entry.BaseURL))
		}
		return oaillm.New(entry.APIKey, entry.Model, opts...)
	})

	for _, providerName := range anyllmProviders {
		reg.RegisterReasoning(providerName, func(entry config.ProviderEntry) (reasoning.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	// ── VAD ───────────────────────────────────────────────────────────────────

	reg.RegisterVAD("energy", func(entry config.ProviderEntry) (vad.Engine, error) {
		return energy.New(), nil
	})
}

// buildSecondary instantiates the reasoning backend plus any fallbacks. A
// nil, nil return means no secondary is configured; the relay runs
// voice-only.
func buildSecondary(cfg *config.Config, reg *config.Registry) (reasoning.Provider, error) {
	if cfg.Secondary.Name == "" {
		slog.Info("no reasoning backend configured — running voice-only")
		return nil, nil
	}

	main, err := reg.CreateReasoning(cfg.Secondary.ProviderEntry)
	if err != nil {
		return nil, fmt.Errorf("create reasoning provider %q: %w", cfg.Secondary.Name, err)
	}
	slog.Info("provider created", "kind", "reasoning", "name", cfg.Secondary.Name, "model", cfg.Secondary.Model)

	if len(cfg.Secondary.Fallbacks) == 0 {
		return main, nil
	}

	group := resilience.NewReasoningFallback(main, cfg.Secondary.Name, resilience.FallbackConfig{
		CircuitBreaker: breakerConfig(cfg),
	})
	for _, fb := range cfg.Secondary.Fallbacks {
		p, err := reg.CreateReasoning(fb)
		if err != nil {
			return nil, fmt.Errorf("create fallback provider %q: %w", fb.Name, err)
		}
		group.AddFallback(fb.Name, p)
		slog.Info("provider created", "kind", "reasoning-fallback", "name", fb.Name, "model", fb.Model)
	}
	return group, nil
}

func buildVAD(cfg *config.Config, reg *config.Registry) (vad.Engine, error) {
	entry := config.ProviderEntry{Name: cfg.VAD.Name}
	if entry.Name == "" {
		entry.Name = "energy"
	}
	return reg.CreateVAD(entry)
}

func breakerConfig(cfg *config.Config) resilience.CircuitBreakerConfig {
	return resilience.CircuitBreakerConfig{
		Name:         "reasoning",
		MaxFailures:  cfg.Secondary.Breaker.MaxFailures,
		ResetTimeout: cfg.Secondary.Breaker.ResetTimeout,
		HalfOpenMax:  cfg.Secondary.Breaker.HalfOpenMax,
	}
}

// relayOptions maps the config onto relay functional options.
func relayOptions(cfg *config.Config, secondary reasoning.Provider, vadEngine vad.Engine) []relay.Option {
	opts := []relay.Option{
		relay.WithVAD(vadEngine),
		relay.WithCircuitBreaker(resilience.NewCircuitBreaker(breakerConfig(cfg))),
	}
	if cfg.Client.SampleRate > 0 {
		opts = append(opts, relay.WithClientSampleRate(cfg.Client.SampleRate))
	}
	if cfg.VAD.SpeechThreshold > 0 {
		opts = append(opts, relay.WithVADThreshold(cfg.VAD.SpeechThreshold))
	}
	if cfg.VAD.SilenceHold > 0 {
		opts = append(opts, relay.WithVADSilenceHold(cfg.VAD.SilenceHold))
	}
	if cfg.Router.StateInterval > 0 {
		opts = append(opts, relay.WithStateInterval(cfg.Router.StateInterval))
	}
	if cfg.Router.AssistantHold > 0 {
		opts = append(opts, relay.WithAssistantHold(cfg.Router.AssistantHold))
	}
	if cfg.Router.SystemPrompt != "" {
		opts = append(opts, relay.WithSystemPrompt(cfg.Router.SystemPrompt))
	}
	if cfg.Router.Verify && secondary != nil {
		var vOpts []router.VerifierOption
		if cfg.Router.VerifyTimeout > 0 {
			vOpts = append(vOpts, router.WithVerifyTimeout(cfg.Router.VerifyTimeout))
		}
		opts = append(opts, relay.WithVerifier(router.NewVerifier(secondary, vOpts...)))
	}
	return opts
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║          tandem — startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("Speech", cfg.Primary.Name, cfg.Primary.Model)
	printProvider("Reasoning", cfg.Secondary.Name, cfg.Secondary.Model)
	printProvider("VAD", cfg.VAD.Name, "")
	fmt.Printf("║  Fallbacks       : %-19d ║\n", len(cfg.Secondary.Fallbacks))
	if cfg.Router.Verify {
		fmt.Printf("║  Verification    : %-19s ║\n", "enabled")
	} else {
		fmt.Printf("║  Verification    : %-19s ║\n", "(disabled)")
	}
	fmt.Printf("║  Listen addr     : %-19s ║\n", listenAddr(cfg))
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optInt extracts an integer value from a provider Options map[string]any.
// Returns 0 if the map is nil, the key is absent, or the value is not an int.
func optInt(opts map[string]any, key string) int {
	if opts == nil {
		return 0
	}
	v, ok := opts[key]
	if !ok {
		return 0
	}
	n, ok := v.(int)
	if !ok {
		return 0
	}
	return n
}
