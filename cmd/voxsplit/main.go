// Command voxsplit is the transcription pipeline server: it splits long
// recordings into overlapping segments, transcribes them against a remote
// speech-to-text backend, and merges the pieces into one time-aligned
// transcript. With -file it runs a single recording from the command line
// instead of serving HTTP.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/voxsplit/voxsplit/internal/config"
	"github.com/voxsplit/voxsplit/internal/media"
	"github.com/voxsplit/voxsplit/internal/observe"
	"github.com/voxsplit/voxsplit/internal/pipeline"
	"github.com/voxsplit/voxsplit/internal/resilience"
	"github.com/voxsplit/voxsplit/internal/server"
	"github.com/voxsplit/voxsplit/internal/store"
	"github.com/voxsplit/voxsplit/pkg/transcribe"
	oaiclient "github.com/voxsplit/voxsplit/pkg/transcribe/openai"
	"github.com/voxsplit/voxsplit/pkg/transcribe/whisperserver"
)

// version is stamped at build time via -ldflags "-X main.version=…".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	filePath := flag.String("file", "", "transcribe a single recording and exit instead of serving HTTP")
	asJSON := flag.Bool("json", false, "with -file, print the full transcript as JSON instead of plain text")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voxsplit: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voxsplit: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(slogLevel(cfg.Server.LogLevel))
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	slog.Info("voxsplit starting",
		"version", version,
		"config", *configPath,
		"backend", cfg.Transcriber.Backend,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		if err := otelShutdown(context.Background()); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Backend registry ──────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinBackends(reg)

	client, err := buildClient(cfg.Transcriber, cfg.Pipeline.MaxAttempts, reg)
	if err != nil {
		slog.Error("failed to build transcription backend", "err", err)
		return 1
	}

	// ── One-shot CLI mode ─────────────────────────────────────────────────────
	if *filePath != "" {
		return transcribeFile(ctx, cfg, client, *filePath, *asJSON)
	}

	// ── Persistence (optional) ────────────────────────────────────────────────
	var opts []server.Option
	if dsn := cfg.Store.PostgresDSN; dsn != "" {
		st, err := store.NewStore(ctx, dsn)
		if err != nil {
			slog.Error("failed to connect to PostgreSQL", "err", err)
			return 1
		}
		defer st.Close()
		opts = append(opts, server.WithStore(st))
		slog.Info("postgres persistence enabled")
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	// The log level applies immediately; pipeline changes apply to jobs
	// started after the next restart.
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		d := config.Diff(old, new)
		if d.LogLevelChanged {
			level.Set(slogLevel(d.NewLogLevel))
			slog.Info("log level changed", "level", d.NewLogLevel)
		}
		if d.PipelineChanged {
			slog.Warn("pipeline settings changed on disk — restart to apply")
		}
	})
	if err != nil {
		slog.Warn("config watcher disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	printStartupSummary(cfg)

	slog.Info("server ready — press Ctrl+C to shut down")
	if err := server.New(cfg, client, opts...).Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Backend wiring ────────────────────────────────────────────────────────────

// registerBuiltinBackends wires the factories for every backend that ships
// with voxsplit into reg.
func registerBuiltinBackends(reg *config.Registry) {
	reg.Register("whisper-server", func(tc config.TranscriberConfig) (transcribe.Client, error) {
		var opts []whisperserver.Option
		if tc.Model != "" {
			opts = append(opts, whisperserver.WithModel(tc.Model))
		}
		if tc.Language != "" {
			opts = append(opts, whisperserver.WithLanguage(tc.Language))
		}
		return whisperserver.New(tc.BaseURL, opts...)
	})

	reg.Register("openai", func(tc config.TranscriberConfig) (transcribe.Client, error) {
		var opts []oaiclient.Option
		if tc.BaseURL != "" {
			opts = append(opts, oaiclient.WithBaseURL(tc.BaseURL))
		}
		return oaiclient.New(tc.APIKey, tc.Model, opts...)
	})

	for _, name := range config.ValidBackendNames {
		slog.Debug("registered backend", "name", name)
	}
}

// buildClient instantiates the configured backend, wraps it with per-call
// retry, and layers circuit-breaker failover on top when a fallback backend
// is configured.
func buildClient(tc config.TranscriberConfig, maxAttempts int, reg *config.Registry) (transcribe.Client, error) {
	primary, err := reg.Create(tc)
	if err != nil {
		return nil, fmt.Errorf("create backend %q: %w", tc.Backend, err)
	}
	client := transcribe.Client(&transcribe.Retrying{Client: primary, MaxAttempts: maxAttempts})
	slog.Info("backend created", "name", tc.Backend, "model", tc.Model)

	if tc.Fallback != nil {
		secondary, err := reg.Create(*tc.Fallback)
		if err != nil {
			return nil, fmt.Errorf("create fallback backend %q: %w", tc.Fallback.Backend, err)
		}
		group := resilience.NewTranscribeFallback(client, tc.Backend, resilience.FallbackConfig{})
		group.AddFallback(tc.Fallback.Backend, &transcribe.Retrying{Client: secondary, MaxAttempts: maxAttempts})
		client = group
		slog.Info("fallback backend created", "name", tc.Fallback.Backend)
	}
	return client, nil
}

// ── One-shot CLI mode ─────────────────────────────────────────────────────────

// transcribeFile runs the full pipeline over a single recording and writes
// the merged transcript to stdout.
func transcribeFile(ctx context.Context, cfg *config.Config, client transcribe.Client, path string, asJSON bool) int {
	data, err := os.ReadFile(path)
	if err != nil {
		slog.Error("reading recording failed", "err", err)
		return 1
	}

	var dopts []media.Option
	if cfg.Pipeline.FFmpegPath != "" {
		dopts = append(dopts, media.WithFFmpegPath(cfg.Pipeline.FFmpegPath))
	}
	wave, err := media.NewDecoder(dopts...).Decode(ctx, data)
	if err != nil {
		slog.Error("decoding recording failed", "err", err)
		return 1
	}

	orch, err := pipeline.New(client, pipeline.Config{
		SegmentDuration: cfg.Pipeline.SegmentDuration.Seconds(),
		Overlap:         cfg.Pipeline.Overlap.Seconds(),
		BitDepth:        cfg.Pipeline.BitDepth,
		Concurrency:     cfg.Pipeline.Width,
		MinSpacing:      cfg.Pipeline.MinSpacing,
		RetryRounds:     cfg.Pipeline.RetryRounds,
		CallTimeout:     cfg.Pipeline.CallTimeout,
		Language:        cfg.Transcriber.Language,
		Model:           cfg.Transcriber.Model,
	},
		pipeline.WithMetrics(observe.DefaultMetrics()),
		pipeline.WithProgress(func(done, total int) {
			fmt.Fprintf(os.Stderr, "\rtranscribing %d/%d segments", done, total)
			if done == total {
				fmt.Fprintln(os.Stderr)
			}
		}),
	)
	if err != nil {
		slog.Error("pipeline setup failed", "err", err)
		return 1
	}

	res, err := orch.Run(ctx, wave)
	if err != nil {
		slog.Error("transcription failed", "err", err)
		return 1
	}
	if res.Message != "" {
		slog.Warn("partial result", "detail", res.Message)
	}

	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res.Transcript); err != nil {
			slog.Error("encoding transcript failed", "err", err)
			return 1
		}
		return 0
	}
	fmt.Println(res.Transcript.Text)
	return 0
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║         voxsplit — startup summary    ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printEntry("Backend", backendLabel(cfg.Transcriber))
	if cfg.Transcriber.Fallback != nil {
		printEntry("Fallback", backendLabel(*cfg.Transcriber.Fallback))
	} else {
		printEntry("Fallback", "(disabled)")
	}
	if cfg.Store.PostgresDSN != "" {
		printEntry("Persistence", "postgres")
	} else {
		printEntry("Persistence", "(in-memory)")
	}
	if cfg.Server.ListenAddr != "" {
		printEntry("Listen addr", cfg.Server.ListenAddr)
	} else {
		printEntry("Listen addr", ":8080")
	}
	if cfg.Server.TLS != nil {
		printEntry("TLS", "enabled")
	} else {
		printEntry("TLS", "(disabled)")
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func backendLabel(tc config.TranscriberConfig) string {
	if tc.Backend == "" {
		return "(not configured)"
	}
	if tc.Model != "" {
		return tc.Backend + " / " + tc.Model
	}
	return tc.Backend
}

func printEntry(kind, value string) {
	if len([]rune(value)) > 19 {
		value = string([]rune(value)[:16]) + "…"
	}
	fmt.Printf("║  %-12s : %-19s ║\n", kind, value)
}

// ── Logger ────────────────────────────────────────────────────────────────────

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
