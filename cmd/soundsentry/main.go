// Command soundsentry runs the continuous sound-event profiler.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/soundsentry/soundsentry/internal/app"
	"github.com/soundsentry/soundsentry/internal/config"
	"github.com/soundsentry/soundsentry/internal/health"
	"github.com/soundsentry/soundsentry/internal/observe"
	"github.com/soundsentry/soundsentry/pkg/capture"
	"github.com/soundsentry/soundsentry/pkg/capture/ffmpeg"
	"github.com/soundsentry/soundsentry/pkg/capture/wsaudio"
	"github.com/soundsentry/soundsentry/pkg/classifier"
	"github.com/soundsentry/soundsentry/pkg/classifier/remote"
	"github.com/soundsentry/soundsentry/pkg/classifier/tflite"
	"github.com/soundsentry/soundsentry/pkg/publish"
	"github.com/soundsentry/soundsentry/pkg/publish/mqtt"
)

// version is overridden at build time via -ldflags.
var version = "dev"

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
			fmt.Fprintf(os.Stderr, "soundsentry: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "soundsentry: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("soundsentry starting",
		"version", version,
		"config", *configPath,
		"sources", len(cfg.Sources),
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "soundsentry",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(flushCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Backend registry ──────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinBackends(reg)

	application, err := app.New(cfg, reg)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Metrics and health listener ───────────────────────────────────────────
	var metricsSrv *http.Server
	if cfg.Server.MetricsAddr != "" {
		metricsSrv = newMetricsServer(cfg.Server.MetricsAddr, application)
		go func() {
			slog.Info("metrics listener started", "addr", cfg.Server.MetricsAddr)
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics listener error", "err", err)
			}
		}()
	}

	slog.Info("profiler ready — press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")

	if metricsSrv != nil {
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("metrics listener shutdown error", "err", err)
		}
	}

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Backend wiring ────────────────────────────────────────────────────────────

// registerBuiltinBackends wires all built-in capture, classifier, and publish
// factories into reg. Each factory maps the relevant config section onto the
// implementation package's options.
func registerBuiltinBackends(reg *config.Registry) {
	// ── Capture ───────────────────────────────────────────────────────────────

	reg.RegisterCapture("ffmpeg", func(src config.SourceConfig) (capture.Source, error) {
		return ffmpeg.New(src.URL)
	})

	reg.RegisterCapture("websocket", func(src config.SourceConfig) (capture.Source, error) {
		return wsaudio.New(src.URL)
	})

	// ── Classifier ────────────────────────────────────────────────────────────

	reg.RegisterClassifier("tflite", func(cc config.ClassifierConfig) (classifier.Engine, error) {
		var opts []tflite.Option
		if cc.WindowSamples > 0 {
			opts = append(opts, tflite.WithWindowSamples(cc.WindowSamples))
		}
		if cc.SampleRate > 0 {
			opts = append(opts, tflite.WithSampleRate(cc.SampleRate))
		}
		return tflite.New(cc.ModelPath, opts...)
	})

	reg.RegisterClassifier("remote", func(cc config.ClassifierConfig) (classifier.Engine, error) {
		var opts []remote.Option
		if cc.WindowSamples > 0 {
			opts = append(opts, remote.WithWindowSamples(cc.WindowSamples))
		}
		if cc.SampleRate > 0 {
			opts = append(opts, remote.WithSampleRate(cc.SampleRate))
		}
		return remote.New(cc.BaseURL, opts...)
	})

	// ── Publish ───────────────────────────────────────────────────────────────

	reg.RegisterPublish("mqtt", func(pc config.PublishConfig) (publish.Sink, error) {
		return mqtt.New(mqtt.Config{
			BrokerURL:      fmt.Sprintf("tcp://%s:%d", pc.MQTT.Host, pc.MQTT.Port),
			ClientID:       pc.MQTT.ClientID,
			Username:       pc.MQTT.Username,
			Password:       pc.MQTT.Password,
			TopicPrefix:    pc.MQTT.TopicPrefix,
			PublishTimeout: pc.MQTT.PublishTimeout.Std(),
		})
	})

	reg.RegisterPublish("log", func(config.PublishConfig) (publish.Sink, error) {
		return publish.LogSink{}, nil
	})
}

// ── Metrics and health ────────────────────────────────────────────────────────

// newMetricsServer builds the HTTP server exposing the Prometheus scrape
// endpoint and the liveness/readiness probes.
func newMetricsServer(addr string, a *app.App) *http.Server {
	h := health.New(
		health.ClassifierChecker(a.Engine()),
		health.SinkChecker(a.Sink()),
		health.SourcesChecker(a.SourceStates),
	)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	h.Register(mux)

	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
