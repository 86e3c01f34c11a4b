// Command captionseek finds the element of a page that holds the caption of
// the currently playing audio and brings it into view.
//
// Caption lines are read from stdin, one per re-render of the caption region.
// The page is an HTML file (document.path) that is reloaded whenever it
// changes. Every element shown is printed to stdout as its path, e.g.
// "show html>body[1]>p[2]"; advisories and unmatched rounds are printed there
// too, logs go to stderr.
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

	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/MrWong99/captionseek/internal/app"
	"github.com/MrWong99/captionseek/internal/config"
	"github.com/MrWong99/captionseek/internal/observe"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "captionseek.yaml", "path to the YAML configuration file")
	watch := flag.Bool("watch-config", true, "apply hot-reloadable config changes without a restart")
	traceStderr := flag.Bool("trace", false, "print finished round spans to stderr")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "captionseek: config file %q not found; copy captionseek.example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "captionseek: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	var level slog.LevelVar
	level.Set(cfg.Server.LogLevel.Level())
	slog.SetDefault(newLogger(&level))

	slog.Info("captionseek starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	var traceExporter sdktrace.SpanExporter
	if *traceStderr {
		traceExporter, err = stdouttrace.New(
			stdouttrace.WithWriter(os.Stderr),
			stdouttrace.WithPrettyPrint(),
		)
		if err != nil {
			slog.Error("failed to create trace exporter", "err", err)
			return 1
		}
	}
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "captionseek",
		ServiceVersion: version,
		TraceExporter:  traceExporter,
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

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	opts := []app.Option{app.WithLevelVar(&level)}
	if *watch {
		opts = append(opts, app.WithConfigWatch(*configPath))
	}
	application, err := app.New(ctx, cfg, opts...)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("ready; reading captions from stdin, press Ctrl+C to shut down")

	runErr := application.Run(ctx)
	if runErr != nil {
		slog.Error("run error", "err", runErr)
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("stopping…")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	if runErr != nil {
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// printStartupSummary writes the effective settings to stderr; stdout is
// reserved for round results.
func printStartupSummary(cfg *config.Config) {
	w := os.Stderr
	fmt.Fprintln(w, "╔═══════════════════════════════════════╗")
	fmt.Fprintln(w, "║      captionseek startup summary      ║")
	fmt.Fprintln(w, "╠═══════════════════════════════════════╣")
	fmt.Fprintf(w, "║  Document        : %-19s ║\n", truncate(cfg.Document.Path, 19))
	fmt.Fprintf(w, "║  Containment     : %-19s ║\n", cfg.Matcher.Containment)
	fmt.Fprintf(w, "║  Threshold       : %-19d ║\n", cfg.Throttle.Threshold)
	fmt.Fprintf(w, "║  Advisory every  : %-19s ║\n", cfg.Advisory.MinInterval)
	if cfg.Server.ListenAddr != "" {
		fmt.Fprintf(w, "║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	} else {
		fmt.Fprintf(w, "║  Listen addr     : %-19s ║\n", "(disabled)")
	}
	fmt.Fprintln(w, "╚═══════════════════════════════════════╝")
}

// truncate shortens s to at most n runes, keeping its tail.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return "…" + string(r[len(r)-n+1:])
}

// newLogger creates a text logger on stderr whose level follows level.
func newLogger(level *slog.LevelVar) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
