package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"claude-bridge/internal/adapters"
	"claude-bridge/internal/config"
	facade "claude-bridge/internal/facade/anthropic"
	"claude-bridge/internal/logbus"
	"claude-bridge/internal/logging"
	"claude-bridge/internal/metrics"
	"claude-bridge/internal/registry"
	"claude-bridge/internal/router"
)

var version = "dev"

func main() {
	// SIGINT for Ctrl+C, SIGTERM for container runtimes; cancellation
	// propagates through the errgroup into in-flight requests.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := &cli.Command{
		Name:    "claude-bridge",
		Usage:   "Anthropic-style Messages API in front of OpenAI-compatible upstreams",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to the YAML config file",
			},
			&cli.StringFlag{
				Name:    "models",
				Aliases: []string{"m"},
				Usage:   "path to the model routes file",
			},
			&cli.StringFlag{
				Name:  "listen-port",
				Usage: "port to listen on (shorthand for server.addr)",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "debug, info, warn, error, or minimal",
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "text or json",
			},
			&cli.StringFlag{
				Name:  "log-file",
				Usage: "log file path (rotated); stdout only when empty",
			},
		},
		Action: run,
	}

	if err := cmd.Run(ctx, os.Args); err != nil {
		slog.Error("bridge exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cmd *cli.Command) error {
	cfgPath := cmd.String("config")
	if cfgPath == "" {
		cfgPath = os.Getenv("BRIDGE_CONFIG")
	}
	if cfgPath != "" {
		if _, err := os.Stat(cfgPath); err != nil {
			return fmt.Errorf("config file %s: %w", cfgPath, err)
		}
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	applyFlags(cfg, cmd)
	logger := logging.New(cfg.Log)

	m := metrics.New()
	bus := logbus.New(64)
	adapterReg := adapters.NewRegistry()
	reg := registry.New()

	watchModels := false
	switch {
	case fileExists(cfg.Models.Path):
		if err := reg.LoadFile(cfg.Models.Path); err != nil {
			return fmt.Errorf("load models file: %w", err)
		}
		watchModels = cfg.Models.Watch
		logger.Info("model routes loaded", "path", cfg.Models.Path, "models", len(reg.Entries()))
	case cfg.Upstream.BaseURL != "":
		if err := reg.LoadStatic(cfg.Upstream.BaseURL, cfg.Upstream.APIKey); err != nil {
			return fmt.Errorf("static upstream route: %w", err)
		}
		logger.Info("routing all models to one upstream", "base_url", cfg.Upstream.BaseURL)
	default:
		return fmt.Errorf("no routes configured: create %s or set UPSTREAM_BASE_URL", cfg.Models.Path)
	}

	h := facade.NewHandler(reg, adapterReg, m, bus, logger, cfg.Server)
	mux := router.New(router.Deps{
		Config:   cfg,
		Facade:   h,
		Metrics:  m,
		Bus:      bus,
		Registry: reg,
		Log:      logger,
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("listening", "addr", cfg.Server.Addr, "version", version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if watchModels {
		g.Go(func() error {
			return reg.Watch(gctx, cfg.Models.Path, logger)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down", "timeout", cfg.Server.ShutdownTimeout)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("stopped")
	return nil
}

// applyFlags lets command-line flags override whatever config.Load
// assembled from defaults, file, and environment.
func applyFlags(cfg *config.Config, cmd *cli.Command) {
	if v := cmd.String("models"); v != "" {
		cfg.Models.Path = v
	}
	if v := cmd.String("listen-port"); v != "" {
		cfg.Server.Addr = ":" + v
	}
	if v := cmd.String("log-level"); v != "" {
		cfg.Log.Level = v
	}
	if v := cmd.String("log-format"); v != "" {
		cfg.Log.Format = v
	}
	if v := cmd.String("log-file"); v != "" {
		cfg.Log.File = v
	}
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
