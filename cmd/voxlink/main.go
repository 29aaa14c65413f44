// Command voxlink is the main entry point for the voxlink translation relay.
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

	"github.com/voxlink-ai/voxlink/internal/app"
	"github.com/voxlink-ai/voxlink/internal/config"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voxlink: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voxlink: %v\n", err)
		}
		return 1
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.Server.LogLevel.Level(),
	}))
	slog.SetDefault(logger)

	slog.Info("voxlink starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)
	printStartupSummary(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, app.DefaultRegistry())
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("relay ready — press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// printStartupSummary shows the configured vendors and storage backends.
func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║         voxlink — startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printVendor("Streaming STT", cfg.Vendors.Streaming.Name, cfg.Vendors.Streaming.Model)
	printVendor("Batch STT", cfg.Vendors.Batch.Name, cfg.Vendors.Batch.Model)
	printVendor("Translate", cfg.Vendors.Translate.Name, cfg.Vendors.Translate.Model)
	printVendor("Synthesize", cfg.Vendors.Synthesize.Name, cfg.Vendors.Synthesize.Model)
	printBackend("Postgres", cfg.Storage.PostgresDSN != "")
	printBackend("Redis", cfg.Storage.RedisAddr != "")
	if cfg.Server.ListenAddr != "" {
		fmt.Printf("║  Listen addr     : %-19s║\n", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printVendor(kind, name, model string) {
	value := name
	if value == "" {
		value = "(disabled)"
	} else if model != "" {
		value = name + "/" + model
	}
	fmt.Printf("║  %-15s : %-19s║\n", kind, value)
}

func printBackend(kind string, configured bool) {
	value := "in-memory"
	if configured {
		value = "configured"
	}
	fmt.Printf("║  %-15s : %-19s║\n", kind, value)
}
