// Package main provides the cadforge web server: a form for describing a
// part, a JSON build API and downloads of the generated files.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/entrhq/cadforge/pkg/app"
	"github.com/entrhq/cadforge/pkg/config"
	"github.com/entrhq/cadforge/pkg/engine"
	"github.com/entrhq/cadforge/pkg/logging"
	"github.com/entrhq/cadforge/pkg/server"
)

const (
	version         = "0.1.0"
	shutdownTimeout = 10 * time.Second
)

// CLIConfig holds command-line configuration
type CLIConfig struct {
	ConfigFile  string
	Addr        string
	ShowVersion bool
}

func main() {
	cli := parseFlags()

	if cli.ShowVersion {
		fmt.Printf("cadforge-server v%s\n", version)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cli); err != nil {
		log.Printf("Server failed: %v", err)
		stop()
		os.Exit(1)
	}
}

// parseFlags parses command line flags
func parseFlags() *CLIConfig {
	cli := &CLIConfig{}

	flag.StringVar(&cli.ConfigFile, "config", "", "Path to configuration file (YAML, default ./cadforge.yaml if present)")
	flag.StringVar(&cli.Addr, "addr", "", "Listen address (overrides server.addr)")
	flag.BoolVar(&cli.ShowVersion, "version", false, "Show version and exit")

	flag.Parse()
	return cli
}

func run(ctx context.Context, cli *CLIConfig) error {
	if err := config.LoadEnv(""); err != nil {
		log.Printf("Warning: %v", err)
	}

	cfg, err := config.Load(cli.ConfigFile)
	if err != nil {
		return err
	}
	if cli.Addr != "" {
		cfg.Server.Addr = cli.Addr
	}

	logger, logErr := logging.NewLogger("cadforge-server")
	if logErr != nil {
		log.Printf("Warning: file logging unavailable: %v", logErr)
	}
	defer logger.Close()

	// Server builds never open the desktop GUI.
	a, err := app.New(ctx, cfg, app.WithLogger(logger), app.WithViewer(engine.NopViewer{}))
	if err != nil {
		return fmt.Errorf("failed to set up pipeline: %w", err)
	}
	defer a.Close()

	if err := a.Runner.Preflight(); err != nil {
		return err
	}

	handler := server.NewHandler(a.Controller, a.Paths, logger)
	srv := server.New(cfg.Server.Addr, handler.Mux(), logger)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()
	log.Printf("cadforge-server listening on %s", srv.Addr())

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Printf("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
