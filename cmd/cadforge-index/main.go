// Package main provides the cadforge index loader. It reads a directory of
// FreeCAD reference material (wiki pages, macros, examples) into the local
// full-text index used by the sqlite retrieval backend.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/entrhq/cadforge/pkg/config"
	"github.com/entrhq/cadforge/pkg/retrieval"
)

const (
	version          = "0.1.0"
	defaultIndexPath = "index/freecad_docs.db"
)

// CLIConfig holds command-line configuration
type CLIConfig struct {
	ConfigFile  string
	Dir         string
	IndexPath   string
	Patterns    string
	ShowVersion bool
}

func main() {
	cli := parseFlags()

	if cli.ShowVersion {
		fmt.Printf("cadforge-index v%s\n", version)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cli); err != nil {
		log.Printf("Indexing failed: %v", err)
		stop()
		os.Exit(1)
	}
}

// parseFlags parses command line flags
func parseFlags() *CLIConfig {
	cli := &CLIConfig{}

	flag.StringVar(&cli.ConfigFile, "config", "", "Path to configuration file (YAML)")
	flag.StringVar(&cli.Dir, "dir", "", "Directory of reference material to index (required)")
	flag.StringVar(&cli.IndexPath, "index", "", "Index database path (default retrieval.index_path or "+defaultIndexPath+")")
	flag.StringVar(&cli.Patterns, "patterns", strings.Join(retrieval.DefaultIncludePatterns, ","), "Comma-separated include globs")
	flag.BoolVar(&cli.ShowVersion, "version", false, "Show version and exit")

	flag.Parse()
	return cli
}

func run(ctx context.Context, cli *CLIConfig) error {
	if cli.Dir == "" {
		return errors.New("-dir is required")
	}

	indexPath, err := resolveIndexPath(cli)
	if err != nil {
		return err
	}

	idx, err := retrieval.OpenSQLiteIndex(indexPath)
	if err != nil {
		return err
	}
	defer idx.Close()

	indexer, err := retrieval.NewIndexer(idx, splitPatterns(cli.Patterns))
	if err != nil {
		return err
	}

	start := time.Now()
	log.Printf("Indexing %s into %s", cli.Dir, indexPath)
	stats, err := indexer.IndexDir(ctx, cli.Dir)
	if err != nil {
		return err
	}

	total, err := idx.Count(ctx)
	if err != nil {
		return err
	}
	log.Printf("Indexed %d files (%d chunks, %d skipped) in %s; index holds %d chunks",
		stats.Files, stats.Chunks, stats.Skipped, time.Since(start).Round(time.Millisecond), total)
	return nil
}

// resolveIndexPath prefers the flag, then the config file, then the default.
func resolveIndexPath(cli *CLIConfig) (string, error) {
	if cli.IndexPath != "" {
		return cli.IndexPath, nil
	}
	cfg, err := config.Load(cli.ConfigFile)
	if err != nil {
		return "", err
	}
	paths := cfg.Paths()
	if cfg.Retrieval.IndexPath != "" {
		return paths.Resolve(cfg.Retrieval.IndexPath), nil
	}
	return paths.Resolve(defaultIndexPath), nil
}

func splitPatterns(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
