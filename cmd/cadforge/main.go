// Package main provides the cadforge command-line tool. It asks for a part
// description, runs the generate and repair loop and opens the result in
// FreeCAD.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/atotto/clipboard"

	"github.com/entrhq/cadforge/pkg/app"
	"github.com/entrhq/cadforge/pkg/config"
	"github.com/entrhq/cadforge/pkg/console"
	"github.com/entrhq/cadforge/pkg/generation"
	"github.com/entrhq/cadforge/pkg/logging"
)

const version = "0.1.0"

// CLIConfig holds command-line configuration
type CLIConfig struct {
	ConfigFile   string
	GenerateOnly bool
	Copy         bool
	ShowVersion  bool
}

func main() {
	cli := parseFlags()

	if cli.ShowVersion {
		fmt.Printf("cadforge v%s\n", version)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println("\n\nShutting down gracefully...")
		cancel()
	}()

	if err := run(ctx, cli, os.Stdin, os.Stdout); err != nil {
		cancel()
		os.Exit(1)
	}
	cancel()
}

// parseFlags parses command line flags
func parseFlags() *CLIConfig {
	cli := &CLIConfig{}

	flag.StringVar(&cli.ConfigFile, "config", "", "Path to configuration file (YAML, default ./cadforge.yaml if present)")
	flag.BoolVar(&cli.GenerateOnly, "generate-only", false, "Write the generated script without running FreeCAD")
	flag.BoolVar(&cli.Copy, "copy", false, "Copy the final script to the clipboard")
	flag.BoolVar(&cli.ShowVersion, "version", false, "Show version and exit")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "cadforge - FreeCAD script generator\n\n")
		fmt.Fprintf(os.Stderr, "Usage: cadforge [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  # Build a part and open it in FreeCAD\n")
		fmt.Fprintf(os.Stderr, "  cadforge\n\n")
		fmt.Fprintf(os.Stderr, "  # Only write generated/result_script.py\n")
		fmt.Fprintf(os.Stderr, "  cadforge -generate-only\n\n")
	}

	flag.Parse()
	return cli
}

// run executes one build and reports it on out.
func run(ctx context.Context, cli *CLIConfig, in io.Reader, out io.Writer) error {
	if err := config.LoadEnv(""); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}

	cfg, err := config.Load(cli.ConfigFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return err
	}

	con := console.New(out, console.ParseLevel(cfg.Logging.Verbosity))

	logger, logErr := logging.NewLogger("cadforge")
	if logErr != nil {
		con.Warningf("file logging unavailable: %v", logErr)
	}
	defer logger.Close()

	instruction, err := readInstruction(in, out)
	if err != nil {
		con.Errorf("%v", err)
		return err
	}

	a, err := app.New(ctx, cfg, app.WithLogger(logger), app.WithEventHandler(con.HandleEvent))
	if err != nil {
		con.Errorf("%v", err)
		return err
	}
	defer a.Close()

	if cli.GenerateOnly {
		return generateOnly(ctx, a, con, cli, instruction)
	}

	res, err := a.Controller.Build(ctx, instruction)
	con.Summary(res, err)
	if err != nil {
		return err
	}

	if cli.Copy {
		copyScript(con, res.Script)
	}
	return nil
}

// readInstruction asks for the part description once.
func readInstruction(in io.Reader, out io.Writer) (string, error) {
	fmt.Fprint(out, "Describe your FreeCAD part: ")
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("failed to read instruction: %w", err)
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return "", errors.New("no part description given")
	}
	return line, nil
}

// generateOnly writes the post-processed script without running FreeCAD.
func generateOnly(ctx context.Context, a *app.App, con *console.Console, cli *CLIConfig, instruction string) error {
	chunks, err := a.Retriever.Retrieve(ctx, instruction, a.Config.Retrieval.TopK)
	if err != nil {
		con.Warningf("retrieval failed, continuing without context: %v", err)
		chunks = nil
	}

	code, err := a.Client.Generate(ctx, generation.Request{Instruction: instruction, Context: chunks})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var genErr *generation.GenerationError
		if !errors.As(err, &genErr) {
			con.Errorf("%v", err)
			return err
		}
		con.Warningf("%v; writing an empty script", err)
		code = ""
	}

	mat, err := a.Materializer.Materialize(code)
	if err != nil {
		con.Errorf("%v", err)
		return err
	}
	con.Successf("Code generated and written to %s", mat.Path)

	if cli.Copy {
		copyScript(con, mat.Text)
	}
	return nil
}

func copyScript(con *console.Console, text string) {
	if err := clipboard.WriteAll(text); err != nil {
		con.Warningf("could not copy script to clipboard: %v", err)
		return
	}
	con.Infof("Script copied to clipboard")
}
