// Package app wires a configuration into a ready-to-use build controller.
// The command-line tool and the web server share it.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/entrhq/cadforge/pkg/classify"
	"github.com/entrhq/cadforge/pkg/config"
	"github.com/entrhq/cadforge/pkg/engine"
	"github.com/entrhq/cadforge/pkg/generation"
	"github.com/entrhq/cadforge/pkg/llm"
	"github.com/entrhq/cadforge/pkg/llm/gemini"
	"github.com/entrhq/cadforge/pkg/llm/openai"
	"github.com/entrhq/cadforge/pkg/logging"
	"github.com/entrhq/cadforge/pkg/pipeline"
	"github.com/entrhq/cadforge/pkg/prompt"
	"github.com/entrhq/cadforge/pkg/retrieval"
	"github.com/entrhq/cadforge/pkg/script"
)

// transportRetryDelay is the first backoff between provider retries.
const transportRetryDelay = time.Second

// App holds the wired pipeline and the resources it owns.
type App struct {
	Config       *config.Config
	Paths        config.Paths
	Client       *generation.Client
	Session      *generation.Session
	Retriever    retrieval.Retriever
	Runner       *engine.Runner
	Materializer *script.Materializer
	Controller   *pipeline.Controller

	closers []func() error
}

type options struct {
	provider llm.Provider
	viewer   engine.Viewer
	onEvent  pipeline.EventHandler
	logger   *logging.Logger
	counter  prompt.TokenCounter
}

// Option customizes New.
type Option func(*options)

// WithProvider replaces the provider built from the config.
func WithProvider(p llm.Provider) Option {
	return func(o *options) { o.provider = p }
}

// WithViewer replaces the viewer built from the config.
func WithViewer(v engine.Viewer) Option {
	return func(o *options) { o.viewer = v }
}

// WithEventHandler forwards build events to h.
func WithEventHandler(h pipeline.EventHandler) Option {
	return func(o *options) { o.onEvent = h }
}

// WithTokenCounter replaces the tiktoken counter used for the context budget.
func WithTokenCounter(c prompt.TokenCounter) Option {
	return func(o *options) { o.counter = c }
}

// WithLogger sets the diagnostic logger shared by every stage.
func WithLogger(l *logging.Logger) Option {
	return func(o *options) { o.logger = l }
}

// New builds every stage from cfg.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{Config: cfg, Paths: cfg.Paths()}

	provider := o.provider
	if provider == nil {
		p, err := NewProvider(ctx, cfg.Generation)
		if err != nil {
			return nil, err
		}
		provider = llm.WithRetry(p, cfg.Generation.TransportRetries, transportRetryDelay)
	}

	assembler, err := a.newAssembler(o.counter)
	if err != nil {
		return nil, err
	}

	a.Client = generation.NewClient(provider, assembler,
		generation.WithRequestTimeout(cfg.Generation.RequestTimeout),
		generation.WithLogger(o.logger),
	)
	var generator generation.Generator = a.Client
	if cfg.Generation.Stateful {
		a.Session = generation.NewSession()
		generator = a.Client.WithSession(a.Session)
	}

	retriever, err := a.newRetriever(o.logger)
	if err != nil {
		return nil, err
	}
	a.Retriever = retriever

	a.Materializer = script.NewMaterializer(a.Paths.Script, script.Outputs{
		Document: a.Paths.Document,
		Mesh:     a.Paths.Mesh,
		Preview:  a.Paths.Preview,
	})

	workDir := cfg.EngineWorkDir()
	a.Runner = engine.NewRunner(cfg.Engine.Binary,
		engine.WithTimeout(cfg.Engine.Timeout),
		engine.WithWorkDir(workDir),
		engine.WithLogPath(a.Paths.Log),
		engine.WithLogger(o.logger),
	)

	viewer := o.viewer
	if viewer == nil {
		viewer = engine.NopViewer{}
		if cfg.Engine.OpenViewer {
			viewer = engine.NewProcessViewer(cfg.Engine.GUIBinary, workDir, o.logger)
		}
	}

	controllerOpts := []pipeline.Option{
		pipeline.WithMaxRetries(cfg.Build.MaxRetries),
		pipeline.WithTopK(cfg.Retrieval.TopK),
		pipeline.WithConcurrency(cfg.Build.Concurrency),
		pipeline.WithLogPath(a.Paths.Log),
		pipeline.WithLogger(o.logger),
		pipeline.WithModel(provider.GetModel()),
		pipeline.WithEventHandler(o.onEvent),
	}
	if cfg.Build.Report {
		controllerOpts = append(controllerOpts,
			pipeline.WithReportWriter(pipeline.NewReportWriter(a.Paths.ReportJSON, a.Paths.ReportMD)))
	}

	a.Controller, err = pipeline.NewController(pipeline.Components{
		Retriever:    retriever,
		Generator:    generator,
		Materializer: a.Materializer,
		Executor:     a.Runner,
		Classifier:   classify.FromConfig(cfg.Classifier),
		Viewer:       viewer,
	}, controllerOpts...)
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	return a, nil
}

// Close releases the retrieval index and any other owned resources.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *App) newAssembler(counter prompt.TokenCounter) (*prompt.Assembler, error) {
	opts, err := prompt.TemplateOptions(
		a.Paths.Resolve(a.Config.Prompt.BaseInstructionFile),
		a.Paths.Resolve(a.Config.Prompt.ExamplesFile),
	)
	if err != nil {
		return nil, err
	}
	if counter == nil {
		counter = prompt.NewTokenCounter()
	}
	opts = append(opts,
		prompt.WithTokenCounter(counter),
		prompt.WithMaxContextTokens(a.Config.Prompt.MaxContextTokens),
		prompt.WithMaxHistoryTokens(a.Config.Prompt.MaxHistoryTokens),
	)
	return prompt.NewAssembler(opts...), nil
}

func (a *App) newRetriever(logger *logging.Logger) (retrieval.Retriever, error) {
	cfg := a.Config.Retrieval

	var r retrieval.Retriever
	switch cfg.Backend {
	case config.RetrievalHTTP:
		r = retrieval.NewHTTPIndex(cfg.Endpoint, cfg.Timeout)
	case config.RetrievalSQLite:
		idx, err := retrieval.OpenSQLiteIndex(a.Paths.Resolve(cfg.IndexPath))
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, idx.Close)
		r = idx
	default:
		return retrieval.Nop{}, nil
	}
	logger.Infof("retrieval backend %s (top_k %d, cache %d)", cfg.Backend, cfg.TopK, cfg.CacheSize)

	if cfg.CacheSize <= 0 {
		return r, nil
	}
	cached, err := retrieval.NewCached(r, cfg.CacheSize)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	return cached, nil
}

// NewProvider creates the language model provider named by cfg.
func NewProvider(ctx context.Context, cfg config.GenerationConfig) (llm.Provider, error) {
	switch cfg.Provider {
	case config.ProviderOpenAI:
		opts := []openai.ProviderOption{
			openai.WithModel(cfg.Model),
			openai.WithTemperature(cfg.Temperature),
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		p, err := openai.NewProvider(cfg.APIKey, opts...)
		if err != nil {
			return nil, err
		}
		return p, nil
	case config.ProviderGemini:
		opts := []gemini.ProviderOption{
			gemini.WithModel(cfg.Model),
			gemini.WithTemperature(cfg.Temperature),
		}
		if cfg.BaseURL != "" {
			opts = append(opts, gemini.WithBaseURL(cfg.BaseURL))
		}
		p, err := gemini.NewProvider(ctx, cfg.APIKey, opts...)
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown provider: %s", cfg.Provider)
	}
}
