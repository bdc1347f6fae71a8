// Package config loads and validates cadforge configuration.
//
// Configuration comes from an optional YAML file layered over DefaultConfig,
// followed by environment overrides. Environment files (.env.local, .env) are
// loaded first so API keys can live next to the project.
package config

import (
	"fmt"
	"time"
)

// Config is the complete cadforge configuration.
type Config struct {
	// ProjectRoot is the directory that holds generated/ and prompts/.
	ProjectRoot string `yaml:"project_root" json:"project_root"`

	Engine     EngineConfig     `yaml:"engine" json:"engine"`
	Generation GenerationConfig `yaml:"generation" json:"generation"`
	Retrieval  RetrievalConfig  `yaml:"retrieval" json:"retrieval"`
	Prompt     PromptConfig     `yaml:"prompt" json:"prompt"`
	Build      BuildConfig      `yaml:"build" json:"build"`
	Classifier ClassifierConfig `yaml:"classifier" json:"classifier"`
	Logging    LoggingConfig    `yaml:"logging" json:"logging"`
	Server     ServerConfig     `yaml:"server" json:"server"`

	// ConfigFilePath is set when the configuration was read from a file.
	ConfigFilePath string `yaml:"-" json:"-"`
}

// EngineConfig configures the FreeCAD engine and viewer.
type EngineConfig struct {
	Binary     string        `yaml:"binary" json:"binary"`
	GUIBinary  string        `yaml:"gui_binary" json:"gui_binary"`
	Timeout    time.Duration `yaml:"timeout" json:"timeout"`
	WorkDir    string        `yaml:"work_dir" json:"work_dir"` // Defaults to the project root
	OpenViewer bool          `yaml:"open_viewer" json:"open_viewer"`
}

// ProviderKind selects the language model backend.
type ProviderKind string

const (
	// ProviderOpenAI uses any OpenAI-compatible chat completions API.
	ProviderOpenAI ProviderKind = "openai"
	// ProviderGemini uses the Google Gemini API.
	ProviderGemini ProviderKind = "gemini"
)

// GenerationConfig configures the code-generation oracle.
type GenerationConfig struct {
	Provider         ProviderKind  `yaml:"provider" json:"provider"`
	Model            string        `yaml:"model" json:"model"`
	BaseURL          string        `yaml:"base_url" json:"base_url"`
	APIKey           string        `yaml:"api_key" json:"-"`
	Temperature      float64       `yaml:"temperature" json:"temperature"`
	RequestTimeout   time.Duration `yaml:"request_timeout" json:"request_timeout"`
	TransportRetries int           `yaml:"transport_retries" json:"transport_retries"`
	Stateful         bool          `yaml:"stateful" json:"stateful"`
}

// RetrievalBackend selects where reference context comes from.
type RetrievalBackend string

const (
	RetrievalNone   RetrievalBackend = "none"
	RetrievalHTTP   RetrievalBackend = "http"
	RetrievalSQLite RetrievalBackend = "sqlite"
)

// RetrievalConfig configures the retrieval index client.
type RetrievalConfig struct {
	Backend   RetrievalBackend `yaml:"backend" json:"backend"`
	Endpoint  string           `yaml:"endpoint" json:"endpoint"`
	IndexPath string           `yaml:"index_path" json:"index_path"`
	TopK      int              `yaml:"top_k" json:"top_k"`
	CacheSize int              `yaml:"cache_size" json:"cache_size"` // 0 disables caching
	Timeout   time.Duration    `yaml:"timeout" json:"timeout"`
}

// PromptConfig configures prompt assembly.
type PromptConfig struct {
	BaseInstructionFile string `yaml:"base_instruction_file" json:"base_instruction_file"`
	ExamplesFile        string `yaml:"examples_file" json:"examples_file"`
	MaxContextTokens    int    `yaml:"max_context_tokens" json:"max_context_tokens"`
	// MaxHistoryTokens bounds the stateful session turns shown to the model.
	MaxHistoryTokens int `yaml:"max_history_tokens" json:"max_history_tokens"`
}

// ConcurrencyMode controls what happens when a build is requested while
// another one is running.
type ConcurrencyMode string

const (
	ConcurrencyReject ConcurrencyMode = "reject"
	ConcurrencyQueue  ConcurrencyMode = "queue"
)

// BuildConfig configures the repair loop.
type BuildConfig struct {
	MaxRetries  int             `yaml:"max_retries" json:"max_retries"` // Repairs after the first attempt (default: 3)
	Concurrency ConcurrencyMode `yaml:"concurrency" json:"concurrency"`
	Report      bool            `yaml:"report" json:"report"`
}

// ClassifierConfig configures the outcome classifier.
type ClassifierConfig struct {
	// Strict disables the broad GUI-mention rule.
	Strict         bool     `yaml:"strict" json:"strict"`
	BenignMessages []string `yaml:"benign_messages" json:"benign_messages"`
}

// LoggingConfig defines logging configuration
type LoggingConfig struct {
	// Verbosity controls console output: quiet, normal, verbose, debug
	Verbosity string `yaml:"verbosity" json:"verbosity"`
}

// ServerConfig configures the web front end.
type ServerConfig struct {
	Addr string `yaml:"addr" json:"addr"`
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.ProjectRoot == "" {
		return fmt.Errorf("project_root is required")
	}

	if c.Engine.Binary == "" {
		return fmt.Errorf("engine binary is required")
	}
	if c.Engine.Timeout <= 0 {
		return fmt.Errorf("engine timeout must be positive")
	}

	switch c.Generation.Provider {
	case ProviderOpenAI, ProviderGemini:
	default:
		return fmt.Errorf("invalid generation provider: %s (must be 'openai' or 'gemini')", c.Generation.Provider)
	}
	if c.Generation.RequestTimeout <= 0 {
		return fmt.Errorf("generation request_timeout must be positive")
	}
	if c.Generation.TransportRetries < 0 {
		return fmt.Errorf("generation transport_retries cannot be negative")
	}
	if c.Generation.Temperature < 0 || c.Generation.Temperature > 2 {
		return fmt.Errorf("generation temperature must be between 0 and 2")
	}

	switch c.Retrieval.Backend {
	case RetrievalNone:
	case RetrievalHTTP:
		if c.Retrieval.Endpoint == "" {
			return fmt.Errorf("retrieval backend 'http' requires an endpoint")
		}
	case RetrievalSQLite:
		if c.Retrieval.IndexPath == "" {
			return fmt.Errorf("retrieval backend 'sqlite' requires an index_path")
		}
	default:
		return fmt.Errorf("invalid retrieval backend: %s (must be 'none', 'http', or 'sqlite')", c.Retrieval.Backend)
	}
	if c.Retrieval.TopK <= 0 {
		return fmt.Errorf("retrieval top_k must be positive")
	}
	if c.Retrieval.CacheSize < 0 {
		return fmt.Errorf("retrieval cache_size cannot be negative")
	}

	if c.Prompt.MaxContextTokens < 0 {
		return fmt.Errorf("prompt max_context_tokens cannot be negative")
	}
	if c.Prompt.MaxHistoryTokens < 0 {
		return fmt.Errorf("prompt max_history_tokens cannot be negative")
	}

	if c.Build.MaxRetries < 0 {
		return fmt.Errorf("build max_retries cannot be negative")
	}
	if c.Build.Concurrency == "" {
		c.Build.Concurrency = ConcurrencyReject
	}
	if c.Build.Concurrency != ConcurrencyReject && c.Build.Concurrency != ConcurrencyQueue {
		return fmt.Errorf("invalid build concurrency: %s (must be 'reject' or 'queue')", c.Build.Concurrency)
	}

	// Set default verbosity if not specified
	if c.Logging.Verbosity == "" {
		c.Logging.Verbosity = "normal"
	}

	validLevels := map[string]bool{
		"quiet":   true,
		"normal":  true,
		"verbose": true,
		"debug":   true,
	}
	if !validLevels[c.Logging.Verbosity] {
		return fmt.Errorf("invalid logging verbosity: %s (must be 'quiet', 'normal', 'verbose', or 'debug')", c.Logging.Verbosity)
	}

	return nil
}

// DefaultConfig returns a default configuration suitable for most use cases
func DefaultConfig() *Config {
	return &Config{
		ProjectRoot: ".",
		Engine: EngineConfig{
			Binary:     "freecadcmd",
			GUIBinary:  "freecad",
			Timeout:    60 * time.Second,
			OpenViewer: true,
		},
		Generation: GenerationConfig{
			Provider:         ProviderGemini,
			Model:            "gemini-2.5-flash",
			Temperature:      1.2,
			RequestTimeout:   90 * time.Second,
			TransportRetries: 2,
		},
		Retrieval: RetrievalConfig{
			Backend:   RetrievalNone,
			TopK:      40,
			CacheSize: 64,
			Timeout:   15 * time.Second,
		},
		Prompt: PromptConfig{
			BaseInstructionFile: "prompts/base_instruction.txt",
			ExamplesFile:        "prompts/example_code.txt",
			MaxContextTokens:    6000,
			MaxHistoryTokens:    4000,
		},
		Build: BuildConfig{
			MaxRetries:  3,
			Concurrency: ConcurrencyReject,
			Report:      true,
		},
		Logging: LoggingConfig{
			Verbosity: "normal",
		},
		Server: ServerConfig{
			Addr: ":7860",
		},
	}
}
