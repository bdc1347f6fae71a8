package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is read when no explicit path is given and it exists.
const DefaultConfigFile = "cadforge.yaml"

// EnvFiles are loaded in order; earlier files win because godotenv never
// overrides variables that are already set.
var EnvFiles = []string{".env.local", ".env"}

// LoadEnv loads environment files from dir. Missing files are ignored.
func LoadEnv(dir string) error {
	for _, name := range EnvFiles {
		path := name
		if dir != "" {
			path = dir + string(os.PathSeparator) + name
		}
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("failed to load %s: %w", path, err)
		}
	}
	return nil
}

// Load reads configuration from path layered over DefaultConfig, applies
// environment overrides and validates the result. An empty path falls back
// to DefaultConfigFile when present.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	explicit := path != ""
	if !explicit {
		path = DefaultConfigFile
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
		cfg.ConfigFilePath = path
	case explicit || !errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// ApplyEnv overrides configuration values from environment variables.
func (c *Config) ApplyEnv() error {
	if v := os.Getenv("CADFORGE_PROVIDER"); v != "" {
		c.Generation.Provider = ProviderKind(v)
	}
	if v := os.Getenv("CADFORGE_MODEL"); v != "" {
		c.Generation.Model = v
	}
	if v := os.Getenv("CADFORGE_ENGINE"); v != "" {
		c.Engine.Binary = v
	}
	if v := os.Getenv("CADFORGE_ENGINE_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			secs, convErr := strconv.Atoi(v)
			if convErr != nil {
				return fmt.Errorf("invalid CADFORGE_ENGINE_TIMEOUT %q: %w", v, err)
			}
			d = time.Duration(secs) * time.Second
		}
		c.Engine.Timeout = d
	}

	if c.Generation.APIKey == "" {
		switch c.Generation.Provider {
		case ProviderGemini:
			c.Generation.APIKey = os.Getenv("GEMINI_API_KEY")
		case ProviderOpenAI:
			c.Generation.APIKey = os.Getenv("OPENAI_API_KEY")
		}
	}
	if c.Generation.BaseURL == "" && c.Generation.Provider == ProviderOpenAI {
		c.Generation.BaseURL = os.Getenv("OPENAI_BASE_URL")
	}

	return nil
}
