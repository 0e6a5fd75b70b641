// Package config loads ctxengine configuration.
//
// Sources, lowest precedence first: built-in defaults, the YAML file
// (~/.ctxengine/config.yaml unless a path is given), CTXENGINE_* environment
// variables. A missing file is not an error.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultFilename is the config file name inside the data directory.
const DefaultFilename = "config.yaml"

// Config is the full ctxengine configuration.
type Config struct {
	DataDir   string          `yaml:"data_dir"`
	Log       LogConfig       `yaml:"log"`
	Store     StoreConfig     `yaml:"store"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Router    RouterConfig    `yaml:"router"`
	Fusion    FusionConfig    `yaml:"fusion"`
}

// LogConfig controls the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// StoreConfig bounds store result sizes.
type StoreConfig struct {
	DefaultLimit int `yaml:"default_limit"`
	MaxLimit     int `yaml:"max_limit"`
}

// EmbeddingConfig selects the optional embedding provider.
type EmbeddingConfig struct {
	// Provider is one of none, hash, openai, google.
	Provider   string        `yaml:"provider"`
	Model      string        `yaml:"model"`
	APIKey     string        `yaml:"api_key"`
	Dimensions int           `yaml:"dimensions"`
	Timeout    time.Duration `yaml:"timeout"`
}

// RouterWeights are the relative weights of the ranking signals.
type RouterWeights struct {
	Semantic float64 `yaml:"semantic"`
	Keywords float64 `yaml:"keywords"`
	Recency  float64 `yaml:"recency"`
	Type     float64 `yaml:"type"`
	Tags     float64 `yaml:"tags"`
	File     float64 `yaml:"file"`
}

// RouterConfig tunes the context router.
type RouterConfig struct {
	Weights      RouterWeights `yaml:"weights"`
	HalfLife     time.Duration `yaml:"half_life"`
	DefaultLimit int           `yaml:"default_limit"`
}

// FusionConfig tunes the context fuser.
type FusionConfig struct {
	MaxTokens     int           `yaml:"max_tokens"`
	SourceTimeout time.Duration `yaml:"source_timeout"`
	GuardFilters  []string      `yaml:"guard_filters"`
	GuardMode     string        `yaml:"guard_mode"`
}

// Providers accepted in EmbeddingConfig.Provider.
var Providers = []string{"none", "hash", "openai", "google"}

// Default returns the built-in configuration.
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		DataDir: filepath.Join(home, ".ctxengine"),
		Log:     LogConfig{Level: "info", Format: "text"},
		Store:   StoreConfig{DefaultLimit: 20, MaxLimit: 100},
		Embedding: EmbeddingConfig{
			Provider:   "none",
			Dimensions: 256,
			Timeout:    15 * time.Second,
		},
		Router: RouterConfig{
			Weights: RouterWeights{
				Semantic: 0.40,
				Keywords: 0.20,
				Recency:  0.15,
				Type:     0.10,
				Tags:     0.10,
				File:     0.05,
			},
			HalfLife:     7 * 24 * time.Hour,
			DefaultLimit: 5,
		},
		Fusion: FusionConfig{
			MaxTokens:     4000,
			SourceTimeout: 10 * time.Second,
			GuardMode:     "redact",
		},
	}
}

// DefaultPath returns ~/.ctxengine/config.yaml.
func DefaultPath() string {
	return filepath.Join(Default().DataDir, DefaultFilename)
}

// Load reads the file at path (DefaultPath when empty), applies environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		path = DefaultPath()
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
		// defaults only
	default:
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes cfg as YAML to path, creating parent directories.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("config: create dir: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	return os.WriteFile(path, data, 0600)
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return errors.New("config: data_dir is required")
	}
	if !validProvider(c.Embedding.Provider) {
		return fmt.Errorf("config: unknown embedding provider %q (want one of %s)",
			c.Embedding.Provider, strings.Join(Providers, ", "))
	}
	w := c.Router.Weights
	for name, v := range map[string]float64{
		"semantic": w.Semantic, "keywords": w.Keywords, "recency": w.Recency,
		"type": w.Type, "tags": w.Tags, "file": w.File,
	} {
		if v < 0 {
			return fmt.Errorf("config: router weight %s must not be negative", name)
		}
	}
	if w.Semantic+w.Keywords+w.Recency+w.Type+w.Tags+w.File == 0 {
		return errors.New("config: router weights must not all be zero")
	}
	if c.Router.HalfLife <= 0 {
		return errors.New("config: router half_life must be positive")
	}
	if c.Store.DefaultLimit <= 0 || c.Store.MaxLimit < c.Store.DefaultLimit {
		return errors.New("config: store limits must satisfy 0 < default_limit <= max_limit")
	}
	if c.Fusion.MaxTokens < 0 {
		return errors.New("config: fusion max_tokens must not be negative")
	}
	return nil
}

func validProvider(p string) bool {
	for _, v := range Providers {
		if p == v {
			return true
		}
	}
	return false
}

// applyEnv overlays CTXENGINE_* variables. The embedding API key also falls
// back to the provider's conventional variable.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str("CTXENGINE_DATA_DIR", &c.DataDir)
	str("CTXENGINE_LOG_LEVEL", &c.Log.Level)
	str("CTXENGINE_LOG_FORMAT", &c.Log.Format)
	str("CTXENGINE_EMBEDDING_PROVIDER", &c.Embedding.Provider)
	str("CTXENGINE_EMBEDDING_MODEL", &c.Embedding.Model)
	str("CTXENGINE_EMBEDDING_API_KEY", &c.Embedding.APIKey)
	str("CTXENGINE_FUSION_GUARD_MODE", &c.Fusion.GuardMode)

	if v, ok := lookup("CTXENGINE_EMBEDDING_DIMENSIONS"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: CTXENGINE_EMBEDDING_DIMENSIONS: %w", err)
		}
		c.Embedding.Dimensions = n
	}
	if v, ok := lookup("CTXENGINE_FUSION_MAX_TOKENS"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: CTXENGINE_FUSION_MAX_TOKENS: %w", err)
		}
		c.Fusion.MaxTokens = n
	}
	if v, ok := lookup("CTXENGINE_FUSION_GUARD_FILTERS"); ok && v != "" {
		c.Fusion.GuardFilters = SplitList(v)
	}

	if c.Embedding.APIKey == "" {
		switch c.Embedding.Provider {
		case "openai":
			str("OPENAI_API_KEY", &c.Embedding.APIKey)
		case "google":
			str("GEMINI_API_KEY", &c.Embedding.APIKey)
		}
	}
	return nil
}

// SplitList splits a comma-separated list, trimming blanks.
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
