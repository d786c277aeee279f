package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidLLMProviderNames lists the provider names the stock registry knows.
// Used by [Validate] to warn about likely typos.
var ValidLLMProviderNames = []string{
	"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile",
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil {
		if tls.CertFile == "" || tls.KeyFile == "" {
			errs = append(errs, fmt.Errorf("server.tls requires both cert_file and key_file"))
		}
	}

	// LLM provider
	if cfg.Providers.LLM.Name == "" {
		errs = append(errs, fmt.Errorf("providers.llm.name is required"))
	} else if !slices.Contains(ValidLLMProviderNames, cfg.Providers.LLM.Name) {
		slog.Warn("unknown LLM provider name — may be a typo or third-party provider",
			"name", cfg.Providers.LLM.Name,
			"known", ValidLLMProviderNames,
		)
	}
	if cfg.Providers.LLM.Name != "" && cfg.Providers.LLM.APIKey == "" {
		slog.Warn("providers.llm.api_key is empty; the provider may read it from the environment",
			"name", cfg.Providers.LLM.Name,
		)
	}
	for i, fb := range cfg.Providers.LLMFallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.llm_fallbacks[%d].name is required", i))
		} else if !slices.Contains(ValidLLMProviderNames, fb.Name) {
			slog.Warn("unknown LLM fallback provider name — may be a typo or third-party provider",
				"name", fb.Name,
				"known", ValidLLMProviderNames,
			)
		}
	}

	// Catalog
	if cfg.Catalog.Path == "" {
		errs = append(errs, fmt.Errorf("catalog.path is required"))
	}

	// Orders
	if cfg.Orders.FuzzyThreshold < 0 || cfg.Orders.FuzzyThreshold > 100 {
		errs = append(errs, fmt.Errorf("orders.fuzzy_threshold %.1f is out of range [0, 100]", cfg.Orders.FuzzyThreshold))
	}
	if cfg.Orders.MaxContextItems < 0 {
		errs = append(errs, fmt.Errorf("orders.max_context_items %d must not be negative", cfg.Orders.MaxContextItems))
	}
	if cfg.Orders.DedupWindow != nil && cfg.Orders.DedupWindow.Std() < 0 {
		errs = append(errs, fmt.Errorf("orders.dedup_window %s must not be negative", cfg.Orders.DedupWindow.Std()))
	}

	// Journal
	if cfg.Journal.Backend != "" && !cfg.Journal.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("journal.backend %q is invalid; valid values: file, postgres", cfg.Journal.Backend))
	}
	if cfg.Journal.Backend == JournalPostgres && cfg.Journal.DSN == "" {
		errs = append(errs, fmt.Errorf("journal.dsn is required when backend is postgres"))
	}
	if cfg.Journal.Backend != JournalPostgres && cfg.Journal.DSN != "" {
		slog.Warn("journal.dsn is set but the backend is not postgres; it will be ignored",
			"backend", cfg.Journal.Backend,
		)
	}

	return errors.Join(errs...)
}
