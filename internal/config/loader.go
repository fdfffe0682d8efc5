package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// KnownCompletionBackends lists the backend names the completion service can
// construct. Used by [Validate] to warn about likely typos.
var KnownCompletionBackends = []string{
	"openai", "anthropic", "gemini", "ollama", "deepseek", "mistral", "groq",
}

// Load reads the YAML configuration file at path and returns a validated
// [Config].
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
// Useful in tests where configs are string literals.
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

// Validate checks that cfg is coherent, returning a joined error listing
// every failure found. Suspicious but workable values only log a warning.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if cfg.Storage.Backend != "" && !cfg.Storage.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("storage.backend %q is invalid; valid values: memory, file, postgres", cfg.Storage.Backend))
	}
	if cfg.Storage.Backend == StorageFile && cfg.Storage.FilePath == "" {
		errs = append(errs, errors.New("storage.file_path is required when storage.backend is file"))
	}
	if cfg.Storage.Backend == StoragePostgres && cfg.Storage.PostgresDSN == "" {
		errs = append(errs, errors.New("storage.postgres_dsn is required when storage.backend is postgres"))
	}
	if cfg.Storage.Backend == StorageMemory || cfg.Storage.Backend == "" {
		slog.Warn("storage backend is in-memory; all records are lost on restart")
	}

	if len(cfg.Completion.Backends) == 0 {
		errs = append(errs, errors.New("completion.backends must list at least one backend"))
	}
	for i, entry := range cfg.Completion.Backends {
		prefix := fmt.Sprintf("completion.backends[%d]", i)
		if entry.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
			continue
		}
		if !slices.Contains(KnownCompletionBackends, entry.Name) {
			slog.Warn("unknown completion backend name, may be a typo",
				"name", entry.Name, "known", KnownCompletionBackends)
		}
		if entry.Model == "" {
			errs = append(errs, fmt.Errorf("%s.model is required", prefix))
		}
	}

	if cfg.Payment.Treasury != "" && !strings.HasPrefix(cfg.Payment.Treasury, "0x") {
		errs = append(errs, fmt.Errorf("payment.treasury %q does not look like an address", cfg.Payment.Treasury))
	}
	if cfg.Payment.AmountWei != "" {
		amount, ok := new(big.Int).SetString(cfg.Payment.AmountWei, 10)
		if !ok || amount.Sign() <= 0 {
			errs = append(errs, fmt.Errorf("payment.amount_wei %q must be a positive decimal integer", cfg.Payment.AmountWei))
		}
	}
	if chain := cfg.Payment.Chain; chain.ChainID != "" {
		if !strings.HasPrefix(chain.ChainID, "0x") {
			errs = append(errs, fmt.Errorf("payment.chain.chain_id %q must be 0x-prefixed hex", chain.ChainID))
		}
		if len(chain.RPCURLs) == 0 {
			errs = append(errs, errors.New("payment.chain.rpc_urls must list at least one URL"))
		}
	}

	if cfg.Access.TrialDays < 0 {
		errs = append(errs, fmt.Errorf("access.trial_days %d must not be negative", cfg.Access.TrialDays))
	}
	if cfg.Access.SubscriptionDays < 0 {
		errs = append(errs, fmt.Errorf("access.subscription_days %d must not be negative", cfg.Access.SubscriptionDays))
	}

	if cfg.Archive.LighthouseAPIKey == "" {
		slog.Warn("archive.lighthouse_api_key is empty; transcript exports stay in process memory")
	}

	seen := make(map[string]int, len(cfg.Personas))
	for i, p := range cfg.Personas {
		prefix := fmt.Sprintf("personas[%d]", i)
		if p.ID == "" {
			errs = append(errs, fmt.Errorf("%s.id is required", prefix))
		} else if prev, ok := seen[p.ID]; ok {
			errs = append(errs, fmt.Errorf("%s.id %q is a duplicate of personas[%d]", prefix, p.ID, prev))
		} else {
			seen[p.ID] = i
		}
		if p.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		}
		if p.GreetingTemplate == "" {
			errs = append(errs, fmt.Errorf("%s.greeting_template is required", prefix))
		}
	}

	if cfg.Limits.StreamTimeout < 0 {
		errs = append(errs, fmt.Errorf("limits.stream_timeout %s must not be negative", cfg.Limits.StreamTimeout))
	}

	return errors.Join(errs...)
}

// PaymentAmountWei returns the configured price, or nil when the default
// applies. Call only after [Validate] passed.
func (c *Config) PaymentAmountWei() *big.Int {
	if c.Payment.AmountWei == "" {
		return nil
	}
	amount, _ := new(big.Int).SetString(c.Payment.AmountWei, 10)
	return amount
}
