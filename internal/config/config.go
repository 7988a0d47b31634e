// Package config handles configuration loading from TOML files and environment variables.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config is the root configuration structure.
type Config struct {
	DefaultProvider string             `toml:"default_provider"`
	Providers       []ProviderConfig   `toml:"providers"`
	Permissions     []PermissionConfig `toml:"permissions"`
	Memory          MemoryConfig       `toml:"memory"`
	Persona         PersonaConfig      `toml:"persona"`
	Cache           CacheConfig        `toml:"cache"`
}

// CacheConfig holds the web fetch/search cache settings.
type CacheConfig struct {
	TTLHours int `toml:"ttl_hours"`
}

// CacheTTLOrDefault returns the configured TTL or 24 hours if unset.
func (c CacheConfig) CacheTTLOrDefault() int {
	if c.TTLHours <= 0 {
		return 24
	}
	return c.TTLHours
}

// ProviderConfig is one entry of the ordered provider fallback list. Order
// in the TOML array is the fallback order: the first entry is tried first,
// later entries are only reached on fallthrough (spec.md §6).
type ProviderConfig struct {
	Provider    string  `toml:"provider"` // factory kind: "ollama", "gemini", "zen"
	Name        string  `toml:"name"`     // defaults to Provider if unset; must be unique
	APIKey      string  `toml:"api_key"`
	Model       string  `toml:"model"`
	BaseURL     string  `toml:"base_url"`
	Temperature float64 `toml:"temperature"`
}

// NameOrDefault returns the configured name, or the provider kind if unset.
func (p ProviderConfig) NameOrDefault() string {
	if p.Name != "" {
		return p.Name
	}
	return p.Provider
}

// PermissionConfig is one TOML-configured rule in the permission manager's
// ordered rule list, evaluated top to bottom (spec.md §4.F) before the
// default verdict applies.
type PermissionConfig struct {
	Tool    string `toml:"tool"` // glob against the tool name, e.g. "bash", "write", "*"
	Verdict string `toml:"verdict"` // "allow", "ask_user", or "deny"
	Reason  string `toml:"reason"`
}

// MemoryConfig holds MemTree/pattern-store persistence settings.
type MemoryConfig struct {
	DBPath          string `toml:"db_path"`
	Enabled         bool   `toml:"enabled"`
	MaxContextItems int    `toml:"max_context_items"`
}

// MaxContextItemsOrDefault returns the configured retrieval top-k, or 5
// (spec.md §4.J's default) if unset.
func (m MemoryConfig) MaxContextItemsOrDefault() int {
	if m.MaxContextItems <= 0 {
		return 5
	}
	return m.MaxContextItems
}

// PersonaConfig names the active persona profile injected into system
// prompts and IPCL critique rounds.
type PersonaConfig struct {
	Name string `toml:"name"`
}

// Load reads configuration from a TOML file and applies environment variable overrides.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	// Config file is required
	if path == "" {
		return nil, fmt.Errorf("config path is required")
	}

	// File must exist
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("config file not found: %s", path)
	}

	// Load from file
	_, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Apply environment variable overrides
	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate returns an error if the configuration is invalid.
func (c *Config) Validate() error {
	var errs []error

	if len(c.Providers) == 0 {
		errs = append(errs, errors.New("providers: at least one provider must be configured"))
	} else {
		seen := make(map[string]bool, len(c.Providers))
		for _, providerCfg := range c.Providers {
			errs = append(errs, validateProviderConfig(providerCfg)...)
			name := providerCfg.NameOrDefault()
			if seen[name] {
				errs = append(errs, fmt.Errorf("providers: duplicate name %q", name))
			}
			seen[name] = true
		}
		if c.DefaultProvider != "" && !seen[c.DefaultProvider] {
			errs = append(errs, fmt.Errorf("default_provider=%q does not exist in providers", c.DefaultProvider))
		}
	}

	for _, rule := range c.Permissions {
		if rule.Tool == "" {
			errs = append(errs, errors.New("permissions: tool glob is required"))
		}
		switch rule.Verdict {
		case "allow", "ask_user", "deny":
		default:
			errs = append(errs, fmt.Errorf("permissions: tool=%q verdict=%q must be allow, ask_user, or deny", rule.Tool, rule.Verdict))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

func validateProviderConfig(cfg ProviderConfig) []error {
	var errs []error
	name := cfg.NameOrDefault()

	switch cfg.Provider {
	case "ollama", "gemini", "zen":
	case "":
		errs = append(errs, fmt.Errorf("providers.%s.provider is required", name))
	default:
		errs = append(errs, fmt.Errorf("providers.%s.provider=%q is not a recognized provider kind", name, cfg.Provider))
	}

	if cfg.Model == "" {
		errs = append(errs, fmt.Errorf("providers.%s.model is required", name))
	}

	if cfg.BaseURL != "" {
		if err := validateEndpoint(cfg.BaseURL); err != nil {
			errs = append(errs, fmt.Errorf("providers.%s.base_url=%q is invalid: %v", name, cfg.BaseURL, err))
		}
	}

	if cfg.Temperature < 0.0 || cfg.Temperature > 2.0 {
		errs = append(errs, fmt.Errorf("providers.%s.temperature=%v must be between 0.0 and 2.0", name, cfg.Temperature))
	}

	return errs
}

func validateEndpoint(value string) error {
	parsed, err := url.Parse(value)
	if err != nil {
		return err
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return errors.New("missing scheme or host")
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("AGENTCTL_DEFAULT_PROVIDER"); v != "" {
		cfg.DefaultProvider = v
	}
}

// appDirName is the per-user state directory name (spec.md §6's
// "<home>/.agentctl/" persistent state layout).
const appDirName = ".agentctl"

// DataDir returns the path to the agent's data directory (~/.agentctl).
func DataDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, appDirName), nil
}

// EnsureDataDir creates the data directory if it doesn't exist.
func EnsureDataDir() (string, error) {
	dir, err := DataDir()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return "", err
	}
	return dir, nil
}
