// Package config loads the router's YAML configuration, interpolating
// ${VAR} references from the environment (and an optional .env file
// beside the config), the way the teacher's own config loader does.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the router's YAML configuration (spec §4.F, §4.G, §6).
type Config struct {
	Version int          `yaml:"version"`
	Global  GlobalConfig `yaml:"global"`
	Chains  []Chain      `yaml:"chains"`
	API     APIConfig    `yaml:"api"`
}

type GlobalConfig struct {
	KVStorePath     string `yaml:"kv_store_path"`
	DispatchLogPath string `yaml:"dispatch_log_path"`
	HandoffWindow   uint64 `yaml:"handoff_window"`
	ScanBatchSize   int    `yaml:"scan_batch_size"`
	RetainedWindow  int    `yaml:"retained_window"`
	ShutdownGrace   string `yaml:"shutdown_grace"`
	HealthBindAddr  string `yaml:"health_bind_addr"`
}

// Chain configures one upstream block source (spec §3's L1 or L2).
type Chain struct {
	Name          string `yaml:"name"` // "bitcoin" | "stacks"
	Kind          string `yaml:"kind"` // "l1" | "l2"
	RPCURL        string `yaml:"rpc_url"`
	SubscribeURL  string `yaml:"subscribe_url"`
	Confirmations uint64 `yaml:"confirmations"`
}

// APIConfig configures the HTTP control plane (spec §4).
type APIConfig struct {
	BindAddr    string `yaml:"bind_addr"`
	BearerToken string `yaml:"bearer_token"`
}

var envPattern = regexp.MustCompile(`\${([A-Za-z_][A-Za-z0-9_]*)}`)

// Load reads, interpolates env vars, parses YAML, and validates.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is required")
	}

	if err := loadDotEnv(path); err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	interpolated, err := interpolateEnv(string(raw))
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal([]byte(interpolated), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Default returns the config with spec-mandated defaults pre-filled
// (retained window 256, handoff window 10, scan batch 100, grace 5s).
func Default() Config {
	return Config{
		Global: GlobalConfig{
			HandoffWindow:  10,
			ScanBatchSize:  100,
			RetainedWindow: 256,
			ShutdownGrace:  "5s",
			HealthBindAddr: ":8080",
		},
	}
}

func loadDotEnv(configPath string) error {
	envPath := filepath.Join(filepath.Dir(configPath), ".env")
	if _, err := os.Stat(envPath); err == nil {
		if err := godotenv.Load(envPath); err != nil {
			return fmt.Errorf("load .env: %w", err)
		}
	}
	return nil
}

func interpolateEnv(input string) (string, error) {
	missing := []string{}
	out := envPattern.ReplaceAllStringFunc(input, func(match string) string {
		name := envPattern.FindStringSubmatch(match)[1]
		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		missing = append(missing, name)
		return match
	})

	if len(missing) > 0 {
		return "", fmt.Errorf("missing environment variables: %s", strings.Join(dedup(missing), ", "))
	}
	return out, nil
}

// Validate performs small, direct schema checks.
func (c *Config) Validate() error {
	if c.Version == 0 {
		return errors.New("version is required")
	}
	if c.Global.KVStorePath == "" {
		return errors.New("global.kv_store_path is required")
	}
	if len(c.Chains) == 0 {
		return errors.New("at least one chain is required")
	}

	names := map[string]struct{}{}
	for _, ch := range c.Chains {
		if _, exists := names[ch.Name]; exists {
			return fmt.Errorf("duplicate chain name: %s", ch.Name)
		}
		names[ch.Name] = struct{}{}
		if err := ch.Validate(); err != nil {
			return fmt.Errorf("chain %s: %w", ch.Name, err)
		}
	}

	if c.API.BindAddr != "" && c.API.BearerToken == "" {
		return errors.New("api.bearer_token is required when api.bind_addr is set")
	}

	return nil
}

func (ch *Chain) Validate() error {
	if ch.Name == "" {
		return errors.New("name is required")
	}
	switch strings.ToLower(ch.Kind) {
	case "l1":
		if ch.SubscribeURL == "" {
			return errors.New("subscribe_url is required for l1 chains")
		}
	case "l2":
		if ch.RPCURL == "" {
			return errors.New("rpc_url is required for l2 chains")
		}
	default:
		return fmt.Errorf("unsupported chain kind: %s", ch.Kind)
	}
	return nil
}

func dedup(values []string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
