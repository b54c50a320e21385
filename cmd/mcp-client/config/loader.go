// loader.go — configuration loading with priority cascade.
// Priority: defaults < global config < project config < env vars < flags.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// Config holds all resolved configuration values for mcp-client.
type Config struct {
	Host      string `json:"host"`
	Port      int    `json:"port"`
	Transport string `json:"transport"`
	Format    string `json:"format"`
	Timeout   int    `json:"timeout_ms"`
	APIKey    string `json:"api_key"`
	AutoStart bool   `json:"auto_start"`
}

// FlagOverrides holds values explicitly set via command-line flags. A nil
// pointer means the flag was not set, so lower-priority values are kept.
type FlagOverrides struct {
	Host      *string
	Port      *int
	Transport *string
	Format    *string
	Timeout   *int
	APIKey    *string
	AutoStart *bool
}

// Defaults returns the base configuration with sensible defaults.
func Defaults() Config {
	return Config{
		Host:      "127.0.0.1",
		Port:      7890,
		Transport: "tcp",
		Format:    "human",
		Timeout:   10000,
		AutoStart: true,
	}
}

// Load builds the final configuration by applying the priority cascade:
// defaults < global (~/.mcp-runtime/config.json) < project (.mcp-runtime.json) < env vars < flags.
func Load(projectDir string, flags *FlagOverrides) (Config, error) {
	cfg := Defaults()

	if home, err := os.UserHomeDir(); err == nil {
		_ = loadJSONFile(&cfg, filepath.Join(home, ".mcp-runtime", "config.json"))
	}

	if err := loadJSONFile(&cfg, filepath.Join(projectDir, ".mcp-runtime.json")); err != nil {
		return cfg, fmt.Errorf("project config: %w", err)
	}

	loadEnvVars(&cfg)

	if flags != nil {
		applyFlags(&cfg, flags)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// fileConfig uses pointers to distinguish "not set" from zero values.
type fileConfig struct {
	Host      *string `json:"host"`
	Port      *int    `json:"port"`
	Transport *string `json:"transport"`
	Format    *string `json:"format"`
	Timeout   *int    `json:"timeout_ms"`
	APIKey    *string `json:"api_key"`
	AutoStart *bool   `json:"auto_start"`
}

func loadJSONFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var fileCfg fileConfig
	if err := json.Unmarshal(data, &fileCfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	if fileCfg.Host != nil {
		cfg.Host = *fileCfg.Host
	}
	if fileCfg.Port != nil {
		cfg.Port = *fileCfg.Port
	}
	if fileCfg.Transport != nil {
		cfg.Transport = *fileCfg.Transport
	}
	if fileCfg.Format != nil {
		cfg.Format = *fileCfg.Format
	}
	if fileCfg.Timeout != nil {
		cfg.Timeout = *fileCfg.Timeout
	}
	if fileCfg.APIKey != nil {
		cfg.APIKey = *fileCfg.APIKey
	}
	if fileCfg.AutoStart != nil {
		cfg.AutoStart = *fileCfg.AutoStart
	}
	return nil
}

func loadEnvVars(cfg *Config) {
	if v := os.Getenv("MCP_HOST"); v != "" {
		cfg.Host = v
	}
	if v := os.Getenv("MCP_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Port = port
		}
	}
	if v := os.Getenv("MCP_TRANSPORT"); v != "" {
		cfg.Transport = v
	}
	if v := os.Getenv("MCP_FORMAT"); v != "" {
		cfg.Format = v
	}
	if v := os.Getenv("MCP_TIMEOUT_MS"); v != "" {
		if timeout, err := strconv.Atoi(v); err == nil {
			cfg.Timeout = timeout
		}
	}
	if v := os.Getenv("MCP_API_KEY"); v != "" {
		cfg.APIKey = v
	}
	if os.Getenv("MCP_NO_AUTO_START") == "1" {
		cfg.AutoStart = false
	}
}

func applyFlags(cfg *Config, flags *FlagOverrides) {
	if flags.Host != nil {
		cfg.Host = *flags.Host
	}
	if flags.Port != nil {
		cfg.Port = *flags.Port
	}
	if flags.Transport != nil {
		cfg.Transport = *flags.Transport
	}
	if flags.Format != nil {
		cfg.Format = *flags.Format
	}
	if flags.Timeout != nil {
		cfg.Timeout = *flags.Timeout
	}
	if flags.APIKey != nil {
		cfg.APIKey = *flags.APIKey
	}
	if flags.AutoStart != nil {
		cfg.AutoStart = *flags.AutoStart
	}
}

// Validate checks that configuration values are within acceptable ranges.
func (c Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port must be 1-65535, got %d", c.Port)
	}
	validFormats := map[string]bool{"human": true, "json": true, "csv": true}
	if !validFormats[c.Format] {
		return fmt.Errorf("format must be human, json, or csv, got %q", c.Format)
	}
	validTransports := map[string]bool{"tcp": true, "stdio": true, "websocket": true}
	if !validTransports[c.Transport] {
		return fmt.Errorf("transport must be tcp, stdio, or websocket, got %q", c.Transport)
	}
	return nil
}
