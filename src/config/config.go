// Package config loads optional YAML overrides for language server
// commands and initialization options.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ServerConfig overrides how one language server is launched. Zero-value
// fields keep the built-in default.
type ServerConfig struct {
	Command               string                 `yaml:"command,omitempty"`
	Args                  []string               `yaml:"args,omitempty"`
	InitializationOptions map[string]interface{} `yaml:"initialization_options,omitempty"`
}

// Config is the root of the YAML file. Keys of Servers are language ids
// (go, python, typescript, ...).
type Config struct {
	Servers map[string]*ServerConfig `yaml:"servers"`
}

// GetDefaultConfig returns an empty override set.
func GetDefaultConfig() *Config {
	return &Config{Servers: make(map[string]*ServerConfig)}
}

// GetDefaultConfigPath returns ~/.lsp-bridge/config.yaml, or "" when the
// home directory cannot be determined.
func GetDefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".lsp-bridge", "config.yaml")
}

// LoadConfig reads and parses a YAML config file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := GetDefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if cfg.Servers == nil {
		cfg.Servers = make(map[string]*ServerConfig)
	}
	return cfg, nil
}

// LoadOrDefault tries the explicit path first, then the default location,
// and falls back to empty overrides when neither exists.
func LoadOrDefault(path string) *Config {
	if path != "" {
		if cfg, err := LoadConfig(path); err == nil {
			return cfg
		}
		return GetDefaultConfig()
	}
	if def := GetDefaultConfigPath(); def != "" {
		if _, err := os.Stat(def); err == nil {
			if cfg, err := LoadConfig(def); err == nil {
				return cfg
			}
		}
	}
	return GetDefaultConfig()
}
