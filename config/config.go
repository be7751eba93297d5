package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

const (
	// EnvInstanceEndpoint overrides the solidtime instance endpoint
	EnvInstanceEndpoint = "SOLIDTIME_INSTANCE_ENDPOINT"

	// EnvClientID overrides the OAuth client id registered for this companion
	EnvClientID = "SOLIDTIME_CLIENT_ID"

	// EnvGithubToken is the environment variable name for an optional GitHub
	// API token used to enrich issue titles on github.com pages
	EnvGithubToken = "SOLIDTIME_GITHUB_TOKEN"
)

// DefaultInstanceEndpoint is the hosted solidtime instance.
const DefaultInstanceEndpoint = "https://app.solidtime.io"

// Config represents the application configuration
type Config struct {
	// Base URL of the solidtime instance, without a trailing slash
	InstanceEndpoint string `json:"instance_endpoint"`

	// OAuth client id issued by the instance for the companion
	InstanceClientID string `json:"instance_client_id"`

	// Path to the shared durable key-value store file
	StorePath string `json:"store_path"`

	// Path to the SQLite cache database file
	DatabasePath string `json:"database_path"`

	// Listen address for the local browser bridge
	BridgeAddr string `json:"bridge_addr"`

	// Optional GitHub token for issue title enrichment (can be set via
	// SOLIDTIME_GITHUB_TOKEN env var)
	GitHubToken string `json:"github_token,omitempty"`
}

// LoadConfig loads the configuration from a JSON file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Environment overrides take precedence over the file
	if v := os.Getenv(EnvInstanceEndpoint); v != "" {
		config.InstanceEndpoint = v
	}
	if v := os.Getenv(EnvClientID); v != "" {
		config.InstanceClientID = v
	}
	if v := os.Getenv(EnvGithubToken); v != "" {
		config.GitHubToken = v
	}

	applyDefaults(&config)

	// Make file paths absolute relative to the config file
	configDir := filepath.Dir(path)
	if !filepath.IsAbs(config.StorePath) {
		config.StorePath = filepath.Join(configDir, config.StorePath)
	}
	if !filepath.IsAbs(config.DatabasePath) {
		config.DatabasePath = filepath.Join(configDir, config.DatabasePath)
	}

	return &config, nil
}

func applyDefaults(config *Config) {
	if config.InstanceEndpoint == "" {
		config.InstanceEndpoint = DefaultInstanceEndpoint
	}
	if config.StorePath == "" {
		config.StorePath = "companion_store.json"
	}
	if config.DatabasePath == "" {
		config.DatabasePath = "companion_cache.db"
	}
	if config.BridgeAddr == "" {
		config.BridgeAddr = "127.0.0.1:46821"
	}
}

// SaveConfig saves the configuration to a JSON file
func SaveConfig(config *Config, path string) error {
	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// CreateDefaultConfig creates a default configuration file if it doesn't exist
func CreateDefaultConfig(path string) error {
	// Check if the file already exists
	if _, err := os.Stat(path); err == nil {
		return nil // File exists, don't overwrite
	}

	config := &Config{}
	applyDefaults(config)

	// Ensure the directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	return SaveConfig(config, path)
}
