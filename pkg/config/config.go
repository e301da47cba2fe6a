package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"gopkg.in/yaml.v3"
)

// AppConfig is read from a YAML file under the user's home directory, with
// environment variables (VISABUDDY_*) taking precedence. All fields are
// optional; defaults are applied by the accessor methods.
//
// Example (~/.visabuddy/config.yaml):
//
// server:
//   host: 127.0.0.1
//   port: 8090
// backend:
//   base_url: https://api.visabuddy.example
//   timeout: 30s
//
// Notes:
// - If the config file does not exist, Load returns defaults without error.
// - If the config file exists but cannot be parsed, Load returns an error.
// - Port must be between 1 and 65535.

type AppConfig struct {
	Server  ServerConfig  `yaml:"server"`
	Backend BackendConfig `yaml:"backend"`
	Cache   CacheConfig   `yaml:"cache"`
}

type ServerConfig struct {
	Host *string `yaml:"host"`
	Port *int    `yaml:"port"`
}

type BackendConfig struct {
	BaseURL *string `yaml:"base_url"`
	// Durations are kept as strings ("30s", "1m") so the same field parses
	// from both YAML and the environment.
	Timeout        *string `yaml:"timeout"`
	RestoreTimeout *string `yaml:"restore_timeout"`
	TokenFile      *string `yaml:"token_file"`
}

type CacheConfig struct {
	Path *string `yaml:"path"`
}

// envOverrides is a flat struct for caarlos0/env. The YAML config uses
// pointer fields, which env would misread as nested structs, so environment
// values are parsed separately and merged onto the config afterwards.
type envOverrides struct {
	Host           string `env:"VISABUDDY_HOST"`
	Port           int    `env:"VISABUDDY_PORT"`
	BackendURL     string `env:"VISABUDDY_BACKEND_URL"`
	BackendTimeout string `env:"VISABUDDY_BACKEND_TIMEOUT"`
	RestoreTimeout string `env:"VISABUDDY_RESTORE_TIMEOUT"`
	TokenFile      string `env:"VISABUDDY_TOKEN_FILE"`
	CachePath      string `env:"VISABUDDY_CACHE_PATH"`
}

const (
	DefaultHost           = "127.0.0.1"
	DefaultPort           = 8090
	DefaultBackendURL     = "https://api.visabuddy.example"
	DefaultTimeout        = 30 * time.Second
	DefaultRestoreTimeout = 2 * time.Second
)

// DefaultPaths returns the config dir and config file path.
func DefaultPaths() (configDir string, configFile string, err error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", "", fmt.Errorf("get user home dir: %w", err)
	}
	configDir = filepath.Join(home, ".visabuddy")
	configFile = filepath.Join(configDir, "config.yaml")
	return configDir, configFile, nil
}

// Load reads ~/.visabuddy/config.yaml and applies environment overrides.
// If the file doesn't exist, it returns a default config and nil error.
func Load() (*AppConfig, string, error) {
	_, configFile, err := DefaultPaths()
	if err != nil {
		return nil, "", err
	}

	cfg := &AppConfig{}

	b, err := os.ReadFile(configFile)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, "", fmt.Errorf("read config file %s: %w", configFile, err)
		}
	} else if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, "", fmt.Errorf("parse yaml config %s: %w", configFile, err)
	}

	// Environment wins over the file.
	var overrides envOverrides
	if err := env.Parse(&overrides); err != nil {
		return nil, "", fmt.Errorf("parse env config: %w", err)
	}
	applyEnvOverrides(cfg, &overrides)

	// Validate
	host := cfg.Host()
	if strings.TrimSpace(host) == "" {
		return nil, "", fmt.Errorf("invalid server.host (empty) in %s", configFile)
	}

	port := cfg.Port()
	if port < 1 || port > 65535 {
		return nil, "", fmt.Errorf("invalid server.port %d in %s", port, configFile)
	}

	if strings.TrimSpace(cfg.BackendURL()) == "" {
		return nil, "", fmt.Errorf("invalid backend.base_url (empty) in %s", configFile)
	}

	return cfg, configFile, nil
}

func applyEnvOverrides(cfg *AppConfig, o *envOverrides) {
	if o.Host != "" {
		cfg.Server.Host = ptr(o.Host)
	}
	if o.Port != 0 {
		cfg.Server.Port = ptr(o.Port)
	}
	if o.BackendURL != "" {
		cfg.Backend.BaseURL = ptr(o.BackendURL)
	}
	if o.BackendTimeout != "" {
		cfg.Backend.Timeout = ptr(o.BackendTimeout)
	}
	if o.RestoreTimeout != "" {
		cfg.Backend.RestoreTimeout = ptr(o.RestoreTimeout)
	}
	if o.TokenFile != "" {
		cfg.Backend.TokenFile = ptr(o.TokenFile)
	}
	if o.CachePath != "" {
		cfg.Cache.Path = ptr(o.CachePath)
	}
}

// EnsureDefaultConfig writes a default config file if it doesn't already exist.
// It is safe to call on startup.
func EnsureDefaultConfig() (string, error) {
	configDir, configFile, err := DefaultPaths()
	if err != nil {
		return "", err
	}

	if _, err := os.Stat(configFile); err == nil {
		return configFile, nil
	}

	if err := os.MkdirAll(configDir, 0o700); err != nil {
		return "", fmt.Errorf("create config dir %s: %w", configDir, err)
	}

	defaultCfg := AppConfig{
		Server:  ServerConfig{Host: ptr(DefaultHost), Port: ptr(DefaultPort)},
		Backend: BackendConfig{BaseURL: ptr(DefaultBackendURL)},
	}
	b, err := yaml.Marshal(&defaultCfg)
	if err != nil {
		return "", fmt.Errorf("marshal default config: %w", err)
	}

	// Write with restrictive permissions.
	if err := os.WriteFile(configFile, b, 0o600); err != nil {
		return "", fmt.Errorf("write default config file %s: %w", configFile, err)
	}

	return configFile, nil
}

func (c *AppConfig) Host() string {
	if c == nil || c.Server.Host == nil {
		return DefaultHost
	}
	v := strings.TrimSpace(*c.Server.Host)
	if v == "" {
		return DefaultHost
	}
	return v
}

func (c *AppConfig) Port() int {
	if c == nil || c.Server.Port == nil {
		return DefaultPort
	}
	return *c.Server.Port
}

func (c *AppConfig) BackendURL() string {
	if c == nil || c.Backend.BaseURL == nil {
		return DefaultBackendURL
	}
	v := strings.TrimSpace(*c.Backend.BaseURL)
	if v == "" {
		return DefaultBackendURL
	}
	return strings.TrimRight(v, "/")
}

func (c *AppConfig) BackendTimeout() time.Duration {
	if c == nil {
		return DefaultTimeout
	}
	return parseDuration(c.Backend.Timeout, DefaultTimeout)
}

func (c *AppConfig) RestoreTimeout() time.Duration {
	if c == nil {
		return DefaultRestoreTimeout
	}
	return parseDuration(c.Backend.RestoreTimeout, DefaultRestoreTimeout)
}

func parseDuration(s *string, fallback time.Duration) time.Duration {
	if s == nil {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(*s))
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// TokenFile returns the path of the persisted session token, empty when the
// session is supplied over the local API instead.
func (c *AppConfig) TokenFile() string {
	if c == nil || c.Backend.TokenFile == nil {
		return ""
	}
	return strings.TrimSpace(*c.Backend.TokenFile)
}

// CachePath returns the SQLite cache path, defaulting to the config dir.
func (c *AppConfig) CachePath() (string, error) {
	if c != nil && c.Cache.Path != nil && strings.TrimSpace(*c.Cache.Path) != "" {
		return strings.TrimSpace(*c.Cache.Path), nil
	}
	configDir, _, err := DefaultPaths()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "chat-cache.db"), nil
}

func ptr[T any](v T) *T { return &v }
