// Package config loads the sync daemon's configuration from a YAML file,
// environment variables, and defaults, in that order of precedence.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

const (
	configFileName = "config"
	configFileType = "yaml"
	configFileExt  = "config.yaml"
	envPrefix      = "FIELDSYNC"

	// Config keys.
	keyDataDir        = "data_dir"
	keyOwner          = "owner"
	keyServerURL      = "server.url"
	keyServerToken    = "server.token"
	keyServerTimeout  = "server.timeout"
	keySyncInterval   = "sync.interval"
	keyConflictPolicy = "sync.conflict_policy"
	keyListenAddr     = "listen_addr"
	keyLogLevel       = "log_level"
)

// Conflict policy values accepted for sync.conflict_policy.
const (
	PolicyManual = "manual"
	PolicyLWW    = "lww"
)

// defaultConfigYAML is written to config.yaml on first run.
const defaultConfigYAML = `# fieldsync configuration

# Directory for the local database and staged media.
# data_dir:

# Owner/session id every sync pass is scoped to.
# owner:

server:
  url: http://localhost:8080
  # token:
  timeout: 60s

sync:
  interval: 15m
  # manual or lww
  conflict_policy: manual

# WebSocket progress endpoint.
listen_addr: 127.0.0.1:8787

log_level: info
`

// Config is the daemon's resolved configuration.
type Config struct {
	DataDir        string
	Owner          string
	ServerURL      string
	ServerToken    string
	ServerTimeout  time.Duration
	SyncInterval   time.Duration
	ConflictPolicy string
	ListenAddr     string
	LogLevel       string
}

// Load reads configuration from configDir/config.yaml, creating the
// directory and a default file on first run. Environment variables with
// the FIELDSYNC_ prefix override file values.
func Load(configDir string) (*Config, error) {
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return nil, fmt.Errorf("ensure config dir: %w", err)
	}
	if err := ensureDefaultConfigFile(configDir); err != nil {
		return nil, fmt.Errorf("ensure default config: %w", err)
	}

	v := viper.New()
	v.SetDefault(keyDataDir, filepath.Join(configDir, "data"))
	v.SetDefault(keyServerURL, "http://localhost:8080")
	v.SetDefault(keyServerTimeout, "60s")
	v.SetDefault(keySyncInterval, "15m")
	v.SetDefault(keyConflictPolicy, PolicyManual)
	v.SetDefault(keyListenAddr, "127.0.0.1:8787")
	v.SetDefault(keyLogLevel, "info")

	v.SetConfigName(configFileName)
	v.SetConfigType(configFileType)
	v.AddConfigPath(configDir)
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &Config{
		DataDir:        v.GetString(keyDataDir),
		Owner:          v.GetString(keyOwner),
		ServerURL:      v.GetString(keyServerURL),
		ServerToken:    v.GetString(keyServerToken),
		ServerTimeout:  v.GetDuration(keyServerTimeout),
		SyncInterval:   v.GetDuration(keySyncInterval),
		ConflictPolicy: v.GetString(keyConflictPolicy),
		ListenAddr:     v.GetString(keyListenAddr),
		LogLevel:       v.GetString(keyLogLevel),
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.ServerURL == "" {
		return fmt.Errorf("server.url must be set")
	}
	switch c.ConflictPolicy {
	case PolicyManual, PolicyLWW:
	default:
		return fmt.Errorf("unknown conflict policy %q (want %s or %s)",
			c.ConflictPolicy, PolicyManual, PolicyLWW)
	}
	if c.SyncInterval <= 0 {
		return fmt.Errorf("sync.interval must be positive")
	}
	return nil
}

// ensureDefaultConfigFile writes a default config.yaml on first run.
func ensureDefaultConfigFile(configDir string) error {
	path := filepath.Join(configDir, configFileExt)

	_, err := os.Stat(path)
	if err == nil {
		return nil
	}
	if !os.IsNotExist(err) {
		return fmt.Errorf("stat config file: %w", err)
	}
	return os.WriteFile(path, []byte(defaultConfigYAML), 0o644)
}

// DefaultConfigDir returns the per-user config directory.
func DefaultConfigDir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolve user config dir: %w", err)
	}
	return filepath.Join(base, "fieldsync"), nil
}
