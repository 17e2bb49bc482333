// Package config loads and hot-reloads evocable configuration via viper.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Manager handles loading and hot-reloading configuration.
type Manager struct {
	mu        sync.RWMutex
	config    *Config
	callbacks []func(*Config)
}

// NewManager creates a new config manager and loads initial config.
func NewManager(cfgFile string) (*Manager, error) {
	cm := &Manager{
		callbacks: make([]func(*Config), 0),
	}

	if err := cm.initViper(cfgFile); err != nil {
		return nil, err
	}

	cfg, err := cm.load()
	if err != nil {
		return nil, err
	}
	cm.config = cfg

	return cm, nil
}

// NewStaticManager wraps a fixed config with no file backing. Reload
// callbacks never fire; intended for tests and embedded use.
func NewStaticManager(cfg *Config) *Manager {
	return &Manager{config: cfg}
}

// initViper sets up viper with defaults and config file.
func (cm *Manager) initViper(cfgFile string) error {
	defaults := DefaultConfig()
	viper.SetDefault("listen_addr", defaults.ListenAddr)
	viper.SetDefault("blob_root", defaults.BlobRoot)
	viper.SetDefault("store_dsn", defaults.StoreDSN)
	viper.SetDefault("queue_dsn", defaults.QueueDSN)
	viper.SetDefault("signing_secret", defaults.SigningSecret)
	viper.SetDefault("signed_url_ttl_s", defaults.SignedURLTTLS)
	viper.SetDefault("max_upload_bytes", defaults.MaxUploadBytes)
	viper.SetDefault("target_segment_duration_s", defaults.TargetSegmentDurationS)
	viper.SetDefault("worker_lease_s", defaults.WorkerLeaseS)
	viper.SetDefault("worker_max_attempts", defaults.WorkerMaxAttempts)
	viper.SetDefault("log_level", defaults.LogLevel)
	viper.SetDefault("stage_workers", defaults.StageWorkers)
	viper.SetDefault("synth", defaults.Synth)
	viper.SetDefault("packager", defaults.Packager)

	// Environment variables with EVOCABLE_ prefix
	viper.SetEnvPrefix("EVOCABLE")
	viper.AutomaticEnv()

	// Config file
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.evocable")
	}

	// Try to read config file (not required)
	if err := viper.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	return nil
}

// load parses the current viper state into a validated Config struct.
func (cm *Manager) load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Get returns the current configuration (thread-safe).
func (cm *Manager) Get() *Config {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.config
}

// OnChange registers a callback for config changes.
func (cm *Manager) OnChange(fn func(*Config)) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.callbacks = append(cm.callbacks, fn)
}

// WatchConfig enables hot-reloading of configuration. The signing secret
// and storage locations are pinned to their boot values: rotating the
// secret or moving databases requires a restart.
func (cm *Manager) WatchConfig() {
	viper.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := cm.load()
		if err != nil {
			return
		}

		cm.mu.Lock()
		cfg.SigningSecret = cm.config.SigningSecret
		cfg.StoreDSN = cm.config.StoreDSN
		cfg.QueueDSN = cm.config.QueueDSN
		cfg.BlobRoot = cm.config.BlobRoot
		cm.config = cfg
		callbacks := make([]func(*Config), len(cm.callbacks))
		copy(callbacks, cm.callbacks)
		cm.mu.Unlock()

		for _, fn := range callbacks {
			fn(cfg)
		}
	})
	viper.WatchConfig()
}

// ResolveEnvVars expands ${ENV_VAR} references in a string.
func ResolveEnvVars(value string) string {
	if value == "" {
		return value
	}
	pattern := regexp.MustCompile(`\$\{([^}]+)\}`)
	return pattern.ReplaceAllStringFunc(value, func(match string) string {
		varName := match[2 : len(match)-1]
		return os.Getenv(varName)
	})
}

// SignedURLTTL returns the default lifetime for signed chunk URLs.
func (c *Config) SignedURLTTL() time.Duration {
	return time.Duration(c.SignedURLTTLS) * time.Second
}

// WorkerLease returns the reservation lease for a stage queue.
func (c *Config) WorkerLease(stage string) time.Duration {
	if s, ok := c.WorkerLeaseS[stage]; ok && s > 0 {
		return time.Duration(s) * time.Second
	}
	if s, ok := DefaultConfig().WorkerLeaseS[stage]; ok {
		return time.Duration(s) * time.Second
	}
	return 2 * time.Minute
}

// ResolveSigningSecret expands ${ENV_VAR} references in the signing
// secret and returns the raw key bytes.
func (c *Config) ResolveSigningSecret() []byte {
	return []byte(ResolveEnvVars(c.SigningSecret))
}

// WriteDefault writes the default configuration to the specified path.
func WriteDefault(path string) error {
	cfg := DefaultConfig()
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(`# Evocable configuration
# Secrets use ${ENV_VAR} syntax to reference environment variables
# Set these in your shell: export EVOCABLE_SECRET=xxx OPENAI_API_KEY=xxx

`)
	return os.WriteFile(path, append(header, data...), 0o644)
}
