// Package config handles configuration loading, validation, and persistence
// for towerlink.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/pelletier/go-toml/v2"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/towerlink/internal/util"
)

const (
	DefaultConfigDir  = "config"
	DefaultConfigFile = "towerlink.toml"
	DefaultGameHost   = "localhost"
	DefaultGamePort   = 7749
	DefaultAPIPort    = 5080
)

// Config is the root configuration structure for towerlink.
type Config struct {
	mu   sync.RWMutex
	path string

	// Unattended is set when the game launched towerlink itself; the token
	// must then come from the file or environment.
	Unattended bool `toml:"-"`

	Game    GameConfig     `toml:"game"`
	API     APIConfig      `toml:"api"`
	MQTT    MQTTConfig     `toml:"mqtt"`
	Journal JournalConfig  `toml:"journal"`
	Poller  PollerConfig   `toml:"poller"`
	Logging util.LogConfig `toml:"logging"`
}

// GameConfig describes how to reach the game and how patient to be with it.
type GameConfig struct {
	Host                 string `toml:"host" validate:"required,hostname_rfc1123|ip"`
	Port                 int    `toml:"port" validate:"min=1,max=65535"`
	Token                string `toml:"token" validate:"omitempty,token8"`
	CommandTimeoutMsec   int    `toml:"command_timeout_msec" validate:"min=10"`
	RetryCount           int    `toml:"retry_count" validate:"gt=0"`
	MaxGatedPolls        int    `toml:"max_gated_polls" validate:"gte=0"`
	HandshakeTimeoutMsec int    `toml:"handshake_timeout_msec" validate:"min=100"`
	DialAttempts         int    `toml:"dial_attempts" validate:"gt=0"`
	TerrainCacheSize     int    `toml:"terrain_cache_size" validate:"gt=0"`
}

// APIConfig holds the local REST API settings.
type APIConfig struct {
	Enabled        bool     `toml:"enabled"`
	Port           int      `toml:"port" validate:"min=1,max=65535"`
	AllowedOrigins []string `toml:"allowed_origins"`
	RateLimitRPS   int      `toml:"rate_limit_rps" validate:"gte=0"`

	// AuthToken, when set, is required as a bearer token on control routes.
	AuthToken string `toml:"auth_token"`
}

// MQTTConfig holds MQTT telemetry settings.
type MQTTConfig struct {
	Enabled     bool   `toml:"enabled"`
	BrokerURL   string `toml:"broker_url" validate:"required_if=Enabled true"`
	Port        int    `toml:"port" validate:"min=1,max=65535"`
	UseTLS      bool   `toml:"use_tls"`
	ClientID    string `toml:"client_id"`
	TopicPrefix string `toml:"topic_prefix" validate:"required"`
}

// JournalConfig holds the command journal settings.
type JournalConfig struct {
	Enabled    bool   `toml:"enabled"`
	Path       string `toml:"path" validate:"required_if=Enabled true"`
	MaxEntries int    `toml:"max_entries" validate:"gte=0"`
}

// PollerConfig holds the game snapshot poller settings.
type PollerConfig struct {
	IntervalSec int `toml:"interval_sec" validate:"gte=0"`
}

// envOverrides are read from the process environment after the file.
type envOverrides struct {
	Host      string `envconfig:"TOWERLINK_HOST"`
	Port      int    `envconfig:"TOWERLINK_PORT"`
	Token     string `envconfig:"TOWERLINK_TOKEN"`
	LogLevel  string `envconfig:"TOWERLINK_LOG_LEVEL"`
	Challenge string `envconfig:"IS_CHALLENGE_GAME_PROCESS"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Game: GameConfig{
			Host:                 DefaultGameHost,
			Port:                 DefaultGamePort,
			CommandTimeoutMsec:   1000,
			RetryCount:           3,
			MaxGatedPolls:        600,
			HandshakeTimeoutMsec: 5000,
			DialAttempts:         3,
			TerrainCacheSize:     4096,
		},
		API: APIConfig{
			Enabled:        true,
			Port:           DefaultAPIPort,
			AllowedOrigins: []string{"http://localhost:3000"},
			RateLimitRPS:   50,
		},
		MQTT: MQTTConfig{
			Enabled:     false,
			BrokerURL:   "localhost",
			Port:        1883,
			TopicPrefix: "towerlink",
		},
		Journal: JournalConfig{
			Enabled:    true,
			Path:       filepath.Join("data", "journal.db"),
			MaxEntries: 50000,
		},
		Poller: PollerConfig{
			IntervalSec: 5,
		},
		Logging: util.DefaultLogConfig(),
	}
}

// Load reads configuration from the TOML file in configDir, creating it with
// defaults on first run, then applies environment overrides.
func Load(configDir string) (*Config, error) {
	configPath := filepath.Join(configDir, DefaultConfigFile)

	data, err := os.ReadFile(configPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
		log.Info().Str("path", configPath).Msg("config file not found, creating default")
		cfg := DefaultConfig()
		cfg.path = configPath
		if saveErr := cfg.Save(); saveErr != nil {
			return nil, fmt.Errorf("failed to save default config: %w", saveErr)
		}
		if err := cfg.applyEnv(); err != nil {
			return nil, err
		}
		return cfg, nil
	}

	cfg := DefaultConfig()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}
	cfg.path = configPath
	log.Info().Str("path", configPath).Msg("configuration loaded")

	// Persist fields added since the file was written.
	if saveErr := cfg.Save(); saveErr != nil {
		log.Warn().Err(saveErr).Msg("failed to re-save config with updated defaults")
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays environment variables. Overrides are not saved.
func (c *Config) applyEnv() error {
	var env envOverrides
	if err := envconfig.Process("", &env); err != nil {
		return fmt.Errorf("failed to read environment overrides: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if env.Host != "" {
		c.Game.Host = env.Host
	}
	if env.Port != 0 {
		c.Game.Port = env.Port
	}
	if env.Token != "" {
		c.Game.Token = env.Token
	}
	if env.LogLevel != "" {
		c.Logging.Level = env.LogLevel
	}
	c.Unattended = strings.EqualFold(env.Challenge, "true")
	c.Game.Token = strings.ToLower(strings.TrimSpace(c.Game.Token))
	return nil
}

// Save writes the current configuration to disk.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if err := os.MkdirAll(filepath.Dir(c.path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := toml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(c.path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	log.Debug().Str("path", c.path).Msg("configuration saved")
	return nil
}

// GetGame returns a copy of the game connection settings.
func (c *Config) GetGame() GameConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Game
}

// SetToken stores a lowercased game token.
func (c *Config) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Game.Token = strings.ToLower(strings.TrimSpace(token))
}

// Path returns the config file path.
func (c *Config) Path() string {
	return c.path
}

// NeedsToken returns true when no game token is configured.
func (c *Config) NeedsToken() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Game.Token == ""
}

// CommandTimeout is the per-attempt reply timeout.
func (g GameConfig) CommandTimeout() time.Duration {
	return time.Duration(g.CommandTimeoutMsec) * time.Millisecond
}

// HandshakeTimeout bounds the websocket upgrade and token exchange.
func (g GameConfig) HandshakeTimeout() time.Duration {
	return time.Duration(g.HandshakeTimeoutMsec) * time.Millisecond
}

// GatedPollLimit converts max_gated_polls to the dispatcher convention,
// where a negative limit means unbounded.
func (g GameConfig) GatedPollLimit() int {
	if g.MaxGatedPolls == 0 {
		return -1
	}
	return g.MaxGatedPolls
}

// Interval returns the poll interval, zero when polling is disabled.
func (p PollerConfig) Interval() time.Duration {
	return time.Duration(p.IntervalSec) * time.Second
}
