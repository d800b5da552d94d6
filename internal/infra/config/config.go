// Package config provides configuration loading from YAML files.
package config

import (
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/osa030/audioplayer/internal/app/player"
)

// Engine types.
const (
	EngineSim     = "sim"
	EngineSpotify = "spotify"
)

// Config represents the application configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Engine  EngineConfig  `yaml:"engine"`
	Player  PlayerConfig  `yaml:"player"`
	Spotify SpotifyConfig `yaml:"spotify"`
}

// ServerConfig represents server configuration.
type ServerConfig struct {
	Addr         string `yaml:"addr" default:":8080"`
	ControlToken string `yaml:"control_token"`
	// ShutdownTimeoutSec bounds graceful shutdown.
	ShutdownTimeoutSec int         `yaml:"shutdown_timeout_sec" default:"5" validate:"gte=1,lte=60"`
	Hooks              HooksConfig `yaml:"hooks"`
}

// HooksConfig represents shell commands run around the server lifetime.
type HooksConfig struct {
	OnStarted []string `yaml:"on_started"`
	OnStopped []string `yaml:"on_stopped"`
}

// EngineConfig selects and tunes the audio engine.
type EngineConfig struct {
	Type       string    `yaml:"type" default:"sim" validate:"oneof=sim spotify"`
	IntervalMs int       `yaml:"interval_ms" default:"1000" validate:"gte=100,lte=60000"`
	Sim        SimConfig `yaml:"sim"`
}

// SimConfig represents the simulated engine configuration.
type SimConfig struct {
	DefaultDurationMs int            `yaml:"default_duration_ms" default:"180000" validate:"gt=0"`
	SeekLatencyMs     int            `yaml:"seek_latency_ms" default:"50" validate:"gte=0,lte=5000"`
	Catalog           map[string]int `yaml:"catalog" validate:"dive,gt=0"` // media path -> duration in ms
}

// PlayerConfig represents defaults for new players.
type PlayerConfig struct {
	// Options holds construction options applied when a request leaves a key out.
	Options map[string]any `yaml:"options"`
}

// SpotifyConfig represents Spotify API configuration.
type SpotifyConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	RefreshToken string `yaml:"refresh_token"`
	Market       string `yaml:"market" validate:"omitempty,len=2" default:"JP"`
	DeviceID     string `yaml:"device_id"`
}

// ShutdownTimeout returns the graceful shutdown bound.
func (c ServerConfig) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutSec) * time.Second
}

// Interval returns the engine event interval.
func (c EngineConfig) Interval() time.Duration {
	return time.Duration(c.IntervalMs) * time.Millisecond
}

// Load loads configuration from a YAML file on the OS filesystem.
func Load(path string) (*Config, error) {
	return LoadFs(afero.NewOsFs(), path)
}

// LoadFs loads configuration from a YAML file on fs.
// Environment variables take precedence over file values for sensitive fields.
func LoadFs(fs afero.Fs, path string) (*Config, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse config file")
	}

	// Override with environment variables
	cfg.overrideFromEnv()

	// Set defaults using creasty/defaults
	if err := defaults.Set(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "config validation failed")
	}

	return &cfg, nil
}

// overrideFromEnv overrides config values with environment variables.
func (c *Config) overrideFromEnv() {
	if v := os.Getenv("SPOTIFY_CLIENT_ID"); v != "" {
		c.Spotify.ClientID = v
	}
	if v := os.Getenv("SPOTIFY_CLIENT_SECRET"); v != "" {
		c.Spotify.ClientSecret = v
	}
	if v := os.Getenv("SPOTIFY_REFRESH_TOKEN"); v != "" {
		c.Spotify.RefreshToken = v
	}
	if v := os.Getenv("SPOTIFY_DEVICE_ID"); v != "" {
		c.Spotify.DeviceID = v
	}
	if v := os.Getenv("PLAYER_ENGINE"); v != "" {
		c.Engine.Type = v
	}
	if v := os.Getenv("CONTROL_TOKEN"); v != "" {
		c.Server.ControlToken = v
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, "struct validation failed")
	}

	if c.Engine.Type == EngineSpotify {
		if c.Spotify.ClientID == "" || c.Spotify.ClientSecret == "" || c.Spotify.RefreshToken == "" {
			return errors.New("spotify engine requires client_id, client_secret and refresh_token")
		}
	}

	if _, err := player.ParseOptions(c.Player.Options); err != nil {
		return errors.Wrap(err, "invalid player options")
	}

	return nil
}

// PlayerOptions returns the parsed default player options.
func (c *Config) PlayerOptions() player.Options {
	opts, err := player.ParseOptions(c.Player.Options)
	if err != nil {
		return player.DefaultOptions()
	}
	return opts
}
