// Package config loads the stormfeed configuration from defaults, an
// optional YAML file, and environment overrides.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig   `mapstructure:"server"`
	Lightning FeedConfig     `mapstructure:"lightning"`
	Vessel    FeedConfig     `mapstructure:"vessel"`
	Position  PositionConfig `mapstructure:"position"`
	Logging   LoggingConfig  `mapstructure:"logging"`
}

type ServerConfig struct {
	Port string `mapstructure:"port"`
}

type FeedConfig struct {
	Endpoints    []string `mapstructure:"endpoints"`
	APIKey       string   `mapstructure:"api_key"`
	ReconnectSec int      `mapstructure:"reconnect_sec"`
	Capacity     int      `mapstructure:"capacity"`
	History      int      `mapstructure:"history"`
}

type PositionConfig struct {
	URL     string `mapstructure:"url"`
	PollSec int    `mapstructure:"poll_sec"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

// Reconnect returns the feed's fixed retry delay.
func (f FeedConfig) Reconnect() time.Duration {
	return time.Duration(f.ReconnectSec) * time.Second
}

// VesselEnabled reports whether the vessel feed credential is present.
// Absence is not an error: the feed is simply disabled and queries report
// it as unavailable.
func (c *Config) VesselEnabled() bool {
	return c.Vessel.APIKey != ""
}

// PollInterval returns the position source polling period.
func (p PositionConfig) PollInterval() time.Duration {
	return time.Duration(p.PollSec) * time.Second
}

func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("server.port", "8080")
	v.SetDefault("lightning.endpoints", []string{
		"wss://ws1.blitzortung.org/",
		"wss://ws7.blitzortung.org/",
		"wss://ws8.blitzortung.org/",
	})
	v.SetDefault("lightning.reconnect_sec", 5)
	v.SetDefault("lightning.capacity", 500)
	v.SetDefault("lightning.history", 50)
	v.SetDefault("vessel.endpoints", []string{"wss://stream.aisstream.io/v0/stream"})
	v.SetDefault("vessel.reconnect_sec", 10)
	v.SetDefault("vessel.capacity", 500)
	v.SetDefault("vessel.history", 50)
	v.SetDefault("position.url", "http://api.open-notify.org/iss-now.json")
	v.SetDefault("position.poll_sec", 30)
	v.SetDefault("logging.level", "info")

	// Environment variable support
	v.SetEnvPrefix("STORMFEED")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// Explicitly bind nested keys to env vars
	_ = v.BindEnv("vessel.api_key", "STORMFEED_VESSEL_API_KEY")
	_ = v.BindEnv("server.port", "STORMFEED_PORT")

	// Load config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("default")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if err := validateFeed("lightning", c.Lightning); err != nil {
		return err
	}
	if err := validateFeed("vessel", c.Vessel); err != nil {
		return err
	}
	if c.Position.PollSec < 1 {
		return fmt.Errorf("position.poll_sec must be >= 1")
	}
	return nil
}

func validateFeed(name string, f FeedConfig) error {
	if len(f.Endpoints) == 0 {
		return fmt.Errorf("%s.endpoints must not be empty", name)
	}
	if f.ReconnectSec < 1 {
		return fmt.Errorf("%s.reconnect_sec must be >= 1", name)
	}
	if f.Capacity < 1 {
		return fmt.Errorf("%s.capacity must be >= 1", name)
	}
	if f.History < 0 {
		return fmt.Errorf("%s.history must be >= 0", name)
	}
	return nil
}
