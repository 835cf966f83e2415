// Package config holds the endpoint configuration.
//
// Values come from, in increasing precedence: built-in defaults, a YAML file,
// .env files and the process environment (VIDEOBOARD_*), and command-line
// flags applied by the command itself.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/1ureka/videoboard/internal/media"
)

// EnvPrefix prefixes every environment variable read by ApplyEnv.
const EnvPrefix = "VIDEOBOARD_"

// Config stores all parameters of one endpoint.
type Config struct {
	// ID is this endpoint's identifier. It addresses its inbox and decides
	// its glare role against each peer.
	ID string `yaml:"id"`

	Relay RelayConfig `yaml:"relay"`

	// ICEServers are STUN/TURN urls. Empty selects the public STUN servers.
	ICEServers []string `yaml:"ice_servers"`

	// Timeout is the silence window after which a session is torn down.
	Timeout time.Duration `yaml:"timeout"`

	// StaleWindow is the maximum age of an inbox record that is still
	// delivered.
	StaleWindow time.Duration `yaml:"stale_window"`

	Media MediaConfig `yaml:"media"`

	// Peers maps callable endpoint ids to display labels.
	Peers map[string]string `yaml:"peers"`

	// MetricsAddr, if set, serves Prometheus metrics at /metrics.
	MetricsAddr string `yaml:"metrics_addr"`

	Debug bool `yaml:"debug"`
}

// RelayConfig selects the message relay. URL dials a relay hub; otherwise
// RedisAddr uses Redis Streams directly.
type RelayConfig struct {
	URL       string `yaml:"url"`
	PIN       string `yaml:"pin"`
	RedisAddr string `yaml:"redis_addr"`
	Prefix    string `yaml:"prefix"`
}

// MediaConfig selects the local media of a call.
type MediaConfig struct {
	Audio      bool   `yaml:"audio"`
	Video      bool   `yaml:"video"`
	FacingMode string `yaml:"facing_mode"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Timeout:     60 * time.Second,
		StaleWindow: 60 * time.Second,
		Relay:       RelayConfig{Prefix: "videoboard"},
		Media: MediaConfig{
			Audio:      true,
			Video:      true,
			FacingMode: "user",
		},
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv loads the given .env files (missing files are skipped) into the
// process environment and overlays VIDEOBOARD_* variables onto c. Variables
// already set in the environment win over .env files.
func (c *Config) ApplyEnv(envFiles ...string) error {
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", f, err)
		}
	}

	str := func(name string, dst *string) {
		if v, ok := os.LookupEnv(EnvPrefix + name); ok {
			*dst = v
		}
	}
	str("ID", &c.ID)
	str("RELAY_URL", &c.Relay.URL)
	str("RELAY_PIN", &c.Relay.PIN)
	str("REDIS_ADDR", &c.Relay.RedisAddr)
	str("METRICS_ADDR", &c.MetricsAddr)

	if v, ok := os.LookupEnv(EnvPrefix + "TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %sTIMEOUT: %w", EnvPrefix, err)
		}
		c.Timeout = d
	}
	if v, ok := os.LookupEnv(EnvPrefix + "DEBUG"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %sDEBUG: %w", EnvPrefix, err)
		}
		c.Debug = b
	}
	return nil
}

// Validate reports the first invalid field.
func (c *Config) Validate() error {
	switch {
	case c.ID == "":
		return errors.New("config: id is required")
	case c.Timeout <= 0:
		return fmt.Errorf("config: timeout must be positive, got %s", c.Timeout)
	case c.StaleWindow <= 0:
		return fmt.Errorf("config: stale_window must be positive, got %s", c.StaleWindow)
	case c.Relay.URL == "" && c.Relay.RedisAddr == "":
		return errors.New("config: relay.url or relay.redis_addr is required")
	}
	if _, ok := c.Peers[c.ID]; ok {
		return fmt.Errorf("config: peers must not list the endpoint itself (%q)", c.ID)
	}
	return nil
}

// Constraints returns the media constraints of a call.
func (c *Config) Constraints() media.Constraints {
	return media.Constraints{
		Audio:      c.Media.Audio,
		Video:      c.Media.Video,
		FacingMode: c.Media.FacingMode,
	}
}
