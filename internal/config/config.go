// ABOUTME: YAML configuration for the resonate-engine CLI
// ABOUTME: Loads settings with defaults and validates them before the engine starts
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Resonate-Protocol/resonate-engine/pkg/playback"
)

// Config holds CLI settings
type Config struct {
	// Output names the backend: oto, malgo, null or broadcast
	Output string `yaml:"output"`

	// Transport is used until a transport switch is persisted: gapless or crossfade
	Transport string `yaml:"transport"`

	// CrossfadeDuration is the overlap between tracks
	CrossfadeDuration time.Duration `yaml:"crossfade_duration"`

	// Volume is the initial volume in [0, 1]
	Volume float64 `yaml:"volume"`

	// PreampDB and Limiter configure the DSP chain
	PreampDB float64 `yaml:"preamp_db"`
	Limiter  bool    `yaml:"limiter"`

	// SamplesPerChannel and BufferCount size each stream's buffer pool
	SamplesPerChannel int `yaml:"samples_per_channel"`
	BufferCount       int `yaml:"buffer_count"`

	// LogFile and LogLevel configure logging
	LogFile  string `yaml:"log_file"`
	LogLevel string `yaml:"log_level"`

	// StateFile persists preferences such as the transport type
	StateFile string `yaml:"state_file"`

	Broadcast BroadcastConfig `yaml:"broadcast"`
}

// BroadcastConfig configures the network sink
type BroadcastConfig struct {
	Port int    `yaml:"port"`
	Name string `yaml:"name"`
	MDNS bool   `yaml:"mdns"`
}

// Default returns a Config with sensible defaults
func Default() Config {
	return Config{
		Output:            "oto",
		Transport:         "gapless",
		CrossfadeDuration: playback.DefaultCrossfadeDuration,
		Volume:            1,
		SamplesPerChannel: 2048,
		BufferCount:       32,
		LogFile:           "resonate-engine.log",
		LogLevel:          "info",
		StateFile:         "resonate-engine.state.yaml",
		Broadcast: BroadcastConfig{
			Port: 8927,
			Name: "Resonate Engine",
			MDNS: true,
		},
	}
}

// Load reads path over the defaults. A missing file yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// Validate checks that the configuration is usable
func (c *Config) Validate() error {
	if _, err := ParseTransport(c.Transport); err != nil {
		return err
	}
	if c.Volume < 0 || c.Volume > 1 {
		return fmt.Errorf("volume must be in [0, 1], got %v", c.Volume)
	}
	if c.CrossfadeDuration < 0 {
		return fmt.Errorf("crossfade_duration must not be negative, got %v", c.CrossfadeDuration)
	}
	if c.SamplesPerChannel < 0 || c.BufferCount < 0 {
		return fmt.Errorf("buffer sizes must not be negative")
	}
	if c.Broadcast.Port < 0 || c.Broadcast.Port > 65535 {
		return fmt.Errorf("broadcast port out of range: %d", c.Broadcast.Port)
	}
	return nil
}

// ParseTransport maps a transport name to its type
func ParseTransport(name string) (playback.TransportType, error) {
	switch name {
	case "", "gapless":
		return playback.TransportGapless, nil
	case "crossfade":
		return playback.TransportCrossfade, nil
	default:
		return 0, fmt.Errorf("unknown transport %q (want gapless or crossfade)", name)
	}
}
