// Package config provides configuration management for the Vocalize client.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Room    RoomConfig    `mapstructure:"room"`
	User    UserConfig    `mapstructure:"user"`
	Audio   AudioConfig   `mapstructure:"audio"`
	Avatar  AvatarConfig  `mapstructure:"avatar"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// RoomConfig configures the media room connection and credential issuance.
type RoomConfig struct {
	// TokenEndpoint is the credential issuing service URL. When set, the
	// client requests a token per connect attempt.
	TokenEndpoint string `mapstructure:"token_endpoint"`
	// ServerURL, APIKey and APISecret allow local token minting for
	// development against a self-hosted server. Ignored when TokenEndpoint
	// is set.
	ServerURL string        `mapstructure:"server_url"`
	APIKey    string        `mapstructure:"api_key"`
	APISecret string        `mapstructure:"api_secret"`
	RoomName  string        `mapstructure:"room_name"`
	Transport string        `mapstructure:"transport"` // livekit or wsbridge
	Timeout   time.Duration `mapstructure:"timeout"`
}

// UserConfig identifies the user and the agent persona to request.
type UserConfig struct {
	Name            string `mapstructure:"name"`
	Persona         string `mapstructure:"persona"`
	BusinessContext string `mapstructure:"business_context"`
}

// AudioConfig configures the frequency analyzer.
type AudioConfig struct {
	SampleRate int           `mapstructure:"sample_rate"`
	FFTSize    int           `mapstructure:"fft_size"`
	Interval   time.Duration `mapstructure:"interval"`
	LowHz      float64       `mapstructure:"low_hz"`
	MidHz      float64       `mapstructure:"mid_hz"`
	HighHz     float64       `mapstructure:"high_hz"`
}

// AvatarConfig configures the animation driver.
type AvatarConfig struct {
	Asset         string        `mapstructure:"asset"`
	AssetDir      string        `mapstructure:"asset_dir"`
	FrameRate     int           `mapstructure:"frame_rate"`
	IdleAnimation bool          `mapstructure:"idle_animation"`
	BlinkMinGap   time.Duration `mapstructure:"blink_min_gap"`
	BlinkMaxGap   time.Duration `mapstructure:"blink_max_gap"`
}

// LoggingConfig configures log output.
type LoggingConfig struct {
	Level   string `mapstructure:"level"`
	Console bool   `mapstructure:"console"`
}

// DefaultConfig returns sensible default configuration
func DefaultConfig() *Config {
	return &Config{
		Room: RoomConfig{
			ServerURL: "ws://localhost:7880",
			RoomName:  "vocalize",
			Transport: "livekit",
			Timeout:   30 * time.Second,
		},
		User: UserConfig{
			Name:    "",
			Persona: "",
		},
		Audio: AudioConfig{
			SampleRate: 48000,
			FFTSize:    1024,
			Interval:   50 * time.Millisecond,
			LowHz:      300,
			MidHz:      2000,
			HighHz:     8000,
		},
		Avatar: AvatarConfig{
			Asset:         "luna",
			FrameRate:     60,
			IdleAnimation: true,
			BlinkMinGap:   2 * time.Second,
			BlinkMaxGap:   5 * time.Second,
		},
		Logging: LoggingConfig{
			Level:   "info",
			Console: true,
		},
	}
}

// Load reads configuration from file and environment
func Load() (*Config, error) {
	cfg := DefaultConfig()

	configDir, err := Dir()
	if err != nil {
		return cfg, err
	}
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return cfg, err
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configDir)
	viper.AddConfigPath(".")

	viper.SetEnvPrefix("VOCALIZE")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return cfg, err
		}
		// Config file not found, use defaults and create one
		if err := Save(cfg); err != nil {
			return cfg, err
		}
	}

	if err := viper.Unmarshal(cfg); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// Watch reloads the configuration whenever the file changes on disk and
// invokes fn with the fresh values. Settings picked up this way apply to
// the next connect attempt; an active session is never reconfigured live.
func Watch(fn func(*Config)) {
	viper.OnConfigChange(func(e fsnotify.Event) {
		if e.Op&fsnotify.Write == 0 {
			return
		}
		cfg := DefaultConfig()
		if err := viper.Unmarshal(cfg); err != nil {
			return
		}
		fn(cfg)
	})
	viper.WatchConfig()
}

// Save writes the configuration to file
func Save(cfg *Config) error {
	configDir, err := Dir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return err
	}

	viper.Set("room", cfg.Room)
	viper.Set("user", cfg.User)
	viper.Set("audio", cfg.Audio)
	viper.Set("avatar", cfg.Avatar)
	viper.Set("logging", cfg.Logging)

	return viper.WriteConfigAs(filepath.Join(configDir, "config.yaml"))
}

// Dir returns the configuration directory path
func Dir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".vocalize"), nil
}
