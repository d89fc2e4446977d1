// Package config holds system-wide settings with three sources in
// increasing precedence: built-in defaults, a JSON file, environment
// variables.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Database *DatabaseConfig `json:"database"`
	HTTP     *HTTPConfig     `json:"http"`
	Room     *RoomConfig     `json:"room"`
	Auth     *AuthConfig     `json:"auth"`
}

type DatabaseConfig struct {
	Path    string        `json:"path"`
	Timeout time.Duration `json:"timeout"`
}

type HTTPConfig struct {
	Host         string        `json:"host"`
	Port         int           `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
}

// RoomConfig tunes the per-room session actors.
type RoomConfig struct {
	HistoryLimit  int           `json:"history_limit"`
	MaxConnsPerIP int           `json:"max_conns_per_ip"`
	RateWindow    time.Duration `json:"rate_window"`
	RateLimit     int           `json:"rate_limit"`
	FlushInterval time.Duration `json:"flush_interval"`
	PingInterval  time.Duration `json:"ping_interval"`
	PongTimeout   time.Duration `json:"pong_timeout"`
	IdleTTL       time.Duration `json:"idle_ttl"`
}

type AuthConfig struct {
	Secret   string        `json:"secret"`
	TokenTTL time.Duration `json:"token_ttl"`
}

func DefaultConfig() *Config {
	return &Config{
		Database: &DatabaseConfig{
			Path:    "./parley.db",
			Timeout: 30 * time.Second,
		},
		HTTP: &HTTPConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Room: &RoomConfig{
			HistoryLimit:  100,
			MaxConnsPerIP: 20,
			RateWindow:    60 * time.Second,
			RateLimit:     10,
			FlushInterval: 100 * time.Millisecond,
			PingInterval:  30 * time.Second,
			PongTimeout:   10 * time.Second,
			IdleTTL:       5 * time.Minute,
		},
		Auth: &AuthConfig{
			TokenTTL: 24 * time.Hour,
		},
	}
}

func (c *Config) Validate() error {
	if c.Database == nil {
		return fmt.Errorf("database configuration is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database path cannot be empty")
	}
	if c.Database.Timeout <= 0 {
		return fmt.Errorf("database timeout must be positive")
	}

	if c.HTTP == nil {
		return fmt.Errorf("HTTP configuration is required")
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("HTTP port must be between 1 and 65535")
	}
	if c.HTTP.Host == "" {
		return fmt.Errorf("HTTP host cannot be empty")
	}
	if c.HTTP.ReadTimeout <= 0 || c.HTTP.WriteTimeout <= 0 {
		return fmt.Errorf("HTTP timeouts must be positive")
	}

	if c.Room == nil {
		return fmt.Errorf("room configuration is required")
	}
	if c.Room.HistoryLimit <= 0 {
		return fmt.Errorf("room history limit must be positive")
	}
	if c.Room.MaxConnsPerIP <= 0 {
		return fmt.Errorf("room per-IP connection cap must be positive")
	}
	if c.Room.RateLimit <= 0 || c.Room.RateWindow <= 0 {
		return fmt.Errorf("room rate limit and window must be positive")
	}
	if c.Room.FlushInterval <= 0 {
		return fmt.Errorf("room flush interval must be positive")
	}
	if c.Room.PingInterval <= 0 || c.Room.PongTimeout <= 0 {
		return fmt.Errorf("room ping interval and pong timeout must be positive")
	}
	if c.Room.IdleTTL <= 0 {
		return fmt.Errorf("room idle TTL must be positive")
	}

	if c.Auth == nil {
		return fmt.Errorf("auth configuration is required")
	}
	if c.Auth.Secret == "" {
		return fmt.Errorf("auth secret cannot be empty")
	}
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("auth token TTL must be positive")
	}

	return nil
}

// LoadFromEnv builds a config from defaults, then applies PARLEY_*
// environment overrides. Unparseable values keep the default.
func LoadFromEnv() *Config {
	return applyEnv(DefaultConfig())
}

// LoadWithPrecedence resolves config as file over defaults, then
// environment over both. An empty path skips the file layer.
func LoadWithPrecedence(path string) (*Config, error) {
	if path == "" {
		return LoadFromEnv(), nil
	}
	config, err := LoadFromFile(path)
	if err != nil {
		return nil, err
	}
	return applyEnv(config), nil
}

func applyEnv(config *Config) *Config {
	if path := os.Getenv("PARLEY_DATABASE_PATH"); path != "" {
		config.Database.Path = path
	}
	setDuration(&config.Database.Timeout, "PARLEY_DATABASE_TIMEOUT")

	if host := os.Getenv("PARLEY_HTTP_HOST"); host != "" {
		config.HTTP.Host = host
	}
	setInt(&config.HTTP.Port, "PARLEY_HTTP_PORT")
	setDuration(&config.HTTP.ReadTimeout, "PARLEY_HTTP_READ_TIMEOUT")
	setDuration(&config.HTTP.WriteTimeout, "PARLEY_HTTP_WRITE_TIMEOUT")

	setInt(&config.Room.HistoryLimit, "PARLEY_ROOM_HISTORY_LIMIT")
	setInt(&config.Room.MaxConnsPerIP, "PARLEY_ROOM_MAX_CONNS_PER_IP")
	setDuration(&config.Room.RateWindow, "PARLEY_ROOM_RATE_WINDOW")
	setInt(&config.Room.RateLimit, "PARLEY_ROOM_RATE_LIMIT")
	setDuration(&config.Room.FlushInterval, "PARLEY_ROOM_FLUSH_INTERVAL")
	setDuration(&config.Room.PingInterval, "PARLEY_ROOM_PING_INTERVAL")
	setDuration(&config.Room.PongTimeout, "PARLEY_ROOM_PONG_TIMEOUT")
	setDuration(&config.Room.IdleTTL, "PARLEY_ROOM_IDLE_TTL")

	if secret := os.Getenv("PARLEY_AUTH_SECRET"); secret != "" {
		config.Auth.Secret = secret
	}
	setDuration(&config.Auth.TokenTTL, "PARLEY_AUTH_TOKEN_TTL")

	return config
}

func setInt(dst *int, key string) {
	if raw := os.Getenv(key); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			*dst = v
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if raw := os.Getenv(key); raw != "" {
		if v, err := time.ParseDuration(raw); err == nil {
			*dst = v
		}
	}
}

// configFile mirrors Config with durations as strings so files can say
// "30s" instead of nanosecond integers.
type configFile struct {
	Database *struct {
		Path    string `json:"path"`
		Timeout string `json:"timeout"`
	} `json:"database"`
	HTTP *struct {
		Host         string `json:"host"`
		Port         int    `json:"port"`
		ReadTimeout  string `json:"read_timeout"`
		WriteTimeout string `json:"write_timeout"`
	} `json:"http"`
	Room *struct {
		HistoryLimit  int    `json:"history_limit"`
		MaxConnsPerIP int    `json:"max_conns_per_ip"`
		RateWindow    string `json:"rate_window"`
		RateLimit     int    `json:"rate_limit"`
		FlushInterval string `json:"flush_interval"`
		PingInterval  string `json:"ping_interval"`
		PongTimeout   string `json:"pong_timeout"`
		IdleTTL       string `json:"idle_ttl"`
	} `json:"room"`
	Auth *struct {
		Secret   string `json:"secret"`
		TokenTTL string `json:"token_ttl"`
	} `json:"auth"`
}

// LoadFromFile builds a config from defaults overridden by a JSON file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var file configFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	config := DefaultConfig()

	if file.Database != nil {
		if file.Database.Path != "" {
			config.Database.Path = file.Database.Path
		}
		if err := parseDuration(&config.Database.Timeout, file.Database.Timeout); err != nil {
			return nil, err
		}
	}

	if file.HTTP != nil {
		if file.HTTP.Host != "" {
			config.HTTP.Host = file.HTTP.Host
		}
		if file.HTTP.Port != 0 {
			config.HTTP.Port = file.HTTP.Port
		}
		if err := parseDuration(&config.HTTP.ReadTimeout, file.HTTP.ReadTimeout); err != nil {
			return nil, err
		}
		if err := parseDuration(&config.HTTP.WriteTimeout, file.HTTP.WriteTimeout); err != nil {
			return nil, err
		}
	}

	if file.Room != nil {
		if file.Room.HistoryLimit != 0 {
			config.Room.HistoryLimit = file.Room.HistoryLimit
		}
		if file.Room.MaxConnsPerIP != 0 {
			config.Room.MaxConnsPerIP = file.Room.MaxConnsPerIP
		}
		if file.Room.RateLimit != 0 {
			config.Room.RateLimit = file.Room.RateLimit
		}
		for _, pair := range []struct {
			dst *time.Duration
			raw string
		}{
			{&config.Room.RateWindow, file.Room.RateWindow},
			{&config.Room.FlushInterval, file.Room.FlushInterval},
			{&config.Room.PingInterval, file.Room.PingInterval},
			{&config.Room.PongTimeout, file.Room.PongTimeout},
			{&config.Room.IdleTTL, file.Room.IdleTTL},
		} {
			if err := parseDuration(pair.dst, pair.raw); err != nil {
				return nil, err
			}
		}
	}

	if file.Auth != nil {
		if file.Auth.Secret != "" {
			config.Auth.Secret = file.Auth.Secret
		}
		if err := parseDuration(&config.Auth.TokenTTL, file.Auth.TokenTTL); err != nil {
			return nil, err
		}
	}

	return config, nil
}

func parseDuration(dst *time.Duration, raw string) error {
	if raw == "" {
		return nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*dst = v
	return nil
}
