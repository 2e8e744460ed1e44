// Package daemon manages the control plane's process lifecycle and
// configuration.
package daemon

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config holds all daemon configuration.
type Config struct {
	Server    ServerConfig    `toml:"server"`
	Database  DatabaseConfig  `toml:"database"`
	Cache     CacheConfig     `toml:"cache"`
	Heartbeat HeartbeatConfig `toml:"heartbeat"`
	Capacity  CapacityConfig  `toml:"capacity"`
	Tokens    TokensConfig    `toml:"tokens"`
	Plans     PlansConfig     `toml:"plans"`
	Auth      AuthConfig      `toml:"auth"`
	Telemetry TelemetryConfig `toml:"telemetry"`
}

// ServerConfig controls the HTTP API server.
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// DatabaseConfig controls the SQLite store. Dir is the directory
// holding state.db (store.Open appends the filename itself).
type DatabaseConfig struct {
	Dir string `toml:"dir"`
}

// CacheConfig holds the settings for the shared ephemeral key/value store
// (C2). The daemon always uses the in-process TTL cache
// (internal/livenesscache); RedisEnabled and RedisAddr are loaded from
// the config file but not read, and no Redis connection is made.
type CacheConfig struct {
	RedisEnabled bool   `toml:"redis_enabled"`
	RedisAddr    string `toml:"redis_addr"`
}

// HeartbeatConfig controls the heartbeat/health engine (C3).
type HeartbeatConfig struct {
	TimeoutSeconds      int `toml:"timeout_seconds"`
	IdleTimeoutSeconds  int `toml:"idle_timeout_seconds"`
	CheckIntervalSeconds int `toml:"check_interval_seconds"`
}

// CapacityConfig controls the admission gate (C7).
type CapacityConfig struct {
	ReservedPct float64 `toml:"reserved_pct"`
}

// TokensConfig controls tunnel token minting (C5).
type TokensConfig struct {
	TTLSeconds int `toml:"ttl_seconds"`
}

// PlansConfig overrides the per-plan concurrency table (§4.7 defaults).
type PlansConfig struct {
	TrialMaxConcurrent      int `toml:"trial_max_concurrent"`
	ProMaxConcurrent        int `toml:"pro_max_concurrent"`
	EnterpriseMaxConcurrent int `toml:"enterprise_max_concurrent"`
}

// AuthConfig controls the authentication boundary.
type AuthConfig struct {
	JWTSecret      string `toml:"jwt_secret"`
	InternalAPIKey string `toml:"internal_api_key"`
}

// TelemetryConfig controls observability.
type TelemetryConfig struct {
	Prometheus bool `toml:"prometheus"`
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() Config {
	home := tunneldHome()
	return Config{
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 8080,
		},
		Database: DatabaseConfig{
			Dir: home,
		},
		Cache: CacheConfig{
			RedisEnabled: false,
		},
		Heartbeat: HeartbeatConfig{
			TimeoutSeconds:       30,
			IdleTimeoutSeconds:   900,
			CheckIntervalSeconds: 10,
		},
		Capacity: CapacityConfig{
			ReservedPct: 20,
		},
		Tokens: TokensConfig{
			TTLSeconds: 3600,
		},
		Plans: PlansConfig{
			TrialMaxConcurrent:      1,
			ProMaxConcurrent:        5,
			EnterpriseMaxConcurrent: 20,
		},
		Auth: AuthConfig{
			JWTSecret:      "",
			InternalAPIKey: "",
		},
		Telemetry: TelemetryConfig{
			Prometheus: false, // opt-in: expose /metrics
		},
	}
}

// LoadConfig reads config from $TUNNELD_HOME/config.toml, falling back
// to defaults when absent.
func LoadConfig() (Config, error) {
	cfg := DefaultConfig()
	path := filepath.Join(tunneldHome(), "config.toml")

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil // No config file yet — use defaults
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}

	return cfg, nil
}

// SaveConfig writes the config to $TUNNELD_HOME/config.toml.
func SaveConfig(cfg Config) error {
	path := filepath.Join(tunneldHome(), "config.toml")
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	encoder := toml.NewEncoder(f)
	return encoder.Encode(cfg)
}

// tunneldHome returns the control plane's data directory.
func tunneldHome() string {
	if env := os.Getenv("TUNNELD_HOME"); env != "" {
		return env
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".tunneld")
}

// TunneldHome is exported for use by other packages.
func TunneldHome() string {
	return tunneldHome()
}
