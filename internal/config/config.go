// Package config loads engine configuration from an optional YAML file with
// environment variable overrides applied on top.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joeshaw/envdecode"
	"gopkg.in/yaml.v3"
)

// Config is the full engine configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	Token   TokenConfig   `yaml:"token"`
	Engine  EngineConfig  `yaml:"engine"`
	Crank   CrankConfig   `yaml:"crank"`
	Events  EventsConfig  `yaml:"events"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host      string  `yaml:"host" env:"REMIT_SERVER_HOST"`
	Port      int     `yaml:"port" env:"REMIT_SERVER_PORT"`
	JWTSecret string  `yaml:"jwt_secret" env:"REMIT_JWT_SECRET"`
	RateLimit float64 `yaml:"rate_limit" env:"REMIT_RATE_LIMIT"`
	RateBurst int     `yaml:"rate_burst" env:"REMIT_RATE_BURST"`
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	// Driver is "memory" or "postgres".
	Driver      string `yaml:"driver" env:"REMIT_STORAGE_DRIVER"`
	PostgresDSN string `yaml:"postgres_dsn" env:"REMIT_POSTGRES_DSN"`
}

// TokenConfig configures the external token service bridge. An empty URL
// selects the in-process simulator.
type TokenConfig struct {
	BridgeURL string `yaml:"bridge_url" env:"REMIT_TOKEN_BRIDGE_URL"`
	APIKey    string `yaml:"api_key" env:"REMIT_TOKEN_BRIDGE_KEY"`
}

// EngineConfig seeds the policy record and the engine identity.
type EngineConfig struct {
	Owner    string   `yaml:"owner" env:"REMIT_OWNER"`
	Treasury string   `yaml:"treasury" env:"REMIT_TREASURY"`
	Self     string   `yaml:"self" env:"REMIT_SELF_ADDRESS"`
	Tokens   []string `yaml:"tokens" env:"REMIT_TOKENS"`
	FeeBps   uint32   `yaml:"fee_bps" env:"REMIT_FEE_BPS"`
}

// CrankConfig configures the in-process auto-payment worker.
type CrankConfig struct {
	Enabled  bool   `yaml:"enabled" env:"REMIT_CRANK_ENABLED"`
	Schedule string `yaml:"schedule" env:"REMIT_CRANK_SCHEDULE"`
}

// EventsConfig configures the event trail.
type EventsConfig struct {
	File   string `yaml:"file" env:"REMIT_EVENTS_FILE"`
	Buffer int    `yaml:"buffer" env:"REMIT_EVENTS_BUFFER"`
}

// LoggingConfig configures log output.
type LoggingConfig struct {
	Level  string `yaml:"level" env:"REMIT_LOG_LEVEL"`
	Format string `yaml:"format" env:"REMIT_LOG_FORMAT"`
}

// Default returns the configuration used when nothing is specified.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Host:      "0.0.0.0",
			Port:      8080,
			RateLimit: 50,
			RateBurst: 100,
		},
		Storage: StorageConfig{Driver: "memory"},
		Engine: EngineConfig{
			Self:   "remit-engine",
			FeeBps: 50,
		},
		Crank: CrankConfig{
			Enabled:  false,
			Schedule: "@every 1m",
		},
		Events:  EventsConfig{Buffer: 200},
		Logging: LoggingConfig{Level: "info", Format: "json"},
	}
}

// Load reads the YAML file at path (skipped when path is empty or missing)
// and then applies environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return Config{}, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	// envdecode errors out when no field has a matching variable set; strict
	// decoding is opt-in per deployment, so treat that as no overrides.
	if err := envdecode.Decode(&cfg); err != nil && err != envdecode.ErrNoTargetFieldsAreSet {
		return Config{}, fmt.Errorf("decode env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations the engine cannot start with.
func (c Config) Validate() error {
	switch strings.ToLower(c.Storage.Driver) {
	case "memory":
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			return fmt.Errorf("storage driver postgres requires postgres_dsn")
		}
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if c.Engine.Owner == "" || c.Engine.Treasury == "" {
		return fmt.Errorf("engine owner and treasury are required")
	}
	return nil
}

// Addr returns the host:port the HTTP server binds.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
