/*
config.go - Server configuration

PURPOSE:
  One Config struct for the whole process, loaded from an optional YAML file
  and then overridden by POINTS_* environment variables.

SOURCES (later wins):
  1. Defaults (applyDefaults)
  2. YAML file passed with --config
  3. Environment: POINTS_<SECTION>_<FIELD>
       POINTS_SERVER_PORT=9090          -> server.port
       POINTS_STORE_DRIVER=mongo        -> store.driver
       POINTS_LEDGER_MAX_RETRIES=5      -> ledger.max_retries
     The first underscore after the prefix separates section and field.

EXAMPLE FILE:
  server:
    port: 8080
    allowed_origins: ["http://localhost:5173"]
  store:
    driver: sqlite
    sqlite_path: ./data/points.db
  events:
    nats_url: nats://localhost:4222
  log:
    level: info
    format: json
*/
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"

	"github.com/warp/points-ledger/logging"
)

// EnvPrefix is the prefix of every environment override.
const EnvPrefix = "POINTS_"

const maxConfigFileSize = 1024 * 1024 // 1MB

type Config struct {
	Server ServerConfig   `koanf:"server"`
	Store  StoreConfig    `koanf:"store"`
	Ledger LedgerConfig   `koanf:"ledger"`
	Events EventsConfig   `koanf:"events"`
	Log    logging.Config `koanf:"log"`
}

type ServerConfig struct {
	Port           int      `koanf:"port"`
	AllowedOrigins []string `koanf:"allowed_origins"`
}

type StoreConfig struct {
	Driver        string `koanf:"driver"` // sqlite, mongo, memory
	SQLitePath    string `koanf:"sqlite_path"`
	MongoURI      string `koanf:"mongo_uri"`
	MongoDatabase string `koanf:"mongo_database"`
}

type LedgerConfig struct {
	MaxRetries   int  `koanf:"max_retries"`
	PersistRanks bool `koanf:"persist_ranks"`
}

// EventsConfig configures decision-event publishing. An empty NATSURL
// disables it.
type EventsConfig struct {
	NATSURL       string `koanf:"nats_url"`
	SubjectPrefix string `koanf:"subject_prefix"`
}

// Load reads path (if non-empty) and then the environment.
func Load(path string) (*Config, error) {
	var content []byte
	if path != "" {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}
		if info.Size() > maxConfigFileSize {
			return nil, fmt.Errorf("config file %s is larger than %d bytes", path, maxConfigFileSize)
		}
		content, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}
	return Parse(content)
}

// Parse loads YAML content (may be empty) and then the environment.
func Parse(content []byte) (*Config, error) {
	k := koanf.New(".")

	if len(content) > 0 {
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := Config{Ledger: LedgerConfig{MaxRetries: 3}}
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// envKey maps POINTS_STORE_SQLITE_PATH to store.sqlite_path.
func envKey(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	parts := strings.SplitN(lower, "_", 2)
	if len(parts) == 1 {
		return lower
	}
	return parts[0] + "." + parts[1]
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if len(cfg.Server.AllowedOrigins) == 0 {
		cfg.Server.AllowedOrigins = []string{"http://localhost:5173", "http://localhost:8080"}
	}
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = "sqlite"
	}
	if cfg.Store.SQLitePath == "" {
		cfg.Store.SQLitePath = "points.db"
	}
	if cfg.Store.MongoDatabase == "" {
		cfg.Store.MongoDatabase = "points"
	}
	if cfg.Events.SubjectPrefix == "" {
		cfg.Events.SubjectPrefix = "points.decisions"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
}

// Validate checks the loaded configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	switch c.Store.Driver {
	case "sqlite", "memory":
	case "mongo":
		if c.Store.MongoURI == "" {
			return fmt.Errorf("store.mongo_uri is required for the mongo driver")
		}
	default:
		return fmt.Errorf("store.driver: unknown driver %q", c.Store.Driver)
	}
	if c.Ledger.MaxRetries < 0 {
		return fmt.Errorf("ledger.max_retries must not be negative")
	}
	return c.Log.Validate()
}
