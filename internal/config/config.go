package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port            string `yaml:"port"`
		ShutdownTimeout string `yaml:"shutdown_timeout"`
	} `yaml:"server"`
	Log struct {
		Level       string `yaml:"level"`
		Development bool   `yaml:"development"`
	} `yaml:"log"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		TTL      string `yaml:"ttl"`
		Prefix   string `yaml:"prefix"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	Quiz struct {
		TTL string `yaml:"ttl"`
	} `yaml:"quiz"`
	Live struct {
		// Store selects the durable store and bus: "memory" or "redis".
		Store                string `yaml:"store"`
		GraceWindow          string `yaml:"grace_window"`
		SubmitMaxRetries     uint64 `yaml:"submit_max_retries"`
		SubmitInitialBackoff string `yaml:"submit_initial_backoff"`
		SubmitMaxBackoff     string `yaml:"submit_max_backoff"`
		AutoComplete         bool   `yaml:"auto_complete"`
	} `yaml:"live"`
	Events struct {
		Enabled bool `yaml:"enabled"`
		// Publisher is "gochannel" or "kafka".
		Publisher    string   `yaml:"publisher"`
		KafkaBrokers []string `yaml:"kafka_brokers"`
		Topic        string   `yaml:"topic"`
	} `yaml:"events"`
}

const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
)

// Load reads YAML config from path. A missing file yields the defaults. Values from a .env
// file and the environment override the file: REDIS_ADDR, REDIS_PASSWORD, DATABASE_URL,
// LOG_LEVEL, LIVE_STORE, KAFKA_BROKERS.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return cfg, err
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	applyEnv(&cfg)
	return cfg, cfg.Validate()
}

// LoadDotEnv loads a .env file into the process environment when one exists.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Postgres.URL = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LIVE_STORE"); v != "" {
		cfg.Live.Store = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.Events.KafkaBrokers = strings.Split(v, ",")
	}
}

// Validate rejects combinations the server cannot start with.
func (c Config) Validate() error {
	switch c.StoreKind() {
	case StoreMemory:
	case StoreRedis:
		if c.Redis.Addr == "" {
			return errors.New("live.store is redis but redis.addr is empty")
		}
	default:
		return fmt.Errorf("unknown live.store %q", c.Live.Store)
	}
	if c.Events.Enabled && c.Events.Publisher == "kafka" && len(c.Events.KafkaBrokers) == 0 {
		return errors.New("events.publisher is kafka but events.kafka_brokers is empty")
	}
	return nil
}

// StoreKind resolves live.store, defaulting to redis when an address is configured.
func (c Config) StoreKind() string {
	store := strings.ToLower(strings.TrimSpace(c.Live.Store))
	if store != "" {
		return store
	}
	if c.Redis.Addr != "" {
		return StoreRedis
	}
	return StoreMemory
}

// TTLDuration parses a duration string or returns the fallback if empty.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}
