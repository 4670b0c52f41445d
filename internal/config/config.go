package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Redis    RedisConfig    `yaml:"redis"`
	Postgres PostgresConfig `yaml:"postgres"`
	Rabbit   RabbitConfig   `yaml:"rabbit"`
	Engine   EngineConfig   `yaml:"engine"`
	Scoring  ScoringConfig  `yaml:"scoring"`
	PIN      PINConfig      `yaml:"pin"`
	Log      LogConfig      `yaml:"log"`
}

type ServerConfig struct {
	Port            string `yaml:"port" env:"PORT"`
	ShutdownTimeout string `yaml:"shutdownTimeout" env:"SHUTDOWN_TIMEOUT"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr" env:"REDIS_ADDR"`
	Password string `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"REDIS_DB"`
	TTL      string `yaml:"ttl" env:"REDIS_TTL"`
}

type PostgresConfig struct {
	URL string `yaml:"url" env:"POSTGRES_URL"`
}

type RabbitConfig struct {
	URL      string `yaml:"url" env:"RABBIT_URL"`
	Exchange string `yaml:"exchange" env:"RABBIT_EXCHANGE"`
}

type EngineConfig struct {
	StorageTimeout      string `yaml:"storageTimeout" env:"ENGINE_STORAGE_TIMEOUT"`
	QueueSize           int    `yaml:"queueSize" env:"ENGINE_QUEUE_SIZE"`
	DefaultTimerSeconds int    `yaml:"defaultTimerSeconds" env:"ENGINE_DEFAULT_TIMER_SECONDS"`
	TimeUnit            string `yaml:"timeUnit" env:"ENGINE_TIME_UNIT"`
	IdleTimeout         string `yaml:"idleTimeout" env:"ENGINE_IDLE_TIMEOUT"`
}

// ScoringConfig leaves fields at zero to keep the engine defaults.
type ScoringConfig struct {
	BasePoints      int `yaml:"basePoints" env:"SCORING_BASE_POINTS"`
	SpeedBonusMax   int `yaml:"speedBonusMax" env:"SCORING_SPEED_BONUS_MAX"`
	StreakThreshold int `yaml:"streakThreshold" env:"SCORING_STREAK_THRESHOLD"`
	StreakBonus     int `yaml:"streakBonus" env:"SCORING_STREAK_BONUS"`
}

type PINConfig struct {
	CacheTTL string `yaml:"cacheTTL" env:"PIN_CACHE_TTL"`
}

type LogConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL"`
	Format string `yaml:"format" env:"LOG_FORMAT"`
}

// Load reads YAML config from path and applies environment overrides. A
// missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return cfg, err
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("env overrides: %w", err)
	}
	return cfg, nil
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
