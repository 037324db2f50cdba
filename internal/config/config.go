package config

import (
	"errors"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
	Redis struct {
		Addr     string `yaml:"addr"`
		URL      string `yaml:"url"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	Events struct {
		// Backend is one of auto, memory, redis or postgres. auto prefers redis, then postgres.
		Backend string `yaml:"backend"`
	} `yaml:"events"`
	Bank struct {
		TTL string `yaml:"ttl"`
	} `yaml:"bank"`
	Challenge struct {
		PendingTimeout string `yaml:"pending_timeout"`
		ReadyTimeout   string `yaml:"ready_timeout"`
		StartGrace     string `yaml:"start_grace"`
		WriteRetries   int    `yaml:"write_retries"`
		MilestoneEvery int    `yaml:"milestone_every"`
	} `yaml:"challenge"`
	Reconcile struct {
		InitialInterval string `yaml:"initial_interval"`
		MaxInterval     string `yaml:"max_interval"`
		MaxElapsed      string `yaml:"max_elapsed"`
	} `yaml:"reconcile"`
	Generator struct {
		URL     string `yaml:"url"`
		Token   string `yaml:"token"`
		Timeout string `yaml:"timeout"`
	} `yaml:"generator"`
	Notify struct {
		// Provider is log or sendgrid.
		Provider       string `yaml:"provider"`
		SendgridAPIKey string `yaml:"sendgrid_api_key"`
		FromName       string `yaml:"from_name"`
		FromEmail      string `yaml:"from_email"`
		// AddressBook is config or postgres.
		AddressBook string             `yaml:"address_book"`
		Addresses   map[string]Address `yaml:"addresses"`
	} `yaml:"notify"`
	Sweeper struct {
		Enabled  bool   `yaml:"enabled"`
		Interval string `yaml:"interval"`
	} `yaml:"sweeper"`
}

type Address struct {
	Email string `yaml:"email"`
	Name  string `yaml:"name"`
}

// Load reads a .env file when present, then the YAML config at path, then applies
// environment overrides. A missing config file is not an error.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, err
	}

	cfg := Config{}
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return cfg, err
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	}
	applyEnv(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	override(&cfg.Log.Level, "LOG_LEVEL")
	override(&cfg.Postgres.URL, "DATABASE_URL")
	override(&cfg.Redis.URL, "REDIS_URL")
	override(&cfg.Redis.Addr, "REDIS_ADDR")
	override(&cfg.Redis.Password, "REDIS_PASSWORD")
	override(&cfg.Generator.URL, "GENERATOR_URL")
	override(&cfg.Generator.Token, "GENERATOR_TOKEN")
	override(&cfg.Notify.SendgridAPIKey, "SENDGRID_API_KEY")
	override(&cfg.Events.Backend, "EVENTS_BACKEND")
}

func override(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
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
