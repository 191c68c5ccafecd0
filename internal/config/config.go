// Package config loads service configuration from a YAML file with
// environment variable overrides.
package config

import (
	"fmt"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

const (
	GateMemory   = "memory"
	GatePostgres = "postgres"
	GateRedis    = "redis"
)

type Listen struct {
	BindIP string `yaml:"bind_ip" env:"LISTEN_BIND_IP" env-default:"0.0.0.0"`
	Port   string `yaml:"port" env:"PORT" env-default:"8080"`
}

type Postgres struct {
	Host            string        `yaml:"host" env:"DB_HOST" env-default:"localhost"`
	Port            string        `yaml:"port" env:"DB_PORT" env-default:"5432"`
	User            string        `yaml:"user" env:"DB_USER" env-default:"postgres"`
	Password        string        `yaml:"password" env:"DB_PASSWORD" env-default:"postgres"`
	DBName          string        `yaml:"dbname" env:"DB_NAME" env-default:"raceadmission"`
	SSLMode         string        `yaml:"sslmode" env:"DB_SSLMODE" env-default:"disable"`
	MaxConns        int32         `yaml:"max_conns" env-default:"20"`
	MinConns        int32         `yaml:"min_conns" env-default:"2"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime" env-default:"30m"`
	MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time" env-default:"5m"`
}

// DSN builds a libpq-compatible connection string.
func (p Postgres) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.DBName, p.SSLMode,
	)
}

type Redis struct {
	Addr     string `yaml:"addr" env:"REDIS_ADDR" env-default:"localhost:6379"`
	Password string `yaml:"password" env:"REDIS_PASSWORD" env-default:""`
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
}

// Gate selects the admission lock backend. Timeout 0 waits without bound.
type Gate struct {
	Backend       string        `yaml:"backend" env:"GATE_BACKEND" env-default:"memory"`
	Timeout       time.Duration `yaml:"timeout" env:"GATE_TIMEOUT" env-default:"0s"`
	LeaseTTL      time.Duration `yaml:"lease_ttl" env-default:"10s"`
	RetryInterval time.Duration `yaml:"retry_interval" env-default:"25ms"`
	// PoolSize caps the postgres backend's own pool, one connection per
	// distance being decided at once.
	PoolSize      int32         `yaml:"pool_size" env-default:"4"`
}

// Currency holds ISO 4217 codes for the local and secondary currencies and
// the locale used to display amounts.
type Currency struct {
	Local     string `yaml:"local" env-default:"HUF"`
	Secondary string `yaml:"secondary" env-default:"EUR"`
	Locale    string `yaml:"locale" env-default:"hu"`
}

type Config struct {
	Env      string   `yaml:"env" env:"ENV" env-default:"local"`
	LogPath  string   `yaml:"log_path" env:"LOG_PATH" env-default:"/var/log/"`
	Listen   Listen   `yaml:"listen"`
	Postgres Postgres `yaml:"postgres"`
	Redis    Redis    `yaml:"redis"`
	Gate     Gate     `yaml:"gate"`
	Currency Currency `yaml:"currency"`
}

// Load reads the YAML file at path and applies environment overrides.
func Load(path string) (*Config, error) {
	conf := &Config{}
	if err := cleanenv.ReadConfig(path, conf); err != nil {
		desc, _ := cleanenv.GetDescription(conf, nil)
		return nil, fmt.Errorf("config: %w; %s", err, desc)
	}
	if err := conf.validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return conf, nil
}

// LoadEnv builds the configuration from environment variables only.
func LoadEnv() (*Config, error) {
	conf := &Config{}
	if err := cleanenv.ReadEnv(conf); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := conf.validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return conf, nil
}

func (c *Config) validate() error {
	switch c.Gate.Backend {
	case GateMemory, GatePostgres, GateRedis:
	default:
		return fmt.Errorf("unknown gate backend %q", c.Gate.Backend)
	}
	if c.Gate.Timeout < 0 {
		return fmt.Errorf("gate timeout must not be negative")
	}
	if c.Gate.Backend == GatePostgres && c.Gate.PoolSize < 1 {
		return fmt.Errorf("gate pool_size must be positive for the postgres backend")
	}
	if c.Gate.Backend == GateRedis && c.Gate.LeaseTTL <= 0 {
		return fmt.Errorf("gate lease_ttl must be positive for the redis backend")
	}
	return nil
}
