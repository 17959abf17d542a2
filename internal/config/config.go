// Package config loads the service configuration from a YAML file with
// environment variable overrides for deployment-specific values.
package config

import (
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Bus        BusConfig        `yaml:"bus"`
	Ingest     IngestConfig     `yaml:"ingest"`
	Enrich     EnrichConfig     `yaml:"enrich"`
	Rent       RentConfig       `yaml:"rent"`
	Underwrite UnderwriteConfig `yaml:"underwrite"`
	Gateway    GatewayConfig    `yaml:"gateway"`
	Features   FeaturesConfig   `yaml:"features"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type ServerConfig struct {
	Port            string        `yaml:"port"`
	Env             string        `yaml:"env"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type DatabaseConfig struct {
	DSN          string `yaml:"dsn"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type BusConfig struct {
	Workers    int `yaml:"workers"`
	MaxRetries int `yaml:"max_retries"`
}

type IngestConfig struct {
	Source       string        `yaml:"source"`
	PollInterval time.Duration `yaml:"poll_interval"`
	PageSize     int           `yaml:"page_size"`
}

type EnrichConfig struct {
	DebounceWindow time.Duration `yaml:"debounce_window"`
}

type RentConfig struct {
	DebounceWindow   time.Duration `yaml:"debounce_window"`
	EstimatorVersion string        `yaml:"estimator_version"`
	MinComps         int           `yaml:"min_comps"`
	MaxDistanceKm    float64       `yaml:"max_distance_km"`
	MaxAgeDays       int           `yaml:"max_age_days"`
}

type UnderwriteConfig struct {
	DownPctMin       float64 `yaml:"down_pct_min"`
	DownPctMax       float64 `yaml:"down_pct_max"`
	DownPctStep      float64 `yaml:"down_pct_step"`
	RateBpsMin       int     `yaml:"rate_bps_min"`
	RateBpsMax       int     `yaml:"rate_bps_max"`
	RateBpsStep      int     `yaml:"rate_bps_step"`
	AmortMonths      []int   `yaml:"amort_months"`
	InsuranceMonthly float64 `yaml:"insurance_monthly"`
}

type GatewayConfig struct {
	CacheTTL        time.Duration `yaml:"cache_ttl"`
	RateLimit       int           `yaml:"rate_limit"`
	RateLimitWindow time.Duration `yaml:"rate_limit_window"`
	AuthSecret      string        `yaml:"auth_secret"`
	SlackWebhook    string        `yaml:"slack_webhook"`
}

type FeaturesConfig struct {
	AuthEnabled      bool `yaml:"auth_enabled"`
	RateLimitEnabled bool `yaml:"rate_limit_enabled"`
	RetrySweep       bool `yaml:"retry_sweep"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// Load reads the YAML file at path (when it exists), fills defaults and
// applies environment overrides. A missing file is not an error; the
// defaults plus environment are enough to run.
func Load(path string) (*Config, error) {
	cfg := defaults()
	if path != "" {
		f, err := os.Open(path)
		if err == nil {
			defer f.Close()
			if err := yaml.NewDecoder(f).Decode(cfg); err != nil {
				return nil, err
			}
		} else if !os.IsNotExist(err) {
			return nil, err
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Server:   ServerConfig{Port: "8080", Env: "development", ShutdownTimeout: 30 * time.Second},
		Database: DatabaseConfig{MaxOpenConns: 20, MaxIdleConns: 10},
		Bus:      BusConfig{Workers: 4, MaxRetries: 3},
		Ingest:   IngestConfig{Source: "mock", PollInterval: time.Minute, PageSize: 100},
		Enrich:   EnrichConfig{DebounceWindow: 60 * time.Second},
		Rent: RentConfig{
			DebounceWindow:   30 * time.Second,
			EstimatorVersion: "v1",
			MinComps:         3,
			MaxDistanceKm:    2.0,
			MaxAgeDays:       120,
		},
		Underwrite: UnderwriteConfig{
			DownPctMin:       0.05,
			DownPctMax:       0.35,
			DownPctStep:      0.01,
			RateBpsMin:       300,
			RateBpsMax:       800,
			RateBpsStep:      5,
			AmortMonths:      []int{240, 300, 360},
			InsuranceMonthly: 100,
		},
		Gateway:  GatewayConfig{CacheTTL: 30 * time.Second, RateLimit: 60, RateLimitWindow: time.Minute},
		Features: FeaturesConfig{RetrySweep: true},
		Logging:  LoggingConfig{Level: "info"},
	}
}

func (c *Config) applyEnv() {
	setString(&c.Server.Port, "PORT")
	setString(&c.Server.Env, "APP_ENV")
	setString(&c.Database.DSN, "DATABASE_URL")
	setString(&c.Redis.Addr, "REDIS_ADDR")
	setString(&c.Redis.Password, "REDIS_PASSWORD")
	setInt(&c.Redis.DB, "REDIS_DB")
	setString(&c.Ingest.Source, "INGEST_SOURCE")
	setString(&c.Gateway.AuthSecret, "GATEWAY_AUTH_SECRET")
	setString(&c.Gateway.SlackWebhook, "SLACK_WEBHOOK_URL")
	setString(&c.Logging.Level, "LOG_LEVEL")
	setBool(&c.Logging.Pretty, "LOG_PRETTY")
	setBool(&c.Features.AuthEnabled, "AUTH_ENABLED")
	setBool(&c.Features.RateLimitEnabled, "RATE_LIMIT_ENABLED")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}
