// Package config loads the indexer configuration from YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"solana-curve-indexer/internal/domain"
	"solana-curve-indexer/internal/solana"
)

// Config holds the configuration for the indexer.
type Config struct {
	RPC        RPCConfig        `yaml:"rpc"`
	Ingestion  IngestionConfig  `yaml:"ingestion"`
	Storage    StorageConfig    `yaml:"storage"`
	ClickHouse ClickHouseConfig `yaml:"clickhouse"`
	Redis      RedisConfig      `yaml:"redis"`
	Curve      CurveConfig      `yaml:"curve"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// RPCConfig holds Solana node settings.
type RPCConfig struct {
	URL        string        `yaml:"url"`
	WSURL      string        `yaml:"ws_url"` // empty: poll getSlot instead of subscribing
	Commitment string        `yaml:"commitment"` // finalized unless confirmed/processed is opted into
	Timeout    time.Duration `yaml:"timeout"`
}

// IngestionConfig holds fetch and orchestration settings.
type IngestionConfig struct {
	GenesisSlot         uint64        `yaml:"genesis_slot"`
	FetchConcurrency    int           `yaml:"fetch_concurrency"`
	BackfillWindow      uint64        `yaml:"backfill_window"`
	BackfillGapRetries  int           `yaml:"backfill_gap_retries"`
	GapRetryInterval    time.Duration `yaml:"gap_retry_interval"`
	LiveFetchMaxElapsed time.Duration `yaml:"live_fetch_max_elapsed"`
	CommitRetries       int           `yaml:"commit_retries"`
	PollInterval        time.Duration `yaml:"poll_interval"`
	Venues              []string      `yaml:"venues"` // empty: every venue
}

// StorageConfig selects the primary store.
type StorageConfig struct {
	Driver       string        `yaml:"driver"` // postgres | memory
	PostgresDSN  string        `yaml:"postgres_dsn"`
	MaxConns     int32         `yaml:"max_conns"`
	ConnLifetime time.Duration `yaml:"conn_lifetime"`
}

// ClickHouseConfig enables the analytics archive when DSN is set.
type ClickHouseConfig struct {
	DSN         string `yaml:"dsn"`
	ExportChunk uint64 `yaml:"export_chunk"`
}

// RedisConfig enables the curve cache when Addr is set.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	Prefix   string        `yaml:"prefix"`
	Channel  string        `yaml:"channel"`
	TTL      time.Duration `yaml:"ttl"`
}

// CurveConfig overrides bonding-curve constants. Zero fields keep defaults.
type CurveConfig struct {
	TotalSupply                 uint64 `yaml:"total_supply"`
	InitialVirtualTokenReserves uint64 `yaml:"initial_virtual_token_reserves"`
	InitialVirtualSolReserves   uint64 `yaml:"initial_virtual_sol_reserves"`
	InitialRealTokenReserves    uint64 `yaml:"initial_real_token_reserves"`
}

// MetricsConfig holds the metrics/health HTTP server settings.
type MetricsConfig struct {
	Addr      string `yaml:"addr"` // empty disables the server
	Namespace string `yaml:"namespace"`
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"` // console | json
	File       string `yaml:"file"`   // empty logs to stderr only
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// Default returns the configuration used for fields the file leaves unset.
func Default() *Config {
	return &Config{
		RPC: RPCConfig{
			Commitment: solana.CommitmentFinalized,
			Timeout:    30 * time.Second,
		},
		Ingestion: IngestionConfig{
			FetchConcurrency:    8,
			BackfillWindow:      100,
			BackfillGapRetries:  3,
			GapRetryInterval:    500 * time.Millisecond,
			LiveFetchMaxElapsed: 30 * time.Second,
			CommitRetries:       3,
			PollInterval:        400 * time.Millisecond,
		},
		Storage: StorageConfig{
			Driver:       "postgres",
			MaxConns:     10,
			ConnLifetime: time.Hour,
		},
		ClickHouse: ClickHouseConfig{
			ExportChunk: 1000,
		},
		Redis: RedisConfig{
			Prefix: "curve:",
		},
		Metrics: MetricsConfig{
			Addr:      ":9090",
			Namespace: "solana_curve_indexer",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 30,
		},
	}
}

// Load reads path, expands ${VAR} and ${VAR:-default} references from the
// environment, applies defaults and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML bytes the same way Load does.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal([]byte(expandEnv(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-([^}]*))?\}`)

func expandEnv(s string) string {
	return envRef.ReplaceAllStringFunc(s, func(ref string) string {
		m := envRef.FindStringSubmatch(ref)
		if v, ok := os.LookupEnv(m[1]); ok && v != "" {
			return v
		}
		return m[2]
	})
}

// Validate checks required fields and ranges.
func (c *Config) Validate() error {
	var errs []error

	if c.RPC.URL == "" {
		errs = append(errs, errors.New("rpc.url is required"))
	}
	switch c.RPC.Commitment {
	case solana.CommitmentProcessed, solana.CommitmentConfirmed, solana.CommitmentFinalized:
	default:
		errs = append(errs, fmt.Errorf("rpc.commitment: unknown value %q", c.RPC.Commitment))
	}

	in := c.Ingestion
	if in.FetchConcurrency < 1 {
		errs = append(errs, errors.New("ingestion.fetch_concurrency must be >= 1"))
	}
	if in.BackfillWindow < 1 {
		errs = append(errs, errors.New("ingestion.backfill_window must be >= 1"))
	}
	if in.BackfillGapRetries < 0 || in.CommitRetries < 0 {
		errs = append(errs, errors.New("ingestion retries must be >= 0"))
	}
	if _, err := c.Venues(); err != nil {
		errs = append(errs, fmt.Errorf("ingestion.venues: %w", err))
	}

	switch c.Storage.Driver {
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			errs = append(errs, errors.New("storage.postgres_dsn is required for the postgres driver"))
		}
		if c.Storage.MaxConns < 0 {
			errs = append(errs, errors.New("storage.max_conns must be >= 0"))
		}
	case "memory":
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unknown value %q", c.Storage.Driver))
	}

	if _, err := zapcore.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, fmt.Errorf("logging.level: %w", err))
	}
	if f := strings.ToLower(c.Logging.Format); f != "json" && f != "console" {
		errs = append(errs, fmt.Errorf("logging.format: unknown value %q", c.Logging.Format))
	}

	return errors.Join(errs...)
}

// Venues parses the configured venue names. Empty means every venue.
func (c *Config) Venues() ([]domain.Venue, error) {
	venues := make([]domain.Venue, 0, len(c.Ingestion.Venues))
	for _, name := range c.Ingestion.Venues {
		v, err := domain.ParseVenue(name)
		if err != nil {
			return nil, err
		}
		venues = append(venues, v)
	}
	return venues, nil
}
