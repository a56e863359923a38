package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	LogLevel          string `env:"LOG_LEVEL" envDefault:"info"`
	LogFile           string `env:"LOG_FILE"`
	LogFileMaxSizeMB  int    `env:"LOG_FILE_MAX_SIZE_MB" envDefault:"50"`
	LogFileMaxAgeDays int    `env:"LOG_FILE_MAX_AGE_DAYS" envDefault:"30"`

	FuelAPIURL           string        `env:"FUEL_API_URL,required,notEmpty"`
	FuelAPIUsername      string        `env:"FUEL_API_USERNAME"`
	FuelAPIPassword      string        `env:"FUEL_API_PASSWORD"`
	FuelFleetList        string        `env:"FUEL_FLEET_LIST"`
	FuelInvoiceType      string        `env:"FUEL_INVOICE_TYPE" envDefault:"STANDART_10GUN"`
	FuelAPITimeout       time.Duration `env:"FUEL_API_TIMEOUT" envDefault:"30s"`
	FuelAPILookback      time.Duration `env:"FUEL_API_LOOKBACK" envDefault:"24h"`
	FuelAPIRatePerMinute int           `env:"FUEL_API_RATE_PER_MINUTE" envDefault:"6"`

	PostgresURL string `env:"POSTGRES_URL,required,notEmpty"`
	RedisAddr   string `env:"REDIS_ADDR"` // redis URL; empty disables the run lock and failure stream

	RunInterval         time.Duration `env:"RUN_INTERVAL" envDefault:"1m"`
	RunLockTTL          time.Duration `env:"RUN_LOCK_TTL" envDefault:"5m"`
	PersistTimeout      time.Duration `env:"PERSIST_TIMEOUT" envDefault:"2m"`
	ConsolidationWindow time.Duration `env:"CONSOLIDATION_WINDOW" envDefault:"10m"`
	ConsolidationPolicy string        `env:"CONSOLIDATION_POLICY" envDefault:"anchor"`
	DedupLookupTimeout  time.Duration `env:"DEDUP_LOOKUP_TIMEOUT" envDefault:"10s"`
	ProcessedIDCacheTTL time.Duration `env:"PROCESSED_ID_CACHE_TTL" envDefault:"10m"`

	JournalDir         string `env:"JOURNAL_DIR" envDefault:"./data/journal"`
	JournalSegmentSize int64  `env:"JOURNAL_SEGMENT_SIZE_BYTES" envDefault:"10485760"`   // 10MB
	JournalMaxDiskSize int64  `env:"JOURNAL_MAX_DISK_SIZE_BYTES" envDefault:"104857600"` // 100MB

	OpsServerAddr string `env:"OPS_SERVER_ADDR" envDefault:":9091"`
	OpsAPIKey     string `env:"OPS_API_KEY"` // empty disables POST /runs/trigger
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	// Attempt to load .env file for local development.
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values the importer cannot run with.
func (c *Config) Validate() error {
	var errs []error
	positive := map[string]time.Duration{
		"RUN_INTERVAL":         c.RunInterval,
		"RUN_LOCK_TTL":         c.RunLockTTL,
		"PERSIST_TIMEOUT":      c.PersistTimeout,
		"CONSOLIDATION_WINDOW": c.ConsolidationWindow,
		"DEDUP_LOOKUP_TIMEOUT": c.DedupLookupTimeout,
		"FUEL_API_TIMEOUT":     c.FuelAPITimeout,
		"FUEL_API_LOOKBACK":    c.FuelAPILookback,
	}
	for name, d := range positive {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", name, d))
		}
	}

	switch strings.ToLower(strings.TrimSpace(c.ConsolidationPolicy)) {
	case "", "anchor", "bucket":
	default:
		errs = append(errs, fmt.Errorf("CONSOLIDATION_POLICY must be anchor or bucket, got %q", c.ConsolidationPolicy))
	}

	if c.JournalSegmentSize <= 0 {
		errs = append(errs, errors.New("JOURNAL_SEGMENT_SIZE_BYTES must be positive"))
	}
	if c.JournalMaxDiskSize < c.JournalSegmentSize {
		errs = append(errs, errors.New("JOURNAL_MAX_DISK_SIZE_BYTES must not be smaller than JOURNAL_SEGMENT_SIZE_BYTES"))
	}
	if c.FuelAPIRatePerMinute < 0 {
		errs = append(errs, errors.New("FUEL_API_RATE_PER_MINUTE must not be negative"))
	}
	return errors.Join(errs...)
}
