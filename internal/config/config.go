// Package config loads job settings from environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds all job settings, populated from environment variables.
type Config struct {
	// Copernicus Climate Data Store access.
	CDSAPIURL       string        `env:"CDS_API_URL" envDefault:"https://cds.climate.copernicus.eu/api/v2"`
	CDSAPIKey       string        `env:"CDS_API_KEY"`
	CDSTimeout      time.Duration `env:"CDS_TIMEOUT" envDefault:"120s"`
	CDSPollInterval time.Duration `env:"CDS_POLL_INTERVAL" envDefault:"5s"`

	// Dataset selection.
	Dataset     string   `env:"CDS_DATASET" envDefault:"reanalysis-era5-single-levels-monthly-means"`
	ProductType string   `env:"CDS_PRODUCT_TYPE" envDefault:"monthly_averaged_reanalysis"`
	Variables   []string `env:"CDS_VARIABLES" envDefault:"2m_temperature,total_precipitation" envSeparator:","`
	YearStart   int      `env:"YEAR_START" envDefault:"2000"`
	YearEnd     int      `env:"YEAR_END" envDefault:"2023"`
	Months      []int    `env:"MONTHS" envDefault:"1,2,3,4,5,6,7,8,9,10,11,12" envSeparator:","`
	TimeOfDay   string   `env:"CDS_TIME" envDefault:"00:00"`

	// StartPeriod truncates the output: periods before it are dropped.
	// Format "2006-01"; empty keeps everything.
	StartPeriod string `env:"START_PERIOD"`

	// Boundary selection.
	NEResolution string   `env:"NE_RESOLUTION" envDefault:"110m"`
	CountryAttrs []string `env:"COUNTRY_ATTRS" envDefault:"NAME,ISO_A3" envSeparator:","`
	StateAttrs   []string `env:"STATE_ATTRS" envDefault:"name,admin" envSeparator:","`

	// Aggregation.
	Workers       int     `env:"WORKERS" envDefault:"4"`
	SnapTolerance float64 `env:"SNAP_TOLERANCE" envDefault:"1.0"`

	// Output.
	OutputDir string `env:"OUTPUT_DIR" envDefault:"out"`

	HTTPAddr        string        `env:"HTTP_ADDR" envDefault:":8080"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat       string        `env:"LOG_FORMAT" envDefault:"json"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`

	// Optional Kafka series sink.
	KafkaBrokers []string `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaTopic   string   `env:"KAFKA_TOPIC" envDefault:"boundary-climate-series"`
	KafkaEnabled bool     `env:"KAFKA_ENABLED"`
}

// BoundaryTarget selects one Natural Earth dataset and the attribute columns
// carried through to the exported table.
type BoundaryTarget struct {
	Category  string
	Name      string
	AttrNames []string
}

// Load reads configuration from environment variables, applying defaults
// where unset.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	// Configured brokers imply an enabled sink unless explicitly overridden.
	if _, set := os.LookupEnv("KAFKA_ENABLED"); !set {
		cfg.KafkaEnabled = len(cfg.KafkaBrokers) > 0
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.CDSAPIKey == "" {
		return errors.New("CDS_API_KEY is required")
	}
	if !strings.Contains(c.CDSAPIKey, ":") {
		return errors.New("CDS_API_KEY must be a UID:key pair")
	}
	if len(c.Variables) == 0 {
		return errors.New("CDS_VARIABLES is required")
	}
	if c.YearStart > c.YearEnd {
		return errors.New("YEAR_START must not be after YEAR_END")
	}
	for _, m := range c.Months {
		if m < 1 || m > 12 {
			return fmt.Errorf("MONTHS: %d is not a calendar month", m)
		}
	}
	if c.StartPeriod != "" {
		if _, err := time.Parse("2006-01", c.StartPeriod); err != nil {
			return errors.New("START_PERIOD must use the format 2006-01")
		}
	}
	if c.Workers < 1 {
		return errors.New("WORKERS must be at least 1")
	}
	if c.SnapTolerance < 0 {
		return errors.New("SNAP_TOLERANCE must not be negative")
	}
	if c.ShutdownTimeout <= 0 {
		return errors.New("SHUTDOWN_TIMEOUT must be positive")
	}
	if c.KafkaEnabled && len(c.KafkaBrokers) == 0 {
		return errors.New("KAFKA_ENABLED is true but KAFKA_BROKERS is not set")
	}
	return nil
}

// Years expands the configured range into the explicit list the retrieval
// API wants.
func (c *Config) Years() []int {
	years := make([]int, 0, c.YearEnd-c.YearStart+1)
	for y := c.YearStart; y <= c.YearEnd; y++ {
		years = append(years, y)
	}
	return years
}

// StartTime returns the truncation instant derived from StartPeriod.
func (c *Config) StartTime() (time.Time, bool) {
	if c.StartPeriod == "" {
		return time.Time{}, false
	}
	t, err := time.Parse("2006-01", c.StartPeriod)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// Targets lists the boundary datasets aggregated by the job: countries and
// first-order admin divisions, at the configured resolution.
func (c *Config) Targets() []BoundaryTarget {
	return []BoundaryTarget{
		{Category: "cultural", Name: "admin_0_countries", AttrNames: c.CountryAttrs},
		{Category: "cultural", Name: "admin_1_states_provinces", AttrNames: c.StateAttrs},
	}
}
