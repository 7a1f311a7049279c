// Package config defines process configuration and how it is loaded.
package config

import (
	"context"
	"fmt"
	"time"
)

const (
	BackendMemory   = "memory"
	BackendDynamoDB = "dynamodb"
	BackendSQLite   = "sqlite"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// Backend selects the store: memory, dynamodb or sqlite.
	Backend    string `koanf:"backend"`
	SQLitePath string `koanf:"sqlite_path"`

	TableCities  string `koanf:"table_cities"`
	TableTeams   string `koanf:"table_teams"`
	TableResults string `koanf:"table_results"`
	TableGames   string `koanf:"table_games"`
	TableRanks   string `koanf:"table_ranks"`

	// BaseURL is a fmt template taking the city slug.
	BaseURL         string        `koanf:"base_url"`
	InsecureTLS     bool          `koanf:"insecure_tls"`
	HTTPTimeout     time.Duration `koanf:"http_timeout"`
	HTTPMaxAttempts int           `koanf:"http_max_attempts"`

	// Concurrency bounds how many games are processed at once.
	Concurrency int `koanf:"concurrency"`

	// Schedule is a standard 5-field cron spec used outside Lambda.
	Schedule    string `koanf:"schedule"`
	MetricsAddr string `koanf:"metrics_addr"`

	// ExportBucket enables the parquet archive when set.
	ExportBucket string `koanf:"export_bucket"`
	ExportPrefix string `koanf:"export_prefix"`

	AthenaDB        string `koanf:"athena_db"`
	AthenaTable     string `koanf:"athena_table"`
	AthenaWorkgroup string `koanf:"athena_workgroup"`
	AthenaOutput    string `koanf:"athena_output"`

	// CityIDs limits processing to these cities; empty means all.
	CityIDs []int `koanf:"city_ids"`
}

// New returns a Config with defaults.
func New(_ context.Context) *Config {
	return &Config{
		LogLevel:        "info",
		Backend:         BackendDynamoDB,
		SQLitePath:      "./quiz.db",
		TableCities:     "quiz_cities",
		TableTeams:      "quiz_teams",
		TableResults:    "quiz_game_results",
		TableGames:      "quiz_games",
		TableRanks:      "quiz_rank_mappings",
		BaseURL:         "https://%s.quizplease.ru/game-page",
		InsecureTLS:     true,
		HTTPTimeout:     30 * time.Second,
		HTTPMaxAttempts: 4,
		Concurrency:     4,
		Schedule:        "0 0 * * *",
		MetricsAddr:     ":9090",
		ExportPrefix:    "quiz/results",
		AthenaDB:        "quiz",
		AthenaTable:     "game_results",
		AthenaWorkgroup: "primary",
	}
}

// Validate checks the fields that have no usable zero value.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendMemory, BackendDynamoDB, BackendSQLite:
	default:
		return fmt.Errorf("%w: unknown backend %q", ErrInvalidConfig, c.Backend)
	}
	if c.Backend == BackendSQLite && c.SQLitePath == "" {
		return fmt.Errorf("%w: sqlite_path must not be empty", ErrInvalidConfig)
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("%w: concurrency must be >= 1, got %d", ErrInvalidConfig, c.Concurrency)
	}
	if c.HTTPMaxAttempts < 1 {
		return fmt.Errorf("%w: http_max_attempts must be >= 1, got %d", ErrInvalidConfig, c.HTTPMaxAttempts)
	}
	if c.BaseURL == "" {
		return fmt.Errorf("%w: base_url must not be empty", ErrInvalidConfig)
	}
	return nil
}

// WantsCity reports whether the city is selected by CityIDs.
func (c *Config) WantsCity(id int) bool {
	if len(c.CityIDs) == 0 {
		return true
	}
	for _, v := range c.CityIDs {
		if v == id {
			return true
		}
	}
	return false
}
