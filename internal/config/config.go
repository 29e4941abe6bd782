// Package config loads the server configuration from the environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"

	"github.com/copyleftdev/smbo/internal/optimization/acquisition"
	"github.com/copyleftdev/smbo/internal/optimization/smbo"
)

type Config struct {
	Environment string `env:"ENV" envDefault:"development"`
	HTTP        struct {
		Port            int           `env:"HTTP_PORT" envDefault:"8080"`
		ReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"30s"`
		WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
		IdleTimeout     time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`
		ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"30s"`
	}
	Logging struct {
		Level  string `env:"LOG_LEVEL"`
		Format string `env:"LOG_FORMAT" envDefault:"json"`
		Output string `env:"LOG_OUTPUT" envDefault:"stderr"`
	}
	API struct {
		RateLimit float64 `env:"API_RATE_LIMIT" envDefault:"50"`
		RateBurst int     `env:"API_RATE_BURST" envDefault:"100"`
	}
	Optimization struct {
		// Seed of every new study and job, 0 means time seeded
		Seed                  int64   `env:"OPT_SEED" envDefault:"0"`
		NumLocalSearchPoints  int     `env:"OPT_NUM_LOCAL_SEARCH_POINTS" envDefault:"0"`
		NumRandomSearchPoints int     `env:"OPT_NUM_RANDOM_SEARCH_POINTS" envDefault:"0"`
		PointsPerObservation  int     `env:"OPT_POINTS_PER_OBSERVATION" envDefault:"1"`
		LocalSearchMethod     string  `env:"OPT_LOCAL_SEARCH_METHOD" envDefault:"hill_climbing"`
		LocalSearchMaxSteps   int     `env:"OPT_LOCAL_SEARCH_MAX_STEPS" envDefault:"50"`
		Acquisition           string  `env:"OPT_ACQUISITION" envDefault:"ei"`
		Xi                    float64 `env:"OPT_XI" envDefault:"0.01"`
		WorkerCount           int     `env:"OPT_WORKER_COUNT" envDefault:"1"`
		CacheSize             int     `env:"OPT_CACHE_SIZE" envDefault:"1024"`
		InitialDesign         string  `env:"OPT_INITIAL_DESIGN" envDefault:"lhs"`
	}
}

func Load() (*Config, error) {
	cfg := &Config{}

	// Parse environment variables
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	// Set default logging level based on environment
	if cfg.Logging.Level == "" {
		if cfg.Environment == "development" {
			cfg.Logging.Level = "debug"
		} else {
			cfg.Logging.Level = "info"
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the values env cannot express as tags.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Optimization.LocalSearchMethod) {
	case smbo.MethodHillClimbing, smbo.MethodNelderMead:
	default:
		return fmt.Errorf("OPT_LOCAL_SEARCH_METHOD: unknown method %q", c.Optimization.LocalSearchMethod)
	}
	switch strings.ToLower(c.Optimization.InitialDesign) {
	case smbo.DesignLatinHypercube, smbo.DesignRandom:
	default:
		return fmt.Errorf("OPT_INITIAL_DESIGN: unknown design %q", c.Optimization.InitialDesign)
	}
	if _, err := acquisition.New(c.Optimization.Acquisition, c.Optimization.Xi); err != nil {
		return fmt.Errorf("OPT_ACQUISITION: %w", err)
	}
	if c.Optimization.PointsPerObservation < 1 {
		return fmt.Errorf("OPT_POINTS_PER_OBSERVATION must be positive, got %d", c.Optimization.PointsPerObservation)
	}
	if c.API.RateLimit <= 0 || c.API.RateBurst <= 0 {
		return fmt.Errorf("API_RATE_LIMIT and API_RATE_BURST must be positive")
	}
	return nil
}

// SMBOOptions converts the optimization settings into engine options.
func (c *Config) SMBOOptions() []smbo.Option {
	o := c.Optimization
	return []smbo.Option{
		smbo.WithNumLocalSearchPoints(o.NumLocalSearchPoints),
		smbo.WithNumRandomSearchPoints(o.NumRandomSearchPoints),
		smbo.WithPointsPerObservation(o.PointsPerObservation),
		smbo.WithLocalSearchMethod(o.LocalSearchMethod),
		smbo.WithMaxSteps(o.LocalSearchMaxSteps),
		smbo.WithCacheSize(o.CacheSize),
		smbo.WithWorkers(o.WorkerCount),
	}
}
