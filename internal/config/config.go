// Package config loads engine configuration from a YAML file with
// environment-variable overrides. The loading order, lowest to highest
// priority: defaults, config file, environment.
package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix for every environment override.
const EnvPrefix = "CDI_ALERT_ENGINE"

// Config holds all configuration values for the engine.
type Config struct {
	Mongo           Mongo    `yaml:"mongo"`
	Scripts         []Script `yaml:"scripts"`
	PollingSeconds  int      `yaml:"polling_seconds"`
	WorkflowRestURL string   `yaml:"workflow_rest_url"`
	DVDaysBack      int      `yaml:"dv_days_back"`
	MedDaysBack     int      `yaml:"med_days_back"`
	Workers         int      `yaml:"workers"`
	MetricsAddr     string   `yaml:"metrics_addr"`
	LogLevel        string   `yaml:"log_level"`
}

// Mongo identifies the CAC document store.
type Mongo struct {
	URL      string `yaml:"url"`
	Database string `yaml:"database"`
}

// Script is one configured rule script. CriteriaGroup is workflow-side
// metadata; the engine only carries it.
type Script struct {
	Path          string `yaml:"path"`
	CriteriaGroup string `yaml:"criteria_group"`
}

// Load reads the config file at path (if present), then applies environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	cfg.applyEnvironment()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Mongo:          Mongo{URL: "mongodb://localhost:27017", Database: "FusionCAC2"},
		PollingSeconds: 60,
		DVDaysBack:     7,
		MedDaysBack:    7,
		Workers:        runtime.NumCPU(),
		LogLevel:       "info",
	}
}

func (c *Config) applyEnvironment() {
	setString(&c.Mongo.URL, "MONGO_URL")
	setString(&c.Mongo.Database, "MONGO_DATABASE")
	setString(&c.WorkflowRestURL, "WORKFLOW_REST_URL")
	setString(&c.MetricsAddr, "METRICS_ADDR")
	setString(&c.LogLevel, "LOG_LEVEL")
	setInt(&c.PollingSeconds, "POLLING_SECONDS")
	setInt(&c.DVDaysBack, "DV_DAYS_BACK")
	setInt(&c.MedDaysBack, "MED_DAYS_BACK")
	setInt(&c.Workers, "WORKERS")
}

func (c *Config) validate() error {
	if c.Mongo.URL == "" {
		return fmt.Errorf("mongo.url must be set")
	}
	if c.Mongo.Database == "" {
		return fmt.Errorf("mongo.database must be set")
	}
	if c.PollingSeconds <= 0 {
		return fmt.Errorf("polling_seconds must be positive, got %d", c.PollingSeconds)
	}
	if c.DVDaysBack <= 0 || c.MedDaysBack <= 0 {
		return fmt.Errorf("retention windows must be positive, got dv=%d med=%d", c.DVDaysBack, c.MedDaysBack)
	}
	if c.Workers < 0 {
		return fmt.Errorf("workers must not be negative, got %d", c.Workers)
	}
	for i, script := range c.Scripts {
		if script.Path == "" {
			return fmt.Errorf("scripts[%d].path must be set", i)
		}
	}
	return nil
}

// PollingInterval returns the pause between polling passes.
func (c *Config) PollingInterval() time.Duration {
	return time.Duration(c.PollingSeconds) * time.Second
}

func setString(target *string, name string) {
	if value := os.Getenv(EnvPrefix + "_" + name); value != "" {
		*target = value
	}
}

func setInt(target *int, name string) {
	if value := os.Getenv(EnvPrefix + "_" + name); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}
