// Package config loads service settings from a YAML file and the environment.
package config

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"gopkg.in/yaml.v3"

	"github.com/rcliao/ryos-memory/internal/llm"
	"github.com/rcliao/ryos-memory/internal/logging"
	"github.com/rcliao/ryos-memory/internal/pipeline"
	"github.com/rcliao/ryos-memory/internal/scheduler"
	"github.com/rcliao/ryos-memory/internal/server"
)

// ErrInvalid marks a configuration that cannot start the service.
var ErrInvalid = errors.New("invalid configuration")

// Config is the full service configuration.
type Config struct {
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`

	DBPath   string `yaml:"db_path"`
	RedisURL string `yaml:"redis_url"`

	Gemini                   llm.GeminiConfig `yaml:"gemini"`
	ExtractionTemperature    float32          `yaml:"extraction_temperature"`
	ConsolidationTemperature float32          `yaml:"consolidation_temperature"`

	Pipeline pipeline.Config `yaml:"pipeline"`
	Server   server.Config   `yaml:"server"`

	Schedule          string `yaml:"schedule"`
	WorkerConcurrency int    `yaml:"worker_concurrency"`

	// Tokens authenticates users without Redis, mainly for local runs.
	Tokens map[string]string `yaml:"tokens"`
}

// Default returns a configuration that runs locally without Redis.
func Default() Config {
	var c Config
	c.Log.Level = "info"
	c.Log.Format = "console"
	c.DBPath = defaultDBPath()
	c.Gemini.Model = llm.DefaultModel
	c.Gemini.Location = "us-central1"
	c.ExtractionTemperature = llm.DefaultExtractionTemperature
	c.ConsolidationTemperature = llm.DefaultConsolidationTemperature
	c.Pipeline = pipeline.DefaultConfig()
	c.Server.Addr = ":8080"
	c.Schedule = scheduler.DefaultSpec
	c.WorkerConcurrency = 4
	return c
}

func defaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "ryos-memory.db"
	}
	return filepath.Join(home, ".ryos-memory", "memory.db")
}

// Load reads path when it is not empty, then applies environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, goerr.Wrap(err, "failed to read config file", goerr.V("path", path))
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, goerr.Wrap(err, "failed to parse config file", goerr.V("path", path))
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}
	return cfg, nil
}

type lookupFunc func(string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	str := func(dst *string, names ...string) {
		for _, name := range names {
			if v, ok := lookup(name); ok && v != "" {
				*dst = v
				return
			}
		}
	}

	str(&c.Log.Level, "RYOS_LOG_LEVEL")
	str(&c.Log.Format, "RYOS_LOG_FORMAT")
	str(&c.DBPath, "RYOS_DB_PATH")
	str(&c.RedisURL, "RYOS_REDIS_URL", "REDIS_URL")
	str(&c.Gemini.APIKey, "RYOS_GEMINI_API_KEY", "GEMINI_API_KEY")
	str(&c.Gemini.Project, "RYOS_GEMINI_PROJECT", "GOOGLE_CLOUD_PROJECT")
	str(&c.Gemini.Location, "RYOS_GEMINI_LOCATION")
	str(&c.Gemini.Model, "RYOS_GEMINI_MODEL")
	str(&c.Server.Addr, "RYOS_ADDR")
	str(&c.Schedule, "RYOS_SCHEDULE")

	if v, ok := lookup("RYOS_ALLOWED_ORIGINS"); ok && v != "" {
		c.Server.AllowedOrigins = splitList(v)
	}

	durations := []struct {
		name string
		dst  *time.Duration
	}{
		{"RYOS_TIME_BUDGET", &c.Pipeline.TimeBudget},
		{"RYOS_LOCK_TTL", &c.Pipeline.LockTTL},
	}
	for _, d := range durations {
		v, ok := lookup(d.name)
		if !ok || v == "" {
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return goerr.Wrap(ErrInvalid, "malformed duration", goerr.V("name", d.name), goerr.V("value", v))
		}
		*d.dst = parsed
	}

	ints := []struct {
		name string
		dst  *int
	}{
		{"RYOS_EXTRACTION_CAP", &c.Pipeline.ExtractionCap},
		{"RYOS_CONSOLIDATION_CAP", &c.Pipeline.ConsolidationCap},
		{"RYOS_LOOKBACK_DAYS", &c.Pipeline.LookbackDays},
		{"RYOS_MAX_MEMORIES", &c.Pipeline.MaxMemoriesPerUser},
		{"RYOS_WORKER_CONCURRENCY", &c.WorkerConcurrency},
	}
	for _, i := range ints {
		v, ok := lookup(i.name)
		if !ok || v == "" {
			continue
		}
		parsed, err := strconv.Atoi(v)
		if err != nil {
			return goerr.Wrap(ErrInvalid, "malformed integer", goerr.V("name", i.name), goerr.V("value", v))
		}
		*i.dst = parsed
	}

	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate checks the settings the service cannot start without.
func (c Config) Validate() error {
	if err := c.Pipeline.Validate(); err != nil {
		return goerr.Wrap(ErrInvalid, "invalid pipeline settings", goerr.V("cause", err.Error()))
	}
	if c.DBPath == "" {
		return goerr.Wrap(ErrInvalid, "db path is required")
	}
	if c.WorkerConcurrency <= 0 {
		return goerr.Wrap(ErrInvalid, "worker concurrency must be positive", goerr.V("worker_concurrency", c.WorkerConcurrency))
	}
	if c.ExtractionTemperature < 0 || c.ConsolidationTemperature < 0 {
		return goerr.Wrap(ErrInvalid, "temperatures must not be negative")
	}
	if _, ok := logging.ParseLevel(c.Log.Level); !ok {
		return goerr.Wrap(ErrInvalid, "unknown log level", goerr.V("level", c.Log.Level))
	}
	return nil
}
