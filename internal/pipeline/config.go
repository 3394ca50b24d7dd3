package pipeline

import (
	"time"

	"github.com/m-mizutani/goerr/v2"
)

// Config bounds the work a single pipeline run may do.
type Config struct {
	// TimeBudget is checked before each day. Days that would start after it
	// has elapsed are deferred to the next run.
	TimeBudget time.Duration `yaml:"time_budget"`
	// ExtractionCap is the most candidates requested per day.
	ExtractionCap int `yaml:"extraction_cap"`
	// AtCapacityExtractionCap replaces ExtractionCap when no slots are left.
	AtCapacityExtractionCap int `yaml:"at_capacity_extraction_cap"`
	// ConsolidationCap is the most consolidation calls made per day.
	ConsolidationCap int `yaml:"consolidation_cap"`
	// LookbackDays limits how far back unprocessed days are fetched.
	LookbackDays int           `yaml:"lookback_days"`
	LockTTL      time.Duration `yaml:"lock_ttl"`
	// MaxMemoriesPerUser must match the memory store's capacity.
	MaxMemoriesPerUser int `yaml:"max_memories_per_user"`
}

// DefaultConfig returns the production limits.
func DefaultConfig() Config {
	return Config{
		TimeBudget:              50 * time.Second,
		ExtractionCap:           5,
		AtCapacityExtractionCap: 3,
		ConsolidationCap:        3,
		LookbackDays:            7,
		LockTTL:                 120 * time.Second,
		MaxMemoriesPerUser:      50,
	}
}

// Validate reports the first limit that cannot work.
func (c Config) Validate() error {
	switch {
	case c.TimeBudget <= 0:
		return goerr.New("time budget must be positive", goerr.V("time_budget", c.TimeBudget))
	case c.ExtractionCap <= 0:
		return goerr.New("extraction cap must be positive", goerr.V("extraction_cap", c.ExtractionCap))
	case c.AtCapacityExtractionCap < 0:
		return goerr.New("at-capacity extraction cap must not be negative", goerr.V("at_capacity_extraction_cap", c.AtCapacityExtractionCap))
	case c.ConsolidationCap < 0:
		return goerr.New("consolidation cap must not be negative", goerr.V("consolidation_cap", c.ConsolidationCap))
	case c.LookbackDays <= 0:
		return goerr.New("lookback days must be positive", goerr.V("lookback_days", c.LookbackDays))
	case c.LockTTL <= 0:
		return goerr.New("lock TTL must be positive", goerr.V("lock_ttl", c.LockTTL))
	case c.LockTTL < c.TimeBudget:
		return goerr.New("lock TTL must outlast the time budget", goerr.V("lock_ttl", c.LockTTL), goerr.V("time_budget", c.TimeBudget))
	case c.MaxMemoriesPerUser <= 0:
		return goerr.New("max memories per user must be positive", goerr.V("max_memories_per_user", c.MaxMemoriesPerUser))
	}
	return nil
}
