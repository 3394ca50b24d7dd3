// Package pipeline turns past days of chat notes into long-term memories.
//
// A run holds a per-user lock, walks unprocessed days oldest first under a
// wall-clock budget, and marks every finished day processed before starting
// the next one, so an interrupted run never re-extracts a finished day.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"github.com/rcliao/ryos-memory/internal/logging"
	"github.com/rcliao/ryos-memory/internal/model"
)

// ErrInvalidTimeZone is returned for a time zone name that cannot be loaded.
var ErrInvalidTimeZone = errors.New("invalid time zone")

const releaseTimeout = 5 * time.Second

// Locker is a set-if-absent lock with expiry.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// NoteSource supplies unprocessed days and records finished ones.
type NoteSource interface {
	ListUnprocessedDays(ctx context.Context, userID string, lookbackDays int, loc *time.Location) ([]model.DailyNote, error)
	MarkProcessed(ctx context.Context, userID, date string) error
}

// MemoryStore is the long-term memory collaborator.
type MemoryStore interface {
	GetIndex(ctx context.Context, userID string) (*model.MemoryIndex, error)
	GetDetail(ctx context.Context, userID, key string) (*model.MemoryDetail, error)
	Upsert(ctx context.Context, userID string, p model.UpsertParams) (*model.UpsertResult, error)
	Delete(ctx context.Context, userID, key string) (*model.DeleteResult, error)
	CleanupStale(ctx context.Context, userID string) (*model.CleanupResult, error)
}

// Extractor proposes memories from one day of notes.
type Extractor interface {
	Extract(ctx context.Context, req model.ExtractionRequest) ([]model.Candidate, error)
}

// Consolidator merges a new memory with related existing ones.
type Consolidator interface {
	Consolidate(ctx context.Context, req model.ConsolidationRequest) (*model.Consolidated, error)
}

// LockKey is the processing lock key of a user.
func LockKey(userID string) string {
	return fmt.Sprintf("memory:user:%s:processing_lock", userID)
}

// LoadLocation resolves an IANA time zone name. The empty name is UTC.
func LoadLocation(name string) (*time.Location, error) {
	if name == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, goerr.Wrap(ErrInvalidTimeZone, err.Error(), goerr.V("time_zone", name))
	}
	return loc, nil
}

// Processor runs the daily-notes pipeline.
type Processor struct {
	locker       Locker
	notes        NoteSource
	memories     MemoryStore
	extractor    Extractor
	consolidator Consolidator

	cfg      Config
	observer Observer
	now      func() time.Time
}

// Option customizes a Processor.
type Option func(*Processor)

// WithConfig replaces DefaultConfig.
func WithConfig(cfg Config) Option {
	return func(p *Processor) { p.cfg = cfg }
}

// WithObserver reports pipeline events to o.
func WithObserver(o Observer) Option {
	return func(p *Processor) {
		if o != nil {
			p.observer = o
		}
	}
}

// WithClock replaces time.Now for budget accounting.
func WithClock(now func() time.Time) Option {
	return func(p *Processor) {
		if now != nil {
			p.now = now
		}
	}
}

// New creates a Processor.
func New(locker Locker, notes NoteSource, memories MemoryStore, extractor Extractor, consolidator Consolidator, opts ...Option) *Processor {
	p := &Processor{
		locker:       locker,
		notes:        notes,
		memories:     memories,
		extractor:    extractor,
		consolidator: consolidator,
		cfg:          DefaultConfig(),
		observer:     nopObserver{},
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Config returns the limits the processor runs with.
func (p *Processor) Config() Config {
	return p.cfg
}

// Process consolidates every unprocessed past day of userID. "Today" is
// determined in timeZone.
//
// Contention on the processing lock is not an error: the result comes back
// empty with Locked set. Failures of a single day are recorded in
// SkippedDates. Only failures outside any day are returned as errors.
func (p *Processor) Process(ctx context.Context, userID, timeZone string) (*model.PipelineResult, error) {
	if userID == "" {
		return nil, goerr.New("user ID is required")
	}
	loc, err := LoadLocation(timeZone)
	if err != nil {
		return nil, err
	}

	start := p.now()
	logger := logging.From(ctx).With("user_id", userID)
	ctx = logging.With(ctx, logger)

	key := LockKey(userID)
	acquired, err := p.locker.Acquire(ctx, key, p.cfg.LockTTL)
	if err != nil {
		p.observer.RunFinished(userID, p.now().Sub(start), err)
		return nil, goerr.Wrap(err, "failed to acquire processing lock", goerr.V("user_id", userID))
	}
	if !acquired {
		logger.Debug("daily notes already being processed")
		p.observer.LockContended(userID)
		result := model.NewPipelineResult()
		result.Locked = true
		return result, nil
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
		defer cancel()
		if err := p.locker.Release(releaseCtx, key); err != nil {
			logger.Warn("failed to release processing lock", logging.ErrAttr(err))
		}
	}()

	result, err := p.run(ctx, userID, loc, start)
	p.observer.RunFinished(userID, p.now().Sub(start), err)
	if err != nil {
		return nil, err
	}

	logger.Info("daily notes processed",
		"processed", result.Processed,
		"extracted", result.Extracted,
		"created", result.Created,
		"updated", result.Updated,
		"skipped", len(result.SkippedDates),
		"elapsed", p.now().Sub(start),
	)
	return result, nil
}

func (p *Processor) run(ctx context.Context, userID string, loc *time.Location, start time.Time) (*model.PipelineResult, error) {
	logger := logging.From(ctx)

	// Expired temporary memories would otherwise count against capacity.
	if cleaned, err := p.memories.CleanupStale(ctx, userID); err != nil {
		logger.Warn("failed to clean up stale memories", logging.ErrAttr(err))
	} else if cleaned != nil && cleaned.Removed > 0 {
		logger.Info("removed stale memories", "count", cleaned.Removed, "keys", cleaned.RemovedKeys)
	}

	days, err := p.notes.ListUnprocessedDays(ctx, userID, p.cfg.LookbackDays, loc)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list unprocessed days", goerr.V("user_id", userID))
	}
	sort.SliceStable(days, func(i, j int) bool { return days[i].Date < days[j].Date })

	result := model.NewPipelineResult()
	for i, day := range days {
		if elapsed := p.now().Sub(start); elapsed > p.cfg.TimeBudget || ctx.Err() != nil {
			for _, rest := range days[i:] {
				result.SkippedDates = append(result.SkippedDates, rest.Date)
				p.observer.DaySkipped(userID, rest.Date, SkipBudget)
			}
			logger.Info("time budget exhausted, deferring remaining days",
				"deferred", len(days)-i, "elapsed", elapsed)
			break
		}

		dayLogger := logger.With("date", day.Date)
		dayCtx := logging.With(ctx, dayLogger)

		batch, err := p.processDay(dayCtx, userID, day, loc)
		if err == nil {
			err = p.notes.MarkProcessed(dayCtx, userID, day.Date)
			if err != nil {
				err = goerr.Wrap(err, "failed to mark day processed")
			}
		}
		if err != nil {
			dayLogger.Error("failed to process day", logging.ErrAttr(err))
			result.SkippedDates = append(result.SkippedDates, day.Date)
			p.observer.DaySkipped(userID, day.Date, SkipError)
			continue
		}

		result.Processed++
		result.Extracted += batch.Extracted
		result.Created += batch.Created
		result.Updated += batch.Updated
		result.Dates = append(result.Dates, day.Date)
		p.observer.DayProcessed(userID, day.Date, batch)
	}

	return result, nil
}
