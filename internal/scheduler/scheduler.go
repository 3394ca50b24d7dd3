// Package scheduler periodically submits users with unprocessed past days.
package scheduler

import (
	"context"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/m-mizutani/goerr/v2"

	"github.com/rcliao/ryos-memory/internal/logging"
	"github.com/rcliao/ryos-memory/internal/model"
)

// DefaultSpec runs the sweep every 30 minutes.
const DefaultSpec = "*/30 * * * *"

const defaultLookbackDays = 7

// PendingLister lists users that have unprocessed past days within the
// lookback window.
type PendingLister interface {
	PendingUsers(ctx context.Context, lookbackDays int) ([]model.PendingUser, error)
}

// Submitter starts a background run for one user.
type Submitter interface {
	Submit(ctx context.Context, userID, timeZone string) bool
}

// Sweeper submits every pending user on a cron schedule.
type Sweeper struct {
	scheduler gocron.Scheduler
	lister    PendingLister
	submitter Submitter
	spec      string
	lookback  int
	ctx       context.Context
	job       gocron.Job
}

// Option customizes a Sweeper.
type Option func(*Sweeper)

// WithLookbackDays limits pending users to days the pipeline will still pick
// up. It must match the pipeline's LookbackDays.
func WithLookbackDays(n int) Option {
	return func(s *Sweeper) {
		if n > 0 {
			s.lookback = n
		}
	}
}

// New creates a Sweeper. spec is a five-field cron expression in UTC.
func New(lister PendingLister, submitter Submitter, spec string, opts ...Option) (*Sweeper, error) {
	if spec == "" {
		spec = DefaultSpec
	}
	s, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create scheduler")
	}
	sw := &Sweeper{
		scheduler: s,
		lister:    lister,
		submitter: submitter,
		spec:      spec,
		lookback:  defaultLookbackDays,
	}
	for _, opt := range opts {
		opt(sw)
	}
	return sw, nil
}

// Start registers the sweep job and starts the scheduler. ctx supplies the
// logger for sweeps; its cancellation does not stop them, Shutdown does.
func (s *Sweeper) Start(ctx context.Context) error {
	s.ctx = context.WithoutCancel(ctx)

	job, err := s.scheduler.NewJob(
		gocron.CronJob(s.spec, false),
		gocron.NewTask(func() {
			if _, err := s.Sweep(s.ctx); err != nil {
				logging.From(s.ctx).Error("daily notes sweep failed", logging.ErrAttr(err))
			}
		}),
		gocron.WithName("daily_notes_sweep"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return goerr.Wrap(err, "failed to create sweep job", goerr.V("spec", s.spec))
	}
	s.job = job

	s.scheduler.Start()
	logging.From(ctx).Info("daily notes sweep scheduled", "spec", s.spec)
	return nil
}

// NextRun reports when the sweep fires next.
func (s *Sweeper) NextRun() (time.Time, error) {
	if s.job == nil {
		return time.Time{}, goerr.New("sweep job is not registered")
	}
	return s.job.NextRun()
}

// Sweep submits every pending user once and returns how many were accepted.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	users, err := s.lister.PendingUsers(ctx, s.lookback)
	if err != nil {
		return 0, goerr.Wrap(err, "failed to list pending users")
	}

	submitted := 0
	for _, u := range users {
		if s.submitter.Submit(ctx, u.UserID, u.TimeZone) {
			submitted++
		}
	}
	if len(users) > 0 {
		logging.From(ctx).Info("submitted pending users", "pending", len(users), "submitted", submitted)
	}
	return submitted, nil
}

// Shutdown stops the scheduler. Runs already submitted are not waited for.
func (s *Sweeper) Shutdown() error {
	if err := s.scheduler.Shutdown(); err != nil {
		return goerr.Wrap(err, "failed to shut down scheduler")
	}
	return nil
}
