package pipeline

import (
	"time"

	"github.com/rcliao/ryos-memory/internal/model"
)

// SkipReason explains why a day was deferred.
type SkipReason string

const (
	SkipBudget SkipReason = "budget"
	SkipError  SkipReason = "error"
)

// Observer receives pipeline events. Implementations must be safe for
// concurrent use because runs for different users overlap.
type Observer interface {
	LockContended(userID string)
	DayProcessed(userID, date string, r model.BatchResult)
	DaySkipped(userID, date string, reason SkipReason)
	RunFinished(userID string, elapsed time.Duration, err error)
}

type nopObserver struct{}

func (nopObserver) LockContended(string) {}
func (nopObserver) DayProcessed(string, string, model.BatchResult) {}
func (nopObserver) DaySkipped(string, string, SkipReason) {}
func (nopObserver) RunFinished(string, time.Duration, error) {}
