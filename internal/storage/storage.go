// Package storage defines the persistence interface and its implementations.
package storage

import (
	"context"
	"time"

	"canvas_notifier/internal/model"
)

// Storage is the interface for all persistence operations. It is the only
// durable state in the process: the detector reads submissions fresh each
// cycle and relies on the seen table alone to decide what is new.
type Storage interface {
	// UpsertTarget inserts a target or reactivates/renames an existing one
	// for the same (course, assignment) pair, populating its ID.
	UpsertTarget(ctx context.Context, t *model.Target) error
	// GetTarget returns a target by (course, assignment) pair.
	GetTarget(ctx context.Context, key model.TargetKey) (*model.Target, error)
	// ListActiveTargets returns every target still being polled.
	ListActiveTargets(ctx context.Context) ([]model.Target, error)
	// ListDueTargets returns active targets whose next poll time has passed
	// (or was never set).
	ListDueTargets(ctx context.Context, now time.Time) ([]model.Target, error)
	// RecordPoll stores the outcome of one cycle: when to poll next and the
	// current consecutive-failure count.
	RecordPoll(ctx context.Context, id int64, nextPollAt time.Time, failCount int) error
	// DeactivateMissingTargets deactivates every target of the course whose
	// assignment is not in keep. Seen entries are retained.
	DeactivateMissingTargets(ctx context.Context, courseID int64, keep []int64) error

	// MarkSeen durably records that a submission has been notified.
	// Marking an already-seen submission is a no-op, except that a higher
	// content version replaces the stored one.
	MarkSeen(ctx context.Context, key model.TargetKey, submissionID, version int64) error
	// IsSeen reports whether a submission has already been notified.
	IsSeen(ctx context.Context, key model.TargetKey, submissionID int64) (bool, error)
	// GetSeen returns the seen entry for a submission, or nil if none exists.
	GetSeen(ctx context.Context, key model.TargetKey, submissionID int64) (*model.SeenEntry, error)

	Close() error
}
