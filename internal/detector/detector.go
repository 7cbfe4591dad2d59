// Package detector implements submission change detection: one cycle fetches
// the current submissions of a target, diffs them against the seen store and
// delivers exactly one notification per newly observed submission.
package detector

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"

	"canvas_notifier/internal/model"
	"canvas_notifier/internal/notify"
	"canvas_notifier/internal/storage"
)

// SubmissionSource lists the current submissions of a target as of now.
type SubmissionSource interface {
	ListSubmissions(ctx context.Context, courseID, assignmentID int64) ([]model.Submission, error)
}

// Options tune delivery retries and the resubmission policy.
type Options struct {
	// MaxAttempts is the number of delivery attempts per submission within
	// one cycle, including the first. Values below 1 are treated as 1.
	MaxAttempts int
	// RetryBackoff is the base of the exponential backoff between attempts.
	RetryBackoff time.Duration
	// RenotifyOnResubmit causes one extra notification when an already
	// notified submission comes back with a higher attempt counter.
	// Off by default to avoid notification storms.
	RenotifyOnResubmit bool
}

func (o Options) withDefaults() Options {
	if o.MaxAttempts < 1 {
		o.MaxAttempts = 1
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = 2 * time.Second
	}
	return o
}

// Result is the outcome of one detection cycle.
type Result struct {
	Delivered []int64
	Failed    []int64
}

// Detector runs poll-detect-notify cycles. It holds no submission state of
// its own: everything it knows comes from the source and the store, so it is
// safe to restart at any point.
type Detector struct {
	source   SubmissionSource
	store    storage.Storage
	notifier notify.Notifier
	opts     Options
	log      *slog.Logger
}

// New creates a Detector.
func New(source SubmissionSource, store storage.Storage, notifier notify.Notifier, opts Options, log *slog.Logger) *Detector {
	return &Detector{
		source:   source,
		store:    store,
		notifier: notifier,
		opts:     opts.withDefaults(),
		log:      log,
	}
}

// Check runs one cycle for the target. A source fetch failure abandons the
// cycle with an ErrSourceUnavailable-wrapped error and no store writes.
// Individual delivery failures are collected in Result.Failed and left
// unmarked, so the next cycle retries them.
func (d *Detector) Check(ctx context.Context, target model.Target) (Result, error) {
	subs, err := d.source.ListSubmissions(ctx, target.CourseID, target.AssignmentID)
	if err != nil {
		return Result{}, fmt.Errorf("%w: course %d assignment %d: %v",
			ErrSourceUnavailable, target.CourseID, target.AssignmentID, err)
	}

	var res Result
	for _, sub := range subs {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if !sub.Submitted() {
			continue
		}

		entry, err := d.store.GetSeen(ctx, target.Key(), sub.ID)
		if err != nil {
			d.log.Error("look up seen entry",
				"course_id", target.CourseID, "assignment_id", target.AssignmentID,
				"submission_id", sub.ID, "error", err)
			res.Failed = append(res.Failed, sub.ID)
			continue
		}

		var msg string
		switch {
		case entry == nil:
			msg = notify.FormatSubmission(sub, target.CourseName, target.AssignmentName)
		case d.opts.RenotifyOnResubmit && sub.Attempt > entry.ContentVersion:
			msg = notify.FormatResubmission(sub, target.CourseName, target.AssignmentName)
		default:
			continue
		}

		if err := d.deliver(ctx, sub.ID, msg); err != nil {
			d.log.Error("deliver notification",
				"course_id", target.CourseID, "assignment_id", target.AssignmentID,
				"submission_id", sub.ID, "student", sub.UserName, "error", err)
			res.Failed = append(res.Failed, sub.ID)
			continue
		}

		// The mark must be durable before the item counts as done. A crash
		// between send and mark means at most one duplicate next cycle,
		// never a silent miss.
		if err := d.store.MarkSeen(ctx, target.Key(), sub.ID, sub.Attempt); err != nil {
			d.log.Error("mark seen",
				"course_id", target.CourseID, "assignment_id", target.AssignmentID,
				"submission_id", sub.ID, "error", err)
			res.Failed = append(res.Failed, sub.ID)
			continue
		}

		d.log.Info("notified",
			"course_id", target.CourseID, "assignment_id", target.AssignmentID,
			"submission_id", sub.ID, "student", sub.UserName, "attempt", sub.Attempt)
		res.Delivered = append(res.Delivered, sub.ID)
	}

	return res, nil
}

// deliver sends one message, retrying with capped exponential backoff up to
// the configured number of attempts.
func (d *Detector) deliver(ctx context.Context, submissionID int64, msg string) error {
	attempts := 0
	backoff := retry.WithMaxRetries(uint64(d.opts.MaxAttempts-1), retry.NewExponential(d.opts.RetryBackoff))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempts++
		if err := d.notifier.Send(ctx, msg); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return &DeliveryError{SubmissionID: submissionID, Attempts: attempts, Err: err}
	}
	return nil
}
