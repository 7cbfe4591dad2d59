// Package scheduler drives detection cycles across all monitored targets and
// keeps the target set in sync with the Canvas API.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"canvas_notifier/internal/detector"
	"canvas_notifier/internal/model"
	"canvas_notifier/internal/storage"
)

// maxBackoffShift caps the failure backoff at interval * 2^5.
const maxBackoffShift = 5

// Discovery lists the courses and assignments from which targets are built.
type Discovery interface {
	ListCourses(ctx context.Context) ([]model.Course, error)
	ListAssignments(ctx context.Context, courseID int64) ([]model.Assignment, error)
}

// Options configure the Runner's cadences.
type Options struct {
	// PollInterval is the time between detection cycles of one target.
	PollInterval time.Duration
	// TickInterval is how often the runner looks for due targets.
	TickInterval time.Duration
	// DiscoverySchedule is a cron spec for target discovery, e.g. "@every 10m".
	DiscoverySchedule string
	// ShutdownTimeout bounds how long in-flight cycles may drain after the
	// run context is cancelled.
	ShutdownTimeout time.Duration
	// CourseIDs restricts discovery to the listed courses. Empty means all
	// courses the API user teaches.
	CourseIDs []int64
}

func (o Options) withDefaults() Options {
	if o.PollInterval <= 0 {
		o.PollInterval = time.Minute
	}
	if o.TickInterval <= 0 {
		o.TickInterval = 15 * time.Second
	}
	if o.DiscoverySchedule == "" {
		o.DiscoverySchedule = "@every 10m"
	}
	if o.ShutdownTimeout <= 0 {
		o.ShutdownTimeout = 10 * time.Second
	}
	return o
}

// Runner owns the set of monitored targets. It polls each due target on its
// own goroutine, serializing cycles per target, and refreshes the target set
// from discovery on a slower cadence. A failing target never stalls the rest.
type Runner struct {
	store     storage.Storage
	detector  *detector.Detector
	discovery Discovery
	log       *slog.Logger
	opts      Options

	mu       sync.Mutex
	inFlight map[model.TargetKey]bool
	wg       sync.WaitGroup
}

// New creates a Runner.
func New(store storage.Storage, det *detector.Detector, disc Discovery, opts Options, log *slog.Logger) *Runner {
	return &Runner{
		store:     store,
		detector:  det,
		discovery: disc,
		log:       log,
		opts:      opts.withDefaults(),
		inFlight:  make(map[model.TargetKey]bool),
	}
}

// Run blocks until ctx is cancelled. Discovery runs once synchronously
// before polling starts so a fresh database gets targets immediately.
// After cancellation, in-flight cycles may drain for up to ShutdownTimeout.
func (r *Runner) Run(ctx context.Context) {
	// Cycles run on a work context detached from ctx so they can finish
	// during the drain window.
	workCtx, cancelWork := context.WithCancel(context.Background())
	defer cancelWork()

	r.DiscoverTargets(workCtx)

	c := cron.New()
	if _, err := c.AddFunc(r.opts.DiscoverySchedule, func() { r.DiscoverTargets(workCtx) }); err != nil {
		r.log.Error("add discovery cron job", "schedule", r.opts.DiscoverySchedule, "error", err)
	} else {
		c.Start()
		defer c.Stop()
	}

	r.dispatchDue(workCtx)

	ticker := time.NewTicker(r.opts.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.drain(cancelWork)
			return
		case <-ticker.C:
			r.dispatchDue(workCtx)
		}
	}
}

// drain waits for in-flight cycles, hard-cancelling them once the shutdown
// timeout expires.
func (r *Runner) drain(cancelWork context.CancelFunc) {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(r.opts.ShutdownTimeout):
		r.log.Warn("shutdown timeout reached, cancelling in-flight cycles")
		cancelWork()
		<-done
	}
}

// dispatchDue starts a detection cycle for every due target that does not
// already have one running.
func (r *Runner) dispatchDue(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	targets, err := r.store.ListDueTargets(ctx, time.Now().UTC())
	if err != nil {
		r.log.Error("list due targets", "error", err)
		return
	}

	for _, target := range targets {
		key := target.Key()

		r.mu.Lock()
		if r.inFlight[key] {
			r.mu.Unlock()
			continue
		}
		r.inFlight[key] = true
		r.mu.Unlock()

		r.wg.Add(1)
		go func(t model.Target) {
			defer r.wg.Done()
			defer func() {
				r.mu.Lock()
				delete(r.inFlight, t.Key())
				r.mu.Unlock()
			}()
			r.runCycle(ctx, t)
		}(target)
	}
}

// runCycle runs one detection cycle and records the target's next poll time.
// Failed cycles back off exponentially; a success resets the backoff.
func (r *Runner) runCycle(ctx context.Context, target model.Target) {
	res, err := r.detector.Check(ctx, target)

	failCount := 0
	switch {
	case err == nil && len(res.Failed) == 0:
		if len(res.Delivered) > 0 {
			r.log.Info("cycle complete",
				"course_id", target.CourseID, "assignment_id", target.AssignmentID,
				"delivered", len(res.Delivered))
		}
	case errors.Is(err, context.Canceled):
		// Shutdown interrupted the cycle; poll again on the normal cadence
		// after restart.
	case err != nil:
		failCount = target.FailCount + 1
		r.log.Error("cycle failed",
			"course_id", target.CourseID, "assignment_id", target.AssignmentID,
			"consecutive_failures", failCount, "error", err)
	default:
		failCount = target.FailCount + 1
		r.log.Error("cycle had failed deliveries",
			"course_id", target.CourseID, "assignment_id", target.AssignmentID,
			"delivered", len(res.Delivered), "failed", len(res.Failed),
			"consecutive_failures", failCount)
	}

	if ctx.Err() != nil {
		return
	}

	next := time.Now().UTC().Add(r.nextDelay(failCount))
	if err := r.store.RecordPoll(ctx, target.ID, next, failCount); err != nil {
		r.log.Error("record poll",
			"course_id", target.CourseID, "assignment_id", target.AssignmentID, "error", err)
	}
}

func (r *Runner) nextDelay(failCount int) time.Duration {
	shift := failCount
	if shift > maxBackoffShift {
		shift = maxBackoffShift
	}
	return r.opts.PollInterval * (1 << shift)
}

// DiscoverTargets refreshes the monitored target set from Canvas: published
// assignments of each course become active targets, and targets whose
// assignment disappeared are deactivated. Seen entries are never touched.
func (r *Runner) DiscoverTargets(ctx context.Context) {
	courses, err := r.discovery.ListCourses(ctx)
	if err != nil {
		r.log.Error("discover courses", "error", err)
		return
	}

	for _, course := range courses {
		if ctx.Err() != nil {
			return
		}
		if !r.courseWanted(course.ID) {
			continue
		}

		assignments, err := r.discovery.ListAssignments(ctx, course.ID)
		if err != nil {
			// Skip the course this round; its existing targets keep polling.
			r.log.Error("discover assignments", "course_id", course.ID, "error", err)
			continue
		}

		var keep []int64
		for _, a := range assignments {
			if !a.Published {
				continue
			}
			target := model.Target{
				CourseID:       course.ID,
				AssignmentID:   a.ID,
				CourseName:     course.Name,
				AssignmentName: a.Name,
			}
			if err := r.store.UpsertTarget(ctx, &target); err != nil {
				r.log.Error("upsert target",
					"course_id", course.ID, "assignment_id", a.ID, "error", err)
				continue
			}
			keep = append(keep, a.ID)
		}

		if err := r.store.DeactivateMissingTargets(ctx, course.ID, keep); err != nil {
			r.log.Error("deactivate missing targets", "course_id", course.ID, "error", err)
		}
	}
}

func (r *Runner) courseWanted(id int64) bool {
	if len(r.opts.CourseIDs) == 0 {
		return true
	}
	for _, want := range r.opts.CourseIDs {
		if want == id {
			return true
		}
	}
	return false
}
