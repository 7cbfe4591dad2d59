package detector

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"canvas_notifier/internal/model"
	"canvas_notifier/internal/storage"
)

type fakeSource struct {
	mu   sync.Mutex
	subs map[model.TargetKey][]model.Submission
	err  error
}

func (f *fakeSource) ListSubmissions(_ context.Context, courseID, assignmentID int64) ([]model.Submission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.subs[model.TargetKey{CourseID: courseID, AssignmentID: assignmentID}], nil
}

func (f *fakeSource) set(key model.TargetKey, subs []model.Submission) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subs == nil {
		f.subs = make(map[model.TargetKey][]model.Submission)
	}
	f.subs[key] = subs
}

// fakeNotifier fails the first failures sends, then succeeds.
type fakeNotifier struct {
	mu       sync.Mutex
	messages []string
	attempts int
	failures int
}

func (f *fakeNotifier) Send(_ context.Context, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts++
	if f.attempts <= f.failures {
		return errors.New("channel unavailable")
	}
	f.messages = append(f.messages, message)
	return nil
}

func (f *fakeNotifier) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]string, len(f.messages))
	copy(cp, f.messages)
	return cp
}

func newTestStore(t *testing.T) *storage.SQLite {
	t.Helper()
	s, err := storage.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testOptions() Options {
	return Options{MaxAttempts: 3, RetryBackoff: time.Millisecond}
}

var testTarget = model.Target{
	ID:             1,
	CourseID:       10,
	AssignmentID:   55,
	CourseName:     "Intro to Systems",
	AssignmentName: "Homework 1",
	IsActive:       true,
}

func submission(id, userID int64, name string, attempt int64) model.Submission {
	at := time.Date(2025, 9, 12, 14, 3, 0, 0, time.UTC)
	return model.Submission{
		ID: id, UserID: userID, UserName: name,
		SubmittedAt: &at, Attempt: attempt, WorkflowState: "submitted",
	}
}

func TestCheckNotifiesOnlyNewSubmissions(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	source := &fakeSource{}
	notifier := &fakeNotifier{}
	d := New(source, store, notifier, testOptions(), testLogger())

	// First cycle: S1 is new.
	source.set(testTarget.Key(), []model.Submission{
		submission(9001, 301, "Ada Lovelace", 1),
	})
	res, err := d.Check(ctx, testTarget)
	if err != nil {
		t.Fatalf("first cycle: %v", err)
	}
	if diff := cmp.Diff(Result{Delivered: []int64{9001}}, res); diff != "" {
		t.Errorf("first cycle result mismatch (-want +got):\n%s", diff)
	}

	// Second cycle: S2 appears; only S2 is notified.
	source.set(testTarget.Key(), []model.Submission{
		submission(9001, 301, "Ada Lovelace", 1),
		submission(9002, 303, "Grace Hopper", 1),
	})
	res, err = d.Check(ctx, testTarget)
	if err != nil {
		t.Fatalf("second cycle: %v", err)
	}
	if diff := cmp.Diff(Result{Delivered: []int64{9002}}, res); diff != "" {
		t.Errorf("second cycle result mismatch (-want +got):\n%s", diff)
	}

	msgs := notifier.sent()
	if len(msgs) != 2 {
		t.Fatalf("expected exactly 2 deliveries across both cycles, got %d: %v", len(msgs), msgs)
	}

	// Third cycle with no changes: nothing is delivered.
	res, err = d.Check(ctx, testTarget)
	if err != nil {
		t.Fatalf("third cycle: %v", err)
	}
	if len(res.Delivered) != 0 || len(res.Failed) != 0 {
		t.Errorf("expected empty result for unchanged source, got %+v", res)
	}
}

func TestCheckSkipsUnsubmittedPlaceholders(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	source := &fakeSource{}
	notifier := &fakeNotifier{}
	d := New(source, store, notifier, testOptions(), testLogger())

	source.set(testTarget.Key(), []model.Submission{
		{ID: 9001, UserID: 301, UserName: "Ada Lovelace", WorkflowState: model.WorkflowUnsubmitted},
	})

	res, err := d.Check(ctx, testTarget)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if len(res.Delivered) != 0 {
		t.Errorf("placeholder submissions must not notify, delivered %v", res.Delivered)
	}

	seen, err := store.IsSeen(ctx, testTarget.Key(), 9001)
	if err != nil {
		t.Fatalf("is seen: %v", err)
	}
	if seen {
		t.Error("placeholder submission must not be marked seen")
	}
}

func TestCheckEmptySourceIsSuccess(t *testing.T) {
	store := newTestStore(t)
	source := &fakeSource{}
	notifier := &fakeNotifier{}
	d := New(source, store, notifier, testOptions(), testLogger())

	res, err := d.Check(context.Background(), testTarget)
	if err != nil {
		t.Fatalf("expected success for empty submission list, got %v", err)
	}
	if len(res.Delivered) != 0 || len(res.Failed) != 0 {
		t.Errorf("expected empty result, got %+v", res)
	}
}

func TestCheckSourceFailure(t *testing.T) {
	store := newTestStore(t)
	source := &fakeSource{err: errors.New("connection refused")}
	notifier := &fakeNotifier{}
	d := New(source, store, notifier, testOptions(), testLogger())

	_, err := d.Check(context.Background(), testTarget)
	if !errors.Is(err, ErrSourceUnavailable) {
		t.Fatalf("expected ErrSourceUnavailable, got %v", err)
	}
	if len(notifier.sent()) != 0 {
		t.Error("no deliveries expected when the source is unavailable")
	}
}

func TestCheckRetriesDeliveryWithinCycle(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	source := &fakeSource{}
	notifier := &fakeNotifier{failures: 2} // fails twice, third attempt succeeds
	d := New(source, store, notifier, testOptions(), testLogger())

	source.set(testTarget.Key(), []model.Submission{
		submission(9003, 303, "Grace Hopper", 1),
	})

	res, err := d.Check(ctx, testTarget)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if diff := cmp.Diff(Result{Delivered: []int64{9003}}, res); diff != "" {
		t.Errorf("result mismatch (-want +got):\n%s", diff)
	}
	if notifier.attempts != 3 {
		t.Errorf("expected exactly 3 delivery attempts, got %d", notifier.attempts)
	}

	seen, err := store.IsSeen(ctx, testTarget.Key(), 9003)
	if err != nil {
		t.Fatalf("is seen: %v", err)
	}
	if !seen {
		t.Error("submission should be marked seen after eventual success")
	}
}

func TestCheckExhaustedRetriesLeaveUnmarked(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	source := &fakeSource{}
	notifier := &fakeNotifier{failures: 100}
	d := New(source, store, notifier, testOptions(), testLogger())

	source.set(testTarget.Key(), []model.Submission{
		submission(9004, 304, "Alan Turing", 1),
	})

	res, err := d.Check(ctx, testTarget)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if diff := cmp.Diff(Result{Failed: []int64{9004}}, res); diff != "" {
		t.Errorf("result mismatch (-want +got):\n%s", diff)
	}
	if notifier.attempts != 3 {
		t.Errorf("expected 3 attempts before giving up, got %d", notifier.attempts)
	}

	// The submission stays unmarked, so the next cycle retries and succeeds.
	seen, err := store.IsSeen(ctx, testTarget.Key(), 9004)
	if err != nil {
		t.Fatalf("is seen: %v", err)
	}
	if seen {
		t.Fatal("failed delivery must not be marked seen")
	}

	notifier.mu.Lock()
	notifier.failures = 0
	notifier.mu.Unlock()

	res, err = d.Check(ctx, testTarget)
	if err != nil {
		t.Fatalf("retry cycle: %v", err)
	}
	if diff := cmp.Diff(Result{Delivered: []int64{9004}}, res); diff != "" {
		t.Errorf("retry cycle result mismatch (-want +got):\n%s", diff)
	}
}

func TestCheckResubmissionDefaultPolicy(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	source := &fakeSource{}
	notifier := &fakeNotifier{}
	d := New(source, store, notifier, testOptions(), testLogger())

	source.set(testTarget.Key(), []model.Submission{
		submission(9001, 301, "Ada Lovelace", 1),
	})
	if _, err := d.Check(ctx, testTarget); err != nil {
		t.Fatalf("first cycle: %v", err)
	}

	// Same submission resubmitted with a higher attempt: no second message
	// under the default policy.
	source.set(testTarget.Key(), []model.Submission{
		submission(9001, 301, "Ada Lovelace", 2),
	})
	res, err := d.Check(ctx, testTarget)
	if err != nil {
		t.Fatalf("second cycle: %v", err)
	}
	if len(res.Delivered) != 0 {
		t.Errorf("resubmission must not re-notify by default, delivered %v", res.Delivered)
	}
	if got := len(notifier.sent()); got != 1 {
		t.Errorf("expected exactly 1 message total, got %d", got)
	}
}

func TestCheckResubmissionRenotifyMode(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	source := &fakeSource{}
	notifier := &fakeNotifier{}
	opts := testOptions()
	opts.RenotifyOnResubmit = true
	d := New(source, store, notifier, opts, testLogger())

	source.set(testTarget.Key(), []model.Submission{
		submission(9001, 301, "Ada Lovelace", 1),
	})
	if _, err := d.Check(ctx, testTarget); err != nil {
		t.Fatalf("first cycle: %v", err)
	}

	source.set(testTarget.Key(), []model.Submission{
		submission(9001, 301, "Ada Lovelace", 2),
	})
	res, err := d.Check(ctx, testTarget)
	if err != nil {
		t.Fatalf("second cycle: %v", err)
	}
	if diff := cmp.Diff(Result{Delivered: []int64{9001}}, res); diff != "" {
		t.Errorf("renotify result mismatch (-want +got):\n%s", diff)
	}

	// The stored version is bumped, so a third cycle with the same attempt
	// stays quiet.
	res, err = d.Check(ctx, testTarget)
	if err != nil {
		t.Fatalf("third cycle: %v", err)
	}
	if len(res.Delivered) != 0 {
		t.Errorf("same attempt must not re-notify twice, delivered %v", res.Delivered)
	}
	if got := len(notifier.sent()); got != 2 {
		t.Errorf("expected 2 messages total, got %d", got)
	}
}
