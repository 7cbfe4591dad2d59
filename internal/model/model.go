// Package model defines the domain types used across the application.
package model

import "time"

// WorkflowUnsubmitted marks the placeholder submissions Canvas creates for
// every enrolled student the moment an assignment is published.
const WorkflowUnsubmitted = "unsubmitted"

// Target is one (course, assignment) pair being monitored for new
// submissions. Targets are discovered from the Canvas API and persisted;
// assignments that disappear are deactivated, never deleted, so their
// seen submissions survive.
type Target struct {
	ID             int64
	CourseID       int64
	AssignmentID   int64
	CourseName     string
	AssignmentName string
	IsActive       bool
	FailCount      int
	NextPollAt     *time.Time
	CreatedAt      time.Time
}

// Key returns the identity of the monitored pair, independent of the
// storage row ID.
func (t Target) Key() TargetKey {
	return TargetKey{CourseID: t.CourseID, AssignmentID: t.AssignmentID}
}

// TargetKey identifies a monitored (course, assignment) pair.
type TargetKey struct {
	CourseID     int64
	AssignmentID int64
}

// Submission is one student submission as reported by Canvas.
// ID is stable across polls even when the student resubmits; Attempt
// increases by one on every resubmission.
type Submission struct {
	ID            int64
	UserID        int64
	UserName      string
	SubmittedAt   *time.Time
	Attempt       int64
	WorkflowState string
}

// Submitted reports whether the record is a real submission rather than
// a Canvas placeholder.
func (s Submission) Submitted() bool {
	return s.WorkflowState != WorkflowUnsubmitted && s.WorkflowState != ""
}

// SeenEntry records that a submission has already caused a notification.
type SeenEntry struct {
	CourseID       int64
	AssignmentID   int64
	SubmissionID   int64
	NotifiedAt     time.Time
	ContentVersion int64
}

// Course is a Canvas course the API user teaches.
type Course struct {
	ID            int64
	Name          string
	Code          string
	Term          string
	TotalStudents int
}

// Assignment is a Canvas assignment within a course.
type Assignment struct {
	ID                int64
	Name              string
	Published         bool
	DueAt             *time.Time
	NeedsGradingCount int
}

// User is the authenticated Canvas user, fetched at startup to verify
// the API token.
type User struct {
	ID   int64
	Name string
}
