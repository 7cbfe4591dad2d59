package notify

import (
	"fmt"

	"canvas_notifier/internal/model"
)

// FormatSubmission formats a new-submission notification message.
func FormatSubmission(sub model.Submission, courseName, assignmentName string) string {
	return fmt.Sprintf("New submission: %s submitted '%s' in %s at %s",
		sub.UserName, assignmentName, courseName, formatTime(sub))
}

// FormatResubmission formats the message sent when an already-notified
// submission is submitted again (re-notify mode only).
func FormatResubmission(sub model.Submission, courseName, assignmentName string) string {
	return fmt.Sprintf("Updated submission: %s resubmitted '%s' in %s at %s (attempt %d)",
		sub.UserName, assignmentName, courseName, formatTime(sub), sub.Attempt)
}

func formatTime(sub model.Submission) string {
	if sub.SubmittedAt == nil {
		return "unknown time"
	}
	return sub.SubmittedAt.UTC().Format("2006-01-02 15:04 UTC")
}
