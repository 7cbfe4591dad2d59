package detector

import (
	"errors"
	"fmt"
)

// ErrSourceUnavailable wraps a failed submission fetch. The cycle for that
// target is abandoned; nothing is written to storage and the next cycle
// retries naturally.
var ErrSourceUnavailable = errors.New("submission source unavailable")

// DeliveryError reports that notification delivery for one submission
// failed after all retry attempts. The submission stays unmarked so the
// next cycle retries it.
type DeliveryError struct {
	SubmissionID int64
	Attempts     int
	Err          error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("delivery for submission %d failed after %d attempts: %v",
		e.SubmissionID, e.Attempts, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }
