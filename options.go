package procio

import "time"

type submitOptions struct {
	id        string
	maxRetry  int
	delay     time.Duration
	extension any
}

// SubmitOption configures job creation during Submit or re-entry during
// RetryFailed.
type SubmitOption func(*submitOptions)

// JobID sets a custom ID for the job. If not provided, a random UUID will
// be generated. Submitting the same ID twice returns the existing job.
func JobID(id string) SubmitOption {
	return func(o *submitOptions) {
		o.id = id
	}
}

// MaxRetry sets the maximum number of retries after the first attempt.
func MaxRetry(n int) SubmitOption {
	return func(o *submitOptions) {
		o.maxRetry = n
	}
}

// Delay schedules the job to start after the specified duration instead of
// immediately.
func Delay(d time.Duration) SubmitOption {
	return func(o *submitOptions) {
		o.delay = d
	}
}

// WithExtension attaches a task-type-specific extension record, stored 1:1
// with the job and deleted together with it.
func WithExtension(v any) SubmitOption {
	return func(o *submitOptions) {
		o.extension = v
	}
}

type statusUpdate struct {
	result      map[string]any
	errMsg      string
	attempts    int
	from        Status
	errSet      bool
	attemptsSet bool
	fromSet     bool
}

// StatusOption carries the optional fields of an UpdateStatus call.
type StatusOption func(*statusUpdate)

// WithResult sets the result payload; only honored on the transition to
// StatusCompleted.
func WithResult(r map[string]any) StatusOption {
	return func(u *statusUpdate) {
		u.result = r
	}
}

// WithError sets the error string; only honored on the transition to
// StatusFailed.
func WithError(msg string) StatusOption {
	return func(u *statusUpdate) {
		u.errMsg = msg
		u.errSet = true
	}
}

// WithAttemptCount overwrites the attempt counter as part of the same
// atomic write.
func WithAttemptCount(n int) StatusOption {
	return func(u *statusUpdate) {
		u.attempts = n
		u.attemptsSet = true
	}
}

// WithFromStatus applies the update only when the job currently has the
// given status. A mismatch is rejected like an invalid transition: no
// mutation, UpdateStatus returns false.
func WithFromStatus(s Status) StatusOption {
	return func(u *statusUpdate) {
		u.from = s
		u.fromSet = true
	}
}
