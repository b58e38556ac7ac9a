package procio

import "errors"

var (
	// Not found errors.

	// ErrJobNotFound is returned when no record exists for the job ID.
	ErrJobNotFound = errors.New("procio: job not found")
	// ErrArtifactGone is returned by the download path when the sweeper
	// has reclaimed a job's artifacts while its record still exists.
	ErrArtifactGone = errors.New("procio: artifact reclaimed")
	// ErrExtensionNotFound is returned when a job has no extension record.
	ErrExtensionNotFound = errors.New("procio: extension not found")

	// State errors.

	// ErrUnknownStatus is returned when an invalid status string is used.
	ErrUnknownStatus = errors.New("procio: unknown status")
	// ErrJobProcessing is returned when an operation is not allowed on a
	// job that is currently processing.
	ErrJobProcessing = errors.New("procio: job is processing")
	// ErrNotFailed is returned by RetryFailed when the job is not FAILED.
	ErrNotFailed = errors.New("procio: job is not failed")

	// Storage errors.

	// ErrLockWaitTimeout is returned when the per-job lock could not be
	// acquired within the bounded wait. It classifies as StorageTransient.
	ErrLockWaitTimeout = errors.New("procio: lock wait timeout")

	// Collaborator error classes. Processors wrap these so the classifier
	// can map failures to retry decisions without inspecting messages.

	// ErrServiceUnavailable marks a dependent tool or service as
	// unreachable; retried with a longer backoff.
	ErrServiceUnavailable = errors.New("procio: external service unavailable")
	// ErrValidation marks malformed or unsupported input; never retried.
	ErrValidation = errors.New("procio: validation error")
	// ErrResourceExhausted marks out-of-memory or disk-full conditions;
	// never retried, surfaced for operator alerting.
	ErrResourceExhausted = errors.New("procio: resource exhausted")
	// ErrNoProcessor indicates no processor is registered for the task
	// type; the job fails without retry.
	ErrNoProcessor = errors.New("procio: no processor for task type")
)
