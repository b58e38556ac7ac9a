package procio

// Progress is a mid-execution checkpoint written by the processor and
// visible to status pollers before the job reaches a terminal state.
type Progress struct {
	Stage   string `json:"stage"`
	Percent int    `json:"percent"`
	Message string `json:"message,omitempty"`
}

// Job is the persisted record of a unit of asynchronous work.
// It is serialized to JSON and stored in Redis.
type Job struct {
	// ID is the unique, immutable identifier for the job.
	ID string `json:"id"`
	// TaskType identifies which processor handles this job.
	TaskType string `json:"task_type"`
	// Status is the current lifecycle status; it only changes through the
	// transition table enforced by the Manager.
	Status Status `json:"status"`
	// InputData is the opaque work request payload.
	InputData map[string]any `json:"input_data,omitempty"`
	// Result is populated only when the job completes.
	Result map[string]any `json:"result,omitempty"`
	// Error is populated only when the job permanently fails.
	Error string `json:"error,omitempty"`
	// AttemptCount is the number of execution attempts started so far.
	AttemptCount int `json:"attempt_count"`
	// MaxRetry is the maximum number of retries after the first attempt.
	MaxRetry int `json:"max_retry"`
	// Progress is the latest mid-execution checkpoint, if any.
	Progress *Progress `json:"progress,omitempty"`
	// CreatedAt is the timestamp (ms) when the job record was created.
	CreatedAt int64 `json:"created_at"`
	// UpdatedAt is the timestamp (ms) of the last record mutation.
	// Invariant: CreatedAt <= UpdatedAt.
	UpdatedAt int64 `json:"updated_at"`
	// ExpiresAt is the derived retention deadline (ms), stamped when the
	// job reaches a terminal status.
	ExpiresAt int64 `json:"expires_at,omitempty"`
	// ArtifactsReclaimed is set by the sweeper once the job's artifacts
	// have been deleted; a record observed with this flag is Gone rather
	// than merely not downloadable.
	ArtifactsReclaimed bool `json:"artifacts_reclaimed,omitempty"`
	// ReapAttempts counts failed artifact-deletion attempts by the
	// sweeper; past a bound the record is deleted anyway.
	ReapAttempts int `json:"reap_attempts,omitempty"`
}

// Terminal reports whether the job is in a terminal status.
func (j *Job) Terminal() bool {
	return j.Status == StatusCompleted || j.Status == StatusFailed
}
