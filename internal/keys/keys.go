package keys

// Package keys centralizes Redis key construction.
// It is kept in internal to avoid leaking key formats to public API.
//
// Per-job keys carry a {job-id} hash tag so a job's record, lock and
// extension land in the same cluster slot and can be written in one
// transaction. Index and queue keys are shared across jobs.

func Record(id string) string    { return "procio:{" + id + "}:job" }
func Extension(id string) string { return "procio:{" + id + "}:ext" }
func Lock(id string) string      { return "procio:{" + id + "}:lock" }

// Job holds all precomputed per-job keys to avoid repeated concatenations.
type Job struct {
	Record    string
	Extension string
	Lock      string
}

// For returns the set of precomputed keys for the provided job ID.
func For(id string) Job {
	prefix := "procio:{" + id + "}:"
	return Job{
		Record:    prefix + "job",
		Extension: prefix + "ext",
		Lock:      prefix + "lock",
	}
}

// IdxUpdated is the per-status ZSET indexing job IDs by updated_at (ms).
// The sweeper scans it for terminal-retention candidates.
func IdxUpdated(status string) string { return "procio:idx:" + status + ":updated" }

// IdxCreated is the per-status ZSET indexing job IDs by created_at (ms).
// The sweeper scans it for pending/processing retention candidates.
func IdxCreated(status string) string { return "procio:idx:" + status + ":created" }

// Pending is the LIST of job IDs ready for execution.
func Pending() string { return "procio:queue:pending" }

// Delayed is the ZSET of job IDs in retry backoff, scored by the absolute
// unix timestamp at which they become due.
func Delayed() string { return "procio:queue:delayed" }
