package procio

// Status represents a job lifecycle status.
// Use the exported constants (StatusPending, StatusProcessing, etc.)
// instead of raw strings to avoid typos.
type Status string

const (
	// StatusPending means the job is created and waiting for a worker.
	StatusPending Status = "pending"
	// StatusProcessing means a worker is executing (or retrying) the job.
	StatusProcessing Status = "processing"
	// StatusCompleted means the job finished successfully. Terminal.
	StatusCompleted Status = "completed"
	// StatusFailed means the job permanently failed. Terminal except for
	// an explicit retry re-entry to StatusProcessing.
	StatusFailed Status = "failed"
)

// AllStatuses lists every valid status in a stable order.
var AllStatuses = []Status{StatusPending, StatusProcessing, StatusCompleted, StatusFailed}

// String returns the raw string value of the status.
func (s Status) String() string { return string(s) }

// ParseStatus converts a string into a Status, returning an error for
// unknown values.
func ParseStatus(s string) (Status, error) {
	switch s {
	case string(StatusPending):
		return StatusPending, nil
	case string(StatusProcessing):
		return StatusProcessing, nil
	case string(StatusCompleted):
		return StatusCompleted, nil
	case string(StatusFailed):
		return StatusFailed, nil
	default:
		return "", ErrUnknownStatus
	}
}

// transitions is the closed table of allowed status changes. COMPLETED has
// no outgoing edges; FAILED -> PROCESSING is the explicit retry re-entry.
var transitions = map[Status][]Status{
	StatusPending:    {StatusProcessing, StatusFailed},
	StatusProcessing: {StatusCompleted, StatusFailed},
	StatusFailed:     {StatusProcessing},
	StatusCompleted:  {},
}

// CanTransition reports whether a status change from -> to is allowed.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
