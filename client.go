package procio

import (
	"context"
	"time"

	ikeys "github.com/Procio/procio-go/internal/keys"
	"github.com/Procio/procio-go/internal/metrics"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Client provides APIs to submit and inspect jobs.
type Client struct {
	rdb       redis.UniversalClient
	mgr       *Manager
	enc       Encoder
	artifacts ArtifactStore
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithArtifactStore sets the blob store DeleteJob reclaims artifacts from
// before removing a record. Defaults to NopArtifactStore.
func WithArtifactStore(a ArtifactStore) ClientOption {
	return func(c *Client) {
		c.artifacts = a
	}
}

// NewClient creates a new procio client with default manager settings.
func NewClient(rdb redis.UniversalClient, opts ...ClientOption) *Client {
	return NewClientWithManager(rdb, NewManager(rdb, ManagerConfig{}), opts...)
}

// NewClientWithManager creates a client sharing an existing Manager, so
// lock and retention settings match the server's.
func NewClientWithManager(rdb redis.UniversalClient, mgr *Manager, opts ...ClientOption) *Client {
	c := &Client{rdb: rdb, mgr: mgr, enc: &JSONEncoder{}, artifacts: NopArtifactStore{}}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Submit creates a job (PENDING) and queues it for execution. If the ID
// (explicit or generated) already has a record, the existing job ID is
// returned unchanged and nothing is re-queued. The returned ID is used for
// polling and download.
func (c *Client) Submit(ctx context.Context, taskType string, input map[string]any, opts ...SubmitOption) (string, error) {
	cfg := &submitOptions{}
	for _, opt := range opts {
		opt(cfg)
	}

	id := cfg.id
	if id == "" {
		id = uuid.NewString()
	}

	j, created, err := c.mgr.GetOrCreate(ctx, id, taskType, input, cfg.maxRetry)
	if err != nil {
		return "", err
	}
	if !created {
		return j.ID, nil
	}

	if cfg.extension != nil {
		if err := c.mgr.SetExtension(ctx, id, cfg.extension); err != nil {
			_ = c.mgr.removeJob(ctx, j)
			return "", err
		}
	}

	if err := c.enqueue(ctx, id, cfg.delay); err != nil {
		// Roll back the record so a failed submission is retryable.
		_ = c.mgr.removeJob(ctx, j)
		return "", err
	}

	metrics.JobsSubmittedTotal.WithLabelValues(taskType).Inc()
	return id, nil
}

func (c *Client) enqueue(ctx context.Context, id string, delay time.Duration) error {
	if delay > 0 {
		due := time.Now().Add(delay).Unix()
		return c.rdb.ZAdd(ctx, ikeys.Delayed(), redis.Z{Score: float64(due), Member: id}).Err()
	}
	return c.rdb.LPush(ctx, ikeys.Pending(), id).Err()
}

// StatusInfo is the polling view of a job.
type StatusInfo struct {
	JobID        string         `json:"job_id"`
	Status       Status         `json:"status"`
	CreatedAt    int64          `json:"created_at"`
	UpdatedAt    int64          `json:"updated_at"`
	AttemptCount int            `json:"attempt_count"`
	Progress     *Progress      `json:"progress,omitempty"`
	Result       map[string]any `json:"result,omitempty"`
	Error        string         `json:"error,omitempty"`
}

// GetStatus returns the current status view of a job. It does not take
// the job lock; it observes the last committed record. Returns
// ErrJobNotFound if no record exists.
func (c *Client) GetStatus(ctx context.Context, id string) (*StatusInfo, error) {
	j, err := c.mgr.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return &StatusInfo{
		JobID:        j.ID,
		Status:       j.Status,
		CreatedAt:    j.CreatedAt,
		UpdatedAt:    j.UpdatedAt,
		AttemptCount: j.AttemptCount,
		Progress:     j.Progress,
		Result:       j.Result,
		Error:        j.Error,
	}, nil
}

// IsDownloadable reports whether the job's artifact can be served: the job
// is COMPLETED and its artifacts have not been reclaimed. Returns
// ErrJobNotFound for unknown jobs and ErrArtifactGone once the sweeper has
// reclaimed the artifacts of a record that still exists.
func (c *Client) IsDownloadable(ctx context.Context, id string) (bool, error) {
	j, err := c.mgr.Get(ctx, id)
	if err != nil {
		return false, err
	}
	if j.ArtifactsReclaimed {
		return false, ErrArtifactGone
	}
	return j.Status == StatusCompleted, nil
}

// GetExtension decodes the job's task-type-specific extension record.
func (c *Client) GetExtension(ctx context.Context, id string, dst any) error {
	return c.mgr.GetExtension(ctx, id, dst)
}

// RetryFailed re-enters a FAILED job into PROCESSING (the explicit retry
// edge), resets its attempt counter and error, and queues it again.
// Returns ErrNotFailed when the job is in any other status.
func (c *Client) RetryFailed(ctx context.Context, id string, opts ...SubmitOption) error {
	cfg := &submitOptions{}
	for _, opt := range opts {
		opt(cfg)
	}

	// The from-guard matters: PENDING -> PROCESSING is also a legal edge,
	// and a bare transition would hijack a queued job.
	ok, err := c.mgr.UpdateStatus(ctx, id, StatusProcessing,
		WithAttemptCount(0), WithFromStatus(StatusFailed))
	if err != nil {
		return err
	}
	if !ok {
		// Distinguish a wrong-status rejection from a missing job.
		if _, gerr := c.mgr.Get(ctx, id); gerr != nil {
			return gerr
		}
		return ErrNotFailed
	}
	return c.enqueue(ctx, id, cfg.delay)
}

// JobFilter is a function used to filter jobs during ListJobs.
type JobFilter func(*Job) bool

// ListJobs returns jobs currently in the given status, ordered by
// creation time, optionally filtered by any field.
func (c *Client) ListJobs(ctx context.Context, status Status, filter JobFilter) ([]*Job, error) {
	if _, err := ParseStatus(status.String()); err != nil {
		return nil, err
	}
	ids, err := c.rdb.ZRange(ctx, ikeys.IdxCreated(status.String()), 0, -1).Result()
	if err != nil && err != redis.Nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	recKeys := make([]string, len(ids))
	for i, id := range ids {
		recKeys[i] = ikeys.Record(id)
	}
	raws, err := c.rdb.MGet(ctx, recKeys...).Result()
	if err != nil {
		return nil, err
	}

	out := make([]*Job, 0, len(raws))
	for _, raw := range raws {
		s, ok := raw.(string)
		if !ok {
			continue // record deleted between index read and fetch
		}
		var j Job
		if err := c.enc.Decode([]byte(s), &j); err != nil {
			continue
		}
		if j.Status != status {
			continue
		}
		if filter == nil || filter(&j) {
			out = append(out, &j)
		}
	}
	return out, nil
}

// DeleteJob removes a job record, its extension, queue entries and any
// remaining artifacts. Jobs currently PROCESSING cannot be deleted
// (ErrJobProcessing). Artifacts are reclaimed before the record goes: a
// failed artifact delete aborts so the call can be retried, since the
// sweeper cannot find a job once its record and index entries are gone.
func (c *Client) DeleteJob(ctx context.Context, id string) error {
	return c.mgr.withJobLock(ctx, id, func() error {
		j, err := c.mgr.getRecord(ctx, id)
		if err != nil {
			return err
		}
		if j.Status == StatusProcessing {
			return ErrJobProcessing
		}
		if !j.ArtifactsReclaimed {
			if err := c.artifacts.Remove(ctx, id); err != nil {
				return err
			}
		}
		return c.mgr.removeJob(ctx, j)
	})
}
