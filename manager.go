package procio

import (
	"context"
	"errors"
	"time"

	ikeys "github.com/Procio/procio-go/internal/keys"
	"github.com/Procio/procio-go/internal/lock"
	"github.com/redis/go-redis/v9"
)

// ManagerConfig configures the job status manager.
type ManagerConfig struct {
	// LockTTL bounds how long a crashed lock holder can block a job.
	LockTTL time.Duration
	// LockWait bounds how long a mutation blocks on a contended job
	// before failing with ErrLockWaitTimeout.
	LockWait time.Duration
	// TerminalRetention is used to stamp ExpiresAt when a job reaches a
	// terminal status. Should match the sweeper's TerminalRetention.
	TerminalRetention time.Duration
	// DefaultMaxRetry applies to jobs created without an explicit value.
	DefaultMaxRetry int
	// Logger is used for transition rejections and fallback writes.
	Logger Logger
}

const defaultMaxRetry = 3

func (c *ManagerConfig) applyDefaults() {
	if c.LockTTL <= 0 {
		c.LockTTL = 30 * time.Second
	}
	if c.LockWait <= 0 {
		c.LockWait = 5 * time.Second
	}
	if c.TerminalRetention <= 0 {
		c.TerminalRetention = 24 * time.Hour
	}
	if c.DefaultMaxRetry <= 0 {
		c.DefaultMaxRetry = defaultMaxRetry
	}
	if c.Logger == nil {
		c.Logger = noopLogger{}
	}
}

// Manager serializes all mutations of a job record behind a per-job
// exclusive lock and enforces the status transition table. Reads do not
// take the lock and observe the last committed record.
type Manager struct {
	rdb    redis.UniversalClient
	enc    Encoder
	locker *lock.Locker
	cfg    ManagerConfig
	log    Logger
}

// NewManager creates a Manager on the given store handle.
func NewManager(rdb redis.UniversalClient, cfg ManagerConfig) *Manager {
	cfg.applyDefaults()
	return &Manager{
		rdb:    rdb,
		enc:    &JSONEncoder{},
		locker: lock.New(rdb, cfg.LockTTL, cfg.LockWait),
		cfg:    cfg,
		log:    cfg.Logger,
	}
}

// withJobLock runs fn while holding the job's exclusive lock.
func (m *Manager) withJobLock(ctx context.Context, id string, fn func() error) error {
	token, err := m.locker.Acquire(ctx, ikeys.Lock(id))
	if err != nil {
		if errors.Is(err, lock.ErrWaitTimeout) {
			return ErrLockWaitTimeout
		}
		return err
	}
	defer func() { _ = m.locker.Release(ctx, ikeys.Lock(id), token) }()
	return fn()
}

// getRecord reads and decodes a job record without locking.
func (m *Manager) getRecord(ctx context.Context, id string) (*Job, error) {
	raw, err := m.rdb.Get(ctx, ikeys.Record(id)).Bytes()
	if err == redis.Nil {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	var j Job
	if err := m.enc.Decode(raw, &j); err != nil {
		return nil, err
	}
	return &j, nil
}

// persist writes the record and maintains the (status, updated_at) and
// (status, created_at) indexes in one transaction. prev is the status the
// indexes currently reflect.
func (m *Manager) persist(ctx context.Context, j *Job, prev Status) error {
	raw, err := m.enc.Encode(j)
	if err != nil {
		return err
	}
	_, err = m.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, ikeys.Record(j.ID), raw, 0)
		if prev != "" && prev != j.Status {
			p.ZRem(ctx, ikeys.IdxUpdated(prev.String()), j.ID)
			p.ZRem(ctx, ikeys.IdxCreated(prev.String()), j.ID)
		}
		p.ZAdd(ctx, ikeys.IdxUpdated(j.Status.String()), redis.Z{Score: float64(j.UpdatedAt), Member: j.ID})
		p.ZAdd(ctx, ikeys.IdxCreated(j.Status.String()), redis.Z{Score: float64(j.CreatedAt), Member: j.ID})
		return nil
	})
	return err
}

// GetOrCreate returns the existing job for id, or atomically inserts a new
// PENDING record. Concurrent callers with the same id all observe the same
// final row; task type and input of an existing row are left untouched.
// The second return reports whether this call created the record.
func (m *Manager) GetOrCreate(ctx context.Context, id, taskType string, input map[string]any, maxRetry int) (*Job, bool, error) {
	if maxRetry <= 0 {
		maxRetry = m.cfg.DefaultMaxRetry
	}
	var j *Job
	var created bool
	err := m.withJobLock(ctx, id, func() error {
		existing, err := m.getRecord(ctx, id)
		if err == nil {
			j = existing
			return nil
		}
		if !errors.Is(err, ErrJobNotFound) {
			return err
		}
		now := time.Now().UnixMilli()
		j = &Job{
			ID:        id,
			TaskType:  taskType,
			Status:    StatusPending,
			InputData: input,
			MaxRetry:  maxRetry,
			CreatedAt: now,
			UpdatedAt: now,
		}
		created = true
		return m.persist(ctx, j, "")
	})
	if err != nil {
		return nil, false, err
	}
	return j, created, nil
}

// Get returns the job record without taking the lock.
func (m *Manager) Get(ctx context.Context, id string) (*Job, error) {
	return m.getRecord(ctx, id)
}

// UpdateStatus atomically validates and applies a status change. It
// returns false (with no mutation at all) when the transition is not in
// the allowed table. Result, error and attempt count are applied in the
// same write; result and error remain mutually exclusive.
func (m *Manager) UpdateStatus(ctx context.Context, id string, next Status, opts ...StatusOption) (bool, error) {
	var upd statusUpdate
	for _, opt := range opts {
		opt(&upd)
	}

	applied := false
	err := m.withJobLock(ctx, id, func() error {
		j, err := m.getRecord(ctx, id)
		if err != nil {
			return err
		}
		if upd.fromSet && j.Status != upd.from {
			m.log.Warnf("rejected transition: id=%s from=%s to=%s (caller requires from=%s)", id, j.Status, next, upd.from)
			return nil
		}
		if !CanTransition(j.Status, next) {
			m.log.Warnf("rejected transition: id=%s from=%s to=%s", id, j.Status, next)
			return nil
		}
		prev := j.Status
		j.Status = next
		switch next {
		case StatusCompleted:
			j.Result = upd.result
			j.Error = ""
		case StatusFailed:
			if upd.errSet {
				j.Error = upd.errMsg
			}
			j.Result = nil
		case StatusProcessing:
			// Retry re-entry clears the previous terminal error.
			if prev == StatusFailed {
				j.Error = ""
			}
		}
		if upd.attemptsSet {
			j.AttemptCount = upd.attempts
		}
		j.UpdatedAt = time.Now().UnixMilli()
		if j.UpdatedAt < j.CreatedAt {
			j.UpdatedAt = j.CreatedAt
		}
		if j.Terminal() {
			j.ExpiresAt = j.UpdatedAt + m.cfg.TerminalRetention.Milliseconds()
		} else {
			j.ExpiresAt = 0
		}
		if err := m.persist(ctx, j, prev); err != nil {
			return err
		}
		applied = true
		return nil
	})
	return applied, err
}

// WithLock executes fn on the current record under the same exclusive
// lock used by GetOrCreate and UpdateStatus, then persists the mutated
// record. fn is for auxiliary mutations (progress annotations, attempt
// counters); any status change it makes is discarded — status only moves
// through UpdateStatus.
func (m *Manager) WithLock(ctx context.Context, id string, fn func(*Job) error) error {
	return m.withJobLock(ctx, id, func() error {
		j, err := m.getRecord(ctx, id)
		if err != nil {
			return err
		}
		st := j.Status
		if err := fn(j); err != nil {
			return err
		}
		j.Status = st
		j.UpdatedAt = time.Now().UnixMilli()
		return m.persist(ctx, j, st)
	})
}

// ForceFail performs the unvalidated fallback write of {status: FAILED,
// error}. It is the last resort when UpdateStatus itself failed on an
// error path, so a job is never left without a recorded outcome. Best
// effort: it skips the lock and the transition table.
func (m *Manager) ForceFail(ctx context.Context, id, msg string) error {
	j, err := m.getRecord(ctx, id)
	if err != nil {
		if !errors.Is(err, ErrJobNotFound) {
			m.log.Errorf("force-fail read failed: id=%s err=%v", id, err)
		}
		now := time.Now().UnixMilli()
		j = &Job{ID: id, Status: StatusFailed, Error: msg, CreatedAt: now, UpdatedAt: now}
		return m.persist(ctx, j, "")
	}
	prev := j.Status
	j.Status = StatusFailed
	j.Error = msg
	j.Result = nil
	j.UpdatedAt = time.Now().UnixMilli()
	j.ExpiresAt = j.UpdatedAt + m.cfg.TerminalRetention.Milliseconds()
	return m.persist(ctx, j, prev)
}

// SetExtension stores the task-type-specific extension record for a job.
func (m *Manager) SetExtension(ctx context.Context, id string, v any) error {
	raw, err := m.enc.Encode(v)
	if err != nil {
		return err
	}
	return m.rdb.Set(ctx, ikeys.Extension(id), raw, 0).Err()
}

// GetExtension decodes the extension record into dst.
func (m *Manager) GetExtension(ctx context.Context, id string, dst any) error {
	raw, err := m.rdb.Get(ctx, ikeys.Extension(id)).Bytes()
	if err == redis.Nil {
		return ErrExtensionNotFound
	}
	if err != nil {
		return err
	}
	return m.enc.Decode(raw, dst)
}

// removeJob deletes the record, its extension, its index entries and any
// queue entries in one transaction. Caller is expected to hold the job
// lock and to have dealt with artifacts first.
func (m *Manager) removeJob(ctx context.Context, j *Job) error {
	k := ikeys.For(j.ID)
	_, err := m.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, k.Record, k.Extension)
		p.ZRem(ctx, ikeys.IdxUpdated(j.Status.String()), j.ID)
		p.ZRem(ctx, ikeys.IdxCreated(j.Status.String()), j.ID)
		p.LRem(ctx, ikeys.Pending(), 0, j.ID)
		p.ZRem(ctx, ikeys.Delayed(), j.ID)
		return nil
	})
	return err
}
