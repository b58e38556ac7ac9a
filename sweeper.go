package procio

import (
	"context"
	"errors"
	"strconv"
	"time"

	ikeys "github.com/Procio/procio-go/internal/keys"
	"github.com/Procio/procio-go/internal/metrics"
	"github.com/redis/go-redis/v9"
)

// SweeperConfig configures the retention sweeper.
type SweeperConfig struct {
	// TerminalRetention is how long COMPLETED/FAILED jobs are kept after
	// their last update.
	TerminalRetention time.Duration
	// ProcessingRetention is how long a PROCESSING job may run before it
	// is considered abandoned.
	ProcessingRetention time.Duration
	// SafetyBuffer is extra grace added to ProcessingRetention so
	// artifacts of legitimately long-running work are never deleted.
	SafetyBuffer time.Duration
	// PendingRetention is how long a never-started PENDING job is kept.
	PendingRetention time.Duration
	// MaxReapAttempts bounds artifact-deletion retries across sweeps;
	// after that the record is deleted anyway and the leak is logged.
	MaxReapAttempts int
	// ScanBatch caps candidates per index per sweep.
	ScanBatch int
	// Artifacts is the blob store to reclaim from.
	Artifacts ArtifactStore
	// Logger is used for reclaim decisions.
	Logger Logger
}

func (c *SweeperConfig) applyDefaults() {
	if c.TerminalRetention <= 0 {
		c.TerminalRetention = 24 * time.Hour
	}
	if c.ProcessingRetention <= 0 {
		c.ProcessingRetention = 8 * time.Hour
	}
	if c.SafetyBuffer <= 0 {
		c.SafetyBuffer = 2 * time.Hour
	}
	if c.PendingRetention <= 0 {
		c.PendingRetention = 1 * time.Hour
	}
	if c.MaxReapAttempts <= 0 {
		c.MaxReapAttempts = 3
	}
	if c.ScanBatch <= 0 {
		c.ScanBatch = 256
	}
	if c.Artifacts == nil {
		c.Artifacts = NopArtifactStore{}
	}
	if c.Logger == nil {
		c.Logger = noopLogger{}
	}
}

// SweepResult reports what one sweep did.
type SweepResult struct {
	// Cleaned is the number of jobs whose record (and artifacts) were
	// reclaimed.
	Cleaned int
	// Skipped is the number of visited candidates left in place: still
	// inside their retention window on re-check, or awaiting an artifact
	// deletion retry.
	Skipped int
}

// Sweeper reclaims job records and artifacts past their status-dependent
// retention age. It is idempotent and safe to run concurrently with the
// executor: every candidate is re-checked under the per-job lock
// immediately before deletion, so a job that reached a terminal state
// mid-sweep cannot have artifacts race-deleted while still being written.
type Sweeper struct {
	rdb redis.UniversalClient
	mgr *Manager
	cfg SweeperConfig
	log Logger
}

// NewSweeper creates a Sweeper sharing the Manager's locking primitive.
func NewSweeper(rdb redis.UniversalClient, mgr *Manager, cfg SweeperConfig) *Sweeper {
	cfg.applyDefaults()
	return &Sweeper{rdb: rdb, mgr: mgr, cfg: cfg, log: cfg.Logger}
}

// Sweep scans the status/timestamp indexes for jobs past their retention
// age and reclaims them. Candidates inside their window are not visited at
// all; visited candidates that fail the locked re-check count as skipped.
func (s *Sweeper) Sweep(ctx context.Context) (SweepResult, error) {
	now := time.Now().UnixMilli()
	scans := []struct {
		idx    string
		cutoff int64
	}{
		{ikeys.IdxUpdated(StatusCompleted.String()), now - s.cfg.TerminalRetention.Milliseconds()},
		{ikeys.IdxUpdated(StatusFailed.String()), now - s.cfg.TerminalRetention.Milliseconds()},
		{ikeys.IdxCreated(StatusProcessing.String()), now - (s.cfg.ProcessingRetention + s.cfg.SafetyBuffer).Milliseconds()},
		{ikeys.IdxCreated(StatusPending.String()), now - s.cfg.PendingRetention.Milliseconds()},
	}

	var res SweepResult
	for _, sc := range scans {
		ids, err := s.rdb.ZRangeByScore(ctx, sc.idx, &redis.ZRangeBy{
			Min:   "-inf",
			Max:   strconv.FormatInt(sc.cutoff, 10),
			Count: int64(s.cfg.ScanBatch),
		}).Result()
		if err != nil && err != redis.Nil {
			return res, err
		}
		for _, id := range ids {
			cleaned, err := s.reap(ctx, id)
			if err != nil {
				s.log.Warnf("sweep: reap failed: id=%s err=%v", id, err)
				res.Skipped++
				continue
			}
			if cleaned {
				res.Cleaned++
			} else {
				res.Skipped++
			}
		}
	}
	return res, nil
}

// reap re-checks one candidate under the job lock and reclaims it if it is
// still past its retention age. Returns true when the record was deleted.
func (s *Sweeper) reap(ctx context.Context, id string) (bool, error) {
	cleaned := false
	err := s.mgr.withJobLock(ctx, id, func() error {
		j, err := s.mgr.getRecord(ctx, id)
		if errors.Is(err, ErrJobNotFound) {
			// Already reclaimed by a concurrent sweep; drop any stale
			// index members.
			s.dropIndexEntries(ctx, id)
			return nil
		}
		if err != nil {
			return err
		}

		now := time.Now().UnixMilli()
		if !s.eligible(j, now) {
			s.log.Debugf("sweep: protected by retention window: id=%s status=%s", id, j.Status)
			return nil
		}

		// Abandoned PROCESSING jobs get a terminal FAILED write first so
		// pollers observe an error rather than a vanished job.
		if j.Status == StatusProcessing {
			prev := j.Status
			j.Status = StatusFailed
			j.Error = "abandoned: exceeded processing retention"
			j.Result = nil
			j.UpdatedAt = now
			j.ExpiresAt = now + s.cfg.TerminalRetention.Milliseconds()
			if err := s.mgr.persist(ctx, j, prev); err != nil {
				return err
			}
			s.log.Warnf("sweep: abandoned processing job: id=%s age=%s", id, time.Duration(now-j.CreatedAt)*time.Millisecond)
		}

		if !j.ArtifactsReclaimed {
			if aerr := s.cfg.Artifacts.Remove(ctx, id); aerr != nil {
				j.ReapAttempts++
				if j.ReapAttempts < s.cfg.MaxReapAttempts {
					s.log.Warnf("sweep: artifact deletion failed, will retry: id=%s attempt=%d err=%v", id, j.ReapAttempts, aerr)
					return s.mgr.persist(ctx, j, j.Status)
				}
				s.log.Errorf("sweep: artifact deletion failed %d times, deleting record anyway (possible leak): id=%s err=%v",
					j.ReapAttempts, id, aerr)
			} else {
				// Mark reclaimed before the record delete so the download
				// path can answer Gone during the window in between.
				j.ArtifactsReclaimed = true
				if err := s.mgr.persist(ctx, j, j.Status); err != nil {
					return err
				}
			}
		}

		if err := s.mgr.removeJob(ctx, j); err != nil {
			return err
		}
		metrics.JobsSweptTotal.WithLabelValues(j.Status.String()).Inc()
		cleaned = true
		return nil
	})
	return cleaned, err
}

// eligible applies the status-dependent retention rules to a freshly read
// record.
func (s *Sweeper) eligible(j *Job, now int64) bool {
	switch j.Status {
	case StatusCompleted, StatusFailed:
		return now-j.UpdatedAt > s.cfg.TerminalRetention.Milliseconds()
	case StatusProcessing:
		return now-j.CreatedAt > (s.cfg.ProcessingRetention + s.cfg.SafetyBuffer).Milliseconds()
	case StatusPending:
		return now-j.CreatedAt > s.cfg.PendingRetention.Milliseconds()
	default:
		return false
	}
}

// dropIndexEntries removes a vanished job ID from every index.
func (s *Sweeper) dropIndexEntries(ctx context.Context, id string) {
	_, _ = s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		for _, st := range AllStatuses {
			p.ZRem(ctx, ikeys.IdxUpdated(st.String()), id)
			p.ZRem(ctx, ikeys.IdxCreated(st.String()), id)
		}
		return nil
	})
}
