package procio

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"time"

	"github.com/Procio/procio-go/internal/hctx"
	ikeys "github.com/Procio/procio-go/internal/keys"
	"github.com/Procio/procio-go/internal/metrics"
	"github.com/redis/go-redis/v9"
)

// ExecutorConfig configures retry behavior.
type ExecutorConfig struct {
	// RetryBaseDelay, when set, overrides the classifier's per-kind
	// backoff hints. Zero means the hints apply.
	RetryBaseDelay time.Duration
	// MaxRetryDelay caps the exponential backoff.
	MaxRetryDelay time.Duration
	// Logger is used for attempt outcomes.
	Logger Logger
}

func (c *ExecutorConfig) applyDefaults() {
	if c.MaxRetryDelay <= 0 {
		c.MaxRetryDelay = 15 * time.Minute
	}
	if c.Logger == nil {
		c.Logger = noopLogger{}
	}
}

// outcome is the explicit retry decision for one attempt, interpreted by
// Execute instead of propagating the failure.
type outcome struct {
	retry bool
	delay time.Duration
	cls   Classification
	err   error
}

// Executor runs one job attempt through the three-tier error-handling
// protocol: capture (including panics), classify and retry, finalize.
type Executor struct {
	rdb       redis.UniversalClient
	mgr       *Manager
	mux       *Mux
	artifacts ArtifactStore
	cfg       ExecutorConfig
	log       Logger
}

// NewExecutor creates an Executor with the given collaborators.
func NewExecutor(rdb redis.UniversalClient, mgr *Manager, mux *Mux, artifacts ArtifactStore, cfg ExecutorConfig) *Executor {
	cfg.applyDefaults()
	if artifacts == nil {
		artifacts = NopArtifactStore{}
	}
	return &Executor{
		rdb:       rdb,
		mgr:       mgr,
		mux:       mux,
		artifacts: artifacts,
		cfg:       cfg,
		log:       cfg.Logger,
	}
}

// Execute runs one attempt of the job. It never returns an error to the
// worker loop: every failure path ends with a persisted outcome, either a
// scheduled retry or a terminal FAILED write.
func (e *Executor) Execute(ctx context.Context, id string) {
	j, err := e.mgr.Get(ctx, id)
	if err != nil {
		e.log.Errorf("execute: load failed: id=%s err=%v", id, err)
		return
	}

	switch j.Status {
	case StatusPending:
		ok, uerr := e.mgr.UpdateStatus(ctx, id, StatusProcessing)
		if uerr != nil {
			e.log.Errorf("execute: start transition failed: id=%s err=%v", id, uerr)
			return
		}
		if !ok {
			e.log.Warnf("execute: job no longer startable: id=%s", id)
			return
		}
	case StatusProcessing:
		// Retry re-execution; already transitioned.
	default:
		e.log.Debugf("execute: job already terminal: id=%s status=%s", id, j.Status)
		return
	}

	attempt := 0
	if err := e.mgr.WithLock(ctx, id, func(j *Job) error {
		j.AttemptCount++
		attempt = j.AttemptCount
		return nil
	}); err != nil {
		e.log.Errorf("execute: attempt increment failed: id=%s err=%v", id, err)
		o := e.decide(err, j.AttemptCount+1, j.MaxRetry)
		if o.retry {
			e.scheduleRetry(ctx, j, j.AttemptCount+1, o)
			return
		}
		e.finalize(ctx, j, j.AttemptCount+1, err, o.cls)
		return
	}

	proc, ok := e.mux.processor(j.TaskType)
	if !ok {
		e.finalize(ctx, j, attempt, ErrNoProcessor, Classify(ErrNoProcessor))
		return
	}

	// Progress checkpoints write through under the job lock so pollers
	// see them before terminal completion.
	st := hctx.New()
	st.Report = func(stage string, percent int, message string) {
		werr := e.mgr.WithLock(ctx, id, func(j *Job) error {
			j.Progress = &Progress{Stage: stage, Percent: percent, Message: message}
			return nil
		})
		if werr != nil {
			e.log.Warnf("progress write failed: id=%s stage=%s err=%v", id, stage, werr)
		}
	}
	runCtx := hctx.WithState(ctx, st)

	metrics.JobsInFlight.Inc()
	start := time.Now()
	result, perr := e.capture(runCtx, proc, j.InputData)
	metrics.JobDurationSeconds.WithLabelValues(j.TaskType).Observe(time.Since(start).Seconds())
	metrics.JobsInFlight.Dec()

	if perr == nil {
		e.complete(ctx, j, attempt, result, st.Meta)
		return
	}

	o := e.decide(perr, attempt, j.MaxRetry)
	if o.retry {
		e.scheduleRetry(ctx, j, attempt, o)
		return
	}
	e.finalize(ctx, j, attempt, o.err, o.cls)
}

// capture is tier 1: it invokes the processor and converts any panic into
// an error so no failure can escape without a persisted outcome.
func (e *Executor) capture(ctx context.Context, proc Processor, input map[string]any) (result map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("processor panic: %v", r)
		}
	}()
	return proc(ctx, input)
}

// decide is tier 2: it classifies the failure and produces the explicit
// retry/fail outcome for this attempt.
func (e *Executor) decide(perr error, attempt, maxRetry int) outcome {
	cls := Classify(perr)
	retry := cls.Retryable && attempt <= maxRetry
	// Unclassified failures get a single retry, then count as permanent.
	if cls.Kind == KindUnclassified && attempt > 1 {
		retry = false
	}
	if !retry {
		return outcome{cls: cls, err: perr}
	}
	return outcome{retry: true, delay: e.backoff(cls, attempt), cls: cls, err: perr}
}

// backoff computes base * 2^(attempt-1), capped, with ±20% jitter.
func (e *Executor) backoff(cls Classification, attempt int) time.Duration {
	base := cls.BackoffHint
	if e.cfg.RetryBaseDelay > 0 {
		base = e.cfg.RetryBaseDelay
	}
	if base <= 0 {
		base = 60 * time.Second
	}
	d := time.Duration(float64(base) * math.Pow(2, float64(attempt-1)))
	if d > e.cfg.MaxRetryDelay {
		d = e.cfg.MaxRetryDelay
	}
	return time.Duration(float64(d) * (0.8 + 0.4*rand.Float64()))
}

// scheduleRetry parks the job in the delayed ZSET; the scheduler moves it
// back to pending when due. Status stays PROCESSING, so the externally
// observable contract is "still retrying".
func (e *Executor) scheduleRetry(ctx context.Context, j *Job, attempt int, o outcome) {
	due := time.Now().Add(o.delay).Unix()
	if err := e.rdb.ZAdd(ctx, ikeys.Delayed(), redis.Z{Score: float64(due), Member: j.ID}).Err(); err != nil {
		e.log.Errorf("retry schedule failed: id=%s err=%v", j.ID, err)
		e.finalize(ctx, j, attempt, o.err, o.cls)
		return
	}
	metrics.JobRetriesTotal.Inc()
	e.log.Warnf("attempt failed, retrying: id=%s type=%s attempt=%d kind=%s delay=%s err=%v",
		j.ID, j.TaskType, attempt, o.cls.Kind, o.delay, o.err)
}

// complete transitions the job to COMPLETED with the result payload,
// merged with any processor-attached metadata.
func (e *Executor) complete(ctx context.Context, j *Job, attempt int, result, meta map[string]any) {
	if len(meta) > 0 {
		if result == nil {
			result = make(map[string]any, len(meta))
		}
		for k, v := range meta {
			if _, exists := result[k]; !exists {
				result[k] = v
			}
		}
	}
	ok, err := e.mgr.UpdateStatus(ctx, j.ID, StatusCompleted, WithResult(result))
	if err != nil || !ok {
		e.log.Errorf("completion write failed: id=%s ok=%v err=%v", j.ID, ok, err)
		return
	}
	metrics.JobsCompletedTotal.WithLabelValues(j.TaskType).Inc()
	e.log.Debugf("processed: id=%s type=%s attempts=%d", j.ID, j.TaskType, attempt)
}

// finalize is tier 3: retries are exhausted or the failure is permanent.
// It records the terminal FAILED outcome (falling back to an unvalidated
// write if that fails), cleans up partial artifacts, and logs full context.
func (e *Executor) finalize(ctx context.Context, j *Job, attempt int, perr error, cls Classification) {
	msg := sanitizeError(perr, cls)
	ok, uerr := e.mgr.UpdateStatus(ctx, j.ID, StatusFailed, WithError(msg))
	if uerr != nil || !ok {
		e.log.Errorf("failure write rejected, forcing: id=%s ok=%v err=%v", j.ID, ok, uerr)
		if ferr := e.mgr.ForceFail(ctx, j.ID, msg); ferr != nil {
			e.log.Errorf("force-fail failed: id=%s err=%v", j.ID, ferr)
		}
	}
	if aerr := e.artifacts.Remove(ctx, j.ID); aerr != nil {
		e.log.Warnf("partial artifact cleanup failed: id=%s err=%v", j.ID, aerr)
	}
	metrics.JobsFailedTotal.WithLabelValues(j.TaskType, string(cls.Kind)).Inc()
	e.log.Errorf("job failed: id=%s type=%s attempts=%d kind=%s err=%v",
		j.ID, j.TaskType, attempt, cls.Kind, perr)
}

// sanitizeError builds the user-visible error string: the failure kind and
// the first line of the message, never a collaborator stack trace.
func sanitizeError(err error, cls Classification) string {
	msg := err.Error()
	if i := strings.IndexByte(msg, '\n'); i >= 0 {
		msg = msg[:i]
	}
	const maxLen = 512
	if len(msg) > maxLen {
		msg = msg[:maxLen]
	}
	return string(cls.Kind) + ": " + msg
}
