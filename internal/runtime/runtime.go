package runtime

import (
	"context"
	"strconv"
	"sync"
	"time"

	ikeys "github.com/Procio/procio-go/internal/keys"
	"github.com/redis/go-redis/v9"
)

// Logger is a minimal logging interface used internally by the runtime.
// It mirrors the public logger in the root package to avoid an import cycle.
type Logger interface {
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debugf(string, ...any) {}
func (noopLogger) Infof(string, ...any)  {}
func (noopLogger) Warnf(string, ...any)  {}
func (noopLogger) Errorf(string, ...any) {}

type Config struct {
	Concurrency   int
	SweepInterval time.Duration
	Logger        Logger
}

// ExecFunc runs one attempt of the job with the given ID. It must not
// return until the attempt has a persisted outcome.
type ExecFunc func(ctx context.Context, jobID string)

// SweepFunc runs one retention sweep.
type SweepFunc func(ctx context.Context)

// Runtime manages worker goroutines pulling job IDs off the pending
// queue, the scheduler that promotes due retries, and the periodic
// retention sweep.
type Runtime struct {
	rdb     redis.UniversalClient
	cfg     Config
	exec    ExecFunc
	sweep   SweepFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	started bool
	ctx     context.Context
	cancel  context.CancelFunc
	log     Logger
}

// promoteOneScript atomically moves one due job ID from the delayed ZSET
// to the pending LIST. It returns the moved member on success, or false
// if none is due.
var promoteOneScript = redis.NewScript(`
local dkey = KEYS[1]
local pkey = KEYS[2]
local now  = ARGV[1]
local items = redis.call('ZRANGEBYSCORE', dkey, '-inf', now, 'LIMIT', 0, 1)
if #items == 0 then return false end
local m = items[1]
local rem = redis.call('ZREM', dkey, m)
if rem == 1 then
  redis.call('LPUSH', pkey, m)
  return m
end
return false
`)

// New creates a background runtime that manages workers, the retry
// scheduler and the sweep ticker.
func New(rdb redis.UniversalClient, cfg Config, exec ExecFunc, sweep SweepFunc) *Runtime {
	ctx, cancel := context.WithCancel(context.Background())
	lg := cfg.Logger
	if lg == nil {
		lg = noopLogger{}
	}
	return &Runtime{
		rdb:    rdb,
		cfg:    cfg,
		exec:   exec,
		sweep:  sweep,
		ctx:    ctx,
		cancel: cancel,
		log:    lg,
	}
}

// Start launches workers and background maintenance goroutines.
func (rt *Runtime) Start() {
	rt.mu.Lock()
	if rt.started {
		rt.log.Warnf("runtime already started; ignoring Start()")
		rt.mu.Unlock()
		return
	}
	rt.started = true
	rt.mu.Unlock()
	rt.log.Infof("runtime starting: concurrency=%d", rt.cfg.Concurrency)

	// workers
	for i := 0; i < rt.cfg.Concurrency; i++ {
		rt.wg.Add(1)
		go func() {
			defer rt.wg.Done()
			rt.workerLoop()
		}()
	}

	// Retry scheduler: move due job IDs from delayed to pending atomically.
	rt.wg.Add(1)
	go func() {
		defer rt.wg.Done()
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		dkey := ikeys.Delayed()
		pkey := ikeys.Pending()
		for {
			select {
			case <-rt.ctx.Done():
				return
			case <-ticker.C:
				now := strconv.FormatInt(time.Now().Unix(), 10)
				// drain up to N per tick to avoid long loops
				for i := 0; i < 256; i++ {
					res, err := promoteOneScript.Run(rt.ctx, rt.rdb, []string{dkey, pkey}, now).Result()
					if err == redis.Nil {
						break
					}
					if err != nil {
						if rt.ctx.Err() == nil {
							rt.log.Warnf("scheduler: script failed err=%v", err)
						}
						break
					}
					if res == nil || res == false {
						break
					}
				}
			}
		}
	}()

	// Retention sweep ticker.
	if rt.sweep != nil && rt.cfg.SweepInterval > 0 {
		rt.wg.Add(1)
		go func() {
			defer rt.wg.Done()
			ticker := time.NewTicker(rt.cfg.SweepInterval)
			defer ticker.Stop()
			for {
				select {
				case <-rt.ctx.Done():
					return
				case <-ticker.C:
					rt.sweep(rt.ctx)
				}
			}
		}()
	}
}

// Stop cancels the internal context and waits for all goroutines to exit.
func (rt *Runtime) Stop() {
	rt.mu.Lock()
	if !rt.started {
		rt.log.Warnf("runtime not started; ignoring Stop()")
		rt.mu.Unlock()
		return
	}
	rt.started = false
	rt.mu.Unlock()
	rt.log.Infof("runtime stopping")

	rt.cancel()
	rt.wg.Wait()
}

func (rt *Runtime) workerLoop() {
	pkey := ikeys.Pending()
	for {
		select {
		case <-rt.ctx.Done():
			return
		default:
		}

		id, err := rt.rdb.RPop(rt.ctx, pkey).Result()
		if err == redis.Nil {
			time.Sleep(50 * time.Millisecond)
			continue
		}
		if err != nil {
			if rt.ctx.Err() != nil {
				return
			}
			rt.log.Warnf("worker: dequeue failed err=%v", err)
			time.Sleep(200 * time.Millisecond)
			continue
		}
		rt.exec(rt.ctx, id)
	}
}

// CfgConcurrency exposes configured worker concurrency.
func (rt *Runtime) CfgConcurrency() int { return rt.cfg.Concurrency }
