package procio

import (
	"context"
	"sync"
	"time"

	rtm "github.com/Procio/procio-go/internal/runtime"
	"github.com/redis/go-redis/v9"
)

// ServerConfig defines the configuration for a procio server.
type ServerConfig struct {
	// Concurrency is the number of worker goroutines.
	Concurrency int
	// Manager configures the job status manager (locking, retention
	// stamping, default retry budget).
	Manager ManagerConfig
	// Executor configures the retry protocol.
	Executor ExecutorConfig
	// Sweeper configures the retention sweeper.
	Sweeper SweeperConfig
	// SweepInterval is how often the retention sweep runs.
	SweepInterval time.Duration
	// Artifacts is the blob store holding job outputs; used for partial
	// cleanup on failure and by the sweeper.
	Artifacts ArtifactStore
	// Logger is the logger used for server events.
	Logger Logger
}

// Server executes submitted jobs with a pool of workers and runs the
// retention sweeper.
type Server struct {
	rt      *rtm.Runtime
	mgr     *Manager
	sweeper *Sweeper
	mu      sync.Mutex
	started bool
	log     Logger
}

// NewServer creates a new procio server. Every component receives its
// collaborators here; nothing constructs its own dependencies inline.
func NewServer(rdb redis.UniversalClient, cfg ServerConfig, mux *Mux) *Server {
	l := cfg.Logger
	if l == nil {
		l = NewFmtLogger()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 6 * time.Hour
	}
	if cfg.Artifacts == nil {
		cfg.Artifacts = NopArtifactStore{}
	}
	if cfg.Sweeper.Artifacts == nil {
		cfg.Sweeper.Artifacts = cfg.Artifacts
	}
	if cfg.Manager.Logger == nil {
		cfg.Manager.Logger = l
	}
	if cfg.Executor.Logger == nil {
		cfg.Executor.Logger = l
	}
	if cfg.Sweeper.Logger == nil {
		cfg.Sweeper.Logger = l
	}
	// Keep the ExpiresAt stamp aligned with the sweep threshold.
	if cfg.Manager.TerminalRetention <= 0 && cfg.Sweeper.TerminalRetention > 0 {
		cfg.Manager.TerminalRetention = cfg.Sweeper.TerminalRetention
	}

	mgr := NewManager(rdb, cfg.Manager)
	exec := NewExecutor(rdb, mgr, mux, cfg.Artifacts, cfg.Executor)
	sweeper := NewSweeper(rdb, mgr, cfg.Sweeper)

	rtc := rtm.Config{
		Concurrency:   cfg.Concurrency,
		SweepInterval: cfg.SweepInterval,
		Logger:        rtLogger{Logger: l},
	}
	rt := rtm.New(rdb, rtc, exec.Execute, func(ctx context.Context) {
		res, err := sweeper.Sweep(ctx)
		if err != nil {
			l.Errorf("sweep failed: err=%v", err)
			return
		}
		l.Infof("sweep done: cleaned=%d skipped=%d", res.Cleaned, res.Skipped)
	})
	return &Server{rt: rt, mgr: mgr, sweeper: sweeper, log: l}
}

// Manager exposes the server's job status manager, for callers that need
// WithLock-level access alongside a shared Client.
func (s *Server) Manager() *Manager { return s.mgr }

// Sweeper exposes the retention sweeper, e.g. to trigger a manual sweep.
func (s *Server) Sweeper() *Sweeper { return s.sweeper }

// Start launches the server workers and background maintenance routines.
// It is idempotent and non-blocking.
func (s *Server) Start() {
	s.mu.Lock()
	if s.started {
		if s.log != nil {
			s.log.Warnf("server already started; ignoring Start()")
		}
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()
	if s.log != nil {
		s.log.Infof("starting server: concurrency=%d", s.rt.CfgConcurrency())
	}
	s.rt.Start()
}

// Stop gracefully shuts down the server, waiting for workers to finish current jobs.
func (s *Server) Stop() {
	s.mu.Lock()
	if !s.started {
		if s.log != nil {
			s.log.Warnf("server not started; ignoring Stop()")
		}
		s.mu.Unlock()
		return
	}
	s.started = false
	s.mu.Unlock()
	if s.log != nil {
		s.log.Infof("stopping server")
	}
	s.rt.Stop()
}

// rtLogger adapts the public Logger to the internal runtime logger interface.
type rtLogger struct{ Logger }
