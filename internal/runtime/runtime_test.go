package runtime

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	ikeys "github.com/Procio/procio-go/internal/keys"
	mrd "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newMini(t *testing.T) (*redis.Client, func()) {
	t.Helper()
	s := mrd.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: s.Addr()})
	return rdb, func() {
		_ = rdb.Close()
		s.Close()
	}
}

func TestRuntime_WorkersExecuteQueuedIDs(t *testing.T) {
	rdb, done := newMini(t)
	defer done()
	ctx := context.Background()

	var mu sync.Mutex
	seen := map[string]bool{}
	rt := New(rdb, Config{Concurrency: 2}, func(_ context.Context, id string) {
		mu.Lock()
		seen[id] = true
		mu.Unlock()
	}, nil)

	require.NoError(t, rdb.LPush(ctx, ikeys.Pending(), "a", "b", "c").Err())
	rt.Start()
	defer rt.Stop()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 3
	}, 3*time.Second, 10*time.Millisecond)
}

func TestRuntime_SchedulerPromotesDueEntries(t *testing.T) {
	rdb, done := newMini(t)
	defer done()
	ctx := context.Background()

	executed := make(chan string, 2)
	rt := New(rdb, Config{Concurrency: 1}, func(_ context.Context, id string) {
		executed <- id
	}, nil)

	now := time.Now().Unix()
	require.NoError(t, rdb.ZAdd(ctx, ikeys.Delayed(),
		redis.Z{Score: float64(now - 1), Member: "due"},
		redis.Z{Score: float64(now + 3600), Member: "future"},
	).Err())

	rt.Start()
	defer rt.Stop()

	select {
	case id := <-executed:
		require.Equal(t, "due", id)
	case <-time.After(3 * time.Second):
		t.Fatal("due entry never promoted")
	}

	// The future entry stays parked.
	select {
	case id := <-executed:
		t.Fatalf("unexpected execution of %s", id)
	case <-time.After(300 * time.Millisecond):
	}
	n, err := rdb.ZCard(ctx, ikeys.Delayed()).Result()
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
}

func TestRuntime_SweepTicker(t *testing.T) {
	rdb, done := newMini(t)
	defer done()

	swept := make(chan struct{}, 8)
	rt := New(rdb, Config{Concurrency: 1, SweepInterval: 50 * time.Millisecond},
		func(context.Context, string) {},
		func(context.Context) { swept <- struct{}{} })

	rt.Start()
	defer rt.Stop()

	select {
	case <-swept:
	case <-time.After(3 * time.Second):
		t.Fatal("sweep never ran")
	}
}

type recLogger struct {
	mu    sync.Mutex
	warns []string
}

func (l *recLogger) Debugf(string, ...any) {}
func (l *recLogger) Infof(string, ...any)  {}
func (l *recLogger) Warnf(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warns = append(l.warns, format)
}
func (l *recLogger) Errorf(string, ...any) {}

func (l *recLogger) sawSchedulerWarn() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, w := range l.warns {
		if strings.Contains(w, "scheduler") {
			return true
		}
	}
	return false
}

func TestRuntime_SchedulerLogsPromotionFailures(t *testing.T) {
	s := mrd.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer rdb.Close()
	ctx := context.Background()

	// A due entry forces the scheduler to run the promotion script.
	require.NoError(t, rdb.ZAdd(ctx, ikeys.Delayed(),
		redis.Z{Score: float64(time.Now().Unix() - 1), Member: "due"}).Err())

	lg := &recLogger{}
	rt := New(rdb, Config{Concurrency: 1, Logger: lg}, func(context.Context, string) {}, nil)
	rt.Start()
	defer rt.Stop()

	// Take the store away mid-run: promotion failures must be surfaced,
	// not swallowed.
	s.Close()
	require.Eventually(t, lg.sawSchedulerWarn, 3*time.Second, 20*time.Millisecond,
		"script failure never logged")
}

func TestRuntime_StartStopIdempotent(t *testing.T) {
	rdb, done := newMini(t)
	defer done()

	rt := New(rdb, Config{Concurrency: 1}, func(context.Context, string) {}, nil)
	rt.Start()
	rt.Start()
	rt.Stop()
	rt.Stop()
}
