package procio

import (
	"context"
	"testing"
	"time"

	ikeys "github.com/Procio/procio-go/internal/keys"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*Client, *Manager, *redis.Client, func()) {
	t.Helper()
	rdb, done := newMiniClient(t)
	mgr := NewManager(rdb, ManagerConfig{})
	return NewClientWithManager(rdb, mgr), mgr, rdb, done
}

func TestClient_Submit_QueuesJob(t *testing.T) {
	cli, mgr, rdb, done := newTestClient(t)
	defer done()
	ctx := context.Background()

	id, err := cli.Submit(ctx, "compress", map[string]any{"file": "a.pdf"})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	j, err := mgr.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, StatusPending, j.Status)
	require.Equal(t, "compress", j.TaskType)

	ids, err := rdb.LRange(ctx, ikeys.Pending(), 0, -1).Result()
	require.NoError(t, err)
	require.Equal(t, []string{id}, ids)
}

func TestClient_Submit_ExplicitIDIsIdempotent(t *testing.T) {
	cli, _, rdb, done := newTestClient(t)
	defer done()
	ctx := context.Background()

	id1, err := cli.Submit(ctx, "compress", nil, JobID("dup"))
	require.NoError(t, err)
	id2, err := cli.Submit(ctx, "compress", nil, JobID("dup"))
	require.NoError(t, err)
	require.Equal(t, id1, id2)

	// queued exactly once
	n, err := rdb.LLen(ctx, ikeys.Pending()).Result()
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
}

func TestClient_Submit_Delayed(t *testing.T) {
	cli, _, rdb, done := newTestClient(t)
	defer done()
	ctx := context.Background()

	id, err := cli.Submit(ctx, "compress", nil, Delay(time.Minute))
	require.NoError(t, err)

	n, _ := rdb.LLen(ctx, ikeys.Pending()).Result()
	require.Equal(t, int64(0), n)
	due, err := rdb.ZScore(ctx, ikeys.Delayed(), id).Result()
	require.NoError(t, err)
	require.Greater(t, due, float64(time.Now().Unix()))
}

func TestClient_Submit_WithExtension(t *testing.T) {
	cli, _, _, done := newTestClient(t)
	defer done()
	ctx := context.Background()

	type compressExt struct {
		Codec string `json:"codec"`
		Level int    `json:"level"`
	}
	id, err := cli.Submit(ctx, "compress", nil, WithExtension(compressExt{Codec: "zstd", Level: 7}))
	require.NoError(t, err)

	var got compressExt
	require.NoError(t, cli.GetExtension(ctx, id, &got))
	require.Equal(t, "zstd", got.Codec)
	require.Equal(t, 7, got.Level)
}

func TestClient_GetStatus(t *testing.T) {
	cli, mgr, _, done := newTestClient(t)
	defer done()
	ctx := context.Background()

	id, err := cli.Submit(ctx, "compress", nil)
	require.NoError(t, err)

	st, err := cli.GetStatus(ctx, id)
	require.NoError(t, err)
	require.Equal(t, id, st.JobID)
	require.Equal(t, StatusPending, st.Status)
	require.Nil(t, st.Progress)

	_, err = mgr.UpdateStatus(ctx, id, StatusProcessing)
	require.NoError(t, err)
	require.NoError(t, mgr.WithLock(ctx, id, func(j *Job) error {
		j.Progress = &Progress{Stage: "convert", Percent: 40}
		return nil
	}))

	st, err = cli.GetStatus(ctx, id)
	require.NoError(t, err)
	require.Equal(t, StatusProcessing, st.Status)
	require.Equal(t, 40, st.Progress.Percent)

	_, err = cli.GetStatus(ctx, "missing")
	require.ErrorIs(t, err, ErrJobNotFound)
}

func TestClient_IsDownloadable(t *testing.T) {
	cli, mgr, _, done := newTestClient(t)
	defer done()
	ctx := context.Background()

	id, err := cli.Submit(ctx, "compress", nil)
	require.NoError(t, err)

	ok, err := cli.IsDownloadable(ctx, id)
	require.NoError(t, err)
	require.False(t, ok, "pending jobs have no artifact yet")

	_, err = mgr.UpdateStatus(ctx, id, StatusProcessing)
	require.NoError(t, err)
	_, err = mgr.UpdateStatus(ctx, id, StatusCompleted)
	require.NoError(t, err)

	ok, err = cli.IsDownloadable(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)

	// Unknown job: a plain not-found, never Gone.
	_, err = cli.IsDownloadable(ctx, "missing")
	require.ErrorIs(t, err, ErrJobNotFound)

	// Artifacts reclaimed but the record still present: the download path
	// answers Gone, not a generic false.
	require.NoError(t, mgr.WithLock(ctx, id, func(j *Job) error {
		j.ArtifactsReclaimed = true
		return nil
	}))
	_, err = cli.IsDownloadable(ctx, id)
	require.ErrorIs(t, err, ErrArtifactGone)
}

func TestClient_RetryFailed(t *testing.T) {
	cli, mgr, rdb, done := newTestClient(t)
	defer done()
	ctx := context.Background()

	id, err := cli.Submit(ctx, "compress", nil)
	require.NoError(t, err)
	_, err = mgr.UpdateStatus(ctx, id, StatusProcessing)
	require.NoError(t, err)
	_, err = mgr.UpdateStatus(ctx, id, StatusFailed, WithError("boom"))
	require.NoError(t, err)
	require.NoError(t, rdb.Del(ctx, ikeys.Pending()).Err())

	require.NoError(t, cli.RetryFailed(ctx, id))

	j, err := mgr.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, StatusProcessing, j.Status)
	require.Empty(t, j.Error, "retry re-entry clears the previous failure")
	require.Equal(t, 0, j.AttemptCount)

	ids, _ := rdb.LRange(ctx, ikeys.Pending(), 0, -1).Result()
	require.Equal(t, []string{id}, ids)

	// Only FAILED jobs can be retried.
	require.ErrorIs(t, cli.RetryFailed(ctx, id), ErrNotFailed)
	require.ErrorIs(t, cli.RetryFailed(ctx, "missing"), ErrJobNotFound)
}

func TestClient_RetryFailed_PendingRejected(t *testing.T) {
	// PENDING -> PROCESSING is a legal table edge, but RetryFailed must not
	// take it: that would hijack a queued job and enqueue it a second time.
	cli, mgr, rdb, done := newTestClient(t)
	defer done()
	ctx := context.Background()

	id, err := cli.Submit(ctx, "compress", nil)
	require.NoError(t, err)

	require.ErrorIs(t, cli.RetryFailed(ctx, id), ErrNotFailed)

	j, err := mgr.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, StatusPending, j.Status, "queued job must stay pending")
	n, err := rdb.LLen(ctx, ikeys.Pending()).Result()
	require.NoError(t, err)
	require.Equal(t, int64(1), n, "no duplicate queue entry")
}

func TestClient_ListJobs(t *testing.T) {
	cli, mgr, _, done := newTestClient(t)
	defer done()
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		_, err := cli.Submit(ctx, "compress", nil, JobID(id))
		require.NoError(t, err)
	}
	_, err := mgr.UpdateStatus(ctx, "b", StatusProcessing)
	require.NoError(t, err)

	pending, err := cli.ListJobs(ctx, StatusPending, nil)
	require.NoError(t, err)
	require.Len(t, pending, 2)

	processing, err := cli.ListJobs(ctx, StatusProcessing, nil)
	require.NoError(t, err)
	require.Len(t, processing, 1)
	require.Equal(t, "b", processing[0].ID)

	// field filter
	onlyA, err := cli.ListJobs(ctx, StatusPending, func(j *Job) bool { return j.ID == "a" })
	require.NoError(t, err)
	require.Len(t, onlyA, 1)
	require.Equal(t, "a", onlyA[0].ID)

	none, err := cli.ListJobs(ctx, StatusCompleted, nil)
	require.NoError(t, err)
	require.Empty(t, none)

	_, err = cli.ListJobs(ctx, Status("bogus"), nil)
	require.ErrorIs(t, err, ErrUnknownStatus)
}

func TestClient_DeleteJob(t *testing.T) {
	cli, mgr, rdb, done := newTestClient(t)
	defer done()
	ctx := context.Background()

	id, err := cli.Submit(ctx, "compress", nil)
	require.NoError(t, err)
	require.NoError(t, cli.DeleteJob(ctx, id))

	_, err = mgr.Get(ctx, id)
	require.ErrorIs(t, err, ErrJobNotFound)
	n, _ := rdb.LLen(ctx, ikeys.Pending()).Result()
	require.Equal(t, int64(0), n, "queue entry removed with the record")

	require.ErrorIs(t, cli.DeleteJob(ctx, id), ErrJobNotFound)

	// In-flight jobs are protected.
	id2, err := cli.Submit(ctx, "compress", nil)
	require.NoError(t, err)
	_, err = mgr.UpdateStatus(ctx, id2, StatusProcessing)
	require.NoError(t, err)
	require.ErrorIs(t, cli.DeleteJob(ctx, id2), ErrJobProcessing)
}

func TestClient_DeleteJob_ReclaimsArtifacts(t *testing.T) {
	// The sweeper cannot find a job once the record is gone, so DeleteJob
	// itself must reclaim artifacts, and must keep the record when that
	// fails so the call can be retried.
	rdb, done := newMiniClient(t)
	defer done()
	ctx := context.Background()

	mgr := NewManager(rdb, ManagerConfig{})
	arts := &recordingArtifacts{}
	cli := NewClientWithManager(rdb, mgr, WithArtifactStore(arts))

	id, err := cli.Submit(ctx, "compress", nil)
	require.NoError(t, err)
	_, err = mgr.UpdateStatus(ctx, id, StatusProcessing)
	require.NoError(t, err)
	_, err = mgr.UpdateStatus(ctx, id, StatusCompleted)
	require.NoError(t, err)

	arts.fail = true
	require.Error(t, cli.DeleteJob(ctx, id))
	_, err = mgr.Get(ctx, id)
	require.NoError(t, err, "record survives a failed artifact delete")

	arts.fail = false
	require.NoError(t, cli.DeleteJob(ctx, id))
	require.Equal(t, []string{id}, arts.removed)
	_, err = mgr.Get(ctx, id)
	require.ErrorIs(t, err, ErrJobNotFound)

	// Already-reclaimed records skip the blob store.
	id2, err := cli.Submit(ctx, "compress", nil)
	require.NoError(t, err)
	require.NoError(t, mgr.WithLock(ctx, id2, func(j *Job) error {
		j.ArtifactsReclaimed = true
		return nil
	}))
	require.NoError(t, cli.DeleteJob(ctx, id2))
	require.Equal(t, []string{id}, arts.removed, "no second Remove for reclaimed artifacts")
}
