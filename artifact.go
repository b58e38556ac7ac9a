package procio

import "context"

// ArtifactStore abstracts the blob storage holding a job's output
// artifacts. The core never reads or writes artifact bytes; it only asks
// for them to be removed when a job is reclaimed or a failed attempt left
// partial output behind.
type ArtifactStore interface {
	// Remove deletes all artifacts stored for the job. Removing artifacts
	// for a job that has none must succeed.
	Remove(ctx context.Context, jobID string) error
}

// NopArtifactStore is an ArtifactStore for deployments whose processors
// produce no persisted artifacts.
type NopArtifactStore struct{}

// Remove is a no-op.
func (NopArtifactStore) Remove(context.Context, string) error { return nil }
