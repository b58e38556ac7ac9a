package hctx

import "context"

// ProgressFunc writes a progress checkpoint through to the job record so
// status pollers observe it before the job completes.
type ProgressFunc func(stage string, percent int, message string)

// State holds per-execution, processor-provided metadata that the executor
// can capture after the processor returns, plus the write-through sink for
// progress checkpoints.
type State struct {
	Stage   string
	Percent int
	Message string
	// Meta is processor-attached result metadata, merged into the result
	// on completion.
	Meta map[string]any
	// Report, when set, persists a checkpoint immediately.
	Report ProgressFunc
}

// New creates a fresh execution state container.
func New() *State { return &State{} }

type ctxKey struct{}

// WithState returns a child context carrying the given execution state.
func WithState(parent context.Context, s *State) context.Context {
	return context.WithValue(parent, ctxKey{}, s)
}

// From extracts the execution state from context if present.
func From(ctx context.Context) (*State, bool) {
	v := ctx.Value(ctxKey{})
	if v == nil {
		return nil, false
	}
	st, ok := v.(*State)
	return st, ok
}
