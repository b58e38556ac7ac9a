package procio

import (
	"context"

	"github.com/Procio/procio-go/internal/hctx"
)

// SetProgress reports a mid-execution checkpoint (stage, percent 0..100,
// message) for the current job. The checkpoint is written through to the
// job record, so status pollers observe it before the job completes.
// It is a no-op if the context is not provided by the procio executor.
func SetProgress(ctx context.Context, stage string, percent int, message string) {
	st, ok := hctx.From(ctx)
	if !ok || st == nil {
		return
	}
	if percent < 0 {
		percent = 0
	} else if percent > 100 {
		percent = 100
	}
	st.Stage = stage
	st.Percent = percent
	st.Message = message
	if st.Report != nil {
		st.Report(stage, percent, message)
	}
}

// SetResultMeta attaches a metadata entry that is merged into the job's
// result payload on successful completion. Safe to call multiple times;
// last value per key wins. It is a no-op if the context is not provided
// by the procio executor.
func SetResultMeta(ctx context.Context, key string, v any) {
	st, ok := hctx.From(ctx)
	if !ok || st == nil {
		return
	}
	if st.Meta == nil {
		st.Meta = make(map[string]any)
	}
	st.Meta[key] = v
}
