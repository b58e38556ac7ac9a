package hctx

import (
	"context"
	"testing"
)

func TestFrom_MissingState(t *testing.T) {
	st, ok := From(context.Background())
	if ok || st != nil {
		t.Fatalf("From on bare context = (%v, %v), want (nil, false)", st, ok)
	}
}

func TestWithState_RoundTrip(t *testing.T) {
	st := New()
	ctx := WithState(context.Background(), st)
	got, ok := From(ctx)
	if !ok || got != st {
		t.Fatalf("From = (%v, %v), want original state", got, ok)
	}
}

func TestState_ReportSink(t *testing.T) {
	st := New()
	var stage string
	var pct int
	st.Report = func(s string, p int, _ string) { stage, pct = s, p }
	st.Report("compress", 40, "halfway-ish")
	if stage != "compress" || pct != 40 {
		t.Fatalf("sink saw (%q, %d), want (compress, 40)", stage, pct)
	}
}
