package trace

import (
	"testing"
	"time"
)

func TestIsValidTraceLevel(t *testing.T) {
	for _, level := range []string{"", "none", "keyframes", "requests"} {
		if !IsValidTraceLevel(level) {
			t.Errorf("IsValidTraceLevel(%q): got false, want true", level)
		}
	}
	if IsValidTraceLevel("decisions") {
		t.Error("IsValidTraceLevel(decisions): got true, want false")
	}
}

func TestReplayTrace_LevelNone_RecordsNothing(t *testing.T) {
	// GIVEN tracing disabled
	rt := NewReplayTrace(TraceConfig{Level: TraceLevelNone})

	// WHEN records are offered
	rt.RecordKeyframe(KeyframeRecord{Visible: 3})
	rt.RecordRequest(RequestRecord{Sequence: 1})

	// THEN nothing is kept
	if len(rt.Keyframes) != 0 || len(rt.Requests) != 0 {
		t.Errorf("got %d keyframes and %d requests, want none", len(rt.Keyframes), len(rt.Requests))
	}
}

func TestReplayTrace_LevelKeyframes_SkipsRequests(t *testing.T) {
	rt := NewReplayTrace(TraceConfig{Level: TraceLevelKeyframes})

	rt.RecordKeyframe(KeyframeRecord{Visible: 3})
	if rt.RecordRequest(RequestRecord{Sequence: 1}) {
		t.Error("RecordRequest at keyframes level: got true, want false")
	}

	if len(rt.Keyframes) != 1 {
		t.Errorf("keyframes: got %d, want 1", len(rt.Keyframes))
	}
}

func TestReplayTrace_RecordRequest_DeduplicatesBySequence(t *testing.T) {
	// GIVEN a request seen on three consecutive keyframes
	rt := NewReplayTrace(TraceConfig{Level: TraceLevelRequests})
	rec := RequestRecord{Sequence: 7, StartTime: time.Unix(0, 0), Worker: "Worker#000"}

	// WHEN recorded each time
	first := rt.RecordRequest(rec)
	second := rt.RecordRequest(rec)
	third := rt.RecordRequest(rec)

	// THEN it is kept once
	if !first || second || third {
		t.Errorf("RecordRequest results: got %t %t %t, want true false false", first, second, third)
	}
	if len(rt.Requests) != 1 {
		t.Errorf("requests: got %d, want 1", len(rt.Requests))
	}
}
