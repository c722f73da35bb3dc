package cmd

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testclock "k8s.io/utils/clock/testing"

	"github.com/logreplay/logreplay/sim"
	"github.com/logreplay/logreplay/sim/format"
	"github.com/logreplay/logreplay/sim/ingest"
	"github.com/logreplay/logreplay/sim/trace"
)

// newTestReplayer builds a replayer over lines with one keyframe per tick.
func newTestReplayer(t *testing.T, skipIdle bool, controls <-chan sim.Control, lines ...string) *replayer {
	t.Helper()
	cfg := defaultFileConfig()
	cfg.Input.File = writeLog(t, lines...)
	cfg.Replay.Framerate = 1
	cfg.Replay.SkipIdle = skipIdle
	cfg.Ingest.QueueCapacity = 16
	require.NoError(t, cfg.Validate())

	parser, err := format.NewParser(format.DefaultTable(), cfg.Input.Format, 0)
	require.NoError(t, err)
	p, err := ingest.Open(cfg.Input.File, cfg.Input.Encoding, cfg.ingestConfig(), cfg.workerConfig(), parser)
	require.NoError(t, err)
	t.Cleanup(p.Stop)

	return newReplayer(cfg, p, controls, logrus.NewEntry(logrus.StandardLogger()))
}

// startAndWait starts the pipeline and waits until the whole log is queued.
func startAndWait(t *testing.T, r *replayer) {
	t.Helper()
	require.NoError(t, r.pipeline.Start(context.Background()))
	select {
	case <-r.pipeline.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("pipeline did not finish reading")
	}
}

// stepUntilDone steps r until it reports the end of the log, returning the tick count.
func stepUntilDone(t *testing.T, r *replayer, maxTicks int) int {
	t.Helper()
	for i := 1; i <= maxTicks; i++ {
		if r.step() {
			return i
		}
	}
	t.Fatalf("replay did not finish within %d ticks", maxTicks)
	return 0
}

var gappedLog = []string{
	accessLine(0, "/a", time.Second),
	accessLine(5*time.Second, "/b", time.Second),
	accessLine(100*time.Second, "/c", time.Second),
}

func TestReplayer_ShowsEveryRequestOnce(t *testing.T) {
	// GIVEN requests at 0s, 5s and 100s
	r := newTestReplayer(t, false, nil, gappedLog...)
	startAndWait(t, r)

	// WHEN replayed to the end
	stepUntilDone(t, r, 1000)

	// THEN each request was recorded once and the first two were visible together
	require.Len(t, r.trace.Requests, 3)
	assert.Equal(t, "/a", r.trace.Requests[0].Target)
	assert.Equal(t, "/c", r.trace.Requests[2].Target)
	assert.Equal(t, 2, r.trace.Keyframes[0].Visible)
	assert.True(t, r.pipeline.Exhausted())
}

func TestReplayer_LogsNewRequestsAtAnyTraceLevel(t *testing.T) {
	// GIVEN a replay with tracing disabled and a debug log hook
	r := newTestReplayer(t, false, nil, gappedLog...)
	r.trace = trace.NewReplayTrace(trace.TraceConfig{Level: trace.TraceLevelNone})
	logger, hook := logtest.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	r.log = logrus.NewEntry(logger)
	startAndWait(t, r)

	// WHEN replayed to the end
	stepUntilDone(t, r, 1000)

	// THEN each request is logged once when it becomes visible
	logged := make(map[string]int)
	for _, entry := range hook.AllEntries() {
		if worker, ok := entry.Data["worker"]; ok {
			logged[entry.Message]++
			assert.NotEmpty(t, worker)
		}
	}
	assert.Len(t, logged, 3)
	for msg, n := range logged {
		assert.Equal(t, 1, n, msg)
	}
	assert.Empty(t, r.trace.Requests)
}

func TestReplayer_FirstTick_StartsAtReferenceTime(t *testing.T) {
	r := newTestReplayer(t, false, nil, gappedLog...)
	startAndWait(t, r)

	r.step()

	if !r.timings.SimulatedTime.Equal(logEpoch) {
		t.Errorf("first simulated time: got %s, want %s", r.timings.SimulatedTime, logEpoch)
	}
}

func TestReplayer_SkipIdle_JumpsOverGap(t *testing.T) {
	// GIVEN the same gapped log replayed with and without idle skipping
	plain := newTestReplayer(t, false, nil, gappedLog...)
	startAndWait(t, plain)
	skipping := newTestReplayer(t, true, nil, gappedLog...)
	startAndWait(t, skipping)

	// WHEN both run to the end
	plainTicks := stepUntilDone(t, plain, 1000)
	skippingTicks := stepUntilDone(t, skipping, 1000)

	// THEN skipping needs far fewer ticks and still shows every request
	assert.Less(t, skippingTicks, plainTicks/2)
	assert.Len(t, skipping.trace.Requests, 3)
}

func TestReplayer_Buffering_RecordsEmptyKeyframes(t *testing.T) {
	r := newTestReplayer(t, false, nil, gappedLog...)
	startAndWait(t, r)

	stepUntilDone(t, r, 1000)

	buffering := 0
	for _, k := range r.trace.Keyframes {
		if k.Visible == 0 {
			buffering++
		}
	}
	assert.Greater(t, buffering, 0, "the gap between 6s and 90s has nothing visible")
}

func TestReplayer_EmptyLog_FinishesImmediately(t *testing.T) {
	// GIVEN a log with no valid lines
	r := newTestReplayer(t, false, nil, "garbage", "more garbage")
	startAndWait(t, r)

	// WHEN stepped once
	done := r.step()

	// THEN the replay is over without any tick
	assert.True(t, done)
	assert.Empty(t, r.trace.Keyframes)
}

func TestReplayer_AppliesControlsBeforeTick(t *testing.T) {
	// GIVEN a speed command waiting on the controls channel
	controls := make(chan sim.Control, 2)
	controls <- sim.SetSpeed{Speed: 2}
	r := newTestReplayer(t, false, controls, gappedLog...)
	startAndWait(t, r)

	// WHEN two ticks run
	r.step()
	r.step()

	// THEN the second tick advanced at the new speed
	assert.Equal(t, 2.0, r.timings.Speed)
	assert.Equal(t, 2*(time.Second+time.Microsecond), r.timings.SimulatedTimelapse)
}

func TestReplayer_Paused_HoldsSimulatedTime(t *testing.T) {
	controls := make(chan sim.Control, 1)
	r := newTestReplayer(t, false, controls, gappedLog...)
	startAndWait(t, r)
	r.step()

	controls <- sim.TogglePause{}
	for i := 0; i < 5; i++ {
		r.step()
	}

	assert.True(t, r.timings.SimulatedTime.Equal(logEpoch))
}

func TestReplayer_Run_StopsOnCancelledContext(t *testing.T) {
	// GIVEN a pipeline that never starts, so the replay cannot finish on its own
	parser, err := format.NewParser(format.DefaultTable(), DefaultFormat, 0)
	require.NoError(t, err)
	p, err := ingest.New(sim.DefaultIngestConfig(), sim.DefaultWorkerConfig(),
		io.NopCloser(strings.NewReader("")), parser)
	require.NoError(t, err)
	t.Cleanup(p.Stop)
	r := newReplayer(defaultFileConfig(), p, nil, logrus.NewEntry(logrus.StandardLogger()))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// WHEN run
	err = r.run(ctx, testclock.NewFakeClock(logEpoch), time.Second)

	// THEN it returns the context error
	assert.ErrorIs(t, err, context.Canceled)
}
