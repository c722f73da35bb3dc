package sim

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWorkerSimulator_ReusesFreeWorker(t *testing.T) {
	// GIVEN one pre-seeded worker and resolution 1s
	ws := NewWorkerSimulator(WorkerConfig{PoolSize: 1})

	// WHEN A (0s, 2s), B (1s, 1s) and C (3s, 1s) arrive anonymously
	a := ws.Assign(requestAt(0, 2*time.Second))
	b := ws.Assign(requestAt(time.Second, time.Second))
	c := ws.Assign(requestAt(3*time.Second, time.Second))

	// THEN A takes the seeded worker, B needs a new one, C reuses A's worker
	assert.Equal(t, "Worker#000", a.Worker)
	assert.Equal(t, "Worker#001", b.Worker)
	assert.Equal(t, "Worker#000", c.Worker)

	// THEN start times were never moved because every worker was free in time
	assert.Equal(t, epoch, a.StartTime)
	assert.Equal(t, epoch.Add(time.Second), b.StartTime)
	assert.Equal(t, epoch.Add(3*time.Second), c.StartTime)

	free, ok := ws.NextFree("Worker#000")
	assert.True(t, ok)
	assert.Equal(t, epoch.Add(4*time.Second+InterJobGap), free)
}

func TestWorkerSimulator_EmptyPool_CreatesWorkers(t *testing.T) {
	// GIVEN no pre-seeded workers
	ws := NewWorkerSimulator(WorkerConfig{PoolSize: 0})

	// WHEN A (0s, 2s), B (1s, 1s), C (3s, 1s) arrive
	a := ws.Assign(requestAt(0, 2*time.Second))
	b := ws.Assign(requestAt(time.Second, time.Second))
	c := ws.Assign(requestAt(3*time.Second, time.Second))

	// THEN A and B get fresh workers and C reuses A's
	assert.Equal(t, "Worker#000", a.Worker)
	assert.Equal(t, "Worker#001", b.Worker)
	assert.Equal(t, "Worker#000", c.Worker)
	assert.Equal(t, 2, ws.Len())
}

func TestWorkerSimulator_FreeWithinResolution_DelaysStart(t *testing.T) {
	// GIVEN a worker busy until 0.5s
	ws := NewWorkerSimulator(WorkerConfig{PoolSize: 0})
	ws.Assign(requestAt(0, 500*time.Millisecond))

	// WHEN a request logged at 0s (resolution 1s) arrives
	got := ws.Assign(requestAt(0, 100*time.Millisecond))

	// THEN it runs on the same worker, starting when the worker frees up
	assert.Equal(t, "Worker#000", got.Worker)
	assert.Equal(t, epoch.Add(500*time.Millisecond), got.StartTime)
}

func TestWorkerSimulator_NamedWorker_ClampsStart(t *testing.T) {
	// GIVEN a named worker busy until 5s
	ws := NewWorkerSimulator(WorkerConfig{PoolSize: 2})
	first := requestAt(0, 5*time.Second)
	first.Worker = "pid-42"
	first = ws.Assign(first)

	// WHEN the same worker logs a request at 3s
	second := requestAt(3*time.Second, time.Second)
	second.Worker = "pid-42"
	second = ws.Assign(second)

	// THEN the worker name is kept and the start moves to 5s
	assert.Equal(t, "pid-42", first.Worker)
	assert.Equal(t, epoch, first.StartTime)
	assert.Equal(t, "pid-42", second.Worker)
	assert.Equal(t, epoch.Add(5*time.Second), second.StartTime)
	free, _ := ws.NextFree("pid-42")
	assert.Equal(t, epoch.Add(6*time.Second), free)
	assert.Equal(t, 3, ws.Len())
}

func TestWorkerSimulator_NamedWorkerWithGeneratedName_KeepsOwnTimeline(t *testing.T) {
	// GIVEN a log that names a worker "Worker#001" busy from 0s to 10s
	ws := NewWorkerSimulator(WorkerConfig{PoolSize: 0})
	named := requestAt(0, 10*time.Second)
	named.Worker = WorkerName(1)
	named = ws.Assign(named)

	// WHEN an anonymous request arrives at 1s and the named worker logs again at 2s
	anon := ws.Assign(requestAt(time.Second, time.Second))
	again := requestAt(2*time.Second, time.Second)
	again.Worker = WorkerName(1)
	again = ws.Assign(again)

	// THEN the anonymous request gets a different name
	assert.NotEqual(t, WorkerName(1), anon.Worker)
	assert.Equal(t, WorkerName(2), anon.Worker)

	// THEN the named worker's second job waits for its first one
	assert.Equal(t, epoch.Add(10*time.Second), again.StartTime)
	free, ok := ws.NextFree(WorkerName(1))
	assert.True(t, ok)
	assert.Equal(t, epoch.Add(11*time.Second), free)
}

func TestWorkerSimulator_GeneratedNames_NeverOverlap(t *testing.T) {
	// GIVEN named workers that reuse generated names, mixed with anonymous requests
	ws := NewWorkerSimulator(WorkerConfig{PoolSize: 0})
	busyUntil := make(map[string]time.Time)
	for i := 0; i < 200; i++ {
		req := requestAt(time.Duration(i/4)*time.Second, 3*time.Second)
		if i%5 == 0 {
			req.Worker = WorkerName(i % 7)
		}

		// WHEN assigned
		got := ws.Assign(req)

		// THEN no displayed worker runs two overlapping jobs
		if end, ok := busyUntil[got.Worker]; ok && got.StartTime.Before(end) {
			t.Fatalf("request %d: %s starts at %s before its previous job ends at %s",
				i, got.Worker, got.StartTime, end)
		}
		busyUntil[got.Worker] = got.EndTime()
	}
}

func TestWorkerSimulator_NeverDecreasesStartTime(t *testing.T) {
	ws := NewWorkerSimulator(DefaultWorkerConfig())
	for i := 0; i < 500; i++ {
		req := requestAt(time.Duration(i%7)*time.Second, time.Duration(i%5)*300*time.Millisecond)
		if i%3 == 0 {
			req.Worker = fmt.Sprintf("w%d", i%4)
		}
		got := ws.Assign(req)
		if got.StartTime.Before(req.StartTime) {
			t.Fatalf("request %d: start moved backwards from %s to %s", i, req.StartTime, got.StartTime)
		}
		if got.Worker == "" {
			t.Fatalf("request %d: no worker assigned", i)
		}
	}
}

func TestWorkerSimulator_Deterministic(t *testing.T) {
	// GIVEN the same request stream assigned twice
	run := func() []string {
		ws := NewWorkerSimulator(WorkerConfig{PoolSize: 3})
		var out []string
		for i := 0; i < 200; i++ {
			got := ws.Assign(requestAt(time.Duration(i)*200*time.Millisecond, time.Duration(i%9)*250*time.Millisecond))
			out = append(out, fmt.Sprintf("%s@%s", got.Worker, got.StartTime.Sub(epoch)))
		}
		return out
	}

	// THEN the assignments are identical
	assert.Equal(t, run(), run())
}

func TestWorkerName_Format(t *testing.T) {
	assert.Equal(t, "Worker#007", WorkerName(7))
	assert.Equal(t, "Worker#1234", WorkerName(1234))
}
