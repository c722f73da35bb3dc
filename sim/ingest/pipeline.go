// Package ingest reads a log in the background and serves the requests that are
// visible at the replay's current simulated time.
//
// One producer goroutine reads, parses and assigns workers, keeps an ordered
// working set, and pushes it into a sim.BoundedQueue. The consumer calls
// VisibleRequests on its own goroutine. Requests cross between the two only
// through the queue.
package ingest

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/avast/retry-go"
	"github.com/sirupsen/logrus"

	"github.com/logreplay/logreplay/sim"
)

// maxLineLength bounds a single log line.
const maxLineLength = 1 << 20

var errQueueFull = errors.New("replay queue full")

// State is the lifecycle state of a Pipeline.
type State int32

const (
	StateIdle     State = iota // constructed, not started
	StateRunning               // reading the source
	StateDraining              // source exhausted, pushing the remaining working set
	StateStopped               // producer finished or cancelled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// LineParser turns one log line into a draft request.
type LineParser interface {
	Parse(line string) sim.Request
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithMetrics instruments the pipeline with m.
func WithMetrics(m *Metrics) Option {
	return func(p *Pipeline) {
		p.metrics = m
	}
}

// Pipeline is the ingestion pipeline.
// Start, Stop, State, ReferenceTime and BufferingPercentage may be called from any
// goroutine. VisibleRequests, Exhausted and NextPendingStart belong to the single
// consumer goroutine.
type Pipeline struct {
	cfg     sim.IngestConfig
	source  io.ReadCloser
	parser  LineParser
	workers *sim.WorkerSimulator
	queue   *sim.BoundedQueue[sim.Request]
	metrics *Metrics

	state     atomic.Int32
	reference atomic.Pointer[time.Time] // start time of the first valid request, set once
	watermark atomic.Pointer[time.Time] // simulated time of the consumer's last query

	lifecycle sync.Mutex // serializes Start and Stop
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
	stopOnce  sync.Once

	// consumer-owned
	window  sim.RequestSet // visible requests
	pending sim.RequestSet // dequeued requests that start after the visible window
}

// New creates a pipeline reading source with parser.
// The pipeline owns source and closes it when stopped.
func New(cfg sim.IngestConfig, workerCfg sim.WorkerConfig, source io.ReadCloser, parser LineParser, opts ...Option) (*Pipeline, error) {
	if source == nil || parser == nil {
		panic("ingest.New: source and parser must not be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("ingest config: %w", err)
	}
	if err := workerCfg.Validate(); err != nil {
		return nil, fmt.Errorf("worker config: %w", err)
	}
	p := &Pipeline{
		cfg:     cfg,
		source:  source,
		parser:  parser,
		workers: sim.NewWorkerSimulator(workerCfg),
		queue:   sim.NewBoundedQueue[sim.Request](cfg.QueueCapacity),
		done:    make(chan struct{}),
		window:  sim.NewRequestSet(),
		pending: sim.NewRequestSet(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.metrics == nil {
		p.metrics = NewMetrics(nil)
	}
	return p, nil
}

// Open opens the log at path and creates a pipeline reading it.
// A source that cannot be opened is reported here, before any goroutine starts.
func Open(path, encoding string, cfg sim.IngestConfig, workerCfg sim.WorkerConfig, parser LineParser, opts ...Option) (*Pipeline, error) {
	source, err := OpenSource(path, encoding)
	if err != nil {
		return nil, err
	}
	p, err := New(cfg, workerCfg, source, parser, opts...)
	if err != nil {
		source.Close()
		return nil, err
	}
	return p, nil
}

// === Lifecycle ===

// Start launches the producer goroutine. It returns an error unless the pipeline is Idle.
// Cancelling ctx stops the producer like Stop does.
func (p *Pipeline) Start(ctx context.Context) error {
	p.lifecycle.Lock()
	defer p.lifecycle.Unlock()
	if !p.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		return fmt.Errorf("pipeline already %s", p.State())
	}
	p.metrics.State.Set(float64(StateRunning))
	logrus.Infof("ingestion started (read margin %s, queue capacity %d)", p.cfg.ReadMargin, p.queue.Capacity())

	ctx, p.cancel = context.WithCancel(ctx)
	go p.run(ctx)
	return nil
}

// Stop cancels the producer, closes the source and waits for the producer to exit.
// Safe to call more than once and before Start.
func (p *Pipeline) Stop() {
	p.stopOnce.Do(func() {
		p.lifecycle.Lock()
		defer p.lifecycle.Unlock()
		if p.state.CompareAndSwap(int32(StateIdle), int32(StateStopped)) {
			p.metrics.State.Set(float64(StateStopped))
			p.closeSource()
			close(p.done)
			return
		}
		p.cancel()
		p.closeSource()
	})
	<-p.done
}

// Done is closed once the producer has exited.
func (p *Pipeline) Done() <-chan struct{} {
	return p.done
}

// State returns the current lifecycle state.
func (p *Pipeline) State() State {
	return State(p.state.Load())
}

func (p *Pipeline) setState(s State) {
	p.state.Store(int32(s))
	p.metrics.State.Set(float64(s))
	logrus.Infof("ingestion %s", s)
}

func (p *Pipeline) closeSource() {
	p.closeOnce.Do(func() {
		if err := p.source.Close(); err != nil {
			logrus.Debugf("closing log source: %v", err)
		}
	})
}

// === Producer ===

func (p *Pipeline) run(ctx context.Context) {
	defer close(p.done)
	defer p.setState(StateStopped)
	defer p.closeSource()

	scanner := bufio.NewScanner(p.source)
	scanner.Buffer(make([]byte, 64*1024), maxLineLength)

	working := sim.NewRequestSet()
	for {
		if ctx.Err() != nil {
			return
		}
		var eof bool
		working, eof = p.readAhead(ctx, scanner, working)
		if ctx.Err() != nil {
			return
		}
		if eof {
			break
		}
		if p.queue.LoadPercentage() >= p.cfg.BackpressurePercent {
			continue
		}
		working = p.drain(ctx, working)
	}

	p.setState(StateDraining)
	p.finalDrain(ctx, working)
}

// readAhead reads requests into working until the newest one starts after the
// read horizon, or the source ends (eof == true).
func (p *Pipeline) readAhead(ctx context.Context, scanner *bufio.Scanner, working sim.RequestSet) (_ sim.RequestSet, eof bool) {
	horizon, ok := p.horizon()
	for {
		if ctx.Err() != nil {
			return working, false
		}
		req, more := p.next(ctx, scanner)
		if !more {
			return working, true
		}
		working = working.Add(req)
		p.metrics.WorkingSet.Set(float64(working.Len()))
		if !ok {
			horizon, ok = p.horizon()
		}
		if req.StartTime.After(horizon) {
			return working, false
		}
	}
}

// horizon is the consumer's last simulated time, or the reference time before the
// first query, plus the read margin.
func (p *Pipeline) horizon() (time.Time, bool) {
	cursor := p.watermark.Load()
	if cursor == nil {
		cursor = p.reference.Load()
	}
	if cursor == nil {
		return time.Time{}, false
	}
	return cursor.Add(p.cfg.ReadMargin), true
}

// next returns the next valid request with its worker assigned.
func (p *Pipeline) next(ctx context.Context, scanner *bufio.Scanner) (sim.Request, bool) {
	for {
		if ctx.Err() != nil {
			return sim.Request{}, false
		}
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil && ctx.Err() == nil {
				logrus.Errorf("reading log: %v", err)
			}
			return sim.Request{}, false
		}
		p.metrics.LinesRead.Inc()
		req := p.parser.Parse(strings.TrimRight(scanner.Text(), "\r"))
		if !req.Valid {
			p.metrics.LinesRejected.Inc()
			continue
		}
		req = p.workers.Assign(req)
		if p.reference.Load() == nil {
			start := req.StartTime
			p.reference.Store(&start)
			logrus.Infof("replay reference time %s", start.Format(time.RFC3339))
		}
		return req, true
	}
}

// drain pushes requests from the front of working until the queue refuses one,
// and returns the requests that were not pushed.
func (p *Pipeline) drain(ctx context.Context, working sim.RequestSet) sim.RequestSet {
	remaining := working
	itr := working.Iterator()
	for !itr.Done() {
		if ctx.Err() != nil {
			break
		}
		req, _ := itr.Next()
		if !p.queue.Push(req) {
			break
		}
		remaining = remaining.Delete(req)
		p.metrics.RequestsQueued.Inc()
	}
	p.metrics.WorkingSet.Set(float64(remaining.Len()))
	p.metrics.QueueLoad.Set(float64(p.queue.LoadPercentage()))
	return remaining
}

// finalDrain pushes what is left once the source is exhausted, retrying while
// the consumer frees up space.
func (p *Pipeline) finalDrain(ctx context.Context, working sim.RequestSet) {
	for working.Len() > 0 && ctx.Err() == nil {
		err := retry.Do(
			func() error {
				working = p.drain(ctx, working)
				if working.Len() > 0 {
					return errQueueFull
				}
				return nil
			},
			retry.Context(ctx),
			retry.Attempts(p.cfg.DrainAttempts),
			retry.Delay(p.cfg.DrainDelay),
			retry.DelayType(retry.FixedDelay),
			retry.LastErrorOnly(true),
		)
		if err != nil {
			logrus.Debugf("drain pass ended with %d requests pending: %v", working.Len(), err)
		}
	}
}

// === Consumer ===

// VisibleRequests returns the requests that overlap
// [t.SimulatedTime - visible margin, t.SimulatedTime + visible margin].
// Requests that ended before the window are evicted; requests that start after it
// stay pending until the window reaches them. The returned set is a snapshot.
func (p *Pipeline) VisibleRequests(t sim.Timings) sim.RequestSet {
	now := t.SimulatedTime
	p.watermark.Store(&now)
	lower := now.Add(-p.cfg.VisibleMargin)
	upper := now.Add(p.cfg.VisibleMargin)

	itr := p.window.Iterator()
	for !itr.Done() {
		req, _ := itr.Next()
		if req.StartTime.After(lower) {
			break
		}
		if req.EndTime().Before(lower) {
			p.window = p.window.Delete(req)
			p.metrics.RequestsEvicted.Inc()
		}
	}

	for {
		next, ok := sim.FirstRequest(p.pending)
		if !ok {
			req, ok := p.queue.Pop()
			if !ok {
				break
			}
			p.pending = p.pending.Add(req)
			continue
		}
		if next.StartTime.After(upper) {
			break
		}
		p.pending = p.pending.Delete(next)
		if next.EndTime().Before(lower) {
			p.metrics.RequestsStale.Inc()
			continue
		}
		p.window = p.window.Add(next)
	}
	p.metrics.QueueLoad.Set(float64(p.queue.LoadPercentage()))
	return p.window
}

// BufferingPercentage returns the queue load in percent.
func (p *Pipeline) BufferingPercentage() int {
	return p.queue.LoadPercentage()
}

// Exhausted reports whether every request has been handed to VisibleRequests:
// the producer has stopped and nothing is queued or pending.
func (p *Pipeline) Exhausted() bool {
	return p.State() == StateStopped && p.queue.Size() == 0 && p.pending.Len() == 0
}

// ReferenceTime returns the start time of the first valid request, once read.
func (p *Pipeline) ReferenceTime() (time.Time, bool) {
	ref := p.reference.Load()
	if ref == nil {
		return time.Time{}, false
	}
	return *ref, true
}

// NextPendingStart returns the start time of the earliest request waiting for the
// visible window to reach it.
func (p *Pipeline) NextPendingStart() (time.Time, bool) {
	next, ok := sim.FirstRequest(p.pending)
	if !ok {
		return time.Time{}, false
	}
	return next.StartTime, true
}
