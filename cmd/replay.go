package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"
	"k8s.io/utils/clock"

	"github.com/logreplay/logreplay/sim"
	"github.com/logreplay/logreplay/sim/format"
	"github.com/logreplay/logreplay/sim/ingest"
	"github.com/logreplay/logreplay/sim/trace"
)

var (
	readControls bool   // Read playback commands from stdin
	metricsAddr  string // Prometheus listen address; empty disables it
)

// replayCmd replays a log on a simulated clock.
var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Replay an access log on a simulated clock",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := resolveConfig(cmd)
		if err != nil {
			logrus.Fatalf("Invalid configuration: %v", err)
		}
		parser, err := format.NewParser(loadFormats(), cfg.Input.Format, 0)
		if err != nil {
			logrus.Fatalf("%v", err)
		}

		registry := prometheus.NewRegistry()
		pipeline, err := ingest.Open(cfg.Input.File, cfg.Input.Encoding, cfg.ingestConfig(), cfg.workerConfig(), parser,
			ingest.WithMetrics(ingest.NewMetrics(registry)))
		if err != nil {
			logrus.Fatalf("Failed to open log: %v", err)
		}

		runID := uuid.New().String()
		log := logrus.WithFields(logrus.Fields{"run": runID, "format": cfg.Input.Format})
		log.Infof("Replaying %s at speed %g", cfg.Input.File, cfg.Replay.Speed)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		controls := make(chan sim.Control, 16)
		if readControls {
			go forwardControls(ctx, os.Stdin, controls)
		}

		r := newReplayer(cfg, pipeline, controls, log)
		if err := r.serve(ctx, cfg.tick(), registry); err != nil {
			logrus.Fatalf("Replay failed: %v", err)
		}

		report := replayReport{
			RunID:   runID,
			Input:   cfg.Input.File,
			Format:  cfg.Input.Format,
			Summary: trace.Summarize(r.trace),
		}
		out, err := yaml.Marshal(report)
		if err != nil {
			logrus.Fatalf("Failed to encode summary: %v", err)
		}
		fmt.Print(string(out))
		log.Info("Replay complete.")
	},
}

// replayReport is printed on stdout when a replay ends.
type replayReport struct {
	RunID   string              `yaml:"run_id"`
	Input   string              `yaml:"input"`
	Format  string              `yaml:"format"`
	Summary *trace.TraceSummary `yaml:"summary"`
}

// replayer drives a TimeSimulator against a Pipeline on the consumer goroutine.
type replayer struct {
	log      *logrus.Entry
	clock    *sim.TimeSimulator
	pipeline *ingest.Pipeline
	trace    *trace.ReplayTrace
	controls <-chan sim.Control
	skipIdle bool
	margin   time.Duration // visible margin of the pipeline

	timings   sim.Timings
	buffering bool                // nothing visible at the last refresh
	shown     map[uint64]struct{} // sequences in the window at the last refresh
}

func newReplayer(cfg FileConfig, pipeline *ingest.Pipeline, controls <-chan sim.Control, log *logrus.Entry) *replayer {
	return &replayer{
		log:      log,
		clock:    sim.NewTimeSimulator(cfg.simulatorConfig(), nil),
		pipeline: pipeline,
		trace:    trace.NewReplayTrace(trace.TraceConfig{Level: trace.TraceLevel(cfg.Replay.TraceLevel)}),
		controls: controls,
		skipIdle: cfg.Replay.SkipIdle,
		margin:   cfg.Ingest.VisibleMargin,
		shown:    make(map[uint64]struct{}),
	}
}

// serve starts the pipeline and runs the tick loop until the log is replayed or
// ctx is done. With a metrics address, /metrics is served alongside.
func (r *replayer) serve(ctx context.Context, tick time.Duration, registry *prometheus.Registry) error {
	g, gctx := errgroup.WithContext(ctx)
	loopCtx, cancel := context.WithCancel(gctx)
	defer cancel()

	if metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: metricsAddr, Handler: mux}
		g.Go(func() error {
			r.log.Infof("Serving metrics on %s", metricsAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-loopCtx.Done()
			return srv.Shutdown(context.Background())
		})
	}

	g.Go(func() error {
		defer cancel()
		defer r.pipeline.Stop()
		if err := r.pipeline.Start(loopCtx); err != nil {
			return err
		}
		err := r.run(loopCtx, clock.RealClock{}, tick)
		if errors.Is(err, context.Canceled) {
			r.log.Info("Replay interrupted")
			return nil
		}
		return err
	})
	return g.Wait()
}

// run calls step once per tick until it reports the end of the log.
func (r *replayer) run(ctx context.Context, clk clock.WithTicker, tick time.Duration) error {
	ticker := clk.NewTicker(tick)
	defer ticker.Stop()
	for {
		if r.step() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
		}
	}
}

// step applies pending controls and advances one tick, refreshing the visible
// window on the first tick and on keyframes. It returns true once every request
// has been shown and the window is empty.
func (r *replayer) step() bool {
	r.applyControls()
	if !r.timings.Initialized() {
		ref, ok := r.pipeline.ReferenceTime()
		if !ok {
			return r.pipeline.Exhausted()
		}
		r.clock.SetReferenceTime(ref)
		r.timings = r.clock.Advance(r.timings)
		return r.refresh()
	}
	r.timings = r.clock.Advance(r.timings)
	if !r.timings.IsKeyframe {
		return false
	}
	return r.refresh()
}

func (r *replayer) applyControls() {
	for {
		select {
		case c := <-r.controls:
			c.Apply(r.clock)
		default:
			return
		}
	}
}

// refresh pulls the visible window and records it.
func (r *replayer) refresh() bool {
	visible := r.pipeline.VisibleRequests(r.timings)
	load := r.pipeline.BufferingPercentage()

	r.trace.RecordKeyframe(trace.KeyframeRecord{
		WallTime:         r.timings.WallTime,
		SimulatedTime:    r.timings.SimulatedTime,
		Speed:            r.timings.Speed,
		Visible:          visible.Len(),
		BufferingPercent: load,
	})
	shown := make(map[uint64]struct{}, visible.Len())
	itr := visible.Iterator()
	for !itr.Done() {
		req, _ := itr.Next()
		shown[req.Sequence] = struct{}{}
		if _, seen := r.shown[req.Sequence]; !seen {
			r.log.WithField("worker", req.Worker).Debugf("%s", req)
		}
		r.trace.RecordRequest(requestRecord(req))
	}
	r.shown = shown

	if visible.Len() > 0 {
		if r.buffering {
			r.log.Info("Resuming")
			r.buffering = false
		}
		r.log.Debugf("%s visible=%d queue=%d%%", r.timings, visible.Len(), load)
		return false
	}
	if r.pipeline.Exhausted() {
		return true
	}
	if !r.buffering {
		r.log.Infof("buffering... (queue %d%%)", load)
		r.buffering = true
	}
	if r.skipIdle {
		r.skipToNextRequest()
	}
	return false
}

// skipToNextRequest schedules a skip that brings the earliest pending request
// into the visible window.
func (r *replayer) skipToNextRequest() {
	next, ok := r.pipeline.NextPendingStart()
	speed := r.clock.Speed()
	if !ok || speed <= 0 {
		return
	}
	gap := next.Sub(r.timings.SimulatedTime.Add(r.margin))
	if gap <= 0 {
		return
	}
	wall := time.Duration(float64(gap)/speed) + sim.TimeUnit
	r.log.Infof("Skipping %s of idle log", gap.Truncate(sim.TimeUnit))
	r.clock.RequestSkip(wall)
}

func requestRecord(req sim.Request) trace.RequestRecord {
	return trace.RequestRecord{
		Sequence:    req.Sequence,
		StartTime:   req.StartTime,
		Duration:    req.Duration,
		SizeInBytes: req.SizeInBytes,
		Source:      req.Source,
		Target:      req.Target,
		Status:      req.Status,
		Worker:      req.Worker,
		KeepAlive:   req.KeepAlive,
	}
}
