package cmd

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/logreplay/logreplay/sim"
	"github.com/logreplay/logreplay/sim/ingest"
	"github.com/logreplay/logreplay/sim/trace"
)

// DefaultFormat is the log format used when neither --format nor the config file names one.
const DefaultFormat = "combined-timed"

// FileConfig is the layout of the --config file.
// All top-level sections must be listed to satisfy KnownFields(true) strict parsing.
type FileConfig struct {
	Input   InputConfig   `yaml:"input"`
	Replay  ReplayConfig  `yaml:"replay"`
	Workers WorkersConfig `yaml:"workers"`
	Ingest  IngestConfig  `yaml:"ingest"`
}

// InputConfig selects the log and how to read it.
type InputConfig struct {
	File     string `yaml:"file"`
	Format   string `yaml:"format"`
	Encoding string `yaml:"encoding"`
}

// ReplayConfig drives the replay clock and its output.
type ReplayConfig struct {
	Speed            float64       `yaml:"speed"`
	KeyframeInterval time.Duration `yaml:"keyframe_interval"`
	StartPaused      bool          `yaml:"start_paused"`
	Framerate        float64       `yaml:"framerate"` // > 0 replays at a fixed tick per frame
	Tick             time.Duration `yaml:"tick"`      // loop cadence without a framerate
	SkipIdle         bool          `yaml:"skip_idle"`
	TraceLevel       string        `yaml:"trace_level"`
}

// WorkersConfig sizes the simulated worker pool.
type WorkersConfig struct {
	PoolSize int `yaml:"pool_size"`
}

// IngestConfig tunes the ingestion pipeline.
type IngestConfig struct {
	ReadMargin          time.Duration `yaml:"read_margin"`
	VisibleMargin       time.Duration `yaml:"visible_margin"`
	QueueCapacity       int           `yaml:"queue_capacity"`
	BackpressurePercent int           `yaml:"backpressure_percent"`
}

// defaultFileConfig mirrors the package defaults of sim.
func defaultFileConfig() FileConfig {
	simCfg := sim.DefaultSimulatorConfig()
	ingestCfg := sim.DefaultIngestConfig()
	return FileConfig{
		Input: InputConfig{Format: DefaultFormat, Encoding: "utf-8"},
		Replay: ReplayConfig{
			Speed:            simCfg.Speed,
			KeyframeInterval: simCfg.KeyframeInterval,
			Tick:             40 * time.Millisecond,
			TraceLevel:       string(trace.TraceLevelRequests),
		},
		Workers: WorkersConfig{PoolSize: sim.DefaultWorkerConfig().PoolSize},
		Ingest: IngestConfig{
			ReadMargin:          ingestCfg.ReadMargin,
			VisibleMargin:       ingestCfg.VisibleMargin,
			QueueCapacity:       ingestCfg.QueueCapacity,
			BackpressurePercent: ingestCfg.BackpressurePercent,
		},
	}
}

// parseFileConfig decodes data over the defaults with strict field checking.
func parseFileConfig(data []byte) (FileConfig, error) {
	cfg := defaultFileConfig()
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return FileConfig{}, fmt.Errorf("parsing config: %w", err)
	}
	return cfg, nil
}

// loadFileConfig reads path, or returns the defaults when path is empty.
func loadFileConfig(path string) (FileConfig, error) {
	if path == "" {
		return defaultFileConfig(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return FileConfig{}, fmt.Errorf("reading config: %w", err)
	}
	return parseFileConfig(data)
}

// Validate reports every problem with the configuration.
func (c FileConfig) Validate() error {
	var result *multierror.Error
	if c.Input.File == "" {
		result = multierror.Append(result, fmt.Errorf("input file not provided"))
	}
	if !ingest.IsValidEncoding(c.Input.Encoding) {
		result = multierror.Append(result, fmt.Errorf("unknown encoding %q (valid: %v)", c.Input.Encoding, ingest.ValidEncodingNames()))
	}
	if !trace.IsValidTraceLevel(c.Replay.TraceLevel) {
		result = multierror.Append(result, fmt.Errorf("unknown trace level %q", c.Replay.TraceLevel))
	}
	if c.Replay.Framerate < 0 {
		result = multierror.Append(result, fmt.Errorf("framerate must be >= 0, got %g", c.Replay.Framerate))
	}
	if c.Replay.Framerate == 0 && c.Replay.Tick <= 0 {
		result = multierror.Append(result, fmt.Errorf("tick must be > 0, got %s", c.Replay.Tick))
	}
	for _, err := range []error{
		c.simulatorConfig().Validate(),
		c.workerConfig().Validate(),
		c.ingestConfig().Validate(),
	} {
		if err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

func (c FileConfig) simulatorConfig() sim.SimulatorConfig {
	cfg := sim.DefaultSimulatorConfig()
	cfg.Speed = c.Replay.Speed
	cfg.KeyframeInterval = c.Replay.KeyframeInterval
	cfg.StartPaused = c.Replay.StartPaused
	cfg.FixedTick = sim.FixedTickForFramerate(c.Replay.Framerate)
	return cfg
}

func (c FileConfig) workerConfig() sim.WorkerConfig {
	return sim.WorkerConfig{PoolSize: c.Workers.PoolSize}
}

func (c FileConfig) ingestConfig() sim.IngestConfig {
	cfg := sim.DefaultIngestConfig()
	cfg.ReadMargin = c.Ingest.ReadMargin
	cfg.VisibleMargin = c.Ingest.VisibleMargin
	cfg.QueueCapacity = c.Ingest.QueueCapacity
	cfg.BackpressurePercent = c.Ingest.BackpressurePercent
	return cfg
}

// tick returns the replay loop cadence.
func (c FileConfig) tick() time.Duration {
	if fixed := sim.FixedTickForFramerate(c.Replay.Framerate); fixed > 0 {
		return fixed
	}
	return c.Replay.Tick
}

// === Flags ===

var (
	inputPath        string        // Log file to read
	formatName       string        // Active log format
	encodingName     string        // Character encoding of the log
	replaySpeed      float64       // Replay speed multiplier
	keyframeInterval time.Duration // Keyframe spacing at speed <= 1
	startPaused      bool          // Start the replay paused
	workerPoolSize   int           // Pre-seeded anonymous workers
	readMargin       time.Duration // Producer read-ahead past the simulated time
	visibleMargin    time.Duration // Half width of the visible window
	queueCapacity    int           // Replay queue capacity
	framerate        float64       // Fixed frame rate; 0 follows the wall clock
	tickInterval     time.Duration // Loop cadence without a frame rate
	skipIdle         bool          // Jump over gaps with nothing visible
	traceLevel       string        // Trace verbosity
)

// registerInputFlags binds the flags shared by commands that read a log.
func registerInputFlags(cmd *cobra.Command) {
	defaults := defaultFileConfig()
	cmd.Flags().StringVarP(&inputPath, "input", "i", "", "Access log to read (.gz is decompressed)")
	cmd.Flags().StringVar(&formatName, "format", defaults.Input.Format, "Log format name (see the formats command)")
	cmd.Flags().StringVar(&encodingName, "encoding", defaults.Input.Encoding, "Character encoding of the log")
	cmd.Flags().IntVar(&workerPoolSize, "worker-pool", defaults.Workers.PoolSize, "Anonymous workers available before new ones are created")
}

// registerReplayFlags binds the replay command flags.
func registerReplayFlags(cmd *cobra.Command) {
	defaults := defaultFileConfig()
	registerInputFlags(cmd)
	cmd.Flags().Float64Var(&replaySpeed, "speed", defaults.Replay.Speed, "Replay speed multiplier")
	cmd.Flags().DurationVar(&keyframeInterval, "keyframe-interval", defaults.Replay.KeyframeInterval, "Keyframe spacing at speed <= 1")
	cmd.Flags().BoolVar(&startPaused, "paused", false, "Start the replay paused")
	cmd.Flags().DurationVar(&readMargin, "read-margin", defaults.Ingest.ReadMargin, "How far past the simulated time the log is read ahead")
	cmd.Flags().DurationVar(&visibleMargin, "visible-margin", defaults.Ingest.VisibleMargin, "Half width of the visible window")
	cmd.Flags().IntVar(&queueCapacity, "queue-capacity", defaults.Ingest.QueueCapacity, "Replay queue capacity (rounded up to a power of two)")
	cmd.Flags().Float64Var(&framerate, "framerate", 0, "Replay at a fixed tick of 1/framerate instead of following the wall clock")
	cmd.Flags().DurationVar(&tickInterval, "tick", defaults.Replay.Tick, "Replay loop cadence when no framerate is set")
	cmd.Flags().BoolVar(&skipIdle, "skip-idle", false, "Skip ahead when nothing is visible")
	cmd.Flags().StringVar(&traceLevel, "trace-level", defaults.Replay.TraceLevel, "Trace verbosity (none, keyframes, requests)")
	cmd.Flags().BoolVar(&readControls, "controls", false, "Read playback commands from stdin")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
}

// applyFlagOverrides copies explicitly set flags of cmd over cfg.
// Flags left at their defaults never override file values.
func applyFlagOverrides(cmd *cobra.Command, cfg *FileConfig) {
	changed := func(name string) bool {
		f := cmd.Flags().Lookup(name)
		return f != nil && f.Changed
	}
	if changed("input") {
		cfg.Input.File = inputPath
	}
	if changed("format") {
		cfg.Input.Format = formatName
	}
	if changed("encoding") {
		cfg.Input.Encoding = encodingName
	}
	if changed("worker-pool") {
		cfg.Workers.PoolSize = workerPoolSize
	}
	if changed("speed") {
		cfg.Replay.Speed = replaySpeed
	}
	if changed("keyframe-interval") {
		cfg.Replay.KeyframeInterval = keyframeInterval
	}
	if changed("paused") {
		cfg.Replay.StartPaused = startPaused
	}
	if changed("framerate") {
		cfg.Replay.Framerate = framerate
	}
	if changed("tick") {
		cfg.Replay.Tick = tickInterval
	}
	if changed("skip-idle") {
		cfg.Replay.SkipIdle = skipIdle
	}
	if changed("trace-level") {
		cfg.Replay.TraceLevel = traceLevel
	}
	if changed("read-margin") {
		cfg.Ingest.ReadMargin = readMargin
	}
	if changed("visible-margin") {
		cfg.Ingest.VisibleMargin = visibleMargin
	}
	if changed("queue-capacity") {
		cfg.Ingest.QueueCapacity = queueCapacity
	}
}

// resolveConfig loads --config, applies flag overrides and validates the result.
func resolveConfig(cmd *cobra.Command) (FileConfig, error) {
	cfg, err := loadFileConfig(configPath)
	if err != nil {
		return FileConfig{}, err
	}
	applyFlagOverrides(cmd, &cfg)
	if err := cfg.Validate(); err != nil {
		return FileConfig{}, err
	}
	return cfg, nil
}
