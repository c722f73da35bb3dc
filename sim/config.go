package sim

import (
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
)

// Defaults used when a config field is left at its zero value by the caller.
const (
	DefaultSpeed               = 1.0
	DefaultKeyframeInterval    = time.Second
	DefaultWorkerPoolSize      = 50
	DefaultReadMargin          = 24 * time.Hour
	DefaultVisibleMargin       = 10 * time.Second
	DefaultQueueCapacity       = 1_000_000
	DefaultBackpressurePercent = 50
	DefaultDrainAttempts       = 10
	DefaultDrainDelay          = 10 * time.Millisecond
)

// SimulatorConfig groups TimeSimulator parameters.
type SimulatorConfig struct {
	Speed            float64       // replay speed factor (1.0 = real time, 0 = frozen)
	KeyframeInterval time.Duration // wall time between keyframes at speed <= 1
	FixedTick        time.Duration // 0 = follow the wall clock; >0 = fixed wall delta per tick
	StartPaused      bool          // start with the replay paused
}

// DefaultSimulatorConfig returns real-time replay with one keyframe per second.
func DefaultSimulatorConfig() SimulatorConfig {
	return SimulatorConfig{
		Speed:            DefaultSpeed,
		KeyframeInterval: DefaultKeyframeInterval,
	}
}

// Validate reports every invalid field.
func (c SimulatorConfig) Validate() error {
	var result *multierror.Error
	if c.Speed < 0 {
		result = multierror.Append(result, fmt.Errorf("speed must be >= 0, got %g", c.Speed))
	}
	if c.KeyframeInterval < 0 {
		result = multierror.Append(result, fmt.Errorf("keyframe interval must be >= 0, got %s", c.KeyframeInterval))
	}
	if c.FixedTick < 0 {
		result = multierror.Append(result, fmt.Errorf("fixed tick must be >= 0, got %s", c.FixedTick))
	}
	return result.ErrorOrNil()
}

// WorkerConfig groups WorkerSimulator parameters.
type WorkerConfig struct {
	PoolSize int // anonymous workers pre-seeded before the first request
}

// DefaultWorkerConfig returns a pool of 50 pre-seeded workers.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{PoolSize: DefaultWorkerPoolSize}
}

// Validate reports every invalid field.
func (c WorkerConfig) Validate() error {
	if c.PoolSize < 0 {
		return fmt.Errorf("worker pool size must be >= 0, got %d", c.PoolSize)
	}
	return nil
}

// IngestConfig groups ingestion pipeline parameters.
type IngestConfig struct {
	ReadMargin          time.Duration // how far past the consumer's simulated time the producer reads per batch
	VisibleMargin       time.Duration // half-width of the visible window around simulated time
	QueueCapacity       int           // BoundedQueue capacity before power-of-two rounding
	BackpressurePercent int           // queue load at which the producer stops pushing
	DrainAttempts       uint          // push attempts per drain pass once the source is exhausted
	DrainDelay          time.Duration // pause between drain attempts
}

// DefaultIngestConfig returns a 24h read margin, a 10s visible margin and a
// one-million request queue.
func DefaultIngestConfig() IngestConfig {
	return IngestConfig{
		ReadMargin:          DefaultReadMargin,
		VisibleMargin:       DefaultVisibleMargin,
		QueueCapacity:       DefaultQueueCapacity,
		BackpressurePercent: DefaultBackpressurePercent,
		DrainAttempts:       DefaultDrainAttempts,
		DrainDelay:          DefaultDrainDelay,
	}
}

// Validate reports every invalid field.
func (c IngestConfig) Validate() error {
	var result *multierror.Error
	if c.ReadMargin < 0 {
		result = multierror.Append(result, fmt.Errorf("read margin must be >= 0, got %s", c.ReadMargin))
	}
	if c.VisibleMargin < 0 {
		result = multierror.Append(result, fmt.Errorf("visible margin must be >= 0, got %s", c.VisibleMargin))
	}
	if c.QueueCapacity <= 0 {
		result = multierror.Append(result, fmt.Errorf("queue capacity must be > 0, got %d", c.QueueCapacity))
	}
	if c.BackpressurePercent <= 0 || c.BackpressurePercent > 100 {
		result = multierror.Append(result, fmt.Errorf("backpressure percent must be in (0, 100], got %d", c.BackpressurePercent))
	}
	if c.DrainAttempts == 0 {
		result = multierror.Append(result, fmt.Errorf("drain attempts must be > 0"))
	}
	if c.DrainDelay < 0 {
		result = multierror.Append(result, fmt.Errorf("drain delay must be >= 0, got %s", c.DrainDelay))
	}
	return result.ErrorOrNil()
}
