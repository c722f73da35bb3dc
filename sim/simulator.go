package sim

import (
	"fmt"
	"math"
	"time"

	"github.com/sirupsen/logrus"
	"k8s.io/utils/clock"
)

// Timings is one tick of the replay clock.
// The zero value means "no tick yet" and makes the next Advance call initialize.
type Timings struct {
	WallTime           time.Time     // wall-clock instant of this tick
	WallTimelapse      time.Duration // wall delta since the previous tick, skip included
	SimulatedTime      time.Time     // position in the replayed log
	SimulatedTimelapse time.Duration // simulated delta since the previous tick
	Speed              float64       // effective speed used for this tick (0 while paused)
	KeyframeTime       time.Time     // wall time of the most recent keyframe
	IsKeyframe         bool          // consumers refresh the visible window on keyframes
	PendingSkip        time.Duration // wall duration to add on the next tick; zeroed by Advance
}

// Initialized reports whether the Timings came out of Advance.
func (t Timings) Initialized() bool {
	return !t.WallTime.IsZero()
}

func (t Timings) String() string {
	return fmt.Sprintf("Timings: (wall: %s, simulated: %s, +%s, speed: %g, keyframe: %t)",
		t.WallTime.Format(time.RFC3339Nano), t.SimulatedTime.Format(time.RFC3339Nano),
		t.SimulatedTimelapse, t.Speed, t.IsKeyframe)
}

// TimeSimulator maps wall-clock progress onto the replayed log's timeline.
// It is owned by the consumer goroutine and is not safe for concurrent use;
// other goroutines drive it by sending Controls to the owner.
type TimeSimulator struct {
	clock clock.PassiveClock

	referenceTime    time.Time     // simulated time of the first tick
	speed            float64       // configured speed, kept while paused
	paused           bool          // effective speed is 0 while set
	keyframeInterval time.Duration // keyframe spacing at speed <= 1
	fixedTick        time.Duration // 0 = read the clock on every tick
	pendingSkip      time.Duration // accumulated by RequestSkip
}

// NewTimeSimulator creates a TimeSimulator reading wall time from clk.
// A nil clk uses the real clock.
func NewTimeSimulator(cfg SimulatorConfig, clk clock.PassiveClock) *TimeSimulator {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &TimeSimulator{
		clock:            clk,
		speed:            cfg.Speed,
		paused:           cfg.StartPaused,
		keyframeInterval: cfg.KeyframeInterval,
		fixedTick:        cfg.FixedTick,
	}
}

// Advance computes the tick following prev.
func (s *TimeSimulator) Advance(prev Timings) Timings {
	skip := prev.PendingSkip + s.pendingSkip
	s.pendingSkip = 0

	speed := s.Speed()
	next := Timings{Speed: speed, KeyframeTime: prev.KeyframeTime}

	if !prev.Initialized() {
		now := s.clock.Now()
		next.WallTime = now
		next.KeyframeTime = now
		next.SimulatedTime = s.referenceTime
		return next
	}

	if s.fixedTick > 0 {
		next.WallTime = prev.WallTime.Add(s.fixedTick)
	} else {
		next.WallTime = s.clock.Now()
	}
	next.WallTimelapse = next.WallTime.Sub(prev.WallTime) + skip
	next.SimulatedTimelapse = scaleTimelapse(next.WallTimelapse, speed)
	next.SimulatedTime = prev.SimulatedTime.Add(next.SimulatedTimelapse)

	interval := time.Duration(float64(s.keyframeInterval) / math.Max(1, speed))
	if next.WallTime.Sub(prev.KeyframeTime) >= interval || !next.WallTime.After(prev.WallTime) {
		next.IsKeyframe = true
		next.KeyframeTime = next.WallTime
	}
	return next
}

// scaleTimelapse multiplies d by speed at TimeUnit resolution, truncating.
func scaleTimelapse(d time.Duration, speed float64) time.Duration {
	return time.Duration(float64(d/TimeUnit)*speed) * TimeUnit
}

// Speed returns the effective speed: 0 while paused, the configured speed otherwise.
func (s *TimeSimulator) Speed() float64 {
	if s.paused {
		return 0
	}
	return s.speed
}

// Paused reports whether the replay is paused.
func (s *TimeSimulator) Paused() bool {
	return s.paused
}

// SetSpeed changes the replay speed. Ignored while paused.
func (s *TimeSimulator) SetSpeed(speed float64) {
	if s.paused {
		return
	}
	if speed < 0 {
		logrus.Warnf("ignoring negative replay speed %g", speed)
		return
	}
	s.speed = speed
}

// TogglePause pauses or resumes the replay. The configured speed survives a pause.
func (s *TimeSimulator) TogglePause() {
	s.paused = !s.paused
}

// RequestSkip adds d of wall time to the next tick. Calls accumulate.
func (s *TimeSimulator) RequestSkip(d time.Duration) {
	s.pendingSkip += d
}

// SetReferenceTime sets the simulated time reported by the first tick.
func (s *TimeSimulator) SetReferenceTime(t time.Time) {
	s.referenceTime = t
}

// ReferenceTime returns the simulated time of the first tick.
func (s *TimeSimulator) ReferenceTime() time.Time {
	return s.referenceTime
}

// SetFixedTickDuration switches to a fixed wall delta per tick; 0 returns to the clock.
func (s *TimeSimulator) SetFixedTickDuration(d time.Duration) {
	s.fixedTick = d
}

// FixedTickForFramerate returns the frame period for fps plus one TimeUnit.
func FixedTickForFramerate(fps float64) time.Duration {
	if fps <= 0 {
		return 0
	}
	return (time.Duration(float64(time.Second)/fps) + TimeUnit).Truncate(TimeUnit)
}
