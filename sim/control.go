package sim

import (
	"fmt"
	"math"
	"time"

	"github.com/sirupsen/logrus"
)

// Control defines the interface for playback commands.
// Controls are plain values so that any goroutine can build one and hand it to
// the goroutine that owns the TimeSimulator, which calls Apply between ticks.
type Control interface {
	Apply(*TimeSimulator)
	String() string
}

// Speed ladder limits. SpeedUp stops at 100x and SlowDown at 0.01x.
const (
	maxLadderSpeed = 100
	minLadderSpeed = 0.01
)

// TogglePause pauses or resumes the replay.
type TogglePause struct{}

// Apply toggles the pause flag.
func (TogglePause) Apply(s *TimeSimulator) {
	s.TogglePause()
	logrus.Infof("replay paused=%t", s.Paused())
}

func (TogglePause) String() string { return "pause" }

// Skip jumps the replay forward by Duration of wall time.
type Skip struct {
	Duration time.Duration
}

// Apply schedules the skip for the next tick.
func (c Skip) Apply(s *TimeSimulator) {
	s.RequestSkip(c.Duration)
	logrus.Infof("skipping %s", c.Duration)
}

func (c Skip) String() string { return fmt.Sprintf("skip %s", c.Duration) }

// SetSpeed sets an explicit replay speed.
type SetSpeed struct {
	Speed float64
}

// Apply sets the speed; ignored while paused.
func (c SetSpeed) Apply(s *TimeSimulator) {
	s.SetSpeed(c.Speed)
	logrus.Infof("replay speed %g", s.Speed())
}

func (c SetSpeed) String() string { return fmt.Sprintf("speed %g", c.Speed) }

// SpeedUp moves one step up the speed ladder (1, 2.5, 5, 10, 25, 50, 100).
type SpeedUp struct{}

// Apply raises the speed by one ladder step.
func (SpeedUp) Apply(s *TimeSimulator) {
	s.SetSpeed(FasterSpeed(s.Speed()))
	logrus.Infof("replay speed %g", s.Speed())
}

func (SpeedUp) String() string { return "faster" }

// SlowDown moves one step down the speed ladder (1, 0.5, 0.25, 0.1, ...).
type SlowDown struct{}

// Apply lowers the speed by one ladder step.
func (SlowDown) Apply(s *TimeSimulator) {
	s.SetSpeed(SlowerSpeed(s.Speed()))
	logrus.Infof("replay speed %g", s.Speed())
}

func (SlowDown) String() string { return "slower" }

// ladderStep splits speed into a two-digit mantissa (10..99) and a power of ten.
func ladderStep(speed float64) (step, pow float64) {
	exp := math.Floor(math.Log10(speed))
	// Log10 may land just below an exact power of ten
	if math.Pow(10, exp+1) <= speed*(1+1e-9) {
		exp++
	} else if math.Pow(10, exp) > speed*(1+1e-9) {
		exp--
	}
	pow = math.Pow(10, exp-1)
	step = math.Floor(speed/pow + 1e-9)
	return step, pow
}

// FasterSpeed returns the next speed on the ladder above speed.
// Speeds at or above 100 and non-positive speeds are returned unchanged.
func FasterSpeed(speed float64) float64 {
	if speed <= 0 || speed >= maxLadderSpeed*(1-1e-9) {
		return speed
	}
	step, pow := ladderStep(speed)
	if step == 10 {
		step = 25
	} else {
		step *= 2
	}
	return step * pow
}

// SlowerSpeed returns the next speed on the ladder below speed.
// Speeds at or below 0.01 are returned unchanged.
func SlowerSpeed(speed float64) float64 {
	if speed <= minLadderSpeed*(1+1e-9) {
		return speed
	}
	step, pow := ladderStep(speed)
	if step == 25 {
		step = 10
	} else {
		step = math.Floor(step / 2)
	}
	return step * pow
}
