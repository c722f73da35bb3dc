// Package trace records what a replay showed, for post-run analysis.
// It has no dependencies on sim and stores pure data types.
package trace

import "time"

// KeyframeRecord captures the state of the replay at one keyframe.
type KeyframeRecord struct {
	WallTime         time.Time
	SimulatedTime    time.Time
	Speed            float64
	Visible          int // requests in the visible window
	BufferingPercent int // replay queue load
}

// RequestRecord captures a request the first time it became visible.
type RequestRecord struct {
	Sequence    uint64
	StartTime   time.Time
	Duration    time.Duration
	SizeInBytes uint64
	Source      string
	Target      string
	Status      string
	Worker      string
	KeepAlive   bool
}
