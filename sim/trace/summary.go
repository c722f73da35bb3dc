package trace

import (
	"time"

	"github.com/influxdata/tdigest"
)

// digestCompression trades digest size for quantile accuracy (~100 centroids).
const digestCompression = 100

// TraceSummary aggregates statistics from a ReplayTrace.
type TraceSummary struct {
	Keyframes          int            `yaml:"keyframes"`
	BufferingKeyframes int            `yaml:"buffering_keyframes"` // keyframes with nothing visible
	MeanVisible        float64        `yaml:"mean_visible"`
	MaxVisible         int            `yaml:"max_visible"`
	SimulatedSpan      time.Duration  `yaml:"simulated_span"` // first to last keyframe
	Requests           int            `yaml:"requests"`
	TotalBytes         uint64         `yaml:"total_bytes"`
	KeepAliveRatio     float64        `yaml:"keep_alive_ratio"`
	DurationP50        time.Duration  `yaml:"duration_p50"`
	DurationP90        time.Duration  `yaml:"duration_p90"`
	DurationP99        time.Duration  `yaml:"duration_p99"`
	UniqueWorkers      int            `yaml:"unique_workers"`
	WorkerDistribution map[string]int `yaml:"worker_distribution"` // worker → requests served
	StatusDistribution map[string]int `yaml:"status_distribution"` // status → requests
}

// Summarize computes aggregate statistics from a ReplayTrace.
// Safe for nil or empty traces (returns zero-value fields).
func Summarize(rt *ReplayTrace) *TraceSummary {
	summary := &TraceSummary{
		WorkerDistribution: make(map[string]int),
		StatusDistribution: make(map[string]int),
	}
	if rt == nil {
		return summary
	}

	summary.Keyframes = len(rt.Keyframes)
	if len(rt.Keyframes) > 0 {
		totalVisible := 0
		for _, k := range rt.Keyframes {
			totalVisible += k.Visible
			if k.Visible > summary.MaxVisible {
				summary.MaxVisible = k.Visible
			}
			if k.Visible == 0 {
				summary.BufferingKeyframes++
			}
		}
		summary.MeanVisible = float64(totalVisible) / float64(len(rt.Keyframes))
		summary.SimulatedSpan = rt.Keyframes[len(rt.Keyframes)-1].SimulatedTime.Sub(rt.Keyframes[0].SimulatedTime)
	}

	summary.Requests = len(rt.Requests)
	if len(rt.Requests) > 0 {
		durations := tdigest.NewWithCompression(digestCompression)
		keepAlive := 0
		for _, r := range rt.Requests {
			durations.Add(float64(r.Duration), 1)
			summary.TotalBytes += r.SizeInBytes
			summary.WorkerDistribution[r.Worker]++
			summary.StatusDistribution[r.Status]++
			if r.KeepAlive {
				keepAlive++
			}
		}
		summary.KeepAliveRatio = float64(keepAlive) / float64(len(rt.Requests))
		summary.DurationP50 = time.Duration(durations.Quantile(0.50))
		summary.DurationP90 = time.Duration(durations.Quantile(0.90))
		summary.DurationP99 = time.Duration(durations.Quantile(0.99))
	}

	summary.UniqueWorkers = len(summary.WorkerDistribution)

	return summary
}
