package trace

// TraceLevel controls the verbosity of replay tracing.
type TraceLevel string

const (
	// TraceLevelNone disables tracing (zero overhead).
	TraceLevelNone TraceLevel = "none"
	// TraceLevelKeyframes captures one record per keyframe.
	TraceLevelKeyframes TraceLevel = "keyframes"
	// TraceLevelRequests captures keyframes and every request shown.
	TraceLevelRequests TraceLevel = "requests"
)

// validTraceLevels maps accepted trace level strings.
var validTraceLevels = map[TraceLevel]bool{
	TraceLevelNone:      true,
	TraceLevelKeyframes: true,
	TraceLevelRequests:  true,
	"":                  true, // empty defaults to none
}

// IsValidTraceLevel returns true if the given level string is a recognized trace level.
func IsValidTraceLevel(level string) bool {
	return validTraceLevels[TraceLevel(level)]
}

// TraceConfig controls trace collection behavior.
type TraceConfig struct {
	Level TraceLevel
}

// ReplayTrace collects records during a replay.
type ReplayTrace struct {
	Config    TraceConfig
	Keyframes []KeyframeRecord
	Requests  []RequestRecord

	seen map[uint64]struct{} // request sequences already recorded
}

// NewReplayTrace creates a ReplayTrace ready for recording.
func NewReplayTrace(config TraceConfig) *ReplayTrace {
	return &ReplayTrace{
		Config:    config,
		Keyframes: make([]KeyframeRecord, 0),
		Requests:  make([]RequestRecord, 0),
		seen:      make(map[uint64]struct{}),
	}
}

// RecordKeyframe appends a keyframe record unless tracing is off.
func (rt *ReplayTrace) RecordKeyframe(record KeyframeRecord) {
	if rt.Config.Level == TraceLevelNone || rt.Config.Level == "" {
		return
	}
	rt.Keyframes = append(rt.Keyframes, record)
}

// RecordRequest appends a request record the first time its sequence is seen,
// at TraceLevelRequests. Returns true if the record was appended.
func (rt *ReplayTrace) RecordRequest(record RequestRecord) bool {
	if rt.Config.Level != TraceLevelRequests {
		return false
	}
	if _, dup := rt.seen[record.Sequence]; dup {
		return false
	}
	rt.seen[record.Sequence] = struct{}{}
	rt.Requests = append(rt.Requests, record)
	return true
}
