// Package sim provides the core of the log replay engine.
//
// # Reading Guide
//
// Start with these files to understand the replay kernel:
//   - request.go: Request, its ordering and the immutable RequestSet
//   - simulator.go: TimeSimulator, which maps wall-clock ticks onto log time
//   - worker.go: WorkerSimulator, which reconciles start times with worker availability
//
// # Architecture
//
// The sim package holds the data model and the single-goroutine simulators;
// everything that reads or serves requests lives in sub-packages:
//   - sim/format/: log format table and the line parser
//   - sim/ingest/: background ingestion pipeline and the visible window
//   - sim/trace/: replay trace recording and summaries
//
// queue.go is the only type meant to be shared between goroutines: the
// single-producer single-consumer BoundedQueue that carries requests from the
// ingestion goroutine to the replay loop. Playback commands cross goroutines as
// Control values and are applied by the goroutine that owns the TimeSimulator.
package sim
