// Defines the Request struct that models a single parsed log line in the replay.
// Tracks when the request started, how long it ran, and which worker served it.

package sim

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/immutable"
)

// TimeUnit is the internal resolution of every duration and time point carried by a Request.
const TimeUnit = time.Microsecond

// requestSequence hands out process-wide request sequence numbers. Never reset.
var requestSequence atomic.Uint64

// Request models one log line after parsing.
// A Request is a value: the parser produces a draft, WorkerSimulator.Assign returns
// the finalized copy, and only finalized copies cross into the BoundedQueue.
type Request struct {
	Sequence uint64 // Process-wide unique, strictly increasing in construction order

	StartTime           time.Time     // When the request started
	StartTimeResolution time.Duration // Granularity of StartTime as logged (1s for most formats)
	Duration            time.Duration // Time taken to serve the request

	SizeInBytes uint64 // Response size
	Source      string // Normalized client identity (digit runs padded to three digits)
	Target      string // Normalized target (page extracted from the request line)
	Status      string // Response status, verbatim
	Worker      string // Worker that served the request; assigned by WorkerSimulator when absent
	KeepAlive   bool   // Connection was kept alive after the request

	Valid bool // All fields were filled from a matching line
}

// NewRequest returns an empty, invalid Request carrying the next sequence number.
func NewRequest() Request {
	return Request{Sequence: requestSequence.Add(1)}
}

// EndTime returns StartTime + Duration.
func (req Request) EndTime() time.Time {
	return req.StartTime.Add(req.Duration)
}

// This method returns a human-readable string representation of a Request.
func (req Request) String() string {
	return fmt.Sprintf("request { start: %s, end: %s, duration: %s, source: %s, target: %s, worker: %s, size: %d, keep_alive: %t }",
		req.StartTime.Format(time.RFC3339Nano), req.EndTime().Format(time.RFC3339Nano), req.Duration,
		req.Source, req.Target, req.Worker, req.SizeInBytes, req.KeepAlive)
}

// RequestComparer orders requests by StartTime, then by Sequence.
// Two distinct requests never compare equal because sequences are unique.
type RequestComparer struct{}

// Compare implements immutable.Comparer.
func (RequestComparer) Compare(a, b Request) int {
	if a.StartTime.Before(b.StartTime) {
		return -1
	}
	if a.StartTime.After(b.StartTime) {
		return 1
	}
	switch {
	case a.Sequence < b.Sequence:
		return -1
	case a.Sequence > b.Sequence:
		return 1
	}
	return 0
}

// RequestSet is a persistent ordered set of requests.
// Every mutation returns a new set, so a set handed to a caller is a stable snapshot.
type RequestSet = immutable.SortedSet[Request]

// NewRequestSet builds a RequestSet ordered by RequestComparer.
func NewRequestSet(reqs ...Request) RequestSet {
	return immutable.NewSortedSet[Request](RequestComparer{}, reqs...)
}

// FirstRequest returns the earliest request in the set.
func FirstRequest(set RequestSet) (Request, bool) {
	if set.Len() == 0 {
		return Request{}, false
	}
	return set.Iterator().Next()
}

// LastRequest returns the latest request in the set.
func LastRequest(set RequestSet) (Request, bool) {
	if set.Len() == 0 {
		return Request{}, false
	}
	itr := set.Iterator()
	itr.Last()
	return itr.Prev()
}
