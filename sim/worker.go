package sim

import (
	"fmt"
	"time"
)

// InterJobGap is the idle time an anonymous worker takes between two requests.
const InterJobGap = time.Millisecond

// WorkerName returns the generated name of worker id.
func WorkerName(id int) string {
	return fmt.Sprintf("Worker#%03d", id)
}

// WorkerSimulator assigns requests to simulated workers and reconciles start times
// with worker availability. It is owned by the ingestion goroutine.
//
// Requests that already name a worker keep it. Anonymous requests go to the
// lowest-numbered worker that is free within the request's start time resolution,
// and a new worker is created when none is.
type WorkerSimulator struct {
	nextID int               // next id to hand out; skips ids already registered
	ids    []int             // registered ids, ascending
	freeAt map[int]time.Time // next time each worker is free; zero = never used
	names  map[int]string    // display name per id
	byName map[string]int    // id per display name
}

// NewWorkerSimulator creates a simulator with cfg.PoolSize anonymous workers that
// have never been used.
func NewWorkerSimulator(cfg WorkerConfig) *WorkerSimulator {
	ws := &WorkerSimulator{
		freeAt: make(map[int]time.Time),
		names:  make(map[int]string),
		byName: make(map[string]int),
	}
	for i := 0; i < cfg.PoolSize; i++ {
		ws.register(ws.allocate(), "")
	}
	return ws
}

// allocate registers and returns the next free id. Ids whose generated name
// already belongs to a worker are skipped.
func (ws *WorkerSimulator) allocate() int {
	for {
		id := ws.nextID
		ws.nextID++
		if _, taken := ws.freeAt[id]; taken {
			continue
		}
		if _, taken := ws.byName[WorkerName(id)]; taken {
			continue
		}
		ws.freeAt[id] = time.Time{}
		ws.ids = append(ws.ids, id)
		return id
	}
}

// register names id; an empty name means the generated one.
func (ws *WorkerSimulator) register(id int, name string) int {
	if name == "" {
		name = WorkerName(id)
	}
	ws.names[id] = name
	ws.byName[name] = id
	return id
}

// Assign returns req with Worker set and StartTime moved to when that worker was
// actually free.
func (ws *WorkerSimulator) Assign(req Request) Request {
	if req.Worker != "" {
		return ws.assignNamed(req)
	}

	horizon := req.StartTime.Add(req.StartTimeResolution)
	for _, id := range ws.ids {
		free := ws.freeAt[id]
		if free.IsZero() {
			free = req.StartTime
		}
		if !free.Before(horizon) {
			continue
		}
		if free.After(req.StartTime) {
			req.StartTime = free
		}
		req.Worker = ws.names[id]
		ws.freeAt[id] = req.EndTime().Add(InterJobGap)
		return req
	}

	id := ws.register(ws.allocate(), "")
	ws.freeAt[id] = req.EndTime()
	req.Worker = ws.names[id]
	return req
}

func (ws *WorkerSimulator) assignNamed(req Request) Request {
	id, known := ws.byName[req.Worker]
	if !known {
		id = ws.register(ws.allocate(), req.Worker)
		ws.freeAt[id] = req.StartTime
	}
	if free := ws.freeAt[id]; free.After(req.StartTime) {
		req.StartTime = free
	}
	ws.freeAt[id] = req.EndTime()
	return req
}

// Len returns the number of registered workers.
func (ws *WorkerSimulator) Len() int {
	return len(ws.ids)
}

// NextFree returns when the named worker is next free.
func (ws *WorkerSimulator) NextFree(name string) (time.Time, bool) {
	id, ok := ws.byName[name]
	if !ok {
		return time.Time{}, false
	}
	return ws.freeAt[id], true
}
