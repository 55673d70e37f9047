package scheduler

import (
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Gate bounds how many runs execute at once across the whole process. A
// single Gate is shared by every tick, so overlapping ticks still respect
// the cap.
type Gate struct {
	sem      *semaphore.Weighted
	size     int64
	inFlight atomic.Int64
}

func NewGate(maxParallel int) *Gate {
	if maxParallel < 1 {
		maxParallel = 1
	}
	return &Gate{
		sem:  semaphore.NewWeighted(int64(maxParallel)),
		size: int64(maxParallel),
	}
}

// TryAcquire takes a slot without blocking. It reports false when the gate
// is full; the caller should leave the schedule for a later tick.
func (g *Gate) TryAcquire() bool {
	if !g.sem.TryAcquire(1) {
		return false
	}
	g.inFlight.Add(1)
	return true
}

func (g *Gate) Release() {
	g.inFlight.Add(-1)
	g.sem.Release(1)
}

// InFlight returns the number of slots currently held.
func (g *Gate) InFlight() int {
	return int(g.inFlight.Load())
}

func (g *Gate) Size() int {
	return int(g.size)
}
