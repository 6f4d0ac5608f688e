package service

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// gate serializes task processing: at most one holder at any instant.
type gate struct {
	sem    *semaphore.Weighted
	active atomic.Int32
	peak   atomic.Int32
}

func newGate() *gate {
	return &gate{sem: semaphore.NewWeighted(1)}
}

func (g *gate) Acquire(ctx context.Context) error {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	n := g.active.Add(1)
	for {
		p := g.peak.Load()
		if n <= p || g.peak.CompareAndSwap(p, n) {
			break
		}
	}
	return nil
}

func (g *gate) Release() {
	g.active.Add(-1)
	g.sem.Release(1)
}

// Peak returns the highest number of simultaneous holders observed.
func (g *gate) Peak() int {
	return int(g.peak.Load())
}
