// Package gate implements a bounded-admission gate: at most a configured
// number of tasks run at once, and the start times of any two admitted tasks
// are separated by at least a configured minimum spacing.
//
// The spacing constraint is global across all callers, not per slot — it
// models a shared downstream rate budget rather than per-worker pacing.
// Queued callers are admitted in FIFO order of arrival. All admission state
// (active count, last-admission clock, waiter queue) lives behind a single
// mutex so that check-and-admit is atomic under concurrent Acquire/Release.
package gate

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"
)

// Gate is a bounded-admission gate. Create one with New; the zero value is
// not usable.
type Gate struct {
	width      int
	minSpacing time.Duration

	mu         sync.Mutex
	active     int
	lastAdmit  time.Time
	queue      *list.List // of chan struct{}, closed on admission
	timerArmed bool
}

// New creates a Gate admitting at most width concurrent tasks with at least
// minSpacing between any two admissions. width must be ≥ 1 and minSpacing
// must not be negative.
func New(width int, minSpacing time.Duration) (*Gate, error) {
	if width < 1 {
		return nil, fmt.Errorf("gate: width %d must be at least 1", width)
	}
	if minSpacing < 0 {
		return nil, fmt.Errorf("gate: min spacing %s must not be negative", minSpacing)
	}
	return &Gate{
		width:      width,
		minSpacing: minSpacing,
		queue:      list.New(),
	}, nil
}

// Acquire blocks until the caller is admitted or ctx is cancelled. On
// success the caller owns one slot and must call Release exactly once.
// Cancellation abandons a queued caller; it never revokes an admission that
// already happened.
func (g *Gate) Acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	ready := make(chan struct{})
	g.mu.Lock()
	elem := g.queue.PushBack(ready)
	g.admitLocked()
	g.mu.Unlock()

	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		g.mu.Lock()
		select {
		case <-ready:
			// Lost the race: admission happened before the cancellation was
			// observed. Give the slot back.
			g.releaseLocked()
		default:
			g.queue.Remove(elem)
		}
		g.mu.Unlock()
		return ctx.Err()
	}
}

// Release returns a slot acquired with Acquire and wakes the next queued
// caller once the spacing constraint allows.
func (g *Gate) Release() {
	g.mu.Lock()
	g.releaseLocked()
	g.mu.Unlock()
}

// Do acquires a slot, runs fn, and releases the slot whether fn succeeds or
// fails. The fn error is returned unchanged; an admission failure (context
// cancellation while queued) is returned without running fn.
func (g *Gate) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := g.Acquire(ctx); err != nil {
		return err
	}
	defer g.Release()
	return fn(ctx)
}

func (g *Gate) releaseLocked() {
	g.active--
	g.admitLocked()
}

// admitLocked admits queued callers while a slot is free and the spacing
// floor has elapsed. When only the spacing constraint blocks admission, it
// arms a timer to resume once the floor passes. Must be called with g.mu
// held.
func (g *Gate) admitLocked() {
	for g.queue.Len() > 0 && g.active < g.width {
		now := time.Now()
		if wait := g.minSpacing - now.Sub(g.lastAdmit); wait > 0 {
			if !g.timerArmed {
				g.timerArmed = true
				time.AfterFunc(wait, func() {
					g.mu.Lock()
					g.timerArmed = false
					g.admitLocked()
					g.mu.Unlock()
				})
			}
			return
		}
		front := g.queue.Front()
		g.queue.Remove(front)
		g.active++
		g.lastAdmit = now
		close(front.Value.(chan struct{}))
	}
}
