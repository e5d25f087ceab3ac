// Package sched provides the delayed and periodic task abstraction used by
// the trading manager. Every scheduled callback returns a Task handle so the
// owner can cancel it deterministically.
package sched

import (
	"sync"
	"time"
)

// Task is a handle to a scheduled callback.
type Task interface {
	// Stop cancels the task. It reports whether the task was still pending
	// (for periodic tasks: still running).
	Stop() bool
}

// Scheduler runs callbacks after a delay or on a fixed period.
type Scheduler interface {
	Now() time.Time
	After(d time.Duration, fn func()) Task
	Every(d time.Duration, fn func()) Task
}

// Real schedules on the wall clock. Callbacks run on their own goroutines.
type Real struct{}

func NewReal() Real { return Real{} }

func (Real) Now() time.Time { return time.Now() }

func (Real) After(d time.Duration, fn func()) Task {
	if d < 0 {
		d = 0
	}
	return time.AfterFunc(d, fn)
}

func (Real) Every(d time.Duration, fn func()) Task {
	p := &periodic{done: make(chan struct{})}
	t := time.NewTicker(d)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-t.C:
				fn()
			case <-p.done:
				return
			}
		}
	}()
	return p
}

type periodic struct {
	once sync.Once
	done chan struct{}
}

func (p *periodic) Stop() bool {
	stopped := false
	p.once.Do(func() {
		close(p.done)
		stopped = true
	})
	return stopped
}
