package sched

import (
	"sync"
	"time"
)

// Manual is a virtual clock. Nothing runs until Advance is called, which
// fires every due task in time order on the caller's goroutine.
type Manual struct {
	mu    sync.Mutex
	now   time.Time
	seq   uint64
	tasks map[*manualTask]struct{}
}

// NewManual returns a Manual clock starting at start.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start, tasks: make(map[*manualTask]struct{})}
}

type manualTask struct {
	m     *Manual
	at    time.Time
	every time.Duration
	seq   uint64
	fn    func()
}

func (t *manualTask) Stop() bool {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	if _, ok := t.m.tasks[t]; !ok {
		return false
	}
	delete(t.m.tasks, t)
	return true
}

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *Manual) After(d time.Duration, fn func()) Task {
	if d < 0 {
		d = 0
	}
	return m.add(d, 0, fn)
}

func (m *Manual) Every(d time.Duration, fn func()) Task {
	if d <= 0 {
		panic("sched: non-positive period")
	}
	return m.add(d, d, fn)
}

func (m *Manual) add(d, every time.Duration, fn func()) Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	t := &manualTask{m: m, at: m.now.Add(d), every: every, seq: m.seq, fn: fn}
	m.tasks[t] = struct{}{}
	return t
}

// Pending returns the number of scheduled tasks.
func (m *Manual) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tasks)
}

// Advance moves the clock forward by d, running due tasks as it goes.
// Tasks scheduled by a callback run in the same call if they fall due.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	target := m.now.Add(d)
	m.mu.Unlock()

	for {
		m.mu.Lock()
		var next *manualTask
		for t := range m.tasks {
			if t.at.After(target) {
				continue
			}
			if next == nil || t.at.Before(next.at) || (t.at.Equal(next.at) && t.seq < next.seq) {
				next = t
			}
		}
		if next == nil {
			m.now = target
			m.mu.Unlock()
			return
		}
		m.now = next.at
		if next.every > 0 {
			next.at = next.at.Add(next.every)
		} else {
			delete(m.tasks, next)
		}
		fn := next.fn
		m.mu.Unlock()

		fn()
	}
}
