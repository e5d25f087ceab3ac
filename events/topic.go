// Package events provides typed publish/subscribe topics.
package events

import "sync"

// Topic fans a value of type T out to every subscriber. The zero value is
// ready to use. Publish calls subscribers synchronously, in subscription
// order, on the publisher's goroutine.
type Topic[T any] struct {
	mu   sync.RWMutex
	next uint64
	subs []subscriber[T]
}

type subscriber[T any] struct {
	id uint64
	fn func(T)
}

// Subscribe registers fn and returns a func that removes it. Calling the
// returned func more than once is a no-op.
func (t *Topic[T]) Subscribe(fn func(T)) (unsubscribe func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.next++
	id := t.next
	t.subs = append(t.subs, subscriber[T]{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() { t.remove(id) })
	}
}

func (t *Topic[T]) remove(id uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, s := range t.subs {
		if s.id == id {
			t.subs = append(t.subs[:i:i], t.subs[i+1:]...)
			return
		}
	}
}

// Publish delivers v to the current subscribers. Subscribers added or
// removed during delivery take effect on the next Publish.
func (t *Topic[T]) Publish(v T) {
	t.mu.RLock()
	subs := t.subs
	t.mu.RUnlock()

	for _, s := range subs {
		s.fn(v)
	}
}

// Len returns the number of subscribers.
func (t *Topic[T]) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.subs)
}
