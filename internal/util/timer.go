package util

import (
	"sort"
	"sync"
	"time"
)

type timerEntry struct {
	when time.Time
	fn   func()
}

// Timer is a minimal scheduled-callback utility backed by a single
// goroutine. Callbacks run on that goroutine, one at a time, in
// deadline order.
type Timer struct {
	mu      sync.Mutex
	entries []*timerEntry
	wake    chan struct{}
	stopped bool
	done    chan struct{}
}

// NewTimer creates and starts a Timer
func NewTimer() *Timer {
	t := &Timer{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go t.run()
	return t
}

// Schedule runs fn after delay. Schedules placed after Stop are dropped.
func (t *Timer) Schedule(delay time.Duration, fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}
	t.entries = append(t.entries, &timerEntry{when: time.Now().Add(delay), fn: fn})
	sort.Slice(t.entries, func(i, j int) bool {
		return t.entries[i].when.Before(t.entries[j].when)
	})
	select {
	case t.wake <- struct{}{}:
	default:
	}
}

// Stop terminates the timer goroutine, dropping pending callbacks, and
// waits for a running callback to return
func (t *Timer) Stop() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		<-t.done
		return
	}
	t.stopped = true
	t.mu.Unlock()
	select {
	case t.wake <- struct{}{}:
	default:
	}
	<-t.done
}

func (t *Timer) run() {
	defer close(t.done)
	for {
		t.mu.Lock()
		if t.stopped {
			t.mu.Unlock()
			return
		}
		var next *timerEntry
		if len(t.entries) > 0 {
			if !t.entries[0].when.After(time.Now()) {
				next = t.entries[0]
				t.entries = t.entries[1:]
			}
		}
		var wait <-chan time.Time
		var pending *time.Timer
		if next == nil && len(t.entries) > 0 {
			pending = time.NewTimer(time.Until(t.entries[0].when))
			wait = pending.C
		}
		t.mu.Unlock()
		if next != nil {
			next.fn()
			continue
		}
		select {
		case <-wait:
		case <-t.wake:
		}
		if pending != nil {
			pending.Stop()
		}
	}
}
