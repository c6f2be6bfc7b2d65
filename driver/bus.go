package driver

import (
	"sync"

	sspark "github.com/arcs-skku/SSpark"
)

// Bus is a simple synchronous in-process listener bus. Listeners run
// on the posting goroutine and must not block.
type Bus struct {
	mu        sync.RWMutex
	listeners []func(sspark.ListenerEvent)
}

// NewBus creates an empty Bus
func NewBus() *Bus {
	return &Bus{}
}

// AddListener subscribes a listener to every subsequent event
func (b *Bus) AddListener(fn func(sspark.ListenerEvent)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners = append(b.listeners, fn)
}

// Post delivers an event to every listener
func (b *Bus) Post(event sspark.ListenerEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, fn := range b.listeners {
		fn(event)
	}
}
