package accumulators

import "sync/atomic"

// NewLong returns a new summing Accumulator
func NewLong(name string) *Long {
	return &Long{base: newBase(name)}
}

// Long sums task-reported deltas
type Long struct {
	base
	value int64
}

// Add folds one task-reported delta into this Accumulator
func (a *Long) Add(delta int64) {
	atomic.AddInt64(&a.value, delta)
}

// Value returns the current sum
func (a *Long) Value() int64 {
	return atomic.LoadInt64(&a.value)
}
