package accumulators

import (
	"sync"

	sspark "github.com/arcs-skku/SSpark"
	log "github.com/sirupsen/logrus"
)

// Registry holds the accumulators registered with a scheduler and
// folds in the deltas carried by task completion events.
type Registry struct {
	mu     sync.Mutex
	accums map[int64]Accumulator
}

// NewRegistry creates an empty Registry
func NewRegistry() *Registry {
	return &Registry{accums: make(map[int64]Accumulator)}
}

// Register makes an Accumulator visible to task updates
func (r *Registry) Register(a Accumulator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.accums[a.ID()] = a
}

// Get returns a registered Accumulator, or nil
func (r *Registry) Get(id int64) Accumulator {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.accums[id]
}

// Apply folds task-reported updates into their accumulators. Updates
// for unregistered ids are dropped.
func (r *Registry) Apply(updates []sspark.AccumUpdate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range updates {
		a, ok := r.accums[u.ID]
		if !ok {
			log.Debugf("Ignoring update for unregistered accumulator %d (%s)", u.ID, u.Name)
			continue
		}
		a.Add(u.Delta)
	}
}
