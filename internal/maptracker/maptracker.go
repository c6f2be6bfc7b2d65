// Package maptracker provides the driver-side master implementation of
// the map-output tracker: the cluster-wide registry of where each map
// task of each shuffle wrote its output, and the owner of the global
// failure epoch.
package maptracker

import (
	"sync"

	sspark "github.com/arcs-skku/SSpark"
	log "github.com/sirupsen/logrus"
)

type shuffleStatus struct {
	numMaps int
	// statuses is indexed by map id; nil marks a missing output
	statuses []*sspark.MapStatus
}

func (ss *shuffleStatus) numAvailable() int {
	n := 0
	for _, st := range ss.statuses {
		if st != nil {
			n++
		}
	}
	return n
}

// Master tracks shuffle output locations for the scheduler
type Master struct {
	mu       sync.RWMutex
	epoch    int64
	shuffles map[int]*shuffleStatus
}

// NewMaster creates an empty map-output tracker master
func NewMaster() *Master {
	return &Master{shuffles: make(map[int]*shuffleStatus)}
}

// RegisterShuffle makes a shuffle known to the tracker
func (m *Master) RegisterShuffle(shuffleID, numMaps int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.shuffles[shuffleID]; ok {
		log.Warnf("Shuffle %d registered twice", shuffleID)
		return
	}
	m.shuffles[shuffleID] = &shuffleStatus{
		numMaps:  numMaps,
		statuses: make([]*sspark.MapStatus, numMaps),
	}
}

// RegisterMapOutput records where one map task wrote its output
func (m *Master) RegisterMapOutput(shuffleID, mapID int, status *sspark.MapStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ss, ok := m.shuffles[shuffleID]
	if !ok {
		log.Errorf("Cannot register map output for unknown shuffle %d", shuffleID)
		return
	}
	ss.statuses[mapID] = status
}

// UnregisterMapOutput discards one map output, if it is still located
// on the given block manager
func (m *Master) UnregisterMapOutput(shuffleID, mapID int, bm sspark.BlockManagerID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ss, ok := m.shuffles[shuffleID]
	if !ok {
		return
	}
	if st := ss.statuses[mapID]; st != nil && st.Location == bm {
		ss.statuses[mapID] = nil
		m.epoch++
	}
}

// UnregisterAllMapOutput discards every map output of a shuffle
func (m *Master) UnregisterAllMapOutput(shuffleID int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ss, ok := m.shuffles[shuffleID]
	if !ok {
		return
	}
	ss.statuses = make([]*sspark.MapStatus, ss.numMaps)
	m.epoch++
}

// UnregisterShuffle forgets a shuffle entirely
func (m *Master) UnregisterShuffle(shuffleID int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.shuffles, shuffleID)
}

// RemoveOutputsOnHost discards every map output located on a host
func (m *Master) RemoveOutputsOnHost(host string) {
	m.removeOutputsIf(func(st *sspark.MapStatus) bool {
		return st.Location.Host == host
	})
}

// RemoveOutputsOnExecutor discards every map output located on an executor
func (m *Master) RemoveOutputsOnExecutor(executorID string) {
	m.removeOutputsIf(func(st *sspark.MapStatus) bool {
		return st.Location.ExecutorID == executorID
	})
}

func (m *Master) removeOutputsIf(pred func(*sspark.MapStatus) bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := false
	for _, ss := range m.shuffles {
		for i, st := range ss.statuses {
			if st != nil && pred(st) {
				ss.statuses[i] = nil
				removed = true
			}
		}
	}
	if removed {
		m.epoch++
	}
}

// ContainsShuffle returns true iff the shuffle is registered
func (m *Master) ContainsShuffle(shuffleID int) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.shuffles[shuffleID]
	return ok
}

// NumAvailableOutputs returns the number of registered map outputs
func (m *Master) NumAvailableOutputs(shuffleID int) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if ss, ok := m.shuffles[shuffleID]; ok {
		return ss.numAvailable()
	}
	return 0
}

// FindMissingPartitions returns the map partitions without a
// registered output, in ascending order
func (m *Master) FindMissingPartitions(shuffleID int) []int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ss, ok := m.shuffles[shuffleID]
	if !ok {
		return nil
	}
	missing := make([]int, 0, ss.numMaps)
	for i, st := range ss.statuses {
		if st == nil {
			missing = append(missing, i)
		}
	}
	return missing
}

// GetStatistics sums registered output sizes by reduce partition
func (m *Master) GetStatistics(dep *sspark.ShuffleDependency) *sspark.MapOutputStatistics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	totals := make([]int64, dep.NumPartitions())
	if ss, ok := m.shuffles[dep.ShuffleID()]; ok {
		for _, st := range ss.statuses {
			if st == nil {
				continue
			}
			for i, size := range st.Sizes {
				if i < len(totals) {
					totals[i] += size
				}
			}
		}
	}
	return &sspark.MapOutputStatistics{ShuffleID: dep.ShuffleID(), BytesByPartition: totals}
}

// IncrementEpoch advances the failure epoch, invalidating cached
// output locations on executors
func (m *Master) IncrementEpoch() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.epoch++
	log.Debugf("Increasing epoch to %d", m.epoch)
}

// GetEpoch returns the current failure epoch
func (m *Master) GetEpoch() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.epoch
}
