package dag

import (
	"fmt"
	"sync"

	sspark "github.com/arcs-skku/SSpark"
	lru "github.com/hashicorp/golang-lru"
	log "github.com/sirupsen/logrus"
)

const cacheLocationEntries = 16384

// cacheLocationIndex is the lazily-populated table of cached partition
// locations per dataset. It is the one piece of scheduler state read
// from outside the event loop (the task-submission path computes
// preferred locations too), so every access takes the mutex.
type cacheLocationIndex struct {
	mu           sync.Mutex
	blockManager sspark.BlockManagerMaster
	locs         *lru.Cache
}

func newCacheLocationIndex(blockManager sspark.BlockManagerMaster) *cacheLocationIndex {
	cache, err := lru.New(cacheLocationEntries)
	if err != nil {
		log.Panicf("Unable to initialize cache location index: %v", err)
	}
	return &cacheLocationIndex{blockManager: blockManager, locs: cache}
}

// get returns candidate locations per partition of ds, querying the
// block manager once per dataset in a single batch
func (c *cacheLocationIndex) get(ds *sspark.Dataset) [][]sspark.TaskLocation {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cached, ok := c.locs.Get(ds.ID()); ok {
		return cached.([][]sspark.TaskLocation)
	}
	locs := make([][]sspark.TaskLocation, ds.NumPartitions())
	if ds.Storage() != sspark.StorageNone {
		blockIDs := make([]string, ds.NumPartitions())
		for i := range blockIDs {
			blockIDs[i] = fmt.Sprintf("dataset_%d_%d", ds.ID(), i)
		}
		for i, bms := range c.blockManager.GetLocations(blockIDs) {
			if i >= len(locs) {
				break
			}
			for _, bm := range bms {
				locs[i] = append(locs[i], sspark.ExecutorLocation(bm.Host, bm.ExecutorID))
			}
		}
	}
	c.locs.Add(ds.ID(), locs)
	return locs
}

// fullyCached reports whether every partition of ds has at least one
// cached location
func (c *cacheLocationIndex) fullyCached(ds *sspark.Dataset) bool {
	for _, partLocs := range c.get(ds) {
		if len(partLocs) == 0 {
			return false
		}
	}
	return ds.NumPartitions() > 0
}

// clear wipes the whole index; called on executor loss, job submission
// and shuffle-map state changes
func (c *cacheLocationIndex) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.locs.Purge()
}
