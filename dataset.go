package sspark

import (
	"fmt"
	"sync/atomic"
)

// StorageLevel describes whether and where a Dataset's partitions are
// persisted once computed.
type StorageLevel int

const (
	// StorageNone means partitions are recomputed on demand
	StorageNone StorageLevel = iota
	// StorageMemory means partitions are cached in executor memory
	StorageMemory
	// StorageDisk means partitions are cached on executor disk
	StorageDisk
	// StorageMemoryAndDisk means partitions spill from memory to disk
	StorageMemoryAndDisk
)

// DeterminismLevel declares whether recomputing a Dataset's partitions
// yields identical output.
type DeterminismLevel int

const (
	// Determinate means recomputation yields identical output
	Determinate DeterminismLevel = iota
	// Unordered means recomputation yields the same multiset in a
	// possibly different order
	Unordered
	// Indeterminate means recomputation may yield different output
	Indeterminate
)

// String returns a textual representation of this DeterminismLevel
func (l DeterminismLevel) String() string {
	switch l {
	case Unordered:
		return "UNORDERED"
	case Indeterminate:
		return "INDETERMINATE"
	default:
		return "DETERMINATE"
	}
}

// PreferredLocationsFunc returns placement hints ("host" or
// "executor_host_id" strings) for a single partition.
type PreferredLocationsFunc func(partition int) []string

var nextDatasetID int64 = -1

// Dataset is a lazy, partitioned collection with recorded parent
// dependencies. Datasets form the lineage graph the scheduler cuts
// into stages; their operator semantics (how rows are computed) live
// entirely on the executor side and are opaque here.
type Dataset struct {
	id            int
	name          string
	numPartitions int
	deps          []Dependency
	storage       StorageLevel
	locFn         PreferredLocationsFunc
	barrier       bool
	determinism   DeterminismLevel
}

// DatasetOption configures optional Dataset attributes
type DatasetOption func(*Dataset)

// WithStorage marks the Dataset for persistence at the given level
func WithStorage(level StorageLevel) DatasetOption {
	return func(ds *Dataset) {
		ds.storage = level
	}
}

// WithPreferredLocations attaches a placement-hint function
func WithPreferredLocations(fn PreferredLocationsFunc) DatasetOption {
	return func(ds *Dataset) {
		ds.locFn = fn
	}
}

// WithBarrier marks the Dataset as requiring gang-scheduled tasks
func WithBarrier() DatasetOption {
	return func(ds *Dataset) {
		ds.barrier = true
	}
}

// WithDeterminism declares the recomputation determinism of the Dataset
func WithDeterminism(level DeterminismLevel) DatasetOption {
	return func(ds *Dataset) {
		ds.determinism = level
	}
}

// NewDataset is a factory for Datasets, assigning a process-unique id
func NewDataset(name string, numPartitions int, deps []Dependency, opts ...DatasetOption) *Dataset {
	ds := &Dataset{
		id:            int(atomic.AddInt64(&nextDatasetID, 1)),
		name:          name,
		numPartitions: numPartitions,
		deps:          deps,
	}
	for _, opt := range opts {
		opt(ds)
	}
	return ds
}

// ID returns the process-unique id of this Dataset
func (ds *Dataset) ID() int {
	return ds.id
}

// Name returns the user-facing name of this Dataset
func (ds *Dataset) Name() string {
	return ds.name
}

// NumPartitions returns the number of partitions in this Dataset
func (ds *Dataset) NumPartitions() int {
	return ds.numPartitions
}

// Dependencies returns the typed parent dependencies of this Dataset
func (ds *Dataset) Dependencies() []Dependency {
	return ds.deps
}

// Storage returns the persistence level of this Dataset
func (ds *Dataset) Storage() StorageLevel {
	return ds.storage
}

// PreferredLocations returns placement hints for a partition, or nil
// if the Dataset declares none
func (ds *Dataset) PreferredLocations(partition int) []string {
	if ds.locFn == nil {
		return nil
	}
	return ds.locFn(partition)
}

// Barrier returns true iff this Dataset requires gang scheduling
func (ds *Dataset) Barrier() bool {
	return ds.barrier
}

// Determinism returns the recomputation determinism of this Dataset
func (ds *Dataset) Determinism() DeterminismLevel {
	return ds.determinism
}

// String returns a textual representation of this Dataset
func (ds *Dataset) String() string {
	return fmt.Sprintf("%s[%d]", ds.name, ds.id)
}
