package sspark

import "sync/atomic"

// Dependency is a typed edge from a child Dataset to one of its
// parents. Narrow dependencies stay within a stage; shuffle
// dependencies induce a stage boundary.
type Dependency interface {
	Parent() *Dataset
}

// NarrowDependency maps each child partition to a bounded set of
// parent partitions without a shuffle.
type NarrowDependency struct {
	parent    *Dataset
	parentsFn func(childPartition int) []int
}

// NewOneToOneDependency creates a NarrowDependency where child
// partition i depends exactly on parent partition i
func NewOneToOneDependency(parent *Dataset) *NarrowDependency {
	return &NarrowDependency{parent: parent}
}

// NewNarrowDependency creates a NarrowDependency with a custom
// child-to-parent partition mapping
func NewNarrowDependency(parent *Dataset, parentsFn func(childPartition int) []int) *NarrowDependency {
	return &NarrowDependency{parent: parent, parentsFn: parentsFn}
}

// Parent returns the parent Dataset of this dependency
func (d *NarrowDependency) Parent() *Dataset {
	return d.parent
}

// ParentPartitions returns the parent partitions a child partition
// depends on
func (d *NarrowDependency) ParentPartitions(childPartition int) []int {
	if d.parentsFn == nil {
		return []int{childPartition}
	}
	return d.parentsFn(childPartition)
}

var nextShuffleID int64 = -1

// ShuffleDependency is an all-to-all repartitioning edge. Each
// ShuffleDependency carries a process-unique shuffle id under which
// map outputs are registered with the map-output tracker.
type ShuffleDependency struct {
	shuffleID   int
	parent      *Dataset
	partitioner Partitioner
}

// NewShuffleDependency creates a ShuffleDependency over a parent
// Dataset, allocating a fresh shuffle id
func NewShuffleDependency(parent *Dataset, partitioner Partitioner) *ShuffleDependency {
	return &ShuffleDependency{
		shuffleID:   int(atomic.AddInt64(&nextShuffleID, 1)),
		parent:      parent,
		partitioner: partitioner,
	}
}

// ShuffleID returns the process-unique shuffle id of this dependency
func (d *ShuffleDependency) ShuffleID() int {
	return d.shuffleID
}

// Parent returns the map-side Dataset of this dependency
func (d *ShuffleDependency) Parent() *Dataset {
	return d.parent
}

// Partitioner returns the reduce-side Partitioner of this dependency
func (d *ShuffleDependency) Partitioner() Partitioner {
	return d.partitioner
}

// NumPartitions returns the number of reduce-side partitions
func (d *ShuffleDependency) NumPartitions() int {
	return d.partitioner.NumPartitions()
}
