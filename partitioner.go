package sspark

import "github.com/cespare/xxhash/v2"

// Partitioner assigns shuffle keys to reduce-side partitions
type Partitioner interface {
	NumPartitions() int
	Partition(key []byte) int
}

// HashPartitioner assigns keys to partitions by hashing key bytes
type HashPartitioner struct {
	numPartitions int
}

// NewHashPartitioner creates a HashPartitioner with the given width
func NewHashPartitioner(numPartitions int) *HashPartitioner {
	return &HashPartitioner{numPartitions: numPartitions}
}

// NumPartitions returns the number of reduce-side partitions
func (p *HashPartitioner) NumPartitions() int {
	return p.numPartitions
}

// Partition assigns a key to a partition
func (p *HashPartitioner) Partition(key []byte) int {
	return int(xxhash.Sum64(key) % uint64(p.numPartitions))
}
