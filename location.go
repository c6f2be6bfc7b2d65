package sspark

import (
	"fmt"
	"strings"
)

const executorLocationPrefix = "executor_"

// TaskLocation is a placement hint pairing a task with a host, and
// optionally a specific executor on that host, which already holds its
// input.
type TaskLocation struct {
	Host       string
	ExecutorID string
}

// HostLocation creates a host-level TaskLocation
func HostLocation(host string) TaskLocation {
	return TaskLocation{Host: host}
}

// ExecutorLocation creates an executor-level TaskLocation
func ExecutorLocation(host, executorID string) TaskLocation {
	return TaskLocation{Host: host, ExecutorID: executorID}
}

// ParseTaskLocation decodes a placement-hint string of the form "host"
// or "executor_host_id"
func ParseTaskLocation(hint string) TaskLocation {
	if strings.HasPrefix(hint, executorLocationPrefix) {
		parts := strings.SplitN(strings.TrimPrefix(hint, executorLocationPrefix), "_", 2)
		if len(parts) == 2 {
			return ExecutorLocation(parts[0], parts[1])
		}
	}
	return HostLocation(hint)
}

// String returns a textual representation of this TaskLocation
func (l TaskLocation) String() string {
	if l.ExecutorID != "" {
		return fmt.Sprintf("%s%s_%s", executorLocationPrefix, l.Host, l.ExecutorID)
	}
	return l.Host
}

// BlockManagerID identifies the block manager of a single executor
type BlockManagerID struct {
	ExecutorID string
	Host       string
}

// String returns a textual representation of this BlockManagerID
func (id BlockManagerID) String() string {
	return fmt.Sprintf("BlockManagerID(%s, %s)", id.ExecutorID, id.Host)
}
