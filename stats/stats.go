// Package stats provides the optional observer interface through which
// the scheduler reports stage lifecycle transitions, and a default
// implementation that aggregates per-stage runtimes.
package stats

import (
	"sync"
	"time"
)

// Observer receives stage lifecycle notifications from the scheduler
type Observer interface {
	StageSubmitted(stageID, attemptNumber, numTasks int)
	StageCompleted(stageID int, failed bool)
}

// RunStatistics contains statistics about the stages run by a scheduler
type RunStatistics struct {
	mu            sync.Mutex
	started       bool
	startTime     time.Time
	stageStarts   map[int]time.Time
	stageRuntimes map[int]time.Duration
	attempts      map[int]int
	tasksLaunched int
	stagesFailed  int
}

// NewRunStatistics creates an empty RunStatistics
func NewRunStatistics() *RunStatistics {
	return &RunStatistics{
		stageStarts:   make(map[int]time.Time),
		stageRuntimes: make(map[int]time.Duration),
		attempts:      make(map[int]int),
	}
}

// StageSubmitted tracks the beginning of a stage attempt
func (rs *RunStatistics) StageSubmitted(stageID, attemptNumber, numTasks int) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if !rs.started {
		rs.started = true
		rs.startTime = time.Now()
	}
	rs.stageStarts[stageID] = time.Now()
	rs.attempts[stageID] = attemptNumber + 1
	rs.tasksLaunched += numTasks
}

// StageCompleted tracks the end of a stage attempt
func (rs *RunStatistics) StageCompleted(stageID int, failed bool) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if start, ok := rs.stageStarts[stageID]; ok {
		rs.stageRuntimes[stageID] = time.Since(start)
		delete(rs.stageStarts, stageID)
	}
	if failed {
		rs.stagesFailed++
	}
}

// StageRuntime returns the most recent runtime of a completed stage
func (rs *RunStatistics) StageRuntime(stageID int) (time.Duration, bool) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	d, ok := rs.stageRuntimes[stageID]
	return d, ok
}

// StageAttempts returns the number of attempts a stage has made
func (rs *RunStatistics) StageAttempts(stageID int) int {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.attempts[stageID]
}

// TasksLaunched returns the total number of tasks submitted so far
func (rs *RunStatistics) TasksLaunched() int {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.tasksLaunched
}

// StagesFailed returns the number of failed stage attempts
func (rs *RunStatistics) StagesFailed() int {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.stagesFailed
}

// TotalRuntime returns the elapsed time since the first stage was submitted
func (rs *RunStatistics) TotalRuntime() time.Duration {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if !rs.started {
		return 0
	}
	return time.Since(rs.startTime)
}
