package sspark

import (
	"fmt"
	"time"
)

// Broadcast is a read-only variable shipped to every task of a stage
// attempt. The scheduler broadcasts each stage attempt's serialized
// task closure exactly once.
type Broadcast interface {
	ID() string
	Data() []byte
}

// ResultFunc computes the final per-partition result of a job. It is
// executed by workers, never by the scheduler.
type ResultFunc func(partition int) (interface{}, error)

// Task is one unit of work of a stage attempt, computing a single
// partition.
type Task interface {
	StageID() int
	StageAttemptID() int
	PartitionID() int
	JobID() int
	// Epoch is the map-output tracker epoch at launch time, used to
	// detect completions from executors that have since been lost
	Epoch() int64
	PreferredLocations() []TaskLocation
	IsBarrier() bool
	Closure() Broadcast
}

type baseTask struct {
	stageID        int
	stageAttemptID int
	partitionID    int
	jobID          int
	epoch          int64
	locs           []TaskLocation
	barrier        bool
	closure        Broadcast
}

func (t *baseTask) StageID() int                       { return t.stageID }
func (t *baseTask) StageAttemptID() int                { return t.stageAttemptID }
func (t *baseTask) PartitionID() int                   { return t.partitionID }
func (t *baseTask) JobID() int                         { return t.jobID }
func (t *baseTask) Epoch() int64                       { return t.epoch }
func (t *baseTask) PreferredLocations() []TaskLocation { return t.locs }
func (t *baseTask) IsBarrier() bool                    { return t.barrier }
func (t *baseTask) Closure() Broadcast                 { return t.closure }

// ShuffleMapTask computes one map-side partition of a shuffle,
// producing a MapStatus on success.
type ShuffleMapTask struct {
	baseTask
	dep *ShuffleDependency
}

// NewShuffleMapTask creates a ShuffleMapTask
func NewShuffleMapTask(stageID, stageAttemptID int, closure Broadcast, dep *ShuffleDependency,
	partition int, locs []TaskLocation, jobID int, epoch int64, barrier bool) *ShuffleMapTask {
	return &ShuffleMapTask{
		baseTask: baseTask{
			stageID:        stageID,
			stageAttemptID: stageAttemptID,
			partitionID:    partition,
			jobID:          jobID,
			epoch:          epoch,
			locs:           locs,
			barrier:        barrier,
			closure:        closure,
		},
		dep: dep,
	}
}

// Dep returns the ShuffleDependency this task produces output for
func (t *ShuffleMapTask) Dep() *ShuffleDependency {
	return t.dep
}

// String returns a textual representation of this ShuffleMapTask
func (t *ShuffleMapTask) String() string {
	return fmt.Sprintf("ShuffleMapTask(%d, %d)", t.stageID, t.partitionID)
}

// ResultTask computes one partition of a job's final result and
// delivers it to the job listener.
type ResultTask struct {
	baseTask
	outputID int
	fn       ResultFunc
}

// NewResultTask creates a ResultTask. outputID is the index of this
// partition within the job's requested partition array.
func NewResultTask(stageID, stageAttemptID int, closure Broadcast, fn ResultFunc,
	partition int, locs []TaskLocation, outputID, jobID int, epoch int64, barrier bool) *ResultTask {
	return &ResultTask{
		baseTask: baseTask{
			stageID:        stageID,
			stageAttemptID: stageAttemptID,
			partitionID:    partition,
			jobID:          jobID,
			epoch:          epoch,
			locs:           locs,
			barrier:        barrier,
			closure:        closure,
		},
		outputID: outputID,
		fn:       fn,
	}
}

// OutputID returns the result-array index this task fills
func (t *ResultTask) OutputID() int {
	return t.outputID
}

// Func returns the result function executed by workers
func (t *ResultTask) Func() ResultFunc {
	return t.fn
}

// String returns a textual representation of this ResultTask
func (t *ResultTask) String() string {
	return fmt.Sprintf("ResultTask(%d, %d)", t.stageID, t.partitionID)
}

// TaskSet is one stage attempt's worth of independent tasks, handed to
// the task scheduler as a unit.
type TaskSet struct {
	Tasks          []Task
	StageID        int
	StageAttemptID int
	// Priority is the earliest job id needing this stage; lower runs first
	Priority   int
	Properties map[string]string
}

// ID returns a textual id for this TaskSet
func (ts *TaskSet) ID() string {
	return fmt.Sprintf("TaskSet %d.%d", ts.StageID, ts.StageAttemptID)
}

// TaskInfo is the task scheduler's bookkeeping for one task attempt,
// carried on telemetry and completion events.
type TaskInfo struct {
	TaskID      int64
	Attempt     int
	ExecutorID  string
	Host        string
	LaunchTime  time.Time
	FinishTime  time.Time
	Speculative bool
}
