package sspark

// MapStatus records where one map task of a shuffle wrote its output,
// and how many bytes each reduce partition will fetch from it.
type MapStatus struct {
	Location BlockManagerID
	MapID    int
	// Sizes holds output bytes indexed by reduce partition
	Sizes []int64
}

// MapOutputStatistics summarizes the registered outputs of a shuffle
type MapOutputStatistics struct {
	ShuffleID        int
	BytesByPartition []int64
}

// AccumUpdate carries one driver-side accumulator delta reported by a
// finished task attempt.
type AccumUpdate struct {
	ID    int64
	Name  string
	Delta int64
}

// JobListener is notified of per-output results and terminal failure
// of one submitted job. TaskSucceeded returning an error fails the job.
type JobListener interface {
	TaskSucceeded(index int, result interface{}) error
	JobFailed(err error)
}

// TaskScheduler is the lower-level scheduler that distributes tasks of
// a TaskSet onto executors. Which executor runs a task is entirely its
// decision.
type TaskScheduler interface {
	SubmitTasks(taskSet *TaskSet)
	CancelTasks(stageID int, interruptThread bool) error
	KillAllTaskAttempts(stageID int, interruptThread bool, reason string) error
	KillTaskAttempt(taskID int64, interruptThread bool, reason string) (bool, error)
	// MaxConcurrentTasks is the current cluster-wide slot count,
	// consulted by barrier-stage admission
	MaxConcurrentTasks() int
	SetDAGScheduler(d DAGSchedulerCallbacks)
}

// DAGSchedulerCallbacks is the upward face of the DAG scheduler: the
// task scheduler and cluster manager report cluster events through it.
// Every call posts an event and returns without blocking on handling.
type DAGSchedulerCallbacks interface {
	TaskStarted(task Task, info *TaskInfo)
	TaskGettingResult(info *TaskInfo)
	TaskEnded(task Task, reason TaskEndReason, result interface{}, accumUpdates []AccumUpdate, info *TaskInfo)
	SpeculativeTaskSubmitted(task Task)
	ExecutorAdded(executorID, host string)
	ExecutorLost(executorID string, reason *ExecutorLossReason)
	WorkerRemoved(workerID, host, message string)
	TaskSetFailed(taskSet *TaskSet, message string, cause error)
}

// MapOutputTracker persists shuffle location metadata cluster-wide and
// owns the global failure epoch.
type MapOutputTracker interface {
	RegisterShuffle(shuffleID, numMaps int)
	RegisterMapOutput(shuffleID, mapID int, status *MapStatus)
	UnregisterMapOutput(shuffleID, mapID int, bm BlockManagerID)
	UnregisterAllMapOutput(shuffleID int)
	UnregisterShuffle(shuffleID int)
	RemoveOutputsOnHost(host string)
	RemoveOutputsOnExecutor(executorID string)
	ContainsShuffle(shuffleID int) bool
	NumAvailableOutputs(shuffleID int) int
	FindMissingPartitions(shuffleID int) []int
	GetStatistics(dep *ShuffleDependency) *MapOutputStatistics
	IncrementEpoch()
	GetEpoch() int64
}

// BlockManagerMaster tracks cached dataset partition locations
type BlockManagerMaster interface {
	// GetLocations resolves each block id to the executors holding it
	GetLocations(blockIDs []string) [][]BlockManagerID
	RemoveExecutor(executorID string)
}

// OutputCommitCoordinator arbitrates which task attempt may commit
// output for each partition.
type OutputCommitCoordinator interface {
	StageStart(stageID, maxPartitionID int)
	StageEnd(stageID int)
	TaskCompleted(stageID, stageAttemptID, partitionID, attemptNumber int, reason TaskEndReason)
}

// ListenerBus is the telemetry sink for scheduler lifecycle events
type ListenerBus interface {
	Post(event ListenerEvent)
}
