package sspark

import "time"

// StageInfo describes one attempt of a stage for telemetry. The
// scheduler appends a fresh StageInfo per attempt; the latest one is
// the current attempt.
type StageInfo struct {
	StageID        int
	AttemptNumber  int
	Name           string
	NumTasks       int
	SubmissionTime time.Time
	CompletionTime time.Time
	FailureReason  string
}

// Failed returns true iff this attempt ended with a failure reason
func (si *StageInfo) Failed() bool {
	return si.FailureReason != ""
}

// ListenerEvent is a telemetry event posted to the listener bus
type ListenerEvent interface {
	listenerEvent()
}

// JobStartEvent is posted when a job's stages are registered
type JobStartEvent struct {
	JobID      int
	Time       time.Time
	StageInfos []*StageInfo
	Properties map[string]string
}

// JobEndEvent is posted exactly once per job; Err is nil on success
type JobEndEvent struct {
	JobID int
	Time  time.Time
	Err   error
}

// StageSubmittedEvent is posted when a stage attempt's tasks are built
type StageSubmittedEvent struct {
	Info       *StageInfo
	Properties map[string]string
}

// StageCompletedEvent is posted when a stage attempt stops running
type StageCompletedEvent struct {
	Info *StageInfo
}

// TaskStartEvent is posted when the task scheduler launches a task
type TaskStartEvent struct {
	StageID        int
	StageAttemptID int
	Info           *TaskInfo
}

// TaskGettingResultEvent is posted when a task's remote result fetch begins
type TaskGettingResultEvent struct {
	Info *TaskInfo
}

// TaskEndEvent is posted for every task completion the scheduler sees
type TaskEndEvent struct {
	StageID        int
	StageAttemptID int
	TaskType       string
	Reason         TaskEndReason
	Info           *TaskInfo
}

// SpeculativeTaskSubmittedEvent records a speculative launch decision
type SpeculativeTaskSubmittedEvent struct {
	StageID     int
	PartitionID int
}

// ExecutorMetricsUpdateEvent carries accumulator deltas from running tasks
type ExecutorMetricsUpdateEvent struct {
	ExecutorID   string
	AccumUpdates []AccumUpdate
}

func (*JobStartEvent) listenerEvent()                 {}
func (*JobEndEvent) listenerEvent()                   {}
func (*StageSubmittedEvent) listenerEvent()           {}
func (*StageCompletedEvent) listenerEvent()           {}
func (*TaskStartEvent) listenerEvent()                {}
func (*TaskGettingResultEvent) listenerEvent()        {}
func (*TaskEndEvent) listenerEvent()                  {}
func (*SpeculativeTaskSubmittedEvent) listenerEvent() {}
func (*ExecutorMetricsUpdateEvent) listenerEvent()    {}

// PropertyJobGroupID is the job property naming the cancellation group
// a job belongs to.
const PropertyJobGroupID = "sspark.jobGroup.id"
