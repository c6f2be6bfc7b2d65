package dag

import (
	sspark "github.com/arcs-skku/SSpark"
)

// event is a scheduler event drained by the event loop. All scheduler
// state mutations happen while handling one of these.
type event interface {
	schedulerEvent()
}

type jobSubmittedEvent struct {
	jobID      int
	finalRDD   *sspark.Dataset
	fn         sspark.ResultFunc
	partitions []int
	callSite   string
	listener   sspark.JobListener
	properties map[string]string
}

type mapStageSubmittedEvent struct {
	jobID      int
	dep        *sspark.ShuffleDependency
	callSite   string
	listener   sspark.JobListener
	properties map[string]string
}

type stageCancelledEvent struct {
	stageID int
	reason  string
}

type jobCancelledEvent struct {
	jobID  int
	reason string
}

type jobGroupCancelledEvent struct {
	groupID string
}

type allJobsCancelledEvent struct{}

type executorAddedEvent struct {
	executorID string
	host       string
}

type executorLostEvent struct {
	executorID string
	reason     *sspark.ExecutorLossReason
}

type workerRemovedEvent struct {
	workerID string
	host     string
	message  string
}

type beginEvent struct {
	task sspark.Task
	info *sspark.TaskInfo
}

type gettingResultEvent struct {
	info *sspark.TaskInfo
}

type speculativeTaskSubmittedEvent struct {
	task sspark.Task
}

type completionEvent struct {
	task         sspark.Task
	reason       sspark.TaskEndReason
	result       interface{}
	accumUpdates []sspark.AccumUpdate
	info         *sspark.TaskInfo
}

type taskSetFailedEvent struct {
	taskSet *sspark.TaskSet
	message string
	cause   error
}

type resubmitFailedStagesEvent struct{}

func (*jobSubmittedEvent) schedulerEvent()             {}
func (*mapStageSubmittedEvent) schedulerEvent()        {}
func (*stageCancelledEvent) schedulerEvent()           {}
func (*jobCancelledEvent) schedulerEvent()             {}
func (*jobGroupCancelledEvent) schedulerEvent()        {}
func (*allJobsCancelledEvent) schedulerEvent()         {}
func (*executorAddedEvent) schedulerEvent()            {}
func (*executorLostEvent) schedulerEvent()             {}
func (*workerRemovedEvent) schedulerEvent()            {}
func (*beginEvent) schedulerEvent()                    {}
func (*gettingResultEvent) schedulerEvent()            {}
func (*speculativeTaskSubmittedEvent) schedulerEvent() {}
func (*completionEvent) schedulerEvent()               {}
func (*taskSetFailedEvent) schedulerEvent()            {}
func (*resubmitFailedStagesEvent) schedulerEvent()     {}
