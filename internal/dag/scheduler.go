// Package dag implements the stage-oriented DAG scheduler: it cuts
// submitted jobs into stages at shuffle boundaries, submits runnable
// task sets to the lower-level task scheduler, tracks materialized
// shuffle outputs and recovers from lost intermediate data by
// resubmitting the affected stages.
//
// Concurrency model: a single event loop goroutine owns every piece of
// scheduler state. External threads post events and return; the only
// state they read directly is the cache-location index, which carries
// its own mutex.
package dag

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	sspark "github.com/arcs-skku/SSpark"
	"github.com/arcs-skku/SSpark/accumulators"
	serrors "github.com/arcs-skku/SSpark/errors"
	"github.com/arcs-skku/SSpark/internal/serialize"
	"github.com/arcs-skku/SSpark/internal/util"
	"github.com/arcs-skku/SSpark/stats"
	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"
)

// Scheduler is the DAG scheduler. Construct with NewScheduler; all
// exported methods are safe to call from any goroutine.
type Scheduler struct {
	conf              *Config
	taskScheduler     sspark.TaskScheduler
	tracker           sspark.MapOutputTracker
	blockManager      sspark.BlockManagerMaster
	commitCoordinator sspark.OutputCommitCoordinator
	bus               sspark.ListenerBus
	observer          stats.Observer
	accums            *accumulators.Registry

	nextJobID   int64
	nextStageID int

	stages              map[int]stage
	shuffleIDToMapStage map[int]*shuffleMapStage
	jobIDToStageIDs     map[int]map[int]struct{}
	jobIDToActiveJob    map[int]*activeJob
	activeJobs          map[*activeJob]struct{}

	waitingStages map[stage]struct{}
	runningStages map[stage]struct{}
	failedStages  map[stage]struct{}

	cacheLocs *cacheLocationIndex
	epochs    *failureEpochs

	// barrierCheckFailures counts slot-admission retries per job id
	barrierCheckFailures map[int]int

	serializer *serialize.ClosureSerializer
	// checkpointLock serializes closure reads against dataset
	// checkpointing; closures are serialized while holding it
	checkpointLock chan struct{}

	loop    *eventLoop
	timer   *util.Timer
	stopped int32
}

// Option configures optional Scheduler collaborators
type Option func(*Scheduler)

// WithObserver attaches a stage lifecycle observer
func WithObserver(observer stats.Observer) Option {
	return func(s *Scheduler) {
		s.observer = observer
	}
}

// WithAccumulators attaches a driver-side accumulator registry
func WithAccumulators(registry *accumulators.Registry) Option {
	return func(s *Scheduler) {
		s.accums = registry
	}
}

// NewScheduler wires a Scheduler to its collaborators and starts its
// event loop.
func NewScheduler(conf *Config, taskScheduler sspark.TaskScheduler, tracker sspark.MapOutputTracker,
	blockManager sspark.BlockManagerMaster, commitCoordinator sspark.OutputCommitCoordinator,
	bus sspark.ListenerBus, opts ...Option) *Scheduler {
	if conf == nil {
		conf = DefaultConfig()
	}
	s := &Scheduler{
		conf:                 conf,
		taskScheduler:        taskScheduler,
		tracker:              tracker,
		blockManager:         blockManager,
		commitCoordinator:    commitCoordinator,
		bus:                  bus,
		nextJobID:            -1,
		stages:               make(map[int]stage),
		shuffleIDToMapStage:  make(map[int]*shuffleMapStage),
		jobIDToStageIDs:      make(map[int]map[int]struct{}),
		jobIDToActiveJob:     make(map[int]*activeJob),
		activeJobs:           make(map[*activeJob]struct{}),
		waitingStages:        make(map[stage]struct{}),
		runningStages:        make(map[stage]struct{}),
		failedStages:         make(map[stage]struct{}),
		cacheLocs:            newCacheLocationIndex(blockManager),
		epochs:               newFailureEpochs(),
		barrierCheckFailures: make(map[int]int),
		serializer:           serialize.NewClosureSerializer(),
		checkpointLock:       make(chan struct{}, 1),
		timer:                util.NewTimer(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.loop = newEventLoop("dag-scheduler-event-loop", s.handleEvent, s.cleanUpAfterSchedulerStop)
	s.loop.start()
	taskScheduler.SetDAGScheduler(s)
	return s
}

func (s *Scheduler) handleEvent(ev event) {
	switch e := ev.(type) {
	case *jobSubmittedEvent:
		s.handleJobSubmitted(e)
	case *mapStageSubmittedEvent:
		s.handleMapStageSubmitted(e)
	case *stageCancelledEvent:
		s.handleStageCancellation(e.stageID, e.reason)
	case *jobCancelledEvent:
		s.handleJobCancellation(e.jobID, e.reason)
	case *jobGroupCancelledEvent:
		s.handleJobGroupCancelled(e.groupID)
	case *allJobsCancelledEvent:
		s.doCancelAllJobs()
	case *executorAddedEvent:
		s.handleExecutorAdded(e.executorID, e.host)
	case *executorLostEvent:
		s.handleExecutorLost(e.executorID, e.reason)
	case *workerRemovedEvent:
		s.handleWorkerRemoved(e.workerID, e.host, e.message)
	case *beginEvent:
		s.bus.Post(&sspark.TaskStartEvent{StageID: e.task.StageID(), StageAttemptID: e.task.StageAttemptID(), Info: e.info})
	case *gettingResultEvent:
		s.bus.Post(&sspark.TaskGettingResultEvent{Info: e.info})
	case *speculativeTaskSubmittedEvent:
		s.bus.Post(&sspark.SpeculativeTaskSubmittedEvent{StageID: e.task.StageID(), PartitionID: e.task.PartitionID()})
	case *completionEvent:
		s.handleTaskCompletion(e)
	case *taskSetFailedEvent:
		s.handleTaskSetFailed(e)
	case *resubmitFailedStagesEvent:
		s.resubmitFailedStages()
	}
}

// SubmitJob submits an action job over the given partitions of rdd and
// returns a waiter for its completion. Fails fast on out-of-range
// partitions.
func (s *Scheduler) SubmitJob(rdd *sspark.Dataset, fn sspark.ResultFunc, partitions []int,
	callSite string, handler ResultHandler, properties map[string]string) (*JobWaiter, error) {
	for _, p := range partitions {
		if p < 0 || p >= rdd.NumPartitions() {
			return nil, serrors.PartitionOutOfRangeError{Partition: p, NumPartitions: rdd.NumPartitions()}
		}
	}
	jobID := int(atomic.AddInt64(&s.nextJobID, 1))
	waiter := newJobWaiter(s, jobID, len(partitions), handler)
	if len(partitions) == 0 {
		// nothing to compute; the job is trivially done
		waiter.markDone(nil)
		return waiter, nil
	}
	s.loop.post(&jobSubmittedEvent{
		jobID:      jobID,
		finalRDD:   rdd,
		fn:         fn,
		partitions: append([]int(nil), partitions...),
		callSite:   callSite,
		listener:   waiter,
		properties: copyProperties(properties),
	})
	return waiter, nil
}

// RunJob submits a job and blocks until it completes or ctx is done
func (s *Scheduler) RunJob(ctx context.Context, rdd *sspark.Dataset, fn sspark.ResultFunc, partitions []int,
	callSite string, handler ResultHandler, properties map[string]string) error {
	start := time.Now()
	waiter, err := s.SubmitJob(rdd, fn, partitions, callSite, handler, properties)
	if err != nil {
		return err
	}
	if err := waiter.Wait(ctx); err != nil {
		log.Warnf("Job %d failed: %s, took %s", waiter.JobID(), callSite, time.Since(start))
		return fmt.Errorf("job %d failed (submitted from %s): %w", waiter.JobID(), callSite, err)
	}
	log.Infof("Job %d finished: %s, took %s", waiter.JobID(), callSite, time.Since(start))
	return nil
}

// RunApproximateJob runs a job wired to an approximate evaluator and
// returns whatever result the evaluator holds when the job finishes or
// the timeout elapses, whichever comes first.
func (s *Scheduler) RunApproximateJob(ctx context.Context, rdd *sspark.Dataset, fn sspark.ResultFunc,
	evaluator ApproximateEvaluator, callSite string, timeout time.Duration, properties map[string]string) (interface{}, error) {
	partitions := make([]int, rdd.NumPartitions())
	for i := range partitions {
		partitions[i] = i
	}
	listener := newApproximateListener(evaluator, len(partitions))
	jobID := int(atomic.AddInt64(&s.nextJobID, 1))
	if len(partitions) == 0 {
		return evaluator.CurrentResult(), nil
	}
	s.loop.post(&jobSubmittedEvent{
		jobID:      jobID,
		finalRDD:   rdd,
		fn:         fn,
		partitions: partitions,
		callSite:   callSite,
		listener:   listener,
		properties: copyProperties(properties),
	})
	return listener.awaitResult(ctx, timeout)
}

// SubmitMapStage submits a standalone shuffle map stage. The callback
// receives the map output statistics once every partition is
// materialized.
func (s *Scheduler) SubmitMapStage(dep *sspark.ShuffleDependency, callback func(*sspark.MapOutputStatistics),
	callSite string, properties map[string]string) (*JobWaiter, error) {
	if dep.Parent().NumPartitions() == 0 {
		return nil, serrors.EmptyMapStageError{}
	}
	jobID := int(atomic.AddInt64(&s.nextJobID, 1))
	// a map stage job produces a single output: its statistics
	waiter := newJobWaiter(s, jobID, 1, func(_ int, result interface{}) error {
		if statistics, ok := result.(*sspark.MapOutputStatistics); ok {
			callback(statistics)
		}
		return nil
	})
	s.loop.post(&mapStageSubmittedEvent{
		jobID:      jobID,
		dep:        dep,
		callSite:   callSite,
		listener:   waiter,
		properties: copyProperties(properties),
	})
	return waiter, nil
}

// CancelJob posts a cancellation for one job and returns immediately
func (s *Scheduler) CancelJob(jobID int, reason string) {
	log.Infof("Asked to cancel job %d", jobID)
	s.loop.post(&jobCancelledEvent{jobID: jobID, reason: reason})
}

// CancelJobGroup posts a cancellation for every job in a group
func (s *Scheduler) CancelJobGroup(groupID string) {
	log.Infof("Asked to cancel job group %s", groupID)
	s.loop.post(&jobGroupCancelledEvent{groupID: groupID})
}

// CancelAllJobs posts a cancellation for every active job
func (s *Scheduler) CancelAllJobs() {
	s.loop.post(&allJobsCancelledEvent{})
}

// CancelStage posts a cancellation for every job containing a stage
func (s *Scheduler) CancelStage(stageID int, reason string) {
	s.loop.post(&stageCancelledEvent{stageID: stageID, reason: reason})
}

// KillTaskAttempt asks the task scheduler to kill one running task
// attempt. Returns whether the task was known.
func (s *Scheduler) KillTaskAttempt(taskID int64, interruptThread bool, reason string) bool {
	killed, err := s.taskScheduler.KillTaskAttempt(taskID, interruptThread, reason)
	if err != nil {
		log.Warnf("Could not kill task attempt %d: %v", taskID, err)
		return false
	}
	return killed
}

// TaskStarted reports a task launch; posted by the task scheduler
func (s *Scheduler) TaskStarted(task sspark.Task, info *sspark.TaskInfo) {
	s.loop.post(&beginEvent{task: task, info: info})
}

// TaskGettingResult reports the start of a remote result fetch
func (s *Scheduler) TaskGettingResult(info *sspark.TaskInfo) {
	s.loop.post(&gettingResultEvent{info: info})
}

// TaskEnded reports a task completion of any kind
func (s *Scheduler) TaskEnded(task sspark.Task, reason sspark.TaskEndReason, result interface{},
	accumUpdates []sspark.AccumUpdate, info *sspark.TaskInfo) {
	s.loop.post(&completionEvent{task: task, reason: reason, result: result, accumUpdates: accumUpdates, info: info})
}

// SpeculativeTaskSubmitted records a speculative launch decision
func (s *Scheduler) SpeculativeTaskSubmitted(task sspark.Task) {
	s.loop.post(&speculativeTaskSubmittedEvent{task: task})
}

// ExecutorAdded reports a (re)joined executor
func (s *Scheduler) ExecutorAdded(executorID, host string) {
	s.loop.post(&executorAddedEvent{executorID: executorID, host: host})
}

// ExecutorLost reports a lost executor
func (s *Scheduler) ExecutorLost(executorID string, reason *sspark.ExecutorLossReason) {
	s.loop.post(&executorLostEvent{executorID: executorID, reason: reason})
}

// WorkerRemoved reports a lost worker
func (s *Scheduler) WorkerRemoved(workerID, host, message string) {
	s.loop.post(&workerRemovedEvent{workerID: workerID, host: host, message: message})
}

// TaskSetFailed reports a task set the task scheduler gave up on
func (s *Scheduler) TaskSetFailed(taskSet *sspark.TaskSet, message string, cause error) {
	s.loop.post(&taskSetFailedEvent{taskSet: taskSet, message: message, cause: cause})
}

// WithCheckpointLock runs fn while holding the lock task-closure
// serialization takes, so a checkpoint cannot race with a partial
// closure read.
func (s *Scheduler) WithCheckpointLock(fn func()) {
	s.checkpointLock <- struct{}{}
	defer func() { <-s.checkpointLock }()
	fn()
}

// Stop shuts the scheduler down, failing every active job
func (s *Scheduler) Stop() {
	if !atomic.CompareAndSwapInt32(&s.stopped, 0, 1) {
		return
	}
	s.timer.Stop()
	s.loop.stop()
}

// cleanUpAfterSchedulerStop runs on the event loop goroutine after the
// queue drains on shutdown
func (s *Scheduler) cleanUpAfterSchedulerStop() {
	var cancelErrs *multierror.Error
	for job := range s.activeJobs {
		jobErr := serrors.SchedulerStoppedError{}
		for st := range s.runningStages {
			if err := s.taskScheduler.CancelTasks(st.core().id, false); err != nil {
				cancelErrs = multierror.Append(cancelErrs, err)
			}
			info := st.core().latestInfo()
			info.FailureReason = "Stage cancelled because the scheduler was shut down"
			s.bus.Post(&sspark.StageCompletedEvent{Info: info})
			delete(s.runningStages, st)
		}
		job.listener.JobFailed(jobErr)
		s.bus.Post(&sspark.JobEndEvent{JobID: job.jobID, Time: time.Now(), Err: jobErr})
	}
	s.activeJobs = make(map[*activeJob]struct{})
	if cancelErrs.ErrorOrNil() != nil {
		log.Warnf("Could not cancel all running task sets on shutdown:\n%s", util.FormatMultiError(cancelErrs.Errors))
	}
}

func copyProperties(properties map[string]string) map[string]string {
	if properties == nil {
		return nil
	}
	out := make(map[string]string, len(properties))
	for k, v := range properties {
		out[k] = v
	}
	return out
}
