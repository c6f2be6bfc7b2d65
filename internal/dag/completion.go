package dag

import (
	"fmt"
	"sort"
	"time"

	sspark "github.com/arcs-skku/SSpark"
	serrors "github.com/arcs-skku/SSpark/errors"
	log "github.com/sirupsen/logrus"
)

// handleTaskCompletion is the state machine reacting to every task
// completion the task scheduler reports.
func (s *Scheduler) handleTaskCompletion(e *completionEvent) {
	task := e.task
	attemptNumber := 0
	if e.info != nil {
		attemptNumber = e.info.Attempt
	}
	s.commitCoordinator.TaskCompleted(task.StageID(), task.StageAttemptID(), task.PartitionID(), attemptNumber, e.reason)

	st, known := s.stages[task.StageID()]
	if !known {
		// the stage was cleaned up while this completion was in flight
		s.postTaskEnd(e)
		return
	}

	switch e.reason.(type) {
	case sspark.Success, *sspark.ExceptionFailure, *sspark.TaskKilled:
		s.updateAccumulators(e)
	}
	s.postTaskEnd(e)

	if task.IsBarrier() {
		if _, succeeded := e.reason.(sspark.Success); !succeeded {
			s.handleBarrierTaskFailure(st, task, e)
			return
		}
	}

	switch reason := e.reason.(type) {
	case sspark.Success:
		switch t := task.(type) {
		case *sspark.ResultTask:
			s.handleResultTaskSuccess(st.(*resultStage), t, e)
		case *sspark.ShuffleMapTask:
			s.handleShuffleMapTaskSuccess(st.(*shuffleMapStage), t, e)
		}
	case *sspark.FetchFailed:
		s.handleFetchFailure(st, task, reason)
	case sspark.Resubmitted:
		log.Infof("Resubmitted %v, so marking it as still running", task)
		if sms, isMapStage := st.(*shuffleMapStage); isMapStage {
			sms.pendingPartitions[task.PartitionID()] = struct{}{}
		}
	default:
		// TaskResultLost, TaskCommitDenied, ExecutorLostFailure,
		// ExceptionFailure, TaskKilled, UnknownReason: per-task retries
		// belong to the task scheduler
	}
}

func (s *Scheduler) postTaskEnd(e *completionEvent) {
	taskType := "ResultTask"
	if _, isMapTask := e.task.(*sspark.ShuffleMapTask); isMapTask {
		taskType = "ShuffleMapTask"
	}
	s.bus.Post(&sspark.TaskEndEvent{
		StageID:        e.task.StageID(),
		StageAttemptID: e.task.StageAttemptID(),
		TaskType:       taskType,
		Reason:         e.reason,
		Info:           e.info,
	})
}

func (s *Scheduler) updateAccumulators(e *completionEvent) {
	if s.accums != nil {
		s.accums.Apply(e.accumUpdates)
	}
}

func (s *Scheduler) handleResultTaskSuccess(rs *resultStage, t *sspark.ResultTask, e *completionEvent) {
	job := rs.activeJob
	if job == nil {
		log.Infof("Ignoring result from %v because its job has finished", t)
		return
	}
	outputID := t.OutputID()
	if job.finished[outputID] {
		// a speculative or resubmitted duplicate; each output counts once
		return
	}
	job.finished[outputID] = true
	job.numFinished++
	if job.numFinished == job.numPartitions {
		s.markStageAsFinished(rs, "", false)
		s.cleanupStateForJobAndIndependentStages(job)
		s.bus.Post(&sspark.JobEndEvent{JobID: job.jobID, Time: time.Now()})
	}
	if err := job.listener.TaskSucceeded(outputID, e.result); err != nil {
		// the job's own consumer failed; nothing more can be delivered
		job.listener.JobFailed(&serrors.DriverExecutionError{Cause: err})
	}
}

func (s *Scheduler) handleShuffleMapTaskSuccess(sms *shuffleMapStage, t *sspark.ShuffleMapTask, e *completionEvent) {
	status, ok := e.result.(*sspark.MapStatus)
	if !ok {
		log.Errorf("ShuffleMapTask %v completed without a MapStatus", t)
		return
	}
	execID := status.Location.ExecutorID
	if sms.latestInfo().AttemptNumber == t.StageAttemptID() {
		delete(sms.pendingPartitions, t.PartitionID())
	}
	if s.epochs.isStale(execID, t.Epoch()) {
		log.Infof("Ignoring possibly bogus %v completion from executor %s", t, execID)
	} else {
		s.tracker.RegisterMapOutput(sms.shuffleDep.ShuffleID(), t.PartitionID(), status)
	}

	_, running := s.runningStages[sms]
	if !running || len(sms.pendingPartitions) > 0 {
		return
	}
	s.markStageAsFinished(sms, "", false)
	log.Debugf("Shuffle map outputs changed; running: %d, waiting: %d, failed: %d",
		len(s.runningStages), len(s.waitingStages), len(s.failedStages))
	// executors cache output locations by epoch; a finished map stage
	// invalidates them
	s.tracker.IncrementEpoch()
	s.cacheLocs.clear()
	if !sms.isAvailable() {
		// some outputs were discarded as stale; run the stage again
		log.Infof("Resubmitting %v because some of its tasks had failed: missing partitions %v",
			sms.core(), sms.findMissingPartitions())
		s.submitStage(sms)
		return
	}
	s.markMapStageJobsAsFinished(sms)
	s.submitWaitingChildStages(sms)
}

func (s *Scheduler) handleFetchFailure(failedStage stage, task sspark.Task, reason *sspark.FetchFailed) {
	c := failedStage.core()
	mapStage := s.shuffleIDToMapStage[reason.ShuffleID]

	if task.StageAttemptID() != c.latestInfo().AttemptNumber {
		log.Infof("Ignoring fetch failure from %v as it's from %v attempt %d and there is a more recent attempt running",
			task, c, task.StageAttemptID())
		return
	}

	c.failedAttemptIDs[task.StageAttemptID()] = struct{}{}
	shouldAbortStage := len(c.failedAttemptIDs) >= s.conf.MaxConsecutiveStageAttempts || s.conf.TestNoStageRetry

	if _, running := s.runningStages[failedStage]; running {
		s.markStageAsFinished(failedStage, reason.Message, !shouldAbortStage)
	} else {
		log.Debugf("Received fetch failure from %v, but it's from a failed attempt", c)
	}

	// the failed fetch proves (some of) the producing stage's outputs gone
	hostToUnregister := ""
	if reason.BMAddress != nil && s.conf.UnregisterOutputOnHostOnFetchFailure && s.conf.ExternalShuffleServiceEnabled {
		hostToUnregister = reason.BMAddress.Host
	}
	if mapStage != nil {
		switch {
		case mapStage.core().barrier:
			// a barrier map stage reruns whole; none of its outputs survive
			s.tracker.UnregisterAllMapOutput(reason.ShuffleID)
		case hostToUnregister != "":
			// host-wide unregistration happens on the executor-loss path below
		case reason.MapID != -1 && reason.BMAddress != nil:
			s.tracker.UnregisterMapOutput(reason.ShuffleID, reason.MapID, *reason.BMAddress)
		}
	}

	if _, isResult := failedStage.(*resultStage); isResult && c.barrier {
		// committed result partitions of a barrier stage cannot be
		// rolled back
		s.abortStage(failedStage, fmt.Sprintf("Could not recover from a failed barrier ResultStage. %s", reason.Message), nil)
	} else if shouldAbortStage {
		s.abortStage(failedStage, fmt.Sprintf(
			"%v (%s) has failed the maximum allowable number of times: %d. Most recent failure reason: %s",
			c, c.name, s.conf.MaxConsecutiveStageAttempts, reason.Message), nil)
	} else {
		firstToEnqueue := len(s.failedStages) == 0
		s.failedStages[failedStage] = struct{}{}
		if mapStage != nil {
			s.failedStages[mapStage] = struct{}{}
		}
		if firstToEnqueue {
			if mapStage != nil && mapStage.core().rdd.Determinism() == sspark.Indeterminate {
				s.rollbackIndeterminateSuccessors(mapStage)
			}
			log.Infof("Resubmitting %v and %v due to fetch failure in %s", mapStage, c, s.conf.ResubmitTimeout)
			s.timer.Schedule(s.conf.ResubmitTimeout, func() {
				s.loop.post(&resubmitFailedStagesEvent{})
			})
		}
	}

	if reason.BMAddress != nil {
		epoch := task.Epoch()
		s.removeExecutorAndUnregisterOutputs(reason.BMAddress.ExecutorID, true, hostToUnregister, &epoch)
	}
}

// rollbackIndeterminateSuccessors aborts every stage downstream of an
// indeterminate map stage that has produced partial output, since a
// recomputation cannot reproduce the rows its finished partitions
// already consumed. Shuffle files themselves are not rolled back; the
// abort path is the fallback.
func (s *Scheduler) rollbackIndeterminateSuccessors(mapStage *shuffleMapStage) {
	successors := make(map[stage]struct{})
	for job := range s.activeJobs {
		stack := []stage{job.finalStage}
		for len(stack) > 0 {
			cur := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if _, seen := successors[cur]; seen || cur == stage(mapStage) {
				continue
			}
			if stageDependsOn(cur, mapStage) {
				successors[cur] = struct{}{}
			}
			stack = append(stack, cur.core().parents...)
		}
	}
	var ordered []stage
	for st := range successors {
		ordered = append(ordered, st)
	}
	sortStagesByID(ordered)
	for _, st := range ordered {
		if len(st.findMissingPartitions()) >= st.core().numTasks {
			// no partial output; a plain rerun is safe
			continue
		}
		switch st.(type) {
		case *resultStage:
			s.abortStage(st, fmt.Sprintf(
				"%v consumed the indeterminate output of stage %d and has already committed some result partitions, which cannot be rolled back",
				st.core(), mapStage.core().id), nil)
		case *shuffleMapStage:
			s.abortStage(st, fmt.Sprintf(
				"%v consumed the indeterminate output of stage %d and has partial shuffle output, which cannot be rolled back",
				st.core(), mapStage.core().id), nil)
		}
	}
}

// handleBarrierTaskFailure fails the whole stage attempt: barrier
// tasks launch and fail as a gang.
func (s *Scheduler) handleBarrierTaskFailure(st stage, task sspark.Task, e *completionEvent) {
	c := st.core()
	if task.StageAttemptID() != c.latestInfo().AttemptNumber {
		log.Infof("Ignoring barrier task failure from %v of %v attempt %d; a newer attempt is running",
			task, c, task.StageAttemptID())
		return
	}
	message := fmt.Sprintf("Stage failed because barrier task %v finished unsuccessfully: %s", task, e.reason.Reason())
	if _, running := s.runningStages[st]; running {
		s.markStageAsFinished(st, message, true)
	}
	if err := s.taskScheduler.KillAllTaskAttempts(c.id, false, "A barrier task of the stage failed"); err != nil {
		s.abortStage(st, "Could not kill the other tasks of the failed barrier stage attempt", err)
		return
	}
	switch st.(type) {
	case *shuffleMapStage:
		s.tracker.UnregisterAllMapOutput(st.(*shuffleMapStage).shuffleDep.ShuffleID())
	case *resultStage:
		s.abortStage(st, fmt.Sprintf("Could not recover from a failed barrier ResultStage. %s", message), nil)
		return
	}
	c.failedAttemptIDs[task.StageAttemptID()] = struct{}{}
	if len(c.failedAttemptIDs) >= s.conf.MaxConsecutiveStageAttempts || s.conf.TestNoStageRetry {
		s.abortStage(st, fmt.Sprintf(
			"%v (%s) has failed the maximum allowable number of times: %d. Most recent failure reason: %s",
			c, c.name, s.conf.MaxConsecutiveStageAttempts, message), nil)
		return
	}
	firstToEnqueue := len(s.failedStages) == 0
	s.failedStages[st] = struct{}{}
	if firstToEnqueue {
		s.timer.Schedule(s.conf.ResubmitTimeout, func() {
			s.loop.post(&resubmitFailedStagesEvent{})
		})
	}
}

// resubmitFailedStages drains the failed set and resubmits in
// ascending first-job order
func (s *Scheduler) resubmitFailedStages() {
	if len(s.failedStages) == 0 {
		return
	}
	log.Infof("Resubmitting %d failed stages", len(s.failedStages))
	s.cacheLocs.clear()
	failed := make([]stage, 0, len(s.failedStages))
	for st := range s.failedStages {
		failed = append(failed, st)
	}
	s.failedStages = make(map[stage]struct{})
	sort.Slice(failed, func(i, j int) bool {
		return failed[i].core().firstJobID < failed[j].core().firstJobID
	})
	for _, st := range failed {
		s.submitStage(st)
	}
}

func (s *Scheduler) handleExecutorAdded(executorID, host string) {
	if s.epochs.executorAdded(executorID) {
		log.Infof("Host %s re-added to the cluster was in the lost list earlier (executor %s)", host, executorID)
	}
}

func (s *Scheduler) handleExecutorLost(executorID string, reason *sspark.ExecutorLossReason) {
	// without an external shuffle service, an executor takes its
	// shuffle files with it
	fileLost := !s.conf.ExternalShuffleServiceEnabled
	if reason != nil && reason.WorkerLost {
		fileLost = true
	}
	s.removeExecutorAndUnregisterOutputs(executorID, fileLost, "", nil)
}

// removeExecutorAndUnregisterOutputs records an executor loss at the
// given epoch (the tracker's current epoch if nil), ignoring stale
// replays, and unregisters shuffle outputs where the loss proves them
// gone.
func (s *Scheduler) removeExecutorAndUnregisterOutputs(executorID string, fileLost bool, hostToUnregister string, maybeEpoch *int64) {
	epoch := s.tracker.GetEpoch()
	if maybeEpoch != nil {
		epoch = *maybeEpoch
	}
	executorAdvanced, filesAdvanced := s.epochs.markExecutorFailed(executorID, epoch, fileLost)
	if !executorAdvanced {
		log.Debugf("Ignoring stale loss of executor %s (epoch %d)", executorID, epoch)
		return
	}
	log.Infof("Executor lost: %s (epoch %d)", executorID, epoch)
	s.blockManager.RemoveExecutor(executorID)
	if filesAdvanced {
		if hostToUnregister != "" {
			log.Infof("Shuffle files lost for host: %s (epoch %d)", hostToUnregister, epoch)
			s.tracker.RemoveOutputsOnHost(hostToUnregister)
		} else {
			log.Infof("Shuffle files lost for executor: %s (epoch %d)", executorID, epoch)
			s.tracker.RemoveOutputsOnExecutor(executorID)
		}
	}
	s.cacheLocs.clear()
}

func (s *Scheduler) handleWorkerRemoved(workerID, host, message string) {
	log.Infof("Shuffle files lost for worker %s on host %s: %s", workerID, host, message)
	s.tracker.RemoveOutputsOnHost(host)
	s.cacheLocs.clear()
}
