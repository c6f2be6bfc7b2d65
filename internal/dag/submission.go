package dag

import (
	"fmt"
	"sort"
	"time"

	sspark "github.com/arcs-skku/SSpark"
	serrors "github.com/arcs-skku/SSpark/errors"
	"github.com/arcs-skku/SSpark/internal/serialize"
	humanize "github.com/dustin/go-humanize"
	log "github.com/sirupsen/logrus"
)

// activeJobForStage resolves the earliest active job needing a stage
func (s *Scheduler) activeJobForStage(st stage) (int, bool) {
	best := -1
	for jobID := range st.core().jobIDs {
		if _, active := s.jobIDToActiveJob[jobID]; active && (best == -1 || jobID < best) {
			best = jobID
		}
	}
	return best, best != -1
}

// submitStage submits a stage once its parents are available,
// recursively submitting missing parents first
func (s *Scheduler) submitStage(st stage) {
	jobID, ok := s.activeJobForStage(st)
	if !ok {
		s.abortStage(st, fmt.Sprintf("No active job for stage %d", st.core().id), nil)
		return
	}
	if s.stageIsPending(st) {
		return
	}
	missing, err := s.missingParentStages(st)
	if err != nil {
		s.abortStage(st, fmt.Sprintf("Could not resolve parent stages of stage %d", st.core().id), err)
		return
	}
	sortStagesByID(missing)
	if len(missing) == 0 {
		log.Debugf("Submitting %v (%v), which has no missing parents", st.core(), st.core().rdd)
		s.submitMissingTasks(st, jobID)
		return
	}
	for _, parent := range missing {
		s.submitStage(parent)
	}
	s.waitingStages[st] = struct{}{}
}

// stageIsPending reports whether a stage is already waiting, running
// or failed
func (s *Scheduler) stageIsPending(st stage) bool {
	if _, waiting := s.waitingStages[st]; waiting {
		return true
	}
	if _, running := s.runningStages[st]; running {
		return true
	}
	_, failed := s.failedStages[st]
	return failed
}

// submitMissingTasks starts a new attempt of a runnable stage and
// hands its tasks to the task scheduler
func (s *Scheduler) submitMissingTasks(st stage, jobID int) {
	c := st.core()
	partitionsToCompute := st.findMissingPartitions()
	job := s.jobIDToActiveJob[jobID]
	var properties map[string]string
	if job != nil {
		properties = job.properties
	}

	s.runningStages[st] = struct{}{}
	// the commit coordinator must know about the attempt before any of
	// its tasks asks to commit
	switch v := st.(type) {
	case *shuffleMapStage:
		s.commitCoordinator.StageStart(c.id, c.rdd.NumPartitions()-1)
	case *resultStage:
		maxPartition := 0
		for _, p := range v.partitions {
			if p > maxPartition {
				maxPartition = p
			}
		}
		s.commitCoordinator.StageStart(c.id, maxPartition)
	}

	taskLocs := make(map[int][]sspark.TaskLocation, len(partitionsToCompute))
	locsErr := s.computePreferredLocations(st, partitionsToCompute, taskLocs)
	if locsErr != nil {
		info := c.makeNewStageAttempt(len(partitionsToCompute))
		s.bus.Post(&sspark.StageSubmittedEvent{Info: info, Properties: properties})
		s.abortStage(st, fmt.Sprintf("Task creation failed: %v", locsErr), locsErr)
		delete(s.runningStages, st)
		return
	}

	info := c.makeNewStageAttempt(len(partitionsToCompute))
	s.bus.Post(&sspark.StageSubmittedEvent{Info: info, Properties: properties})
	if s.observer != nil {
		s.observer.StageSubmitted(c.id, info.AttemptNumber, info.NumTasks)
	}

	closure, serErr := s.broadcastClosure(st)
	if serErr != nil {
		s.abortStage(st, "Task not serializable", &serrors.TaskNotSerializableError{Cause: serErr})
		delete(s.runningStages, st)
		return
	}
	log.Debugf("Broadcasting task closure for %v (%s)", c, humanize.Bytes(uint64(len(closure.Data()))))

	epoch := s.tracker.GetEpoch()
	var tasks []sspark.Task
	switch v := st.(type) {
	case *shuffleMapStage:
		v.pendingPartitions = make(map[int]struct{}, len(partitionsToCompute))
		for _, partition := range partitionsToCompute {
			v.pendingPartitions[partition] = struct{}{}
			tasks = append(tasks, sspark.NewShuffleMapTask(c.id, info.AttemptNumber, closure,
				v.shuffleDep, partition, taskLocs[partition], jobID, epoch, c.barrier))
		}
	case *resultStage:
		for _, outputID := range partitionsToCompute {
			partition := v.partitions[outputID]
			tasks = append(tasks, sspark.NewResultTask(c.id, info.AttemptNumber, closure,
				v.fn, partition, taskLocs[outputID], outputID, jobID, epoch, c.barrier))
		}
	}

	if len(tasks) > 0 {
		log.Infof("Submitting %d missing tasks from %v (%v)", len(tasks), c, c.rdd)
		s.taskScheduler.SubmitTasks(&sspark.TaskSet{
			Tasks:          tasks,
			StageID:        c.id,
			StageAttemptID: info.AttemptNumber,
			Priority:       jobID,
			Properties:     properties,
		})
		return
	}

	// stage had nothing left to compute
	s.markStageAsFinished(st, "", false)
	log.Debugf("%v finished with no tasks to submit", c)
	if sms, isMapStage := st.(*shuffleMapStage); isMapStage {
		s.markMapStageJobsAsFinished(sms)
	}
	s.submitWaitingChildStages(st)
}

// computePreferredLocations fills taskLocs for every partition to
// compute, keyed by the compute id (map partition or output index)
func (s *Scheduler) computePreferredLocations(st stage, partitionsToCompute []int, taskLocs map[int][]sspark.TaskLocation) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("preferred location computation panicked: %v", r)
		}
	}()
	c := st.core()
	for _, computeID := range partitionsToCompute {
		partition := computeID
		if rs, isResult := st.(*resultStage); isResult {
			partition = rs.partitions[computeID]
		}
		taskLocs[computeID] = s.preferredLocations(c.rdd, partition)
	}
	return nil
}

// broadcastClosure serializes the stage's task closure exactly once,
// under the checkpoint lock, and wraps it for shipping
func (s *Scheduler) broadcastClosure(st stage) (bc *serialize.Broadcast, err error) {
	c := st.core()
	payload := &serialize.TaskPayload{
		DatasetID:     c.rdd.ID(),
		DatasetName:   c.rdd.Name(),
		NumPartitions: c.rdd.NumPartitions(),
		ShuffleID:     -1,
	}
	if sms, isMapStage := st.(*shuffleMapStage); isMapStage {
		payload.ShuffleID = sms.shuffleDep.ShuffleID()
		payload.NumReducePartitions = sms.shuffleDep.NumPartitions()
	}
	s.WithCheckpointLock(func() {
		bc, err = s.serializer.Broadcast(payload)
	})
	return bc, err
}

// markStageAsFinished retires the current attempt of a stage.
// errorMessage is empty on success; willRetry keeps the commit
// coordinator's stage state alive across the retry.
func (s *Scheduler) markStageAsFinished(st stage, errorMessage string, willRetry bool) {
	c := st.core()
	info := c.latestInfo()
	info.CompletionTime = time.Now()
	if errorMessage == "" {
		var elapsed string
		if !info.SubmissionTime.IsZero() {
			elapsed = fmt.Sprintf(" in %s", info.CompletionTime.Sub(info.SubmissionTime))
		}
		log.Infof("%v finished%s", c, elapsed)
		c.clearFailures()
	} else {
		info.FailureReason = errorMessage
		log.Infof("%v failed: %s", c, errorMessage)
	}
	if !willRetry {
		s.commitCoordinator.StageEnd(c.id)
	}
	s.bus.Post(&sspark.StageCompletedEvent{Info: info})
	delete(s.runningStages, st)
	if s.observer != nil {
		s.observer.StageCompleted(c.id, errorMessage != "")
	}
}

// submitWaitingChildStages submits waiting stages whose parent just
// completed, in ascending stage id order
func (s *Scheduler) submitWaitingChildStages(parent stage) {
	var children []stage
	for st := range s.waitingStages {
		for _, p := range st.core().parents {
			if p == parent {
				children = append(children, st)
				break
			}
		}
	}
	for _, child := range children {
		delete(s.waitingStages, child)
	}
	sortStagesByID(children)
	for _, child := range children {
		s.submitStage(child)
	}
}

// abortStage terminally fails a stage and every job depending on it
func (s *Scheduler) abortStage(st stage, reason string, cause error) {
	c := st.core()
	if _, registered := s.stages[c.id]; !registered {
		return
	}
	var dependent []*activeJob
	for job := range s.activeJobs {
		if stageDependsOn(job.finalStage, st) {
			dependent = append(dependent, job)
		}
	}
	sort.Slice(dependent, func(i, j int) bool { return dependent[i].jobID < dependent[j].jobID })
	info := c.latestInfo()
	if info.FailureReason == "" {
		info.FailureReason = reason
		info.CompletionTime = time.Now()
	}
	if len(dependent) == 0 {
		log.Infof("Ignoring failure of %v because all jobs depending on it are done", c)
		return
	}
	for _, job := range dependent {
		s.failJobAndIndependentStages(job, &serrors.StageAbortedError{StageID: c.id, Message: reason, Cause: cause})
	}
}

// failJobAndIndependentStages fails a job, cancelling running stages
// no surviving job shares
func (s *Scheduler) failJobAndIndependentStages(job *activeJob, jobErr error) {
	stageIDs := make([]int, 0, len(s.jobIDToStageIDs[job.jobID]))
	for id := range s.jobIDToStageIDs[job.jobID] {
		stageIDs = append(stageIDs, id)
	}
	sort.Ints(stageIDs)
	for _, id := range stageIDs {
		st, registered := s.stages[id]
		if !registered {
			continue
		}
		c := st.core()
		if _, member := c.jobIDs[job.jobID]; !member {
			log.Errorf("Job %d not registered for stage %d even though that stage was registered for the job", job.jobID, id)
			continue
		}
		if len(c.jobIDs) > 1 {
			// another job still needs this stage
			continue
		}
		if _, running := s.runningStages[st]; running {
			if err := s.taskScheduler.CancelTasks(id, false); err != nil {
				log.Infof("Could not cancel tasks for stage %d: %v", id, err)
			}
			s.markStageAsFinished(st, jobErr.Error(), false)
		}
	}
	s.cleanupStateForJobAndIndependentStages(job)
	job.listener.JobFailed(jobErr)
	s.bus.Post(&sspark.JobEndEvent{JobID: job.jobID, Time: time.Now(), Err: jobErr})
}
