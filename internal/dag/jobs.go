package dag

import (
	stderrors "errors"
	"fmt"
	"sort"
	"time"

	sspark "github.com/arcs-skku/SSpark"
	serrors "github.com/arcs-skku/SSpark/errors"
	log "github.com/sirupsen/logrus"
)

func (s *Scheduler) handleJobSubmitted(e *jobSubmittedEvent) {
	finalStage, err := s.createResultStage(e.finalRDD, e.fn, e.partitions, e.jobID, e.callSite)
	if err != nil {
		var slots serrors.BarrierSlotsError
		if stderrors.As(err, &slots) {
			// the cluster may still be acquiring executors; retry the
			// whole submission for a bounded number of checks
			s.barrierCheckFailures[e.jobID]++
			if s.barrierCheckFailures[e.jobID] <= s.conf.BarrierMaxConcurrentTasksCheckMaxFailures {
				log.Warnf("Barrier stage of job %d needs %d slots, only %d available; retrying in %s",
					e.jobID, slots.RequiredSlots, slots.MaxSlots, s.conf.BarrierMaxConcurrentTasksCheckInterval)
				retry := *e
				s.timer.Schedule(s.conf.BarrierMaxConcurrentTasksCheckInterval, func() {
					s.loop.post(&retry)
				})
				return
			}
			delete(s.barrierCheckFailures, e.jobID)
		}
		log.Warnf("Creating new stage failed due to error: %v", err)
		e.listener.JobFailed(err)
		return
	}
	delete(s.barrierCheckFailures, e.jobID)

	job := newActiveJob(e.jobID, finalStage, e.callSite, e.listener, e.properties)
	s.cacheLocs.clear()
	log.Infof("Got job %d (%s) with %d output partitions", job.jobID, e.callSite, len(e.partitions))
	finalStage.setActiveJob(job)
	s.jobIDToActiveJob[job.jobID] = job
	s.activeJobs[job] = struct{}{}
	s.bus.Post(&sspark.JobStartEvent{
		JobID:      job.jobID,
		Time:       time.Now(),
		StageInfos: s.stageInfosForJob(job.jobID),
		Properties: e.properties,
	})
	s.submitStage(finalStage)
}

func (s *Scheduler) handleMapStageSubmitted(e *mapStageSubmittedEvent) {
	log.Infof("Got map stage job %d (%s) with %d output partitions", e.jobID, e.callSite, e.dep.Parent().NumPartitions())
	finalStage, err := s.getOrCreateShuffleMapStage(e.dep, e.jobID)
	if err != nil {
		log.Warnf("Creating new stage failed due to error: %v", err)
		e.listener.JobFailed(err)
		return
	}
	job := newActiveJob(e.jobID, finalStage, e.callSite, e.listener, e.properties)
	s.cacheLocs.clear()
	finalStage.addMapStageJob(job)
	s.jobIDToActiveJob[job.jobID] = job
	s.activeJobs[job] = struct{}{}
	// the stage may predate this job; make membership transitive anyway
	s.updateJobIDStageIDMaps(job.jobID, finalStage)
	s.bus.Post(&sspark.JobStartEvent{
		JobID:      job.jobID,
		Time:       time.Now(),
		StageInfos: s.stageInfosForJob(job.jobID),
		Properties: e.properties,
	})
	s.submitStage(finalStage)
	if finalStage.isAvailable() {
		// every partition was already materialized by an earlier job
		s.markMapStageJobAsFinished(job, s.tracker.GetStatistics(e.dep))
	}
}

func (s *Scheduler) stageInfosForJob(jobID int) []*sspark.StageInfo {
	ids := make([]int, 0, len(s.jobIDToStageIDs[jobID]))
	for id := range s.jobIDToStageIDs[jobID] {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	infos := make([]*sspark.StageInfo, 0, len(ids))
	for _, id := range ids {
		if st, ok := s.stages[id]; ok {
			infos = append(infos, st.core().latestInfo())
		}
	}
	return infos
}

// markMapStageJobAsFinished completes one standalone map stage job
func (s *Scheduler) markMapStageJobAsFinished(job *activeJob, statistics *sspark.MapOutputStatistics) {
	if job.finished[0] {
		return
	}
	job.finished[0] = true
	job.numFinished++
	if err := job.listener.TaskSucceeded(0, statistics); err != nil {
		job.listener.JobFailed(&serrors.DriverExecutionError{Cause: err})
	}
	s.cleanupStateForJobAndIndependentStages(job)
	s.bus.Post(&sspark.JobEndEvent{JobID: job.jobID, Time: time.Now()})
}

// markMapStageJobsAsFinished completes the map stage jobs of a shuffle
// stage that just became available
func (s *Scheduler) markMapStageJobsAsFinished(sms *shuffleMapStage) {
	if !sms.isAvailable() {
		return
	}
	jobs := append([]*activeJob(nil), sms.mapStageJobs...)
	for _, job := range jobs {
		s.markMapStageJobAsFinished(job, s.tracker.GetStatistics(sms.shuffleDep))
	}
}

func (s *Scheduler) handleStageCancellation(stageID int, reason string) {
	st, ok := s.stages[stageID]
	if !ok {
		log.Infof("Could not cancel unknown stage %d", stageID)
		return
	}
	jobIDs := make([]int, 0, len(st.core().jobIDs))
	for jobID := range st.core().jobIDs {
		jobIDs = append(jobIDs, jobID)
	}
	sort.Ints(jobIDs)
	suffix := ""
	if reason != "" {
		suffix = fmt.Sprintf(" (%s)", reason)
	}
	for _, jobID := range jobIDs {
		s.handleJobCancellation(jobID, fmt.Sprintf("because stage %d was cancelled%s", stageID, suffix))
	}
}

func (s *Scheduler) handleJobCancellation(jobID int, reason string) {
	job, ok := s.jobIDToActiveJob[jobID]
	if !ok {
		log.Debugf("Trying to cancel unregistered job %d", jobID)
		return
	}
	s.failJobAndIndependentStages(job, serrors.JobCancelledError{JobID: jobID, Reason: reason})
}

func (s *Scheduler) handleJobGroupCancelled(groupID string) {
	var jobIDs []int
	for job := range s.activeJobs {
		if job.properties[sspark.PropertyJobGroupID] == groupID {
			jobIDs = append(jobIDs, job.jobID)
		}
	}
	sort.Ints(jobIDs)
	for _, jobID := range jobIDs {
		s.handleJobCancellation(jobID, fmt.Sprintf("part of cancelled job group %s", groupID))
	}
}

func (s *Scheduler) doCancelAllJobs() {
	jobIDs := make([]int, 0, len(s.jobIDToActiveJob))
	for jobID := range s.jobIDToActiveJob {
		jobIDs = append(jobIDs, jobID)
	}
	sort.Ints(jobIDs)
	for _, jobID := range jobIDs {
		s.handleJobCancellation(jobID, "as part of cancellation of all jobs")
	}
}

func (s *Scheduler) handleTaskSetFailed(e *taskSetFailedEvent) {
	if st, ok := s.stages[e.taskSet.StageID]; ok {
		s.abortStage(st, e.message, e.cause)
	}
}
