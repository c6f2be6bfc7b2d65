package dag

import (
	"sort"

	sspark "github.com/arcs-skku/SSpark"
	serrors "github.com/arcs-skku/SSpark/errors"
	log "github.com/sirupsen/logrus"
)

// Stage registry: the canonical set of stages, the shuffle-id mapping
// and the job-to-stage membership relation. Every method here runs on
// the event loop.

// getOrCreateShuffleMapStage returns the canonical producing stage for
// a shuffle dependency, creating missing ancestor stages first,
// deepest first.
func (s *Scheduler) getOrCreateShuffleMapStage(dep *sspark.ShuffleDependency, firstJobID int) (*shuffleMapStage, error) {
	if st, ok := s.shuffleIDToMapStage[dep.ShuffleID()]; ok {
		return st, nil
	}
	for _, ancestor := range s.missingAncestorShuffles(dep.Parent()) {
		// an ancestor may have been created as a side effect of an
		// earlier iteration
		if _, ok := s.shuffleIDToMapStage[ancestor.ShuffleID()]; !ok {
			if _, err := s.createShuffleMapStage(ancestor, firstJobID); err != nil {
				return nil, err
			}
		}
	}
	return s.createShuffleMapStage(dep, firstJobID)
}

// createShuffleMapStage creates the producing stage for a shuffle
// dependency and registers the shuffle with the map-output tracker.
func (s *Scheduler) createShuffleMapStage(dep *sspark.ShuffleDependency, jobID int) (*shuffleMapStage, error) {
	rdd := dep.Parent()
	if err := s.checkBarrierStage(rdd, rdd.NumPartitions()); err != nil {
		return nil, err
	}
	parents, err := s.parentStages(rdd, jobID)
	if err != nil {
		return nil, err
	}
	id := s.nextStageID
	s.nextStageID++
	st := &shuffleMapStage{
		stageCore:         newStageCore(id, rdd, rdd.NumPartitions(), parents, jobID, stageContainsBarrier(rdd), rdd.Name()),
		shuffleDep:        dep,
		pendingPartitions: make(map[int]struct{}),
		tracker:           s.tracker,
	}
	s.stages[id] = st
	s.shuffleIDToMapStage[dep.ShuffleID()] = st
	s.updateJobIDStageIDMaps(jobID, st)
	if !s.tracker.ContainsShuffle(dep.ShuffleID()) {
		log.Debugf("Registering shuffle %d (%s) with %d map tasks", dep.ShuffleID(), rdd, rdd.NumPartitions())
		s.tracker.RegisterShuffle(dep.ShuffleID(), rdd.NumPartitions())
	}
	return st, nil
}

// createResultStage creates the terminal stage of a result job
func (s *Scheduler) createResultStage(rdd *sspark.Dataset, fn sspark.ResultFunc, partitions []int, jobID int, callSite string) (*resultStage, error) {
	if err := s.checkBarrierStage(rdd, len(partitions)); err != nil {
		return nil, err
	}
	parents, err := s.parentStages(rdd, jobID)
	if err != nil {
		return nil, err
	}
	id := s.nextStageID
	s.nextStageID++
	st := &resultStage{
		stageCore:  newStageCore(id, rdd, len(partitions), parents, jobID, stageContainsBarrier(rdd), callSite),
		fn:         fn,
		partitions: partitions,
	}
	s.stages[id] = st
	s.updateJobIDStageIDMaps(jobID, st)
	return st, nil
}

// parentStages resolves the producing stage of every immediate shuffle
// dependency of rdd
func (s *Scheduler) parentStages(rdd *sspark.Dataset, firstJobID int) ([]stage, error) {
	var parents []stage
	for _, dep := range shuffleDependenciesImmediate(rdd) {
		st, err := s.getOrCreateShuffleMapStage(dep, firstJobID)
		if err != nil {
			return nil, err
		}
		parents = append(parents, st)
	}
	return parents, nil
}

// checkBarrierStage validates barrier-stage admission at stage
// creation time
func (s *Scheduler) checkBarrierStage(rdd *sspark.Dataset, numTasksInStage int) error {
	if !stageContainsBarrier(rdd) {
		return nil
	}
	if s.conf.DynamicAllocationEnabled {
		return serrors.BarrierIncompatibleError{Reason: "dynamic resource allocation is enabled"}
	}
	if max := s.taskScheduler.MaxConcurrentTasks(); numTasksInStage > max {
		return serrors.BarrierSlotsError{RequiredSlots: numTasksInStage, MaxSlots: max}
	}
	ok := traverseWithinStageAll(rdd, func(ds *sspark.Dataset) bool {
		if ds.NumPartitions() != numTasksInStage {
			return false
		}
		barrierShuffleParents := 0
		for _, dep := range ds.Dependencies() {
			if shuffleDep, isShuffle := dep.(*sspark.ShuffleDependency); isShuffle && stageContainsBarrier(shuffleDep.Parent()) {
				barrierShuffleParents++
			}
		}
		return barrierShuffleParents <= 1
	})
	if !ok {
		return serrors.BarrierIncompatibleError{Reason: "the stage's dataset chain mixes partition counts or joins multiple barrier shuffles"}
	}
	return nil
}

// updateJobIDStageIDMaps registers jobID with st and transitively with
// every ancestor stage not already containing it
func (s *Scheduler) updateJobIDStageIDMaps(jobID int, st stage) {
	stack := []stage{st}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		c := cur.core()
		if _, ok := c.jobIDs[jobID]; ok {
			continue
		}
		c.jobIDs[jobID] = struct{}{}
		ids, ok := s.jobIDToStageIDs[jobID]
		if !ok {
			ids = make(map[int]struct{})
			s.jobIDToStageIDs[jobID] = ids
		}
		ids[c.id] = struct{}{}
		stack = append(stack, c.parents...)
	}
}

// cleanupStateForJobAndIndependentStages removes a finished job and
// every stage exclusively owned by it; shared stages persist. The
// map-output tracker keeps the shuffle-data metadata of removed map
// stages.
func (s *Scheduler) cleanupStateForJobAndIndependentStages(job *activeJob) {
	stageIDs, ok := s.jobIDToStageIDs[job.jobID]
	if !ok {
		log.Errorf("No stages registered for job %d", job.jobID)
	}
	for id := range stageIDs {
		st, registered := s.stages[id]
		if !registered {
			continue
		}
		c := st.core()
		if _, member := c.jobIDs[job.jobID]; !member {
			log.Errorf("Job %d not registered for stage %d even though that stage was registered for the job", job.jobID, id)
			continue
		}
		delete(c.jobIDs, job.jobID)
		if len(c.jobIDs) == 0 {
			s.removeStage(st)
		}
	}
	delete(s.jobIDToStageIDs, job.jobID)
	delete(s.jobIDToActiveJob, job.jobID)
	delete(s.activeJobs, job)
	switch fs := job.finalStage.(type) {
	case *resultStage:
		fs.removeActiveJob(job)
	case *shuffleMapStage:
		fs.removeMapStageJob(job)
	}
}

func (s *Scheduler) removeStage(st stage) {
	id := st.core().id
	if _, running := s.runningStages[st]; running {
		log.Debugf("Removing running stage %d", id)
		delete(s.runningStages, st)
	}
	delete(s.waitingStages, st)
	delete(s.failedStages, st)
	if sms, isMapStage := st.(*shuffleMapStage); isMapStage {
		delete(s.shuffleIDToMapStage, sms.shuffleDep.ShuffleID())
	}
	delete(s.stages, id)
	log.Debugf("Removed stage %d", id)
}

// containsShuffle reports whether a live stage produces the shuffle
func (s *Scheduler) containsShuffle(shuffleID int) bool {
	_, ok := s.shuffleIDToMapStage[shuffleID]
	return ok
}

// stageByID returns a registered stage
func (s *Scheduler) stageByID(id int) (stage, bool) {
	st, ok := s.stages[id]
	return st, ok
}

// sortStagesByID orders stages by ascending stage id in place
func sortStagesByID(stages []stage) {
	sort.Slice(stages, func(i, j int) bool {
		return stages[i].core().id < stages[j].core().id
	})
}
