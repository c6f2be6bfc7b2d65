package dag

import (
	"fmt"
	"time"

	sspark "github.com/arcs-skku/SSpark"
)

// stage is one unit of task-parallel work with no internal shuffle
// boundary. A stage is created on first need for a shuffle id or a
// final dataset, reused across jobs, and removed once no job
// references it.
type stage interface {
	core() *stageCore
	// findMissingPartitions returns the partitions of the stage that
	// still lack an output. For shuffle map stages these are map
	// partition ids; for result stages, output indices.
	findMissingPartitions() []int
}

type stageCore struct {
	id       int
	rdd      *sspark.Dataset
	numTasks int
	parents  []stage
	// firstJobID is immutable for the life of the stage; it orders
	// failed-stage resubmission and is the job id passed to parent-stage
	// lookups. The job work is attributed to is always resolved against
	// the live jobIDs set
	firstJobID int
	barrier    bool
	name       string

	jobIDs           map[int]struct{}
	failedAttemptIDs map[int]struct{}
	attempts         []*sspark.StageInfo
	nextAttemptID    int
}

func newStageCore(id int, rdd *sspark.Dataset, numTasks int, parents []stage, firstJobID int, barrier bool, name string) stageCore {
	return stageCore{
		id:               id,
		rdd:              rdd,
		numTasks:         numTasks,
		parents:          parents,
		firstJobID:       firstJobID,
		barrier:          barrier,
		name:             name,
		jobIDs:           make(map[int]struct{}),
		failedAttemptIDs: make(map[int]struct{}),
	}
}

func (c *stageCore) core() *stageCore {
	return c
}

// latestInfo returns the StageInfo of the current attempt, or a
// placeholder if no attempt has started yet
func (c *stageCore) latestInfo() *sspark.StageInfo {
	if len(c.attempts) == 0 {
		return &sspark.StageInfo{StageID: c.id, AttemptNumber: -1, Name: c.name, NumTasks: c.numTasks}
	}
	return c.attempts[len(c.attempts)-1]
}

// makeNewStageAttempt starts a fresh attempt covering the given number
// of tasks
func (c *stageCore) makeNewStageAttempt(numTasks int) *sspark.StageInfo {
	info := &sspark.StageInfo{
		StageID:        c.id,
		AttemptNumber:  c.nextAttemptID,
		Name:           c.name,
		NumTasks:       numTasks,
		SubmissionTime: time.Now(),
	}
	c.nextAttemptID++
	c.attempts = append(c.attempts, info)
	return info
}

func (c *stageCore) clearFailures() {
	c.failedAttemptIDs = make(map[int]struct{})
}

func (c *stageCore) String() string {
	return fmt.Sprintf("Stage %d (%s)", c.id, c.name)
}

// shuffleMapStage produces the map-side output of one shuffle. Its
// availability is defined by the map-output tracker: the stage is done
// once every partition has a registered output.
type shuffleMapStage struct {
	stageCore
	shuffleDep *sspark.ShuffleDependency
	// pendingPartitions tracks partitions submitted in the current
	// attempt whose success has not been processed yet
	pendingPartitions map[int]struct{}
	// mapStageJobs are jobs submitted directly against this map stage
	mapStageJobs []*activeJob
	tracker      sspark.MapOutputTracker
}

func (s *shuffleMapStage) isAvailable() bool {
	return s.tracker.NumAvailableOutputs(s.shuffleDep.ShuffleID()) == s.numTasks
}

func (s *shuffleMapStage) findMissingPartitions() []int {
	return s.tracker.FindMissingPartitions(s.shuffleDep.ShuffleID())
}

func (s *shuffleMapStage) addMapStageJob(job *activeJob) {
	s.mapStageJobs = append(s.mapStageJobs, job)
}

func (s *shuffleMapStage) removeMapStageJob(job *activeJob) {
	for i, j := range s.mapStageJobs {
		if j == job {
			s.mapStageJobs = append(s.mapStageJobs[:i], s.mapStageJobs[i+1:]...)
			return
		}
	}
}

// resultStage is the terminal stage of an action job, computing the
// requested partitions of the final dataset.
type resultStage struct {
	stageCore
	fn sspark.ResultFunc
	// partitions maps output index to partition id of rdd
	partitions []int
	// activeJob is the job currently computing this stage, nil once it
	// finishes or is cancelled
	activeJob *activeJob
}

func (s *resultStage) findMissingPartitions() []int {
	if s.activeJob == nil {
		return nil
	}
	missing := make([]int, 0, s.activeJob.numPartitions)
	for i := 0; i < s.activeJob.numPartitions; i++ {
		if !s.activeJob.finished[i] {
			missing = append(missing, i)
		}
	}
	return missing
}

func (s *resultStage) setActiveJob(job *activeJob) {
	s.activeJob = job
}

func (s *resultStage) removeActiveJob(job *activeJob) {
	if s.activeJob == job {
		s.activeJob = nil
	}
}
