package dag

import sspark "github.com/arcs-skku/SSpark"

// activeJob is one submitted job tracked by the scheduler. A result
// job computes a result stage; a map-stage job runs a shuffle map
// stage standalone and delivers its output statistics.
type activeJob struct {
	jobID      int
	finalStage stage
	callSite   string
	listener   sspark.JobListener
	properties map[string]string

	numPartitions int
	finished      []bool
	numFinished   int
}

func newActiveJob(jobID int, finalStage stage, callSite string, listener sspark.JobListener, properties map[string]string) *activeJob {
	numPartitions := 1
	if rs, ok := finalStage.(*resultStage); ok {
		numPartitions = len(rs.partitions)
	}
	return &activeJob{
		jobID:         jobID,
		finalStage:    finalStage,
		callSite:      callSite,
		listener:      listener,
		properties:    properties,
		numPartitions: numPartitions,
		finished:      make([]bool, numPartitions),
	}
}
