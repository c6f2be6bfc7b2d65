package dag

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	sspark "github.com/arcs-skku/SSpark"
	serrors "github.com/arcs-skku/SSpark/errors"
	"github.com/stretchr/testify/require"
)

func TestLinearThreeStageJob(t *testing.T) {
	f := newFixture(t, nil)
	ds0 := sourceDataset("ds0", 4)
	ds1, dep0 := shuffledDataset("ds1", ds0, 4)
	ds2, dep1 := shuffledDataset("ds2", ds1, 4)

	collector := newResultCollector()
	waiter, err := f.s.SubmitJob(ds2, noopResultFunc, []int{0, 1, 2, 3}, "collect at TestLinearThreeStageJob", collector.handler, nil)
	require.NoError(t, err)
	f.flush()

	// both map stages exist, only the deepest is running
	require.Equal(t, 1, f.ts.numTaskSets())
	first := f.ts.taskSet(0)
	require.Equal(t, 0, first.StageID)
	require.Len(t, first.Tasks, 4)
	require.True(t, f.tracker.ContainsShuffle(dep0.ShuffleID()))
	require.True(t, f.tracker.ContainsShuffle(dep1.ShuffleID()))
	require.Len(t, f.s.stages, 3)
	require.Len(t, f.s.stages[2].core().parents, 1)
	require.Equal(t, 1, f.s.stages[2].core().parents[0].core().id)
	require.Len(t, f.s.stages[1].core().parents, 1)
	require.Equal(t, 0, f.s.stages[1].core().parents[0].core().id)

	f.completeShuffleMapTasks(first, "e0", 4)
	f.flush()
	require.Equal(t, 4, f.tracker.NumAvailableOutputs(dep0.ShuffleID()))
	require.Equal(t, 2, f.ts.numTaskSets())
	second := f.ts.taskSet(1)
	require.Equal(t, 1, second.StageID)
	require.Len(t, second.Tasks, 4)

	f.completeShuffleMapTasks(second, "e1", 4)
	f.flush()
	require.Equal(t, 3, f.ts.numTaskSets())
	result := f.ts.taskSet(2)
	require.Equal(t, 2, result.StageID)
	require.Len(t, result.Tasks, 4)

	f.completeResultTasks(result)
	f.flush()
	require.NoError(t, waiter.Wait(context.Background()))
	require.Equal(t, 4, collector.count())

	// job cleanup released every stage
	require.Empty(t, f.s.stages)
	require.Empty(t, f.s.activeJobs)
	require.Empty(t, f.s.jobIDToStageIDs)
	ends := f.bus.jobEnds()
	require.Len(t, ends, 1)
	require.NoError(t, ends[0].Err)
}

func TestFetchFailureRecovery(t *testing.T) {
	f := newFixture(t, nil)
	ds0 := sourceDataset("ds0", 4)
	ds1, _ := shuffledDataset("ds1", ds0, 4)
	ds2, dep1 := shuffledDataset("ds2", ds1, 4)

	waiter, err := f.s.SubmitJob(ds2, noopResultFunc, []int{0, 1, 2, 3}, "collect at TestFetchFailureRecovery", nil, nil)
	require.NoError(t, err)
	f.flush()
	f.completeShuffleMapTasks(f.ts.taskSet(0), "e0", 4)
	f.flush()
	f.completeShuffleMapTasks(f.ts.taskSet(1), "e1", 4)
	f.flush()
	require.Equal(t, 3, f.ts.numTaskSets())
	result := f.ts.taskSet(2)

	failed := &sspark.FetchFailed{
		BMAddress: &sspark.BlockManagerID{ExecutorID: "e1-2", Host: "host-e1-2"},
		ShuffleID: dep1.ShuffleID(),
		MapID:     2,
		ReduceID:  0,
		Message:   "could not fetch shuffle block",
	}
	f.s.TaskEnded(result.Tasks[0], failed, nil, nil, &sspark.TaskInfo{Attempt: 0})
	f.flush()

	// mapId 2 unregistered, the serving executor marked lost
	require.Equal(t, 3, f.tracker.NumAvailableOutputs(dep1.ShuffleID()))
	require.Equal(t, []int{2}, f.tracker.FindMissingPartitions(dep1.ShuffleID()))
	require.Contains(t, f.bm.removedExecutors(), "e1-2")

	// the debounced resubmission re-runs only the lost map partition
	f.eventually(func() bool { return f.ts.numTaskSets() == 4 })
	rerun := f.ts.taskSet(3)
	require.Equal(t, 1, rerun.StageID)
	require.Equal(t, 1, rerun.StageAttemptID)
	require.Len(t, rerun.Tasks, 1)
	require.Equal(t, 2, rerun.Tasks[0].PartitionID())

	f.completeShuffleMapTask(rerun.Tasks[0].(*sspark.ShuffleMapTask), "e1-2b", 4)
	f.flush()
	require.Equal(t, 5, f.ts.numTaskSets())
	retried := f.ts.taskSet(4)
	require.Equal(t, 2, retried.StageID)
	require.Equal(t, 1, retried.StageAttemptID)
	require.Len(t, retried.Tasks, 4)

	f.completeResultTasks(retried)
	f.flush()
	require.NoError(t, waiter.Wait(context.Background()))
}

func TestMaxConsecutiveStageAttemptsAborts(t *testing.T) {
	conf := DefaultConfig()
	conf.ResubmitTimeout = 10 * time.Millisecond
	f := newFixture(t, conf)
	ds0 := sourceDataset("ds0", 4)
	ds1, _ := shuffledDataset("ds1", ds0, 4)
	ds2, dep1 := shuffledDataset("ds2", ds1, 4)

	waiter, err := f.s.SubmitJob(ds2, noopResultFunc, []int{0, 1, 2, 3}, "collect at TestMaxAttempts", nil, nil)
	require.NoError(t, err)
	f.flush()
	f.completeShuffleMapTasks(f.ts.taskSet(0), "e0", 4)
	f.flush()
	f.completeShuffleMapTasks(f.ts.taskSet(1), "e1", 4)
	f.flush()

	resultSetIdx := 2
	for attempt := 0; attempt < 4; attempt++ {
		result := f.ts.taskSet(resultSetIdx)
		require.Equal(t, attempt, result.StageAttemptID)
		mapID := attempt % 4
		exec := fmt.Sprintf("e1-%d", mapID)
		failed := &sspark.FetchFailed{
			BMAddress: &sspark.BlockManagerID{ExecutorID: exec, Host: "host-" + exec},
			ShuffleID: dep1.ShuffleID(),
			MapID:     mapID,
			Message:   fmt.Sprintf("fetch failure %d", attempt),
		}
		f.s.TaskEnded(result.Tasks[0], failed, nil, nil, &sspark.TaskInfo{Attempt: 0})
		f.flush()
		if attempt == 3 {
			break
		}
		// map stage re-runs the lost partition, then the result stage retries
		f.eventually(func() bool { return f.ts.numTaskSets() == resultSetIdx+2 })
		rerun := f.ts.taskSet(resultSetIdx + 1)
		require.Equal(t, 1, rerun.StageID)
		f.completeShuffleMapTask(rerun.Tasks[0].(*sspark.ShuffleMapTask), fmt.Sprintf("e1-%db", mapID), 4)
		f.eventually(func() bool { return f.ts.numTaskSets() == resultSetIdx+3 })
		resultSetIdx += 2
	}

	require.Error(t, waiter.Wait(context.Background()))
	require.Contains(t, waiter.Err().Error(), "maximum allowable number of times: 4")
	f.flush()
	require.Empty(t, f.s.activeJobs)
}

func TestIndeterminateRollbackAbortsPartialSuccessors(t *testing.T) {
	f := newFixture(t, nil)
	producer := sourceDataset("indeterminate-producer", 4, sspark.WithDeterminism(sspark.Indeterminate))
	dep := sspark.NewShuffleDependency(producer, sspark.NewHashPartitioner(4))
	dsA := sspark.NewDataset("dsA", 4, []sspark.Dependency{dep})
	dsB := sspark.NewDataset("dsB", 4, []sspark.Dependency{dep})

	collectorA := newResultCollector()
	waiterA, err := f.s.SubmitJob(dsA, noopResultFunc, []int{0, 1, 2, 3}, "collect A", collectorA.handler, nil)
	require.NoError(t, err)
	waiterB, err := f.s.SubmitJob(dsB, noopResultFunc, []int{0, 1, 2, 3}, "collect B", nil, nil)
	require.NoError(t, err)
	f.flush()

	// one shared map stage feeds both result stages
	require.Equal(t, 1, f.ts.numTaskSets())
	f.completeShuffleMapTasks(f.ts.taskSet(0), "m", 4)
	f.flush()
	require.Equal(t, 3, f.ts.numTaskSets())
	resultA := f.ts.taskSet(1)
	resultB := f.ts.taskSet(2)

	// result stage A commits a partial output before the failure
	f.s.TaskEnded(resultA.Tasks[0], sspark.Success{}, "partial", nil, &sspark.TaskInfo{Attempt: 0})
	f.flush()
	require.Equal(t, 1, collectorA.count())

	failed := &sspark.FetchFailed{
		BMAddress: &sspark.BlockManagerID{ExecutorID: "m-0", Host: "host-m-0"},
		ShuffleID: dep.ShuffleID(),
		MapID:     0,
		Message:   "fetch failure against indeterminate output",
	}
	f.s.TaskEnded(resultB.Tasks[1], failed, nil, nil, &sspark.TaskInfo{Attempt: 0})
	f.flush()

	// A's partial output cannot be reproduced; its job dies
	require.Error(t, waiterA.Wait(context.Background()))
	require.Contains(t, waiterA.Err().Error(), "cannot be rolled back")

	// B had no committed output and recovers through resubmission
	f.eventually(func() bool { return f.ts.numTaskSets() >= 4 })
	rerunMap := f.ts.taskSet(3)
	require.Equal(t, 0, rerunMap.StageID)
	f.completeShuffleMapTasks(rerunMap, "m2", 4)
	f.eventually(func() bool { return f.ts.numTaskSets() == 5 })
	f.completeResultTasks(f.ts.taskSet(4))
	f.flush()
	require.NoError(t, waiterB.Wait(context.Background()))
}

func TestExecutorLostWithoutExternalShuffleService(t *testing.T) {
	f := newFixture(t, nil)
	ds0 := sourceDataset("ds0", 4)
	ds1, dep := shuffledDataset("ds1", ds0, 4)

	waiter, err := f.s.SubmitJob(ds1, noopResultFunc, []int{0, 1, 2, 3}, "collect", nil, nil)
	require.NoError(t, err)
	f.flush()
	f.completeShuffleMapTasks(f.ts.taskSet(0), "m", 4)
	f.flush()
	require.Equal(t, 4, f.tracker.NumAvailableOutputs(dep.ShuffleID()))

	f.s.ExecutorLost("m-1", sspark.ExecutorKilled("executor preempted"))
	f.flush()

	// both epoch maps updated, outputs on the executor unregistered
	require.Equal(t, 3, f.tracker.NumAvailableOutputs(dep.ShuffleID()))
	require.Equal(t, []int{1}, f.tracker.FindMissingPartitions(dep.ShuffleID()))
	require.Contains(t, f.bm.removedExecutors(), "m-1")
	lostEpoch, ok := f.s.epochs.executorFailureEpoch["m-1"]
	require.True(t, ok)
	fileEpoch, ok := f.s.epochs.shuffleFileLostEpoch["m-1"]
	require.True(t, ok)
	require.GreaterOrEqual(t, fileEpoch, lostEpoch)

	// a rejoining executor clears its failure record
	f.s.ExecutorAdded("m-1", "host-m-1")
	f.flush()
	_, ok = f.s.epochs.executorFailureEpoch["m-1"]
	require.False(t, ok)

	waiter.Cancel()
	f.flush()
	require.Error(t, waiter.Wait(context.Background()))
}

func TestStaleShuffleMapOutputDiscarded(t *testing.T) {
	f := newFixture(t, nil)
	ds0 := sourceDataset("ds0", 4)
	ds1, dep := shuffledDataset("ds1", ds0, 4)

	waiter, err := f.s.SubmitJob(ds1, noopResultFunc, []int{0, 1, 2, 3}, "collect", nil, nil)
	require.NoError(t, err)
	f.flush()
	mapSet := f.ts.taskSet(0)
	for _, task := range mapSet.Tasks {
		if task.PartitionID() != 1 {
			f.completeShuffleMapTask(task.(*sspark.ShuffleMapTask), fmt.Sprintf("m-%d", task.PartitionID()), 4)
		}
	}
	f.s.ExecutorLost("m-1", sspark.ExecutorKilled("lost before reporting"))
	f.flush()

	// the straggler's completion arrives from the already-lost executor
	var straggler *sspark.ShuffleMapTask
	for _, task := range mapSet.Tasks {
		if task.PartitionID() == 1 {
			straggler = task.(*sspark.ShuffleMapTask)
		}
	}
	f.completeShuffleMapTask(straggler, "m-1", 4)
	f.flush()

	// output discarded as possibly stale; the stage finished its
	// attempt but is not available, so it resubmits partition 1
	require.Equal(t, 3, f.tracker.NumAvailableOutputs(dep.ShuffleID()))
	f.eventually(func() bool { return f.ts.numTaskSets() == 2 })
	rerun := f.ts.taskSet(1)
	require.Len(t, rerun.Tasks, 1)
	require.Equal(t, 1, rerun.Tasks[0].PartitionID())

	f.completeShuffleMapTask(rerun.Tasks[0].(*sspark.ShuffleMapTask), "m-1b", 4)
	f.flush()
	f.eventually(func() bool { return f.ts.numTaskSets() == 3 })
	f.completeResultTasks(f.ts.taskSet(2))
	f.flush()
	require.NoError(t, waiter.Wait(context.Background()))
}

func TestCancelJobGroup(t *testing.T) {
	f := newFixture(t, nil)
	group := map[string]string{sspark.PropertyJobGroupID: "G"}
	ds1 := sourceDataset("g1", 2)
	ds2 := sourceDataset("g2", 2)
	ds3 := sourceDataset("solo", 2)

	w1, err := f.s.SubmitJob(ds1, noopResultFunc, []int{0, 1}, "j1", nil, group)
	require.NoError(t, err)
	w2, err := f.s.SubmitJob(ds2, noopResultFunc, []int{0, 1}, "j2", nil, group)
	require.NoError(t, err)
	w3, err := f.s.SubmitJob(ds3, noopResultFunc, []int{0, 1}, "j3", nil, nil)
	require.NoError(t, err)
	f.flush()
	require.Equal(t, 3, f.ts.numTaskSets())

	f.s.CancelJobGroup("G")
	f.flush()

	require.Error(t, w1.Wait(context.Background()))
	require.Contains(t, w1.Err().Error(), "part of cancelled job group G")
	require.Error(t, w2.Wait(context.Background()))
	require.Contains(t, w2.Err().Error(), "part of cancelled job group G")
	require.Len(t, f.ts.cancelledStages(), 2)

	// the ungrouped job is unaffected and still completes
	select {
	case <-w3.Done():
		t.Fatal("ungrouped job terminated by group cancellation")
	default:
	}
	for _, ts := range []*sspark.TaskSet{f.ts.taskSet(0), f.ts.taskSet(1), f.ts.taskSet(2)} {
		if ts.StageID == 2 {
			f.completeResultTasks(ts)
		}
	}
	f.flush()
	require.NoError(t, w3.Wait(context.Background()))
}

func TestCancelStageFailsDependentJobs(t *testing.T) {
	f := newFixture(t, nil)
	ds := sourceDataset("ds", 2)
	waiter, err := f.s.SubmitJob(ds, noopResultFunc, []int{0, 1}, "collect", nil, nil)
	require.NoError(t, err)
	f.flush()
	require.Equal(t, 1, f.ts.numTaskSets())

	f.s.CancelStage(f.ts.taskSet(0).StageID, "took too long")
	f.flush()
	require.Error(t, waiter.Wait(context.Background()))
	require.Contains(t, waiter.Err().Error(), "was cancelled")
	require.Contains(t, waiter.Err().Error(), "took too long")
}

func TestCancelAllJobs(t *testing.T) {
	f := newFixture(t, nil)
	w1, err := f.s.SubmitJob(sourceDataset("a", 1), noopResultFunc, []int{0}, "a", nil, nil)
	require.NoError(t, err)
	w2, err := f.s.SubmitJob(sourceDataset("b", 1), noopResultFunc, []int{0}, "b", nil, nil)
	require.NoError(t, err)
	f.flush()
	f.s.CancelAllJobs()
	f.flush()
	require.Error(t, w1.Wait(context.Background()))
	require.Error(t, w2.Wait(context.Background()))
	require.Empty(t, f.s.activeJobs)
	require.Empty(t, f.s.stages)
}

func TestSubmitJobValidatesPartitions(t *testing.T) {
	f := newFixture(t, nil)
	ds := sourceDataset("ds", 4)
	_, err := f.s.SubmitJob(ds, noopResultFunc, []int{4}, "bad", nil, nil)
	require.Error(t, err)
	var oor serrors.PartitionOutOfRangeError
	require.ErrorAs(t, err, &oor)
	require.Equal(t, 4, oor.Partition)

	waiter, err := f.s.SubmitJob(ds, noopResultFunc, nil, "empty", nil, nil)
	require.NoError(t, err)
	require.NoError(t, waiter.Wait(context.Background()))
}

func TestResultDeliveredOncePerOutput(t *testing.T) {
	f := newFixture(t, nil)
	ds := sourceDataset("ds", 2)
	collector := newResultCollector()
	waiter, err := f.s.SubmitJob(ds, noopResultFunc, []int{0, 1}, "collect", collector.handler, nil)
	require.NoError(t, err)
	f.flush()
	result := f.ts.taskSet(0)

	// a speculative duplicate of output 0
	f.s.TaskEnded(result.Tasks[0], sspark.Success{}, "first", nil, &sspark.TaskInfo{Attempt: 0})
	f.s.TaskEnded(result.Tasks[0], sspark.Success{}, "duplicate", nil, &sspark.TaskInfo{Attempt: 1})
	f.flush()
	require.Equal(t, 1, collector.count())

	f.s.TaskEnded(result.Tasks[1], sspark.Success{}, "second", nil, &sspark.TaskInfo{Attempt: 0})
	f.flush()
	require.NoError(t, waiter.Wait(context.Background()))
	require.Equal(t, 2, collector.count())
}

func TestFetchFailureFromOldAttemptIgnored(t *testing.T) {
	f := newFixture(t, nil)
	ds0 := sourceDataset("ds0", 2)
	ds1, dep := shuffledDataset("ds1", ds0, 2)
	_, err := f.s.SubmitJob(ds1, noopResultFunc, []int{0, 1}, "collect", nil, nil)
	require.NoError(t, err)
	f.flush()
	f.completeShuffleMapTasks(f.ts.taskSet(0), "m", 2)
	f.flush()
	result := f.ts.taskSet(1)
	oldTask := result.Tasks[0]

	failed := &sspark.FetchFailed{
		BMAddress: &sspark.BlockManagerID{ExecutorID: "m-0", Host: "host-m-0"},
		ShuffleID: dep.ShuffleID(),
		MapID:     0,
		Message:   "first failure",
	}
	f.s.TaskEnded(oldTask, failed, nil, nil, &sspark.TaskInfo{Attempt: 0})
	f.flush()
	f.eventually(func() bool { return f.ts.numTaskSets() == 3 })
	f.completeShuffleMapTask(f.ts.taskSet(2).Tasks[0].(*sspark.ShuffleMapTask), "m-0b", 2)
	f.eventually(func() bool { return f.ts.numTaskSets() == 4 })

	// a late failure from the superseded attempt mutates nothing
	failedAttempts := len(f.s.stages[1].core().failedAttemptIDs)
	available := f.tracker.NumAvailableOutputs(dep.ShuffleID())
	f.s.TaskEnded(oldTask, failed, nil, nil, &sspark.TaskInfo{Attempt: 0})
	f.flush()
	require.Equal(t, failedAttempts, len(f.s.stages[1].core().failedAttemptIDs))
	require.Equal(t, available, f.tracker.NumAvailableOutputs(dep.ShuffleID()))
}

func TestFetchFailureBurstDebouncesToOneResubmission(t *testing.T) {
	f := newFixture(t, nil)
	ds0 := sourceDataset("ds0", 4)
	ds1, dep := shuffledDataset("ds1", ds0, 4)
	_, err := f.s.SubmitJob(ds1, noopResultFunc, []int{0, 1, 2, 3}, "collect", nil, nil)
	require.NoError(t, err)
	f.flush()
	f.completeShuffleMapTasks(f.ts.taskSet(0), "m", 4)
	f.flush()
	result := f.ts.taskSet(1)

	// two fetch failures of the same attempt in one burst
	for _, mapID := range []int{0, 1} {
		exec := fmt.Sprintf("m-%d", mapID)
		failed := &sspark.FetchFailed{
			BMAddress: &sspark.BlockManagerID{ExecutorID: exec, Host: "host-" + exec},
			ShuffleID: dep.ShuffleID(),
			MapID:     mapID,
			Message:   "burst failure",
		}
		f.s.TaskEnded(result.Tasks[mapID], failed, nil, nil, &sspark.TaskInfo{Attempt: 0})
	}
	f.flush()
	require.Len(t, f.tracker.FindMissingPartitions(dep.ShuffleID()), 2)

	// one coalesced resubmission covers both lost partitions
	f.eventually(func() bool { return f.ts.numTaskSets() == 3 })
	rerun := f.ts.taskSet(2)
	require.Equal(t, 0, rerun.StageID)
	require.Len(t, rerun.Tasks, 2)
	time.Sleep(5 * f.s.conf.ResubmitTimeout)
	require.Equal(t, 3, f.ts.numTaskSets())
}

func TestSharedStageSurvivesJobCleanup(t *testing.T) {
	f := newFixture(t, nil)
	producer := sourceDataset("shared", 2)
	dep := sspark.NewShuffleDependency(producer, sspark.NewHashPartitioner(2))
	dsA := sspark.NewDataset("dsA", 2, []sspark.Dependency{dep})
	dsB := sspark.NewDataset("dsB", 2, []sspark.Dependency{dep})

	wA, err := f.s.SubmitJob(dsA, noopResultFunc, []int{0, 1}, "a", nil, nil)
	require.NoError(t, err)
	wB, err := f.s.SubmitJob(dsB, noopResultFunc, []int{0, 1}, "b", nil, nil)
	require.NoError(t, err)
	f.flush()
	require.Len(t, f.s.stages, 3)

	f.s.CancelJob(wA.JobID(), "")
	f.flush()
	require.Error(t, wA.Wait(context.Background()))

	// the shared map stage persists for the surviving job
	mapStage, ok := f.s.shuffleIDToMapStage[dep.ShuffleID()]
	require.True(t, ok)
	_, member := mapStage.jobIDs[wB.JobID()]
	require.True(t, member)
	_, gone := mapStage.jobIDs[wA.JobID()]
	require.False(t, gone)

	f.s.CancelJob(wB.JobID(), "")
	f.flush()
	require.Error(t, wB.Wait(context.Background()))
	require.Empty(t, f.s.stages)
	require.Empty(t, f.s.shuffleIDToMapStage)
}

func TestSubmitMapStage(t *testing.T) {
	f := newFixture(t, nil)
	ds0 := sourceDataset("ds0", 3)
	dep := sspark.NewShuffleDependency(ds0, sspark.NewHashPartitioner(2))

	var gotStats *sspark.MapOutputStatistics
	waiter, err := f.s.SubmitMapStage(dep, func(stats *sspark.MapOutputStatistics) {
		gotStats = stats
	}, "map stage", nil)
	require.NoError(t, err)
	f.flush()
	require.Equal(t, 1, f.ts.numTaskSets())
	f.completeShuffleMapTasks(f.ts.taskSet(0), "m", 2)
	f.flush()
	require.NoError(t, waiter.Wait(context.Background()))
	require.NotNil(t, gotStats)
	require.Equal(t, dep.ShuffleID(), gotStats.ShuffleID)
	require.Len(t, gotStats.BytesByPartition, 2)

	// resubmitting an already-materialized map stage finishes without
	// launching tasks
	second, err := f.s.SubmitMapStage(dep, func(*sspark.MapOutputStatistics) {}, "map stage again", nil)
	require.NoError(t, err)
	f.flush()
	require.NoError(t, second.Wait(context.Background()))
	require.Equal(t, 1, f.ts.numTaskSets())

	_, err = f.s.SubmitMapStage(sspark.NewShuffleDependency(sourceDataset("empty", 0), sspark.NewHashPartitioner(2)),
		func(*sspark.MapOutputStatistics) {}, "empty", nil)
	require.Error(t, err)
}

func TestSchedulerStopFailsActiveJobs(t *testing.T) {
	f := newFixture(t, nil)
	waiter, err := f.s.SubmitJob(sourceDataset("ds", 2), noopResultFunc, []int{0, 1}, "collect", nil, nil)
	require.NoError(t, err)
	f.flush()
	f.s.Stop()
	require.Error(t, waiter.Wait(context.Background()))
	var stopped serrors.SchedulerStoppedError
	require.ErrorAs(t, waiter.Err(), &stopped)
}

func TestRunApproximateJobTimeoutReturnsPartialResult(t *testing.T) {
	f := newFixture(t, nil)
	ds := sourceDataset("ds", 3)
	evaluator := &countingEvaluator{}
	done := make(chan struct{})
	var result interface{}
	go func() {
		defer close(done)
		result, _ = f.s.RunApproximateJob(context.Background(), ds, noopResultFunc, evaluator,
			"approx", 50*time.Millisecond, nil)
	}()
	f.eventually(func() bool { return f.ts.numTaskSets() == 1 })
	result0 := f.ts.taskSet(0)
	f.s.TaskEnded(result0.Tasks[0], sspark.Success{}, "r0", nil, &sspark.TaskInfo{Attempt: 0})
	<-done
	require.Equal(t, 1, result)
}

type countingEvaluator struct {
	mu     sync.Mutex
	merged int
}

func (e *countingEvaluator) Merge(outputID int, result interface{}) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.merged++
}

func (e *countingEvaluator) CurrentResult() interface{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.merged
}

func TestFetchFailureUnregistersWholeHostWhenConfigured(t *testing.T) {
	conf := DefaultConfig()
	conf.ResubmitTimeout = 20 * time.Millisecond
	conf.UnregisterOutputOnHostOnFetchFailure = true
	conf.ExternalShuffleServiceEnabled = true
	f := newFixture(t, conf)
	ds0 := sourceDataset("ds0", 2)
	ds1, dep := shuffledDataset("ds1", ds0, 2)

	_, err := f.s.SubmitJob(ds1, noopResultFunc, []int{0, 1}, "collect", nil, nil)
	require.NoError(t, err)
	f.flush()

	// both map outputs are served by the same shuffle host
	for _, task := range f.ts.taskSet(0).Tasks {
		smt := task.(*sspark.ShuffleMapTask)
		status := &sspark.MapStatus{
			Location: sspark.BlockManagerID{ExecutorID: fmt.Sprintf("e%d", smt.PartitionID()), Host: "hostX"},
			MapID:    smt.PartitionID(),
			Sizes:    make([]int64, 2),
		}
		f.s.TaskEnded(smt, sspark.Success{}, status, nil, &sspark.TaskInfo{Attempt: 0})
	}
	f.flush()
	require.Equal(t, 2, f.tracker.NumAvailableOutputs(dep.ShuffleID()))

	result := f.ts.taskSet(1)
	failed := &sspark.FetchFailed{
		BMAddress: &sspark.BlockManagerID{ExecutorID: "e0", Host: "hostX"},
		ShuffleID: dep.ShuffleID(),
		MapID:     0,
		Message:   "host-level shuffle service failure",
	}
	f.s.TaskEnded(result.Tasks[0], failed, nil, nil, &sspark.TaskInfo{Attempt: 0})
	f.flush()

	// the whole host's outputs are treated as lost, not just mapId 0
	require.Equal(t, []int{0, 1}, f.tracker.FindMissingPartitions(dep.ShuffleID()))
}

func TestExecutorLostWithExternalShuffleServiceKeepsOutputs(t *testing.T) {
	conf := DefaultConfig()
	conf.ResubmitTimeout = 20 * time.Millisecond
	conf.ExternalShuffleServiceEnabled = true
	f := newFixture(t, conf)
	ds0 := sourceDataset("ds0", 2)
	ds1, dep := shuffledDataset("ds1", ds0, 2)

	_, err := f.s.SubmitJob(ds1, noopResultFunc, []int{0, 1}, "collect", nil, nil)
	require.NoError(t, err)
	f.flush()
	f.completeShuffleMapTasks(f.ts.taskSet(0), "m", 2)
	f.flush()

	// executor-only loss: the shuffle service still serves its files
	f.s.ExecutorLost("m-0", sspark.ExecutorKilled("scaled down"))
	f.flush()
	require.Equal(t, 2, f.tracker.NumAvailableOutputs(dep.ShuffleID()))
	_, hasLost := f.s.epochs.executorFailureEpoch["m-0"]
	require.True(t, hasLost)
	_, hasFileLost := f.s.epochs.shuffleFileLostEpoch["m-0"]
	require.False(t, hasFileLost)

	// worker-level loss takes the files with it
	f.s.ExecutorLost("m-1", sspark.WorkerLost("host-m-1", "node died"))
	f.flush()
	require.Equal(t, []int{1}, f.tracker.FindMissingPartitions(dep.ShuffleID()))
}
