package dag

import (
	"fmt"
	"sync"
	"testing"
	"time"

	sspark "github.com/arcs-skku/SSpark"
	"github.com/arcs-skku/SSpark/internal/maptracker"
	"github.com/stretchr/testify/require"
)

// fakeTaskScheduler records submitted task sets and kill requests
type fakeTaskScheduler struct {
	mu            sync.Mutex
	dag           sspark.DAGSchedulerCallbacks
	taskSets      []*sspark.TaskSet
	cancelled     []int
	killedAll     []int
	maxConcurrent int
	cancelErr     error
}

func newFakeTaskScheduler() *fakeTaskScheduler {
	return &fakeTaskScheduler{maxConcurrent: 1000}
}

func (f *fakeTaskScheduler) SubmitTasks(taskSet *sspark.TaskSet) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.taskSets = append(f.taskSets, taskSet)
}

func (f *fakeTaskScheduler) CancelTasks(stageID int, interruptThread bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, stageID)
	return f.cancelErr
}

func (f *fakeTaskScheduler) KillAllTaskAttempts(stageID int, interruptThread bool, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.killedAll = append(f.killedAll, stageID)
	return nil
}

func (f *fakeTaskScheduler) KillTaskAttempt(taskID int64, interruptThread bool, reason string) (bool, error) {
	return true, nil
}

func (f *fakeTaskScheduler) MaxConcurrentTasks() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxConcurrent
}

func (f *fakeTaskScheduler) SetDAGScheduler(d sspark.DAGSchedulerCallbacks) {
	f.dag = d
}

func (f *fakeTaskScheduler) numTaskSets() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.taskSets)
}

func (f *fakeTaskScheduler) taskSet(i int) *sspark.TaskSet {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.taskSets[i]
}

func (f *fakeTaskScheduler) killedAllStages() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.killedAll...)
}

func (f *fakeTaskScheduler) cancelledStages() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.cancelled...)
}

// fakeBlockManager serves canned cache locations
type fakeBlockManager struct {
	mu        sync.Mutex
	locations map[string][]sspark.BlockManagerID
	lookups   int
	removed   []string
}

func newFakeBlockManager() *fakeBlockManager {
	return &fakeBlockManager{locations: make(map[string][]sspark.BlockManagerID)}
}

func (f *fakeBlockManager) GetLocations(blockIDs []string) [][]sspark.BlockManagerID {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups++
	out := make([][]sspark.BlockManagerID, len(blockIDs))
	for i, id := range blockIDs {
		out[i] = f.locations[id]
	}
	return out
}

func (f *fakeBlockManager) RemoveExecutor(executorID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, executorID)
}

func (f *fakeBlockManager) removedExecutors() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.removed...)
}

// fakeCommitCoordinator records stage lifecycle notifications
type fakeCommitCoordinator struct {
	mu        sync.Mutex
	started   []int
	ended     []int
	completed int
}

func (f *fakeCommitCoordinator) StageStart(stageID, maxPartitionID int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, stageID)
}

func (f *fakeCommitCoordinator) StageEnd(stageID int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ended = append(f.ended, stageID)
}

func (f *fakeCommitCoordinator) TaskCompleted(stageID, stageAttemptID, partitionID, attemptNumber int, reason sspark.TaskEndReason) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed++
}

// recordingBus accumulates every listener event
type recordingBus struct {
	mu     sync.Mutex
	events []sspark.ListenerEvent
}

func (b *recordingBus) Post(event sspark.ListenerEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
}

func (b *recordingBus) countTaskEndsForStage(stageID int) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, ev := range b.events {
		if end, ok := ev.(*sspark.TaskEndEvent); ok && end.StageID == stageID {
			n++
		}
	}
	return n
}

func (b *recordingBus) jobEnds() []*sspark.JobEndEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	var ends []*sspark.JobEndEvent
	for _, ev := range b.events {
		if end, ok := ev.(*sspark.JobEndEvent); ok {
			ends = append(ends, end)
		}
	}
	return ends
}

type fixture struct {
	t       *testing.T
	ts      *fakeTaskScheduler
	tracker *maptracker.Master
	bm      *fakeBlockManager
	cc      *fakeCommitCoordinator
	bus     *recordingBus
	s       *Scheduler
}

func newFixture(t *testing.T, conf *Config) *fixture {
	if conf == nil {
		conf = DefaultConfig()
		conf.ResubmitTimeout = 20 * time.Millisecond
	}
	f := &fixture{
		t:       t,
		ts:      newFakeTaskScheduler(),
		tracker: maptracker.NewMaster(),
		bm:      newFakeBlockManager(),
		cc:      &fakeCommitCoordinator{},
		bus:     &recordingBus{},
	}
	f.s = NewScheduler(conf, f.ts, f.tracker, f.bm, f.cc, f.bus)
	t.Cleanup(f.s.Stop)
	return f
}

// flush waits until every previously posted event has been handled, by
// riding a sentinel completion through the FIFO queue
func (f *fixture) flush() {
	before := f.bus.countTaskEndsForStage(-1)
	marker := sspark.NewResultTask(-1, 0, nil, nil, 0, nil, -1, 0, 0, false)
	f.s.TaskEnded(marker, sspark.Success{}, nil, nil, &sspark.TaskInfo{})
	require.Eventually(f.t, func() bool {
		return f.bus.countTaskEndsForStage(-1) > before
	}, 5*time.Second, time.Millisecond)
}

// eventually retries cond until the deadline; used where a timer, not
// the queue, drives progress
func (f *fixture) eventually(cond func() bool) {
	require.Eventually(f.t, cond, 5*time.Second, 2*time.Millisecond)
}

// completeShuffleMapTasks succeeds every task of a map-stage task set,
// placing each output on its own executor
func (f *fixture) completeShuffleMapTasks(ts *sspark.TaskSet, execPrefix string, reducePartitions int) {
	for _, task := range ts.Tasks {
		smt := task.(*sspark.ShuffleMapTask)
		f.completeShuffleMapTask(smt, fmt.Sprintf("%s-%d", execPrefix, smt.PartitionID()), reducePartitions)
	}
}

func (f *fixture) completeShuffleMapTask(smt *sspark.ShuffleMapTask, executorID string, reducePartitions int) {
	status := &sspark.MapStatus{
		Location: sspark.BlockManagerID{ExecutorID: executorID, Host: "host-" + executorID},
		MapID:    smt.PartitionID(),
		Sizes:    make([]int64, reducePartitions),
	}
	f.s.TaskEnded(smt, sspark.Success{}, status, nil, &sspark.TaskInfo{ExecutorID: executorID, Attempt: 0})
}

// completeResultTasks succeeds every task of a result task set with a
// per-partition result value
func (f *fixture) completeResultTasks(ts *sspark.TaskSet) {
	for _, task := range ts.Tasks {
		rt := task.(*sspark.ResultTask)
		f.s.TaskEnded(rt, sspark.Success{}, fmt.Sprintf("result-%d", rt.PartitionID()), nil, &sspark.TaskInfo{Attempt: 0})
	}
}

func sourceDataset(name string, numPartitions int, opts ...sspark.DatasetOption) *sspark.Dataset {
	return sspark.NewDataset(name, numPartitions, nil, opts...)
}

func shuffledDataset(name string, parent *sspark.Dataset, numPartitions int, opts ...sspark.DatasetOption) (*sspark.Dataset, *sspark.ShuffleDependency) {
	dep := sspark.NewShuffleDependency(parent, sspark.NewHashPartitioner(numPartitions))
	return sspark.NewDataset(name, numPartitions, []sspark.Dependency{dep}, opts...), dep
}

func narrowDataset(name string, parent *sspark.Dataset, opts ...sspark.DatasetOption) *sspark.Dataset {
	deps := []sspark.Dependency{sspark.NewOneToOneDependency(parent)}
	return sspark.NewDataset(name, parent.NumPartitions(), deps, opts...)
}

func noopResultFunc(partition int) (interface{}, error) {
	return partition, nil
}

// resultCollector records delivered per-output results
type resultCollector struct {
	mu      sync.Mutex
	results map[int]interface{}
}

func newResultCollector() *resultCollector {
	return &resultCollector{results: make(map[int]interface{})}
}

func (c *resultCollector) handler(index int, result interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results[index] = result
	return nil
}

func (c *resultCollector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.results)
}
