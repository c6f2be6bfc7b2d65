package driver

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	sspark "github.com/arcs-skku/SSpark"
	"github.com/arcs-skku/SSpark/internal/dag"
	"github.com/arcs-skku/SSpark/stats"
	"github.com/stretchr/testify/require"
)

// inlineTaskScheduler runs every submitted task immediately, standing
// in for a cluster of executors
type inlineTaskScheduler struct {
	mu        sync.Mutex
	callbacks sspark.DAGSchedulerCallbacks
	submitted int
}

func (s *inlineTaskScheduler) SubmitTasks(taskSet *sspark.TaskSet) {
	s.mu.Lock()
	s.submitted += len(taskSet.Tasks)
	callbacks := s.callbacks
	s.mu.Unlock()
	go func() {
		for _, task := range taskSet.Tasks {
			executorID := fmt.Sprintf("exec-%d-%d", task.StageID(), task.PartitionID())
			info := &sspark.TaskInfo{ExecutorID: executorID, Host: "host-" + executorID, LaunchTime: time.Now()}
			callbacks.TaskStarted(task, info)
			switch t := task.(type) {
			case *sspark.ShuffleMapTask:
				status := &sspark.MapStatus{
					Location: sspark.BlockManagerID{ExecutorID: executorID, Host: "host-" + executorID},
					MapID:    t.PartitionID(),
					Sizes:    make([]int64, t.Dep().NumPartitions()),
				}
				callbacks.TaskEnded(t, sspark.Success{}, status, nil, info)
			case *sspark.ResultTask:
				result, err := t.Func()(t.PartitionID())
				if err != nil {
					callbacks.TaskEnded(t, &sspark.ExceptionFailure{Message: err.Error()}, nil, nil, info)
					continue
				}
				callbacks.TaskEnded(t, sspark.Success{}, result, nil, info)
			}
		}
	}()
}

func (s *inlineTaskScheduler) CancelTasks(stageID int, interruptThread bool) error { return nil }
func (s *inlineTaskScheduler) KillAllTaskAttempts(stageID int, interruptThread bool, reason string) error {
	return nil
}
func (s *inlineTaskScheduler) KillTaskAttempt(taskID int64, interruptThread bool, reason string) (bool, error) {
	return false, nil
}
func (s *inlineTaskScheduler) MaxConcurrentTasks() int { return 1000 }
func (s *inlineTaskScheduler) SetDAGScheduler(d sspark.DAGSchedulerCallbacks) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callbacks = d
}

func TestDriverRunsJobEndToEnd(t *testing.T) {
	observer := stats.NewRunStatistics()
	d := NewDriver(&inlineTaskScheduler{}, WithConfig(dag.DefaultConfig()), WithObserver(observer))
	defer d.Stop()

	ds0 := sspark.NewDataset("numbers", 4, nil)
	dep := sspark.NewShuffleDependency(ds0, sspark.NewHashPartitioner(4))
	ds1 := sspark.NewDataset("grouped", 4, []sspark.Dependency{dep})

	var mu sync.Mutex
	results := make(map[int]interface{})
	err := d.RunJob(context.Background(), ds1, func(partition int) (interface{}, error) {
		return partition * 10, nil
	}, []int{0, 1, 2, 3}, "collect at TestDriverRunsJobEndToEnd", func(index int, result interface{}) error {
		mu.Lock()
		defer mu.Unlock()
		results[index] = result
		return nil
	}, nil)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, results, 4)
	require.Equal(t, 20, results[2])
	require.Greater(t, observer.TasksLaunched(), 0)
}

func TestDriverListenerBusSeesJobLifecycle(t *testing.T) {
	d := NewDriver(&inlineTaskScheduler{}, WithConfig(dag.DefaultConfig()))
	defer d.Stop()

	var mu sync.Mutex
	var starts, ends int
	d.Bus().AddListener(func(ev sspark.ListenerEvent) {
		mu.Lock()
		defer mu.Unlock()
		switch ev.(type) {
		case *sspark.JobStartEvent:
			starts++
		case *sspark.JobEndEvent:
			ends++
		}
	})

	ds := sspark.NewDataset("ds", 2, nil)
	err := d.RunJob(context.Background(), ds, func(p int) (interface{}, error) { return p, nil },
		[]int{0, 1}, "collect", nil, nil)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 1, starts)
	require.Equal(t, 1, ends)
}

func TestDriverSubmitMapStage(t *testing.T) {
	d := NewDriver(&inlineTaskScheduler{}, WithConfig(dag.DefaultConfig()))
	defer d.Stop()

	ds0 := sspark.NewDataset("maps", 3, nil)
	dep := sspark.NewShuffleDependency(ds0, sspark.NewHashPartitioner(2))
	var mu sync.Mutex
	var got *sspark.MapOutputStatistics
	waiter, err := d.SubmitMapStage(dep, func(stats *sspark.MapOutputStatistics) {
		mu.Lock()
		defer mu.Unlock()
		got = stats
	}, "map stage", nil)
	require.NoError(t, err)
	require.NoError(t, waiter.Wait(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	require.NotNil(t, got)
	require.Len(t, got.BytesByPartition, 2)
}

func TestConfigDefaults(t *testing.T) {
	conf := newConfig()
	require.Equal(t, 4, conf.MaxConsecutiveStageAttempts)
	require.False(t, conf.UnregisterOutputOnHostOnFetchFailure)
	require.False(t, conf.ExternalShuffleServiceEnabled)
	require.False(t, conf.DynamicAllocationEnabled)
	require.Equal(t, 15*time.Second, conf.BarrierMaxConcurrentTasksCheckInterval)
	require.Equal(t, 40, conf.BarrierMaxConcurrentTasksCheckMaxFailures)
	require.Equal(t, 200*time.Millisecond, conf.ResubmitTimeout)
	require.False(t, conf.TestNoStageRetry)
}
