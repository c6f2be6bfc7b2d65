// Package driver wires a DAG scheduler to its collaborators and
// exposes the user-facing job submission surface.
package driver

import (
	"context"
	"time"

	sspark "github.com/arcs-skku/SSpark"
	"github.com/arcs-skku/SSpark/accumulators"
	"github.com/arcs-skku/SSpark/internal/dag"
	"github.com/arcs-skku/SSpark/internal/maptracker"
	"github.com/arcs-skku/SSpark/stats"
	log "github.com/sirupsen/logrus"
)

// Driver owns one scheduler and its default collaborators
type Driver struct {
	scheduler    *dag.Scheduler
	tracker      sspark.MapOutputTracker
	bus          *Bus
	accumulators *accumulators.Registry
}

type driverOptions struct {
	conf              *dag.Config
	tracker           sspark.MapOutputTracker
	blockManager      sspark.BlockManagerMaster
	commitCoordinator sspark.OutputCommitCoordinator
	observer          stats.Observer
}

// Option allows configuration of a Driver
type Option func(*driverOptions)

// WithConfig overrides the environment-loaded scheduler configuration
func WithConfig(conf *dag.Config) Option {
	return func(o *driverOptions) {
		o.conf = conf
	}
}

// WithMapOutputTracker replaces the in-memory map-output tracker
func WithMapOutputTracker(tracker sspark.MapOutputTracker) Option {
	return func(o *driverOptions) {
		o.tracker = tracker
	}
}

// WithBlockManager attaches a block manager master for cache-location
// lookups
func WithBlockManager(blockManager sspark.BlockManagerMaster) Option {
	return func(o *driverOptions) {
		o.blockManager = blockManager
	}
}

// WithCommitCoordinator replaces the default commit coordinator
func WithCommitCoordinator(coordinator sspark.OutputCommitCoordinator) Option {
	return func(o *driverOptions) {
		o.commitCoordinator = coordinator
	}
}

// WithObserver attaches a stage lifecycle observer
func WithObserver(observer stats.Observer) Option {
	return func(o *driverOptions) {
		o.observer = observer
	}
}

// NewDriver creates a Driver around the given task scheduler,
// defaulting every other collaborator to an in-process implementation
func NewDriver(taskScheduler sspark.TaskScheduler, options ...Option) *Driver {
	opts := &driverOptions{}
	for _, f := range options {
		f(opts)
	}
	if opts.conf == nil {
		opts.conf = newConfig()
		log.Debugf("Loaded config: %#v", opts.conf)
	}
	if opts.tracker == nil {
		opts.tracker = maptracker.NewMaster()
	}
	if opts.blockManager == nil {
		opts.blockManager = noopBlockManager{}
	}
	if opts.commitCoordinator == nil {
		opts.commitCoordinator = noopCommitCoordinator{}
	}
	bus := NewBus()
	accums := accumulators.NewRegistry()
	schedOpts := []dag.Option{dag.WithAccumulators(accums)}
	if opts.observer != nil {
		schedOpts = append(schedOpts, dag.WithObserver(opts.observer))
	}
	scheduler := dag.NewScheduler(opts.conf, taskScheduler, opts.tracker,
		opts.blockManager, opts.commitCoordinator, bus, schedOpts...)
	return &Driver{
		scheduler:    scheduler,
		tracker:      opts.tracker,
		bus:          bus,
		accumulators: accums,
	}
}

// Scheduler exposes the underlying DAG scheduler
func (d *Driver) Scheduler() *dag.Scheduler {
	return d.scheduler
}

// Bus exposes the driver's listener bus
func (d *Driver) Bus() *Bus {
	return d.bus
}

// Accumulators exposes the driver-side accumulator registry
func (d *Driver) Accumulators() *accumulators.Registry {
	return d.accumulators
}

// RunJob computes the given partitions of rdd and blocks until the job
// terminates, delivering each partition's result to handler
func (d *Driver) RunJob(ctx context.Context, rdd *sspark.Dataset, fn sspark.ResultFunc, partitions []int,
	callSite string, handler dag.ResultHandler, properties map[string]string) error {
	return d.scheduler.RunJob(ctx, rdd, fn, partitions, callSite, handler, properties)
}

// SubmitJob submits a job and returns its waiter
func (d *Driver) SubmitJob(rdd *sspark.Dataset, fn sspark.ResultFunc, partitions []int,
	callSite string, handler dag.ResultHandler, properties map[string]string) (*dag.JobWaiter, error) {
	return d.scheduler.SubmitJob(rdd, fn, partitions, callSite, handler, properties)
}

// RunApproximateJob runs a job against an approximate evaluator with a
// deadline
func (d *Driver) RunApproximateJob(ctx context.Context, rdd *sspark.Dataset, fn sspark.ResultFunc,
	evaluator dag.ApproximateEvaluator, callSite string, timeout time.Duration, properties map[string]string) (interface{}, error) {
	return d.scheduler.RunApproximateJob(ctx, rdd, fn, evaluator, callSite, timeout, properties)
}

// SubmitMapStage materializes a shuffle map stage standalone
func (d *Driver) SubmitMapStage(dep *sspark.ShuffleDependency, callback func(*sspark.MapOutputStatistics),
	callSite string, properties map[string]string) (*dag.JobWaiter, error) {
	return d.scheduler.SubmitMapStage(dep, callback, callSite, properties)
}

// CancelJob cancels one job
func (d *Driver) CancelJob(jobID int, reason string) {
	d.scheduler.CancelJob(jobID, reason)
}

// CancelJobGroup cancels every job carrying the group property
func (d *Driver) CancelJobGroup(groupID string) {
	d.scheduler.CancelJobGroup(groupID)
}

// CancelAllJobs cancels every active job
func (d *Driver) CancelAllJobs() {
	d.scheduler.CancelAllJobs()
}

// CancelStage cancels every job containing a stage
func (d *Driver) CancelStage(stageID int, reason string) {
	d.scheduler.CancelStage(stageID, reason)
}

// Stop shuts the scheduler down, failing active jobs
func (d *Driver) Stop() {
	d.scheduler.Stop()
}

// noopBlockManager is the default block manager master: nothing is
// ever cached.
type noopBlockManager struct{}

func (noopBlockManager) GetLocations(blockIDs []string) [][]sspark.BlockManagerID {
	return make([][]sspark.BlockManagerID, len(blockIDs))
}

func (noopBlockManager) RemoveExecutor(executorID string) {}

// noopCommitCoordinator authorizes every commit implicitly
type noopCommitCoordinator struct{}

func (noopCommitCoordinator) StageStart(stageID, maxPartitionID int) {}
func (noopCommitCoordinator) StageEnd(stageID int)                   {}
func (noopCommitCoordinator) TaskCompleted(stageID, stageAttemptID, partitionID, attemptNumber int, reason sspark.TaskEndReason) {
}
