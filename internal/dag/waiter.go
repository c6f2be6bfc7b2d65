package dag

import (
	"context"
	"sync"
	"time"

	serrors "github.com/arcs-skku/SSpark/errors"
)

// ResultHandler consumes one delivered per-partition result on the
// driver. Returning an error fails the job.
type ResultHandler func(index int, result interface{}) error

// JobWaiter is the handle returned from job submission: a completion
// future plus cancellation.
type JobWaiter struct {
	scheduler  *Scheduler
	jobID      int
	totalTasks int
	handler    ResultHandler

	mu            sync.Mutex
	finishedTasks int
	completed     bool
	err           error
	done          chan struct{}
}

func newJobWaiter(scheduler *Scheduler, jobID, totalTasks int, handler ResultHandler) *JobWaiter {
	return &JobWaiter{
		scheduler:  scheduler,
		jobID:      jobID,
		totalTasks: totalTasks,
		handler:    handler,
		done:       make(chan struct{}),
	}
}

// JobID returns the id of the awaited job
func (w *JobWaiter) JobID() int {
	return w.jobID
}

// TaskSucceeded delivers one per-output result. Called on the event
// loop goroutine.
func (w *JobWaiter) TaskSucceeded(index int, result interface{}) error {
	if w.handler != nil {
		if err := w.handler(index, result); err != nil {
			return err
		}
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.finishedTasks++
	if w.finishedTasks == w.totalTasks {
		w.markDoneLocked(nil)
	}
	return nil
}

// JobFailed records the job's terminal failure
func (w *JobWaiter) JobFailed(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.markDoneLocked(err)
}

func (w *JobWaiter) markDone(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.markDoneLocked(err)
}

func (w *JobWaiter) markDoneLocked(err error) {
	if w.completed {
		return
	}
	w.completed = true
	w.err = err
	close(w.done)
}

// Cancel asks the scheduler to cancel the awaited job
func (w *JobWaiter) Cancel() {
	w.scheduler.CancelJob(w.jobID, "")
}

// Done returns a channel closed once the job terminates
func (w *JobWaiter) Done() <-chan struct{} {
	return w.done
}

// Err returns the job's terminal error, nil on success. Only valid
// after Done is closed.
func (w *JobWaiter) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

// Wait blocks until the job terminates or ctx is done
func (w *JobWaiter) Wait(ctx context.Context) error {
	select {
	case <-w.done:
		return w.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ApproximateEvaluator folds per-partition results into a result that
// is meaningful even before every partition has reported.
type ApproximateEvaluator interface {
	Merge(outputID int, result interface{})
	CurrentResult() interface{}
}

// approximateListener is the JobListener backing RunApproximateJob
type approximateListener struct {
	evaluator  ApproximateEvaluator
	totalTasks int

	mu       sync.Mutex
	finished int
	err      error
	done     chan struct{}
	closed   bool
}

func newApproximateListener(evaluator ApproximateEvaluator, totalTasks int) *approximateListener {
	return &approximateListener{
		evaluator:  evaluator,
		totalTasks: totalTasks,
		done:       make(chan struct{}),
	}
}

func (l *approximateListener) TaskSucceeded(index int, result interface{}) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.evaluator.Merge(index, result)
	l.finished++
	if l.finished == l.totalTasks && !l.closed {
		l.closed = true
		close(l.done)
	}
	return nil
}

func (l *approximateListener) JobFailed(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.closed {
		l.closed = true
		l.err = err
		close(l.done)
	}
}

// awaitResult returns the evaluator's result once the job finishes or
// the timeout elapses; a timeout yields the partial result.
func (l *approximateListener) awaitResult(ctx context.Context, timeout time.Duration) (interface{}, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	select {
	case <-l.done:
		l.mu.Lock()
		defer l.mu.Unlock()
		if l.err != nil {
			return nil, l.err
		}
		return l.evaluator.CurrentResult(), nil
	case <-deadline.C:
		l.mu.Lock()
		defer l.mu.Unlock()
		return l.evaluator.CurrentResult(), serrors.ApproximateTimeoutError{Finished: l.finished, Total: l.totalTasks}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
