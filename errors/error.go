package errors

import (
	"fmt"
)

// PartitionOutOfRangeError occurs when a job is submitted over a
// partition index the final Dataset does not have
type PartitionOutOfRangeError struct {
	Partition     int
	NumPartitions int
}

// Error returns a textual representation of this PartitionOutOfRangeError
func (e PartitionOutOfRangeError) Error() string {
	return fmt.Sprintf("Attempting to access a non-existent partition: %d. Total number of partitions: %d", e.Partition, e.NumPartitions)
}

// EmptyMapStageError occurs when a map stage is submitted over a
// Dataset with no partitions
type EmptyMapStageError struct{}

// Error returns a textual representation of this EmptyMapStageError
func (e EmptyMapStageError) Error() string {
	return "Cannot submit a map stage over a dataset with 0 partitions"
}

// BarrierIncompatibleError occurs when a barrier stage fails admission
// checks at stage creation
type BarrierIncompatibleError struct {
	Reason string
}

// Error returns a textual representation of this BarrierIncompatibleError
func (e BarrierIncompatibleError) Error() string {
	return fmt.Sprintf("Barrier stage rejected: %s", e.Reason)
}

// BarrierSlotsError occurs when a barrier stage requires more
// simultaneous tasks than the cluster currently has slots for. The
// scheduler retries admission for a bounded number of checks.
type BarrierSlotsError struct {
	RequiredSlots int
	MaxSlots      int
}

// Error returns a textual representation of this BarrierSlotsError
func (e BarrierSlotsError) Error() string {
	return fmt.Sprintf("Barrier stage requires %d slots but only %d are available", e.RequiredSlots, e.MaxSlots)
}

// StageAbortedError occurs when a stage is terminally failed, taking
// every job depending on it down with it
type StageAbortedError struct {
	StageID int
	Message string
	Cause   error
}

// Error returns a textual representation of this StageAbortedError
func (e *StageAbortedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("Job aborted due to stage failure: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("Job aborted due to stage failure: %s", e.Message)
}

// Unwrap exposes the underlying cause of this StageAbortedError
func (e *StageAbortedError) Unwrap() error {
	return e.Cause
}

// JobCancelledError occurs when a job is cancelled through the public
// cancellation surface
type JobCancelledError struct {
	JobID  int
	Reason string
}

// Error returns a textual representation of this JobCancelledError
func (e JobCancelledError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("Job %d cancelled", e.JobID)
	}
	return fmt.Sprintf("Job %d cancelled %s", e.JobID, e.Reason)
}

// TaskNotSerializableError occurs when a stage's task closure cannot
// be serialized for broadcast
type TaskNotSerializableError struct {
	Cause error
}

// Error returns a textual representation of this TaskNotSerializableError
func (e *TaskNotSerializableError) Error() string {
	return fmt.Sprintf("Task not serializable: %v", e.Cause)
}

// Unwrap exposes the underlying cause of this TaskNotSerializableError
func (e *TaskNotSerializableError) Unwrap() error {
	return e.Cause
}

// DriverExecutionError occurs when a job listener fails while
// consuming a delivered result
type DriverExecutionError struct {
	Cause error
}

// Error returns a textual representation of this DriverExecutionError
func (e *DriverExecutionError) Error() string {
	return fmt.Sprintf("Execution error on the driver: %v", e.Cause)
}

// Unwrap exposes the underlying cause of this DriverExecutionError
func (e *DriverExecutionError) Unwrap() error {
	return e.Cause
}

// SchedulerStoppedError occurs when jobs are failed because the
// scheduler is shutting down
type SchedulerStoppedError struct{}

// Error returns a textual representation of this SchedulerStoppedError
func (e SchedulerStoppedError) Error() string {
	return "Job cancelled because the scheduler was shut down"
}

// ApproximateTimeoutError occurs when an approximate job reaches its
// deadline before all partitions finish; partial results remain valid
type ApproximateTimeoutError struct {
	Finished int
	Total    int
}

// Error returns a textual representation of this ApproximateTimeoutError
func (e ApproximateTimeoutError) Error() string {
	return fmt.Sprintf("Approximate job timed out with %d/%d partitions finished", e.Finished, e.Total)
}
