package dag

import "time"

// Config carries the recognized scheduler settings. The driver package
// loads these from the environment; tests construct them directly.
type Config struct {
	// MaxConsecutiveStageAttempts is the abort threshold for repeated
	// failures of a single stage
	MaxConsecutiveStageAttempts int
	// UnregisterOutputOnHostOnFetchFailure widens a fetch failure to
	// host-level output loss when the external shuffle service serves
	// the host's outputs
	UnregisterOutputOnHostOnFetchFailure bool
	// ExternalShuffleServiceEnabled defers shuffle-file unregistration
	// on executor-only loss until a fetch failure proves the data gone
	ExternalShuffleServiceEnabled bool
	// DynamicAllocationEnabled rejects barrier stages, which need a
	// fixed slot count
	DynamicAllocationEnabled bool
	// BarrierMaxConcurrentTasksCheckInterval is the barrier-admission
	// retry interval
	BarrierMaxConcurrentTasksCheckInterval time.Duration
	// BarrierMaxConcurrentTasksCheckMaxFailures bounds barrier-admission
	// retries before the job fails
	BarrierMaxConcurrentTasksCheckMaxFailures int
	// ResubmitTimeout debounces a burst of fetch failures into one
	// resubmission
	ResubmitTimeout time.Duration
	// TestNoStageRetry disables stage retry for deterministic tests
	TestNoStageRetry bool
}

// DefaultConfig returns the stock scheduler settings
func DefaultConfig() *Config {
	return &Config{
		MaxConsecutiveStageAttempts:               4,
		BarrierMaxConcurrentTasksCheckInterval:    15 * time.Second,
		BarrierMaxConcurrentTasksCheckMaxFailures: 40,
		ResubmitTimeout:                           200 * time.Millisecond,
	}
}
