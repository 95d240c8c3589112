package retry

import (
	"time"

	"github.com/herdctl/herd/pkg/types"
)

// Outcome classifies the result of one task execution.
type Outcome string

const (
	// Success means every command exited zero and none timed out.
	Success Outcome = "success"
	// TransientFailure covers non-zero exits and timeouts. The task goes
	// back through the retry path; it is never fatal on its own.
	TransientFailure Outcome = "transient_failure"
)

// Classify maps an exit status and timeout flag to an outcome. Only the
// instance's stop signal can fail a task without retrying; exit codes
// never do.
func Classify(exitStatus int, timedOut bool) Outcome {
	if exitStatus == 0 && !timedOut {
		return Success
	}
	return TransientFailure
}

// ShouldBackoff reports whether a task with the given retry count must
// sleep before its next attempt, and for how long. The count is the
// number of failed attempts so far; every N-th failure backs off.
func ShouldBackoff(policy types.RetryPolicy, retryCount int) (bool, time.Duration) {
	if policy.MaxRetryBeforeBackoff <= 0 {
		return false, 0
	}
	if retryCount > 0 && retryCount%policy.MaxRetryBeforeBackoff == 0 {
		return true, time.Duration(policy.BackoffDuration) * time.Second
	}
	return false, 0
}

// Ready reports whether a pending task may be admitted at now, honoring
// any backoff window recorded on it.
func Ready(task *types.Task, now time.Time) bool {
	if task.State != types.TaskStatePending {
		return false
	}
	if !task.BackoffUntil.IsZero() && now.Before(task.BackoffUntil) {
		return false
	}
	return true
}
