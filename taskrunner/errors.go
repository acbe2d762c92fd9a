package taskrunner

import "fmt"

// TaskExecutionFailedError wraps an error surfaced from a task body (spec
// §7): it aborts the current build and propagates to every requester
// awaiting this project's output, but never corrupts the on-disk cache of
// tasks that already completed and wrote their output.
type TaskExecutionFailedError struct {
	Task string
	Err  error
}

func (e *TaskExecutionFailedError) Error() string {
	return fmt.Sprintf("taskrunner: task %q failed: %v", e.Task, e.Err)
}

func (e *TaskExecutionFailedError) Unwrap() error { return e.Err }

// BuildAbortedError is returned when the runner observes cancellation
// between tasks (spec §5 cooperative cancellation).
type BuildAbortedError struct {
	// CompletedTasks lists the tasks that ran to completion before the
	// abort was observed.
	CompletedTasks []string
}

func (e *BuildAbortedError) Error() string {
	return fmt.Sprintf("taskrunner: build aborted after %d task(s)", len(e.CompletedTasks))
}
