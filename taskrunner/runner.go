// Package taskrunner implements the Task Runner (spec §4.8 / component 9):
// it composes the ordered task list for a project, then drives each task
// through prepare/execute/record against a ProjectBuildCache, with every
// reader a task sees wrapped in a MonitoredReader so its reads are
// recorded without the task body needing to cooperate.
package taskrunner

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/nimbusui/buildcache/projectcache"
	"github.com/nimbusui/buildcache/resource"
)

// Outcome classifies how one task's execution was handled, for the
// structured per-task log line spec §7/SPEC_FULL §10 calls for.
type Outcome string

const (
	OutcomeHit  Outcome = "hit"  // skipped entirely; cached output still valid
	OutcomeDiff Outcome = "diff" // re-ran differentially against a CacheInfo
	OutcomeMiss Outcome = "miss" // re-ran fully
	OutcomeFail Outcome = "fail" // task body returned an error
)

// TaskBody is the task implementation a caller supplies — concrete tasks
// (minifier, bundler, theme compiler, JSDoc, ...) are external
// collaborators named only by this interface (spec §1). info is non-nil
// only when the task is being re-run differentially.
type TaskBody func(ctx context.Context, def TaskDef, projectReader, depReader resource.Reader, info *projectcache.CacheInfo) (output []byte, supportsDiff bool, err error)

// Runner drives one project's composed task list through one build.
type Runner struct {
	project     string
	tasks       []TaskDef
	cache       *projectcache.Cache
	projectRead resource.Reader
	depRead     resource.Reader
	body        TaskBody
	log         *logrus.Entry
}

// New returns a Runner for one project build. body is invoked once per
// task that isn't skipped.
func New(project string, tasks []TaskDef, cache *projectcache.Cache, projectReader, depReader resource.Reader, body TaskBody, log *logrus.Entry) *Runner {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Runner{
		project:     project,
		tasks:       tasks,
		cache:       cache,
		projectRead: projectReader,
		depRead:     depReader,
		body:        body,
		log:         log.WithField("project", project),
	}
}

// Run executes every task in order, checking ctx between tasks for
// cooperative cancellation (spec §5). It returns the list of task names
// that completed (whether skipped or executed) before any error.
func (r *Runner) Run(ctx context.Context) ([]string, error) {
	var completed []string

	if r.depRead != nil {
		if err := r.cache.RefreshDependencyIndices(ctx, r.depRead); err != nil {
			return nil, err
		}
	}
	if err := r.cache.Validate(ctx, r.projectRead); err != nil {
		return nil, err
	}

	for _, def := range r.tasks {
		select {
		case <-ctx.Done():
			return completed, &BuildAbortedError{CompletedTasks: completed}
		default:
		}

		decision, err := r.cache.PrepareTaskExecutionAndValidateCache(ctx, def.Name)
		if err != nil {
			return completed, err
		}

		entry := r.log.WithField("task", def.Name)

		if decision.Skip {
			entry.WithField("outcome", OutcomeHit).Debug("task cache hit, skipping")
			completed = append(completed, def.Name)
			continue
		}

		outcome := OutcomeMiss
		if decision.Info != nil {
			outcome = OutcomeDiff
		}

		projectMon := NewMonitoredReader(r.projectRead)
		depMon := NewMonitoredReader(r.depRead)

		output, supportsDiff, err := r.body(ctx, def, projectMon, depMon, decision.Info)
		if err != nil {
			entry.WithField("outcome", OutcomeFail).WithError(err).Error("task failed")
			return completed, &TaskExecutionFailedError{Task: def.Name, Err: err}
		}

		var depRec *resource.Recording
		if depMon.Touched() {
			rec := depMon.Recording()
			depRec = &rec
		}

		if err := r.cache.RecordTaskResult(ctx, def.Name, projectMon.Recording(), depRec, r.projectRead, r.depRead, supportsDiff, output); err != nil {
			return completed, err
		}

		entry.WithField("outcome", outcome).Info("task executed")
		completed = append(completed, def.Name)
	}

	return completed, nil
}
