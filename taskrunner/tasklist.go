package taskrunner

import (
	"errors"
	"fmt"
)

// ProjectType selects which standard task list a project's build composes
// (spec §4.8).
type ProjectType string

const (
	Application  ProjectType = "application"
	Library      ProjectType = "library"
	Component    ProjectType = "component"
	Module       ProjectType = "module"
	ThemeLibrary ProjectType = "theme-library"
)

// standardTaskLists gives each project type its ordered sequence of
// standard task names. The tasks themselves (minifier, bundler, theme
// compiler, JSDoc, ...) are external collaborators named only by the
// interface the core consumes (spec §1); only their relative order is
// this package's concern.
var standardTaskLists = map[ProjectType][]string{
	Application:  {"clean", "compile", "bundle", "minify", "package"},
	Library:      {"clean", "compile", "bundle", "package"},
	Component:    {"clean", "compile", "theme-compile", "package"},
	Module:       {"clean", "compile", "package"},
	ThemeLibrary: {"clean", "theme-compile", "package"},
}

// ErrUnknownProjectType is returned for a ProjectType with no standard
// task list.
var ErrUnknownProjectType = errors.New("taskrunner: unknown project type")

// StandardTasks returns the standard task name sequence for pt.
func StandardTasks(pt ProjectType) ([]string, error) {
	tasks, ok := standardTaskLists[pt]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProjectType, pt)
	}
	return append([]string(nil), tasks...), nil
}

// CustomTask names a task a project inserts into the standard sequence,
// anchored relative to an existing (standard or previously-inserted
// custom) task name. Exactly one of BeforeTask/AfterTask may be set; both
// empty is only valid when the standard sequence is non-empty (the task is
// appended at the end).
type CustomTask struct {
	Name       string
	Params     map[string]any
	BeforeTask string
	AfterTask  string
}

// ErrBothAnchorsSet is returned when a CustomTask names both BeforeTask and
// AfterTask — an ambiguous insertion point (spec §4.8).
var ErrBothAnchorsSet = errors.New("taskrunner: custom task names both beforeTask and afterTask")

// ErrNoAnchor is returned when a CustomTask names neither anchor and the
// standard task list is empty, so there is no well-defined append point.
var ErrNoAnchor = errors.New("taskrunner: custom task names no anchor and the standard task list is empty")

// ErrUnknownAnchor is returned when a CustomTask's anchor does not name any
// task already placed in the composed list.
var ErrUnknownAnchor = errors.New("taskrunner: custom task names an anchor task that does not exist")

// TaskDef is one entry of a composed task list: its final (possibly
// suffixed) name, and the params the task body receives.
type TaskDef struct {
	Name   string
	Params map[string]any
}

// ComposeTaskList splices custom tasks into the standard sequence for pt,
// in the order given: each custom task is inserted immediately
// before/after its anchor, or appended at the end if it names neither
// anchor. A name collision (the custom task's own name, or its suffixed
// name, already placed) is resolved by appending a numeric "--N" suffix,
// N starting at 2 and incrementing until unique (spec §4.8).
func ComposeTaskList(pt ProjectType, custom []CustomTask) ([]TaskDef, error) {
	standard, err := StandardTasks(pt)
	if err != nil {
		return nil, err
	}

	list := make([]TaskDef, 0, len(standard)+len(custom))
	for _, name := range standard {
		list = append(list, TaskDef{Name: name})
	}

	for _, ct := range custom {
		if ct.BeforeTask != "" && ct.AfterTask != "" {
			return nil, fmt.Errorf("%w: %s", ErrBothAnchorsSet, ct.Name)
		}
		if ct.BeforeTask == "" && ct.AfterTask == "" && len(list) == 0 {
			return nil, fmt.Errorf("%w: %s", ErrNoAnchor, ct.Name)
		}

		name := uniqueName(list, ct.Name)
		entry := TaskDef{Name: name, Params: ct.Params}

		switch {
		case ct.BeforeTask != "":
			idx, ok := indexOf(list, ct.BeforeTask)
			if !ok {
				return nil, fmt.Errorf("%w: %s (before %s)", ErrUnknownAnchor, ct.Name, ct.BeforeTask)
			}
			list = insertAt(list, idx, entry)
		case ct.AfterTask != "":
			idx, ok := indexOf(list, ct.AfterTask)
			if !ok {
				return nil, fmt.Errorf("%w: %s (after %s)", ErrUnknownAnchor, ct.Name, ct.AfterTask)
			}
			list = insertAt(list, idx+1, entry)
		default:
			list = append(list, entry)
		}
	}

	return list, nil
}

func indexOf(list []TaskDef, name string) (int, bool) {
	for i, t := range list {
		if t.Name == name {
			return i, true
		}
	}
	return 0, false
}

func insertAt(list []TaskDef, idx int, entry TaskDef) []TaskDef {
	out := make([]TaskDef, 0, len(list)+1)
	out = append(out, list[:idx]...)
	out = append(out, entry)
	out = append(out, list[idx:]...)
	return out
}

func uniqueName(list []TaskDef, name string) string {
	if _, ok := indexOf(list, name); !ok {
		return name
	}
	for n := 2; ; n++ {
		candidate := fmt.Sprintf("%s--%d", name, n)
		if _, ok := indexOf(list, candidate); !ok {
			return candidate
		}
	}
}
