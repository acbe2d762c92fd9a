package resource

import (
	"encoding/json"
	"fmt"
)

// RequestType distinguishes the four shapes a task's resource request can
// take.
type RequestType int

const (
	// PathRequest names a single virtual path on the project side.
	PathRequest RequestType = iota
	// PatternsRequest names an ordered set of glob patterns on the project
	// side.
	PatternsRequest
	// DepPathRequest names a single virtual path on the dependency side.
	DepPathRequest
	// DepPatternsRequest names an ordered set of glob patterns on the
	// dependency side.
	DepPatternsRequest
)

func (t RequestType) String() string {
	switch t {
	case PathRequest:
		return "path"
	case PatternsRequest:
		return "patterns"
	case DepPathRequest:
		return "dep-path"
	case DepPatternsRequest:
		return "dep-patterns"
	default:
		return fmt.Sprintf("unknown(%d)", int(t))
	}
}

// ParseRequestType parses the string form produced by RequestType.String.
func ParseRequestType(s string) (RequestType, bool) {
	switch s {
	case "path":
		return PathRequest, true
	case "patterns":
		return PatternsRequest, true
	case "dep-path":
		return DepPathRequest, true
	case "dep-patterns":
		return DepPatternsRequest, true
	default:
		return 0, false
	}
}

func (t RequestType) isPattern() bool {
	return t == PatternsRequest || t == DepPatternsRequest
}

// Request is a single tagged resource request a task issued.
type Request struct {
	Type     RequestType
	Path     string   // set when Type is PathRequest or DepPathRequest
	Patterns []string // set when Type is PatternsRequest or DepPatternsRequest
}

// NewPathRequest builds a path request.
func NewPathRequest(path string) Request {
	return Request{Type: PathRequest, Path: path}
}

// NewPatternsRequest builds a patterns request.
func NewPatternsRequest(patterns []string) Request {
	return Request{Type: PatternsRequest, Patterns: patterns}
}

// NewDepPathRequest builds a dependency-side path request.
func NewDepPathRequest(path string) Request {
	return Request{Type: DepPathRequest, Path: path}
}

// NewDepPatternsRequest builds a dependency-side patterns request.
func NewDepPatternsRequest(patterns []string) Request {
	return Request{Type: DepPatternsRequest, Patterns: patterns}
}

// Key returns the canonical serialisation used as this request's identity:
// "<type>:<value>" for path types, "<type>:<JSON array>" for pattern types.
func (r Request) Key() string {
	if r.Type.isPattern() {
		b, err := json.Marshal(r.Patterns)
		if err != nil {
			// Patterns are always []string; Marshal cannot fail here.
			panic(err)
		}
		return r.Type.String() + ":" + string(b)
	}
	return r.Type.String() + ":" + r.Path
}

// Equal reports whether two requests are identical component-wise.
func (r Request) Equal(other Request) bool {
	if r.Type != other.Type {
		return false
	}
	if r.Type.isPattern() {
		if len(r.Patterns) != len(other.Patterns) {
			return false
		}
		for i, p := range r.Patterns {
			if p != other.Patterns[i] {
				return false
			}
		}
		return true
	}
	return r.Path == other.Path
}

// IsDependencySide reports whether this request targets the dependency
// reader rather than the project reader.
func (r Request) IsDependencySide() bool {
	return r.Type == DepPathRequest || r.Type == DepPatternsRequest
}

// Recording is the raw shape a MonitoredReader accumulates during one task
// execution, before it is converted into an ordered []Request.
type Recording struct {
	Paths    []string
	Patterns [][]string
}

// ToRequests converts a recording into an ordered list of Requests, paths
// first (in call order) then pattern groups (in call order). depSide tags
// every produced request as dependency-side when true.
func (rec Recording) ToRequests(depSide bool) []Request {
	out := make([]Request, 0, len(rec.Paths)+len(rec.Patterns))
	for _, p := range rec.Paths {
		if depSide {
			out = append(out, NewDepPathRequest(p))
		} else {
			out = append(out, NewPathRequest(p))
		}
	}
	for _, ps := range rec.Patterns {
		if depSide {
			out = append(out, NewDepPatternsRequest(ps))
		} else {
			out = append(out, NewPatternsRequest(ps))
		}
	}
	return out
}
