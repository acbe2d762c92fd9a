package resource

import "path"

// MatchGlob reports whether p matches pattern. Matching is segment-wise:
// "*"/"?"/"[...]" are resolved per path.Match within one segment, and "**"
// matches zero or more whole segments. This always behaves as "dot:true"
// — a leading dot in a path segment is never treated specially, since
// path.Match itself has no such concept (spec §9's flagged ambiguity,
// resolved in favour of matching dotfiles).
//
// Shared by reqmanager (matching a changed path against a request set's
// patterns) and any Reader implementation that resolves glob requests
// against its namespace, so both sides of "did this glob match" agree.
func MatchGlob(pattern, p string) bool {
	patSegs := splitClean(pattern)
	pathSegs := splitClean(p)
	return matchSegments(patSegs, pathSegs)
}

func splitClean(p string) []string {
	var segs []string
	start := 0
	for i := 0; i < len(p); i++ {
		if p[i] == '/' {
			if i > start {
				segs = append(segs, p[start:i])
			}
			start = i + 1
		}
	}
	if start < len(p) {
		segs = append(segs, p[start:])
	}
	return segs
}

func matchSegments(pat, p []string) bool {
	if len(pat) == 0 {
		return len(p) == 0
	}
	if pat[0] == "**" {
		if matchSegments(pat[1:], p) {
			return true
		}
		if len(p) > 0 && matchSegments(pat, p[1:]) {
			return true
		}
		return false
	}
	if len(p) == 0 {
		return false
	}
	ok, err := path.Match(pat[0], p[0])
	if err != nil || !ok {
		return false
	}
	return matchSegments(pat[1:], p[1:])
}

// MatchAny reports whether p matches any of patterns.
func MatchAny(patterns []string, p string) bool {
	for _, pat := range patterns {
		if MatchGlob(pat, p) {
			return true
		}
	}
	return false
}
