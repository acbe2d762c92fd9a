package reqmanager

import "github.com/nimbusui/buildcache/resource"

// matchAny reports whether p matches any of patterns, per resource's
// shared "dot:true" glob semantics (spec §9).
func matchAny(patterns []string, p string) bool {
	return resource.MatchAny(patterns, p)
}
