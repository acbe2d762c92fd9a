package projectcache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/mod/semver"
)

// schemaVersion is bumped whenever the shape of SignatureInput or the
// persisted manifest changes in a way that invalidates old build
// signatures outright.
const schemaVersion = 1

// VersionedIdentity names one dependency project or custom extension by
// identity and version, the unit spec §3's build signature composes lists
// of ("ordered project-dependency identities and versions", "ordered
// custom-extension identities and versions").
type VersionedIdentity struct {
	ID      string
	Version string
}

// SignatureInput is everything spec §3/§4.7 says the build signature is a
// hex hash of, in order: schema version, project id+version, the stable
// JSON build configuration, ordered dependency and extension identity
// lists, toolchain versions, and an optional lockfile hash.
type SignatureInput struct {
	ProjectID      string
	ProjectVersion string
	BuildConfig    any
	Dependencies   []VersionedIdentity
	Extensions     []VersionedIdentity
	ToolVersions   []string
	LockfileHash   string // optional; empty means "not tracked"
}

// ComputeSignature returns the hex SHA-256 build signature for in. Ordering
// within Dependencies/Extensions/ToolVersions is normalised here so that
// two callers supplying the same logical set in different iteration order
// (e.g. a dependency graph walked in a different order) produce an
// identical signature.
func ComputeSignature(in SignatureInput) (string, error) {
	cfgJSON, err := stableJSON(in.BuildConfig)
	if err != nil {
		return "", fmt.Errorf("projectcache: build config: %w", err)
	}

	deps := sortIdentities(in.Dependencies)
	exts := sortIdentities(in.Extensions)
	tools := sortVersions(in.ToolVersions)

	depsJSON, err := json.Marshal(deps)
	if err != nil {
		return "", err
	}
	extsJSON, err := json.Marshal(exts)
	if err != nil {
		return "", err
	}

	h := sha256.New()
	fmt.Fprintf(h, "schema:%d\n", schemaVersion)
	fmt.Fprintf(h, "project:%s@%s\n", in.ProjectID, in.ProjectVersion)
	h.Write(cfgJSON)
	h.Write([]byte{'\n'})
	h.Write(depsJSON)
	h.Write([]byte{'\n'})
	h.Write(extsJSON)
	h.Write([]byte{'\n'})
	fmt.Fprintf(h, "tools:%s\n", strings.Join(tools, ","))
	if in.LockfileHash != "" {
		fmt.Fprintf(h, "lockfile:%s\n", in.LockfileHash)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func sortIdentities(in []VersionedIdentity) []VersionedIdentity {
	out := append([]VersionedIdentity(nil), in...)
	sort.Slice(out, func(i, j int) bool {
		if out[i].ID != out[j].ID {
			return out[i].ID < out[j].ID
		}
		return out[i].Version < out[j].Version
	})
	return out
}

// sortVersions orders version strings deterministically, comparing as
// semver when every entry parses as one (golang.org/x/mod/semver requires
// a leading "v"; entries are normalised before comparison) and falling
// back to a plain lexical sort otherwise — a mixed or non-semver toolchain
// version list (e.g. a git short hash) must still produce a stable order.
func sortVersions(in []string) []string {
	out := append([]string(nil), in...)
	allSemver := true
	for _, v := range out {
		if !semver.IsValid(normaliseSemver(v)) {
			allSemver = false
			break
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if allSemver {
			return semver.Compare(normaliseSemver(out[i]), normaliseSemver(out[j])) < 0
		}
		return out[i] < out[j]
	})
	return out
}

func normaliseSemver(v string) string {
	if strings.HasPrefix(v, "v") {
		return v
	}
	return "v" + v
}

// stableJSON marshals v such that object keys are always in sorted order,
// regardless of whether v is a struct, a map, or already json.RawMessage.
// encoding/json already sorts map[string]T keys; routing v through a
// generic interface{} round-trip normalises a struct's field order to the
// same guarantee.
func stableJSON(v any) ([]byte, error) {
	if v == nil {
		return []byte("null"), nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	return json.Marshal(generic)
}
