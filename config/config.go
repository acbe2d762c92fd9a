// Package config resolves the cache root directory and merges a project's
// build configuration with its defaults (spec §6's build signature input,
// SPEC_FULL §2). Grounded on the teacher's own config discovery
// (config.Paths: an env var override checked first, falling back to a
// home-directory-relative default) and on the pack's lazydocker, which
// merges user config over hard-coded defaults with mergo rather than a
// hand-rolled reflect walk.
package config

import (
	"os"
	"path/filepath"

	"dario.cat/mergo"
)

// CacheDirEnvVar overrides the cache root directory, matching SPEC_FULL §6.
const CacheDirEnvVar = "BUILDCACHE_CACHE_DIR"

// defaultCacheDirName is the subdirectory created under the OS cache
// directory when CacheDirEnvVar is unset.
const defaultCacheDirName = "buildcache"

// CacheDir resolves the content-addressed store's root directory:
// CacheDirEnvVar if set, else "$HOME/.cache/buildcache" (or the
// platform's equivalent via os.UserCacheDir).
func CacheDir() (string, error) {
	if dir := os.Getenv(CacheDirEnvVar); dir != "" {
		return dir, nil
	}
	base, err := os.UserCacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, defaultCacheDirName), nil
}

// MergeBuildConfig merges override into defaults in place: any field
// override leaves at its zero value is filled in from defaults, any field
// override sets explicitly wins. Both arguments must be pointers to the
// same struct type. Used to resolve one project's effective build
// configuration from the standard task-list defaults plus its own
// declared overrides, the way lazydocker resolves UserConfig over
// GetDefaultConfig().
func MergeBuildConfig(defaults, override any) error {
	return mergo.Merge(defaults, override, mergo.WithOverride)
}
