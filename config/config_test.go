package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheDirEnvOverride(t *testing.T) {
	t.Setenv(CacheDirEnvVar, "/tmp/custom-cache")

	dir, err := CacheDir()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/custom-cache", dir)
}

func TestCacheDirDefaultsUnderUserCacheDir(t *testing.T) {
	t.Setenv(CacheDirEnvVar, "")

	dir, err := CacheDir()
	require.NoError(t, err)
	assert.Contains(t, dir, defaultCacheDirName)
}

type buildConfig struct {
	Minify    bool
	SourceMap bool
	Target    string
}

func TestMergeBuildConfigOverrideWins(t *testing.T) {
	defaults := &buildConfig{Minify: true, SourceMap: true, Target: "es2017"}
	override := &buildConfig{Target: "es2020"}

	require.NoError(t, MergeBuildConfig(defaults, override))

	assert.True(t, defaults.Minify, "unset override fields keep the default")
	assert.True(t, defaults.SourceMap, "unset override fields keep the default")
	assert.Equal(t, "es2020", defaults.Target, "an explicitly set override field wins")
}

func TestMergeBuildConfigEmptyOverride(t *testing.T) {
	defaults := &buildConfig{Minify: true, Target: "es2017"}
	override := &buildConfig{}

	require.NoError(t, MergeBuildConfig(defaults, override))

	assert.Equal(t, &buildConfig{Minify: true, Target: "es2017"}, defaults)
}
