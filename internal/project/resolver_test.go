package project

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bao243092078-crypto/memory-anchor/internal/config"
)

func writeLocalConfig(t *testing.T, dir, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, projectLocalFile), []byte(content), 0o600))
}

func TestResolveEnvOverrideWinsOverFile(t *testing.T) {
	dir := t.TempDir()
	writeLocalConfig(t, dir, `{"project_id": "from-file"}`)
	t.Setenv(EnvProjectID, "from-env")

	cfg := Resolve(config.DefaultConfig(), dir)
	assert.Equal(t, "from-env", cfg.ProjectID)
}

func TestResolveProjectLocalFileShadowsDefaults(t *testing.T) {
	dir := t.TempDir()
	writeLocalConfig(t, dir, `{"project_id": "acme", "vector_dim": 768, "min_search_score": 0.5}`)
	t.Setenv(EnvProjectID, "")
	t.Setenv(globalFileEnv, filepath.Join(dir, "missing-global.json"))

	base := config.DefaultConfig()
	cfg := Resolve(base, dir)
	assert.Equal(t, "acme", cfg.ProjectID)
	assert.Equal(t, 768, cfg.VectorDim)
	assert.Equal(t, 0.5, cfg.MinSearchScore)
	// Fields the file doesn't name keep the base value; levels shadow, they
	// never merge with each other.
	assert.Equal(t, base.SessionExpireHours, cfg.SessionExpireHours)
}

func TestResolveFallsBackToDefaultProject(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(EnvProjectID, "")
	t.Setenv(globalFileEnv, filepath.Join(dir, "missing-global.json"))

	cfg := Resolve(config.DefaultConfig(), dir)
	assert.Equal(t, "default", cfg.ProjectID)
}

func TestResolveIgnoresMalformedFile(t *testing.T) {
	dir := t.TempDir()
	writeLocalConfig(t, dir, `{not json`)
	t.Setenv(EnvProjectID, "")
	t.Setenv(globalFileEnv, filepath.Join(dir, "missing-global.json"))

	cfg := Resolve(config.DefaultConfig(), dir)
	assert.Equal(t, "default", cfg.ProjectID)
}

func TestCollectionNameIsStable(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.ProjectID = "acme"
	assert.Equal(t, "memory_anchor_notes_acme", cfg.CollectionName())
}
