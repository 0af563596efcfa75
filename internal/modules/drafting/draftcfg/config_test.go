package draftcfg

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsAreValid(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())

	dense := cfg.Density("dense", false)
	assert.Equal(t, 2, dense.MinPerSubparagraph)
	assert.Equal(t, 6, dense.Total(2))
	assert.Equal(t, 10, dense.Total(5))
	assert.Equal(t, cfg.Profiles["auto"].Normal, cfg.Density("bogus", false))
	assert.Equal(t, cfg.Headings["medium"], cfg.Heading(""))
}

func TestLoadOverlaysYAMLThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "draft.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
split_threshold: 4
failure_policy: all
profiles:
  sparse:
    normal: {min_per_subparagraph: 1, min_total: 1, total_per_subparagraph: 1, emphasis_floor: 1, target_paragraphs: 1}
    wide: {min_per_subparagraph: 1, min_total: 1, total_per_subparagraph: 1, emphasis_floor: 1, target_paragraphs: 1}
`), 0o600))

	t.Setenv(EnvConfigFile, path)
	t.Setenv(EnvMaxTimeoutAttempts, "8")
	t.Setenv(EnvFailurePolicy, "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.SplitThreshold)
	assert.Equal(t, FailAll, cfg.FailurePolicy)
	assert.Equal(t, 8, cfg.MaxTimeoutAttempts)
	assert.Equal(t, 1, cfg.Density("sparse", false).MinTotal)
	assert.Equal(t, 6, cfg.Density("dense", false).MinTotal, "untouched profiles keep defaults")
}

func TestLoadRejectsBadPolicy(t *testing.T) {
	t.Setenv(EnvConfigFile, "")
	t.Setenv(EnvFailurePolicy, "sometimes")
	_, err := Load()
	assert.ErrorContains(t, err, EnvFailurePolicy)
}
