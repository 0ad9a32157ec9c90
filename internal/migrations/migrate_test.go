package migrations

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLatestVersion(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"000001_init.up.sql", "000001_init.down.sql", "000012_events.up.sql", "README.md"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("--"), 0o644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "000099_dir"), 0o755))

	assert.Equal(t, int64(12), LatestVersion(dir))
	assert.Equal(t, int64(0), LatestVersion(filepath.Join(dir, "missing")))
}

func TestShippedMigrationsPresent(t *testing.T) {
	assert.Equal(t, int64(1), LatestVersion(filepath.Join("..", "..", DefaultDir)))
}

func TestRunMigrationsRequiresURL(t *testing.T) {
	assert.Error(t, RunMigrations("", DefaultDir))
}
