package config

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "roadsense.conf")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_AppliesDefaultsThenOverrides(t *testing.T) {
	path := writeConfigFile(t, "DB_PATH=/var/lib/roadsense/store.db\nINGEST_WORKERS=8\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/roadsense/store.db", cfg.DBPath)
	assert.Equal(t, 8, cfg.IngestWorkers)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, 1000, cfg.QueryDefaultLimit)
}

func TestLoad_MissingDBPathFails(t *testing.T) {
	path := writeConfigFile(t, "HTTP_ADDR=:9090\n")

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_UnknownKeyFails(t *testing.T) {
	path := writeConfigFile(t, "DB_PATH=/tmp/x.db\nNOT_A_REAL_KEY=1\n")

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_InvalidIngestWorkersFails(t *testing.T) {
	path := writeConfigFile(t, "DB_PATH=/tmp/x.db\nINGEST_WORKERS=0\n")

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_SkipsCommentsAndBlankLines(t *testing.T) {
	path := writeConfigFile(t, "# comment\n\nDB_PATH=/tmp/x.db\n\n# another\nDETECT_EPS_M=7.5\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7.5, cfg.DetectEpsM)
}

func TestInitGlobal_OnlyAppliesFirstCall(t *testing.T) {
	globalConfig = nil
	configOnce = sync.Once{}

	first := writeConfigFile(t, "DB_PATH=/tmp/first.db\n")
	second := writeConfigFile(t, "DB_PATH=/tmp/second.db\n")

	require.NoError(t, InitGlobal(first))
	_ = InitGlobal(second)

	assert.Equal(t, "/tmp/first.db", Get().DBPath)
}
