package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg, err := Open("")
	require.NoError(t, err)

	assert.Equal(t, 35000, cfg.Internal.ListenPort)
	assert.Equal(t, 1024, cfg.Internal.MaxConnections)
	assert.Equal(t, 1800, cfg.Tracker.AnnounceInterval)
	assert.Equal(t, 50, cfg.Tracker.NumwantLimit)
	assert.Equal(t, 7200, cfg.Timers.PeersTimeout)
	assert.Equal(t, 1800, cfg.Timers.ReapPeersInterval)
	assert.Equal(t, 3, cfg.Timers.ScheduleInterval)
	assert.Equal(t, 86400, cfg.Timers.DelReasonLifetime)
	assert.Equal(t, "/tools.php", cfg.Gazelle.SitePath)
	assert.False(t, cfg.Debug.Readonly)
}

func TestOpenOverlaysFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "serval.conf")
	contents := `
[internal]
listen_port = 34000

[tracker]
announce_interval = 900

[mysql]
host = db.internal
port = 3306
db = gazelle
user = tracker
passwd = hunter2

[debug]
readonly = true
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	cfg, err := Open(path)
	require.NoError(t, err)

	assert.Equal(t, 34000, cfg.Internal.ListenPort)
	assert.Equal(t, 900, cfg.Tracker.AnnounceInterval)
	assert.True(t, cfg.Debug.Readonly)

	// Untouched keys keep their defaults.
	assert.Equal(t, 1024, cfg.Internal.MaxConnections)
	assert.Equal(t, 50, cfg.Tracker.NumwantLimit)

	assert.Equal(t, "tracker:hunter2@tcp(db.internal:3306)/gazelle?charset=utf8mb4,utf8", cfg.DSN())
}

func TestOpenMissingFile(t *testing.T) {
	_, err := Open("/nonexistent/serval.conf")
	assert.Error(t, err)
}
