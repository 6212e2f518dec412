package lifecycle

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/dlpproxy/dlpproxy/internal/config"
	"github.com/dlpproxy/dlpproxy/internal/store"
)

func newTestController(t *testing.T, configYAML string) *Controller {
	t.Helper()
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(configYAML), 0o644))

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	st, err := store.NewFromDB(db)
	require.NoError(t, err)

	return NewController(configPath, st)
}

func TestBuildServer_UsesConfiguredPort(t *testing.T) {
	c := newTestController(t, "port: 9321\n")
	cfg, err := config.LoadConfig(c.ConfigPath)
	require.NoError(t, err)

	server, err := c.buildServer(cfg)
	require.NoError(t, err)
	require.Equal(t, ":9321", server.Addr)
	require.NotNil(t, server.Handler)
}

func TestBuildServer_LoadsSeededBackends(t *testing.T) {
	c := newTestController(t, "port: 9322\n")
	cfg, err := config.LoadConfig(c.ConfigPath)
	require.NoError(t, err)

	// buildServer must not error even though only the default
	// (seeded) claude/codex backends exist yet.
	_, err = c.buildServer(cfg)
	require.NoError(t, err)
}

func TestRestart_IsNonBlockingAndCoalesces(t *testing.T) {
	c := newTestController(t, "port: 9323\n")
	c.Restart()
	c.Restart() // must not block: the channel has capacity 1 and a default case
	require.Len(t, c.restart, 1)
}

func TestWatchConfig_FileWriteRequestsRestart(t *testing.T) {
	c := newTestController(t, "port: 9324\n")
	stop := c.watchConfig()
	defer stop()

	require.NoError(t, os.WriteFile(c.ConfigPath, []byte("port: 9999\n"), 0o644))

	select {
	case <-c.restart:
	case <-time.After(2 * time.Second):
		t.Fatal("expected a restart signal after the config file changed")
	}
}

func TestStatusSnapshot_TransitionsToFailedWithPort(t *testing.T) {
	c := newTestController(t, "port: 9325\n")
	c.setFailed(9325, errors.New("bind: address already in use"))
	status, info := c.StatusSnapshot()
	require.Equal(t, StatusFailed, status)
	require.Equal(t, 9325, info.Port)
}
