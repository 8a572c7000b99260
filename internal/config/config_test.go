package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sshcollectorpro/netdev/pkg/netdev"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "server:\n  port: 9090\n"))
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:9090", cfg.GetServerAddr())
	assert.Equal(t, 8, cfg.Executor.Concurrent)
	assert.Equal(t, "cisco_ios", cfg.Executor.DefaultPlatform)
	assert.Equal(t, 720*time.Hour, cfg.Executor.HistoryRetention)
	assert.Equal(t, "local", cfg.Storage.Backend)
	assert.Equal(t, netdev.DefaultTiming, cfg.Timing("cisco_ios"))
	assert.NotEmpty(t, cfg.File())
	assert.Same(t, cfg, Get())
}

func TestLoad_ConcurrencyProfile(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
executor:
  concurrency_profile: concurrency-l
`))
	require.NoError(t, err)
	assert.Equal(t, 32, cfg.Executor.Concurrent)
}

func TestLoad_PlatformOverrides(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
session:
  command_timeout: 30s
platforms:
  huawei:
    paging_disable_command: "screen-length 0"
    session:
      read_window: 500ms
      idle_windows: 10
`))
	require.NoError(t, err)

	timing := cfg.Timing("huawei")
	assert.Equal(t, 500*time.Millisecond, timing.ReadWindow)
	assert.Equal(t, 10, timing.IdleWindows)
	assert.Equal(t, 30*time.Second, timing.CommandTimeout)

	// 其他平台只继承全局 session
	assert.Equal(t, netdev.DefaultTiming.ReadWindow, cfg.Timing("cisco_ios").ReadWindow)

	p, err := cfg.Profile("huawei_vrp")
	require.NoError(t, err)
	assert.Equal(t, "screen-length 0", p.PagingDisableCommand)
	assert.Nil(t, p.Paging)

	p, err = cfg.Profile("")
	require.NoError(t, err)
	assert.Equal(t, "cisco_ios", p.Name)
}

func TestLoad_InvalidOverride(t *testing.T) {
	_, err := Load(writeConfig(t, `
platforms:
  cisco_ios:
    paging_markers: "(["
`))
	assert.Error(t, err)
}

func TestLoad_UnknownPlatform(t *testing.T) {
	cfg, err := Load(writeConfig(t, "log:\n  level: debug\n"))
	require.NoError(t, err)
	_, err = cfg.Profile("no_such_os")
	assert.Error(t, err)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("NETDEV_SERVER_PORT", "7070")
	t.Setenv("MINIO_SECRET", "s3cr3t")
	cfg, err := Load(writeConfig(t, `
storage:
  minio:
    secret_key: "${MINIO_SECRET}"
`))
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "s3cr3t", cfg.Storage.Minio.SecretKey)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
