package service

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sshcollectorpro/netdev/internal/config"
)

func TestLocalStorageWriter_Layout(t *testing.T) {
	dir := t.TempDir()
	w := NewStorageWriter(config.StorageConfig{
		Backend: BackendLocal,
		Prefix:  "transcripts",
		Local:   config.LocalConfig{BaseDir: dir, MkdirIfMissing: true},
	})
	started := time.Date(2024, 5, 1, 8, 30, 0, 0, time.UTC)

	obj, err := w.Write(context.Background(), StorageMeta{JobID: "Job-1", Device: "Core SW/1", StartTime: started}, "R1# show clock\n10:00\n")
	require.NoError(t, err)

	want := filepath.Join(dir, "transcripts", "core_sw_1", "20240501_083000", "job-1.log")
	assert.Equal(t, "file://"+want, obj.URI)
	assert.EqualValues(t, len("R1# show clock\n10:00\n"), obj.Size)
	assert.True(t, strings.HasPrefix(obj.Checksum, "sha256:"))

	data, err := os.ReadFile(want)
	require.NoError(t, err)
	assert.Equal(t, "R1# show clock\n10:00\n", string(data))
}

func TestStorageWriter_NoneBackend(t *testing.T) {
	w := NewStorageWriter(config.StorageConfig{Backend: BackendNone})
	obj, err := w.Write(context.Background(), StorageMeta{JobID: "j"}, "x")
	require.NoError(t, err)
	assert.Empty(t, obj.URI)
}

func TestStorageWriter_MinioFallsBackToLocal(t *testing.T) {
	dir := t.TempDir()
	// 缺少 host/port，MinIO 客户端不会初始化
	w := NewStorageWriter(config.StorageConfig{
		Backend: BackendMinio,
		Local:   config.LocalConfig{BaseDir: dir, MkdirIfMissing: true},
	})
	obj, err := w.Write(context.Background(), StorageMeta{JobID: "j", Host: "10.0.0.1"}, "x")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(obj.URI, "file://"+filepath.Join(dir, "10.0.0.1")))
}

func TestSlug(t *testing.T) {
	assert.Equal(t, "unknown", slug("  "))
	assert.Equal(t, "gi0_1", slug("Gi0/1"))
	assert.Equal(t, "r1.lab", slug("R1.lab"))
}
