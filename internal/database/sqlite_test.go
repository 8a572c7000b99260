package database

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/sshcollectorpro/netdev/internal/config"
	"github.com/sshcollectorpro/netdev/internal/model"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	gdb, err := Open(config.SQLiteConfig{Path: filepath.Join(t.TempDir(), "db", "netdev.db")})
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := gdb.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return gdb
}

func TestOpen_MigratesJobs(t *testing.T) {
	gdb := openTestDB(t)

	job := model.Job{
		ID:        "job-1",
		Host:      "10.0.0.1",
		Platform:  "cisco_ios",
		Transport: "ssh",
		Status:    model.JobStatusSuccess,
		Commands: []model.CommandLog{
			{Seq: 1, Command: "show clock", Output: "10:00", Prompt: "R1#"},
			{Seq: 2, Command: "show version", Output: "IOS", Prompt: "R1#"},
		},
	}
	require.NoError(t, gdb.Create(&job).Error)

	var got model.Job
	require.NoError(t, gdb.Preload("Commands").First(&got, "id = ?", "job-1").Error)
	assert.Equal(t, "cisco_ios", got.Platform)
	require.Len(t, got.Commands, 2)
	assert.Equal(t, "job-1", got.Commands[0].JobID)
}

func TestIsBusyError(t *testing.T) {
	assert.False(t, IsBusyError(nil))
	assert.True(t, IsBusyError(errors.New("database is locked (5) (SQLITE_BUSY)")))
	assert.False(t, IsBusyError(errors.New("no such table")))
}

func TestTransactionWithRetry(t *testing.T) {
	gdb := openTestDB(t)

	calls := 0
	err := TransactionWithRetry(gdb, func(tx *gorm.DB) error {
		calls++
		if calls == 1 {
			return errors.New("database is locked")
		}
		return tx.Create(&model.Job{ID: "job-2", Host: "h", Platform: "huawei"}).Error
	}, 3, time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)

	calls = 0
	err = WithRetry(gdb, func(*gorm.DB) error {
		calls++
		return errors.New("constraint failed")
	}, 3, time.Millisecond)
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestHealth_Global(t *testing.T) {
	require.NoError(t, InitSQLite(config.SQLiteConfig{Path: filepath.Join(t.TempDir(), "global.db")}))
	t.Cleanup(func() { _ = Close() })
	assert.NoError(t, Health(GetDB()))
	assert.NotNil(t, GetDB())
	assert.Contains(t, GetStats(GetDB()), "open_connections")
}

func TestHealth_Uninitialized(t *testing.T) {
	assert.Error(t, Health(nil))
	assert.Nil(t, GetStats(nil))
}
