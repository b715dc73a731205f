package handlers

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/jmylchreest/codecconf/internal/models"
	"github.com/jmylchreest/codecconf/internal/repository"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(&models.Run{}, &models.CaseResult{}))
	return db
}

func seedRun(t *testing.T, store repository.RunRepository, started time.Time, statuses ...models.CaseStatus) *models.Run {
	t.Helper()
	run := &models.Run{Trigger: models.TriggerCLI, Status: models.RunStatusRunning, StartedAt: started, Version: "test"}
	for i, st := range statuses {
		run.Results = append(run.Results, models.CaseResult{
			Case:   []string{"flush", "csd", "zero-input"}[i%3],
			Device: "sw.pcm.passthrough",
			Mode:   "async",
			Status: st,
		})
	}
	run.Finish(started.Add(time.Second), nil)
	require.NoError(t, store.Create(context.Background(), run))
	return run
}

// requireStatus asserts err is a huma error with the given HTTP status.
func requireStatus(t *testing.T, err error, status int) {
	t.Helper()
	var se huma.StatusError
	require.True(t, errors.As(err, &se), "expected huma status error, got %v", err)
	assert.Equal(t, status, se.GetStatus())
}
