package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/codecconf/internal/models"
	"github.com/jmylchreest/codecconf/internal/repository"
	"github.com/jmylchreest/codecconf/internal/suite"
)

type fakeLauncher struct {
	err      error
	triggers []models.Trigger
}

func (f *fakeLauncher) Launch(_ context.Context, trigger models.Trigger) (*models.Run, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.triggers = append(f.triggers, trigger)
	run := &models.Run{Trigger: trigger, Status: models.RunStatusRunning, StartedAt: time.Now()}
	run.ID = models.NewULID()
	return run, nil
}

func TestRunHandler_List(t *testing.T) {
	store := repository.NewRunRepository(setupTestDB(t))
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	older := seedRun(t, store, base, models.CaseStatusPass)
	newer := seedRun(t, store, base.Add(time.Hour), models.CaseStatusFail)
	h := NewRunHandler(store)

	tests := []struct {
		name  string
		input ListRunsInput
		want  []models.ULID
	}{
		{"all newest first", ListRunsInput{Limit: 50}, []models.ULID{newer.ID, older.ID}},
		{"status filter", ListRunsInput{Status: "passed", Limit: 50}, []models.ULID{older.ID}},
		{"limit", ListRunsInput{Limit: 1}, []models.ULID{newer.ID}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := h.List(context.Background(), &tt.input)
			require.NoError(t, err)
			var got []models.ULID
			for _, r := range out.Body.Runs {
				got = append(got, r.ID)
				assert.Empty(t, r.Results)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRunHandler_GetByID(t *testing.T) {
	store := repository.NewRunRepository(setupTestDB(t))
	run := seedRun(t, store, time.Now().Add(-time.Minute), models.CaseStatusPass, models.CaseStatusSkip)
	h := NewRunHandler(store)

	out, err := h.GetByID(context.Background(), &GetRunInput{ID: run.ID.String()})
	require.NoError(t, err)
	assert.Equal(t, run.ID, out.Body.ID)
	assert.Equal(t, models.RunStatusPassed, out.Body.Status)
	require.Len(t, out.Body.Results, 2)
	assert.Equal(t, run.ID, out.Body.Results[0].RunID)

	_, err = h.GetByID(context.Background(), &GetRunInput{ID: "not-a-ulid"})
	requireStatus(t, err, http.StatusBadRequest)

	_, err = h.GetByID(context.Background(), &GetRunInput{ID: models.NewULID().String()})
	requireStatus(t, err, http.StatusNotFound)
}

func TestRunHandler_GetReport(t *testing.T) {
	store := repository.NewRunRepository(setupTestDB(t))
	run := seedRun(t, store, time.Now().Add(-time.Minute), models.CaseStatusFail)
	h := NewRunHandler(store)

	out, err := h.GetReport(context.Background(), &GetRunInput{ID: run.ID.String()})
	require.NoError(t, err)
	assert.Equal(t, "application/yaml", out.ContentType)

	back, err := suite.ReadReport(strings.NewReader(string(out.Body)))
	require.NoError(t, err)
	assert.Equal(t, run.ID, back.ID)
	assert.Equal(t, models.RunStatusFailed, back.Status)
}

func TestRunHandler_Trigger(t *testing.T) {
	store := repository.NewRunRepository(setupTestDB(t))

	t.Run("disabled without launcher", func(t *testing.T) {
		_, err := NewRunHandler(store).Trigger(context.Background(), &TriggerRunInput{})
		requireStatus(t, err, http.StatusServiceUnavailable)
	})

	t.Run("starts api run", func(t *testing.T) {
		l := &fakeLauncher{}
		out, err := NewRunHandler(store).WithLauncher(l).Trigger(context.Background(), &TriggerRunInput{})
		require.NoError(t, err)
		assert.Equal(t, []models.Trigger{models.TriggerAPI}, l.triggers)
		assert.Equal(t, "/api/v1/runs/"+out.Body.ID.String(), out.Location)
		assert.Equal(t, models.RunStatusRunning, out.Body.Status)
	})

	t.Run("conflict while busy", func(t *testing.T) {
		l := &fakeLauncher{err: suite.ErrBusy}
		_, err := NewRunHandler(store).WithLauncher(l).Trigger(context.Background(), &TriggerRunInput{})
		requireStatus(t, err, http.StatusConflict)
	})

	t.Run("launch failure", func(t *testing.T) {
		l := &fakeLauncher{err: errors.New("disk full")}
		_, err := NewRunHandler(store).WithLauncher(l).Trigger(context.Background(), &TriggerRunInput{})
		requireStatus(t, err, http.StatusInternalServerError)
	})
}

func TestRunHandler_Delete(t *testing.T) {
	store := repository.NewRunRepository(setupTestDB(t))
	run := seedRun(t, store, time.Now().Add(-time.Minute), models.CaseStatusPass)
	h := NewRunHandler(store)

	_, err := h.Delete(context.Background(), &GetRunInput{ID: run.ID.String()})
	require.NoError(t, err)

	_, err = h.Delete(context.Background(), &GetRunInput{ID: run.ID.String()})
	requireStatus(t, err, http.StatusNotFound)

	_, err = h.Delete(context.Background(), &GetRunInput{ID: "x"})
	requireStatus(t, err, http.StatusBadRequest)
}
