package handlers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/codecconf/internal/models"
	"github.com/jmylchreest/codecconf/internal/repository"
	"github.com/jmylchreest/codecconf/internal/suite"
)

// RunLauncher starts suite runs in the background.
type RunLauncher interface {
	Launch(ctx context.Context, trigger models.Trigger) (*models.Run, error)
}

// RunHandler handles suite run endpoints.
type RunHandler struct {
	store    repository.RunRepository
	launcher RunLauncher
}

// NewRunHandler creates a new run handler.
func NewRunHandler(store repository.RunRepository) *RunHandler {
	return &RunHandler{store: store}
}

// WithLauncher enables triggering runs through the API.
func (h *RunHandler) WithLauncher(launcher RunLauncher) *RunHandler {
	h.launcher = launcher
	return h
}

// Register registers the run routes with the API.
func (h *RunHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "listRuns",
		Method:      http.MethodGet,
		Path:        "/api/v1/runs",
		Summary:     "List runs",
		Description: "Returns suite runs newest first, without case results",
		Tags:        []string{"Runs"},
	}, h.List)

	huma.Register(api, huma.Operation{
		OperationID: "getRun",
		Method:      http.MethodGet,
		Path:        "/api/v1/runs/{id}",
		Summary:     "Get run",
		Description: "Returns a run with its case results",
		Tags:        []string{"Runs"},
	}, h.GetByID)

	huma.Register(api, huma.Operation{
		OperationID: "getRunReport",
		Method:      http.MethodGet,
		Path:        "/api/v1/runs/{id}/report",
		Summary:     "Get run report",
		Description: "Returns the YAML report of a run",
		Tags:        []string{"Runs"},
	}, h.GetReport)

	huma.Register(api, huma.Operation{
		OperationID:   "triggerRun",
		Method:        http.MethodPost,
		Path:          "/api/v1/runs",
		Summary:       "Trigger run",
		Description:   "Starts a suite run in the background",
		Tags:          []string{"Runs"},
		DefaultStatus: http.StatusAccepted,
	}, h.Trigger)

	huma.Register(api, huma.Operation{
		OperationID:   "deleteRun",
		Method:        http.MethodDelete,
		Path:          "/api/v1/runs/{id}",
		Summary:       "Delete run",
		Description:   "Deletes a run and its case results",
		Tags:          []string{"Runs"},
		DefaultStatus: http.StatusNoContent,
	}, h.Delete)
}

// ListRunsInput is the input for listing runs.
type ListRunsInput struct {
	Status string `query:"status" enum:"running,passed,failed,errored" doc:"Only runs with this status"`
	Limit  int    `query:"limit" default:"50" minimum:"1" maximum:"1000" doc:"Maximum number of runs"`
}

// ListRunsOutput is the output for listing runs.
type ListRunsOutput struct {
	Body struct {
		Runs []RunResponse `json:"runs"`
	}
}

// List returns stored runs.
func (h *RunHandler) List(ctx context.Context, input *ListRunsInput) (*ListRunsOutput, error) {
	runs, err := h.store.List(ctx, repository.RunFilter{
		Status: models.RunStatus(input.Status),
		Limit:  input.Limit,
	})
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to list runs", err)
	}

	resp := &ListRunsOutput{}
	resp.Body.Runs = make([]RunResponse, 0, len(runs))
	for _, r := range runs {
		resp.Body.Runs = append(resp.Body.Runs, RunFromModel(r))
	}
	return resp, nil
}

// GetRunInput is the input for getting a run.
type GetRunInput struct {
	ID string `path:"id" doc:"Run ID (ULID)"`
}

// GetRunOutput is the output for getting a run.
type GetRunOutput struct {
	Body RunResponse
}

func (h *RunHandler) load(ctx context.Context, rawID string) (*models.Run, error) {
	id, err := models.ParseULID(rawID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid ID format", err)
	}
	run, err := h.store.GetByID(ctx, id)
	if errors.Is(err, models.ErrRunNotFound) {
		return nil, huma.Error404NotFound(fmt.Sprintf("run %s not found", rawID))
	}
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to get run", err)
	}
	return run, nil
}

// GetByID returns a run by ID.
func (h *RunHandler) GetByID(ctx context.Context, input *GetRunInput) (*GetRunOutput, error) {
	run, err := h.load(ctx, input.ID)
	if err != nil {
		return nil, err
	}
	return &GetRunOutput{Body: RunFromModel(run)}, nil
}

// GetRunReportOutput is the output for getting a run report.
type GetRunReportOutput struct {
	ContentType string `header:"Content-Type"`
	Body        []byte
}

// GetReport renders a stored run as the YAML report the CLI writes.
func (h *RunHandler) GetReport(ctx context.Context, input *GetRunInput) (*GetRunReportOutput, error) {
	run, err := h.load(ctx, input.ID)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := suite.WriteReport(&buf, run); err != nil {
		return nil, huma.Error500InternalServerError("failed to render report", err)
	}
	return &GetRunReportOutput{ContentType: "application/yaml", Body: buf.Bytes()}, nil
}

// TriggerRunInput is the input for triggering a run.
type TriggerRunInput struct{}

// TriggerRunOutput is the output for triggering a run.
type TriggerRunOutput struct {
	Location string `header:"Location"`
	Body     RunResponse
}

// Trigger starts a suite run.
func (h *RunHandler) Trigger(ctx context.Context, _ *TriggerRunInput) (*TriggerRunOutput, error) {
	if h.launcher == nil {
		return nil, huma.Error503ServiceUnavailable("run triggering is not enabled")
	}
	run, err := h.launcher.Launch(ctx, models.TriggerAPI)
	if errors.Is(err, suite.ErrBusy) {
		return nil, huma.Error409Conflict(err.Error())
	}
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to start run", err)
	}
	return &TriggerRunOutput{
		Location: "/api/v1/runs/" + run.ID.String(),
		Body:     RunFromModel(run),
	}, nil
}

// DeleteRunOutput is the output for deleting a run.
type DeleteRunOutput struct{}

// Delete removes a run.
func (h *RunHandler) Delete(ctx context.Context, input *GetRunInput) (*DeleteRunOutput, error) {
	id, err := models.ParseULID(input.ID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid ID format", err)
	}
	err = h.store.Delete(ctx, id)
	if errors.Is(err, models.ErrRunNotFound) {
		return nil, huma.Error404NotFound(fmt.Sprintf("run %s not found", input.ID))
	}
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to delete run", err)
	}
	return &DeleteRunOutput{}, nil
}
