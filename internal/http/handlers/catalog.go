package handlers

import (
	"context"
	"fmt"
	"net/http"
	"slices"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/codecconf/internal/device"
	"github.com/jmylchreest/codecconf/internal/repository"
	"github.com/jmylchreest/codecconf/internal/suite"
)

// CatalogHandler lists the cases and devices a run covers, and the history
// of individual cases.
type CatalogHandler struct {
	registry *device.Registry
	store    repository.RunRepository
}

// NewCatalogHandler creates a new catalogue handler.
func NewCatalogHandler(registry *device.Registry, store repository.RunRepository) *CatalogHandler {
	return &CatalogHandler{registry: registry, store: store}
}

// Register registers the catalogue routes with the API.
func (h *CatalogHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "listCases",
		Method:      http.MethodGet,
		Path:        "/api/v1/cases",
		Summary:     "List cases",
		Tags:        []string{"Catalog"},
	}, h.ListCases)

	huma.Register(api, huma.Operation{
		OperationID: "getCaseHistory",
		Method:      http.MethodGet,
		Path:        "/api/v1/cases/{name}/history",
		Summary:     "Get case history",
		Description: "Returns the latest results of one case across runs",
		Tags:        []string{"Catalog"},
	}, h.CaseHistory)

	huma.Register(api, huma.Operation{
		OperationID: "listDevices",
		Method:      http.MethodGet,
		Path:        "/api/v1/devices",
		Summary:     "List devices",
		Tags:        []string{"Catalog"},
	}, h.ListDevices)
}

// ListCasesInput is the input for listing cases.
type ListCasesInput struct{}

// ListCasesOutput is the output for listing cases.
type ListCasesOutput struct {
	Body struct {
		Cases []CaseResponse `json:"cases"`
	}
}

// ListCases returns every built-in case.
func (h *CatalogHandler) ListCases(_ context.Context, _ *ListCasesInput) (*ListCasesOutput, error) {
	resp := &ListCasesOutput{}
	for _, c := range suite.Cases() {
		resp.Body.Cases = append(resp.Body.Cases, CaseResponse{
			Name:        c.Name,
			Description: c.Description,
			Standalone:  c.Standalone,
		})
	}
	return resp, nil
}

// CaseHistoryInput is the input for a case history.
type CaseHistoryInput struct {
	Name  string `path:"name" doc:"Case name"`
	Limit int    `query:"limit" default:"50" minimum:"1" maximum:"1000" doc:"Maximum number of results"`
}

// CaseHistoryOutput is the output for a case history.
type CaseHistoryOutput struct {
	Body struct {
		Results []CaseResultResponse `json:"results"`
	}
}

// CaseHistory returns the latest stored results of a case.
func (h *CatalogHandler) CaseHistory(ctx context.Context, input *CaseHistoryInput) (*CaseHistoryOutput, error) {
	known := slices.ContainsFunc(suite.Cases(), func(c *suite.Case) bool { return c.Name == input.Name })
	if !known {
		return nil, huma.Error404NotFound(fmt.Sprintf("case %s not found", input.Name))
	}
	results, err := h.store.CaseHistory(ctx, input.Name, input.Limit)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to get case history", err)
	}

	resp := &CaseHistoryOutput{}
	resp.Body.Results = make([]CaseResultResponse, 0, len(results))
	for _, r := range results {
		resp.Body.Results = append(resp.Body.Results, CaseResultFromModel(r))
	}
	return resp, nil
}

// ListDevicesInput is the input for listing devices.
type ListDevicesInput struct{}

// ListDevicesOutput is the output for listing devices.
type ListDevicesOutput struct {
	Body struct {
		Devices []DeviceResponse `json:"devices"`
	}
}

// ListDevices returns the registered devices.
func (h *CatalogHandler) ListDevices(_ context.Context, _ *ListDevicesInput) (*ListDevicesOutput, error) {
	resp := &ListDevicesOutput{}
	for _, e := range h.registry.Entries() {
		resp.Body.Devices = append(resp.Body.Devices, DeviceResponse{
			Name:     e.Name,
			Mime:     e.Mime,
			Kind:     e.Kind(),
			Reorders: e.Reorders,
		})
	}
	return resp, nil
}
