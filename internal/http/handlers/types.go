// Package handlers provides the huma operations of the results API.
package handlers

import (
	"time"

	"github.com/jmylchreest/codecconf/internal/models"
)

// RunResponse represents a suite run in API responses.
type RunResponse struct {
	ID         models.ULID        `json:"id"`
	Trigger    models.Trigger     `json:"trigger"`
	Status     models.RunStatus   `json:"status"`
	StartedAt  time.Time          `json:"started_at"`
	FinishedAt *time.Time         `json:"finished_at,omitempty"`
	DurationMs int64              `json:"duration_ms"`
	Passed     int                `json:"passed"`
	Failed     int                `json:"failed"`
	Skipped    int                `json:"skipped"`
	Version    string             `json:"version"`
	Host       models.Host        `json:"host"`
	Error      string             `json:"error,omitempty"`
	Results    []CaseResultResponse `json:"results,omitempty"`
}

// CaseResultResponse represents one case outcome in API responses.
type CaseResultResponse struct {
	ID         models.ULID       `json:"id"`
	RunID      models.ULID       `json:"run_id"`
	Case       string            `json:"case"`
	Device     string            `json:"device"`
	Mode       string            `json:"mode,omitempty"`
	Vector     string            `json:"vector,omitempty"`
	Status     models.CaseStatus `json:"status"`
	DurationMs int64             `json:"duration_ms"`
	Inputs     int               `json:"inputs"`
	Outputs    int               `json:"outputs"`
	Error      string            `json:"error,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}

// RunFromModel converts a model to a response. Results are included when
// the model carries them.
func RunFromModel(r *models.Run) RunResponse {
	resp := RunResponse{
		ID:         r.ID,
		Trigger:    r.Trigger,
		Status:     r.Status,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
		DurationMs: r.DurationMs,
		Passed:     r.Passed,
		Failed:     r.Failed,
		Skipped:    r.Skipped,
		Version:    r.Version,
		Host:       r.Host,
		Error:      r.Error,
	}
	for i := range r.Results {
		resp.Results = append(resp.Results, CaseResultFromModel(&r.Results[i]))
	}
	return resp
}

// CaseResultFromModel converts a model to a response.
func CaseResultFromModel(c *models.CaseResult) CaseResultResponse {
	return CaseResultResponse{
		ID:         c.ID,
		RunID:      c.RunID,
		Case:       c.Case,
		Device:     c.Device,
		Mode:       c.Mode,
		Vector:     c.Vector,
		Status:     c.Status,
		DurationMs: c.DurationMs,
		Inputs:     c.Inputs,
		Outputs:    c.Outputs,
		Error:      c.Error,
		CreatedAt:  c.CreatedAt,
	}
}

// CaseResponse describes a conformance case.
type CaseResponse struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Standalone  bool   `json:"standalone"`
}

// DeviceResponse describes a registered device.
type DeviceResponse struct {
	Name     string `json:"name"`
	Mime     string `json:"mime"`
	Kind     string `json:"kind"`
	Reorders bool   `json:"reorders"`
}
