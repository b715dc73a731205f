package models

import (
	"time"

	"gorm.io/gorm"
)

// RunStatus is the overall outcome of a suite run.
type RunStatus string

const (
	RunStatusRunning RunStatus = "running"
	RunStatusPassed  RunStatus = "passed"
	RunStatusFailed  RunStatus = "failed"
	// RunStatusErrored means the suite itself could not complete.
	RunStatusErrored RunStatus = "errored"
)

// CaseStatus is the outcome of a single case.
type CaseStatus string

const (
	CaseStatusPass CaseStatus = "pass"
	CaseStatusFail CaseStatus = "fail"
	CaseStatusSkip CaseStatus = "skip"
)

// Trigger records what started a run.
type Trigger string

const (
	TriggerCLI      Trigger = "cli"
	TriggerAPI      Trigger = "api"
	TriggerSchedule Trigger = "schedule"
)

// Host describes the machine a run executed on.
type Host struct {
	Hostname    string `gorm:"size:255" json:"hostname" yaml:"hostname"`
	Platform    string `gorm:"size:100" json:"platform" yaml:"platform"`
	KernelArch  string `gorm:"size:50" json:"kernel_arch" yaml:"kernel_arch"`
	CPUModel    string `gorm:"size:255" json:"cpu_model" yaml:"cpu_model"`
	CPUCores    int    `json:"cpu_cores" yaml:"cpu_cores"`
	MemoryTotal uint64 `json:"memory_total" yaml:"memory_total"`
}

// Run is one execution of the conformance suite.
type Run struct {
	BaseModel `yaml:",inline"`

	Trigger    Trigger    `gorm:"not null;size:20" json:"trigger" yaml:"trigger"`
	Status     RunStatus  `gorm:"not null;size:20;index" json:"status" yaml:"status"`
	StartedAt  time.Time  `gorm:"not null;index" json:"started_at" yaml:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty" yaml:"finished_at,omitempty"`
	DurationMs int64      `json:"duration_ms" yaml:"duration_ms"`

	Passed  int `json:"passed" yaml:"passed"`
	Failed  int `json:"failed" yaml:"failed"`
	Skipped int `json:"skipped" yaml:"skipped"`

	// Version is the codecconf build that produced the run.
	Version string `gorm:"size:100" json:"version" yaml:"version"`
	Host    Host   `gorm:"embedded;embeddedPrefix:host_" json:"host" yaml:"host"`
	Error   string `gorm:"type:text" json:"error,omitempty" yaml:"error,omitempty"`

	Results []CaseResult `gorm:"foreignKey:RunID;constraint:OnDelete:CASCADE" json:"results,omitempty" yaml:"results,omitempty"`
}

// CaseResult is the outcome of one case against one device.
type CaseResult struct {
	BaseModel `yaml:",inline"`

	RunID      ULID       `gorm:"type:varchar(26);not null;index" json:"run_id" yaml:"-"`
	Case       string     `gorm:"column:case_name;not null;size:100;index" json:"case" yaml:"case"`
	Device     string     `gorm:"not null;size:100" json:"device" yaml:"device"`
	Mode       string     `gorm:"size:10" json:"mode,omitempty" yaml:"mode,omitempty"`
	Vector     string     `gorm:"size:255" json:"vector,omitempty" yaml:"vector,omitempty"`
	Status     CaseStatus `gorm:"not null;size:10" json:"status" yaml:"status"`
	DurationMs int64      `json:"duration_ms" yaml:"duration_ms"`
	Inputs     int        `json:"inputs" yaml:"inputs"`
	Outputs    int        `json:"outputs" yaml:"outputs"`
	Error      string     `gorm:"type:text" json:"error,omitempty" yaml:"error,omitempty"`
}

// Validate checks the result before it is stored.
func (c *CaseResult) Validate() error {
	if c.Case == "" {
		return ErrValidation{Field: "case", Message: "is required"}
	}
	if c.Device == "" {
		return ErrValidation{Field: "device", Message: "is required"}
	}
	switch c.Status {
	case CaseStatusPass, CaseStatusFail, CaseStatusSkip:
	default:
		return ErrValidation{Field: "status", Message: "must be pass, fail or skip"}
	}
	return nil
}

// Validate checks the run and its results before they are stored.
func (r *Run) Validate() error {
	switch r.Trigger {
	case TriggerCLI, TriggerAPI, TriggerSchedule:
	default:
		return ErrValidation{Field: "trigger", Message: "must be cli, api or schedule"}
	}
	if r.StartedAt.IsZero() {
		return ErrValidation{Field: "started_at", Message: "is required"}
	}
	for i := range r.Results {
		if err := r.Results[i].Validate(); err != nil {
			return err
		}
	}
	return nil
}

// BeforeSave validates the run.
func (r *Run) BeforeSave(*gorm.DB) error {
	return r.Validate()
}

// Tally recounts Passed, Failed and Skipped from Results.
func (r *Run) Tally() {
	r.Passed, r.Failed, r.Skipped = 0, 0, 0
	for _, res := range r.Results {
		switch res.Status {
		case CaseStatusPass:
			r.Passed++
		case CaseStatusFail:
			r.Failed++
		case CaseStatusSkip:
			r.Skipped++
		}
	}
}

// Finish stamps the end time and derives the status from the tallies.
func (r *Run) Finish(at time.Time, err error) {
	r.FinishedAt = &at
	r.DurationMs = at.Sub(r.StartedAt).Milliseconds()
	r.Tally()
	switch {
	case err != nil:
		r.Status = RunStatusErrored
		r.Error = err.Error()
	case r.Failed > 0:
		r.Status = RunStatusFailed
	default:
		r.Status = RunStatusPassed
	}
}
