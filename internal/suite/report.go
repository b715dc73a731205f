package suite

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"

	"github.com/jmylchreest/codecconf/internal/models"
	"github.com/jmylchreest/codecconf/internal/storage"
)

// WriteReport renders run and its results as YAML.
func WriteReport(w io.Writer, run *models.Run) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(run); err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}
	return enc.Close()
}

// SaveReport writes the YAML report to path, creating parent directories.
// The file is replaced atomically.
func SaveReport(path string, run *models.Run) error {
	err := storage.WriteAtomic(path, func(w io.Writer) error {
		return WriteReport(w, run)
	})
	if err != nil {
		return fmt.Errorf("saving report: %w", err)
	}
	return nil
}

// ReadReport parses a report written by WriteReport.
func ReadReport(r io.Reader) (*models.Run, error) {
	var run models.Run
	if err := yaml.NewDecoder(r).Decode(&run); err != nil {
		return nil, fmt.Errorf("decoding report: %w", err)
	}
	return &run, nil
}

// Summary is a one-line description of a finished run.
func Summary(run *models.Run) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %d passed, %d failed, %d skipped", run.Status, run.Passed, run.Failed, run.Skipped)
	if run.FinishedAt != nil {
		fmt.Fprintf(&b, " in %s", run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond))
	}
	if run.Host.MemoryTotal > 0 {
		fmt.Fprintf(&b, " on %s (%d cores, %s)", run.Host.Hostname, run.Host.CPUCores, humanize.IBytes(run.Host.MemoryTotal))
	}
	return b.String()
}

// Failures lists the results that did not pass or skip.
func Failures(run *models.Run) []models.CaseResult {
	var out []models.CaseResult
	for _, r := range run.Results {
		if r.Status == models.CaseStatusFail {
			out = append(out, r)
		}
	}
	return out
}
