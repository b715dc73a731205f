// Package repository defines data access for codecconf's stored runs.
// All database access goes through these interfaces.
package repository

import (
	"context"
	"time"

	"github.com/jmylchreest/codecconf/internal/models"
)

// RunFilter narrows a run listing.
type RunFilter struct {
	Status models.RunStatus
	// Limit caps the result count. Zero means DefaultListLimit.
	Limit int
}

// DefaultListLimit is the page size used when RunFilter.Limit is zero.
const DefaultListLimit = 50

// RunRepository defines operations for suite run persistence.
type RunRepository interface {
	// Create stores a run together with its case results.
	Create(ctx context.Context, run *models.Run) error
	// Update saves run fields and upserts its results.
	Update(ctx context.Context, run *models.Run) error
	// GetByID retrieves a run with its results, or models.ErrRunNotFound.
	GetByID(ctx context.Context, id models.ULID) (*models.Run, error)
	// List returns runs newest first, without results.
	List(ctx context.Context, filter RunFilter) ([]*models.Run, error)
	// Latest returns the newest finished run, or models.ErrRunNotFound.
	Latest(ctx context.Context) (*models.Run, error)
	// Delete removes a run and its results.
	Delete(ctx context.Context, id models.ULID) error
	// DeleteBefore removes runs started before t and returns how many.
	DeleteBefore(ctx context.Context, t time.Time) (int64, error)
	// CaseHistory returns the latest results for one case across runs.
	CaseHistory(ctx context.Context, caseName string, limit int) ([]*models.CaseResult, error)
}
