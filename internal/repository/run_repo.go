package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/jmylchreest/codecconf/internal/models"
)

// runRepo implements RunRepository using GORM.
type runRepo struct {
	db *gorm.DB
}

var _ RunRepository = (*runRepo)(nil)

// NewRunRepository creates a new RunRepository.
func NewRunRepository(db *gorm.DB) *runRepo {
	return &runRepo{db: db}
}

// Create stores a run together with its case results.
func (r *runRepo) Create(ctx context.Context, run *models.Run) error {
	if err := r.db.WithContext(ctx).Create(run).Error; err != nil {
		return fmt.Errorf("creating run: %w", err)
	}
	return nil
}

// Update saves run fields and upserts its results.
func (r *runRepo) Update(ctx context.Context, run *models.Run) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Save(run).Error; err != nil {
			return err
		}
		for i := range run.Results {
			run.Results[i].RunID = run.ID
		}
		if len(run.Results) == 0 {
			return nil
		}
		return tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&run.Results).Error
	})
	if err != nil {
		return fmt.Errorf("updating run: %w", err)
	}
	return nil
}

// GetByID retrieves a run with its results ordered by case and device.
func (r *runRepo) GetByID(ctx context.Context, id models.ULID) (*models.Run, error) {
	var run models.Run
	err := r.db.WithContext(ctx).
		Preload("Results", func(db *gorm.DB) *gorm.DB {
			return db.Order("case_name ASC, device ASC, mode ASC")
		}).
		Where("id = ?", id).
		First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, models.ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting run by ID: %w", err)
	}
	return &run, nil
}

// List returns runs newest first, without results.
func (r *runRepo) List(ctx context.Context, filter RunFilter) ([]*models.Run, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	query := r.db.WithContext(ctx).Order("started_at DESC").Limit(limit)
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	var runs []*models.Run
	if err := query.Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	return runs, nil
}

// Latest returns the newest run that is no longer running.
func (r *runRepo) Latest(ctx context.Context) (*models.Run, error) {
	var run models.Run
	err := r.db.WithContext(ctx).
		Where("status <> ?", models.RunStatusRunning).
		Order("started_at DESC").
		First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, models.ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting latest run: %w", err)
	}
	return r.GetByID(ctx, run.ID)
}

// Delete removes a run and its results.
func (r *runRepo) Delete(ctx context.Context, id models.ULID) error {
	var affected int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("run_id = ?", id).Delete(&models.CaseResult{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", id).Delete(&models.Run{})
		affected = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return fmt.Errorf("deleting run: %w", err)
	}
	if affected == 0 {
		return models.ErrRunNotFound
	}
	return nil
}

// DeleteBefore removes runs started before t and returns how many.
func (r *runRepo) DeleteBefore(ctx context.Context, t time.Time) (int64, error) {
	var deleted int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		old := tx.Model(&models.Run{}).Select("id").Where("started_at < ?", t)
		if err := tx.Where("run_id IN (?)", old).Delete(&models.CaseResult{}).Error; err != nil {
			return err
		}
		res := tx.Where("started_at < ?", t).Delete(&models.Run{})
		deleted = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return 0, fmt.Errorf("deleting runs before %s: %w", t.Format(time.RFC3339), err)
	}
	return deleted, nil
}

// CaseHistory returns the latest results for one case across runs.
func (r *runRepo) CaseHistory(ctx context.Context, caseName string, limit int) ([]*models.CaseResult, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	var results []*models.CaseResult
	err := r.db.WithContext(ctx).
		Where("case_name = ?", caseName).
		Order("created_at DESC").
		Limit(limit).
		Find(&results).Error
	if err != nil {
		return nil, fmt.Errorf("getting history for case %s: %w", caseName, err)
	}
	return results, nil
}
