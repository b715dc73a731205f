// Package migrations tracks and applies versioned schema changes for the
// codecconf results database.
package migrations

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"time"

	"gorm.io/gorm"
)

var (
	// ErrIrreversible is returned when rolling back a migration without Down.
	ErrIrreversible = errors.New("migration cannot be rolled back")
	// ErrUnknownVersion is returned when the database records a version this
	// build does not know, usually because a newer build migrated it.
	ErrUnknownVersion = errors.New("unknown schema version")
)

// Migration is one versioned schema change. Versions sort lexically.
type Migration struct {
	Version     string
	Description string
	Up          func(tx *gorm.DB) error
	Down        func(tx *gorm.DB) error
}

// Record is a row of schema_migrations.
type Record struct {
	Version     string    `gorm:"primaryKey;size:20"`
	Description string    `gorm:"size:255;not null"`
	AppliedAt   time.Time `gorm:"not null"`
}

// TableName returns the table name for migration records.
func (Record) TableName() string {
	return "schema_migrations"
}

// Status is the state of one known migration.
type Status struct {
	Version     string     `json:"version"`
	Description string     `json:"description"`
	AppliedAt   *time.Time `json:"applied_at,omitempty"`
}

// Applied reports whether the migration has been applied.
func (s Status) Applied() bool { return s.AppliedAt != nil }

// Migrator applies and rolls back an ordered set of migrations.
type Migrator struct {
	db         *gorm.DB
	logger     *slog.Logger
	migrations []Migration
}

// NewMigrator returns a migrator over ms, ordered by version.
func NewMigrator(db *gorm.DB, logger *slog.Logger, ms ...Migration) *Migrator {
	if logger == nil {
		logger = slog.Default()
	}
	sorted := slices.Clone(ms)
	slices.SortFunc(sorted, func(a, b Migration) int { return cmp.Compare(a.Version, b.Version) })
	return &Migrator{db: db, logger: logger, migrations: sorted}
}

// records returns the applied migrations keyed by version, creating the
// tracking table on first use.
func (m *Migrator) records(ctx context.Context) (map[string]Record, error) {
	db := m.db.WithContext(ctx)
	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, fmt.Errorf("creating schema_migrations: %w", err)
	}
	var rows []Record
	if err := db.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("reading schema_migrations: %w", err)
	}
	applied := make(map[string]Record, len(rows))
	for _, r := range rows {
		applied[r.Version] = r
	}
	return applied, nil
}

// Status lists every known migration in order. Versions recorded in the
// database but unknown to this build yield ErrUnknownVersion.
func (m *Migrator) Status(ctx context.Context) ([]Status, error) {
	applied, err := m.records(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Status, 0, len(m.migrations))
	for _, mig := range m.migrations {
		s := Status{Version: mig.Version, Description: mig.Description}
		if r, ok := applied[mig.Version]; ok {
			at := r.AppliedAt
			s.AppliedAt = &at
			delete(applied, mig.Version)
		}
		out = append(out, s)
	}
	if len(applied) > 0 {
		unknown := slices.Sorted(maps.Keys(applied))
		return out, fmt.Errorf("%w: %v", ErrUnknownVersion, unknown)
	}
	return out, nil
}

// Up applies every pending migration, each in its own transaction, and
// returns the versions it applied.
func (m *Migrator) Up(ctx context.Context) ([]string, error) {
	applied, err := m.records(ctx)
	if err != nil {
		return nil, err
	}

	var done []string
	for _, mig := range m.migrations {
		if _, ok := applied[mig.Version]; ok {
			continue
		}
		err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := mig.Up(tx); err != nil {
				return err
			}
			return tx.Create(&Record{
				Version:     mig.Version,
				Description: mig.Description,
				AppliedAt:   time.Now().UTC(),
			}).Error
		})
		if err != nil {
			return done, fmt.Errorf("applying migration %s: %w", mig.Version, err)
		}
		m.logger.InfoContext(ctx, "migration applied",
			slog.String("version", mig.Version),
			slog.String("description", mig.Description),
		)
		done = append(done, mig.Version)
	}
	return done, nil
}

// Rollback reverts up to steps applied migrations, newest first, and
// returns the versions it reverted.
func (m *Migrator) Rollback(ctx context.Context, steps int) ([]string, error) {
	if steps < 1 {
		return nil, fmt.Errorf("rollback steps must be at least 1, got %d", steps)
	}
	statuses, err := m.Status(ctx)
	if err != nil {
		return nil, err
	}

	var done []string
	for i := len(statuses) - 1; i >= 0 && len(done) < steps; i-- {
		if !statuses[i].Applied() {
			continue
		}
		mig := m.migrations[i]
		if mig.Down == nil {
			return done, fmt.Errorf("%w: %s", ErrIrreversible, mig.Version)
		}
		err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := mig.Down(tx); err != nil {
				return err
			}
			return tx.Delete(&Record{Version: mig.Version}).Error
		})
		if err != nil {
			return done, fmt.Errorf("rolling back migration %s: %w", mig.Version, err)
		}
		m.logger.InfoContext(ctx, "migration rolled back", slog.String("version", mig.Version))
		done = append(done, mig.Version)
	}
	return done, nil
}
