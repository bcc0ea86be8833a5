package database

import (
	"fmt"

	sqlite "github.com/glebarez/sqlite"
	"github.com/seadriftlabs/seadrift/internal/mvcc"
	"github.com/seadriftlabs/seadrift/internal/schema"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// OpenSQLite establishes a SQLite connection and migrates the five
// per-entity tables of every registered entity.
func OpenSQLite(path string, registry *schema.Registry, logger *zap.Logger) (*gorm.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if registry == nil {
		return nil, fmt.Errorf("entity registry is required")
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := migrateEntityTables(db, registry); err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&migrationRecord{}); err != nil {
		return nil, err
	}
	if err := applyMigrations(db, registry, logger); err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Info("database initialized",
			zap.String("path", path),
			zap.Int("entities", len(registry.Entities())))
	}
	return db, nil
}

// migrateEntityTables creates or updates the current, history,
// versioncontrol, changelog and checkpoints tables of each entity. The row
// models carry no static table names; each migration binds them explicitly.
func migrateEntityTables(db *gorm.DB, registry *schema.Registry) error {
	for _, descriptor := range registry.Entities() {
		tables := []struct {
			name  string
			model any
		}{
			{name: descriptor.Name + "_current", model: &mvcc.CurrentRow{}},
			{name: descriptor.Name + "_history", model: &mvcc.HistoryRow{}},
			{name: descriptor.Name + "_versioncontrol", model: &mvcc.VersionControlRecord{}},
			{name: descriptor.Name + "_changelog", model: &mvcc.ChangeLogRow{}},
			{name: descriptor.Name + "_checkpoints", model: &mvcc.CheckpointRow{}},
		}
		for _, table := range tables {
			if err := db.Table(table.name).AutoMigrate(table.model); err != nil {
				return fmt.Errorf("migrate table %s: %w", table.name, err)
			}
		}
	}
	return nil
}
