package database

import (
	"errors"
	"fmt"
	"time"

	"github.com/seadriftlabs/seadrift/internal/schema"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationNormalizeCheckpointRevs = "2026-05-18_normalize_checkpoint_revs"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB, *schema.Registry) error
}

func applyMigrations(db *gorm.DB, registry *schema.Registry, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationNormalizeCheckpointRevs, apply: normalizeCheckpointRevs},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db, registry); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// normalizeCheckpointRevs prefixes checkpoint revisions written before the
// zero-depth convention landed, so peers comparing checkpoint revs see one
// consistent format.
func normalizeCheckpointRevs(db *gorm.DB, registry *schema.Registry) error {
	for _, descriptor := range registry.Entities() {
		statement := fmt.Sprintf("UPDATE %s_checkpoints SET rev = '0-' || rev WHERE rev NOT LIKE '0-%%';", descriptor.Name)
		if err := db.Exec(statement).Error; err != nil {
			return err
		}
	}
	return nil
}
