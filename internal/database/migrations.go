package database

import (
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/doodlemap/internal/posts"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationRecomputePostScores = "2024-10-01_recompute_post_scores"
	recomputeBatchSize           = 200
)

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationRecomputePostScores, apply: recomputePostScores},
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
		if err := migration.apply(db); err != nil {
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

// recomputePostScores rewrites any stored score that drifted from its ledger.
func recomputePostScores(db *gorm.DB) error {
	var batch []posts.PostRecord
	result := db.Model(&posts.PostRecord{}).
		Select("post_id", "vote_positive", "vote_negative", "score").
		FindInBatches(&batch, recomputeBatchSize, func(tx *gorm.DB, _ int) error {
			for _, record := range batch {
				want := len(record.Positive) - len(record.Negative)
				if record.Score == want {
					continue
				}
				err := db.Model(&posts.PostRecord{}).
					Where("post_id = ?", record.PostID).
					Update("score", want).Error
				if err != nil {
					return err
				}
			}
			return nil
		})
	return result.Error
}
