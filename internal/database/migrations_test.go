package database

import (
	"path/filepath"
	"testing"

	"github.com/MarcoPoloResearchLab/doodlemap/internal/posts"
	"go.uber.org/zap"
)

func TestOpenSQLiteRecomputesDriftedScores(testContext *testing.T) {
	databasePath := filepath.Join(testContext.TempDir(), "migration.db")

	database, err := OpenSQLite(databasePath, zap.NewNop())
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}
	if err := database.Where("name = ?", migrationRecomputePostScores).Delete(&migrationRecord{}).Error; err != nil {
		testContext.Fatalf("failed to reset migration ledger: %v", err)
	}

	drifted := posts.PostRecord{
		PostID:          "post-1",
		OwnerID:         "user-1",
		Latitude:        42.2743,
		Longitude:       -71.8081,
		Content:         []byte{1, 2, 3},
		Positive:        posts.VoterList{"a", "b"},
		Negative:        posts.VoterList{"c"},
		Score:           7,
		Version:         3,
		CreatedAtMillis: 1700000000000,
		UpdatedAtMillis: 1700000000000,
	}
	if err := database.Create(&drifted).Error; err != nil {
		testContext.Fatalf("failed to insert post: %v", err)
	}

	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("failed to apply migrations: %v", err)
	}

	var stored posts.PostRecord
	if err := database.Where("post_id = ?", drifted.PostID).Take(&stored).Error; err != nil {
		testContext.Fatalf("failed to reload post: %v", err)
	}
	if stored.Score != 1 {
		testContext.Fatalf("expected score to be recomputed to 1, got %d", stored.Score)
	}
	if stored.Version != drifted.Version {
		testContext.Fatalf("expected version to be untouched, got %d", stored.Version)
	}

	var record migrationRecord
	if err := database.Where("name = ?", migrationRecomputePostScores).Take(&record).Error; err != nil {
		testContext.Fatalf("expected migration record to be created: %v", err)
	}
	if record.AppliedAtSeconds == 0 {
		testContext.Fatalf("expected migration timestamp to be set")
	}
}

func TestApplyMigrationsRunsOnce(testContext *testing.T) {
	database, err := OpenSQLite(filepath.Join(testContext.TempDir(), "once.db"), zap.NewNop())
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}

	drifted := posts.PostRecord{
		PostID:          "post-2",
		OwnerID:         "user-1",
		Content:         []byte{1},
		Positive:        posts.VoterList{},
		Negative:        posts.VoterList{},
		Score:           5,
		Version:         1,
		CreatedAtMillis: 1,
		UpdatedAtMillis: 1,
	}
	if err := database.Create(&drifted).Error; err != nil {
		testContext.Fatalf("failed to insert post: %v", err)
	}
	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("failed to apply migrations: %v", err)
	}

	var stored posts.PostRecord
	if err := database.Where("post_id = ?", drifted.PostID).Take(&stored).Error; err != nil {
		testContext.Fatalf("failed to reload post: %v", err)
	}
	if stored.Score != 5 {
		testContext.Fatalf("expected an applied migration to be skipped, got score %d", stored.Score)
	}
}

func TestOpenSQLiteRequiresPath(testContext *testing.T) {
	if _, err := OpenSQLite("", nil); err == nil {
		testContext.Fatalf("expected missing path error")
	}
}
