package repo

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/athenaai/athena/internal/domain"
)

// GetCheckpoint returns the saved cursor for job, or "" when none exists.
func GetCheckpoint(ctx context.Context, db *gorm.DB, job string) (string, error) {
	var cp domain.BackfillCheckpoint
	err := db.WithContext(ctx).Where("job = ?", job).Take(&cp).Error
	if IsNotFound(err) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return cp.Cursor, nil
}

// SaveCheckpoint records cursor as the last completed position of job.
func SaveCheckpoint(ctx context.Context, db *gorm.DB, job, cursor string) error {
	cp := &domain.BackfillCheckpoint{Job: job, Cursor: cursor, UpdatedAt: time.Now().UTC()}
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "job"}},
		DoUpdates: clause.AssignmentColumns([]string{"cursor", "updated_at"}),
	}).Create(cp).Error
}

// DeleteCheckpoint forgets job's cursor.
func DeleteCheckpoint(ctx context.Context, db *gorm.DB, job string) error {
	return db.WithContext(ctx).Where("job = ?", job).Delete(&domain.BackfillCheckpoint{}).Error
}
