// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file maintains the denormalized message counters on
// canonical users. The counters are advisory: the ledger is the source of
// truth and RecomputeMessageStats can rebuild them at any time.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/athenaai/athena/internal/domain"
)

// IncrementMessageStats adds one message to the user's counters and moves
// last_message_at forward (never backward).
func IncrementMessageStats(ctx context.Context, db *gorm.DB, userID string, at time.Time) error {
	res := db.WithContext(ctx).
		Model(&domain.CanonicalUser{}).
		Where("id = ?", userID).
		Updates(map[string]any{
			"total_messages": gorm.Expr("total_messages + 1"),
			"updated_at":     time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return db.WithContext(ctx).
		Model(&domain.CanonicalUser{}).
		Where("id = ? AND (last_message_at IS NULL OR last_message_at < ?)", userID, at).
		Update("last_message_at", at).Error
}

// MessagesStats returns the number of ledger rows owned by userID and the
// newest created_at among them (nil when there are none).
func MessagesStats(ctx context.Context, db *gorm.DB, userID string) (count int64, last *time.Time, err error) {
	q := db.WithContext(ctx).Model(&domain.Message{}).Where("canonical_user_id = ?", userID)

	if err = q.Count(&count).Error; err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}

	// Get latest created_at (avoid MAX() -> TEXT in SQLite)
	var row struct {
		CreatedAt time.Time
	}
	if err = q.Select("created_at").Order("created_at DESC").Limit(1).Scan(&row).Error; err != nil {
		return 0, nil, err
	}
	return count, &row.CreatedAt, nil
}

// RecomputeMessageStats rebuilds a user's counters from the ledger.
func RecomputeMessageStats(ctx context.Context, db *gorm.DB, userID string) error {
	count, last, err := MessagesStats(ctx, db, userID)
	if err != nil {
		return err
	}
	return db.WithContext(ctx).
		Model(&domain.CanonicalUser{}).
		Where("id = ?", userID).
		Updates(map[string]any{
			"total_messages":  count,
			"last_message_at": last,
			"updated_at":      time.Now().UTC(),
		}).Error
}
