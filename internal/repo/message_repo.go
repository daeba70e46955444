// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Message
// ledger: appends, newest-first windows per user, and id-ordered scans used
// by the backfill jobs.
package repo

import (
	"context"
	"time"

	"github.com/rs/xid"
	"gorm.io/gorm"

	"github.com/athenaai/athena/internal/domain"
)

// CreateMessage inserts a message row. ID and CreatedAt are assigned when
// empty; xid keeps ids ordered by insertion within a process.
func CreateMessage(ctx context.Context, db *gorm.DB, m *domain.Message) error {
	if m.ID == "" {
		m.ID = xid.New().String()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	if m.SourceTimestamp.IsZero() {
		m.SourceTimestamp = m.CreatedAt
	}
	return db.WithContext(ctx).Create(m).Error
}

// GetMessage fetches a message by ID.
func GetMessage(ctx context.Context, db *gorm.DB, id string) (*domain.Message, error) {
	var m domain.Message
	if err := db.WithContext(ctx).Where("id = ?", id).Take(&m).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

// ListRecentMessages returns up to limit messages owned by userID, newest
// first (created_at DESC, id DESC). When beforeID is non-empty only rows
// strictly older than (beforeAt, beforeID) are returned, which makes the
// window restartable from the oldest row of the previous page.
func ListRecentMessages(ctx context.Context, db *gorm.DB, userID string, beforeAt time.Time, beforeID string, limit int) ([]domain.Message, error) {
	var out []domain.Message
	q := db.WithContext(ctx).Where("canonical_user_id = ?", userID)
	if beforeID != "" {
		q = q.Where("(created_at < ?) OR (created_at = ? AND id < ?)", beforeAt, beforeAt, beforeID)
	}
	err := q.Order("created_at DESC, id DESC").Limit(limit).Find(&out).Error
	return out, err
}

// CountMessages uses a raw COUNT so a missing table surfaces as an error (as tests expect).
func CountMessages(ctx context.Context, db *gorm.DB, userID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).Raw("SELECT COUNT(*) FROM messages WHERE canonical_user_id = ?", userID).Scan(&total).Error
	return total, err
}

// ListMessagesAfter returns up to limit messages with id > afterID in
// ascending id order. An empty afterID starts from the beginning.
func ListMessagesAfter(ctx context.Context, db *gorm.DB, afterID string, limit int) ([]domain.Message, error) {
	var out []domain.Message
	q := db.WithContext(ctx)
	if afterID != "" {
		q = q.Where("id > ?", afterID)
	}
	err := q.Order("id ASC").Limit(limit).Find(&out).Error
	return out, err
}

// SetMessageOwner assigns a canonical owner to a legacy message. The update
// only applies while the row is still unowned, so re-running it is a no-op;
// the returned count is 0 in that case.
func SetMessageOwner(ctx context.Context, db *gorm.DB, id, canonicalUserID string) (int64, error) {
	res := db.WithContext(ctx).
		Model(&domain.Message{}).
		Where("id = ? AND canonical_user_id = ?", id, "").
		Update("canonical_user_id", canonicalUserID)
	return res.RowsAffected, res.Error
}

// LegacyIdentity is one distinct (platform, legacy user id) pair found on
// unowned messages, with a username seen on one of them.
type LegacyIdentity struct {
	Platform     string
	LegacyUserID string
	Username     string
}

// ListLegacyIdentities pages distinct platform identities of unowned messages
// in (platform, legacy_user_id) order, starting after the given pair.
func ListLegacyIdentities(ctx context.Context, db *gorm.DB, afterPlatform, afterUserID string, limit int) ([]LegacyIdentity, error) {
	var out []LegacyIdentity
	q := db.WithContext(ctx).
		Model(&domain.Message{}).
		Select("platform, legacy_user_id, MAX(username) AS username").
		Where("canonical_user_id = ? AND legacy_user_id <> ?", "", "")
	if afterPlatform != "" || afterUserID != "" {
		q = q.Where("(platform > ?) OR (platform = ? AND legacy_user_id > ?)", afterPlatform, afterPlatform, afterUserID)
	}
	err := q.Group("platform, legacy_user_id").
		Order("platform ASC, legacy_user_id ASC").
		Limit(limit).
		Scan(&out).Error
	return out, err
}
