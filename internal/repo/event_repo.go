// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides helpers for the ProcessedEvent model
// used to avoid answering a redelivered chat event twice.
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/athenaai/athena/internal/domain"
)

// GetProcessedEvent returns a non-expired record or ErrNotFound.
func GetProcessedEvent(ctx context.Context, db *gorm.DB, platform, eventID string, now time.Time) (*domain.ProcessedEvent, error) {
	if strings.TrimSpace(eventID) == "" {
		return nil, ErrNotFound
	}
	var rec domain.ProcessedEvent
	err := db.WithContext(ctx).
		Where("platform = ? AND event_id = ? AND expires_at > ?", platform, eventID, now).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// CreateProcessedEvent inserts a record and returns ErrDuplicate on unique violation.
func CreateProcessedEvent(ctx context.Context, db *gorm.DB, platform, eventID, messageID string, ttl time.Duration) (*domain.ProcessedEvent, error) {
	now := time.Now().UTC()
	rec := &domain.ProcessedEvent{
		ID:        uuid.NewString(),
		Platform:  platform,
		EventID:   eventID,
		MessageID: messageID,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	if err := db.WithContext(ctx).Create(rec).Error; err != nil {
		if IsDuplicate(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return rec, nil
}

// PurgeExpiredEvents deletes records whose expiry is at or before now and
// returns how many were removed.
func PurgeExpiredEvents(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	res := db.WithContext(ctx).Where("expires_at <= ?", now).Delete(&domain.ProcessedEvent{})
	return res.RowsAffected, res.Error
}
