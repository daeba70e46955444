package services

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/athenaai/athena/internal/repo"
)

// EventStore remembers which inbound chat events were already answered, so a
// redelivered event is not answered twice.
type EventStore interface {
	Seen(ctx context.Context, platform, eventID string) (bool, error)
	Mark(ctx context.Context, platform, eventID, messageID string) error
}

// GormEventStore keeps processed events in the processed_events table for TTL.
type GormEventStore struct {
	DB  *gorm.DB
	TTL time.Duration
}

func (s GormEventStore) Seen(ctx context.Context, platform, eventID string) (bool, error) {
	if eventID == "" {
		return false, nil
	}
	_, err := repo.GetProcessedEvent(ctx, s.DB, platform, eventID, time.Now().UTC())
	if repo.IsNotFound(err) {
		return false, nil
	}
	return err == nil, err
}

func (s GormEventStore) Mark(ctx context.Context, platform, eventID, messageID string) error {
	if eventID == "" {
		return nil
	}
	ttl := s.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	_, err := repo.CreateProcessedEvent(ctx, s.DB, platform, eventID, messageID, ttl)
	if repo.IsDuplicate(err) {
		return nil
	}
	return err
}
