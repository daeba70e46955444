// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for canonical
// users, their platform rows, and the platform link index.
//
// All functions accept a *gorm.DB handle, so they run unchanged inside a
// transaction (pass the tx) or on the pool. They follow the "thin
// repository" approach: persistence and query composition only; the
// get-or-create protocol lives in services.IdentityResolver.
//
// Error semantics:
//   - Missing rows return ErrNotFound (gorm.ErrRecordNotFound).
//   - Inserting a link or user whose key already exists returns ErrDuplicate.
//   - Other DB errors are propagated unchanged.
package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/athenaai/athena/internal/domain"
)

// GetLink returns the link for (platform, platformUserID) or ErrNotFound.
func GetLink(ctx context.Context, db *gorm.DB, platform, platformUserID string) (*domain.PlatformLink, error) {
	var l domain.PlatformLink
	err := db.WithContext(ctx).
		Where("platform = ? AND platform_user_id = ?", platform, platformUserID).
		Take(&l).Error
	if err != nil {
		return nil, err
	}
	return &l, nil
}

// CreateLink inserts a new link. An existing link for the same platform
// identity yields ErrDuplicate; links are never overwritten.
func CreateLink(ctx context.Context, db *gorm.DB, l *domain.PlatformLink) error {
	if l.LinkedAt.IsZero() {
		l.LinkedAt = time.Now().UTC()
	}
	if err := db.WithContext(ctx).Create(l).Error; err != nil {
		if IsDuplicate(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// ListLinks returns every platform identity linked to a canonical user,
// ordered by platform then platform user id.
func ListLinks(ctx context.Context, db *gorm.DB, canonicalUserID string) ([]domain.PlatformLink, error) {
	var out []domain.PlatformLink
	err := db.WithContext(ctx).
		Where("canonical_user_id = ?", canonicalUserID).
		Order("platform ASC, platform_user_id ASC").
		Find(&out).Error
	return out, err
}

// CreateUser inserts a canonical user row.
func CreateUser(ctx context.Context, db *gorm.DB, u *domain.CanonicalUser) error {
	now := time.Now().UTC()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	if u.UpdatedAt.IsZero() {
		u.UpdatedAt = u.CreatedAt
	}
	if u.Timezone == "" {
		u.Timezone = "UTC"
	}
	// Platforms are written explicitly via UpsertPlatform.
	if err := db.WithContext(ctx).Omit(clause.Associations).Create(u).Error; err != nil {
		if IsDuplicate(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// GetUser fetches a canonical user with its platform rows, or ErrNotFound.
func GetUser(ctx context.Context, db *gorm.DB, id string) (*domain.CanonicalUser, error) {
	var u domain.CanonicalUser
	err := db.WithContext(ctx).
		Preload("Platforms", func(tx *gorm.DB) *gorm.DB { return tx.Order("platform ASC") }).
		Where("id = ?", id).
		Take(&u).Error
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// UserExists reports whether a canonical user row exists.
func UserExists(ctx context.Context, db *gorm.DB, id string) (bool, error) {
	var n int64
	err := db.WithContext(ctx).Model(&domain.CanonicalUser{}).Where("id = ?", id).Count(&n).Error
	return n > 0, err
}

// CountUsers returns the number of canonical users.
func CountUsers(ctx context.Context, db *gorm.DB) (int64, error) {
	var n int64
	err := db.WithContext(ctx).Model(&domain.CanonicalUser{}).Count(&n).Error
	return n, err
}

// UpsertPlatform writes exactly one (user, platform) row. On conflict only
// that row's platform_user_id and last_active_at are replaced; rows for other
// platforms are never touched.
func UpsertPlatform(ctx context.Context, db *gorm.DB, p *domain.UserPlatform) error {
	if p.LastActiveAt.IsZero() {
		p.LastActiveAt = time.Now().UTC()
	}
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "platform"}},
		DoUpdates: clause.AssignmentColumns([]string{"platform_user_id", "last_active_at"}),
	}).Create(p).Error
}

// TouchPlatform bumps last_active_at for an existing (user, platform) row.
// It returns ErrNotFound when the row does not exist.
func TouchPlatform(ctx context.Context, db *gorm.DB, userID, platform string, at time.Time) error {
	res := db.WithContext(ctx).
		Model(&domain.UserPlatform{}).
		Where("user_id = ? AND platform = ? AND last_active_at < ?", userID, platform, at).
		Update("last_active_at", at)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		var n int64
		if err := db.WithContext(ctx).Model(&domain.UserPlatform{}).
			Where("user_id = ? AND platform = ?", userID, platform).Count(&n).Error; err != nil {
			return err
		}
		if n == 0 {
			return ErrNotFound
		}
	}
	return nil
}

// IsNotFound reports whether err is ErrNotFound.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }
