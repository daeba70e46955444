package services

import (
	"context"

	"gorm.io/gorm"

	"github.com/athenaai/athena/internal/domain"
	"github.com/athenaai/athena/internal/repo"
)

// IdentityStore is the persistence contract of the identity resolver and the
// platform linker. Implementations must make writes issued through the tx
// handed to Transaction atomic.
type IdentityStore interface {
	GetLink(ctx context.Context, platform, platformUserID string) (*domain.PlatformLink, error)
	GetUser(ctx context.Context, id string) (*domain.CanonicalUser, error)
	CreateUser(ctx context.Context, u *domain.CanonicalUser) error
	CreateLink(ctx context.Context, l *domain.PlatformLink) error
	UpsertPlatform(ctx context.Context, p *domain.UserPlatform) error
	Transaction(ctx context.Context, fn func(tx IdentityStore) error) error
}

// GormIdentityStore implements IdentityStore on top of the repo package.
type GormIdentityStore struct {
	DB *gorm.DB
}

var _ IdentityStore = GormIdentityStore{}

func (s GormIdentityStore) GetLink(ctx context.Context, platform, platformUserID string) (*domain.PlatformLink, error) {
	return repo.GetLink(ctx, s.DB, platform, platformUserID)
}

func (s GormIdentityStore) GetUser(ctx context.Context, id string) (*domain.CanonicalUser, error) {
	return repo.GetUser(ctx, s.DB, id)
}

func (s GormIdentityStore) CreateUser(ctx context.Context, u *domain.CanonicalUser) error {
	return repo.CreateUser(ctx, s.DB, u)
}

func (s GormIdentityStore) CreateLink(ctx context.Context, l *domain.PlatformLink) error {
	return repo.CreateLink(ctx, s.DB, l)
}

func (s GormIdentityStore) UpsertPlatform(ctx context.Context, p *domain.UserPlatform) error {
	return repo.UpsertPlatform(ctx, s.DB, p)
}

func (s GormIdentityStore) Transaction(ctx context.Context, fn func(tx IdentityStore) error) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(GormIdentityStore{DB: tx})
	})
}
