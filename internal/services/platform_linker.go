// Package services – PlatformLinker
//
// PlatformLinker attaches an additional platform identity to an existing
// canonical user (for example a mobile device of a known Discord user) and
// keeps the per-platform activity rows fresh.
package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/athenaai/athena/internal/domain"
	"github.com/athenaai/athena/internal/repo"
)

// PlatformLinker links platform identities to canonical users.
type PlatformLinker struct {
	Store IdentityStore
	Retry RetryPolicy
	// DB is used by Touch for the single-row activity update.
	DB *gorm.DB
}

// NewPlatformLinker wires a linker over store and db.
func NewPlatformLinker(store IdentityStore, db *gorm.DB, retry RetryPolicy) *PlatformLinker {
	return &PlatformLinker{Store: store, DB: db, Retry: retry}
}

// Link makes (platform, platformUserID) resolve to canonicalUserID.
//
//   - Unknown user: ErrUserNotFound.
//   - Already linked to the same user: no-op.
//   - Linked to another user: ErrIdentityConflict.
//
// Otherwise the link and the user's row for that platform are written in one
// transaction. Rows for other platforms are left alone.
func (l *PlatformLinker) Link(ctx context.Context, canonicalUserID, platform, platformUserID string) error {
	platform = domain.NormalizePlatform(platform)
	platformUserID = strings.TrimSpace(platformUserID)

	tr := otel.Tracer("services/PlatformLinker")
	ctx, span := tr.Start(ctx, "Link",
		trace.WithAttributes(
			attribute.String("canonical_user.id", canonicalUserID),
			attribute.String("platform", platform),
		),
	)
	defer span.End()

	if platform == "" || platformUserID == "" {
		return ErrInvalidIdentity
	}

	created := false
	err := l.Retry.runTx(ctx, "link", func() error {
		created = false
		return l.Store.Transaction(ctx, func(tx IdentityStore) error {
			u, err := tx.GetUser(ctx, canonicalUserID)
			if repo.IsNotFound(err) {
				return ErrUserNotFound
			}
			if err != nil {
				return err
			}

			existing, err := tx.GetLink(ctx, platform, platformUserID)
			if err == nil {
				if existing.CanonicalUserID == u.ID {
					return nil
				}
				return fmt.Errorf("%w: %s/%s", ErrIdentityConflict, platform, platformUserID)
			}
			if !repo.IsNotFound(err) {
				return err
			}

			now := time.Now().UTC()
			if err := tx.CreateLink(ctx, &domain.PlatformLink{
				Platform:        platform,
				PlatformUserID:  platformUserID,
				CanonicalUserID: u.ID,
				Username:        u.DisplayName,
				LinkedAt:        now,
			}); err != nil {
				return err
			}
			if err := tx.UpsertPlatform(ctx, &domain.UserPlatform{
				UserID:         u.ID,
				Platform:       platform,
				PlatformUserID: platformUserID,
				LastActiveAt:   now,
			}); err != nil {
				return err
			}
			created = true
			return nil
		})
	})
	if err != nil {
		span.RecordError(err)
		return err
	}
	if created {
		log.Ctx(ctx).Info().
			Str("canonical_user_id", canonicalUserID).
			Str("platform", platform).
			Msg("platform identity linked")
	}
	return nil
}

// Touch records activity on one platform for a user. It upserts only that
// platform's row and never moves last_active_at backwards. Failures are
// returned for logging; callers treat them as best-effort.
func (l *PlatformLinker) Touch(ctx context.Context, canonicalUserID, platform, platformUserID string, at time.Time) error {
	platform = domain.NormalizePlatform(platform)
	if canonicalUserID == "" || platform == "" {
		return ErrInvalidIdentity
	}
	at = at.UTC()

	err := repo.TouchPlatform(ctx, l.DB, canonicalUserID, platform, at)
	if repo.IsNotFound(err) {
		err = repo.UpsertPlatform(ctx, l.DB, &domain.UserPlatform{
			UserID:         canonicalUserID,
			Platform:       platform,
			PlatformUserID: strings.TrimSpace(platformUserID),
			LastActiveAt:   at,
		})
	}
	if err != nil {
		return fmt.Errorf("%w: touch platform: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// User returns a canonical user with its platform rows and links.
func (l *PlatformLinker) User(ctx context.Context, canonicalUserID string) (*domain.CanonicalUser, []domain.PlatformLink, error) {
	u, err := l.Store.GetUser(ctx, canonicalUserID)
	if repo.IsNotFound(err) {
		return nil, nil, ErrUserNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("%w: get user: %v", ErrStoreUnavailable, err)
	}
	links, err := repo.ListLinks(ctx, l.DB, canonicalUserID)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: list links: %v", ErrStoreUnavailable, err)
	}
	return u, links, nil
}
