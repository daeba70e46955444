// Package services – IdentityResolver
//
// IdentityResolver maps a platform-scoped identity (platform, platform user
// id) to the one canonical user id that owns it, creating the user on first
// sight. The protocol is a lock-free fast read, then a transactional
// re-check, then an atomic create of user, platform row and link. The link's
// primary key is the only arbiter between concurrent first contacts: the
// loser's insert fails, its transaction is retried, and the re-check returns
// the winner's id.
package services

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/athenaai/athena/internal/domain"
	"github.com/athenaai/athena/internal/observability"
	"github.com/athenaai/athena/internal/repo"
)

// IdentityResolver implements get-or-create of canonical users.
type IdentityResolver struct {
	Store IdentityStore
	Retry RetryPolicy
	// Cache is optional; nil disables it.
	Cache *LinkCache

	now func() time.Time
}

// NewIdentityResolver wires a resolver over store.
func NewIdentityResolver(store IdentityStore, retry RetryPolicy, cache *LinkCache) *IdentityResolver {
	return &IdentityResolver{Store: store, Retry: retry, Cache: cache, now: time.Now}
}

// Resolution describes how a Resolve call was satisfied.
type Resolution struct {
	CanonicalUserID string
	Path            string
}

// Resolve returns the canonical id for (platform, platformUserID). The
// display-name hint is only used when a new user is created.
func (r *IdentityResolver) Resolve(ctx context.Context, platform, platformUserID, displayNameHint string) (string, error) {
	res, err := r.ResolveDetailed(ctx, platform, platformUserID, displayNameHint)
	return res.CanonicalUserID, err
}

// ResolveDetailed is Resolve plus the path that produced the answer.
func (r *IdentityResolver) ResolveDetailed(ctx context.Context, platform, platformUserID, displayNameHint string) (res Resolution, err error) {
	platform = domain.NormalizePlatform(platform)
	platformUserID = strings.TrimSpace(platformUserID)

	tr := otel.Tracer("services/IdentityResolver")
	ctx, span := tr.Start(ctx, "Resolve",
		trace.WithAttributes(
			attribute.String("platform", platform),
			attribute.String("platform.user_id", platformUserID),
		),
	)
	defer func() {
		observability.ObserveResolution(res.Path, err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetAttributes(
				attribute.String("canonical_user.id", res.CanonicalUserID),
				attribute.String("resolve.path", res.Path),
			)
		}
		span.End()
	}()

	if platform == "" || platformUserID == "" {
		return Resolution{}, ErrInvalidIdentity
	}

	if id, ok := r.Cache.Get(platform, platformUserID); ok {
		return Resolution{CanonicalUserID: id, Path: observability.PathFast}, nil
	}

	// Fast path: a plain read, no transaction, no writes.
	link, err := r.Store.GetLink(ctx, platform, platformUserID)
	switch {
	case err == nil:
		r.Cache.Put(platform, platformUserID, link.CanonicalUserID)
		return Resolution{CanonicalUserID: link.CanonicalUserID, Path: observability.PathFast}, nil
	case !repo.IsNotFound(err):
		// The slow path re-reads under retry, so a failed fast read is not fatal.
		log.Ctx(ctx).Warn().Err(err).Str("platform", platform).Msg("fast link read failed")
	}

	displayName := domain.NormalizeDisplayName(displayNameHint)
	if displayName == "" {
		displayName = platform + "User"
	}

	err = r.Retry.runTx(ctx, "resolve", func() error {
		return r.Store.Transaction(ctx, func(tx IdentityStore) error {
			link, err := tx.GetLink(ctx, platform, platformUserID)
			if err == nil {
				res = Resolution{CanonicalUserID: link.CanonicalUserID, Path: observability.PathRecheck}
				return nil
			}
			if !repo.IsNotFound(err) {
				return err
			}

			now := r.clock().UTC()
			u := &domain.CanonicalUser{
				ID:          uuid.NewString(),
				DisplayName: displayName,
				Timezone:    "UTC",
				CreatedAt:   now,
				UpdatedAt:   now,
			}
			if err := tx.CreateUser(ctx, u); err != nil {
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
			if err := tx.CreateLink(ctx, &domain.PlatformLink{
				Platform:        platform,
				PlatformUserID:  platformUserID,
				CanonicalUserID: u.ID,
				Username:        displayName,
				LinkedAt:        now,
			}); err != nil {
				return err
			}
			res = Resolution{CanonicalUserID: u.ID, Path: observability.PathCreated}
			return nil
		})
	})
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Str("platform", platform).Msg("identity resolution failed")
		return Resolution{}, err
	}

	if res.Path == observability.PathCreated {
		log.Ctx(ctx).Info().
			Str("platform", platform).
			Str("canonical_user_id", res.CanonicalUserID).
			Msg("canonical user created")
	}
	r.Cache.Put(platform, platformUserID, res.CanonicalUserID)
	return res, nil
}

func (r *IdentityResolver) clock() time.Time {
	if r.now == nil {
		return time.Now()
	}
	return r.now()
}
