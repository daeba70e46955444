// Package services – Centralizer
//
// Centralizer promotes platform identities that only appear on legacy ledger
// rows to canonical users, so a following Backfill can move their history.
// Each identity goes through IdentityResolver, which makes re-runs harmless.
package services

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/athenaai/athena/internal/observability"
	"github.com/athenaai/athena/internal/repo"
)

// Resolver is the part of IdentityResolver other services depend on.
type Resolver interface {
	ResolveDetailed(ctx context.Context, platform, platformUserID, displayNameHint string) (Resolution, error)
}

var _ Resolver = (*IdentityResolver)(nil)

// PromoteReport summarizes one Centralizer run.
type PromoteReport struct {
	Identities int `json:"identities"`
	Created    int `json:"created"`
	Existing   int `json:"existing"`
	Failed     int `json:"failed"`
}

// Centralizer creates canonical users for legacy identities.
type Centralizer struct {
	DB       *gorm.DB
	Resolver Resolver
}

// NewCentralizer wires a Centralizer.
func NewCentralizer(db *gorm.DB, r Resolver) *Centralizer {
	return &Centralizer{DB: db, Resolver: r}
}

// PromoteLegacy resolves every distinct (platform, legacy user id) found on
// unowned ledger rows, using the stored username as display-name hint.
func (c *Centralizer) PromoteLegacy(ctx context.Context, pageSize int) (rep PromoteReport, err error) {
	if pageSize <= 0 {
		pageSize = defaultBackfillPageSize
	}
	tr := otel.Tracer("services/Centralizer")
	ctx, span := tr.Start(ctx, "PromoteLegacy", trace.WithAttributes(attribute.Int("page_size", pageSize)))
	defer span.End()

	var afterPlatform, afterUser string
	for {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		ids, err := repo.ListLegacyIdentities(ctx, c.DB, afterPlatform, afterUser, pageSize)
		if err != nil {
			span.RecordError(err)
			return rep, fmt.Errorf("%w: list legacy identities: %v", ErrStoreUnavailable, err)
		}
		for _, id := range ids {
			rep.Identities++
			res, err := c.Resolver.ResolveDetailed(ctx, id.Platform, id.LegacyUserID, id.Username)
			switch {
			case err != nil:
				rep.Failed++
				log.Ctx(ctx).Error().Err(err).Str("platform", id.Platform).Msg("legacy identity not promoted")
			case res.Path == observability.PathCreated:
				rep.Created++
			default:
				rep.Existing++
			}
		}
		if len(ids) < pageSize {
			break
		}
		last := ids[len(ids)-1]
		afterPlatform, afterUser = last.Platform, last.LegacyUserID
	}

	log.Ctx(ctx).Info().
		Int("identities", rep.Identities).
		Int("created", rep.Created).
		Int("existing", rep.Existing).
		Int("failed", rep.Failed).
		Msg("legacy identities promoted")
	return rep, nil
}
