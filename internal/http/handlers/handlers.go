package handlers

import (
	"context"

	"github.com/athenaai/athena/internal/domain"
	"github.com/athenaai/athena/internal/services"
)

// IdentityService resolves platform identities to canonical users.
type IdentityService interface {
	ResolveDetailed(ctx context.Context, platform, platformUserID, displayNameHint string) (services.Resolution, error)
}

// LinkService reads canonical users and links further platform identities.
type LinkService interface {
	User(ctx context.Context, canonicalUserID string) (*domain.CanonicalUser, []domain.PlatformLink, error)
	Link(ctx context.Context, canonicalUserID, platform, platformUserID string) error
}

// LedgerService pages a user's conversation history.
type LedgerService interface {
	LoadRecent(ctx context.Context, userID string, limit int, cursor string) (services.Page, error)
}

// BackfillService runs the ledger owner migration.
type BackfillService interface {
	Migrate(ctx context.Context, pageSize int) (services.Report, error)
	Resume(ctx context.Context, pageSize int) (services.Report, error)
}

var (
	_ IdentityService = (*services.IdentityResolver)(nil)
	_ LinkService     = (*services.PlatformLinker)(nil)
	_ LedgerService   = (*services.Ledger)(nil)
	_ BackfillService = (*services.Backfill)(nil)
)

// Handlers groups the admin API endpoints.
type Handlers struct {
	identity IdentityService
	links    LinkService
	ledger   LedgerService
	backfill BackfillService

	// DefaultPageSize applies to POST /backfill when the body names none.
	DefaultPageSize int
}

// New binds handlers to their services.
func New(identity IdentityService, links LinkService, ledger LedgerService, backfill BackfillService) *Handlers {
	return &Handlers{identity: identity, links: links, ledger: ledger, backfill: backfill, DefaultPageSize: 500}
}
