// Package services – Backfill
//
// Backfill assigns canonical owners to ledger rows written before identities
// were centralized. Those rows carry only the platform-scoped user id. The
// job pages through the ledger by id, maps each legacy row through the link
// index, and updates it only while it is still unowned, so it can be re-run
// or resumed at any time without changing its outcome.
package services

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/athenaai/athena/internal/domain"
	"github.com/athenaai/athena/internal/observability"
	"github.com/athenaai/athena/internal/repo"
)

const (
	// DefaultBackfillJob names the checkpoint row of the ledger migration.
	DefaultBackfillJob      = "ledger-owner"
	defaultBackfillPageSize = 500
)

// BackfillStore is the persistence contract of Backfill.
type BackfillStore interface {
	MessagesAfter(ctx context.Context, afterID string, limit int) ([]domain.Message, error)
	GetLink(ctx context.Context, platform, platformUserID string) (*domain.PlatformLink, error)
	// SetOwner reports whether the row was still unowned and got updated.
	SetOwner(ctx context.Context, messageID, canonicalUserID string) (bool, error)
	LoadCheckpoint(ctx context.Context, job string) (string, error)
	SaveCheckpoint(ctx context.Context, job, cursor string) error
	ClearCheckpoint(ctx context.Context, job string) error
}

// GormBackfillStore implements BackfillStore on top of the repo package.
type GormBackfillStore struct {
	DB *gorm.DB
}

var _ BackfillStore = GormBackfillStore{}

func (s GormBackfillStore) MessagesAfter(ctx context.Context, afterID string, limit int) ([]domain.Message, error) {
	return repo.ListMessagesAfter(ctx, s.DB, afterID, limit)
}

func (s GormBackfillStore) GetLink(ctx context.Context, platform, platformUserID string) (*domain.PlatformLink, error) {
	return repo.GetLink(ctx, s.DB, platform, platformUserID)
}

func (s GormBackfillStore) SetOwner(ctx context.Context, messageID, canonicalUserID string) (bool, error) {
	n, err := repo.SetMessageOwner(ctx, s.DB, messageID, canonicalUserID)
	return n > 0, err
}

func (s GormBackfillStore) LoadCheckpoint(ctx context.Context, job string) (string, error) {
	return repo.GetCheckpoint(ctx, s.DB, job)
}

func (s GormBackfillStore) SaveCheckpoint(ctx context.Context, job, cursor string) error {
	return repo.SaveCheckpoint(ctx, s.DB, job, cursor)
}

func (s GormBackfillStore) ClearCheckpoint(ctx context.Context, job string) error {
	return repo.DeleteCheckpoint(ctx, s.DB, job)
}

// Report summarizes one backfill run.
type Report struct {
	Scanned         int    `json:"scanned"`
	Updated         int    `json:"updated"`
	Skipped         int    `json:"skipped"`
	AlreadyMigrated int    `json:"already_migrated"`
	Failed          int    `json:"failed"`
	Cursor          string `json:"cursor,omitempty"`
	Completed       bool   `json:"completed"`
}

// Backfill migrates legacy ledger rows to canonical owners.
type Backfill struct {
	Store BackfillStore
	Job   string

	running atomic.Bool
}

// NewBackfill returns a Backfill for the default job.
func NewBackfill(store BackfillStore) *Backfill {
	return &Backfill{Store: store, Job: DefaultBackfillJob}
}

// Migrate runs over the whole ledger from the beginning.
func (b *Backfill) Migrate(ctx context.Context, pageSize int) (Report, error) {
	return b.MigrateFrom(ctx, "", pageSize)
}

// Resume continues from the last saved checkpoint, or starts over when none
// exists.
func (b *Backfill) Resume(ctx context.Context, pageSize int) (Report, error) {
	cursor, err := b.Store.LoadCheckpoint(ctx, b.job())
	if err != nil {
		return Report{}, fmt.Errorf("%w: load checkpoint: %v", ErrStoreUnavailable, err)
	}
	return b.MigrateFrom(ctx, cursor, pageSize)
}

// MigrateFrom processes rows with id greater than cursor. Cancellation is
// honored between pages; the cursor of the last finished page is saved so a
// later Resume picks up there. Per-record failures are counted and skipped.
func (b *Backfill) MigrateFrom(ctx context.Context, cursor string, pageSize int) (rep Report, err error) {
	if !b.running.CompareAndSwap(false, true) {
		return Report{}, ErrBackfillRunning
	}
	defer b.running.Store(false)

	if pageSize <= 0 {
		pageSize = defaultBackfillPageSize
	}

	tr := otel.Tracer("services/Backfill")
	ctx, span := tr.Start(ctx, "Migrate",
		trace.WithAttributes(
			attribute.String("backfill.job", b.job()),
			attribute.String("backfill.cursor", cursor),
			attribute.Int("page_size", pageSize),
		),
	)
	defer func() {
		span.SetAttributes(
			attribute.Int("backfill.scanned", rep.Scanned),
			attribute.Int("backfill.updated", rep.Updated),
			attribute.Int("backfill.failed", rep.Failed),
		)
		if err != nil {
			span.RecordError(err)
		}
		span.End()
	}()

	logger := log.Ctx(ctx).With().Str("job", b.job()).Logger()
	rep.Cursor = cursor

	for {
		if err := ctx.Err(); err != nil {
			logger.Warn().Str("cursor", rep.Cursor).Msg("backfill interrupted")
			return rep, err
		}

		page, err := b.Store.MessagesAfter(ctx, rep.Cursor, pageSize)
		if err != nil {
			return rep, fmt.Errorf("%w: read page after %q: %v", ErrStoreUnavailable, rep.Cursor, err)
		}
		if len(page) == 0 {
			break
		}

		var pr Report
		for i := range page {
			b.migrateOne(ctx, &page[i], &pr)
		}
		rep.Scanned += pr.Scanned
		rep.Updated += pr.Updated
		rep.Skipped += pr.Skipped
		rep.AlreadyMigrated += pr.AlreadyMigrated
		rep.Failed += pr.Failed
		observability.ObserveBackfill("updated", pr.Updated)
		observability.ObserveBackfill("skipped", pr.Skipped)
		observability.ObserveBackfill("already_migrated", pr.AlreadyMigrated)
		observability.ObserveBackfill("failed", pr.Failed)

		rep.Cursor = page[len(page)-1].ID
		if err := b.Store.SaveCheckpoint(ctx, b.job(), rep.Cursor); err != nil {
			logger.Warn().Err(err).Str("cursor", rep.Cursor).Msg("checkpoint not saved")
		}
		if len(page) < pageSize {
			break
		}
	}

	rep.Completed = true
	if err := b.Store.ClearCheckpoint(ctx, b.job()); err != nil {
		logger.Warn().Err(err).Msg("checkpoint not cleared")
	}
	logger.Info().
		Int("scanned", rep.Scanned).
		Int("updated", rep.Updated).
		Int("skipped", rep.Skipped).
		Int("already_migrated", rep.AlreadyMigrated).
		Int("failed", rep.Failed).
		Msg("backfill finished")
	return rep, nil
}

func (b *Backfill) migrateOne(ctx context.Context, m *domain.Message, rep *Report) {
	rep.Scanned++
	if !m.IsLegacy() {
		rep.AlreadyMigrated++
		return
	}
	logger := log.Ctx(ctx).With().Str("message_id", m.ID).Str("platform", m.Platform).Logger()

	if m.LegacyUserID == "" {
		rep.Skipped++
		logger.Debug().Msg("record skipped: no platform user id")
		return
	}

	link, err := b.Store.GetLink(ctx, domain.NormalizePlatform(m.Platform), m.LegacyUserID)
	if repo.IsNotFound(err) {
		rep.Skipped++
		logger.Debug().Str("platform_user_id", m.LegacyUserID).Msg("record skipped: no link")
		return
	}
	if err != nil {
		rep.Failed++
		logger.Error().Err(err).Msg("backfill record failed")
		return
	}

	updated, err := b.Store.SetOwner(ctx, m.ID, link.CanonicalUserID)
	switch {
	case err != nil:
		rep.Failed++
		logger.Error().Err(err).Msg("backfill record failed")
	case updated:
		rep.Updated++
	default:
		// Owned by a concurrent writer since the page was read.
		rep.AlreadyMigrated++
	}
}

func (b *Backfill) job() string {
	if b.Job == "" {
		return DefaultBackfillJob
	}
	return b.Job
}
