package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/athenaai/athena/internal/repo"
	"github.com/athenaai/athena/internal/services"
)

// Job names.
const (
	JobKnowledgeRefresh = "knowledge-refresh"
	JobBackfill         = "backfill"
	JobPurgeEvents      = "purge-events"
)

// Refresher reloads a cached source.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// Resumer continues an interrupted backfill.
type Resumer interface {
	Resume(ctx context.Context, pageSize int) (services.Report, error)
}

// RefreshKnowledge reloads the knowledge cache.
func RefreshKnowledge(r Refresher) JobFunc {
	return r.Refresh
}

// ResumeBackfill continues the ledger owner migration from its checkpoint.
// A run already in progress (for example one started over HTTP) is not an
// error.
func ResumeBackfill(b Resumer, pageSize int) JobFunc {
	return func(ctx context.Context) error {
		rep, err := b.Resume(ctx, pageSize)
		if errors.Is(err, services.ErrBackfillRunning) {
			log.Ctx(ctx).Debug().Msg("backfill already running")
			return nil
		}
		if err != nil {
			return err
		}
		log.Ctx(ctx).Info().
			Int("scanned", rep.Scanned).
			Int("updated", rep.Updated).
			Bool("completed", rep.Completed).
			Msg("scheduled backfill pass")
		return nil
	}
}

// PurgeEvents deletes expired processed-event records.
func PurgeEvents(db *gorm.DB) JobFunc {
	return func(ctx context.Context) error {
		n, err := repo.PurgeExpiredEvents(ctx, db, time.Now().UTC())
		if err != nil {
			return err
		}
		if n > 0 {
			log.Ctx(ctx).Info().Int64("purged", n).Msg("expired events purged")
		}
		return nil
	}
}
