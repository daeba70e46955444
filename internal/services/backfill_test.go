package services

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/athenaai/athena/internal/domain"
	"github.com/athenaai/athena/internal/repo"
)

// seedLegacy writes unowned ledger rows the way the bot stored them before
// identities were centralized.
func seedLegacy(t *testing.T, db *gorm.DB, platform, legacyUserID string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, repo.CreateMessage(context.Background(), db, &domain.Message{
			Platform:     platform,
			LegacyUserID: legacyUserID,
			Username:     legacyUserID + "-name",
			Text:         fmt.Sprintf("legacy %s %d", legacyUserID, i),
		}))
	}
}

func owners(t *testing.T, db *gorm.DB) map[string]string {
	t.Helper()
	var rows []domain.Message
	require.NoError(t, db.Order("id").Find(&rows).Error)
	out := make(map[string]string, len(rows))
	for _, m := range rows {
		out[m.ID] = m.CanonicalUserID
	}
	return out
}

func TestBackfill_MigratesLinkedRowsOnly(t *testing.T) {
	ctx := context.Background()
	db := newServiceDB(t)
	r := NewIdentityResolver(GormIdentityStore{DB: db}, testRetry(), nil)
	c1, err := r.Resolve(ctx, "discord", "U1", "")
	require.NoError(t, err)

	seedLegacy(t, db, "discord", "U1", 4)
	seedLegacy(t, db, "discord", "U9", 2) // never linked
	_, err = NewLedger(db).Append(ctx, AppendInput{CanonicalUserID: c1, Platform: "discord", Text: "new"})
	require.NoError(t, err)

	b := NewBackfill(GormBackfillStore{DB: db})
	rep, err := b.Migrate(ctx, 3)
	require.NoError(t, err)
	require.Equal(t, Report{Scanned: 7, Updated: 4, Skipped: 2, AlreadyMigrated: 1, Cursor: rep.Cursor, Completed: true}, rep)

	n, err := repo.CountMessages(ctx, db, c1)
	require.NoError(t, err)
	require.EqualValues(t, 5, n)

	cp, err := repo.GetCheckpoint(ctx, db, DefaultBackfillJob)
	require.NoError(t, err)
	require.Empty(t, cp, "a finished run clears its checkpoint")
}

func TestBackfill_IsIdempotent(t *testing.T) {
	ctx := context.Background()
	db := newServiceDB(t)
	_, err := NewIdentityResolver(GormIdentityStore{DB: db}, testRetry(), nil).Resolve(ctx, "discord", "U1", "")
	require.NoError(t, err)
	seedLegacy(t, db, "discord", "U1", 5)

	b := NewBackfill(GormBackfillStore{DB: db})
	first, err := b.Migrate(ctx, 2)
	require.NoError(t, err)
	require.Equal(t, 5, first.Updated)
	snapshot := owners(t, db)

	second, err := b.Migrate(ctx, 2)
	require.NoError(t, err)
	require.Zero(t, second.Updated)
	require.Equal(t, 5, second.AlreadyMigrated)
	require.Equal(t, snapshot, owners(t, db))
}

// flakyStore fails SetOwner for one message id.
type flakyStore struct {
	BackfillStore
	failID string
}

func (s flakyStore) SetOwner(ctx context.Context, messageID, canonicalUserID string) (bool, error) {
	if messageID == s.failID {
		return false, errors.New("write timeout")
	}
	return s.BackfillStore.SetOwner(ctx, messageID, canonicalUserID)
}

func TestBackfill_ToleratesRecordFailure(t *testing.T) {
	ctx := context.Background()
	db := newServiceDB(t)
	_, err := NewIdentityResolver(GormIdentityStore{DB: db}, testRetry(), nil).Resolve(ctx, "discord", "U1", "")
	require.NoError(t, err)
	seedLegacy(t, db, "discord", "U1", 8)

	all, err := repo.ListMessagesAfter(ctx, db, "", 100)
	require.NoError(t, err)
	fifth := all[4].ID

	b := NewBackfill(flakyStore{BackfillStore: GormBackfillStore{DB: db}, failID: fifth})
	rep, err := b.Migrate(ctx, 3)
	require.NoError(t, err)
	require.Equal(t, 7, rep.Updated)
	require.Equal(t, 1, rep.Failed)
	require.True(t, rep.Completed)

	got := owners(t, db)
	require.Empty(t, got[fifth])

	// A later clean run picks up the record that failed.
	again, err := NewBackfill(GormBackfillStore{DB: db}).Migrate(ctx, 3)
	require.NoError(t, err)
	require.Equal(t, 1, again.Updated)
	require.Equal(t, 7, again.AlreadyMigrated)
}

// cancelAfterFirstPage cancels the run once the first checkpoint is saved.
type cancelAfterFirstPage struct {
	BackfillStore
	cancel context.CancelFunc
	saves  *int
}

func (s cancelAfterFirstPage) SaveCheckpoint(ctx context.Context, job, cursor string) error {
	err := s.BackfillStore.SaveCheckpoint(ctx, job, cursor)
	*s.saves++
	if *s.saves == 1 {
		s.cancel()
	}
	return err
}

func TestBackfill_InterruptAndResume(t *testing.T) {
	db := newServiceDB(t)
	_, err := NewIdentityResolver(GormIdentityStore{DB: db}, testRetry(), nil).Resolve(context.Background(), "discord", "U1", "")
	require.NoError(t, err)
	seedLegacy(t, db, "discord", "U1", 6)

	ctx, cancel := context.WithCancel(context.Background())
	saves := 0
	b := NewBackfill(cancelAfterFirstPage{BackfillStore: GormBackfillStore{DB: db}, cancel: cancel, saves: &saves})

	rep, err := b.Migrate(ctx, 2)
	require.ErrorIs(t, err, context.Canceled)
	require.False(t, rep.Completed)
	require.Equal(t, 2, rep.Updated)

	cp, err := repo.GetCheckpoint(context.Background(), db, DefaultBackfillJob)
	require.NoError(t, err)
	require.Equal(t, rep.Cursor, cp)

	resumed, err := NewBackfill(GormBackfillStore{DB: db}).Resume(context.Background(), 2)
	require.NoError(t, err)
	require.Equal(t, 4, resumed.Updated)
	require.Equal(t, 4, resumed.Scanned, "resume starts after the checkpoint")
}

func TestBackfill_RejectsConcurrentRun(t *testing.T) {
	b := NewBackfill(GormBackfillStore{DB: newServiceDB(t)})
	b.running.Store(true)
	_, err := b.Migrate(context.Background(), 10)
	require.ErrorIs(t, err, ErrBackfillRunning)
}

func TestCentralizer_PromotesThenBackfillMoves(t *testing.T) {
	ctx := context.Background()
	db := newServiceDB(t)
	r := NewIdentityResolver(GormIdentityStore{DB: db}, testRetry(), nil)
	seedLegacy(t, db, "discord", "U1", 3)
	seedLegacy(t, db, "Mobile", "dev-1", 2)
	seedLegacy(t, db, "discord", "U2", 1)

	c := NewCentralizer(db, r)
	rep, err := c.PromoteLegacy(ctx, 2)
	require.NoError(t, err)
	require.Equal(t, PromoteReport{Identities: 3, Created: 3}, rep)

	id, err := r.Resolve(ctx, "mobile", "dev-1", "")
	require.NoError(t, err)
	u, err := repo.GetUser(ctx, db, id)
	require.NoError(t, err)
	require.Equal(t, "dev-1-name", u.DisplayName)

	mig, err := NewBackfill(GormBackfillStore{DB: db}).Migrate(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, 6, mig.Updated)
	require.Zero(t, mig.Skipped)

	again, err := c.PromoteLegacy(ctx, 2)
	require.NoError(t, err)
	require.Equal(t, PromoteReport{}, again, "no legacy rows remain")

}
