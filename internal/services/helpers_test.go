package services

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/athenaai/athena/internal/domain"
	"github.com/athenaai/athena/internal/repo"
)

// newServiceDB opens a migrated file-backed SQLite store the way the
// application does.
func newServiceDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := repo.OpenSQLite(filepath.Join(t.TempDir(), "athena.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	require.NoError(t, repo.AutoMigrate(db))
	return db
}

// testRetry is generous enough for many goroutines contending on one SQLite
// file, and fast when nothing contends.
func testRetry() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 50,
		BaseBackoff: time.Millisecond,
		MaxBackoff:  20 * time.Millisecond,
		Budget:      30 * time.Second,
	}
}

// fakeStore is an in-memory IdentityStore with fault injection and call
// counters. Writes made inside Transaction are applied only on commit.
type fakeStore struct {
	mu        sync.Mutex
	links     map[string]domain.PlatformLink
	users     map[string]domain.CanonicalUser
	platforms map[string]domain.UserPlatform

	reads, writes, txs int

	// beforeTx may fail the n-th transaction before fn runs.
	beforeTx func(n int) error
	// onCreateLink runs inside CreateLink before the duplicate check.
	onCreateLink func(f *fakeStore, l *domain.PlatformLink)
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		links:     map[string]domain.PlatformLink{},
		users:     map[string]domain.CanonicalUser{},
		platforms: map[string]domain.UserPlatform{},
	}
}

func (f *fakeStore) counts() (reads, writes, txs int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reads, f.writes, f.txs
}

// seedLink inserts a committed user and link.
func (f *fakeStore) seedLink(platform, platformUserID, canonicalID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[canonicalID] = domain.CanonicalUser{ID: canonicalID, DisplayName: canonicalID}
	f.links[linkKey(platform, platformUserID)] = domain.PlatformLink{
		Platform: platform, PlatformUserID: platformUserID, CanonicalUserID: canonicalID,
	}
}

func (f *fakeStore) GetLink(ctx context.Context, platform, platformUserID string) (*domain.PlatformLink, error) {
	return (&fakeTx{parent: f}).GetLink(ctx, platform, platformUserID)
}

func (f *fakeStore) GetUser(ctx context.Context, id string) (*domain.CanonicalUser, error) {
	return (&fakeTx{parent: f}).GetUser(ctx, id)
}

func (f *fakeStore) CreateUser(ctx context.Context, u *domain.CanonicalUser) error {
	return f.Transaction(ctx, func(tx IdentityStore) error { return tx.CreateUser(ctx, u) })
}

func (f *fakeStore) CreateLink(ctx context.Context, l *domain.PlatformLink) error {
	return f.Transaction(ctx, func(tx IdentityStore) error { return tx.CreateLink(ctx, l) })
}

func (f *fakeStore) UpsertPlatform(ctx context.Context, p *domain.UserPlatform) error {
	return f.Transaction(ctx, func(tx IdentityStore) error { return tx.UpsertPlatform(ctx, p) })
}

func (f *fakeStore) Transaction(ctx context.Context, fn func(tx IdentityStore) error) error {
	f.mu.Lock()
	f.txs++
	n, hook := f.txs, f.beforeTx
	f.mu.Unlock()
	if hook != nil {
		if err := hook(n); err != nil {
			return err
		}
	}
	tx := &fakeTx{parent: f}
	if err := fn(tx); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range tx.users {
		f.users[u.ID] = u
	}
	for _, p := range tx.platforms {
		f.platforms[p.UserID+"/"+p.Platform] = p
	}
	for _, l := range tx.links {
		f.links[linkKey(l.Platform, l.PlatformUserID)] = l
	}
	return nil
}

type fakeTx struct {
	parent    *fakeStore
	users     []domain.CanonicalUser
	platforms []domain.UserPlatform
	links     []domain.PlatformLink
}

func (t *fakeTx) GetLink(_ context.Context, platform, platformUserID string) (*domain.PlatformLink, error) {
	f := t.parent
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	if l, ok := f.links[linkKey(platform, platformUserID)]; ok {
		return &l, nil
	}
	for _, l := range t.links {
		if l.Platform == platform && l.PlatformUserID == platformUserID {
			return &l, nil
		}
	}
	return nil, repo.ErrNotFound
}

func (t *fakeTx) GetUser(_ context.Context, id string) (*domain.CanonicalUser, error) {
	f := t.parent
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	if u, ok := f.users[id]; ok {
		return &u, nil
	}
	return nil, repo.ErrNotFound
}

func (t *fakeTx) CreateUser(_ context.Context, u *domain.CanonicalUser) error {
	t.parent.mu.Lock()
	t.parent.writes++
	t.parent.mu.Unlock()
	t.users = append(t.users, *u)
	return nil
}

func (t *fakeTx) UpsertPlatform(_ context.Context, p *domain.UserPlatform) error {
	t.parent.mu.Lock()
	t.parent.writes++
	t.parent.mu.Unlock()
	t.platforms = append(t.platforms, *p)
	return nil
}

func (t *fakeTx) CreateLink(_ context.Context, l *domain.PlatformLink) error {
	f := t.parent
	f.mu.Lock()
	f.writes++
	hook := f.onCreateLink
	f.mu.Unlock()
	if hook != nil {
		hook(f, l)
	}
	f.mu.Lock()
	_, exists := f.links[linkKey(l.Platform, l.PlatformUserID)]
	f.mu.Unlock()
	if exists {
		return repo.ErrDuplicate
	}
	t.links = append(t.links, *l)
	return nil
}

func (t *fakeTx) Transaction(_ context.Context, fn func(tx IdentityStore) error) error {
	return fn(t)
}

// failingResolver fails every resolution as if the store were down.
type failingResolver struct{}

func (failingResolver) ResolveDetailed(context.Context, string, string, string) (Resolution, error) {
	return Resolution{}, ErrStoreUnavailable
}
