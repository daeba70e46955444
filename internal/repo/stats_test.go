package repo

import (
	"context"
	"testing"
	"time"

	"github.com/athenaai/athena/internal/domain"
)

func TestIncrementMessageStats(t *testing.T) {
	ctx := context.Background()
	db := newTempDB(t, &domain.CanonicalUser{}, &domain.UserPlatform{}, &domain.Message{})

	if err := CreateUser(ctx, db, &domain.CanonicalUser{ID: "c1", DisplayName: "alice"}); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	t1 := time.Date(2025, 7, 1, 10, 0, 0, 0, time.UTC)
	t0 := t1.Add(-time.Hour)
	if err := IncrementMessageStats(ctx, db, "c1", t1); err != nil {
		t.Fatalf("IncrementMessageStats: %v", err)
	}
	// An older timestamp still counts but must not move last_message_at back.
	if err := IncrementMessageStats(ctx, db, "c1", t0); err != nil {
		t.Fatalf("IncrementMessageStats(older): %v", err)
	}

	u, err := GetUser(ctx, db, "c1")
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if u.TotalMessages != 2 {
		t.Fatalf("TotalMessages = %d; want 2", u.TotalMessages)
	}
	if u.LastMessageAt == nil || !u.LastMessageAt.Equal(t1) {
		t.Fatalf("LastMessageAt = %v; want %v", u.LastMessageAt, t1)
	}

	if err := IncrementMessageStats(ctx, db, "missing", t1); !IsNotFound(err) {
		t.Fatalf("expected ErrNotFound for unknown user, got %v", err)
	}
}

func TestMessagesStats_EmptyAndLatest(t *testing.T) {
	ctx := context.Background()
	db := newTempDB(t, &domain.Message{})

	n, last, err := MessagesStats(ctx, db, "c1")
	if err != nil || n != 0 || last != nil {
		t.Fatalf("empty stats = %d, %v, %v", n, last, err)
	}

	base := time.Date(2025, 7, 1, 10, 0, 0, 0, time.UTC)
	for i, at := range []time.Time{base.Add(time.Minute), base, base.Add(2 * time.Minute)} {
		m := &domain.Message{CanonicalUserID: "c1", Platform: "discord", Text: "x", CreatedAt: at}
		if err := CreateMessage(ctx, db, m); err != nil {
			t.Fatalf("seed %d: %v", i, err)
		}
	}
	n, last, err = MessagesStats(ctx, db, "c1")
	if err != nil {
		t.Fatalf("MessagesStats: %v", err)
	}
	if n != 3 || last == nil || !last.Equal(base.Add(2*time.Minute)) {
		t.Fatalf("stats = %d, %v; want 3, %v", n, last, base.Add(2*time.Minute))
	}
}

func TestRecomputeMessageStats(t *testing.T) {
	ctx := context.Background()
	db := newTempDB(t, &domain.CanonicalUser{}, &domain.UserPlatform{}, &domain.Message{})

	if err := CreateUser(ctx, db, &domain.CanonicalUser{ID: "c1", DisplayName: "alice", TotalMessages: 99}); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	at := time.Date(2025, 7, 2, 8, 0, 0, 0, time.UTC)
	if err := CreateMessage(ctx, db, &domain.Message{CanonicalUserID: "c1", Platform: "discord", Text: "x", CreatedAt: at}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if err := RecomputeMessageStats(ctx, db, "c1"); err != nil {
		t.Fatalf("RecomputeMessageStats: %v", err)
	}
	u, _ := GetUser(ctx, db, "c1")
	if u.TotalMessages != 1 || u.LastMessageAt == nil || !u.LastMessageAt.Equal(at) {
		t.Fatalf("recomputed = %d, %v", u.TotalMessages, u.LastMessageAt)
	}
}
