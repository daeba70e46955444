// Package services – Ledger
//
// Ledger is the per-user conversation memory. Every handled message is one
// append-only row keyed by canonical user id, so history follows the user
// across platforms. Reads return a bounded, newest-biased window in
// chronological order, with an opaque cursor to page further back.
package services

import (
	"context"
	"fmt"
	"slices"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/athenaai/athena/internal/domain"
	"github.com/athenaai/athena/internal/observability"
	"github.com/athenaai/athena/internal/repo"
	"github.com/athenaai/athena/internal/utils"
)

const (
	defaultHistoryLimit = 10
	maxHistoryLimit     = 200
)

// AppendInput is one turn to persist.
type AppendInput struct {
	CanonicalUserID string
	Platform        string
	PlatformUserID  string
	Username        string
	ChannelID       string
	GuildID         string
	Text            string
	// Response is nil when generation failed.
	Response        *string
	SourceTimestamp time.Time
	// ReceivedAt orders the row in history. Zero means the time of the write.
	ReceivedAt time.Time
}

// Page is a window of ledger rows, oldest first.
type Page struct {
	Messages []domain.Message
	// NextCursor names the oldest returned row; empty when nothing older exists.
	NextCursor string
}

// Ledger persists and reads conversation turns.
type Ledger struct {
	DB *gorm.DB
}

// NewLedger returns a Ledger over db.
func NewLedger(db *gorm.DB) *Ledger { return &Ledger{DB: db} }

// Append stores one turn and returns its id. No deduplication is applied.
func (l *Ledger) Append(ctx context.Context, in AppendInput) (string, error) {
	tr := otel.Tracer("services/Ledger")
	ctx, span := tr.Start(ctx, "Append",
		trace.WithAttributes(
			attribute.String("canonical_user.id", in.CanonicalUserID),
			attribute.String("platform", in.Platform),
		),
	)
	defer span.End()

	if in.CanonicalUserID == "" {
		return "", ErrEmptyOwner
	}
	m := &domain.Message{
		CanonicalUserID:  in.CanonicalUserID,
		LegacyUserID:     in.PlatformUserID,
		Platform:         domain.NormalizePlatform(in.Platform),
		Username:         in.Username,
		ChannelID:        in.ChannelID,
		GuildID:          in.GuildID,
		Text:             in.Text,
		Response:         in.Response,
		GenerationFailed: in.Response == nil,
		SourceTimestamp:  in.SourceTimestamp.UTC(),
	}
	if !in.ReceivedAt.IsZero() {
		m.CreatedAt = in.ReceivedAt.UTC()
	}
	err := repo.CreateMessage(ctx, l.DB, m)
	observability.ObserveLedgerAppend(m.Platform, err)
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("%w: append: %v", ErrStoreUnavailable, err)
	}
	return m.ID, nil
}

// LoadRecent returns up to limit turns of userID strictly older than cursor
// (newest overall when cursor is empty), ordered oldest first.
func (l *Ledger) LoadRecent(ctx context.Context, userID string, limit int, cursor string) (Page, error) {
	limit = utils.ClampLimit(limit, defaultHistoryLimit, maxHistoryLimit)

	tr := otel.Tracer("services/Ledger")
	ctx, span := tr.Start(ctx, "LoadRecent",
		trace.WithAttributes(
			attribute.String("canonical_user.id", userID),
			attribute.Int("limit", limit),
		),
	)
	defer span.End()

	var (
		beforeAt time.Time
		beforeID string
	)
	if cursor != "" {
		at, id, err := utils.DecodeCursor(cursor)
		if err != nil {
			return Page{}, err
		}
		beforeAt, beforeID = at, id
	}

	// One extra row tells whether anything older remains.
	rows, err := repo.ListRecentMessages(ctx, l.DB, userID, beforeAt, beforeID, limit+1)
	if err != nil {
		span.RecordError(err)
		return Page{}, fmt.Errorf("%w: load history: %v", ErrStoreUnavailable, err)
	}
	more := len(rows) > limit
	if more {
		rows = rows[:limit]
	}
	slices.Reverse(rows)

	p := Page{Messages: rows}
	if more && len(rows) > 0 {
		p.NextCursor = utils.EncodeCursor(rows[0].CreatedAt, rows[0].ID)
	}
	return p, nil
}

// Stats bumps the user's denormalized counters after an append.
func (l *Ledger) Stats(ctx context.Context, userID string, at time.Time) error {
	if err := repo.IncrementMessageStats(ctx, l.DB, userID, at.UTC()); err != nil {
		return fmt.Errorf("%w: message stats: %v", ErrStoreUnavailable, err)
	}
	return nil
}
