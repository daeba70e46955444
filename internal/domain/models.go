// Package domain defines the persistence models for canonical users, their
// platform accounts, and the message ledger. These types are mapped with GORM
// and form the core data layer of the bot.
package domain

import (
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// Known platform names. Platforms are free-form lower-case strings; these
// are the ones the bot and its companion clients use today.
const (
	PlatformDiscord = "discord"
	PlatformMobile  = "mobile"
	PlatformDesktop = "desktop"
)

// CanonicalUser is the stable cross-platform identity record.
//
// Fields:
//   - ID: UUID primary key, generated once and never changed.
//   - DisplayName: human-readable label; mutable and best-effort.
//   - Timezone: IANA zone name, defaults to UTC.
//   - TotalMessages / LastMessageAt: denormalized message stats. Advisory
//     only; they may lag the ledger.
//   - CreatedAt: set once at creation.
//   - Platforms: one row per linked platform (see UserPlatform).
type CanonicalUser struct {
	ID            string     `json:"id"              gorm:"type:char(36);primaryKey"`
	DisplayName   string     `json:"display_name"    gorm:"type:varchar(255);not null;default:''"`
	Timezone      string     `json:"timezone"        gorm:"type:varchar(64);not null;default:'UTC'"`
	TotalMessages int64      `json:"total_messages"  gorm:"not null;default:0"`
	LastMessageAt *time.Time `json:"last_message_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"      gorm:"autoCreateTime:false;not null"`
	UpdatedAt     time.Time  `json:"updated_at"`

	Platforms []UserPlatform `json:"platforms,omitempty" gorm:"foreignKey:UserID;references:ID"`
}

// TableName returns the database table name for CanonicalUser.
func (CanonicalUser) TableName() string { return "canonical_users" }

// UserPlatform is one entry of a canonical user's platform map. There is at
// most one row per (user, platform); writing a platform touches only its own
// row, so concurrent links of different platforms never overwrite each other.
type UserPlatform struct {
	UserID         string    `json:"-"                gorm:"type:char(36);primaryKey"`
	Platform       string    `json:"platform"         gorm:"type:varchar(32);primaryKey"`
	PlatformUserID string    `json:"platform_user_id" gorm:"type:varchar(128);not null"`
	LastActiveAt   time.Time `json:"last_active_at"   gorm:"not null"`
}

// TableName returns the database table name for UserPlatform.
func (UserPlatform) TableName() string { return "user_platforms" }

// PlatformLink binds one platform identity to exactly one canonical user.
// Its primary key is the authoritative uniqueness index: a row for
// (platform, platform_user_id) exists at most once and its CanonicalUserID
// never changes after insert.
type PlatformLink struct {
	Platform        string    `json:"platform"          gorm:"type:varchar(32);primaryKey"`
	PlatformUserID  string    `json:"platform_user_id"  gorm:"type:varchar(128);primaryKey"`
	CanonicalUserID string    `json:"canonical_user_id" gorm:"type:char(36);not null;index:idx_links_user"`
	Username        string    `json:"username,omitempty" gorm:"type:varchar(255)"`
	LinkedAt        time.Time `json:"linked_at"         gorm:"not null"`
}

// TableName returns the database table name for PlatformLink.
func (PlatformLink) TableName() string { return "platform_links" }

// Message is one inbound message and, once generated, the bot's reply.
//
// Fields:
//   - ID: xid string; k-sortable, so ordering by ID follows insertion order.
//   - CanonicalUserID: owner. Empty on legacy rows written before identity
//     resolution existed; the backfill fills it in.
//   - LegacyUserID: the raw platform user id the message arrived with.
//   - Response: nil until a reply exists; GenerationFailed marks turns where
//     the model call failed and the fallback reply was sent instead.
//   - CreatedAt: ingestion time. SourceTimestamp: platform-reported send time.
type Message struct {
	ID               string    `json:"id"                 gorm:"type:varchar(20);primaryKey"`
	CanonicalUserID  string    `json:"canonical_user_id"  gorm:"type:varchar(36);not null;default:'';index:idx_user_msgs,priority:1"`
	LegacyUserID     string    `json:"legacy_user_id,omitempty" gorm:"type:varchar(128);not null;default:'';index:idx_legacy_msgs,priority:2"`
	Platform         string    `json:"platform"           gorm:"type:varchar(32);not null;index:idx_legacy_msgs,priority:1"`
	Username         string    `json:"username,omitempty" gorm:"type:varchar(255)"`
	ChannelID        string    `json:"channel_id,omitempty" gorm:"type:varchar(64)"`
	GuildID          string    `json:"guild_id,omitempty"   gorm:"type:varchar(64)"`
	Text             string    `json:"text"               gorm:"type:text;not null"`
	Response         *string   `json:"response,omitempty" gorm:"type:text"`
	GenerationFailed bool      `json:"generation_failed"  gorm:"not null;default:false"`
	CreatedAt        time.Time `json:"created_at"         gorm:"autoCreateTime:false;not null;index:idx_user_msgs,priority:2"`
	SourceTimestamp  time.Time `json:"source_timestamp"`
}

// TableName returns the database table name for Message.
func (Message) TableName() string { return "messages" }

// IsLegacy reports whether the message predates canonical ownership.
func (m Message) IsLegacy() bool { return strings.TrimSpace(m.CanonicalUserID) == "" }

// BackfillCheckpoint stores the last message id a backfill job finished, so an
// interrupted run can resume from the next page.
type BackfillCheckpoint struct {
	Job       string    `gorm:"type:varchar(64);primaryKey"`
	Cursor    string    `gorm:"type:varchar(20);not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

// TableName returns the database table name for BackfillCheckpoint.
func (BackfillCheckpoint) TableName() string { return "backfill_checkpoints" }

var lower = cases.Lower(language.Und)

// NormalizePlatform lower-cases and trims a platform name ("Discord " → "discord").
func NormalizePlatform(p string) string {
	return lower.String(strings.TrimSpace(p))
}

// NormalizeDisplayName trims a display name, applies NFC normalization and
// collapses internal whitespace. It never changes letter case.
func NormalizeDisplayName(s string) string {
	return strings.Join(strings.Fields(norm.NFC.String(s)), " ")
}
