// Package domain defines the core persistence models for the application.
// These types are used by GORM for database schema mapping and are shared
// across the repository and service layers.
package domain

import "time"

// ProcessedEvent records an inbound chat event that finished handling,
// keyed by (platform, event_id). Platforms redeliver events after gateway
// reconnects; a recorded event is not answered a second time.
type ProcessedEvent struct {
	ID        string    `gorm:"type:TEXT NOT NULL;primaryKey"`
	Platform  string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_platform_event,priority:1"`
	EventID   string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_platform_event,priority:2"`
	MessageID string    `gorm:"type:TEXT NOT NULL"`
	CreatedAt time.Time `gorm:"type:DATETIME NOT NULL;autoCreateTime"`
	ExpiresAt time.Time `gorm:"type:DATETIME NOT NULL;index"`
}

// TableName implements the GORM tabler interface.
func (ProcessedEvent) TableName() string { return "processed_events" }
