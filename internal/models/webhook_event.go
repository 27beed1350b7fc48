package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Outcomes recorded for processed payment events.
const (
	EventOutcomeApplied   = "applied"
	EventOutcomeUnchanged = "unchanged"
	EventOutcomeRejected  = "rejected"
	EventOutcomeUnmatched = "unmatched"
)

// WebhookEvent records a processed payment event so re-deliveries are acknowledged
// without touching the user again.
type WebhookEvent struct {
	ID             uuid.UUID  `gorm:"type:varchar(36);primarykey" json:"id"`
	Provider       string     `gorm:"size:32;not null;uniqueIndex:idx_webhook_events_provider_event,priority:1" json:"provider"`
	EventID        string     `gorm:"size:128;not null;uniqueIndex:idx_webhook_events_provider_event,priority:2" json:"event_id"`
	EventType      string     `gorm:"size:64;not null" json:"event_type"`
	Action         string     `gorm:"size:64" json:"action"`
	Reference      string     `gorm:"size:128;not null;index" json:"reference"`
	UserID         *uuid.UUID `gorm:"type:varchar(36);index" json:"user_id,omitempty"`
	ResolvedStatus string     `gorm:"size:32" json:"resolved_status"`
	Outcome        string     `gorm:"size:32;not null" json:"outcome"`
	ProcessedAt    time.Time  `gorm:"not null" json:"processed_at"`
}

func (WebhookEvent) TableName() string {
	return "webhook_events"
}

func (e *WebhookEvent) BeforeCreate(tx *gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}

// All returns every persisted model in migration order.
func All() []interface{} {
	return []interface{}{
		&User{},
		&FoodLogEntry{},
		&DailyStats{},
		&WebhookEvent{},
	}
}
