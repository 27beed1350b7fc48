package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/pageza/nutrilog/backend/internal/nutrition"
)

// FoodLogEntry is one analysed meal. Entries are never updated after insert.
type FoodLogEntry struct {
	ID        uuid.UUID `gorm:"type:varchar(36);primarykey" json:"id"`
	UserID    uuid.UUID `gorm:"type:varchar(36);not null;index:idx_food_logs_user_created,priority:1;uniqueIndex:idx_food_logs_user_message,priority:1" json:"user_id"`
	CreatedAt time.Time `gorm:"not null;index:idx_food_logs_user_created,priority:2" json:"created_at"`

	Calories float64 `gorm:"not null" json:"calories"`
	Protein  float64 `gorm:"not null" json:"protein"`
	Carbs    float64 `gorm:"not null" json:"carbs"`
	Fat      float64 `gorm:"not null" json:"fat"`
	Fiber    float64 `gorm:"not null" json:"fiber"`
	Sodium   float64 `gorm:"not null" json:"sodium"`

	FoodScore   int              `gorm:"not null" json:"food_score"`
	Method      nutrition.Method `gorm:"size:16;not null" json:"method"`
	Source      string           `gorm:"size:32;not null" json:"source"`
	Confidence  float64          `gorm:"not null" json:"confidence"`
	Description string           `gorm:"type:text" json:"description"`
	RawInputRef string           `gorm:"size:1024" json:"raw_input_ref"`
	// Chat platform message ID; NULL for entries without one so the unique index only
	// applies to retried deliveries.
	SourceMessageID *string `gorm:"size:128;uniqueIndex:idx_food_logs_user_message,priority:2" json:"source_message_id,omitempty"`
}

func (FoodLogEntry) TableName() string {
	return "food_log_entries"
}

func (e *FoodLogEntry) BeforeCreate(tx *gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}

// Record returns the entry's nutrients as a canonical record.
func (e FoodLogEntry) Record() nutrition.Record {
	return nutrition.Record{
		Calories: e.Calories,
		Protein:  e.Protein,
		Carbs:    e.Carbs,
		Fat:      e.Fat,
		Fiber:    e.Fiber,
		Sodium:   e.Sodium,
	}
}

// SetRecord copies the canonical record into the entry's nutrient columns.
func (e *FoodLogEntry) SetRecord(r nutrition.Record) {
	e.Calories, e.Protein, e.Carbs = r.Calories, r.Protein, r.Carbs
	e.Fat, e.Fiber, e.Sodium = r.Fat, r.Fiber, r.Sodium
}
