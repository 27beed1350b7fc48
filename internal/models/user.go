package models

import (
	"errors"
	"time"
	_ "time/tzdata"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/pageza/nutrilog/backend/internal/nutrition"
)

// QuizNotStarted is the QuizStep value of a user who has never entered the quiz.
const QuizNotStarted = -1

// SubscriptionStatus is the local view of a user's subscription.
type SubscriptionStatus string

const (
	SubscriptionNone         SubscriptionStatus = ""
	SubscriptionTrialPending SubscriptionStatus = "trial_pending"
	SubscriptionTrialActive  SubscriptionStatus = "trial_active"
	SubscriptionActive       SubscriptionStatus = "active"
	SubscriptionPaused       SubscriptionStatus = "paused"
	SubscriptionCancelled    SubscriptionStatus = "cancelled"
	SubscriptionExpired      SubscriptionStatus = "expired"
)

// GrantsAccess reports whether the status unlocks food analysis.
func (s SubscriptionStatus) GrantsAccess() bool {
	switch s {
	case SubscriptionTrialPending, SubscriptionTrialActive, SubscriptionActive:
		return true
	default:
		return false
	}
}

// User is the aggregate every inbound event is resolved to.
type User struct {
	ID         uuid.UUID  `gorm:"type:varchar(36);primarykey" json:"id"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	ExternalID string     `gorm:"size:64;not null;uniqueIndex" json:"external_id"`
	FirstName  string     `gorm:"size:100" json:"first_name"`
	Language   string     `gorm:"size:8" json:"language"`
	Timezone   string     `gorm:"size:64" json:"timezone"`
	Active     bool       `gorm:"not null" json:"active"`
	LastSeenAt *time.Time `json:"last_seen_at"`

	Gender        *nutrition.Gender        `gorm:"size:16" json:"gender"`
	Age           *int                     `json:"age"`
	WeightKg      *float64                 `json:"weight_kg"`
	HeightCm      *float64                 `json:"height_cm"`
	ActivityLevel *nutrition.ActivityLevel `gorm:"size:32" json:"activity_level"`
	Goal          *nutrition.Goal          `gorm:"size:32" json:"goal"`

	// Derived from the profile by ApplyProfile; never set directly.
	BMR              *float64 `json:"bmr"`
	DailyCalorieGoal *int     `json:"daily_calorie_goal"`

	QuizStep        int               `gorm:"not null" json:"quiz_step"`
	QuizAnswers     datatypes.JSONMap `json:"quiz_answers"`
	QuizCompleted   bool              `gorm:"not null" json:"quiz_completed"`
	QuizCompletedAt *time.Time        `json:"quiz_completed_at"`

	SubscriptionStatus      SubscriptionStatus `gorm:"size:32;not null;index" json:"subscription_status"`
	TrialStartAt            *time.Time         `json:"trial_start_at"`
	TrialEndAt              *time.Time         `json:"trial_end_at"`
	ExternalSubscriptionRef *string            `gorm:"size:128;index" json:"external_subscription_ref"`
	CancellationReason      string             `gorm:"size:255" json:"cancellation_reason"`
	SubscriptionUpdatedAt   *time.Time         `json:"subscription_updated_at"`
}

func (User) TableName() string {
	return "users"
}

// BeforeCreate assigns the primary key.
func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return nil
}

// NewUser returns a user in its initial state: active, quiz not started, no subscription.
func NewUser(externalID string) *User {
	return &User{
		ExternalID:  externalID,
		Active:      true,
		QuizStep:    QuizNotStarted,
		QuizAnswers: datatypes.JSONMap{},
	}
}

// IsMidQuiz reports whether text input should be routed to the quiz.
func (u *User) IsMidQuiz() bool {
	return !u.QuizCompleted && u.QuizStep != QuizNotStarted
}

// Profile returns the stored profile, or false while any field is missing.
func (u *User) Profile() (nutrition.Profile, bool) {
	if u.Gender == nil || u.Age == nil || u.WeightKg == nil || u.HeightCm == nil || u.ActivityLevel == nil || u.Goal == nil {
		return nutrition.Profile{}, false
	}
	return nutrition.Profile{
		Gender:        *u.Gender,
		Age:           *u.Age,
		WeightKg:      *u.WeightKg,
		HeightCm:      *u.HeightCm,
		ActivityLevel: *u.ActivityLevel,
		Goal:          *u.Goal,
	}, true
}

// ApplyProfile stores the profile fields and recomputes BMR and the daily goal.
func (u *User) ApplyProfile(p nutrition.Profile) error {
	targets, err := nutrition.Targets(p)
	if err != nil {
		return err
	}
	gender, age, weight, height, activity, goal := p.Gender, p.Age, p.WeightKg, p.HeightCm, p.ActivityLevel, p.Goal
	u.Gender, u.Age, u.WeightKg, u.HeightCm, u.ActivityLevel, u.Goal = &gender, &age, &weight, &height, &activity, &goal

	bmr, calorieGoal := targets.BMR, targets.DailyCalorieGoal
	u.BMR = &bmr
	u.DailyCalorieGoal = &calorieGoal
	return nil
}

// CalorieGoal returns the derived daily goal, or 0 before the quiz is completed.
func (u *User) CalorieGoal() int {
	if u.DailyCalorieGoal == nil {
		return 0
	}
	return *u.DailyCalorieGoal
}

// Location resolves the user's timezone, falling back to fallback and then UTC.
func (u *User) Location(fallback string) *time.Location {
	for _, name := range []string{u.Timezone, fallback} {
		if name == "" {
			continue
		}
		if loc, err := time.LoadLocation(name); err == nil {
			return loc
		}
	}
	return time.UTC
}

// ErrInconsistentTrial is returned by CheckInvariants when trial fields disagree with the status.
var ErrInconsistentTrial = errors.New("trial timestamps inconsistent with subscription status")

// CheckInvariants validates the subscription/trial relationship.
func (u *User) CheckInvariants() error {
	switch u.SubscriptionStatus {
	case SubscriptionTrialPending, SubscriptionTrialActive:
		if u.TrialStartAt == nil || u.TrialEndAt == nil || !u.TrialEndAt.After(*u.TrialStartAt) {
			return ErrInconsistentTrial
		}
	}
	return nil
}
