package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pageza/nutrilog/backend/internal/nutrition"
)

func TestNewUserInitialState(t *testing.T) {
	u := NewUser("sub-1")
	assert.True(t, u.Active)
	assert.Equal(t, QuizNotStarted, u.QuizStep)
	assert.False(t, u.IsMidQuiz())
	assert.Equal(t, SubscriptionNone, u.SubscriptionStatus)
	assert.Zero(t, u.CalorieGoal())

	u.QuizStep = 2
	assert.True(t, u.IsMidQuiz())
}

func TestApplyProfileDerivesTargets(t *testing.T) {
	u := NewUser("sub-1")
	_, ok := u.Profile()
	assert.False(t, ok)

	err := u.ApplyProfile(nutrition.Profile{
		Gender:        nutrition.GenderMale,
		Age:           30,
		WeightKg:      80,
		HeightCm:      180,
		ActivityLevel: nutrition.ActivityModeratelyActive,
		Goal:          nutrition.GoalLoseWeight,
	})
	require.NoError(t, err)

	require.NotNil(t, u.BMR)
	assert.InDelta(t, 1853.6, *u.BMR, 0.1)
	assert.Equal(t, 2350, u.CalorieGoal())

	p, ok := u.Profile()
	require.True(t, ok)
	assert.Equal(t, nutrition.GoalLoseWeight, p.Goal)
}

func TestApplyProfileRejectsInvalidProfile(t *testing.T) {
	u := NewUser("sub-1")
	err := u.ApplyProfile(nutrition.Profile{Gender: "x"})
	assert.Error(t, err)
	assert.Nil(t, u.BMR)
	assert.Nil(t, u.Gender)
}

func TestLocationFallsBack(t *testing.T) {
	u := NewUser("sub-1")
	assert.Equal(t, time.UTC, u.Location(""))

	u.Timezone = "Not/AZone"
	assert.Equal(t, "America/Sao_Paulo", u.Location("America/Sao_Paulo").String())

	u.Timezone = "Europe/Lisbon"
	assert.Equal(t, "Europe/Lisbon", u.Location("America/Sao_Paulo").String())
}

func TestCheckInvariants(t *testing.T) {
	u := NewUser("sub-1")
	u.SubscriptionStatus = SubscriptionTrialActive
	assert.ErrorIs(t, u.CheckInvariants(), ErrInconsistentTrial)

	start := time.Now()
	end := start.Add(7 * 24 * time.Hour)
	u.TrialStartAt, u.TrialEndAt = &start, &end
	assert.NoError(t, u.CheckInvariants())

	assert.True(t, SubscriptionTrialPending.GrantsAccess())
	assert.False(t, SubscriptionExpired.GrantsAccess())
	assert.False(t, SubscriptionNone.GrantsAccess())
}
