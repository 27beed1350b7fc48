package nutrition

import (
	"fmt"
	"math"
)

type Gender string

const (
	GenderMale   Gender = "male"
	GenderFemale Gender = "female"
)

type ActivityLevel string

const (
	ActivitySedentary        ActivityLevel = "sedentary"
	ActivityLightlyActive    ActivityLevel = "lightly_active"
	ActivityModeratelyActive ActivityLevel = "moderately_active"
	ActivityVeryActive       ActivityLevel = "very_active"
	ActivityExtraActive      ActivityLevel = "extra_active"
)

// ActivityLevels lists the canonical levels in shortcut order (1-5).
var ActivityLevels = []ActivityLevel{
	ActivitySedentary,
	ActivityLightlyActive,
	ActivityModeratelyActive,
	ActivityVeryActive,
	ActivityExtraActive,
}

var activityMultipliers = map[ActivityLevel]float64{
	ActivitySedentary:        1.2,
	ActivityLightlyActive:    1.375,
	ActivityModeratelyActive: 1.55,
	ActivityVeryActive:       1.725,
	ActivityExtraActive:      1.9,
}

type Goal string

const (
	GoalLoseWeight          Goal = "lose_weight"
	GoalLoseWeightGradually Goal = "lose_weight_gradually"
	GoalRecomposition       Goal = "body_recomposition"
	GoalMaintainWeight      Goal = "maintain_weight"
	GoalLeanBulk            Goal = "lean_bulk"
	GoalGainMuscle          Goal = "gain_muscle"
	GoalGainWeight          Goal = "gain_weight"
)

// Goals lists the canonical goals in shortcut order (1-7).
var Goals = []Goal{
	GoalLoseWeight,
	GoalLoseWeightGradually,
	GoalRecomposition,
	GoalMaintainWeight,
	GoalLeanBulk,
	GoalGainMuscle,
	GoalGainWeight,
}

var goalAdjustments = map[Goal]float64{
	GoalLoseWeight:          -500,
	GoalLoseWeightGradually: -300,
	GoalRecomposition:       -200,
	GoalMaintainWeight:      0,
	GoalLeanBulk:            200,
	GoalGainMuscle:          300,
	GoalGainWeight:          500,
}

const (
	MinDailyCalories = 1200
	MaxDailyCalories = 3500
	calorieRounding  = 50
)

// Profile is the set of answers the energy calculation depends on.
type Profile struct {
	Gender        Gender
	Age           int
	WeightKg      float64
	HeightCm      float64
	ActivityLevel ActivityLevel
	Goal          Goal
}

// BMR computes the basal metabolic rate with the revised Harris-Benedict equation.
func BMR(gender Gender, weightKg, heightCm float64, age int) (float64, error) {
	switch gender {
	case GenderMale:
		return 88.362 + 13.397*weightKg + 4.799*heightCm - 5.677*float64(age), nil
	case GenderFemale:
		return 447.593 + 9.247*weightKg + 3.098*heightCm - 4.330*float64(age), nil
	default:
		return 0, fmt.Errorf("unknown gender %q", gender)
	}
}

// ActivityMultiplier returns the maintenance multiplier for level.
func ActivityMultiplier(level ActivityLevel) (float64, bool) {
	m, ok := activityMultipliers[level]
	return m, ok
}

// GoalAdjustment returns the daily kcal offset applied for goal.
func GoalAdjustment(goal Goal) (float64, bool) {
	a, ok := goalAdjustments[goal]
	return a, ok
}

// EnergyTargets is the derived output of a completed profile.
type EnergyTargets struct {
	BMR              float64
	Maintenance      float64
	DailyCalorieGoal int
}

// Targets derives BMR, maintenance calories and the daily goal. The goal is
// rounded to the nearest 50 kcal and clamped to [1200, 3500].
func Targets(p Profile) (EnergyTargets, error) {
	bmr, err := BMR(p.Gender, p.WeightKg, p.HeightCm, p.Age)
	if err != nil {
		return EnergyTargets{}, err
	}
	multiplier, ok := ActivityMultiplier(p.ActivityLevel)
	if !ok {
		return EnergyTargets{}, fmt.Errorf("unknown activity level %q", p.ActivityLevel)
	}
	adjustment, ok := GoalAdjustment(p.Goal)
	if !ok {
		return EnergyTargets{}, fmt.Errorf("unknown goal %q", p.Goal)
	}

	maintenance := bmr * multiplier
	goal := math.Round((maintenance+adjustment)/calorieRounding) * calorieRounding
	goal = math.Max(MinDailyCalories, math.Min(MaxDailyCalories, goal))

	return EnergyTargets{
		BMR:              math.Round(bmr*10) / 10,
		Maintenance:      math.Round(maintenance),
		DailyCalorieGoal: int(goal),
	}, nil
}
