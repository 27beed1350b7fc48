package service

import (
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/pageza/nutrilog/backend/internal/i18n"
	"github.com/pageza/nutrilog/backend/internal/nutrition"
)

// Quiz steps in order. A user past the last step has completed the quiz.
const (
	StepGender        = "gender"
	StepAge           = "age"
	StepWeight        = "weight"
	StepHeight        = "height"
	StepActivityLevel = "activity_level"
	StepGoal          = "goal"
	StepReview        = "review"
)

var QuizSteps = []string{StepGender, StepAge, StepWeight, StepHeight, StepActivityLevel, StepGoal, StepReview}

const (
	MinAge      = 10
	MaxAge      = 120
	MinWeightKg = 30.0
	MaxWeightKg = 300.0
	MinHeightCm = 100.0
	MaxHeightCm = 250.0
)

const (
	reviewConfirm = "confirm"
	reviewRestart = "restart"
)

var numberPattern = regexp.MustCompile(`\d+(?:[.,]\d+)?`)

var genderSynonyms = map[string]nutrition.Gender{
	"male": nutrition.GenderMale, "m": nutrition.GenderMale, "man": nutrition.GenderMale,
	"masculino": nutrition.GenderMale, "homem": nutrition.GenderMale,
	"female": nutrition.GenderFemale, "f": nutrition.GenderFemale, "woman": nutrition.GenderFemale,
	"feminino": nutrition.GenderFemale, "mulher": nutrition.GenderFemale,
}

var activitySynonyms = map[string]nutrition.ActivityLevel{
	"sedentary": nutrition.ActivitySedentary, "sedentario": nutrition.ActivitySedentary,
	"none": nutrition.ActivitySedentary, "no exercise": nutrition.ActivitySedentary,
	"light": nutrition.ActivityLightlyActive, "lightly": nutrition.ActivityLightlyActive,
	"lightly active": nutrition.ActivityLightlyActive, "leve": nutrition.ActivityLightlyActive,
	"levemente ativo": nutrition.ActivityLightlyActive,
	"moderate": nutrition.ActivityModeratelyActive, "moderately": nutrition.ActivityModeratelyActive,
	"moderately active": nutrition.ActivityModeratelyActive, "moderado": nutrition.ActivityModeratelyActive,
	"moderadamente ativo": nutrition.ActivityModeratelyActive,
	"very": nutrition.ActivityVeryActive, "active": nutrition.ActivityVeryActive,
	"very active": nutrition.ActivityVeryActive, "ativo": nutrition.ActivityVeryActive,
	"muito ativo": nutrition.ActivityVeryActive,
	"extra": nutrition.ActivityExtraActive, "extra active": nutrition.ActivityExtraActive,
	"athlete": nutrition.ActivityExtraActive, "atleta": nutrition.ActivityExtraActive,
	"extremamente ativo": nutrition.ActivityExtraActive,
}

var goalSynonyms = map[string]nutrition.Goal{
	"lose": nutrition.GoalLoseWeight, "lose weight": nutrition.GoalLoseWeight,
	"perder peso": nutrition.GoalLoseWeight, "emagrecer": nutrition.GoalLoseWeight,
	"lose weight gradually": nutrition.GoalLoseWeightGradually, "lose slowly": nutrition.GoalLoseWeightGradually,
	"perder peso gradualmente": nutrition.GoalLoseWeightGradually,
	"recomp": nutrition.GoalRecomposition, "recomposition": nutrition.GoalRecomposition,
	"body recomposition": nutrition.GoalRecomposition, "recomposicao": nutrition.GoalRecomposition,
	"recomposicao corporal": nutrition.GoalRecomposition,
	"maintain": nutrition.GoalMaintainWeight, "maintain weight": nutrition.GoalMaintainWeight,
	"manter": nutrition.GoalMaintainWeight, "manter peso": nutrition.GoalMaintainWeight,
	"manter o peso": nutrition.GoalMaintainWeight,
	"lean bulk": nutrition.GoalLeanBulk, "ganho limpo": nutrition.GoalLeanBulk,
	"gain muscle": nutrition.GoalGainMuscle, "build muscle": nutrition.GoalGainMuscle,
	"ganhar musculo": nutrition.GoalGainMuscle, "hipertrofia": nutrition.GoalGainMuscle,
	"gain weight": nutrition.GoalGainWeight, "bulk": nutrition.GoalGainWeight,
	"ganhar peso": nutrition.GoalGainWeight,
}

var reviewSynonyms = map[string]string{
	"yes": reviewConfirm, "y": reviewConfirm, "ok": reviewConfirm, "confirm": reviewConfirm,
	"sim": reviewConfirm, "s": reviewConfirm, "confirmar": reviewConfirm,
	"restart": reviewRestart, "no": reviewRestart, "n": reviewRestart, "start over": reviewRestart,
	"nao": reviewRestart, "recomecar": reviewRestart, "reiniciar": reviewRestart,
}

// parseAnswer validates input for step and returns the canonical value stored in the
// answer map.
func parseAnswer(step, input string) (interface{}, bool) {
	key := normalizeAnswer(input)
	if key == "" {
		return nil, false
	}
	switch step {
	case StepGender:
		g, ok := genderSynonyms[key]
		return string(g), ok
	case StepAge:
		return parseAge(key)
	case StepWeight:
		return parseWeight(key)
	case StepHeight:
		return parseHeight(key)
	case StepActivityLevel:
		if level, ok := shortcut(key, nutrition.ActivityLevels); ok {
			return string(level), true
		}
		level, ok := activitySynonyms[key]
		if !ok {
			level, ok = canonical(key, nutrition.ActivityLevels)
		}
		return string(level), ok
	case StepGoal:
		if goal, ok := shortcut(key, nutrition.Goals); ok {
			return string(goal), true
		}
		goal, ok := goalSynonyms[key]
		if !ok {
			goal, ok = canonical(key, nutrition.Goals)
		}
		return string(goal), ok
	case StepReview:
		v, ok := reviewSynonyms[key]
		return v, ok
	default:
		return nil, false
	}
}

// normalizeAnswer folds case and accents and turns "_" and "-" into spaces.
func normalizeAnswer(input string) string {
	s := strings.NewReplacer("_", " ", "-", " ").Replace(i18n.Fold(input))
	s = strings.TrimRight(s, ".!")
	return strings.Join(strings.Fields(s), " ")
}

func shortcut[T ~string](key string, options []T) (T, bool) {
	n, err := strconv.Atoi(key)
	if err != nil || n < 1 || n > len(options) {
		var zero T
		return zero, false
	}
	return options[n-1], true
}

func canonical[T ~string](key string, options []T) (T, bool) {
	for _, o := range options {
		if strings.ReplaceAll(string(o), "_", " ") == key {
			return o, true
		}
	}
	var zero T
	return zero, false
}

func firstNumber(s string) (string, bool) {
	m := numberPattern.FindString(s)
	return strings.ReplaceAll(m, ",", "."), m != ""
}

func parseAge(s string) (interface{}, bool) {
	raw, ok := firstNumber(s)
	if !ok || strings.Contains(raw, ".") {
		return nil, false
	}
	age, err := strconv.Atoi(raw)
	if err != nil || age < MinAge || age > MaxAge {
		return nil, false
	}
	return float64(age), true
}

func parseWeight(s string) (interface{}, bool) {
	raw, ok := firstNumber(s)
	if !ok {
		return nil, false
	}
	w, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, false
	}
	if strings.Contains(s, "lb") {
		w *= 0.45359237
	}
	w = math.Round(w*10) / 10
	if w < MinWeightKg || w > MaxWeightKg {
		return nil, false
	}
	return w, true
}

func parseHeight(s string) (interface{}, bool) {
	raw, ok := firstNumber(s)
	if !ok {
		return nil, false
	}
	h, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, false
	}
	// "1.80" and "1,80 m" are metres
	if h > 0 && h < 3 {
		h *= 100
	}
	h = math.Round(h*10) / 10
	if h < MinHeightCm || h > MaxHeightCm {
		return nil, false
	}
	return h, true
}

// answerFloat reads a numeric answer. Parsed answers are float64; answers loaded from
// the database are json.Number because datatypes.JSONMap decodes with UseNumber.
func answerFloat(answers map[string]interface{}, key string) (float64, bool) {
	switch v := answers[key].(type) {
	case float64:
		return v, true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func answerString(answers map[string]interface{}, key string) string {
	s, _ := answers[key].(string)
	return s
}

// profileFromAnswers builds the profile from a complete answer map.
func profileFromAnswers(answers map[string]interface{}) (nutrition.Profile, bool) {
	age, okAge := answerFloat(answers, StepAge)
	weight, okWeight := answerFloat(answers, StepWeight)
	height, okHeight := answerFloat(answers, StepHeight)
	p := nutrition.Profile{
		Gender:        nutrition.Gender(answerString(answers, StepGender)),
		Age:           int(age),
		WeightKg:      weight,
		HeightCm:      height,
		ActivityLevel: nutrition.ActivityLevel(answerString(answers, StepActivityLevel)),
		Goal:          nutrition.Goal(answerString(answers, StepGoal)),
	}
	ok := okAge && okWeight && okHeight && p.Gender != "" && p.ActivityLevel != "" && p.Goal != ""
	return p, ok
}
