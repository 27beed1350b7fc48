package nutrition

import (
	"math"
	"strings"
)

// Record is the canonical nutrient record every analyzer output is normalised into.
type Record struct {
	Calories float64 `json:"calories"`
	Protein  float64 `json:"protein"`
	Carbs    float64 `json:"carbs"`
	Fat      float64 `json:"fat"`
	Fiber    float64 `json:"fiber"`
	Sodium   float64 `json:"sodium"`
}

// Nutrient is a single named amount as reported by an external analyzer.
type Nutrient struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
	Unit  string  `json:"unit"`
}

// Add returns the element-wise sum of two records.
func (r Record) Add(other Record) Record {
	return Record{
		Calories: r.Calories + other.Calories,
		Protein:  r.Protein + other.Protein,
		Carbs:    r.Carbs + other.Carbs,
		Fat:      r.Fat + other.Fat,
		Fiber:    r.Fiber + other.Fiber,
		Sodium:   r.Sodium + other.Sodium,
	}
}

// IsZero reports whether the record carries no energy and no macros.
func (r Record) IsZero() bool {
	return r.Calories == 0 && r.Protein == 0 && r.Carbs == 0 && r.Fat == 0
}

// Sanitize clamps negative and non-finite values to zero and rounds to one decimal.
func (r Record) Sanitize() Record {
	return Record{
		Calories: clean(r.Calories),
		Protein:  clean(r.Protein),
		Carbs:    clean(r.Carbs),
		Fat:      clean(r.Fat),
		Fiber:    clean(r.Fiber),
		Sodium:   clean(r.Sodium),
	}
}

func clean(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0
	}
	return math.Round(v*10) / 10
}

// FromNutrients maps a heterogeneous nutrient list into a Record. Names are matched
// case-insensitively against USDA descriptions, Edamam codes and short labels.
// Unknown names are ignored; sodium reported in grams is converted to milligrams.
func FromNutrients(nutrients []Nutrient) Record {
	var out Record
	for _, n := range nutrients {
		name := strings.ToLower(strings.TrimSpace(n.Name))
		unit := strings.ToLower(strings.TrimSpace(n.Unit))
		switch name {
		case "energy", "calories", "kcal", "enerc_kcal", "nf_calories", "energy (kcal)":
			if unit == "kj" {
				out.Calories += n.Value / 4.184
			} else {
				out.Calories += n.Value
			}
		case "protein", "procnt", "nf_protein":
			out.Protein += toGrams(n.Value, unit)
		case "carbohydrate, by difference", "carbohydrates", "carbs", "chocdf", "nf_total_carbohydrate":
			out.Carbs += toGrams(n.Value, unit)
		case "total lipid (fat)", "fat", "total fat", "nf_total_fat":
			out.Fat += toGrams(n.Value, unit)
		case "fiber, total dietary", "fiber", "fibtg", "dietary fiber", "nf_dietary_fiber":
			out.Fiber += toGrams(n.Value, unit)
		case "sodium, na", "sodium", "na", "nf_sodium":
			out.Sodium += toMilligrams(n.Value, unit)
		}
	}
	return out.Sanitize()
}

// FromMacroMap maps a flat {name: value} object, as returned by LLM-style estimators.
func FromMacroMap(values map[string]float64) Record {
	nutrients := make([]Nutrient, 0, len(values))
	for name, value := range values {
		unit := ""
		if strings.EqualFold(name, "sodium") || strings.EqualFold(name, "sodium_mg") {
			unit = "mg"
			name = "sodium"
		}
		name = strings.TrimSuffix(strings.TrimSuffix(strings.ToLower(name), "_g"), "_kcal")
		nutrients = append(nutrients, Nutrient{Name: name, Value: value, Unit: unit})
	}
	return FromNutrients(nutrients)
}

// MacroSplit derives protein, carbs and fat grams from calories and energy fractions.
func MacroSplit(calories, proteinShare, carbShare, fatShare float64) Record {
	return Record{
		Calories: calories,
		Protein:  calories * proteinShare / 4,
		Carbs:    calories * carbShare / 4,
		Fat:      calories * fatShare / 9,
	}.Sanitize()
}

func toGrams(v float64, unit string) float64 {
	switch unit {
	case "mg":
		return v / 1000
	default:
		return v
	}
}

func toMilligrams(v float64, unit string) float64 {
	switch unit {
	case "g":
		return v * 1000
	case "µg", "ug", "mcg":
		return v / 1000
	default:
		return v
	}
}
