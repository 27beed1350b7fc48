package analysis

import (
	"strings"
	"unicode"

	"github.com/pageza/nutrilog/backend/internal/i18n"
	"github.com/pageza/nutrilog/backend/internal/nutrition"
)

// DefaultFallbackCalories is used when no keyword matches.
const DefaultFallbackCalories = 250

// Energy shares used to derive macros from a calorie estimate.
const (
	fallbackProteinShare = 0.15
	fallbackCarbShare    = 0.55
	fallbackFatShare     = 0.30
)

type keywordEstimate struct {
	keyword  string
	calories float64
}

// Order matters: the first keyword found in the input wins.
var fallbackTable = []keywordEstimate{
	{"salad", 150},
	{"soup", 200},
	{"sopa", 200},
	{"sandwich", 350},
	{"sanduiche", 350},
	{"burger", 550},
	{"hamburguer", 550},
	{"pizza", 600},
	{"pasta", 450},
	{"macarrao", 450},
	{"rice", 300},
	{"arroz", 300},
	{"chicken", 350},
	{"frango", 350},
	{"steak", 500},
	{"bife", 500},
	{"fish", 300},
	{"peixe", 300},
	{"egg", 150},
	{"ovo", 150},
	{"apple", 95},
	{"banana", 105},
	{"yogurt", 120},
	{"iogurte", 120},
	{"oatmeal", 160},
	{"aveia", 160},
	{"coffee", 50},
	{"cafe", 50},
	{"cake", 400},
	{"bolo", 400},
}

// EstimateFallback produces a deterministic estimate from keywords in text. It never fails.
func EstimateFallback(text string) (nutrition.Record, string) {
	tokens := tokenize(text)
	for _, entry := range fallbackTable {
		for _, token := range tokens {
			if matchesKeyword(token, entry.keyword) {
				return nutrition.MacroSplit(entry.calories, fallbackProteinShare, fallbackCarbShare, fallbackFatShare), entry.keyword
			}
		}
	}
	return nutrition.MacroSplit(DefaultFallbackCalories, fallbackProteinShare, fallbackCarbShare, fallbackFatShare), ""
}

// Short keywords must prefix the token ("eggs", but not "novo" for "ovo"); longer
// ones may appear anywhere in it ("cheeseburger").
func matchesKeyword(token, keyword string) bool {
	if len(keyword) >= 5 {
		return strings.Contains(token, keyword)
	}
	return strings.HasPrefix(token, keyword)
}

func tokenize(text string) []string {
	return strings.FieldsFunc(i18n.Fold(text), func(r rune) bool {
		return !unicode.IsLetter(r)
	})
}
