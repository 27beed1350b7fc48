package analysis

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEstimateFallback(t *testing.T) {
	tests := []struct {
		input    string
		calories float64
		keyword  string
	}{
		{"soup", 200, "soup"},
		{"Chicken SOUP", 200, "soup"},
		{"two eggs and toast", 150, "egg"},
		{"Cheeseburger", 550, "burger"},
		{"sopa de legumes", 200, "sopa"},
		{"frango grelhado", 350, "frango"},
		{"café com leite", 50, "cafe"},
		{"something novo", DefaultFallbackCalories, ""},
		{"", DefaultFallbackCalories, ""},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			record, keyword := EstimateFallback(tt.input)
			assert.Equal(t, tt.calories, record.Calories)
			assert.Equal(t, tt.keyword, keyword)
		})
	}
}

func TestEstimateFallbackMacroSplit(t *testing.T) {
	record, _ := EstimateFallback("soup")
	assert.Equal(t, 7.5, record.Protein)
	assert.Equal(t, 27.5, record.Carbs)
	assert.Equal(t, 6.7, record.Fat)
	assert.Zero(t, record.Fiber)
	assert.Zero(t, record.Sodium)
}
