package nutritionix

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pageza/nutrilog/backend/internal/analysis"
	"github.com/pageza/nutrilog/backend/internal/nutrition"
)

const defaultBaseURL = "https://trackapi.nutritionix.com"

// Client calls the natural-language nutrients endpoint.
type Client struct {
	AppID      string
	AppKey     string
	BaseURL    string
	HTTPClient *http.Client
}

var _ analysis.TextAnalyzer = (*Client)(nil)

type nutrientsRequest struct {
	Query    string `json:"query"`
	Timezone string `json:"timezone,omitempty"`
}

type nutrientsResponse struct {
	Foods []food `json:"foods"`
}

type food struct {
	FoodName     string  `json:"food_name"`
	ServingQty   float64 `json:"serving_qty"`
	ServingUnit  string  `json:"serving_unit"`
	Calories     float64 `json:"nf_calories"`
	TotalFat     float64 `json:"nf_total_fat"`
	Carbohydrate float64 `json:"nf_total_carbohydrate"`
	DietaryFiber float64 `json:"nf_dietary_fiber"`
	Sodium       float64 `json:"nf_sodium"`
	Protein      float64 `json:"nf_protein"`
}

func (c *Client) AnalyzeText(ctx context.Context, text string) (analysis.TextAnalysis, error) {
	if strings.TrimSpace(c.AppID) == "" || strings.TrimSpace(c.AppKey) == "" {
		return analysis.TextAnalysis{}, analysis.ErrNotConfigured
	}
	baseURL := strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	httpClient := c.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	payload, err := json.Marshal(nutrientsRequest{Query: text})
	if err != nil {
		return analysis.TextAnalysis{}, fmt.Errorf("marshal nutritionix payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/v2/natural/nutrients", bytes.NewReader(payload))
	if err != nil {
		return analysis.TextAnalysis{}, fmt.Errorf("create nutritionix request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-app-id", c.AppID)
	req.Header.Set("x-app-key", c.AppKey)

	resp, err := httpClient.Do(req)
	if err != nil {
		return analysis.TextAnalysis{}, fmt.Errorf("execute nutritionix request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return analysis.TextAnalysis{}, fmt.Errorf("read nutritionix response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return analysis.TextAnalysis{}, fmt.Errorf("nutritionix request failed with status %d", resp.StatusCode)
	}

	var parsed nutrientsResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return analysis.TextAnalysis{}, fmt.Errorf("decode nutritionix response: %w", err)
	}
	if len(parsed.Foods) == 0 {
		return analysis.TextAnalysis{}, fmt.Errorf("nutritionix matched no foods")
	}

	nutrients := make([]nutrition.Nutrient, 0, len(parsed.Foods)*6)
	names := make([]string, 0, len(parsed.Foods))
	for _, f := range parsed.Foods {
		nutrients = append(nutrients,
			nutrition.Nutrient{Name: "nf_calories", Value: f.Calories, Unit: "kcal"},
			nutrition.Nutrient{Name: "nf_protein", Value: f.Protein, Unit: "g"},
			nutrition.Nutrient{Name: "nf_total_carbohydrate", Value: f.Carbohydrate, Unit: "g"},
			nutrition.Nutrient{Name: "nf_total_fat", Value: f.TotalFat, Unit: "g"},
			nutrition.Nutrient{Name: "nf_dietary_fiber", Value: f.DietaryFiber, Unit: "g"},
			nutrition.Nutrient{Name: "nf_sodium", Value: f.Sodium, Unit: "mg"},
		)
		names = append(names, describe(f))
	}

	return analysis.TextAnalysis{
		Record:      nutrition.FromNutrients(nutrients),
		Description: strings.Join(names, ", "),
	}, nil
}

func describe(f food) string {
	name := strings.TrimSpace(f.FoodName)
	if f.ServingQty <= 0 || strings.TrimSpace(f.ServingUnit) == "" {
		return name
	}
	return fmt.Sprintf("%s %s %s", formatQty(f.ServingQty), strings.TrimSpace(f.ServingUnit), name)
}

func formatQty(q float64) string {
	if q == float64(int64(q)) {
		return fmt.Sprintf("%d", int64(q))
	}
	return fmt.Sprintf("%.1f", q)
}
