package openai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/pageza/nutrilog/backend/internal/analysis"
	"github.com/pageza/nutrilog/backend/internal/nutrition"
)

const (
	defaultBaseURL            = "https://api.openai.com/v1"
	defaultVisionModel        = "gpt-4o-mini"
	defaultTranscriptionModel = "whisper-1"
	maxAttempts               = 2
)

const visionPrompt = `You are a nutrition assistant. Describe the food visible in the photo as a short ` +
	`ingredient list with estimated portions (for example "150 g grilled chicken breast, 1 cup white rice"). ` +
	`Respond only with JSON like {"description":"","calories":0,"protein_g":0,"carbs_g":0,"fat_g":0,"fiber_g":0,"sodium_mg":0}. ` +
	`If there is no food in the photo, return an empty description.`

// Client implements image description and voice transcription against an
// OpenAI-compatible API.
type Client struct {
	APIKey             string
	BaseURL            string
	VisionModel        string
	TranscriptionModel string
	HTTPClient         *http.Client
}

var (
	_ analysis.VisionAnalyzer = (*Client)(nil)
	_ analysis.Transcriber    = (*Client)(nil)
)

// Message is a chat completion message. Content is either a string or a list of parts.
type Message struct {
	Role    string      `json:"role"`
	Content interface{} `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

// Request is a chat completion request.
type Request struct {
	Model          string            `json:"model"`
	Messages       []Message         `json:"messages"`
	ResponseFormat map[string]string `json:"response_format,omitempty"`
	MaxTokens      int               `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type visionPayload struct {
	Description string   `json:"description"`
	Calories    *float64 `json:"calories"`
	ProteinG    *float64 `json:"protein_g"`
	CarbsG      *float64 `json:"carbs_g"`
	FatG        *float64 `json:"fat_g"`
	FiberG      *float64 `json:"fiber_g"`
	SodiumMg    *float64 `json:"sodium_mg"`
}

func (c *Client) DescribeImage(ctx context.Context, data []byte, contentType string) (analysis.VisionAnalysis, error) {
	if strings.TrimSpace(c.APIKey) == "" {
		return analysis.VisionAnalysis{}, analysis.ErrNotConfigured
	}
	model := c.VisionModel
	if model == "" {
		model = defaultVisionModel
	}

	dataURL := fmt.Sprintf("data:%s;base64,%s", contentType, base64.StdEncoding.EncodeToString(data))
	reqBody := Request{
		Model: model,
		Messages: []Message{
			{Role: "system", Content: visionPrompt},
			{Role: "user", Content: []contentPart{
				{Type: "text", Text: "What food is in this photo?"},
				{Type: "image_url", ImageURL: &imageURL{URL: dataURL, Detail: "low"}},
			}},
		},
		ResponseFormat: map[string]string{"type": "json_object"},
		MaxTokens:      400,
	}
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return analysis.VisionAnalysis{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	body, err := c.do(ctx, "/chat/completions", "application/json", func() io.Reader { return bytes.NewReader(jsonData) })
	if err != nil {
		return analysis.VisionAnalysis{}, err
	}

	var result chatResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return analysis.VisionAnalysis{}, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(result.Choices) == 0 {
		return analysis.VisionAnalysis{}, fmt.Errorf("no response from API")
	}

	var payload visionPayload
	if err := json.Unmarshal([]byte(result.Choices[0].Message.Content), &payload); err != nil {
		return analysis.VisionAnalysis{}, fmt.Errorf("failed to parse vision payload: %w", err)
	}

	out := analysis.VisionAnalysis{Description: strings.TrimSpace(payload.Description)}
	macros := map[string]float64{}
	for name, v := range map[string]*float64{
		"calories":  payload.Calories,
		"protein_g": payload.ProteinG,
		"carbs_g":   payload.CarbsG,
		"fat_g":     payload.FatG,
		"fiber_g":   payload.FiberG,
		"sodium_mg": payload.SodiumMg,
	} {
		if v != nil {
			macros[name] = *v
		}
	}
	if len(macros) > 0 {
		estimate := nutrition.FromMacroMap(macros)
		out.Estimate = &estimate
	}
	return out, nil
}

func (c *Client) Transcribe(ctx context.Context, data []byte, filename, contentType string) (string, error) {
	if strings.TrimSpace(c.APIKey) == "" {
		return "", analysis.ErrNotConfigured
	}
	model := c.TranscriptionModel
	if model == "" {
		model = defaultTranscriptionModel
	}
	if filename == "" {
		filename = "voice.ogg"
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	if err := writer.WriteField("model", model); err != nil {
		return "", fmt.Errorf("failed to write model field: %w", err)
	}
	if err := writer.WriteField("response_format", "json"); err != nil {
		return "", fmt.Errorf("failed to write format field: %w", err)
	}
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("failed to create file part: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("failed to write audio: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("failed to close multipart body: %w", err)
	}
	payload := buf.Bytes()

	body, err := c.do(ctx, "/audio/transcriptions", writer.FormDataContentType(), func() io.Reader { return bytes.NewReader(payload) })
	if err != nil {
		return "", err
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("failed to decode transcription: %w", err)
	}
	return strings.TrimSpace(result.Text), nil
}

// do sends the request, retrying once on 429 and 5xx responses.
func (c *Client) do(ctx context.Context, path, contentType string, body func() io.Reader) ([]byte, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	httpClient := c.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+path, body())
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", contentType)
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.APIKey))

		resp, err := httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("failed to send request: %w", err)
		}
		respBody, readErr := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
		_ = resp.Body.Close()
		if readErr != nil {
			return nil, fmt.Errorf("failed to read response: %w", readErr)
		}

		if resp.StatusCode == http.StatusOK {
			return respBody, nil
		}
		lastErr = fmt.Errorf("API request failed with status %d", resp.StatusCode)
		if resp.StatusCode != http.StatusTooManyRequests && resp.StatusCode < 500 {
			return nil, lastErr
		}
		if attempt < maxAttempts {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * 200 * time.Millisecond):
			}
		}
	}
	return nil, lastErr
}
