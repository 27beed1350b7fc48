package analysis

import (
	"context"
	"errors"

	"github.com/pageza/nutrilog/backend/internal/nutrition"
)

// ErrNotConfigured is returned by analyzers that have no credentials. The pipeline
// treats it like any other primary failure and falls back.
var ErrNotConfigured = errors.New("analyzer not configured")

// Source identifies which tier produced a result.
type Source string

const (
	SourcePrimary        Source = "primary"
	SourceVision         Source = "vision"
	SourceVisionEstimate Source = "vision_estimate"
	SourceFallback       Source = "fallback"
)

// Confidence per tier. Audio results are further scaled by audioConfidenceFactor.
const (
	PrimaryConfidence        = 0.9
	VisionConfidence         = 0.8
	VisionEstimateConfidence = 0.6
	FallbackConfidence       = 0.3
	audioConfidenceFactor    = 0.9
)

// Input is one analysis request. Text is required for MethodText; media methods need
// SourceURL or pre-fetched Data.
type Input struct {
	Method      nutrition.Method
	Text        string
	SourceURL   string
	Data        []byte
	ContentType string
}

// Result is the canonical outcome of an analysis.
type Result struct {
	Record      nutrition.Record `json:"record"`
	Score       int              `json:"score"`
	Confidence  float64          `json:"confidence"`
	Method      nutrition.Method `json:"method"`
	Source      Source           `json:"source"`
	Description string           `json:"description"`
	Degraded    bool             `json:"degraded"`

	// Per-request fields, never cached.
	CacheHit    bool   `json:"-"`
	RawInputRef string `json:"-"`
	Fingerprint string `json:"-"`
}

// TextAnalysis is the output of a natural-language nutrition analyzer.
type TextAnalysis struct {
	Record      nutrition.Record
	Description string
}

// TextAnalyzer turns a meal description into nutrients.
type TextAnalyzer interface {
	AnalyzeText(ctx context.Context, text string) (TextAnalysis, error)
}

// VisionAnalysis is a meal description produced from a photo, optionally with the
// model's own nutrient estimate.
type VisionAnalysis struct {
	Description string
	Estimate    *nutrition.Record
}

// VisionAnalyzer describes the food in an image.
type VisionAnalyzer interface {
	DescribeImage(ctx context.Context, data []byte, contentType string) (VisionAnalysis, error)
}

// Transcriber converts a voice note to text.
type Transcriber interface {
	Transcribe(ctx context.Context, data []byte, filename, contentType string) (string, error)
}

// Media is a downloaded image or audio payload.
type Media struct {
	Data        []byte
	ContentType string
	Filename    string
}

// Downloader fetches media for the given method, enforcing size and type limits.
type Downloader interface {
	Download(ctx context.Context, url string, method nutrition.Method) (Media, error)
}

// MediaArchiver stores raw media and returns a reference to it.
type MediaArchiver interface {
	Archive(ctx context.Context, key string, data []byte, contentType string) (string, error)
}
