package analysis

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/pageza/nutrilog/backend/internal/apperrors"
	"github.com/pageza/nutrilog/backend/internal/cache"
	"github.com/pageza/nutrilog/backend/internal/nutrition"
)

const (
	DefaultTimeout  = 30 * time.Second
	DefaultCacheTTL = 24 * time.Hour
	maxRawInputRef  = 1024
)

// Config wires the pipeline's collaborators. Any analyzer may be nil; a nil analyzer is
// treated as unconfigured and its tier falls back.
type Config struct {
	Cache       cache.Cache
	Text        TextAnalyzer
	Vision      VisionAnalyzer
	Transcriber Transcriber
	Downloader  Downloader
	Archiver    MediaArchiver
	Timeout     time.Duration
	CacheTTL    time.Duration
}

// Pipeline orchestrates cache lookup, the primary analyzers, the keyword fallback and
// scoring. It is safe for concurrent use.
type Pipeline struct {
	cfg    Config
	logger *zap.Logger
}

func NewPipeline(cfg Config, logger *zap.Logger) *Pipeline {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}
	if cfg.Downloader == nil {
		cfg.Downloader = NewHTTPDownloader(DefaultMaxDownloadBytes, cfg.Timeout)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{cfg: cfg, logger: logger.Named("analysis")}
}

// Analyze returns a scored nutrient record for in. Errors are always *apperrors.Error:
// validation for empty input, file for download problems.
func (p *Pipeline) Analyze(ctx context.Context, in Input) (*Result, error) {
	switch in.Method {
	case nutrition.MethodText:
		return p.analyzeText(ctx, in)
	case nutrition.MethodImage, nutrition.MethodAudio:
		return p.analyzeMedia(ctx, in)
	default:
		return nil, apperrors.Validation("unsupported analysis method", "method")
	}
}

func (p *Pipeline) analyzeText(ctx context.Context, in Input) (*Result, error) {
	normalized := NormalizeText(in.Text)
	if normalized == "" {
		return nil, apperrors.Validation("empty meal description", "text")
	}
	key := Fingerprint(nutrition.MethodText, []byte(normalized))

	if cached, ok := p.lookup(ctx, key); ok {
		cached.RawInputRef = truncate(in.Text, maxRawInputRef)
		return cached, nil
	}

	result := p.textTiers(ctx, in.Text)
	result.Method = nutrition.MethodText
	return p.finish(ctx, key, result, truncate(in.Text, maxRawInputRef))
}

func (p *Pipeline) analyzeMedia(ctx context.Context, in Input) (*Result, error) {
	media := Media{Data: in.Data, ContentType: in.ContentType}
	if len(media.Data) == 0 {
		if strings.TrimSpace(in.SourceURL) == "" {
			return nil, apperrors.Validation("missing media", "source_url")
		}
		dctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
		downloaded, err := p.cfg.Downloader.Download(dctx, in.SourceURL, in.Method)
		cancel()
		if err != nil {
			p.logger.Warn("media download failed",
				zap.String("method", string(in.Method)),
				zap.String("error", apperrors.Describe(err)))
			if apperrors.KindOf(err) == apperrors.KindInternal {
				err = apperrors.File("failed to download media", err)
			}
			return nil, err
		}
		media = downloaded
	}
	if media.Filename == "" {
		media.Filename = "media" + extensionFor(media.ContentType)
	}

	key := Fingerprint(in.Method, media.Data)
	rawRef := p.archive(ctx, key, in, media)

	if cached, ok := p.lookup(ctx, key); ok {
		cached.RawInputRef = rawRef
		return cached, nil
	}

	var result *Result
	if in.Method == nutrition.MethodImage {
		result = p.imageTiers(ctx, media, in.Text)
	} else {
		result = p.audioTiers(ctx, media)
	}
	result.Method = in.Method
	return p.finish(ctx, key, result, rawRef)
}

func (p *Pipeline) textTiers(ctx context.Context, text string) *Result {
	analysis, err := p.callText(ctx, text)
	if err == nil {
		return &Result{
			Record:      analysis.Record,
			Confidence:  PrimaryConfidence,
			Source:      SourcePrimary,
			Description: firstNonEmpty(analysis.Description, text),
		}
	}
	p.logTierFailure("text", err)
	return fallbackResult(text)
}

func (p *Pipeline) imageTiers(ctx context.Context, media Media, caption string) *Result {
	if p.cfg.Vision == nil {
		p.logTierFailure("vision", ErrNotConfigured)
		return fallbackResult(caption)
	}

	vctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	vision, err := p.cfg.Vision.DescribeImage(vctx, media.Data, media.ContentType)
	cancel()
	if err != nil || strings.TrimSpace(vision.Description) == "" {
		if err == nil {
			err = errors.New("empty image description")
		}
		p.logTierFailure("vision", err)
		return fallbackResult(caption)
	}

	description := strings.TrimSpace(vision.Description)
	query := description
	if c := strings.TrimSpace(caption); c != "" {
		query = c + ". " + description
	}

	analysis, err := p.callText(ctx, query)
	if err == nil {
		return &Result{
			Record:      analysis.Record,
			Confidence:  VisionConfidence,
			Source:      SourceVision,
			Description: description,
		}
	}
	p.logTierFailure("text", err)

	if vision.Estimate != nil && !vision.Estimate.IsZero() {
		return &Result{
			Record:      *vision.Estimate,
			Confidence:  VisionEstimateConfidence,
			Source:      SourceVisionEstimate,
			Description: description,
		}
	}
	return fallbackResult(query)
}

func (p *Pipeline) audioTiers(ctx context.Context, media Media) *Result {
	if p.cfg.Transcriber == nil {
		p.logTierFailure("transcription", ErrNotConfigured)
		return fallbackResult("")
	}

	tctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	transcript, err := p.cfg.Transcriber.Transcribe(tctx, media.Data, media.Filename, media.ContentType)
	cancel()
	transcript = strings.TrimSpace(transcript)
	if err != nil || transcript == "" {
		if err == nil {
			err = errors.New("empty transcript")
		}
		p.logTierFailure("transcription", err)
		return fallbackResult("")
	}

	result := p.textTiers(ctx, transcript)
	if result.Source == SourcePrimary {
		result.Confidence *= audioConfidenceFactor
	}
	return result
}

func (p *Pipeline) callText(ctx context.Context, text string) (TextAnalysis, error) {
	if p.cfg.Text == nil {
		return TextAnalysis{}, ErrNotConfigured
	}
	tctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	analysis, err := p.cfg.Text.AnalyzeText(tctx, text)
	if err != nil {
		return TextAnalysis{}, err
	}
	analysis.Record = analysis.Record.Sanitize()
	if analysis.Record.IsZero() {
		return TextAnalysis{}, errors.New("analyzer returned no nutrients")
	}
	return analysis, nil
}

func (p *Pipeline) finish(ctx context.Context, key string, result *Result, rawRef string) (*Result, error) {
	if result == nil {
		return nil, apperrors.Analysis("no analyzer produced a result", nil)
	}
	result.Record = result.Record.Sanitize()
	result.Score = nutrition.FoodScore(result.Record)
	result.Fingerprint = key

	if p.cfg.Cache != nil {
		if err := cache.SetJSON(ctx, p.cfg.Cache, key, result, p.cfg.CacheTTL); err != nil {
			p.logger.Warn("failed to cache analysis result", zap.String("key", key), zap.Error(err))
		}
	}

	result.RawInputRef = rawRef
	return result, nil
}

func (p *Pipeline) lookup(ctx context.Context, key string) (*Result, bool) {
	if p.cfg.Cache == nil {
		return nil, false
	}
	var cached Result
	if err := cache.GetJSON(ctx, p.cfg.Cache, key, &cached); err != nil {
		if !errors.Is(err, cache.ErrMiss) {
			p.logger.Warn("analysis cache lookup failed", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}
	cached.CacheHit = true
	cached.Fingerprint = key
	return &cached, true
}

// archive stores the media and returns its reference, or the source URL when archiving
// is unavailable.
func (p *Pipeline) archive(ctx context.Context, key string, in Input, media Media) string {
	fallbackRef := truncate(in.SourceURL, maxRawInputRef)
	if p.cfg.Archiver == nil {
		return fallbackRef
	}
	objectKey := fmt.Sprintf("meals/%s/%s%s", in.Method, strings.TrimPrefix(key, string(in.Method)+":"), extensionFor(media.ContentType))
	ref, err := p.cfg.Archiver.Archive(ctx, objectKey, media.Data, media.ContentType)
	if err != nil {
		p.logger.Warn("failed to archive media", zap.String("key", objectKey), zap.Error(err))
		return fallbackRef
	}
	return ref
}

func (p *Pipeline) logTierFailure(tier string, err error) {
	if errors.Is(err, ErrNotConfigured) {
		p.logger.Debug("analyzer not configured, falling back", zap.String("tier", tier))
		return
	}
	p.logger.Warn("analyzer failed, falling back", zap.String("tier", tier), zap.Error(err))
}

func fallbackResult(text string) *Result {
	record, keyword := EstimateFallback(text)
	return &Result{
		Record:      record,
		Confidence:  FallbackConfidence,
		Source:      SourceFallback,
		Description: firstNonEmpty(strings.TrimSpace(text), keyword),
		Degraded:    true,
	}
}

// NormalizeText lower-cases, trims and collapses whitespace.
func NormalizeText(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}

// Fingerprint is the cache key for an input: the method plus a SHA-256 of the
// normalized text or the raw media bytes.
func Fingerprint(method nutrition.Method, content []byte) string {
	sum := sha256.Sum256(content)
	return string(method) + ":" + hex.EncodeToString(sum[:])
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := s[:n]
	for len(cut) > 0 && !utf8.ValidString(cut) {
		cut = cut[:len(cut)-1]
	}
	return cut
}
