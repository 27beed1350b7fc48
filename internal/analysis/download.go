package analysis

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/pageza/nutrilog/backend/internal/apperrors"
	"github.com/pageza/nutrilog/backend/internal/nutrition"
)

// DefaultMaxDownloadBytes is the hard ceiling on downloaded media.
const DefaultMaxDownloadBytes = 10 << 20

var allowedContentTypes = map[nutrition.Method]map[string]bool{
	nutrition.MethodImage: {
		"image/jpeg": true,
		"image/png":  true,
		"image/webp": true,
		"image/gif":  true,
	},
	nutrition.MethodAudio: {
		"audio/ogg":       true,
		"audio/opus":      true,
		"audio/mpeg":      true,
		"audio/mp4":       true,
		"audio/x-m4a":     true,
		"audio/aac":       true,
		"audio/wav":       true,
		"audio/x-wav":     true,
		"audio/wave":      true,
		"audio/webm":      true,
		"application/ogg": true,
		"video/ogg":       true,
		"video/mp4":       true,
	},
}

// HTTPDownloader fetches media over HTTP with a byte ceiling and content-type checks.
type HTTPDownloader struct {
	HTTPClient *http.Client
	MaxBytes   int64
}

func NewHTTPDownloader(maxBytes int64, timeout time.Duration) *HTTPDownloader {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxDownloadBytes
	}
	return &HTTPDownloader{
		HTTPClient: &http.Client{Timeout: timeout},
		MaxBytes:   maxBytes,
	}
}

func (d *HTTPDownloader) Download(ctx context.Context, rawURL string, method nutrition.Method) (Media, error) {
	allowed, ok := allowedContentTypes[method]
	if !ok {
		return Media{}, apperrors.Validation("unsupported media method", "method")
	}
	limit := d.MaxBytes
	if limit <= 0 {
		limit = DefaultMaxDownloadBytes
	}
	httpClient := d.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return Media{}, apperrors.File("invalid media url", err)
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return Media{}, apperrors.File("failed to download media", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return Media{}, apperrors.File(fmt.Sprintf("media download failed with status %d", resp.StatusCode), nil).
			WithDetail("status", resp.StatusCode)
	}
	if resp.ContentLength > limit {
		return Media{}, tooLarge(resp.ContentLength, limit)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return Media{}, apperrors.File("failed to read media", err)
	}
	if int64(len(data)) > limit {
		return Media{}, tooLarge(int64(len(data)), limit)
	}
	if len(data) == 0 {
		return Media{}, apperrors.File("empty media body", nil)
	}

	contentType := mediaType(resp.Header.Get("Content-Type"))
	if contentType == "" || contentType == "application/octet-stream" || contentType == "binary/octet-stream" {
		contentType = mediaType(http.DetectContentType(data))
	}
	if !allowed[contentType] {
		return Media{}, apperrors.File("unsupported media type", nil).WithDetail("content_type", contentType)
	}

	return Media{
		Data:        data,
		ContentType: contentType,
		Filename:    filenameFor(rawURL, contentType),
	}, nil
}

func tooLarge(size, limit int64) *apperrors.Error {
	return apperrors.File("media exceeds size limit", nil).
		WithDetail("size", size).
		WithDetail("limit", limit)
}

func mediaType(header string) string {
	mt, _, err := mime.ParseMediaType(header)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(header))
	}
	return strings.ToLower(mt)
}

func filenameFor(rawURL, contentType string) string {
	if u, err := url.Parse(rawURL); err == nil {
		if base := path.Base(u.Path); base != "" && base != "." && base != "/" && path.Ext(base) != "" {
			return base
		}
	}
	return "media" + extensionFor(contentType)
}

func extensionFor(contentType string) string {
	switch contentType {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	case "audio/mpeg":
		return ".mp3"
	case "audio/mp4", "audio/x-m4a", "video/mp4":
		return ".m4a"
	case "audio/wav", "audio/x-wav", "audio/wave":
		return ".wav"
	case "audio/webm":
		return ".webm"
	case "audio/aac":
		return ".aac"
	default:
		return ".ogg"
	}
}
