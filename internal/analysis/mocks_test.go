package analysis

import (
	"context"

	"github.com/stretchr/testify/mock"
)

type mockTextAnalyzer struct {
	mock.Mock
}

func (m *mockTextAnalyzer) AnalyzeText(ctx context.Context, text string) (TextAnalysis, error) {
	args := m.Called(ctx, text)
	return args.Get(0).(TextAnalysis), args.Error(1)
}

type mockVisionAnalyzer struct {
	mock.Mock
}

func (m *mockVisionAnalyzer) DescribeImage(ctx context.Context, data []byte, contentType string) (VisionAnalysis, error) {
	args := m.Called(ctx, data, contentType)
	return args.Get(0).(VisionAnalysis), args.Error(1)
}

type mockTranscriber struct {
	mock.Mock
}

func (m *mockTranscriber) Transcribe(ctx context.Context, data []byte, filename, contentType string) (string, error) {
	args := m.Called(ctx, data, filename, contentType)
	return args.String(0), args.Error(1)
}

type mockArchiver struct {
	mock.Mock
}

func (m *mockArchiver) Archive(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	args := m.Called(ctx, key, data, contentType)
	return args.String(0), args.Error(1)
}
