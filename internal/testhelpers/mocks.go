package testhelpers

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/pageza/nutrilog/backend/internal/analysis"
	"github.com/pageza/nutrilog/backend/internal/types"
)

// MockSubscriptionLookup is a mock payment processor.
type MockSubscriptionLookup struct {
	mock.Mock
}

func (m *MockSubscriptionLookup) LookupSubscription(ctx context.Context, eventType, reference string) (types.RemoteSubscription, error) {
	args := m.Called(ctx, eventType, reference)
	return args.Get(0).(types.RemoteSubscription), args.Error(1)
}

// MockAnalyzer is a mock analysis pipeline.
type MockAnalyzer struct {
	mock.Mock
}

func (m *MockAnalyzer) Analyze(ctx context.Context, in analysis.Input) (*analysis.Result, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*analysis.Result), args.Error(1)
}
