package testutils

import (
	"context"
	"errors"

	"github.com/papercomputeco/substrate/pkg/insight"
	"github.com/papercomputeco/substrate/pkg/packet"
)

// MockExtractor is a test extractor that returns canned insights
type MockExtractor struct {
	// Insights is returned verbatim from every Extract call
	Insights []insight.Insight

	// Fail causes Extract to return an error
	Fail bool

	// Calls counts how many times Extract was invoked
	Calls int
}

func NewMockExtractor(insights ...insight.Insight) *MockExtractor {
	return &MockExtractor{Insights: insights}
}

func (m *MockExtractor) Extract(_ context.Context, _ *packet.Envelope) ([]insight.Insight, error) {
	m.Calls++

	if m.Fail {
		return nil, errors.New("mock extractor failure")
	}
	return m.Insights, nil
}

func (m *MockExtractor) Close() error {
	return nil
}
