package testutils

import (
	"context"
	"errors"
	"sync"

	"github.com/papercomputeco/substrate/pkg/worldmodel"
)

// MockSink is a test world-model sink that records published events
type MockSink struct {
	mu     sync.Mutex
	events []*worldmodel.InsightsDerivedEvent

	// Fail causes PublishInsights to return an error
	Fail bool
}

func NewMockSink() *MockSink {
	return &MockSink{}
}

func (m *MockSink) PublishInsights(_ context.Context, ev *worldmodel.InsightsDerivedEvent) error {
	if m.Fail {
		return errors.New("mock sink failure")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return nil
}

// Events returns a snapshot of everything published so far.
func (m *MockSink) Events() []*worldmodel.InsightsDerivedEvent {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*worldmodel.InsightsDerivedEvent, len(m.events))
	copy(out, m.events)
	return out
}

func (m *MockSink) Close() error {
	return nil
}
