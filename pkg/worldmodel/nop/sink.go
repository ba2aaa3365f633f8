package nop

import (
	"context"

	"github.com/papercomputeco/substrate/pkg/worldmodel"
)

// Sink is a no-op world-model sink used for tests and disabled mode.
type Sink struct{}

// NewSink creates a new no-op world-model sink.
func NewSink() *Sink {
	return &Sink{}
}

// PublishInsights validates input and otherwise does nothing.
func (s *Sink) PublishInsights(_ context.Context, event *worldmodel.InsightsDerivedEvent) error {
	if event == nil {
		return worldmodel.ErrNilInsightsEvent
	}

	return nil
}

// Close is a no-op.
func (s *Sink) Close() error {
	return nil
}
