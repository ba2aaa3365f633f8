// Package worldmodel defines the outbound notification surface toward
// the world-model service. The substrate only produces events; it never
// reads the world model back.
package worldmodel

import "context"

// Sink receives insight notifications after facts are persisted.
type Sink interface {
	PublishInsights(ctx context.Context, event *InsightsDerivedEvent) error
	Close() error
}
