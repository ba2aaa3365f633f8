// Package heuristic provides a deterministic, dependency-free insight
// extractor. It is the local-dev story — production deployments plug in
// model-backed extractors behind the same interface.
package heuristic

import (
	"context"
	"strings"

	"github.com/papercomputeco/substrate/pkg/insight"
	"github.com/papercomputeco/substrate/pkg/packet"
)

// Confidence levels assigned by match kind. Explicit triples in the
// payload are trusted more than pattern matches over prose.
const (
	explicitConfidence = 0.9
	patternConfidence  = 0.5
)

// Extractor implements insight.Extractor with simple structural rules.
type Extractor struct{}

// NewExtractor creates a heuristic extractor.
func NewExtractor() *Extractor {
	return &Extractor{}
}

// Extract derives insights two ways: an explicit "statement" object in
// the payload becomes a high-confidence fact, and "<subject> is <object>"
// sentences in string fields become low-confidence facts.
func (e *Extractor) Extract(_ context.Context, env *packet.Envelope) ([]insight.Insight, error) {
	var out []insight.Insight

	if s, ok := explicitStatement(env.Payload); ok {
		out = append(out, insight.Insight{
			Statement:  s,
			Confidence: explicitConfidence,
		})
	}

	// Scan string fields in sorted key order so output is deterministic.
	for _, text := range packet.SortedStringValues(env.Payload) {
		for _, sentence := range strings.Split(text, ".") {
			if s, ok := copulaTriple(sentence); ok {
				out = append(out, insight.Insight{
					Statement:  s,
					Confidence: patternConfidence,
				})
			}
		}
	}

	return out, nil
}

// explicitStatement reads a payload-level statement object:
//
//	{"statement": {"subject": ..., "predicate": ..., "object": ...}}
func explicitStatement(payload map[string]any) (packet.Statement, bool) {
	raw, ok := payload["statement"].(map[string]any)
	if !ok {
		return packet.Statement{}, false
	}

	subject, _ := raw["subject"].(string)
	predicate, _ := raw["predicate"].(string)
	object, _ := raw["object"].(string)
	if subject == "" || predicate == "" || object == "" {
		return packet.Statement{}, false
	}

	return packet.Statement{
		Subject:   subject,
		Predicate: predicate,
		Object:    object,
	}, true
}

// copulaTriple matches a single "<subject> is <object>" sentence. Multi-word
// subjects are rejected to keep the false-positive rate down.
func copulaTriple(sentence string) (packet.Statement, bool) {
	words := strings.Fields(strings.TrimSpace(sentence))
	if len(words) < 3 {
		return packet.Statement{}, false
	}

	for i, w := range words {
		if w != "is" {
			continue
		}
		if i != 1 || i == len(words)-1 {
			return packet.Statement{}, false
		}
		return packet.Statement{
			Subject:   strings.Trim(words[0], ",;:"),
			Predicate: "is",
			Object:    strings.Trim(strings.Join(words[i+1:], " "), ",;:"),
		}, true
	}

	return packet.Statement{}, false
}

// Close is a no-op for the heuristic extractor.
func (e *Extractor) Close() error {
	return nil
}

var _ insight.Extractor = (*Extractor)(nil)
