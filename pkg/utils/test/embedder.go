package testutils

import (
	"context"
	"fmt"
	"strings"
)

// MockEmbedder is a test embedder that returns predictable embeddings
type MockEmbedder struct {
	Embeddings map[string][]float32

	// FailOn causes Embed to return an error when the input text contains
	// the given substring
	FailOn string

	// Calls counts how many times Embed was invoked
	Calls int
}

func NewMockEmbedder() *MockEmbedder {
	return &MockEmbedder{
		Embeddings: make(map[string][]float32),
	}
}

// Embed returns the configured embedding for the text, or a small
// deterministic default when none is configured.
func (m *MockEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	m.Calls++

	if m.FailOn != "" && strings.Contains(text, m.FailOn) {
		return nil, fmt.Errorf("mock embedder failure for %q", text)
	}

	if vec, ok := m.Embeddings[text]; ok {
		return vec, nil
	}

	// Deterministic fallback keyed on text length.
	return []float32{float32(len(text)), 1, 0}, nil
}

func (m *MockEmbedder) ModelVersion() string {
	return "mock/v1"
}

func (m *MockEmbedder) Close() error {
	return nil
}
