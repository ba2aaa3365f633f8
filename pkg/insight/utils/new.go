package insightutils

import (
	"fmt"

	"github.com/papercomputeco/substrate/pkg/insight"
	"github.com/papercomputeco/substrate/pkg/insight/heuristic"
)

type NewExtractorOpts struct {
	ProviderType string
}

func NewExtractor(o *NewExtractorOpts) (insight.Extractor, error) {
	switch o.ProviderType {
	case "heuristic":
		return heuristic.NewExtractor(), nil
	default:
		return nil, fmt.Errorf("unsupported insight extractor: %s", o.ProviderType)
	}
}
