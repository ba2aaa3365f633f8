package worldmodelutils

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/papercomputeco/substrate/pkg/worldmodel"
	"github.com/papercomputeco/substrate/pkg/worldmodel/kafka"
	"github.com/papercomputeco/substrate/pkg/worldmodel/nop"
)

type NewSinkOpts struct {
	ProviderType string
	Brokers      []string
	Topic        string
	Logger       *zap.Logger
}

func NewSink(o *NewSinkOpts) (worldmodel.Sink, error) {
	switch o.ProviderType {
	case "nop", "":
		return nop.NewSink(), nil
	case "kafka":
		return kafka.NewSink(kafka.Config{
			Brokers: o.Brokers,
			Topic:   o.Topic,
		}, o.Logger)
	default:
		return nil, fmt.Errorf("unsupported world model sink: %s", o.ProviderType)
	}
}
