package nop_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/substrate/pkg/worldmodel"
	"github.com/papercomputeco/substrate/pkg/worldmodel/nop"
)

var _ = Describe("Sink", func() {
	It("accepts any event", func() {
		s := nop.NewSink()
		err := s.PublishInsights(context.Background(), &worldmodel.InsightsDerivedEvent{
			SchemaVersion: worldmodel.SchemaVersionV1,
			EventType:     worldmodel.EventTypeInsightsDerived,
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(s.Close()).To(Succeed())
	})

	It("rejects a nil event", func() {
		s := nop.NewSink()
		err := s.PublishInsights(context.Background(), nil)
		Expect(err).To(MatchError(worldmodel.ErrNilInsightsEvent))
	})
})
