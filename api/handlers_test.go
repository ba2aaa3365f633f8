package api

import (
	"context"
	"net/http"

	"github.com/gofiber/fiber/v2"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/papercomputeco/substrate/pkg/consolidate"
	"github.com/papercomputeco/substrate/pkg/packet"
	"github.com/papercomputeco/substrate/pkg/semindex/memory"
	"github.com/papercomputeco/substrate/pkg/substrate/inmemory"
)

func newTestIndex() *memory.Index {
	return memory.NewIndex()
}

func getPath(server *Server, path string) *http.Response {
	req, err := http.NewRequest(http.MethodGet, path, nil)
	Expect(err).NotTo(HaveOccurred())

	resp, err := server.app.Test(req, -1)
	Expect(err).NotTo(HaveOccurred())
	return resp
}

var _ = Describe("read handlers", func() {
	var (
		server *Server
		repo   *inmemory.Driver
		ctx    context.Context
	)

	BeforeEach(func() {
		server, repo, _ = newTestServer()
		ctx = context.Background()
	})

	Describe("handlePing", func() {
		It("responds to the health check", func() {
			resp := getPath(server, "/ping")
			Expect(resp.StatusCode).To(Equal(fiber.StatusOK))
		})
	})

	Describe("handleGetEnvelope", func() {
		It("returns a stored envelope", func() {
			env, err := packet.New("note", map[string]any{"text": "readable"})
			Expect(err).NotTo(HaveOccurred())
			Expect(repo.PutEnvelope(ctx, env)).To(Succeed())

			resp := getPath(server, "/v1/envelope/"+env.PacketID)
			Expect(resp.StatusCode).To(Equal(fiber.StatusOK))

			var got packet.Envelope
			decodeBody(resp, &got)
			Expect(got.PacketID).To(Equal(env.PacketID))
			Expect(got.ContentHash).To(Equal(env.ContentHash))
		})

		It("returns 404 for an unknown id", func() {
			resp := getPath(server, "/v1/envelope/missing")
			Expect(resp.StatusCode).To(Equal(fiber.StatusNotFound))
		})

		It("returns 404 for a tombstoned envelope", func() {
			env, err := packet.New("note", map[string]any{"text": "condemned"})
			Expect(err).NotTo(HaveOccurred())
			Expect(repo.PutEnvelope(ctx, env)).To(Succeed())
			Expect(repo.Tombstone(ctx, env.PacketID, "")).To(Succeed())

			resp := getPath(server, "/v1/envelope/"+env.PacketID)
			Expect(resp.StatusCode).To(Equal(fiber.StatusNotFound))
		})
	})

	Describe("handleGetThread", func() {
		It("returns a thread in lineage order", func() {
			thread := "thread-read"
			first, err := packet.New("note", map[string]any{"text": "one"},
				packet.WithThread(thread))
			Expect(err).NotTo(HaveOccurred())
			Expect(repo.PutEnvelope(ctx, first)).To(Succeed())

			second, err := first.Amend(map[string]any{"text": "two"})
			Expect(err).NotTo(HaveOccurred())
			Expect(repo.PutEnvelope(ctx, second)).To(Succeed())

			resp := getPath(server, "/v1/thread/"+thread)
			Expect(resp.StatusCode).To(Equal(fiber.StatusOK))

			var out struct {
				ThreadID  string             `json:"thread_id"`
				Count     int                `json:"count"`
				Envelopes []*packet.Envelope `json:"envelopes"`
			}
			decodeBody(resp, &out)
			Expect(out.ThreadID).To(Equal(thread))
			Expect(out.Count).To(Equal(2))
			Expect(out.Envelopes[0].PacketID).To(Equal(first.PacketID))
			Expect(out.Envelopes[1].PacketID).To(Equal(second.PacketID))
		})

		It("returns an empty thread for an unknown id", func() {
			resp := getPath(server, "/v1/thread/empty-thread")
			Expect(resp.StatusCode).To(Equal(fiber.StatusOK))

			var out struct {
				Count int `json:"count"`
			}
			decodeBody(resp, &out)
			Expect(out.Count).To(BeZero())
		})
	})

	Describe("handleGetFacts", func() {
		It("returns the facts derived from an envelope", func() {
			env, err := packet.New("note", map[string]any{"text": "the sky is blue"})
			Expect(err).NotTo(HaveOccurred())
			Expect(repo.PutEnvelope(ctx, env)).To(Succeed())

			fact, err := packet.NewFact([]string{env.PacketID}, packet.Statement{
				Subject:   "sky",
				Predicate: "is",
				Object:    "blue",
			}, 0.8)
			Expect(err).NotTo(HaveOccurred())
			Expect(repo.PutFact(ctx, fact)).To(Succeed())

			resp := getPath(server, "/v1/facts/"+env.PacketID)
			Expect(resp.StatusCode).To(Equal(fiber.StatusOK))

			var out struct {
				PacketID string         `json:"packet_id"`
				Count    int            `json:"count"`
				Facts    []*packet.Fact `json:"facts"`
			}
			decodeBody(resp, &out)
			Expect(out.Count).To(Equal(1))
			Expect(out.Facts[0].FactID).To(Equal(fact.FactID))
		})
	})

	Describe("handleStats", func() {
		It("reports store counts", func() {
			env, err := packet.New("note", map[string]any{"text": "counted"})
			Expect(err).NotTo(HaveOccurred())
			Expect(repo.PutEnvelope(ctx, env)).To(Succeed())

			resp := getPath(server, "/v1/stats")
			Expect(resp.StatusCode).To(Equal(fiber.StatusOK))

			var out struct {
				Store struct {
					LiveEnvelopes int `json:"live_envelopes"`
				} `json:"store"`
				Consolidation *consolidate.Metrics `json:"consolidation"`
			}
			decodeBody(resp, &out)
			Expect(out.Store.LiveEnvelopes).To(Equal(1))
			Expect(out.Consolidation).To(BeNil())
		})

		It("includes consolidation metrics when a consolidator is wired", func() {
			svc := consolidate.NewService(consolidate.Config{
				Repo:   repo,
				Index:  newTestIndex(),
				Logger: zap.NewNop(),
			})
			_, err := svc.Run(ctx)
			Expect(err).NotTo(HaveOccurred())

			withConsolidator := NewServer(Config{ListenAddr: ":0"},
				repo, newTestIndex(), nil, nil, svc, zap.NewNop())

			resp := getPath(withConsolidator, "/v1/stats")
			Expect(resp.StatusCode).To(Equal(fiber.StatusOK))

			var out struct {
				Consolidation *consolidate.Metrics `json:"consolidation"`
			}
			decodeBody(resp, &out)
			Expect(out.Consolidation).NotTo(BeNil())
			Expect(out.Consolidation.Runs).To(Equal(1))
		})
	})
})
