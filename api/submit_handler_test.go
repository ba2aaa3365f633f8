package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/papercomputeco/substrate/pkg/pipeline"
	"github.com/papercomputeco/substrate/pkg/substrate/inmemory"
	testutils "github.com/papercomputeco/substrate/pkg/utils/test"
)

// newTestServer wires a server over in-memory collaborators, returning
// the server and the repo for direct seeding.
func newTestServer() (*Server, *inmemory.Driver, *testutils.MockEmbedder) {
	repo := inmemory.NewDriver()
	index := newTestIndex()
	embedder := testutils.NewMockEmbedder()

	pipe, err := pipeline.New(pipeline.Config{
		Repo:         repo,
		Index:        index,
		Embedder:     embedder,
		Extractor:    testutils.NewMockExtractor(),
		Sink:         testutils.NewMockSink(),
		Logger:       zap.NewNop(),
		Instance:     "test-substrate",
		EmbedBackoff: time.Millisecond,
	})
	Expect(err).NotTo(HaveOccurred())

	server := NewServer(Config{ListenAddr: ":0"}, repo, index, embedder, pipe, nil, zap.NewNop())
	return server, repo, embedder
}

func postJSON(server *Server, path string, body any) *http.Response {
	raw, err := json.Marshal(body)
	Expect(err).NotTo(HaveOccurred())

	req, err := http.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	Expect(err).NotTo(HaveOccurred())
	req.Header.Set("Content-Type", "application/json")

	resp, err := server.app.Test(req, -1)
	Expect(err).NotTo(HaveOccurred())
	return resp
}

func decodeBody(resp *http.Response, out any) {
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	Expect(err).NotTo(HaveOccurred())
	Expect(json.Unmarshal(raw, out)).To(Succeed())
}

var _ = Describe("handleSubmit", func() {
	var (
		server *Server
		repo   *inmemory.Driver
		ctx    context.Context
	)

	BeforeEach(func() {
		server, repo, _ = newTestServer()
		ctx = context.Background()
	})

	It("accepts a packet and returns its definitive id", func() {
		resp := postJSON(server, "/v1/submit", SubmitRequest{
			PacketType: "observation",
			Payload:    map[string]any{"text": "the deploy finished"},
		})
		Expect(resp.StatusCode).To(Equal(fiber.StatusCreated))

		var out SubmitResponse
		decodeBody(resp, &out)
		Expect(out.PacketID).NotTo(BeEmpty())

		env, err := repo.GetEnvelope(ctx, out.PacketID)
		Expect(err).NotTo(HaveOccurred())
		Expect(env.PacketType).To(Equal("observation"))
	})

	It("rejects a packet without a type", func() {
		resp := postJSON(server, "/v1/submit", SubmitRequest{
			Payload: map[string]any{"text": "typeless"},
		})
		Expect(resp.StatusCode).To(Equal(fiber.StatusBadRequest))

		var out ErrorResponse
		decodeBody(resp, &out)
		Expect(out.Error).To(ContainSubstring("packet_type"))
	})

	It("rejects a malformed body", func() {
		req, err := http.NewRequest(http.MethodPost, "/v1/submit", bytes.NewReader([]byte("{not json")))
		Expect(err).NotTo(HaveOccurred())
		req.Header.Set("Content-Type", "application/json")

		resp, err := server.app.Test(req, -1)
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.StatusCode).To(Equal(fiber.StatusBadRequest))
	})

	It("rejects lineage onto an unknown predecessor with a conflict", func() {
		thread := "thread-conflict"
		missing := "no-such-packet"
		resp := postJSON(server, "/v1/submit", SubmitRequest{
			PacketType:    "observation",
			Payload:       map[string]any{"text": "orphaned"},
			ThreadID:      &thread,
			PredecessorID: &missing,
		})
		Expect(resp.StatusCode).To(Equal(fiber.StatusConflict))
	})

	It("chains onto an existing predecessor", func() {
		thread := "thread-chain"

		first := postJSON(server, "/v1/submit", SubmitRequest{
			PacketType: "observation",
			Payload:    map[string]any{"text": "first"},
			ThreadID:   &thread,
		})
		Expect(first.StatusCode).To(Equal(fiber.StatusCreated))
		var head SubmitResponse
		decodeBody(first, &head)

		second := postJSON(server, "/v1/submit", SubmitRequest{
			PacketType:    "observation",
			Payload:       map[string]any{"text": "second"},
			ThreadID:      &thread,
			PredecessorID: &head.PacketID,
		})
		Expect(second.StatusCode).To(Equal(fiber.StatusCreated))

		envs, err := repo.GetThread(ctx, thread)
		Expect(err).NotTo(HaveOccurred())
		Expect(envs).To(HaveLen(2))
		Expect(envs[0].PacketID).To(Equal(head.PacketID))
	})
})
