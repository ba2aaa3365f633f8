// Package pipeline drives packet ingestion through the fixed stage
// sequence: intake, attach reasoning, write, embed, extract insights,
// store insights, trigger world model, checkpoint.
//
// Each packet runs the sequence independently. The repository write is
// the durability point: everything after it is enrichment and degrades
// rather than failing the submission. Checkpoints record exactly which
// stages ran so a killed process resumes at the first incomplete stage.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/papercomputeco/substrate/pkg/embeddings"
	"github.com/papercomputeco/substrate/pkg/insight"
	"github.com/papercomputeco/substrate/pkg/packet"
	"github.com/papercomputeco/substrate/pkg/semindex"
	"github.com/papercomputeco/substrate/pkg/substrate"
	"github.com/papercomputeco/substrate/pkg/worldmodel"
)

const (
	defaultEmbedAttempts  = 3
	defaultEmbedBackoff   = 200 * time.Millisecond
	defaultEmbedTimeout   = 30 * time.Second
	defaultPublishTimeout = 10 * time.Second
)

// errEmbedDegraded signals the embed stage exhausted its retries. The run
// checkpoints at the write stage and the packet stays embedding-pending.
var errEmbedDegraded = errors.New("embedding degraded")

// Submission is the raw intake for one packet. This is the only entry
// point outer transport layers use.
type Submission struct {
	// PacketType determines how downstream stages interpret Payload.
	PacketType string

	// Payload is the packet content. Hashed canonically, so key order
	// never matters.
	Payload map[string]any

	// ThreadID optionally groups the packet into a conversation thread.
	ThreadID *string

	// PredecessorID optionally chains the packet after an existing one
	// in the same thread. The predecessor must already be durably
	// written.
	PredecessorID *string

	// Tags are free-form labels used by search pre-filters.
	Tags []string

	// TTL optionally marks the packet for expiry.
	TTL *time.Time

	// Reasoning is opaque trace context produced upstream, attached to
	// the envelope's metadata, never interpreted here.
	Reasoning map[string]string
}

// Config wires the pipeline's collaborators.
type Config struct {
	Repo      substrate.Repository
	Index     semindex.Index
	Embedder  embeddings.Embedder
	Extractor insight.Extractor
	Sink      worldmodel.Sink
	Logger    *zap.Logger

	// Instance identifies this substrate in outbound events.
	Instance string

	// EmbedAttempts bounds embedding retries per run (defaults to 3).
	EmbedAttempts int

	// EmbedBackoff is the initial backoff between embedding attempts,
	// doubled each retry (defaults to 200ms).
	EmbedBackoff time.Duration

	// EmbedTimeout bounds a single embedding call (defaults to 30s).
	EmbedTimeout time.Duration

	// PublishTimeout bounds a world-model publish (defaults to 10s).
	PublishTimeout time.Duration
}

// Pipeline runs packet ingestion.
type Pipeline struct {
	cfg    Config
	logger *zap.Logger

	// writeLocks serializes the write stage per packet id. Entries are
	// reference counted and dropped once the last holder releases.
	locksMu    sync.Mutex
	writeLocks map[string]*writeLock
}

type writeLock struct {
	mu   sync.Mutex
	refs int
}

// New creates a pipeline. Repo, Embedder, Extractor, Sink, Index, and
// Logger are required.
func New(cfg Config) (*Pipeline, error) {
	if cfg.Repo == nil {
		return nil, fmt.Errorf("repository is required")
	}
	if cfg.Index == nil {
		return nil, fmt.Errorf("semantic index is required")
	}
	if cfg.Embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if cfg.Extractor == nil {
		return nil, fmt.Errorf("insight extractor is required")
	}
	if cfg.Sink == nil {
		return nil, fmt.Errorf("world model sink is required")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	if cfg.EmbedAttempts <= 0 {
		cfg.EmbedAttempts = defaultEmbedAttempts
	}
	if cfg.EmbedBackoff <= 0 {
		cfg.EmbedBackoff = defaultEmbedBackoff
	}
	if cfg.EmbedTimeout <= 0 {
		cfg.EmbedTimeout = defaultEmbedTimeout
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = defaultPublishTimeout
	}

	return &Pipeline{
		cfg:        cfg,
		logger:     cfg.Logger,
		writeLocks: make(map[string]*writeLock),
	}, nil
}

// Submit ingests one packet and returns its assigned packet id. The
// caller always gets a definitive packet id or a definitive validation
// failure; enrichment completeness is observable via checkpoints, never
// by this call blocking on it.
func (p *Pipeline) Submit(ctx context.Context, sub Submission) (string, error) {
	env, err := p.intake(sub)
	if err != nil {
		return "", err
	}

	ck := packet.NewCheckpoint(env.PacketID, nil)
	ck.Mark(packet.StageIntake)

	if err := p.run(ctx, env, ck); err != nil {
		return "", err
	}

	return env.PacketID, nil
}

// intake validates raw input and builds the envelope. Malformed input is
// fatal and never retried.
func (p *Pipeline) intake(sub Submission) (*packet.Envelope, error) {
	if sub.PacketType == "" {
		return nil, packet.ValidationError{Field: "packet_type", Reason: "empty"}
	}
	if sub.Payload == nil {
		return nil, packet.ValidationError{Field: "payload", Reason: "nil"}
	}
	if sub.PredecessorID != nil && sub.ThreadID == nil {
		return nil, packet.ValidationError{Field: "predecessor_packet_id", Reason: "requires thread_id"}
	}

	var opts []packet.Option
	if sub.ThreadID != nil {
		opts = append(opts, packet.WithThread(*sub.ThreadID))
	}
	if sub.PredecessorID != nil {
		opts = append(opts, packet.WithLineage(*sub.PredecessorID))
	}
	if len(sub.Tags) > 0 {
		opts = append(opts, packet.WithTags(sub.Tags...))
	}
	if sub.TTL != nil {
		opts = append(opts, packet.WithTTL(*sub.TTL))
	}
	if len(sub.Reasoning) > 0 {
		opts = append(opts, packet.WithMetadata(sub.Reasoning))
	}

	env, err := packet.New(sub.PacketType, sub.Payload, opts...)
	if err != nil {
		return nil, err
	}
	if err := env.Validate(); err != nil {
		return nil, err
	}

	return env, nil
}

// run drives the envelope from the checkpoint's resume point to
// completion, persisting the checkpoint at the end.
func (p *Pipeline) run(ctx context.Context, env *packet.Envelope, ck *packet.Checkpoint) error {
	var facts []packet.Fact

	for {
		stage, ok := ck.NextStage()
		if !ok {
			break
		}

		var err error
		switch stage {
		case packet.StageIntake:
			// Envelope already built and validated; nothing to redo on
			// resume.
			ck.Mark(stage)
		case packet.StageAttachReasoning:
			// Reasoning context travels in envelope metadata, attached
			// at intake. The stage exists so checkpoints record it.
			ck.Mark(stage)
		case packet.StageWrite:
			err = p.write(ctx, env)
			if err == nil {
				ck.Mark(stage)
			}
		case packet.StageEmbed:
			err = p.embed(ctx, env)
			if errors.Is(err, errEmbedDegraded) {
				return p.checkpointDegraded(ctx, env, ck)
			}
			if err == nil {
				ck.Mark(stage)
			}
		case packet.StageExtractInsights:
			facts, err = p.extract(ctx, env, ck)
		case packet.StageStoreInsights:
			facts, err = p.storeInsights(ctx, env, facts)
			if err == nil {
				ck.Mark(stage)
			}
		case packet.StageTriggerWorldModel:
			p.notify(ctx, env, facts)
			ck.Mark(stage)
		case packet.StageCheckpoint:
			ck.Mark(stage)
		}

		if err != nil {
			return err
		}
	}

	if err := p.cfg.Repo.PutCheckpoint(ctx, ck); err != nil {
		return fmt.Errorf("writing checkpoint for %s: %w", env.PacketID, err)
	}

	p.logger.Info("packet ingested",
		zap.String("packet_id", env.PacketID),
		zap.String("packet_type", env.PacketType),
		zap.Int("facts", len(facts)),
		zap.Strings("stages_skipped", stageNames(ck.StagesSkipped)),
	)

	return nil
}

// write persists the envelope. The per-packet lock guarantees no two
// runs hold the write stage for the same packet id at once. A duplicate
// packet id with identical content short-circuits successfully; a
// conflicting rewrite surfaces as AlreadyExists.
func (p *Pipeline) write(ctx context.Context, env *packet.Envelope) error {
	unlock := p.lockWrite(env.PacketID)
	defer unlock()

	if env.ThreadID != nil {
		if err := p.checkLineage(ctx, env); err != nil {
			return err
		}
	}

	err := p.cfg.Repo.PutEnvelope(ctx, env)
	var exists substrate.AlreadyExistsError
	if errors.As(err, &exists) && exists.SameContent {
		// Idempotent re-run.
		return nil
	}
	return err
}

// checkLineage enforces the single-chain shape of a thread before the
// envelope becomes durable: one root per thread, and a new envelope may
// only extend the current tail. Anything else would leave GetThread with
// live envelopes it cannot order.
func (p *Pipeline) checkLineage(ctx context.Context, env *packet.Envelope) error {
	threadID := *env.ThreadID

	members, err := p.cfg.Repo.GetThread(ctx, threadID)
	if err != nil {
		var bl substrate.BrokenLineageError
		if errors.As(err, &bl) {
			return bl
		}
		return fmt.Errorf("loading thread %s for %s: %w", threadID, env.PacketID, err)
	}

	// A resumed run finds its own envelope already in the thread; the
	// durable write below short-circuits, so ignore it here.
	chain := make([]*packet.Envelope, 0, len(members))
	for _, m := range members {
		if m.PacketID != env.PacketID {
			chain = append(chain, m)
		}
	}

	if env.Lineage == nil {
		if len(chain) > 0 {
			return substrate.BrokenLineageError{
				ThreadID: threadID,
				PacketID: env.PacketID,
				Reason:   fmt.Sprintf("would be a second root alongside %s", chain[0].PacketID),
			}
		}
		return nil
	}

	// The declared predecessor must be durably written first, and must
	// still be the tail of the chain.
	if len(chain) == 0 {
		return substrate.BrokenLineageError{
			ThreadID:      threadID,
			PacketID:      env.PacketID,
			PredecessorID: *env.Lineage,
		}
	}
	tail := chain[len(chain)-1]
	if tail.PacketID != *env.Lineage {
		for _, m := range chain {
			if m.PacketID == *env.Lineage {
				return substrate.BrokenLineageError{
					ThreadID:      threadID,
					PacketID:      env.PacketID,
					PredecessorID: *env.Lineage,
					Reason: fmt.Sprintf("forks predecessor %s, already extended",
						*env.Lineage),
				}
			}
		}
		return substrate.BrokenLineageError{
			ThreadID:      threadID,
			PacketID:      env.PacketID,
			PredecessorID: *env.Lineage,
		}
	}
	return nil
}

func (p *Pipeline) lockWrite(packetID string) func() {
	p.locksMu.Lock()
	l, ok := p.writeLocks[packetID]
	if !ok {
		l = &writeLock{}
		p.writeLocks[packetID] = l
	}
	l.refs++
	p.locksMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		p.locksMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(p.writeLocks, packetID)
		}
		p.locksMu.Unlock()
	}
}

// embed produces and persists the packet's vector, then projects it into
// the semantic index. Exhausted retries degrade instead of failing.
func (p *Pipeline) embed(ctx context.Context, env *packet.Envelope) error {
	modelVersion := p.cfg.Embedder.ModelVersion()

	rec, err := p.cfg.Repo.GetEmbedding(ctx, env.PacketID, modelVersion)
	if err == nil {
		// Already embedded by a previous run; refresh the derived index
		// and move on.
		return p.index(ctx, env, rec.Vector)
	}
	var nf substrate.NotFoundError
	if !errors.As(err, &nf) {
		return fmt.Errorf("checking embedding for %s: %w", env.PacketID, err)
	}

	text := env.ExtractText()
	vector, err := p.embedWithRetry(ctx, env.PacketID, text)
	if err != nil {
		if markErr := p.cfg.Repo.MarkEmbeddingPending(ctx, env.PacketID, true); markErr != nil {
			p.logger.Error("failed to mark embedding pending",
				zap.String("packet_id", env.PacketID),
				zap.Error(markErr),
			)
		}
		p.logger.Warn("embedding degraded, packet pending retry sweep",
			zap.String("packet_id", env.PacketID),
			zap.Error(err),
		)
		return errEmbedDegraded
	}

	rec, err = packet.NewEmbeddingRecord(env.PacketID, modelVersion, vector)
	if err != nil {
		return err
	}
	if err := p.cfg.Repo.PutEmbedding(ctx, rec); err != nil {
		return fmt.Errorf("storing embedding for %s: %w", env.PacketID, err)
	}
	if err := p.cfg.Repo.MarkEmbeddingPending(ctx, env.PacketID, false); err != nil {
		return fmt.Errorf("clearing pending flag for %s: %w", env.PacketID, err)
	}

	return p.index(ctx, env, vector)
}

// index upserts the packet into the semantic index. The index is a
// rebuildable projection, so failures degrade rather than failing the
// stage.
func (p *Pipeline) index(ctx context.Context, env *packet.Envelope, vector []float32) error {
	doc := semindex.Document{
		PacketID:   env.PacketID,
		Vector:     vector,
		PacketType: env.PacketType,
		Tags:       env.Tags,
		CreatedAt:  env.CreatedAt,
	}
	if env.ThreadID != nil {
		doc.ThreadID = *env.ThreadID
	}

	if err := p.cfg.Index.Index(ctx, doc); err != nil {
		p.logger.Warn("semantic index update failed, rebuildable via reindex",
			zap.String("packet_id", env.PacketID),
			zap.Error(err),
		)
	}

	return nil
}

// embedWithRetry runs the embedder with bounded exponential backoff.
func (p *Pipeline) embedWithRetry(ctx context.Context, packetID, text string) ([]float32, error) {
	var lastErr error
	backoff := p.cfg.EmbedBackoff

	for attempt := 1; attempt <= p.cfg.EmbedAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			backoff *= 2
		}

		embedCtx, cancel := context.WithTimeout(ctx, p.cfg.EmbedTimeout)
		vector, err := p.cfg.Embedder.Embed(embedCtx, text)
		cancel()
		if err == nil {
			return vector, nil
		}

		lastErr = err
		p.logger.Debug("embedding attempt failed",
			zap.String("packet_id", packetID),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}

	return nil, fmt.Errorf("after %d attempts: %w", p.cfg.EmbedAttempts, lastErr)
}

// checkpointDegraded persists the partial checkpoint for a run that
// degraded at the embed stage. The submission still succeeds; the
// pending sweep finishes the run later.
func (p *Pipeline) checkpointDegraded(ctx context.Context, env *packet.Envelope, ck *packet.Checkpoint) error {
	if err := p.cfg.Repo.PutCheckpoint(ctx, ck); err != nil {
		return fmt.Errorf("writing degraded checkpoint for %s: %w", env.PacketID, err)
	}

	p.logger.Info("packet ingested degraded",
		zap.String("packet_id", env.PacketID),
		zap.Strings("stages_completed", stageNames(ck.StagesCompleted)),
	)

	return nil
}

// extract derives insights from the envelope. Extraction failure is
// best-effort: logged, recorded as skipped, never fatal. Facts already
// stored by a previous run satisfy both this stage and store.
func (p *Pipeline) extract(ctx context.Context, env *packet.Envelope, ck *packet.Checkpoint) ([]packet.Fact, error) {
	existing, err := p.cfg.Repo.GetFactsByPacket(ctx, env.PacketID)
	if err != nil {
		return nil, fmt.Errorf("checking facts for %s: %w", env.PacketID, err)
	}
	if len(existing) > 0 {
		ck.Mark(packet.StageExtractInsights)
		ck.Mark(packet.StageStoreInsights)
		facts := make([]packet.Fact, len(existing))
		for i, f := range existing {
			facts[i] = *f
		}
		return facts, nil
	}

	insights, err := p.cfg.Extractor.Extract(ctx, env)
	if err != nil {
		p.logger.Warn("insight extraction failed, stage skipped",
			zap.String("packet_id", env.PacketID),
			zap.Error(err),
		)
		ck.Skip(packet.StageExtractInsights)
		return nil, nil
	}

	ck.Mark(packet.StageExtractInsights)

	facts := make([]packet.Fact, 0, len(insights))
	for _, ins := range insights {
		f, err := packet.NewFact([]string{env.PacketID}, ins.Statement, ins.Confidence)
		if err != nil {
			p.logger.Warn("discarding invalid insight",
				zap.String("packet_id", env.PacketID),
				zap.Error(err),
			)
			continue
		}
		facts = append(facts, *f)
	}

	return facts, nil
}

// storeInsights persists derived facts. Empty output is a valid,
// successful outcome.
func (p *Pipeline) storeInsights(ctx context.Context, env *packet.Envelope, facts []packet.Fact) ([]packet.Fact, error) {
	for i := range facts {
		if err := p.cfg.Repo.PutFact(ctx, &facts[i]); err != nil {
			return nil, fmt.Errorf("storing fact for %s: %w", env.PacketID, err)
		}
	}

	return facts, nil
}

// notify publishes the insights event. At-least-once: a run that dies
// before its checkpoint re-publishes on resume, and delivery failure is
// a degraded condition, never a pipeline failure.
func (p *Pipeline) notify(ctx context.Context, env *packet.Envelope, facts []packet.Fact) {
	event := &worldmodel.InsightsDerivedEvent{
		SchemaVersion: worldmodel.SchemaVersionV1,
		EventType:     worldmodel.EventTypeInsightsDerived,
		EventID:       uuid.NewString(),
		EmittedAt:     time.Now().UTC(),
		Source:        worldmodel.EventSource{Instance: p.cfg.Instance},
		Packet: worldmodel.PacketMeta{
			PacketID:    env.PacketID,
			ContentHash: env.ContentHash,
			PacketType:  env.PacketType,
			ThreadID:    env.ThreadID,
		},
		Facts: facts,
	}

	publishCtx, cancel := context.WithTimeout(ctx, p.cfg.PublishTimeout)
	defer cancel()

	if err := p.cfg.Sink.PublishInsights(publishCtx, event); err != nil {
		p.logger.Warn("world model notification failed, degraded",
			zap.String("packet_id", env.PacketID),
			zap.String("event_id", event.EventID),
			zap.Error(err),
		)
	}
}

func stageNames(stages []packet.Stage) []string {
	out := make([]string, len(stages))
	for i, s := range stages {
		out[i] = string(s)
	}
	return out
}
