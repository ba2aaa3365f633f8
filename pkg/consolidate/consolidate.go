// Package consolidate runs the background maintenance pass over the
// packet store: content-hash deduplication, TTL expiry, and pruning of
// superseded embedding versions.
//
// The service is scheduled and single-flight: no two passes execute
// concurrently, and a failed pass waits for the next tick rather than
// retrying in a tight loop. Single-record failures inside a pass are
// counted and skipped; the pass continues.
package consolidate

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/papercomputeco/substrate/pkg/packet"
	"github.com/papercomputeco/substrate/pkg/semindex"
	"github.com/papercomputeco/substrate/pkg/substrate"
)

const (
	defaultInterval    = 10 * time.Minute
	defaultGracePeriod = 1 * time.Hour
	defaultMinAge      = 5 * time.Minute
)

// Config wires the consolidation service.
type Config struct {
	Repo   substrate.Repository
	Index  semindex.Index
	Logger *zap.Logger

	// Interval is the tick between passes (defaults to 10m).
	Interval time.Duration

	// GracePeriod is how long an expiry tombstone must stand before the
	// row is physically removed, so in-flight readers can still see it
	// (defaults to 1h).
	GracePeriod time.Duration

	// MinAge is the minimum envelope age before consolidation touches
	// it, keeping the pass away from rows an in-flight pipeline run may
	// still reference (defaults to 5m).
	MinAge time.Duration

	// ActiveModelVersion is the embedding model version in use. Other
	// versions are pruned once the active one has full coverage. Empty
	// disables pruning.
	ActiveModelVersion string
}

// Metrics is the observability snapshot of the last completed pass.
type Metrics struct {
	LastRun      time.Time     `json:"last_run"`
	LastDuration time.Duration `json:"last_duration"`
	Runs         int           `json:"runs"`
	Deduplicated int           `json:"deduplicated"`
	Expired      int           `json:"expired"`
	Purged       int           `json:"purged"`
	Pruned       int           `json:"pruned"`
	RecordErrors int           `json:"record_errors"`
}

// Service runs consolidation passes.
type Service struct {
	cfg    Config
	logger *zap.Logger

	inFlight atomic.Bool

	mu      sync.RWMutex
	metrics Metrics

	stop chan struct{}
	done chan struct{}
}

// NewService creates a consolidation service.
func NewService(cfg Config) *Service {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = defaultGracePeriod
	}
	if cfg.MinAge <= 0 {
		cfg.MinAge = defaultMinAge
	}

	return &Service{
		cfg:    cfg,
		logger: cfg.Logger,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Start launches the scheduled loop. Call Close to stop it.
func (s *Service) Start() {
	go func() {
		defer close(s.done)

		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if _, err := s.Run(context.Background()); err != nil {
					s.logger.Error("consolidation pass failed", zap.Error(err))
				}
			case <-s.stop:
				return
			}
		}
	}()
}

// Close stops the scheduled loop and waits for an in-flight pass to end.
func (s *Service) Close() {
	close(s.stop)
	<-s.done
}

// Metrics returns the last pass's counters.
func (s *Service) Metrics() Metrics {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.metrics
}

// Run executes one consolidation pass. Single-flight: a call overlapping
// an in-flight pass returns immediately with ok=false.
func (s *Service) Run(ctx context.Context) (Metrics, error) {
	if !s.inFlight.CompareAndSwap(false, true) {
		s.logger.Debug("consolidation pass already in flight, skipping")
		return s.Metrics(), nil
	}
	defer s.inFlight.Store(false)

	start := time.Now()
	var m Metrics

	s.dedup(ctx, &m)
	s.expire(ctx, &m)
	s.prune(ctx, &m)

	s.mu.Lock()
	m.LastRun = start.UTC()
	m.LastDuration = time.Since(start)
	m.Runs = s.metrics.Runs + 1
	s.metrics = m
	s.mu.Unlock()

	s.logger.Info("consolidation pass complete",
		zap.Int("deduplicated", m.Deduplicated),
		zap.Int("expired", m.Expired),
		zap.Int("purged", m.Purged),
		zap.Int("pruned", m.Pruned),
		zap.Int("record_errors", m.RecordErrors),
		zap.Duration("duration", m.LastDuration),
	)

	return m, nil
}

// dedup retains the earliest envelope per duplicated content hash and
// tombstones the rest with a back-reference to the retained one.
func (s *Service) dedup(ctx context.Context, m *Metrics) {
	groups, err := s.cfg.Repo.DuplicateGroups(ctx)
	if err != nil {
		s.logger.Warn("dedup scan failed, skipping phase", zap.Error(err))
		m.RecordErrors++
		return
	}

	cutoff := time.Now().Add(-s.cfg.MinAge)
	for hash, group := range groups {
		keeper := group[0]

		// Integrity check before acting on a group: a corrupted row must
		// halt dedup for that hash, not get silently folded in.
		if err := packet.VerifyHash(keeper); err != nil {
			s.logger.Error("corruption detected during dedup",
				zap.String("content_hash", hash),
				zap.String("packet_id", keeper.PacketID),
				zap.Error(err),
			)
			m.RecordErrors++
			continue
		}

		for _, dup := range group[1:] {
			if dup.CreatedAt.After(cutoff) {
				// Too fresh; an ingestion run may still reference it.
				continue
			}
			if s.anchorsLineage(ctx, dup, m) {
				// A live envelope's lineage points here; tombstoning it
				// would leave its thread unreadable.
				continue
			}

			if err := s.cfg.Repo.Tombstone(ctx, dup.PacketID, keeper.PacketID); err != nil {
				s.logger.Warn("tombstoning duplicate failed",
					zap.String("packet_id", dup.PacketID),
					zap.Error(err),
				)
				m.RecordErrors++
				continue
			}

			if err := s.cfg.Index.Remove(ctx, []string{dup.PacketID}); err != nil {
				s.logger.Warn("removing duplicate from index failed",
					zap.String("packet_id", dup.PacketID),
					zap.Error(err),
				)
			}

			m.Deduplicated++
		}
	}
}

// anchorsLineage reports whether a live envelope in e's thread declares e
// as its predecessor. Such an envelope must stay live even when its
// content duplicates another.
func (s *Service) anchorsLineage(ctx context.Context, e *packet.Envelope, m *Metrics) bool {
	if e.ThreadID == nil {
		return false
	}

	members, err := s.cfg.Repo.GetThread(ctx, *e.ThreadID)
	if err != nil {
		s.logger.Warn("reading thread during dedup failed, retaining envelope",
			zap.String("thread_id", *e.ThreadID),
			zap.String("packet_id", e.PacketID),
			zap.Error(err),
		)
		m.RecordErrors++
		return true
	}
	for _, mem := range members {
		if mem.Lineage != nil && *mem.Lineage == e.PacketID {
			return true
		}
	}
	return false
}

// expire tombstones envelopes whose TTL has passed, then physically
// purges those tombstoned for longer than the grace period.
func (s *Service) expire(ctx context.Context, m *Metrics) {
	now := time.Now().UTC()

	expired, err := s.cfg.Repo.MarkExpired(ctx, now)
	if err != nil {
		s.logger.Warn("marking expired failed, skipping phase", zap.Error(err))
		m.RecordErrors++
		return
	}
	m.Expired = expired

	// Clear the derived index before the rows disappear.
	ids, err := s.cfg.Repo.ExpiredEnvelopes(ctx)
	if err != nil {
		s.logger.Warn("listing expired envelopes failed", zap.Error(err))
		m.RecordErrors++
	} else if len(ids) > 0 {
		if err := s.cfg.Index.Remove(ctx, ids); err != nil {
			s.logger.Warn("removing expired from index failed", zap.Error(err))
		}
	}

	purged, err := s.cfg.Repo.PurgeExpired(ctx, now.Add(-s.cfg.GracePeriod), now.Add(-s.cfg.MinAge))
	if err != nil {
		s.logger.Warn("purging expired failed", zap.Error(err))
		m.RecordErrors++
		return
	}
	m.Purged = purged
}

// prune removes embedding records for superseded model versions once the
// active version has full coverage of live, non-pending envelopes.
func (s *Service) prune(ctx context.Context, m *Metrics) {
	if s.cfg.ActiveModelVersion == "" {
		return
	}

	versions, err := s.cfg.Repo.EmbeddingModelVersions(ctx)
	if err != nil {
		s.logger.Warn("listing model versions failed, skipping phase", zap.Error(err))
		m.RecordErrors++
		return
	}

	superseded := false
	for _, v := range versions {
		if v != s.cfg.ActiveModelVersion {
			superseded = true
			break
		}
	}
	if !superseded {
		return
	}

	stats, err := s.cfg.Repo.Stats(ctx)
	if err != nil {
		s.logger.Warn("reading stats failed, skipping phase", zap.Error(err))
		m.RecordErrors++
		return
	}
	active, err := s.cfg.Repo.ListEmbeddings(ctx, s.cfg.ActiveModelVersion)
	if err != nil {
		s.logger.Warn("listing active embeddings failed, skipping phase", zap.Error(err))
		m.RecordErrors++
		return
	}

	// Full coverage: every live envelope not awaiting a retry has an
	// active-version embedding.
	if len(active) < stats.LiveEnvelopes-stats.PendingEmbeddings {
		s.logger.Debug("active model version lacks full coverage, deferring prune",
			zap.String("model_version", s.cfg.ActiveModelVersion),
			zap.Int("embedded", len(active)),
			zap.Int("live", stats.LiveEnvelopes),
			zap.Int("pending", stats.PendingEmbeddings),
		)
		return
	}

	for _, v := range versions {
		if v == s.cfg.ActiveModelVersion {
			continue
		}

		pruned, err := s.cfg.Repo.PruneEmbeddings(ctx, v)
		if err != nil {
			s.logger.Warn("pruning embeddings failed",
				zap.String("model_version", v),
				zap.Error(err),
			)
			m.RecordErrors++
			continue
		}
		m.Pruned += pruned
	}
}
