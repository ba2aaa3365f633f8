package pipeline

import (
	"context"
	"fmt"
	"math"
	"sync"

	"go.uber.org/zap"
)

var (
	defaultNumWorkers   uint = 3
	defaultJobQueueSize uint = 256
)

// PoolConfig is the configuration options for the ingestion worker pool.
type PoolConfig struct {
	// Pipeline runs the submissions.
	Pipeline *Pipeline

	// NumWorkers is the number of background workers in the pool.
	NumWorkers uint

	// QueueSize is the capacity of the buffered job channel (defaults to 256).
	QueueSize uint

	// Logger is the provided zap logger
	Logger *zap.Logger
}

// Pool ingests submissions asynchronously, decoupling transport adapters
// from pipeline latency. Callers needing a definitive packet id or
// validation error use Pipeline.Submit directly instead.
type Pool struct {
	config *PoolConfig
	queue  chan Submission
	wg     sync.WaitGroup
	logger *zap.Logger
}

// NewPool creates a pool and starts its worker goroutines.
func NewPool(c *PoolConfig) (*Pool, error) {
	if c.Pipeline == nil {
		return nil, fmt.Errorf("pipeline is required")
	}

	if c.NumWorkers == 0 {
		c.NumWorkers = defaultNumWorkers
	}

	if c.QueueSize == 0 {
		c.QueueSize = defaultJobQueueSize
	}

	if c.NumWorkers > uint(math.MaxInt) {
		return nil, fmt.Errorf("NumWorkers %d exceeds max int", c.NumWorkers)
	}

	p := &Pool{
		config: c,
		queue:  make(chan Submission, c.QueueSize),
		logger: c.Logger,
	}

	p.wg.Add(int(c.NumWorkers))
	for i := range c.NumWorkers {
		go p.worker(i)
	}

	return p, nil
}

// Enqueue submits a job for processing by the worker pool.
// Returns true if enqueued, false if the queue is full, resulting in the job being dropped
func (p *Pool) Enqueue(sub Submission) bool {
	select {
	case p.queue <- sub:
		p.logger.Debug("submission queued",
			zap.String("packet_type", sub.PacketType),
		)
		return true
	default:
		p.logger.Error("submission not queued, queue full, dropped",
			zap.String("packet_type", sub.PacketType),
		)
		return false
	}
}

// Close signals workers to stop and waits for in-flight jobs to drain.
// Call this during graceful shutdown after the API server has stopped.
func (p *Pool) Close() {
	close(p.queue)
	p.wg.Wait()
}

// worker is the inner worker thread that continuously pulls jobs off the queue
func (p *Pool) worker(id uint) {
	defer p.wg.Done()
	p.logger.Debug("ingestion worker started", zap.Uint("worker_id", id))

	for sub := range p.queue {
		packetID, err := p.config.Pipeline.Submit(context.Background(), sub)
		if err != nil {
			p.logger.Error("async ingestion failed",
				zap.String("packet_type", sub.PacketType),
				zap.Error(err),
			)
			continue
		}

		p.logger.Info("packet ingested async",
			zap.String("packet_id", packetID),
			zap.String("packet_type", sub.PacketType),
		)
	}

	p.logger.Debug("ingestion worker stopped", zap.Uint("worker_id", id))
}
