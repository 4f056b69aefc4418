// Package ingest implements the asynchronous document ingestion
// pipeline: a bounded queue feeding a fixed worker pool that extracts,
// chunks, embeds, and stores uploaded files, with every file tracked
// through a pending → processing → completed/failed lifecycle.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/ruochenliao/ai-training-course-sub000/internal/extract"
	"github.com/ruochenliao/ai-training-course-sub000/internal/knowledge"
	"github.com/ruochenliao/ai-training-course-sub000/internal/memory"
	"github.com/ruochenliao/ai-training-course-sub000/internal/metrics"
)

const (
	defaultQueueSize = 100
	defaultWorkers   = 4
	defaultBatchSize = 10
)

// Task is one queued unit of work. Priority is advisory: the queue is
// FIFO, and urgent files should use ProcessNow instead.
type Task struct {
	FileID     string
	Priority   int
	EnqueuedAt time.Time
}

// Stores resolves the destination memory store for a knowledge base.
// Satisfied by *registry.Registry.
type Stores interface {
	Private(userID string) (memory.Store, error)
	Public() (memory.Store, error)
}

// batchAdder is implemented by stores that can persist several chunks
// in one embedding round trip.
type batchAdder interface {
	AddBatch(ctx context.Context, contents []string, metadata map[string]string) ([]string, error)
}

// Config holds the configuration for a Pipeline.
type Config struct {
	Files      *knowledge.Store
	Stores     Stores
	Extractors *extract.Registry

	// QueueSize bounds the task queue. Zero means 100.
	QueueSize int
	// Workers is the fixed pool size. Zero means 4.
	Workers int
	// BatchSize is how many chunks go into one embedding call. Zero means 10.
	BatchSize int
	// EmbeddingModel is recorded on completed files when the base does
	// not pin its own model.
	EmbeddingModel string

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// withDefaults returns a copy of the config with zero values replaced by defaults.
func (c Config) withDefaults() Config {
	if c.QueueSize <= 0 {
		c.QueueSize = defaultQueueSize
	}
	if c.Workers <= 0 {
		c.Workers = defaultWorkers
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Metrics == nil {
		c.Metrics = metrics.New(prometheus.NewRegistry())
	}
	return c
}

// Pipeline consumes tasks from a bounded queue with a fixed worker
// pool. Enqueue never blocks: a full queue is reported to the caller
// as backpressure.
type Pipeline struct {
	config   Config
	queue    chan Task
	queueMu  sync.RWMutex
	wg       sync.WaitGroup
	cancel   context.CancelFunc
	stopOnce sync.Once
	stopped  atomic.Bool
	logger   *slog.Logger
}

// New creates a Pipeline with the given configuration.
func New(cfg Config) (*Pipeline, error) {
	cfg = cfg.withDefaults()

	if cfg.Files == nil {
		return nil, errors.New("ingest: file store is required")
	}
	if cfg.Stores == nil {
		return nil, errors.New("ingest: store resolver is required")
	}
	if cfg.Extractors == nil {
		return nil, errors.New("ingest: extractor registry is required")
	}

	return &Pipeline{
		config: cfg,
		queue:  make(chan Task, cfg.QueueSize),
		logger: cfg.Logger,
	}, nil
}

// Start launches the worker pool.
func (p *Pipeline) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	p.queueMu.Lock()
	if p.stopped.Load() {
		p.queueMu.Unlock()
		cancel()
		p.logger.Warn("ingest: start ignored, pipeline already stopped")
		return
	}
	p.cancel = cancel
	p.queueMu.Unlock()

	for range p.config.Workers {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.worker(ctx)
		}()
	}
	p.logger.Info("ingest: started",
		"workers", p.config.Workers,
		"queue_size", p.config.QueueSize,
	)
}

// Enqueue submits a file for background processing. Non-blocking: a
// full queue returns ErrQueueFull so the caller can apply backpressure.
func (p *Pipeline) Enqueue(fileID string, priority int) error {
	p.queueMu.RLock()
	defer p.queueMu.RUnlock()

	if p.stopped.Load() {
		return ErrPipelineStopped
	}

	task := Task{FileID: fileID, Priority: priority, EnqueuedAt: time.Now()}
	select {
	case p.queue <- task:
		p.config.Metrics.QueueDepth.Set(float64(len(p.queue)))
		return nil
	default:
		p.logger.Warn("ingest: queue full, task rejected", "file_id", fileID)
		return ErrQueueFull
	}
}

// QueueDepth reports how many tasks are waiting.
func (p *Pipeline) QueueDepth() int {
	return len(p.queue)
}

// ProcessNow processes a file synchronously, bypassing the queue.
func (p *Pipeline) ProcessNow(ctx context.Context, fileID string) error {
	if p.stopped.Load() {
		return ErrPipelineStopped
	}
	return p.processFile(ctx, fileID)
}

// Stop shuts the pipeline down: no new tasks are accepted, the queue is
// drained by the workers, and in-flight work is cancelled.
func (p *Pipeline) Stop() {
	p.stopOnce.Do(func() {
		p.logger.Info("ingest: stopping")

		p.queueMu.Lock()
		p.stopped.Store(true)
		close(p.queue)
		cancel := p.cancel
		p.queueMu.Unlock()

		if cancel != nil {
			cancel()
		}

		p.wg.Wait()
		p.logger.Info("ingest: stopped")
	})
}

func (p *Pipeline) worker(ctx context.Context) {
	for task := range p.queue {
		p.config.Metrics.QueueDepth.Set(float64(len(p.queue)))
		if ctx.Err() != nil {
			return
		}
		if err := p.processFile(ctx, task.FileID); err != nil {
			p.logger.Error("ingest: task failed",
				"file_id", task.FileID,
				"queued_for", time.Since(task.EnqueuedAt).Round(time.Millisecond),
				"error", err,
			)
		}
	}
}

// processFile runs the full extract → chunk → embed → store path for
// one file. Terminal state is always recorded: either completed with a
// chunk count or failed with a truncated error message.
func (p *Pipeline) processFile(ctx context.Context, fileID string) error {
	ctx, span := otel.Tracer("memoryd/ingest").Start(ctx, "ingest.processFile")
	defer span.End()
	span.SetAttributes(attribute.String("file.id", fileID))

	started := time.Now()
	defer func() {
		p.config.Metrics.ProcessingDuration.Observe(time.Since(started).Seconds())
	}()

	if err := p.config.Files.ClaimFile(ctx, fileID); err != nil {
		if errors.Is(err, knowledge.ErrNotClaimable) {
			p.logger.Debug("ingest: file not claimable, skipping", "file_id", fileID)
			return nil
		}
		return fmt.Errorf("ingest: claim %s: %w", fileID, err)
	}

	file, err := p.config.Files.GetFile(ctx, fileID)
	if err != nil {
		return p.fail(ctx, fileID, fmt.Sprintf("load file record: %v", err))
	}
	base, err := p.config.Files.GetBase(ctx, file.KnowledgeBaseID)
	if err != nil {
		return p.fail(ctx, fileID, fmt.Sprintf("load knowledge base: %v", err))
	}

	if _, err := os.Stat(file.Path); err != nil {
		return p.fail(ctx, fileID, fmt.Sprintf("source file missing: %v", err))
	}

	text, err := p.config.Extractors.Extract(file.Path)
	if err != nil {
		return p.fail(ctx, fileID, fmt.Sprintf("extract: %v", err))
	}

	chunks := Split(text, base.ChunkSize, base.ChunkOverlap)
	if len(chunks) == 0 {
		return p.fail(ctx, fileID, "no extractable content")
	}
	span.SetAttributes(attribute.Int("file.chunks", len(chunks)))

	store, err := p.resolveStore(base)
	if err != nil {
		return p.fail(ctx, fileID, fmt.Sprintf("resolve store: %v", err))
	}

	stored, failedBatches := p.storeChunks(ctx, store, file, chunks)
	if stored == 0 {
		return p.fail(ctx, fileID, fmt.Sprintf("all %d embedding batches failed", failedBatches))
	}

	model := base.EmbeddingModel
	if model == "" {
		model = p.config.EmbeddingModel
	}
	if err := p.config.Files.MarkCompleted(ctx, fileID, stored, model); err != nil {
		return fmt.Errorf("ingest: mark completed %s: %w", fileID, err)
	}

	p.config.Metrics.FilesProcessed.WithLabelValues(string(knowledge.StatusCompleted)).Inc()
	p.config.Metrics.ChunksProduced.Add(float64(stored))
	p.logger.Info("ingest: file processed",
		"file_id", fileID,
		"chunks", stored,
		"failed_batches", failedBatches,
		"duration", time.Since(started).Round(time.Millisecond),
	)
	return nil
}

// storeChunks persists chunks in batches. A failed batch is logged and
// skipped so one transient embedding error doesn't discard the whole
// file; the caller decides what a zero-stored result means.
func (p *Pipeline) storeChunks(ctx context.Context, store memory.Store, file knowledge.File, chunks []Chunk) (stored, failedBatches int) {
	meta := map[string]string{
		"file_id":           file.ID,
		"knowledge_base_id": file.KnowledgeBaseID,
	}

	batcher, canBatch := store.(batchAdder)
	for i := 0; i < len(chunks); i += p.config.BatchSize {
		end := min(i+p.config.BatchSize, len(chunks))
		batch := chunks[i:end]

		if canBatch {
			contents := make([]string, len(batch))
			for j, c := range batch {
				contents[j] = c.Text
			}
			if _, err := batcher.AddBatch(ctx, contents, meta); err != nil {
				failedBatches++
				p.config.Metrics.BatchFailures.Inc()
				p.logger.Warn("ingest: batch failed, skipping",
					"file_id", file.ID,
					"batch_start", i,
					"error", err,
				)
				continue
			}
			stored += len(batch)
			continue
		}

		for _, c := range batch {
			if _, err := store.Add(ctx, c.Text, meta); err != nil {
				failedBatches++
				p.config.Metrics.BatchFailures.Inc()
				p.logger.Warn("ingest: chunk failed, skipping",
					"file_id", file.ID,
					"offset", c.Start,
					"error", err,
				)
				continue
			}
			stored++
		}
	}
	return stored, failedBatches
}

func (p *Pipeline) resolveStore(base knowledge.Base) (memory.Store, error) {
	if base.Scope == knowledge.ScopePublic {
		return p.config.Stores.Public()
	}
	return p.config.Stores.Private(base.OwnerID)
}

// fail records the terminal failed state and returns a wrapped error
// for the worker log.
func (p *Pipeline) fail(ctx context.Context, fileID, msg string) error {
	p.config.Metrics.FilesProcessed.WithLabelValues(string(knowledge.StatusFailed)).Inc()
	if err := p.config.Files.MarkFailed(ctx, fileID, msg); err != nil {
		return fmt.Errorf("ingest: %s: %s (mark failed: %v)", fileID, msg, err)
	}
	return fmt.Errorf("ingest: %s: %s", fileID, msg)
}
