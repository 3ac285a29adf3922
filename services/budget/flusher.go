package budget

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ScientiaCapital/sales-agent-sub004/models"
)

// Sink persists cost records. Implementations must be safe for concurrent use.
type Sink interface {
	Save(ctx context.Context, record *models.CostRecord) error
}

var (
	// ErrBufferFull is returned when a record is dropped because the queue is full
	ErrBufferFull = errors.New("cost record buffer full")
	// ErrFlusherNotRunning is returned when the flusher is not accepting records
	ErrFlusherNotRunning = errors.New("cost flusher not running")
)

// FlusherConfig holds configuration for the Flusher
type FlusherConfig struct {
	BufferSize  int           // Size of the record buffer channel
	WorkerCount int           // Number of concurrent workers
	SaveTimeout time.Duration // Bound on a single Sink.Save
}

// DefaultFlusherConfig returns the default configuration
func DefaultFlusherConfig() FlusherConfig {
	return FlusherConfig{
		BufferSize:  1000,
		WorkerCount: 2,
		SaveTimeout: 5 * time.Second,
	}
}

// Flusher hands cost records to a Sink asynchronously so persistence never
// sits on the dispatch path
type Flusher struct {
	sink    Sink
	logger  *zap.Logger
	config  FlusherConfig
	records chan *models.CostRecord
	wg      sync.WaitGroup

	mu      sync.RWMutex
	started bool
	stopped bool

	saved   uint64
	failed  uint64
	dropped uint64
	statsMu sync.Mutex
}

// NewFlusher creates a new Flusher
func NewFlusher(sink Sink, logger *zap.Logger, config FlusherConfig) *Flusher {
	defaults := DefaultFlusherConfig()
	if config.BufferSize <= 0 {
		config.BufferSize = defaults.BufferSize
	}
	if config.WorkerCount <= 0 {
		config.WorkerCount = defaults.WorkerCount
	}
	if config.SaveTimeout <= 0 {
		config.SaveTimeout = defaults.SaveTimeout
	}

	return &Flusher{
		sink:    sink,
		logger:  logger,
		config:  config,
		records: make(chan *models.CostRecord, config.BufferSize),
	}
}

// Start starts the background workers
func (f *Flusher) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.started {
		return fmt.Errorf("cost flusher already started")
	}

	for i := 0; i < f.config.WorkerCount; i++ {
		f.wg.Add(1)
		go f.worker(i)
	}

	f.started = true
	f.logger.Info("started cost flusher",
		zap.Int("worker_count", f.config.WorkerCount),
		zap.Int("buffer_size", f.config.BufferSize))

	return nil
}

// Stop stops accepting records and waits for pending ones to be saved
func (f *Flusher) Stop(timeout time.Duration) error {
	f.mu.Lock()
	if !f.started || f.stopped {
		f.mu.Unlock()
		return ErrFlusherNotRunning
	}
	f.stopped = true
	pending := len(f.records)
	close(f.records)
	f.mu.Unlock()

	f.logger.Info("stopping cost flusher", zap.Int("pending_records", pending))

	done := make(chan struct{})
	go func() {
		f.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		f.logger.Info("cost flusher stopped gracefully")
		return nil
	case <-timer.C:
		return fmt.Errorf("cost flusher stop timeout after %v", timeout)
	}
}

// Enqueue queues a record without blocking. Records are dropped when the buffer is full.
func (f *Flusher) Enqueue(record *models.CostRecord) error {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if !f.started || f.stopped {
		return ErrFlusherNotRunning
	}

	select {
	case f.records <- record:
		return nil
	default:
		f.statsMu.Lock()
		f.dropped++
		f.statsMu.Unlock()
		f.logger.Warn("cost record buffer full, dropping record",
			zap.String("request_id", record.RequestID),
			zap.String("provider", record.Provider),
			zap.Float64("cost_usd", record.CostUSD))
		return ErrBufferFull
	}
}

func (f *Flusher) worker(id int) {
	defer f.wg.Done()

	f.logger.Debug("cost flusher worker started", zap.Int("worker_id", id))

	for record := range f.records {
		if err := f.save(record); err != nil {
			f.statsMu.Lock()
			f.failed++
			f.statsMu.Unlock()
			f.logger.Error("failed to save cost record",
				zap.Int("worker_id", id),
				zap.Error(err),
				zap.String("request_id", record.RequestID),
				zap.String("provider", record.Provider))
			continue
		}
		f.statsMu.Lock()
		f.saved++
		f.statsMu.Unlock()
	}

	f.logger.Debug("cost flusher worker stopped", zap.Int("worker_id", id))
}

func (f *Flusher) save(record *models.CostRecord) error {
	ctx, cancel := context.WithTimeout(context.Background(), f.config.SaveTimeout)
	defer cancel()

	if err := f.sink.Save(ctx, record); err != nil {
		return fmt.Errorf("failed to persist cost record: %w", err)
	}
	return nil
}

// FlusherStats represents flusher statistics
type FlusherStats struct {
	BufferSize     int    `json:"buffer_size"`
	PendingRecords int    `json:"pending_records"`
	WorkerCount    int    `json:"worker_count"`
	Saved          uint64 `json:"saved"`
	Failed         uint64 `json:"failed"`
	Dropped        uint64 `json:"dropped"`
	Running        bool   `json:"running"`
}

// Stats returns statistics about the flusher
func (f *Flusher) Stats() FlusherStats {
	f.mu.RLock()
	running := f.started && !f.stopped
	f.mu.RUnlock()

	f.statsMu.Lock()
	defer f.statsMu.Unlock()

	return FlusherStats{
		BufferSize:     f.config.BufferSize,
		PendingRecords: len(f.records),
		WorkerCount:    f.config.WorkerCount,
		Saved:          f.saved,
		Failed:         f.failed,
		Dropped:        f.dropped,
		Running:        running,
	}
}
