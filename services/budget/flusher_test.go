package budget

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/ScientiaCapital/sales-agent-sub004/models"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// MockSink is a mock implementation of Sink
type MockSink struct {
	mock.Mock
	mu    sync.Mutex
	saved []*models.CostRecord
}

func (m *MockSink) Save(ctx context.Context, record *models.CostRecord) error {
	args := m.Called(ctx, record)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved = append(m.saved, record)
	return args.Error(0)
}

func (m *MockSink) Saved() []*models.CostRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*models.CostRecord(nil), m.saved...)
}

// blockingSink holds every Save until released
type blockingSink struct {
	release chan struct{}
}

func (b *blockingSink) Save(ctx context.Context, record *models.CostRecord) error {
	select {
	case <-b.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestFlusher_StartStop(t *testing.T) {
	sink := new(MockSink)
	flusher := NewFlusher(sink, zap.NewNop(), FlusherConfig{BufferSize: 10, WorkerCount: 2})

	require.NoError(t, flusher.Start())

	stats := flusher.Stats()
	assert.True(t, stats.Running)
	assert.Equal(t, 2, stats.WorkerCount)
	assert.Equal(t, 10, stats.BufferSize)

	// Cannot start again
	assert.Error(t, flusher.Start())

	require.NoError(t, flusher.Stop(5*time.Second))
	assert.ErrorIs(t, flusher.Stop(time.Second), ErrFlusherNotRunning)
	assert.False(t, flusher.Stats().Running)
}

func TestFlusher_SavesRecords(t *testing.T) {
	sink := new(MockSink)
	sink.On("Save", mock.Anything, mock.Anything).Return(nil)

	flusher := NewFlusher(sink, zap.NewNop(), FlusherConfig{BufferSize: 100, WorkerCount: 3})
	require.NoError(t, flusher.Start())

	for i := 0; i < 25; i++ {
		require.NoError(t, flusher.Enqueue(models.NewCostRecord("cerebras", "llama3.1-8b", 10, 20, 0.0001)))
	}

	require.NoError(t, flusher.Stop(5*time.Second))

	assert.Len(t, sink.Saved(), 25)
	assert.Equal(t, uint64(25), flusher.Stats().Saved)
	sink.AssertNumberOfCalls(t, "Save", 25)
}

func TestFlusher_CountsFailures(t *testing.T) {
	sink := new(MockSink)
	sink.On("Save", mock.Anything, mock.Anything).Return(errors.New("connection refused"))

	flusher := NewFlusher(sink, zap.NewNop(), FlusherConfig{BufferSize: 10, WorkerCount: 1})
	require.NoError(t, flusher.Start())

	require.NoError(t, flusher.Enqueue(models.NewCostRecord("anthropic", "claude", 1, 1, 0.1)))
	require.NoError(t, flusher.Stop(5*time.Second))

	stats := flusher.Stats()
	assert.Equal(t, uint64(1), stats.Failed)
	assert.Zero(t, stats.Saved)
}

func TestFlusher_DropsWhenFull(t *testing.T) {
	sink := &blockingSink{release: make(chan struct{})}
	flusher := NewFlusher(sink, zap.NewNop(), FlusherConfig{BufferSize: 2, WorkerCount: 1, SaveTimeout: time.Second})
	require.NoError(t, flusher.Start())

	record := func() *models.CostRecord { return models.NewCostRecord("bedrock", "claude", 1, 1, 0.01) }

	// One record is taken by the worker, two fill the buffer
	require.NoError(t, flusher.Enqueue(record()))
	require.Eventually(t, func() bool { return flusher.Stats().PendingRecords == 0 }, time.Second, time.Millisecond)
	require.NoError(t, flusher.Enqueue(record()))
	require.NoError(t, flusher.Enqueue(record()))

	assert.ErrorIs(t, flusher.Enqueue(record()), ErrBufferFull)
	assert.Equal(t, uint64(1), flusher.Stats().Dropped)

	close(sink.release)
	require.NoError(t, flusher.Stop(5*time.Second))
	assert.Equal(t, uint64(3), flusher.Stats().Saved)
}

func TestFlusher_EnqueueWhenNotRunning(t *testing.T) {
	flusher := NewFlusher(new(MockSink), zap.NewNop(), DefaultFlusherConfig())
	assert.ErrorIs(t, flusher.Enqueue(models.NewCostRecord("x", "y", 0, 0, 0)), ErrFlusherNotRunning)

	require.NoError(t, flusher.Start())
	require.NoError(t, flusher.Stop(time.Second))
	assert.ErrorIs(t, flusher.Enqueue(models.NewCostRecord("x", "y", 0, 0, 0)), ErrFlusherNotRunning)
}

func TestLedger_WithFlusher(t *testing.T) {
	sink := new(MockSink)
	sink.On("Save", mock.Anything, mock.Anything).Return(nil)

	flusher := NewFlusher(sink, zap.NewNop(), FlusherConfig{BufferSize: 10, WorkerCount: 1})
	require.NoError(t, flusher.Start())

	ledger := NewLedger(Limits{}, zap.NewNop(), WithRecorder(flusher))
	require.NoError(t, ledger.Record(context.Background(), Entry{RequestID: "req-7", CostUSD: 0.002, Provider: "cerebras"}))

	require.NoError(t, flusher.Stop(5*time.Second))

	saved := sink.Saved()
	require.Len(t, saved, 1)
	assert.Equal(t, "req-7", saved[0].RequestID)
	assert.Equal(t, 0.002, saved[0].CostUSD)
}

func TestLedger_RolloverWorkerStops(t *testing.T) {
	ledger := NewLedger(Limits{}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		ledger.StartRolloverWorker(ctx, 5*time.Millisecond)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("rollover worker did not stop")
	}
}
