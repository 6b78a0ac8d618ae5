package logsink

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notifyhub/internal/domain/entity"
	"notifyhub/internal/resilience/retry"
)

type fakeWriter struct {
	mu       sync.Mutex
	batches  [][]*entity.DeliveryOutcome
	failures int   // fail this many calls first
	reject   int64 // device id the store refuses permanently
	calls    int
}

func (f *fakeWriter) InsertBatch(_ context.Context, outcomes []*entity.DeliveryOutcome) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failures > 0 {
		f.failures--
		return errors.New("connection refused")
	}
	for _, o := range outcomes {
		if f.reject != 0 && o.DeviceID == f.reject {
			return retry.Permanent(errors.New("invalid byte sequence for encoding \"UTF8\""))
		}
	}
	f.batches = append(f.batches, outcomes)
	return nil
}

func (f *fakeWriter) written() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []int64
	for _, b := range f.batches {
		for _, o := range b {
			ids = append(ids, o.DeviceID)
		}
	}
	return ids
}

func records(from, to int64) []*entity.DeliveryOutcome {
	out := make([]*entity.DeliveryOutcome, 0, to-from+1)
	for i := from; i <= to; i++ {
		out = append(out, &entity.DeliveryOutcome{DeviceID: i, Channel: entity.ChannelPush})
	}
	return out
}

func runSink(t *testing.T, s *Sink) (cancel func()) {
	t.Helper()
	ctx, stop := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	return func() {
		stop()
		<-done
	}
}

/* ──────────────────────────── 1. Enqueue ──────────────────────────── */

func TestSink_EnqueueAndLength(t *testing.T) {
	s := New(&fakeWriter{}, Config{}, nil)
	require.NoError(t, s.Enqueue(context.Background(), records(1, 1)[0]))
	require.NoError(t, s.EnqueueRange(context.Background(), records(2, 4)))
	assert.Equal(t, 4, s.QueueLength())
}

func TestSink_FullBufferBlocksUntilContextDone(t *testing.T) {
	s := New(&fakeWriter{}, Config{Capacity: 2}, nil)
	require.NoError(t, s.EnqueueRange(context.Background(), records(1, 2)))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := s.Enqueue(ctx, records(3, 3)[0])
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 2, s.QueueLength())
}

func TestSink_FullBufferUnblocksWhenDrained(t *testing.T) {
	w := &fakeWriter{}
	s := New(w, Config{Capacity: 2, BatchSize: 2, PollInterval: 5 * time.Millisecond}, nil)
	require.NoError(t, s.EnqueueRange(context.Background(), records(1, 2)))

	stop := runSink(t, s)
	defer stop()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.EnqueueRange(ctx, records(3, 5)))

	require.Eventually(t, func() bool { return len(w.written()) == 5 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []int64{1, 2, 3, 4, 5}, w.written())
}

/* ──────────────────────────── 2. Consumer ──────────────────────────── */

func TestSink_WritesInBatches(t *testing.T) {
	w := &fakeWriter{}
	s := New(w, Config{BatchSize: 3, PollInterval: 5 * time.Millisecond}, nil)
	require.NoError(t, s.EnqueueRange(context.Background(), records(1, 7)))

	stop := runSink(t, s)
	defer stop()

	require.Eventually(t, func() bool { return s.QueueLength() == 0 }, 2*time.Second, 5*time.Millisecond)
	w.mu.Lock()
	defer w.mu.Unlock()
	require.Len(t, w.batches, 3)
	assert.Len(t, w.batches[0], 3)
	assert.Len(t, w.batches[2], 1)
}

func TestSink_RetriesFailedBatchWithoutDropping(t *testing.T) {
	w := &fakeWriter{failures: 2}
	s := New(w, Config{RetryDelay: 10 * time.Millisecond, PollInterval: 5 * time.Millisecond}, nil)
	require.NoError(t, s.EnqueueRange(context.Background(), records(1, 3)))

	stop := runSink(t, s)
	defer stop()

	require.Eventually(t, func() bool { return len(w.written()) == 3 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []int64{1, 2, 3}, w.written())
	w.mu.Lock()
	assert.Equal(t, 3, w.calls)
	w.mu.Unlock()
}

func TestSink_FlushesOnShutdown(t *testing.T) {
	w := &fakeWriter{}
	s := New(w, Config{PollInterval: time.Hour}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, s.EnqueueRange(context.Background(), records(1, 4)))

	s.Run(ctx)
	assert.Equal(t, []int64{1, 2, 3, 4}, w.written())
	assert.Equal(t, 0, s.QueueLength())
}

func TestSink_FlushFailureKeepsRecords(t *testing.T) {
	w := &fakeWriter{failures: 1}
	s := New(w, Config{}, nil)
	require.NoError(t, s.EnqueueRange(context.Background(), records(1, 2)))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s.Run(ctx)

	assert.Empty(t, w.written())
	assert.Equal(t, 2, s.QueueLength())
}

/* ──────────────────────────── 3. Rejected records ──────────────────────────── */

func TestSink_RejectedRecordDoesNotBlockOthers(t *testing.T) {
	w := &fakeWriter{reject: 2}
	s := New(w, Config{BatchSize: 5, RetryDelay: time.Hour, PollInterval: 5 * time.Millisecond}, nil)
	require.NoError(t, s.EnqueueRange(context.Background(), records(1, 5)))

	stop := runSink(t, s)
	defer stop()

	require.Eventually(t, func() bool { return s.QueueLength() == 0 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []int64{1, 3, 4, 5}, w.written())

	// 後続のレコードも通常どおりバッチで書き込まれる
	require.NoError(t, s.EnqueueRange(context.Background(), records(6, 7)))
	require.Eventually(t, func() bool { return len(w.written()) == 6 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []int64{1, 3, 4, 5, 6, 7}, w.written())
}

func TestSink_IsolationStopsAtTransientFailure(t *testing.T) {
	w := &fakeWriter{failures: 1, reject: 2}
	s := New(w, Config{BatchSize: 3}, nil)
	require.NoError(t, s.EnqueueRange(context.Background(), records(1, 3)))

	assert.Zero(t, s.isolate(context.Background(), s.head(3)))
	assert.Equal(t, 3, s.QueueLength())
	assert.Empty(t, w.written())

	assert.Equal(t, 3, s.isolate(context.Background(), s.head(3)))
	assert.Equal(t, 0, s.QueueLength())
	assert.Equal(t, []int64{1, 3}, w.written())
}

func TestSink_FlushSkipsRejectedRecord(t *testing.T) {
	w := &fakeWriter{reject: 3}
	s := New(w, Config{PollInterval: time.Hour}, nil)
	require.NoError(t, s.EnqueueRange(context.Background(), records(1, 4)))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s.Run(ctx)

	assert.Equal(t, []int64{1, 2, 4}, w.written())
	assert.Equal(t, 0, s.QueueLength())
}
