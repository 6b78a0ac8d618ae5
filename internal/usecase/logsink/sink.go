// Package logsink buffers delivery outcomes in memory and writes them to the
// outcome store in batches from a single consumer goroutine.
//
// A failed batch stays at the head of the buffer and is retried after a fixed
// delay. When the store rejects the batch permanently, the consumer writes it
// one record at a time and drops only the records the store refuses.
package logsink

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"notifyhub/internal/domain/entity"
	"notifyhub/internal/observability/metrics"
	"notifyhub/internal/resilience/retry"
)

const (
	DefaultCapacity     = 100000
	DefaultBatchSize    = 1000
	DefaultRetryDelay   = 3 * time.Second
	DefaultPollInterval = time.Second
	flushTimeout        = 10 * time.Second
)

// BatchWriter persists a batch of outcomes atomically.
type BatchWriter interface {
	InsertBatch(ctx context.Context, outcomes []*entity.DeliveryOutcome) error
}

// Config holds the sink limits. Zero values take the defaults.
type Config struct {
	Capacity     int
	BatchSize    int
	RetryDelay   time.Duration
	PollInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.Capacity <= 0 {
		c.Capacity = DefaultCapacity
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = DefaultRetryDelay
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	return c
}

// Sink is a bounded FIFO of outcome records.
type Sink struct {
	cfg    Config
	writer BatchWriter
	logger *slog.Logger

	mu     sync.Mutex
	buf    []*entity.DeliveryOutcome
	space  chan struct{} // closed and replaced whenever the consumer frees room
	signal chan struct{}
}

func New(writer BatchWriter, cfg Config, logger *slog.Logger) *Sink {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sink{
		cfg:    cfg.withDefaults(),
		writer: writer,
		logger: logger,
		space:  make(chan struct{}),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue appends one record.
func (s *Sink) Enqueue(ctx context.Context, record *entity.DeliveryOutcome) error {
	return s.EnqueueRange(ctx, []*entity.DeliveryOutcome{record})
}

// EnqueueRange appends records in order. When the buffer is full it blocks
// until the consumer frees room or ctx is done; records accepted before
// ctx ended stay buffered.
func (s *Sink) EnqueueRange(ctx context.Context, records []*entity.DeliveryOutcome) error {
	for len(records) > 0 {
		s.mu.Lock()
		free := s.cfg.Capacity - len(s.buf)
		if free > 0 {
			n := min(free, len(records))
			s.buf = append(s.buf, records[:n]...)
			records = records[n:]
			depth := len(s.buf)
			s.mu.Unlock()
			metrics.SetLogBuffered(depth)
			s.notify()
			continue
		}
		wait := s.space
		s.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// QueueLength returns the number of buffered records.
func (s *Sink) QueueLength() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buf)
}

func (s *Sink) notify() {
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

// head returns a copy of up to n records from the front without removing them.
func (s *Sink) head(n int) []*entity.DeliveryOutcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	n = min(n, len(s.buf))
	if n == 0 {
		return nil
	}
	out := make([]*entity.DeliveryOutcome, n)
	copy(out, s.buf[:n])
	return out
}

// drop removes n records from the front and wakes blocked producers.
func (s *Sink) drop(n int) {
	s.mu.Lock()
	s.buf = s.buf[n:]
	if len(s.buf) == 0 {
		s.buf = nil
	}
	close(s.space)
	s.space = make(chan struct{})
	depth := len(s.buf)
	s.mu.Unlock()
	metrics.SetLogBuffered(depth)
}

// Run consumes the buffer until ctx is done, then makes one bounded attempt
// to flush what is left.
func (s *Sink) Run(ctx context.Context) {
	s.logger.Info("log sink consumer started",
		slog.Int("capacity", s.cfg.Capacity),
		slog.Int("batch_size", s.cfg.BatchSize))

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if ctx.Err() != nil {
			s.flush()
			return
		}

		batch := s.head(s.cfg.BatchSize)
		if len(batch) == 0 {
			select {
			case <-ctx.Done():
			case <-s.signal:
			case <-ticker.C:
			}
			continue
		}

		if err := s.writer.InsertBatch(ctx, batch); err != nil {
			metrics.RecordLogWrite(false)
			if retry.IsPermanent(err) && s.isolate(ctx, batch) > 0 {
				continue
			}
			s.logger.Error("outcome batch write failed, will retry",
				slog.Int("records", len(batch)),
				slog.Duration("retry_in", s.cfg.RetryDelay),
				slog.Any("error", err))
			select {
			case <-ctx.Done():
			case <-time.After(s.cfg.RetryDelay):
			}
			continue
		}
		metrics.RecordLogWrite(true)
		s.drop(len(batch))
	}
}

func (s *Sink) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()

	for {
		batch := s.head(s.cfg.BatchSize)
		if len(batch) == 0 {
			s.logger.Info("log sink flushed")
			return
		}
		if err := s.writer.InsertBatch(ctx, batch); err != nil {
			metrics.RecordLogWrite(false)
			if retry.IsPermanent(err) && s.isolate(ctx, batch) > 0 {
				continue
			}
			s.logger.Error("outcome flush failed on shutdown, records lost",
				slog.Int("records", s.QueueLength()),
				slog.Any("error", err))
			return
		}
		metrics.RecordLogWrite(true)
		s.drop(len(batch))
	}
}

// isolate writes batch one record at a time and returns how many records left
// the head of the buffer. It stops at the first non-permanent failure.
func (s *Sink) isolate(ctx context.Context, batch []*entity.DeliveryOutcome) int {
	n := 0
	for _, rec := range batch {
		err := s.writer.InsertBatch(ctx, []*entity.DeliveryOutcome{rec})
		switch {
		case err == nil:
			metrics.RecordLogWrite(true)
		case retry.IsPermanent(err):
			metrics.RecordLogRejected()
			s.logger.Error("outcome rejected by store, dropping record",
				slog.Int64("device_id", rec.DeviceID),
				slog.String("tenant_id", rec.TenantID),
				slog.String("channel", string(rec.Channel)),
				slog.Any("error", err))
		default:
			return n
		}
		s.drop(1)
		n++
	}
	return n
}
