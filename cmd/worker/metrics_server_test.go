package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGetMetricsPort(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  int
	}{
		{"unset", "", 9090},
		{"valid", "9191", 9191},
		{"not a number", "abc", 9090},
		{"zero", "0", 9090},
		{"too large", "70000", 9090},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("METRICS_PORT", tt.value)
			assert.Equal(t, tt.want, getMetricsPort())
		})
	}
}

type countingQueue struct {
	calls atomic.Int32
	err   error
}

func (q *countingQueue) Length(context.Context) (int64, error) {
	q.calls.Add(1)
	return 7, q.err
}

func TestReportQueueDepth_PollsUntilCanceled(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	for _, q := range []*countingQueue{{}, {err: errors.New("redis down")}} {
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			defer close(done)
			reportQueueDepth(ctx, logger, q, 5*time.Millisecond)
		}()

		assert.Eventually(t, func() bool { return q.calls.Load() >= 2 }, time.Second, 5*time.Millisecond)
		cancel()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("reportQueueDepth did not stop")
		}
	}
}
