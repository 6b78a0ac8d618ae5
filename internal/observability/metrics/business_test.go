package metrics

import (
	"database/sql"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordChannelDispatch(t *testing.T) {
	okBefore := testutil.ToFloat64(NotificationsSentTotal.WithLabelValues("PUSH", "success"))
	failBefore := testutil.ToFloat64(NotificationsSentTotal.WithLabelValues("PUSH", "failure"))

	RecordChannelDispatch("PUSH", 3, 1, 120*time.Millisecond)

	assert.Equal(t, okBefore+3, testutil.ToFloat64(NotificationsSentTotal.WithLabelValues("PUSH", "success")))
	assert.Equal(t, failBefore+1, testutil.ToFloat64(NotificationsSentTotal.WithLabelValues("PUSH", "failure")))
}

func TestRecordChannelDispatch_ZeroCountsSkipCounters(t *testing.T) {
	before := testutil.ToFloat64(NotificationsSentTotal.WithLabelValues("CHAT", "failure"))
	RecordChannelDispatch("CHAT", 0, 0, time.Millisecond)
	assert.Equal(t, before, testutil.ToFloat64(NotificationsSentTotal.WithLabelValues("CHAT", "failure")))
}

func TestRecordCounters(t *testing.T) {
	tests := []struct {
		name   string
		record func()
		read   func() float64
	}{
		{"route", func() { RecordRoute("queued") }, func() float64 {
			return testutil.ToFloat64(DispatchRoutesTotal.WithLabelValues("queued"))
		}},
		{"queue event", func() { RecordQueueEvent("requeued") }, func() float64 {
			return testutil.ToFloat64(QueueEventsTotal.WithLabelValues("requeued"))
		}},
		{"log write", func() { RecordLogWrite(false) }, func() float64 {
			return testutil.ToFloat64(LogSinkWritesTotal.WithLabelValues("failure"))
		}},
		{"cache lookup", func() { RecordCacheLookup("redis") }, func() float64 {
			return testutil.ToFloat64(ConfigCacheLookupsTotal.WithLabelValues("redis"))
		}},
		{"retry attempt", func() { RecordRetryAttempt("EMAIL", true) }, func() float64 {
			return testutil.ToFloat64(RetryAttemptsTotal.WithLabelValues("EMAIL", "success"))
		}},
		{"scheduled run", func() { RecordScheduledRun("skipped") }, func() float64 {
			return testutil.ToFloat64(ScheduledJobRunsTotal.WithLabelValues("skipped"))
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := tt.read()
			tt.record()
			assert.Equal(t, before+1, tt.read())
		})
	}
}

func TestGauges(t *testing.T) {
	SetQueueDepth(42)
	assert.Equal(t, float64(42), testutil.ToFloat64(QueueDepth))

	SetLogBuffered(7)
	assert.Equal(t, float64(7), testutil.ToFloat64(LogSinkBuffered))

	RecordDBStats(sql.DBStats{InUse: 2, Idle: 5})
	assert.Equal(t, float64(2), testutil.ToFloat64(DBConnectionsInUse))
	assert.Equal(t, float64(5), testutil.ToFloat64(DBConnectionsIdle))
}

func TestRecordHTTPRequest(t *testing.T) {
	before := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("POST", "/notify", "202"))
	RecordHTTPRequest("POST", "/notify", "202", 10*time.Millisecond, 64)
	assert.Equal(t, before+1, testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("POST", "/notify", "202")))
}
