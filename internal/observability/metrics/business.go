package metrics

import (
	"database/sql"
	"time"
)

func resultLabel(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

// RecordChannelDispatch records the per-device results of one channel fan-out.
func RecordChannelDispatch(channel string, sent, failed int, duration time.Duration) {
	if sent > 0 {
		NotificationsSentTotal.WithLabelValues(channel, "success").Add(float64(sent))
	}
	if failed > 0 {
		NotificationsSentTotal.WithLabelValues(channel, "failure").Add(float64(failed))
	}
	ChannelDispatchDuration.WithLabelValues(channel).Observe(duration.Seconds())
}

// RecordRoute counts a notify request as "direct" or "queued".
func RecordRoute(route string) {
	DispatchRoutesTotal.WithLabelValues(route).Inc()
}

// RecordQueueEvent counts an ingest queue event.
func RecordQueueEvent(event string) {
	QueueEventsTotal.WithLabelValues(event).Inc()
}

// SetQueueDepth publishes the current queue length.
func SetQueueDepth(n int64) {
	QueueDepth.Set(float64(n))
}

// RecordLogWrite records one batch write attempt of the delivery log.
func RecordLogWrite(ok bool) {
	LogSinkWritesTotal.WithLabelValues(resultLabel(ok)).Inc()
}

// RecordLogRejected counts one outcome the store refused and the sink dropped.
func RecordLogRejected() {
	LogSinkWritesTotal.WithLabelValues("rejected").Inc()
}

// SetLogBuffered publishes the number of buffered outcomes.
func SetLogBuffered(n int) {
	LogSinkBuffered.Set(float64(n))
}

// RecordCacheLookup counts which tier served a credential lookup.
func RecordCacheLookup(tier string) {
	ConfigCacheLookupsTotal.WithLabelValues(tier).Inc()
}

// RecordRetryAttempt counts a reconciler re-delivery.
func RecordRetryAttempt(channel string, ok bool) {
	RetryAttemptsTotal.WithLabelValues(channel, resultLabel(ok)).Inc()
}

// RecordScheduledRun counts a scheduled job execution.
// result is one of success, failure, skipped.
func RecordScheduledRun(result string) {
	ScheduledJobRunsTotal.WithLabelValues(result).Inc()
}

// RecordDBStats copies connection pool stats into gauges.
func RecordDBStats(stats sql.DBStats) {
	DBConnectionsInUse.Set(float64(stats.InUse))
	DBConnectionsIdle.Set(float64(stats.Idle))
}
