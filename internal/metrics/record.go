package metrics

// EmailSent records the outcome of a relay email.
func EmailSent(kind string, err error) {
	status := "sent"
	if err != nil {
		status = "failed"
	}
	EmailsSentTotal.WithLabelValues(kind, status).Inc()
}

// ReportRelayed records which request format a report arrived in.
func ReportRelayed(format string) {
	ReportsRelayedTotal.WithLabelValues(format).Inc()
}

// SubmissionRecorded records a submission outcome.
func SubmissionRecorded(status string) {
	SubmissionsTotal.WithLabelValues(status).Inc()
}

// FlushRecorded records the per-entry outcomes of one queue flush.
func FlushRecorded(sent, failed int) {
	QueueFlushTotal.WithLabelValues("sent").Add(float64(sent))
	QueueFlushTotal.WithLabelValues("failed").Add(float64(failed))
}

// SetQueueDepth publishes the current queue length.
func SetQueueDepth(n int) {
	QueueDepth.Set(float64(n))
}
