package event

import (
	"sync/atomic"

	"go.uber.org/zap"
)

// LoggingHandler logs all events
type LoggingHandler struct {
	logger *zap.Logger
}

// NewLoggingHandler creates a new LoggingHandler
func NewLoggingHandler(logger *zap.Logger) *LoggingHandler {
	return &LoggingHandler{logger: logger}
}

// Handle logs the event
func (h *LoggingHandler) Handle(event DomainEvent) error {
	switch e := event.(type) {
	case JobCreated:
		h.logger.Info("download job created",
			zap.String("job_id", e.JobID),
			zap.String("url", e.URL),
			zap.String("filename", e.Filename),
			zap.Int64("total_size", e.TotalSize),
			zap.Int("segments", e.Segments),
			zap.String("variant", e.Variant),
		)
	case JobStatusChanged:
		h.logger.Debug("download job status changed",
			zap.String("job_id", e.JobID),
			zap.String("from", string(e.From)),
			zap.String("to", string(e.To)),
		)
	case JobProgressed, SegmentCompleted:
		// too frequent to log
	case SegmentRetried:
		h.logger.Warn("segment attempt failed, retrying",
			zap.String("job_id", e.JobID),
			zap.Int("segment", e.SegmentID),
			zap.Int("retry_count", e.RetryCount),
			zap.Duration("delay", e.Delay),
			zap.String("error", e.Error),
		)
	case JobCompleted:
		h.logger.Info("download job completed",
			zap.String("job_id", e.JobID),
			zap.String("path", e.Path),
			zap.Int64("size", e.Size),
			zap.Duration("duration", e.Duration),
		)
	case JobFailed:
		h.logger.Warn("download job failed",
			zap.String("job_id", e.JobID),
			zap.String("error", e.Error),
		)
	default:
		h.logger.Debug("domain event",
			zap.String("event", event.EventName()),
			zap.Time("occurred_at", event.OccurredAt()),
		)
	}
	return nil
}

// HandledEvents returns the events this handler handles
func (h *LoggingHandler) HandledEvents() []string {
	return []string{Wildcard}
}

// MetricsHandler collects metrics from events
type MetricsHandler struct {
	jobsCreated       atomic.Int64
	jobsCompleted     atomic.Int64
	jobsFailed        atomic.Int64
	segmentsCompleted atomic.Int64
	segmentRetries    atomic.Int64
	bytesCompleted    atomic.Int64
}

// NewMetricsHandler creates a new MetricsHandler
func NewMetricsHandler() *MetricsHandler {
	return &MetricsHandler{}
}

// Handle updates metrics based on the event
func (h *MetricsHandler) Handle(event DomainEvent) error {
	switch e := event.(type) {
	case JobCreated:
		h.jobsCreated.Add(1)
	case JobCompleted:
		h.jobsCompleted.Add(1)
		h.bytesCompleted.Add(e.Size)
	case JobFailed:
		h.jobsFailed.Add(1)
	case SegmentCompleted:
		h.segmentsCompleted.Add(1)
	case SegmentRetried:
		h.segmentRetries.Add(1)
	}
	return nil
}

// HandledEvents returns the events this handler handles
func (h *MetricsHandler) HandledEvents() []string {
	return []string{
		NameJobCreated,
		NameJobCompleted,
		NameJobFailed,
		NameSegmentCompleted,
		NameSegmentRetried,
	}
}

// GetMetrics returns current metrics
func (h *MetricsHandler) GetMetrics() map[string]int64 {
	return map[string]int64{
		"jobs_created":       h.jobsCreated.Load(),
		"jobs_completed":     h.jobsCompleted.Load(),
		"jobs_failed":        h.jobsFailed.Load(),
		"segments_completed": h.segmentsCompleted.Load(),
		"segment_retries":    h.segmentRetries.Load(),
		"bytes_completed":    h.bytesCompleted.Load(),
	}
}
