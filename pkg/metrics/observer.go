package metrics

import "time"

// Event names emitted by the speechkit client and the job runner.
const (
	EventRequest  = "speechkit_request"
	EventPoll     = "operation_poll"
	EventJob      = "job_finished"
	EventSubmit   = "job_submitted"
	EventSinkSave = "transcript_saved"
)

// Tag keys shared across events.
const (
	TagTraceID     = "trace_id"
	TagOperationID = "operation_id"
	TagCall        = "call"
	TagOutcome     = "outcome"
	TagStatusCode  = "status_code"
)

type MetricsEvent struct {
	Name   string
	Time   time.Time
	Value  float64
	Tags   map[string]string
	Fields map[string]any
}

type Observer interface {
	RecordEvent(ev MetricsEvent)
}

type Flusher interface {
	Flush() error
}

type NoopObserver struct{}

func (NoopObserver) RecordEvent(MetricsEvent) {}

// Flush flushes obs when it buffers or persists events.
func Flush(obs Observer) error {
	if f, ok := obs.(Flusher); ok {
		return f.Flush()
	}
	return nil
}
