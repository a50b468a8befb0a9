package observers

import (
	"log/slog"
	"sync"
	"time"

	"github.com/harunnryd/speechjob/pkg/metrics"
)

// LatencyObserver logs how long each job spent between submission, the
// first poll and completion.
type LatencyObserver struct {
	mu     sync.Mutex
	traces map[string]*trace
	log    *slog.Logger
}

type trace struct {
	submitted time.Time
	firstPoll time.Time
	polls     int
}

func NewLatencyObserver(log *slog.Logger) *LatencyObserver {
	if log == nil {
		log = slog.Default()
	}
	return &LatencyObserver{
		traces: make(map[string]*trace),
		log:    log,
	}
}

func (o *LatencyObserver) RecordEvent(ev metrics.MetricsEvent) {
	id := ev.Tags[metrics.TagTraceID]
	if id == "" {
		return
	}
	at := ev.Time
	if at.IsZero() {
		at = time.Now()
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	tr := o.traces[id]
	if tr == nil {
		tr = &trace{}
		o.traces[id] = tr
	}
	switch ev.Name {
	case metrics.EventSubmit:
		tr.submitted = at
	case metrics.EventPoll:
		if tr.firstPoll.IsZero() {
			tr.firstPoll = at
		}
		tr.polls++
	case metrics.EventJob:
		attrs := []any{
			slog.String(metrics.TagTraceID, id),
			slog.String(metrics.TagOperationID, ev.Tags[metrics.TagOperationID]),
			slog.String(metrics.TagOutcome, ev.Tags[metrics.TagOutcome]),
			slog.Int("polls", tr.polls),
		}
		if !tr.submitted.IsZero() {
			attrs = append(attrs, slog.Duration("submit_to_finish", at.Sub(tr.submitted)))
			if !tr.firstPoll.IsZero() {
				attrs = append(attrs, slog.Duration("submit_to_first_poll", tr.firstPoll.Sub(tr.submitted)))
			}
		}
		o.log.Info("job_latency", attrs...)
		delete(o.traces, id)
	}
}
