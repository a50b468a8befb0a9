package observers

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/harunnryd/speechjob/pkg/metrics"
)

type flushCounter struct {
	metrics.NoopObserver
	flushed int
	err     error
}

func (f *flushCounter) Flush() error {
	f.flushed++
	return f.err
}

func TestMultiObserverFansOutAndFlushes(t *testing.T) {
	mem := metrics.NewMemoryObserver()
	ok := &flushCounter{}
	bad := &flushCounter{err: errors.New("disk full")}
	multi := NewMultiObserver(mem, nil, ok, bad)

	multi.RecordEvent(metrics.MetricsEvent{Name: metrics.EventPoll})
	if len(mem.Events) != 1 {
		t.Fatalf("expected event forwarded, got %d", len(mem.Events))
	}
	err := multi.Flush()
	if ok.flushed != 1 || bad.flushed != 1 {
		t.Fatalf("expected both flushers called")
	}
	if err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Fatalf("expected joined flush error, got %v", err)
	}
}

func TestLatencyObserverLogsOnJobFinish(t *testing.T) {
	var buf bytes.Buffer
	obs := NewLatencyObserver(slog.New(slog.NewTextHandler(&buf, nil)))
	start := time.Unix(1000, 0)
	tags := map[string]string{metrics.TagTraceID: "trace-1", metrics.TagOperationID: "op-1"}

	obs.RecordEvent(metrics.MetricsEvent{Name: metrics.EventSubmit, Time: start, Tags: tags})
	obs.RecordEvent(metrics.MetricsEvent{Name: metrics.EventPoll, Time: start.Add(10 * time.Second), Tags: tags})
	obs.RecordEvent(metrics.MetricsEvent{Name: metrics.EventPoll, Time: start.Add(20 * time.Second), Tags: tags})
	done := map[string]string{metrics.TagTraceID: "trace-1", metrics.TagOperationID: "op-1", metrics.TagOutcome: "done"}
	obs.RecordEvent(metrics.MetricsEvent{Name: metrics.EventJob, Time: start.Add(25 * time.Second), Tags: done})

	out := buf.String()
	for _, want := range []string{"job_latency", "polls=2", "submit_to_finish=25s", "submit_to_first_poll=10s"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in %q", want, out)
		}
	}
	if len(obs.traces) != 0 {
		t.Fatalf("expected trace state dropped after job finish")
	}
}
