package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPrometheusObserverCountsEvents(t *testing.T) {
	obs, err := NewPrometheusObserver("")
	if err != nil {
		t.Fatalf("new observer: %v", err)
	}
	obs.RecordEvent(MetricsEvent{Name: EventRequest, Time: time.Now(), Value: 0.2, Tags: map[string]string{TagCall: "submit", TagOutcome: "ok"}})
	obs.RecordEvent(MetricsEvent{Name: EventRequest, Time: time.Now(), Value: 0.1, Tags: map[string]string{TagCall: "poll", TagOutcome: "ok"}})
	obs.RecordEvent(MetricsEvent{Name: EventRequest, Time: time.Now(), Value: 0.1, Tags: map[string]string{TagCall: "poll", TagOutcome: "ok"}})
	obs.RecordEvent(MetricsEvent{Name: EventPoll, Time: time.Now(), Tags: map[string]string{TagOutcome: "not_done"}})
	obs.RecordEvent(MetricsEvent{Name: EventJob, Time: time.Now(), Value: 42, Tags: map[string]string{TagOutcome: "done"}})

	if got := testutil.ToFloat64(obs.requests.WithLabelValues("poll", "ok")); got != 2 {
		t.Fatalf("poll requests = %v; want 2", got)
	}
	if got := testutil.ToFloat64(obs.polls.WithLabelValues("not_done")); got != 1 {
		t.Fatalf("not_done polls = %v; want 1", got)
	}
	if got := testutil.ToFloat64(obs.jobs.WithLabelValues("done")); got != 1 {
		t.Fatalf("done jobs = %v; want 1", got)
	}
	if n := testutil.CollectAndCount(obs.requestDuration); n != 2 {
		t.Fatalf("expected 2 duration series, got %d", n)
	}
}

func TestPrometheusObserverFlushWritesTextfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "speechjob.prom")
	obs, err := NewPrometheusObserver(path)
	if err != nil {
		t.Fatalf("new observer: %v", err)
	}
	obs.RecordEvent(MetricsEvent{Name: EventJob, Tags: map[string]string{TagOutcome: "timeout"}})
	if err := Flush(obs); err != nil {
		t.Fatalf("flush: %v", err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read textfile: %v", err)
	}
	if !strings.Contains(string(b), `speechjob_jobs_total{outcome="timeout"} 1`) {
		t.Fatalf("textfile missing job series:\n%s", b)
	}
}

func TestFlushIgnoresPlainObservers(t *testing.T) {
	if err := Flush(NoopObserver{}); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
	mem := NewMemoryObserver()
	mem.RecordEvent(MetricsEvent{Name: EventPoll})
	mem.RecordEvent(MetricsEvent{Name: EventJob})
	if len(mem.Named(EventPoll)) != 1 {
		t.Fatalf("expected one poll event")
	}
}
