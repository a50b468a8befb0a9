package observers

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/harunnryd/speechjob/pkg/metrics"
)

func TestTimelineObserverWritesJSONL(t *testing.T) {
	dir := t.TempDir()
	obs := NewTimelineObserver(dir)

	obs.RecordEvent(metrics.MetricsEvent{
		Name: metrics.EventPoll,
		Time: time.Now(),
		Tags: map[string]string{
			metrics.TagTraceID:     "trace-1",
			metrics.TagOperationID: "e03op",
			metrics.TagOutcome:     "not_done",
		},
		Fields: map[string]any{"body": `{"message":"Api-Key AQVNsecret"}`},
	})
	if err := obs.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	_ = obs.Close()

	b, err := os.ReadFile(filepath.Join(dir, "trace-1.jsonl"))
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	line := string(b)
	if !strings.Contains(line, `"event":"operation_poll"`) {
		t.Fatalf("expected poll event in file: %s", line)
	}
	if !strings.Contains(line, `"operation_id":"e03op"`) {
		t.Fatalf("expected operation id in file: %s", line)
	}
	if strings.Contains(line, "AQVNsecret") {
		t.Fatalf("credential leaked into timeline: %s", line)
	}
}

func TestTimelineObserverFallsBackToOperationID(t *testing.T) {
	dir := t.TempDir()
	obs := NewTimelineObserver(dir)
	defer obs.Close()

	obs.RecordEvent(metrics.MetricsEvent{Name: metrics.EventPoll, Tags: map[string]string{metrics.TagOperationID: "e03/../op"}})
	obs.RecordEvent(metrics.MetricsEvent{Name: metrics.EventPoll})

	if _, err := os.Stat(filepath.Join(dir, "e03_.._op.jsonl")); err != nil {
		t.Fatalf("expected sanitized operation file: %v", err)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Fatalf("events without ids must be dropped, got %d files", len(entries))
	}
}
