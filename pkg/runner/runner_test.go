package runner

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/harunnryd/speechjob/pkg/errorsx"
	"github.com/harunnryd/speechjob/pkg/logging"
	"github.com/harunnryd/speechjob/pkg/metrics"
	"github.com/harunnryd/speechjob/pkg/resilience"
	"github.com/harunnryd/speechjob/pkg/speechkit"
	"github.com/harunnryd/speechjob/pkg/store"
	"github.com/harunnryd/speechjob/pkg/transcript"
)

type pollResult struct {
	tr  transcript.Transcript
	err error
}

type fakeClient struct {
	mu        sync.Mutex
	submitID  string
	submitErr error
	polls     []pollResult
	pollCount int
	requests  []speechkit.RecognitionRequest
	traceIDs  []string
}

func (f *fakeClient) SubmitRequest(ctx context.Context, req speechkit.RecognitionRequest) (speechkit.OperationHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	id, _ := logging.TraceIDFromContext(ctx)
	f.traceIDs = append(f.traceIDs, id)
	if f.submitErr != nil {
		return speechkit.OperationHandle{}, f.submitErr
	}
	return speechkit.OperationHandle{ID: f.submitID}, nil
}

func (f *fakeClient) Poll(_ context.Context, handle speechkit.OperationHandle) (transcript.Transcript, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if handle.ID != f.submitID {
		return transcript.Transcript{}, errors.New("unexpected operation id " + handle.ID)
	}
	i := f.pollCount
	f.pollCount++
	if i >= len(f.polls) {
		i = len(f.polls) - 1
	}
	return f.polls[i].tr, f.polls[i].err
}

func notDone() pollResult {
	return pollResult{err: errorsx.Wrap(speechkit.ErrNotDone, errorsx.ReasonPollNotDone)}
}

type fakeClock struct {
	now    time.Time
	sleeps []time.Duration
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	return nil
}

func newTestRunner(t *testing.T, client Client, st store.Store, obs metrics.Observer) (*Runner, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	r, err := New(Config{
		Client:   client,
		Store:    st,
		Observer: obs,
		Backoff: resilience.Backoff{
			Initial:    10 * time.Second,
			Base:       5 * time.Second,
			Max:        20 * time.Second,
			MaxElapsed: time.Minute,
			Sleep:      clock.Sleep,
			Now:        clock.Now,
		},
		DefaultOutput: filepath.Join(t.TempDir(), "default.txt"),
		Now:           clock.Now,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return r, clock
}

func TestNewRequiresClient(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatalf("expected error without client")
	}
}

func TestRunWritesTranscript(t *testing.T) {
	client := &fakeClient{
		submitID: "op-1",
		polls: []pollResult{
			notDone(),
			notDone(),
			{tr: transcript.Transcript{Lines: []string{"hello", "world", ""}}},
		},
	}
	st := store.NewMemoryStore()
	obs := metrics.NewMemoryObserver()
	r, clock := newTestRunner(t, client, st, obs)
	out := filepath.Join(t.TempDir(), "out", "result.txt")

	res, err := r.Run(context.Background(), "s3://bucket/a.ogg", out)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.OperationID != "op-1" || res.Lines != 3 || res.Polls != 3 || res.OutputPath != out {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.TraceID == "" || client.traceIDs[0] != res.TraceID {
		t.Fatalf("trace id not propagated: %q vs %q", res.TraceID, client.traceIDs)
	}
	if client.requests[0].AudioURI != "s3://bucket/a.ogg" || client.requests[0].Model != speechkit.DefaultModel {
		t.Fatalf("unexpected request %+v", client.requests[0])
	}
	if len(clock.sleeps) != 3 || clock.sleeps[0] != 10*time.Second {
		t.Fatalf("unexpected sleeps %v", clock.sleeps)
	}

	got, err := transcript.ReadFile(out)
	if err != nil {
		t.Fatalf("read transcript: %v", err)
	}
	if got.String() != "hello\nworld\n\n" {
		t.Fatalf("unexpected transcript %q", got.String())
	}

	rec, err := st.Get(context.Background(), "op-1")
	if err != nil {
		t.Fatalf("store get: %v", err)
	}
	if rec.State != store.StateDone || rec.Lines != 3 || rec.TraceID != res.TraceID {
		t.Fatalf("unexpected record %+v", rec)
	}

	if len(obs.Named(metrics.EventSubmit)) != 1 || len(obs.Named(metrics.EventSinkSave)) != 1 {
		t.Fatalf("missing submit or sink events")
	}
	jobs := obs.Named(metrics.EventJob)
	if len(jobs) != 1 || jobs[0].Tags[metrics.TagOutcome] != OutcomeDone || jobs[0].Tags[metrics.TagOperationID] != "op-1" {
		t.Fatalf("unexpected job events %+v", jobs)
	}
}

func TestRunSubmitFailureDoesNotPoll(t *testing.T) {
	submitErr := errorsx.Wrap(&speechkit.NoOperationIDError{StatusCode: 401}, errorsx.ReasonSubmitNoOperationID)
	client := &fakeClient{submitErr: submitErr}
	st := store.NewMemoryStore()
	obs := metrics.NewMemoryObserver()
	r, _ := newTestRunner(t, client, st, obs)

	res, err := r.Run(context.Background(), "s3://bucket/a.ogg", "")
	if !errorsx.HasReason(err, errorsx.ReasonSubmitNoOperationID) {
		t.Fatalf("expected submit error, got %v", err)
	}
	if res.OperationID != "" || client.pollCount != 0 {
		t.Fatalf("must not poll or invent an id: %+v polls=%d", res, client.pollCount)
	}
	if recs, _ := st.List(context.Background()); len(recs) != 0 {
		t.Fatalf("nothing should be stored: %+v", recs)
	}
	jobs := obs.Named(metrics.EventJob)
	if len(jobs) != 1 || jobs[0].Tags[metrics.TagOutcome] != OutcomeSubmitFailed {
		t.Fatalf("unexpected job events %+v", jobs)
	}
}

func TestRunTimeoutKeepsRecordPending(t *testing.T) {
	client := &fakeClient{submitID: "op-slow", polls: []pollResult{notDone()}}
	st := store.NewMemoryStore()
	obs := metrics.NewMemoryObserver()
	r, _ := newTestRunner(t, client, st, obs)
	out := filepath.Join(t.TempDir(), "never.txt")

	_, err := r.Run(context.Background(), "s3://bucket/a.ogg", out)
	if !resilience.IsTimeout(err) || !errorsx.HasReason(err, errorsx.ReasonPollTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
	rec, err := st.Get(context.Background(), "op-slow")
	if err != nil {
		t.Fatalf("store get: %v", err)
	}
	if rec.State != store.StatePending {
		t.Fatalf("record should stay pending, got %s", rec.State)
	}
	if _, err := transcript.ReadFile(out); err == nil {
		t.Fatalf("no transcript must be written on timeout")
	}
	jobs := obs.Named(metrics.EventJob)
	if len(jobs) != 1 || jobs[0].Tags[metrics.TagOutcome] != OutcomeTimeout {
		t.Fatalf("unexpected job events %+v", jobs)
	}
}

func TestRunOperationFailureMarksRecord(t *testing.T) {
	opErr := errorsx.Wrap(&speechkit.OperationError{OperationID: "op-bad", Code: 3, Message: "bad audio"}, errorsx.ReasonOperationFailed)
	client := &fakeClient{submitID: "op-bad", polls: []pollResult{notDone(), {err: opErr}}}
	st := store.NewMemoryStore()
	r, _ := newTestRunner(t, client, st, nil)

	_, err := r.Run(context.Background(), "s3://bucket/a.ogg", filepath.Join(t.TempDir(), "x.txt"))
	var target *speechkit.OperationError
	if !errors.As(err, &target) {
		t.Fatalf("expected OperationError, got %v", err)
	}
	if client.pollCount != 2 {
		t.Fatalf("operation error must be terminal, polls=%d", client.pollCount)
	}
	rec, _ := st.Get(context.Background(), "op-bad")
	if rec.State != store.StateFailed || !strings.Contains(rec.Error, "bad audio") {
		t.Fatalf("unexpected record %+v", rec)
	}
}

func TestSubmitRecordsOnly(t *testing.T) {
	client := &fakeClient{submitID: "op-2"}
	st := store.NewMemoryStore()
	r, _ := newTestRunner(t, client, st, nil)

	res, err := r.Submit(context.Background(), "s3://bucket/b.ogg", "b.txt")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if res.OperationID != "op-2" || client.pollCount != 0 {
		t.Fatalf("unexpected result %+v polls=%d", res, client.pollCount)
	}
	rec, err := st.Get(context.Background(), "op-2")
	if err != nil {
		t.Fatalf("store get: %v", err)
	}
	if rec.State != store.StatePending || rec.OutputPath != "b.txt" || rec.AudioURI != "s3://bucket/b.ogg" {
		t.Fatalf("unexpected record %+v", rec)
	}
}

func TestResumeOnceNotDone(t *testing.T) {
	client := &fakeClient{submitID: "op-3", polls: []pollResult{notDone()}}
	st := store.NewMemoryStore()
	_ = st.Save(context.Background(), store.Record{OperationID: "op-3", TraceID: "trace-3", State: store.StatePending})
	obs := metrics.NewMemoryObserver()
	r, _ := newTestRunner(t, client, st, obs)

	res, err := r.Resume(context.Background(), "op-3", "", false)
	if !speechkit.IsNotDone(err) {
		t.Fatalf("expected not done, got %v", err)
	}
	if res.TraceID != "trace-3" || res.Polls != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
	rec, _ := st.Get(context.Background(), "op-3")
	if rec.State != store.StatePending {
		t.Fatalf("record should stay pending, got %+v", rec)
	}
	jobs := obs.Named(metrics.EventJob)
	if len(jobs) != 1 || jobs[0].Tags[metrics.TagOutcome] != OutcomeNotDone {
		t.Fatalf("unexpected job events %+v", jobs)
	}
}

func TestResumeUsesRecordedOutput(t *testing.T) {
	out := filepath.Join(t.TempDir(), "recorded.txt")
	client := &fakeClient{submitID: "op-4", polls: []pollResult{{tr: transcript.Transcript{Lines: []string{"done"}}}}}
	st := store.NewMemoryStore()
	_ = st.Save(context.Background(), store.Record{OperationID: "op-4", OutputPath: out, State: store.StatePending})
	r, _ := newTestRunner(t, client, st, nil)

	res, err := r.Resume(context.Background(), "op-4", "", true)
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if res.OutputPath != out || res.Lines != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
	got, err := transcript.ReadFile(out)
	if err != nil || got.String() != "done\n" {
		t.Fatalf("unexpected transcript %q (%v)", got.String(), err)
	}
}

func TestResumeBareOperationID(t *testing.T) {
	out := filepath.Join(t.TempDir(), "bare.txt")
	client := &fakeClient{submitID: "op-5", polls: []pollResult{{tr: transcript.Transcript{Lines: []string{"x"}}}}}
	st := store.NewMemoryStore()
	r, _ := newTestRunner(t, client, st, nil)

	if _, err := r.Resume(context.Background(), "op-5", out, false); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	rec, err := st.Get(context.Background(), "op-5")
	if err != nil || rec.State != store.StateDone || rec.OutputPath != out {
		t.Fatalf("unexpected record %+v (%v)", rec, err)
	}
	if _, err := r.Resume(context.Background(), " ", "", false); err == nil {
		t.Fatalf("expected error for empty id")
	}
}

func TestRunCancelled(t *testing.T) {
	client := &fakeClient{submitID: "op-6", polls: []pollResult{notDone()}}
	r, _ := newTestRunner(t, client, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Run(ctx, "s3://bucket/a.ogg", filepath.Join(t.TempDir(), "c.txt"))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
}

func TestPrintBanner(t *testing.T) {
	var buf bytes.Buffer
	PrintBanner(&buf, false)
	if !strings.Contains(buf.String(), "Version: "+Version) {
		t.Fatalf("unexpected banner %q", buf.String())
	}
}
