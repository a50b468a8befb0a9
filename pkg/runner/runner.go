// Package runner drives a transcription job from submission to saved transcript.
package runner

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/dimiro1/banner"

	"github.com/harunnryd/speechjob/pkg/logging"
	"github.com/harunnryd/speechjob/pkg/metrics"
	"github.com/harunnryd/speechjob/pkg/resilience"
	"github.com/harunnryd/speechjob/pkg/speechkit"
	"github.com/harunnryd/speechjob/pkg/store"
	"github.com/harunnryd/speechjob/pkg/transcript"
)

// Version is printed in the startup banner.
const Version = "dev"

// DefaultOutputPath is used when neither the caller nor the stored record names an output file.
const DefaultOutputPath = "transcript.txt"

// Client is the part of speechkit.Client the runner needs.
type Client interface {
	SubmitRequest(ctx context.Context, req speechkit.RecognitionRequest) (speechkit.OperationHandle, error)
	Poll(ctx context.Context, handle speechkit.OperationHandle) (transcript.Transcript, error)
}

// Config wires a Runner.
type Config struct {
	Client   Client
	Store    store.Store
	Observer metrics.Observer
	Logger   *slog.Logger
	Backoff  resilience.Backoff
	// Request builds the recognition request for an audio URI.
	// speechkit.DefaultRecognitionRequest is used when nil.
	Request       func(uri string) (speechkit.RecognitionRequest, error)
	DefaultOutput string
	Now           func() time.Time
}

// Result summarizes a job.
type Result struct {
	OperationID string
	TraceID     string
	OutputPath  string
	Lines       int
	Polls       int
	Elapsed     time.Duration
}

// Runner submits jobs, waits on them and records their state.
type Runner struct {
	client   Client
	store    store.Store
	observer metrics.Observer
	logger   *slog.Logger
	backoff  resilience.Backoff
	request  func(uri string) (speechkit.RecognitionRequest, error)
	output   string
	now      func() time.Time
}

// New builds a Runner, filling in a memory store and no-op observer when unset.
func New(cfg Config) (*Runner, error) {
	if cfg.Client == nil {
		return nil, errors.New("runner: client is required")
	}
	r := &Runner{
		client:   cfg.Client,
		store:    cfg.Store,
		observer: cfg.Observer,
		logger:   logging.NewComponentLogger(cfg.Logger, "runner"),
		backoff:  cfg.Backoff,
		request:  cfg.Request,
		output:   cfg.DefaultOutput,
		now:      cfg.Now,
	}
	if r.store == nil {
		r.store = store.NewMemoryStore()
	}
	if r.observer == nil {
		r.observer = metrics.NoopObserver{}
	}
	if r.request == nil {
		r.request = func(uri string) (speechkit.RecognitionRequest, error) {
			return speechkit.DefaultRecognitionRequest(uri), nil
		}
	}
	if r.output == "" {
		r.output = DefaultOutputPath
	}
	if r.now == nil {
		r.now = time.Now
	}
	return r, nil
}

// PrintBanner writes the startup banner to w.
func PrintBanner(w io.Writer, color bool) {
	tpl := "{{ .Title \"SPEECHJOB\" \"\" 0 }}\nVersion: " + Version + "\n"
	banner.Init(w, true, color, bytes.NewBufferString(tpl))
}
