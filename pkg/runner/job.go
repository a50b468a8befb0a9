package runner

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/harunnryd/speechjob/pkg/errorsx"
	"github.com/harunnryd/speechjob/pkg/logging"
	"github.com/harunnryd/speechjob/pkg/metrics"
	"github.com/harunnryd/speechjob/pkg/resilience"
	"github.com/harunnryd/speechjob/pkg/speechkit"
	"github.com/harunnryd/speechjob/pkg/store"
	"github.com/harunnryd/speechjob/pkg/transcript"
)

// Job outcomes reported on EventJob.
const (
	OutcomeDone         = "done"
	OutcomeFailed       = "failed"
	OutcomeTimeout      = "timeout"
	OutcomeNotDone      = "not_done"
	OutcomeSubmitFailed = "submit_failed"
	OutcomeCancelled    = "cancelled"
)

// Run submits audioURI, waits for the operation and writes the transcript to outputPath.
func (r *Runner) Run(ctx context.Context, audioURI, outputPath string) (Result, error) {
	ctx, traceID := r.withTrace(ctx, "")
	start := r.now()
	rec, err := r.submit(ctx, traceID, audioURI, r.outputPath(outputPath, ""))
	res := Result{TraceID: traceID, OperationID: rec.OperationID, OutputPath: rec.OutputPath}
	if err != nil {
		r.finish(ctx, res.OperationID, OutcomeSubmitFailed, start)
		return res, err
	}
	if err := r.save(ctx, rec); err != nil {
		r.logger.Warn("store_save_failed", slog.String(metrics.TagOperationID, rec.OperationID), slog.Any("error", err))
	}
	return r.complete(ctx, rec, true, start)
}

// Submit starts recognition and records the operation without waiting for it.
func (r *Runner) Submit(ctx context.Context, audioURI, outputPath string) (Result, error) {
	ctx, traceID := r.withTrace(ctx, "")
	rec, err := r.submit(ctx, traceID, audioURI, r.outputPath(outputPath, ""))
	res := Result{TraceID: traceID, OperationID: rec.OperationID, OutputPath: rec.OutputPath}
	if err != nil {
		r.finish(ctx, "", OutcomeSubmitFailed, r.now())
		return res, err
	}
	if err := r.save(ctx, rec); err != nil {
		return res, err
	}
	return res, nil
}

// Resume polls a previously submitted operation. With wait set it keeps polling
// per the backoff; otherwise a running operation yields speechkit.ErrNotDone.
// Operations unknown to the store are polled as bare ids.
func (r *Runner) Resume(ctx context.Context, operationID, outputPath string, wait bool) (Result, error) {
	operationID = strings.TrimSpace(operationID)
	if operationID == "" {
		return Result{}, errorsx.New(errorsx.ReasonConfig, "operation id cannot be empty")
	}
	rec, err := r.store.Get(ctx, operationID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		rec = store.Record{OperationID: operationID, State: store.StatePending, SubmittedAt: r.now()}
	case err != nil:
		return Result{OperationID: operationID}, errorsx.New(errorsx.ReasonStore, "load operation %s: %w", operationID, err)
	}
	ctx, traceID := r.withTrace(ctx, rec.TraceID)
	rec.TraceID = traceID
	rec.OutputPath = r.outputPath(outputPath, rec.OutputPath)
	return r.complete(ctx, rec, wait, r.now())
}

func (r *Runner) submit(ctx context.Context, traceID, audioURI, outputPath string) (store.Record, error) {
	rec := store.Record{AudioURI: audioURI, TraceID: traceID, OutputPath: outputPath, State: store.StatePending}
	req, err := r.request(audioURI)
	if err != nil {
		return rec, errorsx.Wrap(err, errorsx.ReasonConfig)
	}
	handle, err := r.client.SubmitRequest(ctx, req)
	if err != nil {
		r.logger.Error("submit_failed",
			slog.String(metrics.TagTraceID, traceID),
			slog.String("reason", string(errorsx.Reason(err))),
			slog.Any("error", err))
		return rec, err
	}
	now := r.now()
	rec.OperationID = handle.ID
	rec.SubmittedAt = now
	rec.UpdatedAt = now
	r.observer.RecordEvent(metrics.MetricsEvent{
		Name: metrics.EventSubmit,
		Time: now,
		Tags: r.tags(traceID, handle.ID, ""),
		Fields: map[string]any{
			"audio_uri":   audioURI,
			"output_path": outputPath,
		},
	})
	r.logger.Info("job_submitted",
		slog.String(metrics.TagTraceID, traceID),
		slog.String(metrics.TagOperationID, handle.ID))
	return rec, nil
}

// complete polls rec's operation, writes the transcript and updates the store.
func (r *Runner) complete(ctx context.Context, rec store.Record, wait bool, start time.Time) (Result, error) {
	res := Result{OperationID: rec.OperationID, TraceID: rec.TraceID, OutputPath: rec.OutputPath}
	handle := speechkit.OperationHandle{ID: rec.OperationID}

	var tr transcript.Transcript
	poll := func(ctx context.Context) (bool, error) {
		t, err := r.client.Poll(ctx, handle)
		if err != nil {
			if speechkit.IsNotDone(err) {
				return false, nil
			}
			return false, err
		}
		tr = t
		return true, nil
	}

	var err error
	if wait {
		res.Polls, err = resilience.Until(ctx, r.backoff, poll, speechkit.IsRetryable)
	} else {
		res.Polls = 1
		tr, err = r.client.Poll(ctx, handle)
	}
	res.Elapsed = r.now().Sub(start)
	if err != nil {
		outcome := outcomeFor(err)
		if outcome == OutcomeFailed {
			r.fail(ctx, rec, err)
		} else {
			// The remote operation may still finish; keep the record pending for a later poll.
			r.logger.Warn("job_incomplete",
				slog.String(metrics.TagTraceID, rec.TraceID),
				slog.String(metrics.TagOperationID, rec.OperationID),
				slog.String(metrics.TagOutcome, outcome),
				slog.Int("polls", res.Polls))
		}
		r.finish(ctx, rec.OperationID, outcome, start)
		return res, err
	}

	if err := transcript.WriteFile(rec.OutputPath, tr); err != nil {
		r.fail(ctx, rec, err)
		r.finish(ctx, rec.OperationID, OutcomeFailed, start)
		return res, err
	}
	res.Lines = tr.Len()
	r.observer.RecordEvent(metrics.MetricsEvent{
		Name:   metrics.EventSinkSave,
		Time:   r.now(),
		Value:  float64(res.Lines),
		Tags:   r.tags(rec.TraceID, rec.OperationID, ""),
		Fields: map[string]any{"output_path": rec.OutputPath},
	})

	rec.State = store.StateDone
	rec.Lines = res.Lines
	rec.Error = ""
	rec.UpdatedAt = r.now()
	if err := r.save(ctx, rec); err != nil {
		r.logger.Warn("store_save_failed", slog.String(metrics.TagOperationID, rec.OperationID), slog.Any("error", err))
	}
	res.Elapsed = r.now().Sub(start)
	r.finish(ctx, rec.OperationID, OutcomeDone, start)
	r.logger.Info("transcript_saved",
		slog.String(metrics.TagTraceID, rec.TraceID),
		slog.String(metrics.TagOperationID, rec.OperationID),
		slog.String("output_path", rec.OutputPath),
		slog.Int("lines", res.Lines),
		slog.Int("polls", res.Polls),
		slog.Duration("elapsed", res.Elapsed))
	return res, nil
}

func (r *Runner) fail(ctx context.Context, rec store.Record, cause error) {
	rec.State = store.StateFailed
	rec.Error = cause.Error()
	rec.UpdatedAt = r.now()
	if err := r.save(ctx, rec); err != nil {
		r.logger.Warn("store_save_failed", slog.String(metrics.TagOperationID, rec.OperationID), slog.Any("error", err))
	}
	r.logger.Error("job_failed",
		slog.String(metrics.TagTraceID, rec.TraceID),
		slog.String(metrics.TagOperationID, rec.OperationID),
		slog.String("reason", string(errorsx.Reason(cause))),
		slog.Any("error", cause))
}

func (r *Runner) finish(ctx context.Context, operationID, outcome string, start time.Time) {
	traceID, _ := logging.TraceIDFromContext(ctx)
	now := r.now()
	var elapsed float64
	if outcome == OutcomeDone {
		elapsed = now.Sub(start).Seconds()
	}
	r.observer.RecordEvent(metrics.MetricsEvent{
		Name:  metrics.EventJob,
		Time:  now,
		Value: elapsed,
		Tags:  r.tags(traceID, operationID, outcome),
	})
}

func (r *Runner) save(ctx context.Context, rec store.Record) error {
	if err := r.store.Save(context.WithoutCancel(ctx), rec); err != nil {
		return errorsx.New(errorsx.ReasonStore, "save operation %s: %w", rec.OperationID, err)
	}
	return nil
}

func (r *Runner) withTrace(ctx context.Context, traceID string) (context.Context, string) {
	if traceID == "" {
		if id, ok := logging.TraceIDFromContext(ctx); ok {
			traceID = id
		} else {
			traceID = uuid.NewString()
		}
	}
	return logging.ContextWithTraceID(ctx, traceID), traceID
}

func (r *Runner) outputPath(given, recorded string) string {
	if p := strings.TrimSpace(given); p != "" {
		return p
	}
	if recorded != "" {
		return recorded
	}
	return r.output
}

func (r *Runner) tags(traceID, operationID, outcome string) map[string]string {
	tags := map[string]string{}
	if traceID != "" {
		tags[metrics.TagTraceID] = traceID
	}
	if operationID != "" {
		tags[metrics.TagOperationID] = operationID
	}
	if outcome != "" {
		tags[metrics.TagOutcome] = outcome
	}
	return tags
}

func outcomeFor(err error) string {
	switch {
	case speechkit.IsNotDone(err):
		return OutcomeNotDone
	case resilience.IsTimeout(err):
		return OutcomeTimeout
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return OutcomeCancelled
	default:
		return OutcomeFailed
	}
}
