package speechkit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/harunnryd/speechjob/pkg/errorsx"
	"github.com/harunnryd/speechjob/pkg/logging"
	"github.com/harunnryd/speechjob/pkg/metrics"
	"github.com/harunnryd/speechjob/pkg/redact"
	"github.com/harunnryd/speechjob/pkg/resilience"
	"github.com/harunnryd/speechjob/pkg/transcript"
)

const (
	DefaultSubmitURL    = "https://transcribe.api.cloud.yandex.net/speech/stt/v2/longRunningRecognize"
	DefaultOperationURL = "https://operation.api.cloud.yandex.net/operations"
	DefaultTimeout      = 30 * time.Second
	DefaultUserAgent    = "speechjob/1.0"

	requestIDHeader = "x-client-request-id"
	maxBodyBytes    = 16 << 20
)

// Config contains speechkit client configuration.
type Config struct {
	APIKey       string
	SubmitURL    string
	OperationURL string
	Timeout      time.Duration
	UserAgent    string

	// HTTPClient overrides the default client; Timeout is ignored when set.
	HTTPClient *http.Client
	Observer   metrics.Observer
	Logger     *slog.Logger
}

// Client talks to the asynchronous recognition and operation endpoints.
type Client struct {
	cfg        Config
	httpClient *http.Client
	observer   metrics.Observer
	logger     *slog.Logger
	now        func() time.Time
}

// NewClient validates cfg and fills in defaults.
func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errorsx.New(errorsx.ReasonConfig, "API key cannot be empty")
	}
	if cfg.SubmitURL == "" {
		cfg.SubmitURL = DefaultSubmitURL
	}
	if cfg.OperationURL == "" {
		cfg.OperationURL = DefaultOperationURL
	}
	cfg.OperationURL = strings.TrimRight(cfg.OperationURL, "/")
	for _, raw := range []string{cfg.SubmitURL, cfg.OperationURL} {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return nil, errorsx.New(errorsx.ReasonConfig, "invalid endpoint URL %q", raw)
		}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				TLSHandshakeTimeout: 10 * time.Second,
				MaxIdleConns:        10,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}
	observer := cfg.Observer
	if observer == nil {
		observer = metrics.NoopObserver{}
	}

	return &Client{
		cfg:        cfg,
		httpClient: httpClient,
		observer:   observer,
		logger:     logging.NewComponentLogger(cfg.Logger, "speechkit"),
		now:        time.Now,
	}, nil
}

// Submit starts recognition of audioURI with the default request settings.
func (c *Client) Submit(ctx context.Context, audioURI string) (OperationHandle, error) {
	return c.SubmitRequest(ctx, DefaultRecognitionRequest(audioURI))
}

// SubmitRequest starts recognition for req and returns the operation handle.
func (c *Client) SubmitRequest(ctx context.Context, req RecognitionRequest) (OperationHandle, error) {
	if strings.TrimSpace(req.AudioURI) == "" {
		return OperationHandle{}, errorsx.New(errorsx.ReasonConfig, "audio URI cannot be empty")
	}
	payload, err := json.Marshal(req.body())
	if err != nil {
		return OperationHandle{}, fmt.Errorf("encode recognize request: %w", err)
	}

	start := c.now()
	status, body, header, err := c.do(ctx, http.MethodPost, c.cfg.SubmitURL, payload)
	if err != nil {
		c.recordRequest(ctx, "submit", "transport_error", start, 0, "")
		return OperationHandle{}, err
	}

	var resp struct {
		ID string `json:"id"`
	}
	_ = json.Unmarshal(body, &resp)
	if strings.TrimSpace(resp.ID) == "" {
		c.recordRequest(ctx, "submit", "no_operation_id", start, status, "")
		c.logger.Warn("submit_rejected",
			slog.Int("status_code", status),
			slog.String("request_id", header.Get("x-request-id")),
			slog.String("api_key", redact.Secret(c.cfg.APIKey)))
		return OperationHandle{}, errorsx.Wrap(&NoOperationIDError{StatusCode: status, Body: body}, errorsx.ReasonSubmitNoOperationID)
	}

	c.recordRequest(ctx, "submit", "ok", start, status, resp.ID)
	c.logger.Info("submit_accepted",
		slog.String("operation_id", resp.ID),
		slog.String("audio_uri", req.AudioURI),
		slog.String("language_code", req.LanguageCode),
		slog.String("model", req.Model))
	return OperationHandle{ID: resp.ID}, nil
}

// FetchStatus reads the current state of the operation once.
func (c *Client) FetchStatus(ctx context.Context, handle OperationHandle) (OperationStatus, error) {
	if strings.TrimSpace(handle.ID) == "" {
		return OperationStatus{}, errorsx.New(errorsx.ReasonConfig, "operation id cannot be empty")
	}
	endpoint := c.cfg.OperationURL + "/" + url.PathEscape(handle.ID)

	start := c.now()
	status, body, header, err := c.do(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		c.recordRequest(ctx, "poll", "transport_error", start, 0, handle.ID)
		return OperationStatus{}, err
	}
	if status < 200 || status >= 300 {
		c.recordRequest(ctx, "poll", "http_status", start, status, handle.ID)
		herr := &HTTPStatusError{
			StatusCode: status,
			Body:       body,
			RetryAfter: resilience.ParseRetryAfter(header.Get("Retry-After"), c.now()),
		}
		reason := errorsx.ReasonPollHTTPStatus
		if status == http.StatusTooManyRequests {
			reason = errorsx.ReasonRateLimit
		}
		return OperationStatus{}, errorsx.Wrap(herr, reason)
	}

	var op operationBody
	if err := json.Unmarshal(body, &op); err != nil {
		c.recordRequest(ctx, "poll", "decode_error", start, status, handle.ID)
		return OperationStatus{}, errorsx.New(errorsx.ReasonDecode, "decode operation %s: %w", handle.ID, err)
	}
	c.recordRequest(ctx, "poll", "ok", start, status, handle.ID)

	st := op.status()
	if st.ID == "" {
		st.ID = handle.ID
		if st.Error != nil {
			st.Error.OperationID = handle.ID
		}
	}
	return st, nil
}

// Poll fetches the operation once and extracts the transcript when it is done.
// A running operation yields ErrNotDone; a failed one yields *OperationError.
func (c *Client) Poll(ctx context.Context, handle OperationHandle) (transcript.Transcript, error) {
	st, err := c.FetchStatus(ctx, handle)
	if err != nil {
		return transcript.Transcript{}, err
	}
	if st.Done && st.Error != nil {
		c.recordPoll(ctx, handle.ID, "failed")
		c.logger.Error("operation_failed",
			slog.String("operation_id", handle.ID),
			slog.Int("code", st.Error.Code),
			slog.String("message", st.Error.Message))
		return transcript.Transcript{}, errorsx.Wrap(st.Error, errorsx.ReasonOperationFailed)
	}
	tr, ok := ExtractTranscript(st)
	if !ok {
		c.recordPoll(ctx, handle.ID, "not_done")
		c.logger.Info("operation not complete", slog.String("operation_id", handle.ID))
		return transcript.Transcript{}, errorsx.Wrap(ErrNotDone, errorsx.ReasonPollNotDone)
	}
	c.recordPoll(ctx, handle.ID, "done")
	c.logger.Info("operation_done",
		slog.String("operation_id", handle.ID),
		slog.Int("chunks", len(st.Chunks)),
		slog.Int("lines", tr.Len()))
	return tr, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, payload []byte) (int, []byte, http.Header, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("create HTTP request: %w", err)
	}
	req.Header.Set("Authorization", "Api-Key "+c.cfg.APIKey)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if traceID, ok := logging.TraceIDFromContext(ctx); ok {
		req.Header.Set(requestIDHeader, traceID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return 0, nil, nil, ctxErr
		}
		return 0, nil, nil, errorsx.New(errorsx.ReasonTransport, "%s %s: %w", method, endpoint, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return 0, nil, nil, errorsx.New(errorsx.ReasonTransport, "read response body: %w", err)
	}
	return resp.StatusCode, respBody, resp.Header, nil
}

func (c *Client) recordRequest(ctx context.Context, call, outcome string, start time.Time, statusCode int, operationID string) {
	tags := map[string]string{
		metrics.TagCall:    call,
		metrics.TagOutcome: outcome,
	}
	if statusCode > 0 {
		tags[metrics.TagStatusCode] = strconv.Itoa(statusCode)
	}
	if operationID != "" {
		tags[metrics.TagOperationID] = operationID
	}
	if traceID, ok := logging.TraceIDFromContext(ctx); ok {
		tags[metrics.TagTraceID] = traceID
	}
	now := c.now()
	c.observer.RecordEvent(metrics.MetricsEvent{
		Name:  metrics.EventRequest,
		Time:  now,
		Value: now.Sub(start).Seconds(),
		Tags:  tags,
	})
}

func (c *Client) recordPoll(ctx context.Context, operationID, outcome string) {
	tags := map[string]string{
		metrics.TagOperationID: operationID,
		metrics.TagOutcome:     outcome,
	}
	if traceID, ok := logging.TraceIDFromContext(ctx); ok {
		tags[metrics.TagTraceID] = traceID
	}
	c.observer.RecordEvent(metrics.MetricsEvent{Name: metrics.EventPoll, Time: c.now(), Tags: tags})
}

// IsNotDone reports whether err means the operation is still running.
func IsNotDone(err error) bool {
	return errors.Is(err, ErrNotDone)
}
