package errorsx

// ReasonCode is a short machine-readable error reason.
type ReasonCode string

const (
	ReasonUnknown ReasonCode = "unknown"

	ReasonSubmitNoOperationID ReasonCode = "submit_no_operation_id"

	ReasonPollHTTPStatus  ReasonCode = "poll_http_status"
	ReasonPollNotDone     ReasonCode = "poll_not_done"
	ReasonPollTimeout     ReasonCode = "poll_timeout"
	ReasonOperationFailed ReasonCode = "operation_failed"
	ReasonRateLimit       ReasonCode = "rate_limit"

	ReasonTransport ReasonCode = "transport"
	ReasonDecode    ReasonCode = "decode"
	ReasonSinkWrite ReasonCode = "sink_write"
	ReasonStore     ReasonCode = "store"
	ReasonConfig    ReasonCode = "config"
)
