package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusObserver turns events into Prometheus series and can dump them
// to a node_exporter textfile.
type PrometheusObserver struct {
	registry *prometheus.Registry
	textfile string

	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	polls           *prometheus.CounterVec
	jobs            *prometheus.CounterVec
	jobDuration     prometheus.Histogram
}

// NewPrometheusObserver registers the speechjob series on a fresh registry.
// textfile may be empty, in which case Flush is a no-op.
func NewPrometheusObserver(textfile string) (*PrometheusObserver, error) {
	o := &PrometheusObserver{
		registry: prometheus.NewRegistry(),
		textfile: strings.TrimSpace(textfile),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "speechjob_requests_total",
				Help: "Requests sent to the speech recognition API",
			},
			[]string{"call", "outcome"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "speechjob_request_duration_seconds",
				Help:    "Latency of requests to the speech recognition API",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"call"},
		),
		polls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "speechjob_polls_total",
				Help: "Operation status polls by observed state",
			},
			[]string{"outcome"},
		),
		jobs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "speechjob_jobs_total",
				Help: "Transcription jobs by final outcome",
			},
			[]string{"outcome"},
		),
		jobDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "speechjob_job_duration_seconds",
				Help:    "Wall time from submission to saved transcript",
				Buckets: []float64{30, 60, 120, 300, 600, 1200, 2400, 3600},
			},
		),
	}
	for _, c := range []prometheus.Collector{o.requests, o.requestDuration, o.polls, o.jobs, o.jobDuration} {
		if err := o.registry.Register(c); err != nil {
			return nil, err
		}
	}
	return o, nil
}

// Registry exposes the underlying registry as a gatherer.
func (o *PrometheusObserver) Registry() *prometheus.Registry {
	return o.registry
}

func (o *PrometheusObserver) RecordEvent(ev MetricsEvent) {
	outcome := ev.Tags[TagOutcome]
	if outcome == "" {
		outcome = "unknown"
	}
	switch ev.Name {
	case EventRequest:
		call := ev.Tags[TagCall]
		o.requests.WithLabelValues(call, outcome).Inc()
		if ev.Value > 0 {
			o.requestDuration.WithLabelValues(call).Observe(ev.Value)
		}
	case EventPoll:
		o.polls.WithLabelValues(outcome).Inc()
	case EventJob:
		o.jobs.WithLabelValues(outcome).Inc()
		if ev.Value > 0 {
			o.jobDuration.Observe(ev.Value)
		}
	}
}

// Flush writes the current series to the configured textfile.
func (o *PrometheusObserver) Flush() error {
	if o.textfile == "" {
		return nil
	}
	return prometheus.WriteToTextfile(o.textfile, o.registry)
}
