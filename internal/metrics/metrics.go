package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Recorder collects render and validation metrics of the form.
type Recorder struct {
	renders            *prometheus.CounterVec
	renderDuration     *prometheus.HistogramVec
	outputSize         *prometheus.HistogramVec
	validationFailures *prometheus.CounterVec
}

// NewRecorder registers the report metrics on reg.
func NewRecorder(reg prometheus.Registerer) (*Recorder, error) {
	m := &Recorder{
		renders: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rdreport_renders_total",
				Help: "Render attempts by format and outcome",
			},
			[]string{"format", "status"},
		),
		renderDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rdreport_render_duration_seconds",
				Help:    "Time taken to compose and write one output file",
				Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"format"},
		),
		outputSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rdreport_output_size_bytes",
				Help:    "Size of written report files in bytes",
				Buckets: []float64{1e3, 1e4, 1e5, 1e6, 1e7, 1e8},
			},
			[]string{"format"},
		),
		validationFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rdreport_validation_failures_total",
				Help: "Rejected form submissions by field",
			},
			[]string{"field"},
		),
	}

	for _, c := range []prometheus.Collector{m.renders, m.renderDuration, m.outputSize, m.validationFailures} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// ObserveRender records one render attempt. size is ignored for failures.
func (m *Recorder) ObserveRender(format, status string, seconds float64, size int64) {
	if m == nil {
		return
	}
	m.renders.WithLabelValues(format, status).Inc()
	m.renderDuration.WithLabelValues(format).Observe(seconds)
	if size > 0 {
		m.outputSize.WithLabelValues(format).Observe(float64(size))
	}
}

// IncreaseValidationFailure counts a rejected field.
func (m *Recorder) IncreaseValidationFailure(field string) {
	if m == nil {
		return
	}
	m.validationFailures.WithLabelValues(field).Inc()
}
