package worker

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are collected for the lifetime of one worker and written next to
// the step logs when the loop ends, where node exporters or humans can pick
// them up.
type Metrics struct {
	registry     *prometheus.Registry
	steps        *prometheus.CounterVec
	stepDuration prometheus.Histogram
	idleTicks    prometheus.Gauge
	outcome      *prometheus.GaugeVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		steps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "slurm_executor_worker_steps_total",
				Help: "Steps executed by the worker, by result",
			},
			[]string{"result"},
		),
		stepDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "slurm_executor_worker_step_duration_seconds",
				Help:    "Duration of step executions",
				Buckets: prometheus.ExponentialBuckets(1, 4, 8),
			},
		),
		idleTicks: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "slurm_executor_worker_idle_ticks",
				Help: "Ticks spent waiting before the first step",
			},
		),
		outcome: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "slurm_executor_worker_outcome",
				Help: "Set to 1 for the phase the worker ended in",
			},
			[]string{"phase"},
		),
	}
	m.registry.MustRegister(m.steps, m.stepDuration, m.idleTicks, m.outcome)
	return m
}

func (m *Metrics) observeStep(code int, seconds float64) {
	result := "success"
	if code != 0 {
		result = "failure"
	}
	m.steps.WithLabelValues(result).Inc()
	m.stepDuration.Observe(seconds)
}

func (m *Metrics) observeEnd(s State) {
	m.idleTicks.Set(float64(s.IdleTicks))
	m.outcome.WithLabelValues(string(s.Phase)).Set(1)
}

// WriteFile writes the metrics in the text exposition format.
func (m *Metrics) WriteFile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}
