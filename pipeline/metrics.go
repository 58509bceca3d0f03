package pipeline

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	stageDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "threadline_stage_duration_seconds",
		Help:    "Wall-clock duration of each pipeline stage.",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
	}, []string{"stage"})

	generationCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "threadline_generation_calls_total",
		Help: "Generation service invocations, by stage.",
	}, []string{"stage"})

	stageRetries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "threadline_stage_retries_total",
		Help: "Stage retries after retryable failures, by stage.",
	}, []string{"stage"})

	stageFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "threadline_stage_failures_total",
		Help: "Stages that exhausted retries or hit a fatal error, by stage.",
	}, []string{"stage"})
)

// RegisterMetrics registers pipeline collectors with the given registry.
// Double registration is tolerated so tests and embedders can call it freely.
func RegisterMetrics(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{stageDuration, generationCalls, stageRetries, stageFailures} {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				return err
			}
		}
	}
	return nil
}
