package generation

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// genReqs counts generation calls by provider and outcome (ok|error).
	genReqs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "notes",
			Name:      "generation_requests_total",
			Help:      "Total number of reply generation calls.",
		},
		[]string{"provider", "outcome"},
	)

	// genLat records provider latency in seconds.
	genLat = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "notes",
			Name:      "generation_duration_seconds",
			Help:      "Duration of reply generation calls in seconds.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"provider"},
	)
)

func init() {
	prometheus.MustRegister(genReqs, genLat)
}

type instrumented struct {
	Generator
}

// Instrumented wraps g so every Generate call is counted and timed.
func Instrumented(g Generator) Generator {
	if _, ok := g.(instrumented); ok {
		return g
	}
	return instrumented{Generator: g}
}

func (i instrumented) Generate(ctx context.Context, history []Message, input string) (string, error) {
	start := time.Now()
	out, err := i.Generator.Generate(ctx, history, input)
	genLat.WithLabelValues(i.Name()).Observe(time.Since(start).Seconds())

	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	genReqs.WithLabelValues(i.Name(), outcome).Inc()
	return out, err
}
