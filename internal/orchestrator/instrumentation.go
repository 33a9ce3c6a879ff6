package orchestrator

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const scopeName = "github.com/zulandar/gavel/internal/orchestrator"

var (
	tracer = otel.Tracer(scopeName)
	meter  = otel.Meter(scopeName)

	sessionsCompleted = mustCounter("gavel.sessions.completed", "Sessions that reached the final ruling")
	sessionsFailed    = mustCounter("gavel.sessions.failed", "Sessions failed during orchestration")
	interjections     = mustCounter("gavel.interjections", "Random events, judge interruptions and objection rulings")
	phaseSeconds      = mustHistogram("gavel.phase.duration", "Wall time spent in each phase", "s")
)

func mustCounter(name, desc string) metric.Int64Counter {
	c, err := meter.Int64Counter(name, metric.WithDescription(desc))
	if err != nil {
		otel.Handle(err)
	}
	return c
}

func mustHistogram(name, desc, unit string) metric.Float64Histogram {
	h, err := meter.Float64Histogram(name, metric.WithDescription(desc), metric.WithUnit(unit))
	if err != nil {
		otel.Handle(err)
	}
	return h
}
