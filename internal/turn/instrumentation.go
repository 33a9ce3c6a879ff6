package turn

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const scopeName = "github.com/zulandar/gavel/internal/turn"

var (
	tracer = otel.Tracer(scopeName)
	meter  = otel.Meter(scopeName)

	turnsGenerated  = mustCounter("gavel.turns.generated", "Turns generated and persisted")
	moderationFlags = mustCounter("gavel.turns.moderated", "Turns flagged by content moderation")
	cappedTurns     = mustCounter("gavel.turns.capped", "Witness answers truncated by the cap policy")
)

func mustCounter(name, desc string) metric.Int64Counter {
	c, err := meter.Int64Counter(name, metric.WithDescription(desc))
	if err != nil {
		otel.Handle(err)
	}
	return c
}
