package llm

import "go.opentelemetry.io/otel"

const scopeName = "github.com/zulandar/gavel/internal/llm"

var tracer = otel.Tracer(scopeName)
