package realtime

import "go.opentelemetry.io/otel"

const scopeName = "github.com/ent0n29/screener/internal/realtime"

var tracer = otel.Tracer(scopeName)
