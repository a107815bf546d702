package evaluation

import "go.opentelemetry.io/otel"

const scopeName = "github.com/ent0n29/screener/internal/evaluation"

var tracer = otel.Tracer(scopeName)
