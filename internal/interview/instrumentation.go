package interview

import "go.opentelemetry.io/otel"

const scopeName = "github.com/ent0n29/screener/internal/interview"

var tracer = otel.Tracer(scopeName)
