package credential

import "go.opentelemetry.io/otel"

const scopeName = "github.com/ent0n29/screener/internal/credential"

var tracer = otel.Tracer(scopeName)
