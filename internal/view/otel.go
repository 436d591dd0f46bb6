package view

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/titanmap/tracker/internal/view"

func meter() metric.Meter {
	return otel.Meter(instrumentationName)
}
