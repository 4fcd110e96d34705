package telemetry

import "go.opentelemetry.io/otel/metric"

// Metrics holds the instruments recorded by the worker and the pipeline.
type Metrics struct {
	EventsReceived  metric.Int64Counter
	EventsDuplicate metric.Int64Counter
	EventsAcked     metric.Int64Counter
	HandlerFailures metric.Int64Counter
	HandlerDuration metric.Float64Histogram
	CommitDuration  metric.Float64Histogram
	CommitOutcomes  metric.Int64Counter
	Published       metric.Int64Counter
}

// NewMetrics creates every instrument on meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.EventsReceived, err = meter.Int64Counter("drey.worker.events.received",
		metric.WithDescription("Stream entries delivered to the worker"),
	)
	if err != nil {
		return nil, err
	}

	m.EventsDuplicate, err = meter.Int64Counter("drey.worker.events.duplicate",
		metric.WithDescription("Entries skipped because their idempotency key was already seen"),
	)
	if err != nil {
		return nil, err
	}

	m.EventsAcked, err = meter.Int64Counter("drey.worker.events.acked",
		metric.WithDescription("Entries acknowledged on the stream"),
	)
	if err != nil {
		return nil, err
	}

	m.HandlerFailures, err = meter.Int64Counter("drey.worker.handler.failures",
		metric.WithDescription("Handler invocations that returned an error or panicked"),
	)
	if err != nil {
		return nil, err
	}

	m.HandlerDuration, err = meter.Float64Histogram("drey.worker.handler.duration",
		metric.WithDescription("Handler duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.CommitDuration, err = meter.Float64Histogram("drey.commit.duration",
		metric.WithDescription("Dual-write commit duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.CommitOutcomes, err = meter.Int64Counter("drey.commit.outcomes",
		metric.WithDescription("Dual-write commits by outcome"),
	)
	if err != nil {
		return nil, err
	}

	m.Published, err = meter.Int64Counter("drey.events.published",
		metric.WithDescription("Events appended to the stream"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

// NoopMetrics returns instruments that record nothing.
func NoopMetrics() *Metrics {
	m, err := NewMetrics(Disabled().Meter)
	if err != nil {
		// the noop meter never fails to create instruments
		panic(err)
	}
	return m
}
