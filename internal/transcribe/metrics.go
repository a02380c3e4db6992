package transcribe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

type instruments struct {
	requests      metric.Int64Counter
	duration      metric.Float64Histogram
	audioDuration metric.Float64Histogram
	active        metric.Int64UpDownCounter
}

func newInstruments(meter metric.Meter) (instruments, error) {
	var (
		inst instruments
		err  error
	)
	if inst.requests, err = meter.Int64Counter("scribe.requests", metric.WithDescription("Transcription requests by outcome")); err != nil {
		return noopInstruments(), err
	}
	if inst.duration, err = meter.Float64Histogram("scribe.request.duration", metric.WithDescription("End-to-end pipeline latency"), metric.WithUnit("s")); err != nil {
		return noopInstruments(), err
	}
	if inst.audioDuration, err = meter.Float64Histogram("scribe.audio.duration", metric.WithDescription("Duration of decoded uploads"), metric.WithUnit("s")); err != nil {
		return noopInstruments(), err
	}
	if inst.active, err = meter.Int64UpDownCounter("scribe.sessions.active", metric.WithDescription("Recognition sessions currently open")); err != nil {
		return noopInstruments(), err
	}
	return inst, nil
}

func noopInstruments() instruments {
	inst, _ := newInstruments(noop.NewMeterProvider().Meter("noop"))
	return inst
}

func (i instruments) record(ctx context.Context, outcome string, elapsed time.Duration) {
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	i.requests.Add(ctx, 1, attrs)
	i.duration.Record(ctx, elapsed.Seconds(), attrs)
}
