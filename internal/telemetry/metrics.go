package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// MeterName is the instrumentation scope for chatlift metrics.
const MeterName = "chatlift"

// Metrics holds the extraction instruments.
type Metrics struct {
	MessagesExtracted  metric.Int64Counter
	ReactionsFolded    metric.Int64Counter
	RepliesUnresolved  metric.Int64Counter
	AttachmentsFound   metric.Int64Counter
	AttachmentsCopied  metric.Int64Counter
	AttachmentsMissing metric.Int64Counter
	Thumbnails         metric.Int64Counter
	Transcriptions     metric.Int64Counter
	RowErrors          metric.Int64Counter
	ExtractionDuration metric.Float64Histogram
}

// NewMetrics creates all metric instruments from the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&m.MessagesExtracted, "chatlift.messages", "Canonical messages emitted"},
		{&m.ReactionsFolded, "chatlift.reactions.folded", "Reaction rows folded into a parent message"},
		{&m.RepliesUnresolved, "chatlift.replies.unresolved", "Reply references whose parent was not emitted"},
		{&m.AttachmentsFound, "chatlift.attachments.found", "Attachment binaries located on disk"},
		{&m.AttachmentsCopied, "chatlift.attachments.copied", "Attachment binaries written to the content store"},
		{&m.AttachmentsMissing, "chatlift.attachments.missing", "Attachment binaries that could not be located"},
		{&m.Thumbnails, "chatlift.thumbnails", "Image thumbnails generated"},
		{&m.Transcriptions, "chatlift.transcriptions", "Audio attachments transcribed"},
		{&m.RowErrors, "chatlift.row.errors", "Row-local problems recorded in the report"},
	}
	for _, c := range counters {
		inst, err := meter.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return nil, fmt.Errorf("creating %s: %w", c.name, err)
		}
		*c.dst = inst
	}

	var err error
	m.ExtractionDuration, err = meter.Float64Histogram("chatlift.extraction.duration",
		metric.WithDescription("Wall time of one extraction run in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// NoopMetrics returns instruments that record nothing.
func NoopMetrics() *Metrics {
	m, _ := NewMetrics(noop.NewMeterProvider().Meter(MeterName))
	return m
}

// Provider is an in-process meter provider whose readings can be pulled
// with Snapshot, e.g. to append them to metrics.jsonl at the end of a run.
type Provider struct {
	Meter   metric.Meter
	Metrics *Metrics

	mp     *sdkmetric.MeterProvider
	reader *sdkmetric.ManualReader
}

// NewProvider builds an SDK meter provider backed by a manual reader.
func NewProvider() (*Provider, error) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	meter := mp.Meter(MeterName)
	m, err := NewMetrics(meter)
	if err != nil {
		return nil, err
	}
	return &Provider{Meter: meter, Metrics: m, mp: mp, reader: reader}, nil
}

// Snapshot collects the current value of every instrument. Counters report
// their sum and histograms report the sum of observations, keyed by name.
func (p *Provider) Snapshot(ctx context.Context) (map[string]float64, error) {
	var rm metricdata.ResourceMetrics
	if err := p.reader.Collect(ctx, &rm); err != nil {
		return nil, fmt.Errorf("collecting metrics: %w", err)
	}
	out := make(map[string]float64)
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			switch data := md.Data.(type) {
			case metricdata.Sum[int64]:
				var total int64
				for _, dp := range data.DataPoints {
					total += dp.Value
				}
				out[md.Name] = float64(total)
			case metricdata.Histogram[float64]:
				var total float64
				for _, dp := range data.DataPoints {
					total += dp.Sum
				}
				out[md.Name] = total
			}
		}
	}
	return out, nil
}

// Shutdown flushes and stops the provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	return p.mp.Shutdown(ctx)
}
