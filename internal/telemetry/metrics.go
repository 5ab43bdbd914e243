package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Instrument names.
const (
	MetricFramesReceived     = "feed.frames.received"
	MetricFramesDropped      = "feed.frames.dropped"
	MetricSnapshotsPublished = "feed.snapshots.published"
	MetricReconnects         = "feed.reconnects"
	MetricStateTransitions   = "feed.state.transitions"
	MetricPublishLatency     = "feed.publish.latency"
)

// FeedMetrics records per-feed counters. A nil *FeedMetrics discards everything.
type FeedMetrics struct {
	attrs attribute.Set

	framesReceived   metric.Int64Counter
	framesDropped    metric.Int64Counter
	published        metric.Int64Counter
	reconnects       metric.Int64Counter
	stateTransitions metric.Int64Counter
	publishLatency   metric.Float64Histogram
}

// NewFeedMetrics creates the feed instruments on meter. attrs are attached to every recording.
func NewFeedMetrics(meter metric.Meter, attrs ...attribute.KeyValue) (*FeedMetrics, error) {
	m := &FeedMetrics{attrs: attribute.NewSet(attrs...)}
	var err error
	if m.framesReceived, err = meter.Int64Counter(MetricFramesReceived,
		metric.WithDescription("Raw frames read from the venue transport"), metric.WithUnit("{frame}")); err != nil {
		return nil, fmt.Errorf("create %s: %w", MetricFramesReceived, err)
	}
	if m.framesDropped, err = meter.Int64Counter(MetricFramesDropped,
		metric.WithDescription("Frames that produced no book change"), metric.WithUnit("{frame}")); err != nil {
		return nil, fmt.Errorf("create %s: %w", MetricFramesDropped, err)
	}
	if m.published, err = meter.Int64Counter(MetricSnapshotsPublished,
		metric.WithDescription("Book snapshots published to listeners"), metric.WithUnit("{snapshot}")); err != nil {
		return nil, fmt.Errorf("create %s: %w", MetricSnapshotsPublished, err)
	}
	if m.reconnects, err = meter.Int64Counter(MetricReconnects,
		metric.WithDescription("Reconnect attempts scheduled after abnormal closures"), metric.WithUnit("{attempt}")); err != nil {
		return nil, fmt.Errorf("create %s: %w", MetricReconnects, err)
	}
	if m.stateTransitions, err = meter.Int64Counter(MetricStateTransitions,
		metric.WithDescription("Connection state changes"), metric.WithUnit("{transition}")); err != nil {
		return nil, fmt.Errorf("create %s: %w", MetricStateTransitions, err)
	}
	if m.publishLatency, err = meter.Float64Histogram(MetricPublishLatency,
		metric.WithDescription("Delay between the first unpublished book change and its publication"), metric.WithUnit("ms")); err != nil {
		return nil, fmt.Errorf("create %s: %w", MetricPublishLatency, err)
	}
	return m, nil
}

func (m *FeedMetrics) with(extra ...attribute.KeyValue) metric.MeasurementOption {
	if len(extra) == 0 {
		return metric.WithAttributeSet(m.attrs)
	}
	kvs := append(m.attrs.ToSlice(), extra...)
	return metric.WithAttributes(kvs...)
}

// FrameReceived counts one inbound frame.
func (m *FeedMetrics) FrameReceived(ctx context.Context) {
	if m == nil {
		return
	}
	m.framesReceived.Add(ctx, 1, m.with())
}

// FrameDropped counts a frame that did not change the book.
func (m *FeedMetrics) FrameDropped(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.framesDropped.Add(ctx, 1, m.with(AttrReason.String(reason)))
}

// SnapshotPublished counts a publication and records how long the change waited.
func (m *FeedMetrics) SnapshotPublished(ctx context.Context, waited time.Duration) {
	if m == nil {
		return
	}
	m.published.Add(ctx, 1, m.with())
	m.publishLatency.Record(ctx, float64(waited)/float64(time.Millisecond), m.with())
}

// ReconnectScheduled counts a scheduled reconnect.
func (m *FeedMetrics) ReconnectScheduled(ctx context.Context) {
	if m == nil {
		return
	}
	m.reconnects.Add(ctx, 1, m.with())
}

// StateChanged counts a connection state change.
func (m *FeedMetrics) StateChanged(ctx context.Context, from, to string) {
	if m == nil {
		return
	}
	m.stateTransitions.Add(ctx, 1, m.with(AttrFromState.String(from), AttrState.String(to)))
}
