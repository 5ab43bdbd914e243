package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys for depthstream telemetry.
const (
	AttrEnvironment = attribute.Key("environment")
	AttrVenue       = attribute.Key("venue")
	AttrInstrument  = attribute.Key("instrument")
	AttrState       = attribute.Key("connection.state")
	AttrFromState   = attribute.Key("connection.previous_state")
	AttrReason      = attribute.Key("reason")
)

// Drop reasons for MetricFramesDropped.
const (
	DropReasonNotBook   = "not_book"
	DropReasonUnchanged = "unchanged"
)

// FeedAttributes returns the attributes shared by every feed instrument.
func FeedAttributes(environment, venue, instrument string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrEnvironment.String(environment),
		AttrVenue.String(venue),
		AttrInstrument.String(instrument),
	}
}
