package template

import (
	"context"

	"github.com/coachpo/depthstream/internal/schema"
)

// InstrumentSource discovers tradable instruments over a venue's REST API.
type InstrumentSource interface {
	Instruments(ctx context.Context) ([]schema.Instrument, error)
}
