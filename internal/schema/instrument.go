package schema

import "github.com/shopspring/decimal"

// Instrument describes a tradable instrument discovered from a venue's REST API.
// Only collaborators such as the impact estimator and the command line consult it.
type Instrument struct {
	Venue         Venue           `json:"venue"`
	ID            string          `json:"id"`
	BaseCurrency  string          `json:"baseCurrency"`
	QuoteCurrency string          `json:"quoteCurrency"`
	TickSize      decimal.Decimal `json:"tickSize"`
	LotSize       decimal.Decimal `json:"lotSize"`
}
