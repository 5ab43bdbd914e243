// Package schema defines the venue-agnostic order-book types shared across depthstream.
package schema

import (
	"fmt"
	"strings"
)

// Venue identifies one of the supported trading venues.
type Venue string

const (
	// VenueOKX is the OKX public websocket venue.
	VenueOKX Venue = "OKX"
	// VenueBybit is the Bybit spot public websocket venue.
	VenueBybit Venue = "Bybit"
	// VenueDeribit is the Deribit JSON-RPC websocket venue.
	VenueDeribit Venue = "Deribit"
)

// Venues lists every supported venue in display order.
func Venues() []Venue {
	return []Venue{VenueOKX, VenueBybit, VenueDeribit}
}

// ParseVenue resolves a case-insensitive venue name.
func ParseVenue(name string) (Venue, error) {
	trimmed := strings.TrimSpace(name)
	for _, v := range Venues() {
		if strings.EqualFold(string(v), trimmed) {
			return v, nil
		}
	}
	return "", fmt.Errorf("unsupported venue %q", name)
}

// Key returns the lower-case identifier used for config keys and metric labels.
func (v Venue) Key() string {
	return strings.ToLower(string(v))
}

func (v Venue) String() string {
	return string(v)
}
