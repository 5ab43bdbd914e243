package adapters

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coachpo/depthstream/internal/adapters/shared"
	"github.com/coachpo/depthstream/internal/schema"
)

func TestDefaultRegistryBuildsEveryVenue(t *testing.T) {
	reg := Default()
	for _, venue := range schema.Venues() {
		adapter, err := reg.New(venue, shared.Options{})
		require.NoError(t, err)
		require.Equal(t, venue, adapter.Venue())
		require.NotEmpty(t, adapter.Endpoint())
	}
}

func TestRegistryUnknownVenue(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.New(schema.VenueOKX, shared.Options{})
	require.Error(t, err)

	RegisterAll(nil)
	var nilReg *Registry
	nilReg.Register(schema.VenueOKX, nil)
}
