package clients

import (
	"context"

	"github.com/nakliyeci/carrier-jobs/pkg/apperrors"
)

// StaticDirectory serves registered cities from a fixed map, for local runs
type StaticDirectory struct {
	cities map[string]string
}

// NewStaticDirectory creates a directory over carrier id to city pairs
func NewStaticDirectory(cities map[string]string) *StaticDirectory {
	copied := make(map[string]string, len(cities))
	for id, city := range cities {
		copied[id] = city
	}
	return &StaticDirectory{cities: copied}
}

// RegisteredCity returns the carrier's city or a not found error
func (d *StaticDirectory) RegisteredCity(_ context.Context, carrierID string) (string, error) {
	city, ok := d.cities[carrierID]
	if !ok || city == "" {
		return "", apperrors.NewNotFoundError("carrier profile not found").
			WithContext("carrier_id", carrierID)
	}
	return city, nil
}
