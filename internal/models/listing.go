package models

import (
	"time"
)

// ListingStatus represents the status of a listing
type ListingStatus string

const (
	ListingStatusOpen   ListingStatus = "open"
	ListingStatusClosed ListingStatus = "closed"
)

// Listing is a shipment published for competitive bidding
type Listing struct {
	ID              string        `db:"id" json:"id"`
	ShipmentID      string        `db:"shipment_id" json:"shipment_id"`
	BrokerID        string        `db:"broker_id" json:"broker_id"`
	PickupCity      string        `db:"pickup_city" json:"pickup_city"`
	DeliveryCity    string        `db:"delivery_city" json:"delivery_city"`
	PickupCityKey   string        `db:"pickup_city_key" json:"-"`
	DeliveryCityKey string        `db:"delivery_city_key" json:"-"`
	BudgetCeiling   *float64      `db:"budget_ceiling" json:"budget_ceiling,omitempty"`
	Status          ListingStatus `db:"status" json:"status"`
	CreatedAt       time.Time     `db:"created_at" json:"created_at"`
	ClosedAt        *time.Time    `db:"closed_at" json:"closed_at,omitempty"`
}

// IsOpen reports whether the listing still accepts bids
func (l *Listing) IsOpen() bool {
	return l.Status == ListingStatusOpen
}

// ListingFilter narrows open listings by normalised city keys. Empty fields match everything.
type ListingFilter struct {
	FromCityKey string
	ToCityKey   string
}

// Matches reports whether l passes the filter
func (f ListingFilter) Matches(l *Listing) bool {
	if f.FromCityKey != "" && l.PickupCityKey != f.FromCityKey {
		return false
	}
	if f.ToCityKey != "" && l.DeliveryCityKey != f.ToCityKey {
		return false
	}
	return true
}
