package models

import (
	"time"
)

// DefaultOfferTTL is how long a carrier has to answer an assignment offer
const DefaultOfferTTL = 30 * time.Minute

// OfferStatus represents the status of an assignment offer
type OfferStatus string

const (
	OfferStatusPending  OfferStatus = "pending"
	OfferStatusAccepted OfferStatus = "accepted"
	OfferStatusRejected OfferStatus = "rejected"
	OfferStatusExpired  OfferStatus = "expired"
)

// AssignmentOffer is a broker's exclusive, time-boxed offer to one carrier
type AssignmentOffer struct {
	ID         string      `db:"id" json:"id"`
	ShipmentID string      `db:"shipment_id" json:"shipment_id"`
	BrokerID   string      `db:"broker_id" json:"broker_id"`
	CarrierID  string      `db:"carrier_id" json:"carrier_id"`
	PickupCity string      `db:"pickup_city" json:"pickup_city"`
	Price      float64     `db:"price" json:"price"`
	IssuedAt   time.Time   `db:"issued_at" json:"issued_at"`
	ExpiresAt  time.Time   `db:"expires_at" json:"expires_at"`
	Status     OfferStatus `db:"status" json:"status"`
	Reason     *string     `db:"reason" json:"reason,omitempty"`
	ResolvedAt *time.Time  `db:"resolved_at" json:"resolved_at,omitempty"`
}

// EffectiveStatus derives the status at now. A pending offer whose expiry has
// passed is expired whether or not the sweep has recorded it yet.
func (o *AssignmentOffer) EffectiveStatus(now time.Time) OfferStatus {
	if o.Status == OfferStatusPending && !now.Before(o.ExpiresAt) {
		return OfferStatusExpired
	}
	return o.Status
}

// NewAssignmentOffer creates a pending offer expiring ttl after now
func NewAssignmentOffer(shipmentID, brokerID, carrierID, pickupCity string, price float64, now time.Time, ttl time.Duration) *AssignmentOffer {
	return &AssignmentOffer{
		ID:         GenerateID("ofr"),
		ShipmentID: shipmentID,
		BrokerID:   brokerID,
		CarrierID:  carrierID,
		PickupCity: pickupCity,
		Price:      price,
		IssuedAt:   now,
		ExpiresAt:  now.Add(ttl),
		Status:     OfferStatusPending,
	}
}
