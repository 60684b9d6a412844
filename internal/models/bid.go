package models

import (
	"time"
)

// BidStatus represents the status of a bid
type BidStatus string

const (
	BidStatusPending   BidStatus = "pending"
	BidStatusAccepted  BidStatus = "accepted"
	BidStatusRejected  BidStatus = "rejected"
	BidStatusCancelled BidStatus = "cancelled"
)

// Bid is a carrier's priced claim against a listing
type Bid struct {
	ID        string    `db:"id" json:"id"`
	ListingID string    `db:"listing_id" json:"listing_id"`
	CarrierID string    `db:"carrier_id" json:"carrier_id"`
	Price     float64   `db:"price" json:"bid_price"`
	ETAHours  *float64  `db:"eta_hours" json:"eta_hours,omitempty"`
	Status    BidStatus `db:"status" json:"status"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// IsActive reports whether the bid still counts against the one-bid-per-listing rule
func (b *Bid) IsActive() bool {
	return b.Status == BidStatusPending || b.Status == BidStatusAccepted
}

// NewBid creates a pending bid
func NewBid(listingID, carrierID string, price float64, etaHours *float64, now time.Time) *Bid {
	return &Bid{
		ID:        GenerateID("bid"),
		ListingID: listingID,
		CarrierID: carrierID,
		Price:     price,
		ETAHours:  etaHours,
		Status:    BidStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}
