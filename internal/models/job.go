package models

import (
	"time"
)

// JobStatus represents the lifecycle status of a shipment job
type JobStatus string

const (
	JobStatusListed            JobStatus = "listed"
	JobStatusAssignmentOffered JobStatus = "assignment_offered"
	JobStatusAccepted          JobStatus = "accepted"
	JobStatusInProgress        JobStatus = "in_progress"
	JobStatusCompleted         JobStatus = "completed"
	JobStatusCancelled         JobStatus = "cancelled"
)

// IsBinding reports whether the status can no longer be claimed by another carrier
func (s JobStatus) IsBinding() bool {
	switch s {
	case JobStatusAccepted, JobStatusInProgress, JobStatusCompleted, JobStatusCancelled:
		return true
	}
	return false
}

// BoundVia records which path bound the carrier
type BoundVia string

const (
	BoundViaBid   BoundVia = "bid"
	BoundViaOffer BoundVia = "offer"
)

// ShipmentJob is the authoritative lifecycle record of one shipment
type ShipmentJob struct {
	ShipmentID     string     `db:"shipment_id" json:"shipment_id"`
	BrokerID       string     `db:"broker_id" json:"broker_id"`
	BoundCarrierID *string    `db:"bound_carrier_id" json:"bound_carrier_id,omitempty"`
	BoundVia       *BoundVia  `db:"bound_via" json:"bound_via,omitempty"`
	Status         JobStatus  `db:"status" json:"status"`
	PickupCity     string     `db:"pickup_city" json:"pickup_city"`
	DeliveryCity   string     `db:"delivery_city" json:"delivery_city,omitempty"`
	Price          *float64   `db:"price" json:"price,omitempty"`
	Version        int64      `db:"version" json:"version"`
	ListedAt       *time.Time `db:"listed_at" json:"listed_at,omitempty"`
	OfferedAt      *time.Time `db:"offered_at" json:"offered_at,omitempty"`
	AcceptedAt     *time.Time `db:"accepted_at" json:"accepted_at,omitempty"`
	StartedAt      *time.Time `db:"started_at" json:"started_at,omitempty"`
	CompletedAt    *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	CancelledAt    *time.Time `db:"cancelled_at" json:"cancelled_at,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
}

// IsBoundTo reports whether carrierID is the job's bound carrier
func (j *ShipmentJob) IsBoundTo(carrierID string) bool {
	return j.BoundCarrierID != nil && *j.BoundCarrierID == carrierID
}

// Clone returns a copy safe to mutate without touching the original's pointers
func (j *ShipmentJob) Clone() *ShipmentJob {
	c := *j
	c.BoundCarrierID = clonePtr(j.BoundCarrierID)
	c.BoundVia = clonePtr(j.BoundVia)
	c.Price = clonePtr(j.Price)
	c.ListedAt = clonePtr(j.ListedAt)
	c.OfferedAt = clonePtr(j.OfferedAt)
	c.AcceptedAt = clonePtr(j.AcceptedAt)
	c.StartedAt = clonePtr(j.StartedAt)
	c.CompletedAt = clonePtr(j.CompletedAt)
	c.CancelledAt = clonePtr(j.CancelledAt)
	return &c
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
