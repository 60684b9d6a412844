package models

import (
	"encoding/json"
	"time"
)

// OutboxStatus represents the status of an outbox message
type OutboxStatus string

const (
	OutboxStatusPending    OutboxStatus = "pending"
	OutboxStatusProcessing OutboxStatus = "processing"
	OutboxStatusCompleted  OutboxStatus = "completed"
	OutboxStatusFailed     OutboxStatus = "failed"
)

// AggregateShipmentJob is the aggregate type of lifecycle events
const AggregateShipmentJob = "shipment_job"

// OutboxMessage represents a message to be published from the outbox table
type OutboxMessage struct {
	ID                 int64        `db:"id" json:"id"`
	AggregateType      string       `db:"aggregate_type" json:"aggregate_type"`
	AggregateID        string       `db:"aggregate_id" json:"aggregate_id"`
	EventType          string       `db:"event_type" json:"event_type"`
	Payload            []byte       `db:"payload" json:"payload"`
	CreatedAt          time.Time    `db:"created_at" json:"created_at"`
	ProcessedAt        *time.Time   `db:"processed_at" json:"processed_at,omitempty"`
	ProcessingAttempts int          `db:"processing_attempts" json:"processing_attempts"`
	LastError          *string      `db:"last_error" json:"last_error,omitempty"`
	Status             OutboxStatus `db:"status" json:"status"`
}

// OutboxMessageEvent is the envelope serialised into an outbox payload
type OutboxMessageEvent struct {
	EventType   string      `json:"event_type"`
	EventID     string      `json:"event_id"`
	AggregateID string      `json:"aggregate_id"`
	OccurredAt  time.Time   `json:"occurred_at"`
	Data        interface{} `json:"data"`
}

// JobTransition is the data of a lifecycle event
type JobTransition struct {
	ShipmentID     string    `json:"shipment_id"`
	BrokerID       string    `json:"broker_id"`
	OldStatus      JobStatus `json:"old_status,omitempty"`
	NewStatus      JobStatus `json:"new_status"`
	BoundCarrierID *string   `json:"bound_carrier_id,omitempty"`
	BoundVia       *BoundVia `json:"bound_via,omitempty"`
	Price          *float64  `json:"price,omitempty"`
	Version        int64     `json:"version"`
}

// NewJobTransitionEvent builds the outbox message recording a job transition
func NewJobTransitionEvent(job *ShipmentJob, oldStatus JobStatus, eventType string, now time.Time) (*OutboxMessage, error) {
	event := OutboxMessageEvent{
		EventType:   eventType,
		EventID:     GenerateID("evt"),
		AggregateID: job.ShipmentID,
		OccurredAt:  now,
		Data: JobTransition{
			ShipmentID:     job.ShipmentID,
			BrokerID:       job.BrokerID,
			OldStatus:      oldStatus,
			NewStatus:      job.Status,
			BoundCarrierID: job.BoundCarrierID,
			BoundVia:       job.BoundVia,
			Price:          job.Price,
			Version:        job.Version,
		},
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return nil, err
	}

	return &OutboxMessage{
		AggregateType: AggregateShipmentJob,
		AggregateID:   job.ShipmentID,
		EventType:     eventType,
		Payload:       payload,
		CreatedAt:     now,
		Status:        OutboxStatusPending,
	}, nil
}
