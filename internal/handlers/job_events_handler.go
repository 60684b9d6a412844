package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/Shopify/sarama"
	"github.com/nakliyeci/carrier-jobs/internal/lifecycle"
	"github.com/nakliyeci/carrier-jobs/internal/models"
	"github.com/nakliyeci/carrier-jobs/pkg/logger"
)

// jobEvent is the published envelope with its data left undecoded
type jobEvent struct {
	EventType   string          `json:"event_type"`
	EventID     string          `json:"event_id"`
	AggregateID string          `json:"aggregate_id"`
	OccurredAt  time.Time       `json:"occurred_at"`
	Data        json.RawMessage `json:"data"`
}

// JobEventsHandler audits lifecycle events read back from Kafka. Each
// shipment's versions must arrive in increasing order; redeliveries are skipped.
type JobEventsHandler struct {
	logger   logger.Logger
	mu       sync.Mutex
	versions map[string]int64
	counts   map[string]int
	skipped  int
}

// NewJobEventsHandler creates a new JobEventsHandler
func NewJobEventsHandler(logger logger.Logger) *JobEventsHandler {
	return &JobEventsHandler{
		logger:   logger,
		versions: make(map[string]int64),
		counts:   make(map[string]int),
	}
}

// HandleMessage handles one lifecycle event
func (h *JobEventsHandler) HandleMessage(ctx context.Context, msg *sarama.ConsumerMessage) error {
	var event jobEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		h.logger.Error("Failed to unmarshal lifecycle event", "error", err, "offset", msg.Offset)
		return fmt.Errorf("failed to unmarshal message: %w", err)
	}

	if !knownEvent(event.EventType) {
		h.logger.Warn("Unknown lifecycle event type", "eventType", event.EventType, "eventID", event.EventID)
		return nil
	}

	var transition models.JobTransition
	if err := json.Unmarshal(event.Data, &transition); err != nil {
		return fmt.Errorf("failed to decode %s data: %w", event.EventType, err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if last, seen := h.versions[transition.ShipmentID]; seen && transition.Version <= last {
		h.skipped++
		h.logger.Debug("Skipping stale lifecycle event",
			"shipmentID", transition.ShipmentID,
			"version", transition.Version,
			"lastVersion", last)
		return nil
	}
	h.versions[transition.ShipmentID] = transition.Version
	h.counts[event.EventType]++

	h.logger.Info("Lifecycle event audited",
		"eventType", event.EventType,
		"eventID", event.EventID,
		"shipmentID", transition.ShipmentID,
		"oldStatus", transition.OldStatus,
		"newStatus", transition.NewStatus,
		"version", transition.Version,
		"partition", msg.Partition,
		"offset", msg.Offset)

	return nil
}

// Stats returns how many events of each type were audited and how many were skipped
func (h *JobEventsHandler) Stats() (map[string]int, int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	counts := make(map[string]int, len(h.counts))
	for k, v := range h.counts {
		counts[k] = v
	}
	return counts, h.skipped
}

func knownEvent(eventType string) bool {
	for _, t := range lifecycle.AllEventTypes {
		if string(t) == eventType {
			return true
		}
	}
	return false
}
