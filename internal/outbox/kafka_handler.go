package outbox

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/nakliyeci/carrier-jobs/internal/models"
	"github.com/nakliyeci/carrier-jobs/pkg/circuitbreaker"
	"github.com/nakliyeci/carrier-jobs/pkg/logger"
)

// Publisher sends one keyed message to a topic
type Publisher interface {
	SendMessage(ctx context.Context, topic, key string, value []byte, headers map[string]string) error
}

// KafkaHandler publishes outbox messages to Kafka
type KafkaHandler struct {
	producer Publisher
	topic    string
	breaker  *circuitbreaker.CircuitBreaker
	logger   logger.Logger
}

// NewKafkaHandler creates a new KafkaHandler. breaker may be nil.
func NewKafkaHandler(producer Publisher, topic string, breaker *circuitbreaker.CircuitBreaker, logger logger.Logger) *KafkaHandler {
	return &KafkaHandler{
		producer: producer,
		topic:    topic,
		breaker:  breaker,
		logger:   logger,
	}
}

// HandleMessage publishes message keyed by shipment id so one shipment's
// events stay ordered on one partition
func (h *KafkaHandler) HandleMessage(ctx context.Context, message *models.OutboxMessage) error {
	headers := map[string]string{
		"event_type":     message.EventType,
		"aggregate_type": message.AggregateType,
		"outbox_id":      strconv.FormatInt(message.ID, 10),
	}

	send := func() error {
		return h.producer.SendMessage(ctx, h.topic, message.AggregateID, message.Payload, headers)
	}

	var err error
	if h.breaker != nil {
		err = h.breaker.Execute(send)
	} else {
		err = send()
	}

	if errors.Is(err, circuitbreaker.ErrOpen) {
		h.logger.Warn("Kafka circuit open, deferring message", "messageID", message.ID)
		return err
	}
	if err != nil {
		h.logger.Error("Failed to publish message to Kafka",
			"error", err,
			"messageID", message.ID,
			"aggregateID", message.AggregateID)
		return fmt.Errorf("failed to publish message to Kafka: %w", err)
	}

	h.logger.Debug("Published message to Kafka",
		"topic", h.topic,
		"messageID", message.ID,
		"aggregateID", message.AggregateID,
		"eventType", message.EventType)

	return nil
}
