package outbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Shopify/sarama/mocks"
	"github.com/nakliyeci/carrier-jobs/internal/models"
	"github.com/nakliyeci/carrier-jobs/internal/repository/memory"
	"github.com/nakliyeci/carrier-jobs/pkg/circuitbreaker"
	"github.com/nakliyeci/carrier-jobs/pkg/kafka"
	"github.com/nakliyeci/carrier-jobs/pkg/logger"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// seedOutbox creates a job whose creation wrote one bid_won message
func seedOutbox(t *testing.T) *memory.Store {
	t.Helper()
	store := memory.NewStore()
	job := &models.ShipmentJob{
		ShipmentID: "shp-1",
		BrokerID:   "brk-1",
		Status:     models.JobStatusListed,
		PickupCity: "İstanbul",
		Version:    1,
		CreatedAt:  t0,
		UpdatedAt:  t0,
	}
	msg, err := models.NewJobTransitionEvent(job, "", "bid_won", t0)
	if err != nil {
		t.Fatalf("NewJobTransitionEvent() error = %v", err)
	}
	if err := store.CreateJob(context.Background(), job, msg); err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}
	return store
}

type handlerFunc func(ctx context.Context, msg *models.OutboxMessage) error

func (f handlerFunc) HandleMessage(ctx context.Context, msg *models.OutboxMessage) error {
	return f(ctx, msg)
}

func newTestProcessor(store *memory.Store, maxRetries int) *Processor {
	return NewProcessor(store, ProcessorConfig{
		PollingInterval: time.Second,
		BatchSize:       10,
		MaxRetries:      maxRetries,
	}, logger.NewNopLogger())
}

func onlyMessage(t *testing.T, store *memory.Store) models.OutboxMessage {
	t.Helper()
	msgs := store.OutboxMessages()
	if len(msgs) != 1 {
		t.Fatalf("outbox has %d messages, want 1", len(msgs))
	}
	return msgs[0]
}

func TestProcessBatchPublishes(t *testing.T) {
	store := seedOutbox(t)
	p := newTestProcessor(store, 3)

	var handled []string
	p.RegisterHandler("bid_won", handlerFunc(func(_ context.Context, msg *models.OutboxMessage) error {
		handled = append(handled, msg.AggregateID)
		return nil
	}))

	n, err := p.ProcessBatch(context.Background())
	if err != nil || n != 1 {
		t.Fatalf("ProcessBatch() = %d, %v; want 1", n, err)
	}
	if len(handled) != 1 || handled[0] != "shp-1" {
		t.Errorf("handled = %v", handled)
	}
	if msg := onlyMessage(t, store); msg.Status != models.OutboxStatusCompleted || msg.ProcessedAt == nil {
		t.Errorf("message = %s processed at %v", msg.Status, msg.ProcessedAt)
	}

	if n, _ := p.ProcessBatch(context.Background()); n != 0 {
		t.Errorf("second batch processed %d, want 0", n)
	}
}

func TestProcessBatchRetriesThenFails(t *testing.T) {
	store := seedOutbox(t)
	p := newTestProcessor(store, 2)
	p.SetDefaultHandler(handlerFunc(func(context.Context, *models.OutboxMessage) error {
		return errors.New("broker down")
	}))

	p.ProcessBatch(context.Background())
	msg := onlyMessage(t, store)
	if msg.Status != models.OutboxStatusPending || msg.ProcessingAttempts != 1 {
		t.Fatalf("after first failure = %s attempts %d, want pending attempts 1", msg.Status, msg.ProcessingAttempts)
	}
	if msg.LastError == nil || *msg.LastError != "broker down" {
		t.Errorf("last error = %v", msg.LastError)
	}

	p.ProcessBatch(context.Background())
	if msg := onlyMessage(t, store); msg.Status != models.OutboxStatusFailed {
		t.Errorf("after max retries = %s, want failed", msg.Status)
	}
}

func TestProcessBatchWithoutHandlerFails(t *testing.T) {
	store := seedOutbox(t)
	p := newTestProcessor(store, 3)

	if n, _ := p.ProcessBatch(context.Background()); n != 0 {
		t.Errorf("processed %d, want 0", n)
	}
	if msg := onlyMessage(t, store); msg.Status != models.OutboxStatusFailed {
		t.Errorf("status = %s, want failed", msg.Status)
	}
}

func TestProcessorStartStop(t *testing.T) {
	store := seedOutbox(t)
	p := NewProcessor(store, ProcessorConfig{PollingInterval: 5 * time.Millisecond}, logger.NewNopLogger())

	done := make(chan struct{}, 1)
	p.SetDefaultHandler(handlerFunc(func(context.Context, *models.OutboxMessage) error {
		select {
		case done <- struct{}{}:
		default:
		}
		return nil
	}))

	p.Start()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("processor never handled the message")
	}
	p.Stop()
	p.Stop()
}

type recordingPublisher struct {
	topic, key string
	headers    map[string]string
	err        error
	calls      int
}

func (r *recordingPublisher) SendMessage(_ context.Context, topic, key string, _ []byte, headers map[string]string) error {
	r.calls++
	r.topic, r.key, r.headers = topic, key, headers
	return r.err
}

func TestKafkaHandlerKeysByShipment(t *testing.T) {
	store := seedOutbox(t)
	msg := onlyMessage(t, store)
	pub := &recordingPublisher{}

	h := NewKafkaHandler(pub, "carrier-jobs", nil, logger.NewNopLogger())
	if err := h.HandleMessage(context.Background(), &msg); err != nil {
		t.Fatalf("HandleMessage() error = %v", err)
	}
	if pub.topic != "carrier-jobs" || pub.key != "shp-1" {
		t.Errorf("published to %s with key %s", pub.topic, pub.key)
	}
	if pub.headers["event_type"] != "bid_won" || pub.headers["aggregate_type"] != models.AggregateShipmentJob {
		t.Errorf("headers = %v", pub.headers)
	}
}

func TestKafkaHandlerStopsAtOpenBreaker(t *testing.T) {
	store := seedOutbox(t)
	msg := onlyMessage(t, store)
	pub := &recordingPublisher{err: errors.New("no brokers")}
	breaker := circuitbreaker.NewCircuitBreaker(circuitbreaker.CircuitBreakerConfig{
		FailureThreshold: 1,
		ResetTimeout:     time.Minute,
		HalfOpenMaxCalls: 1,
	})

	h := NewKafkaHandler(pub, "carrier-jobs", breaker, logger.NewNopLogger())
	if err := h.HandleMessage(context.Background(), &msg); err == nil {
		t.Fatal("expected publish error")
	}
	if err := h.HandleMessage(context.Background(), &msg); !errors.Is(err, circuitbreaker.ErrOpen) {
		t.Fatalf("error = %v, want ErrOpen", err)
	}
	if pub.calls != 1 {
		t.Errorf("publisher called %d times, want 1", pub.calls)
	}
}

func TestKafkaHandlerWithSaramaProducer(t *testing.T) {
	store := seedOutbox(t)
	msg := onlyMessage(t, store)

	mock := mocks.NewSyncProducer(t, kafka.NewProducerConfig())
	mock.ExpectSendMessageAndSucceed()
	producer := kafka.NewProducerWithClient(mock, logger.NewNopLogger())
	defer producer.Close()

	h := NewKafkaHandler(producer, "carrier-jobs", nil, logger.NewNopLogger())
	if err := h.HandleMessage(context.Background(), &msg); err != nil {
		t.Fatalf("HandleMessage() error = %v", err)
	}
}

func TestLoggingHandlerRejectsBadPayload(t *testing.T) {
	h := NewLoggingHandler(logger.NewNopLogger())

	if err := h.HandleMessage(context.Background(), &models.OutboxMessage{Payload: []byte("{")}); err == nil {
		t.Error("expected error for malformed payload")
	}

	store := seedOutbox(t)
	msg := onlyMessage(t, store)
	if err := h.HandleMessage(context.Background(), &msg); err != nil {
		t.Errorf("HandleMessage() error = %v", err)
	}
}
