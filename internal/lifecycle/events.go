package lifecycle

// EventType names a proposal sent to the engine. The same names are used as
// outbox event types.
type EventType string

const (
	EventListingPublished EventType = "listing_published"
	EventOfferIssued      EventType = "offer_issued"
	EventBidWon           EventType = "bid_won"
	EventOfferWon         EventType = "offer_won"
	EventOfferRejected    EventType = "offer_rejected"
	EventOfferExpired     EventType = "offer_expired"
	EventWorkStarted      EventType = "work_started"
	EventWorkCompleted    EventType = "work_completed"
	EventCancelled        EventType = "cancelled"
)

// AllEventTypes lists every event type in transition-table order
var AllEventTypes = []EventType{
	EventListingPublished,
	EventOfferIssued,
	EventBidWon,
	EventOfferWon,
	EventOfferRejected,
	EventOfferExpired,
	EventWorkStarted,
	EventWorkCompleted,
	EventCancelled,
}

// Event is a proposed transition for one shipment
type Event struct {
	Type       EventType
	ShipmentID string
	// BrokerID is the publishing, offering or cancelling broker.
	BrokerID string
	// CarrierID is the winning or acting carrier.
	CarrierID    string
	PickupCity   string
	DeliveryCity string
	Price        *float64
	ListingID    string
	BidID        string
	OfferID      string
}
