package api

import (
	"time"

	"github.com/nakliyeci/carrier-jobs/internal/eligibility"
	"github.com/nakliyeci/carrier-jobs/internal/lifecycle"
	"github.com/nakliyeci/carrier-jobs/internal/models"
	"github.com/nakliyeci/carrier-jobs/internal/repository"
	"github.com/nakliyeci/carrier-jobs/internal/service"
	"github.com/nakliyeci/carrier-jobs/pkg/keylock"
	"github.com/nakliyeci/carrier-jobs/pkg/logger"
)

// Services groups the domain services behind the HTTP handlers
type Services struct {
	Listings *service.ListingService
	Bids     *service.BidService
	Offers   *service.OfferService
	Jobs     *service.JobService
	View     *service.CarrierViewService
}

// NewServices wires the domain services over stores. Listing and bid
// operations share one lock set so acceptance and closing serialise per
// listing. The engine and the services read time from the same clock; nil
// means the wall clock.
func NewServices(stores repository.Stores, directory service.CityDirectory, logger logger.Logger, clock models.Clock, offerTTL time.Duration) *Services {
	if clock == nil {
		clock = models.GetCurrentTime
	}
	opts := []service.Option{service.WithClock(clock), service.WithOfferTTL(offerTTL)}

	engine := lifecycle.NewEngine(stores.Jobs, logger.With("component", "lifecycle"), lifecycle.WithClock(clock))
	locks := keylock.New()

	listings := service.NewListingService(stores.Listings, stores.Bids, engine, locks, logger.With("component", "listings"), opts...)
	offers := service.NewOfferService(
		stores.Offers,
		engine,
		listings,
		eligibility.NewChecker(),
		directory,
		locks,
		logger.With("component", "offers"),
		opts...,
	)
	bids := service.NewBidService(stores.Bids, stores.Listings, engine, offers, locks, logger.With("component", "bids"), opts...)
	jobs := service.NewJobService(engine, listings, offers, logger.With("component", "jobs"))

	return &Services{
		Listings: listings,
		Bids:     bids,
		Offers:   offers,
		Jobs:     jobs,
		View:     service.NewCarrierViewService(offers, bids, stores.Jobs, logger.With("component", "carrier_view")),
	}
}
