package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Standard error types
var (
	ErrNotFound           = errors.New("resource not found")
	ErrInvalidInput       = errors.New("invalid input")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrConflict           = errors.New("resource conflict")
	ErrInternal           = errors.New("internal server error")
	ErrTemporaryFailure   = errors.New("temporary failure")
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrTimeout            = errors.New("timeout")
	ErrRateLimited        = errors.New("rate limited")
)

// Lifecycle error kinds
var (
	ErrInvalidListing       = errors.New("invalid listing")
	ErrBudgetExceeded       = errors.New("budget exceeded")
	ErrListingClosed        = errors.New("listing closed")
	ErrDuplicateBid         = errors.New("duplicate bid")
	ErrInvalidBidState      = errors.New("invalid bid state")
	ErrOfferAlreadyActive   = errors.New("offer already active")
	ErrOfferExpired         = errors.New("offer expired")
	ErrOfferAlreadyResolved = errors.New("offer already resolved")
	ErrCityMismatch         = errors.New("city mismatch")
	ErrAlreadyBound         = errors.New("already bound")
	ErrNotBound             = errors.New("not bound")
	ErrInvalidTransition    = errors.New("invalid transition")
)

// AppError represents a structured application error with context
type AppError struct {
	Err        error
	Code       string
	StatusCode int
	Message    string
	Retryable  bool
	Context    map[string]interface{}
}

// Error returns the error message
func (e *AppError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Err.Error()
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Err
}

// WithContext adds additional context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// NewAppError creates a new AppError with the given parameters
func NewAppError(err error, message string, statusCode int, retryable bool) *AppError {
	return &AppError{
		Err:        err,
		Code:       codeFor(err),
		Message:    message,
		StatusCode: statusCode,
		Retryable:  retryable,
		Context:    make(map[string]interface{}),
	}
}

var codes = map[error]string{
	ErrNotFound:             "NOT_FOUND",
	ErrInvalidInput:         "INVALID_INPUT",
	ErrUnauthorized:         "UNAUTHORIZED",
	ErrForbidden:            "FORBIDDEN",
	ErrConflict:             "CONFLICT",
	ErrInternal:             "INTERNAL",
	ErrTemporaryFailure:     "TEMPORARY_FAILURE",
	ErrServiceUnavailable:   "SERVICE_UNAVAILABLE",
	ErrTimeout:              "TIMEOUT",
	ErrRateLimited:          "RATE_LIMITED",
	ErrInvalidListing:       "INVALID_LISTING",
	ErrBudgetExceeded:       "BUDGET_EXCEEDED",
	ErrListingClosed:        "LISTING_CLOSED",
	ErrDuplicateBid:         "DUPLICATE_BID",
	ErrInvalidBidState:      "INVALID_BID_STATE",
	ErrOfferAlreadyActive:   "OFFER_ALREADY_ACTIVE",
	ErrOfferExpired:         "OFFER_EXPIRED",
	ErrOfferAlreadyResolved: "OFFER_ALREADY_RESOLVED",
	ErrCityMismatch:         "CITY_MISMATCH",
	ErrAlreadyBound:         "ALREADY_BOUND",
	ErrNotBound:             "NOT_BOUND",
	ErrInvalidTransition:    "INVALID_TRANSITION",
}

func codeFor(err error) string {
	if code, ok := codes[err]; ok {
		return code
	}
	return "ERROR"
}

// IsRetryable checks if the error is retryable
func IsRetryable(err error) bool {
	var appErr *AppError

	if errors.As(err, &appErr) {
		return appErr.Retryable
	}

	return errors.Is(err, ErrTemporaryFailure) ||
		errors.Is(err, ErrServiceUnavailable) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrRateLimited)
}

// StatusCode returns the HTTP status carried by err, or 500
func StatusCode(err error) int {
	var appErr *AppError

	if errors.As(err, &appErr) && appErr.StatusCode != 0 {
		return appErr.StatusCode
	}
	return http.StatusInternalServerError
}

// NewNotFoundError creates a not found error
func NewNotFoundError(message string) *AppError {
	return NewAppError(ErrNotFound, message, http.StatusNotFound, false)
}

// NewInvalidInputError creates an invalid input error
func NewInvalidInputError(message string) *AppError {
	return NewAppError(ErrInvalidInput, message, http.StatusBadRequest, false)
}

// NewUnauthorizedError creates an unauthorized error
func NewUnauthorizedError(message string) *AppError {
	return NewAppError(ErrUnauthorized, message, http.StatusUnauthorized, false)
}

// NewForbiddenError creates a forbidden error
func NewForbiddenError(message string) *AppError {
	return NewAppError(ErrForbidden, message, http.StatusForbidden, false)
}

// NewConflictError creates a conflict error
func NewConflictError(message string) *AppError {
	return NewAppError(ErrConflict, message, http.StatusConflict, false)
}

// NewInternalError creates an internal server error
func NewInternalError(message string) *AppError {
	return NewAppError(ErrInternal, message, http.StatusInternalServerError, true)
}

// NewTemporaryError creates a temporary error
func NewTemporaryError(message string) *AppError {
	return NewAppError(ErrTemporaryFailure, message, http.StatusServiceUnavailable, true)
}

// NewTimeoutError creates a timeout error
func NewTimeoutError(message string) *AppError {
	return NewAppError(ErrTimeout, message, http.StatusGatewayTimeout, true)
}

// NewRateLimitedError creates a rate limited error
func NewRateLimitedError(message string) *AppError {
	return NewAppError(ErrRateLimited, message, http.StatusTooManyRequests, true)
}

// NewInvalidListingError creates an invalid listing error
func NewInvalidListingError(message string) *AppError {
	return NewAppError(ErrInvalidListing, message, http.StatusBadRequest, false)
}

// NewBudgetExceededError reports a bid above the listing's ceiling
func NewBudgetExceededError(price, ceiling float64) *AppError {
	return NewAppError(
		ErrBudgetExceeded,
		fmt.Sprintf("bid price %.2f exceeds budget ceiling %.2f", price, ceiling),
		http.StatusUnprocessableEntity,
		false,
	).WithContext("bid_price", price).WithContext("budget_ceiling", ceiling)
}

// NewListingClosedError creates a listing closed error
func NewListingClosedError(listingID string) *AppError {
	return NewAppError(ErrListingClosed, "listing is closed", http.StatusConflict, false).
		WithContext("listing_id", listingID)
}

// NewDuplicateBidError creates a duplicate bid error
func NewDuplicateBidError(listingID, carrierID string) *AppError {
	return NewAppError(ErrDuplicateBid, "carrier already holds an active bid on this listing", http.StatusConflict, false).
		WithContext("listing_id", listingID).
		WithContext("carrier_id", carrierID)
}

// NewInvalidBidStateError creates an invalid bid state error
func NewInvalidBidStateError(bidID, status string) *AppError {
	return NewAppError(ErrInvalidBidState, "bid is not pending", http.StatusConflict, false).
		WithContext("bid_id", bidID).
		WithContext("status", status)
}

// NewOfferAlreadyActiveError creates an offer already active error
func NewOfferAlreadyActiveError(shipmentID, offerID string) *AppError {
	return NewAppError(ErrOfferAlreadyActive, "shipment already has an active assignment offer", http.StatusConflict, false).
		WithContext("shipment_id", shipmentID).
		WithContext("offer_id", offerID)
}

// NewOfferExpiredError reports an offer whose response window has passed
func NewOfferExpiredError(offerID string, expiredAt interface{}) *AppError {
	return NewAppError(ErrOfferExpired, "assignment offer has expired", http.StatusGone, false).
		WithContext("offer_id", offerID).
		WithContext("expired_at", expiredAt)
}

// NewOfferAlreadyResolvedError creates an offer already resolved error
func NewOfferAlreadyResolvedError(offerID, status string) *AppError {
	return NewAppError(ErrOfferAlreadyResolved, "assignment offer is already resolved", http.StatusConflict, false).
		WithContext("offer_id", offerID).
		WithContext("status", status)
}

// NewCityMismatchError carries both cities so clients can render an actionable message
func NewCityMismatchError(requiredCity, registeredCity string) *AppError {
	return NewAppError(
		ErrCityMismatch,
		fmt.Sprintf("carrier registered in %q cannot take a pickup in %q", registeredCity, requiredCity),
		http.StatusUnprocessableEntity,
		false,
	).WithContext("required_city", requiredCity).WithContext("registered_city", registeredCity)
}

// NewAlreadyBoundError creates an already bound error
func NewAlreadyBoundError(shipmentID, status string) *AppError {
	return NewAppError(ErrAlreadyBound, "shipment is already bound or closed", http.StatusConflict, false).
		WithContext("shipment_id", shipmentID).
		WithContext("status", status)
}

// NewNotBoundError creates a not bound error
func NewNotBoundError(shipmentID, status string) *AppError {
	return NewAppError(ErrNotBound, "caller is not the bound carrier for this step", http.StatusConflict, false).
		WithContext("shipment_id", shipmentID).
		WithContext("status", status)
}

// NewInvalidTransitionError creates an invalid transition error
func NewInvalidTransitionError(shipmentID, status, event string) *AppError {
	return NewAppError(ErrInvalidTransition, fmt.Sprintf("event %s is not allowed from %s", event, status), http.StatusConflict, false).
		WithContext("shipment_id", shipmentID).
		WithContext("status", status).
		WithContext("event", event)
}
