package clients

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/nakliyeci/carrier-jobs/pkg/apperrors"
	"github.com/nakliyeci/carrier-jobs/pkg/circuitbreaker"
	"github.com/nakliyeci/carrier-jobs/pkg/logger"
	"github.com/nakliyeci/carrier-jobs/pkg/retry"
)

// ProfileClient looks up carrier profiles in the profile service
type ProfileClient struct {
	baseURL     string
	httpClient  *http.Client
	logger      logger.Logger
	retryConfig *retry.RetryConfig
	breaker     *circuitbreaker.CircuitBreaker
}

// ProfileResponse represents the carrier profile payload
type ProfileResponse struct {
	CarrierID      string `json:"carrier_id,omitempty"`
	RegisteredCity string `json:"registered_city,omitempty"`
	Error          string `json:"error,omitempty"`
	Code           string `json:"code,omitempty"`
}

// ProfileClientOption configures a ProfileClient
type ProfileClientOption func(*ProfileClient)

// WithRetryConfig overrides the retry policy
func WithRetryConfig(cfg *retry.RetryConfig) ProfileClientOption {
	return func(c *ProfileClient) { c.retryConfig = cfg }
}

// WithCircuitBreaker overrides the circuit breaker
func WithCircuitBreaker(cb *circuitbreaker.CircuitBreaker) ProfileClientOption {
	return func(c *ProfileClient) { c.breaker = cb }
}

// NewProfileClient creates a new ProfileClient
func NewProfileClient(baseURL string, timeout time.Duration, logger logger.Logger, opts ...ProfileClientOption) *ProfileClient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	c := &ProfileClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
		retryConfig: &retry.RetryConfig{
			MaxAttempts: 3,
			BackoffStrategy: &retry.ExponentialBackoff{
				InitialInterval: 200 * time.Millisecond,
				MaxInterval:     2 * time.Second,
				Multiplier:      1.5,
				JitterFactor:    0.2,
			},
			Logger: logger,
			RetryableErrors: []error{
				apperrors.ErrTimeout,
				apperrors.ErrTemporaryFailure,
				apperrors.ErrServiceUnavailable,
			},
		},
		breaker: circuitbreaker.NewCircuitBreaker(circuitbreaker.CircuitBreakerConfig{
			FailureThreshold: 5,
			ResetTimeout:     30 * time.Second,
			HalfOpenMaxCalls: 1,
		}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RegisteredCity returns the city the carrier is registered in
func (c *ProfileClient) RegisteredCity(ctx context.Context, carrierID string) (string, error) {
	profile, err := c.GetProfile(ctx, carrierID)
	if err != nil {
		return "", err
	}
	return profile.RegisteredCity, nil
}

// GetProfile fetches a carrier profile. Unknown carriers are not counted
// against the circuit breaker.
func (c *ProfileClient) GetProfile(ctx context.Context, carrierID string) (*ProfileResponse, error) {
	endpoint := fmt.Sprintf("%s/api/v1/carriers/%s/profile", c.baseURL, url.PathEscape(carrierID))

	var (
		response *ProfileResponse
		notFound error
	)

	err := c.breaker.Execute(func() error {
		return retry.Retry(ctx, func() error {
			resp, err := c.fetch(ctx, endpoint)
			if errors.Is(err, apperrors.ErrNotFound) {
				notFound = err
				return nil
			}
			response = resp
			return err
		}, c.retryConfig)
	})

	if errors.Is(err, circuitbreaker.ErrOpen) {
		c.logger.Warn("Profile service circuit open", "carrierID", carrierID)
		return nil, apperrors.NewAppError(apperrors.ErrServiceUnavailable, "carrier profile service is unavailable", http.StatusServiceUnavailable, true)
	}
	if err != nil {
		c.logger.Error("Failed to fetch carrier profile after retries",
			"error", err,
			"carrierID", carrierID)
		var appErr *apperrors.AppError
		if errors.As(err, &appErr) {
			return nil, appErr
		}
		return nil, apperrors.NewTemporaryError("carrier profile service is unavailable")
	}
	if notFound != nil {
		return nil, notFound
	}
	if strings.TrimSpace(response.RegisteredCity) == "" {
		return nil, apperrors.NewNotFoundError("carrier has no registered city").
			WithContext("carrier_id", carrierID)
	}

	return response, nil
}

func (c *ProfileClient) fetch(ctx context.Context, endpoint string) (*ProfileResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, apperrors.NewInternalError(fmt.Sprintf("failed to create request: %v", err))
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, apperrors.NewTimeoutError("profile request timed out")
		}
		return nil, apperrors.NewTemporaryError(fmt.Sprintf("failed to make request: %v", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperrors.NewTemporaryError(fmt.Sprintf("failed to read response body: %v", err))
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, apperrors.NewNotFoundError("carrier profile not found")
	case resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode == http.StatusGatewayTimeout:
		return nil, apperrors.NewTimeoutError("profile request timed out")
	case resp.StatusCode == http.StatusServiceUnavailable || resp.StatusCode >= 500:
		return nil, apperrors.NewTemporaryError(fmt.Sprintf("profile service error: %d", resp.StatusCode))
	case resp.StatusCode >= 400:
		return nil, apperrors.NewAppError(
			apperrors.ErrInternal,
			fmt.Sprintf("profile service returned error: %d", resp.StatusCode),
			http.StatusBadGateway,
			false,
		)
	}

	response := &ProfileResponse{}
	if err := json.Unmarshal(body, response); err != nil {
		return nil, apperrors.NewInternalError(fmt.Sprintf("failed to parse response: %v", err))
	}
	if response.Error != "" {
		if response.Code == "TIMEOUT" {
			return nil, apperrors.NewTimeoutError(response.Error)
		}
		return nil, apperrors.NewTemporaryError(response.Error)
	}

	return response, nil
}

// GetMetrics exposes the breaker state
func (c *ProfileClient) GetMetrics() map[string]interface{} {
	return c.breaker.GetMetrics()
}
