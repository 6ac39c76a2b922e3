package twitch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/streamward/streamward/internal/metrics"
)

// Helix rate-limits requests per client; stay well inside the limit.
const (
	subscriptionRatePerSecond = 5
	subscriptionBurst         = 10
)

// APIError is a non-2xx response from the Helix API, carrying the body for
// diagnostics.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("helix returned status %d: %s", e.StatusCode, e.Body)
}

// SubscriptionTransport names the delivery method for an EventSub
// subscription.
type SubscriptionTransport struct {
	Method    string `json:"method"`
	SessionID string `json:"session_id"`
}

// SubscriptionRequest is the create-subscription payload.
type SubscriptionRequest struct {
	Type      string                `json:"type"`
	Version   string                `json:"version"`
	Condition map[string]string     `json:"condition"`
	Transport SubscriptionTransport `json:"transport"`
}

// HelixClient issues EventSub subscription calls against the Helix REST API.
// Calls are rate limited and run behind a circuit breaker so a Helix outage
// degrades to fast per-call failures instead of hung registrations.
type HelixClient struct {
	clientID   string
	baseURL    string // configurable for testing
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker
}

// NewHelixClient creates a HelixClient against the public Helix endpoint.
func NewHelixClient(clientID string) *HelixClient {
	settings := gobreaker.Settings{
		Name:    "helix",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.CircuitBreakerStateChanges.WithLabelValues(name, to.String()).Inc()
		},
	}

	return &HelixClient{
		clientID:   clientID,
		baseURL:    defaultHelixBaseURL,
		httpClient: &http.Client{Timeout: httpCallTimeout},
		limiter:    rate.NewLimiter(rate.Limit(subscriptionRatePerSecond), subscriptionBurst),
		breaker:    gobreaker.NewCircuitBreaker(settings),
	}
}

// CreateSubscription registers one EventSub subscription on the given
// websocket session using the given bearer token. Non-2xx responses come
// back as *APIError; context cancellation comes back as ctx.Err().
func (c *HelixClient) CreateSubscription(ctx context.Context, accessToken string, sub SubscriptionRequest) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait interrupted: %w", err)
	}

	payload, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("failed to marshal subscription request: %w", err)
	}

	_, err = c.breaker.Execute(func() (any, error) {
		return nil, c.post(ctx, accessToken, payload)
	})
	if err != nil {
		metrics.Subscriptions.WithLabelValues(sub.Type, "error").Inc()
		return err
	}

	metrics.Subscriptions.WithLabelValues(sub.Type, "success").Inc()
	return nil
}

func (c *HelixClient) post(ctx context.Context, accessToken string, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/eventsub/subscriptions", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create subscription request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Client-Id", c.clientID)
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute subscription request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	return nil
}
