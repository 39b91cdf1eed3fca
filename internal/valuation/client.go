// Package valuation implements the client for the third-party market valuation API.
// Every successful call is billed per request, which is why handlers only reach this
// client after the report gate has confirmed ownership, payment and data integrity.
package valuation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ProviderName identifies this provider in api_call_logs rows.
const ProviderName = "market_valuation"

// ErrNotConfigured is returned when no API key has been configured.
var ErrNotConfigured = errors.New("valuation provider is not configured")

// StatusError is returned when the provider answers with a non-200 status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("valuation request failed with status %d: %s", e.StatusCode, e.Body)
}

// Client calls the valuation provider
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// NewClient creates a valuation client
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		APIKey:     apiKey,
		HTTPClient: &http.Client{Timeout: timeout},
	}
}

// Estimate is a market valuation. Amounts are in cents.
type Estimate struct {
	VIN      string `json:"vin"`
	Amount   int64  `json:"amount"`
	Low      int64  `json:"low"`
	High     int64  `json:"high"`
	Currency string `json:"currency"`
}

type estimateResponse struct {
	VIN       string  `json:"vin"`
	Value     float64 `json:"value"`
	ValueLow  float64 `json:"value_low"`
	ValueHigh float64 `json:"value_high"`
	Currency  string  `json:"currency"`
}

func toCents(dollars float64) int64 {
	return int64(math.Round(dollars * 100))
}

// Estimate fetches the market value of a vehicle.
func (c *Client) Estimate(ctx context.Context, vin string, mileage int, zip string) (*Estimate, error) {
	if c.APIKey == "" || c.BaseURL == "" {
		return nil, ErrNotConfigured
	}

	q := url.Values{}
	q.Set("vin", vin)
	q.Set("mileage", strconv.Itoa(mileage))
	q.Set("zip", zip)
	estimateURL := fmt.Sprintf("%s/v1/valuations?%s", c.BaseURL, q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, estimateURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create valuation request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-API-Key", c.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to perform valuation request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var decoded estimateResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("failed to decode valuation response: %w", err)
	}
	if decoded.Value <= 0 {
		return nil, fmt.Errorf("valuation response has no value for %s", vin)
	}

	currency := decoded.Currency
	if currency == "" {
		currency = "USD"
	}

	return &Estimate{
		VIN:      vin,
		Amount:   toCents(decoded.Value),
		Low:      toCents(decoded.ValueLow),
		High:     toCents(decoded.ValueHigh),
		Currency: currency,
	}, nil
}
