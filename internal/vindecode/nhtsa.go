// Package vindecode implements a client for the NHTSA vPIC VIN decoding API
// (https://vpic.nhtsa.dot.gov/api/). It is used to enrich newly created reports with
// model year, make and model. The API is free and unauthenticated, so calls are
// made best-effort and never gate report creation.
package vindecode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// DefaultBaseURL is the public vPIC API root.
const DefaultBaseURL = "https://vpic.nhtsa.dot.gov/api"

// ErrNotDecoded is returned when vPIC answers but could not identify the vehicle.
var ErrNotDecoded = errors.New("vin could not be decoded")

// Client is a vPIC API client
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewClient creates a vPIC client. An empty baseURL selects DefaultBaseURL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: timeout},
	}
}

// Vehicle is the subset of decoded attributes the backend stores.
type Vehicle struct {
	VIN       string
	Year      int
	Make      string
	Model     string
	Trim      string
	BodyClass string
}

// decodeValuesResponse is the flat-format response of DecodeVinValues.
type decodeValuesResponse struct {
	Count   int                 `json:"Count"`
	Message string              `json:"Message"`
	Results []map[string]string `json:"Results"`
}

// Decode decodes a VIN. The VIN is expected to be sanitized already.
func (c *Client) Decode(ctx context.Context, vin string) (*Vehicle, error) {
	decodeURL := fmt.Sprintf("%s/vehicles/DecodeVinValues/%s?format=json", c.BaseURL, url.PathEscape(vin))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, decodeURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create decode request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to perform decode request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("decode request failed with status %d: %s", resp.StatusCode, string(body))
	}

	var decoded decodeValuesResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("failed to decode vPIC response: %w", err)
	}
	if len(decoded.Results) == 0 {
		return nil, ErrNotDecoded
	}

	result := decoded.Results[0]
	vehicle := &Vehicle{
		VIN:       vin,
		Make:      strings.TrimSpace(result["Make"]),
		Model:     strings.TrimSpace(result["Model"]),
		Trim:      strings.TrimSpace(result["Trim"]),
		BodyClass: strings.TrimSpace(result["BodyClass"]),
	}
	if year, err := strconv.Atoi(strings.TrimSpace(result["ModelYear"])); err == nil {
		vehicle.Year = year
	}

	// vPIC returns partial results with a non-zero ErrorCode; keep them if the core
	// attributes came back.
	if vehicle.Make == "" || vehicle.Year == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotDecoded, strings.TrimSpace(result["ErrorText"]))
	}

	return vehicle, nil
}
