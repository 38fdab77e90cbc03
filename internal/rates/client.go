package rates

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/loyalty/pkg/loyalty"
)

const defaultRequestTimeout = 5 * time.Second

// Client looks up exchange rates from the hosted conversion service. It
// implements loyalty.RateSource.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(client *Client) {
		if httpClient != nil {
			client.httpClient = httpClient
		}
	}
}

// WithAPIKey attaches a bearer token to every lookup.
func WithAPIKey(apiKey string) Option {
	return func(client *Client) {
		client.apiKey = apiKey
	}
}

// NewClient wires a rate client for the given service base URL.
func NewClient(baseURL string, options ...Option) (*Client, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil, fmt.Errorf("rates: base url is required")
	}
	client := &Client{
		baseURL:    trimmed,
		httpClient: &http.Client{Timeout: defaultRequestTimeout},
	}
	for _, option := range options {
		if option != nil {
			option(client)
		}
	}
	return client, nil
}

type ratePayload struct {
	Rate         float64 `json:"rate"`
	AdjustedRate float64 `json:"adjusted_rate"`
}

// LookupRate fetches the quoted rate for a currency pair.
func (client *Client) LookupRate(ctx context.Context, fromCurrency string, toCurrency string) (loyalty.Rate, error) {
	query := url.Values{}
	query.Set("from", fromCurrency)
	query.Set("to", toCurrency)
	endpoint := client.baseURL + "/v1/rates?" + query.Encode()

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return loyalty.Rate{}, fmt.Errorf("rates: build request: %w", err)
	}
	request.Header.Set("Accept", "application/json")
	if client.apiKey != "" {
		request.Header.Set("Authorization", "Bearer "+client.apiKey)
	}

	response, err := client.httpClient.Do(request)
	if err != nil {
		return loyalty.Rate{}, fmt.Errorf("rates: lookup %s/%s: %w", fromCurrency, toCurrency, err)
	}
	defer func() { _ = response.Body.Close() }()

	if response.StatusCode != http.StatusOK {
		return loyalty.Rate{}, fmt.Errorf("rates: lookup %s/%s: unexpected status %d", fromCurrency, toCurrency, response.StatusCode)
	}
	var payload ratePayload
	if err := json.NewDecoder(response.Body).Decode(&payload); err != nil {
		return loyalty.Rate{}, fmt.Errorf("rates: decode response: %w", err)
	}
	if payload.Rate <= 0 {
		return loyalty.Rate{}, fmt.Errorf("rates: lookup %s/%s: non-positive rate %v", fromCurrency, toCurrency, payload.Rate)
	}
	return loyalty.Rate{Rate: payload.Rate, AdjustedRate: payload.AdjustedRate}, nil
}
