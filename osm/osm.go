package osm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"saferoute/signals"

	"golang.org/x/time/rate"
)

const (
	// NominatimBaseURL is the public Nominatim API endpoint
	NominatimBaseURL = "https://nominatim.openstreetmap.org"
	// UserAgent is required by Nominatim usage policy
	UserAgent = "SafeRoute/1.0"
)

// Client reverse geocodes coordinates with Nominatim. Requests are throttled
// to the configured rate; Nominatim's public policy allows one per second.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient creates a new Nominatim client allowing perSecond requests
func NewClient(baseURL string, perSecond float64) *Client {
	if baseURL == "" {
		baseURL = NominatimBaseURL
	}
	if perSecond <= 0 {
		perSecond = 1
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		limiter: rate.NewLimiter(rate.Limit(perSecond), 1),
	}
}

// NominatimResponse is the subset of the Nominatim reverse response we read
type NominatimResponse struct {
	DisplayName string           `json:"display_name"`
	Address     NominatimAddress `json:"address"`
	Error       string           `json:"error"`
}

// NominatimAddress contains address details from Nominatim
type NominatimAddress struct {
	Road        string `json:"road"`
	Suburb      string `json:"suburb"`
	City        string `json:"city"`
	Town        string `json:"town"`
	Village     string `json:"village"`
	County      string `json:"county"`
	State       string `json:"state"`
	Region      string `json:"region"`
	Country     string `json:"country"`
	CountryCode string `json:"country_code"`
}

// ReverseGeocode resolves coordinates to a place
func (c *Client) ReverseGeocode(ctx context.Context, lat, lng float64) (*signals.Place, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("nominatim rate limit wait: %w", err)
	}

	params := url.Values{}
	params.Set("lat", fmt.Sprintf("%f", lat))
	params.Set("lon", fmt.Sprintf("%f", lng))
	params.Set("format", "jsonv2")
	params.Set("addressdetails", "1")
	params.Set("zoom", "16")

	reqURL := fmt.Sprintf("%s/reverse?%s", c.baseURL, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", UserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("nominatim returned status %d: %s", resp.StatusCode, string(body))
	}

	var nomResp NominatimResponse
	if err := json.NewDecoder(resp.Body).Decode(&nomResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if nomResp.Error != "" {
		return nil, fmt.Errorf("nominatim: %s", nomResp.Error)
	}

	return toPlace(&nomResp), nil
}

func toPlace(resp *NominatimResponse) *signals.Place {
	p := signals.UnknownPlace()
	if city := firstNonEmpty(resp.Address.City, resp.Address.Town, resp.Address.Village, resp.Address.Suburb); city != "" {
		p.City = city
	}
	if region := firstNonEmpty(resp.Address.State, resp.Address.Region, resp.Address.County); region != "" {
		p.Region = region
	}
	p.FormattedAddress = resp.DisplayName
	return p
}

// firstNonEmpty returns the first non-empty string from the arguments
func firstNonEmpty(strs ...string) string {
	for _, s := range strs {
		if s != "" {
			return s
		}
	}
	return ""
}
