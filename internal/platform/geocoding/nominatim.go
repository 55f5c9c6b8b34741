package geocoding

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"github.com/tripdesk/api/internal/services"
)

const (
	defaultTimeout   = 5 * time.Second
	defaultUserAgent = "tripdesk-api/1.0"
	maxResponseBytes = 1 << 20
)

// ErrLookupFailed wraps transport and decoding failures.
var ErrLookupFailed = errors.New("geocoding: lookup failed")

// Client resolves places against a Nominatim-compatible /search endpoint.
type Client struct {
	endpoint  string
	userAgent string
	email     string
	client    *http.Client
	limiter   *rate.Limiter
}

var _ services.Geocoder = (*Client)(nil)

// Option customises Client behaviour.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client used for lookups.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.client = client
		}
	}
}

// WithUserAgent sets the User-Agent header. Nominatim rejects anonymous clients.
func WithUserAgent(agent string) Option {
	return func(c *Client) {
		if strings.TrimSpace(agent) != "" {
			c.userAgent = strings.TrimSpace(agent)
		}
	}
}

// WithEmail adds the contact address Nominatim asks heavy users to send.
func WithEmail(email string) Option {
	return func(c *Client) {
		c.email = strings.TrimSpace(email)
	}
}

// WithTimeout bounds each lookup.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.client.Timeout = d
		}
	}
}

// WithMinInterval spaces outgoing requests at least d apart. Batch geocoding relies on it to stay
// within the public Nominatim usage policy of one request per second.
func WithMinInterval(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.limiter = rate.NewLimiter(rate.Every(d), 1)
		}
	}
}

// NewClient constructs a geocoding client for the given search endpoint.
func NewClient(endpoint string, opts ...Option) (*Client, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, errors.New("geocoding: endpoint is required")
	}
	parsed, err := url.Parse(endpoint)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("geocoding: invalid endpoint %q", endpoint)
	}
	c := &Client{
		endpoint:  endpoint,
		userAgent: defaultUserAgent,
		client: &http.Client{
			Timeout:   defaultTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

type searchResult struct {
	Lat string `json:"lat"`
	Lon string `json:"lon"`
}

// Geocode returns the coordinates of the best match. When the query carries an airport code the
// airport is looked up first and the place lookup only runs if the endpoint has no such airport.
// services.ErrGeocodeNoMatch is returned when neither lookup finds anything.
func (c *Client) Geocode(ctx context.Context, query services.GeocodeQuery) (services.GeocodeResult, error) {
	if q := AirportQuery(query.AirportCode); q != "" {
		result, err := c.search(ctx, q)
		if !errors.Is(err, services.ErrGeocodeNoMatch) {
			return result, err
		}
	}
	q := Query(query)
	if q == "" {
		return services.GeocodeResult{}, fmt.Errorf("%w: empty query", ErrLookupFailed)
	}
	return c.search(ctx, q)
}

func (c *Client) search(ctx context.Context, q string) (services.GeocodeResult, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return services.GeocodeResult{}, fmt.Errorf("%w: %v", ErrLookupFailed, err)
		}
	}

	params := url.Values{}
	params.Set("q", q)
	params.Set("format", "json")
	params.Set("limit", "1")
	if c.email != "" {
		params.Set("email", c.email)
	}
	target := c.endpoint
	if strings.Contains(target, "?") {
		target += "&" + params.Encode()
	} else {
		target += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return services.GeocodeResult{}, fmt.Errorf("%w: %v", ErrLookupFailed, err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return services.GeocodeResult{}, fmt.Errorf("%w: %v", ErrLookupFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return services.GeocodeResult{}, fmt.Errorf("%w: unexpected status %d", ErrLookupFailed, resp.StatusCode)
	}

	var results []searchResult
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&results); err != nil {
		return services.GeocodeResult{}, fmt.Errorf("%w: decode: %v", ErrLookupFailed, err)
	}
	if len(results) == 0 {
		return services.GeocodeResult{}, services.ErrGeocodeNoMatch
	}

	lat, err := decimal.NewFromString(results[0].Lat)
	if err != nil {
		return services.GeocodeResult{}, fmt.Errorf("%w: latitude %q: %v", ErrLookupFailed, results[0].Lat, err)
	}
	lon, err := decimal.NewFromString(results[0].Lon)
	if err != nil {
		return services.GeocodeResult{}, fmt.Errorf("%w: longitude %q: %v", ErrLookupFailed, results[0].Lon, err)
	}
	return services.GeocodeResult{Latitude: lat, Longitude: lon}, nil
}

// AirportQuery renders the search string for an IATA code, or "" when there is none.
func AirportQuery(code *string) string {
	if code == nil || strings.TrimSpace(*code) == "" {
		return ""
	}
	return strings.ToUpper(strings.TrimSpace(*code)) + " airport"
}

// Query renders the free-form search string, "city, state, country" with blank parts dropped.
func Query(query services.GeocodeQuery) string {
	parts := make([]string, 0, 3)
	if city := strings.TrimSpace(query.City); city != "" {
		parts = append(parts, city)
	}
	if query.State != nil {
		if state := strings.TrimSpace(*query.State); state != "" {
			parts = append(parts, state)
		}
	}
	if country := strings.TrimSpace(query.Country); country != "" {
		parts = append(parts, country)
	}
	return strings.Join(parts, ", ")
}
