package geocoding

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tripdesk/api/internal/services"
)

func TestClientGeocodeReturnsFirstMatch(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if got := r.URL.Query().Get("q"); got != "Lisboa, Lisboa, Portugal" {
			t.Errorf("unexpected query %q", got)
		}
		if got := r.URL.Query().Get("format"); got != "json" {
			t.Errorf("unexpected format %q", got)
		}
		if got := r.URL.Query().Get("email"); got != "ops@tripdesk.example" {
			t.Errorf("unexpected email %q", got)
		}
		if got := r.Header.Get("User-Agent"); got != "tripdesk-test" {
			t.Errorf("unexpected user agent %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"lat":"38.7077507","lon":"-9.1365919","display_name":"Lisboa"},{"lat":"1","lon":"2"}]`))
	}))
	t.Cleanup(srv.Close)

	client, err := NewClient(srv.URL+"/search", WithUserAgent("tripdesk-test"), WithEmail("ops@tripdesk.example"))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	state := "Lisboa"
	result, err := client.Geocode(context.Background(), services.GeocodeQuery{City: "Lisboa", State: &state, Country: "Portugal"})
	if err != nil {
		t.Fatalf("Geocode: %v", err)
	}
	if result.Latitude.String() != "38.7077507" || result.Longitude.String() != "-9.1365919" {
		t.Fatalf("unexpected coordinates %s,%s", result.Latitude, result.Longitude)
	}
	if hits.Load() != 1 {
		t.Fatalf("expected one request, got %d", hits.Load())
	}
}

func TestClientGeocodeNoMatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	}))
	t.Cleanup(srv.Close)

	client, err := NewClient(srv.URL)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	_, err = client.Geocode(context.Background(), services.GeocodeQuery{City: "Atlantis", Country: "Nowhere"})
	if !errors.Is(err, services.ErrGeocodeNoMatch) {
		t.Fatalf("expected no match error, got %v", err)
	}
}

func TestClientGeocodeFailures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{name: "server error", status: http.StatusServiceUnavailable, body: `{}`},
		{name: "malformed body", status: http.StatusOK, body: `{"lat":`},
		{name: "bad latitude", status: http.StatusOK, body: `[{"lat":"north","lon":"1"}]`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			t.Cleanup(srv.Close)

			client, err := NewClient(srv.URL)
			if err != nil {
				t.Fatalf("NewClient: %v", err)
			}
			_, err = client.Geocode(context.Background(), services.GeocodeQuery{City: "Miami", Country: "USA"})
			if !errors.Is(err, ErrLookupFailed) {
				t.Fatalf("expected lookup failure, got %v", err)
			}
		})
	}
}

func TestNewClientRejectsInvalidEndpoint(t *testing.T) {
	for _, endpoint := range []string{"", "   ", "nominatim"} {
		if _, err := NewClient(endpoint); err == nil {
			t.Errorf("expected error for endpoint %q", endpoint)
		}
	}
}

func TestQueryDropsBlankParts(t *testing.T) {
	blank := "  "
	got := Query(services.GeocodeQuery{City: " Miami ", State: &blank, Country: "USA"})
	if got != "Miami, USA" {
		t.Fatalf("unexpected query %q", got)
	}
}

type recordedQueries struct {
	mu sync.Mutex
	qs []string
}

func (r *recordedQueries) add(q string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.qs = append(r.qs, q)
}

func (r *recordedQueries) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.qs...)
}

func TestClientGeocodeTriesAirportFirst(t *testing.T) {
	var queries recordedQueries
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query().Get("q")
		queries.add(q)
		if q == "GRU airport" {
			_, _ = w.Write([]byte(`[{"lat":"-23.4356","lon":"-46.4731"}]`))
			return
		}
		_, _ = w.Write([]byte(`[{"lat":"-23.5505","lon":"-46.6333"}]`))
	}))
	t.Cleanup(srv.Close)

	client, err := NewClient(srv.URL)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	code := "gru"
	result, err := client.Geocode(context.Background(), services.GeocodeQuery{City: "Sao Paulo", Country: "Brazil", AirportCode: &code})
	if err != nil {
		t.Fatalf("Geocode: %v", err)
	}
	if result.Latitude.String() != "-23.4356" {
		t.Fatalf("expected airport coordinates, got %s", result.Latitude)
	}
	if got := queries.all(); len(got) != 1 || got[0] != "GRU airport" {
		t.Fatalf("expected a single airport lookup, got %v", got)
	}
}

func TestClientGeocodeFallsBackToPlaceWithoutAirportMatch(t *testing.T) {
	var queries recordedQueries
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query().Get("q")
		queries.add(q)
		if q == "XYZ airport" {
			_, _ = w.Write([]byte(`[]`))
			return
		}
		_, _ = w.Write([]byte(`[{"lat":"25.7617","lon":"-80.1918"}]`))
	}))
	t.Cleanup(srv.Close)

	client, err := NewClient(srv.URL)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	code := "XYZ"
	result, err := client.Geocode(context.Background(), services.GeocodeQuery{City: "Miami", Country: "USA", AirportCode: &code})
	if err != nil {
		t.Fatalf("Geocode: %v", err)
	}
	if result.Latitude.String() != "25.7617" {
		t.Fatalf("expected place coordinates, got %s", result.Latitude)
	}
	if got := queries.all(); len(got) != 2 || got[1] != "Miami, USA" {
		t.Fatalf("expected airport then place lookup, got %v", got)
	}
}

func TestClientGeocodeAirportFailureIsNotMasked(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)

	client, err := NewClient(srv.URL)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	code := "LIS"
	_, err = client.Geocode(context.Background(), services.GeocodeQuery{City: "Lisbon", Country: "Portugal", AirportCode: &code})
	if !errors.Is(err, ErrLookupFailed) {
		t.Fatalf("expected lookup failure, got %v", err)
	}
	if hits.Load() != 1 {
		t.Fatalf("expected no place lookup after a transport failure, got %d requests", hits.Load())
	}
}

func TestClientMinIntervalHonoursCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"lat":"1","lon":"2"}]`))
	}))
	t.Cleanup(srv.Close)

	client, err := NewClient(srv.URL, WithMinInterval(time.Hour))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if _, err := client.Geocode(context.Background(), services.GeocodeQuery{City: "Miami", Country: "USA"}); err != nil {
		t.Fatalf("first lookup should not wait: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := client.Geocode(ctx, services.GeocodeQuery{City: "Miami", Country: "USA"}); !errors.Is(err, ErrLookupFailed) {
		t.Fatalf("expected the second lookup to give up waiting, got %v", err)
	}
}

func TestAirportQuery(t *testing.T) {
	blank := "  "
	code := " lim "
	if got := AirportQuery(nil); got != "" {
		t.Fatalf("expected empty query, got %q", got)
	}
	if got := AirportQuery(&blank); got != "" {
		t.Fatalf("expected empty query, got %q", got)
	}
	if got := AirportQuery(&code); got != "LIM airport" {
		t.Fatalf("unexpected query %q", got)
	}
}
