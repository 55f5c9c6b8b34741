package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

type stubGeocoder struct {
	result  GeocodeResult
	err     error
	queries []GeocodeQuery
}

func (g *stubGeocoder) Geocode(_ context.Context, query GeocodeQuery) (GeocodeResult, error) {
	g.queries = append(g.queries, query)
	return g.result, g.err
}

// placeGeocoder resolves only the cities it knows.
type placeGeocoder map[string]GeocodeResult

func (g placeGeocoder) Geocode(_ context.Context, query GeocodeQuery) (GeocodeResult, error) {
	result, ok := g[query.City]
	if !ok {
		return GeocodeResult{}, ErrGeocodeNoMatch
	}
	return result, nil
}

func newTestLocationService(t *testing.T, store *memoryStore, geocoder Geocoder, logs *captureLogs) LocationService {
	t.Helper()
	deps := LocationServiceDeps{
		Locations:   store.Locations(),
		Clock:       func() time.Time { return lifecycleNow },
		IDGenerator: func() string { return "loc-new" },
	}
	if geocoder != nil {
		deps.Geocoder = geocoder
	}
	if logs != nil {
		deps.Logger = logs.log
	}
	svc, err := NewLocationService(deps)
	if err != nil {
		t.Fatalf("new location service: %v", err)
	}
	return svc
}

func TestLocationServiceCreateLocationDeduplicates(t *testing.T) {
	store := newMemoryStore()
	store.seedLocation("loc-gru", "Sao Paulo", "Brazil")
	svc := newTestLocationService(t, store, nil, nil)

	location, created, err := svc.CreateLocation(context.Background(), CreateLocationCommand{City: "  sao   PAULO ", Country: "brazil"})
	if err != nil {
		t.Fatalf("create location: %v", err)
	}
	if created || location.ID != "loc-gru" {
		t.Fatalf("expected existing location, got created=%v %+v", created, location)
	}

	location, created, err = svc.CreateLocation(context.Background(), CreateLocationCommand{
		City:        "Lisbon",
		Country:     "Portugal",
		AirportCode: ptr(" lis "),
	})
	if err != nil {
		t.Fatalf("create location: %v", err)
	}
	if !created || location.ID != "loc-new" {
		t.Fatalf("expected new location, got created=%v %+v", created, location)
	}
	if location.AirportCode == nil || *location.AirportCode != "LIS" {
		t.Fatalf("expected upper-cased airport code, got %v", location.AirportCode)
	}
}

func TestLocationServiceCreateLocationGeocodes(t *testing.T) {
	store := newMemoryStore()
	geocoder := &stubGeocoder{result: GeocodeResult{
		Latitude:  decimal.RequireFromString("38.7223"),
		Longitude: decimal.RequireFromString("-9.1393"),
	}}
	svc := newTestLocationService(t, store, geocoder, nil)

	location, _, err := svc.CreateLocation(context.Background(), CreateLocationCommand{City: "Lisbon", Country: "Portugal", Geocode: true})
	if err != nil {
		t.Fatalf("create location: %v", err)
	}
	if location.Latitude == nil || !location.Latitude.Equal(decimal.RequireFromString("38.7223")) {
		t.Fatalf("expected geocoded latitude, got %v", location.Latitude)
	}
	if len(geocoder.queries) != 1 || geocoder.queries[0].City != "Lisbon" {
		t.Fatalf("unexpected geocoder queries %+v", geocoder.queries)
	}
}

func TestLocationServiceGeocodeFailureDoesNotBlockCreate(t *testing.T) {
	store := newMemoryStore()
	logs := &captureLogs{}
	svc := newTestLocationService(t, store, &stubGeocoder{err: errors.New("timeout")}, logs)

	location, created, err := svc.CreateLocation(context.Background(), CreateLocationCommand{City: "Porto", Country: "Portugal", Geocode: true})
	if err != nil {
		t.Fatalf("create location: %v", err)
	}
	if !created || location.Latitude != nil {
		t.Fatalf("expected location without coordinates, got %+v", location)
	}
	if logs.count("location.geocode.failed") != 1 {
		t.Fatalf("expected geocode failure log, got %v", logs.entries)
	}
}

func TestLocationServiceGeocodeLocation(t *testing.T) {
	store := newMemoryStore()
	store.seedLocation("loc-mia", "Miami", "United States")

	unconfigured := newTestLocationService(t, store, nil, nil)
	if _, err := unconfigured.GeocodeLocation(context.Background(), "loc-mia"); !errors.Is(err, ErrGeocodingUnavailable) {
		t.Fatalf("expected geocoding unavailable, got %v", err)
	}

	noMatch := newTestLocationService(t, store, &stubGeocoder{err: ErrGeocodeNoMatch}, nil)
	if _, err := noMatch.GeocodeLocation(context.Background(), "loc-mia"); !errors.Is(err, ErrGeocodeNoMatch) {
		t.Fatalf("expected no match, got %v", err)
	}

	svc := newTestLocationService(t, store, &stubGeocoder{result: GeocodeResult{
		Latitude:  decimal.RequireFromString("25.7617"),
		Longitude: decimal.RequireFromString("-80.1918"),
	}}, nil)
	location, err := svc.GeocodeLocation(context.Background(), "loc-mia")
	if err != nil {
		t.Fatalf("geocode location: %v", err)
	}
	if location.Longitude == nil || !location.Longitude.Equal(decimal.RequireFromString("-80.1918")) {
		t.Fatalf("expected stored longitude, got %v", location.Longitude)
	}
	if _, err := svc.GeocodeLocation(context.Background(), "loc-404"); !errors.Is(err, ErrLocationNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestLocationServiceValidation(t *testing.T) {
	svc := newTestLocationService(t, newMemoryStore(), nil, nil)
	lat := decimal.NewFromInt(91)
	lon := decimal.NewFromInt(10)

	cases := map[string]CreateLocationCommand{
		"missing city":     {Country: "Brazil"},
		"missing country":  {City: "Recife"},
		"long airport":     {City: "Recife", Country: "Brazil", AirportCode: ptr("RECIF")},
		"unpaired coords":  {City: "Recife", Country: "Brazil", Latitude: &lon},
		"latitude too big": {City: "Recife", Country: "Brazil", Latitude: &lat, Longitude: &lon},
	}
	for name, cmd := range cases {
		t.Run(name, func(t *testing.T) {
			if _, _, err := svc.CreateLocation(context.Background(), cmd); !errors.Is(err, ErrLocationInvalidInput) {
				t.Fatalf("expected invalid input, got %v", err)
			}
		})
	}
}

func TestLocationServiceDeleteLocationDropsCounters(t *testing.T) {
	store := newMemoryStore()
	store.seedLocation("loc-gru", "Sao Paulo", "Brazil")
	store.seedLocation("loc-mia", "Miami", "United States")
	if _, err := store.PopularTrips().Increment(context.Background(), "loc-gru", "loc-mia", lifecycleNow); err != nil {
		t.Fatalf("seed counter: %v", err)
	}
	svc := newTestLocationService(t, store, nil, nil)

	if err := svc.DeleteLocation(context.Background(), "loc-mia"); err != nil {
		t.Fatalf("delete location: %v", err)
	}
	if got := store.tripCount("loc-gru", "loc-mia"); got != 0 {
		t.Fatalf("expected route counter removed, got %d", got)
	}
	if err := svc.DeleteLocation(context.Background(), "loc-mia"); !errors.Is(err, ErrLocationNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestLocationServiceGeocodeMissing(t *testing.T) {
	store := newMemoryStore()
	store.seedLocation("loc-gru", "Sao Paulo", "Brazil")
	store.seedLocation("loc-atl", "Atlantis", "Nowhere")
	located := store.seedLocation("loc-lis", "Lisbon", "Portugal")
	located.Latitude = ptr(decimal.RequireFromString("38.7223"))
	located.Longitude = ptr(decimal.RequireFromString("-9.1393"))
	if err := store.Locations().Update(context.Background(), located); err != nil {
		t.Fatalf("seed coordinates: %v", err)
	}

	logs := &captureLogs{}
	geocoder := placeGeocoder{
		"Sao Paulo": {Latitude: decimal.RequireFromString("-23.4356"), Longitude: decimal.RequireFromString("-46.4731")},
		"Lisbon":    {Latitude: decimal.RequireFromString("0"), Longitude: decimal.RequireFromString("0")},
	}
	svc := newTestLocationService(t, store, geocoder, logs)

	summary, err := svc.GeocodeMissing(context.Background())
	if err != nil {
		t.Fatalf("geocode missing: %v", err)
	}
	if summary.Total != 2 || summary.Geocoded != 1 || summary.Failed != 1 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if len(summary.FailedLocations) != 1 || summary.FailedLocations[0] != "Atlantis, Nowhere" {
		t.Fatalf("unexpected failed locations %v", summary.FailedLocations)
	}

	gru, err := store.Locations().FindByID(context.Background(), "loc-gru")
	if err != nil {
		t.Fatalf("find loc-gru: %v", err)
	}
	if gru.Latitude == nil || !gru.Latitude.Equal(decimal.RequireFromString("-23.4356")) {
		t.Fatalf("expected stored coordinates, got %v", gru.Latitude)
	}
	lis, err := store.Locations().FindByID(context.Background(), "loc-lis")
	if err != nil {
		t.Fatalf("find loc-lis: %v", err)
	}
	if !lis.Latitude.Equal(decimal.RequireFromString("38.7223")) {
		t.Fatalf("located places must be left alone, got %v", lis.Latitude)
	}
	if logs.count("location.geocode.failed") != 1 || logs.count("location.geocode.batch") != 1 {
		t.Fatalf("unexpected logs %v", logs.entries)
	}
}

func TestLocationServiceGeocodeMissingRequiresGeocoder(t *testing.T) {
	svc := newTestLocationService(t, newMemoryStore(), nil, nil)
	if _, err := svc.GeocodeMissing(context.Background()); !errors.Is(err, ErrGeocodingUnavailable) {
		t.Fatalf("expected ErrGeocodingUnavailable, got %v", err)
	}
}

func TestLocationServiceGeocodePassesAirportCode(t *testing.T) {
	store := newMemoryStore()
	location := store.seedLocation("loc-gru", "Sao Paulo", "Brazil")
	location.AirportCode = ptr("GRU")
	if err := store.Locations().Update(context.Background(), location); err != nil {
		t.Fatalf("seed airport: %v", err)
	}
	geocoder := &stubGeocoder{result: GeocodeResult{Latitude: decimal.RequireFromString("-23.4356"), Longitude: decimal.RequireFromString("-46.4731")}}
	svc := newTestLocationService(t, store, geocoder, nil)

	if _, err := svc.GeocodeLocation(context.Background(), "loc-gru"); err != nil {
		t.Fatalf("geocode location: %v", err)
	}
	if len(geocoder.queries) != 1 || geocoder.queries[0].AirportCode == nil || *geocoder.queries[0].AirportCode != "GRU" {
		t.Fatalf("expected airport code in query, got %+v", geocoder.queries)
	}
}
