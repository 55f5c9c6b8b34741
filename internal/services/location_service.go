package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/tripdesk/api/internal/repositories"
)

const maxAirportCodeLength = 4

var (
	// ErrLocationInvalidInput signals invalid location data.
	ErrLocationInvalidInput = errors.New("location: invalid input")
	// ErrLocationNotFound indicates the location does not exist.
	ErrLocationNotFound = errors.New("location: not found")
	// ErrLocationConflict indicates a concurrent write on the same place.
	ErrLocationConflict = errors.New("location: conflict")
	// ErrLocationUnavailable indicates the persistence layer failed.
	ErrLocationUnavailable = errors.New("location: repository unavailable")
	// ErrGeocodingUnavailable indicates geocoding is not configured or the provider failed.
	ErrGeocodingUnavailable = errors.New("location: geocoding unavailable")
	// ErrGeocodeNoMatch indicates the provider returned no coordinates for the place.
	ErrGeocodeNoMatch = errors.New("location: no geocoding match")
)

// Geocoder resolves coordinates for a place.
type Geocoder interface {
	Geocode(ctx context.Context, query GeocodeQuery) (GeocodeResult, error)
}

// GeocodeQuery identifies the place to resolve. A geocoder tries AirportCode before the place.
type GeocodeQuery struct {
	City        string
	State       *string
	Country     string
	AirportCode *string
}

// GeocodeResult carries resolved coordinates.
type GeocodeResult struct {
	Latitude  decimal.Decimal
	Longitude decimal.Decimal
}

// LocationServiceDeps bundles collaborators required to construct the location service.
type LocationServiceDeps struct {
	Locations   repositories.LocationRepository
	Geocoder    Geocoder
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type locationService struct {
	locations repositories.LocationRepository
	geocoder  Geocoder
	clock     func() time.Time
	newID     func() string
	logger    func(context.Context, string, map[string]any)
}

// NewLocationService constructs the location service. Geocoder may be nil.
func NewLocationService(deps LocationServiceDeps) (LocationService, error) {
	if deps.Locations == nil {
		return nil, errors.New("location service: location repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &locationService{
		locations: deps.Locations,
		geocoder:  deps.Geocoder,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

func (s *locationService) CreateLocation(ctx context.Context, cmd CreateLocationCommand) (Location, bool, error) {
	location := Location{
		Country:     strings.TrimSpace(cmd.Country),
		State:       trimOptional(cmd.State),
		City:        strings.TrimSpace(cmd.City),
		AirportCode: upperOptional(cmd.AirportCode),
		Latitude:    cmd.Latitude,
		Longitude:   cmd.Longitude,
	}
	if err := validateLocation(location); err != nil {
		return Location{}, false, err
	}

	existing, err := s.locations.FindByPlace(ctx, location.City, location.State, location.Country)
	switch {
	case err == nil:
		return existing, false, nil
	case !isRepositoryNotFound(err):
		return Location{}, false, mapLocationError(err)
	}

	if cmd.Geocode && (location.Latitude == nil || location.Longitude == nil) {
		if result, err := s.geocode(ctx, location); err == nil {
			location.Latitude = &result.Latitude
			location.Longitude = &result.Longitude
		} else {
			s.logger(ctx, "location.geocode.failed", map[string]any{
				"city":    location.City,
				"country": location.Country,
				"error":   err.Error(),
			})
		}
	}

	location.ID = s.newID()
	location.CreatedAt = s.clock()
	if err := s.locations.Insert(ctx, location); err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsConflict() {
			// lost the race against a concurrent create of the same place
			if winner, findErr := s.locations.FindByPlace(ctx, location.City, location.State, location.Country); findErr == nil {
				return winner, false, nil
			}
		}
		return Location{}, false, mapLocationError(err)
	}
	return location, true, nil
}

func (s *locationService) ListLocations(ctx context.Context) ([]Location, error) {
	locations, err := s.locations.List(ctx)
	if err != nil {
		return nil, mapLocationError(err)
	}
	return locations, nil
}

// GeocodeLocation resolves and stores coordinates for an existing location, replacing any present.
func (s *locationService) GeocodeLocation(ctx context.Context, locationID string) (Location, error) {
	locationID = strings.TrimSpace(locationID)
	if locationID == "" {
		return Location{}, fmt.Errorf("%w: location id is required", ErrLocationInvalidInput)
	}
	location, err := s.locations.FindByID(ctx, locationID)
	if err != nil {
		return Location{}, mapLocationError(err)
	}
	result, err := s.geocode(ctx, location)
	if err != nil {
		return Location{}, err
	}
	location.Latitude = &result.Latitude
	location.Longitude = &result.Longitude
	if err := s.locations.Update(ctx, location); err != nil {
		return Location{}, mapLocationError(err)
	}
	return location, nil
}

// GeocodeMissing geocodes every location lacking coordinates. A location the provider cannot
// resolve is counted as failed and the batch moves on; repository failures and cancellation stop it.
func (s *locationService) GeocodeMissing(ctx context.Context) (GeocodeSummary, error) {
	if s.geocoder == nil {
		return GeocodeSummary{}, fmt.Errorf("%w: geocoder not configured", ErrGeocodingUnavailable)
	}
	locations, err := s.locations.List(ctx)
	if err != nil {
		return GeocodeSummary{}, mapLocationError(err)
	}
	pending := lo.Filter(locations, func(l Location, _ int) bool {
		return l.Latitude == nil || l.Longitude == nil
	})

	summary := GeocodeSummary{Total: len(pending), FailedLocations: []string{}}
	for _, location := range pending {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		result, err := s.geocode(ctx, location)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return summary, ctxErr
			}
			summary.Failed++
			summary.FailedLocations = append(summary.FailedLocations, location.City+", "+location.Country)
			s.logger(ctx, "location.geocode.failed", map[string]any{
				"location": location.ID,
				"city":     location.City,
				"country":  location.Country,
				"error":    err.Error(),
			})
			continue
		}
		location.Latitude = &result.Latitude
		location.Longitude = &result.Longitude
		if err := s.locations.Update(ctx, location); err != nil {
			return summary, mapLocationError(err)
		}
		summary.Geocoded++
	}
	s.logger(ctx, "location.geocode.batch", map[string]any{
		"total":    summary.Total,
		"geocoded": summary.Geocoded,
		"failed":   summary.Failed,
	})
	return summary, nil
}

func (s *locationService) DeleteLocation(ctx context.Context, locationID string) error {
	locationID = strings.TrimSpace(locationID)
	if locationID == "" {
		return fmt.Errorf("%w: location id is required", ErrLocationInvalidInput)
	}
	return mapLocationError(s.locations.Delete(ctx, locationID))
}

func (s *locationService) geocode(ctx context.Context, location Location) (GeocodeResult, error) {
	if s.geocoder == nil {
		return GeocodeResult{}, fmt.Errorf("%w: geocoder not configured", ErrGeocodingUnavailable)
	}
	result, err := s.geocoder.Geocode(ctx, GeocodeQuery{
		City:        location.City,
		State:       location.State,
		Country:     location.Country,
		AirportCode: location.AirportCode,
	})
	if err != nil {
		if errors.Is(err, ErrGeocodeNoMatch) {
			return GeocodeResult{}, err
		}
		return GeocodeResult{}, fmt.Errorf("%w: %v", ErrGeocodingUnavailable, err)
	}
	return result, nil
}

func validateLocation(location Location) error {
	if location.City == "" {
		return fmt.Errorf("%w: city is required", ErrLocationInvalidInput)
	}
	if location.Country == "" {
		return fmt.Errorf("%w: country is required", ErrLocationInvalidInput)
	}
	if location.AirportCode != nil && len(*location.AirportCode) > maxAirportCodeLength {
		return fmt.Errorf("%w: airportCode must be at most %d characters", ErrLocationInvalidInput, maxAirportCodeLength)
	}
	if (location.Latitude == nil) != (location.Longitude == nil) {
		return fmt.Errorf("%w: latitude and longitude must be supplied together", ErrLocationInvalidInput)
	}
	if location.Latitude != nil && location.Latitude.Abs().GreaterThan(decimal.NewFromInt(90)) {
		return fmt.Errorf("%w: latitude must be between -90 and 90", ErrLocationInvalidInput)
	}
	if location.Longitude != nil && location.Longitude.Abs().GreaterThan(decimal.NewFromInt(180)) {
		return fmt.Errorf("%w: longitude must be between -180 and 180", ErrLocationInvalidInput)
	}
	return nil
}

func mapLocationError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrLocationNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrLocationConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrLocationUnavailable, err)
		}
	}
	return err
}

func upperOptional(value *string) *string {
	trimmed := trimOptional(value)
	if trimmed == nil {
		return nil
	}
	upper := strings.ToUpper(*trimmed)
	return &upper
}
