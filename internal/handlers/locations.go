package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/tripdesk/api/internal/platform/httpx"
	"github.com/tripdesk/api/internal/services"
)

// LocationHandlers manages the route endpoints catalogue.
type LocationHandlers struct {
	guard     *AccessGuard
	locations services.LocationService
}

func NewLocationHandlers(guard *AccessGuard, locations services.LocationService) *LocationHandlers {
	return &LocationHandlers{guard: guard, locations: locations}
}

// Routes registers the /locations endpoints.
func (h *LocationHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	guard(r, h.guard)
	r.Post("/", h.createLocation)
	r.Get("/", h.listLocations)
	r.Post("/geocode-all", h.geocodeMissing)
	r.Patch("/{locationID}/geocode", h.geocodeLocation)
	r.Delete("/{locationID}", h.deleteLocation)
}

type locationPayload struct {
	ID          string  `json:"id"`
	Country     string  `json:"country"`
	State       *string `json:"state"`
	City        string  `json:"city"`
	AirportCode *string `json:"airportCode"`
	Latitude    *string `json:"latitude"`
	Longitude   *string `json:"longitude"`
	CreatedAt   string  `json:"createdAt,omitempty"`
}

type locationResponse struct {
	Location locationPayload `json:"location"`
	Created  *bool           `json:"created,omitempty"`
}

type locationListResponse struct {
	Items []locationPayload `json:"items"`
}

type geocodeSummaryResponse struct {
	TotalLocations  int      `json:"totalLocations"`
	Geocoded        int      `json:"geocoded"`
	Failed          int      `json:"failed"`
	FailedLocations []string `json:"failedLocations"`
}

type createLocationRequest struct {
	Country     string           `json:"country"`
	State       *string          `json:"state"`
	City        string           `json:"city"`
	AirportCode *string          `json:"airportCode"`
	Latitude    *decimal.Decimal `json:"latitude"`
	Longitude   *decimal.Decimal `json:"longitude"`
	Geocode     bool             `json:"geocode"`
}

func (h *LocationHandlers) createLocation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.available(ctx, w) {
		return
	}

	var req createLocationRequest
	if err := decodeJSONBody(r, defaultBodyLimit, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	if (req.Latitude == nil) != (req.Longitude == nil) {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "latitude and longitude must be provided together", http.StatusBadRequest))
		return
	}

	location, created, err := h.locations.CreateLocation(ctx, services.CreateLocationCommand{
		Country:     req.Country,
		State:       trimmedPtr(req.State),
		City:        req.City,
		AirportCode: trimmedPtr(req.AirportCode),
		Latitude:    req.Latitude,
		Longitude:   req.Longitude,
		Geocode:     req.Geocode,
	})
	if err != nil {
		writeLocationError(ctx, w, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	httpx.WriteJSON(w, status, locationResponse{Location: buildLocationPayload(location), Created: &created})
}

func (h *LocationHandlers) listLocations(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.available(ctx, w) {
		return
	}
	locations, err := h.locations.ListLocations(ctx)
	if err != nil {
		writeLocationError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, locationListResponse{
		Items: lo.Map(locations, func(l services.Location, _ int) locationPayload { return buildLocationPayload(l) }),
	})
}

func (h *LocationHandlers) geocodeLocation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.available(ctx, w) {
		return
	}
	locationID, ok := pathID(ctx, w, r, "locationID", "location")
	if !ok {
		return
	}
	location, err := h.locations.GeocodeLocation(ctx, locationID)
	if err != nil {
		writeLocationError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, locationResponse{Location: buildLocationPayload(location)})
}

func (h *LocationHandlers) geocodeMissing(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.available(ctx, w) {
		return
	}
	summary, err := h.locations.GeocodeMissing(ctx)
	if err != nil {
		writeLocationError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, geocodeSummaryResponse{
		TotalLocations:  summary.Total,
		Geocoded:        summary.Geocoded,
		Failed:          summary.Failed,
		FailedLocations: lo.Ternary(summary.FailedLocations == nil, []string{}, summary.FailedLocations),
	})
}

func (h *LocationHandlers) deleteLocation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.available(ctx, w) {
		return
	}
	locationID, ok := pathID(ctx, w, r, "locationID", "location")
	if !ok {
		return
	}
	if err := h.locations.DeleteLocation(ctx, locationID); err != nil {
		writeLocationError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *LocationHandlers) available(ctx context.Context, w http.ResponseWriter) bool {
	if h.locations == nil {
		httpx.WriteError(ctx, w, httpx.NewError("location_service_unavailable", "location service unavailable", http.StatusServiceUnavailable))
		return false
	}
	return true
}

func buildLocationPayload(location services.Location) locationPayload {
	return locationPayload{
		ID:          location.ID,
		Country:     location.Country,
		State:       location.State,
		City:        location.City,
		AirportCode: location.AirportCode,
		Latitude:    formatDecimalPtr(location.Latitude),
		Longitude:   formatDecimalPtr(location.Longitude),
		CreatedAt:   formatTime(location.CreatedAt),
	}
}

func writeLocationError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrLocationInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrLocationNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("location_not_found", "location not found", http.StatusNotFound))
	case errors.Is(err, services.ErrLocationConflict):
		httpx.WriteError(ctx, w, httpx.NewError("location_conflict", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrGeocodeNoMatch):
		httpx.WriteError(ctx, w, httpx.NewError("geocode_no_match", "no coordinates found for location", http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrGeocodingUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("geocoding_unavailable", "geocoding provider unavailable", http.StatusBadGateway))
	case errors.Is(err, services.ErrLocationUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("location_service_unavailable", "location repository unavailable", http.StatusServiceUnavailable))
	default:
		writeRepositoryError(ctx, w, err, "location")
	}
}
