package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/tripdesk/api/internal/repositories"
)

const (
	attributionSkipServiceType = "service_type_not_transport"
	attributionSkipOrigin      = "origin_missing"
	attributionSkipDestination = "destination_missing"
)

// SalesAttributorDeps bundles collaborators required to construct the attribution engine.
type SalesAttributorDeps struct {
	Operators    repositories.OperatorRepository
	PopularTrips repositories.PopularTripRepository
	Clock        func() time.Time
}

type salesAttributor struct {
	operators    repositories.OperatorRepository
	popularTrips repositories.PopularTripRepository
	clock        func() time.Time
}

// NewSalesAttributor constructs the attribution engine.
func NewSalesAttributor(deps SalesAttributorDeps) (SalesAttributor, error) {
	if deps.Operators == nil {
		return nil, errors.New("sales attributor: operator repository is required")
	}
	if deps.PopularTrips == nil {
		return nil, errors.New("sales attributor: popular trip repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	return &salesAttributor{
		operators:    deps.Operators,
		popularTrips: deps.PopularTrips,
		clock: func() time.Time {
			return clock().UTC()
		},
	}, nil
}

// Attribute applies exactly one increment to the operator and route counters when the service is a
// transport sale with both endpoints. It is only invoked for newly created services; counters are an
// append-only ledger and are never decremented by later edits or deletions.
func (a *salesAttributor) Attribute(ctx context.Context, service Service, operatorID string) (Attribution, error) {
	if reason := attributionSkipReason(service); reason != "" {
		return Attribution{SkipReason: reason}, nil
	}
	origin, destination := service.Route()
	now := a.clock()

	result := Attribution{Counted: true}
	if id := strings.TrimSpace(operatorID); id != "" {
		if err := a.operators.IncrementSales(ctx, id, 1, now); err != nil {
			return Attribution{}, err
		}
		result.OperatorID = id
	}
	counter, err := a.popularTrips.Increment(ctx, *origin, *destination, now)
	if err != nil {
		return Attribution{}, err
	}
	result.RouteCounter = &counter
	return result, nil
}

// attributionSkipReason applies the eligibility checks in order and returns the first failure.
func attributionSkipReason(service Service) string {
	if !service.Type().IsTransport() {
		return attributionSkipServiceType
	}
	origin, destination := service.Route()
	if origin == nil || strings.TrimSpace(*origin) == "" {
		return attributionSkipOrigin
	}
	if destination == nil || strings.TrimSpace(*destination) == "" {
		return attributionSkipDestination
	}
	return ""
}
