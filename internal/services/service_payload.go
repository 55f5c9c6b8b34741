package services

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/samber/mo"

	domain "github.com/tripdesk/api/internal/domain"
	"github.com/tripdesk/api/internal/platform/textutil"
)

const maxServiceNameLength = 200

// buildService validates a full service description and returns the unsaved service.
func buildService(input ServiceInput) (Service, error) {
	serviceType, err := domain.ParseServiceType(input.ServiceType)
	if err != nil {
		return Service{}, fmt.Errorf("%w: %v", ErrOrderInvalidInput, err)
	}
	svc := Service{
		Name:        strings.TrimSpace(input.Name),
		Description: textutil.SanitizeOptional(input.Description),
		CostPrice:   input.CostPrice,
		SalePrice:   input.SalePrice,
		Calendar:    input.Calendar,
	}
	payload, err := domain.NewPayload(serviceType, input.Fields)
	if err != nil {
		return Service{}, invalidPayload(err)
	}
	svc.Payload = payload
	if err := validateService(svc); err != nil {
		return Service{}, err
	}
	return svc, nil
}

// applyServicePatch merges supplied fields into current. A type change drops the fields that do not
// belong to the new type; fields supplied for the wrong type are rejected.
func applyServicePatch(current Service, patch ServicePatch, now time.Time) (Service, error) {
	next := current

	serviceType := current.Type()
	if raw, ok := patch.ServiceType.Get(); ok {
		parsed, err := domain.ParseServiceType(raw)
		if err != nil {
			return Service{}, fmt.Errorf("%w: %v", ErrOrderInvalidInput, err)
		}
		serviceType = parsed
	}

	if name, ok := patch.Name.Get(); ok {
		next.Name = strings.TrimSpace(name)
	}
	if desc, ok := patch.Description.Get(); ok {
		next.Description = textutil.SanitizeOptional(desc)
	}
	next.CostPrice = patch.CostPrice.OrElse(current.CostPrice)
	next.SalePrice = patch.SalePrice.OrElse(current.SalePrice)

	next.Calendar = domain.Calendar{
		EventStart: patch.EventStart.OrElse(current.Calendar.EventStart),
		EventEnd:   patch.EventEnd.OrElse(current.Calendar.EventEnd),
		Color:      patch.Color.OrElse(current.Calendar.Color),
		Icon:       patch.Icon.OrElse(current.Calendar.Icon),
	}

	base := domain.FieldsOf(current.Payload).RestrictTo(serviceType)
	fields := domain.ServiceFields{
		OriginLocationID:      pick(patch.OriginLocationID, base.OriginLocationID),
		DestinationLocationID: pick(patch.DestinationLocationID, base.DestinationLocationID),
		Carrier:               pick(patch.Carrier, base.Carrier),
		ConfirmationCode:      pick(patch.ConfirmationCode, base.ConfirmationCode),
		DepartureAt:           pick(patch.DepartureAt, base.DepartureAt),
		ArrivalAt:             pick(patch.ArrivalAt, base.ArrivalAt),
		HotelName:             pick(patch.HotelName, base.HotelName),
		ReservationNumber:     pick(patch.ReservationNumber, base.ReservationNumber),
		CheckInAt:             pick(patch.CheckInAt, base.CheckInAt),
		CheckOutAt:            pick(patch.CheckOutAt, base.CheckOutAt),
		WeightKg:              pick(patch.WeightKg, base.WeightKg),
		AssociatedServiceID:   pick(patch.AssociatedServiceID, base.AssociatedServiceID),
	}
	payload, err := domain.NewPayload(serviceType, fields)
	if err != nil {
		return Service{}, invalidPayload(err)
	}
	next.Payload = payload
	next.UpdatedAt = now

	if err := validateService(next); err != nil {
		return Service{}, err
	}
	return next, nil
}

func validateService(svc Service) error {
	if svc.Name == "" {
		return fmt.Errorf("%w: name is required", ErrOrderInvalidInput)
	}
	if len(svc.Name) > maxServiceNameLength {
		return fmt.Errorf("%w: name must be at most %d characters", ErrOrderInvalidInput, maxServiceNameLength)
	}
	if err := domain.ValidateAmount("costPrice", svc.CostPrice); err != nil {
		return fmt.Errorf("%w: %v", ErrOrderInvalidInput, err)
	}
	if err := domain.ValidateAmount("salePrice", svc.SalePrice); err != nil {
		return fmt.Errorf("%w: %v", ErrOrderInvalidInput, err)
	}
	if err := domain.ValidateCalendar(svc.Calendar); err != nil {
		return invalidPayload(err)
	}
	return nil
}

func invalidPayload(err error) error {
	if errors.Is(err, domain.ErrInvalidPayload) || errors.Is(err, domain.ErrInvalidServiceType) {
		return fmt.Errorf("%w: %v", ErrOrderInvalidInput, err)
	}
	return err
}

// pick returns the supplied patch value, or the fallback when the field was not supplied. A supplied
// empty string clears the field.
func pick[T any](opt mo.Option[*T], fallback *T) *T {
	value, ok := opt.Get()
	if !ok {
		return fallback
	}
	if s, isString := any(value).(*string); isString && s != nil && strings.TrimSpace(*s) == "" {
		return nil
	}
	return value
}
