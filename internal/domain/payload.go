package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ServiceType tags the closed set of service variants.
type ServiceType string

const (
	ServiceTypeFlight  ServiceType = "FLIGHT"
	ServiceTypeBus     ServiceType = "BUS"
	ServiceTypeHotel   ServiceType = "HOTEL"
	ServiceTypeLuggage ServiceType = "LUGGAGE"
	ServiceTypeOther   ServiceType = "OTHER"
)

var (
	// ErrInvalidServiceType is returned for tags outside the closed variant set.
	ErrInvalidServiceType = errors.New("service type invalid")
	// ErrInvalidPayload is returned when type-specific fields do not fit the declared type.
	ErrInvalidPayload = errors.New("service payload invalid")
)

// ParseServiceType normalises and validates a service type tag.
func ParseServiceType(raw string) (ServiceType, error) {
	switch t := ServiceType(strings.ToUpper(strings.TrimSpace(raw))); t {
	case ServiceTypeFlight, ServiceTypeBus, ServiceTypeHotel, ServiceTypeLuggage, ServiceTypeOther:
		return t, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidServiceType, raw)
	}
}

// IsTransport reports whether the type carries a route.
func (t ServiceType) IsTransport() bool {
	return t == ServiceTypeFlight || t == ServiceTypeBus
}

// ServicePayload is the type-specific part of a service. Implementations are closed to this package.
type ServicePayload interface {
	Type() ServiceType
	fields() ServiceFields
}

// TransportDetails is shared by flights and buses.
type TransportDetails struct {
	OriginLocationID      *string
	DestinationLocationID *string
	Carrier               *string
	ConfirmationCode      *string
	DepartureAt           *time.Time
	ArrivalAt             *time.Time
}

// FlightPayload describes a flight segment.
type FlightPayload struct{ TransportDetails }

// BusPayload describes a bus trip.
type BusPayload struct{ TransportDetails }

// HotelPayload describes a hotel stay.
type HotelPayload struct {
	HotelName         *string
	ReservationNumber *string
	CheckInAt         *time.Time
	CheckOutAt        *time.Time
}

// LuggagePayload describes extra luggage, optionally tied to a transport service.
type LuggagePayload struct {
	WeightKg            *decimal.Decimal
	AssociatedServiceID *string
}

// OtherPayload carries no type-specific fields.
type OtherPayload struct{}

func (FlightPayload) Type() ServiceType  { return ServiceTypeFlight }
func (BusPayload) Type() ServiceType     { return ServiceTypeBus }
func (HotelPayload) Type() ServiceType   { return ServiceTypeHotel }
func (LuggagePayload) Type() ServiceType { return ServiceTypeLuggage }
func (OtherPayload) Type() ServiceType   { return ServiceTypeOther }

func (p FlightPayload) fields() ServiceFields { return p.TransportDetails.fields() }
func (p BusPayload) fields() ServiceFields    { return p.TransportDetails.fields() }

func (t TransportDetails) fields() ServiceFields {
	return ServiceFields{
		OriginLocationID:      t.OriginLocationID,
		DestinationLocationID: t.DestinationLocationID,
		Carrier:               t.Carrier,
		ConfirmationCode:      t.ConfirmationCode,
		DepartureAt:           t.DepartureAt,
		ArrivalAt:             t.ArrivalAt,
	}
}

func (p HotelPayload) fields() ServiceFields {
	return ServiceFields{
		HotelName:         p.HotelName,
		ReservationNumber: p.ReservationNumber,
		CheckInAt:         p.CheckInAt,
		CheckOutAt:        p.CheckOutAt,
	}
}

func (p LuggagePayload) fields() ServiceFields {
	return ServiceFields{
		WeightKg:            p.WeightKg,
		AssociatedServiceID: p.AssociatedServiceID,
	}
}

func (OtherPayload) fields() ServiceFields { return ServiceFields{} }

// TransportOf extracts the route details of flight and bus payloads.
func TransportOf(p ServicePayload) (TransportDetails, bool) {
	switch v := p.(type) {
	case FlightPayload:
		return v.TransportDetails, true
	case BusPayload:
		return v.TransportDetails, true
	default:
		return TransportDetails{}, false
	}
}

// ServiceFields is the flat shape of every type-specific field, as stored and sent over the wire.
type ServiceFields struct {
	OriginLocationID      *string
	DestinationLocationID *string
	Carrier               *string
	ConfirmationCode      *string
	DepartureAt           *time.Time
	ArrivalAt             *time.Time

	HotelName         *string
	ReservationNumber *string
	CheckInAt         *time.Time
	CheckOutAt        *time.Time

	WeightKg            *decimal.Decimal
	AssociatedServiceID *string
}

// FieldsOf flattens a payload. A nil payload yields no fields.
func FieldsOf(p ServicePayload) ServiceFields {
	if p == nil {
		return ServiceFields{}
	}
	return p.fields()
}

// NewPayload builds the variant for t, rejecting fields that belong to another variant.
func NewPayload(t ServiceType, f ServiceFields) (ServicePayload, error) {
	if _, err := ParseServiceType(string(t)); err != nil {
		return nil, err
	}
	for _, name := range f.present() {
		if !fieldAllowed(t, name) {
			return nil, fmt.Errorf("%w: %s is not allowed for %s services", ErrInvalidPayload, name, t)
		}
	}

	switch t {
	case ServiceTypeFlight, ServiceTypeBus:
		if err := checkChronology(f.DepartureAt, f.ArrivalAt, "departureDatetime", "arrivalDatetime"); err != nil {
			return nil, err
		}
		details := TransportDetails{
			OriginLocationID:      f.OriginLocationID,
			DestinationLocationID: f.DestinationLocationID,
			Carrier:               f.Carrier,
			ConfirmationCode:      f.ConfirmationCode,
			DepartureAt:           f.DepartureAt,
			ArrivalAt:             f.ArrivalAt,
		}
		if t == ServiceTypeFlight {
			return FlightPayload{TransportDetails: details}, nil
		}
		return BusPayload{TransportDetails: details}, nil
	case ServiceTypeHotel:
		if err := checkChronology(f.CheckInAt, f.CheckOutAt, "checkInDatetime", "checkOutDatetime"); err != nil {
			return nil, err
		}
		return HotelPayload{
			HotelName:         f.HotelName,
			ReservationNumber: f.ReservationNumber,
			CheckInAt:         f.CheckInAt,
			CheckOutAt:        f.CheckOutAt,
		}, nil
	case ServiceTypeLuggage:
		if f.WeightKg != nil && f.WeightKg.IsNegative() {
			return nil, fmt.Errorf("%w: weightKg must be non-negative", ErrInvalidPayload)
		}
		return LuggagePayload{
			WeightKg:            f.WeightKg,
			AssociatedServiceID: f.AssociatedServiceID,
		}, nil
	default:
		return OtherPayload{}, nil
	}
}

// RestrictTo drops every field that does not belong to t.
func (f ServiceFields) RestrictTo(t ServiceType) ServiceFields {
	var out ServiceFields
	if t.IsTransport() {
		out.OriginLocationID = f.OriginLocationID
		out.DestinationLocationID = f.DestinationLocationID
		out.Carrier = f.Carrier
		out.ConfirmationCode = f.ConfirmationCode
		out.DepartureAt = f.DepartureAt
		out.ArrivalAt = f.ArrivalAt
	}
	if t == ServiceTypeHotel {
		out.HotelName = f.HotelName
		out.ReservationNumber = f.ReservationNumber
		out.CheckInAt = f.CheckInAt
		out.CheckOutAt = f.CheckOutAt
	}
	if t == ServiceTypeLuggage {
		out.WeightKg = f.WeightKg
		out.AssociatedServiceID = f.AssociatedServiceID
	}
	return out
}

// ValidateCalendar checks the agenda window ordering.
func ValidateCalendar(c Calendar) error {
	return checkChronology(c.EventStart, c.EventEnd, "eventStartDate", "eventEndDate")
}

func (f ServiceFields) present() []string {
	var names []string
	add := func(set bool, name string) {
		if set {
			names = append(names, name)
		}
	}
	add(f.OriginLocationID != nil, "originLocationId")
	add(f.DestinationLocationID != nil, "destinationLocationId")
	add(f.Carrier != nil, "company")
	add(f.ConfirmationCode != nil, "pnrCode")
	add(f.DepartureAt != nil, "departureDatetime")
	add(f.ArrivalAt != nil, "arrivalDatetime")
	add(f.HotelName != nil, "hotelName")
	add(f.ReservationNumber != nil, "reservationNumber")
	add(f.CheckInAt != nil, "checkInDatetime")
	add(f.CheckOutAt != nil, "checkOutDatetime")
	add(f.WeightKg != nil, "weightKg")
	add(f.AssociatedServiceID != nil, "associatedServiceId")
	return names
}

func fieldAllowed(t ServiceType, name string) bool {
	switch name {
	case "originLocationId", "destinationLocationId", "company", "pnrCode", "departureDatetime", "arrivalDatetime":
		return t.IsTransport()
	case "hotelName", "reservationNumber", "checkInDatetime", "checkOutDatetime":
		return t == ServiceTypeHotel
	case "weightKg", "associatedServiceId":
		return t == ServiceTypeLuggage
	default:
		return false
	}
}

func checkChronology(start, end *time.Time, startName, endName string) error {
	if start == nil || end == nil {
		return nil
	}
	if end.Before(*start) {
		return fmt.Errorf("%w: %s must not be before %s", ErrInvalidPayload, endName, startName)
	}
	return nil
}
