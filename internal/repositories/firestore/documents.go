package firestore

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/tripdesk/api/internal/domain"
)

const (
	customersCollection     = "customers"
	locationsCollection     = "locations"
	ordersCollection        = "orders"
	servicesCollection      = "services"
	serviceImagesCollection = "serviceImages"
	popularTripsCollection  = "popularTrips"
	operatorsCollection     = "operators"
)

// Money is stored as decimal strings to avoid float rounding in Firestore number fields.

type customerDocument struct {
	FullName    string    `firestore:"fullName"`
	DocumentID  *string   `firestore:"documentId"`
	PhoneNumber *string   `firestore:"phoneNumber"`
	Email       *string   `firestore:"email"`
	Notes       *string   `firestore:"notes"`
	CreatedAt   time.Time `firestore:"createdAt"`
	UpdatedAt   time.Time `firestore:"updatedAt"`
}

type locationDocument struct {
	Country     string    `firestore:"country"`
	State       *string   `firestore:"state"`
	City        string    `firestore:"city"`
	AirportCode *string   `firestore:"airportCode"`
	Latitude    *string   `firestore:"latitude"`
	Longitude   *string   `firestore:"longitude"`
	DedupKey    string    `firestore:"dedupKey"`
	CreatedAt   time.Time `firestore:"createdAt"`
}

type orderDocument struct {
	OrderNumber    string    `firestore:"orderNumber"`
	OperatorID     *string   `firestore:"operatorId"`
	CustomerID     string    `firestore:"customerId"`
	TotalCostPrice string    `firestore:"totalCostPrice"`
	TotalSalePrice string    `firestore:"totalSalePrice"`
	CreatedAt      time.Time `firestore:"createdAt"`
	UpdatedAt      time.Time `firestore:"updatedAt"`
}

type serviceDocument struct {
	OrderID     string  `firestore:"orderId"`
	ServiceType string  `firestore:"serviceType"`
	Name        string  `firestore:"name"`
	Description *string `firestore:"description"`
	CostPrice   string  `firestore:"costPrice"`
	SalePrice   string  `firestore:"salePrice"`

	EventStart *time.Time `firestore:"eventStart"`
	EventEnd   *time.Time `firestore:"eventEnd"`
	Color      *string    `firestore:"color"`
	Icon       *string    `firestore:"icon"`

	OriginLocationID      *string    `firestore:"originLocationId"`
	DestinationLocationID *string    `firestore:"destinationLocationId"`
	Carrier               *string    `firestore:"carrier"`
	ConfirmationCode      *string    `firestore:"confirmationCode"`
	DepartureAt           *time.Time `firestore:"departureAt"`
	ArrivalAt             *time.Time `firestore:"arrivalAt"`

	HotelName         *string    `firestore:"hotelName"`
	ReservationNumber *string    `firestore:"reservationNumber"`
	CheckInAt         *time.Time `firestore:"checkInAt"`
	CheckOutAt        *time.Time `firestore:"checkOutAt"`

	WeightKg            *string `firestore:"weightKg"`
	AssociatedServiceID *string `firestore:"associatedServiceId"`

	CreatedBy *string   `firestore:"createdBy"`
	CreatedAt time.Time `firestore:"createdAt"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

type serviceImageDocument struct {
	ServiceID string    `firestore:"serviceId"`
	ImageURL  string    `firestore:"imageUrl"`
	CreatedAt time.Time `firestore:"createdAt"`
}

type popularTripDocument struct {
	OriginLocationID      string    `firestore:"originLocationId"`
	DestinationLocationID string    `firestore:"destinationLocationId"`
	SalesCount            int64     `firestore:"salesCount"`
	UpdatedAt             time.Time `firestore:"updatedAt"`
}

type operatorDocument struct {
	Email      string    `firestore:"email"`
	FullName   string    `firestore:"fullName"`
	Role       string    `firestore:"role"`
	SalesCount int64     `firestore:"salesCount"`
	IsActive   bool      `firestore:"isActive"`
	CreatedAt  time.Time `firestore:"createdAt"`
	UpdatedAt  time.Time `firestore:"updatedAt"`
}

// routeDocumentID keys route counters by the ordered pair so the same route always maps to one document.
func routeDocumentID(originID, destinationID string) string {
	return originID + ":" + destinationID
}

func customerToDocument(c domain.Customer) customerDocument {
	return customerDocument{
		FullName:    c.FullName,
		DocumentID:  c.DocumentID,
		PhoneNumber: c.PhoneNumber,
		Email:       c.Email,
		Notes:       c.Notes,
		CreatedAt:   c.CreatedAt.UTC(),
		UpdatedAt:   c.UpdatedAt.UTC(),
	}
}

func customerFromDocument(id string, d customerDocument) domain.Customer {
	return domain.Customer{
		ID:          id,
		FullName:    d.FullName,
		DocumentID:  d.DocumentID,
		PhoneNumber: d.PhoneNumber,
		Email:       d.Email,
		Notes:       d.Notes,
		CreatedAt:   d.CreatedAt.UTC(),
		UpdatedAt:   d.UpdatedAt.UTC(),
	}
}

func locationToDocument(l domain.Location) locationDocument {
	return locationDocument{
		Country:     l.Country,
		State:       l.State,
		City:        l.City,
		AirportCode: l.AirportCode,
		Latitude:    decimalString(l.Latitude),
		Longitude:   decimalString(l.Longitude),
		DedupKey:    domain.PlaceKey(l.City, l.State, l.Country),
		CreatedAt:   l.CreatedAt.UTC(),
	}
}

func locationFromDocument(id string, d locationDocument) (domain.Location, error) {
	lat, err := parseOptionalDecimal(d.Latitude)
	if err != nil {
		return domain.Location{}, fmt.Errorf("location %s latitude: %w", id, err)
	}
	lon, err := parseOptionalDecimal(d.Longitude)
	if err != nil {
		return domain.Location{}, fmt.Errorf("location %s longitude: %w", id, err)
	}
	return domain.Location{
		ID:          id,
		Country:     d.Country,
		State:       d.State,
		City:        d.City,
		AirportCode: d.AirportCode,
		Latitude:    lat,
		Longitude:   lon,
		CreatedAt:   d.CreatedAt.UTC(),
	}, nil
}

func orderToDocument(o domain.Order) orderDocument {
	return orderDocument{
		OrderNumber:    o.OrderNumber,
		OperatorID:     o.OperatorID,
		CustomerID:     o.CustomerID,
		TotalCostPrice: o.TotalCostPrice.StringFixed(domain.MoneyPlaces),
		TotalSalePrice: o.TotalSalePrice.StringFixed(domain.MoneyPlaces),
		CreatedAt:      o.CreatedAt.UTC(),
		UpdatedAt:      o.UpdatedAt.UTC(),
	}
}

func orderFromDocument(id string, d orderDocument) (domain.Order, error) {
	cost, err := parseDecimal(d.TotalCostPrice)
	if err != nil {
		return domain.Order{}, fmt.Errorf("order %s totalCostPrice: %w", id, err)
	}
	sale, err := parseDecimal(d.TotalSalePrice)
	if err != nil {
		return domain.Order{}, fmt.Errorf("order %s totalSalePrice: %w", id, err)
	}
	return domain.Order{
		ID:             id,
		OrderNumber:    d.OrderNumber,
		OperatorID:     d.OperatorID,
		CustomerID:     d.CustomerID,
		TotalCostPrice: cost,
		TotalSalePrice: sale,
		CreatedAt:      d.CreatedAt.UTC(),
		UpdatedAt:      d.UpdatedAt.UTC(),
	}, nil
}

func serviceToDocument(s domain.Service) serviceDocument {
	f := domain.FieldsOf(s.Payload)
	return serviceDocument{
		OrderID:               s.OrderID,
		ServiceType:           string(s.Type()),
		Name:                  s.Name,
		Description:           s.Description,
		CostPrice:             s.CostPrice.String(),
		SalePrice:             s.SalePrice.String(),
		EventStart:            s.Calendar.EventStart,
		EventEnd:              s.Calendar.EventEnd,
		Color:                 s.Calendar.Color,
		Icon:                  s.Calendar.Icon,
		OriginLocationID:      f.OriginLocationID,
		DestinationLocationID: f.DestinationLocationID,
		Carrier:               f.Carrier,
		ConfirmationCode:      f.ConfirmationCode,
		DepartureAt:           f.DepartureAt,
		ArrivalAt:             f.ArrivalAt,
		HotelName:             f.HotelName,
		ReservationNumber:     f.ReservationNumber,
		CheckInAt:             f.CheckInAt,
		CheckOutAt:            f.CheckOutAt,
		WeightKg:              decimalString(f.WeightKg),
		AssociatedServiceID:   f.AssociatedServiceID,
		CreatedBy:             s.CreatedBy,
		CreatedAt:             s.CreatedAt.UTC(),
		UpdatedAt:             s.UpdatedAt.UTC(),
	}
}

func serviceFromDocument(id string, d serviceDocument) (domain.Service, error) {
	cost, err := parseDecimal(d.CostPrice)
	if err != nil {
		return domain.Service{}, fmt.Errorf("service %s costPrice: %w", id, err)
	}
	sale, err := parseDecimal(d.SalePrice)
	if err != nil {
		return domain.Service{}, fmt.Errorf("service %s salePrice: %w", id, err)
	}
	weight, err := parseOptionalDecimal(d.WeightKg)
	if err != nil {
		return domain.Service{}, fmt.Errorf("service %s weightKg: %w", id, err)
	}
	serviceType, err := domain.ParseServiceType(d.ServiceType)
	if err != nil {
		return domain.Service{}, err
	}
	fields := domain.ServiceFields{
		OriginLocationID:      d.OriginLocationID,
		DestinationLocationID: d.DestinationLocationID,
		Carrier:               d.Carrier,
		ConfirmationCode:      d.ConfirmationCode,
		DepartureAt:           d.DepartureAt,
		ArrivalAt:             d.ArrivalAt,
		HotelName:             d.HotelName,
		ReservationNumber:     d.ReservationNumber,
		CheckInAt:             d.CheckInAt,
		CheckOutAt:            d.CheckOutAt,
		WeightKg:              weight,
		AssociatedServiceID:   d.AssociatedServiceID,
	}
	payload, err := domain.NewPayload(serviceType, fields.RestrictTo(serviceType))
	if err != nil {
		return domain.Service{}, err
	}
	return domain.Service{
		ID:          id,
		OrderID:     d.OrderID,
		Name:        d.Name,
		Description: d.Description,
		CostPrice:   cost,
		SalePrice:   sale,
		Calendar: domain.Calendar{
			EventStart: d.EventStart,
			EventEnd:   d.EventEnd,
			Color:      d.Color,
			Icon:       d.Icon,
		},
		Payload:   payload,
		CreatedBy: d.CreatedBy,
		CreatedAt: d.CreatedAt.UTC(),
		UpdatedAt: d.UpdatedAt.UTC(),
	}, nil
}

func operatorToDocument(o domain.OperatorAccount) operatorDocument {
	return operatorDocument{
		Email:      o.Email,
		FullName:   o.FullName,
		Role:       o.Role,
		SalesCount: o.SalesCount,
		IsActive:   o.IsActive,
		CreatedAt:  o.CreatedAt.UTC(),
		UpdatedAt:  o.UpdatedAt.UTC(),
	}
}

func operatorFromDocument(id string, d operatorDocument) domain.OperatorAccount {
	return domain.OperatorAccount{
		ID:         id,
		Email:      d.Email,
		FullName:   d.FullName,
		Role:       d.Role,
		SalesCount: d.SalesCount,
		IsActive:   d.IsActive,
		CreatedAt:  d.CreatedAt.UTC(),
		UpdatedAt:  d.UpdatedAt.UTC(),
	}
}

func tripFromDocument(id string, d popularTripDocument) domain.PopularTripCounter {
	return domain.PopularTripCounter{
		ID:                    id,
		OriginLocationID:      d.OriginLocationID,
		DestinationLocationID: d.DestinationLocationID,
		SalesCount:            d.SalesCount,
		UpdatedAt:             d.UpdatedAt.UTC(),
	}
}

func decimalString(v *decimal.Decimal) *string {
	if v == nil {
		return nil
	}
	s := v.String()
	return &s
}

func parseDecimal(raw string) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(raw)
}

func parseOptionalDecimal(raw *string) (*decimal.Decimal, error) {
	if raw == nil {
		return nil, nil
	}
	v, err := decimal.NewFromString(*raw)
	if err != nil {
		return nil, err
	}
	return &v, nil
}
