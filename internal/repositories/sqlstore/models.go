package sqlstore

import (
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/tripdesk/api/internal/domain"
)

type operatorModel struct {
	ID         string    `gorm:"primaryKey;size:128"`
	Email      string    `gorm:"size:255;not null;index"`
	FullName   string    `gorm:"size:200;not null"`
	Role       string    `gorm:"size:32;not null"`
	SalesCount int64     `gorm:"not null;default:0;index"`
	IsActive   bool      `gorm:"not null"`
	CreatedAt  time.Time `gorm:"not null"`
	UpdatedAt  time.Time `gorm:"not null"`
}

func (operatorModel) TableName() string { return "operators" }

type customerModel struct {
	ID          string    `gorm:"primaryKey;size:26"`
	FullName    string    `gorm:"size:200;not null;index"`
	DocumentID  *string   `gorm:"size:50;uniqueIndex"`
	PhoneNumber *string   `gorm:"size:50"`
	Email       *string   `gorm:"size:255;index"`
	Notes       *string   `gorm:"type:text"`
	CreatedAt   time.Time `gorm:"not null;index"`
	UpdatedAt   time.Time `gorm:"not null"`
}

func (customerModel) TableName() string { return "customers" }

type locationModel struct {
	ID          string           `gorm:"primaryKey;size:26"`
	Country     string           `gorm:"size:100;not null;index:idx_locations_country_city,priority:1"`
	State       *string          `gorm:"size:100"`
	City        string           `gorm:"size:100;not null;index:idx_locations_country_city,priority:2"`
	AirportCode *string          `gorm:"size:10"`
	Latitude    *decimal.Decimal `gorm:"type:decimal(10,7)"`
	Longitude   *decimal.Decimal `gorm:"type:decimal(10,7)"`
	DedupKey    string           `gorm:"size:320;not null;uniqueIndex"`
	CreatedAt   time.Time        `gorm:"not null"`
}

func (locationModel) TableName() string { return "locations" }

type orderModel struct {
	ID             string          `gorm:"primaryKey;size:26"`
	OrderNumber    string          `gorm:"size:32;not null;uniqueIndex"`
	OperatorID     *string         `gorm:"size:128;index"`
	Operator       *operatorModel  `gorm:"foreignKey:OperatorID;constraint:OnDelete:SET NULL"`
	CustomerID     string          `gorm:"size:26;not null;index"`
	Customer       *customerModel  `gorm:"foreignKey:CustomerID;constraint:OnDelete:RESTRICT"`
	TotalCostPrice decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0"`
	TotalSalePrice decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0"`
	CreatedAt      time.Time       `gorm:"not null;index"`
	UpdatedAt      time.Time       `gorm:"not null"`
}

func (orderModel) TableName() string { return "orders" }

type serviceModel struct {
	ID          string          `gorm:"primaryKey;size:26"`
	OrderID     string          `gorm:"size:26;not null;index"`
	Order       *orderModel     `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	ServiceType string          `gorm:"size:16;not null;index"`
	Name        string          `gorm:"size:200;not null"`
	Description *string         `gorm:"type:text"`
	CostPrice   decimal.Decimal `gorm:"type:decimal(10,2);not null"`
	SalePrice   decimal.Decimal `gorm:"type:decimal(10,2);not null"`

	EventStart *time.Time `gorm:"index"`
	EventEnd   *time.Time
	Color      *string `gorm:"size:20"`
	Icon       *string `gorm:"size:50"`

	OriginLocationID      *string        `gorm:"size:26;index:idx_services_route,priority:1"`
	OriginLocation        *locationModel `gorm:"foreignKey:OriginLocationID;constraint:OnDelete:SET NULL"`
	DestinationLocationID *string        `gorm:"size:26;index:idx_services_route,priority:2"`
	DestinationLocation   *locationModel `gorm:"foreignKey:DestinationLocationID;constraint:OnDelete:SET NULL"`
	Carrier               *string        `gorm:"size:100"`
	ConfirmationCode      *string        `gorm:"size:50"`
	DepartureAt           *time.Time     `gorm:"index"`
	ArrivalAt             *time.Time

	HotelName         *string `gorm:"size:200"`
	ReservationNumber *string `gorm:"size:100"`
	CheckInAt         *time.Time
	CheckOutAt        *time.Time

	WeightKg            *decimal.Decimal `gorm:"type:decimal(8,2)"`
	AssociatedServiceID *string          `gorm:"size:26;index"`

	CreatedBy *string   `gorm:"size:128;index"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (serviceModel) TableName() string { return "services" }

type serviceImageModel struct {
	ID        string        `gorm:"primaryKey;size:26"`
	ServiceID string        `gorm:"size:26;not null;index"`
	Service   *serviceModel `gorm:"foreignKey:ServiceID;constraint:OnDelete:CASCADE"`
	ImageURL  string        `gorm:"size:1024;not null"`
	CreatedAt time.Time     `gorm:"not null"`
}

func (serviceImageModel) TableName() string { return "service_images" }

type popularTripModel struct {
	ID                    string         `gorm:"primaryKey;size:26"`
	OriginLocationID      string         `gorm:"size:26;not null;uniqueIndex:ux_popular_trips_route,priority:1"`
	OriginLocation        *locationModel `gorm:"foreignKey:OriginLocationID;constraint:OnDelete:CASCADE"`
	DestinationLocationID string         `gorm:"size:26;not null;uniqueIndex:ux_popular_trips_route,priority:2"`
	DestinationLocation   *locationModel `gorm:"foreignKey:DestinationLocationID;constraint:OnDelete:CASCADE"`
	SalesCount            int64          `gorm:"not null;default:0;index"`
	UpdatedAt             time.Time      `gorm:"not null"`
}

func (popularTripModel) TableName() string { return "popular_trips" }

type counterModel struct {
	ID           string    `gorm:"primaryKey;size:64"`
	CurrentValue int64     `gorm:"not null;default:0"`
	UpdatedAt    time.Time `gorm:"not null"`
}

func (counterModel) TableName() string { return "counters" }

func customerFromDomain(c domain.Customer) customerModel {
	return customerModel{
		ID:          c.ID,
		FullName:    c.FullName,
		DocumentID:  c.DocumentID,
		PhoneNumber: c.PhoneNumber,
		Email:       c.Email,
		Notes:       c.Notes,
		CreatedAt:   c.CreatedAt.UTC(),
		UpdatedAt:   c.UpdatedAt.UTC(),
	}
}

func (m customerModel) toDomain() domain.Customer {
	return domain.Customer{
		ID:          m.ID,
		FullName:    m.FullName,
		DocumentID:  m.DocumentID,
		PhoneNumber: m.PhoneNumber,
		Email:       m.Email,
		Notes:       m.Notes,
		CreatedAt:   m.CreatedAt.UTC(),
		UpdatedAt:   m.UpdatedAt.UTC(),
	}
}

func locationFromDomain(l domain.Location) locationModel {
	return locationModel{
		ID:          l.ID,
		Country:     l.Country,
		State:       l.State,
		City:        l.City,
		AirportCode: l.AirportCode,
		Latitude:    l.Latitude,
		Longitude:   l.Longitude,
		DedupKey:    domain.PlaceKey(l.City, l.State, l.Country),
		CreatedAt:   l.CreatedAt.UTC(),
	}
}

func (m locationModel) toDomain() domain.Location {
	return domain.Location{
		ID:          m.ID,
		Country:     m.Country,
		State:       m.State,
		City:        m.City,
		AirportCode: m.AirportCode,
		Latitude:    m.Latitude,
		Longitude:   m.Longitude,
		CreatedAt:   m.CreatedAt.UTC(),
	}
}

func orderFromDomain(o domain.Order) orderModel {
	return orderModel{
		ID:             o.ID,
		OrderNumber:    o.OrderNumber,
		OperatorID:     o.OperatorID,
		CustomerID:     o.CustomerID,
		TotalCostPrice: o.TotalCostPrice,
		TotalSalePrice: o.TotalSalePrice,
		CreatedAt:      o.CreatedAt.UTC(),
		UpdatedAt:      o.UpdatedAt.UTC(),
	}
}

func (m orderModel) toDomain() domain.Order {
	return domain.Order{
		ID:             m.ID,
		OrderNumber:    m.OrderNumber,
		OperatorID:     m.OperatorID,
		CustomerID:     m.CustomerID,
		TotalCostPrice: m.TotalCostPrice,
		TotalSalePrice: m.TotalSalePrice,
		CreatedAt:      m.CreatedAt.UTC(),
		UpdatedAt:      m.UpdatedAt.UTC(),
	}
}

func serviceFromDomain(s domain.Service) serviceModel {
	f := domain.FieldsOf(s.Payload)
	return serviceModel{
		ID:                    s.ID,
		OrderID:               s.OrderID,
		ServiceType:           string(s.Type()),
		Name:                  s.Name,
		Description:           s.Description,
		CostPrice:             s.CostPrice,
		SalePrice:             s.SalePrice,
		EventStart:            utcPtr(s.Calendar.EventStart),
		EventEnd:              utcPtr(s.Calendar.EventEnd),
		Color:                 s.Calendar.Color,
		Icon:                  s.Calendar.Icon,
		OriginLocationID:      f.OriginLocationID,
		DestinationLocationID: f.DestinationLocationID,
		Carrier:               f.Carrier,
		ConfirmationCode:      f.ConfirmationCode,
		DepartureAt:           utcPtr(f.DepartureAt),
		ArrivalAt:             utcPtr(f.ArrivalAt),
		HotelName:             f.HotelName,
		ReservationNumber:     f.ReservationNumber,
		CheckInAt:             utcPtr(f.CheckInAt),
		CheckOutAt:            utcPtr(f.CheckOutAt),
		WeightKg:              f.WeightKg,
		AssociatedServiceID:   f.AssociatedServiceID,
		CreatedBy:             s.CreatedBy,
		CreatedAt:             s.CreatedAt.UTC(),
		UpdatedAt:             s.UpdatedAt.UTC(),
	}
}

func (m serviceModel) toDomain() (domain.Service, error) {
	fields := domain.ServiceFields{
		OriginLocationID:      m.OriginLocationID,
		DestinationLocationID: m.DestinationLocationID,
		Carrier:               m.Carrier,
		ConfirmationCode:      m.ConfirmationCode,
		DepartureAt:           utcPtr(m.DepartureAt),
		ArrivalAt:             utcPtr(m.ArrivalAt),
		HotelName:             m.HotelName,
		ReservationNumber:     m.ReservationNumber,
		CheckInAt:             utcPtr(m.CheckInAt),
		CheckOutAt:            utcPtr(m.CheckOutAt),
		WeightKg:              m.WeightKg,
		AssociatedServiceID:   m.AssociatedServiceID,
	}
	serviceType, err := domain.ParseServiceType(m.ServiceType)
	if err != nil {
		return domain.Service{}, err
	}
	// Only the columns of the declared variant are loaded.
	payload, err := domain.NewPayload(serviceType, fields.RestrictTo(serviceType))
	if err != nil {
		return domain.Service{}, err
	}
	return domain.Service{
		ID:          m.ID,
		OrderID:     m.OrderID,
		Name:        m.Name,
		Description: m.Description,
		CostPrice:   m.CostPrice,
		SalePrice:   m.SalePrice,
		Calendar: domain.Calendar{
			EventStart: utcPtr(m.EventStart),
			EventEnd:   utcPtr(m.EventEnd),
			Color:      m.Color,
			Icon:       m.Icon,
		},
		Payload:   payload,
		CreatedBy: m.CreatedBy,
		CreatedAt: m.CreatedAt.UTC(),
		UpdatedAt: m.UpdatedAt.UTC(),
	}, nil
}

func (m serviceImageModel) toDomain() domain.ServiceImage {
	return domain.ServiceImage{
		ID:        m.ID,
		ServiceID: m.ServiceID,
		ImageURL:  m.ImageURL,
		CreatedAt: m.CreatedAt.UTC(),
	}
}

func (m popularTripModel) toDomain() domain.PopularTripCounter {
	return domain.PopularTripCounter{
		ID:                    m.ID,
		OriginLocationID:      m.OriginLocationID,
		DestinationLocationID: m.DestinationLocationID,
		SalesCount:            m.SalesCount,
		UpdatedAt:             m.UpdatedAt.UTC(),
	}
}

func operatorFromDomain(o domain.OperatorAccount) operatorModel {
	return operatorModel{
		ID:         o.ID,
		Email:      o.Email,
		FullName:   o.FullName,
		Role:       o.Role,
		SalesCount: o.SalesCount,
		IsActive:   o.IsActive,
		CreatedAt:  o.CreatedAt.UTC(),
		UpdatedAt:  o.UpdatedAt.UTC(),
	}
}

func (m operatorModel) toDomain() domain.OperatorAccount {
	return domain.OperatorAccount{
		ID:         m.ID,
		Email:      m.Email,
		FullName:   m.FullName,
		Role:       m.Role,
		SalesCount: m.SalesCount,
		IsActive:   m.IsActive,
		CreatedAt:  m.CreatedAt.UTC(),
		UpdatedAt:  m.UpdatedAt.UTC(),
	}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
