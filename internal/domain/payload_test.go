package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func strPtr(v string) *string { return &v }

func TestNewPayloadBuildsTransportVariants(t *testing.T) {
	departure := time.Date(2025, time.March, 3, 8, 0, 0, 0, time.UTC)
	arrival := departure.Add(2 * time.Hour)

	payload, err := NewPayload(ServiceTypeFlight, ServiceFields{
		OriginLocationID:      strPtr("loc_a"),
		DestinationLocationID: strPtr("loc_b"),
		ConfirmationCode:      strPtr("PNR123"),
		DepartureAt:           &departure,
		ArrivalAt:             &arrival,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	flight, ok := payload.(FlightPayload)
	if !ok {
		t.Fatalf("expected FlightPayload, got %T", payload)
	}
	if *flight.OriginLocationID != "loc_a" || *flight.DestinationLocationID != "loc_b" {
		t.Fatalf("unexpected route %+v", flight.TransportDetails)
	}

	bus, err := NewPayload(ServiceTypeBus, ServiceFields{OriginLocationID: strPtr("loc_a")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	details, ok := TransportOf(bus)
	if !ok || details.DestinationLocationID != nil {
		t.Fatalf("expected bus transport details with nil destination, got %+v", details)
	}
}

func TestNewPayloadRejectsForeignFields(t *testing.T) {
	cases := []struct {
		name   string
		typ    ServiceType
		fields ServiceFields
	}{
		{"hotel with route", ServiceTypeHotel, ServiceFields{OriginLocationID: strPtr("loc_a")}},
		{"flight with hotel name", ServiceTypeFlight, ServiceFields{HotelName: strPtr("Plaza")}},
		{"other with weight", ServiceTypeOther, ServiceFields{WeightKg: decimalPtr("10")}},
		{"luggage with pnr", ServiceTypeLuggage, ServiceFields{ConfirmationCode: strPtr("X")}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewPayload(tc.typ, tc.fields); !errors.Is(err, ErrInvalidPayload) {
				t.Fatalf("expected ErrInvalidPayload, got %v", err)
			}
		})
	}
}

func TestNewPayloadEnforcesChronology(t *testing.T) {
	checkIn := time.Date(2025, time.May, 10, 15, 0, 0, 0, time.UTC)
	checkOut := checkIn.Add(-24 * time.Hour)
	if _, err := NewPayload(ServiceTypeHotel, ServiceFields{CheckInAt: &checkIn, CheckOutAt: &checkOut}); !errors.Is(err, ErrInvalidPayload) {
		t.Fatalf("expected chronology error, got %v", err)
	}

	same := checkIn
	if _, err := NewPayload(ServiceTypeHotel, ServiceFields{CheckInAt: &checkIn, CheckOutAt: &same}); err != nil {
		t.Fatalf("equal timestamps should be accepted: %v", err)
	}
}

func TestNewPayloadRejectsUnknownType(t *testing.T) {
	if _, err := NewPayload(ServiceType("TRAIN"), ServiceFields{}); !errors.Is(err, ErrInvalidServiceType) {
		t.Fatalf("expected ErrInvalidServiceType, got %v", err)
	}
}

func TestRestrictToDropsFieldsOfOtherVariants(t *testing.T) {
	fields := ServiceFields{
		OriginLocationID: strPtr("loc_a"),
		HotelName:        strPtr("Plaza"),
		WeightKg:         decimalPtr("23"),
	}
	restricted := fields.RestrictTo(ServiceTypeHotel)
	if restricted.OriginLocationID != nil || restricted.WeightKg != nil {
		t.Fatalf("expected only hotel fields, got %+v", restricted)
	}
	if restricted.HotelName == nil || *restricted.HotelName != "Plaza" {
		t.Fatalf("expected hotel name to survive, got %+v", restricted)
	}
}

func TestParseServiceTypeNormalisesCase(t *testing.T) {
	got, err := ParseServiceType(" flight ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != ServiceTypeFlight {
		t.Fatalf("expected FLIGHT, got %s", got)
	}
}

func TestValidateAmount(t *testing.T) {
	if err := ValidateAmount("costPrice", decimal.RequireFromString("150.00")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := ValidateAmount("costPrice", decimal.RequireFromString("-1")); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected negative amount to fail, got %v", err)
	}
	if err := ValidateAmount("costPrice", decimal.RequireFromString("10.005")); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected sub-cent amount to fail, got %v", err)
	}
	if err := ValidateAmount("salePrice", decimal.RequireFromString("99999999.99")); err != nil {
		t.Fatalf("expected the column maximum to pass, got %v", err)
	}
	if err := ValidateAmount("salePrice", decimal.RequireFromString("100000000.00")); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected amount above decimal(10,2) to fail, got %v", err)
	}
}

func TestValidateTotal(t *testing.T) {
	if err := ValidateTotal("totalSalePrice", decimal.RequireFromString("9999999999.99")); err != nil {
		t.Fatalf("expected the column maximum to pass, got %v", err)
	}
	if err := ValidateTotal("totalSalePrice", decimal.RequireFromString("10000000000.00")); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected total above decimal(12,2) to fail, got %v", err)
	}
}

func TestOrderTotalProfitIsDerived(t *testing.T) {
	order := Order{
		TotalCostPrice: decimal.RequireFromString("230.00"),
		TotalSalePrice: decimal.RequireFromString("300.00"),
	}
	if got := FormatMoney(order.TotalProfit()); got != "70.00" {
		t.Fatalf("expected profit 70.00, got %s", got)
	}
}

func decimalPtr(v string) *decimal.Decimal {
	d := decimal.RequireFromString(v)
	return &d
}

func TestPlaceKeyIgnoresCaseAndSpacing(t *testing.T) {
	a := PlaceKey("  Buenos   Aires ", strPtr("CABA"), "Argentina")
	b := PlaceKey("buenos aires", strPtr("caba"), "ARGENTINA")
	if a != b {
		t.Fatalf("expected equal keys, got %q and %q", a, b)
	}
	if PlaceKey("Springfield", nil, "US") == PlaceKey("Springfield", strPtr("IL"), "US") {
		t.Fatalf("expected state to distinguish places")
	}
}
