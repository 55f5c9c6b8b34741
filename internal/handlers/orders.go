package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/samber/lo"
	"github.com/samber/mo"
	"github.com/shopspring/decimal"

	domain "github.com/tripdesk/api/internal/domain"
	"github.com/tripdesk/api/internal/platform/httpx"
	"github.com/tripdesk/api/internal/platform/pagination"
	"github.com/tripdesk/api/internal/repositories"
	"github.com/tripdesk/api/internal/services"
)

const (
	defaultOrderPageSize = 20
	maxOrderPageSize     = 100
	maxServiceBodySize   = 32 * 1024
	maxImageURLsPerCall  = 20
)

// OrderHandlers exposes the order and service lifecycle endpoints.
type OrderHandlers struct {
	guard   *AccessGuard
	orders  services.OrderService
	uploads services.ImageUploadService
}

// NewOrderHandlers constructs order handlers. uploads may be nil when no media bucket is configured.
func NewOrderHandlers(guard *AccessGuard, orders services.OrderService, uploads services.ImageUploadService) *OrderHandlers {
	return &OrderHandlers{
		guard:   guard,
		orders:  orders,
		uploads: uploads,
	}
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	guard(r, h.guard)
	r.Post("/", h.createOrder)
	r.Get("/", h.listOrders)
	r.Get("/{orderID}", h.getOrder)
	r.Delete("/{orderID}", h.deleteOrder)
	r.Post("/{orderID}/services", h.addService)
	r.Put("/services/{serviceID}", h.updateService)
	r.Delete("/services/{serviceID}", h.deleteService)
	r.Post("/services/{serviceID}/images", h.addServiceImages)
	r.Post("/services/{serviceID}/images:upload-url", h.issueUploadURL)
	r.Delete("/services/images/{imageID}", h.deleteServiceImage)
}

type createOrderRequest struct {
	CustomerID string `json:"customerId"`
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.available(ctx, w) {
		return
	}
	actor, ok := requireActor(ctx, w)
	if !ok {
		return
	}

	var req createOrderRequest
	if err := decodeJSONBody(r, defaultBodyLimit, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	order, err := h.orders.CreateOrder(ctx, services.CreateOrderCommand{
		CustomerID: strings.TrimSpace(req.CustomerID),
		ActorID:    actor,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.available(ctx, w) {
		return
	}
	if _, ok := requireActor(ctx, w); !ok {
		return
	}

	params, err := pagination.FromRequest(r, pagination.Options{
		DefaultPageSize: defaultOrderPageSize,
		MaxPageSize:     maxOrderPageSize,
	})
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	query := r.URL.Query()
	filter := services.OrderListFilter{
		CustomerID: strings.TrimSpace(query.Get("customerId")),
		OperatorID: strings.TrimSpace(query.Get("operatorId")),
		Pagination: services.Pagination{
			PageSize:  params.PageSize,
			PageToken: params.PageToken,
		},
	}

	from, err := optionalTimeParam(query.Get("from"))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "from must be an RFC3339 timestamp or YYYY-MM-DD date", http.StatusBadRequest))
		return
	}
	to, err := optionalTimeParam(query.Get("to"))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "to must be an RFC3339 timestamp or YYYY-MM-DD date", http.StatusBadRequest))
		return
	}
	filter.From, filter.To = from, to

	page, err := h.orders.ListOrders(ctx, filter)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, orderListResponse{
		Items:         lo.Map(page.Items, func(order services.Order, _ int) orderPayload { return buildOrderPayload(order) }),
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	})
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.available(ctx, w) {
		return
	}
	if _, ok := requireActor(ctx, w); !ok {
		return
	}

	orderID, ok := pathID(ctx, w, r, "orderID", "order")
	if !ok {
		return
	}
	details, err := h.orders.GetOrder(ctx, orderID)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, orderDetailsResponse{Order: buildOrderDetailsPayload(details)})
}

func (h *OrderHandlers) deleteOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.available(ctx, w) {
		return
	}
	actor, ok := requireActor(ctx, w)
	if !ok {
		return
	}
	orderID, ok := pathID(ctx, w, r, "orderID", "order")
	if !ok {
		return
	}
	if err := h.orders.DeleteOrder(ctx, services.DeleteOrderCommand{OrderID: orderID, ActorID: actor}); err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *OrderHandlers) addService(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.available(ctx, w) {
		return
	}
	actor, ok := requireActor(ctx, w)
	if !ok {
		return
	}
	orderID, ok := pathID(ctx, w, r, "orderID", "order")
	if !ok {
		return
	}

	var req serviceRequest
	if err := decodeJSONBody(r, maxServiceBodySize, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	input, err := req.toInput()
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	result, err := h.orders.AddService(ctx, services.AddServiceCommand{
		OrderID: orderID,
		ActorID: actor,
		Service: input,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, buildServiceMutationResponse(result))
}

func (h *OrderHandlers) updateService(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.available(ctx, w) {
		return
	}
	actor, ok := requireActor(ctx, w)
	if !ok {
		return
	}
	serviceID, ok := pathID(ctx, w, r, "serviceID", "service")
	if !ok {
		return
	}

	body, err := readLimitedBody(r, maxServiceBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	patch, err := parseServicePatch(body)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	result, err := h.orders.UpdateService(ctx, services.UpdateServiceCommand{
		ServiceID: serviceID,
		ActorID:   actor,
		Patch:     patch,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildServiceMutationResponse(result))
}

func (h *OrderHandlers) deleteService(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.available(ctx, w) {
		return
	}
	actor, ok := requireActor(ctx, w)
	if !ok {
		return
	}
	serviceID, ok := pathID(ctx, w, r, "serviceID", "service")
	if !ok {
		return
	}
	if _, err := h.orders.DeleteService(ctx, services.DeleteServiceCommand{ServiceID: serviceID, ActorID: actor}); err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type addImagesRequest struct {
	ImageURLs []string `json:"imageUrls"`
}

func (h *OrderHandlers) addServiceImages(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.available(ctx, w) {
		return
	}
	actor, ok := requireActor(ctx, w)
	if !ok {
		return
	}
	serviceID, ok := pathID(ctx, w, r, "serviceID", "service")
	if !ok {
		return
	}

	var req addImagesRequest
	if err := decodeJSONBody(r, defaultBodyLimit, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	if len(req.ImageURLs) > maxImageURLsPerCall {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", fmt.Sprintf("at most %d image urls per request", maxImageURLsPerCall), http.StatusBadRequest))
		return
	}

	images, err := h.orders.AddServiceImages(ctx, services.AddServiceImagesCommand{
		ServiceID: serviceID,
		ImageURLs: req.ImageURLs,
		ActorID:   actor,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, serviceImagesResponse{
		Images: lo.Map(images, func(img services.ServiceImage, _ int) serviceImagePayload { return buildServiceImagePayload(img) }),
	})
}

type uploadURLRequest struct {
	FileName    string `json:"fileName"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
}

type uploadURLResponse struct {
	ObjectPath string            `json:"objectPath"`
	UploadURL  string            `json:"uploadUrl"`
	PublicURL  string            `json:"publicUrl"`
	Method     string            `json:"method"`
	Headers    map[string]string `json:"headers,omitempty"`
	ExpiresAt  string            `json:"expiresAt"`
}

func (h *OrderHandlers) issueUploadURL(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.uploads == nil {
		httpx.WriteError(ctx, w, httpx.NewError("upload_unavailable", "image uploads are not configured", http.StatusServiceUnavailable))
		return
	}
	actor, ok := requireActor(ctx, w)
	if !ok {
		return
	}
	serviceID, ok := pathID(ctx, w, r, "serviceID", "service")
	if !ok {
		return
	}

	var req uploadURLRequest
	if err := decodeJSONBody(r, defaultBodyLimit, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	signed, err := h.uploads.IssueUploadURL(ctx, services.IssueUploadURLCommand{
		ServiceID:   serviceID,
		FileName:    req.FileName,
		ContentType: req.ContentType,
		Size:        req.Size,
		ActorID:     actor,
	})
	if err != nil {
		switch {
		case errors.Is(err, services.ErrImageUploadInvalidInput):
			httpx.WriteError(ctx, w, httpx.NewError("invalid_upload", err.Error(), http.StatusBadRequest))
		case errors.Is(err, services.ErrOrderServiceNotFound):
			httpx.WriteError(ctx, w, httpx.NewError("service_not_found", "service not found", http.StatusNotFound))
		case errors.Is(err, services.ErrImageUploadUnavailable):
			httpx.WriteError(ctx, w, httpx.NewError("upload_unavailable", "upload signing unavailable", http.StatusServiceUnavailable))
		default:
			httpx.WriteError(ctx, w, httpx.NewError("upload_error", err.Error(), http.StatusInternalServerError))
		}
		return
	}

	httpx.WriteJSON(w, http.StatusOK, uploadURLResponse{
		ObjectPath: signed.ObjectPath,
		UploadURL:  signed.URL,
		PublicURL:  signed.PublicURL,
		Method:     signed.Method,
		Headers:    signed.Headers,
		ExpiresAt:  formatTime(signed.ExpiresAt),
	})
}

func (h *OrderHandlers) deleteServiceImage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.available(ctx, w) {
		return
	}
	actor, ok := requireActor(ctx, w)
	if !ok {
		return
	}
	imageID, ok := pathID(ctx, w, r, "imageID", "image")
	if !ok {
		return
	}
	if err := h.orders.DeleteServiceImage(ctx, services.DeleteServiceImageCommand{ImageID: imageID, ActorID: actor}); err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *OrderHandlers) available(ctx context.Context, w http.ResponseWriter) bool {
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return false
	}
	return true
}

func pathID(ctx context.Context, w http.ResponseWriter, r *http.Request, param, name string) (string, bool) {
	id := strings.TrimSpace(chi.URLParam(r, param))
	if id == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", name+" id is required", http.StatusBadRequest))
		return "", false
	}
	return id, true
}

func writeBodyError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errBodyTooLarge):
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	}
}

// Requests --------------------------------------------------------------------

type serviceRequest struct {
	ServiceType string           `json:"serviceType"`
	Name        string           `json:"name"`
	Description *string          `json:"description"`
	CostPrice   *decimal.Decimal `json:"costPrice"`
	SalePrice   *decimal.Decimal `json:"salePrice"`

	EventStartDate *time.Time `json:"eventStartDate"`
	EventEndDate   *time.Time `json:"eventEndDate"`
	Color          *string    `json:"color"`
	Icon           *string    `json:"icon"`

	OriginLocationID      *string    `json:"originLocationId"`
	DestinationLocationID *string    `json:"destinationLocationId"`
	Company               *string    `json:"company"`
	PNRCode               *string    `json:"pnrCode"`
	DepartureDatetime     *time.Time `json:"departureDatetime"`
	ArrivalDatetime       *time.Time `json:"arrivalDatetime"`

	HotelName         *string    `json:"hotelName"`
	ReservationNumber *string    `json:"reservationNumber"`
	CheckInDatetime   *time.Time `json:"checkInDatetime"`
	CheckOutDatetime  *time.Time `json:"checkOutDatetime"`

	WeightKg            *decimal.Decimal `json:"weightKg"`
	AssociatedServiceID *string          `json:"associatedServiceId"`
}

func (req serviceRequest) toInput() (services.ServiceInput, error) {
	if strings.TrimSpace(req.ServiceType) == "" {
		return services.ServiceInput{}, errors.New("serviceType is required")
	}
	if req.CostPrice == nil {
		return services.ServiceInput{}, errors.New("costPrice is required")
	}
	if req.SalePrice == nil {
		return services.ServiceInput{}, errors.New("salePrice is required")
	}
	return services.ServiceInput{
		ServiceType: req.ServiceType,
		Name:        req.Name,
		Description: req.Description,
		CostPrice:   *req.CostPrice,
		SalePrice:   *req.SalePrice,
		Calendar: domain.Calendar{
			EventStart: utcTimePtr(req.EventStartDate),
			EventEnd:   utcTimePtr(req.EventEndDate),
			Color:      req.Color,
			Icon:       req.Icon,
		},
		Fields: domain.ServiceFields{
			OriginLocationID:      req.OriginLocationID,
			DestinationLocationID: req.DestinationLocationID,
			Carrier:               req.Company,
			ConfirmationCode:      req.PNRCode,
			DepartureAt:           utcTimePtr(req.DepartureDatetime),
			ArrivalAt:             utcTimePtr(req.ArrivalDatetime),
			HotelName:             req.HotelName,
			ReservationNumber:     req.ReservationNumber,
			CheckInAt:             utcTimePtr(req.CheckInDatetime),
			CheckOutAt:            utcTimePtr(req.CheckOutDatetime),
			WeightKg:              req.WeightKg,
			AssociatedServiceID:   req.AssociatedServiceID,
		},
	}, nil
}

// parseServicePatch reads a partial update. Absent keys stay untouched; explicit nulls clear
// optional fields.
func parseServicePatch(data []byte) (services.ServicePatch, error) {
	var patch services.ServicePatch
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return patch, fmt.Errorf("invalid JSON payload: %w", err)
	}
	if len(raw) == 0 {
		return patch, errNoEditableFields
	}

	for key, value := range raw {
		var err error
		switch key {
		case "serviceType":
			patch.ServiceType, err = requiredField[string](key, value)
		case "name":
			patch.Name, err = requiredField[string](key, value)
		case "costPrice":
			patch.CostPrice, err = requiredField[decimal.Decimal](key, value)
		case "salePrice":
			patch.SalePrice, err = requiredField[decimal.Decimal](key, value)
		case "description":
			patch.Description, err = nullableField[string](key, value)
		case "eventStartDate":
			patch.EventStart, err = nullableTimeField(key, value)
		case "eventEndDate":
			patch.EventEnd, err = nullableTimeField(key, value)
		case "color":
			patch.Color, err = nullableField[string](key, value)
		case "icon":
			patch.Icon, err = nullableField[string](key, value)
		case "originLocationId":
			patch.OriginLocationID, err = nullableField[string](key, value)
		case "destinationLocationId":
			patch.DestinationLocationID, err = nullableField[string](key, value)
		case "company":
			patch.Carrier, err = nullableField[string](key, value)
		case "pnrCode":
			patch.ConfirmationCode, err = nullableField[string](key, value)
		case "departureDatetime":
			patch.DepartureAt, err = nullableTimeField(key, value)
		case "arrivalDatetime":
			patch.ArrivalAt, err = nullableTimeField(key, value)
		case "hotelName":
			patch.HotelName, err = nullableField[string](key, value)
		case "reservationNumber":
			patch.ReservationNumber, err = nullableField[string](key, value)
		case "checkInDatetime":
			patch.CheckInAt, err = nullableTimeField(key, value)
		case "checkOutDatetime":
			patch.CheckOutAt, err = nullableTimeField(key, value)
		case "weightKg":
			patch.WeightKg, err = nullableField[decimal.Decimal](key, value)
		case "associatedServiceId":
			patch.AssociatedServiceID, err = nullableField[string](key, value)
		default:
			return patch, fmt.Errorf("field %q is not editable", key)
		}
		if err != nil {
			return patch, err
		}
	}
	return patch, nil
}

func requiredField[T any](key string, value json.RawMessage) (mo.Option[T], error) {
	if isJSONNull(value) {
		return mo.None[T](), fmt.Errorf("%s must not be null", key)
	}
	var out T
	if err := json.Unmarshal(value, &out); err != nil {
		return mo.None[T](), fmt.Errorf("%s has an invalid value", key)
	}
	return mo.Some(out), nil
}

func nullableField[T any](key string, value json.RawMessage) (mo.Option[*T], error) {
	if isJSONNull(value) {
		return mo.Some[*T](nil), nil
	}
	var out T
	if err := json.Unmarshal(value, &out); err != nil {
		return mo.None[*T](), fmt.Errorf("%s has an invalid value", key)
	}
	return mo.Some(&out), nil
}

func nullableTimeField(key string, value json.RawMessage) (mo.Option[*time.Time], error) {
	if isJSONNull(value) {
		return mo.Some[*time.Time](nil), nil
	}
	var raw string
	if err := json.Unmarshal(value, &raw); err != nil {
		return mo.None[*time.Time](), fmt.Errorf("%s must be an RFC3339 timestamp", key)
	}
	ts, err := parseRFC3339(strings.TrimSpace(raw))
	if err != nil {
		return mo.None[*time.Time](), fmt.Errorf("%s must be an RFC3339 timestamp", key)
	}
	return mo.Some(&ts), nil
}

func utcTimePtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	utc := t.UTC()
	return &utc
}

// Responses -------------------------------------------------------------------

type orderPayload struct {
	ID             string  `json:"id"`
	OrderNumber    string  `json:"orderNumber"`
	CustomerID     string  `json:"customerId"`
	OperatorID     *string `json:"operatorId"`
	TotalCostPrice string  `json:"totalCostPrice"`
	TotalSalePrice string  `json:"totalSalePrice"`
	TotalProfit    string  `json:"totalProfit"`
	CreatedAt      string  `json:"createdAt"`
	UpdatedAt      string  `json:"updatedAt"`
}

type orderDetailsPayload struct {
	orderPayload
	Customer customerPayload  `json:"customer"`
	Operator *operatorPayload `json:"operator"`
	Services []servicePayload `json:"services"`
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type orderDetailsResponse struct {
	Order orderDetailsPayload `json:"order"`
}

type orderListResponse struct {
	Items         []orderPayload `json:"items"`
	NextPageToken string         `json:"nextPageToken,omitempty"`
}

type servicePayload struct {
	ID          string  `json:"id"`
	OrderID     string  `json:"orderId"`
	ServiceType string  `json:"serviceType"`
	Name        string  `json:"name"`
	Description *string `json:"description"`
	CostPrice   string  `json:"costPrice"`
	SalePrice   string  `json:"salePrice"`
	Profit      string  `json:"profit"`

	EventStartDate *string `json:"eventStartDate"`
	EventEndDate   *string `json:"eventEndDate"`
	Color          *string `json:"color"`
	Icon           *string `json:"icon"`

	OriginLocationID      *string `json:"originLocationId,omitempty"`
	DestinationLocationID *string `json:"destinationLocationId,omitempty"`
	Company               *string `json:"company,omitempty"`
	PNRCode               *string `json:"pnrCode,omitempty"`
	DepartureDatetime     *string `json:"departureDatetime,omitempty"`
	ArrivalDatetime       *string `json:"arrivalDatetime,omitempty"`

	HotelName         *string `json:"hotelName,omitempty"`
	ReservationNumber *string `json:"reservationNumber,omitempty"`
	CheckInDatetime   *string `json:"checkInDatetime,omitempty"`
	CheckOutDatetime  *string `json:"checkOutDatetime,omitempty"`

	WeightKg            *string `json:"weightKg,omitempty"`
	AssociatedServiceID *string `json:"associatedServiceId,omitempty"`

	CreatedBy *string `json:"createdBy"`
	CreatedAt string  `json:"createdAt"`
	UpdatedAt string  `json:"updatedAt"`

	OriginLocation      *locationPayload      `json:"originLocation,omitempty"`
	DestinationLocation *locationPayload      `json:"destinationLocation,omitempty"`
	Images              []serviceImagePayload `json:"images,omitempty"`
}

type serviceImagePayload struct {
	ID        string `json:"id"`
	ServiceID string `json:"serviceId"`
	ImageURL  string `json:"imageUrl"`
	CreatedAt string `json:"createdAt"`
}

type serviceImagesResponse struct {
	Images []serviceImagePayload `json:"images"`
}

type attributionPayload struct {
	Counted         bool   `json:"counted"`
	SkipReason      string `json:"skipReason,omitempty"`
	OperatorID      string `json:"operatorId,omitempty"`
	RouteSalesCount *int64 `json:"routeSalesCount,omitempty"`
}

type serviceMutationResponse struct {
	Service     servicePayload      `json:"service"`
	Order       orderPayload        `json:"order"`
	Attribution *attributionPayload `json:"attribution,omitempty"`
}

func buildOrderPayload(order services.Order) orderPayload {
	return orderPayload{
		ID:             order.ID,
		OrderNumber:    order.OrderNumber,
		CustomerID:     order.CustomerID,
		OperatorID:     order.OperatorID,
		TotalCostPrice: formatMoney(order.TotalCostPrice),
		TotalSalePrice: formatMoney(order.TotalSalePrice),
		TotalProfit:    formatMoney(order.TotalProfit()),
		CreatedAt:      formatTime(order.CreatedAt),
		UpdatedAt:      formatTime(order.UpdatedAt),
	}
}

func buildOrderDetailsPayload(details services.OrderDetails) orderDetailsPayload {
	payload := orderDetailsPayload{
		orderPayload: buildOrderPayload(details.Order),
		Customer:     buildCustomerPayload(details.Customer),
		Services: lo.Map(details.Services, func(svc services.ServiceDetails, _ int) servicePayload {
			return buildServiceDetailsPayload(svc)
		}),
	}
	if details.Operator != nil {
		operator := buildOperatorPayload(*details.Operator)
		payload.Operator = &operator
	}
	return payload
}

func buildServicePayload(svc services.Service) servicePayload {
	fields := domain.FieldsOf(svc.Payload)
	return servicePayload{
		ID:                    svc.ID,
		OrderID:               svc.OrderID,
		ServiceType:           string(svc.Type()),
		Name:                  svc.Name,
		Description:           svc.Description,
		CostPrice:             formatMoney(svc.CostPrice),
		SalePrice:             formatMoney(svc.SalePrice),
		Profit:                formatMoney(svc.SalePrice.Sub(svc.CostPrice)),
		EventStartDate:        formatTimePtr(svc.Calendar.EventStart),
		EventEndDate:          formatTimePtr(svc.Calendar.EventEnd),
		Color:                 svc.Calendar.Color,
		Icon:                  svc.Calendar.Icon,
		OriginLocationID:      fields.OriginLocationID,
		DestinationLocationID: fields.DestinationLocationID,
		Company:               fields.Carrier,
		PNRCode:               fields.ConfirmationCode,
		DepartureDatetime:     formatTimePtr(fields.DepartureAt),
		ArrivalDatetime:       formatTimePtr(fields.ArrivalAt),
		HotelName:             fields.HotelName,
		ReservationNumber:     fields.ReservationNumber,
		CheckInDatetime:       formatTimePtr(fields.CheckInAt),
		CheckOutDatetime:      formatTimePtr(fields.CheckOutAt),
		WeightKg:              formatDecimalPtr(fields.WeightKg),
		AssociatedServiceID:   fields.AssociatedServiceID,
		CreatedBy:             svc.CreatedBy,
		CreatedAt:             formatTime(svc.CreatedAt),
		UpdatedAt:             formatTime(svc.UpdatedAt),
	}
}

func buildServiceDetailsPayload(details services.ServiceDetails) servicePayload {
	payload := buildServicePayload(details.Service)
	if details.OriginLocation != nil {
		origin := buildLocationPayload(*details.OriginLocation)
		payload.OriginLocation = &origin
	}
	if details.DestinationLocation != nil {
		destination := buildLocationPayload(*details.DestinationLocation)
		payload.DestinationLocation = &destination
	}
	payload.Images = lo.Map(details.Images, func(img services.ServiceImage, _ int) serviceImagePayload {
		return buildServiceImagePayload(img)
	})
	return payload
}

func buildServiceImagePayload(img services.ServiceImage) serviceImagePayload {
	return serviceImagePayload{
		ID:        img.ID,
		ServiceID: img.ServiceID,
		ImageURL:  img.ImageURL,
		CreatedAt: formatTime(img.CreatedAt),
	}
}

func buildServiceMutationResponse(result services.ServiceMutationResult) serviceMutationResponse {
	resp := serviceMutationResponse{
		Service: buildServicePayload(result.Service),
		Order:   buildOrderPayload(result.Order),
	}
	if result.Attribution != nil {
		attribution := &attributionPayload{
			Counted:    result.Attribution.Counted,
			SkipReason: result.Attribution.SkipReason,
			OperatorID: result.Attribution.OperatorID,
		}
		if result.Attribution.RouteCounter != nil {
			count := result.Attribution.RouteCounter.SalesCount
			attribution.RouteSalesCount = &count
		}
		resp.Attribution = attribution
	}
	return resp
}

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}

	switch {
	case errors.Is(err, services.ErrOrderInvalidInput),
		errors.Is(err, domain.ErrInvalidPayload),
		errors.Is(err, domain.ErrInvalidServiceType),
		errors.Is(err, domain.ErrInvalidAmount):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
		return
	case errors.Is(err, services.ErrOrderServiceNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("service_not_found", "service not found", http.StatusNotFound))
		return
	case errors.Is(err, services.ErrOrderServiceImageNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("image_not_found", "service image not found", http.StatusNotFound))
		return
	case errors.Is(err, services.ErrCustomerNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("customer_not_found", "customer not found", http.StatusNotFound))
		return
	case errors.Is(err, services.ErrOperatorNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("operator_not_found", "operator not found", http.StatusNotFound))
		return
	case errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError("order_conflict", "order was modified concurrently; retry the request", http.StatusConflict))
		return
	case errors.Is(err, services.ErrOrderUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order repository unavailable", http.StatusServiceUnavailable))
		return
	case errors.Is(err, services.ErrCounterExhausted):
		httpx.WriteError(ctx, w, httpx.NewError("order_numbers_exhausted", "no order numbers left for this year", http.StatusServiceUnavailable))
		return
	}

	writeRepositoryError(ctx, w, err, "order")
}

// writeRepositoryError renders repository failures that escaped service classification.
func writeRepositoryError(ctx context.Context, w http.ResponseWriter, err error, resource string) {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			httpx.WriteError(ctx, w, httpx.NewError(resource+"_not_found", resource+" not found", http.StatusNotFound))
			return
		case repoErr.IsConflict():
			httpx.WriteError(ctx, w, httpx.NewError(resource+"_conflict", err.Error(), http.StatusConflict))
			return
		case repoErr.IsUnavailable():
			httpx.WriteError(ctx, w, httpx.NewError(resource+"_service_unavailable", resource+" repository unavailable", http.StatusServiceUnavailable))
			return
		}
	}
	httpx.WriteError(ctx, w, httpx.NewError(resource+"_error", "internal error", http.StatusInternalServerError))
}
