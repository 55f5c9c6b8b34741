package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/googleapis/gax-go/v2"
	"github.com/oklog/ulid/v2"

	domain "github.com/tripdesk/api/internal/domain"
	"github.com/tripdesk/api/internal/platform/pagination"
	"github.com/tripdesk/api/internal/repositories"
)

const (
	orderEventCreated        = "order.created"
	orderEventDeleted        = "order.deleted"
	orderEventServiceAdded   = "order.service.added"
	orderEventServiceUpdated = "order.service.updated"
	orderEventServiceDeleted = "order.service.deleted"

	defaultLifecycleAttempts = 3
	maxServiceImagesPerCall  = 20
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderServiceNotFound indicates the service could not be located.
	ErrOrderServiceNotFound = errors.New("order: service not found")
	// ErrOrderServiceImageNotFound indicates the service image could not be located.
	ErrOrderServiceImageNotFound = errors.New("order: service image not found")
	// ErrOrderConflict indicates a concurrent update or duplicate that survived every retry.
	ErrOrderConflict = errors.New("order: conflict")
	// ErrOrderUnavailable indicates the persistence layer failed.
	ErrOrderUnavailable = errors.New("order: repository unavailable")
)

// OrderEventPublisher publishes order domain events for downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// OrderEvent captures metadata for emitted order domain events.
type OrderEvent struct {
	Type        string
	OrderID     string
	OrderNumber string
	ServiceID   string
	ActorID     string
	OccurredAt  time.Time
	Metadata    map[string]any
}

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders        repositories.OrderRepository
	Services      repositories.ServiceRepository
	ServiceImages repositories.ServiceImageRepository
	Customers     repositories.CustomerRepository
	Locations     repositories.LocationRepository
	Operators     repositories.OperatorRepository
	Aggregator    OrderAggregator
	Attributor    SalesAttributor
	Counters      CounterService
	UnitOfWork    repositories.UnitOfWork
	MaxAttempts   int
	Backoff       gax.Backoff
	Clock         func() time.Time
	IDGenerator   func() string
	Events        OrderEventPublisher
	Logger        func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders      repositories.OrderRepository
	services    repositories.ServiceRepository
	images      repositories.ServiceImageRepository
	customers   repositories.CustomerRepository
	locations   repositories.LocationRepository
	aggregator  OrderAggregator
	attributor  SalesAttributor
	counters    CounterService
	details     *orderDetailsLoader
	unitOfWork  repositories.UnitOfWork
	maxAttempts int
	backoff     gax.Backoff
	clock       func() time.Time
	newID       func() string
	events      OrderEventPublisher
	logger      func(context.Context, string, map[string]any)
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	switch {
	case deps.Orders == nil:
		return nil, errors.New("order service: order repository is required")
	case deps.Services == nil:
		return nil, errors.New("order service: service repository is required")
	case deps.ServiceImages == nil:
		return nil, errors.New("order service: service image repository is required")
	case deps.Customers == nil:
		return nil, errors.New("order service: customer repository is required")
	case deps.Locations == nil:
		return nil, errors.New("order service: location repository is required")
	case deps.Aggregator == nil:
		return nil, errors.New("order service: aggregator is required")
	case deps.Attributor == nil:
		return nil, errors.New("order service: attributor is required")
	case deps.Counters == nil:
		return nil, errors.New("order service: counter service is required")
	}

	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	attempts := deps.MaxAttempts
	if attempts <= 0 {
		attempts = defaultLifecycleAttempts
	}

	return &orderService{
		orders:     deps.Orders,
		services:   deps.Services,
		images:     deps.ServiceImages,
		customers:  deps.Customers,
		locations:  deps.Locations,
		aggregator: deps.Aggregator,
		attributor: deps.Attributor,
		counters:   deps.Counters,
		details: &orderDetailsLoader{
			customers: deps.Customers,
			operators: deps.Operators,
			services:  deps.Services,
			images:    deps.ServiceImages,
			locations: deps.Locations,
		},
		unitOfWork:  unit,
		maxAttempts: attempts,
		backoff:     deps.Backoff,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		events: deps.Events,
		logger: logger,
	}, nil
}

func (s *orderService) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error) {
	customerID := strings.TrimSpace(cmd.CustomerID)
	if customerID == "" {
		return Order{}, fmt.Errorf("%w: customer id is required", ErrOrderInvalidInput)
	}
	actor := strings.TrimSpace(cmd.ActorID)

	var order Order
	err := s.withRetry(ctx, "create_order", func(ctx context.Context) error {
		return s.runInTx(ctx, func(txCtx context.Context) error {
			if _, err := s.customers.FindByID(txCtx, customerID); err != nil {
				return s.mapRepositoryError(err, ErrCustomerNotFound)
			}
			number, err := s.counters.NextOrderNumber(txCtx)
			if err != nil {
				return s.mapRepositoryError(err, ErrOrderNotFound)
			}
			now := s.now()
			order = Order{
				ID:          s.newID(),
				OrderNumber: number,
				OperatorID:  optionalString(actor),
				CustomerID:  customerID,
				CreatedAt:   now,
				UpdatedAt:   now,
			}
			return s.mapRepositoryError(s.orders.Insert(txCtx, order), ErrOrderNotFound)
		})
	})
	if err != nil {
		return Order{}, s.mapRepositoryError(err, ErrOrderNotFound)
	}

	s.publishEvent(ctx, OrderEvent{
		Type:        orderEventCreated,
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		ActorID:     actor,
		OccurredAt:  order.CreatedAt,
		Metadata:    map[string]any{"customerId": customerID},
	})
	return order, nil
}

func (s *orderService) GetOrder(ctx context.Context, orderID string) (OrderDetails, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return OrderDetails{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return OrderDetails{}, s.mapRepositoryError(err, ErrOrderNotFound)
	}
	details, err := s.details.load(ctx, []Order{order}, nil)
	if err != nil {
		return OrderDetails{}, s.mapRepositoryError(err, ErrOrderNotFound)
	}
	return details[0], nil
}

func (s *orderService) ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error) {
	if filter.From != nil && filter.To != nil && filter.To.Before(*filter.From) {
		return domain.CursorPage[Order]{}, fmt.Errorf("%w: to must not be before from", ErrOrderInvalidInput)
	}
	page := filter.Pagination
	page.PageSize = pagination.Clamp(page.PageSize, pagination.Options{})
	result, err := s.orders.List(ctx, repositories.OrderListFilter{
		CustomerID: strings.TrimSpace(filter.CustomerID),
		OperatorID: strings.TrimSpace(filter.OperatorID),
		DateRange:  domain.RangeQuery[time.Time]{From: filter.From, To: filter.To},
		Pagination: page,
	})
	if err != nil {
		if errors.Is(err, pagination.ErrInvalidPageToken) {
			return domain.CursorPage[Order]{}, fmt.Errorf("%w: %v", ErrOrderInvalidInput, err)
		}
		return domain.CursorPage[Order]{}, s.mapRepositoryError(err, ErrOrderNotFound)
	}
	return result, nil
}

func (s *orderService) DeleteOrder(ctx context.Context, cmd DeleteOrderCommand) error {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	var order Order
	err := s.withRetry(ctx, "delete_order", func(ctx context.Context) error {
		return s.runInTx(ctx, func(txCtx context.Context) error {
			var err error
			order, err = s.orders.FindForUpdate(txCtx, orderID)
			if err != nil {
				return s.mapRepositoryError(err, ErrOrderNotFound)
			}
			return s.mapRepositoryError(s.orders.Delete(txCtx, orderID), ErrOrderNotFound)
		})
	})
	if err != nil {
		return s.mapRepositoryError(err, ErrOrderNotFound)
	}

	s.publishEvent(ctx, OrderEvent{
		Type:        orderEventDeleted,
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		ActorID:     strings.TrimSpace(cmd.ActorID),
		OccurredAt:  s.now(),
	})
	return nil
}

// AddService creates the service, recomputes the order totals and attributes the sale in one unit.
func (s *orderService) AddService(ctx context.Context, cmd AddServiceCommand) (ServiceMutationResult, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return ServiceMutationResult{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	draft, err := buildService(cmd.Service)
	if err != nil {
		return ServiceMutationResult{}, err
	}
	actor := strings.TrimSpace(cmd.ActorID)

	var result ServiceMutationResult
	err = s.withRetry(ctx, "add_service", func(ctx context.Context) error {
		return s.runInTx(ctx, func(txCtx context.Context) error {
			order, err := s.orders.FindForUpdate(txCtx, orderID)
			if err != nil {
				return s.mapRepositoryError(err, ErrOrderNotFound)
			}

			now := s.now()
			svc := draft
			svc.ID = s.newID()
			svc.OrderID = order.ID
			svc.CreatedBy = optionalString(actor)
			svc.CreatedAt = now
			svc.UpdatedAt = now

			if err := s.checkReferences(txCtx, svc); err != nil {
				return err
			}
			if err := s.services.Insert(txCtx, svc); err != nil {
				return s.mapRepositoryError(err, ErrOrderServiceNotFound)
			}
			totals, err := s.aggregator.Recalculate(txCtx, order.ID)
			if err != nil {
				return s.mapRepositoryError(err, ErrOrderNotFound)
			}
			attribution, err := s.attributor.Attribute(txCtx, svc, actor)
			if err != nil {
				return s.mapRepositoryError(err, ErrOperatorNotFound)
			}
			result = ServiceMutationResult{
				Service:     svc,
				Order:       withTotals(order, totals),
				Attribution: &attribution,
			}
			return nil
		})
	})
	if err != nil {
		return ServiceMutationResult{}, s.mapRepositoryError(err, ErrOrderNotFound)
	}

	s.logAttribution(ctx, result.Service, *result.Attribution)
	s.publishEvent(ctx, OrderEvent{
		Type:        orderEventServiceAdded,
		OrderID:     result.Order.ID,
		OrderNumber: result.Order.OrderNumber,
		ServiceID:   result.Service.ID,
		ActorID:     actor,
		OccurredAt:  result.Service.CreatedAt,
		Metadata: map[string]any{
			"serviceType": string(result.Service.Type()),
			"attributed":  result.Attribution.Counted,
		},
	})
	return result, nil
}

// UpdateService applies the supplied fields and recomputes totals. Attribution never re-runs.
func (s *orderService) UpdateService(ctx context.Context, cmd UpdateServiceCommand) (ServiceMutationResult, error) {
	serviceID := strings.TrimSpace(cmd.ServiceID)
	if serviceID == "" {
		return ServiceMutationResult{}, fmt.Errorf("%w: service id is required", ErrOrderInvalidInput)
	}

	var result ServiceMutationResult
	err := s.withRetry(ctx, "update_service", func(ctx context.Context) error {
		return s.runInTx(ctx, func(txCtx context.Context) error {
			order, current, err := s.lockService(txCtx, serviceID)
			if err != nil {
				return err
			}
			updated, err := applyServicePatch(current, cmd.Patch, s.now())
			if err != nil {
				return err
			}
			if err := s.checkReferences(txCtx, updated); err != nil {
				return err
			}
			if current.Type().IsTransport() && !updated.Type().IsTransport() {
				if err := s.checkLuggageDependents(txCtx, updated); err != nil {
					return err
				}
			}
			if err := s.services.Update(txCtx, updated); err != nil {
				return s.mapRepositoryError(err, ErrOrderServiceNotFound)
			}
			totals, err := s.aggregator.Recalculate(txCtx, order.ID)
			if err != nil {
				return s.mapRepositoryError(err, ErrOrderNotFound)
			}
			result = ServiceMutationResult{Service: updated, Order: withTotals(order, totals)}
			return nil
		})
	})
	if err != nil {
		return ServiceMutationResult{}, s.mapRepositoryError(err, ErrOrderServiceNotFound)
	}

	s.publishEvent(ctx, OrderEvent{
		Type:        orderEventServiceUpdated,
		OrderID:     result.Order.ID,
		OrderNumber: result.Order.OrderNumber,
		ServiceID:   result.Service.ID,
		ActorID:     strings.TrimSpace(cmd.ActorID),
		OccurredAt:  result.Service.UpdatedAt,
		Metadata:    map[string]any{"serviceType": string(result.Service.Type())},
	})
	return result, nil
}

// DeleteService removes the service with its images and recomputes totals. Counters are left as is.
func (s *orderService) DeleteService(ctx context.Context, cmd DeleteServiceCommand) (Order, error) {
	serviceID := strings.TrimSpace(cmd.ServiceID)
	if serviceID == "" {
		return Order{}, fmt.Errorf("%w: service id is required", ErrOrderInvalidInput)
	}

	var order Order
	err := s.withRetry(ctx, "delete_service", func(ctx context.Context) error {
		return s.runInTx(ctx, func(txCtx context.Context) error {
			locked, _, err := s.lockService(txCtx, serviceID)
			if err != nil {
				return err
			}
			if err := s.services.Delete(txCtx, serviceID); err != nil {
				return s.mapRepositoryError(err, ErrOrderServiceNotFound)
			}
			totals, err := s.aggregator.Recalculate(txCtx, locked.ID)
			if err != nil {
				return s.mapRepositoryError(err, ErrOrderNotFound)
			}
			order = withTotals(locked, totals)
			return nil
		})
	})
	if err != nil {
		return Order{}, s.mapRepositoryError(err, ErrOrderServiceNotFound)
	}

	s.publishEvent(ctx, OrderEvent{
		Type:        orderEventServiceDeleted,
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		ServiceID:   serviceID,
		ActorID:     strings.TrimSpace(cmd.ActorID),
		OccurredAt:  order.UpdatedAt,
	})
	return order, nil
}

func (s *orderService) AddServiceImages(ctx context.Context, cmd AddServiceImagesCommand) ([]ServiceImage, error) {
	serviceID := strings.TrimSpace(cmd.ServiceID)
	if serviceID == "" {
		return nil, fmt.Errorf("%w: service id is required", ErrOrderInvalidInput)
	}
	urls := make([]string, 0, len(cmd.ImageURLs))
	for _, raw := range cmd.ImageURLs {
		if trimmed := strings.TrimSpace(raw); trimmed != "" {
			urls = append(urls, trimmed)
		}
	}
	if len(urls) == 0 {
		return nil, fmt.Errorf("%w: at least one image url is required", ErrOrderInvalidInput)
	}
	if len(urls) > maxServiceImagesPerCall {
		return nil, fmt.Errorf("%w: at most %d images per request", ErrOrderInvalidInput, maxServiceImagesPerCall)
	}

	var images []ServiceImage
	err := s.withRetry(ctx, "add_service_images", func(ctx context.Context) error {
		return s.runInTx(ctx, func(txCtx context.Context) error {
			if _, err := s.services.FindByID(txCtx, serviceID); err != nil {
				return s.mapRepositoryError(err, ErrOrderServiceNotFound)
			}
			now := s.now()
			images = make([]ServiceImage, 0, len(urls))
			for _, url := range urls {
				images = append(images, ServiceImage{ID: s.newID(), ServiceID: serviceID, ImageURL: url, CreatedAt: now})
			}
			return s.mapRepositoryError(s.images.Insert(txCtx, images), ErrOrderServiceNotFound)
		})
	})
	if err != nil {
		return nil, s.mapRepositoryError(err, ErrOrderServiceNotFound)
	}
	return images, nil
}

func (s *orderService) DeleteServiceImage(ctx context.Context, cmd DeleteServiceImageCommand) error {
	imageID := strings.TrimSpace(cmd.ImageID)
	if imageID == "" {
		return fmt.Errorf("%w: image id is required", ErrOrderInvalidInput)
	}
	err := s.runInTx(ctx, func(txCtx context.Context) error {
		return s.mapRepositoryError(s.images.Delete(txCtx, imageID), ErrOrderServiceImageNotFound)
	})
	return s.mapRepositoryError(err, ErrOrderServiceImageNotFound)
}

// lockService resolves the service's order, takes the order lock and re-reads the service under it.
func (s *orderService) lockService(ctx context.Context, serviceID string) (Order, Service, error) {
	probe, err := s.services.FindByID(ctx, serviceID)
	if err != nil {
		return Order{}, Service{}, s.mapRepositoryError(err, ErrOrderServiceNotFound)
	}
	order, err := s.orders.FindForUpdate(ctx, probe.OrderID)
	if err != nil {
		return Order{}, Service{}, s.mapRepositoryError(err, ErrOrderNotFound)
	}
	current, err := s.services.FindByID(ctx, serviceID)
	if err != nil {
		return Order{}, Service{}, s.mapRepositoryError(err, ErrOrderServiceNotFound)
	}
	return order, current, nil
}

// checkReferences validates route endpoints and the luggage association against stored records.
// checkLuggageDependents rejects a service that luggage in the same order still points at.
func (s *orderService) checkLuggageDependents(ctx context.Context, svc Service) error {
	siblings, err := s.services.ListByOrder(ctx, svc.OrderID)
	if err != nil {
		return s.mapRepositoryError(err, ErrOrderNotFound)
	}
	for _, sibling := range siblings {
		luggage, ok := sibling.Payload.(domain.LuggagePayload)
		if ok && luggage.AssociatedServiceID != nil && *luggage.AssociatedServiceID == svc.ID {
			return fmt.Errorf("%w: luggage %s is associated with this service; it must stay a flight or bus", ErrOrderInvalidInput, sibling.ID)
		}
	}
	return nil
}

func (s *orderService) checkReferences(ctx context.Context, svc Service) error {
	if origin, destination := svc.Route(); origin != nil || destination != nil {
		var ids []string
		for _, id := range []*string{origin, destination} {
			if id != nil {
				ids = append(ids, *id)
			}
		}
		found, err := s.locations.FindByIDs(ctx, ids)
		if err != nil {
			return s.mapRepositoryError(err, ErrOrderNotFound)
		}
		for _, id := range ids {
			if _, ok := found[id]; !ok {
				return fmt.Errorf("%w: location %s does not exist", ErrOrderInvalidInput, id)
			}
		}
	}

	luggage, ok := svc.Payload.(domain.LuggagePayload)
	if !ok || luggage.AssociatedServiceID == nil {
		return nil
	}
	associatedID := *luggage.AssociatedServiceID
	if associatedID == svc.ID {
		return fmt.Errorf("%w: a service cannot be associated with itself", ErrOrderInvalidInput)
	}
	associated, err := s.services.FindByID(ctx, associatedID)
	if err != nil {
		if isRepositoryNotFound(err) {
			return fmt.Errorf("%w: associated service %s does not exist", ErrOrderInvalidInput, associatedID)
		}
		return s.mapRepositoryError(err, ErrOrderServiceNotFound)
	}
	if associated.OrderID != svc.OrderID {
		return fmt.Errorf("%w: associated service belongs to another order", ErrOrderInvalidInput)
	}
	if !associated.Type().IsTransport() {
		return fmt.Errorf("%w: luggage can only be associated with a flight or bus", ErrOrderInvalidInput)
	}
	return nil
}

// withRetry re-runs the whole operation when it fails with a conflict, pausing between attempts.
func (s *orderService) withRetry(ctx context.Context, operation string, fn func(context.Context) error) error {
	backoff := s.backoff
	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil || attempt >= s.maxAttempts || !s.isConflict(err) {
			return err
		}
		pause := backoff.Pause()
		s.logger(ctx, "lifecycle.retry", map[string]any{
			"operation": operation,
			"attempt":   attempt,
			"pause":     pause.String(),
			"error":     err.Error(),
		})
		if sleepErr := gax.Sleep(ctx, pause); sleepErr != nil {
			return err
		}
	}
}

func (s *orderService) isConflict(err error) bool {
	if errors.Is(err, ErrOrderConflict) {
		return true
	}
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsConflict()
}

// mapRepositoryError translates store failures into the service taxonomy. Errors that already carry a
// service sentinel pass through unchanged.
func (s *orderService) mapRepositoryError(err error, notFound error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", notFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrOrderUnavailable, err)
		}
	}

	return err
}

func (s *orderService) logAttribution(ctx context.Context, svc Service, attribution Attribution) {
	fields := map[string]any{
		"order":       svc.OrderID,
		"service":     svc.ID,
		"serviceType": string(svc.Type()),
	}
	if !attribution.Counted {
		fields["reason"] = attribution.SkipReason
		s.logger(ctx, "attribution.skipped", fields)
		return
	}
	fields["operator"] = attribution.OperatorID
	if attribution.RouteCounter != nil {
		fields["route"] = attribution.RouteCounter.OriginLocationID + ">" + attribution.RouteCounter.DestinationLocationID
		fields["routeSales"] = attribution.RouteCounter.SalesCount
	}
	s.logger(ctx, "attribution.counted", fields)
}

func (s *orderService) runInTx(ctx context.Context, fn func(context.Context) error) error {
	if s.unitOfWork == nil {
		return fn(ctx)
	}
	return s.unitOfWork.RunInTx(ctx, fn)
}

func (s *orderService) now() time.Time {
	return s.clock()
}

func (s *orderService) publishEvent(ctx context.Context, event OrderEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "order.event.publish.failed", map[string]any{
			"type":    event.Type,
			"order":   event.OrderID,
			"service": event.ServiceID,
			"error":   err.Error(),
		})
	}
}

type noopUnitOfWork struct{}

func (noopUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

func withTotals(order Order, totals repositories.OrderTotals) Order {
	order.TotalCostPrice = totals.TotalCostPrice
	order.TotalSalePrice = totals.TotalSalePrice
	if !totals.UpdatedAt.IsZero() {
		order.UpdatedAt = totals.UpdatedAt
	}
	return order
}

func optionalString(v string) *string {
	trimmed := strings.TrimSpace(v)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
