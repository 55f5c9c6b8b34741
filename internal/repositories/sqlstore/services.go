package sqlstore

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	domain "github.com/tripdesk/api/internal/domain"
	"github.com/tripdesk/api/internal/repositories"
)

var transportTypes = []string{string(domain.ServiceTypeFlight), string(domain.ServiceTypeBus)}

// ServiceRepository implements repositories.ServiceRepository.
type ServiceRepository struct {
	store *Store
}

var _ repositories.ServiceRepository = (*ServiceRepository)(nil)

var serviceMutableColumns = []string{
	"service_type", "name", "description", "cost_price", "sale_price",
	"event_start", "event_end", "color", "icon",
	"origin_location_id", "destination_location_id", "carrier", "confirmation_code", "departure_at", "arrival_at",
	"hotel_name", "reservation_number", "check_in_at", "check_out_at",
	"weight_kg", "associated_service_id", "updated_at",
}

func (r *ServiceRepository) Insert(ctx context.Context, service domain.Service) error {
	model := serviceFromDomain(service)
	return wrapError("services.insert", r.store.conn(ctx).Omit(clause.Associations).Create(&model).Error)
}

func (r *ServiceRepository) Update(ctx context.Context, service domain.Service) error {
	model := serviceFromDomain(service)
	res := r.store.conn(ctx).
		Model(&serviceModel{ID: service.ID}).
		Select(serviceMutableColumns).
		Omit(clause.Associations).
		Updates(&model)
	if res.Error != nil {
		return wrapError("services.update", res.Error)
	}
	if res.RowsAffected == 0 {
		if _, err := r.FindByID(ctx, service.ID); err != nil {
			return err
		}
	}
	return nil
}

func (r *ServiceRepository) FindByID(ctx context.Context, serviceID string) (domain.Service, error) {
	var model serviceModel
	if err := r.store.conn(ctx).Where("id = ?", serviceID).Take(&model).Error; err != nil {
		return domain.Service{}, wrapError("services.find", err)
	}
	return decodeService("services.find", model)
}

func (r *ServiceRepository) ListByOrder(ctx context.Context, orderID string) ([]domain.Service, error) {
	var models []serviceModel
	err := r.store.conn(ctx).Where("order_id = ?", orderID).Order("created_at ASC").Order("id ASC").Find(&models).Error
	if err != nil {
		return nil, wrapError("services.list_by_order", err)
	}
	return decodeServices("services.list_by_order", models)
}

func (r *ServiceRepository) ListForExport(ctx context.Context, filter repositories.ServiceExportFilter) ([]domain.Service, error) {
	query := applyRange(r.store.conn(ctx).Model(&serviceModel{}), "departure_at", filter.Departure)
	if filter.ServiceType != nil {
		query = query.Where("service_type = ?", string(*filter.ServiceType))
	}
	var models []serviceModel
	if err := query.Order("order_id ASC").Order("created_at ASC").Order("id ASC").Find(&models).Error; err != nil {
		return nil, wrapError("services.list_for_export", err)
	}
	return decodeServices("services.list_for_export", models)
}

func (r *ServiceRepository) Delete(ctx context.Context, serviceID string) error {
	return r.store.RunInTx(ctx, func(ctx context.Context) error {
		db := r.store.conn(ctx)
		if err := db.Where("service_id = ?", serviceID).Delete(&serviceImageModel{}).Error; err != nil {
			return wrapError("services.delete", err)
		}
		if err := db.Model(&serviceModel{}).Where("associated_service_id = ?", serviceID).
			Update("associated_service_id", nil).Error; err != nil {
			return wrapError("services.delete", err)
		}
		res := db.Where("id = ?", serviceID).Delete(&serviceModel{})
		if res.Error != nil {
			return wrapError("services.delete", res.Error)
		}
		if res.RowsAffected == 0 {
			return notFound("services.delete", "service %s not found", serviceID)
		}
		return nil
	})
}

type routeRow struct {
	OriginLocationID      string
	DestinationLocationID string
	SalesCount            int64
}

func (r *ServiceRepository) RouteTallies(ctx context.Context, limit int) ([]domain.RouteTally, error) {
	query := r.eligible(r.store.conn(ctx)).
		Select("origin_location_id, destination_location_id, COUNT(*) AS sales_count").
		Group("origin_location_id, destination_location_id").
		Order("sales_count DESC").Order("origin_location_id ASC").Order("destination_location_id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var rows []routeRow
	if err := query.Scan(&rows).Error; err != nil {
		return nil, wrapError("services.route_tallies", err)
	}
	out := make([]domain.RouteTally, 0, len(rows))
	for _, row := range rows {
		out = append(out, domain.RouteTally(row))
	}
	return out, nil
}

type operatorRow struct {
	OperatorID string
	SalesCount int64
}

func (r *ServiceRepository) OperatorTallies(ctx context.Context) ([]domain.OperatorTally, error) {
	var rows []operatorRow
	err := r.eligible(r.store.conn(ctx)).
		Select("created_by AS operator_id, COUNT(*) AS sales_count").
		Where("created_by IS NOT NULL").
		Group("created_by").
		Order("created_by ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, wrapError("services.operator_tallies", err)
	}
	out := make([]domain.OperatorTally, 0, len(rows))
	for _, row := range rows {
		out = append(out, domain.OperatorTally(row))
	}
	return out, nil
}

// eligible narrows to services that qualify for attribution.
func (r *ServiceRepository) eligible(db *gorm.DB) *gorm.DB {
	return db.Model(&serviceModel{}).
		Where("service_type IN ?", transportTypes).
		Where("origin_location_id IS NOT NULL AND destination_location_id IS NOT NULL")
}

func decodeService(op string, model serviceModel) (domain.Service, error) {
	svc, err := model.toDomain()
	if err != nil {
		return domain.Service{}, wrapError(op, err)
	}
	return svc, nil
}

func decodeServices(op string, models []serviceModel) ([]domain.Service, error) {
	out := make([]domain.Service, 0, len(models))
	for _, m := range models {
		svc, err := decodeService(op, m)
		if err != nil {
			return nil, err
		}
		out = append(out, svc)
	}
	return out, nil
}
