package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tripdesk/api/internal/repositories"
)

const (
	// OperatorRoleOperator is the default staff role.
	OperatorRoleOperator = "operator"
	// OperatorRoleAdmin grants operator administration and maintenance access.
	OperatorRoleAdmin = "admin"

	defaultOperatorListLimit = 100
)

var (
	// ErrOperatorInvalidInput signals invalid operator data.
	ErrOperatorInvalidInput = errors.New("operator: invalid input")
	// ErrOperatorNotFound indicates the operator account does not exist.
	ErrOperatorNotFound = errors.New("operator: not found")
	// ErrOperatorInactive indicates the account has been deactivated.
	ErrOperatorInactive = errors.New("operator: inactive")
	// ErrOperatorUnavailable indicates the persistence layer failed.
	ErrOperatorUnavailable = errors.New("operator: repository unavailable")
)

// OperatorServiceDeps bundles collaborators required to construct the operator service.
type OperatorServiceDeps struct {
	Operators repositories.OperatorRepository
	Clock     func() time.Time
	Logger    func(ctx context.Context, event string, fields map[string]any)
}

type operatorService struct {
	operators repositories.OperatorRepository
	clock     func() time.Time
	logger    func(context.Context, string, map[string]any)
}

// NewOperatorService constructs the staff account service.
func NewOperatorService(deps OperatorServiceDeps) (OperatorService, error) {
	if deps.Operators == nil {
		return nil, errors.New("operator service: operator repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &operatorService{
		operators: deps.Operators,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// EnsureOperator returns the account for the identity, provisioning it on first sight. Profile fields
// are refreshed from the identity when they drift; the sales counter is never touched here.
func (s *operatorService) EnsureOperator(ctx context.Context, identity OperatorIdentity) (OperatorAccount, error) {
	uid := strings.TrimSpace(identity.UID)
	if uid == "" {
		return OperatorAccount{}, fmt.Errorf("%w: uid is required", ErrOperatorInvalidInput)
	}
	email := strings.TrimSpace(identity.Email)
	name := strings.TrimSpace(identity.FullName)
	role := normalizeOperatorRole(identity.Role)

	existing, err := s.operators.FindByID(ctx, uid)
	switch {
	case err == nil:
		if !existing.IsActive {
			return OperatorAccount{}, fmt.Errorf("%w: %s", ErrOperatorInactive, uid)
		}
		changed := false
		if email != "" && email != existing.Email {
			existing.Email = email
			changed = true
		}
		if name != "" && name != existing.FullName {
			existing.FullName = name
			changed = true
		}
		if identity.Role != "" && role != existing.Role {
			existing.Role = role
			changed = true
		}
		if !changed {
			return existing, nil
		}
		existing.UpdatedAt = s.clock()
		if err := s.operators.Update(ctx, existing); err != nil {
			return OperatorAccount{}, mapOperatorError(err)
		}
		return existing, nil
	case !isRepositoryNotFound(err):
		return OperatorAccount{}, mapOperatorError(err)
	}

	now := s.clock()
	if name == "" {
		name = email
	}
	account := OperatorAccount{
		ID:        uid,
		Email:     email,
		FullName:  name,
		Role:      role,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.operators.Insert(ctx, account); err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsConflict() {
			// provisioned concurrently by a parallel first request
			return s.GetOperator(ctx, uid)
		}
		return OperatorAccount{}, mapOperatorError(err)
	}
	s.logger(ctx, "operator.provisioned", map[string]any{"operator": uid, "role": role})
	return account, nil
}

func (s *operatorService) GetOperator(ctx context.Context, operatorID string) (OperatorAccount, error) {
	operatorID = strings.TrimSpace(operatorID)
	if operatorID == "" {
		return OperatorAccount{}, fmt.Errorf("%w: operator id is required", ErrOperatorInvalidInput)
	}
	account, err := s.operators.FindByID(ctx, operatorID)
	if err != nil {
		return OperatorAccount{}, mapOperatorError(err)
	}
	return account, nil
}

func (s *operatorService) ListOperators(ctx context.Context, filter OperatorListFilter) ([]OperatorAccount, error) {
	limit := filter.Limit
	if limit <= 0 || limit > defaultOperatorListLimit {
		limit = defaultOperatorListLimit
	}
	accounts, err := s.operators.List(ctx, repositories.OperatorListFilter{ActiveOnly: filter.ActiveOnly, Limit: limit})
	if err != nil {
		return nil, mapOperatorError(err)
	}
	return accounts, nil
}

func (s *operatorService) SetOperatorActive(ctx context.Context, cmd SetOperatorActiveCommand) (OperatorAccount, error) {
	operatorID := strings.TrimSpace(cmd.OperatorID)
	if operatorID == "" {
		return OperatorAccount{}, fmt.Errorf("%w: operator id is required", ErrOperatorInvalidInput)
	}
	if operatorID == strings.TrimSpace(cmd.ActorID) && !cmd.Active {
		return OperatorAccount{}, fmt.Errorf("%w: operators cannot deactivate themselves", ErrOperatorInvalidInput)
	}
	account, err := s.operators.FindByID(ctx, operatorID)
	if err != nil {
		return OperatorAccount{}, mapOperatorError(err)
	}
	if account.IsActive == cmd.Active {
		return account, nil
	}
	account.IsActive = cmd.Active
	account.UpdatedAt = s.clock()
	if err := s.operators.Update(ctx, account); err != nil {
		return OperatorAccount{}, mapOperatorError(err)
	}
	s.logger(ctx, "operator.active.changed", map[string]any{
		"operator": operatorID,
		"active":   cmd.Active,
		"actor":    cmd.ActorID,
	})
	return account, nil
}

func (s *operatorService) DeleteOperator(ctx context.Context, operatorID string) error {
	operatorID = strings.TrimSpace(operatorID)
	if operatorID == "" {
		return fmt.Errorf("%w: operator id is required", ErrOperatorInvalidInput)
	}
	return mapOperatorError(s.operators.Delete(ctx, operatorID))
}

func normalizeOperatorRole(role string) string {
	if strings.EqualFold(strings.TrimSpace(role), OperatorRoleAdmin) {
		return OperatorRoleAdmin
	}
	return OperatorRoleOperator
}

func mapOperatorError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOperatorNotFound, err)
		case repoErr.IsUnavailable(), repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOperatorUnavailable, err)
		}
	}
	return err
}
