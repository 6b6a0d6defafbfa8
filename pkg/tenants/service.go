package tenants

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/wardenhq/warden/pkg/audit"
	"github.com/wardenhq/warden/pkg/observability"
	"github.com/wardenhq/warden/pkg/scope"
)

// uniqueViolation is the PostgreSQL error code for unique constraint failures
const uniqueViolation = "23505"

// Service implements registry operations against PostgreSQL
type Service struct {
	db       *sql.DB
	logger   *observability.Logger
	recorder *audit.Recorder
}

// NewService creates a tenant service. recorder may be nil.
func NewService(db *sql.DB, logger *observability.Logger, recorder *audit.Recorder) *Service {
	return &Service{db: db, logger: logger, recorder: recorder}
}

const tenantColumns = `id, name, code, description, active, max_users, max_items, max_storage_gb, features, created_at, updated_at`

// Create registers a new tenant
func (s *Service) Create(ctx context.Context, caller scope.Caller, req CreateRequest) (*Tenant, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	tenant := &Tenant{
		ID:          uuid.New(),
		Name:        req.Name,
		Code:        req.Code,
		Description: req.Description,
		Active:      true,
		MaxUsers:    req.MaxUsers,
		MaxItems:    req.MaxItems,
		MaxStorage:  req.MaxStorage,
		Features:    req.Features,
		CreatedAt:   time.Now().UTC(),
		UpdatedAt:   time.Now().UTC(),
	}
	if tenant.Features == nil {
		tenant.Features = map[string]bool{}
	}

	featuresJSON, err := json.Marshal(tenant.Features)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal features: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tenants (id, name, code, description, active, max_users, max_items, max_storage_gb, features, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		tenant.ID, tenant.Name, tenant.Code, tenant.Description, tenant.Active,
		tenant.MaxUsers, tenant.MaxItems, tenant.MaxStorage, featuresJSON, tenant.CreatedAt, tenant.UpdatedAt,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == uniqueViolation {
			return nil, &scope.ValidationError{Field: "code", Reason: "already in use"}
		}
		return nil, fmt.Errorf("failed to create tenant: %w", err)
	}

	s.record(ctx, caller, tenant.ID, audit.ActionCreate,
		fmt.Sprintf("tenant %s created", tenant.Code), nil, tenant)
	return tenant, nil
}

// Get returns a tenant by id. Non-privileged callers only see their
// own tenant; other ids report not found rather than revealing that
// the tenant exists.
func (s *Service) Get(ctx context.Context, caller scope.Caller, id uuid.UUID) (*Tenant, error) {
	if !caller.CrossTenant && id != caller.TenantID {
		return nil, fmt.Errorf("%w: tenant %s", scope.ErrNotFound, id)
	}
	row := s.db.QueryRowContext(ctx,
		"SELECT "+tenantColumns+" FROM tenants WHERE id = $1", id)
	return scanTenant(row)
}

// GetByCode returns a tenant by its registry code, scoped the same
// way as Get.
func (s *Service) GetByCode(ctx context.Context, caller scope.Caller, code string) (*Tenant, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+tenantColumns+" FROM tenants WHERE code = $1", code)
	tenant, err := scanTenant(row)
	if err != nil {
		return nil, err
	}
	if !caller.CrossTenant && tenant.ID != caller.TenantID {
		return nil, fmt.Errorf("%w: tenant code %s", scope.ErrNotFound, code)
	}
	return tenant, nil
}

// List returns tenants matching the filter, newest first. For
// non-privileged callers the listing collapses to their own tenant row.
func (s *Service) List(ctx context.Context, caller scope.Caller, filter ListFilter) ([]*Tenant, int64, error) {
	where := " WHERE 1=1"
	args := []interface{}{}
	argCount := 1

	if !caller.CrossTenant {
		where += fmt.Sprintf(" AND id = $%d", argCount)
		args = append(args, caller.TenantID)
		argCount++
	}
	if filter.Active != nil {
		where += fmt.Sprintf(" AND active = $%d", argCount)
		args = append(args, *filter.Active)
		argCount++
	}
	if filter.Search != "" {
		where += fmt.Sprintf(" AND (name ILIKE $%d OR code ILIKE $%d)", argCount, argCount)
		args = append(args, "%"+filter.Search+"%")
		argCount++
	}

	var total int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM tenants"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count tenants: %w", err)
	}

	query := "SELECT " + tenantColumns + " FROM tenants" + where + " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argCount)
		args = append(args, filter.Limit)
		argCount++
	}
	if filter.Skip > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argCount)
		args = append(args, filter.Skip)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list tenants: %w", err)
	}
	defer rows.Close()

	result := make([]*Tenant, 0)
	for rows.Next() {
		tenant, err := scanTenant(rows)
		if err != nil {
			return nil, 0, err
		}
		result = append(result, tenant)
	}
	return result, total, rows.Err()
}

// Update applies partial changes to a tenant
func (s *Service) Update(ctx context.Context, caller scope.Caller, id uuid.UUID, req UpdateRequest) (*Tenant, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	before, err := s.Get(ctx, caller, id)
	if err != nil {
		return nil, err
	}

	updated := *before
	if req.Name != nil {
		updated.Name = *req.Name
	}
	if req.Description != nil {
		updated.Description = *req.Description
	}
	if req.Active != nil {
		updated.Active = *req.Active
	}
	if req.MaxUsers != nil {
		updated.MaxUsers = *req.MaxUsers
	}
	if req.MaxItems != nil {
		updated.MaxItems = *req.MaxItems
	}
	if req.MaxStorage != nil {
		updated.MaxStorage = *req.MaxStorage
	}
	if req.Features != nil {
		updated.Features = *req.Features
	}
	updated.UpdatedAt = time.Now().UTC()

	featuresJSON, err := json.Marshal(updated.Features)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal features: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE tenants SET name = $1, description = $2, active = $3,
			max_users = $4, max_items = $5, max_storage_gb = $6, features = $7, updated_at = $8
		WHERE id = $9`,
		updated.Name, updated.Description, updated.Active,
		updated.MaxUsers, updated.MaxItems, updated.MaxStorage, featuresJSON, updated.UpdatedAt, id,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update tenant: %w", err)
	}

	s.record(ctx, caller, id, audit.ActionUpdate,
		fmt.Sprintf("tenant %s updated", updated.Code), before, &updated)
	return &updated, nil
}

// Delete removes a tenant from the registry. A tenant that still has
// users cannot be deleted; deactivate it instead.
func (s *Service) Delete(ctx context.Context, caller scope.Caller, id uuid.UUID) error {
	before, err := s.Get(ctx, caller, id)
	if err != nil {
		return err
	}

	var userCount int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users WHERE tenant_id = $1", id).Scan(&userCount); err != nil {
		return fmt.Errorf("failed to count tenant users: %w", err)
	}
	if userCount > 0 {
		return fmt.Errorf("%w: tenant still has %d users", scope.ErrInvalidOperation, userCount)
	}

	if _, err := s.db.ExecContext(ctx, "DELETE FROM tenants WHERE id = $1", id); err != nil {
		return fmt.Errorf("failed to delete tenant: %w", err)
	}

	s.record(ctx, caller, id, audit.ActionDelete,
		fmt.Sprintf("tenant %s deleted", before.Code), before, nil)
	return nil
}

// record writes an audit entry. Recording failures are logged by the
// recorder and never fail the registry operation.
func (s *Service) record(ctx context.Context, caller scope.Caller, tenantID uuid.UUID, action audit.Action, message string, before, after interface{}) {
	if s.recorder == nil {
		return
	}
	_, _ = s.recorder.Record(ctx, audit.Entry{
		TenantID:     tenantID,
		UserID:       &caller.UserID,
		Action:       action,
		Severity:     audit.SeverityInfo,
		ResourceType: "tenant",
		ResourceID:   tenantID.String(),
		Message:      message,
		BeforeState:  before,
		AfterState:   after,
	})
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanTenant(row scanner) (*Tenant, error) {
	tenant := &Tenant{}
	var featuresJSON []byte
	err := row.Scan(
		&tenant.ID, &tenant.Name, &tenant.Code, &tenant.Description, &tenant.Active,
		&tenant.MaxUsers, &tenant.MaxItems, &tenant.MaxStorage, &featuresJSON, &tenant.CreatedAt, &tenant.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, scope.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan tenant: %w", err)
	}

	tenant.Features = map[string]bool{}
	if len(featuresJSON) > 0 {
		if err := json.Unmarshal(featuresJSON, &tenant.Features); err != nil {
			return nil, fmt.Errorf("failed to unmarshal features: %w", err)
		}
	}
	tenant.CreatedAt = tenant.CreatedAt.UTC()
	tenant.UpdatedAt = tenant.UpdatedAt.UTC()
	return tenant, nil
}
