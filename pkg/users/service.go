package users

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/wardenhq/warden/pkg/audit"
	"github.com/wardenhq/warden/pkg/observability"
	"github.com/wardenhq/warden/pkg/scope"
)

const uniqueViolation = "23505"

// Service implements user operations against PostgreSQL. Every read
// composes the caller's effective tenant scope; out-of-scope users are
// indistinguishable from missing ones.
type Service struct {
	db       *sql.DB
	logger   *observability.Logger
	recorder *audit.Recorder
}

// NewService creates a user service. recorder may be nil.
func NewService(db *sql.DB, logger *observability.Logger, recorder *audit.Recorder) *Service {
	return &Service{db: db, logger: logger, recorder: recorder}
}

const userColumns = `id, tenant_id, email, username, full_name, role, active, cross_tenant, created_at, updated_at`

// Create adds a user to a tenant, enforcing the tenant's user quota
func (s *Service) Create(ctx context.Context, caller scope.Caller, req CreateRequest) (*User, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	tenantID, err := scope.StampTenant(caller, req.TenantID)
	if err != nil {
		return nil, err
	}
	if req.CrossTenant && !caller.CrossTenant {
		return nil, fmt.Errorf("%w: cross-tenant capability required to grant cross-tenant access", scope.ErrPermissionDenied)
	}

	if err := s.checkQuota(ctx, tenantID); err != nil {
		return nil, err
	}

	user := &User{
		ID:          uuid.New(),
		TenantID:    tenantID,
		Email:       req.Email,
		Username:    req.Username,
		FullName:    req.FullName,
		Role:        req.Role,
		Active:      true,
		CrossTenant: req.CrossTenant,
		CreatedAt:   time.Now().UTC(),
		UpdatedAt:   time.Now().UTC(),
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO users (id, tenant_id, email, username, full_name, role, active, cross_tenant, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		user.ID, user.TenantID, user.Email, user.Username, user.FullName,
		user.Role, user.Active, user.CrossTenant, user.CreatedAt, user.UpdatedAt,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == uniqueViolation {
			return nil, &scope.ValidationError{Field: "email", Reason: "already in use within tenant"}
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	s.record(ctx, caller, user, audit.ActionCreate,
		fmt.Sprintf("user %s created", user.Username), nil, user)
	return user, nil
}

// checkQuota rejects the creation when the tenant is at its user limit
func (s *Service) checkQuota(ctx context.Context, tenantID uuid.UUID) error {
	var maxUsers int
	err := s.db.QueryRowContext(ctx, "SELECT max_users FROM tenants WHERE id = $1", tenantID).Scan(&maxUsers)
	if err == sql.ErrNoRows {
		return scope.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to load tenant quota: %w", err)
	}

	var current int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users WHERE tenant_id = $1", tenantID).Scan(&current); err != nil {
		return fmt.Errorf("failed to count tenant users: %w", err)
	}
	if current >= maxUsers {
		return &scope.ValidationError{Field: "tenant_id", Reason: fmt.Sprintf("user quota of %d reached", maxUsers)}
	}
	return nil
}

// Get returns a user visible to the caller's scope
func (s *Service) Get(ctx context.Context, caller scope.Caller, requestedTenant *uuid.UUID, id uuid.UUID) (*User, error) {
	sc := scope.Resolve(caller, requestedTenant)

	query := "SELECT " + userColumns + " FROM users WHERE id = $1"
	args := []interface{}{id}
	if !sc.All() {
		query += " AND tenant_id = $2"
		args = append(args, sc.TenantID())
	}

	return scanUser(s.db.QueryRowContext(ctx, query, args...))
}

// List returns users within the caller's effective scope
func (s *Service) List(ctx context.Context, caller scope.Caller, requestedTenant *uuid.UUID, filter ListFilter) ([]*User, int64, error) {
	sc := scope.Resolve(caller, requestedTenant)

	where := " WHERE 1=1"
	args := []interface{}{}
	argCount := 1

	if !sc.All() {
		where += fmt.Sprintf(" AND tenant_id = $%d", argCount)
		args = append(args, sc.TenantID())
		argCount++
	}
	if filter.Role != nil {
		where += fmt.Sprintf(" AND role = $%d", argCount)
		args = append(args, string(*filter.Role))
		argCount++
	}
	if filter.Active != nil {
		where += fmt.Sprintf(" AND active = $%d", argCount)
		args = append(args, *filter.Active)
		argCount++
	}
	if filter.Search != "" {
		where += fmt.Sprintf(" AND (email ILIKE $%d OR username ILIKE $%d OR full_name ILIKE $%d)", argCount, argCount, argCount)
		args = append(args, "%"+filter.Search+"%")
		argCount++
	}

	var total int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count users: %w", err)
	}

	query := "SELECT " + userColumns + " FROM users" + where + " ORDER BY created_at DESC"
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
		return nil, 0, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	result := make([]*User, 0)
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, 0, err
		}
		result = append(result, user)
	}
	return result, total, rows.Err()
}

// Update applies partial changes to a user within the caller's scope
func (s *Service) Update(ctx context.Context, caller scope.Caller, requestedTenant *uuid.UUID, id uuid.UUID, req UpdateRequest) (*User, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if req.Active != nil && !*req.Active && id == caller.UserID {
		return nil, fmt.Errorf("%w: cannot deactivate your own account", scope.ErrInvalidOperation)
	}
	if req.CrossTenant != nil && !caller.CrossTenant {
		return nil, fmt.Errorf("%w: cross-tenant capability required to grant cross-tenant access", scope.ErrPermissionDenied)
	}

	before, err := s.Get(ctx, caller, requestedTenant, id)
	if err != nil {
		return nil, err
	}

	updated := *before
	if req.Email != nil {
		updated.Email = *req.Email
	}
	if req.FullName != nil {
		updated.FullName = *req.FullName
	}
	if req.Role != nil {
		updated.Role = *req.Role
	}
	if req.Active != nil {
		updated.Active = *req.Active
	}
	if req.CrossTenant != nil {
		updated.CrossTenant = *req.CrossTenant
	}
	updated.UpdatedAt = time.Now().UTC()

	_, err = s.db.ExecContext(ctx, `
		UPDATE users SET email = $1, full_name = $2, role = $3, active = $4, cross_tenant = $5, updated_at = $6
		WHERE id = $7 AND tenant_id = $8`,
		updated.Email, updated.FullName, updated.Role, updated.Active,
		updated.CrossTenant, updated.UpdatedAt, id, before.TenantID,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == uniqueViolation {
			return nil, &scope.ValidationError{Field: "email", Reason: "already in use within tenant"}
		}
		return nil, fmt.Errorf("failed to update user: %w", err)
	}

	s.record(ctx, caller, &updated, audit.ActionUpdate,
		fmt.Sprintf("user %s updated", updated.Username), before, &updated)
	return &updated, nil
}

// Delete removes a user. Callers cannot delete their own account.
func (s *Service) Delete(ctx context.Context, caller scope.Caller, requestedTenant *uuid.UUID, id uuid.UUID) error {
	if id == caller.UserID {
		return fmt.Errorf("%w: cannot delete your own account", scope.ErrInvalidOperation)
	}

	before, err := s.Get(ctx, caller, requestedTenant, id)
	if err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx, "DELETE FROM users WHERE id = $1 AND tenant_id = $2", id, before.TenantID); err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}

	s.record(ctx, caller, before, audit.ActionDelete,
		fmt.Sprintf("user %s deleted", before.Username), before, nil)
	return nil
}

func (s *Service) record(ctx context.Context, caller scope.Caller, user *User, action audit.Action, message string, before, after interface{}) {
	if s.recorder == nil {
		return
	}
	_, _ = s.recorder.Record(ctx, audit.Entry{
		TenantID:     user.TenantID,
		UserID:       &caller.UserID,
		Action:       action,
		Severity:     audit.SeverityInfo,
		ResourceType: "user",
		ResourceID:   user.ID.String(),
		Message:      message,
		BeforeState:  before,
		AfterState:   after,
	})
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanUser(row scanner) (*User, error) {
	user := &User{}
	err := row.Scan(
		&user.ID, &user.TenantID, &user.Email, &user.Username, &user.FullName,
		&user.Role, &user.Active, &user.CrossTenant, &user.CreatedAt, &user.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, scope.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}
	user.CreatedAt = user.CreatedAt.UTC()
	user.UpdatedAt = user.UpdatedAt.UTC()
	return user, nil
}
