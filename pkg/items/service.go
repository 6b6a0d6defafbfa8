package items

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/wardenhq/warden/pkg/audit"
	"github.com/wardenhq/warden/pkg/observability"
	"github.com/wardenhq/warden/pkg/scope"
)

// Service implements item operations against PostgreSQL
type Service struct {
	db       *sql.DB
	logger   *observability.Logger
	recorder *audit.Recorder
}

// NewService creates an item service. recorder may be nil.
func NewService(db *sql.DB, logger *observability.Logger, recorder *audit.Recorder) *Service {
	return &Service{db: db, logger: logger, recorder: recorder}
}

const itemColumns = `id, tenant_id, owner_id, name, description, status, amount, data, created_at, updated_at`

// Create adds an item to a tenant, enforcing the tenant's item quota.
// The creating caller becomes the item's owner.
func (s *Service) Create(ctx context.Context, caller scope.Caller, req CreateRequest) (*Item, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	tenantID, err := scope.StampTenant(caller, req.TenantID)
	if err != nil {
		return nil, err
	}

	if err := s.checkQuota(ctx, tenantID); err != nil {
		return nil, err
	}

	ownerID := caller.UserID
	item := &Item{
		ID:          uuid.New(),
		TenantID:    tenantID,
		OwnerID:     &ownerID,
		Name:        req.Name,
		Description: req.Description,
		Status:      req.Status,
		Amount:      req.Amount,
		Data:        req.Data,
		CreatedAt:   time.Now().UTC(),
		UpdatedAt:   time.Now().UTC(),
	}
	if item.Data == nil {
		item.Data = map[string]interface{}{}
	}

	dataJSON, err := json.Marshal(item.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal item data: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO items (id, tenant_id, owner_id, name, description, status, amount, data, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		item.ID, item.TenantID, item.OwnerID, item.Name, item.Description,
		item.Status, item.Amount, dataJSON, item.CreatedAt, item.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create item: %w", err)
	}

	s.record(ctx, caller, item, audit.ActionCreate,
		fmt.Sprintf("item %s created", item.Name), nil, item)
	return item, nil
}

func (s *Service) checkQuota(ctx context.Context, tenantID uuid.UUID) error {
	var maxItems int
	err := s.db.QueryRowContext(ctx, "SELECT max_items FROM tenants WHERE id = $1", tenantID).Scan(&maxItems)
	if err == sql.ErrNoRows {
		return scope.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to load tenant quota: %w", err)
	}

	var current int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM items WHERE tenant_id = $1", tenantID).Scan(&current); err != nil {
		return fmt.Errorf("failed to count tenant items: %w", err)
	}
	if current >= maxItems {
		return &scope.ValidationError{Field: "tenant_id", Reason: fmt.Sprintf("item quota of %d reached", maxItems)}
	}
	return nil
}

// Get returns an item visible to the caller's scope and records a VIEW
// entry in the audit trail.
func (s *Service) Get(ctx context.Context, caller scope.Caller, requestedTenant *uuid.UUID, id uuid.UUID) (*Item, error) {
	item, err := s.get(ctx, caller, requestedTenant, id)
	if err != nil {
		return nil, err
	}

	s.record(ctx, caller, item, audit.ActionView,
		fmt.Sprintf("item %s viewed", item.Name), nil, nil)
	return item, nil
}

func (s *Service) get(ctx context.Context, caller scope.Caller, requestedTenant *uuid.UUID, id uuid.UUID) (*Item, error) {
	sc := scope.Resolve(caller, requestedTenant)

	query := "SELECT " + itemColumns + " FROM items WHERE id = $1"
	args := []interface{}{id}
	if !sc.All() {
		query += " AND tenant_id = $2"
		args = append(args, sc.TenantID())
	}

	return scanItem(s.db.QueryRowContext(ctx, query, args...))
}

// List returns items within the caller's effective scope
func (s *Service) List(ctx context.Context, caller scope.Caller, requestedTenant *uuid.UUID, filter ListFilter) ([]*Item, int64, error) {
	sc := scope.Resolve(caller, requestedTenant)

	where := " WHERE 1=1"
	args := []interface{}{}
	argCount := 1

	if !sc.All() {
		where += fmt.Sprintf(" AND tenant_id = $%d", argCount)
		args = append(args, sc.TenantID())
		argCount++
	}
	if filter.Status != nil {
		where += fmt.Sprintf(" AND status = $%d", argCount)
		args = append(args, string(*filter.Status))
		argCount++
	}
	if filter.OwnerID != nil {
		where += fmt.Sprintf(" AND owner_id = $%d", argCount)
		args = append(args, *filter.OwnerID)
		argCount++
	}
	if filter.Search != "" {
		where += fmt.Sprintf(" AND (name ILIKE $%d OR description ILIKE $%d)", argCount, argCount)
		args = append(args, "%"+filter.Search+"%")
		argCount++
	}

	var total int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM items"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count items: %w", err)
	}

	query := "SELECT " + itemColumns + " FROM items" + where + " ORDER BY created_at DESC"
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
		return nil, 0, fmt.Errorf("failed to list items: %w", err)
	}
	defer rows.Close()

	result := make([]*Item, 0)
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, 0, err
		}
		result = append(result, item)
	}
	return result, total, rows.Err()
}

// Update applies partial changes to an item within the caller's scope
func (s *Service) Update(ctx context.Context, caller scope.Caller, requestedTenant *uuid.UUID, id uuid.UUID, req UpdateRequest) (*Item, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	before, err := s.get(ctx, caller, requestedTenant, id)
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
	if req.Status != nil {
		updated.Status = *req.Status
	}
	if req.Amount != nil {
		updated.Amount = req.Amount
	}
	if req.Data != nil {
		updated.Data = *req.Data
	}
	updated.UpdatedAt = time.Now().UTC()

	dataJSON, err := json.Marshal(updated.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal item data: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE items SET name = $1, description = $2, status = $3, amount = $4, data = $5, updated_at = $6
		WHERE id = $7 AND tenant_id = $8`,
		updated.Name, updated.Description, updated.Status, updated.Amount,
		dataJSON, updated.UpdatedAt, id, before.TenantID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update item: %w", err)
	}

	s.record(ctx, caller, &updated, audit.ActionUpdate,
		fmt.Sprintf("item %s updated", updated.Name), before, &updated)
	return &updated, nil
}

// Delete removes an item within the caller's scope
func (s *Service) Delete(ctx context.Context, caller scope.Caller, requestedTenant *uuid.UUID, id uuid.UUID) error {
	before, err := s.get(ctx, caller, requestedTenant, id)
	if err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx, "DELETE FROM items WHERE id = $1 AND tenant_id = $2", id, before.TenantID); err != nil {
		return fmt.Errorf("failed to delete item: %w", err)
	}

	s.record(ctx, caller, before, audit.ActionDelete,
		fmt.Sprintf("item %s deleted", before.Name), before, nil)
	return nil
}

func (s *Service) record(ctx context.Context, caller scope.Caller, item *Item, action audit.Action, message string, before, after interface{}) {
	if s.recorder == nil {
		return
	}
	_, _ = s.recorder.Record(ctx, audit.Entry{
		TenantID:     item.TenantID,
		UserID:       &caller.UserID,
		Action:       action,
		Severity:     audit.SeverityInfo,
		ResourceType: "item",
		ResourceID:   item.ID.String(),
		Message:      message,
		BeforeState:  before,
		AfterState:   after,
	})
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanItem(row scanner) (*Item, error) {
	item := &Item{}
	var ownerID uuid.NullUUID
	var amount sql.NullFloat64
	var dataJSON []byte

	err := row.Scan(
		&item.ID, &item.TenantID, &ownerID, &item.Name, &item.Description,
		&item.Status, &amount, &dataJSON, &item.CreatedAt, &item.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, scope.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan item: %w", err)
	}

	if ownerID.Valid {
		id := ownerID.UUID
		item.OwnerID = &id
	}
	if amount.Valid {
		item.Amount = &amount.Float64
	}
	item.Data = map[string]interface{}{}
	if len(dataJSON) > 0 {
		if err := json.Unmarshal(dataJSON, &item.Data); err != nil {
			return nil, fmt.Errorf("failed to unmarshal item data: %w", err)
		}
	}
	item.CreatedAt = item.CreatedAt.UTC()
	item.UpdatedAt = item.UpdatedAt.UTC()
	return item, nil
}
