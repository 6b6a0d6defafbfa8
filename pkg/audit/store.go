package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/wardenhq/warden/pkg/scope"
)

// Store queries the audit trail. Every query composes the caller's
// effective tenant scope into the WHERE clause so records from other
// tenants are invisible rather than forbidden.
type Store struct {
	db *sql.DB
}

// NewStore creates an audit store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const recordColumns = `
	id, tenant_id, user_id, action, severity,
	resource_type, resource_id, message,
	before_state, after_state, metadata,
	ip_address, user_agent, session_id, request_id, created_at`

// buildWhere composes the scope and filter into a WHERE clause with
// positional arguments.
func buildWhere(sc scope.TenantScope, filter Filter) (string, []interface{}) {
	where := " WHERE 1=1"
	args := []interface{}{}
	argCount := 1

	if !sc.All() {
		where += fmt.Sprintf(" AND tenant_id = $%d", argCount)
		args = append(args, sc.TenantID())
		argCount++
	}

	if filter.UserID != nil {
		where += fmt.Sprintf(" AND user_id = $%d", argCount)
		args = append(args, *filter.UserID)
		argCount++
	}

	if len(filter.Actions) > 0 {
		where += fmt.Sprintf(" AND action = ANY($%d)", argCount)
		actions := make([]string, len(filter.Actions))
		for i, a := range filter.Actions {
			actions[i] = string(a)
		}
		args = append(args, pq.Array(actions))
		argCount++
	}

	if len(filter.Severities) > 0 {
		where += fmt.Sprintf(" AND severity = ANY($%d)", argCount)
		severities := make([]string, len(filter.Severities))
		for i, s := range filter.Severities {
			severities[i] = string(s)
		}
		args = append(args, pq.Array(severities))
		argCount++
	}

	if filter.ResourceType != "" {
		where += fmt.Sprintf(" AND resource_type = $%d", argCount)
		args = append(args, filter.ResourceType)
		argCount++
	}

	if filter.ResourceID != "" {
		where += fmt.Sprintf(" AND resource_id = $%d", argCount)
		args = append(args, filter.ResourceID)
		argCount++
	}

	if filter.Since != nil {
		where += fmt.Sprintf(" AND created_at >= $%d", argCount)
		args = append(args, filter.Since.UTC())
		argCount++
	}

	if filter.Until != nil {
		where += fmt.Sprintf(" AND created_at <= $%d", argCount)
		args = append(args, filter.Until.UTC())
		argCount++
	}

	if filter.Search != "" {
		where += fmt.Sprintf(" AND message ILIKE $%d", argCount)
		args = append(args, "%"+filter.Search+"%")
	}

	return where, args
}

// Search returns matching records newest first, plus the total match
// count for pagination.
func (s *Store) Search(ctx context.Context, sc scope.TenantScope, filter Filter) ([]*Record, int64, error) {
	where, args := buildWhere(sc, filter)

	var total int64
	countQuery := "SELECT COUNT(*) FROM audit_logs" + where
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count audit records: %w", err)
	}

	query := "SELECT" + recordColumns + " FROM audit_logs" + where + " ORDER BY created_at DESC"
	argCount := len(args) + 1

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
		return nil, 0, fmt.Errorf("failed to search audit records: %w", err)
	}
	defer rows.Close()

	records := make([]*Record, 0)
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, 0, err
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate audit records: %w", err)
	}

	return records, total, nil
}

// page returns one page of matching records without the total count.
// Used by the exporter, which walks the result set batch by batch.
func (s *Store) page(ctx context.Context, sc scope.TenantScope, filter Filter) ([]*Record, error) {
	where, args := buildWhere(sc, filter)
	query := "SELECT" + recordColumns + " FROM audit_logs" + where + " ORDER BY created_at DESC"
	argCount := len(args) + 1

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
		return nil, fmt.Errorf("failed to fetch audit records: %w", err)
	}
	defer rows.Close()

	records := make([]*Record, 0)
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// Get returns one record by id. A record outside the caller's scope is
// reported as not found, the same as a record that does not exist.
func (s *Store) Get(ctx context.Context, sc scope.TenantScope, id uuid.UUID) (*Record, error) {
	query := "SELECT" + recordColumns + " FROM audit_logs WHERE id = $1"
	args := []interface{}{id}

	if !sc.All() {
		query += " AND tenant_id = $2"
		args = append(args, sc.TenantID())
	}

	row := s.db.QueryRowContext(ctx, query, args...)
	record, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, scope.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return record, nil
}

// GetStats aggregates the trail visible to the scope
func (s *Store) GetStats(ctx context.Context, sc scope.TenantScope) (*Stats, error) {
	where := ""
	args := []interface{}{}
	if !sc.All() {
		where = " WHERE tenant_id = $1"
		args = append(args, sc.TenantID())
	}

	stats := &Stats{
		ByAction:   make(map[string]int64),
		BySeverity: make(map[string]int64),
	}

	var oldest, newest sql.NullTime
	summary := "SELECT COUNT(*), MIN(created_at), MAX(created_at) FROM audit_logs" + where
	if err := s.db.QueryRowContext(ctx, summary, args...).Scan(&stats.TotalRecords, &oldest, &newest); err != nil {
		return nil, fmt.Errorf("failed to summarize audit records: %w", err)
	}
	if oldest.Valid {
		t := oldest.Time.UTC()
		stats.OldestRecord = &t
	}
	if newest.Valid {
		t := newest.Time.UTC()
		stats.NewestRecord = &t
	}

	if err := s.countBy(ctx, "action", where, args, stats.ByAction); err != nil {
		return nil, err
	}
	if err := s.countBy(ctx, "severity", where, args, stats.BySeverity); err != nil {
		return nil, err
	}

	return stats, nil
}

func (s *Store) countBy(ctx context.Context, column, where string, args []interface{}, into map[string]int64) error {
	query := fmt.Sprintf("SELECT %s, COUNT(*) FROM audit_logs%s GROUP BY %s", column, where, column)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to aggregate audit records by %s: %w", column, err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var count int64
		if err := rows.Scan(&key, &count); err != nil {
			return fmt.Errorf("failed to scan aggregate row: %w", err)
		}
		into[key] = count
	}
	return rows.Err()
}

// scanner covers both *sql.Row and *sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row scanner) (*Record, error) {
	record := &Record{}
	var userID uuid.NullUUID
	var resourceID, ipAddress, userAgent, sessionID, requestID sql.NullString
	var beforeJSON, afterJSON, metadataJSON []byte
	var createdAt time.Time

	err := row.Scan(
		&record.ID, &record.TenantID, &userID, &record.Action, &record.Severity,
		&record.ResourceType, &resourceID, &record.Message,
		&beforeJSON, &afterJSON, &metadataJSON,
		&ipAddress, &userAgent, &sessionID, &requestID, &createdAt,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan audit record: %w", err)
	}

	if userID.Valid {
		id := userID.UUID
		record.UserID = &id
	}
	record.ResourceID = resourceID.String
	record.IPAddress = ipAddress.String
	record.UserAgent = userAgent.String
	record.SessionID = sessionID.String
	record.RequestID = requestID.String
	record.CreatedAt = createdAt.UTC()
	record.BeforeState = json.RawMessage(beforeJSON)
	record.AfterState = json.RawMessage(afterJSON)

	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &record.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}

	return record, nil
}
