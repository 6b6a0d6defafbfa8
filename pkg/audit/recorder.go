package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/wardenhq/warden/pkg/contextkeys"
	"github.com/wardenhq/warden/pkg/observability"
	"github.com/wardenhq/warden/pkg/scope"
)

// Publisher delivers committed records to live subscribers.
// Implemented by Feed; nil disables publishing.
type Publisher interface {
	Publish(ctx context.Context, record *Record)
}

// Recorder writes audit records. Failures are wrapped in
// scope.RecordingFailure so callers can log and proceed with the
// business operation instead of failing it.
type Recorder struct {
	db        *sql.DB
	logger    *observability.Logger
	metrics   *observability.Metrics
	publisher Publisher
}

// NewRecorder creates a recorder. metrics and publisher may be nil.
func NewRecorder(db *sql.DB, logger *observability.Logger, metrics *observability.Metrics, publisher Publisher) *Recorder {
	return &Recorder{
		db:        db,
		logger:    logger,
		metrics:   metrics,
		publisher: publisher,
	}
}

const insertRecordQuery = `
	INSERT INTO audit_logs (
		id, tenant_id, user_id, action, severity,
		resource_type, resource_id, message,
		before_state, after_state, metadata,
		ip_address, user_agent, session_id, request_id, created_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`

// Record validates and persists an entry, then publishes it to the live
// feed. The stored timestamp is always UTC. Request metadata (client
// IP, user agent, session and request ids) is taken from the context.
func (r *Recorder) Record(ctx context.Context, entry Entry) (*Record, error) {
	record, err := r.buildRecord(ctx, entry)
	if err != nil {
		return nil, r.fail(entry, err)
	}

	beforeJSON, err := marshalState(entry.BeforeState)
	if err != nil {
		return nil, r.fail(entry, fmt.Errorf("failed to marshal before state: %w", err))
	}
	afterJSON, err := marshalState(entry.AfterState)
	if err != nil {
		return nil, r.fail(entry, fmt.Errorf("failed to marshal after state: %w", err))
	}
	record.BeforeState = beforeJSON
	record.AfterState = afterJSON

	metadataJSON, err := json.Marshal(record.Metadata)
	if err != nil {
		return nil, r.fail(entry, fmt.Errorf("failed to marshal metadata: %w", err))
	}

	_, err = r.db.ExecContext(ctx, insertRecordQuery,
		record.ID, record.TenantID, record.UserID, record.Action, record.Severity,
		record.ResourceType, nullableString(record.ResourceID), record.Message,
		nullableJSON(record.BeforeState), nullableJSON(record.AfterState), metadataJSON,
		nullableString(record.IPAddress), nullableString(record.UserAgent),
		nullableString(record.SessionID), nullableString(record.RequestID),
		record.CreatedAt,
	)
	if err != nil {
		return nil, r.fail(entry, fmt.Errorf("failed to insert audit record: %w", err))
	}

	if r.metrics != nil {
		r.metrics.AuditRecordsTotal.WithLabelValues(string(record.Action), string(record.Severity)).Inc()
	}

	if r.publisher != nil {
		r.publisher.Publish(ctx, record)
	}

	return record, nil
}

// buildRecord validates the entry and assembles the full record
func (r *Recorder) buildRecord(ctx context.Context, entry Entry) (*Record, error) {
	if entry.TenantID == uuid.Nil {
		return nil, &scope.ValidationError{Field: "tenant_id", Reason: "must not be empty"}
	}
	if !entry.Action.Valid() {
		return nil, &scope.ValidationError{Field: "action", Reason: fmt.Sprintf("unknown action %q", entry.Action)}
	}
	severity := entry.Severity
	if severity == "" {
		severity = SeverityInfo
	}
	if !severity.Valid() {
		return nil, &scope.ValidationError{Field: "severity", Reason: fmt.Sprintf("unknown severity %q", entry.Severity)}
	}
	if entry.ResourceType == "" {
		return nil, &scope.ValidationError{Field: "resource_type", Reason: "must not be empty"}
	}

	metadata := make(map[string]interface{}, len(entry.Metadata))
	for k, v := range entry.Metadata {
		metadata[k] = v
	}

	return &Record{
		ID:           uuid.New(),
		TenantID:     entry.TenantID,
		UserID:       entry.UserID,
		Action:       entry.Action,
		Severity:     severity,
		ResourceType: entry.ResourceType,
		ResourceID:   entry.ResourceID,
		Message:      entry.Message,
		Metadata:     metadata,
		IPAddress:    contextkeys.GetClientIP(ctx),
		UserAgent:    contextkeys.GetUserAgent(ctx),
		SessionID:    contextkeys.GetSessionID(ctx),
		RequestID:    contextkeys.GetRequestID(ctx),
		CreatedAt:    time.Now().UTC(),
	}, nil
}

// fail counts and logs a recording failure, then wraps it so callers
// can distinguish audit trouble from business errors.
func (r *Recorder) fail(entry Entry, err error) error {
	if r.metrics != nil {
		r.metrics.AuditRecordFailuresTotal.Inc()
	}
	if r.logger != nil {
		r.logger.WithError(err).WithFields(map[string]interface{}{
			"tenant_id":     entry.TenantID.String(),
			"action":        string(entry.Action),
			"resource_type": entry.ResourceType,
		}).Error("audit record write failed")
	}
	return &scope.RecordingFailure{Err: err}
}

func marshalState(state interface{}) (json.RawMessage, error) {
	if state == nil {
		return nil, nil
	}
	if raw, ok := state.(json.RawMessage); ok {
		return raw, nil
	}
	return json.Marshal(state)
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullableJSON(raw json.RawMessage) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
