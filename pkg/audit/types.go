package audit

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Action identifies the kind of operation a record describes
type Action string

const (
	ActionCreate Action = "CREATE"
	ActionUpdate Action = "UPDATE"
	ActionDelete Action = "DELETE"
	ActionView   Action = "VIEW"
	ActionLogin  Action = "LOGIN"
	ActionLogout Action = "LOGOUT"
	ActionExport Action = "EXPORT"
	ActionImport Action = "IMPORT"
)

// Valid reports whether the action is a known value
func (a Action) Valid() bool {
	switch a {
	case ActionCreate, ActionUpdate, ActionDelete, ActionView,
		ActionLogin, ActionLogout, ActionExport, ActionImport:
		return true
	}
	return false
}

// Severity classifies how notable a record is
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityError    Severity = "ERROR"
	SeverityCritical Severity = "CRITICAL"
)

// Valid reports whether the severity is a known value
func (s Severity) Valid() bool {
	switch s {
	case SeverityInfo, SeverityWarning, SeverityError, SeverityCritical:
		return true
	}
	return false
}

// Record is one immutable audit trail entry. Records are append-only;
// nothing in the API updates or deletes them except the retention jobs.
type Record struct {
	ID           uuid.UUID              `json:"id"`
	TenantID     uuid.UUID              `json:"tenant_id"`
	UserID       *uuid.UUID             `json:"user_id,omitempty"`
	Action       Action                 `json:"action"`
	Severity     Severity               `json:"severity"`
	ResourceType string                 `json:"resource_type"`
	ResourceID   string                 `json:"resource_id,omitempty"`
	Message      string                 `json:"message"`
	BeforeState  json.RawMessage        `json:"before_state,omitempty"`
	AfterState   json.RawMessage        `json:"after_state,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
	IPAddress    string                 `json:"ip_address,omitempty"`
	UserAgent    string                 `json:"user_agent,omitempty"`
	SessionID    string                 `json:"session_id,omitempty"`
	RequestID    string                 `json:"request_id,omitempty"`
	CreatedAt    time.Time              `json:"created_at"`
}

// Entry is the caller-supplied part of a record. The recorder fills in
// identity, timestamps and request metadata.
type Entry struct {
	TenantID     uuid.UUID
	UserID       *uuid.UUID
	Action       Action
	Severity     Severity
	ResourceType string
	ResourceID   string
	Message      string
	BeforeState  interface{}
	AfterState   interface{}
	Metadata     map[string]interface{}
}

// Filter narrows a search. All fields are optional and combined with AND.
type Filter struct {
	UserID       *uuid.UUID
	Actions      []Action
	Severities   []Severity
	ResourceType string
	ResourceID   string
	Since        *time.Time
	Until        *time.Time
	Search       string

	Skip  int
	Limit int
}

// Stats summarizes the audit trail visible to a scope
type Stats struct {
	TotalRecords int64            `json:"total_records"`
	ByAction     map[string]int64 `json:"by_action"`
	BySeverity   map[string]int64 `json:"by_severity"`
	OldestRecord *time.Time       `json:"oldest_record,omitempty"`
	NewestRecord *time.Time       `json:"newest_record,omitempty"`
}
