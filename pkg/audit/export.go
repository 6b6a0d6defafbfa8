package audit

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/wardenhq/warden/pkg/scope"
)

// Format selects the export encoding
type Format string

const (
	FormatCSV    Format = "csv"
	FormatJSON   Format = "json"
	FormatNDJSON Format = "ndjson"
)

// ParseFormat parses a format string, defaulting to CSV
func ParseFormat(value string) (Format, error) {
	switch Format(strings.ToLower(value)) {
	case FormatCSV, "":
		return FormatCSV, nil
	case FormatJSON:
		return FormatJSON, nil
	case FormatNDJSON:
		return FormatNDJSON, nil
	}
	return "", fmt.Errorf("unknown export format %q", value)
}

// ContentType returns the MIME type for the format
func (f Format) ContentType() string {
	switch f {
	case FormatJSON:
		return "application/json"
	case FormatNDJSON:
		return "application/x-ndjson"
	default:
		return "text/csv"
	}
}

// Exporter streams audit records to a writer in batches, so exports of
// the full cap never hold the result set in memory.
type Exporter struct {
	store      *Store
	recorder   *Recorder
	batchSize  int
	maxRecords int
}

// NewExporter creates an exporter. recorder may be nil to skip
// recording the export itself.
func NewExporter(store *Store, recorder *Recorder, batchSize, maxRecords int) *Exporter {
	return &Exporter{
		store:      store,
		recorder:   recorder,
		batchSize:  batchSize,
		maxRecords: maxRecords,
	}
}

// Export writes matching records to w and returns how many were
// written. The export itself is recorded as an EXPORT action on the
// caller's tenant.
func (e *Exporter) Export(ctx context.Context, caller scope.Caller, sc scope.TenantScope, filter Filter, format Format, w io.Writer) (int64, error) {
	enc, err := newEncoder(format, w)
	if err != nil {
		return 0, err
	}

	var written int64
	skip := filter.Skip
	for written < int64(e.maxRecords) {
		if err := ctx.Err(); err != nil {
			return written, err
		}

		batch := filter
		batch.Skip = skip
		batch.Limit = e.batchSize
		if remaining := int64(e.maxRecords) - written; remaining < int64(e.batchSize) {
			batch.Limit = int(remaining)
		}

		records, err := e.store.page(ctx, sc, batch)
		if err != nil {
			return written, err
		}

		for _, record := range records {
			if err := enc.write(record); err != nil {
				return written, fmt.Errorf("failed to encode record: %w", err)
			}
			written++
		}

		if len(records) < batch.Limit {
			break
		}
		skip += len(records)
	}

	if err := enc.close(); err != nil {
		return written, err
	}

	if e.recorder != nil {
		// Failure here must not fail the export that already streamed
		_, recErr := e.recorder.Record(ctx, Entry{
			TenantID:     caller.TenantID,
			UserID:       &caller.UserID,
			Action:       ActionExport,
			Severity:     SeverityInfo,
			ResourceType: "audit_log",
			Message:      fmt.Sprintf("exported %d audit records as %s", written, format),
			Metadata: map[string]interface{}{
				"format":  string(format),
				"records": written,
			},
		})
		_ = recErr
	}

	return written, nil
}

// encoder abstracts per-format streaming
type encoder interface {
	write(record *Record) error
	close() error
}

func newEncoder(format Format, w io.Writer) (encoder, error) {
	switch format {
	case FormatCSV:
		return newCSVEncoder(w)
	case FormatJSON:
		return &jsonEncoder{w: w}, nil
	case FormatNDJSON:
		return &ndjsonEncoder{enc: json.NewEncoder(w)}, nil
	}
	return nil, fmt.Errorf("unknown export format %q", format)
}

type csvEncoder struct {
	w *csv.Writer
}

var csvHeader = []string{
	"id", "tenant_id", "user_id", "action", "severity",
	"resource_type", "resource_id", "message",
	"ip_address", "user_agent", "session_id", "request_id",
	"before_state", "after_state", "metadata", "created_at",
}

func newCSVEncoder(w io.Writer) (*csvEncoder, error) {
	enc := &csvEncoder{w: csv.NewWriter(w)}
	if err := enc.w.Write(csvHeader); err != nil {
		return nil, fmt.Errorf("failed to write CSV header: %w", err)
	}
	return enc, nil
}

func (e *csvEncoder) write(record *Record) error {
	userID := ""
	if record.UserID != nil {
		userID = record.UserID.String()
	}
	metadata := ""
	if len(record.Metadata) > 0 {
		raw, err := json.Marshal(record.Metadata)
		if err != nil {
			return err
		}
		metadata = string(raw)
	}

	return e.w.Write([]string{
		record.ID.String(),
		record.TenantID.String(),
		userID,
		string(record.Action),
		string(record.Severity),
		record.ResourceType,
		record.ResourceID,
		record.Message,
		record.IPAddress,
		record.UserAgent,
		record.SessionID,
		record.RequestID,
		string(record.BeforeState),
		string(record.AfterState),
		metadata,
		record.CreatedAt.Format(time.RFC3339),
	})
}

func (e *csvEncoder) close() error {
	e.w.Flush()
	return e.w.Error()
}

type jsonEncoder struct {
	w     io.Writer
	count int
}

func (e *jsonEncoder) write(record *Record) error {
	prefix := ","
	if e.count == 0 {
		prefix = "["
	}
	if _, err := io.WriteString(e.w, prefix); err != nil {
		return err
	}
	raw, err := json.Marshal(record)
	if err != nil {
		return err
	}
	if _, err := e.w.Write(raw); err != nil {
		return err
	}
	e.count++
	return nil
}

func (e *jsonEncoder) close() error {
	if e.count == 0 {
		_, err := io.WriteString(e.w, "[]")
		return err
	}
	_, err := io.WriteString(e.w, "]")
	return err
}

type ndjsonEncoder struct {
	enc *json.Encoder
}

func (e *ndjsonEncoder) write(record *Record) error { return e.enc.Encode(record) }
func (e *ndjsonEncoder) close() error               { return nil }
