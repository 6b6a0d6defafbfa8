package retention

import (
	"compress/gzip"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/lib/pq"
	"golang.org/x/sync/errgroup"

	"github.com/wardenhq/warden/pkg/observability"
	"github.com/wardenhq/warden/pkg/scope"
)

// compressWorkers bounds the parallel gzip jobs in the compress pass
const compressWorkers = 4

// Manager executes the maintenance passes against the audit trail
type Manager struct {
	db      *sql.DB
	policy  Policy
	logger  *observability.Logger
	metrics *observability.Metrics

	archiveDir string
	backupDir  string
	batchSize  int
}

// NewManager creates a maintenance manager. metrics may be nil.
func NewManager(db *sql.DB, policy Policy, archiveDir, backupDir string, logger *observability.Logger, metrics *observability.Metrics) *Manager {
	return &Manager{
		db:         db,
		policy:     policy,
		logger:     logger,
		metrics:    metrics,
		archiveDir: archiveDir,
		backupDir:  backupDir,
		batchSize:  1000,
	}
}

// Policy returns the active retention policy
func (m *Manager) Policy() Policy {
	return m.policy
}

// PassReport summarizes one maintenance pass
type PassReport struct {
	Pass             string    `json:"pass"`
	StartedAt        time.Time `json:"started_at"`
	FinishedAt       time.Time `json:"finished_at"`
	RecordsProcessed int64     `json:"records_processed"`
	BytesWritten     int64     `json:"bytes_written,omitempty"`
	Files            []string  `json:"files,omitempty"`
}

// archivedRecord mirrors the audit_logs row layout for NDJSON archives
type archivedRecord struct {
	ID           string          `json:"id"`
	TenantID     string          `json:"tenant_id"`
	UserID       *string         `json:"user_id,omitempty"`
	Action       string          `json:"action"`
	Severity     string          `json:"severity"`
	ResourceType string          `json:"resource_type"`
	ResourceID   *string         `json:"resource_id,omitempty"`
	Message      string          `json:"message"`
	BeforeState  json.RawMessage `json:"before_state,omitempty"`
	AfterState   json.RawMessage `json:"after_state,omitempty"`
	Metadata     json.RawMessage `json:"metadata,omitempty"`
	IPAddress    *string         `json:"ip_address,omitempty"`
	UserAgent    *string         `json:"user_agent,omitempty"`
	SessionID    *string         `json:"session_id,omitempty"`
	RequestID    *string         `json:"request_id,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

// countingWriter tracks bytes written through it
type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// Archive moves records older than the archive threshold into a
// gzipped NDJSON file, then deletes them from the primary store. Each
// batch is deleted only after it is safely in the file, so a failure
// midway never loses records.
func (m *Manager) Archive(ctx context.Context) (*PassReport, error) {
	report := m.startPass("archive")
	defer m.finishPass(report)

	cutoff := time.Now().UTC().AddDate(0, 0, -m.policy.ArchiveAfterDays)

	if err := os.MkdirAll(m.archiveDir, 0o755); err != nil {
		return report, fmt.Errorf("failed to create archive directory: %w", err)
	}

	filename := fmt.Sprintf("audit_logs_%s.json.gz", time.Now().UTC().Format("20060102T150405Z"))
	path := filepath.Join(m.archiveDir, filename)

	file, err := os.Create(path)
	if err != nil {
		return report, fmt.Errorf("failed to create archive file: %w", err)
	}

	counter := &countingWriter{w: file}
	gz := gzip.NewWriter(counter)
	enc := json.NewEncoder(gz)

	for {
		if err := ctx.Err(); err != nil {
			file.Close()
			return report, err
		}

		ids, err := m.archiveBatch(ctx, enc, cutoff)
		if err != nil {
			file.Close()
			return report, err
		}
		if len(ids) == 0 {
			break
		}

		// The batch is only deleted once it is flushed to disk
		if err := gz.Flush(); err != nil {
			file.Close()
			return report, fmt.Errorf("failed to flush archive: %w", err)
		}
		if _, err := m.db.ExecContext(ctx, "DELETE FROM audit_logs WHERE id = ANY($1)", pq.Array(ids)); err != nil {
			file.Close()
			return report, fmt.Errorf("failed to delete archived records: %w", err)
		}

		report.RecordsProcessed += int64(len(ids))
	}

	if err := gz.Close(); err != nil {
		file.Close()
		return report, fmt.Errorf("failed to finalize archive: %w", err)
	}
	if err := file.Close(); err != nil {
		return report, fmt.Errorf("failed to close archive file: %w", err)
	}

	if report.RecordsProcessed == 0 {
		os.Remove(path)
		return report, nil
	}

	report.BytesWritten = counter.n
	report.Files = []string{path}
	if m.metrics != nil {
		m.metrics.ArchiveBytesWrittenTotal.Add(float64(counter.n))
	}
	m.logger.WithFields(map[string]interface{}{
		"file":    path,
		"records": report.RecordsProcessed,
		"bytes":   counter.n,
	}).Info("audit records archived")
	return report, nil
}

// archiveBatch writes one batch of expired records to the encoder and
// returns their ids.
func (m *Manager) archiveBatch(ctx context.Context, enc *json.Encoder, cutoff time.Time) ([]string, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT id, tenant_id, user_id, action, severity,
			resource_type, resource_id, message,
			before_state, after_state, metadata,
			ip_address, user_agent, session_id, request_id, created_at
		FROM audit_logs
		WHERE created_at < $1
		ORDER BY created_at
		LIMIT $2`, cutoff, m.batchSize)
	if err != nil {
		return nil, fmt.Errorf("failed to query expired records: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0, m.batchSize)
	for rows.Next() {
		var rec archivedRecord
		err := rows.Scan(
			&rec.ID, &rec.TenantID, &rec.UserID, &rec.Action, &rec.Severity,
			&rec.ResourceType, &rec.ResourceID, &rec.Message,
			&rec.BeforeState, &rec.AfterState, &rec.Metadata,
			&rec.IPAddress, &rec.UserAgent, &rec.SessionID, &rec.RequestID, &rec.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan expired record: %w", err)
		}
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("failed to encode archived record: %w", err)
		}
		ids = append(ids, rec.ID)
	}
	return ids, rows.Err()
}

// ApplyRetention deletes records past the retention horizon in batches
func (m *Manager) ApplyRetention(ctx context.Context) (*PassReport, error) {
	report := m.startPass("retention")
	defer m.finishPass(report)

	cutoff := time.Now().UTC().AddDate(0, 0, -m.policy.RetentionDays)

	var sizeBefore int64
	_ = m.db.QueryRowContext(ctx, "SELECT COALESCE(pg_total_relation_size('audit_logs'), 0)").Scan(&sizeBefore)

	for {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		result, err := m.db.ExecContext(ctx, `
			DELETE FROM audit_logs
			WHERE id IN (
				SELECT id FROM audit_logs WHERE created_at < $1 LIMIT $2
			)`, cutoff, m.batchSize)
		if err != nil {
			return report, fmt.Errorf("failed to delete expired records: %w", err)
		}

		deleted, err := result.RowsAffected()
		if err != nil {
			return report, fmt.Errorf("failed to read delete count: %w", err)
		}
		report.RecordsProcessed += deleted
		if deleted < int64(m.batchSize) {
			break
		}
	}

	if report.RecordsProcessed > 0 {
		var sizeAfter int64
		_ = m.db.QueryRowContext(ctx, "SELECT COALESCE(pg_total_relation_size('audit_logs'), 0)").Scan(&sizeAfter)
		if m.metrics != nil && sizeBefore > sizeAfter {
			m.metrics.RetentionBytesFreedTotal.Add(float64(sizeBefore - sizeAfter))
		}
		m.logger.WithField("records", report.RecordsProcessed).Warn("expired audit records deleted past retention")
	}
	return report, nil
}

// Compress gzips stray plain archives left behind by interrupted runs
// or produced by external tooling. Files younger than the compress
// threshold are left alone.
func (m *Manager) Compress(ctx context.Context) (*PassReport, error) {
	report := m.startPass("compress")
	defer m.finishPass(report)

	cutoff := time.Now().Add(-time.Duration(m.policy.CompressAfterDays) * 24 * time.Hour)

	candidates, err := filepath.Glob(filepath.Join(m.archiveDir, "*.json"))
	if err != nil {
		return report, fmt.Errorf("failed to scan archive directory: %w", err)
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(compressWorkers)

	results := make([]error, len(candidates))
	compressed := make([]string, len(candidates))

	for i, path := range candidates {
		i, path := i, path
		group.Go(func() error {
			if err := groupCtx.Err(); err != nil {
				return err
			}
			info, err := os.Stat(path)
			if err != nil {
				results[i] = err
				return nil
			}
			if info.ModTime().After(cutoff) {
				return nil
			}
			if err := gzipFile(path); err != nil {
				results[i] = fmt.Errorf("%s: %w", filepath.Base(path), err)
				return nil
			}
			compressed[i] = path + ".gz"
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return report, err
	}

	var failures []error
	for i := range candidates {
		if results[i] != nil {
			failures = append(failures, results[i])
			continue
		}
		if compressed[i] != "" {
			report.Files = append(report.Files, compressed[i])
			report.RecordsProcessed++
		}
	}

	if len(failures) > 0 {
		return report, &scope.MaintenanceError{Pass: "compress", Items: failures}
	}
	return report, nil
}

// gzipFile compresses a file in place, removing the original
func gzipFile(path string) error {
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.Create(path + ".gz")
	if err != nil {
		return err
	}

	gz := gzip.NewWriter(dst)
	if _, err := io.Copy(gz, src); err != nil {
		dst.Close()
		os.Remove(path + ".gz")
		return err
	}
	if err := gz.Close(); err != nil {
		dst.Close()
		os.Remove(path + ".gz")
		return err
	}
	if err := dst.Close(); err != nil {
		os.Remove(path + ".gz")
		return err
	}
	return os.Remove(path)
}

// TrailStats describes the state of the audit trail and its archives
type TrailStats struct {
	PrimaryRecords      int64  `json:"primary_records"`
	PrimaryBytes        int64  `json:"primary_bytes"`
	EligibleForArchive  int64  `json:"eligible_for_archive"`
	EligibleForDeletion int64  `json:"eligible_for_deletion"`
	ArchiveFiles        int    `json:"archive_files"`
	ArchiveBytes        int64  `json:"archive_bytes"`
	BackupFiles         int    `json:"backup_files"`
	BackupBytes         int64  `json:"backup_bytes"`
	OverSizeLimit       bool   `json:"over_size_limit"`
	Policy              Policy `json:"policy"`
}

// Stats reports the trail's current size against the policy
func (m *Manager) Stats(ctx context.Context) (*TrailStats, error) {
	stats := &TrailStats{Policy: m.policy}
	now := time.Now().UTC()

	if err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM audit_logs").Scan(&stats.PrimaryRecords); err != nil {
		return nil, fmt.Errorf("failed to count audit records: %w", err)
	}
	if err := m.db.QueryRowContext(ctx, "SELECT COALESCE(pg_total_relation_size('audit_logs'), 0)").Scan(&stats.PrimaryBytes); err != nil {
		return nil, fmt.Errorf("failed to measure audit table: %w", err)
	}

	archiveCutoff := now.AddDate(0, 0, -m.policy.ArchiveAfterDays)
	if err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM audit_logs WHERE created_at < $1", archiveCutoff).Scan(&stats.EligibleForArchive); err != nil {
		return nil, fmt.Errorf("failed to count archivable records: %w", err)
	}

	retentionCutoff := now.AddDate(0, 0, -m.policy.RetentionDays)
	if err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM audit_logs WHERE created_at < $1", retentionCutoff).Scan(&stats.EligibleForDeletion); err != nil {
		return nil, fmt.Errorf("failed to count expired records: %w", err)
	}

	stats.ArchiveFiles, stats.ArchiveBytes = dirStats(m.archiveDir)
	stats.BackupFiles, stats.BackupBytes = dirStats(m.backupDir)
	stats.OverSizeLimit = stats.PrimaryBytes > int64(m.policy.MaxLogSizeMB)*1024*1024

	return stats, nil
}

func dirStats(dir string) (int, int64) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, 0
	}
	var count int
	var bytes int64
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		count++
		bytes += info.Size()
	}
	return count, bytes
}

// startPass begins a report and the pass timer
func (m *Manager) startPass(name string) *PassReport {
	return &PassReport{Pass: name, StartedAt: time.Now().UTC()}
}

// finishPass stamps the report and records metrics
func (m *Manager) finishPass(report *PassReport) {
	report.FinishedAt = time.Now().UTC()
	if m.metrics == nil {
		return
	}
	m.metrics.MaintenancePassesTotal.WithLabelValues(report.Pass).Inc()
	m.metrics.MaintenancePassDuration.WithLabelValues(report.Pass).
		Observe(report.FinishedAt.Sub(report.StartedAt).Seconds())
	m.metrics.MaintenanceRecordsTotal.WithLabelValues(report.Pass).
		Add(float64(report.RecordsProcessed))
}
