package retention

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // backup file driver

	"github.com/wardenhq/warden/pkg/scope"
)

// backupSchema mirrors the audit_logs table in a portable SQLite file.
// Everything is stored as text so a backup opens anywhere without the
// PostgreSQL type system.
const backupSchema = `
	CREATE TABLE IF NOT EXISTS audit_logs (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		user_id TEXT,
		action TEXT NOT NULL,
		severity TEXT NOT NULL,
		resource_type TEXT NOT NULL,
		resource_id TEXT,
		message TEXT NOT NULL,
		before_state TEXT,
		after_state TEXT,
		metadata TEXT,
		ip_address TEXT,
		user_agent TEXT,
		session_id TEXT,
		request_id TEXT,
		created_at TEXT NOT NULL
	)`

const backupInsert = `
	INSERT OR IGNORE INTO audit_logs (
		id, tenant_id, user_id, action, severity,
		resource_type, resource_id, message,
		before_state, after_state, metadata,
		ip_address, user_agent, session_id, request_id, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// Backup copies the full audit trail into a standalone SQLite file
func (m *Manager) Backup(ctx context.Context) (*PassReport, error) {
	report := m.startPass("backup")
	defer m.finishPass(report)

	if err := os.MkdirAll(m.backupDir, 0o755); err != nil {
		return report, fmt.Errorf("failed to create backup directory: %w", err)
	}

	filename := fmt.Sprintf("audit_backup_%s.db", time.Now().UTC().Format("20060102T150405Z"))
	path := filepath.Join(m.backupDir, filename)

	backup, err := sql.Open("sqlite3", path)
	if err != nil {
		return report, fmt.Errorf("failed to open backup file: %w", err)
	}
	defer backup.Close()

	if _, err := backup.ExecContext(ctx, backupSchema); err != nil {
		return report, fmt.Errorf("failed to create backup schema: %w", err)
	}

	rows, err := m.db.QueryContext(ctx, `
		SELECT id, tenant_id, user_id, action, severity,
			resource_type, resource_id, message,
			before_state, after_state, metadata,
			ip_address, user_agent, session_id, request_id, created_at
		FROM audit_logs ORDER BY created_at`)
	if err != nil {
		return report, fmt.Errorf("failed to read audit records: %w", err)
	}
	defer rows.Close()

	tx, err := backup.BeginTx(ctx, nil)
	if err != nil {
		return report, fmt.Errorf("failed to begin backup transaction: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, backupInsert)
	if err != nil {
		tx.Rollback()
		return report, fmt.Errorf("failed to prepare backup insert: %w", err)
	}

	for rows.Next() {
		var rec archivedRecord
		var beforeState, afterState, metadata []byte
		err := rows.Scan(
			&rec.ID, &rec.TenantID, &rec.UserID, &rec.Action, &rec.Severity,
			&rec.ResourceType, &rec.ResourceID, &rec.Message,
			&beforeState, &afterState, &metadata,
			&rec.IPAddress, &rec.UserAgent, &rec.SessionID, &rec.RequestID, &rec.CreatedAt,
		)
		if err != nil {
			tx.Rollback()
			return report, fmt.Errorf("failed to scan audit record: %w", err)
		}

		_, err = stmt.ExecContext(ctx,
			rec.ID, rec.TenantID, rec.UserID, rec.Action, rec.Severity,
			rec.ResourceType, rec.ResourceID, rec.Message,
			nullableBytes(beforeState), nullableBytes(afterState), nullableBytes(metadata),
			rec.IPAddress, rec.UserAgent, rec.SessionID, rec.RequestID,
			rec.CreatedAt.UTC().Format(time.RFC3339Nano),
		)
		if err != nil {
			tx.Rollback()
			return report, fmt.Errorf("failed to write backup record: %w", err)
		}
		report.RecordsProcessed++
	}
	if err := rows.Err(); err != nil {
		tx.Rollback()
		return report, fmt.Errorf("failed to iterate audit records: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return report, fmt.Errorf("failed to commit backup: %w", err)
	}

	if info, err := os.Stat(path); err == nil {
		report.BytesWritten = info.Size()
	}
	report.Files = []string{path}
	m.logger.WithFields(map[string]interface{}{
		"file":    path,
		"records": report.RecordsProcessed,
	}).Info("audit backup written")
	return report, nil
}

// RestoreBackup loads records from a SQLite backup into the primary
// store. Records that already exist are left untouched, so restoring
// is idempotent.
func (m *Manager) RestoreBackup(ctx context.Context, path string) (*PassReport, error) {
	report := m.startPass("restore")
	defer m.finishPass(report)

	if _, err := os.Stat(path); err != nil {
		return report, fmt.Errorf("backup file not readable: %w", err)
	}

	backup, err := sql.Open("sqlite3", path)
	if err != nil {
		return report, fmt.Errorf("failed to open backup file: %w", err)
	}
	defer backup.Close()

	rows, err := backup.QueryContext(ctx, `
		SELECT id, tenant_id, user_id, action, severity,
			resource_type, resource_id, message,
			before_state, after_state, metadata,
			ip_address, user_agent, session_id, request_id, created_at
		FROM audit_logs`)
	if err != nil {
		return report, fmt.Errorf("failed to read backup records: %w", err)
	}
	defer rows.Close()

	// Each record restores independently; bad rows are collected so
	// one corrupt entry cannot block the rest of the backup.
	var failures []error
	for rows.Next() {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		var rec archivedRecord
		var beforeState, afterState, metadata sql.NullString
		var createdAt string
		err := rows.Scan(
			&rec.ID, &rec.TenantID, &rec.UserID, &rec.Action, &rec.Severity,
			&rec.ResourceType, &rec.ResourceID, &rec.Message,
			&beforeState, &afterState, &metadata,
			&rec.IPAddress, &rec.UserAgent, &rec.SessionID, &rec.RequestID, &createdAt,
		)
		if err != nil {
			failures = append(failures, fmt.Errorf("failed to scan backup record: %w", err))
			continue
		}

		ts, err := time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			failures = append(failures, fmt.Errorf("malformed backup timestamp %q: %w", createdAt, err))
			continue
		}

		_, err = m.db.ExecContext(ctx, `
			INSERT INTO audit_logs (
				id, tenant_id, user_id, action, severity,
				resource_type, resource_id, message,
				before_state, after_state, metadata,
				ip_address, user_agent, session_id, request_id, created_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
			ON CONFLICT (id) DO NOTHING`,
			rec.ID, rec.TenantID, rec.UserID, rec.Action, rec.Severity,
			rec.ResourceType, rec.ResourceID, rec.Message,
			nullString(beforeState), nullString(afterState), nullString(metadata),
			rec.IPAddress, rec.UserAgent, rec.SessionID, rec.RequestID, ts,
		)
		if err != nil {
			failures = append(failures, fmt.Errorf("failed to restore record %s: %w", rec.ID, err))
			continue
		}
		report.RecordsProcessed++
	}
	if err := rows.Err(); err != nil {
		return report, fmt.Errorf("failed to iterate backup records: %w", err)
	}

	m.logger.WithFields(map[string]interface{}{
		"file":    path,
		"records": report.RecordsProcessed,
		"failed":  len(failures),
	}).Info("audit backup restored")

	if len(failures) > 0 {
		return report, &scope.MaintenanceError{Pass: "restore", Items: failures}
	}
	return report, nil
}

// CleanupBackups deletes backup files older than the retention horizon
func (m *Manager) CleanupBackups(ctx context.Context) (*PassReport, error) {
	report := m.startPass("cleanup")
	defer m.finishPass(report)

	cutoff := time.Now().Add(-time.Duration(m.policy.RetentionDays) * 24 * time.Hour)

	candidates, err := filepath.Glob(filepath.Join(m.backupDir, "audit_backup_*.db"))
	if err != nil {
		return report, fmt.Errorf("failed to scan backup directory: %w", err)
	}

	var failures []error
	for _, path := range candidates {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(path); err != nil {
			failures = append(failures, fmt.Errorf("failed to remove old backup %s: %w", filepath.Base(path), err))
			continue
		}
		report.RecordsProcessed++
		report.Files = append(report.Files, path)
	}

	if report.RecordsProcessed > 0 {
		m.logger.WithField("files", report.RecordsProcessed).Info("old audit backups removed")
	}
	if len(failures) > 0 {
		return report, &scope.MaintenanceError{Pass: "cleanup", Items: failures}
	}
	return report, nil
}

func nullableBytes(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

func nullString(s sql.NullString) interface{} {
	if !s.Valid {
		return nil
	}
	return s.String
}
