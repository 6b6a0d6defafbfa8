package retention

import (
	"bufio"
	"compress/gzip"
	"context"
	"database/sql/driver"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wardenhq/warden/pkg/observability"
	"github.com/wardenhq/warden/pkg/scope"
)

func newTestManager(t *testing.T) (*Manager, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	m := NewManager(db, validPolicy(), t.TempDir(), t.TempDir(), logger, nil)
	m.batchSize = 2
	return m, mock
}

var archiveColumns = []string{
	"id", "tenant_id", "user_id", "action", "severity",
	"resource_type", "resource_id", "message",
	"before_state", "after_state", "metadata",
	"ip_address", "user_agent", "session_id", "request_id", "created_at",
}

func archiveRow(createdAt time.Time) []driver.Value {
	return []driver.Value{
		uuid.New().String(), uuid.New().String(), nil, "CREATE", "INFO",
		"item", nil, "created",
		nil, nil, []byte(`{}`),
		nil, nil, nil, nil, createdAt,
	}
}

func TestArchive(t *testing.T) {
	m, mock := newTestManager(t)
	old := time.Now().UTC().AddDate(0, 0, -60)

	// Full batch, then a short batch ends the walk
	mock.ExpectQuery(`(?s)SELECT .+ FROM audit_logs\s+WHERE created_at < \$1`).
		WillReturnRows(sqlmock.NewRows(archiveColumns).
			AddRow(archiveRow(old)...).
			AddRow(archiveRow(old)...))
	mock.ExpectExec(`DELETE FROM audit_logs WHERE id = ANY\(\$1\)`).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectQuery(`(?s)SELECT .+ FROM audit_logs\s+WHERE created_at < \$1`).
		WillReturnRows(sqlmock.NewRows(archiveColumns).AddRow(archiveRow(old)...))
	mock.ExpectExec(`DELETE FROM audit_logs WHERE id = ANY\(\$1\)`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`(?s)SELECT .+ FROM audit_logs\s+WHERE created_at < \$1`).
		WillReturnRows(sqlmock.NewRows(archiveColumns))

	report, err := m.Archive(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(3), report.RecordsProcessed)
	require.Len(t, report.Files, 1)
	assert.Greater(t, report.BytesWritten, int64(0))

	// The file is gzipped NDJSON, one record per line
	file, err := os.Open(report.Files[0])
	require.NoError(t, err)
	defer file.Close()
	gz, err := gzip.NewReader(file)
	require.NoError(t, err)

	var lines int
	sc := bufio.NewScanner(gz)
	for sc.Scan() {
		var rec archivedRecord
		require.NoError(t, json.Unmarshal(sc.Bytes(), &rec))
		assert.Equal(t, "CREATE", rec.Action)
		lines++
	}
	require.NoError(t, sc.Err())
	assert.Equal(t, 3, lines)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestArchiveNothingToDo(t *testing.T) {
	m, mock := newTestManager(t)

	mock.ExpectQuery(`(?s)SELECT .+ FROM audit_logs`).
		WillReturnRows(sqlmock.NewRows(archiveColumns))

	report, err := m.Archive(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(0), report.RecordsProcessed)
	assert.Empty(t, report.Files, "empty archives are not kept")

	entries, err := os.ReadDir(m.archiveDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestApplyRetention(t *testing.T) {
	m, mock := newTestManager(t)

	mock.ExpectQuery(`pg_total_relation_size`).
		WillReturnRows(sqlmock.NewRows([]string{"size"}).AddRow(4096))
	mock.ExpectExec(`DELETE FROM audit_logs`).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(`DELETE FROM audit_logs`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`pg_total_relation_size`).
		WillReturnRows(sqlmock.NewRows([]string{"size"}).AddRow(2048))

	report, err := m.ApplyRetention(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), report.RecordsProcessed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCompress(t *testing.T) {
	m, _ := newTestManager(t)

	oldFile := filepath.Join(m.archiveDir, "audit_logs_old.json")
	require.NoError(t, os.WriteFile(oldFile, []byte(`{"id":"1"}`+"\n"), 0o644))
	past := time.Now().AddDate(0, 0, -30)
	require.NoError(t, os.Chtimes(oldFile, past, past))

	freshFile := filepath.Join(m.archiveDir, "audit_logs_fresh.json")
	require.NoError(t, os.WriteFile(freshFile, []byte(`{"id":"2"}`+"\n"), 0o644))

	report, err := m.Compress(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(1), report.RecordsProcessed)
	assert.NoFileExists(t, oldFile, "compressed original is removed")
	assert.FileExists(t, oldFile+".gz")
	assert.FileExists(t, freshFile, "fresh files are left alone")
	assert.NoFileExists(t, freshFile+".gz")

	// The compressed file round-trips
	f, err := os.Open(oldFile + ".gz")
	require.NoError(t, err)
	defer f.Close()
	gz, err := gzip.NewReader(f)
	require.NoError(t, err)
	content, err := io.ReadAll(gz)
	require.NoError(t, err)
	assert.Equal(t, `{"id":"1"}`+"\n", string(content))
}

func TestCompressCollectsFailures(t *testing.T) {
	m, _ := newTestManager(t)

	// A directory masquerading as an archive cannot be compressed
	badFile := filepath.Join(m.archiveDir, "audit_logs_bad.json")
	require.NoError(t, os.Mkdir(badFile, 0o755))
	past := time.Now().AddDate(0, 0, -30)
	require.NoError(t, os.Chtimes(badFile, past, past))

	goodFile := filepath.Join(m.archiveDir, "audit_logs_good.json")
	require.NoError(t, os.WriteFile(goodFile, []byte("{}"), 0o644))
	require.NoError(t, os.Chtimes(goodFile, past, past))

	report, err := m.Compress(context.Background())
	require.Error(t, err)

	var me *scope.MaintenanceError
	require.ErrorAs(t, err, &me)
	assert.Equal(t, "compress", me.Pass)
	assert.Len(t, me.Items, 1)
	assert.Equal(t, int64(1), report.RecordsProcessed, "good file still compressed")
	assert.FileExists(t, goodFile+".gz")
}

func TestCleanupBackups(t *testing.T) {
	m, _ := newTestManager(t)
	require.NoError(t, os.MkdirAll(m.backupDir, 0o755))

	oldBackup := filepath.Join(m.backupDir, "audit_backup_20250101T000000Z.db")
	require.NoError(t, os.WriteFile(oldBackup, []byte("x"), 0o644))
	past := time.Now().AddDate(0, 0, -120)
	require.NoError(t, os.Chtimes(oldBackup, past, past))

	freshBackup := filepath.Join(m.backupDir, "audit_backup_20260801T000000Z.db")
	require.NoError(t, os.WriteFile(freshBackup, []byte("x"), 0o644))

	report, err := m.CleanupBackups(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(1), report.RecordsProcessed)
	assert.NoFileExists(t, oldBackup)
	assert.FileExists(t, freshBackup)
}

func TestCleanupBackupsCollectsFailures(t *testing.T) {
	m, _ := newTestManager(t)
	require.NoError(t, os.MkdirAll(m.backupDir, 0o755))
	past := time.Now().AddDate(0, 0, -120)

	// A non-empty directory matching the backup pattern cannot be
	// removed, but must not block removal of the real stale backup.
	stuck := filepath.Join(m.backupDir, "audit_backup_stuck.db")
	require.NoError(t, os.MkdirAll(stuck, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(stuck, "leftover"), []byte("x"), 0o644))
	require.NoError(t, os.Chtimes(stuck, past, past))

	oldBackup := filepath.Join(m.backupDir, "audit_backup_20250101T000000Z.db")
	require.NoError(t, os.WriteFile(oldBackup, []byte("x"), 0o644))
	require.NoError(t, os.Chtimes(oldBackup, past, past))

	report, err := m.CleanupBackups(context.Background())
	require.Error(t, err)

	var merr *scope.MaintenanceError
	require.ErrorAs(t, err, &merr)
	assert.Equal(t, "cleanup", merr.Pass)
	assert.Len(t, merr.Items, 1)
	assert.Equal(t, int64(1), report.RecordsProcessed)
	assert.NoFileExists(t, oldBackup)
}

func TestStats(t *testing.T) {
	m, mock := newTestManager(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM audit_logs$`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1000))
	mock.ExpectQuery(`pg_total_relation_size`).
		WillReturnRows(sqlmock.NewRows([]string{"size"}).AddRow(int64(2) * 1024 * 1024 * 1024))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM audit_logs WHERE created_at < \$1`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(400))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM audit_logs WHERE created_at < \$1`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(50))

	stats, err := m.Stats(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(1000), stats.PrimaryRecords)
	assert.Equal(t, int64(400), stats.EligibleForArchive)
	assert.Equal(t, int64(50), stats.EligibleForDeletion)
	assert.True(t, stats.OverSizeLimit, "2GB exceeds the 1000MB policy limit")
}
