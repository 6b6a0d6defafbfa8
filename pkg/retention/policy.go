// Package retention implements audit trail lifecycle maintenance:
// archival to compressed files, retention deletes, portable backups,
// and the scheduled runner driving them.
package retention

import "fmt"

// Policy controls how long audit records live in the primary store and
// when they move to archives and backups.
type Policy struct {
	RetentionDays       int `json:"retention_days"`
	ArchiveAfterDays    int `json:"archive_after_days"`
	CompressAfterDays   int `json:"compress_after_days"`
	MaxLogSizeMB        int `json:"max_log_size_mb"`
	BackupIntervalHours int `json:"backup_interval_hours"`
}

// Validate checks the policy's internal consistency. Records must be
// archived no later than they are deleted, otherwise the retention
// pass would destroy data the archive pass never saw.
func (p Policy) Validate() error {
	if p.RetentionDays <= 0 {
		return fmt.Errorf("retention days must be positive")
	}
	if p.ArchiveAfterDays <= 0 {
		return fmt.Errorf("archive after days must be positive")
	}
	if p.ArchiveAfterDays > p.RetentionDays {
		return fmt.Errorf("archive after days (%d) must not exceed retention days (%d)",
			p.ArchiveAfterDays, p.RetentionDays)
	}
	if p.CompressAfterDays <= 0 {
		return fmt.Errorf("compress after days must be positive")
	}
	if p.MaxLogSizeMB <= 0 {
		return fmt.Errorf("max log size must be positive")
	}
	if p.BackupIntervalHours <= 0 {
		return fmt.Errorf("backup interval must be positive")
	}
	return nil
}
