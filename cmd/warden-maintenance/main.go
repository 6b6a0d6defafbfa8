package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/wardenhq/warden/pkg/config"
	"github.com/wardenhq/warden/pkg/observability"
	"github.com/wardenhq/warden/pkg/retention"
	"github.com/wardenhq/warden/pkg/storage/postgres"
)

var (
	runJob            = flag.String("run", "", "Run one maintenance job and exit (retention, archive, compress, backup, cleanup, all)")
	restorePath       = flag.String("restore", "", "Restore the audit trail from a backup file and exit")
	showStats         = flag.Bool("stats", false, "Print audit trail statistics and exit")
	showPolicy        = flag.Bool("show-policy", false, "Print the active retention policy and exit")
	retentionDays     = flag.Int("retention-days", 0, "Override the configured retention window in days")
	archiveAfterDays  = flag.Int("archive-after-days", 0, "Override the configured archive age threshold in days")
	compressAfterDays = flag.Int("compress-after-days", 0, "Override the configured compression age threshold in days")
	maxLogSizeMB      = flag.Int("max-log-size-mb", 0, "Override the configured audit table size limit in MB")
	retentionSchedule = flag.String("retention-schedule", "", "Cron schedule override for the retention job")
	archiveSchedule   = flag.String("archive-schedule", "", "Cron schedule override for the archive job")
	compressSchedule  = flag.String("compress-schedule", "", "Cron schedule override for the compress job")
	backupSchedule    = flag.String("backup-schedule", "", "Cron schedule override for the backup job")
	cleanupSchedule   = flag.String("cleanup-schedule", "", "Cron schedule override for the backup cleanup job")
)

func main() {
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger := observability.NewLogger(cfg.LogLevel, os.Stdout)
	ctx := context.Background()

	db, err := postgres.Connect(ctx, postgres.Config{
		URL:              cfg.Postgres.URL,
		MaxConns:         cfg.Postgres.MaxConns,
		MinConns:         cfg.Postgres.MinConns,
		ConnectTimeout:   cfg.Postgres.ConnectTimeout,
		StatementTimeout: cfg.Postgres.StatementTimeout,
		MaxLifetime:      cfg.Postgres.MaxLifetime,
		MaxIdleTime:      cfg.Postgres.MaxIdleTime,
	})
	if err != nil {
		log.Fatalf("Failed to connect to PostgreSQL: %v", err)
	}
	defer db.Close()

	policy := cfg.Retention
	if *retentionDays > 0 {
		policy.RetentionDays = *retentionDays
	}
	if *archiveAfterDays > 0 {
		policy.ArchiveAfterDays = *archiveAfterDays
	}
	if *compressAfterDays > 0 {
		policy.CompressAfterDays = *compressAfterDays
	}
	if *maxLogSizeMB > 0 {
		policy.MaxLogSizeMB = *maxLogSizeMB
	}

	manager := retention.NewManager(db, policy, cfg.Audit.ArchiveDir, cfg.Audit.BackupDir, logger, nil)

	switch {
	case *showPolicy:
		printJSON(manager.Policy())
		return
	case *showStats:
		stats, err := manager.Stats(ctx)
		if err != nil {
			log.Fatalf("Failed to collect stats: %v", err)
		}
		printJSON(stats)
		return
	case *restorePath != "":
		report, err := manager.RestoreBackup(ctx, *restorePath)
		if err != nil {
			log.Fatalf("Restore failed: %v", err)
		}
		printJSON(report)
		return
	}

	schedules := retention.DefaultSchedules()
	if *retentionSchedule != "" {
		schedules.Retention = *retentionSchedule
	}
	if *archiveSchedule != "" {
		schedules.Archive = *archiveSchedule
	}
	if *compressSchedule != "" {
		schedules.Compress = *compressSchedule
	}
	if *backupSchedule != "" {
		schedules.Backup = *backupSchedule
	}
	if *cleanupSchedule != "" {
		schedules.Cleanup = *cleanupSchedule
	}

	runner := retention.NewRunner(manager, schedules, logger, nil)

	// Run-once mode for operators and cron-less deployments
	if *runJob != "" {
		jobs := []string{*runJob}
		if *runJob == "all" {
			jobs = []string{
				retention.JobBackup, retention.JobArchive, retention.JobCompress,
				retention.JobRetention, retention.JobCleanup,
			}
		}
		for _, name := range jobs {
			report, err := runner.RunNow(ctx, name)
			if err != nil {
				log.Fatalf("Maintenance job %s failed: %v", name, err)
			}
			printJSON(report)
		}
		return
	}

	// Daemon mode
	if err := runner.Start(); err != nil {
		log.Fatalf("Failed to start maintenance scheduler: %v", err)
	}
	logger.Info("maintenance scheduler started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down")
	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := runner.Stop(stopCtx); err != nil {
		log.Fatalf("Shutdown timed out: %v", err)
	}
	logger.Info("maintenance scheduler stopped")
}

func printJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		log.Fatalf("Failed to encode output: %v", err)
	}
}
