package retention

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/wardenhq/warden/pkg/observability"
)

// Errors returned by RunNow
var (
	ErrUnknownJob     = errors.New("unknown maintenance job")
	ErrAlreadyRunning = errors.New("maintenance job already running")
)

// Job names accepted by RunNow and reported by Status
const (
	JobRetention = "retention"
	JobArchive   = "archive"
	JobCompress  = "compress"
	JobBackup    = "backup"
	JobCleanup   = "cleanup"
)

// Schedules holds the cron expression for each maintenance job
type Schedules struct {
	Retention string
	Archive   string
	Compress  string
	Backup    string
	Cleanup   string
}

// DefaultSchedules staggers the jobs through the night: compress
// before archive so stray files are packed first, cleanup on the
// weekend after the weekly archive.
func DefaultSchedules() Schedules {
	return Schedules{
		Compress:  "0 1 * * *",
		Retention: "0 2 * * *",
		Archive:   "0 3 * * 0",
		Backup:    "0 4 * * *",
		Cleanup:   "0 5 * * 6",
	}
}

// job wraps one maintenance pass with overlap protection and status
type job struct {
	name string
	run  func(context.Context) (*PassReport, error)

	// mu is held for the duration of a run; TryLock skips overlaps
	mu sync.Mutex

	stateMu    sync.Mutex
	running    bool
	lastReport *PassReport
	lastErr    error
}

// JobStatus is a point-in-time snapshot of one job
type JobStatus struct {
	Running    bool        `json:"running"`
	LastReport *PassReport `json:"last_report,omitempty"`
	LastError  string      `json:"last_error,omitempty"`
}

// Runner schedules the maintenance passes with cron. A job whose
// previous run is still in flight is skipped, not queued.
type Runner struct {
	manager   *Manager
	logger    *observability.Logger
	metrics   *observability.Metrics
	schedules Schedules

	cron *cron.Cron
	jobs map[string]*job
}

// NewRunner creates a runner. metrics may be nil.
func NewRunner(manager *Manager, schedules Schedules, logger *observability.Logger, metrics *observability.Metrics) *Runner {
	r := &Runner{
		manager:   manager,
		logger:    logger,
		metrics:   metrics,
		schedules: schedules,
		cron:      cron.New(),
		jobs:      make(map[string]*job),
	}

	r.jobs[JobRetention] = &job{name: JobRetention, run: manager.ApplyRetention}
	r.jobs[JobArchive] = &job{name: JobArchive, run: manager.Archive}
	r.jobs[JobCompress] = &job{name: JobCompress, run: manager.Compress}
	r.jobs[JobBackup] = &job{name: JobBackup, run: manager.Backup}
	r.jobs[JobCleanup] = &job{name: JobCleanup, run: manager.CleanupBackups}

	return r
}

// Start registers the cron entries and begins scheduling
func (r *Runner) Start() error {
	entries := map[string]string{
		JobRetention: r.schedules.Retention,
		JobArchive:   r.schedules.Archive,
		JobCompress:  r.schedules.Compress,
		JobBackup:    r.schedules.Backup,
		JobCleanup:   r.schedules.Cleanup,
	}

	for name, spec := range entries {
		if spec == "" {
			continue
		}
		if _, err := r.cron.AddFunc(spec, func() {
			r.execute(context.Background(), name)
		}); err != nil {
			return fmt.Errorf("invalid schedule for %s job: %w", name, err)
		}
		r.logger.WithFields(map[string]interface{}{
			"job":      name,
			"schedule": spec,
		}).Info("maintenance job scheduled")
	}

	r.cron.Start()
	return nil
}

// Stop halts scheduling and waits for running jobs up to the context
// deadline.
func (r *Runner) Stop(ctx context.Context) error {
	stopCtx := r.cron.Stop()
	select {
	case <-stopCtx.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunNow triggers one job immediately. It reports an error if the job
// is already running.
func (r *Runner) RunNow(ctx context.Context, name string) (*PassReport, error) {
	if _, ok := r.jobs[name]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownJob, name)
	}
	report, ran, err := r.execute(ctx, name)
	if !ran {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyRunning, name)
	}
	return report, err
}

// Status returns a snapshot of every job
func (r *Runner) Status() map[string]JobStatus {
	status := make(map[string]JobStatus, len(r.jobs))
	for name, j := range r.jobs {
		j.stateMu.Lock()
		s := JobStatus{Running: j.running, LastReport: j.lastReport}
		if j.lastErr != nil {
			s.LastError = j.lastErr.Error()
		}
		j.stateMu.Unlock()
		status[name] = s
	}
	return status
}

// execute runs a job if it is not already running. ran reports
// whether the job actually ran.
func (r *Runner) execute(ctx context.Context, name string) (report *PassReport, ran bool, err error) {
	j := r.jobs[name]

	if !j.mu.TryLock() {
		if r.metrics != nil {
			r.metrics.MaintenanceSkippedRuns.WithLabelValues(name).Inc()
		}
		r.logger.WithField("job", name).Warn("maintenance job still running, skipping this run")
		return nil, false, nil
	}
	defer j.mu.Unlock()

	j.stateMu.Lock()
	j.running = true
	j.stateMu.Unlock()

	started := time.Now()
	report, err = j.run(ctx)

	j.stateMu.Lock()
	j.running = false
	j.lastReport = report
	j.lastErr = err
	j.stateMu.Unlock()

	if err != nil {
		if r.metrics != nil {
			r.metrics.MaintenanceErrorsTotal.WithLabelValues(name).Inc()
		}
		r.logger.WithError(err).WithField("job", name).Error("maintenance job failed")
	} else {
		r.logger.WithFields(map[string]interface{}{
			"job":      name,
			"records":  report.RecordsProcessed,
			"duration": time.Since(started).String(),
		}).Info("maintenance job finished")
	}
	return report, true, err
}
