package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/versionmanager/pkg/observability"
)

// DefaultRetentionSchedule runs cleanup daily at 03:15
const DefaultRetentionSchedule = "15 3 * * *"

// Job deletes stale rows and reports how many it removed
type Job func(ctx context.Context) (int64, error)

// Retention runs cleanup jobs on a cron schedule
type Retention struct {
	cron    *cron.Cron
	log     *observability.Logger
	timeout time.Duration

	mu   sync.Mutex
	jobs map[string]Job
}

// NewRetention creates a scheduler. Jobs registered later share the schedule.
func NewRetention(log *observability.Logger) *Retention {
	if log == nil {
		log = observability.NewNopLogger()
	}
	return &Retention{
		cron:    cron.New(),
		log:     log,
		timeout: 5 * time.Minute,
		jobs:    make(map[string]Job),
	}
}

// Register schedules job under name
func (r *Retention) Register(schedule, name string, job Job) error {
	if schedule == "" {
		schedule = DefaultRetentionSchedule
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.jobs[name]; exists {
		return fmt.Errorf("retention job %q already registered", name)
	}
	if _, err := r.cron.AddFunc(schedule, func() { r.run(context.Background(), name, job) }); err != nil {
		return fmt.Errorf("failed to schedule %s: %w", name, err)
	}
	r.jobs[name] = job
	return nil
}

// RunAll executes every registered job once and returns the rows removed per job
func (r *Retention) RunAll(ctx context.Context) map[string]int64 {
	r.mu.Lock()
	jobs := make(map[string]Job, len(r.jobs))
	for name, job := range r.jobs {
		jobs[name] = job
	}
	r.mu.Unlock()

	removed := make(map[string]int64, len(jobs))
	for name, job := range jobs {
		removed[name] = r.run(ctx, name, job)
	}
	return removed
}

func (r *Retention) run(ctx context.Context, name string, job Job) int64 {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	n, err := job(ctx)
	log := r.log.WithField("job", name).WithField("duration_ms", time.Since(start).Milliseconds())
	if err != nil {
		log.WithError(err).Error("retention job failed")
		return 0
	}
	log.WithField("removed", n).Info("retention job completed")
	return n
}

// Start begins the schedule
func (r *Retention) Start() {
	r.cron.Start()
}

// Stop halts the schedule and waits for running jobs
func (r *Retention) Stop(ctx context.Context) error {
	done := r.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
