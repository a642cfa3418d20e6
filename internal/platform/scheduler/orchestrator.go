// Package scheduler runs the background jobs of the CRM (automation ticks,
// the no-show protocol, appointment reminders) on cron schedules. Jobs are
// registered by name; each job has an overlap guard so a slow run is never
// doubled by the next tick.
package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/cliniflow/cliniflow/internal/platform/errs"
)

// JobFunc is the unit of work a job executes per tick.
type JobFunc func(ctx context.Context) error

// Health is the orchestrator-level health verdict.
type Health string

const (
	HealthHealthy   Health = "healthy"
	HealthDegraded  Health = "degraded"
	HealthUnhealthy Health = "unhealthy"
)

// JobStatus is the externally visible snapshot of one job.
type JobStatus struct {
	Name        string     `json:"name"`
	Spec        string     `json:"spec"`
	Active      bool       `json:"active"`
	Running     bool       `json:"running"`
	LastRun     *time.Time `json:"last_run,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
	Runs        int64      `json:"runs"`
	Failures    int64      `json:"failures"`
	SkippedRuns int64      `json:"skipped_runs"`
}

// HistoryItem records one completed job run.
type HistoryItem struct {
	Name     string        `json:"name"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

type job struct {
	name    string
	spec    string
	timeout time.Duration
	fn      JobFunc

	mu       sync.Mutex // overlap guard, TryLock per tick
	active   bool
	running  bool
	lastRun  time.Time
	lastErr  string
	runs     int64
	failures int64
	skips    atomic.Int64
}

// Config tunes the orchestrator.
type Config struct {
	Timezone       string
	DefaultTimeout time.Duration
	HistorySize    int
	SettleInterval time.Duration // pause between stop and start on Restart
}

// Orchestrator owns the cron runner and the registered jobs.
type Orchestrator struct {
	mu      sync.RWMutex
	log     zerolog.Logger
	cfg     Config
	runner  CronRunner
	jobs    map[string]*job
	order   []string
	started bool

	hmu     sync.Mutex
	history []HistoryItem
}

// New builds an orchestrator around the given cron runner. Use NewCronRunner
// for production and a ManualRunner in tests.
func New(cfg Config, runner CronRunner, log zerolog.Logger) *Orchestrator {
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 100
	}
	if cfg.SettleInterval <= 0 {
		cfg.SettleInterval = 100 * time.Millisecond
	}
	return &Orchestrator{
		log:    log.With().Str("component", "scheduler").Logger(),
		cfg:    cfg,
		runner: runner,
		jobs:   make(map[string]*job),
	}
}

// Register adds a named job with a cron spec. Must be called before Start.
// Duplicate names are rejected.
func (o *Orchestrator) Register(name, spec string, timeout time.Duration, fn JobFunc) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if name == "" {
		return errs.Validation("name", "is required")
	}
	if o.started {
		return errs.State("scheduler", "started", "jobs must be registered before Start")
	}
	if _, exists := o.jobs[name]; exists {
		return errs.Conflict("job", name, "already registered")
	}
	if timeout <= 0 {
		timeout = o.cfg.DefaultTimeout
	}

	j := &job{name: name, spec: spec, timeout: timeout, fn: fn, active: true}
	if err := o.runner.Add(spec, func() { o.tick(j) }); err != nil {
		return fmt.Errorf("schedule job %s: %w", name, err)
	}
	o.jobs[name] = j
	o.order = append(o.order, name)
	return nil
}

// Start begins scheduling ticks. Idempotent.
func (o *Orchestrator) Start() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.started {
		return
	}
	o.runner.Start()
	o.started = true
	o.log.Info().Int("jobs", len(o.jobs)).Msg("scheduler started")
}

// Stop prevents further ticks. In-flight runs are not cancelled; Stop
// returns after the runner has quiesced its dispatch loop.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.started {
		return
	}
	o.runner.Stop()
	o.started = false
	o.log.Info().Msg("scheduler stopped")
}

// Restart stops the runner, waits the settle interval, and starts it again.
func (o *Orchestrator) Restart() {
	o.Stop()
	time.Sleep(o.cfg.SettleInterval)
	o.Start()
	o.log.Info().Msg("scheduler restarted")
}

// Pause deactivates a single job. Its cron entry keeps firing but ticks
// become no-ops until Resume.
func (o *Orchestrator) Pause(name string) error {
	j, err := o.get(name)
	if err != nil {
		return err
	}
	j.mu.Lock()
	j.active = false
	j.mu.Unlock()
	o.log.Info().Str("job", name).Msg("job paused")
	return nil
}

// Resume reactivates a paused job.
func (o *Orchestrator) Resume(name string) error {
	j, err := o.get(name)
	if err != nil {
		return err
	}
	j.mu.Lock()
	j.active = true
	j.lastErr = ""
	j.mu.Unlock()
	o.log.Info().Str("job", name).Msg("job resumed")
	return nil
}

// RunNow executes a job immediately, outside its schedule. The overlap guard
// still applies: if the job is mid-run, RunNow returns a conflict instead of
// doubling it.
func (o *Orchestrator) RunNow(ctx context.Context, name string) error {
	j, err := o.get(name)
	if err != nil {
		return err
	}
	if !j.mu.TryLock() {
		return errs.Conflict("job", name, "already running")
	}
	defer j.mu.Unlock()
	return o.runLocked(ctx, j)
}

// Jobs returns a snapshot of every registered job in registration order.
func (o *Orchestrator) Jobs() []JobStatus {
	o.mu.RLock()
	defer o.mu.RUnlock()

	out := make([]JobStatus, 0, len(o.order))
	for _, name := range o.order {
		j := o.jobs[name]
		j.mu.Lock()
		st := JobStatus{
			Name:        j.name,
			Spec:        j.spec,
			Active:      j.active,
			Running:     j.running,
			LastError:   j.lastErr,
			Runs:        j.runs,
			Failures:    j.failures,
			SkippedRuns: j.skips.Load(),
		}
		if !j.lastRun.IsZero() {
			lr := j.lastRun
			st.LastRun = &lr
		}
		j.mu.Unlock()
		out = append(out, st)
	}
	return out
}

// HealthCheck reports healthy when the runner is started and every job is
// active with a clean last run, degraded when some jobs are failing or
// paused, and unhealthy when the runner is stopped or no job is both active
// and succeeding.
func (o *Orchestrator) HealthCheck() Health {
	o.mu.RLock()
	started := o.started
	o.mu.RUnlock()

	if !started {
		return HealthUnhealthy
	}

	jobs := o.Jobs()
	if len(jobs) == 0 {
		return HealthHealthy
	}

	// A job counts as unhealthy when it is paused or its last run failed.
	unhealthy := 0
	for _, j := range jobs {
		if j.LastError != "" || !j.Active {
			unhealthy++
		}
	}

	switch {
	case unhealthy == len(jobs):
		return HealthUnhealthy
	case unhealthy > 0:
		return HealthDegraded
	default:
		return HealthHealthy
	}
}

// History returns the most recent completed runs, newest last.
func (o *Orchestrator) History() []HistoryItem {
	o.hmu.Lock()
	defer o.hmu.Unlock()
	out := make([]HistoryItem, len(o.history))
	copy(out, o.history)
	return out
}

func (o *Orchestrator) get(name string) (*job, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	j, ok := o.jobs[name]
	if !ok {
		return nil, errs.NotFound("job", name)
	}
	return j, nil
}

// tick is the cron entry point. A tick that arrives while the previous run
// is still going is skipped, never queued.
func (o *Orchestrator) tick(j *job) {
	if !j.mu.TryLock() {
		j.skips.Add(1)
		o.log.Warn().Str("job", j.name).Msg("previous run still in progress, skipping tick")
		return
	}
	defer j.mu.Unlock()

	if !j.active {
		return
	}
	_ = o.runLocked(context.Background(), j)
}

// runLocked executes the job body. Caller holds j.mu. A panic in the job is
// recorded as a failure and never escapes to the runner.
func (o *Orchestrator) runLocked(ctx context.Context, j *job) (err error) {
	start := time.Now()
	j.running = true
	j.lastRun = start
	j.runs++

	if j.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			o.log.Error().Str("job", j.name).Interface("panic", r).
				Str("stack", string(debug.Stack())).Msg("job panicked")
		}

		j.running = false
		item := HistoryItem{Name: j.name, Started: start, Duration: time.Since(start)}
		if err != nil {
			j.failures++
			j.lastErr = err.Error()
			item.Error = err.Error()
			o.log.Warn().Str("job", j.name).Err(err).Dur("took", item.Duration).Msg("job failed")
		} else {
			j.lastErr = ""
			o.log.Info().Str("job", j.name).Dur("took", item.Duration).Msg("job finished")
		}
		o.appendHistory(item)
	}()

	return j.fn(ctx)
}

func (o *Orchestrator) appendHistory(item HistoryItem) {
	o.hmu.Lock()
	defer o.hmu.Unlock()
	o.history = append(o.history, item)
	if len(o.history) > o.cfg.HistorySize {
		o.history = o.history[len(o.history)-o.cfg.HistorySize:]
	}
}
