package scheduler

import (
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// CronRunner abstracts the cron engine so tests can fire ticks by hand.
type CronRunner interface {
	// Add schedules fn on the given spec (standard 5-field cron or @every).
	Add(spec string, fn func()) error
	// Start begins dispatching ticks.
	Start()
	// Stop prevents further ticks and blocks until the dispatch loop exits.
	// Running entries are left to finish on their own.
	Stop()
}

// robfigRunner backs CronRunner with robfig/cron.
type robfigRunner struct {
	c *cron.Cron
}

// NewCronRunner builds the production runner in the given timezone. An empty
// or invalid timezone falls back to the host's local time.
func NewCronRunner(timezone string) CronRunner {
	loc := time.Local
	if tz := strings.TrimSpace(timezone); tz != "" {
		if l, err := time.LoadLocation(tz); err == nil {
			loc = l
		}
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	return &robfigRunner{
		c: cron.New(cron.WithParser(parser), cron.WithLocation(loc)),
	}
}

func (r *robfigRunner) Add(spec string, fn func()) error {
	_, err := r.c.AddFunc(spec, fn)
	return err
}

func (r *robfigRunner) Start() { r.c.Start() }

func (r *robfigRunner) Stop() { <-r.c.Stop().Done() }

// ManualRunner is a CronRunner for tests: ticks fire only when Fire is
// called.
type ManualRunner struct {
	mu      sync.Mutex
	entries []manualEntry
	started bool
}

type manualEntry struct {
	spec string
	fn   func()
}

func NewManualRunner() *ManualRunner {
	return &ManualRunner{}
}

func (m *ManualRunner) Add(spec string, fn func()) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, manualEntry{spec: spec, fn: fn})
	return nil
}

func (m *ManualRunner) Start() {
	m.mu.Lock()
	m.started = true
	m.mu.Unlock()
}

func (m *ManualRunner) Stop() {
	m.mu.Lock()
	m.started = false
	m.mu.Unlock()
}

// Started reports whether Start has been called without a later Stop.
func (m *ManualRunner) Started() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.started
}

// Fire synchronously invokes the entry at index i.
func (m *ManualRunner) Fire(i int) {
	m.mu.Lock()
	e := m.entries[i]
	m.mu.Unlock()
	e.fn()
}

// Entries returns the number of scheduled entries.
func (m *ManualRunner) Entries() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
