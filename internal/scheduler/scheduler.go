// Package scheduler runs unattended recurring backups: a background
// loop polls a mutex-guarded schedule table and fires due entries
// through a registered callback, retrying failures with a fixed delay.
package scheduler

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"dirsafe/internal/backup"
)

// Kind is the recurrence class of a schedule entry. The numeric values
// are persisted; do not reorder.
type Kind int

const (
	Once Kind = iota
	Hourly
	Daily
	Weekly
	Monthly
	Custom
)

func (k Kind) String() string {
	switch k {
	case Once:
		return "once"
	case Hourly:
		return "hourly"
	case Daily:
		return "daily"
	case Weekly:
		return "weekly"
	case Monthly:
		return "monthly"
	case Custom:
		return "custom"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return k >= Once && k <= Custom
}

// ParseKind maps a kind name to its Kind value.
func ParseKind(s string) (Kind, error) {
	for k := Once; k <= Custom; k++ {
		if k.String() == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown schedule kind %q", s)
}

// period returns the recurrence interval; custom is the caller's own.
// Monthly is a fixed 30 days.
func (k Kind) period(custom time.Duration) time.Duration {
	switch k {
	case Hourly:
		return time.Hour
	case Daily:
		return 24 * time.Hour
	case Weekly:
		return 7 * 24 * time.Hour
	case Monthly:
		return 30 * 24 * time.Hour
	default:
		return custom
	}
}

// Entry is one named schedule. NextRun is zero for a fired once-entry.
type Entry struct {
	Name     string
	Kind     Kind
	Interval time.Duration
	NextRun  time.Time
	Enabled  bool
}

// BackupFunc runs the backup a schedule entry names.
type BackupFunc func(name string) error

// ErrorFunc is notified when an entry exhausts its retries.
type ErrorFunc func(name string, err error)

const (
	defaultPollInterval  = 10 * time.Second
	defaultRetryAttempts = 3
	defaultRetryDelay    = time.Minute

	// panicBackoff delays the loop after a recovered panic so a
	// persistently broken callback cannot spin the loop hot.
	panicBackoff = time.Minute
)

// Scheduler owns the schedule table. The table is shared between the
// poll loop and external mutation calls; every access goes through mu.
type Scheduler struct {
	mu      sync.Mutex
	entries map[string]*Entry

	clock  backup.Clock
	logger backup.Logger

	backupFn BackupFunc
	errorFn  ErrorFunc

	retryAttempts int
	retryDelay    time.Duration
	maxConcurrent int
	pollInterval  time.Duration

	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// New creates a stopped Scheduler. Nil collaborators get production
// defaults.
func New(clock backup.Clock, logger backup.Logger) *Scheduler {
	if clock == nil {
		clock = backup.RealClock{}
	}
	if logger == nil {
		logger = backup.NewNopLogger()
	}
	return &Scheduler{
		entries:       make(map[string]*Entry),
		clock:         clock,
		logger:        logger,
		retryAttempts: defaultRetryAttempts,
		retryDelay:    defaultRetryDelay,
		maxConcurrent: 1,
		pollInterval:  defaultPollInterval,
	}
}

// SetBackupFunc registers the callback the loop fires for due entries.
func (s *Scheduler) SetBackupFunc(fn BackupFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.backupFn = fn
}

// SetErrorFunc registers the callback for entries that exhaust their
// retries.
func (s *Scheduler) SetErrorFunc(fn ErrorFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errorFn = fn
}

// SetRetryAttempts sets how many times a failing entry is attempted.
func (s *Scheduler) SetRetryAttempts(n int) {
	if n < 1 {
		n = 1
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.retryAttempts = n
}

// SetRetryDelay sets the fixed delay between attempts.
func (s *Scheduler) SetRetryDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.retryDelay = d
}

// SetMaxConcurrent records the concurrency budget. Execution is
// sequential regardless; the value is kept for reporting.
func (s *Scheduler) SetMaxConcurrent(n int) {
	if n < 1 {
		n = 1
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maxConcurrent = n
}

// SetPollInterval sets how often the loop checks for due entries.
func (s *Scheduler) SetPollInterval(d time.Duration) {
	if d <= 0 {
		d = defaultPollInterval
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pollInterval = d
}

// Schedule creates or overwrites the named entry. A once entry is due
// immediately; recurring entries first fire one period from now.
func (s *Scheduler) Schedule(name string, kind Kind, interval time.Duration) error {
	if name == "" {
		return fmt.Errorf("schedule name is required")
	}
	if !kind.Valid() {
		return fmt.Errorf("unknown schedule kind %d", int(kind))
	}
	if kind == Custom && interval <= 0 {
		return fmt.Errorf("custom schedule needs a positive interval")
	}

	now := s.clock.Now()
	next := now
	if kind != Once {
		next = now.Add(kind.period(interval))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[name] = &Entry{
		Name:     name,
		Kind:     kind,
		Interval: interval,
		NextRun:  next,
		Enabled:  true,
	}
	return nil
}

// ScheduleAt creates a once entry firing at an explicit time.
func (s *Scheduler) ScheduleAt(name string, when time.Time) error {
	if name == "" {
		return fmt.Errorf("schedule name is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[name] = &Entry{
		Name:    name,
		Kind:    Once,
		NextRun: when,
		Enabled: true,
	}
	return nil
}

// Cancel removes the named entry.
func (s *Scheduler) Cancel(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[name]; !ok {
		return fmt.Errorf("no schedule named %s", name)
	}
	delete(s.entries, name)
	return nil
}

// Pause disables the named entry without removing it.
func (s *Scheduler) Pause(name string) error {
	return s.setEnabled(name, false)
}

// Resume re-enables a paused entry.
func (s *Scheduler) Resume(name string) error {
	return s.setEnabled(name, true)
}

func (s *Scheduler) setEnabled(name string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[name]
	if !ok {
		return fmt.Errorf("no schedule named %s", name)
	}
	e.Enabled = enabled
	return nil
}

// Entries returns a consistent snapshot of the table, sorted by name.
func (s *Scheduler) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// NextScheduledTime returns the earliest pending fire time among
// enabled entries; ok is false when nothing is pending.
func (s *Scheduler) NextScheduledTime() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var next time.Time
	found := false
	for _, e := range s.entries {
		if !e.Enabled || e.NextRun.IsZero() {
			continue
		}
		if !found || e.NextRun.Before(next) {
			next = e.NextRun
			found = true
		}
	}
	return next, found
}

// ActiveCount returns the number of enabled entries.
func (s *Scheduler) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.entries {
		if e.Enabled {
			n++
		}
	}
	return n
}

// Start launches the poll loop. Calling Start on a running scheduler
// is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.wg.Add(1)
	go s.loop(s.stopCh)
	s.logger.Info("scheduler started", "poll_interval", s.pollInterval.String())
}

// Stop signals the loop and blocks until it has fully exited. No
// callback invocation outlives Stop's return. Stopping a stopped
// scheduler is a no-op.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	stopCh := s.stopCh
	s.mu.Unlock()

	close(stopCh)
	s.wg.Wait()

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
	s.logger.Info("scheduler stopped")
}

// Running reports whether the loop is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) loop(stopCh chan struct{}) {
	defer s.wg.Done()
	for {
		s.mu.Lock()
		poll := s.pollInterval
		s.mu.Unlock()

		select {
		case <-stopCh:
			return
		case <-time.After(poll):
		}
		if stopped := s.tick(stopCh); stopped {
			return
		}
	}
}

// tick fires every due entry sequentially. It returns true when the
// stop signal arrived mid-work.
func (s *Scheduler) tick(stopCh chan struct{}) (stopped bool) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("scheduler loop panic, backing off", "panic", fmt.Sprint(r))
			select {
			case <-stopCh:
				stopped = true
			case <-time.After(panicBackoff):
			}
		}
	}()

	now := s.clock.Now()

	s.mu.Lock()
	backupFn := s.backupFn
	errorFn := s.errorFn
	attempts := s.retryAttempts
	delay := s.retryDelay
	var due []string
	for name, e := range s.entries {
		if e.Enabled && !e.NextRun.IsZero() && !e.NextRun.After(now) {
			due = append(due, name)
		}
	}
	s.mu.Unlock()
	sort.Strings(due)

	for _, name := range due {
		if backupFn == nil {
			s.logger.Warn("schedule due but no backup callback registered", "schedule", name)
			continue
		}
		var err error
		for attempt := 1; attempt <= attempts; attempt++ {
			err = backupFn(name)
			if err == nil {
				break
			}
			s.logger.Warn("scheduled backup failed",
				"schedule", name, "attempt", attempt, "error", err)
			if attempt < attempts {
				select {
				case <-stopCh:
					return true
				case <-time.After(delay):
				}
			}
		}
		if err != nil {
			s.logger.Error("scheduled backup exhausted retries", "schedule", name, "error", err)
			if errorFn != nil {
				errorFn(name, err)
			}
		}
		s.advance(name)
	}
	return false
}

// advance recomputes NextRun after a firing. Once entries are disabled
// with NextRun zeroed; recurring entries move one period forward from
// the current time.
func (s *Scheduler) advance(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[name]
	if !ok {
		return // cancelled while firing
	}
	if e.Kind == Once {
		e.Enabled = false
		e.NextRun = time.Time{}
		return
	}
	e.NextRun = s.clock.Now().Add(e.Kind.period(e.Interval))
}
