// Package scheduler runs registered tasks from a single loop, deciding
// eligibility from checkpoints that survive restarts.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/rankwatch/rankwatch/internal/metrics"
	"github.com/rankwatch/rankwatch/pkg/events"
	"github.com/rankwatch/rankwatch/pkg/storage"
)

// SweepInterval is the pause between two sweeps of Run.
const SweepInterval = time.Second

type Task interface {
	Name() string
	Run(ctx context.Context) error
}

type taskFunc struct {
	name string
	fn   func(ctx context.Context) error
}

func (t taskFunc) Name() string                  { return t.name }
func (t taskFunc) Run(ctx context.Context) error { return t.fn(ctx) }

// NewTask wraps a function as a Task.
func NewTask(name string, fn func(ctx context.Context) error) Task {
	return taskFunc{name: name, fn: fn}
}

// Checkpoints persists the last successful run per task. LastRun returns
// storage.ErrNoCheckpoint for a task that never succeeded.
type Checkpoints interface {
	LastRun(ctx context.Context, name string) (time.Time, error)
	MarkRun(ctx context.Context, name string, at time.Time) error
}

type Logger interface {
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	Debugf(format string, args ...interface{})
}

type nopLogger struct{}

func (nopLogger) Infof(string, ...interface{})  {}
func (nopLogger) Warnf(string, ...interface{})  {}
func (nopLogger) Errorf(string, ...interface{}) {}
func (nopLogger) Debugf(string, ...interface{}) {}

type entry struct {
	task   Task
	policy Policy
}

type Service struct {
	mu       sync.Mutex
	entries  []entry
	cp       Checkpoints
	log      Logger
	events   *events.Dispatcher
	now      func() time.Time
	interval time.Duration
	stopped  atomic.Bool
	stopOnce sync.Once
	done     chan struct{}
}

type Option func(*Service)

func WithLogger(l Logger) Option { return func(s *Service) { s.log = l } }

func WithDispatcher(d *events.Dispatcher) Option { return func(s *Service) { s.events = d } }

func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func WithSweepInterval(d time.Duration) Option { return func(s *Service) { s.interval = d } }

func New(cp Checkpoints, opts ...Option) *Service {
	s := &Service{cp: cp, log: nopLogger{}, now: time.Now, interval: SweepInterval, done: make(chan struct{})}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Register adds a task. Tasks are swept in registration order.
func (s *Service) Register(t Task, p Policy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry{task: t, policy: p})
}

// Stop makes the current sweep return before its next task and ends Run. A
// task already running is left to finish. Stop is safe to call from any
// goroutine and more than once.
func (s *Service) Stop() {
	s.stopOnce.Do(func() {
		s.stopped.Store(true)
		close(s.done)
	})
}

func (s *Service) Stopped() bool { return s.stopped.Load() }

// Run sweeps until Stop is called or ctx is done.
func (s *Service) Run(ctx context.Context) error {
	s.log.Infof("scheduler started with %d tasks", len(s.snapshot()))
	for {
		s.Sweep(ctx)
		if s.Stopped() {
			s.log.Infof("scheduler stopped")
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
		case <-time.After(s.interval):
		}
	}
}

func (s *Service) snapshot() []entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]entry(nil), s.entries...)
}

// Sweep runs every eligible task once, synchronously and in order. It returns
// the number of tasks that ran.
func (s *Service) Sweep(ctx context.Context) int {
	ran := 0
	for _, e := range s.snapshot() {
		if s.Stopped() || ctx.Err() != nil {
			break
		}
		name := e.task.Name()
		last, err := s.cp.LastRun(ctx, name)
		hasLast := err == nil
		if err != nil && !errors.Is(err, storage.ErrNoCheckpoint) {
			s.log.Errorf("task %s: read checkpoint: %v", name, err)
			continue
		}
		if !e.policy.Eligible(s.now(), last, hasLast) {
			continue
		}
		s.execute(ctx, e.task)
		ran++
	}
	return ran
}

func (s *Service) execute(ctx context.Context, t Task) {
	name := t.Name()
	runID := uuid.NewString()
	start := s.now()
	s.log.Infof("task %s: run %s started", name, runID)

	err := s.safeRun(ctx, t)
	finished := s.now()
	took := finished.Sub(start)
	if err != nil {
		s.log.Errorf("task %s: run %s failed after %s: %v", name, runID, took, err)
		metrics.RecordTaskRun(name, "failure", took, finished)
		s.events.Trigger(events.TaskFailed{Task: name, RunID: runID, Err: err})
		return
	}
	if err := s.cp.MarkRun(ctx, name, finished); err != nil {
		s.log.Errorf("task %s: run %s: store checkpoint: %v", name, runID, err)
		metrics.RecordTaskRun(name, "failure", took, finished)
		return
	}
	metrics.RecordTaskRun(name, "success", took, finished)
	s.log.Infof("task %s: run %s finished in %s", name, runID, took)
}

func (s *Service) safeRun(ctx context.Context, t Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Debugf("task %s panic stack:\n%s", t.Name(), debug.Stack())
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return t.Run(ctx)
}
