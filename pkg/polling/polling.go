// Package polling holds the sync jobs the scheduler runs: they read the
// upstream servers, persist what they read and announce what changed.
package polling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rankwatch/rankwatch/pkg/events"
	"github.com/rankwatch/rankwatch/pkg/model"
	"github.com/rankwatch/rankwatch/pkg/performance"
	"github.com/rankwatch/rankwatch/pkg/servers"
	"github.com/rankwatch/rankwatch/pkg/storage"
	"github.com/rankwatch/rankwatch/pkg/tracker"
)

// Logger abstracts logging so callers can use logrus, stdlib log, or any
// other logger that satisfies this interface.
type Logger interface {
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	Debugf(format string, args ...interface{})
}

// nopLogger silently discards all messages.
type nopLogger struct{}

func (nopLogger) Infof(string, ...interface{})  {}
func (nopLogger) Warnf(string, ...interface{})  {}
func (nopLogger) Errorf(string, ...interface{}) {}
func (nopLogger) Debugf(string, ...interface{}) {}

// Retry bounds repeated upstream lookups.
type Retry struct {
	Attempts int
	Delay    time.Duration
}

// DefaultRetry tries three times, one second apart.
var DefaultRetry = Retry{Attempts: 3, Delay: time.Second}

// Syncer holds what every job shares. DB, Registry and Tracker are required.
type Syncer struct {
	Registry *servers.Registry
	DB       *storage.DB
	Tracker  *tracker.Tracker
	Events   *events.Dispatcher        // optional
	Recalc   *performance.Recalculator // optional; fills missing pp
	Log      Logger                    // optional; nil = no logging
	Modes    []model.Mode              // defaults to every mode
	Retry    Retry                     // zero value = DefaultRetry
	Now      func() time.Time
}

func (s *Syncer) log() Logger {
	if s.Log == nil {
		return nopLogger{}
	}
	return s.Log
}

func (s *Syncer) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

func (s *Syncer) modes() []model.Mode {
	if len(s.Modes) == 0 {
		return model.Modes
	}
	return s.Modes
}

// boards lists the mode and relax combinations a server ranks.
func (s *Syncer) boards(srv servers.Server) []servers.FetchOptions {
	var out []servers.FetchOptions
	for _, mode := range s.modes() {
		for _, rx := range srv.Capabilities().Variants() {
			if rx.Supports(mode) {
				out = append(out, servers.FetchOptions{Mode: mode, Relax: rx})
			}
		}
	}
	return out
}

// emit delivers events after the session that produced them committed.
func (s *Syncer) emit(evs []events.Event) {
	for _, e := range evs {
		s.Events.Trigger(e)
	}
}

// retry calls fn until it succeeds, fails with something other than an
// upstream outage, or the attempts run out.
func (s *Syncer) retry(ctx context.Context, what string, fn func() error) error {
	r := s.Retry
	if r.Attempts <= 0 {
		r = DefaultRetry
	}
	var err error
	for attempt := 1; attempt <= r.Attempts; attempt++ {
		if err = fn(); err == nil || !errors.Is(err, servers.ErrUnavailable) {
			return err
		}
		if attempt == r.Attempts {
			break
		}
		s.log().Debugf("%s failed (attempt %d/%d): %v", what, attempt, r.Attempts, err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.Delay):
		}
	}
	return fmt.Errorf("%s: giving up after %d attempts: %w", what, r.Attempts, err)
}

// outcome collects per-unit failures of a job run. A run fails only when
// every unit failed.
type outcome struct {
	ok   int
	errs []error
}

func (o *outcome) add(err error) {
	if err != nil {
		o.errs = append(o.errs, err)
		return
	}
	o.ok++
}

func (o *outcome) err(log Logger, job string) error {
	if len(o.errs) == 0 {
		return nil
	}
	joined := errors.Join(o.errs...)
	if o.ok == 0 {
		return joined
	}
	log.Warnf("%s: %d of %d units failed: %v", job, len(o.errs), o.ok+len(o.errs), joined)
	return nil
}
