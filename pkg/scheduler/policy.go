package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Policy decides whether a task is due. hasLast is false when the task never
// completed successfully.
type Policy interface {
	Eligible(now, last time.Time, hasLast bool) bool
	String() string
}

// Recurring runs a task once the interval has passed since its last success.
type Recurring struct {
	Interval time.Duration
}

func (r Recurring) Eligible(now, last time.Time, hasLast bool) bool {
	if !hasLast {
		return true
	}
	return now.Sub(last) >= r.Interval
}

func (r Recurring) String() string { return "every " + r.Interval.String() }

const (
	DefaultGrace = time.Hour
	// MinDailyGap keeps a daily task from firing twice inside one window.
	MinDailyGap = 23 * time.Hour
)

// TimeOfDay runs a task once a day within Grace of a wall-clock time.
type TimeOfDay struct {
	Hour, Minute, Second int
	Grace                time.Duration
	Location             *time.Location
}

// ParseTimeOfDay accepts "HH:MM" or "HH:MM:SS".
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) != 2 && len(parts) != 3 {
		return TimeOfDay{}, fmt.Errorf("invalid time %q, expected HH:MM[:SS]", s)
	}
	limits := []int{23, 59, 59}
	vals := make([]int, 3)
	for i, p := range parts {
		v, err := strconv.Atoi(p)
		if err != nil || v < 0 || v > limits[i] {
			return TimeOfDay{}, fmt.Errorf("invalid time %q", s)
		}
		vals[i] = v
	}
	return TimeOfDay{Hour: vals[0], Minute: vals[1], Second: vals[2], Grace: DefaultGrace}, nil
}

// Distance is how far now is from the nearest daily occurrence, looking at the
// occurrences of the previous, current and next day.
func (p TimeOfDay) Distance(now time.Time) time.Duration {
	loc := p.Location
	if loc == nil {
		loc = time.UTC
	}
	t := now.In(loc)
	best := time.Duration(-1)
	for _, off := range []int{-1, 0, 1} {
		y, m, d := t.AddDate(0, 0, off).Date()
		at := time.Date(y, m, d, p.Hour, p.Minute, p.Second, 0, loc)
		dist := t.Sub(at)
		if dist < 0 {
			dist = -dist
		}
		if best < 0 || dist < best {
			best = dist
		}
	}
	return best
}

func (p TimeOfDay) Eligible(now, last time.Time, hasLast bool) bool {
	grace := p.Grace
	if grace <= 0 {
		grace = DefaultGrace
	}
	if p.Distance(now) > grace {
		return false
	}
	return !hasLast || now.Sub(last) > MinDailyGap
}

func (p TimeOfDay) String() string {
	return fmt.Sprintf("daily at %02d:%02d:%02d", p.Hour, p.Minute, p.Second)
}
