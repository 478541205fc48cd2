// Package schedule parses cron descriptors and computes upcoming run times.
package schedule

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Schedule is a parsed cron descriptor in the standard five-field format
// (minute, hour, day-of-month, month, day-of-week), plus the @hourly-style
// shorthands.
type Schedule struct {
	expr string
	spec cron.Schedule
}

// Parse parses a cron descriptor. A malformed descriptor is a configuration
// error and must abort startup for the target that carries it.
func Parse(text string) (Schedule, error) {
	spec, err := cron.ParseStandard(text)
	if err != nil {
		return Schedule{}, fmt.Errorf("schedule: invalid cron descriptor %q: %w", text, err)
	}
	return Schedule{expr: text, spec: spec}, nil
}

// MustParse is Parse for descriptors known to be valid, typically in tests.
func MustParse(text string) Schedule {
	s, err := Parse(text)
	if err != nil {
		panic(err)
	}
	return s
}

// Next returns the next occurrence strictly after now. The zero time means the
// descriptor can never fire again; callers must treat that as a fatal
// scheduling error, never as a silent no-op.
func (s Schedule) Next(now time.Time) time.Time {
	return s.spec.Next(now)
}

// String returns the original descriptor text.
func (s Schedule) String() string {
	return s.expr
}
