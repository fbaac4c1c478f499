package cron

import (
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

var (
	ErrInvalidCronExpression = errors.New("invalid cron expression")
	ErrInvalidTimezone       = errors.New("invalid timezone")
)

// Schedule paces rounds on a standard five field cron expression.
type Schedule struct {
	spec cron.Schedule
	loc  *time.Location
}

// Parse reads expr in timezone, UTC when timezone is empty. Descriptors
// such as @hourly and @every 10m are accepted.
func Parse(expr, timezone string) (*Schedule, error) {
	if expr == "" {
		return nil, ErrInvalidCronExpression
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	spec, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCronExpression, err)
	}

	loc := time.UTC
	if timezone != "" {
		loc, err = time.LoadLocation(timezone)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidTimezone, err)
		}
	}

	return &Schedule{
		spec: spec,
		loc:  loc,
	}, nil
}

// Next returns the first activation strictly after from.
func (s *Schedule) Next(from time.Time) time.Time {
	if s == nil || s.spec == nil {
		return time.Time{}
	}

	return s.spec.Next(from.In(s.loc))
}
