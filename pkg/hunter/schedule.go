// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

package hunter

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// ErrInvalidInterval is returned when an interval string cannot be parsed.
var ErrInvalidInterval = errors.New("invalid interval")

// ErrInvalidCronSchedule is returned when a cron expression cannot be
// parsed.
var ErrInvalidCronSchedule = errors.New("invalid cron schedule")

// maxCronLookback bounds the search for the most recent firing of a cron
// schedule.
const maxCronLookback = 5 * 365 * 24 * time.Hour

// ParseInterval parses an interval in the [DD:]HH:MM:SS format.
func ParseInterval(s string) (time.Duration, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 3 && len(parts) != 4 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidInterval, s)
	}

	units := []time.Duration{time.Second, time.Minute, time.Hour, 24 * time.Hour}
	var result time.Duration
	for i, part := range parts {
		value, err := strconv.Atoi(part)
		if err != nil || value < 0 {
			return 0, fmt.Errorf("%w: %q", ErrInvalidInterval, s)
		}
		unit := units[len(parts)-1-i]
		result += time.Duration(value) * unit
	}

	if result <= 0 {
		return 0, fmt.Errorf("%w: %q is empty", ErrInvalidInterval, s)
	}

	return result, nil
}

// IsInterval returns true, if the frequency of a hunt is an interval
// string, as opposed to a cron expression.
func IsInterval(frequency string) bool {
	return strings.Contains(frequency, ":")
}

// ParseCron parses a standard cron expression, e.g. "*/5 * * * *" or
// "@hourly".
func ParseCron(spec string) (cron.Schedule, error) {
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %w", ErrInvalidCronSchedule, spec, err)
	}

	return schedule, nil
}

// prevFiring returns the most recent firing of the schedule at or before
// now. The zero time is returned, if the schedule did not fire within
// [maxCronLookback].
func prevFiring(schedule cron.Schedule, now time.Time) time.Time {
	// Next returns firings strictly after the given time, so the search
	// starts one second before the window in order to include now.
	for window := time.Minute; window <= maxCronLookback; window *= 2 {
		var prev time.Time
		for t := schedule.Next(now.Add(-window - time.Second)); !t.IsZero() && !t.After(now); t = schedule.Next(t) {
			prev = t
		}

		if !prev.IsZero() {
			return prev
		}
	}

	return time.Time{}
}
