package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// WindowLimits come from study configuration.
type WindowLimits struct {
	DefaultDaysAhead      int
	MaxDaysAhead          int
	MaxMinimumPerSchedule int
}

var DefaultWindowLimits = WindowLimits{DefaultDaysAhead: 2, MaxDaysAhead: 4, MaxMinimumPerSchedule: 5}

// WindowRequest is the caller's view of the look-ahead. At most one of EndsOn
// and DaysAhead may be set.
type WindowRequest struct {
	EndsOn             *time.Time
	DaysAhead          *int
	MinimumPerSchedule int
}

// Window is a validated [Now, EndsOn] interval with the zone used for local math.
type Window struct {
	Now                time.Time
	EndsOn             time.Time
	Zone               *time.Location
	MinimumPerSchedule int
}

// ValidateWindow resolves the request against now. The request zone wins over
// the initial zone; UTC is used when neither is known.
func ValidateWindow(req WindowRequest, now time.Time, initial, requested *time.Location, limits WindowLimits) (Window, error) {
	if limits == (WindowLimits{}) {
		limits = DefaultWindowLimits
	}
	zone := requested
	if zone == nil {
		zone = initial
	}
	if zone == nil {
		zone = time.UTC
	}
	now = now.In(zone)
	if req.MinimumPerSchedule < 0 || req.MinimumPerSchedule > limits.MaxMinimumPerSchedule {
		return Window{}, badRequest("minimum_per_schedule", "must be between 0 and %d", limits.MaxMinimumPerSchedule)
	}
	latest := now.AddDate(0, 0, limits.MaxDaysAhead)
	var endsOn time.Time
	switch {
	case req.EndsOn != nil && req.DaysAhead != nil:
		return Window{}, badRequest("ends_on", "cannot be combined with days_ahead")
	case req.EndsOn != nil:
		endsOn = req.EndsOn.In(zone)
	default:
		days := limits.DefaultDaysAhead
		if req.DaysAhead != nil {
			days = *req.DaysAhead
		}
		if days < 0 || days > limits.MaxDaysAhead {
			return Window{}, badRequest("days_ahead", "must be between 0 and %d", limits.MaxDaysAhead)
		}
		endsOn = now.AddDate(0, 0, days)
	}
	if endsOn.Before(now) {
		return Window{}, badRequest("ends_on", "%s is before now", endsOn.Format(time.RFC3339))
	}
	if endsOn.After(latest) {
		return Window{}, badRequest("ends_on", "%s is more than %d days ahead", endsOn.Format(time.RFC3339), limits.MaxDaysAhead)
	}
	return Window{Now: now, EndsOn: endsOn, Zone: zone, MinimumPerSchedule: req.MinimumPerSchedule}, nil
}

// ParseZone accepts an IANA zone name or a fixed offset such as "-07:00".
func ParseZone(s string) (*time.Location, error) {
	raw := strings.TrimSpace(s)
	if raw == "" {
		return nil, fmt.Errorf("empty time zone")
	}
	if raw == "Z" {
		return time.UTC, nil
	}
	if raw[0] == '+' || raw[0] == '-' {
		h, m, ok := strings.Cut(raw[1:], ":")
		if !ok || len(h) != 2 || len(m) != 2 {
			return nil, fmt.Errorf("invalid time zone offset %q", s)
		}
		hours, err1 := strconv.Atoi(h)
		mins, err2 := strconv.Atoi(m)
		if err1 != nil || err2 != nil || hours > 14 || mins > 59 {
			return nil, fmt.Errorf("invalid time zone offset %q", s)
		}
		offset := hours*3600 + mins*60
		if raw[0] == '-' {
			offset = -offset
		}
		return time.FixedZone(raw, offset), nil
	}
	loc, err := time.LoadLocation(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid time zone %q: %w", s, err)
	}
	return loc, nil
}

// ZoneName is the inverse of ParseZone for storage.
func ZoneName(loc *time.Location) string {
	if loc == nil {
		return ""
	}
	return loc.String()
}
