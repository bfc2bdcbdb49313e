package scheduler

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"studyline/internal/domain"
)

type ScheduleType string

const (
	ScheduleOnce      ScheduleType = "once"
	ScheduleRecurring ScheduleType = "recurring"
)

// Schedule describes when a set of activity templates falls due relative to
// an anchor event.
type Schedule struct {
	Label       string            `json:"label,omitempty" yaml:"label,omitempty"`
	Type        ScheduleType      `json:"type" yaml:"type" enum:"once,recurring"`
	Interval    Period            `json:"interval,omitempty" yaml:"interval,omitempty"`
	CronTrigger string            `json:"cron_trigger,omitempty" yaml:"cron_trigger,omitempty"`
	Expires     Period            `json:"expires,omitempty" yaml:"expires,omitempty"`
	Delay       Period            `json:"delay,omitempty" yaml:"delay,omitempty"`
	Times       []TimeOfDay       `json:"times,omitempty" yaml:"times,omitempty"`
	EventID     string            `json:"event_id,omitempty" yaml:"event_id,omitempty"`
	StartsOn    *time.Time        `json:"starts_on,omitempty" yaml:"starts_on,omitempty"`
	EndsOn      *time.Time        `json:"ends_on,omitempty" yaml:"ends_on,omitempty"`
	Activities  []domain.Activity `json:"activities" yaml:"activities"`
}

// EventIDs returns the anchor keys in priority order.
func (s Schedule) EventIDs() []string {
	var ids []string
	for _, part := range strings.Split(s.EventID, ",") {
		if id := strings.TrimSpace(part); id != "" {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return []string{domain.EventEnrollment}
	}
	return ids
}

func (s Schedule) cronSchedule() (cron.Schedule, error) {
	return cron.ParseStandard(s.CronTrigger)
}

func (s Schedule) Validate() error {
	switch s.Type {
	case ScheduleOnce:
		if !s.Interval.IsZero() || s.CronTrigger != "" {
			return fmt.Errorf("once schedule cannot declare interval or cron_trigger")
		}
	case ScheduleRecurring:
		if s.Interval.IsZero() == (s.CronTrigger == "") {
			return fmt.Errorf("recurring schedule needs exactly one of interval or cron_trigger")
		}
		if s.CronTrigger != "" {
			if _, err := s.cronSchedule(); err != nil {
				return fmt.Errorf("cron_trigger: %w", err)
			}
			if len(s.Times) > 0 {
				return fmt.Errorf("times cannot be combined with cron_trigger")
			}
		}
	default:
		return fmt.Errorf("unknown schedule type %q", s.Type)
	}
	for name, p := range map[string]Period{"interval": s.Interval, "expires": s.Expires, "delay": s.Delay} {
		if negative(p) {
			return fmt.Errorf("%s must not be negative", name)
		}
	}
	if s.StartsOn != nil && s.EndsOn != nil && s.EndsOn.Before(*s.StartsOn) {
		return fmt.Errorf("ends_on before starts_on")
	}
	for _, id := range s.EventIDs() {
		if _, err := domain.ParseEventKey(id); err != nil {
			return fmt.Errorf("event_id: %w", err)
		}
	}
	if len(s.Activities) == 0 {
		return fmt.Errorf("schedule needs at least one activity")
	}
	seen := map[string]bool{}
	for _, a := range s.Activities {
		if a.GUID == "" {
			return fmt.Errorf("activity guid is required")
		}
		if seen[a.GUID] {
			return fmt.Errorf("duplicate activity guid %s", a.GUID)
		}
		seen[a.GUID] = true
	}
	return nil
}

func negative(p Period) bool {
	return p.Years < 0 || p.Months < 0 || p.Weeks < 0 || p.Days < 0 || p.Hours < 0 || p.Minutes < 0 || p.Seconds < 0
}
