package scheduler

import (
	"time"

	"studyline/internal/domain"
)

// Context carries everything about one request that scheduling depends on.
// It is treated as immutable once built.
type Context struct {
	Now                time.Time
	EndsOn             time.Time
	MinimumPerSchedule int
	InitialTimeZone    *time.Location
	TimeZone           *time.Location
	AccountCreatedOn   time.Time
	UserDataGroups     []string
	ClientInfo         domain.ClientInfo
	UserID             string
	HealthCode         string
	StudyID            string
	Events             map[string]time.Time
}

// initialZone is the zone anchors are localized in.
func (c Context) initialZone() *time.Location {
	switch {
	case c.InitialTimeZone != nil:
		return c.InitialTimeZone
	case c.TimeZone != nil:
		return c.TimeZone
	}
	return time.UTC
}

// zone is the zone activities are rendered in for this request.
func (c Context) zone() *time.Location {
	if c.TimeZone != nil {
		return c.TimeZone
	}
	return c.initialZone()
}

func (c Context) hasGroup(group string) bool {
	for _, g := range c.UserDataGroups {
		if g == group {
			return true
		}
	}
	return false
}

// anchor returns the first of keys present in the event map.
func (c Context) anchor(keys []string) (time.Time, bool) {
	for _, k := range keys {
		if ts, ok := c.Events[k]; ok {
			return ts, true
		}
	}
	return time.Time{}, false
}

// HasAnchor reports whether any anchor event of s is known.
func (c Context) HasAnchor(s *Schedule) bool {
	_, ok := c.anchor(s.EventIDs())
	return ok
}
