package domain

import (
	"time"

	"cloud.google.com/go/civil"
)

type ActivityStatus string

const (
	StatusScheduled ActivityStatus = "scheduled"
	StatusStarted   ActivityStatus = "started"
	StatusFinished  ActivityStatus = "finished"
	StatusExpired   ActivityStatus = "expired"
)

// Activity is a template referenced by a schedule. GUID is stable across
// plan revisions and feeds the scheduled activity guid.
type Activity struct {
	GUID  string `json:"guid" yaml:"guid"`
	Label string `json:"label,omitempty" yaml:"label,omitempty"`
	Kind  string `json:"kind" yaml:"kind" enum:"task,survey"`
	Ref   string `json:"ref,omitempty" yaml:"ref,omitempty"`
}

// ScheduledActivity is one occurrence of an activity template for a participant.
// Scheduled and expiration times are floating local date-times; TimeZone
// pins them to an instant for the current request.
type ScheduledActivity struct {
	GUID             string          `json:"guid"`
	HealthCode       string          `json:"health_code"`
	SchedulePlanGUID string          `json:"schedule_plan_guid"`
	Activity         Activity        `json:"activity"`
	LocalScheduledOn civil.DateTime  `json:"local_scheduled_on"`
	LocalExpiresOn   *civil.DateTime `json:"local_expires_on,omitempty"`
	TimeZone         *time.Location  `json:"-"`
	StartedOn        *int64          `json:"started_on,omitempty"`
	FinishedOn       *int64          `json:"finished_on,omitempty"`
	Persisted        bool            `json:"persisted"`
}

func (a ScheduledActivity) zone() *time.Location {
	if a.TimeZone == nil {
		return time.UTC
	}
	return a.TimeZone
}

// ScheduledOn returns the scheduled instant in the activity's time zone.
func (a ScheduledActivity) ScheduledOn() time.Time {
	return a.LocalScheduledOn.In(a.zone())
}

// ExpiresOn returns nil for activities that never expire.
func (a ScheduledActivity) ExpiresOn() *time.Time {
	if a.LocalExpiresOn == nil {
		return nil
	}
	t := a.LocalExpiresOn.In(a.zone())
	return &t
}

// ExpiredAt reports whether the activity's expiration lies before now, both
// read as wall-clock time in the activity's zone.
func (a ScheduledActivity) ExpiredAt(now time.Time) bool {
	if a.LocalExpiresOn == nil {
		return false
	}
	return a.LocalExpiresOn.Before(civil.DateTimeOf(now.In(a.zone())))
}

func (a ScheduledActivity) Status(now time.Time) ActivityStatus {
	switch {
	case a.FinishedOn != nil:
		return StatusFinished
	case a.ExpiredAt(now):
		return StatusExpired
	case a.StartedOn != nil:
		return StatusStarted
	default:
		return StatusScheduled
	}
}

// ActivityEvent is a named timestamp recorded for a participant.
type ActivityEvent struct {
	HealthCode   string `json:"health_code"`
	Key          string `json:"key"`
	Timestamp    int64  `json:"timestamp"`
	ActivityGUID string `json:"activity_guid,omitempty"`
}

// EventRecord is one row of the append-only event history.
type EventRecord struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	HealthCode string `json:"health_code"`
	Key        string `json:"key"`
	Timestamp  int64  `json:"timestamp"`
	Action     string `json:"action"`
	Payload    string `json:"payload_json,omitempty"`
}

type Participant struct {
	HealthCode string   `json:"health_code"`
	StudyID    string   `json:"study_id"`
	TimeZone   string   `json:"time_zone"`
	CreatedOn  int64    `json:"created_on"`
	DataGroups []string `json:"data_groups,omitempty"`
}

type Study struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// ClientInfo describes the calling app. A zero AppVersion means unknown.
type ClientInfo struct {
	AppName    string `json:"app_name,omitempty"`
	AppVersion int    `json:"app_version,omitempty"`
	OSName     string `json:"os_name,omitempty"`
}

// Millis converts t to epoch milliseconds.
func Millis(t time.Time) int64 {
	return t.UnixMilli()
}

// FromMillis is the inverse of Millis.
func FromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
