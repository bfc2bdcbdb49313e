package server

import (
	"time"

	"studyline/internal/domain"
	"studyline/internal/scheduler"
)

type ActivityResponse struct {
	GUID             string          `json:"guid"`
	SchedulePlanGUID string          `json:"schedule_plan_guid"`
	Activity         domain.Activity `json:"activity"`
	Status           string          `json:"status" enum:"scheduled,started,finished,expired"`
	ScheduledOn      string          `json:"scheduled_on" format:"date-time"`
	ExpiresOn        *string         `json:"expires_on,omitempty" format:"date-time"`
	LocalScheduledOn string          `json:"local_scheduled_on"`
	LocalExpiresOn   *string         `json:"local_expires_on,omitempty"`
	StartedOn        *int64          `json:"started_on,omitempty"`
	FinishedOn       *int64          `json:"finished_on,omitempty"`
	Persisted        bool            `json:"persisted"`
}

type ActivityListResponse struct {
	Items []ActivityResponse `json:"items"`
}

type UpdateActivitiesRequest struct {
	Activities []*scheduler.ActivityUpdate `json:"activities"`
}

type UpdateActivitiesResponse struct {
	Updated []ActivityResponse `json:"updated"`
	Events  []string           `json:"events"`
}

type PublishEventRequest struct {
	Key       string `json:"key" example:"custom:day3"`
	Timestamp int64  `json:"timestamp" doc:"epoch milliseconds"`
}

type PublishEventResponse struct {
	Key     string `json:"key"`
	Changed bool   `json:"changed"`
}

type EventMapResponse struct {
	Events map[string]int64 `json:"events"`
}

type EventHistoryResponse struct {
	Items      []domain.EventRecord `json:"items"`
	NextCursor string               `json:"next_cursor,omitempty"`
}

type TimeZoneRequest struct {
	TimeZone string `json:"time_zone" example:"America/Los_Angeles"`
}

func activityResponse(a domain.ScheduledActivity, now time.Time) ActivityResponse {
	resp := ActivityResponse{
		GUID:             a.GUID,
		SchedulePlanGUID: a.SchedulePlanGUID,
		Activity:         a.Activity,
		Status:           string(a.Status(now)),
		ScheduledOn:      a.ScheduledOn().Format(time.RFC3339),
		LocalScheduledOn: a.LocalScheduledOn.String(),
		StartedOn:        a.StartedOn,
		FinishedOn:       a.FinishedOn,
		Persisted:        a.Persisted,
	}
	if exp := a.ExpiresOn(); exp != nil {
		s := exp.Format(time.RFC3339)
		resp.ExpiresOn = &s
		local := a.LocalExpiresOn.String()
		resp.LocalExpiresOn = &local
	}
	return resp
}

func activityResponses(list []domain.ScheduledActivity, now time.Time) []ActivityResponse {
	res := make([]ActivityResponse, 0, len(list))
	for _, a := range list {
		res = append(res, activityResponse(a, now))
	}
	return res
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
