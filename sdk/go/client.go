package studylinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client is a minimal Studyline HTTP API client acting for one participant.
type Client struct {
	BaseURL     string
	BearerToken string
	// AppInfo is sent as X-App-Info, e.g. "Asthma/12 (iOS)".
	AppInfo    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, token string) *Client {
	return &Client{
		BaseURL:     baseURL,
		BearerToken: token,
		Timeout:     10 * time.Second,
	}
}

type Activity struct {
	GUID  string `json:"guid"`
	Label string `json:"label,omitempty"`
	Kind  string `json:"kind"`
	Ref   string `json:"ref,omitempty"`
}

// ScheduledActivity is one occurrence as returned by the API.
type ScheduledActivity struct {
	GUID             string   `json:"guid"`
	SchedulePlanGUID string   `json:"schedule_plan_guid"`
	Activity         Activity `json:"activity"`
	Status           string   `json:"status"`
	ScheduledOn      string   `json:"scheduled_on"`
	ExpiresOn        string   `json:"expires_on,omitempty"`
	LocalScheduledOn string   `json:"local_scheduled_on"`
	LocalExpiresOn   string   `json:"local_expires_on,omitempty"`
	StartedOn        *int64   `json:"started_on,omitempty"`
	FinishedOn       *int64   `json:"finished_on,omitempty"`
	Persisted        bool     `json:"persisted"`
}

// ActivityUpdate records started and finished epoch milliseconds.
type ActivityUpdate struct {
	GUID       string `json:"guid"`
	StartedOn  *int64 `json:"started_on,omitempty"`
	FinishedOn *int64 `json:"finished_on,omitempty"`
}

type UpdateResult struct {
	Updated []ScheduledActivity `json:"updated"`
	Events  []string            `json:"events"`
}

// ActivityQuery selects the look-ahead window. Zero values use server defaults.
type ActivityQuery struct {
	DaysAhead          *int
	EndsOn             time.Time
	MinimumPerSchedule int
	TimeZone           string
}

// EventRecord is an entry of the event history.
type EventRecord struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	HealthCode string `json:"health_code"`
	Key        string `json:"key"`
	Timestamp  int64  `json:"timestamp"`
	Action     string `json:"action"`
	Payload    string `json:"payload_json,omitempty"`
}

// PaginatedHistory wraps history pages with cursors.
type PaginatedHistory struct {
	Items      []EventRecord `json:"items"`
	NextCursor string        `json:"next_cursor"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Activities returns the participant's visible activities.
func (c *Client) Activities(ctx context.Context, q ActivityQuery) ([]ScheduledActivity, error) {
	params := url.Values{}
	if q.DaysAhead != nil {
		params.Set("days_ahead", strconv.Itoa(*q.DaysAhead))
	}
	if !q.EndsOn.IsZero() {
		params.Set("ends_on", q.EndsOn.Format(time.RFC3339))
	}
	if q.MinimumPerSchedule > 0 {
		params.Set("minimum_per_schedule", strconv.Itoa(q.MinimumPerSchedule))
	}
	if q.TimeZone != "" {
		params.Set("time_zone", q.TimeZone)
	}
	endpoint := "v0/activities"
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	var resp struct {
		Items []ScheduledActivity `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

// UpdateActivities submits a batch of started/finished times.
func (c *Client) UpdateActivities(ctx context.Context, updates []ActivityUpdate) (UpdateResult, error) {
	var resp UpdateResult
	err := c.do(ctx, http.MethodPost, "v0/activities", map[string]any{"activities": updates}, &resp)
	return resp, err
}

// FinishActivity marks one activity finished at t.
func (c *Client) FinishActivity(ctx context.Context, guid string, t time.Time) (UpdateResult, error) {
	ms := t.UnixMilli()
	return c.UpdateActivities(ctx, []ActivityUpdate{{GUID: guid, FinishedOn: &ms}})
}

// Events returns the event map used for scheduling.
func (c *Client) Events(ctx context.Context) (map[string]int64, error) {
	var resp struct {
		Events map[string]int64 `json:"events"`
	}
	err := c.do(ctx, http.MethodGet, "v0/events", nil, &resp)
	return resp.Events, err
}

// PublishEvent records key at t and reports whether the stored value changed.
func (c *Client) PublishEvent(ctx context.Context, key string, t time.Time) (bool, error) {
	var resp struct {
		Changed bool `json:"changed"`
	}
	err := c.do(ctx, http.MethodPost, "v0/events", map[string]any{"key": key, "timestamp": t.UnixMilli()}, &resp)
	return resp.Changed, err
}

func (c *Client) DeleteEvent(ctx context.Context, key string) error {
	return c.do(ctx, http.MethodDelete, "v0/events/"+url.PathEscape(key), nil, nil)
}

// History returns a page of the event history, newest first.
func (c *Client) History(ctx context.Context, limit int, cursor string) (PaginatedHistory, error) {
	params := url.Values{}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	if cursor != "" {
		params.Set("cursor", cursor)
	}
	endpoint := "v0/events/history"
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	var resp PaginatedHistory
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// SetTimeZone replaces the participant's initial time zone.
func (c *Client) SetTimeZone(ctx context.Context, zone string) error {
	return c.do(ctx, http.MethodPut, "v0/participant/time_zone", map[string]string{"time_zone": zone}, nil)
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	target := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, target, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	if c.AppInfo != "" {
		req.Header.Set("X-App-Info", c.AppInfo)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return apiErr
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
