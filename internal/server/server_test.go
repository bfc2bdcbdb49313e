package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"studyline/internal/app"
	"studyline/internal/config"
	"studyline/internal/db"
	"studyline/internal/domain"
	"studyline/internal/engine"
	"studyline/internal/migrate"
	"studyline/internal/repo"
)

const testSecret = "test-secret"

const testStudyYAML = `study:
  id: asthma
  custom_events: [day3]

scheduling:
  default_days_ahead: 2
  max_days_ahead: 4
  max_minimum_per_schedule: 5

plans:
  - guid: daily
    strategy:
      type: simple
      schedule:
        type: recurring
        interval: P1D
        expires: P1D
        times: ["10:00"]
        activities:
          - guid: survey-1
            kind: survey
`

var (
	testNow      = time.Date(2015, 4, 11, 12, 0, 0, 0, time.FixedZone("-07:00", -7*3600))
	testEnrolled = time.Date(2015, 4, 10, 10, 40, 34, 0, time.FixedZone("-07:00", -7*3600))
)

type testServer struct {
	URL    string
	Repo   repo.Repo
	Config *config.Config
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func (s *testServer) token(t *testing.T, healthCode, studyID string) map[string]string {
	t.Helper()
	tok, err := SignToken(testSecret, Principal{HealthCode: healthCode, StudyID: studyID}, time.Hour, time.Now())
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return map[string]string{"Authorization": "Bearer " + tok}
}

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn, db.SQLite); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg, err := config.FromYAML([]byte(testStudyYAML))
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	r := repo.New(conn, db.SQLite)
	r.Now = func() time.Time { return testNow }
	if err := app.ImportConfig(context.Background(), r, cfg); err != nil {
		t.Fatalf("import config: %v", err)
	}
	e := engine.New(r, cfg, nil)
	e.Now = func() time.Time { return testNow }
	handler, err := New(Config{Engine: e, Repo: r, BasePath: "/v0", Auth: AuthConfig{JWTSecret: testSecret}})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Repo:   r,
		Config: cfg,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

type errorEnvelope struct {
	Error apiErrorBody `json:"error"`
}

func decodeError(t *testing.T, data []byte) apiErrorBody {
	t.Helper()
	var env errorEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal error: %v (%s)", err, string(data))
	}
	return env.Error
}

func TestAuthRequired(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, body := doJSON(t, client, http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d: %s", res.StatusCode, string(body))
	}
	res, body = doJSON(t, client, http.MethodGet, srv.URL+"/v0/activities", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d %s", res.StatusCode, string(body))
	}
	if e := decodeError(t, body); e.Code != "unauthorized" {
		t.Fatalf("code %s", e.Code)
	}
	res, body = doJSON(t, client, http.MethodGet, srv.URL+"/v0/activities", nil, map[string]string{"Authorization": "Bearer nope"})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad token, got %d %s", res.StatusCode, string(body))
	}
	res, body = doJSON(t, client, http.MethodGet, srv.URL+"/v0/activities", nil, srv.token(t, "hc-1", "other-study"))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for foreign study, got %d %s", res.StatusCode, string(body))
	}
}

func TestActivitiesLifecycle(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	auth := srv.token(t, "hc-1", "asthma")

	res, body := doJSON(t, client, http.MethodPost, srv.URL+"/v0/events", PublishEventRequest{
		Key:       domain.EventEnrollment,
		Timestamp: domain.Millis(testEnrolled),
	}, auth)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("publish status %d: %s", res.StatusCode, string(body))
	}

	res, body = doJSON(t, client, http.MethodGet, srv.URL+"/v0/activities?time_zone=-07:00", nil, auth)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list status %d: %s", res.StatusCode, string(body))
	}
	var list ActivityListResponse
	if err := json.Unmarshal(body, &list); err != nil {
		t.Fatalf("unmarshal list: %v", err)
	}
	if len(list.Items) != 3 {
		t.Fatalf("expected 3 activities, got %d: %s", len(list.Items), string(body))
	}
	first := list.Items[0]
	if first.ScheduledOn != "2015-04-11T10:00:00-07:00" || first.LocalScheduledOn != "2015-04-11T10:00:00" {
		t.Fatalf("first activity %+v", first)
	}
	if first.Status != string(domain.StatusScheduled) || !first.Persisted {
		t.Fatalf("first activity %+v", first)
	}

	finished := domain.Millis(testNow)
	res, body = doJSON(t, client, http.MethodPost, srv.URL+"/v0/activities", map[string]any{
		"activities": []map[string]any{{"guid": first.GUID, "finished_on": finished}},
	}, auth)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("update status %d: %s", res.StatusCode, string(body))
	}
	var updated UpdateActivitiesResponse
	if err := json.Unmarshal(body, &updated); err != nil {
		t.Fatalf("unmarshal update: %v", err)
	}
	if len(updated.Updated) != 1 || updated.Updated[0].Status != string(domain.StatusFinished) {
		t.Fatalf("update response %s", string(body))
	}
	if len(updated.Events) != 1 || updated.Events[0] != domain.ActivityFinishedKey(first.GUID) {
		t.Fatalf("events %v", updated.Events)
	}

	res, body = doJSON(t, client, http.MethodGet, srv.URL+"/v0/activities?time_zone=-07:00", nil, auth)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list status %d: %s", res.StatusCode, string(body))
	}
	list = ActivityListResponse{}
	_ = json.Unmarshal(body, &list)
	if len(list.Items) != 2 {
		t.Fatalf("finished activity still listed: %s", string(body))
	}

	res, body = doJSON(t, client, http.MethodGet, srv.URL+"/v0/events", nil, auth)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events status %d: %s", res.StatusCode, string(body))
	}
	var evs EventMapResponse
	_ = json.Unmarshal(body, &evs)
	if evs.Events[domain.ActivityFinishedKey(first.GUID)] != finished {
		t.Fatalf("event map %v", evs.Events)
	}
	if _, ok := evs.Events[domain.EventCreatedOn]; !ok {
		t.Fatalf("created_on missing from %v", evs.Events)
	}
}

func TestActivitiesBadRequests(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	auth := srv.token(t, "hc-1", "asthma")

	cases := []struct {
		name  string
		query string
		field string
	}{
		{"too far", "?days_ahead=9", "days_ahead"},
		{"not a number", "?days_ahead=soon", "days_ahead"},
		{"bad ends_on", "?ends_on=tomorrow", "ends_on"},
		{"bad zone", "?time_zone=Mars/Olympus", "time_zone"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, body := doJSON(t, client, http.MethodGet, srv.URL+"/v0/activities"+tc.query, nil, auth)
			if res.StatusCode != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d %s", res.StatusCode, string(body))
			}
			e := decodeError(t, body)
			if e.Code != "bad_request" || e.Details["field"] != tc.field {
				t.Fatalf("error %+v", e)
			}
		})
	}

	res, body := doJSON(t, client, http.MethodPost, srv.URL+"/v0/activities", map[string]any{
		"activities": []map[string]any{{"guid": "missing", "started_on": 1}},
	}, auth)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown guid, got %d %s", res.StatusCode, string(body))
	}

	res, body = doJSON(t, client, http.MethodPost, srv.URL+"/v0/events", PublishEventRequest{Key: "custom:undeclared", Timestamp: 1}, auth)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for undeclared event, got %d %s", res.StatusCode, string(body))
	}
	res, body = doJSON(t, client, http.MethodPost, srv.URL+"/v0/events", PublishEventRequest{Key: domain.EventCreatedOn, Timestamp: 1}, auth)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for engine-owned event, got %d %s", res.StatusCode, string(body))
	}
}

func TestEventHistoryAndDelete(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	auth := srv.token(t, "hc-1", "asthma")

	for _, ts := range []int64{1000, 2000} {
		res, body := doJSON(t, client, http.MethodPost, srv.URL+"/v0/events", PublishEventRequest{Key: "custom:day3", Timestamp: ts}, auth)
		if res.StatusCode != http.StatusOK {
			t.Fatalf("publish status %d: %s", res.StatusCode, string(body))
		}
	}
	res, body := doJSON(t, client, http.MethodDelete, srv.URL+"/v0/events/custom:day3", nil, auth)
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status %d: %s", res.StatusCode, string(body))
	}
	res, body = doJSON(t, client, http.MethodDelete, srv.URL+"/v0/events/custom:day3", nil, auth)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 on second delete, got %d %s", res.StatusCode, string(body))
	}

	res, body = doJSON(t, client, http.MethodGet, srv.URL+"/v0/events/history?limit=2", nil, auth)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("history status %d: %s", res.StatusCode, string(body))
	}
	var page EventHistoryResponse
	if err := json.Unmarshal(body, &page); err != nil {
		t.Fatalf("unmarshal history: %v", err)
	}
	if len(page.Items) != 2 || page.NextCursor == "" {
		t.Fatalf("first page %s", string(body))
	}
	if page.Items[0].Action != "deleted" {
		t.Fatalf("newest entry should be the delete: %+v", page.Items[0])
	}
	res, body = doJSON(t, client, http.MethodGet, srv.URL+"/v0/events/history?limit=2&cursor="+page.NextCursor, nil, auth)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("history page 2 status %d: %s", res.StatusCode, string(body))
	}
	page = EventHistoryResponse{}
	_ = json.Unmarshal(body, &page)
	if len(page.Items) != 1 || page.NextCursor != "" || page.Items[0].Timestamp != 1000 {
		t.Fatalf("second page %s", string(body))
	}

	other := srv.token(t, "hc-2", "asthma")
	res, body = doJSON(t, client, http.MethodGet, srv.URL+"/v0/events/history", nil, other)
	if res.StatusCode != http.StatusOK || !strings.Contains(string(body), `"items":[]`) {
		t.Fatalf("history leaked across participants: %d %s", res.StatusCode, string(body))
	}
}

func TestSetTimeZone(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	auth := srv.token(t, "hc-1", "asthma")

	res, body := doJSON(t, client, http.MethodPut, srv.URL+"/v0/participant/time_zone", TimeZoneRequest{TimeZone: "America/Chicago"}, auth)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 before the first request, got %d %s", res.StatusCode, string(body))
	}
	doJSON(t, client, http.MethodGet, srv.URL+"/v0/activities?time_zone=-07:00", nil, auth)
	res, body = doJSON(t, client, http.MethodPut, srv.URL+"/v0/participant/time_zone", TimeZoneRequest{TimeZone: "America/Chicago"}, auth)
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("set zone status %d: %s", res.StatusCode, string(body))
	}
	p, err := srv.Repo.GetParticipant(context.Background(), "hc-1")
	if err != nil || p.TimeZone != "America/Chicago" {
		t.Fatalf("participant %+v err %v", p, err)
	}
}

func TestOpenAPISpec(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, body := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/openapi.json", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("openapi status %d", res.StatusCode)
	}
	for _, want := range []string{"/v0/activities", "/v0/events/history", "bearerAuth"} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("openapi missing %s", want)
		}
	}
	var doc struct {
		Paths map[string]map[string]struct {
			Security []map[string][]string `json:"security"`
		} `json:"paths"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		t.Fatalf("decode openapi: %v", err)
	}
	if len(doc.Paths["/v0/activities"]["get"].Security) != 1 {
		t.Fatalf("activities should require a token: %+v", doc.Paths["/v0/activities"])
	}
	if len(doc.Paths["/v0/health"]["get"].Security) != 0 {
		t.Fatalf("health should be public: %+v", doc.Paths["/v0/health"])
	}
	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/docs", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("docs status %d", res.StatusCode)
	}
}

type fakeHistory struct {
	records []domain.EventRecord
	latest  int64
}

func (f fakeHistory) EventsAfter(_ context.Context, limit int, cursor int64) ([]domain.EventRecord, error) {
	var out []domain.EventRecord
	for _, r := range f.records {
		if r.ID > cursor && len(out) < limit {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f fakeHistory) LatestEventID(context.Context) (int64, error) { return f.latest, nil }

func TestWebhookDispatch(t *testing.T) {
	var mu sync.Mutex
	var got []webhookEvent
	var secrets []string
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var evt webhookEvent
		_ = json.NewDecoder(r.Body).Decode(&evt)
		mu.Lock()
		got = append(got, evt)
		secrets = append(secrets, r.Header.Get("X-Studyline-Secret"))
		mu.Unlock()
	}))
	defer hook.Close()

	cfg := config.Default("asthma")
	cfg.Webhooks = []config.WebhookConfig{{URL: hook.URL, Events: []string{"activity_finished", "custom.deleted"}, Secret: "s3"}}
	source := fakeHistory{
		latest: 1,
		records: []domain.EventRecord{
			{ID: 1, Key: "custom:day3", Action: "published"},
			{ID: 2, Key: "custom:day3", Action: "published"},
			{ID: 3, Key: "activity:g1:finished", Action: "published", Payload: `{"update_type":"future_only"}`},
			{ID: 4, Key: "custom:day3", Action: "deleted"},
		},
	}
	d := newWebhookDispatcher(cfg, source, nil)
	d.dispatchAll(context.Background())

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 {
		t.Fatalf("expected 2 deliveries, got %+v", got)
	}
	if got[0].ID != 3 || got[0].Kind != "activity_finished" || got[0].StudyID != "asthma" {
		t.Fatalf("first delivery %+v", got[0])
	}
	if got[1].ID != 4 || got[1].Action != "deleted" {
		t.Fatalf("second delivery %+v", got[1])
	}
	if secrets[0] != "s3" {
		t.Fatalf("secret header %q", secrets[0])
	}
	if d.cursors[0] != 4 {
		t.Fatalf("cursor %d", d.cursors[0])
	}
}
