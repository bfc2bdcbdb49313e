package studylinesdk

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestActivitiesQueryAndHeaders(t *testing.T) {
	var gotQuery, gotAuth, gotApp string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		gotAuth = r.Header.Get("Authorization")
		gotApp = r.Header.Get("X-App-Info")
		json.NewEncoder(w).Encode(map[string]any{"items": []map[string]any{{"guid": "g1", "status": "scheduled"}}})
	}))
	defer srv.Close()

	c := New(srv.URL+"/", "tok")
	c.AppInfo = "Asthma/12 (iOS)"
	days := 3
	items, err := c.Activities(context.Background(), ActivityQuery{DaysAhead: &days, TimeZone: "-07:00"})
	if err != nil {
		t.Fatalf("activities: %v", err)
	}
	if len(items) != 1 || items[0].GUID != "g1" {
		t.Fatalf("items %+v", items)
	}
	if gotQuery != "days_ahead=3&time_zone=-07%3A00" {
		t.Fatalf("query %s", gotQuery)
	}
	if gotAuth != "Bearer tok" || gotApp != "Asthma/12 (iOS)" {
		t.Fatalf("headers %q %q", gotAuth, gotApp)
	}
}

func TestErrorEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"code":"bad_request","message":"days_ahead: must be between 0 and 4"}}`))
	}))
	defer srv.Close()

	_, err := New(srv.URL, "tok").PublishEvent(context.Background(), "custom:x", time.Now())
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusBadRequest || apiErr.Code != "bad_request" {
		t.Fatalf("error %+v", apiErr)
	}
}

func TestDeleteEventNoContent(t *testing.T) {
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.EscapedPath()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	if err := New(srv.URL, "tok").DeleteEvent(context.Background(), "custom:day3"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if path != "/v0/events/custom:day3" {
		t.Fatalf("path %s", path)
	}
}
