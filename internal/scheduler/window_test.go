package scheduler

import (
	"testing"
	"time"
	_ "time/tzdata"
)

var (
	pacific = time.FixedZone("-07:00", -7*3600)
	eastern = time.FixedZone("-04:00", -4*3600)
)

func intPtr(v int) *int { return &v }

func TestValidateWindowDefaults(t *testing.T) {
	now := time.Date(2015, 4, 10, 12, 0, 0, 0, pacific)
	w, err := ValidateWindow(WindowRequest{}, now, pacific, nil, DefaultWindowLimits)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !w.EndsOn.Equal(now.AddDate(0, 0, 2)) {
		t.Fatalf("expected two days ahead, got %s", w.EndsOn)
	}
	if w.Zone != pacific {
		t.Fatalf("expected initial zone, got %s", w.Zone)
	}
	w, err = ValidateWindow(WindowRequest{DaysAhead: intPtr(4), MinimumPerSchedule: 5}, now, pacific, eastern, DefaultWindowLimits)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if w.Zone != eastern || w.MinimumPerSchedule != 5 {
		t.Fatalf("unexpected window %+v", w)
	}
	ends := now.Add(36 * time.Hour)
	w, err = ValidateWindow(WindowRequest{EndsOn: &ends}, now, nil, nil, DefaultWindowLimits)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !w.EndsOn.Equal(ends) || w.Zone != time.UTC {
		t.Fatalf("unexpected window %+v", w)
	}
}

func TestValidateWindowRejects(t *testing.T) {
	now := time.Date(2015, 4, 10, 12, 0, 0, 0, pacific)
	past := now.Add(-time.Minute)
	far := now.AddDate(0, 0, 4).Add(time.Second)
	cases := []struct {
		name string
		req  WindowRequest
	}{
		{"ends before now", WindowRequest{EndsOn: &past}},
		{"ends too far", WindowRequest{EndsOn: &far}},
		{"days too far", WindowRequest{DaysAhead: intPtr(5)}},
		{"negative days", WindowRequest{DaysAhead: intPtr(-1)}},
		{"both set", WindowRequest{EndsOn: &now, DaysAhead: intPtr(1)}},
		{"minimum too large", WindowRequest{MinimumPerSchedule: 6}},
		{"negative minimum", WindowRequest{MinimumPerSchedule: -1}},
	}
	for _, tc := range cases {
		_, err := ValidateWindow(tc.req, now, pacific, nil, DefaultWindowLimits)
		if !IsBadRequest(err) {
			t.Fatalf("%s: expected bad request, got %v", tc.name, err)
		}
	}
}

func TestParseZone(t *testing.T) {
	loc, err := ParseZone("-07:00")
	if err != nil {
		t.Fatalf("parse offset: %v", err)
	}
	if _, off := time.Date(2015, 1, 1, 0, 0, 0, 0, loc).Zone(); off != -7*3600 {
		t.Fatalf("offset %d", off)
	}
	if ZoneName(loc) != "-07:00" {
		t.Fatalf("zone name %s", ZoneName(loc))
	}
	if _, err := ParseZone("America/Los_Angeles"); err != nil {
		t.Fatalf("parse iana: %v", err)
	}
	for _, bad := range []string{"", "+7", "-07:99", "Mars/Olympus"} {
		if _, err := ParseZone(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}
