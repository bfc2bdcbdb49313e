package domain

import "testing"

func TestParseEventKey(t *testing.T) {
	cases := []struct {
		in   string
		kind EventKind
		name string
	}{
		{"enrollment", EventKindEnrollment, ""},
		{"created_on", EventKindCreatedOn, ""},
		{"custom:day3", EventKindCustom, "day3"},
		{"activity:abc-123:finished", EventKindActivityFinished, "abc-123"},
		{"question:q1:answered", EventKindQuestionAnswered, "q1"},
	}
	for _, tc := range cases {
		k, err := ParseEventKey(tc.in)
		if err != nil {
			t.Fatalf("parse %s: %v", tc.in, err)
		}
		if k.Kind != tc.kind || k.Name != tc.name {
			t.Fatalf("parse %s: got %+v", tc.in, k)
		}
		if k.String() != tc.in {
			t.Fatalf("round trip %s: got %s", tc.in, k.String())
		}
	}
	for _, bad := range []string{"", "custom:", "activity::finished", "survey:x", "activity:x"} {
		if _, err := ParseEventKey(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestParseClientInfo(t *testing.T) {
	info := ParseClientInfo("Asthma/12 (iPhone OS)")
	if info.AppName != "Asthma" || info.AppVersion != 12 || info.OSName != "iPhone OS" {
		t.Fatalf("unexpected client info %+v", info)
	}
	info = ParseClientInfo("Asthma")
	if info.AppName != "Asthma" || info.AppVersion != 0 || info.OSName != "" {
		t.Fatalf("unexpected client info %+v", info)
	}
	if got := ParseClientInfo(""); got != (ClientInfo{}) {
		t.Fatalf("expected zero client info, got %+v", got)
	}
}
