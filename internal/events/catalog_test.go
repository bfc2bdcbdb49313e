package events

import (
	"testing"
	"time"

	"studyline/internal/domain"
	"studyline/internal/scheduler"
)

func testCatalog(t *testing.T) Catalog {
	t.Helper()
	c, err := NewCatalog([]string{"day3"}, map[string]string{"two_weeks": "P14D"})
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	return c
}

func TestValidatePublish(t *testing.T) {
	c := testCatalog(t)
	ok := []struct {
		key    string
		origin Origin
	}{
		{"enrollment", FromClient},
		{"custom:day3", FromClient},
		{"question:q1:answered", FromClient},
		{"activity:abc:finished", FromEngine},
	}
	for _, tc := range ok {
		if _, err := c.ValidatePublish(tc.key, tc.origin); err != nil {
			t.Fatalf("%s: %v", tc.key, err)
		}
	}
	bad := []struct {
		key    string
		origin Origin
	}{
		{"custom:unknown", FromClient},
		{"custom:two_weeks", FromClient},
		{"created_on", FromClient},
		{"activity:abc:finished", FromClient},
		{"nonsense", FromClient},
	}
	for _, tc := range bad {
		_, err := c.ValidatePublish(tc.key, tc.origin)
		if !scheduler.IsBadRequest(err) {
			t.Fatalf("%s: expected bad request, got %v", tc.key, err)
		}
	}
}

func TestShouldReplace(t *testing.T) {
	stored := int64(100)
	cases := []struct {
		kind     domain.EventKind
		stored   *int64
		incoming int64
		want     bool
	}{
		{domain.EventKindEnrollment, nil, 50, true},
		{domain.EventKindEnrollment, &stored, 200, false},
		{domain.EventKindCustom, &stored, 50, true},
		{domain.EventKindCustom, &stored, 100, false},
		{domain.EventKindActivityFinished, &stored, 50, false},
		{domain.EventKindActivityFinished, &stored, 200, true},
		{domain.EventKindQuestionAnswered, &stored, 100, false},
	}
	for _, tc := range cases {
		if got := ShouldReplace(tc.kind, tc.stored, tc.incoming); got != tc.want {
			t.Fatalf("%s stored=%v incoming=%d: got %v", tc.kind, tc.stored, tc.incoming, got)
		}
	}
}

func TestDerive(t *testing.T) {
	c := testCatalog(t)
	enrolled := time.Date(2015, 4, 10, 17, 40, 34, 0, time.UTC)
	created := time.Date(2015, 4, 1, 0, 0, 0, 0, time.UTC)
	got := c.Derive(map[string]int64{domain.EventEnrollment: domain.Millis(enrolled)}, domain.Participant{CreatedOn: domain.Millis(created)})
	if !got[domain.EventEnrollment].Equal(enrolled) {
		t.Fatalf("enrollment %s", got[domain.EventEnrollment])
	}
	if !got[domain.EventCreatedOn].Equal(created) {
		t.Fatalf("created_on %s", got[domain.EventCreatedOn])
	}
	if want := enrolled.AddDate(0, 0, 14); !got["custom:two_weeks"].Equal(want) {
		t.Fatalf("automatic event %s want %s", got["custom:two_weeks"], want)
	}

	none := c.Derive(nil, domain.Participant{})
	if len(none) != 0 {
		t.Fatalf("expected no derived events without enrollment, got %v", none)
	}
	if names := c.CustomEvents(); len(names) != 2 || names[0] != "day3" || names[1] != "two_weeks" {
		t.Fatalf("custom events %v", names)
	}
}
