package scheduler

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"studyline/internal/domain"
)

func instance(guid string, on string) domain.ScheduledActivity {
	scheduled := dt(on)
	expires := MustParsePeriod("P1D").AddTo(scheduled)
	return domain.ScheduledActivity{
		GUID:             guid,
		HealthCode:       "hc-1",
		SchedulePlanGUID: "plan-1",
		Activity:         domain.Activity{GUID: "survey-1", Kind: "survey"},
		LocalScheduledOn: scheduled,
		LocalExpiresOn:   &expires,
		TimeZone:         pacific,
	}
}

func millis(v int64) *int64 { return &v }

func guids(list []domain.ScheduledActivity) []string {
	var out []string
	for _, a := range list {
		out = append(out, a.GUID)
	}
	return out
}

func TestReconcileScenario(t *testing.T) {
	now := time.Date(2015, 4, 11, 12, 0, 0, 0, pacific)
	a := instance("A", "2015-04-11T10:00:00")
	b := instance("B", "2015-04-12T10:00:00")
	c := instance("C", "2015-04-13T10:00:00")

	finishedA := a
	finishedA.StartedOn, finishedA.FinishedOn = millis(1), millis(2)
	startedC := c
	startedC.StartedOn = millis(3)

	res, err := Reconcile([]domain.ScheduledActivity{a, b, c}, []domain.ScheduledActivity{finishedA, startedC}, now)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if got := guids(res.Visible); !reflect.DeepEqual(got, []string{"B", "C"}) {
		t.Fatalf("visible %v", got)
	}
	if res.Visible[1].StartedOn == nil || *res.Visible[1].StartedOn != 3 {
		t.Fatalf("persisted state not applied: %+v", res.Visible[1])
	}
	if got := guids(res.ToPersist); !reflect.DeepEqual(got, []string{"B"}) {
		t.Fatalf("to persist %v", got)
	}
	if res.ToPersist[0].Persisted {
		t.Fatalf("new record should not be flagged persisted before it is written")
	}
	for _, v := range res.Visible {
		if !v.Persisted {
			t.Fatalf("visible record %s not flagged persisted", v.GUID)
		}
	}
}

func TestReconcileDropsExpiredAndSorts(t *testing.T) {
	now := time.Date(2015, 4, 12, 12, 0, 0, 0, pacific)
	old := instance("Z", "2015-04-10T10:00:00")
	later := instance("B", "2015-04-13T10:00:00")
	tieA := instance("A", "2015-04-12T10:00:00")
	tieB := instance("C", "2015-04-12T10:00:00")
	res, err := Reconcile([]domain.ScheduledActivity{later, tieB, old, tieA}, []domain.ScheduledActivity{old}, now)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if got := guids(res.Visible); !reflect.DeepEqual(got, []string{"A", "C", "B"}) {
		t.Fatalf("visible %v", got)
	}
}

func TestReconcileDuplicateGUID(t *testing.T) {
	a := instance("A", "2015-04-11T10:00:00")
	_, err := Reconcile([]domain.ScheduledActivity{a, a}, nil, time.Now())
	if !IsInvariant(err) {
		t.Fatalf("expected invariant error, got %v", err)
	}
}

func TestReconcileIsIdempotent(t *testing.T) {
	now := time.Date(2015, 4, 10, 12, 0, 0, 0, pacific)
	sc := requestAt(now, now.AddDate(0, 0, 2))
	sc.MinimumPerSchedule = 4

	candidates, err := Generate("plan-1", dailySchedule(), sc)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	first, err := Reconcile(candidates, nil, now)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if len(first.ToPersist) != 4 {
		t.Fatalf("expected 4 new records, got %d", len(first.ToPersist))
	}

	again, err := Generate("plan-1", dailySchedule(), sc)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	second, err := Reconcile(again, first.ToPersist, now)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if len(second.ToPersist) != 0 {
		t.Fatalf("expected empty delta, got %v", guids(second.ToPersist))
	}
	if !reflect.DeepEqual(first.Visible, second.Visible) {
		t.Fatalf("visible list changed between runs")
	}
}

func TestCompletionIsSticky(t *testing.T) {
	now := time.Date(2015, 4, 10, 12, 0, 0, 0, pacific)
	sc := requestAt(now, now.AddDate(0, 0, 2))
	candidates, _ := Generate("plan-1", dailySchedule(), sc)
	first, _ := Reconcile(candidates, nil, now)
	stored := first.ToPersist
	target := stored[0].GUID

	res, err := ApplyUpdates([]*ActivityUpdate{{GUID: target, FinishedOn: millis(domain.Millis(now))}}, stored)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if len(res.Updated) != 1 || res.Updated[0].FinishedOn == nil {
		t.Fatalf("expected one finished record, got %+v", res.Updated)
	}
	for i := range stored {
		if stored[i].GUID == target {
			stored[i] = res.Updated[0]
		}
	}

	res, err = ApplyUpdates([]*ActivityUpdate{{GUID: target, StartedOn: millis(99)}}, stored)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if len(res.Updated) != 0 || len(res.Events) != 0 {
		t.Fatalf("finished record changed: %+v", res)
	}

	again, _ := Generate("plan-1", dailySchedule(), sc)
	second, err := Reconcile(again, stored, now)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	for _, v := range second.Visible {
		if v.GUID == target {
			t.Fatalf("finished activity %s reappeared", target)
		}
	}
}

func TestApplyUpdatesPublishesFinishedEvent(t *testing.T) {
	rec := instance("A", "2015-04-11T10:00:00")
	rec.Persisted = true
	res, err := ApplyUpdates([]*ActivityUpdate{
		{GUID: "A", StartedOn: millis(100)},
		{GUID: "A", FinishedOn: millis(200)},
		{GUID: "A", FinishedOn: millis(300)},
	}, []domain.ScheduledActivity{rec})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if len(res.Updated) != 1 {
		t.Fatalf("expected one updated record, got %d", len(res.Updated))
	}
	got := res.Updated[0]
	if *got.StartedOn != 100 || *got.FinishedOn != 200 {
		t.Fatalf("unexpected state %+v", got)
	}
	want := []domain.ActivityEvent{{HealthCode: "hc-1", Key: "activity:A:finished", Timestamp: 200, ActivityGUID: "survey-1"}}
	if !reflect.DeepEqual(res.Events, want) {
		t.Fatalf("events %+v", res.Events)
	}
}

func TestApplyUpdatesRejectsMalformedBatch(t *testing.T) {
	rec := instance("A", "2015-04-11T10:00:00")
	persisted := []domain.ScheduledActivity{rec}
	if _, err := ApplyUpdates([]*ActivityUpdate{{GUID: "A", StartedOn: millis(1)}, nil}, persisted); !IsBadRequest(err) {
		t.Fatalf("expected bad request for nil entry, got %v", err)
	}
	if _, err := ApplyUpdates([]*ActivityUpdate{{GUID: "A"}, {FinishedOn: millis(1)}}, persisted); !IsBadRequest(err) {
		t.Fatalf("expected bad request for blank guid, got %v", err)
	}
	if persisted[0].StartedOn != nil {
		t.Fatalf("persisted record mutated")
	}
	if _, err := ApplyUpdates([]*ActivityUpdate{{GUID: "missing", StartedOn: millis(1)}}, persisted); !errors.Is(err, ErrUnknownActivity) {
		t.Fatalf("expected unknown activity, got %v", err)
	}
}

func TestScheduledActivityStatus(t *testing.T) {
	rec := instance("A", "2015-04-11T10:00:00")
	if rec.Status(time.Date(2015, 4, 11, 9, 0, 0, 0, pacific)) != domain.StatusScheduled {
		t.Fatalf("expected scheduled")
	}
	if rec.Status(time.Date(2015, 4, 12, 11, 0, 0, 0, pacific)) != domain.StatusExpired {
		t.Fatalf("expected expired")
	}
	rec.StartedOn = millis(1)
	if rec.Status(time.Date(2015, 4, 11, 11, 0, 0, 0, pacific)) != domain.StatusStarted {
		t.Fatalf("expected started")
	}
	rec.FinishedOn = millis(2)
	if rec.Status(time.Date(2015, 4, 20, 0, 0, 0, 0, pacific)) != domain.StatusFinished {
		t.Fatalf("expected finished")
	}
}
