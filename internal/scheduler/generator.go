package scheduler

import (
	"sort"
	"time"

	"cloud.google.com/go/civil"

	"studyline/internal/domain"
)

const (
	// MaxExpansions caps how often the window is pushed out to satisfy a
	// minimum-per-schedule request.
	MaxExpansions = 10
	// MaxOccurrences caps the occurrences generated for one schedule.
	MaxOccurrences = 1000

	maxSteps = 100000
)

var oneDay = Period{Days: 1}

// Generate computes the candidate activities of one schedule for the request.
// A schedule whose anchor event is missing yields no candidates.
func Generate(planGUID string, s *Schedule, sc Context) ([]domain.ScheduledActivity, error) {
	if s == nil {
		return nil, invariant("plan %s: nil schedule", planGUID)
	}
	if err := s.Validate(); err != nil {
		return nil, invariant("plan %s: %v", planGUID, err)
	}
	anchor, ok := sc.anchor(s.EventIDs())
	if !ok {
		return nil, nil
	}
	zone := sc.zone()
	g := generation{
		schedule: s,
		start:    s.Delay.AddTo(truncate(civil.DateTimeOf(anchor.In(sc.initialZone())))),
		now:      civil.DateTimeOf(sc.Now.In(zone)),
	}
	if s.StartsOn != nil {
		t := civil.DateTimeOf(s.StartsOn.In(zone))
		g.startsOn = &t
	}
	if s.EndsOn != nil {
		t := civil.DateTimeOf(s.EndsOn.In(zone))
		g.endsOn = &t
	}
	g.lookBehind = g.lookBehindBound()

	endsOn := sc.EndsOn
	if endsOn.IsZero() {
		endsOn = sc.Now
	}
	nominal := civil.DateTimeOf(endsOn.In(zone))
	end := nominal
	times := g.enumerate(end)
	for i := 0; len(times) < sc.MinimumPerSchedule && i < MaxExpansions; i++ {
		end = g.expansionStep().Scale(sc.MinimumPerSchedule - len(times)).AddTo(end)
		times = g.enumerate(end)
	}
	times = trimToMinimum(times, nominal, sc.MinimumPerSchedule)

	out := make([]domain.ScheduledActivity, 0, len(times)*len(s.Activities))
	for _, t := range times {
		expires := g.expiresOn(t)
		for _, a := range s.Activities {
			out = append(out, domain.ScheduledActivity{
				GUID:             ActivityGUID(planGUID, a.GUID, t),
				HealthCode:       sc.HealthCode,
				SchedulePlanGUID: planGUID,
				Activity:         a,
				LocalScheduledOn: t,
				LocalExpiresOn:   expires,
				TimeZone:         zone,
			})
		}
	}
	SortActivities(out)
	return out, nil
}

// SortActivities orders by scheduled time, then guid.
func SortActivities(list []domain.ScheduledActivity) {
	sort.SliceStable(list, func(i, j int) bool {
		a, b := list[i].ScheduledOn(), list[j].ScheduledOn()
		if !a.Equal(b) {
			return a.Before(b)
		}
		return list[i].GUID < list[j].GUID
	})
}

type generation struct {
	schedule   *Schedule
	start      civil.DateTime
	now        civil.DateTime
	lookBehind *civil.DateTime
	startsOn   *civil.DateTime
	endsOn     *civil.DateTime
}

func (g generation) expiresOn(t civil.DateTime) *civil.DateTime {
	if g.schedule.Expires.IsZero() {
		return nil
	}
	exp := g.schedule.Expires.AddTo(t)
	return &exp
}

// lookBehindBound is the earliest occurrence worth considering: the longer of
// expires and interval before now. One-time schedules have no bound.
func (g generation) lookBehindBound() *civil.DateTime {
	s := g.schedule
	if s.Type == ScheduleOnce {
		return nil
	}
	var bound *civil.DateTime
	for _, p := range []Period{s.Expires, s.Interval} {
		if p.IsZero() {
			continue
		}
		t := p.SubtractFrom(g.now)
		if bound == nil || t.Before(*bound) {
			bound = &t
		}
	}
	if bound == nil {
		t := oneDay.SubtractFrom(g.now)
		bound = &t
	}
	return bound
}

func (g generation) expansionStep() Period {
	if p := g.schedule.Interval; !p.IsZero() && p.longest() >= 24*time.Hour {
		return p
	}
	return oneDay
}

// enumerate returns the sorted, unexpired occurrence times through end.
func (g generation) enumerate(end civil.DateTime) []civil.DateTime {
	c := collector{g: g, end: end, seen: map[civil.DateTime]bool{}}
	s := g.schedule
	switch {
	case s.Type == ScheduleOnce:
		t := g.start
		if len(s.Times) > 0 {
			t = civil.DateTime{Date: g.start.Date, Time: s.Times[0].Civil()}
		}
		c.consider(t)
	case s.CronTrigger != "":
		g.enumerateCron(&c)
	default:
		g.enumerateInterval(&c)
	}
	sort.Slice(c.out, func(i, j int) bool { return c.out[i].Before(c.out[j]) })
	return c.out
}

func (g generation) enumerateInterval(c *collector) {
	s := g.schedule
	k := 0
	if g.lookBehind != nil {
		gap := g.lookBehind.In(time.UTC).Sub(g.start.In(time.UTC))
		if step := s.Interval.longest(); gap > 0 && step > 0 {
			k = int(gap/step) - 1
		}
	}
	if k < 0 {
		k = 0
	}
	for n := 0; n < maxSteps && !c.full(); n, k = n+1, k+1 {
		base := s.Interval.Scale(k).AddTo(g.start)
		if len(s.Times) == 0 {
			if base.After(c.end) {
				return
			}
			c.consider(base)
			continue
		}
		if base.Date.After(c.end.Date) {
			return
		}
		for _, tod := range s.Times {
			c.consider(civil.DateTime{Date: base.Date, Time: tod.Civil()})
		}
	}
}

func (g generation) enumerateCron(c *collector) {
	sched, err := g.schedule.cronSchedule()
	if err != nil {
		return
	}
	from := g.start
	if g.lookBehind != nil && g.lookBehind.After(from) {
		from = *g.lookBehind
	}
	// cron evaluates in UTC, which here stands in for floating local time.
	t := from.In(time.UTC).Add(-time.Second)
	for n := 0; n < maxSteps && !c.full(); n++ {
		t = sched.Next(t)
		if t.IsZero() {
			return
		}
		dt := civil.DateTimeOf(t)
		if dt.After(c.end) {
			return
		}
		c.consider(dt)
	}
}

type collector struct {
	g    generation
	end  civil.DateTime
	seen map[civil.DateTime]bool
	out  []civil.DateTime
}

func (c *collector) full() bool { return len(c.out) >= MaxOccurrences }

func (c *collector) consider(t civil.DateTime) {
	g := c.g
	switch {
	case c.seen[t], t.After(c.end):
		return
	case g.startsOn != nil && t.Before(*g.startsOn):
		return
	case g.endsOn != nil && t.After(*g.endsOn):
		return
	case g.lookBehind != nil && t.Before(*g.lookBehind):
		return
	}
	if exp := g.expiresOn(t); exp != nil && exp.Before(g.now) {
		return
	}
	c.seen[t] = true
	c.out = append(c.out, t)
}

// trimToMinimum keeps every occurrence inside the nominal window and only as
// many beyond it as the minimum needs.
func trimToMinimum(times []civil.DateTime, nominal civil.DateTime, minimum int) []civil.DateTime {
	n := 0
	for n < len(times) && !times[n].After(nominal) {
		n++
	}
	if n < minimum {
		n = minimum
		if n > len(times) {
			n = len(times)
		}
	}
	return times[:n]
}

func truncate(t civil.DateTime) civil.DateTime {
	t.Time.Nanosecond = 0
	return t
}
