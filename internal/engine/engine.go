package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"studyline/internal/config"
	"studyline/internal/domain"
	"studyline/internal/events"
	"studyline/internal/logger"
	"studyline/internal/repo"
	"studyline/internal/scheduler"
)

type EventStore interface {
	PublishEvent(ctx context.Context, ev domain.ActivityEvent) (bool, error)
	GetEvents(ctx context.Context, healthCode string) (map[string]int64, error)
	DeleteEvent(ctx context.Context, healthCode, key string) error
}

type ActivityStore interface {
	GetActivitiesByGUIDs(ctx context.Context, healthCode string, guids []string) ([]domain.ScheduledActivity, error)
	SaveNewActivities(ctx context.Context, list []domain.ScheduledActivity) error
	UpdateActivities(ctx context.Context, list []domain.ScheduledActivity) error
}

type PlanStore interface {
	GetApplicablePlans(ctx context.Context, studyID string, info domain.ClientInfo) ([]scheduler.Plan, error)
}

type ParticipantStore interface {
	GetParticipant(ctx context.Context, healthCode string) (domain.Participant, error)
	GetOrCreateParticipant(ctx context.Context, p domain.Participant) (domain.Participant, error)
	SetTimeZone(ctx context.Context, healthCode, zone string) error
}

// Engine runs scheduling requests against the stores. The scheduler package
// does the computing; Engine only gathers inputs and writes results.
type Engine struct {
	Events       EventStore
	Activities   ActivityStore
	Plans        PlanStore
	Participants ParticipantStore
	Config       *config.Config
	Log          *logger.Logger
	Now          func() time.Time
}

// New wires every store to r. Callers may swap Events for a cache.
func New(r repo.Repo, cfg *config.Config, log *logger.Logger) Engine {
	if log == nil {
		log = logger.Nop()
	}
	return Engine{
		Events:       r,
		Activities:   r,
		Plans:        r,
		Participants: r,
		Config:       cfg,
		Log:          log,
		Now:          time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) log() *logger.Logger {
	if e.Log != nil {
		return e.Log
	}
	return logger.Nop()
}

func (e Engine) catalog() (events.Catalog, error) {
	if e.Config == nil {
		return events.Catalog{}, errors.New("config not loaded")
	}
	return events.NewCatalog(e.Config.Study.CustomEvents, e.Config.Study.AutomaticCustomEvents)
}

func (e Engine) studyID(requested string) string {
	if requested != "" {
		return requested
	}
	if e.Config != nil {
		return e.Config.Study.ID
	}
	return ""
}

// Request describes one participant asking for their activities.
type Request struct {
	HealthCode string
	StudyID    string
	UserID     string
	// DataGroups replace the stored groups when non-nil.
	DataGroups []string
	ClientInfo domain.ClientInfo
	// TimeZone is the zone the caller is in right now. The first zone ever
	// seen for a participant becomes their initial zone.
	TimeZone string
	Window   scheduler.WindowRequest
}

// ComputeVisibleActivities generates, reconciles and persists the
// participant's activities for the requested window.
func (e Engine) ComputeVisibleActivities(ctx context.Context, req Request) ([]domain.ScheduledActivity, error) {
	if req.HealthCode == "" {
		return nil, scheduler.BadRequestError{Field: "health_code", Message: "health code is required"}
	}
	catalog, err := e.catalog()
	if err != nil {
		return nil, err
	}
	var requested *time.Location
	if req.TimeZone != "" {
		requested, err = scheduler.ParseZone(req.TimeZone)
		if err != nil {
			return nil, scheduler.BadRequestError{Field: "time_zone", Message: err.Error()}
		}
	}
	studyID := e.studyID(req.StudyID)
	participant, err := e.Participants.GetOrCreateParticipant(ctx, domain.Participant{
		HealthCode: req.HealthCode,
		StudyID:    studyID,
		TimeZone:   req.TimeZone,
		DataGroups: req.DataGroups,
	})
	if err != nil {
		return nil, fmt.Errorf("participant: %w", err)
	}
	var initial *time.Location
	if participant.TimeZone != "" {
		initial, err = scheduler.ParseZone(participant.TimeZone)
		if err != nil {
			return nil, scheduler.InvariantError{Message: fmt.Sprintf("stored time zone: %v", err)}
		}
	}
	window, err := scheduler.ValidateWindow(req.Window, e.now(), initial, requested, e.Config.Limits())
	if err != nil {
		return nil, err
	}

	var stored map[string]int64
	var plans []scheduler.Plan
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		stored, err = e.Events.GetEvents(gctx, req.HealthCode)
		if err != nil {
			return fmt.Errorf("events: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		plans, err = e.Plans.GetApplicablePlans(gctx, studyID, req.ClientInfo)
		if err != nil {
			return fmt.Errorf("plans: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sc := scheduler.Context{
		Now:                window.Now,
		EndsOn:             window.EndsOn,
		MinimumPerSchedule: window.MinimumPerSchedule,
		InitialTimeZone:    initial,
		TimeZone:           window.Zone,
		AccountCreatedOn:   domain.FromMillis(participant.CreatedOn),
		UserDataGroups:     participant.DataGroups,
		ClientInfo:         req.ClientInfo,
		UserID:             req.UserID,
		HealthCode:         req.HealthCode,
		StudyID:            studyID,
		Events:             catalog.Derive(stored, participant),
	}
	candidates, err := e.generate(plans, sc)
	if err != nil {
		return nil, err
	}

	guids := make([]string, len(candidates))
	for i, c := range candidates {
		guids[i] = c.GUID
	}
	persisted, err := e.Activities.GetActivitiesByGUIDs(ctx, req.HealthCode, guids)
	if err != nil {
		return nil, fmt.Errorf("load activities: %w", err)
	}
	res, err := scheduler.Reconcile(candidates, persisted, window.Now)
	if err != nil {
		return nil, err
	}
	if err := e.Activities.SaveNewActivities(ctx, res.ToPersist); err != nil {
		return nil, fmt.Errorf("save activities: %w", err)
	}
	e.log().Debug("computed activities", "health_code", req.HealthCode, "plans", len(plans),
		"candidates", len(candidates), "new", len(res.ToPersist), "visible", len(res.Visible))
	return res.Visible, nil
}

// generate resolves and expands each plan concurrently, keeping plan order.
func (e Engine) generate(plans []scheduler.Plan, sc scheduler.Context) ([]domain.ScheduledActivity, error) {
	perPlan := make([][]domain.ScheduledActivity, len(plans))
	var g errgroup.Group
	for i, plan := range plans {
		g.Go(func() error {
			schedule, err := plan.Resolve(sc)
			if err != nil {
				return err
			}
			if schedule == nil {
				return nil
			}
			if !sc.HasAnchor(schedule) {
				e.log().Debug("schedule anchor missing", "health_code", sc.HealthCode, "plan", plan.GUID, "event_id", schedule.EventIDs())
				return nil
			}
			list, err := scheduler.Generate(plan.GUID, schedule, sc)
			if err != nil {
				return err
			}
			perPlan[i] = list
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	var out []domain.ScheduledActivity
	for _, list := range perPlan {
		out = append(out, list...)
	}
	return out, nil
}

// ApplyClientUpdates records started/finished times and publishes the
// finished events they produce.
func (e Engine) ApplyClientUpdates(ctx context.Context, healthCode string, submitted []*scheduler.ActivityUpdate) (scheduler.UpdateResult, error) {
	if err := scheduler.ValidateUpdates(submitted); err != nil {
		return scheduler.UpdateResult{}, err
	}
	if len(submitted) == 0 {
		return scheduler.UpdateResult{}, nil
	}
	catalog, err := e.catalog()
	if err != nil {
		return scheduler.UpdateResult{}, err
	}
	guids := make([]string, 0, len(submitted))
	for _, u := range submitted {
		guids = append(guids, u.GUID)
	}
	persisted, err := e.Activities.GetActivitiesByGUIDs(ctx, healthCode, guids)
	if err != nil {
		return scheduler.UpdateResult{}, fmt.Errorf("load activities: %w", err)
	}
	res, err := scheduler.ApplyUpdates(submitted, persisted)
	if err != nil {
		return scheduler.UpdateResult{}, err
	}
	// A finished row is never revisited, so its event is stored first.
	for _, ev := range res.Events {
		if _, err := catalog.ValidatePublish(ev.Key, events.FromEngine); err != nil {
			return scheduler.UpdateResult{}, scheduler.InvariantError{Message: err.Error()}
		}
		if _, err := e.Events.PublishEvent(ctx, ev); err != nil {
			return scheduler.UpdateResult{}, fmt.Errorf("publish %s: %w", ev.Key, err)
		}
	}
	if err := e.Activities.UpdateActivities(ctx, res.Updated); err != nil {
		return scheduler.UpdateResult{}, fmt.Errorf("update activities: %w", err)
	}
	e.log().Debug("applied activity updates", "health_code", healthCode, "updated", len(res.Updated), "events", len(res.Events))
	return res, nil
}

// PublishEvent records a client event. It reports whether the stored value changed.
func (e Engine) PublishEvent(ctx context.Context, healthCode, key string, ts int64) (bool, error) {
	if healthCode == "" {
		return false, scheduler.BadRequestError{Field: "health_code", Message: "health code is required"}
	}
	catalog, err := e.catalog()
	if err != nil {
		return false, err
	}
	parsed, err := catalog.ValidatePublish(key, events.FromClient)
	if err != nil {
		return false, err
	}
	if ts <= 0 {
		return false, scheduler.BadRequestError{Field: "timestamp", Message: "timestamp must be positive epoch milliseconds"}
	}
	return e.Events.PublishEvent(ctx, domain.ActivityEvent{HealthCode: healthCode, Key: parsed.String(), Timestamp: ts})
}

// DeleteEvent removes a client event.
func (e Engine) DeleteEvent(ctx context.Context, healthCode, key string) error {
	catalog, err := e.catalog()
	if err != nil {
		return err
	}
	parsed, err := catalog.ValidatePublish(key, events.FromClient)
	if err != nil {
		return err
	}
	return e.Events.DeleteEvent(ctx, healthCode, parsed.String())
}

// EventMap returns the participant's event map as used for scheduling. It
// never records an unknown participant.
func (e Engine) EventMap(ctx context.Context, healthCode, studyID string) (map[string]int64, error) {
	catalog, err := e.catalog()
	if err != nil {
		return nil, err
	}
	participant, err := e.Participants.GetParticipant(ctx, healthCode)
	if errors.Is(err, repo.ErrNotFound) {
		participant = domain.Participant{HealthCode: healthCode, StudyID: e.studyID(studyID)}
	} else if err != nil {
		return nil, fmt.Errorf("participant: %w", err)
	}
	stored, err := e.Events.GetEvents(ctx, healthCode)
	if err != nil {
		return nil, err
	}
	derived := catalog.Derive(stored, participant)
	out := make(map[string]int64, len(derived))
	for k, t := range derived {
		out[k] = domain.Millis(t)
	}
	return out, nil
}

// SetTimeZone replaces the participant's initial time zone.
func (e Engine) SetTimeZone(ctx context.Context, healthCode, zone string) error {
	loc, err := scheduler.ParseZone(zone)
	if err != nil {
		return scheduler.BadRequestError{Field: "time_zone", Message: err.Error()}
	}
	return e.Participants.SetTimeZone(ctx, healthCode, scheduler.ZoneName(loc))
}
