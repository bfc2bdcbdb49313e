package scheduler

import (
	"fmt"
	"time"

	"studyline/internal/domain"
)

// Result of merging candidates with persisted state.
type Result struct {
	// Visible is what the participant should see, in the state it will have
	// once ToPersist is written.
	Visible   []domain.ScheduledActivity
	ToPersist []domain.ScheduledActivity
}

// Reconcile merges freshly generated candidates with the persisted records
// that share their guids. Persisted started/finished state always wins.
func Reconcile(candidates, persisted []domain.ScheduledActivity, now time.Time) (Result, error) {
	stored := make(map[string]domain.ScheduledActivity, len(persisted))
	for _, p := range persisted {
		stored[p.GUID] = p
	}
	seen := make(map[string]bool, len(candidates))
	var res Result
	for _, c := range candidates {
		if seen[c.GUID] {
			return Result{}, invariant("duplicate scheduled activity guid %s", c.GUID)
		}
		seen[c.GUID] = true
		if p, ok := stored[c.GUID]; ok {
			c.StartedOn = p.StartedOn
			c.FinishedOn = p.FinishedOn
		} else {
			fresh := c
			fresh.Persisted = false
			res.ToPersist = append(res.ToPersist, fresh)
		}
		c.Persisted = true
		if c.FinishedOn != nil || c.ExpiredAt(now) {
			continue
		}
		res.Visible = append(res.Visible, c)
	}
	SortActivities(res.Visible)
	return res, nil
}

// ActivityUpdate is a client-submitted change to one scheduled activity.
type ActivityUpdate struct {
	GUID       string `json:"guid"`
	StartedOn  *int64 `json:"started_on,omitempty"`
	FinishedOn *int64 `json:"finished_on,omitempty"`
}

// UpdateResult holds records that changed and the events they produce.
type UpdateResult struct {
	Updated []domain.ScheduledActivity
	Events  []domain.ActivityEvent
}

// ValidateUpdates rejects the whole batch if any entry is nil or lacks a guid.
func ValidateUpdates(submitted []*ActivityUpdate) error {
	for i, u := range submitted {
		if u == nil {
			return badRequest(fmt.Sprintf("activities[%d]", i), "entry is null")
		}
		if u.GUID == "" {
			return badRequest(fmt.Sprintf("activities[%d].guid", i), "guid is required")
		}
	}
	return nil
}

// ApplyUpdates applies client updates to persisted records. Finished records
// are terminal: later writes to them are ignored. Newly finished records
// produce an activity finished event.
func ApplyUpdates(submitted []*ActivityUpdate, persisted []domain.ScheduledActivity) (UpdateResult, error) {
	if err := ValidateUpdates(submitted); err != nil {
		return UpdateResult{}, err
	}
	current := make(map[string]*domain.ScheduledActivity, len(persisted))
	for i := range persisted {
		p := persisted[i]
		current[p.GUID] = &p
	}
	var order []string
	changed := map[string]bool{}
	var res UpdateResult
	for _, u := range submitted {
		rec, ok := current[u.GUID]
		if !ok {
			return UpdateResult{}, fmt.Errorf("%w: %s", ErrUnknownActivity, u.GUID)
		}
		if rec.FinishedOn != nil {
			continue
		}
		dirty := false
		if u.StartedOn != nil && rec.StartedOn == nil {
			rec.StartedOn = copyInt64(u.StartedOn)
			dirty = true
		}
		if u.FinishedOn != nil {
			rec.FinishedOn = copyInt64(u.FinishedOn)
			if rec.StartedOn == nil {
				rec.StartedOn = copyInt64(u.FinishedOn)
			}
			dirty = true
			res.Events = append(res.Events, domain.ActivityEvent{
				HealthCode:   rec.HealthCode,
				Key:          domain.ActivityFinishedKey(rec.GUID),
				Timestamp:    *u.FinishedOn,
				ActivityGUID: rec.Activity.GUID,
			})
		}
		if dirty && !changed[rec.GUID] {
			changed[rec.GUID] = true
			order = append(order, rec.GUID)
		}
	}
	for _, guid := range order {
		rec := *current[guid]
		rec.Persisted = true
		res.Updated = append(res.Updated, rec)
	}
	return res, nil
}

func copyInt64(v *int64) *int64 {
	c := *v
	return &c
}
