package events

import (
	"fmt"
	"sort"
	"time"

	"cloud.google.com/go/civil"

	"studyline/internal/domain"
	"studyline/internal/scheduler"
)

// UpdateType decides how a publish interacts with an existing timestamp.
type UpdateType string

const (
	// Immutable keys keep the first timestamp ever recorded.
	Immutable UpdateType = "immutable"
	// Mutable keys take whatever is published last.
	Mutable UpdateType = "mutable"
	// FutureOnly keys only move forward in time.
	FutureOnly UpdateType = "future_only"
)

func UpdateTypeOf(kind domain.EventKind) UpdateType {
	switch kind {
	case domain.EventKindEnrollment, domain.EventKindCreatedOn:
		return Immutable
	case domain.EventKindCustom:
		return Mutable
	}
	return FutureOnly
}

// ShouldReplace reports whether incoming should overwrite the stored timestamp.
func ShouldReplace(kind domain.EventKind, stored *int64, incoming int64) bool {
	if stored == nil {
		return true
	}
	switch UpdateTypeOf(kind) {
	case Immutable:
		return false
	case Mutable:
		return *stored != incoming
	default:
		return incoming > *stored
	}
}

// Catalog is the set of events a study declares.
type Catalog struct {
	custom    map[string]bool
	automatic map[string]scheduler.Period
}

// NewCatalog builds a catalog from declared custom events and automatic
// events (name to period after enrollment).
func NewCatalog(custom []string, automatic map[string]string) (Catalog, error) {
	c := Catalog{custom: map[string]bool{}, automatic: map[string]scheduler.Period{}}
	for _, name := range custom {
		c.custom[name] = true
	}
	for name, raw := range automatic {
		p, err := scheduler.ParsePeriod(raw)
		if err != nil {
			return Catalog{}, fmt.Errorf("automatic event %s: %w", name, err)
		}
		c.automatic[name] = p
	}
	return c, nil
}

// Origin identifies who is publishing.
type Origin int

const (
	FromClient Origin = iota
	FromEngine
)

// ValidatePublish parses key and checks the origin may publish it.
func (c Catalog) ValidatePublish(raw string, origin Origin) (domain.EventKey, error) {
	key, err := domain.ParseEventKey(raw)
	if err != nil {
		return domain.EventKey{}, scheduler.BadRequestError{Field: "key", Message: err.Error()}
	}
	switch key.Kind {
	case domain.EventKindCustom:
		if _, auto := c.automatic[key.Name]; auto {
			return domain.EventKey{}, scheduler.BadRequestError{Field: "key", Message: fmt.Sprintf("custom event %s is derived from enrollment and cannot be published", key.Name)}
		}
		if !c.custom[key.Name] {
			return domain.EventKey{}, scheduler.BadRequestError{Field: "key", Message: fmt.Sprintf("custom event %s is not declared by the study", key.Name)}
		}
	case domain.EventKindCreatedOn:
		return domain.EventKey{}, scheduler.BadRequestError{Field: "key", Message: "created_on is derived from the participant record"}
	case domain.EventKindActivityFinished:
		if origin == FromClient {
			return domain.EventKey{}, scheduler.BadRequestError{Field: "key", Message: "activity events are recorded by updating the activity"}
		}
	}
	return key, nil
}

// Derive returns the event map used for scheduling: stored events plus
// created_on and automatic custom events.
func (c Catalog) Derive(stored map[string]int64, participant domain.Participant) map[string]time.Time {
	out := make(map[string]time.Time, len(stored)+len(c.automatic)+1)
	for k, ts := range stored {
		out[k] = domain.FromMillis(ts)
	}
	if _, ok := out[domain.EventCreatedOn]; !ok && participant.CreatedOn > 0 {
		out[domain.EventCreatedOn] = domain.FromMillis(participant.CreatedOn)
	}
	enrolled, ok := out[domain.EventEnrollment]
	if !ok {
		return out
	}
	for name, p := range c.automatic {
		key := domain.CustomEventKey(name)
		if _, exists := out[key]; exists {
			continue
		}
		out[key] = p.AddTo(civil.DateTimeOf(enrolled.UTC())).In(time.UTC)
	}
	return out
}

// CustomEvents lists declared and automatic custom event names.
func (c Catalog) CustomEvents() []string {
	var names []string
	for n := range c.custom {
		names = append(names, n)
	}
	for n := range c.automatic {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
