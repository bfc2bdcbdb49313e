package scheduler

import (
	"fmt"
	"time"
)

// Plan binds a strategy to a study. The plan-level app version rule filters
// whole plans before any strategy is consulted.
type Plan struct {
	GUID           string `json:"guid" yaml:"guid"`
	StudyID        string `json:"study_id" yaml:"study_id"`
	Label          string `json:"label,omitempty" yaml:"label,omitempty"`
	AppVersionRule `yaml:",inline"`
	Strategy       StrategySpec `json:"strategy" yaml:"strategy"`
	ModifiedOn     time.Time    `json:"modified_on" yaml:"modified_on,omitempty"`
}

func (p Plan) Validate() error {
	if p.GUID == "" {
		return fmt.Errorf("plan guid is required")
	}
	st, err := p.Strategy.Strategy()
	if err != nil {
		return fmt.Errorf("plan %s: %w", p.GUID, err)
	}
	for i, s := range st.Schedules() {
		if s == nil {
			return fmt.Errorf("plan %s: schedule %d is missing", p.GUID, i)
		}
		if err := s.Validate(); err != nil {
			return fmt.Errorf("plan %s: schedule %q: %w", p.GUID, s.Label, err)
		}
	}
	return nil
}

// Resolve applies the plan's strategy for the request.
func (p Plan) Resolve(sc Context) (*Schedule, error) {
	st, err := p.Strategy.Strategy()
	if err != nil {
		return nil, invariant("plan %s: %v", p.GUID, err)
	}
	return st.Resolve(p.GUID, sc)
}
