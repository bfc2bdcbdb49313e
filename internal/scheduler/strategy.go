package scheduler

import (
	"fmt"

	"github.com/cespare/xxhash/v2"

	"studyline/internal/domain"
)

type StrategyKind string

const (
	StrategySimple   StrategyKind = "simple"
	StrategyABTest   StrategyKind = "ab_test"
	StrategyCriteria StrategyKind = "criteria"
)

// Strategy picks the schedule a participant follows within a plan. The set of
// implementations is closed to this package.
type Strategy interface {
	Kind() StrategyKind
	// Resolve returns nil without error when the plan contributes nothing.
	Resolve(planGUID string, sc Context) (*Schedule, error)
	Schedules() []*Schedule
	sealed()
}

type SimpleStrategy struct {
	Schedule *Schedule
}

func (SimpleStrategy) Kind() StrategyKind { return StrategySimple }
func (SimpleStrategy) sealed()            {}

func (s SimpleStrategy) Resolve(planGUID string, _ Context) (*Schedule, error) {
	if s.Schedule == nil {
		return nil, invariant("plan %s: simple strategy has no schedule", planGUID)
	}
	return s.Schedule, nil
}

func (s SimpleStrategy) Schedules() []*Schedule { return []*Schedule{s.Schedule} }

type ABTestGroup struct {
	Percentage int       `json:"percentage" yaml:"percentage"`
	Schedule   *Schedule `json:"schedule" yaml:"schedule"`
}

// ABTestStrategy splits participants between weighted groups. Assignment is
// derived from xxhash64(planGUID + ":" + healthCode); changing the hash or the
// group order reshuffles existing participants.
type ABTestStrategy struct {
	Groups []ABTestGroup
}

func (ABTestStrategy) Kind() StrategyKind { return StrategyABTest }
func (ABTestStrategy) sealed()            {}

func (s ABTestStrategy) Resolve(planGUID string, sc Context) (*Schedule, error) {
	if len(s.Groups) == 0 {
		return nil, invariant("plan %s: ab test strategy has no groups", planGUID)
	}
	total := 0
	for _, g := range s.Groups {
		if g.Percentage < 0 {
			return nil, invariant("plan %s: negative group weight %d", planGUID, g.Percentage)
		}
		total += g.Percentage
	}
	if total <= 0 {
		return nil, invariant("plan %s: ab test weights sum to %d", planGUID, total)
	}
	bucket := int(Bucket(planGUID, sc.HealthCode) % uint64(total))
	upper := 0
	for _, g := range s.Groups {
		upper += g.Percentage
		if bucket < upper {
			if g.Schedule == nil {
				return nil, invariant("plan %s: ab test group has no schedule", planGUID)
			}
			return g.Schedule, nil
		}
	}
	return nil, invariant("plan %s: bucket %d outside group ranges", planGUID, bucket)
}

func (s ABTestStrategy) Schedules() []*Schedule {
	out := make([]*Schedule, 0, len(s.Groups))
	for _, g := range s.Groups {
		out = append(out, g.Schedule)
	}
	return out
}

// Bucket is the stable assignment hash for a participant within a plan.
func Bucket(planGUID, healthCode string) uint64 {
	return xxhash.Sum64String(planGUID + ":" + healthCode)
}

// AppVersionRule bounds the app version per OS name. Minimums are inclusive,
// maximums exclusive. An OS with no entry is unbounded.
type AppVersionRule struct {
	MinAppVersions map[string]int `json:"min_app_versions,omitempty" yaml:"min_app_versions,omitempty"`
	MaxAppVersions map[string]int `json:"max_app_versions,omitempty" yaml:"max_app_versions,omitempty"`
}

// Allows reports whether the client falls inside the rule. Clients that do not
// report an OS or version pass.
func (r AppVersionRule) Allows(info domain.ClientInfo) bool {
	if info.OSName == "" || info.AppVersion == 0 {
		return true
	}
	if lo, ok := r.MinAppVersions[info.OSName]; ok && info.AppVersion < lo {
		return false
	}
	if hi, ok := r.MaxAppVersions[info.OSName]; ok && info.AppVersion >= hi {
		return false
	}
	return true
}

type CriteriaRule struct {
	AppVersionRule `yaml:",inline"`
	AllOfGroups    []string `json:"all_of_groups,omitempty" yaml:"all_of_groups,omitempty"`
	NoneOfGroups   []string `json:"none_of_groups,omitempty" yaml:"none_of_groups,omitempty"`
}

func (r CriteriaRule) Matches(sc Context) bool {
	if !r.Allows(sc.ClientInfo) {
		return false
	}
	for _, g := range r.AllOfGroups {
		if !sc.hasGroup(g) {
			return false
		}
	}
	for _, g := range r.NoneOfGroups {
		if sc.hasGroup(g) {
			return false
		}
	}
	return true
}

type ScheduleCriteria struct {
	Criteria CriteriaRule `json:"criteria" yaml:"criteria"`
	Schedule *Schedule    `json:"schedule" yaml:"schedule"`
}

// CriteriaStrategy evaluates rules in order; the first match wins, then the
// default. With neither, the plan contributes nothing.
type CriteriaStrategy struct {
	Rules   []ScheduleCriteria
	Default *Schedule
}

func (CriteriaStrategy) Kind() StrategyKind { return StrategyCriteria }
func (CriteriaStrategy) sealed()            {}

func (s CriteriaStrategy) Resolve(planGUID string, sc Context) (*Schedule, error) {
	for i, rule := range s.Rules {
		if !rule.Criteria.Matches(sc) {
			continue
		}
		if rule.Schedule == nil {
			return nil, invariant("plan %s: criteria rule %d has no schedule", planGUID, i)
		}
		return rule.Schedule, nil
	}
	return s.Default, nil
}

func (s CriteriaStrategy) Schedules() []*Schedule {
	out := make([]*Schedule, 0, len(s.Rules)+1)
	for _, r := range s.Rules {
		out = append(out, r.Schedule)
	}
	if s.Default != nil {
		out = append(out, s.Default)
	}
	return out
}

// StrategySpec is the stored and wire form of a Strategy.
type StrategySpec struct {
	Type     StrategyKind       `json:"type" yaml:"type" enum:"simple,ab_test,criteria"`
	Schedule *Schedule          `json:"schedule,omitempty" yaml:"schedule,omitempty"`
	Groups   []ABTestGroup      `json:"groups,omitempty" yaml:"groups,omitempty"`
	Rules    []ScheduleCriteria `json:"rules,omitempty" yaml:"rules,omitempty"`
	Default  *Schedule          `json:"default,omitempty" yaml:"default,omitempty"`
}

func (s StrategySpec) Strategy() (Strategy, error) {
	switch s.Type {
	case StrategySimple:
		if s.Schedule == nil {
			return nil, fmt.Errorf("simple strategy requires schedule")
		}
		return SimpleStrategy{Schedule: s.Schedule}, nil
	case StrategyABTest:
		if len(s.Groups) == 0 {
			return nil, fmt.Errorf("ab_test strategy requires groups")
		}
		return ABTestStrategy{Groups: s.Groups}, nil
	case StrategyCriteria:
		if len(s.Rules) == 0 && s.Default == nil {
			return nil, fmt.Errorf("criteria strategy requires rules or default")
		}
		return CriteriaStrategy{Rules: s.Rules, Default: s.Default}, nil
	}
	return nil, fmt.Errorf("unknown strategy type %q", s.Type)
}

func SpecOf(st Strategy) StrategySpec {
	switch v := st.(type) {
	case SimpleStrategy:
		return StrategySpec{Type: StrategySimple, Schedule: v.Schedule}
	case ABTestStrategy:
		return StrategySpec{Type: StrategyABTest, Groups: v.Groups}
	case CriteriaStrategy:
		return StrategySpec{Type: StrategyCriteria, Rules: v.Rules, Default: v.Default}
	}
	panic(fmt.Sprintf("unhandled strategy %T", st))
}
