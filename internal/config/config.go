package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"studyline/internal/domain"
	"studyline/internal/scheduler"
)

// Config models studyline.yml.
type Config struct {
	Study struct {
		ID                    string            `yaml:"id"`
		Name                  string            `yaml:"name,omitempty"`
		CustomEvents          []string          `yaml:"custom_events,omitempty"`
		AutomaticCustomEvents map[string]string `yaml:"automatic_custom_events,omitempty"`
		DataGroups            []string          `yaml:"data_groups,omitempty"`
	} `yaml:"study"`
	Scheduling Scheduling       `yaml:"scheduling"`
	Cache      Cache            `yaml:"cache,omitempty"`
	Webhooks   []WebhookConfig  `yaml:"webhooks,omitempty"`
	Plans      []scheduler.Plan `yaml:"plans,omitempty"`
}

type Scheduling struct {
	DefaultDaysAhead      int `yaml:"default_days_ahead"`
	MaxDaysAhead          int `yaml:"max_days_ahead"`
	MaxMinimumPerSchedule int `yaml:"max_minimum_per_schedule"`
}

type Cache struct {
	RedisURL string `yaml:"redis_url,omitempty"`
	TTL      string `yaml:"ttl,omitempty"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Events         []string `yaml:"events,omitempty"`
	Enabled        *bool    `yaml:"enabled,omitempty"`
	Secret         string   `yaml:"secret,omitempty"`
	TimeoutSeconds int      `yaml:"timeout_seconds,omitempty"`
}

const defaultCacheTTL = 5 * time.Minute

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; run sl init or import with sl config import --file <path>", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Study.ID) == "" {
		return fmt.Errorf("config.study.id is required")
	}
	custom := map[string]bool{}
	for _, name := range c.Study.CustomEvents {
		if err := validEventName(name); err != nil {
			return fmt.Errorf("config.study.custom_events: %w", err)
		}
		if custom[name] {
			return fmt.Errorf("config.study.custom_events: duplicate %s", name)
		}
		custom[name] = true
	}
	for name, raw := range c.Study.AutomaticCustomEvents {
		if err := validEventName(name); err != nil {
			return fmt.Errorf("config.study.automatic_custom_events: %w", err)
		}
		if custom[name] {
			return fmt.Errorf("automatic custom event %s is also declared in custom_events", name)
		}
		p, err := scheduler.ParsePeriod(raw)
		if err != nil {
			return fmt.Errorf("automatic custom event %s: %w", name, err)
		}
		if p.IsZero() {
			return fmt.Errorf("automatic custom event %s needs a period", name)
		}
		custom[name] = true
	}
	for _, g := range c.Study.DataGroups {
		if strings.TrimSpace(g) == "" {
			return fmt.Errorf("config.study.data_groups contains an empty group")
		}
	}
	s := c.Scheduling
	if s.MaxDaysAhead <= 0 {
		return fmt.Errorf("config.scheduling.max_days_ahead must be positive")
	}
	if s.DefaultDaysAhead < 0 || s.DefaultDaysAhead > s.MaxDaysAhead {
		return fmt.Errorf("config.scheduling.default_days_ahead must be between 0 and max_days_ahead")
	}
	if s.MaxMinimumPerSchedule < 0 {
		return fmt.Errorf("config.scheduling.max_minimum_per_schedule must not be negative")
	}
	if c.Cache.TTL != "" {
		if _, err := time.ParseDuration(c.Cache.TTL); err != nil {
			return fmt.Errorf("config.cache.ttl: %w", err)
		}
	}
	for i, hook := range c.Webhooks {
		if !strings.HasPrefix(hook.URL, "http://") && !strings.HasPrefix(hook.URL, "https://") {
			return fmt.Errorf("config.webhooks[%d].url must be an http(s) url", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("config.webhooks[%d].timeout_seconds must not be negative", i)
		}
	}
	seen := map[string]bool{}
	for i := range c.Plans {
		p := &c.Plans[i]
		if p.StudyID == "" {
			p.StudyID = c.Study.ID
		}
		if p.StudyID != c.Study.ID {
			return fmt.Errorf("plan %s belongs to study %s, not %s", p.GUID, p.StudyID, c.Study.ID)
		}
		if err := p.Validate(); err != nil {
			return err
		}
		if seen[p.GUID] {
			return fmt.Errorf("duplicate plan guid %s", p.GUID)
		}
		seen[p.GUID] = true
		if err := c.checkAnchors(*p, custom); err != nil {
			return err
		}
	}
	return nil
}

// checkAnchors rejects plans anchored on custom events the study never declares.
func (c *Config) checkAnchors(p scheduler.Plan, custom map[string]bool) error {
	st, err := p.Strategy.Strategy()
	if err != nil {
		return err
	}
	for _, s := range st.Schedules() {
		for _, id := range s.EventIDs() {
			key, err := domain.ParseEventKey(id)
			if err != nil {
				return fmt.Errorf("plan %s: %w", p.GUID, err)
			}
			if key.Kind == domain.EventKindCustom && !custom[key.Name] {
				return fmt.Errorf("plan %s anchors on undeclared custom event %s", p.GUID, key.Name)
			}
		}
	}
	return nil
}

func validEventName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("empty event name")
	}
	if strings.ContainsAny(name, ": ,") {
		return fmt.Errorf("event name %q must not contain ':', ',' or spaces", name)
	}
	return nil
}

// Limits returns the look-ahead bounds for the window validator.
func (c *Config) Limits() scheduler.WindowLimits {
	return scheduler.WindowLimits{
		DefaultDaysAhead:      c.Scheduling.DefaultDaysAhead,
		MaxDaysAhead:          c.Scheduling.MaxDaysAhead,
		MaxMinimumPerSchedule: c.Scheduling.MaxMinimumPerSchedule,
	}
}

func (c *Config) CacheTTL() time.Duration {
	if d, err := time.ParseDuration(c.Cache.TTL); err == nil && d > 0 {
		return d
	}
	return defaultCacheTTL
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "studyline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(studyID string) string {
	return fmt.Sprintf(defaultTemplate, studyID)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct for a study.
func Default(studyID string) *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(GenerateDefault(studyID))).Decode(&cfg)
	cfg.Study.ID = studyID
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// YAML renders the config back to YAML.
func (c *Config) YAML() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

const defaultTemplate = `study:
  id: %s
  custom_events: []
  automatic_custom_events: {}
  data_groups: []

scheduling:
  default_days_ahead: 2
  max_days_ahead: 4
  max_minimum_per_schedule: 5

cache:
  ttl: 5m
`
