package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"studyline/internal/config"
	"studyline/internal/domain"
	"studyline/internal/logger"
)

const (
	defaultWebhookInterval = 2 * time.Second
	defaultWebhookTimeout  = 5 * time.Second
	defaultWebhookBatch    = 100
)

// HistorySource is the event history feed webhooks are delivered from.
type HistorySource interface {
	EventsAfter(ctx context.Context, limit int, cursor int64) ([]domain.EventRecord, error)
	LatestEventID(ctx context.Context) (int64, error)
}

type webhookDispatcher struct {
	source   HistorySource
	study    string
	webhooks []config.WebhookConfig
	client   *http.Client
	log      *logger.Logger
	mu       sync.Mutex
	cursors  map[int]int64
}

// StartWebhookDispatcher polls the event history and posts new records to
// the configured webhooks until ctx is done. Delivery starts after the
// newest record present at startup.
func StartWebhookDispatcher(ctx context.Context, cfg *config.Config, source HistorySource, log *logger.Logger) {
	d := newWebhookDispatcher(cfg, source, log)
	if d == nil {
		return
	}
	go d.run(ctx)
}

func newWebhookDispatcher(cfg *config.Config, source HistorySource, log *logger.Logger) *webhookDispatcher {
	if cfg == nil || len(cfg.Webhooks) == 0 || source == nil {
		return nil
	}
	if log == nil {
		log = logger.Nop()
	}
	return &webhookDispatcher{
		source:   source,
		study:    cfg.Study.ID,
		webhooks: cfg.Webhooks,
		client:   &http.Client{Timeout: defaultWebhookTimeout},
		log:      log.With("component", "webhooks"),
		cursors:  make(map[int]int64),
	}
}

func (d *webhookDispatcher) run(ctx context.Context) {
	ticker := time.NewTicker(defaultWebhookInterval)
	defer ticker.Stop()
	for {
		d.dispatchAll(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (d *webhookDispatcher) dispatchAll(ctx context.Context) {
	for i, hook := range d.webhooks {
		if hook.Enabled != nil && !*hook.Enabled {
			continue
		}
		if strings.TrimSpace(hook.URL) == "" {
			continue
		}
		d.dispatchWebhook(ctx, i, hook)
	}
}

func (d *webhookDispatcher) dispatchWebhook(ctx context.Context, idx int, hook config.WebhookConfig) {
	cursor := d.cursorFor(ctx, idx)
	records, err := d.source.EventsAfter(ctx, defaultWebhookBatch, cursor)
	if err != nil {
		d.log.Warn("fetch events failed", "error", err)
		return
	}
	filter := newEventFilter(hook.Events)
	for _, rec := range records {
		if !filter.match(rec) {
			d.setCursor(idx, rec.ID)
			continue
		}
		if err := d.postEvent(ctx, hook, rec); err != nil {
			d.log.Warn("webhook delivery failed", "url", hook.URL, "event_id", rec.ID, "error", err)
			return
		}
		d.setCursor(idx, rec.ID)
	}
}

func (d *webhookDispatcher) cursorFor(ctx context.Context, idx int) int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cur, ok := d.cursors[idx]; ok {
		return cur
	}
	cur, err := d.source.LatestEventID(ctx)
	if err != nil {
		d.log.Warn("init cursor failed", "error", err)
		cur = 0
	}
	d.cursors[idx] = cur
	return cur
}

func (d *webhookDispatcher) setCursor(idx int, value int64) {
	d.mu.Lock()
	d.cursors[idx] = value
	d.mu.Unlock()
}

type webhookEvent struct {
	ID         int64           `json:"id"`
	StudyID    string          `json:"study_id"`
	Kind       string          `json:"kind"`
	Action     string          `json:"action"`
	Key        string          `json:"key"`
	HealthCode string          `json:"health_code"`
	Timestamp  int64           `json:"timestamp"`
	TS         string          `json:"ts"`
	Payload    json.RawMessage `json:"payload"`
}

func eventKind(rec domain.EventRecord) string {
	key, err := domain.ParseEventKey(rec.Key)
	if err != nil {
		return ""
	}
	return string(key.Kind)
}

func (d *webhookDispatcher) postEvent(ctx context.Context, hook config.WebhookConfig, rec domain.EventRecord) error {
	payload := json.RawMessage("{}")
	if rec.Payload != "" && json.Valid([]byte(rec.Payload)) {
		payload = json.RawMessage(rec.Payload)
	}
	kind := eventKind(rec)
	data, err := json.Marshal(webhookEvent{
		ID:         rec.ID,
		StudyID:    d.study,
		Kind:       kind,
		Action:     rec.Action,
		Key:        rec.Key,
		HealthCode: rec.HealthCode,
		Timestamp:  rec.Timestamp,
		TS:         rec.TS,
		Payload:    payload,
	})
	if err != nil {
		return err
	}
	client := d.client
	if hook.TimeoutSeconds > 0 {
		if timeout := time.Duration(hook.TimeoutSeconds) * time.Second; timeout != d.client.Timeout {
			client = &http.Client{Timeout: timeout}
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Studyline-Event", kind)
	req.Header.Set("X-Studyline-Delivery", fmt.Sprintf("%d", rec.ID))
	req.Header.Set("X-Studyline-Study", d.study)
	if strings.TrimSpace(hook.Secret) != "" {
		req.Header.Set("X-Studyline-Secret", hook.Secret)
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

// eventFilter matches an event kind ("custom") or a kind and action
// ("custom.deleted").
type eventFilter struct {
	all bool
	set map[string]struct{}
}

func newEventFilter(events []string) eventFilter {
	set := make(map[string]struct{}, len(events))
	for _, evt := range events {
		if key := strings.TrimSpace(evt); key != "" {
			set[key] = struct{}{}
		}
	}
	if len(set) == 0 {
		return eventFilter{all: true}
	}
	return eventFilter{set: set}
}

func (f eventFilter) match(rec domain.EventRecord) bool {
	if f.all {
		return true
	}
	kind := eventKind(rec)
	if _, ok := f.set[kind]; ok {
		return true
	}
	_, ok := f.set[kind+"."+rec.Action]
	return ok
}
