package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"studyline/internal/db"
	"studyline/internal/domain"
)

// History actions.
const (
	ActionPublished = "published"
	ActionDeleted   = "deleted"
)

// Writer appends to the event history log inside the caller's transaction.
type Writer struct {
	Dialect db.Dialect
	Now     func() time.Time
}

type EventPayload map[string]any

func (w Writer) Append(ctx context.Context, tx *sql.Tx, action string, ev domain.ActivityEvent, payload EventPayload) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = EventPayload{}
	}
	if ev.ActivityGUID != "" {
		payload["activity_guid"] = ev.ActivityGUID
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, w.Dialect.Rebind(`INSERT INTO event_history(ts,health_code,event_key,event_timestamp,action,payload_json) VALUES (?,?,?,?,?,?)`),
		ts, ev.HealthCode, ev.Key, ev.Timestamp, action, string(data))
	if err != nil {
		return fmt.Errorf("append event history: %w", err)
	}
	return nil
}
