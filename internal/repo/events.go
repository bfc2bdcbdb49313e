package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"studyline/internal/domain"
	"studyline/internal/events"
)

// PublishEvent records ev under the update rules of its key. It reports
// whether the stored timestamp changed; only changes reach the history log.
func (r Repo) PublishEvent(ctx context.Context, ev domain.ActivityEvent) (bool, error) {
	key, err := domain.ParseEventKey(ev.Key)
	if err != nil {
		return false, err
	}
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	var stored *int64
	var current int64
	err = tx.QueryRowContext(ctx, r.q(`SELECT event_timestamp FROM activity_events WHERE health_code=? AND event_key=?`), ev.HealthCode, ev.Key).Scan(&current)
	switch {
	case err == sql.ErrNoRows:
	case err != nil:
		return false, fmt.Errorf("read event: %w", err)
	default:
		stored = &current
	}
	if !events.ShouldReplace(key.Kind, stored, ev.Timestamp) {
		return false, nil
	}
	now := r.now().UTC().Format(time.RFC3339)
	if _, err := tx.ExecContext(ctx, r.q(`INSERT INTO activity_events(health_code,event_key,event_timestamp,activity_guid,updated_at) VALUES (?,?,?,?,?)
ON CONFLICT(health_code,event_key) DO UPDATE SET event_timestamp=excluded.event_timestamp, activity_guid=excluded.activity_guid, updated_at=excluded.updated_at`),
		ev.HealthCode, ev.Key, ev.Timestamp, nullable(ev.ActivityGUID), now); err != nil {
		return false, fmt.Errorf("upsert event: %w", err)
	}
	payload := events.EventPayload{"update_type": string(events.UpdateTypeOf(key.Kind))}
	if stored != nil {
		payload["previous_timestamp"] = *stored
	}
	if err := r.history().Append(ctx, tx, events.ActionPublished, ev, payload); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

// GetEvents returns the stored event timestamps for a participant.
func (r Repo) GetEvents(ctx context.Context, healthCode string) (map[string]int64, error) {
	rows, err := r.DB.QueryContext(ctx, r.q(`SELECT event_key,event_timestamp FROM activity_events WHERE health_code=?`), healthCode)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]int64{}
	for rows.Next() {
		var key string
		var ts int64
		if err := rows.Scan(&key, &ts); err != nil {
			return nil, err
		}
		out[key] = ts
	}
	return out, rows.Err()
}

func (r Repo) DeleteEvent(ctx context.Context, healthCode, key string) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	var ts int64
	err = tx.QueryRowContext(ctx, r.q(`SELECT event_timestamp FROM activity_events WHERE health_code=? AND event_key=?`), healthCode, key).Scan(&ts)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, r.q(`DELETE FROM activity_events WHERE health_code=? AND event_key=?`), healthCode, key); err != nil {
		return fmt.Errorf("delete event: %w", err)
	}
	ev := domain.ActivityEvent{HealthCode: healthCode, Key: key, Timestamp: ts}
	if err := r.history().Append(ctx, tx, events.ActionDeleted, ev, nil); err != nil {
		return err
	}
	return tx.Commit()
}

// HistoryFilter narrows ListEventHistory. Cursor pages backwards by id.
type HistoryFilter struct {
	HealthCode string
	Key        string
	Cursor     int64
	Limit      int
}

func (r Repo) ListEventHistory(ctx context.Context, f HistoryFilter) ([]domain.EventRecord, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.HealthCode != "" {
		clauses = append(clauses, "health_code=?")
		args = append(args, f.HealthCode)
	}
	if f.Key != "" {
		clauses = append(clauses, "event_key=?")
		args = append(args, f.Key)
	}
	if f.Cursor > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, f.Cursor)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit)
	query := fmt.Sprintf(`SELECT id,ts,health_code,event_key,event_timestamp,action,payload_json FROM event_history WHERE %s ORDER BY id DESC LIMIT ?`, strings.Join(clauses, " AND "))
	return r.queryHistory(ctx, query, args...)
}

// EventsAfter returns history rows with ids greater than the cursor in ascending order.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64) ([]domain.EventRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	return r.queryHistory(ctx, `SELECT id,ts,health_code,event_key,event_timestamp,action,payload_json FROM event_history WHERE id>? ORDER BY id ASC LIMIT ?`, cursor, limit)
}

// LatestEventID returns the most recent history id.
func (r Repo) LatestEventID(ctx context.Context) (int64, error) {
	var id int64
	if err := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM event_history`).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

func (r Repo) queryHistory(ctx context.Context, query string, args ...any) ([]domain.EventRecord, error) {
	rows, err := r.DB.QueryContext(ctx, r.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.EventRecord
	for rows.Next() {
		var e domain.EventRecord
		if err := rows.Scan(&e.ID, &e.TS, &e.HealthCode, &e.Key, &e.Timestamp, &e.Action, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}
