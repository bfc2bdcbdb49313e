package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/civil"

	"studyline/internal/domain"
	"studyline/internal/scheduler"
)

const activityColumns = `guid,health_code,schedule_plan_guid,activity_json,local_scheduled_on,local_expires_on,time_zone,started_on,finished_on`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanActivity(row rowScanner) (domain.ScheduledActivity, error) {
	var a domain.ScheduledActivity
	var activityJSON, scheduledOn string
	var expiresOn, zone sql.NullString
	var started, finished sql.NullInt64
	if err := row.Scan(&a.GUID, &a.HealthCode, &a.SchedulePlanGUID, &activityJSON, &scheduledOn, &expiresOn, &zone, &started, &finished); err != nil {
		return a, err
	}
	if err := json.Unmarshal([]byte(activityJSON), &a.Activity); err != nil {
		return a, fmt.Errorf("decode activity %s: %w", a.GUID, err)
	}
	on, err := civil.ParseDateTime(scheduledOn)
	if err != nil {
		return a, fmt.Errorf("activity %s scheduled on: %w", a.GUID, err)
	}
	a.LocalScheduledOn = on
	if expiresOn.Valid {
		exp, err := civil.ParseDateTime(expiresOn.String)
		if err != nil {
			return a, fmt.Errorf("activity %s expires on: %w", a.GUID, err)
		}
		a.LocalExpiresOn = &exp
	}
	if zone.Valid {
		loc, err := scheduler.ParseZone(zone.String)
		if err != nil {
			return a, fmt.Errorf("activity %s: %w", a.GUID, err)
		}
		a.TimeZone = loc
	}
	a.StartedOn = int64Ptr(started)
	a.FinishedOn = int64Ptr(finished)
	a.Persisted = true
	return a, nil
}

// GetActivitiesByGUIDs loads the participant's stored activities among guids.
func (r Repo) GetActivitiesByGUIDs(ctx context.Context, healthCode string, guids []string) ([]domain.ScheduledActivity, error) {
	if len(guids) == 0 {
		return nil, nil
	}
	args := make([]any, 0, len(guids)+1)
	args = append(args, healthCode)
	for _, g := range guids {
		args = append(args, g)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(guids)), ",")
	query := fmt.Sprintf(`SELECT %s FROM scheduled_activities WHERE health_code=? AND guid IN (%s)`, activityColumns, placeholders)
	return r.queryActivities(ctx, query, args...)
}

// ActivityFilter narrows ListActivities.
type ActivityFilter struct {
	HealthCode string
	PlanGUID   string
	Limit      int
}

func (r Repo) ListActivities(ctx context.Context, f ActivityFilter) ([]domain.ScheduledActivity, error) {
	clauses := []string{"health_code=?"}
	args := []any{f.HealthCode}
	if f.PlanGUID != "" {
		clauses = append(clauses, "schedule_plan_guid=?")
		args = append(args, f.PlanGUID)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 200
	}
	args = append(args, limit)
	query := fmt.Sprintf(`SELECT %s FROM scheduled_activities WHERE %s ORDER BY local_scheduled_on, guid LIMIT ?`, activityColumns, strings.Join(clauses, " AND "))
	return r.queryActivities(ctx, query, args...)
}

func (r Repo) queryActivities(ctx context.Context, query string, args ...any) ([]domain.ScheduledActivity, error) {
	rows, err := r.DB.QueryContext(ctx, r.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ScheduledActivity
	for rows.Next() {
		a, err := scanActivity(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

// SaveNewActivities inserts activities that are not yet stored. Rows that
// already exist keep their state.
func (r Repo) SaveNewActivities(ctx context.Context, list []domain.ScheduledActivity) error {
	if len(list) == 0 {
		return nil
	}
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	now := r.now().UTC().Format(time.RFC3339)
	stmt, err := tx.PrepareContext(ctx, r.q(`INSERT INTO scheduled_activities(`+activityColumns+`,created_at) VALUES (?,?,?,?,?,?,?,?,?,?) ON CONFLICT(health_code,guid) DO NOTHING`))
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, a := range list {
		activityJSON, err := json.Marshal(a.Activity)
		if err != nil {
			return fmt.Errorf("encode activity %s: %w", a.GUID, err)
		}
		var expires any
		if a.LocalExpiresOn != nil {
			expires = a.LocalExpiresOn.String()
		}
		if _, err := stmt.ExecContext(ctx, a.GUID, a.HealthCode, a.SchedulePlanGUID, string(activityJSON),
			a.LocalScheduledOn.String(), expires, nullable(scheduler.ZoneName(a.TimeZone)),
			nullableInt64Ptr(a.StartedOn), nullableInt64Ptr(a.FinishedOn), now); err != nil {
			return fmt.Errorf("insert activity %s: %w", a.GUID, err)
		}
	}
	return tx.Commit()
}

// UpdateActivities writes the lifecycle timestamps of stored activities.
func (r Repo) UpdateActivities(ctx context.Context, list []domain.ScheduledActivity) error {
	if len(list) == 0 {
		return nil
	}
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, a := range list {
		res, err := tx.ExecContext(ctx, r.q(`UPDATE scheduled_activities SET started_on=?, finished_on=? WHERE guid=? AND health_code=?`),
			nullableInt64Ptr(a.StartedOn), nullableInt64Ptr(a.FinishedOn), a.GUID, a.HealthCode)
		if err != nil {
			return fmt.Errorf("update activity %s: %w", a.GUID, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("activity %s: %w", a.GUID, ErrNotFound)
		}
	}
	return tx.Commit()
}
