package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"studyline/internal/domain"
	"studyline/internal/scheduler"
)

// UpsertPlan validates and stores a plan, stamping its modification time.
func (r Repo) UpsertPlan(ctx context.Context, p scheduler.Plan) (scheduler.Plan, error) {
	if p.StudyID == "" {
		return p, fmt.Errorf("plan %s: study id is required", p.GUID)
	}
	if err := p.Validate(); err != nil {
		return p, err
	}
	p.ModifiedOn = r.now().UTC().Truncate(time.Second)
	payload, err := json.Marshal(p)
	if err != nil {
		return p, fmt.Errorf("encode plan %s: %w", p.GUID, err)
	}
	_, err = r.DB.ExecContext(ctx, r.q(`INSERT INTO schedule_plans(guid,study_id,label,plan_json,modified_on) VALUES (?,?,?,?,?)
ON CONFLICT(guid) DO UPDATE SET study_id=excluded.study_id, label=excluded.label, plan_json=excluded.plan_json, modified_on=excluded.modified_on`),
		p.GUID, p.StudyID, nullable(p.Label), string(payload), p.ModifiedOn.Format(time.RFC3339))
	if err != nil {
		return p, fmt.Errorf("upsert plan %s: %w", p.GUID, err)
	}
	return p, nil
}

func (r Repo) GetPlan(ctx context.Context, guid string) (scheduler.Plan, error) {
	var payload string
	err := r.DB.QueryRowContext(ctx, r.q(`SELECT plan_json FROM schedule_plans WHERE guid=?`), guid).Scan(&payload)
	if err == sql.ErrNoRows {
		return scheduler.Plan{}, ErrNotFound
	}
	if err != nil {
		return scheduler.Plan{}, err
	}
	return decodePlan(payload)
}

func (r Repo) ListPlans(ctx context.Context, studyID string) ([]scheduler.Plan, error) {
	rows, err := r.DB.QueryContext(ctx, r.q(`SELECT plan_json FROM schedule_plans WHERE study_id=? ORDER BY guid`), studyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []scheduler.Plan
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		p, err := decodePlan(payload)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (r Repo) DeletePlan(ctx context.Context, guid string) error {
	res, err := r.DB.ExecContext(ctx, r.q(`DELETE FROM schedule_plans WHERE guid=?`), guid)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetApplicablePlans returns the study's plans whose app version rule admits
// the calling client.
func (r Repo) GetApplicablePlans(ctx context.Context, studyID string, info domain.ClientInfo) ([]scheduler.Plan, error) {
	plans, err := r.ListPlans(ctx, studyID)
	if err != nil {
		return nil, err
	}
	out := plans[:0]
	for _, p := range plans {
		if p.Allows(info) {
			out = append(out, p)
		}
	}
	return out, nil
}

func decodePlan(payload string) (scheduler.Plan, error) {
	var p scheduler.Plan
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		return p, fmt.Errorf("decode plan: %w", err)
	}
	return p, nil
}
