package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"studyline/internal/domain"
)

func (r Repo) GetParticipant(ctx context.Context, healthCode string) (domain.Participant, error) {
	var p domain.Participant
	var zone sql.NullString
	var groups string
	err := r.DB.QueryRowContext(ctx, r.q(`SELECT health_code,study_id,time_zone,created_on,data_groups FROM participants WHERE health_code=?`), healthCode).
		Scan(&p.HealthCode, &p.StudyID, &zone, &p.CreatedOn, &groups)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	if zone.Valid {
		p.TimeZone = zone.String
	}
	if err := json.Unmarshal([]byte(groups), &p.DataGroups); err != nil {
		return p, fmt.Errorf("decode data groups: %w", err)
	}
	return p, nil
}

// GetOrCreateParticipant records the participant on first contact. A time
// zone is captured only while none is stored; later values are ignored until
// SetTimeZone replaces it. Reported data groups replace the stored ones.
func (r Repo) GetOrCreateParticipant(ctx context.Context, p domain.Participant) (domain.Participant, error) {
	if p.HealthCode == "" {
		return domain.Participant{}, fmt.Errorf("health code is required")
	}
	if p.CreatedOn == 0 {
		p.CreatedOn = domain.Millis(r.now())
	}
	groups := p.DataGroups
	if groups == nil {
		groups = []string{}
	}
	groupsJSON, err := json.Marshal(groups)
	if err != nil {
		return domain.Participant{}, err
	}
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Participant{}, err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, r.q(`INSERT INTO participants(health_code,study_id,time_zone,created_on,data_groups) VALUES (?,?,?,?,?) ON CONFLICT(health_code) DO NOTHING`),
		p.HealthCode, p.StudyID, nullable(p.TimeZone), p.CreatedOn, string(groupsJSON)); err != nil {
		return domain.Participant{}, fmt.Errorf("insert participant: %w", err)
	}
	if p.TimeZone != "" {
		if _, err := tx.ExecContext(ctx, r.q(`UPDATE participants SET time_zone=? WHERE health_code=? AND time_zone IS NULL`), p.TimeZone, p.HealthCode); err != nil {
			return domain.Participant{}, fmt.Errorf("capture time zone: %w", err)
		}
	}
	if p.DataGroups != nil {
		if _, err := tx.ExecContext(ctx, r.q(`UPDATE participants SET data_groups=? WHERE health_code=?`), string(groupsJSON), p.HealthCode); err != nil {
			return domain.Participant{}, fmt.Errorf("update data groups: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.Participant{}, err
	}
	return r.GetParticipant(ctx, p.HealthCode)
}

// SetTimeZone replaces the participant's initial time zone.
func (r Repo) SetTimeZone(ctx context.Context, healthCode, zone string) error {
	res, err := r.DB.ExecContext(ctx, r.q(`UPDATE participants SET time_zone=? WHERE health_code=?`), nullable(zone), healthCode)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
