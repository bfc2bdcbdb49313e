package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"studyline/internal/config"
	"studyline/internal/db"
	"studyline/internal/domain"
	"studyline/internal/events"
)

type Repo struct {
	DB      *sql.DB
	Dialect db.Dialect
	Now     func() time.Time
}

var ErrNotFound = errors.New("not found")

func New(conn *sql.DB, dialect db.Dialect) Repo {
	return Repo{DB: conn, Dialect: dialect, Now: time.Now}
}

func (r Repo) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func (r Repo) q(query string) string {
	return r.Dialect.Rebind(query)
}

func (r Repo) history() events.Writer {
	return events.Writer{Dialect: r.Dialect, Now: r.Now}
}

func scanStudy(row *sql.Row) (domain.Study, error) {
	var s domain.Study
	var name sql.NullString
	err := row.Scan(&s.ID, &name, &s.CreatedAt)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	if name.Valid {
		s.Name = name.String
	}
	return s, err
}

func (r Repo) GetStudy(ctx context.Context, id string) (domain.Study, error) {
	return scanStudy(r.DB.QueryRowContext(ctx, r.q(`SELECT id,name,created_at FROM studies WHERE id=?`), id))
}

// SingleStudy returns the only study in the database.
func (r Repo) SingleStudy(ctx context.Context) (domain.Study, error) {
	studies, err := r.ListStudies(ctx)
	if err != nil {
		return domain.Study{}, err
	}
	if len(studies) == 0 {
		return domain.Study{}, ErrNotFound
	}
	if len(studies) > 1 {
		return domain.Study{}, fmt.Errorf("multiple studies exist; specify --study")
	}
	return studies[0], nil
}

func (r Repo) ListStudies(ctx context.Context) ([]domain.Study, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,COALESCE(name,'') AS name,created_at FROM studies ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Study
	for rows.Next() {
		var s domain.Study
		if err := rows.Scan(&s.ID, &s.Name, &s.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// CreateStudy inserts the study and its config in one transaction.
func (r Repo) CreateStudy(ctx context.Context, s domain.Study, cfg *config.Config) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if s.CreatedAt == "" {
		s.CreatedAt = r.now().UTC().Format(time.RFC3339)
	}
	if _, err := tx.ExecContext(ctx, r.q(`INSERT INTO studies(id,name,created_at) VALUES (?,?,?)`), s.ID, nullable(s.Name), s.CreatedAt); err != nil {
		return fmt.Errorf("insert study: %w", err)
	}
	if err := r.UpsertStudyConfigTx(ctx, tx, s.ID, cfg); err != nil {
		return fmt.Errorf("insert study config: %w", err)
	}
	return tx.Commit()
}

func (r Repo) UpsertStudyConfig(ctx context.Context, studyID string, cfg *config.Config) error {
	return r.upsertStudyConfig(ctx, nil, studyID, cfg)
}

func (r Repo) UpsertStudyConfigTx(ctx context.Context, tx *sql.Tx, studyID string, cfg *config.Config) error {
	return r.upsertStudyConfig(ctx, tx, studyID, cfg)
}

func (r Repo) upsertStudyConfig(ctx context.Context, tx *sql.Tx, studyID string, cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config nil")
	}
	cfg.Study.ID = studyID
	if err := cfg.Validate(); err != nil {
		return err
	}
	payload, err := cfg.YAML()
	if err != nil {
		return err
	}
	now := r.now().UTC().Format(time.RFC3339)
	_, err = r.exec(ctx, tx, `INSERT INTO study_configs(study_id,config_yaml,updated_at) VALUES (?,?,?)
ON CONFLICT(study_id) DO UPDATE SET config_yaml=excluded.config_yaml, updated_at=excluded.updated_at`, studyID, string(payload), now)
	return err
}

func (r Repo) GetStudyConfig(ctx context.Context, studyID string) (*config.Config, error) {
	var payload string
	err := r.DB.QueryRowContext(ctx, r.q(`SELECT config_yaml FROM study_configs WHERE study_id=?`), studyID).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return config.FromYAML([]byte(payload))
}

// exec runs on tx when given, otherwise on the pool.
func (r Repo) exec(ctx context.Context, tx *sql.Tx, query string, args ...any) (sql.Result, error) {
	if tx != nil {
		return tx.ExecContext(ctx, r.q(query), args...)
	}
	return r.DB.ExecContext(ctx, r.q(query), args...)
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableInt64Ptr(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func int64Ptr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}
