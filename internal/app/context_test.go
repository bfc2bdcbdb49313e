package app

import (
	"context"
	"testing"

	"studyline/internal/config"
	"studyline/internal/db"
	"studyline/internal/migrate"
	"studyline/internal/repo"
)

const planYAML = `study:
  id: sleep
  custom_events: [clinic_visit]

scheduling:
  default_days_ahead: 2
  max_days_ahead: 4
  max_minimum_per_schedule: 5

plans:
  - guid: nightly
    strategy:
      type: simple
      schedule:
        type: recurring
        cron_trigger: "0 21 * * *"
        expires: PT6H
        activities:
          - guid: diary
            kind: survey
`

func newRepo(t *testing.T) repo.Repo {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn, db.SQLite); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return repo.New(conn, db.SQLite)
}

func TestResolveSeedsDefaultStudy(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	if _, _, err := ResolveStudyAndConfig(ctx, "", nil, r); err == nil {
		t.Fatalf("expected error without any study")
	}
	id, cfg, err := ResolveStudyAndConfig(ctx, "pilot", nil, r)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if id != "pilot" || cfg.Study.ID != "pilot" {
		t.Fatalf("resolved %s %+v", id, cfg.Study)
	}
	id, _, err = ResolveStudyAndConfig(ctx, "", nil, r)
	if err != nil || id != "pilot" {
		t.Fatalf("single study lookup: %s %v", id, err)
	}
}

func TestImportConfigSyncsPlans(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	cfg, err := config.FromYAML([]byte(planYAML))
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	if err := ImportConfig(ctx, r, cfg); err != nil {
		t.Fatalf("import: %v", err)
	}
	if err := ImportConfig(ctx, r, cfg); err != nil {
		t.Fatalf("re-import: %v", err)
	}
	plans, err := r.ListPlans(ctx, "sleep")
	if err != nil {
		t.Fatalf("list plans: %v", err)
	}
	if len(plans) != 1 || plans[0].GUID != "nightly" || plans[0].StudyID != "sleep" {
		t.Fatalf("plans %+v", plans)
	}
	stored, err := r.GetStudyConfig(ctx, "sleep")
	if err != nil {
		t.Fatalf("get config: %v", err)
	}
	if len(stored.Study.CustomEvents) != 1 || stored.Study.CustomEvents[0] != "clinic_visit" {
		t.Fatalf("stored config %+v", stored.Study)
	}
}
