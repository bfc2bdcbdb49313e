package app

import (
	"context"
	"errors"
	"fmt"

	"studyline/internal/config"
	"studyline/internal/domain"
	"studyline/internal/repo"
)

// ResolveStudyAndConfig picks the active study and makes sure it and its
// config exist in the DB. An explicit override wins over the single study in
// the DB. A missing study is created from the workspace config when one is
// given, otherwise from the default template.
func ResolveStudyAndConfig(ctx context.Context, studyOverride string, workspaceCfg *config.Config, r repo.Repo) (string, *config.Config, error) {
	studyID := studyOverride
	if studyID == "" && workspaceCfg != nil {
		studyID = workspaceCfg.Study.ID
	}
	if studyID == "" {
		s, err := r.SingleStudy(ctx)
		if err != nil {
			return "", nil, fmt.Errorf("study not specified; use --study")
		}
		studyID = s.ID
	}
	seedCfg := workspaceCfg
	if seedCfg == nil || seedCfg.Study.ID != studyID {
		seedCfg = config.Default(studyID)
	}

	if _, err := r.GetStudy(ctx, studyID); err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			return "", nil, err
		}
		if err := r.CreateStudy(ctx, domain.Study{ID: studyID, Name: seedCfg.Study.Name}, seedCfg); err != nil {
			return "", nil, err
		}
		if err := SyncPlans(ctx, r, seedCfg); err != nil {
			return "", nil, err
		}
	}
	cfg, err := r.GetStudyConfig(ctx, studyID)
	if err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			return "", nil, err
		}
		if err := r.UpsertStudyConfig(ctx, studyID, seedCfg); err != nil {
			return "", nil, fmt.Errorf("seed study config: %w", err)
		}
		cfg = seedCfg
	}
	return studyID, cfg, nil
}

// ImportConfig stores cfg as the study's config and upserts its plans.
func ImportConfig(ctx context.Context, r repo.Repo, cfg *config.Config) error {
	if _, err := r.GetStudy(ctx, cfg.Study.ID); err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			return err
		}
		if err := r.CreateStudy(ctx, domain.Study{ID: cfg.Study.ID, Name: cfg.Study.Name}, cfg); err != nil {
			return err
		}
	} else if err := r.UpsertStudyConfig(ctx, cfg.Study.ID, cfg); err != nil {
		return err
	}
	return SyncPlans(ctx, r, cfg)
}

// SyncPlans upserts the plans declared in cfg. Plans already stored but not
// declared are left alone.
func SyncPlans(ctx context.Context, r repo.Repo, cfg *config.Config) error {
	for _, p := range cfg.Plans {
		if p.StudyID == "" {
			p.StudyID = cfg.Study.ID
		}
		if _, err := r.UpsertPlan(ctx, p); err != nil {
			return fmt.Errorf("sync plan %s: %w", p.GUID, err)
		}
	}
	return nil
}
