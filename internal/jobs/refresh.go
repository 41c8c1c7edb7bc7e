package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/palguna26/Quantum-Review/internal/store"
)

// RefreshPayload names the repo a scheduled refresh targets. An empty
// payload refreshes every installed repo.
type RefreshPayload struct {
	RepoFullName string `json:"repo_full_name,omitempty"`
}

// RefreshRepository re-fetches repository metadata from GitHub for
// installed repos. Enqueued by the cron scheduler.
func (d *Deps) RefreshRepository(ctx context.Context, payload json.RawMessage) error {
	var p RefreshPayload
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &p); err != nil {
			return fmt.Errorf("decode refresh payload: %w", err)
		}
	}

	var repos []store.Repo
	if p.RepoFullName != "" {
		repo, err := d.Store.GetRepoByFullName(ctx, p.RepoFullName)
		if errors.Is(err, store.ErrNotFound) {
			log.Debug().Str("repo", p.RepoFullName).Msg("refresh target not found")
			return nil
		}
		if err != nil {
			return fmt.Errorf("lookup repo %s: %w", p.RepoFullName, err)
		}
		repos = []store.Repo{repo}
	} else {
		var err error
		repos, err = d.Store.ListInstalledRepos(ctx)
		if err != nil {
			return fmt.Errorf("list installed repos: %w", err)
		}
	}

	for _, repo := range repos {
		if !repo.IsInstalled || !repo.InstallationID.Valid {
			continue
		}
		fresh, err := d.GitHub.GetRepo(ctx, repo.InstallationID.Int64, repo.FullName)
		if err != nil {
			return fmt.Errorf("refresh repo %s: %w", repo.FullName, err)
		}
		if err := d.Store.UpsertRepo(ctx, fresh.FullName, fresh.ID, repo.InstallationID.Int64); err != nil {
			return fmt.Errorf("upsert refreshed repo %s: %w", fresh.FullName, err)
		}
		log.Debug().Str("repo", fresh.FullName).Msg("repo refreshed")
	}
	return nil
}
