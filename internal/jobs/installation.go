package jobs

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/palguna26/Quantum-Review/internal/domain"
)

// SyncInstallationRepos reconciles the repos table with an installation
// lifecycle event. Runs serialized per installation id.
func (d *Deps) SyncInstallationRepos(ctx context.Context, payload json.RawMessage) error {
	var p domain.WebhookPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode installation payload: %w", err)
	}
	if p.Installation == nil {
		log.Warn().Msg("installation payload without installation section")
		return nil
	}
	installationID := p.Installation.ID

	unlock := d.installLocks.lock(installationID)
	defer unlock()

	switch p.Action {
	case "created", "added":
		repos, err := d.GitHub.ListInstallationRepos(ctx, installationID)
		if err != nil {
			return fmt.Errorf("list installation repos: %w", err)
		}
		for _, r := range repos {
			if err := d.Store.UpsertRepo(ctx, r.FullName, r.ID, installationID); err != nil {
				return fmt.Errorf("upsert repo %s: %w", r.FullName, err)
			}
		}
		log.Info().Int64("installation_id", installationID).Int("repos", len(repos)).Msg("installation repos synced")

	case "deleted":
		if err := d.Store.MarkInstallationRemoved(ctx, installationID); err != nil {
			return fmt.Errorf("mark installation removed: %w", err)
		}
		log.Info().Int64("installation_id", installationID).Msg("installation repos marked uninstalled")

	case "removed":
		for _, r := range p.RepositoriesRemoved {
			if err := d.Store.MarkRepoRemoved(ctx, r.FullName); err != nil {
				return fmt.Errorf("mark repo removed %s: %w", r.FullName, err)
			}
		}
		// Whatever access remains is re-upserted from the source of truth.
		repos, err := d.GitHub.ListInstallationRepos(ctx, installationID)
		if err != nil {
			return fmt.Errorf("list installation repos: %w", err)
		}
		for _, r := range repos {
			if err := d.Store.UpsertRepo(ctx, r.FullName, r.ID, installationID); err != nil {
				return fmt.Errorf("upsert repo %s: %w", r.FullName, err)
			}
		}
		log.Info().Int64("installation_id", installationID).Int("removed", len(p.RepositoriesRemoved)).Msg("installation repo access reduced")

	default:
		log.Debug().Str("action", p.Action).Msg("installation action ignored")
	}
	return nil
}
