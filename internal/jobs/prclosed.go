package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/palguna26/Quantum-Review/internal/domain"
	"github.com/palguna26/Quantum-Review/internal/store"
)

// HandlePRClosed records the closure so stale manifests stop showing as
// actionable.
func (d *Deps) HandlePRClosed(ctx context.Context, payload json.RawMessage) error {
	var p domain.WebhookPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode pull_request payload: %w", err)
	}
	if p.PullRequest == nil || p.Repository == nil {
		log.Warn().Msg("pull_request payload missing sections")
		return nil
	}

	repo, err := d.Store.GetRepoByFullName(ctx, p.Repository.FullName)
	if errors.Is(err, store.ErrNotFound) {
		log.Debug().Str("repo", p.Repository.FullName).Msg("pr closed on unknown repo")
		return nil
	}
	if err != nil {
		return fmt.Errorf("lookup repo %s: %w", p.Repository.FullName, err)
	}

	if err := d.Store.MarkPRClosed(ctx, repo.ID, p.PullRequest.Number, p.PullRequest.Merged); err != nil {
		return fmt.Errorf("mark pr closed: %w", err)
	}
	log.Info().Str("repo", repo.FullName).Int64("pr", p.PullRequest.Number).Bool("merged", p.PullRequest.Merged).Msg("pr closed")
	return nil
}
