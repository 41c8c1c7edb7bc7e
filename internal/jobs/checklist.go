package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/palguna26/Quantum-Review/internal/domain"
	"github.com/palguna26/Quantum-Review/internal/parse"
	"github.com/palguna26/Quantum-Review/internal/store"
)

// GenerateChecklist extracts acceptance criteria from an issue body and
// persists the checklist. Re-running on an edited issue replaces the items.
func (d *Deps) GenerateChecklist(ctx context.Context, payload json.RawMessage) error {
	var p domain.WebhookPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode issue payload: %w", err)
	}
	if p.Issue == nil || p.Repository == nil {
		log.Warn().Msg("issue payload missing issue or repository section")
		return nil
	}

	repo, err := d.Store.GetRepoByFullName(ctx, p.Repository.FullName)
	if errors.Is(err, store.ErrNotFound) {
		// Repo never installed on our side. Nothing to attach a checklist to.
		log.Warn().Str("repo", p.Repository.FullName).Msg("repo not found, skipping checklist")
		return nil
	}
	if err != nil {
		return fmt.Errorf("lookup repo %s: %w", p.Repository.FullName, err)
	}

	items := parse.AcceptanceCriteria(p.Issue.Body)
	issueID, err := d.Store.UpsertIssue(ctx, repo.ID, p.Issue.Number, p.Issue.Title, p.Issue.Body, items)
	if err != nil {
		return fmt.Errorf("upsert issue #%d: %w", p.Issue.Number, err)
	}
	if err := d.Store.ReplaceChecklistItems(ctx, issueID, items); err != nil {
		return fmt.Errorf("replace checklist items: %w", err)
	}
	log.Info().Str("repo", repo.FullName).Int64("issue", p.Issue.Number).Int("items", len(items)).Msg("checklist generated")

	// Comment is best-effort: a failed post must not fail the job, the
	// checklist is already saved.
	if repo.InstallationID.Valid && len(items) > 0 {
		body := checklistComment(items)
		if err := d.GitHub.CreateIssueComment(ctx, repo.InstallationID.Int64, repo.FullName, p.Issue.Number, body); err != nil {
			log.Warn().Err(err).Str("repo", repo.FullName).Int64("issue", p.Issue.Number).Msg("post checklist comment failed")
		}
	}

	d.notifyRepo(ctx, repo.GitHubID, "checklist_ready", map[string]any{
		"issue_number":    p.Issue.Number,
		"issue_title":     p.Issue.Title,
		"checklist_count": len(items),
	})
	return nil
}

func checklistComment(items []parse.ChecklistItem) string {
	var b strings.Builder
	b.WriteString("## Generated Checklist\n\n")
	for _, it := range items {
		marker := "x"
		if !it.Required {
			marker = " "
		}
		fmt.Fprintf(&b, "- [%s] %s: %s\n", marker, it.ID, it.Text)
	}
	return b.String()
}
