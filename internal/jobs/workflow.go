package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/palguna26/Quantum-Review/internal/domain"
	"github.com/palguna26/Quantum-Review/internal/parse"
	"github.com/palguna26/Quantum-Review/internal/store"
)

// reportArtifactName is the artifact CI uploads the JUnit report under.
const reportArtifactName = "autoqa-test-report"

// ProcessWorkflowRun downloads the CI test report for a completed workflow
// run, maps results onto the PR's manifest and checklist, and updates the
// PR's validation status.
func (d *Deps) ProcessWorkflowRun(ctx context.Context, payload json.RawMessage) error {
	var p domain.WebhookPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode workflow_run payload: %w", err)
	}
	if p.WorkflowRun == nil || p.Repository == nil {
		log.Warn().Msg("workflow_run payload missing sections")
		return nil
	}

	repo, err := d.Store.GetRepoByFullName(ctx, p.Repository.FullName)
	if errors.Is(err, store.ErrNotFound) || (err == nil && !repo.InstallationID.Valid) {
		log.Warn().Str("repo", p.Repository.FullName).Msg("repo not installed, skipping workflow run")
		return nil
	}
	if err != nil {
		return fmt.Errorf("lookup repo %s: %w", p.Repository.FullName, err)
	}

	pr, err := d.Store.GetPullRequestByHeadSHA(ctx, repo.ID, p.WorkflowRun.HeadSHA)
	if errors.Is(err, store.ErrNotFound) {
		// Push-triggered run with no PR on our books.
		log.Debug().Str("sha", p.WorkflowRun.HeadSHA).Msg("no pr for workflow run head sha")
		return nil
	}
	if err != nil {
		return fmt.Errorf("lookup pr by head sha: %w", err)
	}

	results, err := d.fetchReport(ctx, repo, p.WorkflowRun.ID)
	if err != nil {
		return err
	}

	manifestLinks := manifestChecklistLinks(pr)
	checklistUpdates := mapResultsToChecklist(results, manifestLinks)

	if err := d.Store.ReplaceTestResults(ctx, pr.ID, results, manifestLinks); err != nil {
		return fmt.Errorf("replace test results: %w", err)
	}
	if pr.LinkedIssueID.Valid && len(checklistUpdates) > 0 {
		if err := d.Store.UpdateChecklistStatuses(ctx, pr.LinkedIssueID.Int64, checklistUpdates); err != nil {
			return fmt.Errorf("update checklist statuses: %w", err)
		}
	}

	status := "needs_work"
	if len(results) > 0 && allPassed(results) {
		status = "validated"
	}
	if err := d.Store.SetValidationStatus(ctx, pr.ID, status); err != nil {
		return fmt.Errorf("set validation status: %w", err)
	}

	log.Info().
		Str("repo", repo.FullName).
		Int64("run_id", p.WorkflowRun.ID).
		Int64("pr", pr.PRNumber).
		Int("tests", len(results)).
		Str("status", status).
		Msg("workflow run processed")

	d.notifyRepo(ctx, repo.GitHubID, "pr_validated", map[string]any{
		"pr_number":         pr.PRNumber,
		"validation_status": status,
		"test_count":        len(results),
	})
	return nil
}

// fetchReport locates and parses the JUnit report artifact. A run without
// the report artifact yields no results, which downgrades the PR to
// needs_work rather than failing the job.
func (d *Deps) fetchReport(ctx context.Context, repo store.Repo, runID int64) ([]parse.TestResult, error) {
	artifacts, err := d.GitHub.ListRunArtifacts(ctx, repo.InstallationID.Int64, repo.FullName, runID)
	if err != nil {
		return nil, fmt.Errorf("list run artifacts: %w", err)
	}
	for _, a := range artifacts {
		if a.Name != reportArtifactName {
			continue
		}
		content, err := d.GitHub.DownloadArtifact(ctx, repo.InstallationID.Int64, repo.FullName, a.ID)
		if err != nil {
			return nil, fmt.Errorf("download report artifact: %w", err)
		}
		results, err := parse.JUnit(content)
		if err != nil {
			// A corrupt report is not retryable; treat as no results.
			log.Error().Err(err).Int64("artifact_id", a.ID).Msg("junit report unparseable")
			return nil, nil
		}
		return results, nil
	}
	log.Debug().Int64("run_id", runID).Msg("no test report artifact on workflow run")
	return nil, nil
}

func manifestChecklistLinks(pr store.PRRecord) map[string][]string {
	links := map[string][]string{}
	if !pr.TestManifestJSON.Valid {
		return links
	}
	var manifest Manifest
	if err := json.Unmarshal([]byte(pr.TestManifestJSON.String), &manifest); err != nil {
		return links
	}
	for _, t := range manifest.Tests {
		links[t.TestID] = t.ChecklistIDs
	}
	return links
}

// mapResultsToChecklist derives checklist statuses from test outcomes. A
// failed test always wins over a passed one for the same item.
func mapResultsToChecklist(results []parse.TestResult, links map[string][]string) map[string]string {
	updates := map[string]string{}
	for _, r := range results {
		for _, itemID := range links[r.TestID] {
			switch r.Status {
			case "passed":
				if _, set := updates[itemID]; !set {
					updates[itemID] = "passed"
				}
			case "failed":
				updates[itemID] = "failed"
			}
		}
	}
	return updates
}

func allPassed(results []parse.TestResult) bool {
	for _, r := range results {
		if r.Status != "passed" {
			return false
		}
	}
	return true
}
