package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/palguna26/Quantum-Review/internal/domain"
	"github.com/palguna26/Quantum-Review/internal/githubapp"
	"github.com/palguna26/Quantum-Review/internal/parse"
	"github.com/palguna26/Quantum-Review/internal/store"
)

// ManifestTest is one suggested test in a PR's test manifest.
type ManifestTest struct {
	TestID       string   `json:"test_id"`
	Name         string   `json:"name"`
	Framework    string   `json:"framework"`
	TargetFile   string   `json:"target_file"`
	ChecklistIDs []string `json:"checklist_ids"`
}

// Manifest is the persisted test manifest document.
type Manifest struct {
	Tests []ManifestTest `json:"tests"`
}

var issueRefRe = regexp.MustCompile(`#(\d+)`)

// GenerateTestManifest derives suggested tests from a PR's diff and links
// them to the checklist of the issue the PR references. The file list is
// fetched from GitHub at execution time so a superseding synchronize never
// acts on a stale diff.
func (d *Deps) GenerateTestManifest(ctx context.Context, payload json.RawMessage) error {
	var p domain.WebhookPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode pull_request payload: %w", err)
	}
	if p.PullRequest == nil || p.Repository == nil {
		log.Warn().Msg("pull_request payload missing sections")
		return nil
	}

	repo, err := d.Store.GetRepoByFullName(ctx, p.Repository.FullName)
	if errors.Is(err, store.ErrNotFound) || (err == nil && !repo.InstallationID.Valid) {
		log.Warn().Str("repo", p.Repository.FullName).Msg("repo not installed, skipping manifest")
		return nil
	}
	if err != nil {
		return fmt.Errorf("lookup repo %s: %w", p.Repository.FullName, err)
	}

	linkedIssueID := d.findLinkedIssue(ctx, repo.ID, p.PullRequest.Body)
	prID, err := d.Store.UpsertPullRequest(ctx, repo.ID, p.PullRequest.Number, p.PullRequest.Head.SHA, linkedIssueID)
	if err != nil {
		return fmt.Errorf("upsert pr #%d: %w", p.PullRequest.Number, err)
	}

	files, err := d.GitHub.ListPullRequestFiles(ctx, repo.InstallationID.Int64, repo.FullName, p.PullRequest.Number)
	if err != nil {
		return fmt.Errorf("list pr files: %w", err)
	}

	var checklist []store.ChecklistItemRow
	if linkedIssueID != nil {
		checklist, err = d.Store.ListChecklistItems(ctx, *linkedIssueID)
		if err != nil {
			return fmt.Errorf("list checklist items: %w", err)
		}
	}

	manifest := buildManifest(files, checklist)
	buf, err := json.Marshal(manifest)
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	if err := d.Store.SetTestManifest(ctx, prID, buf); err != nil {
		return fmt.Errorf("save manifest: %w", err)
	}
	log.Info().Str("repo", repo.FullName).Int64("pr", p.PullRequest.Number).Int("tests", len(manifest.Tests)).Msg("test manifest generated")
	return nil
}

// findLinkedIssue resolves the first "#<n>" reference in the PR body to one
// of our issue rows. Missing references are fine, the manifest just has no
// checklist links.
func (d *Deps) findLinkedIssue(ctx context.Context, repoID int64, body string) *int64 {
	m := issueRefRe.FindStringSubmatch(body)
	if m == nil {
		return nil
	}
	num, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return nil
	}
	issue, err := d.Store.GetIssue(ctx, repoID, num)
	if err != nil {
		return nil
	}
	return &issue.ID
}

func buildManifest(files []githubapp.PullRequestFile, checklist []store.ChecklistItemRow) Manifest {
	manifest := Manifest{Tests: []ManifestTest{}}
	counter := 1
	for _, f := range files {
		if f.Patch == "" || f.Filename == "" {
			continue
		}
		framework := parse.FrameworkFor(f.Filename)
		for _, symbol := range parse.ChangedSymbols(f.Patch, f.Filename) {
			ids := []string{}
			for _, item := range checklist {
				if strings.Contains(strings.ToLower(item.Text), strings.ToLower(symbol)) {
					ids = append(ids, item.ItemID)
				}
			}
			manifest.Tests = append(manifest.Tests, ManifestTest{
				TestID:       fmt.Sprintf("T%d", counter),
				Name:         "test_" + strings.ToLower(symbol),
				Framework:    framework,
				TargetFile:   f.Filename,
				ChecklistIDs: ids,
			})
			counter++
		}
	}
	return manifest
}
