package store

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/palguna26/Quantum-Review/internal/parse"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	if err := EnsureSchema(db); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	return New(db)
}

func TestUpsertRepoIdempotent(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.UpsertRepo(ctx, "acme/api", 100, 777); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := s.UpsertRepo(ctx, "acme/api", 100, 888); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	r, err := s.GetRepoByFullName(ctx, "acme/api")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !r.IsInstalled || r.InstallationID.Int64 != 888 {
		t.Fatalf("repo after re-upsert: %+v", r)
	}
}

func TestMarkInstallationRemoved(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	_ = s.UpsertRepo(ctx, "acme/api", 100, 777)
	_ = s.UpsertRepo(ctx, "acme/web", 101, 777)
	_ = s.UpsertRepo(ctx, "other/repo", 102, 888)

	if err := s.MarkInstallationRemoved(ctx, 777); err != nil {
		t.Fatalf("mark removed: %v", err)
	}

	r, _ := s.GetRepoByFullName(ctx, "acme/api")
	if r.IsInstalled || r.InstallationID.Valid {
		t.Fatalf("repo still installed: %+v", r)
	}
	other, _ := s.GetRepoByFullName(ctx, "other/repo")
	if !other.IsInstalled {
		t.Fatalf("unrelated installation touched: %+v", other)
	}

	installed, err := s.ListInstalledRepos(ctx)
	if err != nil {
		t.Fatalf("list installed: %v", err)
	}
	if len(installed) != 1 || installed[0].FullName != "other/repo" {
		t.Fatalf("installed repos: %+v", installed)
	}
}

func TestIssueChecklistLifecycle(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	_ = s.UpsertRepo(ctx, "acme/api", 100, 777)
	repo, _ := s.GetRepoByFullName(ctx, "acme/api")

	items := []parse.ChecklistItem{
		{ID: "C1", Text: "logs in", Required: true, Tags: []string{"auth"}},
		{ID: "C2", Text: "resets password", Required: false, Tags: []string{}},
	}
	issueID, err := s.UpsertIssue(ctx, repo.ID, 5, "Login", "body", items)
	if err != nil {
		t.Fatalf("upsert issue: %v", err)
	}
	if err := s.ReplaceChecklistItems(ctx, issueID, items); err != nil {
		t.Fatalf("replace items: %v", err)
	}

	// Re-running with an edited body converges rather than duplicating.
	items2 := items[:1]
	issueID2, err := s.UpsertIssue(ctx, repo.ID, 5, "Login v2", "body2", items2)
	if err != nil {
		t.Fatalf("re-upsert issue: %v", err)
	}
	if issueID2 != issueID {
		t.Fatalf("upsert created a new issue row: %d vs %d", issueID2, issueID)
	}
	if err := s.ReplaceChecklistItems(ctx, issueID, items2); err != nil {
		t.Fatalf("replace items again: %v", err)
	}

	rec, err := s.GetIssue(ctx, repo.ID, 5)
	if err != nil {
		t.Fatalf("get issue: %v", err)
	}
	if rec.Title != "Login v2" || len(rec.Checklist) != 1 {
		t.Fatalf("issue record: %+v", rec)
	}
	rows, _ := s.ListChecklistItems(ctx, issueID)
	if len(rows) != 1 || rows[0].ItemID != "C1" || rows[0].Status != "pending" {
		t.Fatalf("item rows: %+v", rows)
	}

	if err := s.UpdateChecklistStatuses(ctx, issueID, map[string]string{"C1": "passed"}); err != nil {
		t.Fatalf("update statuses: %v", err)
	}
	rows, _ = s.ListChecklistItems(ctx, issueID)
	if rows[0].Status != "passed" {
		t.Fatalf("status not applied: %+v", rows[0])
	}
}

func TestPullRequestLifecycle(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	_ = s.UpsertRepo(ctx, "acme/api", 100, 777)
	repo, _ := s.GetRepoByFullName(ctx, "acme/api")

	issueID, _ := s.UpsertIssue(ctx, repo.ID, 5, "Login", "body", nil)
	prID, err := s.UpsertPullRequest(ctx, repo.ID, 42, "sha-1", &issueID)
	if err != nil {
		t.Fatalf("upsert pr: %v", err)
	}

	// synchronize: head moves, link survives
	prID2, err := s.UpsertPullRequest(ctx, repo.ID, 42, "sha-2", nil)
	if err != nil {
		t.Fatalf("re-upsert pr: %v", err)
	}
	if prID2 != prID {
		t.Fatalf("upsert created a new PR row")
	}
	rec, err := s.GetPullRequestByHeadSHA(ctx, repo.ID, "sha-2")
	if err != nil {
		t.Fatalf("get by head sha: %v", err)
	}
	if rec.LinkedIssueID.Int64 != issueID {
		t.Fatalf("linked issue lost on synchronize: %+v", rec)
	}

	if err := s.SetTestManifest(ctx, prID, []byte(`{"tests":[]}`)); err != nil {
		t.Fatalf("set manifest: %v", err)
	}
	if err := s.SetValidationStatus(ctx, prID, "validated"); err != nil {
		t.Fatalf("set status: %v", err)
	}
	rec, _ = s.GetPullRequest(ctx, repo.ID, 42)
	if !rec.TestManifestJSON.Valid || rec.ValidationStatus != "validated" {
		t.Fatalf("pr record: %+v", rec)
	}

	if err := s.MarkPRClosed(ctx, repo.ID, 42, true); err != nil {
		t.Fatalf("mark closed: %v", err)
	}
	rec, _ = s.GetPullRequest(ctx, repo.ID, 42)
	if !rec.Closed || !rec.Merged {
		t.Fatalf("pr not closed: %+v", rec)
	}
}

func TestReplaceTestResults(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	_ = s.UpsertRepo(ctx, "acme/api", 100, 777)
	repo, _ := s.GetRepoByFullName(ctx, "acme/api")
	prID, _ := s.UpsertPullRequest(ctx, repo.ID, 42, "sha-1", nil)

	ms := int64(120)
	results := []parse.TestResult{
		{TestID: "T1", Name: "test_login", Status: "passed", DurationMS: &ms},
		{TestID: "T2", Name: "test_reset", Status: "failed", ErrorMessage: "boom"},
	}
	links := map[string][]string{"T1": {"C1"}}
	if err := s.ReplaceTestResults(ctx, prID, results, links); err != nil {
		t.Fatalf("replace results: %v", err)
	}
	// Second run with one result replaces, not appends.
	if err := s.ReplaceTestResults(ctx, prID, results[:1], links); err != nil {
		t.Fatalf("second replace: %v", err)
	}

	rows, err := s.ListTestResults(ctx, prID)
	if err != nil {
		t.Fatalf("list results: %v", err)
	}
	if len(rows) != 1 || rows[0].TestID != "T1" || rows[0].ChecklistIDs[0] != "C1" {
		t.Fatalf("result rows: %+v", rows)
	}
}

func TestGetMissing(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	if _, err := s.GetRepoByFullName(ctx, "nope/none"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing repo: %v", err)
	}
	if _, err := s.GetIssue(ctx, 1, 1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing issue: %v", err)
	}
	if _, err := s.GetPullRequest(ctx, 1, 1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing pr: %v", err)
	}
}
