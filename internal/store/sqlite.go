package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/palguna26/Quantum-Review/internal/parse"
)

var ErrNotFound = errors.New("not found")

// Store persists the state the job handlers derive from webhook payloads:
// repositories, issue checklists, PR test manifests and CI test results.
// Every write is an upsert keyed by the entity's natural key, so re-running
// a job converges on the same rows.
type Store struct{ db *sql.DB }

func New(db *sql.DB) *Store { return &Store{db: db} }

// EnsureSchema creates tables if they don't exist.
func EnsureSchema(db *sql.DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS repos (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  full_name TEXT NOT NULL UNIQUE,
  github_id INTEGER,
  installation_id INTEGER,
  is_installed INTEGER NOT NULL DEFAULT 0,
  created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
  updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_repos_installation ON repos(installation_id);
CREATE TABLE IF NOT EXISTS issues (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  repo_id INTEGER NOT NULL,
  issue_number INTEGER NOT NULL,
  title TEXT NOT NULL DEFAULT '',
  body TEXT NOT NULL DEFAULT '',
  status TEXT NOT NULL DEFAULT 'pending',
  checklist_json TEXT,
  created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
  updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
  UNIQUE(repo_id, issue_number),
  FOREIGN KEY(repo_id) REFERENCES repos(id)
);
CREATE TABLE IF NOT EXISTS checklist_items (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  issue_id INTEGER NOT NULL,
  item_id TEXT NOT NULL,
  text TEXT NOT NULL,
  required INTEGER NOT NULL DEFAULT 1,
  status TEXT NOT NULL DEFAULT 'pending',
  tags_json TEXT NOT NULL DEFAULT '[]',
  UNIQUE(issue_id, item_id),
  FOREIGN KEY(issue_id) REFERENCES issues(id)
);
CREATE TABLE IF NOT EXISTS pull_requests (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  repo_id INTEGER NOT NULL,
  pr_number INTEGER NOT NULL,
  head_sha TEXT NOT NULL DEFAULT '',
  linked_issue_id INTEGER,
  test_manifest_json TEXT,
  validation_status TEXT NOT NULL DEFAULT 'pending',
  closed INTEGER NOT NULL DEFAULT 0,
  merged INTEGER NOT NULL DEFAULT 0,
  created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
  updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
  UNIQUE(repo_id, pr_number),
  FOREIGN KEY(repo_id) REFERENCES repos(id)
);
CREATE INDEX IF NOT EXISTS idx_prs_head_sha ON pull_requests(repo_id, head_sha);
CREATE TABLE IF NOT EXISTS test_results (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  pr_id INTEGER NOT NULL,
  test_id TEXT NOT NULL,
  name TEXT NOT NULL,
  status TEXT NOT NULL,
  duration_ms INTEGER,
  error_message TEXT,
  checklist_ids_json TEXT NOT NULL DEFAULT '[]',
  UNIQUE(pr_id, test_id),
  FOREIGN KEY(pr_id) REFERENCES pull_requests(id)
);
`
	_, err := db.Exec(schema)
	return err
}

type Repo struct {
	ID             int64
	FullName       string
	GitHubID       int64
	InstallationID sql.NullInt64
	IsInstalled    bool
	UpdatedAt      time.Time
}

type IssueRecord struct {
	ID          int64
	RepoID      int64
	IssueNumber int64
	Title       string
	Body        string
	Status      string
	Checklist   []parse.ChecklistItem
}

type PRRecord struct {
	ID               int64
	RepoID           int64
	PRNumber         int64
	HeadSHA          string
	LinkedIssueID    sql.NullInt64
	TestManifestJSON sql.NullString
	ValidationStatus string
	Closed           bool
	Merged           bool
}

// UpsertRepo records a repository as installed under the given installation.
func (s *Store) UpsertRepo(ctx context.Context, fullName string, githubID, installationID int64) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO repos (full_name, github_id, installation_id, is_installed)
VALUES (?,?,?,1)
ON CONFLICT(full_name) DO UPDATE SET
  github_id=excluded.github_id,
  installation_id=excluded.installation_id,
  is_installed=1,
  updated_at=CURRENT_TIMESTAMP`, fullName, githubID, installationID)
	return err
}

// MarkInstallationRemoved flips every repo under the installation to
// uninstalled and detaches the installation id.
func (s *Store) MarkInstallationRemoved(ctx context.Context, installationID int64) error {
	_, err := s.db.ExecContext(ctx, `
UPDATE repos SET is_installed=0, installation_id=NULL, updated_at=CURRENT_TIMESTAMP
WHERE installation_id=?`, installationID)
	return err
}

// MarkRepoRemoved flips a single repo to uninstalled (installation_repositories/removed).
func (s *Store) MarkRepoRemoved(ctx context.Context, fullName string) error {
	_, err := s.db.ExecContext(ctx, `
UPDATE repos SET is_installed=0, installation_id=NULL, updated_at=CURRENT_TIMESTAMP
WHERE full_name=?`, fullName)
	return err
}

func (s *Store) GetRepoByFullName(ctx context.Context, fullName string) (Repo, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, full_name, COALESCE(github_id,0), installation_id, is_installed, updated_at
FROM repos WHERE full_name=?`, fullName)
	var r Repo
	if err := row.Scan(&r.ID, &r.FullName, &r.GitHubID, &r.InstallationID, &r.IsInstalled, &r.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Repo{}, ErrNotFound
		}
		return Repo{}, err
	}
	return r, nil
}

func (s *Store) ListInstalledRepos(ctx context.Context) ([]Repo, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, full_name, COALESCE(github_id,0), installation_id, is_installed, updated_at
FROM repos WHERE is_installed=1 ORDER BY full_name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var repos []Repo
	for rows.Next() {
		var r Repo
		if err := rows.Scan(&r.ID, &r.FullName, &r.GitHubID, &r.InstallationID, &r.IsInstalled, &r.UpdatedAt); err != nil {
			return nil, err
		}
		repos = append(repos, r)
	}
	return repos, rows.Err()
}

// UpsertIssue writes the issue row and its checklist JSON, returning the
// issue's row id.
func (s *Store) UpsertIssue(ctx context.Context, repoID, issueNumber int64, title, body string, checklist []parse.ChecklistItem) (int64, error) {
	checklistJSON, err := json.Marshal(checklist)
	if err != nil {
		return 0, err
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO issues (repo_id, issue_number, title, body, status, checklist_json)
VALUES (?,?,?,?, 'processed', ?)
ON CONFLICT(repo_id, issue_number) DO UPDATE SET
  title=excluded.title,
  body=excluded.body,
  status='processed',
  checklist_json=excluded.checklist_json,
  updated_at=CURRENT_TIMESTAMP`, repoID, issueNumber, title, body, string(checklistJSON))
	if err != nil {
		return 0, err
	}

	var id int64
	row := s.db.QueryRowContext(ctx, `SELECT id FROM issues WHERE repo_id=? AND issue_number=?`, repoID, issueNumber)
	if err := row.Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

// ReplaceChecklistItems swaps the item rows for an issue. Statuses reset to
// pending; CI mapping re-derives them on the next workflow run.
func (s *Store) ReplaceChecklistItems(ctx context.Context, issueID int64, items []parse.ChecklistItem) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM checklist_items WHERE issue_id=?`, issueID); err != nil {
		return err
	}
	for _, it := range items {
		tags, err := json.Marshal(it.Tags)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO checklist_items (issue_id, item_id, text, required, status, tags_json)
VALUES (?,?,?,?, 'pending', ?)`, issueID, it.ID, it.Text, it.Required, string(tags)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) GetIssue(ctx context.Context, repoID, issueNumber int64) (IssueRecord, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, repo_id, issue_number, title, body, status, COALESCE(checklist_json,'[]')
FROM issues WHERE repo_id=? AND issue_number=?`, repoID, issueNumber)
	var rec IssueRecord
	var checklistJSON string
	if err := row.Scan(&rec.ID, &rec.RepoID, &rec.IssueNumber, &rec.Title, &rec.Body, &rec.Status, &checklistJSON); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return IssueRecord{}, ErrNotFound
		}
		return IssueRecord{}, err
	}
	if err := json.Unmarshal([]byte(checklistJSON), &rec.Checklist); err != nil {
		return IssueRecord{}, err
	}
	return rec, nil
}

func (s *Store) GetIssueByID(ctx context.Context, issueID int64) (IssueRecord, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, repo_id, issue_number, title, body, status, COALESCE(checklist_json,'[]')
FROM issues WHERE id=?`, issueID)
	var rec IssueRecord
	var checklistJSON string
	if err := row.Scan(&rec.ID, &rec.RepoID, &rec.IssueNumber, &rec.Title, &rec.Body, &rec.Status, &checklistJSON); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return IssueRecord{}, ErrNotFound
		}
		return IssueRecord{}, err
	}
	if err := json.Unmarshal([]byte(checklistJSON), &rec.Checklist); err != nil {
		return IssueRecord{}, err
	}
	return rec, nil
}

type ChecklistItemRow struct {
	ItemID   string
	Text     string
	Required bool
	Status   string
	Tags     []string
}

func (s *Store) ListChecklistItems(ctx context.Context, issueID int64) ([]ChecklistItemRow, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT item_id, text, required, status, tags_json
FROM checklist_items WHERE issue_id=? ORDER BY item_id`, issueID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []ChecklistItemRow
	for rows.Next() {
		var it ChecklistItemRow
		var tags string
		if err := rows.Scan(&it.ItemID, &it.Text, &it.Required, &it.Status, &tags); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(tags), &it.Tags); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// UpdateChecklistStatuses applies CI-derived statuses to checklist items.
func (s *Store) UpdateChecklistStatuses(ctx context.Context, issueID int64, statuses map[string]string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for itemID, status := range statuses {
		if _, err := tx.ExecContext(ctx, `
UPDATE checklist_items SET status=? WHERE issue_id=? AND item_id=?`, status, issueID, itemID); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// UpsertPullRequest writes the PR row, returning its row id. The linked
// issue is only set on first sight; a later synchronize keeps the link.
func (s *Store) UpsertPullRequest(ctx context.Context, repoID, prNumber int64, headSHA string, linkedIssueID *int64) (int64, error) {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO pull_requests (repo_id, pr_number, head_sha, linked_issue_id)
VALUES (?,?,?,?)
ON CONFLICT(repo_id, pr_number) DO UPDATE SET
  head_sha=excluded.head_sha,
  updated_at=CURRENT_TIMESTAMP`, repoID, prNumber, headSHA, linkedIssueID)
	if err != nil {
		return 0, err
	}
	var id int64
	row := s.db.QueryRowContext(ctx, `SELECT id FROM pull_requests WHERE repo_id=? AND pr_number=?`, repoID, prNumber)
	if err := row.Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

func (s *Store) SetTestManifest(ctx context.Context, prID int64, manifestJSON []byte) error {
	_, err := s.db.ExecContext(ctx, `
UPDATE pull_requests SET test_manifest_json=?, updated_at=CURRENT_TIMESTAMP WHERE id=?`, string(manifestJSON), prID)
	return err
}

func (s *Store) SetValidationStatus(ctx context.Context, prID int64, status string) error {
	_, err := s.db.ExecContext(ctx, `
UPDATE pull_requests SET validation_status=?, updated_at=CURRENT_TIMESTAMP WHERE id=?`, status, prID)
	return err
}

func (s *Store) MarkPRClosed(ctx context.Context, repoID, prNumber int64, merged bool) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO pull_requests (repo_id, pr_number, closed, merged)
VALUES (?,?,1,?)
ON CONFLICT(repo_id, pr_number) DO UPDATE SET
  closed=1,
  merged=excluded.merged,
  updated_at=CURRENT_TIMESTAMP`, repoID, prNumber, merged)
	return err
}

func (s *Store) GetPullRequest(ctx context.Context, repoID, prNumber int64) (PRRecord, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, repo_id, pr_number, head_sha, linked_issue_id, test_manifest_json, validation_status, closed, merged
FROM pull_requests WHERE repo_id=? AND pr_number=?`, repoID, prNumber)
	return scanPR(row)
}

func (s *Store) GetPullRequestByHeadSHA(ctx context.Context, repoID int64, headSHA string) (PRRecord, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, repo_id, pr_number, head_sha, linked_issue_id, test_manifest_json, validation_status, closed, merged
FROM pull_requests WHERE repo_id=? AND head_sha=?`, repoID, headSHA)
	return scanPR(row)
}

func scanPR(row *sql.Row) (PRRecord, error) {
	var rec PRRecord
	if err := row.Scan(&rec.ID, &rec.RepoID, &rec.PRNumber, &rec.HeadSHA, &rec.LinkedIssueID, &rec.TestManifestJSON, &rec.ValidationStatus, &rec.Closed, &rec.Merged); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return PRRecord{}, ErrNotFound
		}
		return PRRecord{}, err
	}
	return rec, nil
}

// ReplaceTestResults swaps the CI results for a PR.
func (s *Store) ReplaceTestResults(ctx context.Context, prID int64, results []parse.TestResult, checklistIDs map[string][]string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM test_results WHERE pr_id=?`, prID); err != nil {
		return err
	}
	for _, r := range results {
		ids := checklistIDs[r.TestID]
		if ids == nil {
			ids = []string{}
		}
		idsJSON, err := json.Marshal(ids)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO test_results (pr_id, test_id, name, status, duration_ms, error_message, checklist_ids_json)
VALUES (?,?,?,?,?,?,?)`, prID, r.TestID, r.Name, r.Status, r.DurationMS, r.ErrorMessage, string(idsJSON)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

type TestResultRow struct {
	TestID       string
	Name         string
	Status       string
	DurationMS   sql.NullInt64
	ErrorMessage sql.NullString
	ChecklistIDs []string
}

func (s *Store) ListTestResults(ctx context.Context, prID int64) ([]TestResultRow, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT test_id, name, status, duration_ms, error_message, checklist_ids_json
FROM test_results WHERE pr_id=? ORDER BY test_id`, prID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []TestResultRow
	for rows.Next() {
		var r TestResultRow
		var ids string
		if err := rows.Scan(&r.TestID, &r.Name, &r.Status, &r.DurationMS, &r.ErrorMessage, &ids); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(ids), &r.ChecklistIDs); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}
