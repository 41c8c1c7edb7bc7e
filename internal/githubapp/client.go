package githubapp

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/palguna26/Quantum-Review/internal/domain"
)

const apiRequestTimeout = 10 * time.Second

// Client is the small slice of the GitHub REST API the job handlers need.
// Every call authenticates with an installation token from the TokenSource.
type Client struct {
	tokens *TokenSource
	httpc  *http.Client
	base   string
}

func NewClient(tokens *TokenSource, apiBase string) *Client {
	return &Client{
		tokens: tokens,
		httpc:  &http.Client{Timeout: apiRequestTimeout},
		base:   apiBase,
	}
}

func (c *Client) do(ctx context.Context, installationID int64, method, path string, body any, out any) error {
	token, err := c.tokens.InstallationToken(ctx, installationID)
	if err != nil {
		return err
	}

	var rdr io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		rdr = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rdr)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "token "+token)
	req.Header.Set("Accept", acceptGitHubJSON)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("github %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("github %s %s: status %d: %s", method, path, resp.StatusCode, msg)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("github %s %s: decode response: %w", method, path, err)
		}
	}
	return nil
}

// ListInstallationRepos returns the repositories the installation grants
// access to.
func (c *Client) ListInstallationRepos(ctx context.Context, installationID int64) ([]domain.Repository, error) {
	var out struct {
		Repositories []domain.Repository `json:"repositories"`
	}
	if err := c.do(ctx, installationID, http.MethodGet, "/installation/repositories", nil, &out); err != nil {
		return nil, err
	}
	return out.Repositories, nil
}

// PullRequestFile is one changed file in a PR, with its unified diff patch.
type PullRequestFile struct {
	Filename string `json:"filename"`
	Status   string `json:"status"`
	Patch    string `json:"patch"`
}

func (c *Client) ListPullRequestFiles(ctx context.Context, installationID int64, repoFullName string, number int64) ([]PullRequestFile, error) {
	var files []PullRequestFile
	path := fmt.Sprintf("/repos/%s/pulls/%d/files", repoFullName, number)
	if err := c.do(ctx, installationID, http.MethodGet, path, nil, &files); err != nil {
		return nil, err
	}
	return files, nil
}

// Artifact is a workflow run artifact reference.
type Artifact struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

func (c *Client) ListRunArtifacts(ctx context.Context, installationID int64, repoFullName string, runID int64) ([]Artifact, error) {
	var out struct {
		Artifacts []Artifact `json:"artifacts"`
	}
	path := fmt.Sprintf("/repos/%s/actions/runs/%d/artifacts", repoFullName, runID)
	if err := c.do(ctx, installationID, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Artifacts, nil
}

const maxArtifactBytes = 32 << 20

// DownloadArtifact fetches an artifact archive and returns the first XML
// file inside it. GitHub serves artifacts as zip regardless of content.
func (c *Client) DownloadArtifact(ctx context.Context, installationID int64, repoFullName string, artifactID int64) ([]byte, error) {
	token, err := c.tokens.InstallationToken(ctx, installationID)
	if err != nil {
		return nil, err
	}
	url := fmt.Sprintf("%s/repos/%s/actions/artifacts/%d/zip", c.base, repoFullName, artifactID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "token "+token)
	req.Header.Set("Accept", acceptGitHubJSON)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download artifact %d: %w", artifactID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("download artifact %d: status %d", artifactID, resp.StatusCode)
	}

	archive, err := io.ReadAll(io.LimitReader(resp.Body, maxArtifactBytes))
	if err != nil {
		return nil, fmt.Errorf("read artifact %d: %w", artifactID, err)
	}
	zr, err := zip.NewReader(bytes.NewReader(archive), int64(len(archive)))
	if err != nil {
		return nil, fmt.Errorf("open artifact %d: %w", artifactID, err)
	}
	for _, f := range zr.File {
		if !strings.HasSuffix(strings.ToLower(f.Name), ".xml") {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, err
		}
		content, err := io.ReadAll(io.LimitReader(rc, maxArtifactBytes))
		rc.Close()
		if err != nil {
			return nil, err
		}
		return content, nil
	}
	return nil, fmt.Errorf("artifact %d contains no xml report", artifactID)
}

func (c *Client) CreateIssueComment(ctx context.Context, installationID int64, repoFullName string, number int64, body string) error {
	path := fmt.Sprintf("/repos/%s/issues/%d/comments", repoFullName, number)
	return c.do(ctx, installationID, http.MethodPost, path, map[string]string{"body": body}, nil)
}

func (c *Client) GetRepo(ctx context.Context, installationID int64, repoFullName string) (domain.Repository, error) {
	var repo domain.Repository
	if err := c.do(ctx, installationID, http.MethodGet, "/repos/"+repoFullName, nil, &repo); err != nil {
		return domain.Repository{}, err
	}
	return repo, nil
}
