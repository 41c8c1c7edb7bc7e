// Package jobs holds the background job handlers the webhook router
// dispatches to. Every handler is idempotent: it re-fetches upstream state
// at execution time and upserts by natural key, so retries and redeliveries
// converge instead of corrupting rows.
package jobs

import (
	"context"
	"sync"

	"github.com/palguna26/Quantum-Review/internal/domain"
	"github.com/palguna26/Quantum-Review/internal/githubapp"
	"github.com/palguna26/Quantum-Review/internal/store"
	"github.com/palguna26/Quantum-Review/internal/worker"
)

// GitHubAPI is the slice of the GitHub client the handlers call. All access
// goes through installation tokens; handlers never hold raw credentials.
type GitHubAPI interface {
	ListInstallationRepos(ctx context.Context, installationID int64) ([]domain.Repository, error)
	ListPullRequestFiles(ctx context.Context, installationID int64, repoFullName string, number int64) ([]githubapp.PullRequestFile, error)
	ListRunArtifacts(ctx context.Context, installationID int64, repoFullName string, runID int64) ([]githubapp.Artifact, error)
	DownloadArtifact(ctx context.Context, installationID int64, repoFullName string, artifactID int64) ([]byte, error)
	CreateIssueComment(ctx context.Context, installationID int64, repoFullName string, number int64, body string) error
	GetRepo(ctx context.Context, installationID int64, repoFullName string) (domain.Repository, error)
}

type Notifier interface {
	RepoEvent(ctx context.Context, repoID int64, kind string, data map[string]any)
}

// Deps carries the handlers' collaborators. A nil Notify disables event
// publishing but never fails a job.
type Deps struct {
	Store  *store.Store
	GitHub GitHubAPI
	Notify Notifier

	installLocks keyedMutex
}

// Register wires every job kind to its handler.
func (d *Deps) Register(reg worker.Registry) error {
	pairs := []struct {
		kind domain.JobKind
		h    worker.HandlerFunc
	}{
		{domain.JobSyncInstallationRepos, d.SyncInstallationRepos},
		{domain.JobGenerateChecklist, d.GenerateChecklist},
		{domain.JobGenerateTestManifest, d.GenerateTestManifest},
		{domain.JobHandlePRClosed, d.HandlePRClosed},
		{domain.JobProcessWorkflowRun, d.ProcessWorkflowRun},
		{domain.JobRefreshRepository, d.RefreshRepository},
	}
	for _, p := range pairs {
		if err := reg.Register(p.kind, p.h); err != nil {
			return err
		}
	}
	return nil
}

func (d *Deps) notifyRepo(ctx context.Context, repoID int64, kind string, data map[string]any) {
	if d.Notify != nil {
		d.Notify.RepoEvent(ctx, repoID, kind, data)
	}
}

// keyedMutex serializes work per key. Installation sync jobs lock on the
// installation id so concurrent installation and installation_repositories
// deliveries cannot interleave their repo upserts.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

func (k *keyedMutex) lock(key int64) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[int64]*sync.Mutex)
	}
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()

	m.Lock()
	return m.Unlock
}
