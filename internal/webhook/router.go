package webhook

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/palguna26/Quantum-Review/internal/domain"
)

// Notifier publishes best-effort repo events for the frontend event stream.
// Publishing failures never affect routing.
type Notifier interface {
	RepoEvent(ctx context.Context, repoID int64, kind string, data map[string]any)
}

// Router maps (event type, action) pairs onto background jobs. It is a flat
// dispatch table: unknown events and actions are logged and ignored so new
// GitHub event types never break ingestion. It performs no blocking I/O and
// never returns an error.
type Router struct {
	notifier Notifier
}

func NewRouter(notifier Notifier) *Router {
	return &Router{notifier: notifier}
}

// Route classifies one webhook delivery into zero or more job intents. The
// payload has already passed signature verification and JSON decoding.
func (r *Router) Route(ctx context.Context, event, action string, payload json.RawMessage) []domain.Job {
	switch event {
	case "installation":
		if action == "created" || action == "deleted" {
			return []domain.Job{{Kind: domain.JobSyncInstallationRepos, Payload: payload}}
		}
	case "installation_repositories":
		if action == "added" || action == "removed" {
			return []domain.Job{{Kind: domain.JobSyncInstallationRepos, Payload: payload}}
		}
	case "issues":
		if action == "opened" || action == "edited" {
			r.publishIssueUpdated(ctx, action, payload)
			return []domain.Job{{Kind: domain.JobGenerateChecklist, Payload: payload}}
		}
	case "pull_request":
		switch action {
		case "opened", "synchronize":
			return []domain.Job{{Kind: domain.JobGenerateTestManifest, Payload: payload}}
		case "closed":
			return []domain.Job{{Kind: domain.JobHandlePRClosed, Payload: payload}}
		}
	case "workflow_run":
		if action == "completed" {
			return []domain.Job{{Kind: domain.JobProcessWorkflowRun, Payload: payload}}
		}
	case "check_suite", "check_run":
		log.Debug().Str("event", event).Str("action", action).Msg("check event ignored")
		return nil
	}
	log.Debug().Str("event", event).Str("action", action).Msg("unhandled webhook event")
	return nil
}

func (r *Router) publishIssueUpdated(ctx context.Context, action string, payload json.RawMessage) {
	if r.notifier == nil {
		return
	}
	var p domain.WebhookPayload
	if err := json.Unmarshal(payload, &p); err != nil || p.Repository == nil {
		return
	}
	var issueNumber int64
	if p.Issue != nil {
		issueNumber = p.Issue.Number
	}
	r.notifier.RepoEvent(ctx, p.Repository.ID, "issue_updated", map[string]any{
		"action":         action,
		"issue_number":   issueNumber,
		"repo_full_name": p.Repository.FullName,
	})
}
