package domain

import (
	"encoding/json"
	"time"
)

// JobKind is the closed set of background job types. The router only ever
// produces values from this set; the worker registry rejects anything else.
type JobKind string

const (
	JobSyncInstallationRepos JobKind = "sync_installation_repos"
	JobGenerateChecklist     JobKind = "generate_checklist"
	JobGenerateTestManifest  JobKind = "generate_test_manifest"
	JobHandlePRClosed        JobKind = "handle_pr_closed"
	JobProcessWorkflowRun    JobKind = "process_workflow_run"
	JobRefreshRepository     JobKind = "refresh_repository"
)

func (k JobKind) Valid() bool {
	switch k {
	case JobSyncInstallationRepos, JobGenerateChecklist, JobGenerateTestManifest,
		JobHandlePRClosed, JobProcessWorkflowRun, JobRefreshRepository:
		return true
	}
	return false
}

// Job is a unit of asynchronous work enqueued by the webhook router or the
// scheduler. Payload carries the originating webhook payload verbatim;
// handlers fetch fresh upstream state at execution time rather than trusting
// fields captured at enqueue time.
type Job struct {
	ID                string
	Kind              JobKind
	Payload           json.RawMessage
	Priority          int
	Attempts          int
	MaxAttempts       int
	State             string
	NextRunAt         time.Time
	VisibilityTimeout int // seconds
	IdempotencyKey    *string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Schedule drives recurring jobs (repository refresh) on a cron expression.
type Schedule struct {
	ID          string
	Name        string
	CronExpr    string
	JobKind     JobKind
	Payload     json.RawMessage
	Priority    int
	MaxAttempts int
	Enabled     bool
	LastRun     *time.Time
	NextRun     time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Webhook payload envelopes. Only the fields the handlers actually read are
// declared; the rest of the GitHub payload passes through as raw JSON.

type Repository struct {
	ID       int64  `json:"id"`
	FullName string `json:"full_name"`
	Private  bool   `json:"private"`
}

type Installation struct {
	ID int64 `json:"id"`
}

type Issue struct {
	Number int64  `json:"number"`
	Title  string `json:"title"`
	Body   string `json:"body"`
	State  string `json:"state"`
}

type PullRequest struct {
	Number int64  `json:"number"`
	Title  string `json:"title"`
	Body   string `json:"body"`
	Merged bool   `json:"merged"`
	Head   struct {
		SHA string `json:"sha"`
	} `json:"head"`
}

type WorkflowRun struct {
	ID         int64  `json:"id"`
	HeadSHA    string `json:"head_sha"`
	Status     string `json:"status"`
	Conclusion string `json:"conclusion"`
}

// WebhookPayload is the superset envelope the router and handlers decode
// into. Absent sections stay zero-valued.
type WebhookPayload struct {
	Action              string        `json:"action"`
	Installation        *Installation `json:"installation,omitempty"`
	Repository          *Repository   `json:"repository,omitempty"`
	Issue               *Issue        `json:"issue,omitempty"`
	PullRequest         *PullRequest  `json:"pull_request,omitempty"`
	WorkflowRun         *WorkflowRun  `json:"workflow_run,omitempty"`
	RepositoriesRemoved []Repository  `json:"repositories_removed,omitempty"`
}
