package webhook

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/palguna26/Quantum-Review/internal/domain"
)

type captureNotifier struct {
	repoID int64
	kind   string
	data   map[string]any
	calls  int
}

func (c *captureNotifier) RepoEvent(_ context.Context, repoID int64, kind string, data map[string]any) {
	c.repoID, c.kind, c.data = repoID, kind, data
	c.calls++
}

func route(t *testing.T, r *Router, event, action string, payload string) []domain.Job {
	t.Helper()
	body := payload
	if body == "" {
		body = `{"action":"` + action + `"}`
	}
	return r.Route(context.Background(), event, action, json.RawMessage(body))
}

func TestRouter_DispatchTable(t *testing.T) {
	r := NewRouter(nil)

	cases := []struct {
		event, action string
		want          domain.JobKind
	}{
		{"installation", "created", domain.JobSyncInstallationRepos},
		{"installation", "deleted", domain.JobSyncInstallationRepos},
		{"installation_repositories", "added", domain.JobSyncInstallationRepos},
		{"installation_repositories", "removed", domain.JobSyncInstallationRepos},
		{"issues", "opened", domain.JobGenerateChecklist},
		{"issues", "edited", domain.JobGenerateChecklist},
		{"pull_request", "opened", domain.JobGenerateTestManifest},
		{"pull_request", "synchronize", domain.JobGenerateTestManifest},
		{"pull_request", "closed", domain.JobHandlePRClosed},
		{"workflow_run", "completed", domain.JobProcessWorkflowRun},
	}
	for _, tc := range cases {
		jobs := route(t, r, tc.event, tc.action, "")
		if len(jobs) != 1 {
			t.Fatalf("%s/%s: got %d jobs, want 1", tc.event, tc.action, len(jobs))
		}
		if jobs[0].Kind != tc.want {
			t.Fatalf("%s/%s: got kind %q, want %q", tc.event, tc.action, jobs[0].Kind, tc.want)
		}
	}
}

func TestRouter_NoOpEvents(t *testing.T) {
	r := NewRouter(nil)

	cases := [][2]string{
		{"check_run", "completed"},
		{"check_suite", "requested"},
		{"installation", "suspend"},
		{"issues", "closed"},
		{"pull_request", "labeled"},
		{"workflow_run", "requested"},
		{"star", "created"},
		{"", ""},
	}
	for _, tc := range cases {
		if jobs := route(t, r, tc[0], tc[1], ""); len(jobs) != 0 {
			t.Fatalf("%s/%s: got %d jobs, want 0", tc[0], tc[1], len(jobs))
		}
	}
}

func TestRouter_PayloadPassesThroughIntact(t *testing.T) {
	r := NewRouter(nil)
	payload := `{"action":"synchronize","pull_request":{"number":42,"head":{"sha":"abc"}},"repository":{"id":7,"full_name":"acme/api"}}`

	jobs := route(t, r, "pull_request", "synchronize", payload)
	if len(jobs) != 1 {
		t.Fatalf("got %d jobs, want 1", len(jobs))
	}
	if string(jobs[0].Payload) != payload {
		t.Fatalf("payload altered in routing:\n%s", jobs[0].Payload)
	}
}

func TestRouter_IssueOpenedPublishesNotification(t *testing.T) {
	n := &captureNotifier{}
	r := NewRouter(n)
	payload := `{"action":"opened","issue":{"number":5,"title":"t"},"repository":{"id":99,"full_name":"acme/api"}}`

	jobs := route(t, r, "issues", "opened", payload)
	if len(jobs) != 1 || jobs[0].Kind != domain.JobGenerateChecklist {
		t.Fatalf("unexpected jobs %+v", jobs)
	}
	if n.calls != 1 {
		t.Fatalf("notifier called %d times, want 1", n.calls)
	}
	if n.repoID != 99 || n.kind != "issue_updated" {
		t.Fatalf("unexpected notification repo=%d kind=%q", n.repoID, n.kind)
	}
	if n.data["issue_number"] != int64(5) {
		t.Fatalf("unexpected issue number %v", n.data["issue_number"])
	}
}
