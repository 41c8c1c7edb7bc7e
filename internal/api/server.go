package api

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/pprof"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/palguna26/Quantum-Review/internal/queue"
	"github.com/palguna26/Quantum-Review/internal/store"
	"github.com/palguna26/Quantum-Review/internal/webhook"
)

// maxWebhookBody caps webhook payload reads. GitHub caps payloads at 25MB;
// anything larger is not a webhook.
const maxWebhookBody = 25 << 20

type Server struct {
	repo    queue.Repository
	store   *store.Store
	router  *webhook.Router
	deduper *webhook.Deduper
	secret  []byte
}

type Options struct {
	Queue         queue.Repository
	Store         *store.Store
	Router        *webhook.Router
	Deduper       *webhook.Deduper
	WebhookSecret []byte
	EnableDebug   bool
}

func NewServer(opts Options) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)

	s := &Server{
		repo:    opts.Queue,
		store:   opts.Store,
		router:  opts.Router,
		deduper: opts.Deduper,
		secret:  opts.WebhookSecret,
	}

	r.Get("/health", s.health)
	r.Get("/metrics", s.metrics)
	r.Post("/webhooks/github", s.handleWebhook)
	r.Get("/api/jobs/{id}", s.getJob)
	r.Get("/api/issues/{repoID}/{number}/checklist", s.getChecklist)
	r.Get("/api/prs/{repoID}/{number}/manifest", s.getManifest)

	if opts.EnableDebug {
		r.HandleFunc("/debug/pprof/", pprof.Index)
		r.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		r.HandleFunc("/debug/pprof/profile", pprof.Profile)
		r.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		r.HandleFunc("/debug/pprof/trace", pprof.Trace)
		r.Handle("/debug/pprof/goroutine", pprof.Handler("goroutine"))
		r.Handle("/debug/pprof/heap", pprof.Handler("heap"))
	}

	return r
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) metrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("content-type", "text/plain; version=0.0.4")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("quantumreview_up 1\n"))
}

// handleWebhook ingests one GitHub webhook delivery. The response is always
// fast: jobs are inserted into the queue and executed by the worker pool
// after the HTTP cycle completes. Every non-auth failure still returns 2xx
// where possible so GitHub does not disable the hook.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, "request body unreadable", http.StatusBadRequest)
		return
	}

	// Signature first, before the body is interpreted at all.
	if !webhook.VerifySignature(s.secret, body, r.Header.Get("X-Hub-Signature-256")) {
		http.Error(w, "Invalid signature", http.StatusUnauthorized)
		return
	}

	event := r.Header.Get("X-GitHub-Event")
	deliveryID := r.Header.Get("X-GitHub-Delivery")

	if deliveryID != "" && s.deduper.Seen(r.Context(), deliveryID) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("Duplicate delivery"))
		return
	}

	var envelope struct {
		Action string `json:"action"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	jobs := s.router.Route(r.Context(), event, envelope.Action, body)
	for _, j := range jobs {
		if deliveryID != "" {
			key := deliveryID + ":" + string(j.Kind)
			j.IdempotencyKey = &key
		}
		id, err := s.repo.Enqueue(r.Context(), j)
		if err != nil {
			// The delivery was valid; GitHub will redeliver and dedupe is
			// keyed per delivery+kind, so failing loudly is safe.
			log.Error().Err(err).Str("delivery_id", deliveryID).Str("kind", string(j.Kind)).Msg("enqueue failed")
			http.Error(w, "enqueue failed", http.StatusInternalServerError)
			return
		}
		log.Info().
			Str("delivery_id", deliveryID).
			Str("event", event).
			Str("action", envelope.Action).
			Str("job_id", id).
			Str("kind", string(j.Kind)).
			Msg("webhook job enqueued")
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	j, err := s.repo.Get(r.Context(), id)
	if err != nil {
		http.Error(w, "not found", 404)
		return
	}
	writeJSON(w, 200, map[string]any{
		"id":           j.ID,
		"kind":         j.Kind,
		"state":        j.State,
		"attempts":     j.Attempts,
		"max_attempts": j.MaxAttempts,
		"priority":     j.Priority,
		"next_run_at":  j.NextRunAt.Format(time.RFC3339),
	})
}

func (s *Server) getChecklist(w http.ResponseWriter, r *http.Request) {
	repoID, err1 := strconv.ParseInt(chi.URLParam(r, "repoID"), 10, 64)
	number, err2 := strconv.ParseInt(chi.URLParam(r, "number"), 10, 64)
	if err1 != nil || err2 != nil {
		http.Error(w, "invalid path parameters", 400)
		return
	}

	issue, err := s.store.GetIssue(r.Context(), repoID, number)
	if err != nil {
		http.Error(w, "not found", 404)
		return
	}
	items, err := s.store.ListChecklistItems(r.Context(), issue.ID)
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}

	type itemResp struct {
		ID       string   `json:"id"`
		Text     string   `json:"text"`
		Required bool     `json:"required"`
		Status   string   `json:"status"`
		Tags     []string `json:"tags"`
	}
	resp := struct {
		IssueNumber int64      `json:"issue_number"`
		Title       string     `json:"title"`
		Status      string     `json:"status"`
		Checklist   []itemResp `json:"checklist"`
	}{
		IssueNumber: issue.IssueNumber,
		Title:       issue.Title,
		Status:      issue.Status,
		Checklist:   []itemResp{},
	}
	for _, it := range items {
		resp.Checklist = append(resp.Checklist, itemResp{
			ID: it.ItemID, Text: it.Text, Required: it.Required, Status: it.Status, Tags: it.Tags,
		})
	}
	writeJSON(w, 200, resp)
}

func (s *Server) getManifest(w http.ResponseWriter, r *http.Request) {
	repoID, err1 := strconv.ParseInt(chi.URLParam(r, "repoID"), 10, 64)
	number, err2 := strconv.ParseInt(chi.URLParam(r, "number"), 10, 64)
	if err1 != nil || err2 != nil {
		http.Error(w, "invalid path parameters", 400)
		return
	}

	pr, err := s.store.GetPullRequest(r.Context(), repoID, number)
	if err != nil {
		http.Error(w, "not found", 404)
		return
	}

	manifest := json.RawMessage(`{"tests":[]}`)
	if pr.TestManifestJSON.Valid {
		manifest = json.RawMessage(pr.TestManifestJSON.String)
	}
	resp := map[string]any{
		"pr_number":         pr.PRNumber,
		"head_sha":          pr.HeadSHA,
		"validation_status": pr.ValidationStatus,
		"closed":            pr.Closed,
		"merged":            pr.Merged,
		"manifest":          manifest,
	}
	if pr.LinkedIssueID.Valid {
		if issue, err := s.store.GetIssueByID(r.Context(), pr.LinkedIssueID.Int64); err == nil {
			resp["linked_issue_number"] = issue.IssueNumber
		}
	}
	writeJSON(w, 200, resp)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
