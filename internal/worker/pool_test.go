package worker

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/palguna26/Quantum-Review/internal/domain"
	"github.com/palguna26/Quantum-Review/internal/queue"
)

func testQueue(t *testing.T) queue.Repository {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	if err := queue.EnsureSchema(db); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	return queue.NewSQLiteRepo(db)
}

func waitForState(t *testing.T, repo queue.Repository, id, want string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		j, err := repo.Get(context.Background(), id)
		if err == nil && j.State == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	j, _ := repo.Get(context.Background(), id)
	t.Fatalf("job %s state %q, want %q", id, j.State, want)
}

func TestRegistryRejectsUnknownKind(t *testing.T) {
	r := Registry{}
	err := r.Register("mystery", HandlerFunc(func(context.Context, json.RawMessage) error { return nil }))
	if err == nil {
		t.Fatalf("unknown kind registered")
	}
	if err := r.Register(domain.JobGenerateChecklist, HandlerFunc(func(context.Context, json.RawMessage) error { return nil })); err != nil {
		t.Fatalf("valid kind rejected: %v", err)
	}
	if err := r.Register(domain.JobGenerateChecklist, HandlerFunc(func(context.Context, json.RawMessage) error { return nil })); err == nil {
		t.Fatalf("duplicate registration accepted")
	}
}

func TestPoolExecutesJob(t *testing.T) {
	repo := testQueue(t)
	var got atomic.Value

	handlers := Registry{}
	_ = handlers.Register(domain.JobGenerateChecklist, HandlerFunc(func(_ context.Context, payload json.RawMessage) error {
		got.Store(string(payload))
		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool := NewPool(repo, handlers, 2, 10*time.Millisecond)
	go pool.Run(ctx)

	id, err := repo.Enqueue(ctx, domain.Job{Kind: domain.JobGenerateChecklist, Payload: json.RawMessage(`{"n":1}`)})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	waitForState(t, repo, id, "succeeded")
	if got.Load() != `{"n":1}` {
		t.Fatalf("handler payload %v", got.Load())
	}
}

func TestPoolIsolatesFailures(t *testing.T) {
	repo := testQueue(t)
	handlers := Registry{}
	_ = handlers.Register(domain.JobSyncInstallationRepos, HandlerFunc(func(context.Context, json.RawMessage) error {
		return errors.New("always fails")
	}))
	_ = handlers.Register(domain.JobHandlePRClosed, HandlerFunc(func(context.Context, json.RawMessage) error {
		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool := NewPool(repo, handlers, 2, 10*time.Millisecond)
	go pool.Run(ctx)

	badID, _ := repo.Enqueue(ctx, domain.Job{Kind: domain.JobSyncInstallationRepos, Payload: json.RawMessage(`{}`), MaxAttempts: 1})
	goodID, _ := repo.Enqueue(ctx, domain.Job{Kind: domain.JobHandlePRClosed, Payload: json.RawMessage(`{}`)})

	waitForState(t, repo, goodID, "succeeded")
	waitForState(t, repo, badID, "failed")
}

func TestPoolFailsJobWithoutHandler(t *testing.T) {
	repo := testQueue(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool := NewPool(repo, Registry{}, 1, 10*time.Millisecond)
	go pool.Run(ctx)

	id, _ := repo.Enqueue(ctx, domain.Job{Kind: domain.JobRefreshRepository, Payload: json.RawMessage(`{}`)})
	waitForState(t, repo, id, "failed")
}
