package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/palguna26/Quantum-Review/internal/domain"
	"github.com/palguna26/Quantum-Review/internal/queue"
)

// Handler executes one kind of background job. Handlers must be idempotent:
// the queue is at-least-once and retries redeliver the same payload.
type Handler interface {
	Handle(ctx context.Context, payload json.RawMessage) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, payload json.RawMessage) error

func (f HandlerFunc) Handle(ctx context.Context, payload json.RawMessage) error {
	return f(ctx, payload)
}

// Registry maps job kinds to handlers. Registration rejects kinds outside
// the domain set so a typo fails at startup, not at dispatch.
type Registry map[domain.JobKind]Handler

func (r Registry) Register(kind domain.JobKind, h Handler) error {
	if !kind.Valid() {
		return fmt.Errorf("register handler: unknown job kind %q", kind)
	}
	if _, dup := r[kind]; dup {
		return fmt.Errorf("register handler: duplicate for kind %q", kind)
	}
	r[kind] = h
	return nil
}

// Pool polls the queue and runs leased jobs on a bounded set of goroutines.
// Each job runs with its own timeout; a failing job is retried with backoff
// and never blocks its neighbors.
type Pool struct {
	repo      queue.Repository
	handlers  Registry
	sem       chan struct{}
	pollEvery time.Duration
}

func NewPool(repo queue.Repository, handlers Registry, size int, pollEvery time.Duration) *Pool {
	if size <= 0 {
		size = 1
	}
	return &Pool{repo: repo, handlers: handlers, sem: make(chan struct{}, size), pollEvery: pollEvery}
}

func (p *Pool) Run(ctx context.Context) {
	t := time.NewTicker(p.pollEvery)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			p.drain(ctx, now)
		}
	}
}

func (p *Pool) drain(ctx context.Context, now time.Time) {
	for {
		job, _, err := p.repo.LeaseNext(ctx, now)
		if errors.Is(err, queue.ErrEmpty) {
			return
		}
		if err != nil {
			log.Error().Err(err).Msg("lease next job")
			return
		}
		select {
		case p.sem <- struct{}{}:
		case <-ctx.Done():
			return
		}
		go func(j domain.Job) {
			defer func() { <-p.sem }()
			p.execute(ctx, j)
		}(job)
	}
}

func (p *Pool) execute(ctx context.Context, j domain.Job) {
	h, ok := p.handlers[j.Kind]
	if !ok {
		log.Error().Str("job_id", j.ID).Str("kind", string(j.Kind)).Msg("no handler registered")
		_ = p.repo.Fail(ctx, j.ID, "no handler for kind "+string(j.Kind), 0)
		return
	}

	c, cancel := context.WithTimeout(ctx, time.Duration(j.VisibilityTimeout)*time.Second)
	defer cancel()

	if err := h.Handle(c, j.Payload); err != nil {
		log.Error().
			Err(err).
			Str("job_id", j.ID).
			Str("kind", string(j.Kind)).
			Int("attempt", j.Attempts+1).
			Str("payload", truncate(j.Payload, 256)).
			Msg("job failed")
		_ = p.repo.Retry(ctx, j.ID, err.Error(), backoffExp(j.Attempts))
		return
	}
	log.Info().Str("job_id", j.ID).Str("kind", string(j.Kind)).Msg("job succeeded")
	_ = p.repo.Succeed(ctx, j.ID)
}

func backoffExp(attempts int) time.Duration {
	if attempts <= 0 {
		return time.Second
	}
	d := 1 << (attempts - 1) // 1,2,4,8...
	if d > 60 {
		d = 60
	}
	return time.Duration(d) * time.Second
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
