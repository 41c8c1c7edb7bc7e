package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// BroadcastChannel receives repo-scoped events; per-user channels follow
// user:<id>:events. The SSE fan-out reads these, we only publish.
const BroadcastChannel = "broadcast:events"

type event struct {
	Type      string         `json:"type"`
	Data      map[string]any `json:"data"`
	Timestamp time.Time      `json:"timestamp"`
}

// Publisher pushes frontend events over Redis pub/sub. Publishing is
// best-effort: failures are logged and never propagate to the caller.
type Publisher struct {
	rdb *redis.Client
	now func() time.Time
}

func NewPublisher(rdb *redis.Client) *Publisher {
	return &Publisher{rdb: rdb, now: time.Now}
}

// RepoEvent broadcasts an event about a repository.
func (p *Publisher) RepoEvent(ctx context.Context, repoID int64, kind string, data map[string]any) {
	if data == nil {
		data = map[string]any{}
	}
	data["repo_id"] = repoID
	p.publish(ctx, BroadcastChannel, kind, data)
}

// UserEvent publishes to a single user's channel.
func (p *Publisher) UserEvent(ctx context.Context, userID int64, kind string, data map[string]any) {
	p.publish(ctx, fmt.Sprintf("user:%d:events", userID), kind, data)
}

func (p *Publisher) publish(ctx context.Context, channel, kind string, data map[string]any) {
	buf, err := json.Marshal(event{Type: kind, Data: data, Timestamp: p.now().UTC()})
	if err != nil {
		log.Error().Err(err).Str("event", kind).Msg("marshal event")
		return
	}
	if err := p.rdb.Publish(ctx, channel, buf).Err(); err != nil {
		log.Error().Err(err).Str("channel", channel).Str("event", kind).Msg("publish event failed")
		return
	}
	log.Debug().Str("channel", channel).Str("event", kind).Msg("published event")
}
