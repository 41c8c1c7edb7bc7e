package webhook

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const deliveryKeyPrefix = "webhook:delivery:"

// Deduper records webhook delivery ids in Redis so redelivered events are
// processed at most once per TTL window.
type Deduper struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewDeduper(rdb *redis.Client, ttl time.Duration) *Deduper {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Deduper{rdb: rdb, ttl: ttl}
}

// Seen returns true when deliveryID was already recorded within the TTL
// window. The check-and-set is a single SET NX round trip so two concurrent
// deliveries cannot both observe "absent". An existing record keeps its
// original TTL. Redis being unreachable fails open: the delivery is treated
// as fresh rather than dropped, since handlers are idempotent.
func (d *Deduper) Seen(ctx context.Context, deliveryID string) bool {
	set, err := d.rdb.SetNX(ctx, deliveryKeyPrefix+deliveryID, "1", d.ttl).Result()
	if err != nil {
		log.Warn().Err(err).Str("delivery_id", deliveryID).Msg("delivery dedupe check failed, processing anyway")
		return false
	}
	return !set
}
