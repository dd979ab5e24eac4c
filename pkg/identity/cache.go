package identity

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/racegraph/platform/pkg/common/logger"
	"github.com/racegraph/platform/pkg/common/models"
	"github.com/redis/go-redis/v9"
)

// Cache is a redis read-through in front of the profile repository. The
// matcher resolves a user per ingested entry, so a short TTL keeps the hot
// path off postgres without serving stale facts for long.
type Cache struct {
	repo  *Repository
	redis *redis.Client
	ttl   time.Duration
}

func NewCache(repo *Repository, client *redis.Client, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Cache{repo: repo, redis: client, ttl: ttl}
}

func (c *Cache) GetIdentity(ctx context.Context, userID uuid.UUID) (models.UserIdentity, error) {
	key := cacheKey(userID)

	if c.redis != nil {
		if raw, err := c.redis.Get(ctx, key).Bytes(); err == nil {
			var ident models.UserIdentity
			if err := json.Unmarshal(raw, &ident); err == nil {
				return ident, nil
			}
		}
	}

	ident, err := c.repo.GetIdentity(ctx, userID)
	if err != nil {
		return models.UserIdentity{}, err
	}

	if c.redis != nil {
		if raw, err := json.Marshal(ident); err == nil {
			if err := c.redis.Set(ctx, key, raw, c.ttl).Err(); err != nil {
				logger.Log.WithError(err).Warn("failed to cache identity")
			}
		}
	}

	return ident, nil
}

// UpsertIdentity writes through the repository and drops the cached entry
// so the recomputed normalized name is visible immediately.
func (c *Cache) UpsertIdentity(ctx context.Context, userID uuid.UUID, driverNameRaw, transponderNumber string) (models.UserIdentity, error) {
	ident, err := c.repo.UpsertIdentity(ctx, userID, driverNameRaw, transponderNumber)
	if err != nil {
		return models.UserIdentity{}, err
	}
	if c.redis != nil {
		if err := c.redis.Del(ctx, cacheKey(userID)).Err(); err != nil {
			logger.Log.WithError(err).Warn("failed to invalidate identity cache")
		}
	}
	return ident, nil
}

// ListIdentities is uncached: it backs the full matching sweep, not the
// per-entry hot path.
func (c *Cache) ListIdentities(ctx context.Context) ([]models.UserIdentity, error) {
	return c.repo.ListIdentities(ctx)
}

func cacheKey(userID uuid.UUID) string {
	return "identity:profile:" + userID.String()
}
