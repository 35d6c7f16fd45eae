package call

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"ringtalk/internal/logger"
	"ringtalk/internal/models"
	"ringtalk/internal/redis"
)

const cacheTTL = 30 * time.Minute

// cacheStore is the slice of the redis client the cache needs. Tests swap in
// an in-memory implementation.
type cacheStore interface {
	Enabled() bool
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	Del(ctx context.Context, keys ...string) error
}

// stateCache keeps recently read sessions and their turn history in redis so
// call read-backs skip the store. Appends invalidate both keys; the next read
// repopulates. Every method tolerates a nil client; cache failures are logged
// and never surfaced.
type stateCache struct {
	client cacheStore
	log    *logger.Logger
}

func newStateCache(client cacheStore, log *logger.Logger) *stateCache {
	if log == nil {
		log = logger.NewNop()
	}
	return &stateCache{client: client, log: log}
}

func sessionKey(id string) string { return fmt.Sprintf("call:session:%s", id) }
func turnsKey(id string) string   { return fmt.Sprintf("call:turns:%s", id) }

func (c *stateCache) enabled() bool {
	return c != nil && c.client != nil && c.client.Enabled()
}

func (c *stateCache) store(ctx context.Context, session *models.Session, turns []models.Turn) {
	if !c.enabled() || session == nil {
		return
	}
	data, err := json.Marshal(session)
	if err != nil {
		c.log.Warn("encode session for cache failed", "session_id", session.ID, "error", err)
		return
	}
	if err := c.client.Set(ctx, sessionKey(session.ID), data, cacheTTL); err != nil {
		c.log.Warn("cache session failed", "session_id", session.ID, "error", err)
	}
	history, err := json.Marshal(turns)
	if err != nil {
		c.log.Warn("encode turns for cache failed", "session_id", session.ID, "error", err)
		return
	}
	if err := c.client.Set(ctx, turnsKey(session.ID), history, cacheTTL); err != nil {
		c.log.Warn("cache turns failed", "session_id", session.ID, "error", err)
	}
}

func (c *stateCache) load(ctx context.Context, sessionID string) (*models.Session, []models.Turn, bool) {
	if !c.enabled() {
		return nil, nil, false
	}
	rawSession, err := c.client.Get(ctx, sessionKey(sessionID))
	if err != nil {
		if err != redis.ErrCacheMiss {
			c.log.Warn("load cached session failed", "session_id", sessionID, "error", err)
		}
		return nil, nil, false
	}
	var session models.Session
	if err := json.Unmarshal([]byte(rawSession), &session); err != nil {
		c.log.Warn("decode cached session failed", "session_id", sessionID, "error", err)
		return nil, nil, false
	}

	rawTurns, err := c.client.Get(ctx, turnsKey(sessionID))
	if err != nil {
		if err != redis.ErrCacheMiss {
			c.log.Warn("load cached turns failed", "session_id", sessionID, "error", err)
		}
		return nil, nil, false
	}
	var turns []models.Turn
	if err := json.Unmarshal([]byte(rawTurns), &turns); err != nil {
		c.log.Warn("decode cached turns failed", "session_id", sessionID, "error", err)
		return nil, nil, false
	}
	return &session, turns, true
}

func (c *stateCache) invalidate(ctx context.Context, sessionID string) {
	if !c.enabled() {
		return
	}
	if err := c.client.Del(ctx, sessionKey(sessionID), turnsKey(sessionID)); err != nil {
		c.log.Warn("invalidate session cache failed", "session_id", sessionID, "error", err)
	}
}
