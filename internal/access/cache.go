package access

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/compasshq/compass/internal/permission"
)

const (
	cacheVersionKey = "access:version"
	bumpChannel     = "access.bump"
)

// Cache stores resolved permission sets in Redis under a short TTL. Keys
// are derived from (roleID, sorted groupIDs, overrideVersion) plus a global
// version counter; any administrative mutation bumps the counter, so stale
// elevated access cannot outlive the bump plus the TTL.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache instantiates the cache helper.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

// cachedResolution is the wire form of a permission.Resolution. Degraded
// sources keep only their labels; the underlying validation errors are
// logged when the resolution is first computed.
type cachedResolution struct {
	Resolved   map[permission.Capability]bool              `json:"resolved"`
	Provenance map[permission.Capability]permission.Source `json:"provenance"`
	Degraded   []permission.Source                         `json:"degraded,omitempty"`
}

// Version returns the current cache version, initialising when missing.
func (c *Cache) Version(ctx context.Context) (int64, error) {
	if c == nil || c.client == nil {
		return 0, nil
	}
	ver, err := c.client.Get(ctx, cacheVersionKey).Int64()
	if err == redis.Nil {
		if err := c.client.Set(ctx, cacheVersionKey, 1, 0).Err(); err != nil {
			return 0, err
		}
		return 1, nil
	}
	if err != nil {
		return 0, err
	}
	if ver <= 0 {
		ver = 1
		if err := c.client.Set(ctx, cacheVersionKey, ver, 0).Err(); err != nil {
			return 0, err
		}
	}
	return ver, nil
}

// Key composes the cache key for a snapshot under the current version.
func (c *Cache) Key(ctx context.Context, roleID int64, groupIDs []int64, overrideVersion string) (string, error) {
	parts := make([]string, 0, len(groupIDs)+3)
	parts = append(parts, "access", "resolved", strconv.FormatInt(roleID, 10))
	for _, id := range groupIDs {
		parts = append(parts, strconv.FormatInt(id, 10))
	}
	if overrideVersion == "" {
		overrideVersion = "-"
	}
	parts = append(parts, overrideVersion)
	joined := strings.Join(parts, ":")
	if c == nil || c.client == nil {
		return joined, nil
	}
	ver, err := c.Version(ctx)
	if err != nil {
		return "", err
	}
	return joined + ":" + strconv.FormatInt(ver, 10), nil
}

// Get loads a cached resolution, reporting a miss via ok=false.
func (c *Cache) Get(ctx context.Context, key string) (*permission.Resolution, bool, error) {
	if c == nil || c.client == nil {
		return nil, false, nil
	}
	payload, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var stored cachedResolution
	if err := json.Unmarshal(payload, &stored); err != nil {
		return nil, false, err
	}
	set, err := permission.NewSet(stored.Resolved)
	if err != nil {
		// A cached entry that fails totality is useless; treat as a miss.
		return nil, false, nil
	}
	res := &permission.Resolution{
		Resolved:   set,
		Provenance: stored.Provenance,
	}
	for _, src := range stored.Degraded {
		res.Degraded = append(res.Degraded, permission.DegradedSource{Source: src})
	}
	return res, true, nil
}

// Store writes a resolution under the key with the configured TTL.
func (c *Cache) Store(ctx context.Context, key string, res *permission.Resolution) error {
	if c == nil || c.client == nil || res == nil {
		return nil
	}
	stored := cachedResolution{
		Resolved:   res.Resolved.Map(),
		Provenance: res.Provenance,
	}
	for _, d := range res.Degraded {
		stored.Degraded = append(stored.Degraded, d.Source)
	}
	payload, err := json.Marshal(stored)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, payload, c.ttl).Err()
}

// Bump invalidates every cached resolution by incrementing the global
// version and publishing the new value for other processes.
func (c *Cache) Bump(ctx context.Context) error {
	if c == nil || c.client == nil {
		return nil
	}
	ver, err := c.client.Incr(ctx, cacheVersionKey).Result()
	if err != nil {
		return err
	}
	return c.client.Publish(ctx, bumpChannel, strconv.FormatInt(ver, 10)).Err()
}

// ListenForInvalidation subscribes to version bump notifications so this
// process converges on the latest version without waiting for TTL expiry.
func (c *Cache) ListenForInvalidation(ctx context.Context) error {
	if c == nil || c.client == nil {
		return nil
	}
	pubsub := c.client.Subscribe(ctx, bumpChannel)
	go func() {
		defer func() { _ = pubsub.Close() }()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				if msg.Payload != "" {
					if ver, err := strconv.ParseInt(msg.Payload, 10, 64); err == nil {
						_ = c.client.Set(ctx, cacheVersionKey, ver, 0).Err()
						continue
					}
				}
				_ = c.client.Incr(ctx, cacheVersionKey).Err()
			}
		}
	}()
	return nil
}
