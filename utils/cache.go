package utils

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

const (
	defaultCacheTTL = time.Hour
)

// CacheGetBytes returns cached bytes for a key.
func CacheGetBytes(rc *redis.Client, key string) ([]byte, bool) {
	if rc == nil {
		return nil, false
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	b, err := rc.Get(ctx, key).Bytes()
	if err != nil {
		if Sugar != nil {
			Sugar.Debugf("cache get miss key=%s err=%v", key, err)
		}
		return nil, false
	}
	return b, true
}

// CacheSetBytes stores bytes with the given TTL, falling back to the default.
func CacheSetBytes(rc *redis.Client, key string, b []byte, ttl time.Duration) {
	if rc == nil {
		return
	}
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := rc.Set(ctx, key, b, ttl).Err(); err != nil {
		if Sugar != nil {
			Sugar.Warnf("cache set failed key=%s err=%v", key, err)
		}
	}
}

// CacheSetJSON marshals v and stores JSON bytes.
func CacheSetJSON(rc *redis.Client, key string, v interface{}, ttl time.Duration) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	CacheSetBytes(rc, key, b, ttl)
}

// CacheGetJSON loads a key and unmarshals it into out. Returns false on miss or decode failure.
func CacheGetJSON(rc *redis.Client, key string, out interface{}) bool {
	b, ok := CacheGetBytes(rc, key)
	if !ok {
		return false
	}
	if err := json.Unmarshal(b, out); err != nil {
		if Sugar != nil {
			Sugar.Warnf("cache decode failed key=%s err=%v", key, err)
		}
		return false
	}
	return true
}

// RespondAndCache writes a standard success body and caches the rendered
// bytes under key so a later hit can be served with ctx.Data directly.
// A ttl of zero uses the default cache TTL.
func RespondAndCache(ctx *gin.Context, rc *redis.Client, key string, data interface{}, ttl time.Duration) {
	body, err := json.Marshal(JSONResponse{Code: 0, Message: "success", Data: data})
	if err != nil {
		Error(ctx, 500, 50001, "failed to encode response")
		return
	}
	ctx.Data(200, "application/json; charset=utf-8", body)
	CacheSetBytes(rc, key, body, ttl)
}

// InvalidateByPattern deletes every key matching a wildcard pattern such as
// "album_images:42:*" using SCAN and pipelined DELs. Reads that interleave
// between a mutation and this call may re-cache stale state; callers accept
// eventual consistency. No matches is a normal no-op.
func InvalidateByPattern(rc *redis.Client, pattern string) {
	if rc == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	var cursor uint64
	for {
		keys, cur, err := rc.Scan(ctx, cursor, pattern, 1000).Result()
		if err != nil {
			if Sugar != nil {
				Sugar.Warnf("cache scan failed pattern=%s err=%v", pattern, err)
			}
			return
		}
		cursor = cur
		if len(keys) > 0 {
			pipe := rc.Pipeline()
			for _, k := range keys {
				pipe.Del(ctx, k)
			}
			_, _ = pipe.Exec(ctx)
			if Sugar != nil {
				Sugar.Debugf("invalidated %d keys for pattern %s", len(keys), pattern)
			}
		}
		if cursor == 0 {
			return
		}
	}
}

// InvalidateAlbumImageCaches drops every derived image listing for an album.
func InvalidateAlbumImageCaches(rc *redis.Client, albumID uint) {
	for _, pattern := range []string{
		AlbumImagesPattern(albumID),
		BlurImagesPattern(albumID),
		DuplicateImagesPattern(albumID),
		SuggestionsPattern(albumID),
	} {
		InvalidateByPattern(rc, pattern)
	}
}

// InvalidateUserAlbumCaches drops the per-user album listings for each user id.
func InvalidateUserAlbumCaches(rc *redis.Client, userIDs []uint) {
	for _, uid := range UniqueUint(userIDs) {
		InvalidateByPattern(rc, UserAlbumsPattern(uid))
		InvalidateByPattern(rc, UserSharedAlbumsPattern(uid))
	}
}

// InvalidateUserNotificationCache drops a user's cached notification pages.
func InvalidateUserNotificationCache(rc *redis.Client, userID uint) {
	InvalidateByPattern(rc, NotificationsPattern(userID))
}
