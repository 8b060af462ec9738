package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const matchKeyPrefix = "face_recognition_results"

// Match is the best recognition result observed for one (album, user) pair
// within the freshness window.
type Match struct {
	AlbumID     uint      `json:"albumId"`
	UserID      uint      `json:"userId"`
	Distance    float64   `json:"distance"`
	PhotoURLs   []string  `json:"photoUrls,omitempty"`
	ProcessedAt time.Time `json:"processedAt"`
}

// MatchStore keeps recognition matches in Redis keyed by (album, user) with a
// freshness TTL. The stored distance is the minimum ever observed for the key
// within the TTL window; an entry is overwritten only by a strictly lower
// distance.
type MatchStore struct {
	rc     *redis.Client
	ttl    time.Duration
	logger *zap.SugaredLogger
}

// NewMatchStore creates a store with the given freshness TTL.
func NewMatchStore(rc *redis.Client, ttl time.Duration, logger *zap.SugaredLogger) *MatchStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &MatchStore{rc: rc, ttl: ttl, logger: logger}
}

func matchKey(albumID, userID uint) string {
	return fmt.Sprintf("%s:%d:%d", matchKeyPrefix, albumID, userID)
}

func matchPattern(albumID uint) string {
	return fmt.Sprintf("%s:%d:*", matchKeyPrefix, albumID)
}

// Reconcile keeps the lowest-distance match for (albumID, userID), resetting
// the TTL on every accepted write. The read-then-write is deliberately not
// atomic: under concurrent writers to the same key a worse match can
// occasionally survive, but a record is never lost. Downstream consumers only
// need a good-enough match eventually.
func (s *MatchStore) Reconcile(ctx context.Context, albumID, userID uint, distance float64, photoURLs []string) error {
	if userID == 0 {
		return Permanent(errors.New("missing user id in recognition result"))
	}
	key := matchKey(albumID, userID)

	raw, err := s.rc.Get(ctx, key).Bytes()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	if err == nil {
		var existing Match
		if decodeErr := json.Unmarshal(raw, &existing); decodeErr == nil && distance >= existing.Distance {
			s.logger.Debugf("existing match for %s is better or equal, skipping", key)
			return nil
		}
	}

	m := Match{
		AlbumID:     albumID,
		UserID:      userID,
		Distance:    distance,
		PhotoURLs:   photoURLs,
		ProcessedAt: time.Now().UTC(),
	}
	b, err := json.Marshal(m)
	if err != nil {
		return err
	}
	if err := s.rc.Set(ctx, key, b, s.ttl).Err(); err != nil {
		return err
	}
	s.logger.Debugf("stored recognition match %s distance=%.4f", key, distance)
	return nil
}

// ListMatches returns all non-expired matches for an album. SCAN may return a
// key more than once across iterations, so keys are deduplicated; entries that
// fail to decode are skipped with a log line.
func (s *MatchStore) ListMatches(ctx context.Context, albumID uint) ([]Match, error) {
	var matches []Match
	seen := map[string]struct{}{}
	var cursor uint64
	for {
		keys, cur, err := s.rc.Scan(ctx, cursor, matchPattern(albumID), 100).Result()
		if err != nil {
			return nil, err
		}
		cursor = cur
		for _, key := range keys {
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			raw, err := s.rc.Get(ctx, key).Bytes()
			if err != nil {
				if !errors.Is(err, redis.Nil) {
					return nil, err
				}
				continue // expired between SCAN and GET
			}
			var m Match
			if err := json.Unmarshal(raw, &m); err != nil {
				s.logger.Warnf("skipping undecodable match %s: %v", key, err)
				continue
			}
			matches = append(matches, m)
		}
		if cursor == 0 {
			break
		}
	}
	return matches, nil
}
