package store

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const readMarkerTTL = 90 * 24 * time.Hour

// RedisReadMarkerStore keeps last-read markers in Redis with a long TTL.
// Markers are advisory; losing one only inflates an unread count.
type RedisReadMarkerStore struct {
	client *redis.Client
}

// NewRedisReadMarkerStore builds a Redis-backed read-marker store.
func NewRedisReadMarkerStore(addr, password string) *RedisReadMarkerStore {
	return &RedisReadMarkerStore{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
		}),
	}
}

// MarkRead stores the viewer's last-read point for a partner thread.
func (s *RedisReadMarkerStore) MarkRead(viewerID, partnerID string, at time.Time) error {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	return s.client.Set(ctx, markerKey(viewerID, partnerID), at.UTC().Format(time.RFC3339Nano), readMarkerTTL).Err()
}

// LastRead returns the viewer's last-read point for a partner thread.
func (s *RedisReadMarkerStore) LastRead(viewerID, partnerID string) (time.Time, bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	val, err := s.client.Get(ctx, markerKey(viewerID, partnerID)).Result()
	if err == redis.Nil {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	at, err := time.Parse(time.RFC3339Nano, val)
	if err != nil {
		return time.Time{}, false, err
	}
	return at, true, nil
}

// ClearMarker removes the viewer's last-read point for a partner thread.
func (s *RedisReadMarkerStore) ClearMarker(viewerID, partnerID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := s.client.Del(ctx, markerKey(viewerID, partnerID)).Err(); err != nil && err != redis.Nil {
		return err
	}
	return nil
}

func markerKey(viewerID, partnerID string) string {
	return "readmark:" + viewerID + ":" + partnerID
}
