package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store is the cache tier for derived data. Nothing here is a source of
// truth; a cold or unavailable redis only costs recomputation.
type Store struct {
	rdb *redis.Client
}

func New(addr, password string, db int) *Store {
	return &Store{rdb: redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func (s *Store) Close() error {
	return s.rdb.Close()
}

func dashboardKey(userID uint64) string {
	return fmt.Sprintf("dashboard:insights:%d", userID)
}

// GetDashboardInsights returns the cached payload, or "" on a miss.
func (s *Store) GetDashboardInsights(ctx context.Context, userID uint64) (string, error) {
	v, err := s.rdb.Get(ctx, dashboardKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return v, err
}

func (s *Store) SetDashboardInsights(ctx context.Context, userID uint64, payload string, ttl time.Duration) error {
	return s.rdb.Set(ctx, dashboardKey(userID), payload, ttl).Err()
}

// InvalidateDashboardInsights drops the cached payload so the next request
// recomputes it. Called after a new pattern or insight lands.
func (s *Store) InvalidateDashboardInsights(ctx context.Context, userID uint64) error {
	return s.rdb.Del(ctx, dashboardKey(userID)).Err()
}
