// Package ratingstore keeps recipe ratings in Redis. Each recipe has a hash of
// rater values and a sum/count hash that a Lua script updates atomically with it.
package ratingstore

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"recipelineage/api/internal/model"
	"recipelineage/api/internal/rating"
)

const defaultPrefix = "recipes:rating:"

// KEYS: raters hash, stat hash, updated hash, recipe index set.
// ARGV: rater id, value, updated unix millis, recipe id.
var saveScript = redis.NewScript(`
local prior = redis.call('HGET', KEYS[1], ARGV[1])
local value = tonumber(ARGV[2])
if prior then
	redis.call('HINCRBY', KEYS[2], 'sum', value - tonumber(prior))
else
	redis.call('HINCRBY', KEYS[2], 'sum', value)
	redis.call('HINCRBY', KEYS[2], 'count', 1)
end
redis.call('HSET', KEYS[1], ARGV[1], ARGV[2])
redis.call('HSET', KEYS[3], ARGV[1], ARGV[3])
redis.call('SADD', KEYS[4], ARGV[4])
return redis.call('HMGET', KEYS[2], 'sum', 'count')
`)

// KEYS: raters hash, stat hash, updated hash. ARGV: rater id.
var deleteScript = redis.NewScript(`
local prior = redis.call('HGET', KEYS[1], ARGV[1])
if prior then
	redis.call('HINCRBY', KEYS[2], 'sum', -tonumber(prior))
	redis.call('HINCRBY', KEYS[2], 'count', -1)
	redis.call('HDEL', KEYS[1], ARGV[1])
	redis.call('HDEL', KEYS[3], ARGV[1])
end
return redis.call('HMGET', KEYS[2], 'sum', 'count')
`)

// RedisStore implements rating.Backend on Redis.
type RedisStore struct {
	client *redis.Client
	prefix string
	logger *slog.Logger
}

// NewRedisStore connects to redisURL and verifies the connection.
func NewRedisStore(redisURL string, logger *slog.Logger) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewRedisStoreWithClient(client, logger), nil
}

// NewRedisStoreWithClient creates a store from an existing Redis client.
func NewRedisStoreWithClient(client *redis.Client, logger *slog.Logger) *RedisStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisStore{client: client, prefix: defaultPrefix, logger: logger}
}

func (s *RedisStore) ratersKey(recipeID string) string  { return s.prefix + recipeID + ":raters" }
func (s *RedisStore) statKey(recipeID string) string    { return s.prefix + recipeID + ":stat" }
func (s *RedisStore) updatedKey(recipeID string) string { return s.prefix + recipeID + ":updated" }
func (s *RedisStore) indexKey() string                  { return s.prefix + "recipes" }

// SaveRating upserts one rater's value and adjusts the recipe's sum and count in a
// single script run.
func (s *RedisStore) SaveRating(ctx context.Context, change rating.Change) error {
	keys := []string{
		s.ratersKey(change.RecipeID),
		s.statKey(change.RecipeID),
		s.updatedKey(change.RecipeID),
		s.indexKey(),
	}
	reply, err := saveScript.Run(ctx, s.client, keys,
		change.RaterID, change.Value, change.UpdatedAt.UnixMilli(), change.RecipeID).Result()
	if err != nil {
		return fmt.Errorf("save rating: %w", err)
	}
	stat, err := parseStat(change.RecipeID, reply)
	if err != nil {
		return err
	}
	if stat != change.Stat {
		// Another writer touched this recipe outside the process.
		s.logger.Warn("rating aggregate drift",
			slog.String("recipe_id", change.RecipeID),
			slog.Int("stored_sum", stat.Sum),
			slog.Int("stored_count", stat.Count),
			slog.Int("memory_sum", change.Stat.Sum),
			slog.Int("memory_count", change.Stat.Count))
	}
	return nil
}

func (s *RedisStore) DeleteRating(ctx context.Context, recipeID, raterID string) error {
	keys := []string{s.ratersKey(recipeID), s.statKey(recipeID), s.updatedKey(recipeID)}
	if err := deleteScript.Run(ctx, s.client, keys, raterID).Err(); err != nil {
		return fmt.Errorf("delete rating: %w", err)
	}
	return nil
}

// Stat reads the stored aggregate of one recipe.
func (s *RedisStore) Stat(ctx context.Context, recipeID string) (model.RatingStat, error) {
	reply, err := s.client.HMGet(ctx, s.statKey(recipeID), "sum", "count").Result()
	if err != nil {
		return model.RatingStat{}, fmt.Errorf("read rating stat: %w", err)
	}
	return parseStat(recipeID, reply)
}

// ListRatings returns every stored rating ordered by recipe, then rater.
func (s *RedisStore) ListRatings(ctx context.Context) ([]model.Rating, error) {
	recipeIDs, err := s.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list rated recipes: %w", err)
	}
	sort.Strings(recipeIDs)

	items := make([]model.Rating, 0)
	for _, recipeID := range recipeIDs {
		values, err := s.client.HGetAll(ctx, s.ratersKey(recipeID)).Result()
		if err != nil {
			return nil, fmt.Errorf("list ratings of %s: %w", recipeID, err)
		}
		updated, err := s.client.HGetAll(ctx, s.updatedKey(recipeID)).Result()
		if err != nil {
			return nil, fmt.Errorf("list rating times of %s: %w", recipeID, err)
		}
		raters := make([]string, 0, len(values))
		for rater := range values {
			raters = append(raters, rater)
		}
		sort.Strings(raters)
		for _, rater := range raters {
			value, err := strconv.Atoi(values[rater])
			if err != nil {
				return nil, fmt.Errorf("parse rating %s/%s: %w", recipeID, rater, err)
			}
			item := model.Rating{RecipeID: recipeID, RaterID: rater, Value: value}
			if millis, err := strconv.ParseInt(updated[rater], 10, 64); err == nil {
				item.UpdatedAt = time.UnixMilli(millis).UTC()
			}
			items = append(items, item)
		}
	}
	return items, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// parseStat reads an HMGET sum/count reply. Missing fields count as zero.
func parseStat(recipeID string, reply any) (model.RatingStat, error) {
	fields, ok := reply.([]any)
	if !ok || len(fields) != 2 {
		return model.RatingStat{}, fmt.Errorf("unexpected rating stat reply %T", reply)
	}
	stat := model.RatingStat{RecipeID: recipeID}
	for i, target := range []*int{&stat.Sum, &stat.Count} {
		if fields[i] == nil {
			continue
		}
		raw, ok := fields[i].(string)
		if !ok {
			return model.RatingStat{}, fmt.Errorf("unexpected rating stat field %T", fields[i])
		}
		value, err := strconv.Atoi(raw)
		if err != nil {
			return model.RatingStat{}, fmt.Errorf("parse rating stat: %w", err)
		}
		*target = value
	}
	return stat, nil
}
