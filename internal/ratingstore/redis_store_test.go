package ratingstore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recipelineage/api/internal/model"
	"recipelineage/api/internal/rating"
)

func setupTestRedis(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	s := miniredis.RunT(t)
	store, err := NewRedisStore("redis://"+s.Addr(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store, s
}

func TestNewRedisStore(t *testing.T) {
	store, _ := setupTestRedis(t)
	assert.NoError(t, store.Ping(context.Background()))

	_, err := NewRedisStore("not-a-url", nil)
	assert.Error(t, err)
}

func TestSaveRatingReplacesPrior(t *testing.T) {
	store, s := setupTestRedis(t)
	ctx := context.Background()
	at := time.Date(2024, 8, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.SaveRating(ctx, rating.Change{RecipeID: "A", RaterID: "u3", Value: 5, UpdatedAt: at,
		Stat: model.RatingStat{RecipeID: "A", Sum: 5, Count: 1}}))
	require.NoError(t, store.SaveRating(ctx, rating.Change{RecipeID: "A", RaterID: "u3", Value: 3, UpdatedAt: at.Add(time.Minute),
		Prior: 5, HadPrior: true, Stat: model.RatingStat{RecipeID: "A", Sum: 3, Count: 1}}))

	stat, err := store.Stat(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, model.RatingStat{RecipeID: "A", Sum: 3, Count: 1}, stat)
	assert.Equal(t, "3", s.HGet(defaultPrefix+"A:raters", "u3"))
}

func TestDeleteRating(t *testing.T) {
	store, _ := setupTestRedis(t)
	ctx := context.Background()
	for _, change := range []rating.Change{
		{RecipeID: "A", RaterID: "u1", Value: 4},
		{RecipeID: "A", RaterID: "u2", Value: 2},
	} {
		require.NoError(t, store.SaveRating(ctx, change))
	}

	require.NoError(t, store.DeleteRating(ctx, "A", "u1"))
	require.NoError(t, store.DeleteRating(ctx, "A", "u1"))
	require.NoError(t, store.DeleteRating(ctx, "unrated", "u1"))

	stat, err := store.Stat(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, model.RatingStat{RecipeID: "A", Sum: 2, Count: 1}, stat)

	empty, err := store.Stat(ctx, "unrated")
	require.NoError(t, err)
	assert.Equal(t, model.RatingStat{RecipeID: "unrated"}, empty)
}

func TestListRatingsFeedsAggregator(t *testing.T) {
	store, _ := setupTestRedis(t)
	ctx := context.Background()
	at := time.Date(2024, 8, 1, 12, 0, 0, 0, time.UTC)
	recipes := knownRecipes{"A": true, "B": true}

	writer := rating.New(recipes, store, rating.WithClock(func() time.Time { return at }))
	_, err := writer.SetRating(ctx, "B", "u1", 5)
	require.NoError(t, err)
	_, err = writer.SetRating(ctx, "A", "u2", 4)
	require.NoError(t, err)
	_, err = writer.SetRating(ctx, "A", "u1", 1)
	require.NoError(t, err)
	_, err = writer.SetRating(ctx, "A", "u1", 2)
	require.NoError(t, err)

	stored, err := store.ListRatings(ctx)
	require.NoError(t, err)
	require.Len(t, stored, 3)
	assert.Equal(t, model.Rating{RecipeID: "A", RaterID: "u1", Value: 2, UpdatedAt: at}, stored[0])
	assert.Equal(t, "u2", stored[1].RaterID)
	assert.Equal(t, "B", stored[2].RecipeID)

	reader := rating.New(recipes, nil)
	require.NoError(t, reader.Load(stored))
	for _, id := range []string{"A", "B"} {
		want, err := writer.GetStat(ctx, id)
		require.NoError(t, err)
		got, err := reader.GetStat(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want, got)

		persisted, err := store.Stat(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want, persisted)
	}
}

func TestSaveRatingFailsWhenRedisIsDown(t *testing.T) {
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr(), MaxRetries: -1})
	store := NewRedisStoreWithClient(client, nil)
	t.Cleanup(func() { _ = store.Close() })

	s.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.Error(t, store.SaveRating(ctx, rating.Change{RecipeID: "A", RaterID: "u1", Value: 3}))
	assert.Error(t, store.Ping(ctx))
}

type knownRecipes map[string]bool

func (k knownRecipes) Exists(id string) bool { return k[id] }
