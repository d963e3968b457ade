package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recipelineage/api/internal/comments"
	"recipelineage/api/internal/lineage"
	"recipelineage/api/internal/model"
	"recipelineage/api/internal/rating"
)

type fakeStore struct {
	mu       sync.Mutex
	authors  map[string]model.Author
	recipes  []model.RecipeNode
	comments []model.Comment
	ratings  []model.Rating

	InsertRecipeFn func(context.Context, model.RecipeNode) error
	EnsureAuthorFn func(context.Context, model.Author) error
	SaveRatingFn   func(context.Context, rating.Change) error
	PingFn         func(context.Context) error
}

func newFakeStore() *fakeStore {
	return &fakeStore{authors: make(map[string]model.Author)}
}

func (f *fakeStore) InsertRecipe(ctx context.Context, node model.RecipeNode) error {
	if f.InsertRecipeFn != nil {
		if err := f.InsertRecipeFn(ctx, node); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recipes = append(f.recipes, node)
	return nil
}

func (f *fakeStore) InsertComment(_ context.Context, comment model.Comment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.comments = append(f.comments, comment)
	return nil
}

func (f *fakeStore) DeleteComment(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, comment := range f.comments {
		if comment.ID == id {
			f.comments = append(f.comments[:i], f.comments[i+1:]...)
			break
		}
	}
	return nil
}

func (f *fakeStore) EnsureAuthor(ctx context.Context, author model.Author) error {
	if f.EnsureAuthorFn != nil {
		if err := f.EnsureAuthorFn(ctx, author); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.authors[author.UserID] = author
	return nil
}

func (f *fakeStore) Author(_ context.Context, userID string) (model.AuthorProfile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	author, ok := f.authors[userID]
	if !ok {
		return model.AuthorProfile{}, model.NotFound("user", userID)
	}
	return model.AuthorProfile{UserID: author.UserID, DisplayName: author.DisplayName, Bio: "Home cook"}, nil
}

func (f *fakeStore) ListRecipes(context.Context) ([]model.RecipeNode, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.RecipeNode(nil), f.recipes...), nil
}

func (f *fakeStore) ListComments(context.Context) ([]model.Comment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.Comment(nil), f.comments...), nil
}

func (f *fakeStore) SaveRating(ctx context.Context, change rating.Change) error {
	if f.SaveRatingFn != nil {
		if err := f.SaveRatingFn(ctx, change); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, r := range f.ratings {
		if r.RecipeID == change.RecipeID && r.RaterID == change.RaterID {
			f.ratings[i].Value = change.Value
			return nil
		}
	}
	f.ratings = append(f.ratings, model.Rating{RecipeID: change.RecipeID, RaterID: change.RaterID, Value: change.Value, UpdatedAt: change.UpdatedAt})
	return nil
}

func (f *fakeStore) DeleteRating(_ context.Context, recipeID, raterID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, r := range f.ratings {
		if r.RecipeID == recipeID && r.RaterID == raterID {
			f.ratings = append(f.ratings[:i], f.ratings[i+1:]...)
			break
		}
	}
	return nil
}

func (f *fakeStore) ListRatings(context.Context) ([]model.Rating, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.Rating(nil), f.ratings...), nil
}

func (f *fakeStore) Ping(ctx context.Context) error {
	if f.PingFn != nil {
		return f.PingFn(ctx)
	}
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func deterministic() []Option {
	var mu sync.Mutex
	current := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
	counters := map[string]int{}
	return []Option{
		WithClock(func() time.Time {
			mu.Lock()
			defer mu.Unlock()
			current = current.Add(time.Minute)
			return current
		}),
		WithIDGenerator(func(prefix string) string {
			mu.Lock()
			defer mu.Unlock()
			counters[prefix]++
			return fmt.Sprintf("%s_%03d", prefix, counters[prefix])
		}),
	}
}

func newTestEngine(store *fakeStore, cfg Config) *Engine {
	return New(cfg, store, store, testLogger(), deterministic()...)
}

var (
	alice = model.Author{UserID: "alice", DisplayName: "Alice"}
	bob   = model.Author{UserID: "bob", DisplayName: "Bob"}
	carol = model.Author{UserID: "carol", DisplayName: "Carol"}
)

func TestSoupLineage(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(newFakeStore(), Config{})

	soup, err := engine.CreateRecipe(ctx, alice, lineage.NewRecipe{Title: "Soup", Ingredients: []string{"water", "salt"}})
	require.NoError(t, err)
	title := "Spicy Soup"
	spicy, err := engine.Fork(ctx, bob, soup.ID, lineage.Overrides{Title: &title})
	require.NoError(t, err)

	assert.Equal(t, model.KindFork, spicy.Kind)
	assert.Equal(t, []string{"water", "salt"}, spicy.Ingredients)

	chain, err := engine.Ancestors(ctx, spicy.ID)
	require.NoError(t, err)
	require.Len(t, chain, 1)
	assert.Equal(t, soup.ID, chain[0].ID)

	children, err := engine.Children(ctx, soup.ID)
	require.NoError(t, err)
	require.Len(t, children, 1)
	assert.Equal(t, spicy.ID, children[0].ID)
}

func TestMutationsRequireIdentity(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	engine := newTestEngine(store, Config{})

	_, err := engine.CreateRecipe(ctx, model.Author{}, lineage.NewRecipe{Title: "Soup", Ingredients: []string{"water"}})
	assert.ErrorIs(t, err, model.ErrValidation)
	_, err = engine.Rate(ctx, model.Author{UserID: " "}, "rcp_001", 3)
	assert.ErrorIs(t, err, model.ErrValidation)
	assert.Empty(t, store.authors)
}

func TestBranchUnknownParentDoesNotTouchDirectory(t *testing.T) {
	store := newFakeStore()
	calls := 0
	store.EnsureAuthorFn = func(context.Context, model.Author) error {
		calls++
		return nil
	}
	engine := newTestEngine(store, Config{})

	_, err := engine.Branch(context.Background(), alice, "ghost", lineage.Overrides{})
	assert.ErrorIs(t, err, model.ErrNotFound)
	assert.Zero(t, calls)
}

func TestRateAndCommentShareRating(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(newFakeStore(), Config{})
	soup, err := engine.CreateRecipe(ctx, alice, lineage.NewRecipe{Title: "Soup", Ingredients: []string{"water"}})
	require.NoError(t, err)

	_, err = engine.Rate(ctx, bob, soup.ID, 5)
	require.NoError(t, err)
	_, err = engine.Comment(ctx, bob, soup.ID, "Changed my mind", 3)
	require.NoError(t, err)

	stat, err := engine.Stat(ctx, soup.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RatingStat{RecipeID: soup.ID, Sum: 3, Count: 1}, stat)

	view, err := engine.Recipe(ctx, soup.ID)
	require.NoError(t, err)
	assert.InDelta(t, 3.0, view.AverageRating, 1e-9)
	assert.Equal(t, 1, view.CommentCount)

	_, err = engine.Rate(ctx, bob, soup.ID, 6)
	assert.ErrorIs(t, err, model.ErrValidation)
}

func TestStorageErrorsAreTranslated(t *testing.T) {
	store := newFakeStore()
	store.EnsureAuthorFn = func(context.Context, model.Author) error {
		return errors.New("connection reset")
	}
	engine := newTestEngine(store, Config{})

	_, err := engine.CreateRecipe(context.Background(), alice, lineage.NewRecipe{Title: "Soup", Ingredients: []string{"water"}})
	assert.ErrorIs(t, err, model.ErrStorageUnavailable)
	assert.Equal(t, model.CodeStorageUnavailable, model.CodeOf(err))

	store.EnsureAuthorFn = nil
	store.PingFn = func(context.Context) error { return errors.New("down") }
	assert.ErrorIs(t, engine.Ping(context.Background()), model.ErrStorageUnavailable)
}

func TestTopRecipesAndContributors(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(newFakeStore(), Config{TopMinAverage: 4, TopLimit: 5})

	soup, err := engine.CreateRecipe(ctx, alice, lineage.NewRecipe{Title: "Soup", Ingredients: []string{"water"}})
	require.NoError(t, err)
	bread, err := engine.CreateRecipe(ctx, alice, lineage.NewRecipe{Title: "Bread", Ingredients: []string{"flour"}})
	require.NoError(t, err)
	stew, err := engine.Fork(ctx, bob, soup.ID, lineage.Overrides{})
	require.NoError(t, err)

	for _, step := range []struct {
		rater  model.Author
		recipe string
		value  int
	}{
		{bob, soup.ID, 5}, {carol, soup.ID, 4},
		{bob, bread.ID, 2},
		{alice, stew.ID, 5},
	} {
		_, err := engine.Rate(ctx, step.rater, step.recipe, step.value)
		require.NoError(t, err)
	}

	top, err := engine.TopRecipes(ctx, engine.DefaultTopQuery())
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, stew.ID, top[0].ID)
	assert.Equal(t, soup.ID, top[1].ID)

	_, err = engine.TopRecipes(ctx, TopQuery{MinAverage: 7})
	assert.ErrorIs(t, err, model.ErrValidation)

	contributors, err := engine.TopContributors(ctx, 0)
	require.NoError(t, err)
	require.Len(t, contributors, 2)
	assert.Equal(t, "alice", contributors[0].Author.UserID)
	assert.Equal(t, 2, contributors[0].RecipeCount)
	assert.Equal(t, 2, contributors[0].RatedRecipes)
	assert.InDelta(t, (4.5+2.0)/2, contributors[0].AverageRating, 1e-9)
	assert.Equal(t, "bob", contributors[1].Author.UserID)
}

func TestTopRecipesSkipsOrphanRatingsBeforeLimit(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	store.ratings = []model.Rating{
		{RecipeID: "rcp_gone", RaterID: "bob", Value: 5},
		{RecipeID: "rcp_gone", RaterID: "carol", Value: 5},
	}
	engine := newTestEngine(store, Config{TopLimit: 5})
	require.NoError(t, engine.Bootstrap(ctx))

	soup, err := engine.CreateRecipe(ctx, alice, lineage.NewRecipe{Title: "Soup", Ingredients: []string{"water"}})
	require.NoError(t, err)
	bread, err := engine.CreateRecipe(ctx, alice, lineage.NewRecipe{Title: "Bread", Ingredients: []string{"flour"}})
	require.NoError(t, err)
	_, err = engine.Rate(ctx, bob, soup.ID, 5)
	require.NoError(t, err)
	_, err = engine.Rate(ctx, bob, bread.ID, 4)
	require.NoError(t, err)

	top, err := engine.TopRecipes(ctx, TopQuery{Limit: 2})
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, soup.ID, top[0].ID)
	assert.Equal(t, bread.ID, top[1].ID)
}

func TestProfile(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(newFakeStore(), Config{})
	first, err := engine.CreateRecipe(ctx, alice, lineage.NewRecipe{Title: "Soup", Ingredients: []string{"water"}})
	require.NoError(t, err)
	second, err := engine.Branch(ctx, alice, first.ID, lineage.Overrides{})
	require.NoError(t, err)

	profile, err := engine.Profile(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "Alice", profile.Author.DisplayName)
	assert.Equal(t, "Home cook", profile.Author.Bio)
	require.Len(t, profile.Recipes, 2)
	assert.Equal(t, second.ID, profile.Recipes[0].ID)

	_, err = engine.Profile(ctx, "nobody")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestSubscribeThroughEngine(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	engine := newTestEngine(newFakeStore(), Config{SubscriberBuffer: 4})
	soup, err := engine.CreateRecipe(ctx, alice, lineage.NewRecipe{Title: "Soup", Ingredients: []string{"water"}})
	require.NoError(t, err)

	sub, err := engine.Subscribe(ctx, soup.ID)
	require.NoError(t, err)
	assert.Equal(t, soup.ID, sub.RecipeID())
	posted, err := engine.Comment(ctx, bob, soup.ID, "Lovely", 5)
	require.NoError(t, err)

	got, err := sub.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, posted, got)

	history, err := engine.History(ctx, soup.ID, comments.HistoryQuery{})
	require.NoError(t, err)
	assert.Equal(t, []model.Comment{posted}, history)

	_, err = engine.Subscribe(ctx, "ghost")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestBootstrapHydratesAndSeeds(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	seeded := newTestEngine(store, Config{SeedDemo: true})
	require.NoError(t, seeded.Bootstrap(ctx))
	require.Len(t, store.recipes, 2)
	require.Len(t, store.comments, 2)

	fresh := newTestEngine(store, Config{SeedDemo: true})
	require.NoError(t, fresh.Bootstrap(ctx))
	assert.Len(t, store.recipes, 2, "a populated store is not seeded again")

	spicy := store.recipes[1]
	view, err := fresh.Recipe(ctx, spicy.ID)
	require.NoError(t, err)
	assert.Equal(t, "Spicy Soup", view.Title)
	assert.Equal(t, 1, view.RatingCount)
	assert.Equal(t, 1, view.CommentCount)

	chain, err := fresh.Ancestors(ctx, spicy.ID)
	require.NoError(t, err)
	require.Len(t, chain, 1)
	assert.Equal(t, "Soup", chain[0].Title)
}
