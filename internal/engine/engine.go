// Package engine is the facade the HTTP layer talks to. It owns the lineage
// store, the rating aggregator and the comment stream, and translates every
// failure into the model error taxonomy.
package engine

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"recipelineage/api/internal/comments"
	"recipelineage/api/internal/lineage"
	"recipelineage/api/internal/model"
	"recipelineage/api/internal/rating"
	"recipelineage/api/internal/util"
)

// AuthorDirectory keeps author metadata for profiles.
type AuthorDirectory interface {
	EnsureAuthor(context.Context, model.Author) error
	Author(ctx context.Context, userID string) (model.AuthorProfile, error)
}

// Backend is the durable store for recipes, comments and authors.
type Backend interface {
	lineage.Backend
	comments.Backend
	AuthorDirectory
	ListRecipes(context.Context) ([]model.RecipeNode, error)
	ListComments(context.Context) ([]model.Comment, error)
	Ping(context.Context) error
}

// RatingBackend stores ratings. It may be the same value as Backend.
type RatingBackend interface {
	rating.Backend
	ListRatings(context.Context) ([]model.Rating, error)
}

type Config struct {
	SubscriberBuffer int
	HistoryPageSize  int
	TopMinAverage    float64
	TopLimit         int
	SeedDemo         bool
}

type Option func(*options)

type options struct {
	now   func() time.Time
	newID func(prefix string) string
}

// WithClock fixes the creation time source for recipes, ratings and comments.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithIDGenerator replaces util.NewID. It receives the id prefix ("rcp" or "cmt").
func WithIDGenerator(newID func(prefix string) string) Option {
	return func(o *options) {
		if newID != nil {
			o.newID = newID
		}
	}
}

type Engine struct {
	cfg      Config
	backend  Backend
	rbackend RatingBackend
	logger   *slog.Logger

	recipes  *lineage.Store
	ratings  *rating.Aggregator
	comments *comments.Stream
}

func New(cfg Config, backend Backend, ratingBackend RatingBackend, logger *slog.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.TopLimit <= 0 {
		cfg.TopLimit = 5
	}
	o := options{
		// Postgres keeps microseconds; memory and storage must agree on comment order.
		now:   func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
		newID: util.NewID,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	recipes := lineage.New(backend,
		lineage.WithClock(o.now),
		lineage.WithIDGenerator(func() string { return o.newID("rcp") }),
	)
	ratings := rating.New(recipes, ratingBackend, rating.WithClock(o.now))
	stream := comments.New(recipes, ratings, backend,
		comments.WithSubscriberBuffer(cfg.SubscriberBuffer),
		comments.WithHistoryPageSize(cfg.HistoryPageSize),
		comments.WithClock(o.now),
		comments.WithIDGenerator(func() string { return o.newID("cmt") }),
		comments.WithLogger(logger.With(slog.String("component", "comments"))),
	)
	return &Engine{
		cfg:      cfg,
		backend:  backend,
		rbackend: ratingBackend,
		logger:   logger,
		recipes:  recipes,
		ratings:  ratings,
		comments: stream,
	}
}

func (e *Engine) CreateRecipe(ctx context.Context, author model.Author, input lineage.NewRecipe) (model.RecipeView, error) {
	author, err := e.identify(ctx, author)
	if err != nil {
		return model.RecipeView{}, err
	}
	node, err := e.recipes.CreateOriginal(ctx, input, author)
	if err != nil {
		return model.RecipeView{}, translate("create recipe", err)
	}
	e.logger.Info("recipe created", slog.String("recipe_id", node.ID), slog.String("author_id", author.UserID))
	return model.NewRecipeView(node, model.RatingStat{RecipeID: node.ID}, 0), nil
}

func (e *Engine) Branch(ctx context.Context, author model.Author, parentID string, overrides lineage.Overrides) (model.RecipeView, error) {
	return e.derive(ctx, author, parentID, model.KindBranch, overrides)
}

func (e *Engine) Fork(ctx context.Context, author model.Author, parentID string, overrides lineage.Overrides) (model.RecipeView, error) {
	return e.derive(ctx, author, parentID, model.KindFork, overrides)
}

func (e *Engine) derive(ctx context.Context, author model.Author, parentID string, kind model.DerivationKind, overrides lineage.Overrides) (model.RecipeView, error) {
	if err := validateAuthor(author); err != nil {
		return model.RecipeView{}, err
	}
	if !e.recipes.Exists(parentID) {
		return model.RecipeView{}, model.NotFound("parent recipe", parentID)
	}
	author, err := e.identify(ctx, author)
	if err != nil {
		return model.RecipeView{}, err
	}
	node, err := e.recipes.Derive(ctx, parentID, kind, overrides, author)
	if err != nil {
		return model.RecipeView{}, translate("derive recipe", err)
	}
	e.logger.Info("recipe derived",
		slog.String("recipe_id", node.ID),
		slog.String("parent_id", parentID),
		slog.String("kind", string(kind)),
		slog.String("author_id", author.UserID))
	return model.NewRecipeView(node, model.RatingStat{RecipeID: node.ID}, 0), nil
}

func (e *Engine) Rate(ctx context.Context, rater model.Author, recipeID string, value int) (model.RatingStat, error) {
	if err := validateAuthor(rater); err != nil {
		return model.RatingStat{}, err
	}
	if !model.ValidRating(value) {
		return model.RatingStat{}, model.Validation("rating must be between 1 and 5", map[string]any{"rating": value})
	}
	if !e.recipes.Exists(recipeID) {
		return model.RatingStat{}, model.NotFound("recipe", recipeID)
	}
	rater, err := e.identify(ctx, rater)
	if err != nil {
		return model.RatingStat{}, err
	}
	stat, err := e.ratings.SetRating(ctx, recipeID, rater.UserID, value)
	return stat, translate("rate recipe", err)
}

func (e *Engine) RetractRating(ctx context.Context, rater model.Author, recipeID string) (model.RatingStat, error) {
	if err := validateAuthor(rater); err != nil {
		return model.RatingStat{}, err
	}
	stat, err := e.ratings.RetractRating(ctx, recipeID, strings.TrimSpace(rater.UserID))
	return stat, translate("retract rating", err)
}

func (e *Engine) Comment(ctx context.Context, author model.Author, recipeID, body string, value int) (model.Comment, error) {
	if err := validateAuthor(author); err != nil {
		return model.Comment{}, err
	}
	if !e.recipes.Exists(recipeID) {
		return model.Comment{}, model.NotFound("recipe", recipeID)
	}
	author, err := e.identify(ctx, author)
	if err != nil {
		return model.Comment{}, err
	}
	comment, err := e.comments.Post(ctx, recipeID, author, body, value)
	return comment, translate("post comment", err)
}

// Subscribe follows the comments of a recipe until ctx is done or the subscription is cancelled.
func (e *Engine) Subscribe(ctx context.Context, recipeID string) (*comments.Subscription, error) {
	sub, err := e.comments.Subscribe(ctx, recipeID)
	return sub, translate("subscribe", err)
}

func (e *Engine) Recipe(ctx context.Context, id string) (model.RecipeView, error) {
	node, ok := e.recipes.Get(id)
	if !ok {
		return model.RecipeView{}, model.NotFound("recipe", id)
	}
	return e.view(ctx, node)
}

func (e *Engine) Ancestors(ctx context.Context, id string) ([]model.RecipeNode, error) {
	items, err := e.recipes.Ancestors(ctx, id)
	return items, translate("list ancestors", err)
}

func (e *Engine) Children(ctx context.Context, id string) ([]model.RecipeNode, error) {
	items, err := e.recipes.Children(ctx, id)
	return items, translate("list children", err)
}

func (e *Engine) History(ctx context.Context, recipeID string, query comments.HistoryQuery) ([]model.Comment, error) {
	items, err := e.comments.History(ctx, recipeID, query)
	return items, translate("list comments", err)
}

func (e *Engine) Stat(ctx context.Context, recipeID string) (model.RatingStat, error) {
	stat, err := e.ratings.GetStat(ctx, recipeID)
	return stat, translate("read rating", err)
}

// RaterValue returns the rating raterID gave recipeID, if any.
func (e *Engine) RaterValue(recipeID, raterID string) (int, bool) {
	return e.ratings.RaterValue(recipeID, raterID)
}

// Ping checks the durable stores.
func (e *Engine) Ping(ctx context.Context) error {
	if err := e.backend.Ping(ctx); err != nil {
		return translate("ping store", err)
	}
	if pinger, ok := e.rbackend.(interface{ Ping(context.Context) error }); ok {
		if err := pinger.Ping(ctx); err != nil {
			return translate("ping rating store", err)
		}
	}
	return nil
}

func (e *Engine) view(ctx context.Context, node model.RecipeNode) (model.RecipeView, error) {
	stat, err := e.ratings.GetStat(ctx, node.ID)
	if err != nil {
		return model.RecipeView{}, translate("read rating", err)
	}
	return model.NewRecipeView(node, stat, e.comments.Count(node.ID)), nil
}

// identify validates the acting author and records its display name snapshot.
func (e *Engine) identify(ctx context.Context, author model.Author) (model.Author, error) {
	if err := validateAuthor(author); err != nil {
		return model.Author{}, err
	}
	author.UserID = strings.TrimSpace(author.UserID)
	author.DisplayName = strings.TrimSpace(author.DisplayName)
	if author.DisplayName == "" {
		author.DisplayName = author.UserID
	}
	if err := e.backend.EnsureAuthor(ctx, author); err != nil {
		return model.Author{}, translate("ensure author", err)
	}
	return author, nil
}

func validateAuthor(author model.Author) error {
	if strings.TrimSpace(author.UserID) == "" {
		return model.Validation("author identity is required", nil)
	}
	return nil
}

// translate keeps taxonomy errors and reports anything else as a storage failure.
func translate(op string, err error) error {
	if err == nil {
		return nil
	}
	if model.CodeOf(err) != "" {
		return err
	}
	return model.StorageUnavailable(op, err)
}
