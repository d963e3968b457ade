package engine

import (
	"context"
	"errors"
	"sort"

	"recipelineage/api/internal/model"
)

type TopQuery struct {
	MinAverage float64
	MinCount   int
	Limit      int
}

// DefaultTopQuery is the home page query: well rated recipes, a handful of them.
func (e *Engine) DefaultTopQuery() TopQuery {
	return TopQuery{MinAverage: e.cfg.TopMinAverage, Limit: e.cfg.TopLimit}
}

// TopRecipes ranks rated recipes by average, then rating count, then id.
func (e *Engine) TopRecipes(ctx context.Context, query TopQuery) ([]model.RecipeView, error) {
	if query.MinAverage < 0 || query.MinAverage > model.MaxRating {
		return nil, model.Validation("minAverage must be between 0 and 5", map[string]any{"minAverage": query.MinAverage})
	}
	if query.MinCount < 0 {
		return nil, model.Validation("minCount must not be negative", map[string]any{"minCount": query.MinCount})
	}
	limit := query.Limit
	if limit <= 0 {
		limit = e.cfg.TopLimit
	}

	// Ratings may outlive their recipe in a shared index, so filter before the limit.
	ranked := e.ratings.TopRated(query.MinAverage, query.MinCount, 0)
	items := make([]model.RecipeView, 0, min(limit, len(ranked)))
	for _, entry := range ranked {
		if len(items) == limit {
			break
		}
		node, ok := e.recipes.Get(entry.RecipeID)
		if !ok {
			continue
		}
		items = append(items, model.NewRecipeView(node, entry.Stat, e.comments.Count(node.ID)))
	}
	return items, nil
}

type ContributorSummary struct {
	Author        model.Author `json:"author"`
	RecipeCount   int          `json:"recipeCount"`
	RatedRecipes  int          `json:"ratedRecipes"`
	AverageRating float64      `json:"averageRating"`
}

// TopContributors ranks authors by recipe count, then by the mean average of their
// rated recipes, then by id.
func (e *Engine) TopContributors(ctx context.Context, limit int) ([]ContributorSummary, error) {
	if limit <= 0 {
		limit = e.cfg.TopLimit
	}
	counts := e.recipes.CountByAuthor()
	items := make([]ContributorSummary, 0, len(counts))
	for _, entry := range counts {
		summary := ContributorSummary{Author: entry.Author, RecipeCount: len(entry.RecipeIDs)}
		total := 0.0
		for _, id := range entry.RecipeIDs {
			stat, err := e.ratings.GetStat(ctx, id)
			if err != nil {
				return nil, translate("read rating", err)
			}
			if stat.Count == 0 {
				continue
			}
			summary.RatedRecipes++
			total += stat.Average()
		}
		if summary.RatedRecipes > 0 {
			summary.AverageRating = total / float64(summary.RatedRecipes)
		}
		items = append(items, summary)
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].RecipeCount != items[j].RecipeCount {
			return items[i].RecipeCount > items[j].RecipeCount
		}
		if items[i].AverageRating != items[j].AverageRating {
			return items[i].AverageRating > items[j].AverageRating
		}
		return items[i].Author.UserID < items[j].Author.UserID
	})
	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

type Profile struct {
	Author  model.AuthorProfile `json:"author"`
	Recipes []model.RecipeView  `json:"recipes"`
}

// Profile returns an author's metadata and recipes, newest first.
func (e *Engine) Profile(ctx context.Context, userID string) (Profile, error) {
	nodes := e.recipes.ByAuthor(userID)
	author, err := e.backend.Author(ctx, userID)
	switch {
	case errors.Is(err, model.ErrNotFound) && len(nodes) > 0:
		author = model.AuthorProfile{UserID: userID, DisplayName: nodes[0].Author.DisplayName}
	case err != nil:
		return Profile{}, translate("read author", err)
	}

	profile := Profile{Author: author, Recipes: make([]model.RecipeView, 0, len(nodes))}
	for _, node := range nodes {
		view, err := e.view(ctx, node)
		if err != nil {
			return Profile{}, err
		}
		profile.Recipes = append(profile.Recipes, view)
	}
	return profile, nil
}
