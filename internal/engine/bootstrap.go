package engine

import (
	"context"
	"fmt"
	"log/slog"

	"recipelineage/api/internal/lineage"
	"recipelineage/api/internal/model"
)

// Bootstrap loads persisted state into memory and, when enabled on an empty
// store, seeds a small demo lineage.
func (e *Engine) Bootstrap(ctx context.Context) error {
	nodes, err := e.backend.ListRecipes(ctx)
	if err != nil {
		return translate("list recipes", err)
	}
	if err := e.recipes.Load(nodes); err != nil {
		return fmt.Errorf("load recipes: %w", err)
	}

	ratingCount := 0
	if e.rbackend != nil {
		stored, err := e.rbackend.ListRatings(ctx)
		if err != nil {
			return translate("list ratings", err)
		}
		if err := e.ratings.Load(stored); err != nil {
			return fmt.Errorf("load ratings: %w", err)
		}
		ratingCount = len(stored)
	}

	stored, err := e.backend.ListComments(ctx)
	if err != nil {
		return translate("list comments", err)
	}
	e.comments.Load(stored)

	e.logger.Info("state loaded",
		slog.Int("recipes", len(nodes)),
		slog.Int("ratings", ratingCount),
		slog.Int("comments", len(stored)))

	if !e.cfg.SeedDemo || e.recipes.Len() > 0 {
		return nil
	}
	return e.seedDemo(ctx)
}

func (e *Engine) seedDemo(ctx context.Context) error {
	avery := model.Author{UserID: "avery", DisplayName: "Avery"}
	blake := model.Author{UserID: "blake", DisplayName: "Blake"}

	soup, err := e.CreateRecipe(ctx, avery, lineage.NewRecipe{
		Title:        "Soup",
		Ingredients:  []string{"water", "salt", "carrots", "onion"},
		Instructions: []string{"Chop the vegetables.", "Simmer everything for 30 minutes.", "Season to taste."},
	})
	if err != nil {
		return err
	}
	title := "Spicy Soup"
	spicy, err := e.Fork(ctx, blake, soup.ID, lineage.Overrides{
		Title:       &title,
		Ingredients: []string{"water", "salt", "carrots", "onion", "chili flakes"},
	})
	if err != nil {
		return err
	}
	if _, err := e.Comment(ctx, blake, soup.ID, "A solid base to build on.", 4); err != nil {
		return err
	}
	if _, err := e.Comment(ctx, avery, spicy.ID, "Great kick, the chili works.", 5); err != nil {
		return err
	}
	e.logger.Info("demo lineage seeded", slog.String("root_id", soup.ID), slog.String("fork_id", spicy.ID))
	return nil
}
