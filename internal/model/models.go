// Package model holds the recipe engine's shared domain types and error taxonomy.
package model

import (
	"strings"
	"time"
)

const (
	MinRating = 1
	MaxRating = 5
)

type DerivationKind string

const (
	KindOriginal DerivationKind = "ORIGINAL"
	KindBranch   DerivationKind = "BRANCH"
	KindFork     DerivationKind = "FORK"
)

// ParseDerivationKind accepts the kind case-insensitively.
func ParseDerivationKind(value string) (DerivationKind, bool) {
	switch kind := DerivationKind(strings.ToUpper(strings.TrimSpace(value))); kind {
	case KindOriginal, KindBranch, KindFork:
		return kind, true
	default:
		return "", false
	}
}

// Derived reports whether the kind requires a parent recipe.
func (k DerivationKind) Derived() bool {
	return k == KindBranch || k == KindFork
}

// Author is the identity snapshot supplied by the identity provider.
type Author struct {
	UserID      string `json:"id"`
	DisplayName string `json:"name"`
}

type AuthorProfile struct {
	UserID      string    `json:"id"`
	DisplayName string    `json:"name"`
	Bio         string    `json:"bio"`
	JoinedAt    time.Time `json:"joinedAt"`
}

// RecipeNode is one recipe in the lineage forest. ParentID is empty for originals.
type RecipeNode struct {
	ID           string         `json:"id"`
	Title        string         `json:"title"`
	Ingredients  []string       `json:"ingredients"`
	Instructions []string       `json:"instructions"`
	Author       Author         `json:"author"`
	ParentID     string         `json:"parentId,omitempty"`
	Kind         DerivationKind `json:"derivationKind"`
	CreatedAt    time.Time      `json:"createdAt"`
}

// Clone returns a copy that shares no slices with n.
func (n RecipeNode) Clone() RecipeNode {
	n.Ingredients = cloneStrings(n.Ingredients)
	n.Instructions = cloneStrings(n.Instructions)
	return n
}

type RatingStat struct {
	RecipeID string `json:"recipeId"`
	Sum      int    `json:"sum"`
	Count    int    `json:"count"`
}

// Average is derived on read; it is never stored.
func (s RatingStat) Average() float64 {
	if s.Count == 0 {
		return 0
	}
	return float64(s.Sum) / float64(s.Count)
}

type Rating struct {
	RecipeID  string
	RaterID   string
	Value     int
	UpdatedAt time.Time
}

type Comment struct {
	ID        string    `json:"id"`
	RecipeID  string    `json:"recipeId"`
	Author    Author    `json:"author"`
	Body      string    `json:"body"`
	Rating    int       `json:"rating"`
	CreatedAt time.Time `json:"createdAt"`
}

// Before reports whether c sorts before other in the (CreatedAt, ID) total order.
func (c Comment) Before(other Comment) bool {
	if !c.CreatedAt.Equal(other.CreatedAt) {
		return c.CreatedAt.Before(other.CreatedAt)
	}
	return c.ID < other.ID
}

// ValidRating reports whether value is inside the accepted star range.
func ValidRating(value int) bool {
	return value >= MinRating && value <= MaxRating
}

// CleanList trims entries and drops blank ones.
func CleanList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		out = append(out, value)
	}
	return out
}

func cloneStrings(values []string) []string {
	if values == nil {
		return nil
	}
	out := make([]string, len(values))
	copy(out, values)
	return out
}

// RecipeView is a recipe together with its live rating aggregate. The average is
// computed from the stat at read time.
type RecipeView struct {
	RecipeNode
	AverageRating float64 `json:"averageRating"`
	RatingCount   int     `json:"ratingCount"`
	CommentCount  int     `json:"commentCount"`
}

func NewRecipeView(node RecipeNode, stat RatingStat, comments int) RecipeView {
	return RecipeView{
		RecipeNode:    node,
		AverageRating: stat.Average(),
		RatingCount:   stat.Count,
		CommentCount:  comments,
	}
}
