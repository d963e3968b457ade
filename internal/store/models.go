package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"recipelineage/api/internal/model"
)

// User is a row of the users table.
type User struct {
	ID          string
	DisplayName string
	Bio         string
	JoinedAt    time.Time
}

func (u User) profile() model.AuthorProfile {
	return model.AuthorProfile{
		UserID:      u.ID,
		DisplayName: u.DisplayName,
		Bio:         u.Bio,
		JoinedAt:    u.JoinedAt.UTC(),
	}
}

type recipeRow struct {
	ID           string
	Title        string
	Ingredients  []byte
	Instructions []byte
	AuthorID     string
	AuthorName   string
	ParentID     sql.NullString
	Kind         string
	CreatedAt    time.Time
}

func (r recipeRow) node() (model.RecipeNode, error) {
	kind, ok := model.ParseDerivationKind(r.Kind)
	if !ok {
		return model.RecipeNode{}, fmt.Errorf("recipe %s has unknown derivation kind %q", r.ID, r.Kind)
	}
	node := model.RecipeNode{
		ID:        r.ID,
		Title:     r.Title,
		Author:    model.Author{UserID: r.AuthorID, DisplayName: r.AuthorName},
		ParentID:  r.ParentID.String,
		Kind:      kind,
		CreatedAt: r.CreatedAt.UTC(),
	}
	if err := decodeList(r.Ingredients, &node.Ingredients); err != nil {
		return model.RecipeNode{}, fmt.Errorf("decode ingredients of %s: %w", r.ID, err)
	}
	if err := decodeList(r.Instructions, &node.Instructions); err != nil {
		return model.RecipeNode{}, fmt.Errorf("decode instructions of %s: %w", r.ID, err)
	}
	return node, nil
}

func encodeList(values []string) (string, error) {
	if values == nil {
		values = []string{}
	}
	raw, err := json.Marshal(values)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func decodeList(raw []byte, out *[]string) error {
	*out = []string{}
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, out)
}

func nullString(value string) sql.NullString {
	return sql.NullString{String: value, Valid: value != ""}
}
