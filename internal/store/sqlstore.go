package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"recipelineage/api/internal/model"
	"recipelineage/api/internal/rating"
)

// SQLStore persists recipes, ratings, comments and users. The queries are shared
// by Postgres and SQLite.
type SQLStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewPostgresStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db, now: utcNow}
}

// NewSQLiteStore expects a handle from OpenSQLite.
func NewSQLiteStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db, now: utcNow}
}

func utcNow() time.Time {
	return time.Now().UTC()
}

func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLStore) EnsureAuthor(ctx context.Context, author model.Author) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, display_name, joined_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET display_name=excluded.display_name
	`, author.UserID, author.DisplayName, s.now())
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

func (s *SQLStore) Author(ctx context.Context, userID string) (model.AuthorProfile, error) {
	user, err := s.GetUserByID(ctx, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return model.AuthorProfile{}, model.NotFound("user", userID)
	}
	if err != nil {
		return model.AuthorProfile{}, err
	}
	return user.profile(), nil
}

func (s *SQLStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `SELECT id, display_name, bio, joined_at FROM users WHERE id=$1`, userID).
		Scan(&user.ID, &user.DisplayName, &user.Bio, &user.JoinedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, err
	}
	if err != nil {
		return User{}, fmt.Errorf("read user: %w", err)
	}
	return user, nil
}

func (s *SQLStore) InsertRecipe(ctx context.Context, node model.RecipeNode) error {
	ingredients, err := encodeList(node.Ingredients)
	if err != nil {
		return fmt.Errorf("encode ingredients: %w", err)
	}
	instructions, err := encodeList(node.Instructions)
	if err != nil {
		return fmt.Errorf("encode instructions: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO recipes (id, title, ingredients, instructions, author_id, author_name, parent_id, derivation_kind, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, node.ID, node.Title, ingredients, instructions, node.Author.UserID, node.Author.DisplayName,
		nullString(node.ParentID), string(node.Kind), node.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert recipe: %w", err)
	}
	return nil
}

// ListRecipes returns every recipe ordered by creation, so parents precede children.
func (s *SQLStore) ListRecipes(ctx context.Context) ([]model.RecipeNode, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, ingredients, instructions, author_id, author_name, parent_id, derivation_kind, created_at
		FROM recipes
		ORDER BY created_at ASC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list recipes: %w", err)
	}
	defer rows.Close()

	items := make([]model.RecipeNode, 0)
	for rows.Next() {
		var row recipeRow
		if err := rows.Scan(&row.ID, &row.Title, &row.Ingredients, &row.Instructions, &row.AuthorID, &row.AuthorName, &row.ParentID, &row.Kind, &row.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan recipe: %w", err)
		}
		node, err := row.node()
		if err != nil {
			return nil, err
		}
		items = append(items, node)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate recipes: %w", err)
	}
	return items, nil
}

func (s *SQLStore) SaveRating(ctx context.Context, change rating.Change) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ratings (recipe_id, rater_id, value, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (recipe_id, rater_id) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at
	`, change.RecipeID, change.RaterID, change.Value, change.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert rating: %w", err)
	}
	return nil
}

func (s *SQLStore) DeleteRating(ctx context.Context, recipeID, raterID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM ratings WHERE recipe_id=$1 AND rater_id=$2`, recipeID, raterID)
	if err != nil {
		return fmt.Errorf("delete rating: %w", err)
	}
	return nil
}

func (s *SQLStore) ListRatings(ctx context.Context) ([]model.Rating, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT recipe_id, rater_id, value, updated_at
		FROM ratings
		ORDER BY recipe_id ASC, rater_id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list ratings: %w", err)
	}
	defer rows.Close()

	items := make([]model.Rating, 0)
	for rows.Next() {
		var item model.Rating
		if err := rows.Scan(&item.RecipeID, &item.RaterID, &item.Value, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan rating: %w", err)
		}
		item.UpdatedAt = item.UpdatedAt.UTC()
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ratings: %w", err)
	}
	return items, nil
}

func (s *SQLStore) InsertComment(ctx context.Context, comment model.Comment) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO comments (id, recipe_id, author_id, author_name, body, rating, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, comment.ID, comment.RecipeID, comment.Author.UserID, comment.Author.DisplayName, comment.Body, comment.Rating, comment.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert comment: %w", err)
	}
	return nil
}

func (s *SQLStore) DeleteComment(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM comments WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete comment: %w", err)
	}
	return nil
}

func (s *SQLStore) ListComments(ctx context.Context) ([]model.Comment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, recipe_id, author_id, author_name, body, rating, created_at
		FROM comments
		ORDER BY recipe_id ASC, created_at ASC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()
	return scanComments(rows)
}

func scanComments(rows *sql.Rows) ([]model.Comment, error) {
	items := make([]model.Comment, 0)
	for rows.Next() {
		var item model.Comment
		if err := rows.Scan(&item.ID, &item.RecipeID, &item.Author.UserID, &item.Author.DisplayName, &item.Body, &item.Rating, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		item.CreatedAt = item.CreatedAt.UTC()
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate comments: %w", err)
	}
	return items, nil
}
