package app

import (
	"net/http"
	"time"

	"recipelineage/api/internal/comments"
	"recipelineage/api/internal/lineage"
	"recipelineage/api/internal/model"
)

type recipeBody struct {
	Title        *string  `json:"title"`
	Ingredients  []string `json:"ingredients"`
	Instructions []string `json:"instructions"`
}

type ratingResponse struct {
	RecipeID   string  `json:"recipeId"`
	Average    float64 `json:"average"`
	Count      int     `json:"count"`
	YourRating *int    `json:"yourRating,omitempty"`
}

type commentCursor struct {
	Before   time.Time `json:"before"`
	BeforeID string    `json:"beforeId"`
}

func newRatingResponse(stat model.RatingStat) ratingResponse {
	return ratingResponse{RecipeID: stat.RecipeID, Average: stat.Average(), Count: stat.Count}
}

// routeRecipes serves /api/recipes and everything below it.
func (s *HTTPServer) routeRecipes(w http.ResponseWriter, r *http.Request, parts []string) {
	switch len(parts) {
	case 0:
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
		s.handleCreateRecipe(w, r)
		return
	case 1:
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
		view, err := s.engine.Recipe(r.Context(), parts[0])
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"recipe": view})
		return
	case 2:
		recipeID := parts[0]
		switch parts[1] {
		case "branch", "fork":
			if r.Method == http.MethodPost {
				s.handleDerive(w, r, recipeID, parts[1])
				return
			}
		case "ancestors":
			if r.Method == http.MethodGet {
				items, err := s.engine.Ancestors(r.Context(), recipeID)
				if err != nil {
					s.fail(w, r, err)
					return
				}
				writeJSON(w, http.StatusOK, map[string]any{"ancestors": items})
				return
			}
		case "children":
			if r.Method == http.MethodGet {
				items, err := s.engine.Children(r.Context(), recipeID)
				if err != nil {
					s.fail(w, r, err)
					return
				}
				writeJSON(w, http.StatusOK, map[string]any{"children": items})
				return
			}
		case "rating":
			s.handleRating(w, r, recipeID)
			return
		case "comments":
			s.handleComments(w, r, recipeID)
			return
		default:
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
			return
		}
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}
	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleCreateRecipe(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.requireActor(w, r)
	if !ok {
		return
	}
	var body recipeBody
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	input := lineage.NewRecipe{Ingredients: body.Ingredients, Instructions: body.Instructions}
	if body.Title != nil {
		input.Title = *body.Title
	}
	view, err := s.engine.CreateRecipe(r.Context(), actor, input)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"recipe": view})
}

func (s *HTTPServer) handleDerive(w http.ResponseWriter, r *http.Request, parentID, action string) {
	actor, ok := s.requireActor(w, r)
	if !ok {
		return
	}
	var body recipeBody
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	overrides := lineage.Overrides{
		Title:        body.Title,
		Ingredients:  body.Ingredients,
		Instructions: body.Instructions,
	}

	derive := s.engine.Branch
	if action == "fork" {
		derive = s.engine.Fork
	}
	view, err := derive(r.Context(), actor, parentID, overrides)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"recipe": view})
}

func (s *HTTPServer) handleRating(w http.ResponseWriter, r *http.Request, recipeID string) {
	switch r.Method {
	case http.MethodGet:
		stat, err := s.engine.Stat(r.Context(), recipeID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		payload := newRatingResponse(stat)
		if actor, ok := actorFromRequest(r); ok {
			if value, rated := s.engine.RaterValue(recipeID, actor.UserID); rated {
				payload.YourRating = &value
			}
		}
		writeJSON(w, http.StatusOK, payload)
	case http.MethodPut:
		actor, ok := s.requireActor(w, r)
		if !ok {
			return
		}
		var body struct {
			Value int `json:"value"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		stat, err := s.engine.Rate(r.Context(), actor, recipeID, body.Value)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		payload := newRatingResponse(stat)
		payload.YourRating = &body.Value
		writeJSON(w, http.StatusOK, payload)
	case http.MethodDelete:
		actor, ok := s.requireActor(w, r)
		if !ok {
			return
		}
		stat, err := s.engine.RetractRating(r.Context(), actor, recipeID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, newRatingResponse(stat))
	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	}
}

func (s *HTTPServer) handleComments(w http.ResponseWriter, r *http.Request, recipeID string) {
	switch r.Method {
	case http.MethodGet:
		query := r.URL.Query()
		before, err := queryTime(query.Get("before"))
		if err != nil {
			s.fail(w, r, err)
			return
		}
		limit, err := queryInt(query.Get("limit"), 0)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		items, err := s.engine.History(r.Context(), recipeID, comments.HistoryQuery{
			Before:   before,
			BeforeID: query.Get("beforeId"),
			Limit:    limit,
		})
		if err != nil {
			s.fail(w, r, err)
			return
		}
		var next *commentCursor
		if len(items) > 0 {
			last := items[len(items)-1]
			next = &commentCursor{Before: last.CreatedAt, BeforeID: last.ID}
		}
		writeJSON(w, http.StatusOK, map[string]any{"comments": items, "next": next})
	case http.MethodPost:
		actor, ok := s.requireActor(w, r)
		if !ok {
			return
		}
		var body struct {
			Body   string `json:"body"`
			Rating int    `json:"rating"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		comment, err := s.engine.Comment(r.Context(), actor, recipeID, body.Body, body.Rating)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"comment": comment})
	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	}
}
