// Package lineage keeps the forest of recipes created by branching and forking.
//
// Nodes live in an arena keyed by id and refer to their parent by id only. A
// parent must exist before a child is inserted, so the parent edges can never
// form a cycle.
package lineage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"recipelineage/api/internal/model"
	"recipelineage/api/internal/util"
)

// Backend persists recipe nodes.
type Backend interface {
	InsertRecipe(context.Context, model.RecipeNode) error
}

type NewRecipe struct {
	Title        string
	Ingredients  []string
	Instructions []string
}

// Overrides replace whole fields of the parent recipe. Nil keeps the parent's value.
type Overrides struct {
	Title        *string
	Ingredients  []string
	Instructions []string
}

type Option func(*Store)

func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

func WithIDGenerator(newID func() string) Option {
	return func(s *Store) {
		if newID != nil {
			s.newID = newID
		}
	}
}

type Store struct {
	backend Backend
	now     func() time.Time
	newID   func() string

	mu       sync.RWMutex
	nodes    map[string]model.RecipeNode
	children map[string][]string
}

func New(backend Backend, opts ...Option) *Store {
	s := &Store{
		backend:  backend,
		now:      func() time.Time { return time.Now().UTC() },
		newID:    func() string { return util.NewID("rcp") },
		nodes:    make(map[string]model.RecipeNode),
		children: make(map[string][]string),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func (s *Store) CreateOriginal(ctx context.Context, input NewRecipe, author model.Author) (model.RecipeNode, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return model.RecipeNode{}, model.Validation("title is required", nil)
	}
	ingredients := model.CleanList(input.Ingredients)
	if len(ingredients) == 0 {
		return model.RecipeNode{}, model.Validation("at least one ingredient is required", nil)
	}
	node := model.RecipeNode{
		ID:           s.newID(),
		Title:        title,
		Ingredients:  ingredients,
		Instructions: model.CleanList(input.Instructions),
		Author:       author,
		Kind:         model.KindOriginal,
		CreatedAt:    s.now(),
	}
	if err := s.insert(ctx, node); err != nil {
		return model.RecipeNode{}, err
	}
	return node.Clone(), nil
}

// Derive creates a BRANCH or FORK of parentID. Both kinds share the same mechanics.
func (s *Store) Derive(ctx context.Context, parentID string, kind model.DerivationKind, overrides Overrides, author model.Author) (model.RecipeNode, error) {
	if !kind.Derived() {
		return model.RecipeNode{}, model.Validation("derivation kind must be BRANCH or FORK", map[string]any{"kind": kind})
	}
	parent, ok := s.Get(parentID)
	if !ok {
		return model.RecipeNode{}, model.NotFound("parent recipe", parentID)
	}

	node := model.RecipeNode{
		ID:           s.newID(),
		Title:        parent.Title,
		Ingredients:  parent.Ingredients,
		Instructions: parent.Instructions,
		Author:       author,
		ParentID:     parent.ID,
		Kind:         kind,
		CreatedAt:    s.now(),
	}
	if overrides.Title != nil {
		title := strings.TrimSpace(*overrides.Title)
		if title == "" {
			return model.RecipeNode{}, model.Validation("title override must not be blank", nil)
		}
		node.Title = title
	}
	if overrides.Ingredients != nil {
		ingredients := model.CleanList(overrides.Ingredients)
		if len(ingredients) == 0 {
			return model.RecipeNode{}, model.Validation("ingredients override must not be empty", nil)
		}
		node.Ingredients = ingredients
	}
	if overrides.Instructions != nil {
		node.Instructions = model.CleanList(overrides.Instructions)
	}

	if err := s.insert(ctx, node); err != nil {
		return model.RecipeNode{}, err
	}
	return node.Clone(), nil
}

// Ancestors returns the chain of parents of id, root first. The node itself is not included.
func (s *Store) Ancestors(_ context.Context, id string) ([]model.RecipeNode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	node, ok := s.nodes[id]
	if !ok {
		return nil, model.NotFound("recipe", id)
	}
	chain := make([]model.RecipeNode, 0)
	// Each step visits a distinct node, so the arena size bounds the walk.
	for steps := 0; node.ParentID != "" && steps < len(s.nodes); steps++ {
		parent, ok := s.nodes[node.ParentID]
		if !ok {
			break
		}
		chain = append(chain, parent.Clone())
		node = parent
	}
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain, nil
}

// Children returns the direct derivations of id, oldest first.
func (s *Store) Children(_ context.Context, id string) ([]model.RecipeNode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.nodes[id]; !ok {
		return nil, model.NotFound("recipe", id)
	}
	ids := s.children[id]
	items := make([]model.RecipeNode, 0, len(ids))
	for _, childID := range ids {
		items = append(items, s.nodes[childID].Clone())
	}
	return items, nil
}

func (s *Store) Get(id string) (model.RecipeNode, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	node, ok := s.nodes[id]
	if !ok {
		return model.RecipeNode{}, false
	}
	return node.Clone(), true
}

func (s *Store) Exists(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.nodes[id]
	return ok
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.nodes)
}

// ByAuthor lists the recipes written by userID, newest first.
func (s *Store) ByAuthor(userID string) []model.RecipeNode {
	s.mu.RLock()
	items := make([]model.RecipeNode, 0)
	for _, node := range s.nodes {
		if node.Author.UserID == userID {
			items = append(items, node.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.After(items[j].CreatedAt)
		}
		return items[i].ID > items[j].ID
	})
	return items
}

// AuthorCount is the number of recipes an author has written.
type AuthorCount struct {
	Author    model.Author
	RecipeIDs []string
}

// CountByAuthor groups recipe ids by author. The display name is taken from the newest recipe.
func (s *Store) CountByAuthor() map[string]AuthorCount {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[string]AuthorCount)
	latest := make(map[string]time.Time)
	for _, node := range s.nodes {
		entry := counts[node.Author.UserID]
		entry.RecipeIDs = append(entry.RecipeIDs, node.ID)
		if seen, ok := latest[node.Author.UserID]; !ok || node.CreatedAt.After(seen) {
			entry.Author = node.Author
			latest[node.Author.UserID] = node.CreatedAt
		}
		counts[node.Author.UserID] = entry
	}
	return counts
}

// Load restores persisted nodes without writing them back. Nodes are applied in
// creation order so parents land first; ids already in the arena are skipped and a
// node whose parent never appears is rejected.
func (s *Store) Load(nodes []model.RecipeNode) error {
	pending := make([]model.RecipeNode, len(nodes))
	copy(pending, nodes)
	sort.Slice(pending, func(i, j int) bool {
		return createdBefore(pending[i], pending[j])
	})

	s.mu.Lock()
	defer s.mu.Unlock()

	for len(pending) > 0 {
		deferred := pending[:0:0]
		for _, node := range pending {
			if _, ok := s.nodes[node.ID]; ok {
				continue
			}
			if node.ParentID != "" {
				if _, ok := s.nodes[node.ParentID]; !ok {
					deferred = append(deferred, node)
					continue
				}
			}
			s.insertLocked(node.Clone())
		}
		if len(deferred) == len(pending) {
			orphan := deferred[0]
			return model.NotFound("parent recipe", orphan.ParentID)
		}
		pending = deferred
	}
	return nil
}

func (s *Store) insert(ctx context.Context, node model.RecipeNode) error {
	if s.backend != nil {
		if err := s.backend.InsertRecipe(ctx, node); err != nil {
			return model.StorageUnavailable("insert recipe", err)
		}
	}
	s.mu.Lock()
	s.insertLocked(node.Clone())
	s.mu.Unlock()
	return nil
}

func (s *Store) insertLocked(node model.RecipeNode) {
	s.nodes[node.ID] = node
	if node.ParentID == "" {
		return
	}
	ids := append(s.children[node.ParentID], node.ID)
	s.children[node.ParentID] = ids
	if n := len(ids); n > 1 && !createdBefore(s.nodes[ids[n-2]], node) {
		s.sortChildrenLocked(node.ParentID)
	}
}

func createdBefore(a, b model.RecipeNode) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

func (s *Store) sortChildrenLocked(parentID string) {
	ids := s.children[parentID]
	sort.Slice(ids, func(i, j int) bool {
		return createdBefore(s.nodes[ids[i]], s.nodes[ids[j]])
	})
}
