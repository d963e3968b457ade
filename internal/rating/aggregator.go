// Package rating maintains the running rating aggregate of every recipe.
//
// Each recipe has its own entry with two locks: writeMu serializes writers for
// that recipe (including the durable write), and mu guards the in-memory sum,
// count and rater values so readers never observe a half-applied update.
// Unrelated recipes never share a lock.
package rating

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"recipelineage/api/internal/model"
)

// RecipeIndex answers whether a recipe exists.
type RecipeIndex interface {
	Exists(id string) bool
}

// Change describes one durable rating write. Prior is meaningful only when HadPrior is set.
type Change struct {
	RecipeID  string
	RaterID   string
	Value     int
	Prior     int
	HadPrior  bool
	Stat      model.RatingStat
	UpdatedAt time.Time
}

// Backend persists individual ratings.
type Backend interface {
	SaveRating(context.Context, Change) error
	DeleteRating(ctx context.Context, recipeID, raterID string) error
}

type Option func(*Aggregator)

func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) {
		if now != nil {
			a.now = now
		}
	}
}

type Aggregator struct {
	recipes RecipeIndex
	backend Backend
	now     func() time.Time

	entriesMu sync.RWMutex
	entries   map[string]*entry
}

type entry struct {
	writeMu sync.Mutex

	mu     sync.RWMutex
	sum    int
	count  int
	raters map[string]int
}

func New(recipes RecipeIndex, backend Backend, opts ...Option) *Aggregator {
	a := &Aggregator{
		recipes: recipes,
		backend: backend,
		now:     func() time.Time { return time.Now().UTC() },
		entries: make(map[string]*entry),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// SetRating records raterID's rating for recipeID, replacing any earlier value.
func (a *Aggregator) SetRating(ctx context.Context, recipeID, raterID string, value int) (model.RatingStat, error) {
	if !model.ValidRating(value) {
		return model.RatingStat{}, model.Validation("rating must be between 1 and 5", map[string]any{"rating": value})
	}
	raterID = strings.TrimSpace(raterID)
	if raterID == "" {
		return model.RatingStat{}, model.Validation("rater is required", nil)
	}
	if !a.recipes.Exists(recipeID) {
		return model.RatingStat{}, model.NotFound("recipe", recipeID)
	}

	e := a.entry(recipeID)
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	// Only writers mutate the entry and they hold writeMu, so these reads are stable.
	prior, hadPrior := e.raters[raterID]
	next := model.RatingStat{RecipeID: recipeID, Sum: e.sum - prior + value, Count: e.count}
	if !hadPrior {
		next.Count++
	}

	if a.backend != nil {
		if err := a.backend.SaveRating(ctx, Change{
			RecipeID:  recipeID,
			RaterID:   raterID,
			Value:     value,
			Prior:     prior,
			HadPrior:  hadPrior,
			Stat:      next,
			UpdatedAt: a.now(),
		}); err != nil {
			return model.RatingStat{}, model.StorageUnavailable("save rating", err)
		}
	}

	e.mu.Lock()
	e.sum, e.count = next.Sum, next.Count
	e.raters[raterID] = value
	e.mu.Unlock()
	return next, nil
}

// RetractRating removes raterID's rating. Retracting a rating that does not exist is a no-op.
func (a *Aggregator) RetractRating(ctx context.Context, recipeID, raterID string) (model.RatingStat, error) {
	if !a.recipes.Exists(recipeID) {
		return model.RatingStat{}, model.NotFound("recipe", recipeID)
	}
	e := a.entry(recipeID)
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	prior, hadPrior := e.raters[raterID]
	if !hadPrior {
		return e.snapshot(recipeID), nil
	}
	if a.backend != nil {
		if err := a.backend.DeleteRating(ctx, recipeID, raterID); err != nil {
			return model.RatingStat{}, model.StorageUnavailable("delete rating", err)
		}
	}

	e.mu.Lock()
	e.sum -= prior
	e.count--
	delete(e.raters, raterID)
	e.mu.Unlock()
	return e.snapshot(recipeID), nil
}

func (a *Aggregator) GetStat(_ context.Context, recipeID string) (model.RatingStat, error) {
	if !a.recipes.Exists(recipeID) {
		return model.RatingStat{}, model.NotFound("recipe", recipeID)
	}
	e := a.lookup(recipeID)
	if e == nil {
		return model.RatingStat{RecipeID: recipeID}, nil
	}
	return e.snapshot(recipeID), nil
}

// RaterValue returns raterID's current rating of recipeID.
func (a *Aggregator) RaterValue(recipeID, raterID string) (int, bool) {
	e := a.lookup(recipeID)
	if e == nil {
		return 0, false
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	value, ok := e.raters[raterID]
	return value, ok
}

type Ranked struct {
	RecipeID string
	Stat     model.RatingStat
}

// TopRated ranks rated recipes by average desc, count desc, id asc. A recipe needs at
// least one rating to be ranked. limit <= 0 returns every match.
func (a *Aggregator) TopRated(minAverage float64, minCount, limit int) []Ranked {
	if minCount < 1 {
		minCount = 1
	}
	a.entriesMu.RLock()
	ids := make([]string, 0, len(a.entries))
	entries := make([]*entry, 0, len(a.entries))
	for id, e := range a.entries {
		ids = append(ids, id)
		entries = append(entries, e)
	}
	a.entriesMu.RUnlock()

	items := make([]Ranked, 0, len(ids))
	for i, e := range entries {
		stat := e.snapshot(ids[i])
		if stat.Count < minCount || stat.Average() < minAverage {
			continue
		}
		items = append(items, Ranked{RecipeID: ids[i], Stat: stat})
	}
	sort.Slice(items, func(i, j int) bool {
		left, right := items[i].Stat, items[j].Stat
		// Compare averages exactly: a/b > c/d  <=>  a*d > c*b for positive counts.
		if lhs, rhs := left.Sum*right.Count, right.Sum*left.Count; lhs != rhs {
			return lhs > rhs
		}
		if left.Count != right.Count {
			return left.Count > right.Count
		}
		return items[i].RecipeID < items[j].RecipeID
	})
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}

// Load restores persisted ratings without writing them back. A later rating for the
// same (recipe, rater) replaces an earlier one.
func (a *Aggregator) Load(ratings []model.Rating) error {
	for _, r := range ratings {
		if !model.ValidRating(r.Value) {
			return model.Validation("stored rating out of range", map[string]any{"recipeId": r.RecipeID, "raterId": r.RaterID, "rating": r.Value})
		}
		e := a.entry(r.RecipeID)
		e.writeMu.Lock()
		e.mu.Lock()
		if prior, ok := e.raters[r.RaterID]; ok {
			e.sum -= prior
		} else {
			e.count++
		}
		e.sum += r.Value
		e.raters[r.RaterID] = r.Value
		e.mu.Unlock()
		e.writeMu.Unlock()
	}
	return nil
}

func (a *Aggregator) lookup(recipeID string) *entry {
	a.entriesMu.RLock()
	defer a.entriesMu.RUnlock()
	return a.entries[recipeID]
}

// entry returns the recipe's entry, creating it on first use. The registry lock is
// only held for the map access.
func (a *Aggregator) entry(recipeID string) *entry {
	if e := a.lookup(recipeID); e != nil {
		return e
	}
	a.entriesMu.Lock()
	defer a.entriesMu.Unlock()
	if e, ok := a.entries[recipeID]; ok {
		return e
	}
	e := &entry{raters: make(map[string]int)}
	a.entries[recipeID] = e
	return e
}

func (e *entry) snapshot(recipeID string) model.RatingStat {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return model.RatingStat{RecipeID: recipeID, Sum: e.sum, Count: e.count}
}
