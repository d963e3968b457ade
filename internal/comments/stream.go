// Package comments keeps the ordered comment log of every recipe and fans new
// comments out to live subscribers.
package comments

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"recipelineage/api/internal/model"
	"recipelineage/api/internal/util"
)

const (
	defaultSubscriberBuffer = 64
	defaultHistoryPageSize  = 50
	maxHistoryPageSize      = 500
)

// RecipeIndex answers whether a recipe exists.
type RecipeIndex interface {
	Exists(id string) bool
}

// RatingSetter records the rating carried by a comment.
type RatingSetter interface {
	SetRating(ctx context.Context, recipeID, raterID string, value int) (model.RatingStat, error)
}

// Backend persists comments. DeleteComment undoes an InsertComment whose rating write failed.
type Backend interface {
	InsertComment(context.Context, model.Comment) error
	DeleteComment(ctx context.Context, id string) error
}

type Option func(*Stream)

// WithSubscriberBuffer sets how many live comments a subscriber may fall behind before it is dropped.
func WithSubscriberBuffer(n int) Option {
	return func(s *Stream) {
		if n > 0 {
			s.buffer = n
		}
	}
}

func WithHistoryPageSize(n int) Option {
	return func(s *Stream) {
		if n > 0 {
			s.pageSize = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Stream) {
		if now != nil {
			s.now = now
		}
	}
}

func WithIDGenerator(newID func() string) Option {
	return func(s *Stream) {
		if newID != nil {
			s.newID = newID
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Stream) {
		if logger != nil {
			s.logger = logger
		}
	}
}

type Stream struct {
	recipes  RecipeIndex
	ratings  RatingSetter
	backend  Backend
	buffer   int
	pageSize int
	now      func() time.Time
	newID    func() string
	logger   *slog.Logger

	logsMu sync.RWMutex
	logs   map[string]*recipeLog
}

// recipeLog is the per-recipe state. writeMu serializes posts for the recipe,
// which also fixes the order subscribers receive them in. mu guards comments and subs.
type recipeLog struct {
	writeMu sync.Mutex

	mu       sync.RWMutex
	comments []model.Comment
	subs     []*Subscription
}

func New(recipes RecipeIndex, ratings RatingSetter, backend Backend, opts ...Option) *Stream {
	s := &Stream{
		recipes:  recipes,
		ratings:  ratings,
		backend:  backend,
		buffer:   defaultSubscriberBuffer,
		pageSize: defaultHistoryPageSize,
		now:      func() time.Time { return time.Now().UTC() },
		newID:    func() string { return util.NewID("cmt") },
		logger:   slog.Default(),
		logs:     make(map[string]*recipeLog),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Post appends a comment and records its rating as the author's rating of the recipe.
// Subscribers are notified before Post returns.
func (s *Stream) Post(ctx context.Context, recipeID string, author model.Author, body string, rating int) (model.Comment, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return model.Comment{}, model.Validation("comment body is required", nil)
	}
	if !model.ValidRating(rating) {
		return model.Comment{}, model.Validation("rating must be between 1 and 5", map[string]any{"rating": rating})
	}
	if strings.TrimSpace(author.UserID) == "" {
		return model.Comment{}, model.Validation("author is required", nil)
	}
	if !s.recipes.Exists(recipeID) {
		return model.Comment{}, model.NotFound("recipe", recipeID)
	}

	log := s.log(recipeID)
	log.writeMu.Lock()
	defer log.writeMu.Unlock()

	comment := model.Comment{
		ID:        s.newID(),
		RecipeID:  recipeID,
		Author:    author,
		Body:      body,
		Rating:    rating,
		CreatedAt: s.now(),
	}
	// Live delivery follows post order, so the log must too even if the clock steps back.
	log.mu.RLock()
	if n := len(log.comments); n > 0 {
		if last := log.comments[n-1]; !last.Before(comment) {
			comment.CreatedAt = last.CreatedAt
			if !last.Before(comment) {
				comment.CreatedAt = last.CreatedAt.Add(time.Microsecond)
			}
		}
	}
	log.mu.RUnlock()
	if s.backend != nil {
		if err := s.backend.InsertComment(ctx, comment); err != nil {
			return model.Comment{}, model.StorageUnavailable("insert comment", err)
		}
	}
	if _, err := s.ratings.SetRating(ctx, recipeID, author.UserID, rating); err != nil {
		if s.backend != nil {
			if undoErr := s.backend.DeleteComment(context.WithoutCancel(ctx), comment.ID); undoErr != nil {
				s.logger.Error("comment compensation failed",
					slog.String("comment_id", comment.ID),
					slog.String("recipe_id", recipeID),
					slog.Any("error", undoErr))
			}
		}
		return model.Comment{}, err
	}

	log.mu.Lock()
	log.insertLocked(comment)
	subs := make([]*Subscription, len(log.subs))
	copy(subs, log.subs)
	log.mu.Unlock()

	for _, sub := range subs {
		if !sub.deliver(comment) {
			s.logger.Warn("subscriber overrun",
				slog.String("recipe_id", recipeID),
				slog.Int("buffer", s.buffer))
			sub.detach()
			s.remove(log, sub)
		}
	}
	return comment, nil
}

type HistoryQuery struct {
	// Before excludes comments at or after this instant. Zero starts from the newest comment.
	Before time.Time
	// BeforeID breaks ties among comments created at exactly Before.
	BeforeID string
	Limit    int
}

// History returns one page of comments, newest first.
func (s *Stream) History(_ context.Context, recipeID string, query HistoryQuery) ([]model.Comment, error) {
	if !s.recipes.Exists(recipeID) {
		return nil, model.NotFound("recipe", recipeID)
	}
	limit := query.Limit
	if limit <= 0 {
		limit = s.pageSize
	}
	if limit > maxHistoryPageSize {
		limit = maxHistoryPageSize
	}

	items := make([]model.Comment, 0)
	log := s.lookup(recipeID)
	if log == nil {
		return items, nil
	}

	log.mu.RLock()
	defer log.mu.RUnlock()
	end := len(log.comments)
	if !query.Before.IsZero() {
		cursor := model.Comment{CreatedAt: query.Before, ID: query.BeforeID}
		// First index not strictly before the cursor.
		end = sort.Search(len(log.comments), func(i int) bool {
			if query.BeforeID == "" {
				return !log.comments[i].CreatedAt.Before(query.Before)
			}
			return !log.comments[i].Before(cursor)
		})
	}
	for i := end - 1; i >= 0 && len(items) < limit; i-- {
		items = append(items, log.comments[i])
	}
	return items, nil
}

// Subscribe replays the recipe's existing comments oldest first and then delivers
// new ones as they are posted. Cancelling ctx cancels the subscription.
func (s *Stream) Subscribe(ctx context.Context, recipeID string) (*Subscription, error) {
	if !s.recipes.Exists(recipeID) {
		return nil, model.NotFound("recipe", recipeID)
	}
	log := s.log(recipeID)

	release := func(sub *Subscription) { s.remove(log, sub) }

	log.mu.Lock()
	sub := newSubscription(recipeID, len(log.comments)+s.buffer, s.buffer, release)
	for _, comment := range log.comments {
		sub.events <- comment
	}
	log.subs = append(log.subs, sub)
	log.mu.Unlock()

	sub.bindContext(ctx)
	return sub, nil
}

// Count returns the number of comments on the recipe.
func (s *Stream) Count(recipeID string) int {
	log := s.lookup(recipeID)
	if log == nil {
		return 0
	}
	log.mu.RLock()
	defer log.mu.RUnlock()
	return len(log.comments)
}

func (s *Stream) SubscriberCount(recipeID string) int {
	log := s.lookup(recipeID)
	if log == nil {
		return 0
	}
	log.mu.RLock()
	defer log.mu.RUnlock()
	return len(log.subs)
}

// Load restores persisted comments without writing them back or notifying anyone.
// Comments whose id is already present are skipped.
func (s *Stream) Load(comments []model.Comment) {
	for _, comment := range comments {
		log := s.log(comment.RecipeID)
		log.mu.Lock()
		if !log.containsLocked(comment.ID) {
			log.insertLocked(comment)
		}
		log.mu.Unlock()
	}
}

func (s *Stream) lookup(recipeID string) *recipeLog {
	s.logsMu.RLock()
	defer s.logsMu.RUnlock()
	return s.logs[recipeID]
}

func (s *Stream) log(recipeID string) *recipeLog {
	if log := s.lookup(recipeID); log != nil {
		return log
	}
	s.logsMu.Lock()
	defer s.logsMu.Unlock()
	if log, ok := s.logs[recipeID]; ok {
		return log
	}
	log := &recipeLog{}
	s.logs[recipeID] = log
	return log
}

// remove unregisters sub and closes its channel. Safe to call more than once.
func (s *Stream) remove(log *recipeLog, sub *Subscription) {
	log.mu.Lock()
	for i, candidate := range log.subs {
		if candidate == sub {
			log.subs = append(log.subs[:i], log.subs[i+1:]...)
			break
		}
	}
	log.mu.Unlock()
	sub.close()
}

// insertLocked keeps comments ascending by (CreatedAt, ID).
func (l *recipeLog) insertLocked(comment model.Comment) {
	n := len(l.comments)
	if n == 0 || l.comments[n-1].Before(comment) {
		l.comments = append(l.comments, comment)
		return
	}
	i := sort.Search(n, func(i int) bool { return comment.Before(l.comments[i]) })
	l.comments = append(l.comments, model.Comment{})
	copy(l.comments[i+1:], l.comments[i:])
	l.comments[i] = comment
}

func (l *recipeLog) containsLocked(id string) bool {
	for i := len(l.comments) - 1; i >= 0; i-- {
		if l.comments[i].ID == id {
			return true
		}
	}
	return false
}
