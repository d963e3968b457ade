package comments

import (
	"context"
	"errors"
	"iter"
	"sync"

	"recipelineage/api/internal/model"
)

// ErrClosed is returned by Next once a subscription was cancelled.
var ErrClosed = errors.New("subscription closed")

// Subscription is one observer of a recipe's comments.
type Subscription struct {
	recipeID string
	capacity int
	events   chan model.Comment

	release func()
	once    sync.Once

	mu        sync.Mutex
	stopAfter func() bool
	closed    bool
	err       error
}

func newSubscription(recipeID string, size, capacity int, release func(*Subscription)) *Subscription {
	sub := &Subscription{
		recipeID: recipeID,
		capacity: capacity,
		events:   make(chan model.Comment, size),
	}
	if release != nil {
		sub.release = func() { release(sub) }
	}
	return sub
}

// bindContext arms ctx cancellation. stopAfter is published under mu so a callback
// that fires right away still sees it.
func (s *Subscription) bindContext(ctx context.Context) {
	if ctx == nil || ctx.Done() == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopAfter = context.AfterFunc(ctx, s.Cancel)
}

// detach drops the context registration without closing the subscription.
func (s *Subscription) detach() {
	s.mu.Lock()
	stop := s.stopAfter
	s.stopAfter = nil
	s.mu.Unlock()
	if stop != nil {
		stop()
	}
}

func (s *Subscription) RecipeID() string {
	return s.recipeID
}

// Events is closed when the subscription ends; check Err afterwards.
func (s *Subscription) Events() <-chan model.Comment {
	return s.events
}

// Next blocks until a comment arrives, the subscription ends, or ctx is done.
func (s *Subscription) Next(ctx context.Context) (model.Comment, error) {
	select {
	case comment, ok := <-s.events:
		if !ok {
			if err := s.Err(); err != nil {
				return model.Comment{}, err
			}
			return model.Comment{}, ErrClosed
		}
		return comment, nil
	case <-ctx.Done():
		return model.Comment{}, ctx.Err()
	}
}

// All ranges over delivered comments until the subscription ends.
func (s *Subscription) All() iter.Seq[model.Comment] {
	return func(yield func(model.Comment) bool) {
		for comment := range s.events {
			if !yield(comment) {
				return
			}
		}
	}
}

// Err reports why the subscription ended: an overrun error, or nil after Cancel.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Cancel unregisters the subscription and closes Events. It is idempotent.
func (s *Subscription) Cancel() {
	s.once.Do(func() {
		s.detach()
		if s.release != nil {
			s.release()
			return
		}
		s.close()
	})
}

// deliver never blocks. It reports false when the buffer is full; the subscription
// is then marked overrun and must be removed by the caller.
func (s *Subscription) deliver(comment model.Comment) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return true
	}
	select {
	case s.events <- comment:
		return true
	default:
		if s.err == nil {
			s.err = model.Overrun(s.recipeID, s.capacity)
		}
		return false
	}
}

func (s *Subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.events)
}
