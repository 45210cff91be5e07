package store

import (
	"context"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/ashureev/onboard-guide/internal/databag"
	"github.com/ashureev/onboard-guide/internal/domain"
)

// Cached wraps a Repository with an LRU read cache for sessions. Writes go
// through to the underlying repository and refresh the cached copy.
//
// Every write bumps a generation counter before and after it reaches the
// repository. A load only fills the cache if no write happened while it ran,
// so a row read before a write can never replace the written copy.
type Cached struct {
	Repository
	sessions *lru.Cache[string, *domain.Session]
	loads    singleflight.Group

	mu         sync.Mutex
	generation uint64
}

// NewCached wraps repo with a session cache holding up to size entries.
func NewCached(repo Repository, size int) (*Cached, error) {
	if size <= 0 {
		size = 1024
	}
	cache, err := lru.New[string, *domain.Session](size)
	if err != nil {
		return nil, err
	}
	return &Cached{Repository: repo, sessions: cache}, nil
}

// GetSession serves from the cache, collapsing concurrent misses for the same ID.
func (c *Cached) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	if s, ok := c.sessions.Get(id); ok {
		return cloneSession(s), nil
	}
	v, err, _ := c.loads.Do(id, func() (any, error) {
		gen := c.currentGeneration()
		s, err := c.Repository.GetSession(ctx, id)
		if err != nil || s == nil {
			return s, err
		}
		c.mu.Lock()
		if c.generation == gen {
			c.sessions.Add(id, cloneSession(s))
		}
		c.mu.Unlock()
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	s, _ := v.(*domain.Session)
	return cloneSession(s), nil
}

// CreateSession creates a session and primes the cache.
func (c *Cached) CreateSession(ctx context.Context, email, name string) (*domain.Session, error) {
	s, err := c.Repository.CreateSession(ctx, email, name)
	if err != nil {
		return nil, err
	}
	c.remember(s)
	return s, nil
}

// UpdateSession writes through and refreshes the cache.
func (c *Cached) UpdateSession(ctx context.Context, id string, patch domain.SessionPatch) (*domain.Session, error) {
	c.forget(id)
	s, err := c.Repository.UpdateSession(ctx, id, patch)
	if err != nil {
		return nil, err
	}
	c.remember(s)
	return s, nil
}

// CommitTransition writes through and refreshes the cache.
func (c *Cached) CommitTransition(ctx context.Context, t Transition) (*domain.Session, error) {
	c.forget(t.SessionID)
	s, err := c.Repository.CommitTransition(ctx, t)
	if err != nil {
		return nil, err
	}
	c.remember(s)
	return s, nil
}

func (c *Cached) currentGeneration() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation
}

// forget drops id before a write and invalidates loads already in flight.
func (c *Cached) forget(id string) {
	c.mu.Lock()
	c.generation++
	c.sessions.Remove(id)
	c.mu.Unlock()
}

// remember stores the written copy. The bump covers loads that started
// after forget but read the row before the write landed.
func (c *Cached) remember(s *domain.Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	if s != nil {
		c.sessions.Add(s.ID, cloneSession(s))
	}
}

func cloneSession(s *domain.Session) *domain.Session {
	if s == nil {
		return nil
	}
	out := *s
	out.Data = databag.Clone(s.Data)
	if s.CompletedAt != nil {
		ts := *s.CompletedAt
		out.CompletedAt = &ts
	}
	return &out
}

var _ Repository = (*Cached)(nil)
