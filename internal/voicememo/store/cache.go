package store

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/TechnicallyShaun/lecture-orbis/internal/voicememo/domain"
)

// Defaults for CachedCourses.
const (
	DefaultCourseCacheTTL  = 5 * time.Minute
	DefaultCourseCacheSize = 64
)

// CachedCourses memoizes ListCourses per user for a TTL. Errors are not
// cached.
type CachedCourses struct {
	next   CourseLister
	cache  *expirable.LRU[string, []domain.Course]
	hits   prometheus.Counter
	misses prometheus.Counter
}

// CacheOption configures CachedCourses.
type CacheOption func(*CachedCourses)

// WithCacheCounters records hits and misses.
func WithCacheCounters(hits, misses prometheus.Counter) CacheOption {
	return func(c *CachedCourses) {
		c.hits = hits
		c.misses = misses
	}
}

// NewCachedCourses wraps next. Non-positive size or ttl select the defaults.
func NewCachedCourses(next CourseLister, size int, ttl time.Duration, opts ...CacheOption) *CachedCourses {
	if size <= 0 {
		size = DefaultCourseCacheSize
	}
	if ttl <= 0 {
		ttl = DefaultCourseCacheTTL
	}
	c := &CachedCourses{
		next:  next,
		cache: expirable.NewLRU[string, []domain.Course](size, nil, ttl),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ListCourses implements CourseLister.
func (c *CachedCourses) ListCourses(ctx context.Context, userID string) ([]domain.Course, error) {
	if courses, ok := c.cache.Get(userID); ok {
		if c.hits != nil {
			c.hits.Inc()
		}
		return append([]domain.Course{}, courses...), nil
	}
	if c.misses != nil {
		c.misses.Inc()
	}

	courses, err := c.next.ListCourses(ctx, userID)
	if err != nil {
		return nil, err
	}
	c.cache.Add(userID, courses)
	return append([]domain.Course{}, courses...), nil
}

// Invalidate drops the cached list for userID.
func (c *CachedCourses) Invalidate(userID string) {
	c.cache.Remove(userID)
}
