package prompt

import (
	"context"
	"time"

	"github.com/dgraph-io/ristretto"
	"golang.org/x/sync/singleflight"
)

// ProfileSummarizer produces a short natural-language summary of what is
// known about a user. Implemented by the summarizer subpackages.
type ProfileSummarizer interface {
	SummarizeProfile(ctx context.Context, userID string) (string, error)
}

// DefaultProfileTTL is how long a cached profile summary stays fresh.
const DefaultProfileTTL = 30 * time.Minute

// ProfileCache caches profile summaries per user. Summaries are
// expensive model calls, so concurrent misses for the same user are
// collapsed into a single upstream call.
type ProfileCache struct {
	summarizer ProfileSummarizer
	cache      *ristretto.Cache
	group      singleflight.Group
	ttl        time.Duration
}

// NewProfileCache wraps a summarizer with caching. ttl <= 0 uses
// DefaultProfileTTL.
func NewProfileCache(summarizer ProfileSummarizer, ttl time.Duration) (*ProfileCache, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 10_000,
		MaxCost:     1 << 22, // ~4MB of summary text
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	if ttl <= 0 {
		ttl = DefaultProfileTTL
	}
	return &ProfileCache{
		summarizer: summarizer,
		cache:      cache,
		ttl:        ttl,
	}, nil
}

// Get returns the cached summary for the user, calling the summarizer
// on a miss. An empty summary with nil error means the summarizer had
// nothing to say; callers omit the section.
func (c *ProfileCache) Get(ctx context.Context, userID string) (string, error) {
	if v, ok := c.cache.Get(userID); ok {
		if s, ok := v.(string); ok {
			return s, nil
		}
	}
	v, err, _ := c.group.Do(userID, func() (interface{}, error) {
		summary, err := c.summarizer.SummarizeProfile(ctx, userID)
		if err != nil {
			return "", err
		}
		c.cache.SetWithTTL(userID, summary, int64(len(summary)), c.ttl)
		// Flush the buffered set so the next Get sees it.
		c.cache.Wait()
		return summary, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Invalidate drops the cached summary for a user, forcing a fresh
// summarization on the next Get.
func (c *ProfileCache) Invalidate(userID string) {
	c.cache.Del(userID)
}

// Close releases cache resources.
func (c *ProfileCache) Close() {
	c.cache.Close()
}
