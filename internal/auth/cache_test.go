package auth

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestKeyCachePutGet(t *testing.T) {
	cache := NewKeyCache(time.Minute)
	res := Resolution{KeyID: uuid.New(), ProjectID: uuid.New(), Environment: EnvironmentLive}

	_, ok := cache.Get("missing")
	require.False(t, ok)

	cache.Put("idx", res)
	got, ok := cache.Get("idx")
	require.True(t, ok)
	require.Equal(t, res, got)
}

func TestKeyCacheExpiry(t *testing.T) {
	cache := NewKeyCache(5 * time.Minute)

	current := time.Now()
	cache.now = func() time.Time { return current }

	cache.Put("idx", Resolution{ProjectID: uuid.New()})

	current = current.Add(4 * time.Minute)
	_, ok := cache.Get("idx")
	require.True(t, ok)

	current = current.Add(2 * time.Minute)
	_, ok = cache.Get("idx")
	require.False(t, ok)

	// Expired entries are evicted lazily on access.
	require.Equal(t, 0, cache.Len())
}

func TestKeyCacheInvalidate(t *testing.T) {
	cache := NewKeyCache(time.Minute)
	cache.Put("idx", Resolution{ProjectID: uuid.New()})
	cache.Invalidate("idx")

	_, ok := cache.Get("idx")
	require.False(t, ok)
}

func TestKeyCacheDefaultTTL(t *testing.T) {
	cache := NewKeyCache(0)
	require.Equal(t, DefaultCacheTTL, cache.ttl)
}

func TestKeyCacheConcurrentAccess(t *testing.T) {
	cache := NewKeyCache(time.Minute)
	res := Resolution{ProjectID: uuid.New()}

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				cache.Put("shared", res)
				cache.Get("shared")
			}
		}()
	}
	wg.Wait()

	got, ok := cache.Get("shared")
	require.True(t, ok)
	require.Equal(t, res, got)
}
