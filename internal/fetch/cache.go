package fetch

import (
	"strings"
	"sync"
	"time"
)

// cachedResponse is one stored fetch result keyed by canonical URL, with
// the max-age the origin asked for (defaulting to the package TTL).
type cachedResponse struct {
	result   Result
	storedAt time.Time
	maxAge   time.Duration
}

// DefaultCacheTTL is the response-cache TTL used when the origin sends
// no Cache-Control max-age.
const DefaultCacheTTL = 15 * time.Minute

// responseCache is an in-memory, read-mostly cache keyed by canonical
// URL, mirroring the same mutex-guarded map-of-structs shape as
// mxresolve's BehaviorCache.
type responseCache struct {
	mu      sync.Mutex
	entries map[string]cachedResponse
}

func newResponseCache() *responseCache {
	return &responseCache{entries: make(map[string]cachedResponse)}
}

// get returns the cached Result if it is still fresh, and whether the
// entry exists at all so callers can serve a stale copy while
// revalidating in the background.
func (c *responseCache) get(key string) (Result, bool, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return Result{}, false, false
	}
	fresh := time.Since(e.storedAt) < e.maxAge
	return e.result, true, fresh
}

func (c *responseCache) put(key string, result Result, maxAge, defaultTTL time.Duration) {
	if maxAge <= 0 {
		maxAge = defaultTTL
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cachedResponse{result: result, storedAt: time.Now(), maxAge: maxAge}
}

// maxAgeFromCacheControl parses `max-age=N` out of a Cache-Control
// header value; it returns 0 (caller falls back to DefaultCacheTTL)
// when the header is absent or unparseable.
func maxAgeFromCacheControl(header string) time.Duration {
	for _, directive := range strings.Split(header, ",") {
		directive = strings.TrimSpace(directive)
		if !strings.HasPrefix(strings.ToLower(directive), "max-age=") {
			continue
		}
		val := strings.TrimPrefix(strings.ToLower(directive), "max-age=")
		secs, err := parseSeconds(val)
		if err != nil {
			continue
		}
		return secs
	}
	return 0
}
