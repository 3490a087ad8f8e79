package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFetcher() *Fetcher {
	return New(Config{UserAgent: "leadprobe-test/1.0", RespectRobots: true, MaxRetries: 0})
}

func TestFetch_OKServesBodyAndCachesIt(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html>hi</html>"))
	}))
	defer srv.Close()

	f := newTestFetcher()
	res, err := f.Fetch(context.Background(), srv.URL+"/page")
	require.NoError(t, err)
	assert.Equal(t, ReasonOK, res.Reason)
	assert.Equal(t, "<html>hi</html>", string(res.Body))
	assert.False(t, res.FromCache)

	res2, err := f.Fetch(context.Background(), srv.URL+"/page")
	require.NoError(t, err)
	assert.Equal(t, ReasonCachedFresh, res2.Reason)
	assert.True(t, res2.FromCache)
}

func TestFetch_RobotsDisallowBlocks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			w.Write([]byte("User-agent: *\nDisallow: /private\n"))
			return
		}
		w.Write([]byte("should not be fetched"))
	}))
	defer srv.Close()

	f := newTestFetcher()
	res, err := f.Fetch(context.Background(), srv.URL+"/private/page")
	require.Error(t, err)
	assert.Equal(t, ReasonBlockedByRobots, res.Reason)
}

func TestFetch_RobotsAllowOverridesDisallow(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			w.Write([]byte("User-agent: *\nDisallow: /private\nAllow: /private/public\n"))
			return
		}
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	f := newTestFetcher()
	res, err := f.Fetch(context.Background(), srv.URL+"/private/public/page")
	require.NoError(t, err)
	assert.Equal(t, ReasonOK, res.Reason)
}

func TestFetch_WrongContentTypeRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/pdf")
		w.Write([]byte("%PDF"))
	}))
	defer srv.Close()

	f := newTestFetcher()
	res, err := f.Fetch(context.Background(), srv.URL+"/doc.pdf")
	require.Error(t, err)
	assert.Equal(t, ReasonWrongContentType, res.Reason)
}

func TestFetch_TooLargeBodyRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		w.Write(make([]byte, 100))
	}))
	defer srv.Close()

	f := New(Config{MaxBodyBytes: 10, RespectRobots: true})
	res, err := f.Fetch(context.Background(), srv.URL+"/big")
	require.Error(t, err)
	assert.Equal(t, ReasonTooLarge, res.Reason)
}

func TestFetch_429InstallsCooloffAndShortCircuitsNextCall(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		hits++
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	f := newTestFetcher()
	res, err := f.Fetch(context.Background(), srv.URL+"/limited")
	require.Error(t, err)
	assert.Equal(t, ReasonThrottled, res.Reason)
	assert.Equal(t, 1, hits)

	res2, err := f.Fetch(context.Background(), srv.URL+"/limited")
	require.Error(t, err)
	assert.Equal(t, ReasonThrottled, res2.Reason)
	assert.Equal(t, 1, hits, "second fetch should be short-circuited by cool-off, not hit the origin")
}

func TestParseRobots_WildcardFallbackAndCrawlDelay(t *testing.T) {
	body := "User-agent: Googlebot\nDisallow: /g\n\nUser-agent: *\nDisallow: /all\nCrawl-delay: 2\n"
	rules := parseRobots(body, "leadprobe-fetcher")
	assert.False(t, rules.Allowed("/all/x"))
	assert.True(t, rules.Allowed("/other"))
	assert.Equal(t, 2*time.Second, rules.crawlDelay)
}

func TestRobotsRules_LongestPrefixWins(t *testing.T) {
	rules := robotsRules{disallow: []string{"/a"}, allow: []string{"/a/b"}}
	assert.True(t, rules.Allowed("/a/b/c"))
	assert.False(t, rules.Allowed("/a/x"))
}

func TestMaxAgeFromCacheControl_ParsesDirective(t *testing.T) {
	assert.Equal(t, 120*time.Second, maxAgeFromCacheControl("max-age=120, must-revalidate"))
	assert.Equal(t, time.Duration(0), maxAgeFromCacheControl("no-store"))
}
