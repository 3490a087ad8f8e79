// Package fetch is the polite HTTP fetcher: one-shot GETs that consult
// robots.txt and a response cache first, enforce a content-type
// allowlist and body size cap, and install a per-host cool-off after a
// 403/429. It wraps internal/pkg/httpretry.RetryClient for the
// transient-network/5xx retry policy rather than reimplementing
// backoff, generalizing httpretry from a fire-and-forget ESP call
// helper to a component with its own cache/robots/cool-off state.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/ignite/leadprobe/internal/pipelineerr"
	"github.com/ignite/leadprobe/internal/pkg/httpretry"
)

// Reason classifies every possible Fetch outcome, success or failure.
type Reason string

const (
	ReasonOK                Reason = "ok"
	ReasonCachedFresh       Reason = "cached_fresh"
	ReasonBlockedByRobots   Reason = "blocked_by_robots"
	ReasonThrottled         Reason = "throttled"
	ReasonTooLarge          Reason = "too_large"
	ReasonWrongContentType  Reason = "wrong_content_type"
	ReasonHTTPError         Reason = "http_error"
	ReasonTimeout           Reason = "timeout"
	ReasonDNSError          Reason = "dns_error"
)

// DefaultMaxBodyBytes is the body size cap applied when Config leaves
// MaxBodyBytes unset.
const DefaultMaxBodyBytes = 2 << 20 // ~2MB

// allowedContentTypes is the allowlist a response's Content-Type must
// match (by prefix, ignoring any charset parameter) to be accepted.
var allowedContentTypes = []string{"text/html", "text/plain"}

// Result is what every Fetch call returns, success or failure.
type Result struct {
	Status     int
	Body       []byte
	Headers    http.Header
	Reason     Reason
	FromCache  bool
	Timings    Timings
}

// Timings records how long each phase of one fetch attempt took.
type Timings struct {
	RobotsCheck time.Duration
	Request     time.Duration
	Total       time.Duration
}

// Config is the subset of config.FetcherConfig the Fetcher needs at
// construction time.
type Config struct {
	UserAgent         string
	Timeout           time.Duration
	MaxBodyBytes      int64
	RespectRobots     bool
	DefaultCrawlDelay time.Duration
	MaxRetries        int
	// RobotsTTL, RobotsDenyTTL, and CacheTTL override the package
	// defaults (robotsFreshTTL, robotsDenyTTL, DefaultCacheTTL) when
	// non-zero, so operators can tune crawl politeness without a
	// redeploy.
	RobotsTTL      time.Duration
	RobotsDenyTTL  time.Duration
	CacheTTL       time.Duration
}

// Fetcher is the polite HTTP GET collaborator described in the
// component design: robots-aware, cached, throttle-aware.
type Fetcher struct {
	cfg     Config
	client  httpretry.HTTPDoer
	robots  *robotsCache
	cache   *responseCache
	cooloff *hostCooloff
	hitMu   sync.Mutex
	lastHit map[string]time.Time
}

// New builds a Fetcher. When cfg.Timeout/MaxBodyBytes are zero, package
// defaults apply.
func New(cfg Config) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "leadprobe-fetcher/1.0"
	}
	if cfg.RobotsTTL <= 0 {
		cfg.RobotsTTL = robotsFreshTTL
	}
	if cfg.RobotsDenyTTL <= 0 {
		cfg.RobotsDenyTTL = robotsDenyTTL
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}

	httpClient := &http.Client{Timeout: cfg.Timeout}
	return &Fetcher{
		cfg:     cfg,
		client:  httpretry.NewRetryClient(httpClient, cfg.MaxRetries),
		robots:  newRobotsCache(),
		cache:   newResponseCache(),
		cooloff: newHostCooloff(),
		lastHit: make(map[string]time.Time),
	}
}

// Fetch performs one polite GET of rawURL, consulting the response
// cache and robots.txt first and honoring any active per-host cool-off.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (Result, error) {
	start := time.Now()

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return Result{Reason: ReasonHTTPError}, fmt.Errorf("fetch: parse url: %w", err)
	}
	host := parsed.Host

	if cached, ok, fresh := f.cache.get(rawURL); ok && fresh {
		cached.FromCache = true
		cached.Reason = ReasonCachedFresh
		return cached, nil
	}

	if f.cooloff.active(host) {
		return Result{Reason: ReasonThrottled}, pipelineerr.ErrRateLimited
	}

	robotsStart := time.Now()
	if f.cfg.RespectRobots {
		rules, crawlDelay, err := f.robotsFor(ctx, parsed)
		if err != nil {
			return Result{Reason: ReasonDNSError}, fmt.Errorf("fetch: robots: %w", err)
		}
		if !rules.Allowed(parsed.Path) {
			return Result{Reason: ReasonBlockedByRobots}, pipelineerr.ErrRobotsBlocked
		}
		if crawlDelay > 0 {
			f.waitCrawlDelay(host, crawlDelay)
		}
	}
	robotsElapsed := time.Since(robotsStart)

	reqStart := time.Now()
	result, err := f.doFetch(ctx, rawURL, host)
	result.Timings = Timings{
		RobotsCheck: robotsElapsed,
		Request:     time.Since(reqStart),
		Total:       time.Since(start),
	}
	return result, err
}

func (f *Fetcher) doFetch(ctx context.Context, rawURL, host string) (Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return Result{Reason: ReasonHTTPError}, fmt.Errorf("fetch: build request: %w", err)
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)
	req.Header.Set("Accept", "text/html,text/plain;q=0.9,*/*;q=0.1")

	resp, err := f.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return Result{Reason: ReasonTimeout}, fmt.Errorf("fetch: %w", ctx.Err())
		}
		return Result{Reason: ReasonDNSError}, fmt.Errorf("fetch: %w: %w", pipelineerr.ErrTransientNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusTooManyRequests {
		retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
		f.cooloff.trip(host, retryAfter)
		io.Copy(io.Discard, resp.Body)
		return Result{Status: resp.StatusCode, Headers: resp.Header, Reason: ReasonThrottled}, pipelineerr.ErrRateLimited
	}

	if resp.StatusCode >= 400 {
		io.Copy(io.Discard, resp.Body)
		return Result{Status: resp.StatusCode, Headers: resp.Header, Reason: ReasonHTTPError},
			fmt.Errorf("fetch: http status %d", resp.StatusCode)
	}

	ct := resp.Header.Get("Content-Type")
	if !contentTypeAllowed(ct) {
		io.Copy(io.Discard, resp.Body)
		return Result{Status: resp.StatusCode, Headers: resp.Header, Reason: ReasonWrongContentType},
			fmt.Errorf("fetch: content-type %q not allowed", ct)
	}

	limited := io.LimitReader(resp.Body, f.cfg.MaxBodyBytes+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		return Result{Reason: ReasonTimeout}, fmt.Errorf("fetch: read body: %w", err)
	}
	if int64(len(body)) > f.cfg.MaxBodyBytes {
		return Result{Status: resp.StatusCode, Headers: resp.Header, Reason: ReasonTooLarge},
			fmt.Errorf("fetch: body exceeds %d bytes", f.cfg.MaxBodyBytes)
	}

	result := Result{
		Status:  resp.StatusCode,
		Body:    body,
		Headers: resp.Header,
		Reason:  ReasonOK,
	}
	f.cache.put(rawURL, result, maxAgeFromCacheControl(resp.Header.Get("Cache-Control")), f.cfg.CacheTTL)
	return result, nil
}

// robotsFor fetches (or returns the cached) robots.txt rule set for the
// host owning parsed, returning the group applicable to our user agent
// plus its Crawl-delay.
func (f *Fetcher) robotsFor(ctx context.Context, parsed *url.URL) (robotsRules, time.Duration, error) {
	host := parsed.Host
	if rules, ok := f.robots.get(host); ok {
		return rules, rules.crawlDelay, nil
	}

	robotsURL := fmt.Sprintf("%s://%s/robots.txt", parsed.Scheme, host)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return allowAll, 0, err
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		// Unreachable host: treat as allow-all rather than blocking the
		// crawl entirely, matching the 404 convention.
		f.robots.put(host, allowAll, robotsAllowAllTTL)
		return allowAll, 0, nil
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		f.robots.put(host, allowAll, robotsAllowAllTTL)
		return allowAll, 0, nil
	case resp.StatusCode >= 500:
		denied := robotsRules{disallow: []string{"/"}}
		f.robots.put(host, denied, f.cfg.RobotsDenyTTL)
		return denied, 0, nil
	case resp.StatusCode >= 400:
		f.robots.put(host, allowAll, robotsAllowAllTTL)
		return allowAll, 0, nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 128*1024))
	if err != nil {
		f.robots.put(host, allowAll, f.cfg.RobotsDenyTTL)
		return allowAll, 0, nil
	}

	rules := parseRobots(string(body), f.cfg.UserAgent)
	f.robots.put(host, rules, f.cfg.RobotsTTL)
	return rules, rules.crawlDelay, nil
}

// waitCrawlDelay blocks until at least crawlDelay has passed since the
// last fetch to host, honoring whichever is larger between the site's
// declared Crawl-delay and our own default.
func (f *Fetcher) waitCrawlDelay(host string, crawlDelay time.Duration) {
	if crawlDelay < f.cfg.DefaultCrawlDelay {
		crawlDelay = f.cfg.DefaultCrawlDelay
	}
	if crawlDelay <= 0 {
		return
	}
	f.hitMu.Lock()
	last, ok := f.lastHit[host]
	f.lastHit[host] = time.Now()
	f.hitMu.Unlock()

	if ok {
		if wait := crawlDelay - time.Since(last); wait > 0 {
			time.Sleep(wait)
		}
	}
}

func contentTypeAllowed(ct string) bool {
	if ct == "" {
		return true
	}
	base := strings.TrimSpace(strings.SplitN(ct, ";", 2)[0])
	for _, allowed := range allowedContentTypes {
		if strings.EqualFold(base, allowed) {
			return true
		}
	}
	return false
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := parseSeconds(header); err == nil {
		return secs
	}
	if when, err := http.ParseTime(header); err == nil {
		if d := time.Until(when); d > 0 {
			return d
		}
	}
	return 0
}
