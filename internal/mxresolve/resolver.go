// Package mxresolve resolves and caches MX records for a domain,
// classifies it (no-MX, freemail, corporate), and maintains per-MX
// behavior statistics consumed by the SMTP Prober. It is
// grounded on the teacher's worker.email_verifier MX-prefilter and the
// other_examples mail_sorter getMXRecords/sortMXRecords pattern,
// generalized from an in-memory/Redis cache to durable DomainResolution
// rows.
package mxresolve

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strings"
	"time"

	"golang.org/x/net/idna"

	"github.com/ignite/leadprobe/internal/domain"
	"github.com/ignite/leadprobe/internal/pipelineerr"
)

// Store is the persistence boundary for domain resolutions.
type Store interface {
	LatestResolution(ctx context.Context, tenantID, companyID string) (*domain.DomainResolution, error)
	SaveResolution(ctx context.Context, res *domain.DomainResolution) error
}

// defaultFreemailDenylist are consumer providers excluded from corporate
// verification. Operators override via
// config's freemail_denylist key.
var defaultFreemailDenylist = map[string]bool{
	"gmail.com": true, "yahoo.com": true, "hotmail.com": true,
	"outlook.com": true, "aol.com": true, "icloud.com": true,
	"live.com": true, "gmx.com": true, "protonmail.com": true,
	"mail.com": true, "yandex.com": true, "msn.com": true,
}

// Resolver resolves MX records, applying the freemail/cache/fallback
// algorithm: freemail denylist short-circuit, fresh-cache reuse, MX
// lookup, implicit A/AAAA fallback, no-MX verdict.
type Resolver struct {
	store      Store
	resolver   *net.Resolver
	timeout    time.Duration
	cacheTTL   time.Duration
	freemail   map[string]bool
	behavior   *BehaviorCache
}

// New builds a Resolver. An empty freemailDenylist falls back to the
// built-in default set.
func New(store Store, timeout, cacheTTL time.Duration, freemailDenylist []string) *Resolver {
	fm := defaultFreemailDenylist
	if len(freemailDenylist) > 0 {
		fm = make(map[string]bool, len(freemailDenylist))
		for _, d := range freemailDenylist {
			fm[strings.ToLower(d)] = true
		}
	}
	return &Resolver{
		store:    store,
		resolver: net.DefaultResolver,
		timeout:  timeout,
		cacheTTL: cacheTTL,
		freemail: fm,
		behavior: NewBehaviorCache(),
	}
}

// NormalizeDomain converts a human-entered domain (possibly a full URL,
// possibly with mixed case or unicode labels) to its lowercase ASCII
// punycode form.
func NormalizeDomain(raw string) (string, error) {
	d := strings.ToLower(strings.TrimSpace(raw))
	d = strings.TrimPrefix(d, "http://")
	d = strings.TrimPrefix(d, "https://")
	d = strings.TrimSuffix(d, "/")
	if i := strings.IndexByte(d, '/'); i >= 0 {
		d = d[:i]
	}
	ascii, err := idna.Lookup.ToASCII(d)
	if err != nil {
		return "", fmt.Errorf("mxresolve: normalize domain %q: %w", raw, err)
	}
	return ascii, nil
}

// Resolve normalizes the domain, short-circuits freemail providers,
// reuses a fresh cached resolution unless force is set, then looks up
// MX records with an implicit A/AAAA fallback, persisting the result.
func (r *Resolver) Resolve(ctx context.Context, tenantID, companyID, rawDomain string, force bool) (*domain.DomainResolution, error) {
	d, err := NormalizeDomain(rawDomain)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", pipelineerr.ErrValidation, err)
	}

	if r.freemail[d] {
		return &domain.DomainResolution{
			TenantID: tenantID, CompanyID: companyID,
			ChosenDomain: d, Method: "freemail", Confidence: 100,
			ResolvedAt: time.Now().UTC(),
		}, nil
	}

	if !force {
		if cached, err := r.store.LatestResolution(ctx, tenantID, companyID); err == nil && cached != nil {
			if time.Since(cached.ResolvedAt) < r.cacheTTL {
				return cached, nil
			}
		}
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	res := &domain.DomainResolution{
		TenantID: tenantID, CompanyID: companyID,
		ChosenDomain: d, ResolvedAt: time.Now().UTC(),
	}

	mxRecords, err := r.resolver.LookupMX(ctx, d)
	if err == nil && len(mxRecords) > 0 {
		sort.Slice(mxRecords, func(i, j int) bool { return mxRecords[i].Pref < mxRecords[j].Pref })
		hosts := make([]string, 0, len(mxRecords))
		for _, mx := range mxRecords {
			hosts = append(hosts, strings.TrimSuffix(mx.Host, "."))
		}
		res.Method = "mx"
		res.Confidence = 100
		res.MXHosts = hosts
		res.LowestMX = hosts[0]
	} else {
		// Fall back to implicit MX: A/AAAA records for the domain itself.
		if _, aerr := r.resolver.LookupHost(ctx, d); aerr == nil {
			res.Method = "implicit_a"
			res.Confidence = 60
			res.MXHosts = []string{d}
			res.LowestMX = d
		} else {
			res.Method = "no_mx"
			res.Confidence = 0
		}
	}

	res.MXBehavior = r.behavior.Snapshot(res.MXHosts)

	if err := r.store.SaveResolution(ctx, res); err != nil {
		return nil, fmt.Errorf("mxresolve: save resolution: %w", err)
	}
	return res, nil
}

// RecordProbeOutcome feeds a completed SMTP probe's latency/result back
// into the per-MX behavior cache through the explicit BehaviorSink
// interface, rather than a hidden hook between prober and cache.
func (r *Resolver) RecordProbeOutcome(host string, latency time.Duration, code int, category string, probeErr error) {
	errStr := ""
	if probeErr != nil {
		errStr = probeErr.Error()
	}
	r.behavior.Record(host, latency, code, category, errStr)
}

// Behavior returns the current behavior snapshot for an MX host, used by
// the SMTP Prober to tighten or loosen timeouts.
func (r *Resolver) Behavior(host string) domain.MXBehavior {
	return r.behavior.Get(host)
}

// BehaviorCache exposes the Resolver's underlying per-MX behavior cache
// so collaborators outside the resolve path (the observability
// Collector) can read the same snapshots the SMTP Prober tunes against.
func (r *Resolver) BehaviorCache() *BehaviorCache {
	return r.behavior
}
