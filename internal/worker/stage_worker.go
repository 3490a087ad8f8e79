// Package worker claims durable queue tasks and dispatches each to the
// pipeline stage handler it names: crawl, extract, generate_emails,
// resolve_mx, detect_catchall, verify. It is grounded on the teacher's
// SendWorkerPool worker(workerNum)/claimBatch/processItem shape (N
// goroutines pulling from one claim call, marking each item done or
// failed individually), retargeted from a single send queue to the
// six-stage dependency chain the Orchestrator fans a run out into.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/ignite/leadprobe/internal/catchall"
	"github.com/ignite/leadprobe/internal/classify"
	"github.com/ignite/leadprobe/internal/domain"
	"github.com/ignite/leadprobe/internal/extract"
	"github.com/ignite/leadprobe/internal/fallback"
	"github.com/ignite/leadprobe/internal/fetch"
	"github.com/ignite/leadprobe/internal/mxresolve"
	"github.com/ignite/leadprobe/internal/permute"
	"github.com/ignite/leadprobe/internal/pkg/logger"
	"github.com/ignite/leadprobe/internal/queue"
	"github.com/ignite/leadprobe/internal/ratelimit"
	"github.com/ignite/leadprobe/internal/smtpprobe"
)

// Prober is the subset of smtpprobe.Prober the verify stage needs, so
// tests can substitute a fake without dialing real sockets.
type Prober interface {
	Probe(email, mxHost string, identity smtpprobe.Identity, timeouts smtpprobe.Timeouts) smtpprobe.Result
}

// Store is the subset of store.Store every stage handler needs.
type Store interface {
	GetCompany(ctx context.Context, companyID string) (*domain.Company, error)
	AddSource(ctx context.Context, src *domain.Source) error
	ListSources(ctx context.Context, companyID string) ([]domain.Source, error)
	UpsertPerson(ctx context.Context, p *domain.Person) error
	ListPeople(ctx context.Context, companyID string) ([]domain.Person, error)
	UpsertEmail(ctx context.Context, e *domain.Email) error
	ListEmails(ctx context.Context, companyID string) ([]domain.Email, error)
	AppendVerification(ctx context.Context, v *domain.VerificationResult) error
	LatestVerification(ctx context.Context, emailID string) (*domain.VerificationResult, error)
	LatestResolution(ctx context.Context, tenantID, companyID string) (*domain.DomainResolution, error)
	SaveResolution(ctx context.Context, res *domain.DomainResolution) error
	IsSuppressed(ctx context.Context, tenantID, email, domainName string) (bool, error)
}

// domainPayload mirrors pipeline's per-domain task payload shape.
type domainPayload struct {
	CompanyID string `json:"company_id"`
	Domain    string `json:"domain"`
}

// Config bounds the per-stage work a StageWorker does for one task.
type Config struct {
	NumWorkers       int
	BatchSize        int
	Lease            time.Duration
	PollInterval     int // milliseconds
	MaxCrawlPages    int
	MaxCrawlDepth    int
	CrawlLinkSelector string
	CatchAllTTL      time.Duration
	GlobalConcurrency int
	PerDomainConcurrency int
	PerMXConcurrency int
	Identity         smtpprobe.Identity
	ProbeTimeouts    smtpprobe.Timeouts
}

// StageWorker owns every pipeline-stage collaborator and the claim loop
// that feeds them.
type StageWorker struct {
	queue     *queue.Queue
	store     Store
	fetcher   *fetch.Fetcher
	extractor extract.Extractor
	resolver  *mxresolve.Resolver
	prober    Prober
	detector  *catchall.Detector
	limiter   *ratelimit.Limiter
	cfg       Config
	fallback  fallback.Provider

	mu       sync.Mutex
	running  bool
	cancelFn context.CancelFunc
	wg       sync.WaitGroup
}

// New builds a StageWorker.
func New(q *queue.Queue, st Store, fetcher *fetch.Fetcher, extractor extract.Extractor,
	resolver *mxresolve.Resolver, prober Prober, detector *catchall.Detector,
	limiter *ratelimit.Limiter, cfg Config) *StageWorker {
	if cfg.NumWorkers <= 0 {
		cfg.NumWorkers = 4
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.Lease <= 0 {
		cfg.Lease = 5 * time.Minute
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500
	}
	if cfg.MaxCrawlPages <= 0 {
		cfg.MaxCrawlPages = 4
	}
	if cfg.MaxCrawlDepth <= 0 {
		cfg.MaxCrawlDepth = 2
	}
	if cfg.CrawlLinkSelector == "" {
		cfg.CrawlLinkSelector = "a[href*='/team'], a[href*='/about'], a[href*='/people'], a[href*='/leadership']"
	}
	if cfg.CatchAllTTL <= 0 {
		cfg.CatchAllTTL = 24 * time.Hour
	}
	return &StageWorker{
		queue: q, store: st, fetcher: fetcher, extractor: extractor,
		resolver: resolver, prober: prober, detector: detector, limiter: limiter, cfg: cfg,
	}
}

// SetFallbackProvider installs the optional third-party verification
// provider used to populate classify.Input.Fallback for a domain with MX
// when the TCP:25 preflight is blocked, the probe times out, or RCPT
// returns neither an accept nor a hard fail. A nil provider (the default)
// leaves those paths at unknown_timeout.
func (w *StageWorker) SetFallbackProvider(p fallback.Provider) {
	w.fallback = p
}

// Start launches cfg.NumWorkers claim/dispatch goroutines.
func (w *StageWorker) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	w.mu.Lock()
	w.cancelFn = cancel
	w.running = true
	w.mu.Unlock()

	for i := 0; i < w.cfg.NumWorkers; i++ {
		w.wg.Add(1)
		go w.loop(ctx, i)
	}
	logger.Info("stage worker pool started", "workers", w.cfg.NumWorkers)
}

// Stop cancels every claim/dispatch goroutine and waits for them to drain.
func (w *StageWorker) Stop() {
	w.mu.Lock()
	cancel := w.cancelFn
	w.running = false
	w.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	w.wg.Wait()
}

// IsRunning reports whether Start has been called without a matching Stop.
func (w *StageWorker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

var allStageTypes = []queue.TaskType{
	queue.TaskCrawl, queue.TaskExtract, queue.TaskGenerateEmails,
	queue.TaskResolveMX, queue.TaskDetectCatchAll, queue.TaskVerify,
}

func (w *StageWorker) loop(ctx context.Context, workerNum int) {
	defer w.wg.Done()
	ticker := time.NewTicker(time.Duration(w.cfg.PollInterval) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := w.claimAndDispatch(ctx)
			if err != nil {
				logger.Error("stage worker claim failed", "worker", workerNum, "error", err)
				continue
			}
			if n > 0 {
				logger.Debug("stage worker processed batch", "worker", workerNum, "count", n)
			}
		}
	}
}

func (w *StageWorker) claimAndDispatch(ctx context.Context) (int, error) {
	tasks, err := w.queue.Reserve(ctx, allStageTypes, w.cfg.BatchSize, w.cfg.Lease)
	if err != nil {
		return 0, fmt.Errorf("worker: reserve: %w", err)
	}

	for _, t := range tasks {
		if err := w.dispatch(ctx, t); err != nil {
			logger.Warn("stage task failed", "task_id", t.ID, "task_type", t.Type, "error", err)
			if failErr := w.queue.Fail(ctx, t.ID, err.Error()); failErr != nil {
				logger.Error("failed to record task failure", "task_id", t.ID, "error", failErr)
			}
			continue
		}
		if err := w.queue.Complete(ctx, t.ID); err != nil {
			logger.Error("failed to mark task complete", "task_id", t.ID, "error", err)
		}
	}
	return len(tasks), nil
}

func (w *StageWorker) dispatch(ctx context.Context, t queue.Task) error {
	var p domainPayload
	if err := json.Unmarshal(t.Payload, &p); err != nil {
		return fmt.Errorf("unmarshal task payload: %w", err)
	}

	switch t.Type {
	case queue.TaskCrawl:
		return w.handleCrawl(ctx, t.TenantID.String(), p)
	case queue.TaskExtract:
		return w.handleExtract(ctx, t.TenantID.String(), p)
	case queue.TaskGenerateEmails:
		return w.handleGenerateEmails(ctx, t.TenantID.String(), p)
	case queue.TaskResolveMX:
		return w.handleResolveMX(ctx, t.TenantID.String(), p)
	case queue.TaskDetectCatchAll:
		return w.handleDetectCatchAll(ctx, t.TenantID.String(), p)
	case queue.TaskVerify:
		return w.handleVerify(ctx, t.TenantID.String(), p)
	default:
		return fmt.Errorf("unknown task type %q", t.Type)
	}
}

// crawlFrontierEntry is one page queued for a breadth-first crawl pass,
// carrying the depth it was discovered at so the walk can stop fanning
// out past cfg.MaxCrawlDepth even if cfg.MaxCrawlPages still has budget.
type crawlFrontierEntry struct {
	url   string
	depth int
}

// handleCrawl walks the domain's site breadth-first starting from its
// home page, following team/about links up to cfg.MaxCrawlDepth levels
// deep and fetching at most cfg.MaxCrawlPages pages total, recording
// each successful page as a Source.
func (w *StageWorker) handleCrawl(ctx context.Context, tenantID string, p domainPayload) error {
	lease, ok, err := w.limiter.Acquire(ctx, ratelimit.CrawlScopes(p.Domain, w.cfg.GlobalConcurrency, w.cfg.PerDomainConcurrency))
	if err != nil {
		return fmt.Errorf("acquire crawl scope: %w", err)
	}
	if !ok {
		return fmt.Errorf("crawl scope denied for %s", p.Domain)
	}
	defer lease.Release(ctx)

	rootURL := "https://" + p.Domain + "/"
	visited := map[string]bool{}
	frontier := []crawlFrontierEntry{{url: rootURL, depth: 0}}
	fetched := 0

	for len(frontier) > 0 && fetched < w.cfg.MaxCrawlPages {
		entry := frontier[0]
		frontier = frontier[1:]
		if visited[entry.url] {
			continue
		}
		visited[entry.url] = true

		result, err := w.fetcher.Fetch(ctx, entry.url)
		if err != nil {
			if entry.depth == 0 {
				return fmt.Errorf("fetch %s: %w", entry.url, err)
			}
			logger.Debug("crawl: secondary page fetch failed", "url", entry.url, "error", err)
			continue
		}
		fetched++

		if err := w.store.AddSource(ctx, &domain.Source{
			TenantID: tenantID, CompanyID: p.CompanyID, URL: entry.url,
			HTML: string(result.Body), FetchedAt: time.Now().UTC(),
		}); err != nil {
			if entry.depth == 0 {
				return fmt.Errorf("save root source: %w", err)
			}
			logger.Warn("crawl: save secondary source failed", "url", entry.url, "error", err)
			continue
		}

		if entry.depth >= w.cfg.MaxCrawlDepth {
			continue
		}
		remaining := w.cfg.MaxCrawlPages - fetched
		if remaining <= 0 {
			continue
		}
		links := extract.HarvestLinks(mustParseDoc(result.Body), w.cfg.CrawlLinkSelector, remaining)
		for _, href := range links {
			pageURL := resolveLink(entry.url, href)
			if pageURL == "" || visited[pageURL] {
				continue
			}
			frontier = append(frontier, crawlFrontierEntry{url: pageURL, depth: entry.depth + 1})
		}
	}
	return nil
}

// handleExtract runs the heuristic extractor over every page fetched for
// the company and upserts the resulting people/bare-email candidates.
func (w *StageWorker) handleExtract(ctx context.Context, tenantID string, p domainPayload) error {
	sources, err := w.store.ListSources(ctx, p.CompanyID)
	if err != nil {
		return fmt.Errorf("list sources: %w", err)
	}

	for _, src := range sources {
		candidates, err := w.extractor.Extract(src.HTML, src.URL, extract.Hints{})
		if err != nil {
			logger.Debug("extract: page parse failed", "url", src.URL, "error", err)
			continue
		}
		for _, c := range candidates {
			if c.Full != "" {
				if err := w.store.UpsertPerson(ctx, &domain.Person{
					TenantID: tenantID, CompanyID: p.CompanyID,
					First: c.First, Last: c.Last, Full: c.Full, Title: c.Title,
					SourceURL: c.SourceURL, ICPScore: c.Confidence,
				}); err != nil {
					logger.Warn("extract: upsert person failed", "name", c.Full, "error", err)
				}
			}
			if c.Email != "" {
				if err := w.store.UpsertEmail(ctx, &domain.Email{
					TenantID: tenantID, CompanyID: p.CompanyID, Email: strings.ToLower(c.Email),
					IsPublished: true, SourceURL: c.SourceURL,
				}); err != nil {
					logger.Warn("extract: upsert email failed", "email", c.Email, "error", err)
				}
			}
		}
	}
	return nil
}

// handleGenerateEmails permutes candidate addresses for every person on
// file who doesn't already have a published email, using the highest
// ranked pattern.
func (w *StageWorker) handleGenerateEmails(ctx context.Context, tenantID string, p domainPayload) error {
	company, err := w.store.GetCompany(ctx, p.CompanyID)
	if err != nil {
		return fmt.Errorf("get company: %w", err)
	}
	if company == nil {
		return fmt.Errorf("company %s not found", p.CompanyID)
	}
	chosenDomain := company.OfficialDomain
	if chosenDomain == "" {
		chosenDomain = p.Domain
	}

	people, err := w.store.ListPeople(ctx, p.CompanyID)
	if err != nil {
		return fmt.Errorf("list people: %w", err)
	}
	emails, err := w.store.ListEmails(ctx, p.CompanyID)
	if err != nil {
		return fmt.Errorf("list emails: %w", err)
	}

	observed := make([]permute.Observation, 0, len(emails))
	for _, e := range emails {
		if e.PersonID != "" {
			observed = append(observed, permute.Observation{Email: e.Email})
		}
	}
	pattern := permute.DetectPattern(observed)

	existingByPerson := make(map[string]bool, len(emails))
	for _, e := range emails {
		if e.PersonID != "" {
			existingByPerson[e.PersonID] = true
		}
	}

	for _, person := range people {
		if existingByPerson[person.ID] || person.First == "" {
			continue
		}
		candidates := permute.Generate(person.First, person.Last, chosenDomain, pattern)
		if len(candidates) == 0 {
			continue
		}
		top := candidates[0]
		suppressed, err := w.store.IsSuppressed(ctx, tenantID, top.Email, chosenDomain)
		if err != nil {
			logger.Warn("generate_emails: suppression check failed", "email", top.Email, "error", err)
			continue
		}
		if suppressed {
			continue
		}
		if err := w.store.UpsertEmail(ctx, &domain.Email{
			TenantID: tenantID, CompanyID: p.CompanyID, PersonID: person.ID,
			Email: top.Email, IsPublished: false,
		}); err != nil {
			logger.Warn("generate_emails: upsert email failed", "email", top.Email, "error", err)
		}
	}
	return nil
}

// handleResolveMX resolves the company's chosen domain's MX records,
// persisting the result through the Resolver's own Store dependency.
func (w *StageWorker) handleResolveMX(ctx context.Context, tenantID string, p domainPayload) error {
	company, err := w.store.GetCompany(ctx, p.CompanyID)
	if err != nil {
		return fmt.Errorf("get company: %w", err)
	}
	chosenDomain := p.Domain
	if company != nil && company.OfficialDomain != "" {
		chosenDomain = company.OfficialDomain
	}
	_, err = w.resolver.Resolve(ctx, tenantID, p.CompanyID, chosenDomain, false)
	if err != nil {
		return fmt.Errorf("resolve mx: %w", err)
	}
	return nil
}

// handleDetectCatchAll probes the company's lowest-preference MX host
// and appends an updated DomainResolution row carrying the verdict.
func (w *StageWorker) handleDetectCatchAll(ctx context.Context, tenantID string, p domainPayload) error {
	res, err := w.store.LatestResolution(ctx, tenantID, p.CompanyID)
	if err != nil {
		return fmt.Errorf("latest resolution: %w", err)
	}
	if res == nil {
		return fmt.Errorf("no mx resolution on file for company %s", p.CompanyID)
	}
	if !catchall.Stale(res.CatchAllCheckedAt, w.cfg.CatchAllTTL) {
		return nil
	}

	status, localpart, code := w.detector.Detect(ctx, res.ChosenDomain, res.LowestMX, w.cfg.Identity, w.cfg.ProbeTimeouts)
	now := time.Now().UTC()

	updated := *res
	updated.ID = ""
	updated.CatchAllStatus = status
	updated.CatchAllCheckedAt = &now
	updated.CatchAllLocalpart = localpart
	updated.CatchAllSMTPCode = code
	updated.ResolvedAt = now

	if err := w.store.SaveResolution(ctx, &updated); err != nil {
		return fmt.Errorf("save catch-all resolution: %w", err)
	}
	return nil
}

// handleVerify probes every on-file email for the company against its
// resolved MX and classifies the outcome.
func (w *StageWorker) handleVerify(ctx context.Context, tenantID string, p domainPayload) error {
	res, err := w.store.LatestResolution(ctx, tenantID, p.CompanyID)
	if err != nil {
		return fmt.Errorf("latest resolution: %w", err)
	}
	if res == nil {
		return fmt.Errorf("no mx resolution on file for company %s", p.CompanyID)
	}

	emails, err := w.store.ListEmails(ctx, p.CompanyID)
	if err != nil {
		return fmt.Errorf("list emails: %w", err)
	}

	for _, e := range emails {
		if err := w.verifyOne(ctx, tenantID, e, res); err != nil {
			logger.Warn("verify: email failed", "email_id", e.ID, "error", err)
		}
	}
	return nil
}

// mustParseDoc parses page HTML for link harvesting; malformed HTML
// still yields a (possibly empty) document from goquery, never an error
// worth surfacing here.
func mustParseDoc(body []byte) *goquery.Document {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(body)))
	if err != nil {
		doc, _ = goquery.NewDocumentFromReader(strings.NewReader(""))
	}
	return doc
}

// resolveLink turns a possibly-relative href harvested off base into an
// absolute URL, discarding anything that can't be parsed.
func resolveLink(base, href string) string {
	baseURL, err := url.Parse(base)
	if err != nil {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	return baseURL.ResolveReference(ref).String()
}

func (w *StageWorker) verifyOne(ctx context.Context, tenantID string, e domain.Email, res *domain.DomainResolution) error {
	in := classify.Input{CatchAll: res.CatchAllStatus}

	if res.CatchAllStatus == domain.CatchAllYes {
		if prior, err := w.store.LatestVerification(ctx, e.ID); err != nil {
			return fmt.Errorf("latest verification for delivery-confirmed check: %w", err)
		} else if prior != nil && prior.VerifyStatus == domain.VerifyValid {
			in.DeliveryConfirmed = true
		}
	}

	if res.NoMX() {
		in.NoMX = true
	} else {
		lease, ok, err := w.limiter.Acquire(ctx, ratelimit.VerifyScopes(res.LowestMX, w.cfg.GlobalConcurrency, w.cfg.PerMXConcurrency))
		if err != nil {
			return fmt.Errorf("acquire verify scope: %w", err)
		}
		if !ok {
			return fmt.Errorf("verify scope denied for mx %s", res.LowestMX)
		}
		defer lease.Release(ctx)

		probeResult := w.prober.Probe(e.Email, res.LowestMX, w.cfg.Identity, w.cfg.ProbeTimeouts)
		w.resolver.RecordProbeOutcome(res.LowestMX, time.Duration(probeResult.ElapsedMS)*time.Millisecond,
			probeResult.Code, string(probeResult.Category), probeResult.Err)

		in.SMTPAttempted = true
		in.SMTPCategory = probeResult.Category
		in.SMTPCode = probeResult.Code
		in.TCP25Blocked = probeResult.Message == "tcp25_blocked"
		in.Timeout = smtpprobe.IsTimeoutErr(probeResult.Err)
	}

	if w.fallback != nil && !in.NoMX && (in.TCP25Blocked || in.Timeout || !in.SMTPAttempted ||
		(in.SMTPAttempted && in.SMTPCategory != smtpprobe.CategoryHardFail && in.SMTPCategory != smtpprobe.CategoryAccept)) {
		status, err := w.fallback.Verify(ctx, e.Email)
		if err != nil {
			logger.Debug("verify: fallback provider failed", "email_id", e.ID, "error", err)
		}
		in.Fallback = status
	}

	out := classify.Classify(in)
	now := time.Now().UTC()
	return w.store.AppendVerification(ctx, &domain.VerificationResult{
		TenantID: tenantID, EmailID: e.ID, MXHost: res.LowestMX,
		CheckedAt: now, VerifyStatus: out.Status, VerifyReason: out.Reason,
		VerifiedMX: res.LowestMX, VerifiedAt: &now,
	})
}
