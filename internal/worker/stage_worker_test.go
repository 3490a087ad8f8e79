package worker

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/leadprobe/internal/catchall"
	"github.com/ignite/leadprobe/internal/classify"
	"github.com/ignite/leadprobe/internal/domain"
	"github.com/ignite/leadprobe/internal/extract"
	"github.com/ignite/leadprobe/internal/mxresolve"
	"github.com/ignite/leadprobe/internal/ratelimit"
	"github.com/ignite/leadprobe/internal/smtpprobe"
)

// fakeStore is a minimal in-memory Store for exercising one stage handler
// at a time without a database.
type fakeStore struct {
	companies     map[string]*domain.Company
	people        map[string][]domain.Person
	emails        map[string][]domain.Email
	resolutions   map[string]*domain.DomainResolution
	suppressed    map[string]bool
	savedRes      []domain.DomainResolution
	upsertedEmail []domain.Email
	verifications []domain.VerificationResult
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		companies:   make(map[string]*domain.Company),
		people:      make(map[string][]domain.Person),
		emails:      make(map[string][]domain.Email),
		resolutions: make(map[string]*domain.DomainResolution),
		suppressed:  make(map[string]bool),
	}
}

func (f *fakeStore) GetCompany(ctx context.Context, companyID string) (*domain.Company, error) {
	return f.companies[companyID], nil
}
func (f *fakeStore) AddSource(ctx context.Context, src *domain.Source) error { return nil }
func (f *fakeStore) ListSources(ctx context.Context, companyID string) ([]domain.Source, error) {
	return nil, nil
}
func (f *fakeStore) UpsertPerson(ctx context.Context, p *domain.Person) error { return nil }
func (f *fakeStore) ListPeople(ctx context.Context, companyID string) ([]domain.Person, error) {
	return f.people[companyID], nil
}
func (f *fakeStore) UpsertEmail(ctx context.Context, e *domain.Email) error {
	f.upsertedEmail = append(f.upsertedEmail, *e)
	f.emails[e.CompanyID] = append(f.emails[e.CompanyID], *e)
	return nil
}
func (f *fakeStore) ListEmails(ctx context.Context, companyID string) ([]domain.Email, error) {
	return f.emails[companyID], nil
}
func (f *fakeStore) AppendVerification(ctx context.Context, v *domain.VerificationResult) error {
	f.verifications = append(f.verifications, *v)
	return nil
}
func (f *fakeStore) LatestVerification(ctx context.Context, emailID string) (*domain.VerificationResult, error) {
	for i := len(f.verifications) - 1; i >= 0; i-- {
		if f.verifications[i].EmailID == emailID {
			return &f.verifications[i], nil
		}
	}
	return nil, nil
}
func (f *fakeStore) LatestResolution(ctx context.Context, tenantID, companyID string) (*domain.DomainResolution, error) {
	return f.resolutions[companyID], nil
}
func (f *fakeStore) SaveResolution(ctx context.Context, res *domain.DomainResolution) error {
	f.savedRes = append(f.savedRes, *res)
	cp := *res
	f.resolutions[res.CompanyID] = &cp
	return nil
}
func (f *fakeStore) IsSuppressed(ctx context.Context, tenantID, email, domainName string) (bool, error) {
	return f.suppressed[email], nil
}

type fakeCatchAllProber struct {
	result smtpprobe.Result
	calls  int
}

func (f *fakeCatchAllProber) Probe(email, mxHost string, identity smtpprobe.Identity, timeouts smtpprobe.Timeouts) smtpprobe.Result {
	f.calls++
	return f.result
}

type fakeFallbackProvider struct {
	status classify.FallbackStatus
	calls  int
}

func (f *fakeFallbackProvider) Verify(ctx context.Context, email string) (classify.FallbackStatus, error) {
	f.calls++
	return f.status, nil
}

func newTestLimiter(t *testing.T) *ratelimit.Limiter {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return ratelimit.New(client)
}

func newTestWorker(t *testing.T, st Store, prober Prober, detector *catchall.Detector) *StageWorker {
	t.Helper()
	resolver := mxresolve.New(st, 2*time.Second, time.Hour, nil)
	return New(nil, st, nil, extract.NewHeuristic(), resolver, prober, detector, newTestLimiter(t), Config{
		GlobalConcurrency:    10,
		PerDomainConcurrency: 10,
		PerMXConcurrency:     10,
		CatchAllTTL:          24 * time.Hour,
	})
}

func TestHandleGenerateEmails_SkipsExistingAndSuppressed(t *testing.T) {
	st := newFakeStore()
	st.companies["c1"] = &domain.Company{ID: "c1", OfficialDomain: "acme.com"}
	st.people["c1"] = []domain.Person{
		{ID: "p1", CompanyID: "c1", First: "Jane", Last: "Doe"},
		{ID: "p2", CompanyID: "c1", First: "Ghost", Last: "Suppressed"},
	}
	st.suppressed["ghost.suppressed@acme.com"] = true

	w := newTestWorker(t, st, &fakeCatchAllProber{}, catchall.New(&fakeCatchAllProber{}, 2))

	err := w.handleGenerateEmails(context.Background(), "tenant-1", domainPayload{CompanyID: "c1", Domain: "acme.com"})
	require.NoError(t, err)

	require.Len(t, st.upsertedEmail, 1)
	assert.Equal(t, "p1", st.upsertedEmail[0].PersonID)
	assert.Contains(t, st.upsertedEmail[0].Email, "@acme.com")
}

func TestHandleGenerateEmails_SkipsPersonWithExistingEmail(t *testing.T) {
	st := newFakeStore()
	st.companies["c1"] = &domain.Company{ID: "c1", OfficialDomain: "acme.com"}
	st.people["c1"] = []domain.Person{{ID: "p1", CompanyID: "c1", First: "Jane", Last: "Doe"}}
	st.emails["c1"] = []domain.Email{{PersonID: "p1", CompanyID: "c1", Email: "jane@acme.com", IsPublished: true}}

	w := newTestWorker(t, st, &fakeCatchAllProber{}, catchall.New(&fakeCatchAllProber{}, 2))

	err := w.handleGenerateEmails(context.Background(), "tenant-1", domainPayload{CompanyID: "c1", Domain: "acme.com"})
	require.NoError(t, err)
	assert.Empty(t, st.upsertedEmail)
}

func TestHandleResolveMX_FreemailShortCircuitsWithoutNetwork(t *testing.T) {
	st := newFakeStore()
	st.companies["c1"] = &domain.Company{ID: "c1"}

	w := newTestWorker(t, st, &fakeCatchAllProber{}, catchall.New(&fakeCatchAllProber{}, 2))

	err := w.handleResolveMX(context.Background(), "tenant-1", domainPayload{CompanyID: "c1", Domain: "gmail.com"})
	require.NoError(t, err)
	assert.Empty(t, st.savedRes, "freemail short-circuit must not persist a resolution row")
}

func TestHandleDetectCatchAll_SkipsWhenFresh(t *testing.T) {
	st := newFakeStore()
	now := time.Now().UTC()
	st.resolutions["c1"] = &domain.DomainResolution{
		CompanyID: "c1", ChosenDomain: "acme.com", LowestMX: "mx.acme.com",
		CatchAllCheckedAt: &now,
	}
	prober := &fakeCatchAllProber{result: smtpprobe.Result{Category: smtpprobe.CategoryAccept, Code: 250}}
	w := newTestWorker(t, st, prober, catchall.New(prober, 2))

	err := w.handleDetectCatchAll(context.Background(), "tenant-1", domainPayload{CompanyID: "c1", Domain: "acme.com"})
	require.NoError(t, err)
	assert.Zero(t, prober.calls)
	assert.Empty(t, st.savedRes)
}

func TestHandleDetectCatchAll_ProbesAndSavesWhenStale(t *testing.T) {
	st := newFakeStore()
	st.resolutions["c1"] = &domain.DomainResolution{
		CompanyID: "c1", ChosenDomain: "acme.com", LowestMX: "mx.acme.com",
	}
	prober := &fakeCatchAllProber{result: smtpprobe.Result{Category: smtpprobe.CategoryAccept, Code: 250}}
	w := newTestWorker(t, st, prober, catchall.New(prober, 2))

	err := w.handleDetectCatchAll(context.Background(), "tenant-1", domainPayload{CompanyID: "c1", Domain: "acme.com"})
	require.NoError(t, err)
	require.Len(t, st.savedRes, 1)
	assert.Equal(t, domain.CatchAllYes, st.savedRes[0].CatchAllStatus)
	assert.NotZero(t, prober.calls)
}

func TestHandleVerify_NoMXSkipsProbingAndRecordsInvalid(t *testing.T) {
	st := newFakeStore()
	st.resolutions["c1"] = &domain.DomainResolution{CompanyID: "c1", Method: "no_mx"}
	st.emails["c1"] = []domain.Email{{ID: "e1", CompanyID: "c1", Email: "jane@acme.com"}}

	prober := &fakeCatchAllProber{}
	w := newTestWorker(t, st, prober, catchall.New(prober, 2))

	err := w.handleVerify(context.Background(), "tenant-1", domainPayload{CompanyID: "c1", Domain: "acme.com"})
	require.NoError(t, err)
	require.Len(t, st.verifications, 1)
	assert.Equal(t, domain.VerifyInvalid, st.verifications[0].VerifyStatus)
	assert.Equal(t, domain.ReasonNoMX, st.verifications[0].VerifyReason)
	assert.Zero(t, prober.calls)
}

func TestHandleVerify_AcceptOnNonCatchAllIsValid(t *testing.T) {
	st := newFakeStore()
	st.resolutions["c1"] = &domain.DomainResolution{
		CompanyID: "c1", ChosenDomain: "acme.com", LowestMX: "mx.acme.com",
		CatchAllStatus: domain.CatchAllNo,
	}
	st.emails["c1"] = []domain.Email{{ID: "e1", CompanyID: "c1", Email: "jane@acme.com"}}

	prober := &fakeCatchAllProber{result: smtpprobe.Result{Category: smtpprobe.CategoryAccept, Code: 250}}
	w := newTestWorker(t, st, prober, catchall.New(prober, 2))

	err := w.handleVerify(context.Background(), "tenant-1", domainPayload{CompanyID: "c1", Domain: "acme.com"})
	require.NoError(t, err)
	require.Len(t, st.verifications, 1)
	assert.Equal(t, domain.VerifyValid, st.verifications[0].VerifyStatus)
}

func TestHandleVerify_AcceptOnCatchAllWithoutPriorDeliveryIsRisky(t *testing.T) {
	st := newFakeStore()
	st.resolutions["c1"] = &domain.DomainResolution{
		CompanyID: "c1", ChosenDomain: "acme.com", LowestMX: "mx.acme.com",
		CatchAllStatus: domain.CatchAllYes,
	}
	st.emails["c1"] = []domain.Email{{ID: "e1", CompanyID: "c1", Email: "jane@acme.com"}}

	prober := &fakeCatchAllProber{result: smtpprobe.Result{Category: smtpprobe.CategoryAccept, Code: 250}}
	w := newTestWorker(t, st, prober, catchall.New(prober, 2))

	err := w.handleVerify(context.Background(), "tenant-1", domainPayload{CompanyID: "c1", Domain: "acme.com"})
	require.NoError(t, err)
	require.Len(t, st.verifications, 1)
	assert.Equal(t, domain.VerifyRiskyCatchAll, st.verifications[0].VerifyStatus)
	assert.Equal(t, domain.ReasonCatchAllDomain, st.verifications[0].VerifyReason)
}

func TestHandleVerify_AcceptOnCatchAllWithPriorDeliveryIsValid(t *testing.T) {
	st := newFakeStore()
	st.resolutions["c1"] = &domain.DomainResolution{
		CompanyID: "c1", ChosenDomain: "acme.com", LowestMX: "mx.acme.com",
		CatchAllStatus: domain.CatchAllYes,
	}
	st.emails["c1"] = []domain.Email{{ID: "e1", CompanyID: "c1", Email: "jane@acme.com"}}
	st.verifications = append(st.verifications, domain.VerificationResult{
		EmailID: "e1", VerifyStatus: domain.VerifyValid, VerifyReason: domain.ReasonRCPT2xxNonCatchAll,
	})

	prober := &fakeCatchAllProber{result: smtpprobe.Result{Category: smtpprobe.CategoryAccept, Code: 250}}
	w := newTestWorker(t, st, prober, catchall.New(prober, 2))

	err := w.handleVerify(context.Background(), "tenant-1", domainPayload{CompanyID: "c1", Domain: "acme.com"})
	require.NoError(t, err)
	require.Len(t, st.verifications, 2)
	assert.Equal(t, domain.VerifyValid, st.verifications[1].VerifyStatus)
	assert.Equal(t, domain.ReasonDeliveredOnCatchAll, st.verifications[1].VerifyReason)
}

func TestHandleVerify_TCP25BlockedConsultsFallbackProvider(t *testing.T) {
	st := newFakeStore()
	st.resolutions["c1"] = &domain.DomainResolution{
		CompanyID: "c1", ChosenDomain: "acme.com", LowestMX: "mx.acme.com",
		CatchAllStatus: domain.CatchAllNo,
	}
	st.emails["c1"] = []domain.Email{{ID: "e1", CompanyID: "c1", Email: "jane@acme.com"}}

	prober := &fakeCatchAllProber{result: smtpprobe.Result{Category: smtpprobe.CategoryUnknown, Message: "tcp25_blocked"}}
	w := newTestWorker(t, st, prober, catchall.New(prober, 2))
	fb := &fakeFallbackProvider{status: classify.FallbackDeliverable}
	w.SetFallbackProvider(fb)

	err := w.handleVerify(context.Background(), "tenant-1", domainPayload{CompanyID: "c1", Domain: "acme.com"})
	require.NoError(t, err)
	require.Len(t, st.verifications, 1)
	assert.Equal(t, domain.VerifyValid, st.verifications[0].VerifyStatus)
	assert.Equal(t, domain.ReasonFallbackDeliverable, st.verifications[0].VerifyReason)
	assert.Equal(t, 1, fb.calls)
}

func TestHandleVerify_NoMXNeverConsultsFallbackProvider(t *testing.T) {
	st := newFakeStore()
	st.resolutions["c1"] = &domain.DomainResolution{CompanyID: "c1", Method: "no_mx"}
	st.emails["c1"] = []domain.Email{{ID: "e1", CompanyID: "c1", Email: "jane@acme.com"}}

	prober := &fakeCatchAllProber{}
	w := newTestWorker(t, st, prober, catchall.New(prober, 2))
	fb := &fakeFallbackProvider{status: classify.FallbackDeliverable}
	w.SetFallbackProvider(fb)

	err := w.handleVerify(context.Background(), "tenant-1", domainPayload{CompanyID: "c1", Domain: "acme.com"})
	require.NoError(t, err)
	require.Len(t, st.verifications, 1)
	assert.Equal(t, domain.VerifyInvalid, st.verifications[0].VerifyStatus)
	assert.Zero(t, fb.calls, "no MX is authoritative and never consults the fallback provider")
}

func TestResolveLink_ResolvesRelativeAgainstBase(t *testing.T) {
	got := resolveLink("https://acme.com/", "/about/team")
	assert.Equal(t, "https://acme.com/about/team", got)
}

func TestResolveLink_ReturnsEmptyOnUnparsableHref(t *testing.T) {
	got := resolveLink("https://acme.com/", "://bad")
	assert.Empty(t, got)
}
