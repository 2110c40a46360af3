package api_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HanTheDev/adinsight-api/internal/analysis"
	"github.com/HanTheDev/adinsight-api/internal/api"
	"github.com/HanTheDev/adinsight-api/internal/auth"
	"github.com/HanTheDev/adinsight-api/internal/dataforseo"
	"github.com/HanTheDev/adinsight-api/internal/llm"
	"github.com/HanTheDev/adinsight-api/internal/models"
	"github.com/HanTheDev/adinsight-api/internal/provider"
	"github.com/HanTheDev/adinsight-api/internal/ratelimit"
	"github.com/HanTheDev/adinsight-api/internal/website"
)

const jwtSecret = "api-test-secret"

type fakeTenants struct {
	mu      sync.Mutex
	tenants map[int]*models.Tenant
	logs    []models.AccessLog
}

func (f *fakeTenants) GetTenantByAPIKey(_ context.Context, key string) (*models.Tenant, error) {
	for _, t := range f.tenants {
		if t.APIKey == key {
			return t, nil
		}
	}
	return nil, models.ErrNotFound
}

func (f *fakeTenants) GetTenantByID(_ context.Context, id int) (*models.Tenant, error) {
	if t, ok := f.tenants[id]; ok {
		return t, nil
	}
	return nil, models.ErrNotFound
}

func (f *fakeTenants) LogAccess(_ context.Context, l *models.AccessLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logs = append(f.logs, *l)
	return nil
}

func (f *fakeTenants) accessLogs() []models.AccessLog {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.AccessLog(nil), f.logs...)
}

type fakeLimiter struct{ allowed bool }

func (f fakeLimiter) Allow(_ context.Context, _ int, limit int) ratelimit.Decision {
	d := ratelimit.Decision{Allowed: f.allowed, Limit: limit, ResetAt: time.Now().Add(30 * time.Minute)}
	if f.allowed {
		d.Remaining = limit - 1
	}
	return d
}

type fakeKeywords struct {
	calls int
	last  []string
}

func (f *fakeKeywords) SearchVolume(_ context.Context, keywords []string) provider.Result[[]dataforseo.KeywordData] {
	f.calls++
	f.last = keywords
	return provider.Cached([]dataforseo.KeywordData{{Keyword: "shoes", SearchVolume: 900}})
}

func (f *fakeKeywords) KeywordSuggestions(_ context.Context, seed string, limit int) provider.Result[[]dataforseo.KeywordData] {
	f.calls++
	return provider.Fallback([]dataforseo.KeywordData{{Keyword: "best " + seed}}, fmt.Errorf("limit %d", limit))
}

func (f *fakeKeywords) KeywordsForSite(_ context.Context, domain string) provider.Result[[]dataforseo.KeywordData] {
	f.calls++
	return provider.Live([]dataforseo.KeywordData{{Keyword: domain}})
}

type fakeClassifier struct{}

func (fakeClassifier) ClassifyKeywords(_ context.Context, keywords []string) provider.Result[llm.KeywordClassification] {
	items := make([]llm.ClassifiedKeyword, 0, len(keywords))
	for _, kw := range keywords {
		items = append(items, llm.ClassifiedKeyword{Keyword: kw, Intent: llm.IntentCommercial, CommercialScore: 0.8})
	}
	return provider.Live(llm.KeywordClassification{Items: items})
}

type fakeJobs struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*models.AnalysisJob
}

func (f *fakeJobs) Submit(_ context.Context, tenantID int, req analysis.Request) (*models.AnalysisJob, error) {
	target, err := website.NormalizeURL(req.URL)
	if err != nil {
		return nil, err
	}
	job := &models.AnalysisJob{ID: uuid.New(), TenantID: tenantID, TargetURL: target, Status: models.JobPending}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs[job.ID] = job
	out := *job
	return &out, nil
}

func (f *fakeJobs) Get(_ context.Context, tenantID int, id uuid.UUID) (*models.AnalysisJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[id]
	if !ok || job.TenantID != tenantID {
		return nil, models.ErrNotFound
	}
	out := *job
	return &out, nil
}

func (f *fakeJobs) Cancel(_ context.Context, tenantID int, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[id]
	if !ok || job.TenantID != tenantID {
		return models.ErrNotFound
	}
	if job.Status.Terminal() {
		return models.ErrJobFinished
	}
	job.Status = models.JobCancelled
	return nil
}

// update mutates a stored job the way the runner would.
func (f *fakeJobs) update(id uuid.UUID, fn func(*models.AnalysisJob)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f.jobs[id])
}

type fixture struct {
	router   *mux.Router
	tenants  *fakeTenants
	keywords *fakeKeywords
	jobs     *fakeJobs
}

func newFixture(t *testing.T, allowed bool) *fixture {
	t.Helper()
	f := &fixture{
		tenants: &fakeTenants{tenants: map[int]*models.Tenant{
			1: {ID: 1, Name: "acme", APIKey: "key-acme", RateLimitPerHour: 100},
			2: {ID: 2, Name: "globex", APIKey: "key-globex", RateLimitPerHour: 100},
		}},
		keywords: &fakeKeywords{},
		jobs:     &fakeJobs{jobs: map[uuid.UUID]*models.AnalysisJob{}},
		router:   mux.NewRouter(),
	}
	h := api.NewHandler(api.Deps{
		Tenants:    f.tenants,
		Limiter:    fakeLimiter{allowed: allowed},
		Keywords:   f.keywords,
		Classifier: fakeClassifier{},
		Jobs:       f.jobs,
		JWTSecret:  jwtSecret,

		StreamPollInterval: 5 * time.Millisecond,
	})
	h.RegisterRoutes(f.router, auth.NewMiddleware(jwtSecret, ""))
	return f
}

func (f *fixture) do(t *testing.T, tenantID int, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if tenantID > 0 {
		token, err := auth.GenerateToken(tenantID, jwtSecret, time.Hour, time.Now())
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func TestIssueToken(t *testing.T) {
	f := newFixture(t, true)

	rec := f.do(t, 0, http.MethodPost, "/auth/token", `{"api_key":"key-acme"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Token     string `json:"token"`
		ExpiresIn int    `json:"expires_in"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	claims, err := auth.ValidateToken(body.Token, jwtSecret)
	require.NoError(t, err)
	assert.Equal(t, 1, claims.TenantID)
	assert.Equal(t, int(auth.DefaultTokenTTL.Seconds()), body.ExpiresIn)

	rec = f.do(t, 0, http.MethodPost, "/auth/token", `{"api_key":"wrong"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSearchVolume(t *testing.T) {
	f := newFixture(t, true)

	rec := f.do(t, 1, http.MethodPost, "/api/keywords/search-volume", `{"keywords":["shoes","boots"]}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"source":"cache","degraded":false,"data":[
		{"keyword":"shoes","search_volume":900,"cpc":0,"competition":0,"monthly_searches":null}]}`, rec.Body.String())
	assert.Equal(t, "100", rec.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "99", rec.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, []string{"shoes", "boots"}, f.keywords.last)

	assert.Eventually(t, func() bool { return len(f.tenants.accessLogs()) == 1 }, time.Second, 10*time.Millisecond)
	entry := f.tenants.accessLogs()[0]
	assert.Equal(t, 1, entry.TenantID)
	assert.Equal(t, "/api/keywords/search-volume", entry.Endpoint)
	assert.Equal(t, http.StatusOK, entry.StatusCode)
	assert.EqualValues(t, rec.Body.Len(), entry.ResponseSize)
}

func TestKeywordEndpointsReportSource(t *testing.T) {
	f := newFixture(t, true)

	rec := f.do(t, 1, http.MethodPost, "/api/keywords/suggestions", `{"seed":"shoes","limit":5}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"source":"fallback","degraded":true`)

	rec = f.do(t, 1, http.MethodPost, "/api/keywords/site", `{"domain":"acme.example"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"source":"live"`)

	rec = f.do(t, 1, http.MethodPost, "/api/keywords/site", `{"domain":"https://"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, 1, http.MethodPost, "/api/keywords/classify", `{"keywords":["buy shoes"]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"intent":"commercial"`)
}

func TestRequestValidation(t *testing.T) {
	f := newFixture(t, true)

	for name, body := range map[string]string{
		"empty list":    `{"keywords":[]}`,
		"blank keyword": `{"keywords":[""]}`,
		"unknown field": `{"keywords":["a"],"foo":1}`,
		"not json":      `keywords=a`,
	} {
		t.Run(name, func(t *testing.T) {
			rec := f.do(t, 1, http.MethodPost, "/api/keywords/search-volume", body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
	assert.Zero(t, f.keywords.calls)
}

func TestRateLimited(t *testing.T) {
	f := newFixture(t, false)

	rec := f.do(t, 1, http.MethodPost, "/api/keywords/search-volume", `{"keywords":["shoes"]}`)

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
	assert.Zero(t, f.keywords.calls)
	assert.Eventually(t, func() bool {
		logs := f.tenants.accessLogs()
		return len(logs) == 1 && logs[0].StatusCode == http.StatusTooManyRequests
	}, time.Second, 10*time.Millisecond)
}

func TestRequiresAuthentication(t *testing.T) {
	f := newFixture(t, true)

	rec := f.do(t, 0, http.MethodPost, "/api/keywords/search-volume", `{"keywords":["shoes"]}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, 99, http.MethodPost, "/api/keywords/search-volume", `{"keywords":["shoes"]}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Zero(t, f.keywords.calls)
}

func TestAnalysisLifecycle(t *testing.T) {
	f := newFixture(t, true)

	rec := f.do(t, 1, http.MethodPost, "/api/analyses", `{"url":"acme.example","conversion_rate":0.05}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	var job models.AnalysisJob
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
	assert.Equal(t, "https://acme.example", job.TargetURL)
	assert.Equal(t, "/api/analyses/"+job.ID.String(), rec.Header().Get("Location"))

	rec = f.do(t, 1, http.MethodGet, "/api/analyses/"+job.ID.String(), "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, 2, http.MethodGet, "/api/analyses/"+job.ID.String(), "")
	assert.Equal(t, http.StatusNotFound, rec.Code, "other tenants cannot see the job")

	rec = f.do(t, 1, http.MethodPost, "/api/analyses/"+job.ID.String()+"/cancel", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"cancelled"`)

	rec = f.do(t, 1, http.MethodPost, "/api/analyses/"+job.ID.String()+"/cancel", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(t, 1, http.MethodGet, "/api/analyses/not-a-uuid", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateAnalysisRejectsBadInput(t *testing.T) {
	f := newFixture(t, true)

	rec := f.do(t, 1, http.MethodPost, "/api/analyses", `{"url":"ftp://files.example"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, 1, http.MethodPost, "/api/analyses", `{"url":"acme.example","conversion_rate":1.5}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, f.jobs.jobs)
}
