package dataforseo_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HanTheDev/adinsight-api/internal/cache"
	"github.com/HanTheDev/adinsight-api/internal/cache/cachetest"
	"github.com/HanTheDev/adinsight-api/internal/dataforseo"
	"github.com/HanTheDev/adinsight-api/internal/provider"
)

const liveBody = `{
  "status_code": 20000,
  "status_message": "Ok.",
  "tasks": [{
    "status_code": 20000,
    "status_message": "Ok.",
    "result": [
      {"keyword": "a", "search_volume": 1900, "cpc": 1.25, "competition": "HIGH", "competition_index": 87,
       "monthly_searches": [{"year": 2026, "month": 9, "search_volume": 1600}]},
      {"keyword": "b", "search_volume": null, "cpc": null, "competition": "LOW", "competition_index": null,
       "monthly_searches": null}
    ]
  }]
}`

type fakeProvider struct {
	srv   *httptest.Server
	calls atomic.Int32
	last  atomic.Value
}

func newFakeProvider(t *testing.T, status int, body string) *fakeProvider {
	t.Helper()
	fp := &fakeProvider{}
	fp.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fp.calls.Add(1)
		fp.last.Store(r.Clone(context.Background()))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(fp.srv.Close)
	return fp
}

func newClient(fp *fakeProvider, c provider.Cache) *dataforseo.Client {
	return dataforseo.NewClient(dataforseo.Config{
		BaseURL:  fp.srv.URL,
		Login:    "user",
		Password: "secret",
	}, c, dataforseo.WithNow(func() time.Time {
		return time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	}))
}

func fieldSet(t *testing.T, rows []dataforseo.KeywordData) []map[string]any {
	t.Helper()
	raw, err := json.Marshal(rows)
	require.NoError(t, err)
	var out []map[string]any
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

func TestSearchVolumeLive(t *testing.T) {
	fp := newFakeProvider(t, http.StatusOK, liveBody)
	c := newClient(fp, nil)

	res := c.SearchVolume(context.Background(), []string{"B", " a "})

	require.Equal(t, provider.SourceLive, res.Source)
	require.Len(t, res.Value, 2)
	assert.Equal(t, dataforseo.KeywordData{
		Keyword:         "a",
		SearchVolume:    1900,
		CPC:             1.25,
		Competition:     0.87,
		MonthlySearches: []dataforseo.MonthlySearch{{Year: 2026, Month: 9, SearchVolume: 1600}},
	}, res.Value[0])
	assert.Equal(t, 0.33, res.Value[1].Competition)
	assert.Zero(t, res.Value[1].SearchVolume)
	assert.NotNil(t, res.Value[1].MonthlySearches)

	req := fp.last.Load().(*http.Request)
	user, pass, ok := req.BasicAuth()
	require.True(t, ok)
	assert.Equal(t, "user", user)
	assert.Equal(t, "secret", pass)
	assert.Equal(t, "/v3/keywords_data/google_ads/search_volume/live", req.URL.Path)
}

func TestSearchVolumeFallbackShapeParity(t *testing.T) {
	live := newClient(newFakeProvider(t, http.StatusOK, liveBody), nil).
		SearchVolume(context.Background(), []string{"a", "b"})
	failed := newClient(newFakeProvider(t, http.StatusInternalServerError, `{"error":"boom"}`), nil).
		SearchVolume(context.Background(), []string{"a", "b"})

	require.True(t, failed.Degraded())
	require.Error(t, failed.Err)
	require.Len(t, failed.Value, 2)

	liveFields := fieldSet(t, live.Value)
	for _, row := range fieldSet(t, failed.Value) {
		for key := range liveFields[0] {
			assert.Contains(t, row, key)
		}
		assert.Len(t, row, len(liveFields[0]))
	}

	for _, row := range failed.Value {
		assert.GreaterOrEqual(t, row.SearchVolume, 100)
		assert.Less(t, row.SearchVolume, 1100)
		assert.GreaterOrEqual(t, row.CPC, 0.5)
		assert.Less(t, row.CPC, 3.5)
		assert.GreaterOrEqual(t, row.Competition, 0.0)
		assert.Less(t, row.Competition, 1.0)
		assert.Len(t, row.MonthlySearches, 12)
	}
}

func TestSearchVolumeFallbackIsNotCached(t *testing.T) {
	ctx := context.Background()
	store := cachetest.NewStore()
	mgr := cache.NewManager(store)
	fp := newFakeProvider(t, http.StatusInternalServerError, "")
	c := newClient(fp, mgr)

	res := c.SearchVolume(ctx, []string{"shoes"})
	require.True(t, res.Degraded())

	assert.Zero(t, store.Len())
	res = c.SearchVolume(ctx, []string{"shoes"})
	assert.True(t, res.Degraded())
	assert.EqualValues(t, 2, fp.calls.Load())
}

func TestSearchVolumeKeywordOrderSharesCacheEntry(t *testing.T) {
	ctx := context.Background()
	mgr := cache.NewManager(cachetest.NewStore())
	fp := newFakeProvider(t, http.StatusOK, liveBody)
	c := newClient(fp, mgr)

	first := c.SearchVolume(ctx, []string{"b", "a"})
	second := c.SearchVolume(ctx, []string{"a", "b"})

	assert.Equal(t, provider.SourceLive, first.Source)
	assert.Equal(t, provider.SourceCache, second.Source)
	assert.Equal(t, first.Value, second.Value)
	assert.EqualValues(t, 1, fp.calls.Load())
}

func TestSearchVolumeProviderErrorEnvelope(t *testing.T) {
	fp := newFakeProvider(t, http.StatusOK, `{"status_code": 40100, "status_message": "Unauthorized", "tasks": []}`)

	res := newClient(fp, nil).SearchVolume(context.Background(), []string{"a"})

	require.True(t, res.Degraded())
	assert.ErrorContains(t, res.Err, "40100")
	assert.Len(t, res.Value, 1)
}

func TestKeywordSuggestionsLimitsByVolume(t *testing.T) {
	fp := newFakeProvider(t, http.StatusOK, liveBody)

	res := newClient(fp, nil).KeywordSuggestions(context.Background(), "Running Shoes", 1)

	require.Equal(t, provider.SourceLive, res.Source)
	require.Len(t, res.Value, 1)
	assert.Equal(t, "a", res.Value[0].Keyword)
	req := fp.last.Load().(*http.Request)
	assert.Equal(t, "/v3/keywords_data/google_ads/keywords_for_keywords/live", req.URL.Path)
}

func TestKeywordSuggestionsFallback(t *testing.T) {
	fp := newFakeProvider(t, http.StatusBadGateway, "")

	res := newClient(fp, nil).KeywordSuggestions(context.Background(), "shoes", 5)

	require.True(t, res.Degraded())
	require.Len(t, res.Value, 5)
	assert.Equal(t, "best shoes", res.Value[0].Keyword)
}

func TestKeywordsForSiteNormalizesDomain(t *testing.T) {
	ctx := context.Background()
	mgr := cache.NewManager(cachetest.NewStore())
	fp := newFakeProvider(t, http.StatusOK, liveBody)
	c := newClient(fp, mgr)

	first := c.KeywordsForSite(ctx, "https://www.Example.com/shop?x=1")
	second := c.KeywordsForSite(ctx, "example.com")

	assert.Equal(t, provider.SourceLive, first.Source)
	assert.Equal(t, provider.SourceCache, second.Source)
	assert.EqualValues(t, 1, fp.calls.Load())
}

func TestRateLimitWaitFallsBackWhenContextExpires(t *testing.T) {
	fp := newFakeProvider(t, http.StatusOK, liveBody)
	c := dataforseo.NewClient(dataforseo.Config{BaseURL: fp.srv.URL}, nil, dataforseo.WithRateLimit(0.5, 1))

	first := c.SearchVolume(context.Background(), []string{"a"})
	require.Equal(t, provider.SourceLive, first.Source)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	second := c.SearchVolume(ctx, []string{"b"})

	require.Equal(t, provider.SourceFallback, second.Source)
	assert.ErrorContains(t, second.Err, "rate limit wait")
	assert.EqualValues(t, 1, fp.calls.Load())
}

func TestNormalizeKeywords(t *testing.T) {
	assert.Equal(t, []string{"a", "b b", "c"}, dataforseo.NormalizeKeywords([]string{" C", "", "b   B", "a"}))
	assert.Equal(t, []string{"x", "y"}, dataforseo.NormalizeKeywords([]string{"x", "Y", " X ", "x"}))
}

func TestSearchVolumeBlankKeywordsSkipProvider(t *testing.T) {
	store := cachetest.NewStore()
	fp := newFakeProvider(t, http.StatusOK, liveBody)

	res := newClient(fp, cache.NewManager(store)).SearchVolume(context.Background(), []string{"  ", "\t"})

	assert.Equal(t, provider.SourceLive, res.Source)
	assert.NoError(t, res.Err)
	assert.Empty(t, res.Value)
	assert.Zero(t, fp.calls.Load())
	assert.Zero(t, store.Len())
}

func TestSearchVolumeDuplicatesShareCacheEntry(t *testing.T) {
	ctx := context.Background()
	mgr := cache.NewManager(cachetest.NewStore())
	fp := newFakeProvider(t, http.StatusOK, liveBody)
	c := newClient(fp, mgr)

	first := c.SearchVolume(ctx, []string{"x", "X", "x "})
	second := c.SearchVolume(ctx, []string{"x"})

	assert.Equal(t, provider.SourceLive, first.Source)
	assert.Equal(t, provider.SourceCache, second.Source)
	assert.EqualValues(t, 1, fp.calls.Load())
}

func TestSearchVolumeFallbackHasOneRowPerDistinctKeyword(t *testing.T) {
	fp := newFakeProvider(t, http.StatusInternalServerError, "")

	res := newClient(fp, nil).SearchVolume(context.Background(), []string{"x", "x", "y"})

	require.True(t, res.Degraded())
	require.Len(t, res.Value, 2)
	assert.Equal(t, "x", res.Value[0].Keyword)
	assert.Equal(t, "y", res.Value[1].Keyword)
}
