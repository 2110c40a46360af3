package dataforseo

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"slices"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/HanTheDev/adinsight-api/internal/logger"
	"github.com/HanTheDev/adinsight-api/internal/provider"
)

const (
	Service = "dataforseo"

	EndpointSearchVolume       = "search_volume"
	EndpointKeywordSuggestions = "keywords_for_keywords"
	EndpointKeywordsForSite    = "keywords_for_site"

	statusOK        = 20000
	maxResponseSize = 10 << 20
)

type Config struct {
	BaseURL      string
	Login        string
	Password     string
	LocationCode int
	LanguageCode string
	Timeout      time.Duration
}

// Client talks to the keyword-data provider. Every call is memoized and
// never fails: upstream errors produce a fallback Result.
type Client struct {
	baseURL      string
	authHeader   string
	locationCode int
	languageCode string
	http         *http.Client
	limiter      *rate.Limiter
	cache        provider.Cache
	log          *zap.Logger
	random       func() float64
	now          func() time.Time
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithRateLimit caps outbound requests per second. A non-positive rps
// leaves calls unthrottled.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), max(burst, 1))
		}
	}
}

// WithRandom replaces the source of fallback values, primarily for tests.
func WithRandom(random func() float64) Option {
	return func(c *Client) {
		if random != nil {
			c.random = random
		}
	}
}

func WithNow(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

func NewClient(cfg Config, cache provider.Cache, opts ...Option) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if cfg.LocationCode == 0 {
		cfg.LocationCode = 2840
	}
	if cfg.LanguageCode == "" {
		cfg.LanguageCode = "en"
	}
	creds := base64.StdEncoding.EncodeToString([]byte(cfg.Login + ":" + cfg.Password))

	c := &Client{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		authHeader:   "Basic " + creds,
		locationCode: cfg.LocationCode,
		languageCode: cfg.LanguageCode,
		http:         &http.Client{Timeout: timeout},
		cache:        cache,
		log:          logger.WithModule("dataforseo"),
		random:       rand.Float64,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type searchVolumeInput struct {
	Keywords     []string `json:"keywords"`
	LocationCode int      `json:"location_code"`
	LanguageCode string   `json:"language_code"`
}

// SearchVolume returns one row per distinct requested keyword. Keyword order
// does not affect caching.
func (c *Client) SearchVolume(ctx context.Context, keywords []string) provider.Result[[]KeywordData] {
	normalized := NormalizeKeywords(keywords)
	if len(normalized) == 0 {
		return provider.Live([]KeywordData{})
	}
	input := searchVolumeInput{Keywords: normalized, LocationCode: c.locationCode, LanguageCode: c.languageCode}

	return provider.Memoize(ctx, c.cache, c.log,
		provider.Call{Service: Service, Endpoint: EndpointSearchVolume, Input: input},
		func(ctx context.Context) ([]KeywordData, error) {
			return c.post(ctx, "/v3/keywords_data/google_ads/search_volume/live", []searchVolumeInput{input})
		},
		func() []KeywordData { return c.fallbackRows(normalized) },
	)
}

type suggestionsInput struct {
	Keywords     []string `json:"keywords"`
	LocationCode int      `json:"location_code"`
	LanguageCode string   `json:"language_code"`
	Limit        int      `json:"limit"`
}

// KeywordSuggestions returns up to limit keywords related to seed.
func (c *Client) KeywordSuggestions(ctx context.Context, seed string, limit int) provider.Result[[]KeywordData] {
	seed = normalizeKeyword(seed)
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	input := suggestionsInput{Keywords: []string{seed}, LocationCode: c.locationCode, LanguageCode: c.languageCode, Limit: limit}
	task := searchVolumeInput{Keywords: input.Keywords, LocationCode: input.LocationCode, LanguageCode: input.LanguageCode}

	return provider.Memoize(ctx, c.cache, c.log,
		provider.Call{Service: Service, Endpoint: EndpointKeywordSuggestions, Input: input},
		func(ctx context.Context) ([]KeywordData, error) {
			rows, err := c.post(ctx, "/v3/keywords_data/google_ads/keywords_for_keywords/live", []searchVolumeInput{task})
			if err != nil {
				return nil, err
			}
			return topByVolume(rows, limit), nil
		},
		func() []KeywordData { return c.fallbackRows(suggestionVariants(seed, limit)) },
	)
}

type siteInput struct {
	Target       string `json:"target"`
	LocationCode int    `json:"location_code"`
	LanguageCode string `json:"language_code"`
}

// KeywordsForSite returns keywords the provider associates with domain.
func (c *Client) KeywordsForSite(ctx context.Context, domain string) provider.Result[[]KeywordData] {
	input := siteInput{Target: NormalizeDomain(domain), LocationCode: c.locationCode, LanguageCode: c.languageCode}

	return provider.Memoize(ctx, c.cache, c.log,
		provider.Call{Service: Service, Endpoint: EndpointKeywordsForSite, Input: input},
		func(ctx context.Context) ([]KeywordData, error) {
			return c.post(ctx, "/v3/keywords_data/google_ads/keywords_for_site/live", []siteInput{input})
		},
		func() []KeywordData { return c.fallbackRows(siteVariants(input.Target)) },
	)
}

func (c *Client) post(ctx context.Context, path string, tasks any) ([]KeywordData, error) {
	reqBody, err := json.Marshal(tasks)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", c.authHeader)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if env.StatusCode != statusOK {
		return nil, fmt.Errorf("provider status %d: %s", env.StatusCode, env.StatusMessage)
	}
	if len(env.Tasks) == 0 {
		return nil, fmt.Errorf("response has no tasks")
	}
	task := env.Tasks[0]
	if task.StatusCode != statusOK {
		return nil, fmt.Errorf("task status %d: %s", task.StatusCode, task.StatusMessage)
	}

	rows := make([]KeywordData, 0, len(task.Result))
	for _, item := range task.Result {
		rows = append(rows, item.normalize())
	}
	return rows, nil
}

// fallbackRows fabricates plausible market data: volume in [100,1100),
// CPC in [0.5,3.5), competition in [0,1) and twelve monthly points.
func (c *Client) fallbackRows(keywords []string) []KeywordData {
	rows := make([]KeywordData, 0, len(keywords))
	now := c.now()
	for _, kw := range keywords {
		volume := 100 + int(c.random()*1000)
		monthly := make([]MonthlySearch, 0, 12)
		for i := 11; i >= 0; i-- {
			month := now.AddDate(0, -i, 0)
			variation := 0.8 + c.random()*0.4
			monthly = append(monthly, MonthlySearch{
				Year:         month.Year(),
				Month:        int(month.Month()),
				SearchVolume: int(float64(volume) * variation),
			})
		}
		rows = append(rows, KeywordData{
			Keyword:         kw,
			SearchVolume:    volume,
			CPC:             round2(0.5 + c.random()*2.99),
			Competition:     round2(c.random() * 0.99),
			MonthlySearches: monthly,
		})
	}
	return rows
}

// NormalizeKeywords lowercases, trims, sorts and dedupes; blanks are dropped.
func NormalizeKeywords(keywords []string) []string {
	out := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		if kw = normalizeKeyword(kw); kw != "" {
			out = append(out, kw)
		}
	}
	sort.Strings(out)
	return slices.Compact(out)
}

func normalizeKeyword(kw string) string {
	return strings.Join(strings.Fields(strings.ToLower(kw)), " ")
}

// NormalizeDomain strips scheme, path and a leading "www.".
func NormalizeDomain(domain string) string {
	d := strings.ToLower(strings.TrimSpace(domain))
	if i := strings.Index(d, "://"); i >= 0 {
		d = d[i+3:]
	}
	if i := strings.IndexAny(d, "/?#"); i >= 0 {
		d = d[:i]
	}
	return strings.TrimPrefix(d, "www.")
}

func topByVolume(rows []KeywordData, limit int) []KeywordData {
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].SearchVolume > rows[j].SearchVolume })
	if len(rows) > limit {
		rows = rows[:limit]
	}
	return rows
}

var suggestionModifiers = []string{
	"best", "buy", "cheap", "near me", "online", "reviews", "price", "for sale",
	"how to choose", "vs", "deals", "top", "discount", "near", "guide", "alternatives",
	"cost", "service", "company", "ideas",
}

func suggestionVariants(seed string, limit int) []string {
	out := make([]string, 0, limit)
	for _, mod := range suggestionModifiers {
		if len(out) == limit {
			break
		}
		switch mod {
		case "best", "buy", "cheap", "top", "how to choose":
			out = append(out, mod+" "+seed)
		default:
			out = append(out, seed+" "+mod)
		}
	}
	return out
}

func siteVariants(domain string) []string {
	name := domain
	if i := strings.Index(name, "."); i > 0 {
		name = name[:i]
	}
	name = strings.ReplaceAll(name, "-", " ")
	return []string{name, name + " reviews", name + " pricing", name + " login", name + " alternatives"}
}
