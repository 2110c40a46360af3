// Package llm wraps an OpenAI-compatible chat completion API. Every request
// forces a JSON object response, and any failure degrades to a fixed default.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/HanTheDev/adinsight-api/internal/logger"
	"github.com/HanTheDev/adinsight-api/internal/provider"
)

const (
	Service = "openai"

	EndpointExtractKeywords  = "extract_keywords"
	EndpointClassifyKeywords = "classify_keywords"

	DefaultModel = "gpt-4o-mini"

	maxPageText = 4000
	maxKeywords = 20
)

type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

type Client struct {
	api   *openai.Client
	model string
	cache provider.Cache
	log   *zap.Logger
}

func NewClient(cfg Config, cache provider.Cache) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}

	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	oc.HTTPClient = &http.Client{Timeout: timeout}

	return &Client{
		api:   openai.NewClientWithConfig(oc),
		model: model,
		cache: cache,
		log:   logger.WithModule("llm"),
	}
}

// Page is the website content the extraction prompt is built from.
type Page struct {
	URL         string `json:"url"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Text        string `json:"text"`
}

type KeywordExtraction struct {
	Keywords       []string `json:"keywords"`
	Industry       string   `json:"industry"`
	BusinessType   string   `json:"business_type"`
	TargetAudience string   `json:"target_audience"`
	Summary        string   `json:"summary"`
}

func defaultExtraction() KeywordExtraction {
	return KeywordExtraction{
		Keywords:       []string{},
		Industry:       "general",
		BusinessType:   "unknown",
		TargetAudience: "general consumers",
		Summary:        "",
	}
}

type extractInput struct {
	Model string `json:"model"`
	Page  Page   `json:"page"`
}

const extractPrompt = `You are a search marketing analyst. Read the website content and respond with a JSON object:
{"keywords": [up to 20 short search keywords a buyer would type], "industry": string,
"business_type": string, "target_audience": string, "summary": one sentence}.
Respond with JSON only.`

// ExtractKeywords asks the model for advertising keywords describing page.
func (c *Client) ExtractKeywords(ctx context.Context, page Page) provider.Result[KeywordExtraction] {
	page.Text = truncate(page.Text, maxPageText)
	input := extractInput{Model: c.model, Page: page}

	return provider.Memoize(ctx, c.cache, c.log,
		provider.Call{Service: Service, Endpoint: EndpointExtractKeywords, Input: input},
		func(ctx context.Context) (KeywordExtraction, error) {
			user := fmt.Sprintf("URL: %s\nTitle: %s\nDescription: %s\n\n%s", page.URL, page.Title, page.Description, page.Text)
			var out KeywordExtraction
			if err := c.complete(ctx, extractPrompt, user, &out); err != nil {
				return KeywordExtraction{}, err
			}
			out.Keywords = cleanKeywords(out.Keywords, maxKeywords)
			return out, nil
		},
		defaultExtraction,
	)
}

type Intent string

const (
	IntentInformational Intent = "informational"
	IntentNavigational  Intent = "navigational"
	IntentCommercial    Intent = "commercial"
	IntentTransactional Intent = "transactional"
)

type ClassifiedKeyword struct {
	Keyword         string  `json:"keyword"`
	Intent          Intent  `json:"intent"`
	CommercialScore float64 `json:"commercial_score"`
}

type KeywordClassification struct {
	Items []ClassifiedKeyword `json:"items"`
}

// ByKeyword indexes the classification for lookups.
func (kc KeywordClassification) ByKeyword() map[string]ClassifiedKeyword {
	m := make(map[string]ClassifiedKeyword, len(kc.Items))
	for _, it := range kc.Items {
		m[it.Keyword] = it
	}
	return m
}

func defaultClassification(keywords []string) KeywordClassification {
	items := make([]ClassifiedKeyword, 0, len(keywords))
	for _, kw := range keywords {
		items = append(items, ClassifiedKeyword{Keyword: kw, Intent: IntentInformational, CommercialScore: 0.5})
	}
	return KeywordClassification{Items: items}
}

type classifyInput struct {
	Model    string   `json:"model"`
	Keywords []string `json:"keywords"`
}

const classifyPrompt = `Classify each search keyword by intent. Respond with a JSON object:
{"items": [{"keyword": string, "intent": "informational"|"navigational"|"commercial"|"transactional",
"commercial_score": number between 0 and 1}]}. Include every keyword exactly once. Respond with JSON only.`

// ClassifyKeywords labels each keyword with a search intent and a commercial score.
func (c *Client) ClassifyKeywords(ctx context.Context, keywords []string) provider.Result[KeywordClassification] {
	normalized := cleanKeywords(keywords, len(keywords))
	if len(normalized) == 0 {
		return provider.Live(KeywordClassification{Items: []ClassifiedKeyword{}})
	}
	input := classifyInput{Model: c.model, Keywords: normalized}

	return provider.Memoize(ctx, c.cache, c.log,
		provider.Call{Service: Service, Endpoint: EndpointClassifyKeywords, Input: input},
		func(ctx context.Context) (KeywordClassification, error) {
			user, err := json.Marshal(normalized)
			if err != nil {
				return KeywordClassification{}, err
			}
			var out KeywordClassification
			if err := c.complete(ctx, classifyPrompt, string(user), &out); err != nil {
				return KeywordClassification{}, err
			}
			return reconcile(normalized, out), nil
		},
		func() KeywordClassification { return defaultClassification(normalized) },
	)
}

func (c *Client) complete(ctx context.Context, system, user string, out any) error {
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 0.2,
	})
	if err != nil {
		return fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return errors.New("chat completion returned no choices")
	}

	content := stripFences(resp.Choices[0].Message.Content)
	if err := json.Unmarshal([]byte(content), out); err != nil {
		return fmt.Errorf("parse model output: %w", err)
	}
	return nil
}

// reconcile keeps exactly one item per requested keyword, in request order.
func reconcile(keywords []string, got KeywordClassification) KeywordClassification {
	byKeyword := make(map[string]ClassifiedKeyword, len(got.Items))
	for _, it := range got.Items {
		byKeyword[strings.ToLower(strings.TrimSpace(it.Keyword))] = it
	}

	items := make([]ClassifiedKeyword, 0, len(keywords))
	for _, kw := range keywords {
		it, ok := byKeyword[kw]
		if !ok {
			items = append(items, ClassifiedKeyword{Keyword: kw, Intent: IntentInformational, CommercialScore: 0.5})
			continue
		}
		items = append(items, ClassifiedKeyword{
			Keyword:         kw,
			Intent:          normalizeIntent(it.Intent),
			CommercialScore: max(0, min(1, it.CommercialScore)),
		})
	}
	return KeywordClassification{Items: items}
}

func normalizeIntent(in Intent) Intent {
	switch i := Intent(strings.ToLower(string(in))); i {
	case IntentInformational, IntentNavigational, IntentCommercial, IntentTransactional:
		return i
	}
	return IntentInformational
}

// cleanKeywords lowercases, collapses whitespace and drops blanks and
// duplicates, keeping first-seen order.
func cleanKeywords(keywords []string, limit int) []string {
	seen := make(map[string]struct{}, len(keywords))
	out := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		kw = strings.Join(strings.Fields(strings.ToLower(kw)), " ")
		if kw == "" {
			continue
		}
		if _, dup := seen[kw]; dup {
			continue
		}
		seen[kw] = struct{}{}
		out = append(out, kw)
		if len(out) == limit {
			break
		}
	}
	return out
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
