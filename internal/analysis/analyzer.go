package analysis

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/HanTheDev/adinsight-api/internal/dataforseo"
	"github.com/HanTheDev/adinsight-api/internal/llm"
	"github.com/HanTheDev/adinsight-api/internal/logger"
	"github.com/HanTheDev/adinsight-api/internal/provider"
	"github.com/HanTheDev/adinsight-api/internal/website"
)

type PageFetcher interface {
	Fetch(ctx context.Context, url string) (*website.Content, error)
}

type KeywordExtractor interface {
	ExtractKeywords(ctx context.Context, page llm.Page) provider.Result[llm.KeywordExtraction]
}

type KeywordClassifier interface {
	ClassifyKeywords(ctx context.Context, keywords []string) provider.Result[llm.KeywordClassification]
}

type MarketData interface {
	SearchVolume(ctx context.Context, keywords []string) provider.Result[[]dataforseo.KeywordData]
}

const maxAnalysisKeywords = 20

// WebsiteAnalysis is what the fetch and extract steps learn about a site.
type WebsiteAnalysis struct {
	Content          *website.Content      `json:"content"`
	Extraction       llm.KeywordExtraction `json:"extraction"`
	Keywords         []string              `json:"keywords"`
	ExtractionSource provider.Source       `json:"extraction_source"`
}

type WebsiteAnalyzer struct {
	fetcher   PageFetcher
	extractor KeywordExtractor
	log       *zap.Logger
}

func NewWebsiteAnalyzer(fetcher PageFetcher, extractor KeywordExtractor) *WebsiteAnalyzer {
	return &WebsiteAnalyzer{
		fetcher:   fetcher,
		extractor: extractor,
		log:       logger.WithModule("analysis"),
	}
}

// Analyze fetches target and extracts its advertising keywords.
func (a *WebsiteAnalyzer) Analyze(ctx context.Context, target string, progress ProgressFunc) (*WebsiteAnalysis, error) {
	out := &WebsiteAnalysis{}
	if err := RunSteps(ctx, rescale(a.steps(target, out)), progress); err != nil {
		return nil, err
	}
	return out, nil
}

func (a *WebsiteAnalyzer) steps(target string, out *WebsiteAnalysis) []Step {
	return []Step{
		{
			Name: "fetch", Start: 0, End: 20, Status: "Fetching website content",
			Run: func(ctx context.Context) error {
				content, err := a.fetcher.Fetch(ctx, target)
				if err != nil {
					return err
				}
				out.Content = content
				return nil
			},
		},
		{
			Name: "extract", Start: 20, End: 45, Status: "Extracting keywords",
			Run: func(ctx context.Context) error {
				c := out.Content
				res := a.extractor.ExtractKeywords(ctx, llm.Page{
					URL:         c.URL,
					Title:       c.Title,
					Description: c.Description,
					Text:        c.Text,
				})
				out.Extraction = res.Value
				out.ExtractionSource = res.Source
				out.Keywords = mergeKeywords(maxAnalysisKeywords, res.Value.Keywords, c.MetaKeywords, titleKeywords(c.Title))
				a.log.Debug("keywords extracted",
					zap.String("url", c.URL),
					zap.String("source", string(res.Source)),
					zap.Int("count", len(out.Keywords)))
				return nil
			},
		},
	}
}

// titleKeywords splits a page title on the usual separators, e.g.
// "Trail Shoes | Acme" becomes ["trail shoes", "acme"].
func titleKeywords(title string) []string {
	parts := strings.FieldsFunc(title, func(r rune) bool {
		switch r {
		case '|', '-', '–', '—', ':', '·', ',':
			return true
		}
		return false
	})
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if len(strings.Fields(p)) > 0 {
			out = append(out, p)
		}
	}
	return out
}

// mergeKeywords normalizes and de-duplicates across sources, in priority order.
// Later sources only contribute when earlier ones produced nothing.
func mergeKeywords(limit int, sources ...[]string) []string {
	seen := make(map[string]struct{})
	out := make([]string, 0, limit)
	for _, src := range sources {
		if len(out) > 0 {
			break
		}
		for _, kw := range src {
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
				return out
			}
		}
	}
	return out
}
