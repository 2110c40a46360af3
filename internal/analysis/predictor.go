package analysis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/HanTheDev/adinsight-api/internal/dataforseo"
	"github.com/HanTheDev/adinsight-api/internal/llm"
	"github.com/HanTheDev/adinsight-api/internal/logger"
	"github.com/HanTheDev/adinsight-api/internal/provider"
)

const (
	DefaultAverageOrderValue = 50.0
	DefaultConversionRate    = 0.02
)

var (
	ErrNoKeywords     = errors.New("no keywords found for website")
	ErrNoMarketData   = errors.New("no market data for keywords")
	ErrInvalidRequest = errors.New("invalid prediction request")
)

// Request describes one profitability prediction. Zero economics fall back
// to the package defaults.
type Request struct {
	URL               string  `json:"url"`
	AverageOrderValue float64 `json:"average_order_value,omitempty"`
	ConversionRate    float64 `json:"conversion_rate,omitempty"`
}

func (r Request) withDefaults() (Request, error) {
	if r.AverageOrderValue < 0 || r.ConversionRate < 0 || r.ConversionRate > 1 {
		return r, fmt.Errorf("%w: average_order_value must be >= 0 and conversion_rate in [0,1]", ErrInvalidRequest)
	}
	if r.AverageOrderValue == 0 {
		r.AverageOrderValue = DefaultAverageOrderValue
	}
	if r.ConversionRate == 0 {
		r.ConversionRate = DefaultConversionRate
	}
	return r, nil
}

type ProfitabilityPredictor struct {
	analyzer   *WebsiteAnalyzer
	classifier KeywordClassifier
	market     MarketData
	now        func() time.Time
	log        *zap.Logger
}

func NewProfitabilityPredictor(analyzer *WebsiteAnalyzer, classifier KeywordClassifier, market MarketData) *ProfitabilityPredictor {
	return &ProfitabilityPredictor{
		analyzer:   analyzer,
		classifier: classifier,
		market:     market,
		now:        time.Now,
		log:        logger.WithModule("analysis"),
	}
}

// PredictProfitability runs fetch, extract, market and synthesize in order.
// Any step error aborts the run; provider fallbacks only mark the report degraded.
func (p *ProfitabilityPredictor) PredictProfitability(ctx context.Context, req Request, progress ProgressFunc) (*Report, error) {
	req, err := req.withDefaults()
	if err != nil {
		return nil, err
	}

	var (
		site           WebsiteAnalysis
		rows           []dataforseo.KeywordData
		classification llm.KeywordClassification
		sources        = map[string]provider.Source{}
		report         *Report
	)

	steps := append(p.analyzer.steps(req.URL, &site),
		Step{
			Name: "market", Start: 45, End: 80, Status: "Fetching market data",
			Run: func(ctx context.Context) error {
				sources["extraction"] = site.ExtractionSource
				if len(site.Keywords) == 0 {
					return nil
				}
				vol := p.market.SearchVolume(ctx, site.Keywords)
				rows = vol.Value
				sources["market_data"] = vol.Source

				cls := p.classifier.ClassifyKeywords(ctx, site.Keywords)
				classification = cls.Value
				sources["classification"] = cls.Source
				return nil
			},
		},
		Step{
			Name: "synthesize", Start: 80, End: 100, Status: "Calculating profitability",
			Run: func(ctx context.Context) error {
				r, err := synthesize(req, &site, rows, classification, sources, p.now())
				if err != nil {
					return err
				}
				report = r
				return nil
			},
		},
	)

	if err := RunSteps(ctx, steps, progress); err != nil {
		p.log.Info("profitability prediction failed", zap.String("url", req.URL), zap.Error(err))
		return nil, err
	}
	return report, nil
}
