package analysis

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/HanTheDev/adinsight-api/internal/dataforseo"
	"github.com/HanTheDev/adinsight-api/internal/llm"
	"github.com/HanTheDev/adinsight-api/internal/provider"
)

// clickThroughRate is the share of monthly searches assumed to reach the site
// from a paid placement.
const clickThroughRate = 0.03

type KeywordOpportunity struct {
	Keyword          string     `json:"keyword"`
	SearchVolume     int        `json:"search_volume"`
	CPC              float64    `json:"cpc"`
	Competition      float64    `json:"competition"`
	Intent           llm.Intent `json:"intent"`
	CommercialScore  float64    `json:"commercial_score"`
	EstimatedClicks  float64    `json:"estimated_clicks"`
	EstimatedCost    float64    `json:"estimated_cost"`
	EstimatedRevenue float64    `json:"estimated_revenue"`
	ROI              float64    `json:"roi"`
	Score            float64    `json:"score"`
}

type Report struct {
	URL                     string                     `json:"url"`
	Title                   string                     `json:"title"`
	Industry                string                     `json:"industry"`
	BusinessType            string                     `json:"business_type"`
	TargetAudience          string                     `json:"target_audience"`
	Summary                 string                     `json:"summary"`
	AverageOrderValue       float64                    `json:"average_order_value"`
	ConversionRate          float64                    `json:"conversion_rate"`
	Keywords                []KeywordOpportunity       `json:"keywords"`
	TotalSearchVolume       int                        `json:"total_search_volume"`
	AverageCPC              float64                    `json:"average_cpc"`
	AverageCompetition      float64                    `json:"average_competition"`
	EstimatedMonthlyClicks  float64                    `json:"estimated_monthly_clicks"`
	EstimatedMonthlyCost    float64                    `json:"estimated_monthly_cost"`
	EstimatedMonthlyRevenue float64                    `json:"estimated_monthly_revenue"`
	ROI                     float64                    `json:"roi"`
	ProfitabilityScore      int                        `json:"profitability_score"`
	Rating                  string                     `json:"rating"`
	Recommendations         []string                   `json:"recommendations"`
	Degraded                bool                       `json:"degraded"`
	Sources                 map[string]provider.Source `json:"sources"`
	GeneratedAt             time.Time                  `json:"generated_at"`
}

// synthesize turns market rows into a report. It is deterministic for a
// given input and fails when there is nothing to score.
func synthesize(
	req Request,
	site *WebsiteAnalysis,
	rows []dataforseo.KeywordData,
	classification llm.KeywordClassification,
	sources map[string]provider.Source,
	now time.Time,
) (*Report, error) {
	if len(site.Keywords) == 0 {
		return nil, ErrNoKeywords
	}
	if len(rows) == 0 {
		return nil, ErrNoMarketData
	}

	intents := classification.ByKeyword()
	r := &Report{
		URL:               site.Content.URL,
		Title:             site.Content.Title,
		Industry:          site.Extraction.Industry,
		BusinessType:      site.Extraction.BusinessType,
		TargetAudience:    site.Extraction.TargetAudience,
		Summary:           site.Extraction.Summary,
		AverageOrderValue: req.AverageOrderValue,
		ConversionRate:    req.ConversionRate,
		Keywords:          make([]KeywordOpportunity, 0, len(rows)),
		Sources:           sources,
		GeneratedAt:       now.UTC(),
	}

	var cpcSum, compSum, weightedScore float64
	for _, row := range rows {
		ko := opportunity(row, intents[row.Keyword], req)
		r.Keywords = append(r.Keywords, ko)

		r.TotalSearchVolume += row.SearchVolume
		r.EstimatedMonthlyClicks += ko.EstimatedClicks
		r.EstimatedMonthlyCost += ko.EstimatedCost
		r.EstimatedMonthlyRevenue += ko.EstimatedRevenue
		cpcSum += row.CPC
		compSum += row.Competition
		weightedScore += ko.Score * float64(max(row.SearchVolume, 1))
	}

	n := float64(len(rows))
	r.AverageCPC = round2(cpcSum / n)
	r.AverageCompetition = round2(compSum / n)
	r.EstimatedMonthlyClicks = round2(r.EstimatedMonthlyClicks)
	r.EstimatedMonthlyCost = round2(r.EstimatedMonthlyCost)
	r.EstimatedMonthlyRevenue = round2(r.EstimatedMonthlyRevenue)
	r.ROI = roi(r.EstimatedMonthlyRevenue, r.EstimatedMonthlyCost)

	totalWeight := 0.0
	for _, row := range rows {
		totalWeight += float64(max(row.SearchVolume, 1))
	}
	keywordScore := weightedScore / totalWeight
	roiScore := clamp((r.ROI+1)/3*100, 0, 100)
	r.ProfitabilityScore = int(math.Round(0.6*keywordScore + 0.4*roiScore))
	r.Rating = rating(r.ProfitabilityScore)

	for _, src := range sources {
		if src == provider.SourceFallback {
			r.Degraded = true
		}
	}
	sort.SliceStable(r.Keywords, func(i, j int) bool { return r.Keywords[i].Score > r.Keywords[j].Score })
	r.Recommendations = recommendations(r)

	return r, nil
}

func opportunity(row dataforseo.KeywordData, cls llm.ClassifiedKeyword, req Request) KeywordOpportunity {
	intent, commercial := cls.Intent, cls.CommercialScore
	if intent == "" {
		intent, commercial = llm.IntentInformational, 0.5
	}

	clicks := float64(row.SearchVolume) * clickThroughRate
	cost := clicks * row.CPC
	revenue := clicks * req.ConversionRate * req.AverageOrderValue

	// log-scaled volume: 100k monthly searches saturates the volume term
	volume := clamp(math.Log10(float64(row.SearchVolume)+1)/5, 0, 1)
	score := 100 * (0.4*volume + 0.3*(1-row.Competition) + 0.3*commercial)

	return KeywordOpportunity{
		Keyword:          row.Keyword,
		SearchVolume:     row.SearchVolume,
		CPC:              row.CPC,
		Competition:      row.Competition,
		Intent:           intent,
		CommercialScore:  commercial,
		EstimatedClicks:  round2(clicks),
		EstimatedCost:    round2(cost),
		EstimatedRevenue: round2(revenue),
		ROI:              roi(revenue, cost),
		Score:            round2(score),
	}
}

func roi(revenue, cost float64) float64 {
	if cost <= 0 {
		return 0
	}
	return round2((revenue - cost) / cost)
}

func rating(score int) string {
	switch {
	case score >= 70:
		return "high"
	case score >= 40:
		return "medium"
	default:
		return "low"
	}
}

func recommendations(r *Report) []string {
	out := []string{}
	if len(r.Keywords) > 0 {
		top := r.Keywords[0]
		out = append(out, fmt.Sprintf("Prioritize %q: score %.0f at $%.2f CPC", top.Keyword, top.Score, top.CPC))
	}
	if r.ROI < 0 {
		out = append(out, "Projected ad spend exceeds revenue; raise order value or conversion rate before scaling campaigns")
	}
	if r.AverageCompetition > 0.7 {
		out = append(out, "Competition is high; target long-tail variants to lower CPC")
	}
	var transactional int
	for _, k := range r.Keywords {
		if k.Intent == llm.IntentTransactional || k.Intent == llm.IntentCommercial {
			transactional++
		}
	}
	if transactional == 0 {
		out = append(out, "No buyer-intent keywords found; add product and pricing terms to the site")
	}
	if r.Degraded {
		out = append(out, "Some provider data was unavailable; estimates use fallback values")
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
