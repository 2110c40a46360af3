package dataforseo

import (
	"encoding/json"
	"math"
	"strings"
)

type MonthlySearch struct {
	Year         int `json:"year"`
	Month        int `json:"month"`
	SearchVolume int `json:"search_volume"`
}

// KeywordData is the normalized market data for one keyword. Competition is in [0,1].
type KeywordData struct {
	Keyword         string          `json:"keyword"`
	SearchVolume    int             `json:"search_volume"`
	CPC             float64         `json:"cpc"`
	Competition     float64         `json:"competition"`
	MonthlySearches []MonthlySearch `json:"monthly_searches"`
}

// envelope is the v3 response wrapper; data lives in tasks[0].result.
type envelope struct {
	StatusCode    int    `json:"status_code"`
	StatusMessage string `json:"status_message"`
	Tasks         []struct {
		StatusCode    int           `json:"status_code"`
		StatusMessage string        `json:"status_message"`
		Result        []keywordItem `json:"result"`
	} `json:"tasks"`
}

type keywordItem struct {
	Keyword          string          `json:"keyword"`
	SearchVolume     *int            `json:"search_volume"`
	CPC              *float64        `json:"cpc"`
	Competition      json.RawMessage `json:"competition"`
	CompetitionIndex *float64        `json:"competition_index"`
	MonthlySearches  []struct {
		Year         int  `json:"year"`
		Month        int  `json:"month"`
		SearchVolume *int `json:"search_volume"`
	} `json:"monthly_searches"`
}

func (it keywordItem) normalize() KeywordData {
	kd := KeywordData{
		Keyword:         it.Keyword,
		Competition:     it.competition(),
		MonthlySearches: make([]MonthlySearch, 0, len(it.MonthlySearches)),
	}
	if it.SearchVolume != nil {
		kd.SearchVolume = *it.SearchVolume
	}
	if it.CPC != nil {
		kd.CPC = *it.CPC
	}
	for _, m := range it.MonthlySearches {
		ms := MonthlySearch{Year: m.Year, Month: m.Month}
		if m.SearchVolume != nil {
			ms.SearchVolume = *m.SearchVolume
		}
		kd.MonthlySearches = append(kd.MonthlySearches, ms)
	}
	return kd
}

// competition prefers the 0-100 index, then a numeric or LOW/MEDIUM/HIGH value.
func (it keywordItem) competition() float64 {
	if it.CompetitionIndex != nil {
		return clamp01(*it.CompetitionIndex / 100)
	}
	if len(it.Competition) == 0 {
		return 0
	}

	var n float64
	if err := json.Unmarshal(it.Competition, &n); err == nil {
		return clamp01(n)
	}
	var level string
	if err := json.Unmarshal(it.Competition, &level); err == nil {
		switch strings.ToUpper(level) {
		case "LOW":
			return 0.33
		case "MEDIUM":
			return 0.66
		case "HIGH":
			return 1
		}
	}
	return 0
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
