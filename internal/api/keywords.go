package api

import (
	"net/http"

	"github.com/HanTheDev/adinsight-api/internal/dataforseo"
	"github.com/HanTheDev/adinsight-api/internal/httpx"
	"github.com/HanTheDev/adinsight-api/internal/provider"
)

// providerResponse tags data with where it came from so clients can tell
// degraded fallbacks from real provider data.
type providerResponse struct {
	Source   provider.Source `json:"source"`
	Degraded bool            `json:"degraded"`
	Data     any             `json:"data"`
}

func respond[T any](w http.ResponseWriter, res provider.Result[T]) {
	httpx.WriteJSON(w, http.StatusOK, providerResponse{
		Source:   res.Source,
		Degraded: res.Degraded(),
		Data:     res.Value,
	})
}

type keywordsRequest struct {
	Keywords []string `json:"keywords" validate:"required,min=1,max=1000,dive,required,max=80"`
}

func (h *Handler) SearchVolume(w http.ResponseWriter, r *http.Request) {
	var req keywordsRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	respond(w, h.Keywords.SearchVolume(r.Context(), req.Keywords))
}

type suggestionsRequest struct {
	Seed  string `json:"seed" validate:"required,max=80"`
	Limit int    `json:"limit" validate:"omitempty,min=1,max=100"`
}

func (h *Handler) Suggestions(w http.ResponseWriter, r *http.Request) {
	var req suggestionsRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	respond(w, h.Keywords.KeywordSuggestions(r.Context(), req.Seed, req.Limit))
}

type siteRequest struct {
	Domain string `json:"domain" validate:"required,max=2048"`
}

func (h *Handler) KeywordsForSite(w http.ResponseWriter, r *http.Request) {
	var req siteRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	if dataforseo.NormalizeDomain(req.Domain) == "" {
		httpx.WriteError(w, h.log, httpx.NewBadRequest("domain is empty"))
		return
	}
	respond(w, h.Keywords.KeywordsForSite(r.Context(), req.Domain))
}

type classifyRequest struct {
	Keywords []string `json:"keywords" validate:"required,min=1,max=200,dive,required,max=80"`
}

func (h *Handler) Classify(w http.ResponseWriter, r *http.Request) {
	var req classifyRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	respond(w, h.Classifier.ClassifyKeywords(r.Context(), req.Keywords))
}
