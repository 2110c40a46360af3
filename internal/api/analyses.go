package api

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/HanTheDev/adinsight-api/internal/analysis"
	"github.com/HanTheDev/adinsight-api/internal/httpx"
	"github.com/HanTheDev/adinsight-api/internal/models"
	"github.com/HanTheDev/adinsight-api/internal/website"
)

type analysisRequest struct {
	URL               string  `json:"url" validate:"required,max=2048"`
	AverageOrderValue float64 `json:"average_order_value" validate:"omitempty,gt=0"`
	ConversionRate    float64 `json:"conversion_rate" validate:"omitempty,gt=0,lte=1"`
}

func (h *Handler) CreateAnalysis(w http.ResponseWriter, r *http.Request) {
	var req analysisRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}

	tenant := tenantFrom(r.Context())
	job, err := h.Jobs.Submit(r.Context(), tenant.ID, analysis.Request{
		URL:               req.URL,
		AverageOrderValue: req.AverageOrderValue,
		ConversionRate:    req.ConversionRate,
	})
	if err != nil {
		if errors.Is(err, website.ErrInvalidURL) {
			httpx.WriteError(w, h.log, httpx.NewBadRequest(err.Error()))
			return
		}
		httpx.WriteError(w, h.log, httpx.Wrap(err, "Failed to start analysis"))
		return
	}

	w.Header().Set("Location", "/api/analyses/"+job.ID.String())
	httpx.WriteJSON(w, http.StatusAccepted, job)
}

func (h *Handler) GetAnalysis(w http.ResponseWriter, r *http.Request) {
	id, ok := h.jobID(w, r)
	if !ok {
		return
	}

	job, err := h.Jobs.Get(r.Context(), tenantFrom(r.Context()).ID, id)
	if err != nil {
		h.writeJobError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, job)
}

func (h *Handler) CancelAnalysis(w http.ResponseWriter, r *http.Request) {
	id, ok := h.jobID(w, r)
	if !ok {
		return
	}
	tenantID := tenantFrom(r.Context()).ID

	if err := h.Jobs.Cancel(r.Context(), tenantID, id); err != nil {
		h.writeJobError(w, err)
		return
	}
	job, err := h.Jobs.Get(r.Context(), tenantID, id)
	if err != nil {
		h.writeJobError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, job)
}

func (h *Handler) jobID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		httpx.WriteError(w, h.log, httpx.NewBadRequest("Invalid analysis ID"))
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) writeJobError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrNotFound):
		httpx.WriteError(w, h.log, httpx.ErrNotFound.WithMessage("Analysis not found"))
	case errors.Is(err, models.ErrJobFinished):
		httpx.WriteError(w, h.log, httpx.ErrConflict.WithMessage("Analysis already finished"))
	default:
		httpx.WriteError(w, h.log, httpx.Wrap(err, "Failed to load analysis"))
	}
}
