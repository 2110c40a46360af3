package api

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/HanTheDev/adinsight-api/internal/auth"
	"github.com/HanTheDev/adinsight-api/internal/httpx"
	"github.com/HanTheDev/adinsight-api/internal/models"
)

type tokenRequest struct {
	APIKey string `json:"api_key" validate:"required"`
}

type tokenResponse struct {
	Token     string `json:"token"`
	TokenType string `json:"token_type"`
	ExpiresIn int    `json:"expires_in"`
}

// IssueToken exchanges a tenant API key for a bearer token.
func (h *Handler) IssueToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}

	tenant, err := h.Tenants.GetTenantByAPIKey(r.Context(), req.APIKey)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			httpx.WriteError(w, h.log, httpx.ErrUnauthorized.WithMessage("Invalid API key"))
			return
		}
		httpx.WriteError(w, h.log, httpx.Wrap(err, "Failed to look up API key"))
		return
	}

	token, err := auth.GenerateToken(tenant.ID, h.JWTSecret, h.TokenTTL, h.now())
	if err != nil {
		httpx.WriteError(w, h.log, httpx.Wrap(err, "Failed to generate token"))
		return
	}

	h.log.Info("issued tenant token", zap.Int("tenant_id", tenant.ID))
	httpx.WriteJSON(w, http.StatusOK, tokenResponse{
		Token:     token,
		TokenType: "Bearer",
		ExpiresIn: int(h.TokenTTL.Seconds()),
	})
}
