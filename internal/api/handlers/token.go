package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/matiasleandrokruk/nerve/internal/domain/orch"
	pkgauth "github.com/matiasleandrokruk/nerve/pkg/auth"
)

// TokenHandler exchanges the shared API key for a short-lived bearer token.
type TokenHandler struct {
	issuer     *pkgauth.Issuer
	apiKeyHash string
}

func NewTokenHandler(issuer *pkgauth.Issuer, apiKeyHash string) *TokenHandler {
	return &TokenHandler{issuer: issuer, apiKeyHash: apiKeyHash}
}

type TokenRequest struct {
	APIKey  string `json:"api_key"`
	Subject string `json:"subject,omitempty"`
	Scope   string `json:"scope,omitempty"`
}

type TokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

const defaultSubject = "nrv"

// Issue handles POST /auth/token.
//
// Response codes:
//   - 200 OK: token issued
//   - 400 Bad Request: invalid JSON or missing api_key
//   - 401 Unauthorized: api_key does not match
func (h *TokenHandler) Issue(w http.ResponseWriter, r *http.Request) {
	var req TokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, orch.CodeBadRequest, "invalid request body")
		return
	}
	if req.APIKey == "" {
		writeError(w, http.StatusBadRequest, orch.CodeBadRequest, "api_key is required")
		return
	}
	if !pkgauth.VerifyAPIKey(h.apiKeyHash, req.APIKey) {
		writeError(w, http.StatusUnauthorized, orch.CodeUnauthorized, "invalid api key")
		return
	}

	subject := strings.TrimSpace(req.Subject)
	if subject == "" {
		subject = defaultSubject
	}
	token, exp, err := h.issuer.Issue(subject, req.Scope)
	if err != nil {
		writeError(w, http.StatusInternalServerError, orch.CodeInternal, "token issue failed")
		return
	}
	writeJSON(w, http.StatusOK, TokenResponse{Token: token, ExpiresAt: exp})
}
