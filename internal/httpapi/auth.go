package httpapi

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/fleetcore-ai/compass/internal/auth"
	"github.com/fleetcore-ai/compass/internal/util"
)

// handleRegister creates a user account.
//
//	POST /api/v1/auth/register
func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req auth.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	if req.Email == "" || req.Username == "" || req.Password == "" {
		sendError(w, "missing required fields", http.StatusBadRequest)
		return
	}

	user, err := a.authSvc.Register(r.Context(), &req)
	if err != nil {
		a.logger.Warn("Register failed", zap.Error(err))
		sendError(w, sanitizeErr(err.Error()), http.StatusBadRequest)
		return
	}

	// Respond with a safe user view
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"user": map[string]interface{}{
			"id":        user.ID,
			"email":     user.Email,
			"username":  user.Username,
			"tenant_id": user.TenantID,
			"role":      user.Role,
		},
	})
}

// handleLogin exchanges credentials for a token pair.
//
//	POST /api/v1/auth/login
func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req auth.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	if req.Email == "" || req.Password == "" {
		sendError(w, "missing email or password", http.StatusBadRequest)
		return
	}

	tokens, err := a.authSvc.Login(r.Context(), &req)
	if err != nil {
		a.logger.Warn("Login failed", zap.Error(err))
		sendError(w, "invalid email or password", http.StatusUnauthorized)
		return
	}

	writeJSON(w, http.StatusOK, tokens)
}

// handleRefresh rotates a refresh token into a new token pair.
//
//	POST /api/v1/auth/refresh
func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	if req.RefreshToken == "" {
		sendError(w, "missing refresh_token", http.StatusBadRequest)
		return
	}

	tokens, err := a.authSvc.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		a.logger.Warn("Token refresh failed", zap.Error(err))
		sendError(w, "invalid or expired refresh token", http.StatusUnauthorized)
		return
	}

	writeJSON(w, http.StatusOK, tokens)
}

// sanitizeErr trims error messages for safe client output.
func sanitizeErr(s string) string {
	return util.TruncateString(s, 200, false)
}
