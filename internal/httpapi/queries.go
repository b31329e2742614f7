package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/fleetcore-ai/compass/internal/auth"
	"github.com/fleetcore-ai/compass/internal/server"
)

// submitRequest is the query submission body.
type submitRequest struct {
	Query          string `json:"query"`
	SessionID      string `json:"session_id,omitempty"`
	EnableBrowsing *bool  `json:"enable_browsing,omitempty"`
	MaxIterations  int    `json:"max_iterations,omitempty"`
}

// handleSubmitQuery handles POST /api/v1/queries.
func (a *API) handleSubmitQuery(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userCtx, err := auth.GetUserContext(ctx)
	if err != nil {
		sendError(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if err := auth.RequireScopes(ctx, auth.ScopeResearchExecute); err != nil {
		sendError(w, "missing scope: "+auth.ScopeResearchExecute, http.StatusForbidden)
		return
	}

	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		sendError(w, "query is required", http.StatusBadRequest)
		return
	}
	if req.MaxIterations < 0 {
		sendError(w, "max_iterations must not be negative", http.StatusBadRequest)
		return
	}

	// Browsing is on unless the caller switched it off.
	browsing := true
	if req.EnableBrowsing != nil {
		browsing = *req.EnableBrowsing
	}

	result, err := a.queries.SubmitQuery(ctx, &server.QueryRequest{
		Query:          req.Query,
		SessionID:      req.SessionID,
		UserID:         userCtx.UserID.String(),
		TenantID:       userCtx.TenantID.String(),
		EnableBrowsing: browsing,
		MaxIterations:  req.MaxIterations,
	})
	if err != nil {
		if errors.Is(err, server.ErrPolicyDenied) {
			sendError(w, err.Error(), http.StatusForbidden)
			return
		}
		a.logger.Error("Query submission failed",
			zap.String("user_id", userCtx.UserID.String()),
			zap.Error(err))
		sendError(w, "failed to submit query", http.StatusInternalServerError)
		return
	}

	a.logger.Info("Query submitted",
		zap.String("workflow_id", result.WorkflowID),
		zap.String("session_id", result.SessionID),
		zap.String("mode", result.Mode),
		zap.String("user_id", userCtx.UserID.String()),
	)

	if result.WorkflowID != "" {
		w.Header().Set("X-Workflow-ID", result.WorkflowID)
	}
	w.Header().Set("X-Session-ID", result.SessionID)

	// Inline answers are complete; dispatched workflows are accepted.
	status := http.StatusOK
	if result.Status == server.StatusRunning {
		status = http.StatusAccepted
	}
	writeJSON(w, status, result)
}

// handleQueryStatus handles GET /api/v1/queries/{id}.
func (a *API) handleQueryStatus(w http.ResponseWriter, r *http.Request) {
	if _, err := auth.GetUserContext(r.Context()); err != nil {
		sendError(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	workflowID := r.PathValue("id")
	if workflowID == "" {
		sendError(w, "query id is required", http.StatusBadRequest)
		return
	}

	status, err := a.queries.QueryStatus(r.Context(), workflowID)
	if err != nil {
		if errors.Is(err, server.ErrQueryNotFound) {
			sendError(w, "query not found", http.StatusNotFound)
			return
		}
		a.logger.Error("Query status lookup failed",
			zap.String("workflow_id", workflowID),
			zap.Error(err))
		sendError(w, "failed to get query status", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// handleCancelQuery handles POST /api/v1/queries/{id}/cancel.
func (a *API) handleCancelQuery(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, err := auth.GetUserContext(ctx); err != nil {
		sendError(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if err := auth.RequireScopes(ctx, auth.ScopeQueriesWrite); err != nil {
		sendError(w, "missing scope: "+auth.ScopeQueriesWrite, http.StatusForbidden)
		return
	}
	workflowID := r.PathValue("id")

	if err := a.queries.CancelQuery(ctx, workflowID); err != nil {
		if errors.Is(err, server.ErrQueryNotFound) {
			sendError(w, "query not found", http.StatusNotFound)
			return
		}
		a.logger.Error("Query cancellation failed",
			zap.String("workflow_id", workflowID),
			zap.Error(err))
		sendError(w, "failed to cancel query", http.StatusInternalServerError)
		return
	}

	a.logger.Info("Query canceled", zap.String("workflow_id", workflowID))
	writeJSON(w, http.StatusAccepted, map[string]string{
		"workflow_id": workflowID,
		"status":      "canceling",
	})
}
