// Package httpapi serves the compass REST surface: query submission and
// status, research progress streaming over SSE and WebSocket, and the
// authentication endpoints. Handlers stay thin; the decision pipeline
// lives behind the QueryService interface.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/fleetcore-ai/compass/internal/auth"
	"github.com/fleetcore-ai/compass/internal/server"
	"github.com/fleetcore-ai/compass/internal/streaming"
)

// QueryService is the pipeline surface the API dispatches into.
type QueryService interface {
	SubmitQuery(ctx context.Context, req *server.QueryRequest) (*server.QueryResult, error)
	QueryStatus(ctx context.Context, workflowID string) (*server.QueryStatus, error)
	CancelQuery(ctx context.Context, workflowID string) error
}

// API bundles the HTTP handlers and their dependencies.
type API struct {
	queries QueryService
	stream  *streaming.Manager
	authSvc *auth.Service
	authMW  *auth.Middleware
	limiter *RateLimiter
	logger  *zap.Logger
}

// NewAPI wires the handler set. authMW and limiter may be nil, which
// disables authentication and rate limiting respectively; authSvc may be
// nil when the auth endpoints are not served.
func NewAPI(queries QueryService, stream *streaming.Manager, authSvc *auth.Service, authMW *auth.Middleware, limiter *RateLimiter, logger *zap.Logger) *API {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &API{
		queries: queries,
		stream:  stream,
		authSvc: authSvc,
		authMW:  authMW,
		limiter: limiter,
		logger:  logger,
	}
}

// Routes builds the full handler tree with auth and rate limiting applied
// to the query and streaming endpoints.
func (a *API) Routes() http.Handler {
	mux := http.NewServeMux()

	protected := func(h http.HandlerFunc) http.Handler {
		var handler http.Handler = h
		if a.limiter != nil {
			handler = a.limiter.Middleware(handler)
		}
		if a.authMW != nil {
			handler = a.authMW.HTTPMiddleware(handler)
		}
		return handler
	}

	mux.Handle("POST /api/v1/queries", protected(a.handleSubmitQuery))
	mux.Handle("GET /api/v1/queries/{id}", protected(a.handleQueryStatus))
	mux.Handle("POST /api/v1/queries/{id}/cancel", protected(a.handleCancelQuery))

	// Streaming endpoints skip the rate limiter: a held-open SSE socket is
	// one request, and replays are served from memory.
	streamChain := func(h http.HandlerFunc) http.Handler {
		var handler http.Handler = h
		if a.authMW != nil {
			handler = a.authMW.HTTPMiddleware(handler)
		}
		return handler
	}
	mux.Handle("GET /api/v1/stream/sse", streamChain(a.handleSSE))
	mux.Handle("GET /api/v1/stream/ws", streamChain(a.handleWS))

	if a.authSvc != nil {
		mux.HandleFunc("POST /api/v1/auth/login", a.handleLogin)
		mux.HandleFunc("POST /api/v1/auth/register", a.handleRegister)
		mux.HandleFunc("POST /api/v1/auth/refresh", a.handleRefresh)
	}

	return withCORS(mux)
}

// withCORS applies dev-friendly CORS headers and answers preflights.
// Production deployments sit behind the platform proxy which overrides
// these.
func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		if strings.HasPrefix(r.URL.Path, "/api/v1/stream/") {
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		} else {
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		}
		w.Header().Set("Access-Control-Allow-Headers",
			"Content-Type, Authorization, X-API-Key, Cache-Control, Last-Event-ID")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// writeJSON writes a JSON response with status and content-type.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// sendError writes a JSON error body.
func sendError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
