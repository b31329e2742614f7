package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/fleetcore-ai/compass/internal/util"
)

// ContextKey is the key type for context values
type ContextKey string

const (
	// UserContextKey is the context key for user information
	UserContextKey ContextKey = "user"
)

// Middleware provides HTTP authentication middleware
type Middleware struct {
	authService *Service
	jwtManager  *JWTManager
	skipAuth    bool // For development/testing
}

// NewMiddleware creates a new authentication middleware
func NewMiddleware(authService *Service, jwtManager *JWTManager, skipAuth bool) *Middleware {
	return &Middleware{
		authService: authService,
		jwtManager:  jwtManager,
		skipAuth:    skipAuth,
	}
}

// HTTPMiddleware authenticates requests via bearer JWT or API key
func (m *Middleware) HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.skipAuth {
			ctx := context.WithValue(r.Context(), UserContextKey, devUserContext())
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			if apiKey := r.Header.Get("X-API-Key"); apiKey != "" {
				userCtx, err := m.authService.ValidateAPIKey(r.Context(), apiKey)
				if err != nil {
					http.Error(w, `{"error":"invalid API key"}`, http.StatusUnauthorized)
					return
				}
				ctx := context.WithValue(r.Context(), UserContextKey, userCtx)
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			// Browser EventSource cannot set headers, so streaming endpoints
			// accept the key as a query parameter.
			if strings.Contains(r.URL.Path, "/stream/") {
				if qAPIKey := r.URL.Query().Get("api_key"); qAPIKey != "" {
					if strings.HasPrefix(qAPIKey, "ck-fleetcore-") {
						qAPIKey = "ck_" + strings.TrimPrefix(qAPIKey, "ck-fleetcore-")
					}
					userCtx, err := m.authService.ValidateAPIKey(r.Context(), qAPIKey)
					if err != nil {
						http.Error(w, `{"error":"invalid API key"}`, http.StatusUnauthorized)
						return
					}
					ctx := context.WithValue(r.Context(), UserContextKey, userCtx)
					next.ServeHTTP(w, r.WithContext(ctx))
					return
				}
			}

			http.Error(w, `{"error":"authentication required"}`, http.StatusUnauthorized)
			return
		}

		token, err := ExtractBearerToken(authHeader)
		if err != nil {
			http.Error(w, `{"error":"invalid authorization header"}`, http.StatusUnauthorized)
			return
		}

		userCtx, err := m.jwtManager.ValidateAccessToken(token)
		if err != nil {
			http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), UserContextKey, userCtx)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireScopes checks that the request's user has all required scopes
func RequireScopes(ctx context.Context, requiredScopes ...string) error {
	userCtx, ok := ctx.Value(UserContextKey).(*UserContext)
	if !ok {
		return errors.New("missing user context")
	}

	for _, required := range requiredScopes {
		if !util.ContainsString(userCtx.Scopes, required) {
			return fmt.Errorf("missing required scope: %s", required)
		}
	}

	return nil
}

// GetUserContext extracts the user context from a request context
func GetUserContext(ctx context.Context) (*UserContext, error) {
	userCtx, ok := ctx.Value(UserContextKey).(*UserContext)
	if !ok {
		return nil, errors.New("missing user context")
	}
	return userCtx, nil
}

// WithUserContext attaches a user context, used by tests and internal calls
func WithUserContext(ctx context.Context, userCtx *UserContext) context.Context {
	return context.WithValue(ctx, UserContextKey, userCtx)
}

func devUserContext() *UserContext {
	return &UserContext{
		UserID:   uuid.MustParse("00000000-0000-0000-0000-000000000002"),
		TenantID: uuid.MustParse("00000000-0000-0000-0000-000000000001"),
		Username: "dev",
		Email:    "dev@fleetcore.local",
		Role:     RoleOwner,
		Scopes:   []string{ScopeQueriesRead, ScopeQueriesWrite, ScopeResearchExecute},
	}
}
