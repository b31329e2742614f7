package auth

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// Service handles authentication operations
type Service struct {
	db         *sqlx.DB
	logger     *zap.Logger
	jwtManager *JWTManager
}

// NewService creates a new authentication service. Zero expiries fall back
// to 30 minutes for access tokens and 7 days for refresh tokens.
func NewService(db *sqlx.DB, logger *zap.Logger, jwtSecret string, accessExpiry, refreshExpiry time.Duration) *Service {
	if accessExpiry <= 0 {
		accessExpiry = 30 * time.Minute
	}
	if refreshExpiry <= 0 {
		refreshExpiry = 7 * 24 * time.Hour
	}
	return &Service{
		db:         db,
		logger:     logger,
		jwtManager: NewJWTManager(jwtSecret, accessExpiry, refreshExpiry),
	}
}

// JWTManager exposes the token manager for middleware wiring
func (s *Service) JWTManager() *JWTManager {
	return s.jwtManager
}

// Register creates a new user account
func (s *Service) Register(ctx context.Context, req *RegisterRequest) (*User, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM auth.users WHERE email = $1)", req.Email)
	if err != nil {
		return nil, fmt.Errorf("failed to check email existence: %w", err)
	}
	if exists {
		return nil, fmt.Errorf("email already registered")
	}

	err = s.db.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM auth.users WHERE username = $1)", req.Username)
	if err != nil {
		return nil, fmt.Errorf("failed to check username existence: %w", err)
	}
	if exists {
		return nil, fmt.Errorf("username already taken")
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	var tenantID uuid.UUID
	if req.TenantID != "" {
		tenantID, err = uuid.Parse(req.TenantID)
		if err != nil {
			return nil, fmt.Errorf("invalid tenant ID: %w", err)
		}
	} else {
		tenantID, err = s.createTenant(ctx, req.Username)
		if err != nil {
			return nil, fmt.Errorf("failed to create tenant: %w", err)
		}
	}

	user := &User{
		ID:           uuid.New(),
		Email:        req.Email,
		Username:     req.Username,
		PasswordHash: string(hashedPassword),
		FullName:     req.FullName,
		TenantID:     tenantID,
		Role:         RoleUser,
		IsActive:     true,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}

	query := `
		INSERT INTO auth.users (id, email, username, password_hash, full_name, tenant_id, role, is_active)
		VALUES (:id, :email, :username, :password_hash, :full_name, :tenant_id, :role, :is_active)
	`
	if _, err = s.db.NamedExecContext(ctx, query, user); err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	s.logAuditEvent(ctx, AuditEventAccountCreated, user.ID, tenantID, nil)

	s.logger.Info("User registered",
		zap.String("user_id", user.ID.String()),
		zap.String("email", user.Email),
		zap.String("tenant_id", tenantID.String()))

	return user, nil
}

// Login authenticates a user and returns a token pair
func (s *Service) Login(ctx context.Context, req *LoginRequest) (*TokenPair, error) {
	var user User
	query := `SELECT * FROM auth.users WHERE email = $1 AND is_active = true`
	err := s.db.GetContext(ctx, &user, query, req.Email)
	if err != nil {
		if err == sql.ErrNoRows {
			s.logAuditEvent(ctx, AuditEventLoginFailed, uuid.Nil, uuid.Nil,
				map[string]interface{}{"email": req.Email})
			return nil, fmt.Errorf("invalid email or password")
		}
		return nil, fmt.Errorf("failed to find user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		s.logAuditEvent(ctx, AuditEventLoginFailed, user.ID, user.TenantID, nil)
		return nil, fmt.Errorf("invalid email or password")
	}

	tokens, refreshTokenHash, err := s.jwtManager.GenerateTokenPair(&user)
	if err != nil {
		return nil, fmt.Errorf("failed to generate tokens: %w", err)
	}

	if err := s.storeRefreshToken(ctx, &user, refreshTokenHash); err != nil {
		return nil, fmt.Errorf("failed to store refresh token: %w", err)
	}

	if _, err = s.db.ExecContext(ctx,
		"UPDATE auth.users SET last_login = NOW() WHERE id = $1", user.ID); err != nil {
		s.logger.Warn("Failed to update last login", zap.Error(err))
	}

	s.logAuditEvent(ctx, AuditEventLogin, user.ID, user.TenantID, nil)

	return tokens, nil
}

// Refresh exchanges a valid refresh token for a new token pair. The
// presented token is rotated: revoked on use, with a fresh one issued.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	tokenHash := hashToken(refreshToken)

	var stored RefreshToken
	query := `SELECT * FROM auth.refresh_tokens WHERE token_hash = $1 AND revoked = false`
	if err := s.db.GetContext(ctx, &stored, query, tokenHash); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("invalid refresh token")
		}
		return nil, fmt.Errorf("failed to look up refresh token: %w", err)
	}
	if stored.ExpiresAt.Before(time.Now()) {
		return nil, fmt.Errorf("refresh token expired")
	}

	user, err := s.GetUserByID(ctx, stored.UserID)
	if err != nil {
		return nil, err
	}

	tokens, newHash, err := s.jwtManager.GenerateTokenPair(user)
	if err != nil {
		return nil, fmt.Errorf("failed to generate tokens: %w", err)
	}

	if _, err := s.db.ExecContext(ctx,
		"UPDATE auth.refresh_tokens SET revoked = true, revoked_at = NOW() WHERE id = $1",
		stored.ID); err != nil {
		return nil, fmt.Errorf("failed to revoke refresh token: %w", err)
	}
	if err := s.storeRefreshToken(ctx, user, newHash); err != nil {
		return nil, fmt.Errorf("failed to store refresh token: %w", err)
	}

	s.logAuditEvent(ctx, AuditEventTokenRefresh, user.ID, user.TenantID, nil)

	return tokens, nil
}

// ValidateAPIKey validates an API key and returns the user context
func (s *Service) ValidateAPIKey(ctx context.Context, apiKey string) (*UserContext, error) {
	if len(apiKey) < 8 {
		return nil, fmt.Errorf("invalid API key format")
	}
	keyPrefix := apiKey[:8]
	keyHash := hashToken(apiKey)

	var keys []APIKey
	query := `
		SELECT * FROM auth.api_keys
		WHERE key_prefix = $1 AND is_active = true
	`
	if err := s.db.SelectContext(ctx, &keys, query, keyPrefix); err != nil {
		return nil, fmt.Errorf("failed to query API keys: %w", err)
	}

	var key *APIKey
	for i := range keys {
		if compareTokenHash(keys[i].KeyHash, keyHash) {
			key = &keys[i]
			break
		}
	}
	if key == nil {
		return nil, fmt.Errorf("invalid API key")
	}

	if key.ExpiresAt != nil && key.ExpiresAt.Before(time.Now()) {
		return nil, fmt.Errorf("API key expired")
	}

	// Last-used update is best effort and off the request path.
	keyID := key.ID
	go func() {
		if _, err := s.db.Exec(
			"UPDATE auth.api_keys SET last_used = NOW() WHERE id = $1", keyID); err != nil {
			s.logger.Warn("Failed to update API key last used", zap.Error(err))
		}
	}()

	user, err := s.GetUserByID(ctx, key.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to load API key user: %w", err)
	}

	return &UserContext{
		UserID:    user.ID,
		TenantID:  key.TenantID,
		Username:  user.Username,
		Email:     user.Email,
		Role:      user.Role,
		Scopes:    key.Scopes,
		IsAPIKey:  true,
		TokenType: "api_key",
		APIKeyID:  key.ID,
	}, nil
}

// CreateAPIKey creates a new API key for a user. The raw key is returned
// once and never stored.
func (s *Service) CreateAPIKey(ctx context.Context, userID uuid.UUID, req *CreateAPIKeyRequest) (string, *APIKey, error) {
	user, err := s.GetUserByID(ctx, userID)
	if err != nil {
		return "", nil, err
	}

	raw := make([]byte, 24)
	if _, err := rand.Read(raw); err != nil {
		return "", nil, fmt.Errorf("failed to generate key material: %w", err)
	}
	plaintext := "ck_" + hex.EncodeToString(raw)

	scopes := req.Scopes
	if len(scopes) == 0 {
		scopes = []string{ScopeQueriesRead, ScopeQueriesWrite, ScopeResearchExecute}
	}

	key := &APIKey{
		ID:        uuid.New(),
		KeyHash:   hashToken(plaintext),
		KeyPrefix: plaintext[:8],
		UserID:    user.ID,
		TenantID:  user.TenantID,
		Name:      req.Name,
		Scopes:    scopes,
		ExpiresAt: req.ExpiresAt,
		IsActive:  true,
		CreatedAt: time.Now(),
	}

	query := `
		INSERT INTO auth.api_keys (id, key_hash, key_prefix, user_id, tenant_id, name, scopes, expires_at, is_active)
		VALUES (:id, :key_hash, :key_prefix, :user_id, :tenant_id, :name, :scopes, :expires_at, :is_active)
	`
	if _, err := s.db.NamedExecContext(ctx, query, key); err != nil {
		return "", nil, fmt.Errorf("failed to store API key: %w", err)
	}

	s.logAuditEvent(ctx, AuditEventAPIKeyCreated, user.ID, user.TenantID,
		map[string]interface{}{"key_id": key.ID.String(), "name": key.Name})

	return plaintext, key, nil
}

// GetUserByID loads an active user by ID
func (s *Service) GetUserByID(ctx context.Context, userID uuid.UUID) (*User, error) {
	var user User
	err := s.db.GetContext(ctx, &user,
		"SELECT * FROM auth.users WHERE id = $1 AND is_active = true", userID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("user not found")
		}
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	return &user, nil
}

func (s *Service) createTenant(ctx context.Context, name string) (uuid.UUID, error) {
	tenantID := uuid.New()
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO auth.tenants (id, name, is_active) VALUES ($1, $2, true)",
		tenantID, name)
	if err != nil {
		return uuid.Nil, err
	}
	return tenantID, nil
}

func (s *Service) storeRefreshToken(ctx context.Context, user *User, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO auth.refresh_tokens (id, token_hash, user_id, tenant_id, expires_at)
		VALUES ($1, $2, $3, $4, $5)`,
		uuid.New(), tokenHash, user.ID, user.TenantID,
		time.Now().Add(s.jwtManager.refreshTokenExpiry))
	return err
}

// logAuditEvent records an auth audit event. Failures are logged, not
// propagated.
func (s *Service) logAuditEvent(ctx context.Context, event string, userID, tenantID uuid.UUID, details map[string]interface{}) {
	detailsJSON := JSONMap(details)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO auth.audit_log (id, event_type, user_id, tenant_id, details, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())`,
		uuid.New(), event, userID, tenantID, detailsJSON)
	if err != nil {
		s.logger.Warn("Failed to write audit event",
			zap.String("event", event),
			zap.Error(err))
	}
}
