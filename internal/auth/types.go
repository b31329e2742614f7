package auth

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// JSONMap handles JSON database columns
type JSONMap map[string]interface{}

// Scan implements sql.Scanner interface
func (j *JSONMap) Scan(value interface{}) error {
	if value == nil {
		*j = make(map[string]interface{})
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}
	return json.Unmarshal(bytes, j)
}

// Value implements driver.Valuer interface
func (j JSONMap) Value() (driver.Value, error) {
	if j == nil {
		return "{}", nil
	}
	return json.Marshal(j)
}

// User represents an authenticated fleetcore user
type User struct {
	ID           uuid.UUID  `json:"id" db:"id"`
	Email        string     `json:"email" db:"email"`
	Username     string     `json:"username" db:"username"`
	PasswordHash string     `json:"-" db:"password_hash"`
	FullName     string     `json:"full_name" db:"full_name"`
	TenantID     uuid.UUID  `json:"tenant_id" db:"tenant_id"`
	Role         string     `json:"role" db:"role"` // user, admin, owner
	IsActive     bool       `json:"is_active" db:"is_active"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at" db:"updated_at"`
	LastLogin    *time.Time `json:"last_login,omitempty" db:"last_login"`
	Metadata     JSONMap    `json:"metadata,omitempty" db:"metadata"`
}

// APIKey represents an API key for programmatic access
type APIKey struct {
	ID        uuid.UUID      `json:"id" db:"id"`
	KeyHash   string         `json:"-" db:"key_hash"`
	KeyPrefix string         `json:"key_prefix" db:"key_prefix"`
	UserID    uuid.UUID      `json:"user_id" db:"user_id"`
	TenantID  uuid.UUID      `json:"tenant_id" db:"tenant_id"`
	Name      string         `json:"name" db:"name"`
	Scopes    pq.StringArray `json:"scopes" db:"scopes"`
	LastUsed  *time.Time     `json:"last_used,omitempty" db:"last_used"`
	ExpiresAt *time.Time     `json:"expires_at,omitempty" db:"expires_at"`
	IsActive  bool           `json:"is_active" db:"is_active"`
	CreatedAt time.Time      `json:"created_at" db:"created_at"`
}

// RefreshToken represents a stored JWT refresh token
type RefreshToken struct {
	ID        uuid.UUID  `json:"id" db:"id"`
	TokenHash string     `json:"-" db:"token_hash"`
	UserID    uuid.UUID  `json:"user_id" db:"user_id"`
	TenantID  uuid.UUID  `json:"tenant_id" db:"tenant_id"`
	ExpiresAt time.Time  `json:"expires_at" db:"expires_at"`
	Revoked   bool       `json:"revoked" db:"revoked"`
	RevokedAt *time.Time `json:"revoked_at,omitempty" db:"revoked_at"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
}

// UserContext represents the authenticated context for a request
type UserContext struct {
	UserID    uuid.UUID `json:"user_id"`
	TenantID  uuid.UUID `json:"tenant_id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	Scopes    []string  `json:"scopes"`
	IsAPIKey  bool      `json:"is_api_key"`
	TokenType string    `json:"token_type"` // jwt or api_key

	APIKeyID uuid.UUID `json:"api_key_id,omitempty"`
}

// TokenPair represents access and refresh tokens
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"` // seconds
}

// LoginRequest represents a login request
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
}

// RegisterRequest represents a registration request
type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Username string `json:"username" validate:"required,min=3,max=50"`
	Password string `json:"password" validate:"required,min=8"`
	FullName string `json:"full_name" validate:"required"`
	TenantID string `json:"tenant_id,omitempty"`
}

// CreateAPIKeyRequest represents a request to create an API key
type CreateAPIKeyRequest struct {
	Name      string     `json:"name" validate:"required"`
	Scopes    []string   `json:"scopes"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// Audit event types
const (
	AuditEventLogin          = "login"
	AuditEventLoginFailed    = "login_failed"
	AuditEventTokenRefresh   = "token_refresh"
	AuditEventAPIKeyCreated  = "api_key_created"
	AuditEventAPIKeyUsed     = "api_key_used"
	AuditEventAccountCreated = "account_created"
)

// Scopes for authorization
const (
	ScopeQueriesRead     = "queries:read"
	ScopeQueriesWrite    = "queries:write"
	ScopeResearchExecute = "research:execute"
	ScopeSessionsRead    = "sessions:read"
	ScopeSessionsWrite   = "sessions:write"
	ScopeAPIKeysManage   = "api_keys:manage"
	ScopeUsersManage     = "users:manage"
)

// User roles
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
	RoleOwner = "owner"
)
