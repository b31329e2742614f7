package auth

import (
	"context"
	"database/sql"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"golang.org/x/crypto/bcrypt"
)

const testSecret = "test-signing-key-at-least-32-chars!!"

var (
	testUserID   = uuid.MustParse("11111111-1111-1111-1111-111111111111")
	testTenantID = uuid.MustParse("22222222-2222-2222-2222-222222222222")
)

func newTestService(t *testing.T, logger *zap.Logger) (*Service, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	svc := NewService(sqlx.NewDb(db, "sqlmock"), logger, testSecret, 30*time.Minute, 24*time.Hour)
	return svc, mock
}

func userColumns() []string {
	return []string{
		"id", "email", "username", "password_hash", "full_name", "tenant_id",
		"role", "is_active", "created_at", "updated_at", "last_login", "metadata",
	}
}

func userRow(passwordHash string) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows(userColumns()).AddRow(
		testUserID, "analyst@fleetcore.ai", "analyst", passwordHash, "Fleet Analyst",
		testTenantID, RoleUser, true, now, now, nil, []byte("{}"),
	)
}

func TestLoginSuccess(t *testing.T) {
	svc, mock := newTestService(t, zaptest.NewLogger(t))

	hash, err := bcrypt.GenerateFromPassword([]byte("correct-horse-battery"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}

	mock.ExpectQuery("SELECT (.+) FROM auth.users WHERE email").
		WithArgs("analyst@fleetcore.ai").
		WillReturnRows(userRow(string(hash)))
	mock.ExpectExec("INSERT INTO auth.refresh_tokens").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("UPDATE auth.users SET last_login").
		WithArgs(testUserID).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO auth.audit_log").
		WillReturnResult(sqlmock.NewResult(1, 1))

	tokens, err := svc.Login(context.Background(), &LoginRequest{
		Email:    "analyst@fleetcore.ai",
		Password: "correct-horse-battery",
	})
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if tokens.AccessToken == "" || tokens.RefreshToken == "" {
		t.Fatal("token pair must carry both tokens")
	}

	userCtx, err := svc.JWTManager().ValidateAccessToken(tokens.AccessToken)
	if err != nil {
		t.Fatalf("issued access token does not validate: %v", err)
	}
	if userCtx.TenantID != testTenantID {
		t.Errorf("tenant = %v, want %v", userCtx.TenantID, testTenantID)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unfulfilled expectations: %v", err)
	}
}

func TestLoginWrongPassword(t *testing.T) {
	svc, mock := newTestService(t, zaptest.NewLogger(t))

	hash, _ := bcrypt.GenerateFromPassword([]byte("the-real-password"), bcrypt.MinCost)
	mock.ExpectQuery("SELECT (.+) FROM auth.users WHERE email").
		WillReturnRows(userRow(string(hash)))
	mock.ExpectExec("INSERT INTO auth.audit_log").
		WillReturnResult(sqlmock.NewResult(1, 1))

	_, err := svc.Login(context.Background(), &LoginRequest{
		Email:    "analyst@fleetcore.ai",
		Password: "a-guess",
	})
	if err == nil {
		t.Fatal("wrong password should fail")
	}
	if !strings.Contains(err.Error(), "invalid email or password") {
		t.Errorf("error should not reveal which part failed, got %v", err)
	}
}

func TestLoginUnknownEmail(t *testing.T) {
	svc, mock := newTestService(t, zaptest.NewLogger(t))

	mock.ExpectQuery("SELECT (.+) FROM auth.users WHERE email").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec("INSERT INTO auth.audit_log").
		WillReturnResult(sqlmock.NewResult(1, 1))

	_, err := svc.Login(context.Background(), &LoginRequest{
		Email:    "nobody@fleetcore.ai",
		Password: "whatever",
	})
	if err == nil || !strings.Contains(err.Error(), "invalid email or password") {
		t.Errorf("unknown email should return the generic error, got %v", err)
	}
}

func TestRefreshRotatesToken(t *testing.T) {
	svc, mock := newTestService(t, zaptest.NewLogger(t))

	refreshToken := "opaque-refresh-token"
	tokenID := uuid.New()
	refreshColumns := []string{
		"id", "token_hash", "user_id", "tenant_id", "expires_at", "revoked", "revoked_at", "created_at",
	}

	mock.ExpectQuery("SELECT (.+) FROM auth.refresh_tokens").
		WithArgs(hashToken(refreshToken)).
		WillReturnRows(sqlmock.NewRows(refreshColumns).AddRow(
			tokenID, hashToken(refreshToken), testUserID, testTenantID,
			time.Now().Add(time.Hour), false, nil, time.Now(),
		))
	mock.ExpectQuery("SELECT (.+) FROM auth.users WHERE id").
		WithArgs(testUserID).
		WillReturnRows(userRow("unused"))
	mock.ExpectExec("UPDATE auth.refresh_tokens SET revoked").
		WithArgs(tokenID).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO auth.refresh_tokens").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO auth.audit_log").
		WillReturnResult(sqlmock.NewResult(1, 1))

	tokens, err := svc.Refresh(context.Background(), refreshToken)
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if tokens.RefreshToken == refreshToken {
		t.Error("refresh must rotate the token, not reissue it")
	}
	if _, err := svc.JWTManager().ValidateAccessToken(tokens.AccessToken); err != nil {
		t.Errorf("new access token does not validate: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unfulfilled expectations: %v", err)
	}
}

func TestRefreshRejectsExpired(t *testing.T) {
	svc, mock := newTestService(t, zaptest.NewLogger(t))

	refreshToken := "stale-refresh-token"
	refreshColumns := []string{
		"id", "token_hash", "user_id", "tenant_id", "expires_at", "revoked", "revoked_at", "created_at",
	}
	mock.ExpectQuery("SELECT (.+) FROM auth.refresh_tokens").
		WillReturnRows(sqlmock.NewRows(refreshColumns).AddRow(
			uuid.New(), hashToken(refreshToken), testUserID, testTenantID,
			time.Now().Add(-time.Hour), false, nil, time.Now().Add(-48*time.Hour),
		))

	if _, err := svc.Refresh(context.Background(), refreshToken); err == nil {
		t.Error("expired refresh token should be rejected")
	}
}

func TestRefreshRejectsUnknown(t *testing.T) {
	svc, mock := newTestService(t, zaptest.NewLogger(t))

	mock.ExpectQuery("SELECT (.+) FROM auth.refresh_tokens").
		WillReturnError(sql.ErrNoRows)

	if _, err := svc.Refresh(context.Background(), "never-issued"); err == nil {
		t.Error("unknown refresh token should be rejected")
	}
}

func TestCreateAPIKey(t *testing.T) {
	svc, mock := newTestService(t, zaptest.NewLogger(t))

	mock.ExpectQuery("SELECT (.+) FROM auth.users WHERE id").
		WithArgs(testUserID).
		WillReturnRows(userRow("unused"))
	mock.ExpectExec("INSERT INTO auth.api_keys").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO auth.audit_log").
		WillReturnResult(sqlmock.NewResult(1, 1))

	plaintext, key, err := svc.CreateAPIKey(context.Background(), testUserID, &CreateAPIKeyRequest{
		Name: "ops-dashboard",
	})
	if err != nil {
		t.Fatalf("CreateAPIKey failed: %v", err)
	}
	if !strings.HasPrefix(plaintext, "ck_") {
		t.Errorf("key = %q, want ck_ prefix", plaintext)
	}
	if key.KeyPrefix != plaintext[:8] {
		t.Errorf("stored prefix = %q, want %q", key.KeyPrefix, plaintext[:8])
	}
	if key.KeyHash != hashToken(plaintext) {
		t.Error("stored hash does not match the plaintext key")
	}
	if len(key.Scopes) == 0 {
		t.Error("default scopes should be applied when none requested")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unfulfilled expectations: %v", err)
	}
}

func TestValidateAPIKey(t *testing.T) {
	// zap.NewNop here: the best-effort last-used update runs in a goroutine
	// that may outlive the test, and zaptest panics on late logs.
	svc, mock := newTestService(t, zap.NewNop())

	apiKey := "ck_0123456789abcdef0123456789abcdef0123456789abcdef"
	keyColumns := []string{
		"id", "key_hash", "key_prefix", "user_id", "tenant_id", "name",
		"scopes", "last_used", "expires_at", "is_active", "created_at",
	}
	keyID := uuid.New()

	mock.ExpectQuery("SELECT (.+) FROM auth.api_keys").
		WithArgs(apiKey[:8]).
		WillReturnRows(sqlmock.NewRows(keyColumns).AddRow(
			keyID, hashToken(apiKey), apiKey[:8], testUserID, testTenantID,
			"ops-dashboard", []byte("{queries:read,research:execute}"), nil, nil, true, time.Now(),
		))
	mock.ExpectQuery("SELECT (.+) FROM auth.users WHERE id").
		WithArgs(testUserID).
		WillReturnRows(userRow("unused"))

	userCtx, err := svc.ValidateAPIKey(context.Background(), apiKey)
	if err != nil {
		t.Fatalf("ValidateAPIKey failed: %v", err)
	}
	if !userCtx.IsAPIKey || userCtx.TokenType != "api_key" {
		t.Errorf("context should identify as api_key, got %+v", userCtx)
	}
	if userCtx.APIKeyID != keyID {
		t.Errorf("api key ID = %v, want %v", userCtx.APIKeyID, keyID)
	}
	if len(userCtx.Scopes) != 2 {
		t.Errorf("scopes = %v, want the key's two scopes", userCtx.Scopes)
	}
}

func TestValidateAPIKeyRejectsExpired(t *testing.T) {
	svc, mock := newTestService(t, zaptest.NewLogger(t))

	apiKey := "ck_feedfacefeedfacefeedfacefeedfacefeedfacefeedface"
	keyColumns := []string{
		"id", "key_hash", "key_prefix", "user_id", "tenant_id", "name",
		"scopes", "last_used", "expires_at", "is_active", "created_at",
	}
	expired := time.Now().Add(-time.Hour)

	mock.ExpectQuery("SELECT (.+) FROM auth.api_keys").
		WillReturnRows(sqlmock.NewRows(keyColumns).AddRow(
			uuid.New(), hashToken(apiKey), apiKey[:8], testUserID, testTenantID,
			"stale", []byte("{queries:read}"), nil, expired, true, time.Now(),
		))

	if _, err := svc.ValidateAPIKey(context.Background(), apiKey); err == nil {
		t.Error("expired API key should be rejected")
	}
}

func TestValidateAPIKeyRejectsUnknown(t *testing.T) {
	svc, mock := newTestService(t, zaptest.NewLogger(t))

	keyColumns := []string{
		"id", "key_hash", "key_prefix", "user_id", "tenant_id", "name",
		"scopes", "last_used", "expires_at", "is_active", "created_at",
	}
	mock.ExpectQuery("SELECT (.+) FROM auth.api_keys").
		WillReturnRows(sqlmock.NewRows(keyColumns))

	if _, err := svc.ValidateAPIKey(context.Background(), "ck_never_issued_key_material_here"); err == nil {
		t.Error("unknown API key should be rejected")
	}
	if _, err := svc.ValidateAPIKey(context.Background(), "short"); err == nil {
		t.Error("malformed API key should be rejected")
	}
}

func TestRegisterCreatesUserAndTenant(t *testing.T) {
	svc, mock := newTestService(t, zaptest.NewLogger(t))

	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("new@fleetcore.ai").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("newbie").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectExec("INSERT INTO auth.tenants").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO auth.users").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO auth.audit_log").
		WillReturnResult(sqlmock.NewResult(1, 1))

	user, err := svc.Register(context.Background(), &RegisterRequest{
		Email:    "new@fleetcore.ai",
		Username: "newbie",
		Password: "a-long-enough-password",
		FullName: "New Analyst",
	})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if user.Role != RoleUser {
		t.Errorf("role = %q, want user", user.Role)
	}
	if user.TenantID == uuid.Nil {
		t.Error("a fresh tenant should have been created")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte("a-long-enough-password")); err != nil {
		t.Error("stored hash does not match the password")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unfulfilled expectations: %v", err)
	}
}

func TestRegisterRejectsDuplicateEmail(t *testing.T) {
	svc, mock := newTestService(t, zaptest.NewLogger(t))

	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("taken@fleetcore.ai").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	_, err := svc.Register(context.Background(), &RegisterRequest{
		Email:    "taken@fleetcore.ai",
		Username: "whoever",
		Password: "a-long-enough-password",
		FullName: "Whoever",
	})
	if err == nil || !strings.Contains(err.Error(), "already registered") {
		t.Errorf("duplicate email should be rejected, got %v", err)
	}
}
