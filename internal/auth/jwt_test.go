package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

func testUser() *User {
	return &User{
		ID:       uuid.MustParse("11111111-1111-1111-1111-111111111111"),
		Email:    "analyst@fleetcore.ai",
		Username: "analyst",
		TenantID: uuid.MustParse("22222222-2222-2222-2222-222222222222"),
		Role:     RoleUser,
		IsActive: true,
	}
}

func TestTokenPairRoundTrip(t *testing.T) {
	manager := NewJWTManager("test-signing-key-at-least-32-chars!!", 30*time.Minute, 24*time.Hour)
	user := testUser()

	pair, refreshHash, err := manager.GenerateTokenPair(user)
	if err != nil {
		t.Fatalf("GenerateTokenPair failed: %v", err)
	}
	if pair.TokenType != "Bearer" {
		t.Errorf("token type = %q, want Bearer", pair.TokenType)
	}
	if pair.ExpiresIn != int((30 * time.Minute).Seconds()) {
		t.Errorf("expires_in = %d, want 1800", pair.ExpiresIn)
	}
	if pair.RefreshToken == "" || refreshHash == "" {
		t.Fatal("refresh token and hash must be non-empty")
	}
	if hashToken(pair.RefreshToken) != refreshHash {
		t.Error("returned hash does not match the refresh token")
	}

	userCtx, err := manager.ValidateAccessToken(pair.AccessToken)
	if err != nil {
		t.Fatalf("ValidateAccessToken failed: %v", err)
	}
	if userCtx.UserID != user.ID {
		t.Errorf("user ID = %v, want %v", userCtx.UserID, user.ID)
	}
	if userCtx.TenantID != user.TenantID {
		t.Errorf("tenant ID = %v, want %v", userCtx.TenantID, user.TenantID)
	}
	if userCtx.Role != RoleUser {
		t.Errorf("role = %q, want user", userCtx.Role)
	}
	if userCtx.IsAPIKey || userCtx.TokenType != "jwt" {
		t.Errorf("token should identify as jwt, got %+v", userCtx)
	}
}

func TestScopesFollowRole(t *testing.T) {
	manager := NewJWTManager("test-signing-key-at-least-32-chars!!", 30*time.Minute, 24*time.Hour)

	hasScope := func(scopes []string, want string) bool {
		for _, s := range scopes {
			if s == want {
				return true
			}
		}
		return false
	}

	tests := []struct {
		role            string
		wantUsersManage bool
		wantKeysManage  bool
	}{
		{RoleUser, false, false},
		{RoleAdmin, false, true},
		{RoleOwner, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.role, func(t *testing.T) {
			user := testUser()
			user.Role = tt.role
			pair, _, err := manager.GenerateTokenPair(user)
			if err != nil {
				t.Fatal(err)
			}
			userCtx, err := manager.ValidateAccessToken(pair.AccessToken)
			if err != nil {
				t.Fatal(err)
			}
			if got := hasScope(userCtx.Scopes, ScopeUsersManage); got != tt.wantUsersManage {
				t.Errorf("users:manage scope = %v, want %v", got, tt.wantUsersManage)
			}
			if got := hasScope(userCtx.Scopes, ScopeAPIKeysManage); got != tt.wantKeysManage {
				t.Errorf("api_keys:manage scope = %v, want %v", got, tt.wantKeysManage)
			}
			if !hasScope(userCtx.Scopes, ScopeResearchExecute) {
				t.Error("every role should carry research:execute")
			}
		})
	}
}

func TestValidateRejectsBadTokens(t *testing.T) {
	manager := NewJWTManager("test-signing-key-at-least-32-chars!!", 30*time.Minute, 24*time.Hour)
	pair, _, err := manager.GenerateTokenPair(testUser())
	if err != nil {
		t.Fatal(err)
	}

	t.Run("tampered payload", func(t *testing.T) {
		parts := strings.Split(pair.AccessToken, ".")
		tampered := parts[0] + "." + parts[1] + "x." + parts[2]
		if _, err := manager.ValidateAccessToken(tampered); err == nil {
			t.Error("tampered token should be rejected")
		}
	})

	t.Run("wrong signing key", func(t *testing.T) {
		other := NewJWTManager("another-signing-key-32-chars-long!!!", 30*time.Minute, 24*time.Hour)
		otherPair, _, err := other.GenerateTokenPair(testUser())
		if err != nil {
			t.Fatal(err)
		}
		if _, err := manager.ValidateAccessToken(otherPair.AccessToken); err == nil {
			t.Error("token signed with a different key should be rejected")
		}
	})

	t.Run("expired", func(t *testing.T) {
		expired := NewJWTManager("test-signing-key-at-least-32-chars!!", -time.Minute, 24*time.Hour)
		expiredPair, _, err := expired.GenerateTokenPair(testUser())
		if err != nil {
			t.Fatal(err)
		}
		if _, err := manager.ValidateAccessToken(expiredPair.AccessToken); err == nil {
			t.Error("expired token should be rejected")
		}
	})

	t.Run("wrong issuer", func(t *testing.T) {
		claims := CustomClaims{
			RegisteredClaims: jwt.RegisteredClaims{
				Subject:   testUser().ID.String(),
				Issuer:    "some-other-platform",
				Audience:  jwt.ClaimStrings{"compass-api"},
				IssuedAt:  jwt.NewNumericDate(time.Now()),
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			},
			TenantID: testUser().TenantID.String(),
		}
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
		signed, err := token.SignedString([]byte("test-signing-key-at-least-32-chars!!"))
		if err != nil {
			t.Fatal(err)
		}
		if _, err := manager.ValidateAccessToken(signed); err == nil {
			t.Error("token from a foreign issuer should be rejected")
		}
	})

	t.Run("wrong audience", func(t *testing.T) {
		claims := CustomClaims{
			RegisteredClaims: jwt.RegisteredClaims{
				Subject:   testUser().ID.String(),
				Issuer:    "fleetcore-platform",
				Audience:  jwt.ClaimStrings{"fleetcore-dashboard"},
				IssuedAt:  jwt.NewNumericDate(time.Now()),
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			},
			TenantID: testUser().TenantID.String(),
		}
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
		signed, err := token.SignedString([]byte("test-signing-key-at-least-32-chars!!"))
		if err != nil {
			t.Fatal(err)
		}
		if _, err := manager.ValidateAccessToken(signed); err == nil {
			t.Error("token minted for another service should be rejected")
		}
	})

	t.Run("garbage", func(t *testing.T) {
		if _, err := manager.ValidateAccessToken("not.a.token"); err == nil {
			t.Error("garbage should be rejected")
		}
	})
}

func TestExtractBearerToken(t *testing.T) {
	token, err := ExtractBearerToken("Bearer abc123")
	if err != nil || token != "abc123" {
		t.Errorf("ExtractBearerToken = %q, %v", token, err)
	}

	for _, header := range []string{"", "Basic abc123", "Bearer", "Bearer ", "bearer abc123"} {
		if _, err := ExtractBearerToken(header); err == nil {
			t.Errorf("header %q should be rejected", header)
		}
	}
}
