package security_test

import (
	"testing"
	"time"

	"github.com/Rrens/zyra/internal/security"
)

func TestJWTManager_GenerateAndValidate(t *testing.T) {
	manager := security.NewJWTManager("test-secret-key-with-32-chars!!", 15*time.Minute)

	token, err := manager.GenerateToken("student-42")
	if err != nil {
		t.Fatalf("failed to generate token: %v", err)
	}

	if token == "" {
		t.Error("token is empty")
	}

	claims, err := manager.ValidateToken(token)
	if err != nil {
		t.Fatalf("failed to validate token: %v", err)
	}

	if claims.Subject != "student-42" {
		t.Errorf("subject mismatch: got %v, want %v", claims.Subject, "student-42")
	}

	if claims.Issuer != "zyra" {
		t.Errorf("issuer mismatch: got %v", claims.Issuer)
	}
}

func TestJWTManager_EmptySubject(t *testing.T) {
	manager := security.NewJWTManager("test-secret-key-with-32-chars!!", 15*time.Minute)

	if _, err := manager.GenerateToken(""); err == nil {
		t.Error("expected error for empty subject, got nil")
	}
}

func TestJWTManager_InvalidToken(t *testing.T) {
	manager := security.NewJWTManager("test-secret-key-with-32-chars!!", 15*time.Minute)

	// Invalid token format
	_, err := manager.ValidateToken("invalid-token")
	if err == nil {
		t.Error("expected error for invalid token, got nil")
	}

	// Empty token
	_, err = manager.ValidateToken("")
	if err == nil {
		t.Error("expected error for empty token, got nil")
	}

	// Token signed with different secret
	otherManager := security.NewJWTManager("different-secret-key-32-chars!!", 15*time.Minute)
	token, _ := otherManager.GenerateToken("student-42")

	_, err = manager.ValidateToken(token)
	if err == nil {
		t.Error("expected error for token signed with different secret, got nil")
	}
}

func TestJWTManager_Expired(t *testing.T) {
	manager := security.NewJWTManager("test-secret-key-with-32-chars!!", -time.Minute)

	token, err := manager.GenerateToken("student-42")
	if err != nil {
		t.Fatalf("failed to generate token: %v", err)
	}

	if _, err := manager.ValidateToken(token); err == nil {
		t.Error("expected error for expired token, got nil")
	}
}

func TestJWTManager_TokenTTL(t *testing.T) {
	ttl := 30 * time.Minute
	manager := security.NewJWTManager("test-secret-key-with-32-chars!!", ttl)

	if manager.TokenTTL() != ttl {
		t.Errorf("token TTL mismatch: got %v, want %v", manager.TokenTTL(), ttl)
	}
}
