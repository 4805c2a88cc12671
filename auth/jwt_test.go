package auth

import (
	"testing"
	"time"
)

func TestGenerateSessionToken(t *testing.T) {
	svc := NewJWTService("test-secret", 15*time.Minute)

	token, err := svc.GenerateSessionToken("user-123", "alice@example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if token == "" {
		t.Fatal("expected non-empty token")
	}

	if _, err := svc.GenerateSessionToken("", "alice@example.com"); err == nil {
		t.Error("expected error for missing user id")
	}
	if _, err := svc.GenerateSessionToken("user-123", ""); err == nil {
		t.Error("expected error for missing email")
	}
}

func TestValidateSessionToken(t *testing.T) {
	svc := NewJWTService("test-secret", 15*time.Minute)

	token, err := svc.GenerateSessionToken("user-123", "alice@example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	claims, err := svc.ValidateSessionToken(token)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if claims.UserID != "user-123" {
		t.Errorf("UserID = %q, want user-123", claims.UserID)
	}
	if claims.Email != "alice@example.com" {
		t.Errorf("Email = %q, want alice@example.com", claims.Email)
	}
	if claims.Issuer != "finbridge" {
		t.Errorf("Issuer = %q, want finbridge", claims.Issuer)
	}
}

func TestValidateSessionTokenRejections(t *testing.T) {
	svc := NewJWTService("test-secret", 15*time.Minute)

	token, err := svc.GenerateSessionToken("user-123", "alice@example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tests := []struct {
		name  string
		token string
	}{
		{"empty token", ""},
		{"garbage token", "not.a.token"},
		{"tampered token", token[:len(token)-4] + "xxxx"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.ValidateSessionToken(tt.token); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}

	// Wrong secret
	other := NewJWTService("different-secret", 15*time.Minute)
	if _, err := other.ValidateSessionToken(token); err == nil {
		t.Error("expected error for token signed with a different secret")
	}
}

func TestValidateSessionTokenExpired(t *testing.T) {
	svc := NewJWTService("test-secret", -time.Minute)

	token, err := svc.GenerateSessionToken("user-123", "alice@example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := svc.ValidateSessionToken(token); err == nil {
		t.Error("expected error for expired token")
	}
}
