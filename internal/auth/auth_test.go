package auth

import (
	"context"
	"testing"
	"time"
)

func setSecret(t *testing.T) {
	t.Helper()
	t.Setenv("CO2LEDGER_AUTH_SECRET", "test-secret")
	ResetSecretForTests()
	t.Cleanup(ResetSecretForTests)
}

func TestGenerateAndValidateToken(t *testing.T) {
	setSecret(t)

	token, err := GenerateToken("alice", []string{"operator", "operator", " "}, time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	claims, err := ParseAndValidate(token)
	if err != nil {
		t.Fatalf("ParseAndValidate: %v", err)
	}
	if claims.Subject != "alice" {
		t.Fatalf("unexpected subject: %s", claims.Subject)
	}
	if len(claims.Roles) != 1 || claims.Roles[0] != "operator" {
		t.Fatalf("unexpected roles: %v", claims.Roles)
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	setSecret(t)

	for _, token := range []string{"", "  ", "not-a-token"} {
		if _, err := ParseAndValidate(token); err != ErrInvalidToken {
			t.Fatalf("token %q: expected ErrInvalidToken, got %v", token, err)
		}
	}
}

func TestGenerateRequiresSecret(t *testing.T) {
	t.Setenv("CO2LEDGER_AUTH_SECRET", "")
	ResetSecretForTests()
	t.Cleanup(ResetSecretForTests)

	if _, err := GenerateToken("alice", []string{"operator"}, time.Minute); err == nil {
		t.Fatal("expected error without configured secret")
	}
}

func TestCallerContextRoundTrip(t *testing.T) {
	ctx := ContextWithCaller(context.Background(), "bob", []string{"admin"})

	account, ok := AccountFromContext(ctx)
	if !ok || account != "bob" {
		t.Fatalf("unexpected account: %q ok=%v", account, ok)
	}
	roles := RolesFromContext(ctx)
	if len(roles) != 1 || roles[0] != "admin" {
		t.Fatalf("unexpected roles: %v", roles)
	}

	if _, ok := AccountFromContext(context.Background()); ok {
		t.Fatal("expected no account on empty context")
	}
}
