package auth

import (
	"errors"
	"testing"
	"time"
)

func TestIssueAndParseToken(t *testing.T) {
	secret := []byte("secret")
	issued, err := IssueToken(secret, Claims{
		Sub:   "op_1",
		Email: "avery@example.com",
		Role:  "reviewer",
		JTI:   "jti-1",
		Exp:   time.Now().Add(time.Hour).Unix(),
	})
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	claims, err := ParseToken(secret, issued)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	if claims.Sub != "op_1" || claims.Email != "avery@example.com" || claims.Role != "reviewer" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestParseTokenRejectsExpired(t *testing.T) {
	secret := []byte("secret")
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	issued, err := IssueToken(secret, Claims{Sub: "op_1", JTI: "jti-1", Exp: now.Add(time.Minute).Unix()})
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	if _, err := ParseTokenAt(secret, issued, now); err != nil {
		t.Fatalf("ParseTokenAt() before expiry error = %v", err)
	}
	_, err = ParseTokenAt(secret, issued, now.Add(time.Minute))
	if !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("ParseTokenAt() at expiry error = %v, want ErrExpiredToken", err)
	}
}

func TestParseTokenRejectsTampering(t *testing.T) {
	issued, err := IssueToken([]byte("secret"), Claims{Sub: "op_1", JTI: "jti-1", Exp: time.Now().Add(time.Hour).Unix()})
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	cases := []struct {
		name   string
		secret string
		token  string
	}{
		{name: "wrong secret", secret: "other", token: issued},
		{name: "extra part", secret: "secret", token: issued + ".x"},
		{name: "no signature", secret: "secret", token: "abc"},
	}
	for _, tc := range cases {
		if _, err := ParseToken([]byte(tc.secret), tc.token); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("%s: ParseToken() error = %v, want ErrInvalidToken", tc.name, err)
		}
	}
}

func TestBearerToken(t *testing.T) {
	if token, ok := BearerToken("Bearer abc.def"); !ok || token != "abc.def" {
		t.Fatalf("BearerToken() = %q, %v", token, ok)
	}
	if _, ok := BearerToken("Basic abc"); ok {
		t.Fatal("expected Basic scheme to be rejected")
	}
	if _, ok := BearerToken("Bearer "); ok {
		t.Fatal("expected empty token to be rejected")
	}
}
