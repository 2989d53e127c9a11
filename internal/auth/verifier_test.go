package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	testSecret = "0123456789abcdef0123456789abcdef"
	testIssuer = "scribear-session-manager"
)

// signToken builds an HS256 token for tests, with mutate applied to the
// claims before signing.
func signToken(t *testing.T, mutate func(*Claims)) string {
	t.Helper()

	claims := &Claims{
		SessionID: "session-1",
		Scope:     ScopeSource,
		SourceID:  "mic-a",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    testIssuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	if mutate != nil {
		mutate(claims)
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("signing test token: %v", err)
	}
	return signed
}

func TestVerifyValidToken(t *testing.T) {
	t.Parallel()

	v := NewVerifier(testSecret, testIssuer)
	claims, err := v.Verify(signToken(t, nil))
	if err != nil {
		t.Fatalf("Verify returned error: %v", err)
	}

	if claims.SessionID != "session-1" {
		t.Errorf("SessionID = %q, want session-1", claims.SessionID)
	}
	if claims.Scope != ScopeSource {
		t.Errorf("Scope = %q, want source", claims.Scope)
	}
	if claims.SourceID != "mic-a" {
		t.Errorf("SourceID = %q, want mic-a", claims.SourceID)
	}
}

func TestVerifyRejections(t *testing.T) {
	t.Parallel()

	v := NewVerifier(testSecret, testIssuer)

	tests := []struct {
		name    string
		token   string
		wantErr error
	}{
		{
			name:    "garbage token",
			token:   "not.a.jwt",
			wantErr: ErrMalformed,
		},
		{
			name: "expired",
			token: signToken(t, func(c *Claims) {
				c.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))
			}),
			wantErr: ErrExpired,
		},
		{
			name: "missing expiry",
			token: signToken(t, func(c *Claims) {
				c.ExpiresAt = nil
			}),
			wantErr: ErrInvalidClaims,
		},
		{
			name: "wrong issuer",
			token: signToken(t, func(c *Claims) {
				c.Issuer = "someone-else"
			}),
			wantErr: ErrWrongIssuer,
		},
		{
			name: "missing session id",
			token: signToken(t, func(c *Claims) {
				c.SessionID = ""
			}),
			wantErr: ErrInvalidClaims,
		},
		{
			name: "unknown scope",
			token: signToken(t, func(c *Claims) {
				c.Scope = "admin"
			}),
			wantErr: ErrInvalidClaims,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := v.Verify(tt.token)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want wrapped %v", err, tt.wantErr)
			}
		})
	}
}

func TestVerifyBadSignature(t *testing.T) {
	t.Parallel()

	other := NewVerifier("ffffffffffffffffffffffffffffffff", testIssuer)
	_, err := other.Verify(signToken(t, nil))
	if !errors.Is(err, ErrBadSignature) {
		t.Errorf("error = %v, want wrapped %v", err, ErrBadSignature)
	}
}

func TestVerifyRejectsUnsignedToken(t *testing.T) {
	t.Parallel()

	claims := &Claims{
		SessionID: "session-1",
		Scope:     ScopeSink,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    testIssuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodNone, claims)
	signed, err := tok.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("signing test token: %v", err)
	}

	v := NewVerifier(testSecret, testIssuer)
	if _, err := v.Verify(signed); err == nil {
		t.Fatal("expected error for alg=none token, got nil")
	}
}

func TestScopePermissions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		scope  Scope
		source bool
		sink   bool
	}{
		{ScopeSource, true, false},
		{ScopeSink, false, true},
		{ScopeBoth, true, true},
	}

	for _, tt := range tests {
		if got := tt.scope.AllowsSource(); got != tt.source {
			t.Errorf("%s.AllowsSource() = %v, want %v", tt.scope, got, tt.source)
		}
		if got := tt.scope.AllowsSink(); got != tt.sink {
			t.Errorf("%s.AllowsSink() = %v, want %v", tt.scope, got, tt.sink)
		}
	}
	if Scope("admin").IsValid() {
		t.Error(`Scope("admin").IsValid() = true, want false`)
	}
}
