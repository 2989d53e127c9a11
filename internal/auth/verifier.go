// Package auth verifies the session tokens that the session manager mints for
// audio sources and transcript sinks. Tokens are HS256 JWTs carrying the
// session they belong to and the scope of access they grant.
package auth

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Scope describes which side of a session a token grants access to.
type Scope string

const (
	// ScopeSource allows streaming audio into a session.
	ScopeSource Scope = "source"
	// ScopeSink allows receiving transcripts from a session.
	ScopeSink Scope = "sink"
	// ScopeBoth allows both.
	ScopeBoth Scope = "both"
)

// IsValid reports whether s is one of the known scopes.
func (s Scope) IsValid() bool {
	switch s {
	case ScopeSource, ScopeSink, ScopeBoth:
		return true
	}
	return false
}

// AllowsSource reports whether the scope permits acting as an audio source.
func (s Scope) AllowsSource() bool {
	return s == ScopeSource || s == ScopeBoth
}

// AllowsSink reports whether the scope permits acting as a transcript sink.
func (s Scope) AllowsSink() bool {
	return s == ScopeSink || s == ScopeBoth
}

// Verification failures are collapsed into a small set of sentinel errors so
// callers can decide between a 401 and a more specific close code without
// inspecting jwt internals.
var (
	// ErrMalformed means the token is not a parseable JWT or uses a signing
	// method other than HMAC.
	ErrMalformed = errors.New("auth: malformed token")
	// ErrBadSignature means the signature does not match the shared secret.
	ErrBadSignature = errors.New("auth: signature verification failed")
	// ErrExpired means the token is past its expiry.
	ErrExpired = errors.New("auth: token expired")
	// ErrWrongIssuer means the token was minted by an unexpected issuer.
	ErrWrongIssuer = errors.New("auth: unexpected issuer")
	// ErrInvalidClaims means required claims are missing or out of range.
	ErrInvalidClaims = errors.New("auth: invalid claims")
)

// Claims is the payload the session manager signs into every token.
type Claims struct {
	// SessionID names the session the token grants access to.
	SessionID string `json:"sessionId"`
	// Scope is source, sink or both.
	Scope Scope `json:"scope"`
	// SourceID identifies the producing device; only meaningful for tokens
	// whose scope allows acting as a source.
	SourceID string `json:"sourceId,omitempty"`

	jwt.RegisteredClaims
}

// Verifier validates session tokens against a shared HS256 secret.
type Verifier struct {
	secret []byte
	issuer string
}

// NewVerifier returns a Verifier using the given shared secret and expected
// issuer.
func NewVerifier(secret, issuer string) *Verifier {
	return &Verifier{secret: []byte(secret), issuer: issuer}
}

// Verify parses and validates tokenStr, returning its claims.
// All returned errors wrap one of the package sentinel errors.
func (v *Verifier) Verify(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	tok, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(v.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, classify(err)
	}
	if !tok.Valid {
		return nil, ErrMalformed
	}

	if claims.SessionID == "" {
		return nil, fmt.Errorf("%w: sessionId is required", ErrInvalidClaims)
	}
	if !claims.Scope.IsValid() {
		return nil, fmt.Errorf("%w: unknown scope %q", ErrInvalidClaims, claims.Scope)
	}
	return claims, nil
}

// classify maps jwt parse errors to the package sentinels.
func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%w: %v", ErrExpired, err)
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return fmt.Errorf("%w: %v", ErrWrongIssuer, err)
	case errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
		return fmt.Errorf("%w: %v", ErrInvalidClaims, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	default:
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
}
