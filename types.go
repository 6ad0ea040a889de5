package session

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// Identity holds the attributes of an authenticated identity
type Identity interface {
	ID() string
	Email() string
	Role() string
}

// TokenService mints and verifies signed access tokens
type TokenService interface {
	Mint(identity Identity) (token string, expiresAt time.Time, err error)
	Validate(tokenString string) (AuthClaims, error)
}

// TokenValidator is the verification-only view of TokenService, used by the
// bearer middleware so it never holds a minting capability.
type TokenValidator interface {
	Validate(tokenString string) (AuthClaims, error)
}

// RefreshTokens arbitrates issuance, single-use consumption, and revocation
// of opaque refresh tokens. Implementations must make ValidateAndConsume an
// atomic check-and-mark so concurrent refresh calls with the same token yield
// exactly one winner.
type RefreshTokens interface {
	Issue(ctx context.Context, userID uuid.UUID) (string, error)
	ValidateAndConsume(ctx context.Context, token string) (uuid.UUID, error)
	Revoke(ctx context.Context, token string) error
	RevokeAllForUser(ctx context.Context, userID uuid.UUID) error
}

// Authenticator holds the server-side token lifecycle operations
type Authenticator interface {
	Register(ctx context.Context, payload RegisterPayload) (*TokenPair, error)
	Login(ctx context.Context, email, password string) (*TokenPair, error)
	Refresh(ctx context.Context, refreshToken string) (*TokenPair, error)
	Logout(ctx context.Context, refreshToken string) error
	IdentityFromClaims(ctx context.Context, claims AuthClaims) (Identity, error)
}

// RegisterPayload carries the fields needed to create an account
type RegisterPayload interface {
	GetName() string
	GetEmail() string
	GetPassword() string
	GetProfileFields() map[string]string
}

// TokenPair is the credential set returned by login, registration, and refresh.
// ExpiresIn is the access token lifetime in seconds.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int    `json:"expiresIn"`
	User         *User  `json:"user"`
}

// Config holds auth options
type Config interface {
	GetSigningKey() string
	GetContextKey() string
	GetAuthScheme() string
	GetIssuer() string
	GetAudience() []string
	GetAccessTokenTTL() time.Duration
	GetRefreshTokenTTL() time.Duration
}

// SimpleConfig is a plain struct Config implementation for composition roots
type SimpleConfig struct {
	SigningKey      string
	ContextKey      string
	AuthScheme      string
	Issuer          string
	Audience        []string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
}

func (c SimpleConfig) GetSigningKey() string { return c.SigningKey }

func (c SimpleConfig) GetContextKey() string {
	if c.ContextKey == "" {
		return "user"
	}
	return c.ContextKey
}

func (c SimpleConfig) GetAuthScheme() string {
	if c.AuthScheme == "" {
		return "Bearer"
	}
	return c.AuthScheme
}

func (c SimpleConfig) GetIssuer() string { return c.Issuer }

func (c SimpleConfig) GetAudience() []string { return c.Audience }

func (c SimpleConfig) GetAccessTokenTTL() time.Duration {
	if c.AccessTokenTTL == 0 {
		return 15 * time.Minute
	}
	return c.AccessTokenTTL
}

func (c SimpleConfig) GetRefreshTokenTTL() time.Duration {
	if c.RefreshTokenTTL == 0 {
		return 30 * 24 * time.Hour
	}
	return c.RefreshTokenTTL
}

type defLogger struct{}

func (d defLogger) Error(format string, args ...any) {
	fmt.Printf("[ERR] SESSION "+newline(format), args...)
}

func (d defLogger) Warn(format string, args ...any) {
	fmt.Printf("[WRN] SESSION "+newline(format), args...)
}

func (d defLogger) Info(format string, args ...any) {
	fmt.Printf("[INF] SESSION "+newline(format), args...)
}

func (d defLogger) Debug(format string, args ...any) {
	fmt.Printf("[DBG] SESSION "+newline(format), args...)
}

func newline(s string) string {
	if len(s) > 0 && s[len(s)-1] != '\n' {
		s += "\n"
	}
	return s
}
