// Package bearer implements the per-request authentication gate: it extracts
// the bearer access token, delegates verification, and attaches the resulting
// principal to the request context. The gate is stateless and fails closed.
package bearer

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	session "github.com/goliatone/go-session"
)

// DefaultContextKey is where validated claims are stored in fiber locals
const DefaultContextKey = "user"

// DefaultAuthScheme is the expected Authorization header scheme
const DefaultAuthScheme = "Bearer"

// unauthorizedBody is the single opaque response for every verification
// failure. Malformed, badly signed, and expired tokens are indistinguishable
// over the wire so the endpoint cannot be used as a verification oracle.
type unauthorizedBody struct {
	Error string `json:"error"`
}

// Config holds the middleware options
type Config struct {
	// TokenValidator is required for token validation
	TokenValidator session.TokenValidator

	// Filter skips the middleware when it returns true
	Filter func(*fiber.Ctx) bool

	// ContextKey is the fiber locals key for validated claims
	ContextKey string

	// AuthScheme is the Authorization header scheme, defaults to Bearer
	AuthScheme string

	// ErrorHandler overrides the opaque 401 response
	ErrorHandler fiber.ErrorHandler

	// Logger receives the internally preserved failure kind. Tokens are
	// never logged.
	Logger session.Logger
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

func configDefaults(config ...Config) Config {
	cfg := Config{}
	if len(config) > 0 {
		cfg = config[0]
	}

	if cfg.TokenValidator == nil {
		panic("bearer: Config.TokenValidator is required")
	}
	if cfg.ContextKey == "" {
		cfg.ContextKey = DefaultContextKey
	}
	if cfg.AuthScheme == "" {
		cfg.AuthScheme = DefaultAuthScheme
	}
	if cfg.Logger == nil {
		cfg.Logger = noopLogger{}
	}
	if cfg.ErrorHandler == nil {
		cfg.ErrorHandler = func(c *fiber.Ctx, err error) error {
			msg := "invalid or expired token"
			if err == errMissingToken {
				msg = "missing token"
			}
			return c.Status(fiber.StatusUnauthorized).JSON(unauthorizedBody{Error: msg})
		}
	}

	return cfg
}

var errMissingToken = session.ErrTokenMissing

// New creates the request gate. Per request: no Authorization header means an
// immediate 401 and the handler chain never runs; with a header the token is
// validated and the principal is attached to both fiber locals and the
// standard request context.
func New(config ...Config) fiber.Handler {
	cfg := configDefaults(config...)

	return func(c *fiber.Ctx) error {
		if cfg.Filter != nil && cfg.Filter(c) {
			return c.Next()
		}

		token, err := extractToken(c, cfg.AuthScheme)
		if err != nil {
			return cfg.ErrorHandler(c, err)
		}

		claims, err := cfg.TokenValidator.Validate(token)
		if err != nil {
			// Kind stays internal: the response never distinguishes
			// malformed from bad-signature from expired.
			cfg.Logger.Info("bearer token rejected: %s", failureKind(err))
			return cfg.ErrorHandler(c, err)
		}

		principal := session.PrincipalFromClaims(claims)

		c.Locals(cfg.ContextKey, claims)

		ctx := session.WithClaimsContext(c.UserContext(), claims)
		ctx = session.WithPrincipal(ctx, principal)
		c.SetUserContext(ctx)

		return c.Next()
	}
}

func extractToken(c *fiber.Ctx, scheme string) (string, error) {
	header := c.Get(fiber.HeaderAuthorization)
	if header == "" {
		return "", errMissingToken
	}

	prefix := scheme + " "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", errMissingToken
	}

	token := strings.TrimSpace(header[len(prefix):])
	if token == "" {
		return "", errMissingToken
	}

	return token, nil
}

func failureKind(err error) string {
	switch {
	case session.IsTokenExpired(err):
		return "expired"
	case session.IsTokenMalformed(err):
		return "malformed"
	default:
		return "invalid"
	}
}
