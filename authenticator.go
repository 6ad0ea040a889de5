package session

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
)

// Auther implements the Authenticator interface over the users repository,
// the token service, and the refresh token store.
type Auther struct {
	users         Users
	refreshTokens RefreshTokens
	tokenService  TokenService
	accessTTL     time.Duration
	logger        Logger
}

var _ Authenticator = (*Auther)(nil)

// NewAuthenticator returns a new Authenticator
func NewAuthenticator(repo RepositoryManager, cfg Config) *Auther {
	tokenService := NewTokenService(
		[]byte(cfg.GetSigningKey()),
		cfg.GetAccessTokenTTL(),
		cfg.GetIssuer(),
		cfg.GetAudience(),
	)

	return &Auther{
		users:         repo.Users(),
		refreshTokens: repo.RefreshTokens(),
		tokenService:  tokenService,
		accessTTL:     cfg.GetAccessTokenTTL(),
		logger:        defLogger{},
	}
}

// WithLogger overrides the logger
func (s *Auther) WithLogger(logger Logger) *Auther {
	if logger != nil {
		s.logger = logger
	}
	return s
}

// WithTokenService sets a custom token service
func (s *Auther) WithTokenService(ts TokenService) *Auther {
	if ts != nil {
		s.tokenService = ts
		if impl, ok := ts.(*TokenServiceImpl); ok {
			s.accessTTL = impl.AccessTTL()
		}
	}
	return s
}

// TokenService returns the TokenService instance used by this Authenticator
func (s *Auther) TokenService() TokenService {
	return s.tokenService
}

// Register creates an account and issues the first credential pair.
// Duplicate emails and weak passwords fail before anything is persisted.
func (s *Auther) Register(ctx context.Context, payload RegisterPayload) (*TokenPair, error) {
	if err := ValidatePasswordStrength(payload.GetPassword()); err != nil {
		return nil, err
	}

	hash, err := HashPassword(payload.GetPassword())
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to hash password")
	}

	user := &User{
		Name:         payload.GetName(),
		Email:        payload.GetEmail(),
		PasswordHash: hash,
	}
	applyProfileFields(user, payload.GetProfileFields())

	user, err = s.users.Register(ctx, user)
	if err != nil {
		if IsDuplicateAccount(err) {
			return nil, err
		}
		s.logger.Error("Register create user error: %s", err)
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "could not create user")
	}

	return s.issueTokenPair(ctx, user)
}

// Login verifies the credentials and issues a credential pair. Lookup and
// password failures collapse into the same error so callers cannot probe for
// registered emails.
func (s *Auther) Login(ctx context.Context, email, password string) (*TokenPair, error) {
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, ErrInvalidCredentials
		}
		s.logger.Error("Login lookup error: %s", err)
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "login failed")
	}

	if err := ComparePasswordAndHash(password, user.PasswordHash); err != nil {
		return nil, ErrInvalidCredentials
	}

	return s.issueTokenPair(ctx, user)
}

// Refresh consumes the presented refresh token and issues a brand-new pair
// (full rotation). Reuse of an already consumed token surfaces as
// ErrReuseDetected after the store has revoked every token for the user.
func (s *Auther) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	userID, err := s.refreshTokens.ValidateAndConsume(ctx, refreshToken)
	if err != nil {
		return nil, err
	}

	user, err := s.users.GetByID(ctx, userID.String())
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, ErrTokenInvalid
		}
		s.logger.Error("Refresh user lookup error: %s", err)
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "refresh failed")
	}

	return s.issueTokenPair(ctx, user)
}

// Logout revokes the presented refresh token. Idempotent: revoking an unknown
// or already revoked token is not an error.
func (s *Auther) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return nil
	}
	return s.refreshTokens.Revoke(ctx, refreshToken)
}

// IdentityFromClaims resolves validated claims to the backing user record
func (s *Auther) IdentityFromClaims(ctx context.Context, claims AuthClaims) (Identity, error) {
	user, err := s.UserFromClaims(ctx, claims)
	if err != nil {
		return nil, err
	}
	return NewIdentityFromUser(user), nil
}

// UserFromClaims resolves validated claims to the full user record
func (s *Auther) UserFromClaims(ctx context.Context, claims AuthClaims) (*User, error) {
	id, err := uuid.Parse(claims.UserID())
	if err != nil {
		return nil, ErrTokenInvalid
	}

	user, err := s.users.GetByID(ctx, id.String())
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, ErrTokenInvalid
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "identity lookup failed")
	}

	return user, nil
}

// ChangePassword verifies the current password before storing a new hash
func (s *Auther) ChangePassword(ctx context.Context, userID uuid.UUID, current, next string) error {
	user, err := s.users.GetByID(ctx, userID.String())
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return ErrInvalidCredentials
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "change password failed")
	}

	if err := ComparePasswordAndHash(current, user.PasswordHash); err != nil {
		return ErrInvalidCredentials
	}

	if err := ValidatePasswordStrength(next); err != nil {
		return err
	}

	hash, err := HashPassword(next)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to hash password")
	}

	return s.users.UpdatePasswordHash(ctx, userID, hash)
}

func (s *Auther) issueTokenPair(ctx context.Context, user *User) (*TokenPair, error) {
	identity := NewIdentityFromUser(user)

	accessToken, _, err := s.tokenService.Mint(identity)
	if err != nil {
		s.logger.Error("issueTokenPair mint error: %s", err)
		return nil, err
	}

	refreshToken, err := s.refreshTokens.Issue(ctx, user.ID)
	if err != nil {
		s.logger.Error("issueTokenPair refresh issue error: %s", err)
		return nil, err
	}

	return &TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    int(s.accessTTL.Seconds()),
		User:         user,
	}, nil
}

func applyProfileFields(user *User, fields map[string]string) {
	if user == nil || len(fields) == 0 {
		return
	}
	if v, ok := fields["buildingName"]; ok {
		user.BuildingName = v
	}
	if v, ok := fields["buildingOwner"]; ok {
		user.BuildingOwner = v
	}
}
