package session

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"strings"
	"time"

	"github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// refreshTokenBytes is the entropy of an opaque refresh token (256 bits).
const refreshTokenBytes = 32

// issueRetries bounds retries on token uniqueness collisions.
const issueRetries = 3

// consumeGraceInterval separates a racing loser from genuine reuse. A token
// consumed this recently was almost certainly lost to a concurrent refresh
// (second device, proxy retry), not replayed by a thief; only presentations
// past the window trigger the revoke-all response.
const consumeGraceInterval = 5 * time.Second

// RefreshTokenStore is the bun-backed RefreshTokens implementation. It owns
// the refresh token records: callers only ever hold the opaque string.
type RefreshTokenStore struct {
	db     bun.IDB
	ttl    time.Duration
	logger Logger
	now    func() time.Time
}

var _ RefreshTokens = (*RefreshTokenStore)(nil)

// RefreshTokenStoreOption customizes store construction
type RefreshTokenStoreOption func(*RefreshTokenStore)

// WithRefreshClock injects a custom clock (useful for tests)
func WithRefreshClock(clock func() time.Time) RefreshTokenStoreOption {
	return func(s *RefreshTokenStore) {
		if clock != nil {
			s.now = clock
		}
	}
}

// WithRefreshLogger overrides the logger
func WithRefreshLogger(logger Logger) RefreshTokenStoreOption {
	return func(s *RefreshTokenStore) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewRefreshTokenStore creates a store issuing tokens valid for ttl
func NewRefreshTokenStore(db bun.IDB, ttl time.Duration, opts ...RefreshTokenStoreOption) *RefreshTokenStore {
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}

	s := &RefreshTokenStore{
		db:     db,
		ttl:    ttl,
		logger: defLogger{},
		now:    time.Now,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	return s
}

// Issue persists a new refresh token record for the user and returns the
// opaque token string. Uniqueness collisions are retried with fresh entropy.
func (s *RefreshTokenStore) Issue(ctx context.Context, userID uuid.UUID) (string, error) {
	var lastErr error

	for attempt := 0; attempt < issueRetries; attempt++ {
		token, err := generateOpaqueToken()
		if err != nil {
			return "", errors.Wrap(err, errors.CategoryInternal, "unable to generate refresh token")
		}

		record := &RefreshToken{
			ID:        uuid.New(),
			Token:     token,
			UserID:    userID,
			ExpiresAt: s.now().Add(s.ttl),
			Revoked:   false,
		}

		if _, err := s.db.NewInsert().Model(record).Exec(ctx); err != nil {
			if isUniqueViolation(err) {
				lastErr = err
				continue
			}
			return "", errors.Wrap(err, errors.CategoryInternal, "unable to persist refresh token")
		}

		return token, nil
	}

	return "", errors.Wrap(lastErr, errors.CategoryInternal, "refresh token uniqueness collision persisted across retries")
}

// ValidateAndConsume atomically marks the presented token consumed and returns
// the owning user id. The update carries the not-already-revoked predicate, so
// concurrent calls with the same token yield exactly one winner; losers resolve
// against the record's state. Reuse of a rotated token revokes every token for
// the owning user before the error is returned.
func (s *RefreshTokenStore) ValidateAndConsume(ctx context.Context, token string) (uuid.UUID, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return uuid.Nil, ErrTokenNotFound
	}

	now := s.now()

	res, err := s.db.NewUpdate().
		Model((*RefreshToken)(nil)).
		Set("revoked = ?", true).
		Set("consumed_at = ?", now).
		Where("token = ?", token).
		Where("revoked = ?", false).
		Where("expires_at > ?", now).
		Exec(ctx)
	if err != nil {
		return uuid.Nil, errors.Wrap(err, errors.CategoryInternal, "refresh token consume failed")
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return uuid.Nil, errors.Wrap(err, errors.CategoryInternal, "refresh token consume failed")
	}

	record := &RefreshToken{}
	if err := s.db.NewSelect().Model(record).Where("token = ?", token).Scan(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return uuid.Nil, ErrTokenNotFound
		}
		return uuid.Nil, errors.Wrap(err, errors.CategoryInternal, "refresh token lookup failed")
	}

	if affected == 1 {
		return record.UserID, nil
	}

	// Lost the race or the token was already dead. Resolve why.
	switch {
	case record.Revoked && record.ConsumedAt != nil:
		if now.Sub(*record.ConsumedAt) < consumeGraceInterval {
			// A concurrent caller just consumed it; this is the losing
			// side of an honest race, not reuse.
			return uuid.Nil, ErrTokenRevoked
		}
		// A rotated token came back well after its consumption: theft signal.
		s.logger.Warn("refresh token reuse detected, revoking all tokens for user %s", record.UserID)
		if err := s.RevokeAllForUser(ctx, record.UserID); err != nil {
			return uuid.Nil, err
		}
		return uuid.Nil, ErrReuseDetected
	case record.Revoked:
		return uuid.Nil, ErrTokenRevoked
	case record.Expired(now):
		return uuid.Nil, ErrTokenExpired
	default:
		// The window between update and select closed against us.
		return uuid.Nil, ErrTokenRevoked
	}
}

// Revoke marks the record revoked regardless of prior state. Idempotent:
// unknown tokens are a no-op.
func (s *RefreshTokenStore) Revoke(ctx context.Context, token string) error {
	_, err := s.db.NewUpdate().
		Model((*RefreshToken)(nil)).
		Set("revoked = ?", true).
		Where("token = ?", token).
		Exec(ctx)
	if err != nil {
		return errors.Wrap(err, errors.CategoryInternal, "refresh token revoke failed")
	}
	return nil
}

// RevokeAllForUser revokes every refresh token owned by the user. Used at
// logout-everywhere and on reuse detection. Idempotent.
func (s *RefreshTokenStore) RevokeAllForUser(ctx context.Context, userID uuid.UUID) error {
	_, err := s.db.NewUpdate().
		Model((*RefreshToken)(nil)).
		Set("revoked = ?", true).
		Where("user_id = ?", userID).
		Exec(ctx)
	if err != nil {
		return errors.Wrap(err, errors.CategoryInternal, "refresh token revoke-all failed")
	}
	return nil
}

// PurgeExpired deletes records past expiry, keeping the table bounded.
func (s *RefreshTokenStore) PurgeExpired(ctx context.Context) (int64, error) {
	res, err := s.db.NewDelete().
		Model((*RefreshToken)(nil)).
		Where("expires_at <= ?", s.now()).
		Exec(ctx)
	if err != nil {
		return 0, errors.Wrap(err, errors.CategoryInternal, "refresh token purge failed")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, errors.CategoryInternal, "refresh token purge failed")
	}
	return n, nil
}

func generateOpaqueToken() (string, error) {
	buf := make([]byte, refreshTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") || strings.Contains(msg, "duplicate")
}
