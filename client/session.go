package client

import (
	"context"
	"sync"
	"time"

	"github.com/goliatone/go-session"
)

// Status enumerates the observable authentication states
type Status string

const (
	StatusUnknown         Status = "unknown"
	StatusUnauthenticated Status = "unauthenticated"
	StatusAuthenticated   Status = "authenticated"
)

// AuthState is the externally visible session state. UserID is set only
// when Status is StatusAuthenticated.
type AuthState struct {
	Status Status
	UserID string
}

// UserInfo is the account payload returned by the auth endpoints
type UserInfo struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Email         string `json:"email"`
	Role          string `json:"role"`
	BuildingName  string `json:"buildingName,omitempty"`
	BuildingOwner string `json:"buildingOwner,omitempty"`
}

// UserEnvelope matches the {user} wrapper the account endpoint answers with
type UserEnvelope struct {
	User UserInfo `json:"user"`
}

type credentialsResponse struct {
	AccessToken  string   `json:"accessToken"`
	RefreshToken string   `json:"refreshToken"`
	ExpiresIn    int      `json:"expiresIn"`
	User         UserInfo `json:"user"`
}

// RegisterInput carries the account creation fields
type RegisterInput struct {
	Name          string `json:"name"`
	Email         string `json:"email"`
	Password      string `json:"password"`
	BuildingName  string `json:"buildingName,omitempty"`
	BuildingOwner string `json:"buildingOwner,omitempty"`
}

// defaultSafetyMargin is how long before access token expiry the proactive
// refresh fires.
const defaultSafetyMargin = 60 * time.Second

// assumedAccessLifetime is the schedule basis after a restart, when only the
// token itself survived and its true remaining lifetime is unknown. A token
// that expires sooner is covered by the reactive refresh path.
const assumedAccessLifetime = 15 * time.Minute

// refreshCallTimeout bounds scheduler initiated refreshes, which run outside
// any caller supplied context.
const refreshCallTimeout = 30 * time.Second

// Manager owns the session lifecycle: it orchestrates bootstrap, login,
// registration, refresh, and logout, persists credentials in a SecureStore,
// and keeps one proactive refresh timer armed while authenticated.
//
// Operations (Bootstrap, Login, Register, Logout, ChangePassword) are
// serialized by opMu. AttemptRefresh deliberately does not take opMu so the
// request pipeline can invoke it reactively while an operation is in flight;
// it is single flighted through the refreshing flag instead, and its outcome
// is applied only when the session epoch has not moved since it started, so
// a logout that lands mid refresh stays final.
type Manager struct {
	client    *Client
	store     SecureStore
	scheduler *RefreshScheduler
	logger    session.Logger
	margin    time.Duration

	opMu sync.Mutex

	mu          sync.Mutex
	state       AuthState
	epoch       uint64
	subscribers map[int]chan AuthState
	nextSubID   int
	refreshing  bool
	refreshDone chan struct{}
	refreshErr  error
}

// ManagerOption configures a Manager
type ManagerOption func(*Manager)

// WithSafetyMargin overrides how long before expiry the proactive refresh runs
func WithSafetyMargin(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.margin = d
		}
	}
}

// WithManagerLogger sets the logger used by the manager
func WithManagerLogger(logger session.Logger) ManagerOption {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewManager wires a Manager to a request pipeline and a credential store.
// The manager registers itself as the pipeline's Refresher so authenticated
// calls can recover from a stale access token.
func NewManager(c *Client, store SecureStore, opts ...ManagerOption) *Manager {
	m := &Manager{
		client:      c,
		store:       store,
		logger:      noopLogger{},
		margin:      defaultSafetyMargin,
		state:       AuthState{Status: StatusUnknown},
		subscribers: map[int]chan AuthState{},
	}

	for _, opt := range opts {
		opt(m)
	}

	m.scheduler = NewRefreshScheduler(m.scheduledRefresh)
	c.SetRefresher(m)

	return m
}

// State returns the current authentication state
func (m *Manager) State() AuthState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Subscribe registers an observer of state transitions. The returned channel
// has capacity one and always holds the latest state; stale intermediate
// states are dropped, never blocked on. The second return value unsubscribes.
func (m *Manager) Subscribe() (<-chan AuthState, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextSubID
	m.nextSubID++

	ch := make(chan AuthState, 1)
	ch <- m.state
	m.subscribers[id] = ch

	cancel := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subscribers, id)
	}

	return ch, cancel
}

// Bootstrap restores the session at process start. With no stored access
// token it settles on unauthenticated. Otherwise it validates the token
// against the account endpoint; a stale token falls through to a refresh
// attempt.
func (m *Manager) Bootstrap(ctx context.Context) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	token, ok := m.store.Get(KeyAccessToken)
	if !ok || token == "" {
		m.setState(AuthState{Status: StatusUnauthenticated})
		return nil
	}

	var me UserEnvelope
	err := m.client.DoWithOptions(ctx, "GET", "/auth/me", nil, &me, CallOptions{
		Authenticated: true,
	})
	if err == nil {
		m.mu.Lock()
		m.epoch++
		m.persistUser(me.User)
		m.setStateLocked(AuthState{Status: StatusAuthenticated, UserID: me.User.ID})
		m.scheduler.Schedule(clampDelay(assumedAccessLifetime, m.margin))
		m.mu.Unlock()
		return nil
	}

	if session.IsNetworkFailure(err) {
		return err
	}

	m.logger.Debug("stored access token rejected, attempting refresh")
	return m.AttemptRefresh(ctx)
}

// Login authenticates with email and password. On success the token pair and
// user identity are persisted and the proactive refresh is scheduled.
func (m *Manager) Login(ctx context.Context, email, password string) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	body := map[string]string{"email": email, "password": password}

	var creds credentialsResponse
	if err := m.client.DoUnauthenticated(ctx, "POST", "/auth/login", body, &creds); err != nil {
		return err
	}

	m.applyCredentials(creds)
	return nil
}

// Register creates an account and signs it in
func (m *Manager) Register(ctx context.Context, input RegisterInput) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	var creds credentialsResponse
	if err := m.client.DoUnauthenticated(ctx, "POST", "/auth/register", input, &creds); err != nil {
		return err
	}

	m.applyCredentials(creds)
	return nil
}

// Logout tears the session down. The epoch bump and scheduler cancellation
// happen first, under the state lock, so neither a pending timer nor a
// refresh already in flight can resurrect the session afterwards; the server
// side revocation is fire and forget. Safe to call from any state.
func (m *Manager) Logout(ctx context.Context) {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	refreshToken, _ := m.store.Get(KeyRefreshToken)

	m.mu.Lock()
	m.epoch++
	m.scheduler.Cancel()
	ClearCredentials(m.store)
	m.setStateLocked(AuthState{Status: StatusUnauthenticated})
	m.mu.Unlock()

	if refreshToken != "" {
		go m.revokeRemote(refreshToken)
	}
}

// ChangePassword updates the password for the signed in account
func (m *Manager) ChangePassword(ctx context.Context, current, updated string) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	body := map[string]string{
		"currentPassword": current,
		"newPassword":     updated,
	}

	return m.client.Do(ctx, "POST", "/auth/change-password", body, nil)
}

// AttemptRefresh exchanges the stored refresh token for a new token pair.
// Concurrent callers are collapsed into one server round trip and all observe
// the same outcome. A refresh that the server rejects clears every stored
// credential; the session cannot recover without new user credentials.
func (m *Manager) AttemptRefresh(ctx context.Context) error {
	m.mu.Lock()
	if m.refreshing {
		done := m.refreshDone
		m.mu.Unlock()

		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}

		m.mu.Lock()
		err := m.refreshErr
		m.mu.Unlock()
		return err
	}

	m.refreshing = true
	m.refreshDone = make(chan struct{})
	done := m.refreshDone
	m.mu.Unlock()

	err := m.refresh(ctx)

	m.mu.Lock()
	m.refreshErr = err
	m.refreshing = false
	m.mu.Unlock()
	close(done)

	return err
}

func (m *Manager) refresh(ctx context.Context) error {
	epoch := m.currentEpoch()

	refreshToken, ok := m.store.Get(KeyRefreshToken)
	if !ok || refreshToken == "" {
		m.teardown(epoch)
		return session.ErrTokenMissing
	}

	body := map[string]string{"refreshToken": refreshToken}

	var creds credentialsResponse
	err := m.client.DoUnauthenticated(ctx, "POST", "/auth/refresh", body, &creds)
	if err != nil {
		if session.IsNetworkFailure(err) {
			// The token may still be good; keep credentials and let the
			// next trigger retry.
			m.logger.Warn("refresh failed on transport, keeping session: %s", err)
			return err
		}

		if m.teardown(epoch) {
			m.logger.Info("refresh rejected, clearing session")
		}
		return err
	}

	if !m.applyRefreshed(creds, epoch) {
		// A logout or another transition won while the call was in flight;
		// its outcome is final and this pair is discarded.
		m.logger.Debug("discarding refresh outcome, session changed mid flight")
		return session.ErrTokenMissing
	}
	return nil
}

// scheduledRefresh is the proactive timer callback
func (m *Manager) scheduledRefresh() {
	ctx, cancel := context.WithTimeout(context.Background(), refreshCallTimeout)
	defer cancel()

	if err := m.AttemptRefresh(ctx); err != nil {
		m.logger.Warn("scheduled refresh failed: %s", err)
	}
}

// applyCredentials persists the token pair, flips the state to authenticated,
// and arms the proactive refresh at expiry minus the safety margin.
func (m *Manager) applyCredentials(creds credentialsResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.applyCredentialsLocked(creds)
}

// applyRefreshed applies a refresh outcome only when the session epoch has
// not moved since the refresh started. Reports whether the pair was applied.
func (m *Manager) applyRefreshed(creds credentialsResponse, epoch uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.epoch != epoch {
		return false
	}
	m.applyCredentialsLocked(creds)
	return true
}

func (m *Manager) applyCredentialsLocked(creds credentialsResponse) {
	m.epoch++
	m.store.Save(KeyAccessToken, creds.AccessToken)
	m.store.Save(KeyRefreshToken, creds.RefreshToken)
	m.persistUser(creds.User)

	m.setStateLocked(AuthState{Status: StatusAuthenticated, UserID: creds.User.ID})

	m.scheduler.Schedule(clampDelay(time.Duration(creds.ExpiresIn)*time.Second, m.margin))
}

func (m *Manager) persistUser(user UserInfo) {
	if user.ID != "" {
		m.store.Save(KeyUserID, user.ID)
	}
	if user.Email != "" {
		m.store.Save(KeyUserEmail, user.Email)
	}
}

func (m *Manager) currentEpoch() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.epoch
}

// teardown clears the session only when epoch is still current, so a stale
// refresh outcome cannot clobber a session established after it started.
// Reports whether the teardown ran.
func (m *Manager) teardown(epoch uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.epoch != epoch {
		return false
	}
	m.epoch++
	m.scheduler.Cancel()
	ClearCredentials(m.store)
	m.setStateLocked(AuthState{Status: StatusUnauthenticated})
	return true
}

// clampDelay is the proactive refresh schedule: expiry minus the safety
// margin. When the margin does not fit in the token lifetime the refresh
// runs at half life instead, never sooner than one second, so a short lived
// token cannot turn the scheduler into a hot loop.
func clampDelay(lifetime, margin time.Duration) time.Duration {
	d := lifetime - margin
	if d > 0 {
		return d
	}
	d = lifetime / 2
	if d < time.Second {
		d = time.Second
	}
	return d
}

func (m *Manager) revokeRemote(refreshToken string) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	body := map[string]string{"refreshToken": refreshToken}
	if err := m.client.DoUnauthenticated(ctx, "POST", "/auth/logout", body, nil); err != nil {
		m.logger.Debug("server side logout failed: %s", err)
	}
}

func (m *Manager) setState(next AuthState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setStateLocked(next)
}

func (m *Manager) setStateLocked(next AuthState) {
	if m.state == next {
		return
	}
	m.state = next

	for _, ch := range m.subscribers {
		select {
		case ch <- next:
		default:
			// Drop the stale value the subscriber has not consumed yet,
			// then publish the latest.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- next:
			default:
			}
		}
	}
}

var _ Refresher = (*Manager)(nil)
