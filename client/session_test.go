package client_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goliatone/go-session/client"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAuthServer is a minimal in-process stand-in for the auth endpoints. It
// issues sequentially numbered token pairs and accepts only the most recently
// issued pair.
type fakeAuthServer struct {
	mu           sync.Mutex
	seq          int
	accessToken  string
	refreshToken string

	refreshCalls atomic.Int32
	logoutCalls  atomic.Int32
	refreshDelay time.Duration
	failRefresh  bool
	expiresIn    int

	srv *httptest.Server
}

func newFakeAuthServer(t *testing.T) *fakeAuthServer {
	t.Helper()

	f := &fakeAuthServer{}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/login", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Email    string `json:"email"`
			Password string `json:"password"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		if body.Password != "a-strong-password" {
			writeError(w, http.StatusUnauthorized, "invalid credentials or token")
			return
		}
		f.writePair(w)
	})
	mux.HandleFunc("POST /auth/register", func(w http.ResponseWriter, r *http.Request) {
		f.writePair(w)
	})
	mux.HandleFunc("POST /auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		f.refreshCalls.Add(1)
		if f.refreshDelay > 0 {
			time.Sleep(f.refreshDelay)
		}

		var body struct {
			RefreshToken string `json:"refreshToken"`
		}
		json.NewDecoder(r.Body).Decode(&body)

		f.mu.Lock()
		valid := !f.failRefresh && body.RefreshToken != "" && body.RefreshToken == f.refreshToken
		f.mu.Unlock()

		if !valid {
			writeError(w, http.StatusUnauthorized, "invalid or expired refresh token")
			return
		}
		f.writePair(w)
	})
	mux.HandleFunc("POST /auth/logout", func(w http.ResponseWriter, r *http.Request) {
		f.logoutCalls.Add(1)
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("GET /auth/me", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		valid := f.accessToken != "" && r.Header.Get("Authorization") == "Bearer "+f.accessToken
		f.mu.Unlock()

		if !valid {
			writeError(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}
		json.NewEncoder(w).Encode(client.UserEnvelope{User: testUser()})
	})

	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)

	return f
}

func testUser() client.UserInfo {
	return client.UserInfo{
		ID:    "11111111-1111-1111-1111-111111111111",
		Name:  "Ada",
		Email: "ada@example.com",
		Role:  "member",
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func (f *fakeAuthServer) writePair(w http.ResponseWriter) {
	f.mu.Lock()
	f.seq++
	f.accessToken = "at-" + itoa(f.seq)
	f.refreshToken = "rt-" + itoa(f.seq)
	access, refresh := f.accessToken, f.refreshToken
	expiresIn := f.expiresIn
	if expiresIn == 0 {
		expiresIn = 900
	}
	f.mu.Unlock()

	json.NewEncoder(w).Encode(map[string]any{
		"accessToken":  access,
		"refreshToken": refresh,
		"expiresIn":    expiresIn,
		"user":         testUser(),
	})
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var digits []byte
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}

func newTestManager(t *testing.T, f *fakeAuthServer) (*client.Manager, *client.MemoryStore) {
	t.Helper()

	store := client.NewMemoryStore()
	api := client.NewClient(f.srv.URL, store)
	mgr := client.NewManager(api, store)
	return mgr, store
}

func TestManager_Bootstrap(t *testing.T) {
	ctx := context.Background()

	t.Run("no stored credentials settles unauthenticated", func(t *testing.T) {
		f := newFakeAuthServer(t)
		mgr, _ := newTestManager(t, f)

		require.NoError(t, mgr.Bootstrap(ctx))
		assert.Equal(t, client.StatusUnauthenticated, mgr.State().Status)
	})

	t.Run("a valid stored token restores the session", func(t *testing.T) {
		f := newFakeAuthServer(t)
		mgr, store := newTestManager(t, f)

		// Simulate a previous run that persisted a live pair.
		f.mu.Lock()
		f.accessToken = "at-live"
		f.refreshToken = "rt-live"
		f.mu.Unlock()
		store.Save(client.KeyAccessToken, "at-live")
		store.Save(client.KeyRefreshToken, "rt-live")

		require.NoError(t, mgr.Bootstrap(ctx))

		state := mgr.State()
		assert.Equal(t, client.StatusAuthenticated, state.Status)
		assert.Equal(t, testUser().ID, state.UserID)

		email, _ := store.Get(client.KeyUserEmail)
		assert.Equal(t, "ada@example.com", email)
	})

	t.Run("a stale token falls through to a refresh", func(t *testing.T) {
		f := newFakeAuthServer(t)
		mgr, store := newTestManager(t, f)

		f.mu.Lock()
		f.refreshToken = "rt-live"
		f.mu.Unlock()
		store.Save(client.KeyAccessToken, "at-stale")
		store.Save(client.KeyRefreshToken, "rt-live")

		require.NoError(t, mgr.Bootstrap(ctx))

		assert.Equal(t, client.StatusAuthenticated, mgr.State().Status)
		assert.Equal(t, int32(1), f.refreshCalls.Load())

		// The pair was rotated and persisted.
		refresh, _ := store.Get(client.KeyRefreshToken)
		assert.NotEqual(t, "rt-live", refresh)
	})

	t.Run("a dead session clears storage", func(t *testing.T) {
		f := newFakeAuthServer(t)
		mgr, store := newTestManager(t, f)

		store.Save(client.KeyAccessToken, "at-stale")
		store.Save(client.KeyRefreshToken, "rt-stale")

		err := mgr.Bootstrap(ctx)
		require.Error(t, err)
		assert.Equal(t, client.StatusUnauthenticated, mgr.State().Status)

		_, ok := store.Get(client.KeyRefreshToken)
		assert.False(t, ok)
	})
}

func TestManager_Login(t *testing.T) {
	ctx := context.Background()

	t.Run("persists the pair and authenticates", func(t *testing.T) {
		f := newFakeAuthServer(t)
		mgr, store := newTestManager(t, f)

		require.NoError(t, mgr.Login(ctx, "ada@example.com", "a-strong-password"))

		state := mgr.State()
		assert.Equal(t, client.StatusAuthenticated, state.Status)
		assert.Equal(t, testUser().ID, state.UserID)

		for _, key := range []string{client.KeyAccessToken, client.KeyRefreshToken, client.KeyUserID, client.KeyUserEmail} {
			v, ok := store.Get(key)
			assert.True(t, ok, key)
			assert.NotEmpty(t, v, key)
		}
	})

	t.Run("bad credentials leave the state alone", func(t *testing.T) {
		f := newFakeAuthServer(t)
		mgr, store := newTestManager(t, f)
		require.NoError(t, mgr.Bootstrap(ctx))

		err := mgr.Login(ctx, "ada@example.com", "wrong-password")
		require.Error(t, err)
		assert.Equal(t, client.StatusUnauthenticated, mgr.State().Status)

		_, ok := store.Get(client.KeyAccessToken)
		assert.False(t, ok)
	})
}

func TestManager_Logout(t *testing.T) {
	ctx := context.Background()

	t.Run("clears everything and reports unauthenticated", func(t *testing.T) {
		f := newFakeAuthServer(t)
		mgr, store := newTestManager(t, f)
		require.NoError(t, mgr.Login(ctx, "ada@example.com", "a-strong-password"))

		mgr.Logout(ctx)

		assert.Equal(t, client.StatusUnauthenticated, mgr.State().Status)
		for _, key := range []string{client.KeyAccessToken, client.KeyRefreshToken, client.KeyUserID, client.KeyUserEmail} {
			_, ok := store.Get(key)
			assert.False(t, ok, key)
		}

		// Server side revocation is fire and forget.
		assert.Eventually(t, func() bool {
			return f.logoutCalls.Load() == 1
		}, time.Second, 10*time.Millisecond)
	})

	t.Run("is safe from any state", func(t *testing.T) {
		f := newFakeAuthServer(t)
		mgr, _ := newTestManager(t, f)

		mgr.Logout(ctx)
		mgr.Logout(ctx)
		assert.Equal(t, client.StatusUnauthenticated, mgr.State().Status)
	})

	t.Run("an in-flight refresh cannot resurrect the session", func(t *testing.T) {
		f := newFakeAuthServer(t)
		mgr, store := newTestManager(t, f)
		require.NoError(t, mgr.Login(ctx, "ada@example.com", "a-strong-password"))

		f.refreshDelay = 300 * time.Millisecond

		refreshed := make(chan error, 1)
		go func() {
			refreshed <- mgr.AttemptRefresh(ctx)
		}()

		// Let the refresh reach the server before logging out under it.
		assert.Eventually(t, func() bool {
			return f.refreshCalls.Load() == 1
		}, time.Second, 5*time.Millisecond)

		mgr.Logout(ctx)

		err := <-refreshed
		require.Error(t, err)

		// Logout stays final: no state flip back, no re-persisted pair.
		assert.Equal(t, client.StatusUnauthenticated, mgr.State().Status)
		for _, key := range []string{client.KeyAccessToken, client.KeyRefreshToken, client.KeyUserID, client.KeyUserEmail} {
			_, ok := store.Get(key)
			assert.False(t, ok, key)
		}
	})
}

func TestManager_AttemptRefresh(t *testing.T) {
	ctx := context.Background()

	t.Run("rotates and persists the pair", func(t *testing.T) {
		f := newFakeAuthServer(t)
		mgr, store := newTestManager(t, f)
		require.NoError(t, mgr.Login(ctx, "ada@example.com", "a-strong-password"))

		before, _ := store.Get(client.KeyRefreshToken)

		require.NoError(t, mgr.AttemptRefresh(ctx))

		after, _ := store.Get(client.KeyRefreshToken)
		assert.NotEqual(t, before, after)
		assert.Equal(t, client.StatusAuthenticated, mgr.State().Status)
	})

	t.Run("no stored refresh token tears the session down", func(t *testing.T) {
		f := newFakeAuthServer(t)
		mgr, _ := newTestManager(t, f)

		err := mgr.AttemptRefresh(ctx)
		require.Error(t, err)
		assert.Equal(t, client.StatusUnauthenticated, mgr.State().Status)
	})

	t.Run("a rejected refresh clears credentials", func(t *testing.T) {
		f := newFakeAuthServer(t)
		mgr, store := newTestManager(t, f)
		require.NoError(t, mgr.Login(ctx, "ada@example.com", "a-strong-password"))

		f.mu.Lock()
		f.failRefresh = true
		f.mu.Unlock()

		err := mgr.AttemptRefresh(ctx)
		require.Error(t, err)

		assert.Equal(t, client.StatusUnauthenticated, mgr.State().Status)
		_, ok := store.Get(client.KeyAccessToken)
		assert.False(t, ok)
	})

	t.Run("concurrent attempts collapse into one round trip", func(t *testing.T) {
		f := newFakeAuthServer(t)
		mgr, _ := newTestManager(t, f)
		require.NoError(t, mgr.Login(ctx, "ada@example.com", "a-strong-password"))

		f.refreshDelay = 50 * time.Millisecond
		f.refreshCalls.Store(0)

		const callers = 8

		var wg sync.WaitGroup
		errs := make([]error, callers)
		for i := 0; i < callers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				errs[i] = mgr.AttemptRefresh(ctx)
			}(i)
		}
		wg.Wait()

		for i := range errs {
			assert.NoError(t, errs[i])
		}
		assert.Equal(t, int32(1), f.refreshCalls.Load())
	})
}

func TestManager_Subscribe(t *testing.T) {
	ctx := context.Background()

	t.Run("delivers the current state immediately", func(t *testing.T) {
		f := newFakeAuthServer(t)
		mgr, _ := newTestManager(t, f)

		states, cancel := mgr.Subscribe()
		defer cancel()

		select {
		case s := <-states:
			assert.Equal(t, client.StatusUnknown, s.Status)
		case <-time.After(time.Second):
			t.Fatal("no initial state delivered")
		}
	})

	t.Run("observes login and logout transitions", func(t *testing.T) {
		f := newFakeAuthServer(t)
		mgr, _ := newTestManager(t, f)

		states, cancel := mgr.Subscribe()
		defer cancel()
		<-states // initial unknown

		require.NoError(t, mgr.Login(ctx, "ada@example.com", "a-strong-password"))

		select {
		case s := <-states:
			assert.Equal(t, client.StatusAuthenticated, s.Status)
			assert.Equal(t, testUser().ID, s.UserID)
		case <-time.After(time.Second):
			t.Fatal("no authenticated state delivered")
		}

		mgr.Logout(ctx)

		select {
		case s := <-states:
			assert.Equal(t, client.StatusUnauthenticated, s.Status)
			assert.Empty(t, s.UserID)
		case <-time.After(time.Second):
			t.Fatal("no unauthenticated state delivered")
		}
	})

	t.Run("a slow subscriber only ever sees the latest state", func(t *testing.T) {
		f := newFakeAuthServer(t)
		mgr, _ := newTestManager(t, f)

		states, cancel := mgr.Subscribe()
		defer cancel()

		require.NoError(t, mgr.Login(ctx, "ada@example.com", "a-strong-password"))
		mgr.Logout(ctx)

		// The login state was dropped, never blocked on.
		var last client.AuthState
		for {
			select {
			case s := <-states:
				last = s
				continue
			default:
			}
			break
		}
		assert.Equal(t, client.StatusUnauthenticated, last.Status)
	})
}

func TestManager_ProactiveRefresh(t *testing.T) {
	ctx := context.Background()

	t.Run("a login arms the scheduler", func(t *testing.T) {
		f := newFakeAuthServer(t)
		store := client.NewMemoryStore()
		api := client.NewClient(f.srv.URL, store)
		mgr := client.NewManager(api, store, client.WithSafetyMargin(899*time.Second))

		// expiresIn is 900s and the margin 899s, so the proactive refresh
		// lands about one second out.
		require.NoError(t, mgr.Login(ctx, "ada@example.com", "a-strong-password"))

		assert.Eventually(t, func() bool {
			return f.refreshCalls.Load() >= 1
		}, 5*time.Second, 20*time.Millisecond)
		assert.Equal(t, client.StatusAuthenticated, mgr.State().Status)
	})

	t.Run("a lifetime shorter than the margin does not spin", func(t *testing.T) {
		f := newFakeAuthServer(t)
		f.mu.Lock()
		f.expiresIn = 1
		f.mu.Unlock()

		store := client.NewMemoryStore()
		api := client.NewClient(f.srv.URL, store)
		mgr := client.NewManager(api, store)

		// expiresIn 1s with the default 60s margin; the schedule must fall
		// back to a sane delay instead of firing in a tight loop.
		require.NoError(t, mgr.Login(ctx, "ada@example.com", "a-strong-password"))

		time.Sleep(300 * time.Millisecond)
		assert.Equal(t, int32(0), f.refreshCalls.Load())
		assert.Equal(t, client.StatusAuthenticated, mgr.State().Status)
	})

	t.Run("logout cancels the pending refresh", func(t *testing.T) {
		f := newFakeAuthServer(t)
		store := client.NewMemoryStore()
		api := client.NewClient(f.srv.URL, store)
		mgr := client.NewManager(api, store, client.WithSafetyMargin(899*time.Second))

		require.NoError(t, mgr.Login(ctx, "ada@example.com", "a-strong-password"))
		mgr.Logout(ctx)

		time.Sleep(1500 * time.Millisecond)
		assert.Equal(t, int32(0), f.refreshCalls.Load())
	})
}
