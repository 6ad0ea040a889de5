package client_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/goliatone/go-session"
	"github.com/goliatone/go-session/client"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type refresherFunc func(ctx context.Context) error

func (f refresherFunc) AttemptRefresh(ctx context.Context) error { return f(ctx) }

func TestClient_Do(t *testing.T) {
	ctx := context.Background()

	t.Run("decodes a JSON success body", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "application/json", r.Header.Get("Accept"))
			json.NewEncoder(w).Encode(map[string]string{"value": "ok"})
		}))
		defer srv.Close()

		c := client.NewClient(srv.URL, client.NewMemoryStore())

		var out struct {
			Value string `json:"value"`
		}
		require.NoError(t, c.DoUnauthenticated(ctx, "GET", "/thing", nil, &out))
		assert.Equal(t, "ok", out.Value)
	})

	t.Run("attaches the stored bearer token", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "Bearer stored-token", r.Header.Get("Authorization"))
			w.WriteHeader(http.StatusNoContent)
		}))
		defer srv.Close()

		store := client.NewMemoryStore()
		store.Save(client.KeyAccessToken, "stored-token")

		c := client.NewClient(srv.URL, store)
		assert.NoError(t, c.Do(ctx, "GET", "/protected", nil, nil))
	})

	t.Run("sends no header without a stored token", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Empty(t, r.Header.Get("Authorization"))
			w.WriteHeader(http.StatusNoContent)
		}))
		defer srv.Close()

		c := client.NewClient(srv.URL, client.NewMemoryStore())
		assert.NoError(t, c.Do(ctx, "GET", "/protected", nil, nil))
	})
}

func TestClient_ErrorClassification(t *testing.T) {
	ctx := context.Background()

	statusServer := func(status int, body string) *httptest.Server {
		return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			if body != "" {
				w.Write([]byte(body))
			}
		}))
	}

	t.Run("401 is unauthorized", func(t *testing.T) {
		srv := statusServer(http.StatusUnauthorized, `{"error":"invalid credentials or token"}`)
		defer srv.Close()

		err := client.NewClient(srv.URL, client.NewMemoryStore()).
			DoUnauthenticated(ctx, "GET", "/x", nil, nil)
		assert.True(t, session.IsUnauthorized(err))
	})

	t.Run("409 is a duplicate account conflict", func(t *testing.T) {
		srv := statusServer(http.StatusConflict, `{"error":"an account with this email already exists"}`)
		defer srv.Close()

		err := client.NewClient(srv.URL, client.NewMemoryStore()).
			DoUnauthenticated(ctx, "POST", "/auth/register", map[string]string{}, nil)
		assert.True(t, session.IsDuplicateAccount(err))
	})

	t.Run("422 on the password policy is a weak credential", func(t *testing.T) {
		srv := statusServer(http.StatusUnprocessableEntity, `{"error":"password does not meet the minimum requirements"}`)
		defer srv.Close()

		err := client.NewClient(srv.URL, client.NewMemoryStore()).
			DoUnauthenticated(ctx, "POST", "/auth/register", map[string]string{}, nil)
		require.Error(t, err)
		assert.True(t, session.IsWeakCredential(err))
		assert.False(t, session.IsUnauthorized(err))
		assert.Contains(t, err.Error(), "minimum requirements")
	})

	t.Run("422 on any other field stays a generic validation failure", func(t *testing.T) {
		srv := statusServer(http.StatusUnprocessableEntity, `{"error":"email: must be a valid email address."}`)
		defer srv.Close()

		err := client.NewClient(srv.URL, client.NewMemoryStore()).
			DoUnauthenticated(ctx, "POST", "/auth/register", map[string]string{}, nil)
		require.Error(t, err)
		assert.False(t, session.IsWeakCredential(err))
		assert.False(t, session.IsUnauthorized(err))
		assert.Contains(t, err.Error(), "valid email")
	})

	t.Run("unmapped statuses are server faults", func(t *testing.T) {
		srv := statusServer(http.StatusBadGateway, "")
		defer srv.Close()

		err := client.NewClient(srv.URL, client.NewMemoryStore()).
			DoUnauthenticated(ctx, "GET", "/x", nil, nil)
		require.Error(t, err)
		assert.False(t, session.IsUnauthorized(err))
	})

	t.Run("transport failures classify as network errors", func(t *testing.T) {
		srv := statusServer(http.StatusOK, "")
		srv.Close()

		err := client.NewClient(srv.URL, client.NewMemoryStore()).
			DoUnauthenticated(ctx, "GET", "/x", nil, nil)
		assert.True(t, session.IsNetworkFailure(err))
	})

	t.Run("a broken success body is a decoding failure", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("{not json"))
		}))
		defer srv.Close()

		var out map[string]string
		err := client.NewClient(srv.URL, client.NewMemoryStore()).
			DoUnauthenticated(ctx, "GET", "/x", nil, &out)
		require.Error(t, err)
		assert.False(t, session.IsNetworkFailure(err))
	})
}

func TestClient_ReactiveRefresh(t *testing.T) {
	ctx := context.Background()

	t.Run("one refresh and one retry on 401", func(t *testing.T) {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			if r.Header.Get("Authorization") == "Bearer fresh-token" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			w.WriteHeader(http.StatusUnauthorized)
		}))
		defer srv.Close()

		store := client.NewMemoryStore()
		store.Save(client.KeyAccessToken, "stale-token")

		c := client.NewClient(srv.URL, store)

		var refreshes atomic.Int32
		c.SetRefresher(refresherFunc(func(ctx context.Context) error {
			refreshes.Add(1)
			return store.Save(client.KeyAccessToken, "fresh-token")
		}))

		require.NoError(t, c.Do(ctx, "GET", "/protected", nil, nil))
		assert.Equal(t, int32(1), refreshes.Load())
		assert.Equal(t, int32(2), calls.Load())
	})

	t.Run("a failed refresh surfaces the original 401", func(t *testing.T) {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusUnauthorized)
		}))
		defer srv.Close()

		store := client.NewMemoryStore()
		store.Save(client.KeyAccessToken, "stale-token")

		c := client.NewClient(srv.URL, store)
		c.SetRefresher(refresherFunc(func(ctx context.Context) error {
			return session.ErrTokenRevoked
		}))

		err := c.Do(ctx, "GET", "/protected", nil, nil)
		assert.True(t, session.IsUnauthorized(err))
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("no refresh when the call sent no token", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		}))
		defer srv.Close()

		c := client.NewClient(srv.URL, client.NewMemoryStore())

		var refreshes atomic.Int32
		c.SetRefresher(refresherFunc(func(ctx context.Context) error {
			refreshes.Add(1)
			return nil
		}))

		err := c.Do(ctx, "GET", "/protected", nil, nil)
		assert.True(t, session.IsUnauthorized(err))
		assert.Equal(t, int32(0), refreshes.Load())
	})

	t.Run("no refresh when reactive refresh is off", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		}))
		defer srv.Close()

		store := client.NewMemoryStore()
		store.Save(client.KeyAccessToken, "stale-token")

		c := client.NewClient(srv.URL, store)

		var refreshes atomic.Int32
		c.SetRefresher(refresherFunc(func(ctx context.Context) error {
			refreshes.Add(1)
			return nil
		}))

		err := c.DoWithOptions(ctx, "GET", "/protected", nil, nil, client.CallOptions{
			Authenticated: true,
		})
		assert.True(t, session.IsUnauthorized(err))
		assert.Equal(t, int32(0), refreshes.Load())
	})
}

func TestMemoryStore(t *testing.T) {
	store := client.NewMemoryStore()

	_, ok := store.Get(client.KeyAccessToken)
	assert.False(t, ok)

	require.NoError(t, store.Save(client.KeyAccessToken, "at"))
	require.NoError(t, store.Save(client.KeyRefreshToken, "rt"))
	require.NoError(t, store.Save(client.KeyUserID, "u1"))
	require.NoError(t, store.Save(client.KeyUserEmail, "ada@example.com"))

	got, ok := store.Get(client.KeyAccessToken)
	assert.True(t, ok)
	assert.Equal(t, "at", got)

	client.ClearCredentials(store)

	for _, key := range []string{client.KeyAccessToken, client.KeyRefreshToken, client.KeyUserID, client.KeyUserEmail} {
		_, ok := store.Get(key)
		assert.False(t, ok, key)
	}
}
