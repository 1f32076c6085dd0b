package auth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bloxchat/bloxchat/internal/config"
	"github.com/bloxchat/bloxchat/internal/store"
	"github.com/bloxchat/bloxchat/internal/testutil"
	"github.com/bloxchat/bloxchat/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newTestGate(t *testing.T, providerURL string, users store.UserStore) *Gate {
	g := NewGate(config.OAuthConfig{
		ClientId:     "client",
		ClientSecret: "secret",
		RedirectURI:  "http://localhost/callback",
		BaseURL:      providerURL,
	}, users, testutil.TestLogger(t))
	t.Cleanup(g.Stop)
	return g
}

func userinfoProvider(t *testing.T, calls *atomic.Int64) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/userinfo", r.URL.Path)
		calls.Add(1)

		switch r.Header.Get("Authorization") {
		case "Bearer good-token":
			json.NewEncoder(w).Encode(map[string]string{
				"sub":                "12345",
				"preferred_username": "Builderman",
				"nickname":           "The Builder",
			})
		default:
			w.WriteHeader(http.StatusUnauthorized)
		}
	}))
}

func TestGate_Verify(t *testing.T) {
	var calls atomic.Int64
	provider := userinfoProvider(t, &calls)
	defer provider.Close()

	mockStore := &store.MockStore{}
	defer mockStore.AssertExpectations(t)
	expectedUser := types.User{Id: 12345, Username: "Builderman", DisplayName: "The Builder"}
	mockStore.On("UpsertUser", mock.Anything, expectedUser).Return(expectedUser, nil).Once()

	g := newTestGate(t, provider.URL, mockStore)

	user, err := g.Verify(context.Background(), "good-token")
	require.NoError(t, err)
	assert.Equal(t, expectedUser, user)

	// second verification is served from the cache
	user, err = g.Verify(context.Background(), "good-token")
	require.NoError(t, err)
	assert.Equal(t, expectedUser, user)
	assert.Equal(t, int64(1), calls.Load(), "expected a single userinfo round trip")
}

func TestGate_Verify_badToken(t *testing.T) {
	var calls atomic.Int64
	provider := userinfoProvider(t, &calls)
	defer provider.Close()

	g := newTestGate(t, provider.URL, &store.MockStore{})

	_, err := g.Verify(context.Background(), "bad-token")
	assert.ErrorIs(t, err, ErrUnauthenticated)

	_, err = g.Verify(context.Background(), "")
	assert.ErrorIs(t, err, ErrUnauthenticated)
	assert.Equal(t, int64(1), calls.Load(), "empty token must not reach the provider")
}

func TestGate_cacheExpiry(t *testing.T) {
	var calls atomic.Int64
	provider := userinfoProvider(t, &calls)
	defer provider.Close()

	mockStore := &store.MockStore{}
	user := types.User{Id: 12345, Username: "Builderman", DisplayName: "The Builder"}
	mockStore.On("UpsertUser", mock.Anything, mock.Anything).Return(user, nil).Twice()

	g := newTestGate(t, provider.URL, mockStore)
	now := time.Now()
	g.now = func() time.Time { return now }

	_, err := g.Verify(context.Background(), "good-token")
	require.NoError(t, err)

	now = now.Add(defaultCacheTTL + time.Second)
	_, err = g.Verify(context.Background(), "good-token")
	require.NoError(t, err)
	assert.Equal(t, int64(2), calls.Load(), "expired cache entry must re-verify upstream")

	g.sweep()
	g.mu.Lock()
	assert.Len(t, g.cache, 1)
	g.mu.Unlock()
}

// unsigned JWT with the given exp; enough for ParseUnverified.
func jwtWithExp(exp time.Time) string {
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"none","typ":"JWT"}`))
	payload := base64.RawURLEncoding.EncodeToString([]byte(fmt.Sprintf(`{"exp":%d}`, exp.Unix())))
	return header + "." + payload + "."
}

func TestGate_cacheDeadline(t *testing.T) {
	g := &Gate{now: time.Now}

	t.Run("opaque token gets default TTL", func(t *testing.T) {
		deadline := g.cacheDeadline("opaque-token")
		assert.WithinDuration(t, time.Now().Add(defaultCacheTTL), deadline, time.Second)
	})

	t.Run("jwt expiry caps the deadline", func(t *testing.T) {
		exp := time.Now().Add(30 * time.Second)
		deadline := g.cacheDeadline(jwtWithExp(exp))
		assert.WithinDuration(t, exp, deadline, time.Second)
	})

	t.Run("distant jwt expiry falls back to default", func(t *testing.T) {
		deadline := g.cacheDeadline(jwtWithExp(time.Now().Add(24 * time.Hour)))
		assert.WithinDuration(t, time.Now().Add(defaultCacheTTL), deadline, time.Second)
	})
}

func TestGate_Exchange(t *testing.T) {
	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/token", r.URL.Path)
		require.NoError(t, r.ParseForm())

		assert.Equal(t, "authorization_code", r.Form.Get("grant_type"))
		assert.Equal(t, "client", r.Form.Get("client_id"))
		assert.Equal(t, "secret", r.Form.Get("client_secret"))
		assert.Equal(t, "verifier", r.Form.Get("code_verifier"))

		if r.Form.Get("code") != "valid-code" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "at",
			"refresh_token": "rt",
			"id_token":      "idt",
			"expires_in":    899,
			"token_type":    "Bearer",
		})
	}))
	defer provider.Close()

	g := newTestGate(t, provider.URL, &store.MockStore{})

	tokens, err := g.Exchange(context.Background(), "valid-code", "verifier")
	require.NoError(t, err)
	assert.Equal(t, TokenBundle{
		AccessToken:  "at",
		RefreshToken: "rt",
		IdToken:      "idt",
		ExpiresIn:    899,
		TokenType:    "Bearer",
	}, tokens)

	_, err = g.Exchange(context.Background(), "bad-code", "verifier")
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestGate_Refresh(t *testing.T) {
	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.Form.Get("grant_type"))

		if r.Form.Get("refresh_token") != "valid-rt" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "new-at",
			"token_type":   "Bearer",
		})
	}))
	defer provider.Close()

	g := newTestGate(t, provider.URL, &store.MockStore{})

	tokens, err := g.Refresh(context.Background(), "valid-rt")
	require.NoError(t, err)
	assert.Equal(t, "new-at", tokens.AccessToken)

	_, err = g.Refresh(context.Background(), "expired-rt")
	assert.ErrorIs(t, err, ErrUnauthenticated)
}
