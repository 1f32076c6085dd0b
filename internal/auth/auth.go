package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/bloxchat/bloxchat/internal/config"
	"github.com/bloxchat/bloxchat/internal/store"
	"github.com/bloxchat/bloxchat/internal/types"
	"github.com/bloxchat/bloxchat/internal/validate"
	"github.com/golang-jwt/jwt/v5"
)

// ErrUnauthenticated is returned for missing, invalid or expired
// tokens.
var ErrUnauthenticated = errors.New("unauthenticated")

const (
	defaultCacheTTL    = 5 * time.Minute
	cacheSweepInterval = time.Minute
	requestTimeout     = 10 * time.Second
)

type cacheEntry struct {
	user      types.User
	expiresAt time.Time
}

// Gate verifies bearer tokens against the OAuth provider and resolves
// them to users, creating or refreshing the user record on success.
// Verified tokens are cached so the per-request cost is a map lookup.
type Gate struct {
	cfg    config.OAuthConfig
	users  store.UserStore
	client *http.Client
	log    *log.Logger

	mu    sync.Mutex
	cache map[string]cacheEntry
	now   func() time.Time
	stop  chan struct{}
	once  sync.Once
}

func NewGate(cfg config.OAuthConfig, users store.UserStore, logger *log.Logger) *Gate {
	g := &Gate{
		cfg:    cfg,
		users:  users,
		client: &http.Client{Timeout: requestTimeout},
		log:    logger,
		cache:  make(map[string]cacheEntry),
		now:    time.Now,
		stop:   make(chan struct{}),
	}

	go g.sweepLoop()

	return g
}

// Verify resolves a bearer token to a user. The first verification of
// a token hits the provider's userinfo endpoint and upserts the user;
// subsequent calls are served from the cache until it expires.
func (g *Gate) Verify(ctx context.Context, token string) (types.User, error) {
	if token == "" {
		return types.User{}, ErrUnauthenticated
	}

	g.mu.Lock()
	entry, ok := g.cache[token]
	g.mu.Unlock()
	if ok && g.now().Before(entry.expiresAt) {
		return entry.user, nil
	}

	user, err := g.fetchUserinfo(ctx, token)
	if err != nil {
		return types.User{}, err
	}

	stored, err := g.users.UpsertUser(ctx, user)
	if err != nil {
		return types.User{}, fmt.Errorf("upsert user: %w", err)
	}

	g.mu.Lock()
	g.cache[token] = cacheEntry{user: stored, expiresAt: g.cacheDeadline(token)}
	g.mu.Unlock()

	return stored, nil
}

// cacheDeadline bounds a cache entry's life by the token's own expiry
// when the token is JWT-shaped, so the cache never outlives the token.
func (g *Gate) cacheDeadline(token string) time.Time {
	deadline := g.now().Add(defaultCacheTTL)

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return deadline
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return deadline
	}
	if exp.Time.Before(deadline) {
		return exp.Time
	}
	return deadline
}

type userinfoResponse struct {
	Sub               string `json:"sub"`
	PreferredUsername string `json:"preferred_username"`
	Name              string `json:"name"`
	Nickname          string `json:"nickname"`
}

func (g *Gate) fetchUserinfo(ctx context.Context, token string) (types.User, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.cfg.BaseURL+"/v1/userinfo", nil)
	if err != nil {
		return types.User{}, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := g.client.Do(req)
	if err != nil {
		return types.User{}, fmt.Errorf("userinfo request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return types.User{}, ErrUnauthenticated
	}
	if resp.StatusCode != http.StatusOK {
		return types.User{}, fmt.Errorf("userinfo status %d", resp.StatusCode)
	}

	var info userinfoResponse
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return types.User{}, fmt.Errorf("decode userinfo: %w", err)
	}

	userId, err := strconv.Atoi(info.Sub)
	if err != nil || userId <= 0 {
		return types.User{}, ErrUnauthenticated
	}

	username := validate.SanitizeUsername(info.PreferredUsername)
	if username == "" {
		return types.User{}, ErrUnauthenticated
	}

	displayName := info.Nickname
	if displayName == "" {
		displayName = info.Name
	}
	if len(displayName) > 100 {
		displayName = displayName[:100]
	}

	return types.User{
		Id:          userId,
		Username:    username,
		DisplayName: displayName,
	}, nil
}

func (g *Gate) sweepLoop() {
	ticker := time.NewTicker(cacheSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			g.sweep()
		case <-g.stop:
			return
		}
	}
}

func (g *Gate) sweep() {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	for token, entry := range g.cache {
		if !now.Before(entry.expiresAt) {
			delete(g.cache, token)
		}
	}
}

func (g *Gate) Stop() {
	g.once.Do(func() { close(g.stop) })
}
