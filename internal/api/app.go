package api

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"slices"
	"time"

	"github.com/gorilla/handlers"

	"github.com/bloxchat/bloxchat/internal/auth"
	"github.com/bloxchat/bloxchat/internal/config"
	"github.com/bloxchat/bloxchat/internal/ratelimit"
	"github.com/bloxchat/bloxchat/internal/server"
	"github.com/bloxchat/bloxchat/internal/stats"
	"github.com/bloxchat/bloxchat/internal/store"
	"github.com/bloxchat/bloxchat/internal/supervisor"
	"github.com/bloxchat/bloxchat/internal/validate"
)

const (
	ipLimitMax      = 15
	ipLimitWindow   = time.Minute
	ipSweepInterval = 5 * time.Minute

	userLimitMax    = 10
	userLimitWindow = 5 * time.Second

	// sendRetryAfterSec is returned to a rate-limited sender.
	sendRetryAfterSec = 10
)

// ChatApp is the HTTP surface: OAuth proxy, chat send/history, the
// game-relay ingest endpoint, health, and the websocket handshake.
type ChatApp struct {
	log       *log.Logger
	store     store.Store
	cs        *server.ChatServer
	gate      *auth.Gate
	sup       *supervisor.Supervisor
	stats     stats.StatsProvider
	validator *validate.Validator

	ipLimiter   *ratelimit.Limiter
	userLimiter *ratelimit.Limiter

	relaySecret    []byte
	allowedOrigins []string

	mux *http.Server
}

func NewChatApp(logger *log.Logger, cfg *config.Config, mux *http.ServeMux, cs *server.ChatServer,
	st store.Store, gate *auth.Gate, sup *supervisor.Supervisor, sp stats.StatsProvider,
	validator *validate.Validator) *ChatApp {

	s := &ChatApp{
		log:            logger,
		store:          st,
		cs:             cs,
		gate:           gate,
		sup:            sup,
		stats:          sp,
		validator:      validator,
		ipLimiter:      ratelimit.NewLimiter(ipLimitMax, ipLimitWindow, ipSweepInterval),
		userLimiter:    ratelimit.NewLimiter(userLimitMax, userLimitWindow, ipSweepInterval),
		relaySecret:    []byte(cfg.RelaySecret),
		allowedOrigins: cfg.AllowedOrigins,
	}

	mux.HandleFunc("POST /api/oauth/exchange", s.ipLimitMiddleware(s.exchangeToken))
	mux.HandleFunc("POST /api/oauth/refresh", s.ipLimitMiddleware(s.refreshToken))
	mux.HandleFunc("POST /api/auth/verify", s.ipLimitMiddleware(s.verifyToken))
	mux.HandleFunc("GET /api/auth/user", s.authMiddleware(s.getUser))
	mux.HandleFunc("POST /api/chat/send", s.authMiddleware(s.sendMessage))
	mux.HandleFunc("GET /api/chat/history", s.authMiddleware(s.getHistory))
	mux.HandleFunc("POST /api/chat/receive", s.relayMiddleware(s.receiveMessage))
	mux.HandleFunc("GET /health", s.health)
	mux.HandleFunc("GET /ws", s.authMiddleware(s.serveWs))

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept", "Authorization", relaySecretHeader}),
		handlers.AllowCredentials(),
	)(mux)

	h = s.errorHandler(h)

	s.mux = &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: h,
	}

	return s
}

func (s *ChatApp) Start() error {
	s.log.Printf("starting server on %s\n", s.mux.Addr)
	return s.mux.ListenAndServe()
}

func (s *ChatApp) Shutdown(ctx context.Context) error {
	s.log.Println("shutting down HTTP server...")
	s.ipLimiter.Stop()
	s.userLimiter.Stop()
	if err := s.mux.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}

// originAllowed admits configured origins plus the desktop client
// (file:// pages send "null" or a file origin) and localhost dev.
func (s *ChatApp) originAllowed(origin string) bool {
	if origin == "" || origin == "null" {
		return true
	}

	if slices.Contains(s.allowedOrigins, origin) {
		return true
	}

	u, err := url.Parse(origin)
	if err != nil {
		return false
	}

	if u.Scheme == "file" {
		return true
	}

	host := u.Hostname()
	return host == "localhost" || host == "127.0.0.1"
}
