package api

import (
	"crypto/subtle"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/bloxchat/bloxchat/internal/stats"
)

const relaySecretHeader = "X-Relay-Secret"

func (s *ChatApp) errorHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				var panicError error
				switch e := err.(type) {
				case error:
					panicError = e
				default:
					panicError = fmt.Errorf("%v", e)
				}
				s.log.Printf("panic: %v", panicError)
				errResp := NewInternalServerError(panicError)
				w.Header().Set("Connection", "close")
				s.writeJson(w, errResp.StatusCode, errResp)
				return
			}
		}()

		next.ServeHTTP(w, r)
	})
}

func (s *ChatApp) authMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			s.writeError(w, NewUnauthorizedError())
			return
		}

		user, err := s.gate.Verify(r.Context(), token)
		if err != nil {
			s.log.Printf("token verification failed: %v", err)
			s.writeError(w, NewUnauthorizedError())
			return
		}

		ctx := WithUser(r.Context(), user)
		w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, private")

		next(w, r.WithContext(ctx))
	}
}

// ipLimitMiddleware guards the unauthenticated OAuth proxy routes.
func (s *ChatApp) ipLimitMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res := s.ipLimiter.Allow(clientIP(r))
		if !res.Allowed {
			s.stats.Incr(stats.NumRateLimitDenials)
			s.writeError(w, NewRateLimitError(int(res.RetryAfter/time.Second)))
			return
		}

		next(w, r)
	}
}

// relayMiddleware authenticates the game-relay ingest endpoint with
// the shared secret. An empty configured secret rejects everything.
func (s *ChatApp) relayMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		secret := []byte(r.Header.Get(relaySecretHeader))
		if len(s.relaySecret) == 0 || subtle.ConstantTimeCompare(secret, s.relaySecret) != 1 {
			s.writeError(w, NewUnauthorizedError())
			return
		}

		next(w, r)
	}
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		return "", false
	}
	return token, true
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
