package api

import (
	"context"
	"net/http"
	"testing"

	"github.com/bloxchat/bloxchat/internal/auth"
	"github.com/bloxchat/bloxchat/internal/config"
	"github.com/bloxchat/bloxchat/internal/server"
	"github.com/bloxchat/bloxchat/internal/stats"
	"github.com/bloxchat/bloxchat/internal/store"
	"github.com/bloxchat/bloxchat/internal/supervisor"
	"github.com/bloxchat/bloxchat/internal/testutil"
	"github.com/bloxchat/bloxchat/internal/validate"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.Config {
	return &config.Config{
		ServerAddr:       "127.0.0.1:0",
		AllowedOrigins:   []string{"https://chat.example.com"},
		LinkAllowedHosts: []string{"roblox.com"},
		RelaySecret:      "relay-secret",
	}
}

func newTestApp(t *testing.T, st store.Store) *ChatApp {
	t.Helper()

	cfg := testConfig()
	logger := testutil.TestLogger(t)

	su := &stats.MockStatsUpdater{}
	su.On("Incr", mock.Anything).Maybe()
	su.On("Decr", mock.Anything).Maybe()

	validator := validate.NewValidator(cfg.LinkAllowedHosts)
	cs := server.NewChatServer(logger, st, su, validator)
	t.Cleanup(cs.Typing().Stop)

	gate := auth.NewGate(cfg.OAuth, st, logger)
	t.Cleanup(gate.Stop)

	sup := supervisor.New(logger, func(ctx context.Context) (store.Store, error) {
		return st, nil
	})
	require.NoError(t, sup.Connect(context.Background()))

	app := NewChatApp(logger, cfg, http.NewServeMux(), cs, st, gate, sup, su, validator)
	t.Cleanup(app.ipLimiter.Stop)
	t.Cleanup(app.userLimiter.Stop)

	return app
}
