package server

import (
	"testing"
	"time"

	"github.com/bloxchat/bloxchat/internal/stats"
	"github.com/bloxchat/bloxchat/internal/store"
	"github.com/bloxchat/bloxchat/internal/testutil"
	"github.com/bloxchat/bloxchat/internal/types"
	"github.com/bloxchat/bloxchat/internal/validate"
	"github.com/stretchr/testify/mock"
)

func newTestChatServer(t *testing.T, st store.Store) *ChatServer {
	t.Helper()

	su := &stats.MockStatsUpdater{}
	su.On("Incr", mock.Anything).Maybe()
	su.On("Decr", mock.Anything).Maybe()

	cs := NewChatServer(testutil.TestLogger(t), st, su, validate.NewValidator([]string{"roblox.com"}))
	t.Cleanup(cs.typing.Stop)
	return cs
}

func newTestRoom(t *testing.T, cs *ChatServer, id string) *Room {
	t.Helper()

	// mirror start(): the reap timer begins stopped
	reapTimer := time.NewTimer(time.Hour)
	reapTimer.Stop()

	return &Room{
		id:        id,
		cs:        cs,
		joinChan:  make(chan *Client, 16),
		leaveChan: make(chan *Client, 16),
		eventChan: make(chan *ServerEvent, 16),
		exit:      make(chan exitReq),
		done:      make(chan struct{}),
		clients:   make(map[*Client]struct{}),
		reapTimer: reapTimer,
		log:       testutil.TestLogger(t),
	}
}

func newTestClient(t *testing.T, cs *ChatServer, user types.User) *Client {
	t.Helper()
	return NewClient(user, nil, cs, testutil.TestLogger(t))
}
