package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bloxchat/bloxchat/internal/store"
	"github.com/bloxchat/bloxchat/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func jsonBody(t *testing.T, v any) *bytes.Buffer {
	t.Helper()
	buf := &bytes.Buffer{}
	require.NoError(t, json.NewEncoder(buf).Encode(v))
	return buf
}

func authedRequest(method, target string, body *bytes.Buffer, user types.User) *http.Request {
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, target, body)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	return req.WithContext(WithUser(req.Context(), user))
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) ApiError {
	t.Helper()
	var e ApiError
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&e))
	return e
}

func Test_sendMessage(t *testing.T) {
	alice := types.User{Id: 1, Username: "alice"}

	t.Run("sends and responds with the stored message", func(t *testing.T) {
		st := &store.MockStore{}
		st.On("Insert", mock.Anything, mock.MatchedBy(func(m types.Message) bool {
			return m.ChatType == types.ChatTypeServer && m.JobId == "abc-123" &&
				m.UserId == 1 && m.Content == "hello there"
		})).Return(types.Message{
			Id: "m1", ChatType: types.ChatTypeServer, JobId: "abc-123",
			UserId: 1, Username: "alice", Content: "hello there", CreatedAt: time.Now().UTC(),
		}, nil)
		st.On("CapRoom", mock.Anything, "server:abc-123", store.RoomMessageCap).Return(nil)

		app := newTestApp(t, st)

		rr := httptest.NewRecorder()
		req := authedRequest(http.MethodPost, "/api/chat/send", jsonBody(t, SendRequest{
			ChatType: types.ChatTypeServer,
			JobId:    "ABC-123",
			Message:  "  hello   there ",
		}), alice)

		app.sendMessage(rr, req)

		require.Equal(t, http.StatusOK, rr.Code)
		var resp SendResponse
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
		assert.Equal(t, "m1", resp.Message.Id)
		assert.Equal(t, "hello there", resp.Message.Content)
		st.AssertExpectations(t)
	})

	t.Run("shape errors", func(t *testing.T) {
		tcases := []struct {
			name string
			req  SendRequest
		}{
			{
				name: "missing discriminator",
				req:  SendRequest{ChatType: types.ChatTypeServer, Message: "hi"},
			},
			{
				name: "unknown chat type",
				req:  SendRequest{ChatType: "party", JobId: "abc", Message: "hi"},
			},
			{
				name: "empty message",
				req:  SendRequest{ChatType: types.ChatTypeGlobal, PlaceId: "1818", Message: "   "},
			},
			{
				name: "malformed job id",
				req:  SendRequest{ChatType: types.ChatTypeServer, JobId: "not hex!", Message: "hi"},
			},
		}

		for _, tc := range tcases {
			t.Run(tc.name, func(t *testing.T) {
				st := &store.MockStore{}
				app := newTestApp(t, st)

				rr := httptest.NewRecorder()
				app.sendMessage(rr, authedRequest(http.MethodPost, "/api/chat/send", jsonBody(t, tc.req), alice))

				assert.Equal(t, http.StatusBadRequest, rr.Code)
				assert.False(t, decodeError(t, rr).Success)
				st.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything)
			})
		}
	})

	t.Run("rejected content returns the category", func(t *testing.T) {
		st := &store.MockStore{}
		app := newTestApp(t, st)

		rr := httptest.NewRecorder()
		app.sendMessage(rr, authedRequest(http.MethodPost, "/api/chat/send", jsonBody(t, SendRequest{
			ChatType: types.ChatTypeGlobal, PlaceId: "1818",
			Message: "check https://evil.example/free-robux",
		}), alice))

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Contains(t, decodeError(t, rr).Message, "link")
		st.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything)
	})

	t.Run("rate limit trips on the eleventh send", func(t *testing.T) {
		st := &store.MockStore{}
		st.On("Insert", mock.Anything, mock.Anything).Return(types.Message{Id: "m"}, nil)
		st.On("CapRoom", mock.Anything, mock.Anything, mock.Anything).Return(nil)

		app := newTestApp(t, st)

		for i := 0; i < 10; i++ {
			rr := httptest.NewRecorder()
			app.sendMessage(rr, authedRequest(http.MethodPost, "/api/chat/send", jsonBody(t, SendRequest{
				ChatType: types.ChatTypeGlobal, PlaceId: "1818", Message: fmt.Sprintf("msg %d", i),
			}), alice))
			require.Equal(t, http.StatusOK, rr.Code)
		}

		rr := httptest.NewRecorder()
		app.sendMessage(rr, authedRequest(http.MethodPost, "/api/chat/send", jsonBody(t, SendRequest{
			ChatType: types.ChatTypeGlobal, PlaceId: "1818", Message: "one too many",
		}), alice))

		require.Equal(t, http.StatusTooManyRequests, rr.Code)
		assert.Equal(t, "10", rr.Header().Get("Retry-After"))
		e := decodeError(t, rr)
		assert.Equal(t, 10, e.RetryAfter)
		assert.Contains(t, e.Message, "too quickly")
	})

	t.Run("cap failure does not fail the send", func(t *testing.T) {
		st := &store.MockStore{}
		st.On("Insert", mock.Anything, mock.Anything).Return(types.Message{Id: "m1"}, nil)
		st.On("CapRoom", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("deadlock"))

		app := newTestApp(t, st)

		rr := httptest.NewRecorder()
		app.sendMessage(rr, authedRequest(http.MethodPost, "/api/chat/send", jsonBody(t, SendRequest{
			ChatType: types.ChatTypeGlobal, PlaceId: "1818", Message: "hi",
		}), alice))

		assert.Equal(t, http.StatusOK, rr.Code)
	})

	t.Run("store failure returns 503", func(t *testing.T) {
		st := &store.MockStore{}
		st.On("Insert", mock.Anything, mock.Anything).Return(types.Message{}, errors.New("connection refused"))

		app := newTestApp(t, st)

		rr := httptest.NewRecorder()
		app.sendMessage(rr, authedRequest(http.MethodPost, "/api/chat/send", jsonBody(t, SendRequest{
			ChatType: types.ChatTypeGlobal, PlaceId: "1818", Message: "hi",
		}), alice))

		assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	})
}

func Test_getHistory(t *testing.T) {
	alice := types.User{Id: 1, Username: "alice"}

	t.Run("returns messages oldest first", func(t *testing.T) {
		newer := types.Message{Id: "m2", CreatedAt: time.Now().UTC()}
		older := types.Message{Id: "m1", CreatedAt: time.Now().UTC().Add(-time.Minute)}

		st := &store.MockStore{}
		st.On("ListByRoom", mock.Anything, "global:1818", store.RoomMessageCap, time.Time{}).
			Return([]types.Message{newer, older}, nil)

		app := newTestApp(t, st)

		rr := httptest.NewRecorder()
		app.getHistory(rr, authedRequest(http.MethodGet, "/api/chat/history?chatType=global&placeId=1818", nil, alice))

		require.Equal(t, http.StatusOK, rr.Code)
		var resp HistoryResponse
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
		require.Len(t, resp.Messages, 2)
		assert.Equal(t, "m1", resp.Messages[0].Id)
		assert.Equal(t, "m2", resp.Messages[1].Id)
	})

	t.Run("empty room yields an empty list", func(t *testing.T) {
		st := &store.MockStore{}
		st.On("ListByRoom", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return(nil, nil)

		app := newTestApp(t, st)

		rr := httptest.NewRecorder()
		app.getHistory(rr, authedRequest(http.MethodGet, "/api/chat/history?chatType=global&placeId=1818", nil, alice))

		require.Equal(t, http.StatusOK, rr.Code)
		assert.JSONEq(t, `{"messages":[]}`, rr.Body.String())
	})

	t.Run("limit is clamped to the room cap", func(t *testing.T) {
		st := &store.MockStore{}
		st.On("ListByRoom", mock.Anything, "global:1818", store.RoomMessageCap, time.Time{}).
			Return(nil, nil)

		app := newTestApp(t, st)

		rr := httptest.NewRecorder()
		app.getHistory(rr, authedRequest(http.MethodGet, "/api/chat/history?chatType=global&placeId=1818&limit=500", nil, alice))

		assert.Equal(t, http.StatusOK, rr.Code)
		st.AssertExpectations(t)
	})

	t.Run("bad parameters", func(t *testing.T) {
		for name, target := range map[string]string{
			"unknown chat type": "/api/chat/history?chatType=direct&jobId=abc",
			"missing placeId":   "/api/chat/history?chatType=global",
			"bad limit":         "/api/chat/history?chatType=global&placeId=1818&limit=zero",
			"bad before":        "/api/chat/history?chatType=global&placeId=1818&before=yesterday",
		} {
			t.Run(name, func(t *testing.T) {
				app := newTestApp(t, &store.MockStore{})

				rr := httptest.NewRecorder()
				app.getHistory(rr, authedRequest(http.MethodGet, target, nil, alice))

				assert.Equal(t, http.StatusBadRequest, rr.Code)
			})
		}
	})
}

func Test_receiveMessage(t *testing.T) {
	body := func(t *testing.T) *bytes.Buffer {
		return jsonBody(t, ReceiveRequest{
			JobId: "abc-123", UserId: 7, Username: "bob", Message: "from the game",
		})
	}

	t.Run("wrong secret rejected", func(t *testing.T) {
		st := &store.MockStore{}
		app := newTestApp(t, st)
		handler := app.relayMiddleware(app.receiveMessage)

		for _, secret := range []string{"", "wrong"} {
			rr := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/api/chat/receive", body(t))
			if secret != "" {
				req.Header.Set(relaySecretHeader, secret)
			}
			handler(rr, req)
			assert.Equal(t, http.StatusUnauthorized, rr.Code)
		}
		st.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything)
	})

	t.Run("empty configured secret disables the endpoint", func(t *testing.T) {
		app := newTestApp(t, &store.MockStore{})
		app.relaySecret = nil
		handler := app.relayMiddleware(app.receiveMessage)

		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/chat/receive", body(t))
		req.Header.Set(relaySecretHeader, "")
		handler(rr, req)

		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("valid secret ingests the message", func(t *testing.T) {
		st := &store.MockStore{}
		st.On("Insert", mock.Anything, mock.MatchedBy(func(m types.Message) bool {
			return m.ChatType == types.ChatTypeServer && m.JobId == "abc-123" &&
				m.UserId == 7 && m.Username == "bob"
		})).Return(types.Message{Id: "m1"}, nil)
		st.On("CapRoom", mock.Anything, "server:abc-123", store.RoomMessageCap).Return(nil)

		app := newTestApp(t, st)
		handler := app.relayMiddleware(app.receiveMessage)

		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/chat/receive", body(t))
		req.Header.Set(relaySecretHeader, "relay-secret")
		handler(rr, req)

		require.Equal(t, http.StatusOK, rr.Code)
		st.AssertExpectations(t)
	})

	t.Run("shape check", func(t *testing.T) {
		app := newTestApp(t, &store.MockStore{})

		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/chat/receive",
			jsonBody(t, ReceiveRequest{UserId: 7, Username: "bob", Message: "hi"}))
		app.receiveMessage(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})
}

func Test_getUser(t *testing.T) {
	alice := types.User{Id: 1, Username: "alice"}

	t.Run("found", func(t *testing.T) {
		st := &store.MockStore{}
		st.On("GetUserById", mock.Anything, 7).Return(types.User{Id: 7, Username: "bob"}, nil)

		app := newTestApp(t, st)

		rr := httptest.NewRecorder()
		app.getUser(rr, authedRequest(http.MethodGet, "/api/auth/user?userId=7", nil, alice))

		require.Equal(t, http.StatusOK, rr.Code)
		var resp UserResponse
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
		assert.Equal(t, "bob", resp.User.Username)
	})

	t.Run("not found", func(t *testing.T) {
		st := &store.MockStore{}
		st.On("GetUserById", mock.Anything, 7).Return(types.User{}, store.ErrNotFound)

		app := newTestApp(t, st)

		rr := httptest.NewRecorder()
		app.getUser(rr, authedRequest(http.MethodGet, "/api/auth/user?userId=7", nil, alice))

		assert.Equal(t, http.StatusNotFound, rr.Code)
	})

	t.Run("bad id", func(t *testing.T) {
		app := newTestApp(t, &store.MockStore{})

		rr := httptest.NewRecorder()
		app.getUser(rr, authedRequest(http.MethodGet, "/api/auth/user?userId=bogus", nil, alice))

		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})
}

func Test_health(t *testing.T) {
	t.Run("connected", func(t *testing.T) {
		st := &store.MockStore{}
		st.On("Ping", mock.Anything).Return(nil)

		app := newTestApp(t, st)

		rr := httptest.NewRecorder()
		app.health(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

		require.Equal(t, http.StatusOK, rr.Code)
		var resp HealthResponse
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
		assert.Equal(t, "ok", resp.Status)
		assert.True(t, resp.Database.Connected)
		assert.Equal(t, "closed", resp.Database.CircuitBreaker)
	})

	t.Run("disconnected", func(t *testing.T) {
		st := &store.MockStore{}
		st.On("Ping", mock.Anything).Return(errors.New("broken pipe"))

		app := newTestApp(t, st)

		rr := httptest.NewRecorder()
		app.health(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

		require.Equal(t, http.StatusServiceUnavailable, rr.Code)
		var resp HealthResponse
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
		assert.Equal(t, "unavailable", resp.Status)
		assert.False(t, resp.Database.Connected)
	})
}
