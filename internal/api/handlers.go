package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bloxchat/bloxchat/internal/auth"
	"github.com/bloxchat/bloxchat/internal/server"
	"github.com/bloxchat/bloxchat/internal/stats"
	"github.com/bloxchat/bloxchat/internal/store"
	"github.com/bloxchat/bloxchat/internal/supervisor"
	"github.com/bloxchat/bloxchat/internal/types"
	"github.com/bloxchat/bloxchat/internal/validate"
)

const storeTimeout = 10 * time.Second

type ExchangeRequest struct {
	Code         string `json:"code"`
	CodeVerifier string `json:"codeVerifier"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type VerifyRequest struct {
	Token string `json:"token"`
}

type TokenResponse struct {
	Tokens auth.TokenBundle `json:"tokens"`
}

type UserResponse struct {
	User types.User `json:"user"`
}

type SendRequest struct {
	ChatType types.ChatType `json:"chatType"`
	JobId    string         `json:"jobId,omitempty"`
	PlaceId  string         `json:"placeId,omitempty"`
	Message  string         `json:"message"`
}

type SendResponse struct {
	Message types.Message `json:"message"`
}

type HistoryResponse struct {
	Messages []types.Message `json:"messages"`
}

type ReceiveRequest struct {
	JobId     string     `json:"jobId"`
	UserId    int        `json:"userId"`
	Username  string     `json:"username"`
	Message   string     `json:"message"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

type HealthResponse struct {
	Status   string            `json:"status"`
	Database supervisor.Health `json:"database"`
}

func (s *ChatApp) writeJson(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Printf("json encode: %v", err)
	}
}

func (s *ChatApp) writeError(w http.ResponseWriter, e *ApiError) {
	if e.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(e.RetryAfter))
	}
	s.writeJson(w, e.StatusCode, e)
}

func (s *ChatApp) exchangeToken(w http.ResponseWriter, r *http.Request) {
	var req ExchangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Code == "" || req.CodeVerifier == "" {
		s.writeError(w, NewBadRequestError("code and codeVerifier are required"))
		return
	}

	tokens, err := s.gate.Exchange(r.Context(), req.Code, req.CodeVerifier)
	if err != nil {
		if errors.Is(err, auth.ErrUnauthenticated) {
			s.writeError(w, NewUnauthorizedError())
			return
		}
		s.log.Printf("token exchange: %v", err)
		s.writeError(w, NewBadGatewayError(err))
		return
	}

	s.writeJson(w, http.StatusOK, TokenResponse{Tokens: tokens})
}

func (s *ChatApp) refreshToken(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RefreshToken == "" {
		s.writeError(w, NewBadRequestError("refreshToken is required"))
		return
	}

	tokens, err := s.gate.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		if errors.Is(err, auth.ErrUnauthenticated) {
			s.writeError(w, NewUnauthorizedError())
			return
		}
		s.log.Printf("token refresh: %v", err)
		s.writeError(w, NewBadGatewayError(err))
		return
	}

	s.writeJson(w, http.StatusOK, TokenResponse{Tokens: tokens})
}

func (s *ChatApp) verifyToken(w http.ResponseWriter, r *http.Request) {
	var req VerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Token == "" {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	user, err := s.gate.Verify(r.Context(), req.Token)
	if err != nil {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	s.writeJson(w, http.StatusOK, UserResponse{User: user})
}

func (s *ChatApp) getUser(w http.ResponseWriter, r *http.Request) {
	idStr := r.URL.Query().Get("userId")
	userId, err := strconv.Atoi(idStr)
	if err != nil || userId < 1 {
		s.writeError(w, NewBadRequestError("invalid userId"))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), storeTimeout)
	defer cancel()

	user, err := s.store.GetUserById(ctx, userId)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.writeError(w, NewNotFoundError())
			return
		}
		s.log.Printf("get user %d: %v", userId, err)
		s.writeError(w, NewServiceUnavailableError(err))
		return
	}

	s.writeJson(w, http.StatusOK, UserResponse{User: user})
}

func (s *ChatApp) sendMessage(w http.ResponseWriter, r *http.Request) {
	user, ok := SessionUser(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	if res := s.userLimiter.Allow(strconv.Itoa(user.Id)); !res.Allowed {
		s.stats.Incr(stats.NumRateLimitDenials)
		e := NewRateLimitError(sendRetryAfterSec)
		e.Message = "You're sending messages too quickly. Slow down."
		s.writeError(w, e)
		return
	}

	var req SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, NewBadRequestError("invalid request body"))
		return
	}

	roomId, err := types.RoomIdFor(req.ChatType, req.JobId, req.PlaceId)
	if err != nil {
		s.writeError(w, NewBadRequestError(err.Error()))
		return
	}
	if !types.ValidRoomId(roomId) {
		s.writeError(w, NewBadRequestError("invalid room id"))
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		s.writeError(w, NewBadRequestError("message cannot be empty"))
		return
	}

	if err := s.validator.Validate(req.Message); err != nil {
		s.writeError(w, NewBadRequestError(err.Error()))
		return
	}

	msg := types.Message{
		ChatType: req.ChatType,
		JobId:    strings.ToLower(req.JobId),
		PlaceId:  req.PlaceId,
		UserId:   user.Id,
		Username: user.Username,
		Content:  validate.Sanitize(req.Message),
	}

	ctx, cancel := context.WithTimeout(r.Context(), storeTimeout)
	defer cancel()

	saved, err := s.store.Insert(ctx, msg)
	if err != nil {
		s.log.Printf("insert message: %v", err)
		s.writeError(w, NewServiceUnavailableError(err))
		return
	}

	// history trimming is best-effort; the send already succeeded
	if err := s.store.CapRoom(ctx, roomId, store.RoomMessageCap); err != nil {
		s.log.Printf("cap room %q: %v", roomId, err)
	}

	s.cs.Broadcast(roomId, server.MessageEvent(saved))
	s.stats.Incr(stats.NumMessagesSent)

	s.writeJson(w, http.StatusOK, SendResponse{Message: saved})
}

func (s *ChatApp) getHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	roomId, err := types.RoomIdFor(types.ChatType(q.Get("chatType")), q.Get("jobId"), q.Get("placeId"))
	if err != nil {
		s.writeError(w, NewBadRequestError(err.Error()))
		return
	}
	if !types.ValidRoomId(roomId) {
		s.writeError(w, NewBadRequestError("invalid room id"))
		return
	}

	limit := store.RoomMessageCap
	if l := q.Get("limit"); l != "" {
		limit, err = strconv.Atoi(l)
		if err != nil || limit < 1 {
			s.writeError(w, NewBadRequestError("invalid limit"))
			return
		}
		if limit > store.RoomMessageCap {
			limit = store.RoomMessageCap
		}
	}

	var before time.Time
	if b := q.Get("before"); b != "" {
		before, err = time.Parse(time.RFC3339, b)
		if err != nil {
			s.writeError(w, NewBadRequestError("invalid before timestamp"))
			return
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), storeTimeout)
	defer cancel()

	msgs, err := s.store.ListByRoom(ctx, roomId, limit, before)
	if err != nil {
		s.log.Printf("list room %q: %v", roomId, err)
		s.writeError(w, NewServiceUnavailableError(err))
		return
	}

	// store returns newest first; clients want chronological
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	if msgs == nil {
		msgs = []types.Message{}
	}

	s.writeJson(w, http.StatusOK, HistoryResponse{Messages: msgs})
}

func (s *ChatApp) receiveMessage(w http.ResponseWriter, r *http.Request) {
	var req ReceiveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, NewBadRequestError("invalid request body"))
		return
	}

	if req.JobId == "" || req.UserId < 1 || strings.TrimSpace(req.Message) == "" {
		s.writeError(w, NewBadRequestError("jobId, userId and message are required"))
		return
	}

	roomId := types.ServerRoomId(req.JobId)
	if !types.ValidRoomId(roomId) {
		s.writeError(w, NewBadRequestError("invalid jobId"))
		return
	}

	username := validate.SanitizeUsername(req.Username)
	if username == "" {
		s.writeError(w, NewBadRequestError("invalid username"))
		return
	}

	msg := types.Message{
		ChatType: types.ChatTypeServer,
		JobId:    strings.ToLower(req.JobId),
		UserId:   req.UserId,
		Username: username,
		Content:  validate.Sanitize(req.Message),
	}
	if req.Timestamp != nil {
		msg.CreatedAt = req.Timestamp.UTC()
	}

	ctx, cancel := context.WithTimeout(r.Context(), storeTimeout)
	defer cancel()

	saved, err := s.store.Insert(ctx, msg)
	if err != nil {
		s.log.Printf("insert relayed message: %v", err)
		s.writeError(w, NewServiceUnavailableError(err))
		return
	}

	if err := s.store.CapRoom(ctx, roomId, store.RoomMessageCap); err != nil {
		s.log.Printf("cap room %q: %v", roomId, err)
	}

	s.cs.Broadcast(roomId, server.MessageEvent(saved))
	s.stats.Incr(stats.NumMessagesSent)

	s.writeJson(w, http.StatusOK, struct{}{})
}

func (s *ChatApp) health(w http.ResponseWriter, r *http.Request) {
	h := s.sup.Health(r.Context())

	resp := HealthResponse{Status: "ok", Database: h}
	code := http.StatusOK
	if !h.Connected {
		resp.Status = "unavailable"
		code = http.StatusServiceUnavailable
	}

	s.writeJson(w, code, resp)
}

func (s *ChatApp) serveWs(w http.ResponseWriter, r *http.Request) {
	user, ok := SessionUser(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return s.originAllowed(r.Header.Get("Origin"))
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Println("error upgrading connection:", err)
		return
	}

	client := server.NewClient(user, conn, s.cs, s.log)

	s.cs.RegisterClient(client)
	go client.Write()
	go client.Read()
}
