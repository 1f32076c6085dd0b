package server

import (
	"encoding/json"

	"github.com/bloxchat/bloxchat/internal/types"
)

// Inbound event names.
const (
	EventJoinRoom      = "join-room"
	EventLeaveRoom     = "leave-room"
	EventNotifyTyping  = "notifyTyping"
	EventEditMessage   = "editMessage"
	EventDeleteMessage = "deleteMessage"
)

// Outbound event names.
const (
	EventMessage            = "message"
	EventMessageEdited      = "messageEdited"
	EventMessageDeleted     = "messageDeleted"
	EventTypingIndicator    = "typingIndicator"
	EventMessageEditError   = "messageEditError"
	EventMessageDeleteError = "messageDeleteError"
)

// ClientEvent is one inbound frame: an event name plus its payload.
type ClientEvent struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type JoinRoom struct {
	RoomId string `json:"roomId"`
}

type LeaveRoom struct {
	RoomId string `json:"roomId"`
}

type NotifyTyping struct {
	JobId    string `json:"jobId"`
	Username string `json:"username"`
	IsTyping bool   `json:"isTyping"`
}

// EditMessage and DeleteMessage carry a userId field for protocol
// compatibility; the server ignores it and uses the session user.
type EditMessage struct {
	MessageId  string `json:"messageId"`
	UserId     int    `json:"userId"`
	NewContent string `json:"newContent"`
}

type DeleteMessage struct {
	MessageId string `json:"messageId"`
	UserId    int    `json:"userId"`
}

// ServerEvent is one outbound frame.
type ServerEvent struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

type TypingIndicator struct {
	RoomId      string   `json:"roomId"`
	TypingUsers []string `json:"typingUsers"`
}

type MessageDeleted struct {
	MessageId string `json:"messageId"`
	RoomId    string `json:"roomId"`
}

type EventError struct {
	Error string `json:"error"`
}

func MessageEvent(msg types.Message) *ServerEvent {
	return &ServerEvent{Event: EventMessage, Data: msg}
}

func MessageEditedEvent(msg types.Message) *ServerEvent {
	return &ServerEvent{Event: EventMessageEdited, Data: msg}
}

func MessageDeletedEvent(messageId, roomId string) *ServerEvent {
	return &ServerEvent{Event: EventMessageDeleted, Data: MessageDeleted{MessageId: messageId, RoomId: roomId}}
}

func TypingIndicatorEvent(roomId string, typingUsers []string) *ServerEvent {
	return &ServerEvent{Event: EventTypingIndicator, Data: TypingIndicator{RoomId: roomId, TypingUsers: typingUsers}}
}

func EditErrorEvent(reason string) *ServerEvent {
	return &ServerEvent{Event: EventMessageEditError, Data: EventError{Error: reason}}
}

func DeleteErrorEvent(reason string) *ServerEvent {
	return &ServerEvent{Event: EventMessageDeleteError, Data: EventError{Error: reason}}
}
