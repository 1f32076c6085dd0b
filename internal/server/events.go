package server

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/bloxchat/bloxchat/internal/ratelimit"
	"github.com/bloxchat/bloxchat/internal/stats"
	"github.com/bloxchat/bloxchat/internal/store"
	"github.com/bloxchat/bloxchat/internal/types"
	"github.com/bloxchat/bloxchat/internal/validate"
)

const storeTimeout = 10 * time.Second

func (c *Client) handleJoinRoom(data json.RawMessage) {
	var payload JoinRoom
	if err := json.Unmarshal(data, &payload); err != nil {
		return
	}

	// malformed room ids are dropped without a reply
	if !types.ValidRoomId(payload.RoomId) {
		c.log.Printf("socket %s sent invalid room id", c.id)
		return
	}

	if !c.allowEvent(ratelimit.EventJoinRoom) {
		return
	}

	c.chatServer.Join(c, canonicalRoomId(payload.RoomId))
}

func (c *Client) handleLeaveRoom(data json.RawMessage) {
	var payload LeaveRoom
	if err := json.Unmarshal(data, &payload); err != nil {
		return
	}

	room := c.getRoom(canonicalRoomId(payload.RoomId))
	if room == nil {
		return
	}

	select {
	case room.leaveChan <- c:
	default:
		c.log.Printf("leave channel full for room %q", room.id)
	}
}

func (c *Client) handleNotifyTyping(data json.RawMessage) {
	var payload NotifyTyping
	if err := json.Unmarshal(data, &payload); err != nil {
		return
	}

	if !c.allowEvent(ratelimit.EventTyping) {
		return
	}

	username := validate.SanitizeUsername(payload.Username)
	if username == "" {
		return
	}

	roomId := types.ServerRoomId(payload.JobId)
	if !types.ValidRoomId(roomId) {
		return
	}

	c.typingLock.Lock()
	if payload.IsTyping {
		c.typingRooms[roomId] = username
	} else {
		delete(c.typingRooms, roomId)
	}
	c.typingLock.Unlock()

	c.chatServer.typing.Set(roomId, username, payload.IsTyping)
}

func (c *Client) handleEditMessage(data json.RawMessage) {
	var payload EditMessage
	if err := json.Unmarshal(data, &payload); err != nil || payload.MessageId == "" {
		c.queueEvent(EditErrorEvent("Invalid edit request"))
		return
	}

	if !c.allowEvent(ratelimit.EventEdit) {
		c.queueEvent(EditErrorEvent("You are editing messages too quickly"))
		return
	}

	if err := c.chatServer.validator.Validate(payload.NewContent); err != nil {
		c.queueEvent(EditErrorEvent(err.Error()))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	msg, err := c.chatServer.store.FindById(ctx, payload.MessageId)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.queueEvent(EditErrorEvent("Message not found"))
		} else {
			c.log.Printf("find message %s: %v", payload.MessageId, err)
			c.queueEvent(EditErrorEvent("Failed to edit message"))
		}
		return
	}

	// ownership comes from the session, never the payload
	if msg.UserId != c.user.Id {
		c.queueEvent(EditErrorEvent("Unauthorized"))
		return
	}

	content := validate.Sanitize(payload.NewContent)
	editedAt := time.Now().UTC()
	if err := c.chatServer.store.UpdateContent(ctx, msg.Id, content, editedAt); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.queueEvent(EditErrorEvent("Message not found"))
		} else {
			c.log.Printf("update message %s: %v", msg.Id, err)
			c.queueEvent(EditErrorEvent("Failed to edit message"))
		}
		return
	}

	updated := msg
	updated.Content = content
	updated.EditedAt = &editedAt

	c.chatServer.stats.Incr(stats.NumMessagesEdited)
	c.chatServer.Broadcast(msg.RoomId(), MessageEditedEvent(updated))
}

func (c *Client) handleDeleteMessage(data json.RawMessage) {
	var payload DeleteMessage
	if err := json.Unmarshal(data, &payload); err != nil || payload.MessageId == "" {
		c.queueEvent(DeleteErrorEvent("Invalid delete request"))
		return
	}

	if !c.allowEvent(ratelimit.EventDelete) {
		c.queueEvent(DeleteErrorEvent("You are deleting messages too quickly"))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	msg, err := c.chatServer.store.FindById(ctx, payload.MessageId)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.queueEvent(DeleteErrorEvent("Message not found"))
		} else {
			c.log.Printf("find message %s: %v", payload.MessageId, err)
			c.queueEvent(DeleteErrorEvent("Failed to delete message"))
		}
		return
	}

	if msg.UserId != c.user.Id {
		c.queueEvent(DeleteErrorEvent("Unauthorized"))
		return
	}

	if err := c.chatServer.store.Delete(ctx, msg.Id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.queueEvent(DeleteErrorEvent("Message not found"))
		} else {
			c.log.Printf("delete message %s: %v", msg.Id, err)
			c.queueEvent(DeleteErrorEvent("Failed to delete message"))
		}
		return
	}

	c.chatServer.stats.Incr(stats.NumMessagesDeleted)
	c.chatServer.Broadcast(msg.RoomId(), MessageDeletedEvent(msg.Id, msg.RoomId()))
}

func (c *Client) allowEvent(kind ratelimit.EventKind) bool {
	if c.chatServer.limiter.Allow(c.id, kind) {
		return true
	}

	c.chatServer.stats.Incr(stats.NumRateLimitDenials)
	return false
}
