package server

import (
	"encoding/json"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/bloxchat/bloxchat/internal/types"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 1024
)

// Client is one connected socket with its authenticated user.
type Client struct {
	id         string
	conn       *websocket.Conn
	chatServer *ChatServer
	log        *log.Logger
	user       types.User

	send chan *ServerEvent

	rooms     map[string]*Room
	roomsLock sync.RWMutex

	// typingRooms tracks this socket's typing contributions so they
	// can be cleared on disconnect
	typingRooms map[string]string
	typingLock  sync.Mutex

	stop     chan struct{}
	stopOnce sync.Once
}

func NewClient(user types.User, conn *websocket.Conn, cs *ChatServer, l *log.Logger) *Client {
	return &Client{
		id:          uuid.NewString(),
		conn:        conn,
		chatServer:  cs,
		log:         l,
		user:        user,
		send:        make(chan *ServerEvent, 256),
		rooms:       make(map[string]*Room),
		typingRooms: make(map[string]string),
		stop:        make(chan struct{}),
	}
}

func (c *Client) Write() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case ev, ok := <-c.send:
			if !ok {
				return
			}

			bytes, err := json.Marshal(ev)
			if err != nil {
				c.log.Println("failed to serialize event:", err)
				continue
			}

			if !c.writeMessage(websocket.TextMessage, bytes) {
				return
			}
		case <-c.stop:
			return
		case <-ticker.C:
			if !c.writeMessage(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (c *Client) Read() {
	defer func() {
		c.conn.Close()
		c.cleanup()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Printf("ws: read: %v", err)
			}
			break
		}

		var ev ClientEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			c.log.Println("error parsing event:", err)
			continue
		}

		c.dispatch(&ev)
	}
}

// dispatch routes one inbound event. Events are handled in arrival
// order on this goroutine, so a socket's own operations never reorder.
func (c *Client) dispatch(ev *ClientEvent) {
	switch ev.Event {
	case EventJoinRoom:
		c.handleJoinRoom(ev.Data)
	case EventLeaveRoom:
		c.handleLeaveRoom(ev.Data)
	case EventNotifyTyping:
		c.handleNotifyTyping(ev.Data)
	case EventEditMessage:
		c.handleEditMessage(ev.Data)
	case EventDeleteMessage:
		c.handleDeleteMessage(ev.Data)
	default:
		c.log.Printf("unknown event %q from socket %s", ev.Event, c.id)
	}
}

// queueEvent enqueues an outbound event, dropping it if the socket's
// buffer is full. A consistently slow consumer is disconnected.
func (c *Client) queueEvent(ev *ServerEvent) bool {
	select {
	case c.send <- ev:
		return true
	default:
		c.log.Printf("send buffer full on socket %s, disconnecting", c.id)
		c.stopClient()
		return false
	}
}

func (c *Client) writeMessage(msgType int, msg []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.conn.WriteMessage(msgType, msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.Printf("write message: %s", err)
		}
		return false
	}

	return true
}

func (c *Client) stopClient() {
	c.stopOnce.Do(func() { close(c.stop) })
}

func (c *Client) cleanup() {
	c.clearTyping()
	c.leaveAllRooms()
	c.chatServer.DeregisterClient(c)
	c.stopClient()
}

// clearTyping removes this socket's typing contributions so peers see
// the indicator drop when the socket disconnects.
func (c *Client) clearTyping() {
	c.typingLock.Lock()
	contributions := c.typingRooms
	c.typingRooms = make(map[string]string)
	c.typingLock.Unlock()

	for roomId, username := range contributions {
		c.chatServer.typing.Set(roomId, username, false)
	}
}

func (c *Client) leaveAllRooms() {
	c.roomsLock.RLock()
	rooms := make([]*Room, 0, len(c.rooms))
	for _, room := range c.rooms {
		rooms = append(rooms, room)
	}
	c.roomsLock.RUnlock()

	for _, room := range rooms {
		select {
		case room.leaveChan <- c:
		default:
			c.log.Printf("leave channel full for room %q", room.id)
		}
	}
}

func (c *Client) addRoom(r *Room) {
	c.roomsLock.Lock()
	defer c.roomsLock.Unlock()
	c.rooms[r.id] = r
}

func (c *Client) delRoom(id string) {
	c.roomsLock.Lock()
	defer c.roomsLock.Unlock()
	delete(c.rooms, id)
}

func (c *Client) getRoom(id string) *Room {
	c.roomsLock.RLock()
	defer c.roomsLock.RUnlock()
	return c.rooms[id]
}

// canonicalRoomId lowercases a wire room id; the grammar is
// case-insensitive but rooms are keyed canonically.
func canonicalRoomId(roomId string) string {
	return strings.ToLower(roomId)
}
