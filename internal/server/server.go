package server

import (
	"context"
	"log"
	"sync"

	"github.com/bloxchat/bloxchat/internal/ratelimit"
	"github.com/bloxchat/bloxchat/internal/stats"
	"github.com/bloxchat/bloxchat/internal/store"
	"github.com/bloxchat/bloxchat/internal/validate"
)

type joinReq struct {
	client *Client
	roomId string
}

type broadcastReq struct {
	roomId string
	ev     *ServerEvent
}

// ChatServer owns the room registry and the socket population. Room
// lifecycle (create on first join, unload after reap) happens on the
// Run goroutine; everything else reaches it through channels.
type ChatServer struct {
	log       *log.Logger
	store     store.Store
	stats     stats.StatsProvider
	validator *validate.Validator
	limiter   *ratelimit.EventLimiter
	typing    *TypingAggregator

	clients     map[*Client]struct{}
	clientsLock sync.Mutex

	rooms          map[string]*Room
	joinChan       chan joinReq
	broadcastChan  chan broadcastReq
	unloadRoomChan chan string

	stop chan struct{}
	done chan struct{}
}

func NewChatServer(logger *log.Logger, st store.Store, sp stats.StatsProvider, validator *validate.Validator) *ChatServer {
	cs := &ChatServer{
		log:            logger,
		store:          st,
		stats:          sp,
		validator:      validator,
		limiter:        ratelimit.NewEventLimiter(),
		clients:        make(map[*Client]struct{}),
		rooms:          make(map[string]*Room),
		joinChan:       make(chan joinReq, 256),
		broadcastChan:  make(chan broadcastReq, 256),
		unloadRoomChan: make(chan string, 64),
		stop:           make(chan struct{}),
		done:           make(chan struct{}),
	}
	cs.typing = NewTypingAggregator(cs.Broadcast)

	return cs
}

func (cs *ChatServer) Run() {
	for {
		select {
		case req := <-cs.joinChan:
			cs.handleJoin(req)
		case req := <-cs.broadcastChan:
			cs.handleBroadcast(req)
		case roomId := <-cs.unloadRoomChan:
			cs.handleUnload(roomId)
		case <-cs.stop:
			cs.log.Println("shutting down rooms")
			for _, r := range cs.rooms {
				close(r.exit)
				<-r.done
			}
			cs.typing.Stop()
			close(cs.done)
			return
		}
	}
}

func (cs *ChatServer) handleJoin(req joinReq) {
	room, ok := cs.rooms[req.roomId]
	if !ok {
		room = &Room{
			id:        req.roomId,
			cs:        cs,
			joinChan:  make(chan *Client, 256),
			leaveChan: make(chan *Client, 256),
			eventChan: make(chan *ServerEvent, 256),
			exit:      make(chan exitReq),
			done:      make(chan struct{}),
			clients:   make(map[*Client]struct{}),
			log:       cs.log,
		}
		cs.rooms[req.roomId] = room
		cs.stats.Incr(stats.NumActiveRooms)
		go room.start()
	}

	select {
	case room.joinChan <- req.client:
	default:
		cs.log.Printf("join channel full on room %q", room.id)
	}
}

func (cs *ChatServer) handleBroadcast(req broadcastReq) {
	room, ok := cs.rooms[req.roomId]
	if !ok {
		// nobody is connected to the room; nothing to deliver
		return
	}

	select {
	case room.eventChan <- req.ev:
	default:
		cs.log.Printf("event channel full on room %q", room.id)
	}
}

func (cs *ChatServer) handleUnload(roomId string) {
	room, ok := cs.rooms[roomId]
	if !ok {
		return
	}

	done := make(chan bool, 1)
	room.exit <- exitReq{done: done}
	if <-done {
		delete(cs.rooms, roomId)
		cs.stats.Decr(stats.NumActiveRooms)
		cs.log.Printf("unloaded room %q", roomId)
	}
}

// Join subscribes the client to a room, creating the room on first
// join. The room id must already be validated.
func (cs *ChatServer) Join(c *Client, roomId string) {
	select {
	case cs.joinChan <- joinReq{client: c, roomId: roomId}:
	default:
		cs.log.Printf("join channel full, dropping join of %q", roomId)
	}
}

// Broadcast fans an event out to every socket in the room. Safe to
// call from any goroutine; delivery is best-effort.
func (cs *ChatServer) Broadcast(roomId string, ev *ServerEvent) {
	select {
	case cs.broadcastChan <- broadcastReq{roomId: roomId, ev: ev}:
	default:
		cs.log.Printf("broadcast channel full, dropping %q to room %q", ev.Event, roomId)
	}
}

// Typing exposes the typing aggregator for socket and test wiring.
func (cs *ChatServer) Typing() *TypingAggregator {
	return cs.typing
}

func (cs *ChatServer) requestUnload(roomId string) bool {
	select {
	case cs.unloadRoomChan <- roomId:
		return true
	default:
		return false
	}
}

func (cs *ChatServer) RegisterClient(c *Client) {
	cs.clientsLock.Lock()
	defer cs.clientsLock.Unlock()
	cs.clients[c] = struct{}{}
	cs.stats.Incr(stats.NumActiveSockets)
}

func (cs *ChatServer) DeregisterClient(c *Client) {
	cs.clientsLock.Lock()
	defer cs.clientsLock.Unlock()
	if _, ok := cs.clients[c]; !ok {
		return
	}
	delete(cs.clients, c)
	cs.stats.Decr(stats.NumActiveSockets)
}

// Shutdown stops all clients and rooms, waiting for the control loop
// to drain or the context to expire.
func (cs *ChatServer) Shutdown(ctx context.Context) error {
	cs.log.Println("chat server shutting down")

	cs.clientsLock.Lock()
	for c := range cs.clients {
		c.stopClient()
	}
	cs.clientsLock.Unlock()

	close(cs.stop)

	select {
	case <-cs.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
