package server

import (
	"context"
	"log"
	"time"

	"github.com/bloxchat/bloxchat/internal/stats"
)

const (
	// reapDelay is how long a room may sit empty before its history
	// is destroyed and the room unloaded.
	reapDelay        = 60 * time.Second
	reapStoreTimeout = 10 * time.Second
)

type exitReq struct {
	// done reports whether the room accepted the exit. A nil done
	// (closed channel) forces the exit unconditionally.
	done chan bool
}

// Room is the actor owning one room's membership and fan-out. All
// mutation happens on its goroutine, so broadcast order within the
// room is the order events arrive on its channels.
type Room struct {
	id string
	cs *ChatServer

	joinChan  chan *Client
	leaveChan chan *Client
	eventChan chan *ServerEvent
	exit      chan exitReq
	done      chan struct{}

	clients map[*Client]struct{}
	// reapTimer runs whenever the room is empty
	reapTimer *time.Timer
	log       *log.Logger
}

func (r *Room) start() {
	r.log.Printf("starting room %q", r.id)
	r.reapTimer = time.NewTimer(reapDelay)
	r.reapTimer.Stop()

	defer close(r.done)

	for {
		select {
		case c := <-r.joinChan:
			r.handleJoin(c)
		case c := <-r.leaveChan:
			r.handleLeave(c)
		case ev := <-r.eventChan:
			r.broadcast(ev)
		case <-r.reapTimer.C:
			r.handleReap()
		case req, ok := <-r.exit:
			if r.handleExit(req, ok) {
				return
			}
		}
	}
}

// handleJoin cancels any pending reap and adds the client. Idempotent.
func (r *Room) handleJoin(c *Client) {
	r.reapTimer.Stop()

	if _, ok := r.clients[c]; ok {
		return
	}

	r.clients[c] = struct{}{}
	c.addRoom(r)
	r.log.Printf("socket %s joined room %q", c.id, r.id)
}

func (r *Room) handleLeave(c *Client) {
	if _, ok := r.clients[c]; !ok {
		return
	}

	delete(r.clients, c)
	c.delRoom(r.id)
	r.log.Printf("socket %s left room %q", c.id, r.id)

	if len(r.clients) == 0 {
		r.reapTimer.Reset(reapDelay)
	}
}

// handleReap destroys the room's history if it is still empty, then
// asks the chat server to unload the room. Store failures reschedule
// the reap instead of leaving orphaned history.
func (r *Room) handleReap() {
	if len(r.clients) > 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), reapStoreTimeout)
	defer cancel()

	if err := r.cs.store.DeleteRoom(ctx, r.id); err != nil {
		r.log.Printf("reap room %q: %v", r.id, err)
		r.reapTimer.Reset(reapDelay)
		return
	}

	r.cs.stats.Incr(stats.NumRoomsReaped)
	r.log.Printf("reaped room %q", r.id)

	if !r.cs.requestUnload(r.id) {
		// chat server is busy; try again later
		r.reapTimer.Reset(reapDelay)
	}
}

// handleExit returns true when the room should stop. A requested exit
// is declined if a client joined since the unload was scheduled.
func (r *Room) handleExit(req exitReq, ok bool) bool {
	if !ok || req.done == nil {
		// shutdown: drop all clients without ceremony
		for c := range r.clients {
			c.delRoom(r.id)
		}
		r.reapTimer.Stop()
		return true
	}

	if len(r.clients) > 0 {
		req.done <- false
		return false
	}

	req.done <- true
	r.reapTimer.Stop()
	return true
}

func (r *Room) broadcast(ev *ServerEvent) {
	for c := range r.clients {
		c.queueEvent(ev)
	}
	r.cs.stats.Incr(stats.NumBroadcasts)
}
