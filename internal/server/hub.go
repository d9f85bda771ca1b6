// Package server coordinates session registration, message routing, and room
// fan-out for the Drawspace relay via the Hub type.
package server

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/drawspace/drawspace-relay/internal/metrics"
)

// frame is one decoded-later unit of work: a raw text frame paired with the
// session that produced it.
type frame struct {
	session *Session
	data    []byte
}

// Hub is the relay's single serialization point. Every registry mutation and
// every fan-out decision happens on the Run goroutine, so the effects of one
// frame are applied as an atomic unit with respect to every other frame.
// Actual writes to peers go through buffered per-session send channels and
// never block the dispatch loop.
type Hub struct {
	registry   *Registry
	register   chan *Session
	unregister chan *Session
	frames     chan frame
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
}

// NewHub creates a Hub with an empty registry, ready to run.
func NewHub() *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		registry:   NewRegistry(),
		register:   make(chan *Session),
		unregister: make(chan *Session),
		frames:     make(chan frame),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

// Registry exposes the session registry for stats and tests.
func (h *Hub) Registry() *Registry {
	return h.registry
}

// Register hands a freshly authenticated session to the dispatch loop.
func (h *Hub) Register(s *Session) {
	select {
	case h.register <- s:
	case <-h.ctx.Done():
	}
}

// signalUnregister notifies the dispatch loop that a session's connection is
// gone. Safe to call multiple times and after shutdown.
func (h *Hub) signalUnregister(s *Session) {
	select {
	case h.unregister <- s:
	case <-h.ctx.Done():
	}
}

// enqueueFrame forwards a raw inbound frame to the dispatch loop, preserving
// the per-connection arrival order.
func (h *Hub) enqueueFrame(s *Session, data []byte) {
	select {
	case h.frames <- frame{session: s, data: data}:
	case <-h.ctx.Done():
	}
}

// Run is the hub's main event loop, handling session registration, removal,
// and frame dispatch. It should be called in its own goroutine and runs
// until Shutdown.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.closeAllSessions()
			return

		case s := <-h.register:
			if s == nil {
				log.Printf("Received nil session registration; skipping")
				continue
			}
			h.registry.Register(s)
			sessions, _ := h.registry.Counts()
			metrics.ActiveConnections.Inc()
			metrics.TotalConnections.Inc()
			log.Printf("Session %s registered for user %s from %s. Total sessions: %d", s.id, s.userID, s.addr, sessions)

			h.wg.Add(2)
			go func() {
				defer h.wg.Done()
				s.writePump()
			}()
			go func() {
				defer h.wg.Done()
				s.readPump()
			}()

		case s := <-h.unregister:
			h.removeSession(s, "connection closed")

		case f := <-h.frames:
			h.dispatch(f.session, f.data)
		}
	}
}

// removeSession drops a session from the registry and closes its send
// channel. The registry reports whether the session was still present, so
// duplicate close signals are no-ops and the channel is closed exactly once.
func (h *Hub) removeSession(s *Session, reason string) {
	if !h.registry.Unregister(s) {
		return
	}
	close(s.send)
	metrics.ActiveConnections.Dec()
	sessions, _ := h.registry.Counts()
	log.Printf("Session %s for user %s removed (%s). Total sessions: %d", s.id, s.userID, reason, sessions)
}

// dispatch decodes one inbound frame and runs its handler synchronously.
// Malformed frames and unknown types are dropped without a response; the
// connection stays usable.
func (h *Hub) dispatch(s *Session, data []byte) {
	if !h.registry.Contains(s) {
		// Frame raced with this session's removal; membership is gone, so
		// there is nothing valid to do with it.
		return
	}

	msg, err := parseMessage(data)
	if err != nil {
		metrics.FramesDropped.WithLabelValues(dropReason(err)).Inc()
		log.Printf("Dropping frame from %s (user %s): %v", s.addr, s.userID, err)
		return
	}

	switch m := msg.(type) {
	case joinRoomMessage:
		if h.registry.Join(s, m.roomID) {
			log.Printf("User %s joined room %s", s.userID, m.roomID)
		}
	case leaveRoomMessage:
		if h.registry.Leave(s, m.roomID) {
			log.Printf("User %s left room %s", s.userID, m.roomID)
		}
	case chatMessage:
		h.relay(s, Envelope{Type: TypeChat, RoomID: m.roomID, Message: m.message}, false)
	case drawingUpdateMessage:
		h.relay(s, Envelope{Type: TypeDrawingUpdate, RoomID: m.roomID, Elements: m.elements, Version: m.version}, true)
	case elementAddMessage:
		h.relay(s, Envelope{Type: TypeElementAdd, RoomID: m.roomID, Element: m.element}, true)
	case elementUpdateMessage:
		h.relay(s, Envelope{Type: TypeElementUpdate, RoomID: m.roomID, Element: m.element}, true)
	case elementDeleteMessage:
		h.relay(s, Envelope{Type: TypeElementDelete, RoomID: m.roomID, ElementID: m.elementID}, true)
	case cursorPositionMessage:
		h.relay(s, Envelope{Type: TypeCursorPosition, RoomID: m.roomID, Cursor: m.cursor}, true)
	case presenceRequestMessage:
		h.broadcastPresence(m.roomID)
	}
}

// relay stamps the sender's authenticated identity on the envelope and fans
// it out to the room, excluding the sender when the message type calls for it.
func (h *Hub) relay(sender *Session, env Envelope, excludeSender bool) {
	env.UserID = sender.userID

	payload, err := encodeEnvelope(env)
	if err != nil {
		log.Printf("Error encoding envelope for room %s: %v", env.RoomID, err)
		return
	}

	exclude := sender
	if !excludeSender {
		exclude = nil
	}
	h.broadcast(env.RoomID, payload, exclude)
}

// broadcastPresence recomputes the room roster from the current membership
// snapshot and sends it to every member, the requester included. One roster
// entry per session: a user connected from two tabs appears twice.
func (h *Hub) broadcastPresence(roomID string) {
	members := h.registry.MembersOf(roomID)
	if len(members) == 0 {
		return
	}

	roster := make([]PresenceEntry, 0, len(members))
	for _, member := range members {
		roster = append(roster, PresenceEntry{UserID: member.userID})
	}

	payload, err := encodeEnvelope(Envelope{Type: TypeUserPresence, RoomID: roomID, Users: roster})
	if err != nil {
		log.Printf("Error encoding presence roster for room %s: %v", roomID, err)
		return
	}

	h.deliver(members, payload, nil)
}

// broadcast delivers a payload to every member of a room except the excluded
// session, when one is given.
func (h *Hub) broadcast(roomID string, payload []byte, exclude *Session) {
	h.deliver(h.registry.MembersOf(roomID), payload, exclude)
}

// deliver writes the payload to each target's send channel. A recipient
// whose buffer is full has stopped draining its socket; it is removed so one
// dead peer cannot wedge the room, and delivery to the remaining recipients
// continues.
func (h *Hub) deliver(targets []*Session, payload []byte, exclude *Session) {
	var failed []*Session
	for _, target := range targets {
		if target == exclude {
			continue
		}
		select {
		case target.send <- payload:
		default:
			failed = append(failed, target)
		}
	}

	for _, target := range failed {
		metrics.DeliveryFailures.Inc()
		h.removeSession(target, "send buffer full")
	}
}

// closeAllSessions tears down every live connection during shutdown. The
// pumps observe the closed connections and exit.
func (h *Hub) closeAllSessions() {
	log.Println("Shutting down all relay sessions...")

	sessions, _ := h.registry.Counts()
	for _, s := range h.registry.Snapshot() {
		h.removeSession(s, "server shutdown")
		if s.conn != nil {
			if err := s.conn.Close(); err != nil && !isExpectedCloseError(err) {
				log.Printf("Error closing connection for %s during shutdown: %v", s.addr, err)
			}
		}
	}

	log.Printf("Closed %d relay sessions", sessions)
}

// Shutdown initiates graceful shutdown of the hub and waits for all pump
// goroutines to finish, or until the timeout is reached.
func (h *Hub) Shutdown(timeout time.Duration) error {
	log.Println("Initiating hub shutdown...")

	h.cancel()
	<-h.done

	finished := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		log.Println("Hub shutdown completed successfully")
		return nil
	case <-time.After(timeout):
		log.Println("Hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}

func dropReason(err error) string {
	switch {
	case errors.Is(err, errUnknownType):
		return "unknown_type"
	case errors.Is(err, errMissingField):
		return "missing_field"
	default:
		return "malformed"
	}
}
