// Package server manages individual relay sessions, handling read/write
// pumps, rate limiting, and lifecycle control for each connection.
package server

import (
	"errors"
	"io"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/drawspace/drawspace-relay/internal/metrics"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

// Session represents one authenticated WebSocket connection. It owns the
// underlying connection exclusively: the read pump is the only reader and
// the write pump the only writer. The userID is fixed at handshake time.
//
// The rooms set is mutated only by the Registry under its lock; nothing else
// may touch it.
type Session struct {
	id             string
	conn           *websocket.Conn
	send           chan []byte
	hub            *Hub
	addr           string
	userID         string
	rooms          map[string]struct{}
	closeOnce      sync.Once
	maxMessageSize int64
	limiter        *tokenBucket
	rateLimit      RateLimitConfig
}

// NewSession creates a Session for an authenticated connection. The send
// channel is buffered so fan-out never blocks on a slow peer; a peer that
// falls a full buffer behind is treated as failed.
func NewSession(conn *websocket.Conn, hub *Hub, addr, userID string) *Session {
	cfg := currentConfig()
	if conn != nil {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}

	return &Session{
		id:             uuid.New().String(),
		conn:           conn,
		send:           make(chan []byte, 256),
		hub:            hub,
		addr:           addr,
		userID:         userID,
		rooms:          make(map[string]struct{}),
		maxMessageSize: cfg.MaxMessageSize,
		limiter:        newTokenBucket(cfg.RateLimit.Burst, cfg.RateLimit.RefillInterval),
		rateLimit:      cfg.RateLimit,
	}
}

// UserID returns the authenticated user identity assigned at the handshake.
func (s *Session) UserID() string {
	return s.userID
}

// close tears the session down exactly once regardless of how many close
// paths fire: read error, write failure, or hub shutdown.
func (s *Session) close() {
	s.closeOnce.Do(func() {
		s.hub.signalUnregister(s)
		if s.conn != nil {
			if err := s.conn.Close(); err != nil && !isExpectedCloseError(err) {
				log.Printf("Error closing connection for %s: %v", s.addr, err)
			}
		}
	})
}

func (s *Session) setupReadConnection() {
	if err := s.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		log.Printf("Error setting initial read deadline for %s: %v", s.addr, err)
	}
	s.conn.SetPongHandler(func(string) error {
		if err := s.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			log.Printf("Error setting read deadline in pong handler for %s: %v", s.addr, err)
		}
		return nil
	})
}

// logReadError classifies the error that ended the read loop. Ordinary
// disconnects are logged at a lower volume than protocol violations.
func (s *Session) logReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		log.Printf("Message from %s (user %s) exceeded maximum size of %d bytes", s.addr, s.userID, s.maxMessageSize)
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure):
		log.Printf("Session %s (user %s) disconnected: %v", s.addr, s.userID, err)
	case errors.Is(err, io.EOF) || isExpectedCloseError(err):
		log.Printf("Session %s (user %s) connection closed: %v", s.addr, s.userID, err)
	case websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseMessageTooBig):
		log.Printf("Unexpected WebSocket error from %s (user %s): %v", s.addr, s.userID, err)
	default:
		log.Printf("WebSocket read error from %s (user %s): %v", s.addr, s.userID, err)
	}
}

// checkRateLimit reports whether the frame may be processed. Over-limit
// frames are discarded without closing the connection.
func (s *Session) checkRateLimit() bool {
	if s.limiter != nil && !s.limiter.allow() {
		log.Printf("Rate limit exceeded for %s (%d messages per %s); discarding frame", s.addr, s.rateLimit.Burst, s.rateLimit.RefillInterval)
		metrics.FramesDropped.WithLabelValues("rate_limited").Inc()
		return false
	}
	return true
}

// readPump pulls frames off the connection and forwards them to the hub's
// dispatch loop. It never decodes or fans out itself: all registry effects
// happen on the hub goroutine so they apply as non-interleaved units.
func (s *Session) readPump() {
	defer s.close()

	s.setupReadConnection()

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			s.logReadError(err)
			return
		}

		metrics.FramesReceived.Inc()

		if !s.checkRateLimit() {
			continue
		}

		s.hub.enqueueFrame(s, raw)
	}
}

// writePump drains the send channel onto the wire and keeps the connection
// alive with periodic pings. Each payload is written as its own text frame:
// clients parse one JSON document per frame.
func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.close()
	}()

	for {
		select {
		case payload, ok := <-s.send:
			if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Printf("Error setting write deadline for %s: %v", s.addr, err)
				return
			}
			if !ok {
				// Hub removed this session; tell the peer we are done.
				if err := s.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil && !isExpectedCloseError(err) {
					log.Printf("Error writing close message to %s: %v", s.addr, err)
				}
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				if !isExpectedCloseError(err) {
					log.Printf("Error writing message to %s (user %s): %v", s.addr, s.userID, err)
				}
				metrics.DeliveryFailures.Inc()
				return
			}
			metrics.MessagesDelivered.Inc()
		case <-ticker.C:
			if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Printf("Error setting write deadline for ping to %s: %v", s.addr, err)
				return
			}
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				if !isExpectedCloseError(err) {
					log.Printf("Error writing ping message to %s: %v", s.addr, err)
				}
				return
			}
		}
	}
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "use of closed network connection") ||
		strings.Contains(msg, "websocket: close sent") ||
		strings.Contains(msg, "broken pipe")
}
