// Package server exposes HTTP handlers: the authenticated WebSocket upgrade
// endpoint and the health check.
package server

import (
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/drawspace/drawspace-relay/internal/metrics"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     checkOrigin,
}

// WebSocketHandler authenticates and upgrades an incoming connection. The
// token travels as a query parameter (`/ws?token=...`) because browser
// WebSocket clients cannot set headers. Verification happens before the
// upgrade: a bad token gets a plain 401 and no session ever exists for it.
func WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	verifier := currentVerifier()
	if verifier == nil {
		log.Printf("Rejecting connection from %s: no token verifier configured", r.RemoteAddr)
		metrics.AuthFailures.WithLabelValues("no_verifier").Inc()
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	token := r.URL.Query().Get("token")
	userID, err := verifier.Verify(r.Context(), token)
	if err != nil {
		log.Printf("Rejecting connection from %s: %v", r.RemoteAddr, err)
		metrics.AuthFailures.WithLabelValues(authFailureReason(token, err)).Inc()
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	metrics.AuthSuccess.Inc()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written its own error response.
		log.Printf("WebSocket upgrade failed for %s: %v", r.RemoteAddr, err)
		return
	}

	session := NewSession(conn, hub, r.RemoteAddr, userID)

	// Register the session with the hub; the hub launches the pump goroutines.
	hub.Register(session)
}

func authFailureReason(token string, err error) string {
	switch {
	case token == "":
		return "missing_token"
	case errors.Is(err, ErrUnauthorized):
		return "invalid_token"
	default:
		return "verifier_error"
	}
}

// HealthHandler provides a simple health check endpoint that returns relay status.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "Drawspace relay is running!")
}
