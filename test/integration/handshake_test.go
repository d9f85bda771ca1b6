// Package integration contains integration tests for the Drawspace relay.
//
// These tests exercise the complete system over real HTTP servers and
// WebSocket connections: handshake authentication, room membership, and
// message fan-out between multiple clients.
package integration

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/drawspace/drawspace-relay/internal/server"
	"github.com/drawspace/drawspace-relay/test/testhelpers"
)

const relaySecret = "integration-test-secret"

// setupRelay starts the global hub, serves the relay routes on a test
// server, and installs a verifier for the test signing secret.
func setupRelay(t *testing.T) *httptest.Server {
	t.Helper()

	server.StartHub()

	ts := testhelpers.CreateTestServer(server.SetupRoutes())
	t.Cleanup(ts.Close)

	cfg := server.NewConfig()
	cfg.AllowedOrigins = append([]string{ts.URL}, cfg.AllowedOrigins...)
	server.SetConfig(cfg)
	server.SetTokenVerifier(server.NewJWTVerifier(relaySecret, nil))
	t.Cleanup(func() {
		server.SetConfig(nil)
		server.SetTokenVerifier(nil)
	})

	return ts
}

// connect dials the relay as the given user with a freshly minted token.
func connect(t *testing.T, ts *httptest.Server, userID string) *websocket.Conn {
	t.Helper()
	token := testhelpers.MintToken(t, relaySecret, userID)
	return testhelpers.DialRelay(t, testhelpers.RelayURL(t, ts.URL, token), ts.URL)
}

// waitForRoomMembers polls the registry until the room reaches the expected
// size, so tests do not race the hub's dispatch loop.
func waitForRoomMembers(t *testing.T, roomID string, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		if len(server.GetHub().Registry().MembersOf(roomID)) == want {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("room %s never reached %d members", roomID, want)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// TestHealthEndpoint verifies the probe endpoint responds.
func TestHealthEndpoint(t *testing.T) {
	ts := setupRelay(t)

	resp := testhelpers.MakeRequest(t, http.MethodGet, ts.URL+"/")
	defer func() { _ = resp.Body.Close() }()
	testhelpers.AssertStatusCode(t, resp, http.StatusOK)
}

// TestHandshakeRejectsMissingToken verifies that a connection attempt
// without a token is refused before any session exists.
func TestHandshakeRejectsMissingToken(t *testing.T) {
	ts := setupRelay(t)

	conn, resp, err := testhelpers.DialRelayRaw(testhelpers.RelayURL(t, ts.URL, ""), ts.URL)
	if err == nil {
		_ = conn.Close()
		t.Fatal("handshake without token succeeded")
	}
	defer func() { _ = resp.Body.Close() }()
	testhelpers.AssertStatusCode(t, resp, http.StatusUnauthorized)
}

// TestHandshakeRejectsInvalidToken verifies that a bogus token is refused
// with a plain 401 and no internal detail in the body.
func TestHandshakeRejectsInvalidToken(t *testing.T) {
	ts := setupRelay(t)

	conn, resp, err := testhelpers.DialRelayRaw(testhelpers.RelayURL(t, ts.URL, "not-a-jwt"), ts.URL)
	if err == nil {
		_ = conn.Close()
		t.Fatal("handshake with an invalid token succeeded")
	}
	defer func() { _ = resp.Body.Close() }()
	testhelpers.AssertStatusCode(t, resp, http.StatusUnauthorized)

	body := make([]byte, 256)
	n, _ := resp.Body.Read(body)
	if text := strings.TrimSpace(string(body[:n])); text != "Unauthorized" {
		t.Errorf("expected bare Unauthorized body, got %q", text)
	}
}

// TestHandshakeRejectsWrongMethod verifies the endpoint only accepts GET.
func TestHandshakeRejectsWrongMethod(t *testing.T) {
	ts := setupRelay(t)

	resp := testhelpers.MakeRequest(t, http.MethodPost, ts.URL+"/ws")
	defer func() { _ = resp.Body.Close() }()
	testhelpers.AssertStatusCode(t, resp, http.StatusMethodNotAllowed)
}

// TestHandshakeRejectsDisallowedOrigin verifies cross-origin hijack
// protection on the upgrade.
func TestHandshakeRejectsDisallowedOrigin(t *testing.T) {
	ts := setupRelay(t)

	token := testhelpers.MintToken(t, relaySecret, "alice")
	conn, resp, err := testhelpers.DialRelayRaw(testhelpers.RelayURL(t, ts.URL, token), "https://evil.example.com")
	if err == nil {
		_ = conn.Close()
		t.Fatal("handshake from a disallowed origin succeeded")
	}
	if resp != nil {
		defer func() { _ = resp.Body.Close() }()
		testhelpers.AssertStatusCode(t, resp, http.StatusForbidden)
	}
}

// TestHandshakeAcceptsValidToken verifies the happy path end to end: a
// valid token upgrades and the connection is immediately usable.
func TestHandshakeAcceptsValidToken(t *testing.T) {
	ts := setupRelay(t)

	conn := connect(t, ts, "alice")
	roomID := t.Name()

	testhelpers.SendJSON(t, conn, map[string]string{"type": "join_room", "roomId": roomID})
	waitForRoomMembers(t, roomID, 1)
}
