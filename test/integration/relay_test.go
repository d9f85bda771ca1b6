package integration

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/drawspace/drawspace-relay/test/testhelpers"
)

// joinRoom sends a join_room frame for each connection and waits until the
// hub has processed all of them.
func joinRoom(t *testing.T, roomID string, conns ...*websocket.Conn) {
	t.Helper()
	for _, conn := range conns {
		testhelpers.SendJSON(t, conn, map[string]string{"type": "join_room", "roomId": roomID})
	}
	waitForRoomMembers(t, roomID, len(conns))
}

// connectAndJoin is the common three-client room setup used by the fan-out
// scenarios.
func connectAndJoin(t *testing.T, ts *httptest.Server, roomID string) (alice, bob, carol *websocket.Conn) {
	t.Helper()
	alice = connect(t, ts, "alice")
	bob = connect(t, ts, "bob")
	carol = connect(t, ts, "carol")
	joinRoom(t, roomID, alice, bob, carol)
	return alice, bob, carol
}

// TestCursorBroadcastExcludesSender verifies that a cursor_position message
// reaches every other room member stamped with the sender's authenticated
// identity, and never echoes back to the sender.
func TestCursorBroadcastExcludesSender(t *testing.T) {
	ts := setupRelay(t)
	roomID := t.Name()
	alice, bob, carol := connectAndJoin(t, ts, roomID)

	testhelpers.SendJSON(t, alice, map[string]interface{}{
		"type":   "cursor_position",
		"roomId": roomID,
		"cursor": map[string]int{"x": 10, "y": 20},
	})

	for _, conn := range []*websocket.Conn{bob, carol} {
		env := testhelpers.ReadEnvelope(t, conn, 2*time.Second)
		if env.Type != "cursor_position" || env.UserID != "alice" || env.RoomID != roomID {
			t.Errorf("received wrong envelope: %+v", env)
		}
		if string(env.Cursor) != `{"x":10,"y":20}` {
			t.Errorf("cursor payload altered in transit: %s", env.Cursor)
		}
	}

	testhelpers.ExpectNoMessage(t, alice, 300*time.Millisecond)
}

// TestChatReachesEveryMember verifies the inclusive rule: chat is delivered
// to all members of the room, the sender included.
func TestChatReachesEveryMember(t *testing.T) {
	ts := setupRelay(t)
	roomID := t.Name()
	alice, bob, carol := connectAndJoin(t, ts, roomID)

	testhelpers.SendJSON(t, carol, map[string]string{
		"type":    "chat",
		"roomId":  roomID,
		"message": "hi",
	})

	for _, conn := range []*websocket.Conn{alice, bob, carol} {
		env := testhelpers.ReadEnvelope(t, conn, 2*time.Second)
		if env.Type != "chat" || env.Message != "hi" || env.UserID != "carol" {
			t.Errorf("received wrong chat envelope: %+v", env)
		}
	}
}

// TestLeaveRoomStopsDelivery verifies that a member who left the room no
// longer receives its traffic while the remaining members still do.
func TestLeaveRoomStopsDelivery(t *testing.T) {
	ts := setupRelay(t)
	roomID := t.Name()
	alice, bob, carol := connectAndJoin(t, ts, roomID)

	testhelpers.SendJSON(t, alice, map[string]string{"type": "leave_room", "roomId": roomID})
	waitForRoomMembers(t, roomID, 2)

	testhelpers.SendJSON(t, carol, map[string]string{
		"type":    "chat",
		"roomId":  roomID,
		"message": "hi",
	})

	for _, conn := range []*websocket.Conn{bob, carol} {
		env := testhelpers.ReadEnvelope(t, conn, 2*time.Second)
		if env.Message != "hi" || env.UserID != "carol" {
			t.Errorf("received wrong chat envelope: %+v", env)
		}
	}
	testhelpers.ExpectNoMessage(t, alice, 300*time.Millisecond)
}

// TestDrawingUpdateRelaysOpaquePayload verifies that element and version
// payloads pass through untouched and skip the sender.
func TestDrawingUpdateRelaysOpaquePayload(t *testing.T) {
	ts := setupRelay(t)
	roomID := t.Name()

	alice := connect(t, ts, "alice")
	bob := connect(t, ts, "bob")
	joinRoom(t, roomID, alice, bob)

	testhelpers.SendJSON(t, alice, map[string]interface{}{
		"type":     "drawing_update",
		"roomId":   roomID,
		"elements": []map[string]interface{}{{"id": "e1", "kind": "rect", "w": 40}},
		"version":  7,
	})

	env := testhelpers.ReadEnvelope(t, bob, 2*time.Second)
	if env.Type != "drawing_update" || env.UserID != "alice" {
		t.Errorf("bob received wrong envelope: %+v", env)
	}
	if string(env.Version) != "7" {
		t.Errorf("version altered in transit: %s", env.Version)
	}
	if string(env.Elements) != `[{"id":"e1","kind":"rect","w":40}]` {
		t.Errorf("elements altered in transit: %s", env.Elements)
	}

	testhelpers.ExpectNoMessage(t, alice, 300*time.Millisecond)
}

// TestMalformedFrameIsDroppedSilently verifies that an incomplete frame is
// delivered to no one and the sending connection stays usable for valid
// frames afterwards.
func TestMalformedFrameIsDroppedSilently(t *testing.T) {
	ts := setupRelay(t)
	roomID := t.Name()

	alice := connect(t, ts, "alice")
	bob := connect(t, ts, "bob")
	joinRoom(t, roomID, alice, bob)

	// drawing_update without roomId or elements, followed by a valid chat on
	// the same connection. Delivery is ordered, so the first envelope bob
	// sees must be the chat: the bad frame went nowhere and the connection
	// survived it.
	testhelpers.SendJSON(t, alice, map[string]string{"type": "drawing_update"})
	testhelpers.SendJSON(t, alice, map[string]string{
		"type":    "chat",
		"roomId":  roomID,
		"message": "still alive",
	})

	for _, conn := range []*websocket.Conn{alice, bob} {
		env := testhelpers.ReadEnvelope(t, conn, 2*time.Second)
		if env.Type != "chat" || env.Message != "still alive" {
			t.Errorf("expected the chat as the first delivery, got: %+v", env)
		}
	}
}

// TestDisconnectCleansUpMembership verifies that closing a connection
// removes the session from its rooms without an explicit leave.
func TestDisconnectCleansUpMembership(t *testing.T) {
	ts := setupRelay(t)
	roomID := t.Name()

	alice := connect(t, ts, "alice")
	bob := connect(t, ts, "bob")
	joinRoom(t, roomID, alice, bob)

	_ = alice.Close()
	waitForRoomMembers(t, roomID, 1)

	testhelpers.SendJSON(t, bob, map[string]string{"type": "user_presence", "roomId": roomID})
	env := testhelpers.ReadEnvelope(t, bob, 2*time.Second)
	if len(env.Users) != 1 || env.Users[0].UserID != "bob" {
		t.Errorf("roster still contains the disconnected session: %+v", env.Users)
	}
}
