// Package server defines the wire protocol exchanged over relay connections:
// a closed set of typed inbound messages and the outbound envelope.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Message type discriminators carried in the "type" field of every frame.
const (
	TypeJoinRoom       = "join_room"
	TypeLeaveRoom      = "leave_room"
	TypeChat           = "chat"
	TypeDrawingUpdate  = "drawing_update"
	TypeElementAdd     = "element_add"
	TypeElementUpdate  = "element_update"
	TypeElementDelete  = "element_delete"
	TypeCursorPosition = "cursor_position"
	TypeUserPresence   = "user_presence"
)

var (
	errMalformedFrame = errors.New("malformed frame")
	errUnknownType    = errors.New("unknown message type")
	errMissingField   = errors.New("missing required field")
)

// wireMessage is the superset of fields a client may send. Drawing payloads
// are kept opaque: the relay validates their presence, never their shape,
// since clients own merge semantics.
type wireMessage struct {
	Type      string          `json:"type"`
	RoomID    string          `json:"roomId"`
	Message   string          `json:"message"`
	Elements  json.RawMessage `json:"elements"`
	Element   json.RawMessage `json:"element"`
	ElementID string          `json:"elementId"`
	Version   json.RawMessage `json:"version"`
	Cursor    json.RawMessage `json:"cursor"`
}

// inboundMessage is implemented by exactly the message variants the router
// dispatches on. Decoding either yields one of these or an error, never a
// partially populated record.
type inboundMessage interface {
	room() string
}

type joinRoomMessage struct {
	roomID string
}

type leaveRoomMessage struct {
	roomID string
}

type chatMessage struct {
	roomID  string
	message string
}

type drawingUpdateMessage struct {
	roomID   string
	elements json.RawMessage
	version  json.RawMessage
}

type elementAddMessage struct {
	roomID  string
	element json.RawMessage
}

type elementUpdateMessage struct {
	roomID  string
	element json.RawMessage
}

type elementDeleteMessage struct {
	roomID    string
	elementID string
}

type cursorPositionMessage struct {
	roomID string
	cursor json.RawMessage
}

type presenceRequestMessage struct {
	roomID string
}

func (m joinRoomMessage) room() string        { return m.roomID }
func (m leaveRoomMessage) room() string       { return m.roomID }
func (m chatMessage) room() string            { return m.roomID }
func (m drawingUpdateMessage) room() string   { return m.roomID }
func (m elementAddMessage) room() string      { return m.roomID }
func (m elementUpdateMessage) room() string   { return m.roomID }
func (m elementDeleteMessage) room() string   { return m.roomID }
func (m cursorPositionMessage) room() string  { return m.roomID }
func (m presenceRequestMessage) room() string { return m.roomID }

// parseMessage decodes a raw text frame into one of the typed variants.
// Any structural problem, missing field, or unrecognized type is an error;
// the caller drops the frame without touching the connection.
func parseMessage(data []byte) (inboundMessage, error) {
	var wire wireMessage
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("%w: %v", errMalformedFrame, err)
	}

	if wire.RoomID == "" {
		return nil, fmt.Errorf("%w: roomId (type %q)", errMissingField, wire.Type)
	}

	switch wire.Type {
	case TypeJoinRoom:
		return joinRoomMessage{roomID: wire.RoomID}, nil
	case TypeLeaveRoom:
		return leaveRoomMessage{roomID: wire.RoomID}, nil
	case TypeChat:
		if wire.Message == "" {
			return nil, fmt.Errorf("%w: message", errMissingField)
		}
		return chatMessage{roomID: wire.RoomID, message: wire.Message}, nil
	case TypeDrawingUpdate:
		if len(wire.Elements) == 0 {
			return nil, fmt.Errorf("%w: elements", errMissingField)
		}
		if len(wire.Version) == 0 {
			return nil, fmt.Errorf("%w: version", errMissingField)
		}
		return drawingUpdateMessage{roomID: wire.RoomID, elements: wire.Elements, version: wire.Version}, nil
	case TypeElementAdd:
		if len(wire.Element) == 0 {
			return nil, fmt.Errorf("%w: element", errMissingField)
		}
		return elementAddMessage{roomID: wire.RoomID, element: wire.Element}, nil
	case TypeElementUpdate:
		if len(wire.Element) == 0 {
			return nil, fmt.Errorf("%w: element", errMissingField)
		}
		return elementUpdateMessage{roomID: wire.RoomID, element: wire.Element}, nil
	case TypeElementDelete:
		if wire.ElementID == "" {
			return nil, fmt.Errorf("%w: elementId", errMissingField)
		}
		return elementDeleteMessage{roomID: wire.RoomID, elementID: wire.ElementID}, nil
	case TypeCursorPosition:
		if len(wire.Cursor) == 0 {
			return nil, fmt.Errorf("%w: cursor", errMissingField)
		}
		return cursorPositionMessage{roomID: wire.RoomID, cursor: wire.Cursor}, nil
	case TypeUserPresence:
		return presenceRequestMessage{roomID: wire.RoomID}, nil
	default:
		return nil, fmt.Errorf("%w: %q", errUnknownType, wire.Type)
	}
}

// PresenceEntry is one roster line in a user_presence broadcast. Presence is
// per-connection, so a user with two open tabs appears twice.
type PresenceEntry struct {
	UserID string `json:"userId"`
}

// Envelope is the outbound wire format. The relay always stamps userId with
// the sender's authenticated identity; client-supplied values are ignored.
type Envelope struct {
	Type      string          `json:"type"`
	RoomID    string          `json:"roomId"`
	Message   string          `json:"message,omitempty"`
	Elements  json.RawMessage `json:"elements,omitempty"`
	Element   json.RawMessage `json:"element,omitempty"`
	ElementID string          `json:"elementId,omitempty"`
	Version   json.RawMessage `json:"version,omitempty"`
	Cursor    json.RawMessage `json:"cursor,omitempty"`
	UserID    string          `json:"userId,omitempty"`
	Users     []PresenceEntry `json:"users,omitempty"`
}

// encodeEnvelope serializes an outbound message for fan-out. A marshal
// failure here means a programming error, not client input, so it is
// surfaced to the dispatcher rather than dropped silently.
func encodeEnvelope(env Envelope) ([]byte, error) {
	payload, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode %s envelope: %w", env.Type, err)
	}
	return payload, nil
}
