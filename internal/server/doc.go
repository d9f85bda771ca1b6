// Package server implements the real-time room relay for the Drawspace
// whiteboard: WebSocket connection handling, JWT-gated handshakes, room
// membership tracking, and per-message-type fan-out.
//
// The implementation is organized into specialized files for configuration,
// the session registry, the hub dispatch loop, per-connection sessions,
// message decoding, and HTTP handlers to keep the codebase maintainable and
// testable as the project grows.
package server
