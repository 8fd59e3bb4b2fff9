// Package signaling implements the room relay: the WebSocket handshake,
// per-connection message loop, fan-out to room peers, and the idle-room
// reaper. Application payloads are forwarded verbatim; the relay only
// originates peer_joined, peer_left, and error messages.
package signaling
