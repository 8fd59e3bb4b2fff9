package signaling

import (
	"encoding/json"
	"strings"
	"time"
)

// Server-originated message types. Everything else on the wire is opaque
// application payload relayed without inspection.
const (
	TypePeerJoined = "peer_joined"
	TypePeerLeft   = "peer_left"
	TypeError      = "error"
)

// Error codes carried in error payloads.
const (
	CodeBadRequest  = "bad_request"
	CodeAuthFailed  = "auth_failed"
	CodeRoomFull    = "room_full"
	CodeRateLimited = "rate_limited"
)

// Application close codes. 4000-4003 are this protocol's; unexpected internal
// failures use the standard 1011.
const (
	CloseIdleExpired = 4000
	CloseBadRequest  = 4001
	CloseRoomFull    = 4002
	CloseAuthFailed  = 4003
)

const (
	maxRoomCodeLen = 64
	maxClientIDLen = 128

	serverSenderID  = "server"
	broadcastTarget = "*"
)

// envelope is the shared message frame. Error messages carry only type and
// payload; peer events carry the server sender and broadcast target.
type envelope struct {
	Type     string `json:"type"`
	SenderID string `json:"senderId,omitempty"`
	TargetID string `json:"targetId,omitempty"`
	Payload  any    `json:"payload"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type peerEventPayload struct {
	PeerID string `json:"peerId"`
	TS     string `json:"ts"`
}

func errorMessage(code, message string) []byte {
	b, _ := json.Marshal(envelope{
		Type:    TypeError,
		Payload: errorPayload{Code: code, Message: message},
	})
	return b
}

func peerEventMessage(eventType, peerID string, now time.Time) []byte {
	b, _ := json.Marshal(envelope{
		Type:     eventType,
		SenderID: serverSenderID,
		TargetID: broadcastTarget,
		Payload:  peerEventPayload{PeerID: peerID, TS: now.UTC().Format(time.RFC3339Nano)},
	})
	return b
}

// sanitizeRoomCode normalizes an externally supplied room code: trimmed,
// upper-cased, length-bounded. Room codes are case-insensitive identifiers.
func sanitizeRoomCode(raw string) (string, bool) {
	code := strings.ToUpper(strings.TrimSpace(raw))
	if code == "" || len(code) > maxRoomCodeLen {
		return "", false
	}
	return code, true
}

// sanitizeClientID trims and length-bounds a client id. Case is preserved;
// client ids are chosen by the client and echoed back to peers as-is.
func sanitizeClientID(raw string) (string, bool) {
	id := strings.TrimSpace(raw)
	if id == "" || len(id) > maxClientIDLen {
		return "", false
	}
	return id, true
}
