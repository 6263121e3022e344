package protocol

import (
	"encoding/json"
	"fmt"
)

// Kind identifies a relay message.
type Kind string

// Peer to relay.
const (
	KindCreateRoom Kind = "create-room"
	KindJoinRoom   Kind = "join-room"
)

// Relay to peer.
const (
	KindRoomCreated      Kind = "room-created"
	KindJoinedRoom       Kind = "joined-room"
	KindJoinError        Kind = "join-error"
	KindPeerJoined       Kind = "peer-joined"
	KindPeerDisconnected Kind = "peer-disconnected"
)

// Relayed verbatim between the two members of a room.
const (
	KindOffer        Kind = "offer"
	KindAnswer       Kind = "answer"
	KindICECandidate Kind = "ice-candidate"
)

// Envelope is the single JSON frame exchanged with the relay.
type Envelope struct {
	Type    Kind            `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
	RoomID  string          `json:"room_id,omitempty"`

	// Code is set on join-error only. The payload stays a plain reason string.
	Code JoinErrorCode `json:"code,omitempty"`
}

// JoinErrorCode classifies a rejected join.
type JoinErrorCode string

const (
	CodeRoomNotFound  JoinErrorCode = "room-not-found"
	CodeRoomFull      JoinErrorCode = "room-full"
	CodeAlreadyInRoom JoinErrorCode = "already-in-room"
)

// JoinErrorReason is the human readable reason sent with every join-error.
const JoinErrorReason = "Room not found or already full"

// NewJoinError builds a join-error for roomID. The payload is the reason
// string, the code rides alongside it.
func NewJoinError(roomID string, code JoinErrorCode) *Envelope {
	reason, _ := json.Marshal(JoinErrorReason)
	return &Envelope{Type: KindJoinError, Payload: reason, RoomID: roomID, Code: code}
}

// JoinError returns the code and reason of a join-error. Missing fields fall
// back to room-not-found and the standard reason.
func (e *Envelope) JoinError() (JoinErrorCode, string) {
	code := e.Code
	if code == "" {
		code = CodeRoomNotFound
	}
	var reason string
	if err := e.Decode(&reason); err != nil || reason == "" {
		reason = JoinErrorReason
	}
	return code, reason
}

// PeerJoinedPayload is the payload of a peer-joined message.
type PeerJoinedPayload struct {
	SessionID string `json:"session_id"`
}

// NewEnvelope marshals payload into an envelope of the given kind.
// A nil payload produces an envelope without one.
func NewEnvelope(kind Kind, payload any) (*Envelope, error) {
	env := &Envelope{Type: kind}
	if payload == nil {
		return env, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", kind, err)
	}
	env.Payload = raw
	return env, nil
}

// Decode unmarshals the envelope payload into v.
func (e *Envelope) Decode(v any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("%s: empty payload", e.Type)
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("%s: decode payload: %w", e.Type, err)
	}
	return nil
}
