package session

import "github.com/BioHazard786/roomdrop/internal/transfer"

// ConnectionState is the user-facing connection status. It is derived from
// negotiation and data channel events only.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
)

// Listener receives session and transfer events. Session events are
// delivered from the negotiator loop and must not call back into the
// Negotiator synchronously. Transfer events may arrive from the sending
// goroutine or the data channel's read loop.
type Listener interface {
	transfer.Observer
	ConnectionState(state ConnectionState)
	RoomCreated(roomID string)
	JoinError(reason string)
}

// ListenerFuncs adapts optional functions to Listener.
type ListenerFuncs struct {
	transfer.ObserverFuncs
	OnConnectionState func(state ConnectionState)
	OnRoomCreated     func(roomID string)
	OnJoinError       func(reason string)
}

func (f ListenerFuncs) ConnectionState(state ConnectionState) {
	if f.OnConnectionState != nil {
		f.OnConnectionState(state)
	}
}

func (f ListenerFuncs) RoomCreated(roomID string) {
	if f.OnRoomCreated != nil {
		f.OnRoomCreated(roomID)
	}
}

func (f ListenerFuncs) JoinError(reason string) {
	if f.OnJoinError != nil {
		f.OnJoinError(reason)
	}
}
