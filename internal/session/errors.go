package session

import (
	"errors"
	"fmt"
)

var (
	ErrRoomNotFound  = errors.New("room not found")
	ErrRoomFull      = errors.New("room is full")
	ErrInvalidRoomID = errors.New("invalid room id")
	ErrNegotiation   = errors.New("negotiation failed")
	ErrAborted       = errors.New("session torn down")
	ErrClosed        = errors.New("negotiator stopped")
)

// NegotiationError is a failed handshake step. It matches ErrNegotiation.
type NegotiationError struct {
	Step string
	Err  error
}

func (e *NegotiationError) Error() string {
	return fmt.Sprintf("negotiation: %s: %v", e.Step, e.Err)
}

func (e *NegotiationError) Unwrap() error {
	return e.Err
}

func (e *NegotiationError) Is(target error) bool {
	return target == ErrNegotiation
}

func negotiationError(step string, err error) *NegotiationError {
	return &NegotiationError{Step: step, Err: err}
}
