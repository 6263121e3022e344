package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNotSignal is returned by ParseSignal for envelopes that are not
// negotiation messages.
var ErrNotSignal = errors.New("not a negotiation message")

// Signal is a negotiation message relayed between room members. The set of
// implementations is closed: Offer, Answer and ICECandidate.
type Signal interface {
	Kind() Kind
	Data() json.RawMessage
	signal()
}

// Offer carries a session description offer.
type Offer struct{ Payload json.RawMessage }

// Answer carries a session description answer.
type Answer struct{ Payload json.RawMessage }

// ICECandidate carries one trickled ICE candidate.
type ICECandidate struct{ Payload json.RawMessage }

func (Offer) Kind() Kind        { return KindOffer }
func (Answer) Kind() Kind       { return KindAnswer }
func (ICECandidate) Kind() Kind { return KindICECandidate }

func (s Offer) Data() json.RawMessage        { return s.Payload }
func (s Answer) Data() json.RawMessage       { return s.Payload }
func (s ICECandidate) Data() json.RawMessage { return s.Payload }

func (Offer) signal()        {}
func (Answer) signal()       {}
func (ICECandidate) signal() {}

// IsSignal reports whether kind names a relayed negotiation message.
func IsSignal(kind Kind) bool {
	switch kind {
	case KindOffer, KindAnswer, KindICECandidate:
		return true
	}
	return false
}

// ParseSignal converts an envelope into its Signal variant.
func ParseSignal(env *Envelope) (Signal, error) {
	if len(env.Payload) == 0 && IsSignal(env.Type) {
		return nil, fmt.Errorf("%s: empty payload", env.Type)
	}
	switch env.Type {
	case KindOffer:
		return Offer{Payload: env.Payload}, nil
	case KindAnswer:
		return Answer{Payload: env.Payload}, nil
	case KindICECandidate:
		return ICECandidate{Payload: env.Payload}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrNotSignal, env.Type)
}

// SignalEnvelope wraps a signal for the relay. The payload is carried as is.
func SignalEnvelope(s Signal) *Envelope {
	return &Envelope{Type: s.Kind(), Payload: s.Data()}
}
