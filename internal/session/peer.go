package session

import (
	"encoding/json"
	"strings"

	pion "github.com/pion/webrtc/v4"
)

// ChannelLabel names the single data channel a session uses.
const ChannelLabel = "fileTransfer"

// PeerOptions configures peer connection construction.
type PeerOptions struct {
	ICEServers []pion.ICEServer

	// ForceRelay restricts ICE to TURN candidates when a TURN server is
	// configured.
	ForceRelay bool

	// IncludeLoopback gathers 127.0.0.1 host candidates, for same-host peers.
	IncludeLoopback bool

	// NetworkTypes limits candidate gathering. Empty means pion's default.
	NetworkTypes []pion.NetworkType
}

type peerFactory struct {
	api    *pion.API
	config pion.Configuration
}

func newPeerFactory(opts PeerOptions) *peerFactory {
	se := pion.SettingEngine{}
	if opts.IncludeLoopback {
		se.SetIncludeLoopbackCandidate(true)
	}
	if len(opts.NetworkTypes) > 0 {
		se.SetNetworkTypes(opts.NetworkTypes)
	}

	policy := pion.ICETransportPolicyAll
	if opts.ForceRelay && hasTURN(opts.ICEServers) {
		policy = pion.ICETransportPolicyRelay
	}

	return &peerFactory{
		api: pion.NewAPI(pion.WithSettingEngine(se)),
		config: pion.Configuration{
			ICEServers:         opts.ICEServers,
			ICETransportPolicy: policy,
		},
	}
}

func (f *peerFactory) newPeerConnection() (*pion.PeerConnection, error) {
	pc, err := f.api.NewPeerConnection(f.config)
	if err != nil {
		return nil, negotiationError("create peer connection", err)
	}
	return pc, nil
}

func hasTURN(servers []pion.ICEServer) bool {
	for _, s := range servers {
		for _, u := range s.URLs {
			if strings.HasPrefix(u, "turn:") || strings.HasPrefix(u, "turns:") {
				return true
			}
		}
	}
	return false
}

// createDataChannel opens the ordered, fully reliable channel files travel on.
func createDataChannel(pc *pion.PeerConnection) (*pion.DataChannel, error) {
	ordered := true
	dc, err := pc.CreateDataChannel(ChannelLabel, &pion.DataChannelInit{Ordered: &ordered})
	if err != nil {
		return nil, negotiationError("create data channel", err)
	}
	return dc, nil
}

func createOffer(pc *pion.PeerConnection) (json.RawMessage, error) {
	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return nil, negotiationError("create offer", err)
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		return nil, negotiationError("set local description", err)
	}
	return marshalDescription(offer)
}

func createAnswer(pc *pion.PeerConnection, payload json.RawMessage) (json.RawMessage, error) {
	offer, err := parseDescription(payload, pion.SDPTypeOffer)
	if err != nil {
		return nil, err
	}
	if err := pc.SetRemoteDescription(offer); err != nil {
		return nil, negotiationError("set remote description", err)
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return nil, negotiationError("create answer", err)
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		return nil, negotiationError("set local description", err)
	}
	return marshalDescription(answer)
}

func applyAnswer(pc *pion.PeerConnection, payload json.RawMessage) error {
	answer, err := parseDescription(payload, pion.SDPTypeAnswer)
	if err != nil {
		return err
	}
	if err := pc.SetRemoteDescription(answer); err != nil {
		return negotiationError("set remote description", err)
	}
	return nil
}

func applyCandidate(pc *pion.PeerConnection, payload json.RawMessage) error {
	var init pion.ICECandidateInit
	if err := json.Unmarshal(payload, &init); err != nil {
		return negotiationError("parse ICE candidate", err)
	}
	if err := pc.AddICECandidate(init); err != nil {
		return negotiationError("add ICE candidate", err)
	}
	return nil
}

func parseDescription(payload json.RawMessage, want pion.SDPType) (pion.SessionDescription, error) {
	var desc pion.SessionDescription
	if err := json.Unmarshal(payload, &desc); err != nil {
		return desc, negotiationError("parse "+want.String(), err)
	}
	if desc.Type != want {
		return desc, negotiationError("parse "+want.String(), &unexpectedTypeError{got: desc.Type, want: want})
	}
	return desc, nil
}

func marshalDescription(desc pion.SessionDescription) (json.RawMessage, error) {
	raw, err := json.Marshal(desc)
	if err != nil {
		return nil, negotiationError("encode "+desc.Type.String(), err)
	}
	return raw, nil
}

type unexpectedTypeError struct {
	got, want pion.SDPType
}

func (e *unexpectedTypeError) Error() string {
	return "unexpected description type " + e.got.String() + ", want " + e.want.String()
}
