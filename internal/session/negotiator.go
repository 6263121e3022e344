package session

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	pion "github.com/pion/webrtc/v4"
	"go.uber.org/zap"

	"github.com/BioHazard786/roomdrop/internal/protocol"
	"github.com/BioHazard786/roomdrop/internal/transfer"
)

// Phase is the negotiator's position in the room and handshake lifecycle.
type Phase string

const (
	PhaseIdle         Phase = "idle"
	PhaseCreatingRoom Phase = "creating-room"
	PhaseJoiningRoom  Phase = "joining-room"
	PhaseAwaitingPeer Phase = "awaiting-peer"
	PhaseNegotiating  Phase = "negotiating"
	PhaseConnected    Phase = "connected"
	PhaseDisconnected Phase = "disconnected"
)

const maxRoomIDLength = 128

// Relay is the negotiator's connection to the rendezvous server.
type Relay interface {
	Send(env *protocol.Envelope) error
	Incoming() <-chan *protocol.Envelope
}

// Options configures a Negotiator.
type Options struct {
	Peer     PeerOptions
	Transfer transfer.Options
	Listener Listener
	Logger   *zap.Logger
}

// Snapshot is a point-in-time view of a negotiator.
type Snapshot struct {
	Phase             Phase
	State             ConnectionState
	RoomID            string
	Creator           bool
	DroppedCandidates int
	IgnoredAnswers    int
}

type createResult struct {
	roomID string
	err    error
}

// Negotiator drives room creation or joining and the offer/answer/ICE
// exchange that produces a data channel, then hands the channel to its
// transfer engine. All state changes happen on the goroutine running Run;
// pion callbacks are turned into events for that loop and are discarded
// once the connection they belong to has been torn down.
type Negotiator struct {
	relay    Relay
	peers    *peerFactory
	engine   *transfer.Engine
	listener Listener
	logger   *zap.Logger

	cmds   chan func()
	events chan func()
	done   chan struct{}

	// gen identifies the current peer connection. Only the loop writes it.
	gen atomic.Uint64

	// Loop-owned.
	phase         Phase
	conn          ConnectionState
	creator       bool
	roomID        string
	pc            *pion.PeerConnection
	dc            *pion.DataChannel
	joinWaiter    chan error
	createWaiter  chan createResult
	dropped       int
	ignoredAnswer int

	mu   sync.Mutex
	snap Snapshot
}

func New(relay Relay, opts Options) *Negotiator {
	if opts.Logger == nil {
		opts.Logger = zap.L()
	}
	if opts.Listener == nil {
		opts.Listener = ListenerFuncs{}
	}
	topts := opts.Transfer
	topts.Observer = opts.Listener
	if topts.Logger == nil {
		topts.Logger = opts.Logger
	}

	n := &Negotiator{
		relay:    relay,
		peers:    newPeerFactory(opts.Peer),
		engine:   transfer.NewEngine(topts),
		listener: opts.Listener,
		logger:   opts.Logger.Named("session"),
		cmds:     make(chan func()),
		events:   make(chan func(), 256),
		done:     make(chan struct{}),
		phase:    PhaseIdle,
		conn:     StateDisconnected,
	}
	n.publish()
	return n
}

// Run processes relay messages, pion events and API calls until ctx is
// done. The current connection is torn down on return.
func (n *Negotiator) Run(ctx context.Context) error {
	defer func() {
		n.teardown()
		n.setPhase(PhaseIdle)
		close(n.done)
	}()

	incoming := n.relay.Incoming()
	for {
		select {
		case <-ctx.Done():
			return nil

		case env, ok := <-incoming:
			if !ok {
				incoming = nil
				n.relayLost()
				continue
			}
			n.handleRelay(env)

		case cmd := <-n.cmds:
			cmd()

		case ev := <-n.events:
			ev()
		}
	}
}

// Initiate discards any previous connection and starts a new one. A
// creator asks the relay for a room and creates the data channel up front;
// a joiner waits for the channel its peer opens.
func (n *Negotiator) Initiate(ctx context.Context, asCreator bool) error {
	return n.do(ctx, func() error { return n.initiate(asCreator) })
}

// Create initiates as creator and waits for the relay to assign a room.
func (n *Negotiator) Create(ctx context.Context) (string, error) {
	waiter := make(chan createResult, 1)
	err := n.do(ctx, func() error {
		if err := n.initiate(true); err != nil {
			return err
		}
		n.createWaiter = waiter
		return nil
	})
	if err != nil {
		return "", err
	}

	select {
	case res := <-waiter:
		return res.roomID, res.err
	case <-ctx.Done():
		return "", ctx.Err()
	case <-n.done:
		return "", ErrClosed
	}
}

// Join initiates as joiner and asks the relay to admit this session into
// roomID. It returns once the relay has answered.
func (n *Negotiator) Join(ctx context.Context, roomID string) error {
	roomID = strings.TrimSpace(roomID)
	if err := ValidateRoomID(roomID); err != nil {
		return err
	}

	waiter := make(chan error, 1)
	err := n.do(ctx, func() error {
		if err := n.initiate(false); err != nil {
			return err
		}
		n.setPhase(PhaseJoiningRoom)
		n.roomID = roomID
		n.joinWaiter = waiter
		if err := n.relay.Send(&protocol.Envelope{Type: protocol.KindJoinRoom, RoomID: roomID}); err != nil {
			n.joinWaiter = nil
			n.disconnect("relay unavailable")
			return fmt.Errorf("join %s: %w", roomID, err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	select {
	case err := <-waiter:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-n.done:
		return ErrClosed
	}
}

// Disconnect tears down the current connection, if any.
func (n *Negotiator) Disconnect(ctx context.Context) error {
	return n.do(ctx, func() error {
		n.disconnect("local disconnect")
		return nil
	})
}

// Send transfers src over the data channel, queueing it until the channel
// opens.
func (n *Negotiator) Send(ctx context.Context, src transfer.Source) error {
	return n.engine.Send(ctx, src)
}

// Drain waits until everything sent so far has left the data channel.
func (n *Negotiator) Drain(ctx context.Context) error {
	return n.engine.Drain(ctx)
}

// Retrieve returns the last received file.
func (n *Negotiator) Retrieve() (transfer.Artifact, error) {
	return n.engine.Retrieve()
}

// Consume returns the last received file and forgets it.
func (n *Negotiator) Consume() (transfer.Artifact, error) {
	return n.engine.Consume()
}

// TransferState reports both directions of the transfer engine.
func (n *Negotiator) TransferState() transfer.State {
	return n.engine.State()
}

// Snapshot returns the latest published negotiator state.
func (n *Negotiator) Snapshot() Snapshot {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.snap
}

// Done is closed when Run has returned.
func (n *Negotiator) Done() <-chan struct{} {
	return n.done
}

// ValidateRoomID checks the shape of a room ID before it is sent.
func ValidateRoomID(roomID string) error {
	if roomID == "" {
		return fmt.Errorf("%w: empty", ErrInvalidRoomID)
	}
	if len(roomID) > maxRoomIDLength {
		return fmt.Errorf("%w: longer than %d characters", ErrInvalidRoomID, maxRoomIDLength)
	}
	if strings.ContainsAny(roomID, " \t\r\n/") {
		return fmt.Errorf("%w: %q", ErrInvalidRoomID, roomID)
	}
	return nil
}

func (n *Negotiator) do(ctx context.Context, fn func() error) error {
	res := make(chan error, 1)
	select {
	case n.cmds <- func() { res <- fn() }:
	case <-ctx.Done():
		return ctx.Err()
	case <-n.done:
		return ErrClosed
	}

	select {
	case err := <-res:
		return err
	case <-n.done:
		return ErrClosed
	}
}

// post queues fn for the loop, dropping it if the connection generation
// has moved on by the time it runs.
func (n *Negotiator) post(gen uint64, fn func()) {
	ev := func() {
		if n.gen.Load() == gen {
			fn()
		}
	}
	select {
	case n.events <- ev:
	case <-n.done:
	}
}

func (n *Negotiator) initiate(asCreator bool) error {
	n.teardown()
	n.setPhase(PhaseIdle)

	pc, err := n.peers.newPeerConnection()
	if err != nil {
		n.logger.Error("cannot start session", zap.Error(err))
		return err
	}
	gen := n.gen.Add(1)
	n.pc = pc
	n.creator = asCreator
	n.dropped = 0
	n.ignoredAnswer = 0

	pc.OnICECandidate(func(c *pion.ICECandidate) {
		if c == nil {
			return
		}
		n.post(gen, func() { n.sendCandidate(c) })
	})
	pc.OnConnectionStateChange(func(s pion.PeerConnectionState) {
		n.post(gen, func() { n.onPeerState(s) })
	})

	n.setConnection(StateConnecting)

	if !asCreator {
		pc.OnDataChannel(func(dc *pion.DataChannel) {
			if n.gen.Load() != gen {
				return
			}
			n.logger.Debug("inbound data channel", zap.String("label", dc.Label()))
			n.bindChannel(gen, dc)
		})
		n.publish()
		return nil
	}

	n.roomID = ""
	n.setPhase(PhaseCreatingRoom)

	dc, err := createDataChannel(pc)
	if err != nil {
		n.logger.Error("cannot create data channel", zap.Error(err))
		n.disconnect("data channel setup failed")
		return err
	}
	n.bindChannel(gen, dc)

	if err := n.relay.Send(&protocol.Envelope{Type: protocol.KindCreateRoom}); err != nil {
		n.disconnect("relay unavailable")
		return fmt.Errorf("create room: %w", err)
	}
	return nil
}

// bindChannel installs the data channel callbacks. It runs on pion's
// goroutine for inbound channels, so that no early message is missed.
func (n *Negotiator) bindChannel(gen uint64, dc *pion.DataChannel) {
	dc.OnOpen(func() {
		n.post(gen, func() { n.onChannelOpen(dc) })
	})
	dc.OnClose(func() {
		n.post(gen, func() { n.disconnect("data channel closed") })
	})
	dc.OnError(func(err error) {
		n.logger.Warn("data channel error", zap.Error(err))
	})
	dc.OnMessage(func(msg pion.DataChannelMessage) {
		if n.gen.Load() != gen {
			return
		}
		n.engine.HandleFrame(msg.IsString, msg.Data)
	})
}

func (n *Negotiator) onChannelOpen(dc *pion.DataChannel) {
	n.dc = dc
	n.engine.Open(transfer.NewDataChannel(dc))
	n.setPhase(PhaseConnected)
	n.setConnection(StateConnected)
	n.logger.Info("data channel open", zap.String("room", n.roomID))
}

func (n *Negotiator) onPeerState(s pion.PeerConnectionState) {
	n.logger.Debug("peer connection state", zap.String("state", s.String()))
	if s == pion.PeerConnectionStateFailed {
		n.disconnect("peer connection failed")
	}
}

func (n *Negotiator) handleRelay(env *protocol.Envelope) {
	switch env.Type {
	case protocol.KindRoomCreated:
		n.onRoomCreated(env.RoomID)

	case protocol.KindJoinedRoom:
		n.onJoinedRoom(env.RoomID)

	case protocol.KindJoinError:
		n.onJoinError(env)

	case protocol.KindPeerJoined:
		n.onPeerJoined()

	case protocol.KindPeerDisconnected:
		if n.pc != nil {
			n.disconnect("peer disconnected")
		}

	case protocol.KindOffer, protocol.KindAnswer, protocol.KindICECandidate:
		sig, err := protocol.ParseSignal(env)
		if err != nil {
			n.logger.Warn("malformed signal", zap.Error(err))
			return
		}
		n.handleSignal(sig)

	default:
		n.logger.Debug("ignoring relay message", zap.String("type", string(env.Type)))
	}
}

func (n *Negotiator) handleSignal(sig protocol.Signal) {
	if n.pc == nil {
		n.logger.Debug("signal without a session", zap.String("type", string(sig.Kind())))
		return
	}

	switch s := sig.(type) {
	case protocol.Offer:
		n.onOffer(s)
	case protocol.Answer:
		n.onAnswer(s)
	case protocol.ICECandidate:
		n.onCandidate(s)
	}
}

func (n *Negotiator) onRoomCreated(roomID string) {
	if n.phase != PhaseCreatingRoom {
		n.logger.Debug("unexpected room-created", zap.String("phase", string(n.phase)))
		return
	}
	n.roomID = roomID
	n.setPhase(PhaseAwaitingPeer)
	n.logger.Info("room created", zap.String("room", roomID))
	n.listener.RoomCreated(roomID)

	if n.createWaiter != nil {
		n.createWaiter <- createResult{roomID: roomID}
		n.createWaiter = nil
	}
}

func (n *Negotiator) onJoinedRoom(roomID string) {
	if n.phase != PhaseJoiningRoom {
		n.logger.Debug("unexpected joined-room", zap.String("phase", string(n.phase)))
		return
	}
	n.roomID = roomID
	n.setPhase(PhaseNegotiating)
	n.logger.Info("joined room", zap.String("room", roomID))

	if n.joinWaiter != nil {
		n.joinWaiter <- nil
		n.joinWaiter = nil
	}
}

func (n *Negotiator) onJoinError(env *protocol.Envelope) {
	if n.phase != PhaseJoiningRoom {
		n.logger.Debug("unexpected join-error", zap.String("phase", string(n.phase)))
		return
	}

	code, reason := env.JoinError()

	err := ErrRoomNotFound
	if code == protocol.CodeRoomFull || code == protocol.CodeAlreadyInRoom {
		err = ErrRoomFull
	}
	n.logger.Info("join rejected", zap.String("room", n.roomID), zap.String("code", string(code)))

	waiter := n.joinWaiter
	n.joinWaiter = nil
	n.listener.JoinError(reason)
	n.disconnect("join rejected")

	if waiter != nil {
		waiter <- fmt.Errorf("join %s: %w", env.RoomID, err)
	}
}

func (n *Negotiator) onPeerJoined() {
	if !n.creator || n.phase != PhaseAwaitingPeer {
		n.logger.Debug("ignoring peer-joined", zap.Bool("creator", n.creator), zap.String("phase", string(n.phase)))
		return
	}
	n.setPhase(PhaseNegotiating)

	offer, err := createOffer(n.pc)
	if err != nil {
		n.logger.Error("offer failed", zap.Error(err))
		return
	}
	n.sendSignal(protocol.Offer{Payload: offer})
}

func (n *Negotiator) onOffer(s protocol.Offer) {
	if n.creator {
		n.logger.Debug("creator ignoring offer")
		return
	}

	answer, err := createAnswer(n.pc, s.Payload)
	if err != nil {
		n.logger.Error("answer failed", zap.Error(err))
		return
	}
	n.sendSignal(protocol.Answer{Payload: answer})
}

func (n *Negotiator) onAnswer(s protocol.Answer) {
	if n.pc.SignalingState() != pion.SignalingStateHaveLocalOffer {
		n.ignoredAnswer++
		n.publish()
		n.logger.Warn("ignoring answer without a pending offer",
			zap.String("signaling_state", n.pc.SignalingState().String()))
		return
	}
	if err := applyAnswer(n.pc, s.Payload); err != nil {
		n.logger.Error("apply answer failed", zap.Error(err))
	}
}

func (n *Negotiator) onCandidate(s protocol.ICECandidate) {
	if n.pc.RemoteDescription() == nil {
		n.dropped++
		n.publish()
		n.logger.Warn("dropping ICE candidate received before the remote description")
		return
	}
	if err := applyCandidate(n.pc, s.Payload); err != nil {
		n.logger.Warn("apply ICE candidate failed", zap.Error(err))
	}
}

func (n *Negotiator) sendCandidate(c *pion.ICECandidate) {
	raw, err := json.Marshal(c.ToJSON())
	if err != nil {
		n.logger.Warn("encode ICE candidate", zap.Error(err))
		return
	}
	n.sendSignal(protocol.ICECandidate{Payload: raw})
}

func (n *Negotiator) sendSignal(sig protocol.Signal) {
	if err := n.relay.Send(protocol.SignalEnvelope(sig)); err != nil {
		n.logger.Warn("relay send failed", zap.String("type", string(sig.Kind())), zap.Error(err))
	}
}

// relayLost handles the relay connection ending. An open data channel does
// not depend on the relay and is kept.
func (n *Negotiator) relayLost() {
	n.logger.Warn("relay connection lost", zap.String("phase", string(n.phase)))
	if n.phase != PhaseConnected && n.pc != nil {
		n.disconnect("relay connection lost")
	}
}

// disconnect moves through Disconnected to Idle, tearing the connection
// down once.
func (n *Negotiator) disconnect(reason string) {
	if n.pc == nil && n.phase == PhaseIdle {
		return
	}
	n.logger.Info("session ended", zap.String("reason", reason), zap.String("room", n.roomID))
	n.setPhase(PhaseDisconnected)
	n.teardown()
	n.setPhase(PhaseIdle)
}

// teardown closes the channel and peer connection, resets the transfer
// engine and fails outstanding waiters. It is idempotent.
func (n *Negotiator) teardown() {
	n.gen.Add(1)
	n.engine.Close()

	if n.pc != nil {
		pc := n.pc
		go func() {
			if err := pc.Close(); err != nil {
				n.logger.Debug("close peer connection", zap.Error(err))
			}
		}()
	}
	n.pc = nil
	n.dc = nil
	n.creator = false

	if n.joinWaiter != nil {
		n.joinWaiter <- ErrAborted
		n.joinWaiter = nil
	}
	if n.createWaiter != nil {
		n.createWaiter <- createResult{err: ErrAborted}
		n.createWaiter = nil
	}

	n.setConnection(StateDisconnected)
}

func (n *Negotiator) setPhase(p Phase) {
	if n.phase == p {
		return
	}
	n.logger.Debug("phase", zap.String("from", string(n.phase)), zap.String("to", string(p)))
	n.phase = p
	n.publish()
}

// setConnection emits ConnectionState only on change.
func (n *Negotiator) setConnection(s ConnectionState) {
	if n.conn == s {
		return
	}
	n.conn = s
	n.publish()
	n.listener.ConnectionState(s)
}

func (n *Negotiator) publish() {
	n.mu.Lock()
	n.snap = Snapshot{
		Phase:             n.phase,
		State:             n.conn,
		RoomID:            n.roomID,
		Creator:           n.creator,
		DroppedCandidates: n.dropped,
		IgnoredAnswers:    n.ignoredAnswer,
	}
	n.mu.Unlock()
}
