package relay

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/BioHazard786/roomdrop/internal/protocol"
)

type inbound struct {
	client *Client
	env    *protocol.Envelope
}

// registration carries a new connection and receives its assigned ID.
type registration struct {
	client *Client
	id     chan string
}

// Hub owns every session and the room registry. All state is touched only
// from the goroutine running Run, so room lookups and mutations are
// linearizable.
type Hub struct {
	registry *Registry
	clients  map[string]*Client

	register   chan registration
	unregister chan *Client
	inbound    chan inbound
	done       chan struct{}

	metrics *Metrics
	logger  *zap.Logger
}

// NewHub creates a Hub. A nil logger falls back to zap.L(), nil metrics
// get a private registry.
func NewHub(logger *zap.Logger, metrics *Metrics) *Hub {
	if logger == nil {
		logger = zap.L()
	}
	if metrics == nil {
		metrics = NewMetrics()
	}
	return &Hub{
		registry:   NewRegistry(),
		clients:    make(map[string]*Client),
		register:   make(chan registration),
		unregister: make(chan *Client),
		inbound:    make(chan inbound),
		done:       make(chan struct{}),
		metrics:    metrics,
		logger:     logger.Named("hub"),
	}
}

// Run processes registrations, departures and messages until ctx is done.
// On return every session's send queue is closed.
func (h *Hub) Run(ctx context.Context) error {
	defer h.shutdown()

	for {
		select {
		case <-ctx.Done():
			return nil

		case reg := <-h.register:
			c := reg.client
			c.id = newSessionID(func(id string) bool {
				_, ok := h.clients[id]
				return ok
			})
			h.clients[c.id] = c
			h.metrics.sessions.Set(float64(len(h.clients)))
			h.logger.Debug("session registered", zap.String("session", c.id), zap.String("remote", c.remoteAddr()))
			reg.id <- c.id

		case c := <-h.unregister:
			h.disconnect(c)

		case in := <-h.inbound:
			if h.clients[in.client.id] != in.client {
				continue
			}
			h.handle(in.client, in.env)
		}
	}
}

// Register hands a new connection to the hub and waits for its session ID.
// The ID is set on c before Register returns, so the pumps may start after
// it. It returns false once the hub has stopped.
func (h *Hub) Register(c *Client) (string, bool) {
	reg := registration{client: c, id: make(chan string, 1)}
	select {
	case h.register <- reg:
		return <-reg.id, true
	case <-h.done:
		return "", false
	}
}

func (h *Hub) leave(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

func (h *Hub) dispatch(c *Client, env *protocol.Envelope) bool {
	select {
	case h.inbound <- inbound{client: c, env: env}:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) handle(c *Client, env *protocol.Envelope) {
	switch env.Type {
	case protocol.KindCreateRoom:
		room, dep := h.registry.Create(c.id)
		h.notifyDeparture(dep)
		h.metrics.rooms.Set(float64(h.registry.Len()))
		h.logger.Info("room created", zap.String("room", room.ID))

		h.deliver(c, &protocol.Envelope{Type: protocol.KindRoomCreated, RoomID: room.ID})

	case protocol.KindJoinRoom:
		h.join(c, env.RoomID)

	case protocol.KindOffer, protocol.KindAnswer, protocol.KindICECandidate:
		h.relay(c, env)

	default:
		h.logger.Warn("unknown message type", zap.String("session", c.id), zap.String("type", string(env.Type)))
	}
}

func (h *Hub) join(c *Client, roomID string) {
	room, dep, err := h.registry.Join(c.id, roomID)
	if err != nil {
		code := joinErrorCode(err)
		h.metrics.joinErrors.WithLabelValues(string(code)).Inc()
		h.logger.Info("join rejected", zap.String("session", c.id), zap.String("room", roomID), zap.Error(err))

		h.deliver(c, protocol.NewJoinError(roomID, code))
		return
	}

	h.notifyDeparture(dep)
	h.metrics.rooms.Set(float64(h.registry.Len()))
	h.logger.Info("peer joined room", zap.String("room", room.ID), zap.String("session", c.id))

	h.deliver(c, &protocol.Envelope{Type: protocol.KindJoinedRoom, RoomID: room.ID})
	if h.clients[c.id] != c {
		return
	}

	if creator, ok := h.clients[room.Creator]; ok {
		notice, _ := protocol.NewEnvelope(protocol.KindPeerJoined, protocol.PeerJoinedPayload{SessionID: c.id})
		notice.RoomID = room.ID
		h.deliver(creator, notice)
	}
}

// relay forwards a negotiation message to the other member of the sender's
// room. Without a full room the message is dropped and no error is returned
// to the sender.
func (h *Hub) relay(c *Client, env *protocol.Envelope) {
	kind := string(env.Type)

	peerID, ok := h.registry.Peer(c.id)
	target := h.clients[peerID]
	if !ok || target == nil {
		h.metrics.dropped.WithLabelValues(kind).Inc()
		h.logger.Debug("signal dropped, no peer", zap.String("session", c.id), zap.String("type", kind))
		return
	}

	h.metrics.relayed.WithLabelValues(kind).Inc()
	h.logger.Debug("relaying signal", zap.String("from", c.id), zap.String("to", peerID), zap.String("type", kind))
	h.deliver(target, &protocol.Envelope{Type: env.Type, Payload: env.Payload})
}

// deliver queues env without blocking the loop. A session whose queue is
// full is disconnected.
func (h *Hub) deliver(c *Client, env *protocol.Envelope) {
	select {
	case c.send <- env:
	default:
		h.logger.Warn("send queue full, dropping session", zap.String("session", c.id))
		h.disconnect(c)
	}
}

func (h *Hub) disconnect(c *Client) {
	if h.clients[c.id] != c {
		return
	}
	delete(h.clients, c.id)
	close(c.send)
	h.metrics.sessions.Set(float64(len(h.clients)))
	h.logger.Debug("session unregistered", zap.String("session", c.id))

	h.notifyDeparture(h.registry.Depart(c.id))
	h.metrics.rooms.Set(float64(h.registry.Len()))
}

func (h *Hub) notifyDeparture(dep *Departure) {
	if dep == nil {
		return
	}
	h.logger.Info("room closed", zap.String("room", dep.Room.ID))

	if dep.Survivor == "" {
		return
	}
	if survivor, ok := h.clients[dep.Survivor]; ok {
		h.deliver(survivor, &protocol.Envelope{Type: protocol.KindPeerDisconnected, RoomID: dep.Room.ID})
	}
}

func (h *Hub) shutdown() {
	close(h.done)
	for id, c := range h.clients {
		delete(h.clients, id)
		close(c.send)
	}
	h.metrics.sessions.Set(0)
	h.metrics.rooms.Set(0)
}

func joinErrorCode(err error) protocol.JoinErrorCode {
	switch {
	case errors.Is(err, ErrRoomFull):
		return protocol.CodeRoomFull
	case errors.Is(err, ErrAlreadyInRoom):
		return protocol.CodeAlreadyInRoom
	default:
		return protocol.CodeRoomNotFound
	}
}
