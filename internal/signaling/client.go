package signaling

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/BioHazard786/roomdrop/internal/dns"
	"github.com/BioHazard786/roomdrop/internal/protocol"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

var ErrClosed = errors.New("signaling connection closed")

// Client is a websocket connection to the relay.
type Client struct {
	conn     *websocket.Conn
	logger   *zap.Logger
	incoming chan *protocol.Envelope
	outgoing chan *protocol.Envelope
	done     chan struct{}
	once     sync.Once
}

// Options tunes Dial.
type Options struct {
	// Resolver resolves the relay host. Nil uses the system resolver only.
	Resolver *dns.Resolver
	Logger   *zap.Logger
}

// Dial connects to the relay websocket endpoint at serverURL.
func Dial(ctx context.Context, serverURL string, opts Options) (*Client, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("invalid server URL: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("invalid server URL %q: scheme must be ws or wss", serverURL)
	}
	if opts.Logger == nil {
		opts.Logger = zap.L()
	}

	dialer := *websocket.DefaultDialer
	if opts.Resolver != nil {
		dialer.NetDialContext = opts.Resolver.DialContext
	}

	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", u.Host, err)
	}

	c := &Client{
		conn:     conn,
		logger:   opts.Logger.Named("signaling"),
		incoming: make(chan *protocol.Envelope, 16),
		outgoing: make(chan *protocol.Envelope, 32),
		done:     make(chan struct{}),
	}

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go c.readPump()
	go c.writePump()

	c.logger.Debug("connected to relay", zap.String("url", u.String()))
	return c, nil
}

func (c *Client) readPump() {
	defer func() {
		close(c.incoming)
		c.shutdown()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	for {
		var env protocol.Envelope
		if err := c.conn.ReadJSON(&env); err != nil {
			select {
			case <-c.done:
			default:
				c.logger.Debug("relay connection ended", zap.Error(err))
			}
			return
		}

		select {
		case c.incoming <- &env:
		case <-c.done:
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case env := <-c.outgoing:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(env); err != nil {
				c.logger.Debug("write to relay failed", zap.Error(err))
				c.shutdown()
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.shutdown()
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// Send queues env for the relay.
func (c *Client) Send(env *protocol.Envelope) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.outgoing <- env:
		return nil
	case <-c.done:
		return ErrClosed
	}
}

// Incoming yields relay messages. It is closed when the connection ends.
func (c *Client) Incoming() <-chan *protocol.Envelope {
	return c.incoming
}

// Done is closed once the connection is shutting down.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Close ends the connection. It is safe to call more than once.
func (c *Client) Close() error {
	c.shutdown()
	return nil
}

func (c *Client) shutdown() {
	c.once.Do(func() { close(c.done) })
}
